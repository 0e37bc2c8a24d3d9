package iec61850

import (
	"fmt"
	"strings"
)

// String implements fmt.Stringer for MmsValue.
// Composite values are printed recursively, scalars as Type(value).
func (v MmsValue) String() string {
	var b strings.Builder
	writeMmsValue(&b, v)
	return b.String()
}

func writeMmsValue(b *strings.Builder, v MmsValue) {
	switch v.Type {
	case Array, Structure:
		open, closing := "{", "}"
		if v.Type == Array {
			open, closing = "[", "]"
		}
		b.WriteString(open)
		for i, child := range v.Elements() {
			if i > 0 {
				b.WriteString(", ")
			}
			if child == nil {
				b.WriteString("<nil>")
				continue
			}
			writeMmsValue(b, *child)
		}
		b.WriteString(closing)
	case Boolean, Integer, Unsigned, Float:
		fmt.Fprintf(b, "%s(%v)", mmsTypeName(v.Type), v.Value)
	case String, VisibleString:
		fmt.Fprintf(b, "%s(%q)", mmsTypeName(v.Type), v.Value)
	case BitString:
		fmt.Fprintf(b, "BitString(0b%b)", v.Value)
	case OctetString:
		if bs, ok := v.Value.([]byte); ok {
			fmt.Fprintf(b, "OctetString(% X)", bs)
		} else {
			fmt.Fprintf(b, "OctetString(%v)", v.Value)
		}
	case GeneralizedTime:
		fmt.Fprintf(b, "GeneralizedTime(%v)", v.Value)
	case BinaryTime:
		fmt.Fprintf(b, "BinaryTime(utcMs=%v)", v.Value)
	case UTCTime:
		fmt.Fprintf(b, "UTCTime(utcMs=%v)", v.Value)
	case DataAccessError:
		fmt.Fprintf(b, "DataAccessError(%v)", v.Value)
	default:
		fmt.Fprintf(b, "%s(%v)", mmsTypeName(v.Type), v.Value)
	}
}

func mmsTypeName(t MmsType) string {
	switch t {
	case Array:
		return "Array"
	case Structure:
		return "Structure"
	case Boolean:
		return "Boolean"
	case BitString:
		return "BitString"
	case Integer:
		return "Integer"
	case Unsigned:
		return "Unsigned"
	case Float:
		return "Float"
	case OctetString:
		return "OctetString"
	case VisibleString:
		return "VisibleString"
	case GeneralizedTime:
		return "GeneralizedTime"
	case BinaryTime:
		return "BinaryTime"
	case Bcd:
		return "Bcd"
	case ObjId:
		return "ObjId"
	case String:
		return "String"
	case UTCTime:
		return "UTCTime"
	case DataAccessError:
		return "DataAccessError"
	default:
		return fmt.Sprintf("MmsType(%d)", int(t))
	}
}

func (mt MmsType) String() string {
	return mmsTypeName(mt)
}
