package iec61850

import (
	"fmt"
	"strings"
)

// String renders the specification on one line, e.g.
// "Structure{stVal: Boolean, q: BitString(13bit), t: UTCTime}".
func (s MmsVariableSpec) String() string {
	var b strings.Builder
	writeVarSpec(&b, s)
	return b.String()
}

// Tree renders the specification as an indented tree with one named element
// per line, the way the mmsmap tool prints compiled logical nodes.
func (s MmsVariableSpec) Tree() string {
	var b strings.Builder
	writeVarSpecTree(&b, s, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeVarSpec(b *strings.Builder, s MmsVariableSpec) {
	switch s.Type {
	case Array:
		if s.Array == nil || s.Array.Element == nil {
			b.WriteString("Array[?]")
			return
		}
		fmt.Fprintf(b, "Array[%d] of ", s.Array.ElementCount)
		writeVarSpec(b, *s.Array.Element)
	case Structure:
		b.WriteString("Structure{")
		if s.Structure != nil {
			for i, el := range s.Structure.Elements {
				if i > 0 {
					b.WriteString(", ")
				}
				if el.Name != "" {
					fmt.Fprintf(b, "%s: ", el.Name)
				}
				writeVarSpec(b, el)
			}
		}
		b.WriteString("}")
	default:
		b.WriteString(scalarSpecName(s))
	}
}

func writeVarSpecTree(b *strings.Builder, s MmsVariableSpec, level int) {
	b.WriteString(indent(level))
	if s.Name != "" {
		b.WriteString(s.Name + ": ")
	}
	switch s.Type {
	case Structure:
		b.WriteString("Structure\n")
		if s.Structure != nil {
			for _, el := range s.Structure.Elements {
				writeVarSpecTree(b, el, level+1)
			}
		}
	case Array:
		if s.Array == nil || s.Array.Element == nil {
			b.WriteString("Array[?]\n")
			return
		}
		fmt.Fprintf(b, "Array[%d]\n", s.Array.ElementCount)
		writeVarSpecTree(b, *s.Array.Element, level+1)
	default:
		b.WriteString(scalarSpecName(s) + "\n")
	}
}

func scalarSpecName(s MmsVariableSpec) string {
	name := mmsTypeName(s.Type)
	switch s.Type {
	case Integer:
		return sized(name, s.IntegerBits, "%dbit")
	case Unsigned:
		return sized(name, s.UnsignedBits, "%dbit")
	case BitString:
		return sized(name, s.BitStringSize, "%dbit")
	case OctetString:
		return sized(name, s.OctetStringSize, "%d")
	case VisibleString:
		return sized(name, s.VisibleStringSize, "%d")
	case String:
		return sized(name, s.MmsStringSize, "%d")
	case BinaryTime:
		return sized(name, s.BinaryTimeSize, "%d")
	case Float:
		switch {
		case s.FloatFormatWidth != 0 && s.FloatExponentWidth != 0:
			return fmt.Sprintf("Float(fmt=%d, exp=%d)", s.FloatFormatWidth, s.FloatExponentWidth)
		case s.FloatFormatWidth != 0:
			return fmt.Sprintf("Float(fmt=%d)", s.FloatFormatWidth)
		case s.FloatExponentWidth != 0:
			return fmt.Sprintf("Float(exp=%d)", s.FloatExponentWidth)
		}
	}
	return name
}

func sized(name string, size int, format string) string {
	if size == 0 {
		return name
	}
	return name + "(" + fmt.Sprintf(format, size) + ")"
}
