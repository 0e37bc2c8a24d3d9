package iec61850

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cast"
	"golang.org/x/text/unicode/norm"
)

// ErrTypeMismatch is returned when a value does not fit the cell it is written to.
var ErrTypeMismatch = errors.New("mms value type mismatch")

// Go representation of MMS values held in MmsValue.Value:
//
//	Boolean                   bool
//	Integer                   int64
//	Unsigned                  uint64
//	Float                     float64
//	BitString                 uint32 (bit 0 is the first bit)
//	OctetString               []byte
//	VisibleString, String     string
//	UTCTime, BinaryTime       uint64 (milliseconds since epoch)
//	Structure, Array          []*MmsValue

func NewBooleanValue(b bool) *MmsValue {
	return &MmsValue{Type: Boolean, Value: b}
}

func NewIntegerValue(i int64) *MmsValue {
	return &MmsValue{Type: Integer, Value: i}
}

func NewUnsignedValue(u uint64) *MmsValue {
	return &MmsValue{Type: Unsigned, Value: u}
}

func NewFloatValue(f float64) *MmsValue {
	return &MmsValue{Type: Float, Value: f}
}

func NewBitStringValue(bits uint32) *MmsValue {
	return &MmsValue{Type: BitString, Value: bits}
}

func NewOctetStringValue(b []byte) *MmsValue {
	return &MmsValue{Type: OctetString, Value: append([]byte{}, b...)}
}

func NewVisibleStringValue(s string) *MmsValue {
	return &MmsValue{Type: VisibleString, Value: s}
}

// NewStringValue creates an MMS String (unicode) value, normalised to NFC.
func NewStringValue(s string) *MmsValue {
	return &MmsValue{Type: String, Value: norm.NFC.String(s)}
}

func NewUTCTimeValue(ms uint64) *MmsValue {
	return &MmsValue{Type: UTCTime, Value: ms}
}

func NewBinaryTimeValue(ms uint64) *MmsValue {
	return &MmsValue{Type: BinaryTime, Value: ms}
}

func NewStructureValue(elements ...*MmsValue) *MmsValue {
	return &MmsValue{Type: Structure, Value: elements}
}

func NewArrayValue(elements ...*MmsValue) *MmsValue {
	return &MmsValue{Type: Array, Value: elements}
}

// NewDefaultValue creates a zero value shaped after spec.
func NewDefaultValue(spec *MmsVariableSpec) *MmsValue {
	switch spec.Type {
	case Array:
		if spec.Array == nil || spec.Array.Element == nil {
			return NewArrayValue()
		}
		elems := make([]*MmsValue, spec.Array.ElementCount)
		for i := range elems {
			elems[i] = NewDefaultValue(spec.Array.Element)
		}
		return NewArrayValue(elems...)
	case Structure:
		if spec.Structure == nil {
			return NewStructureValue()
		}
		elems := make([]*MmsValue, len(spec.Structure.Elements))
		for i := range spec.Structure.Elements {
			elems[i] = NewDefaultValue(&spec.Structure.Elements[i])
		}
		return NewStructureValue(elems...)
	case Boolean:
		return NewBooleanValue(false)
	case Integer:
		return NewIntegerValue(0)
	case Unsigned:
		return NewUnsignedValue(0)
	case Float:
		return NewFloatValue(0)
	case BitString:
		return NewBitStringValue(0)
	case OctetString:
		return NewOctetStringValue(make([]byte, fixedOctetStringSize(spec)))
	case VisibleString:
		return NewVisibleStringValue("")
	case String:
		return NewStringValue("")
	case UTCTime, BinaryTime, GeneralizedTime:
		return &MmsValue{Type: spec.Type, Value: uint64(0)}
	default:
		return &MmsValue{Type: spec.Type}
	}
}

// fixedOctetStringSize returns the initial length for octet strings that are
// fixed size on the wire (addresses, entry IDs). Larger ones start empty.
func fixedOctetStringSize(spec *MmsVariableSpec) int {
	if spec.OctetStringSize > 0 && spec.OctetStringSize <= 8 {
		return spec.OctetStringSize
	}
	return 0
}

// ToMmsValue converts a plain Go value into an MmsValue of the given scalar type.
func ToMmsValue(t MmsType, value any) (*MmsValue, error) {
	switch t {
	case Boolean:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return NewBooleanValue(b), nil
	case Integer:
		i, err := cast.ToInt64E(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return NewIntegerValue(i), nil
	case Unsigned:
		u, err := cast.ToUint64E(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return NewUnsignedValue(u), nil
	case Float:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return NewFloatValue(f), nil
	case BitString:
		u, err := cast.ToUint32E(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return NewBitStringValue(u), nil
	case OctetString:
		if b, ok := value.([]byte); ok {
			return NewOctetStringValue(b), nil
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return NewOctetStringValue([]byte(s)), nil
	case VisibleString, String:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		if t == String {
			return NewStringValue(s), nil
		}
		return NewVisibleStringValue(s), nil
	case UTCTime, BinaryTime, GeneralizedTime:
		ms, err := cast.ToUint64E(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return &MmsValue{Type: t, Value: ms}, nil
	default:
		return nil, fmt.Errorf("%w: cannot convert %T to %s", ErrTypeMismatch, value, t)
	}
}

// Update copies src into v in place. Structured values are updated element by
// element so the identity of every nested cell is preserved. Nothing is
// modified if src does not have the shape of v.
func (v *MmsValue) Update(src *MmsValue) error {
	if err := checkShape(v, src); err != nil {
		return err
	}
	v.update(src)
	return nil
}

func (v *MmsValue) update(src *MmsValue) {
	switch v.Type {
	case Structure, Array:
		dst := v.Elements()
		for i, e := range src.Elements() {
			dst[i].update(e)
		}
	case OctetString:
		b, _ := src.Value.([]byte)
		v.Value = append([]byte{}, b...)
	case String:
		v.Value = norm.NFC.String(src.Value.(string))
	default:
		v.Value = src.Value
	}
}

func checkShape(dst, src *MmsValue) error {
	if dst == nil || src == nil {
		return fmt.Errorf("%w: nil value", ErrTypeMismatch)
	}
	if dst.Type != src.Type {
		return fmt.Errorf("%w: cannot assign %s to %s", ErrTypeMismatch, src.Type, dst.Type)
	}
	switch dst.Type {
	case Structure, Array:
		de, se := dst.Elements(), src.Elements()
		if len(de) != len(se) {
			return fmt.Errorf("%w: %s has %d elements, got %d", ErrTypeMismatch, dst.Type, len(de), len(se))
		}
		for i := range de {
			if err := checkShape(de[i], se[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if !hasGoRepresentation(src) {
		return fmt.Errorf("%w: %s holding %T", ErrTypeMismatch, src.Type, src.Value)
	}
	return nil
}

func hasGoRepresentation(v *MmsValue) bool {
	var ok bool
	switch v.Type {
	case Boolean:
		_, ok = v.Value.(bool)
	case Integer:
		_, ok = v.Value.(int64)
	case Unsigned:
		_, ok = v.Value.(uint64)
	case Float:
		_, ok = v.Value.(float64)
	case BitString:
		_, ok = v.Value.(uint32)
	case OctetString:
		_, ok = v.Value.([]byte)
	case VisibleString, String:
		_, ok = v.Value.(string)
	case UTCTime, BinaryTime, GeneralizedTime:
		_, ok = v.Value.(uint64)
	default:
		ok = true
	}
	return ok
}

// Clone returns a deep copy of v.
func (v *MmsValue) Clone() *MmsValue {
	if v == nil {
		return nil
	}
	switch v.Type {
	case Structure, Array:
		src := v.Elements()
		elems := make([]*MmsValue, len(src))
		for i, e := range src {
			elems[i] = e.Clone()
		}
		return &MmsValue{Type: v.Type, Value: elems}
	case OctetString:
		b, _ := v.Value.([]byte)
		return NewOctetStringValue(b)
	default:
		return &MmsValue{Type: v.Type, Value: v.Value}
	}
}

// Equal compares type and content recursively.
func (v *MmsValue) Equal(o *MmsValue) bool {
	if v == nil || o == nil {
		return v == o
	}
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case Structure, Array:
		a, b := v.Elements(), o.Elements()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case OctetString:
		a, _ := v.Value.([]byte)
		b, _ := o.Value.([]byte)
		return bytes.Equal(a, b)
	default:
		return v.Value == o.Value
	}
}

// Elements returns the children of a structure or array value.
func (v *MmsValue) Elements() []*MmsValue {
	elems, _ := v.Value.([]*MmsValue)
	return elems
}

// Element returns the child at index i or nil.
func (v *MmsValue) Element(i int) *MmsValue {
	elems := v.Elements()
	if i < 0 || i >= len(elems) {
		return nil
	}
	return elems[i]
}

func (v *MmsValue) Bool() bool {
	return cast.ToBool(v.Value)
}

func (v *MmsValue) Int64() int64 {
	return cast.ToInt64(v.Value)
}

func (v *MmsValue) Uint64() uint64 {
	return cast.ToUint64(v.Value)
}

func (v *MmsValue) Uint32() uint32 {
	return cast.ToUint32(v.Value)
}

func (v *MmsValue) Float64() float64 {
	return cast.ToFloat64(v.Value)
}

// StringValue returns the content of a string value.
func (v *MmsValue) StringValue() string {
	return cast.ToString(v.Value)
}

func (v *MmsValue) Bytes() []byte {
	b, _ := v.Value.([]byte)
	return b
}
