package iec61850

import (
	"errors"
	"fmt"
)

var (
	// ErrUnmappableType is returned by Compile for attributes whose type tag has no MMS representation.
	ErrUnmappableType = errors.New("data attribute type cannot be mapped")
	// ErrInvalidModel is returned by Compile for malformed model trees.
	ErrInvalidModel = errors.New("invalid data model")
)

// MmsVariableSpec is the MMS type specification of a named variable.
// It models the tagged-union style by having a common Type and optional
// variant-specific fields/children.
type MmsVariableSpec struct {
	Type MmsType
	Name string

	// Complex type variants
	Array     *MmsArraySpec
	Structure *MmsStructureSpec

	// Scalar/meta information for simple types
	IntegerBits        int // for Integer
	UnsignedBits       int // for Unsigned
	FloatExponentWidth int // for Float
	FloatFormatWidth   int // for Float
	BitStringSize      int // number of bits
	OctetStringSize    int // number of octets
	VisibleStringSize  int // max chars
	MmsStringSize      int // MMS String size
	BinaryTimeSize     int // 4 or 6
}

// MmsArraySpec describes an MMS array type
type MmsArraySpec struct {
	ElementCount int
	Element      *MmsVariableSpec
}

// MmsStructureSpec describes an MMS structure type
type MmsStructureSpec struct {
	Elements []MmsVariableSpec // children, in declaration order
}

// element returns the index and spec of the named structure member.
func (s *MmsVariableSpec) element(name string) (int, *MmsVariableSpec) {
	if s.Type != Structure || s.Structure == nil {
		return -1, nil
	}
	for i := range s.Structure.Elements {
		if s.Structure.Elements[i].Name == name {
			return i, &s.Structure.Elements[i]
		}
	}
	return -1, nil
}

func structureSpec(name string, elements []MmsVariableSpec) MmsVariableSpec {
	return MmsVariableSpec{Type: Structure, Name: name, Structure: &MmsStructureSpec{Elements: elements}}
}

// scalarSpec maps a primitive type tag to its MMS type. The second return
// value is false for tags without an MMS representation.
func scalarSpec(name string, t DAType) (MmsVariableSpec, bool) {
	s := MmsVariableSpec{Name: name}
	switch t {
	case DA_TYPE_BOOLEAN:
		s.Type = Boolean
	case DA_TYPE_INT8:
		s.Type, s.IntegerBits = Integer, 8
	case DA_TYPE_INT16:
		s.Type, s.IntegerBits = Integer, 16
	case DA_TYPE_INT32:
		s.Type, s.IntegerBits = Integer, 32
	case DA_TYPE_INT64:
		s.Type, s.IntegerBits = Integer, 64
	case DA_TYPE_INT8U:
		s.Type, s.UnsignedBits = Unsigned, 8
	case DA_TYPE_INT16U:
		s.Type, s.UnsignedBits = Unsigned, 16
	case DA_TYPE_INT24U:
		s.Type, s.UnsignedBits = Unsigned, 24
	case DA_TYPE_INT32U:
		s.Type, s.UnsignedBits = Unsigned, 32
	case DA_TYPE_FLOAT32:
		s.Type, s.FloatFormatWidth, s.FloatExponentWidth = Float, 32, 8
	case DA_TYPE_FLOAT64:
		s.Type, s.FloatFormatWidth, s.FloatExponentWidth = Float, 64, 11
	case DA_TYPE_ENUMERATED:
		s.Type, s.IntegerBits = Integer, 8
	case DA_TYPE_CHECK, DA_TYPE_CODEDENUM:
		s.Type, s.BitStringSize = BitString, 2
	case DA_TYPE_QUALITY:
		s.Type, s.BitStringSize = BitString, 13
	case DA_TYPE_GENERIC_BITSTRING:
		s.Type = BitString
	case DA_TYPE_OCTET_STRING_6:
		s.Type, s.OctetStringSize = OctetString, 6
	case DA_TYPE_OCTET_STRING_8:
		s.Type, s.OctetStringSize = OctetString, 8
	case DA_TYPE_OCTET_STRING_64:
		s.Type, s.OctetStringSize = OctetString, 64
	case DA_TYPE_VISIBLE_STRING_32, DA_TYPE_VISIBLE_STRING_64, DA_TYPE_VISIBLE_STRING_65, DA_TYPE_VISIBLE_STRING_129:
		s.Type, s.VisibleStringSize = VisibleString, 129
	case DA_TYPE_VISIBLE_STRING_255:
		s.Type, s.VisibleStringSize = VisibleString, 255
	case DA_TYPE_UNICODE_STRING_255:
		s.Type, s.MmsStringSize = String, 255
	case DA_TYPE_TIMESTAMP:
		s.Type = UTCTime
	case DA_TYPE_ENTRY_TIME:
		s.Type, s.BinaryTimeSize = BinaryTime, 6
	case DA_TYPE_PHYCOMADDR:
		return phyComAddrSpec(name), true
	default:
		return s, false
	}
	return s, true
}

// phyComAddrSpec is the fixed layout of a PHYCOMADDR attribute.
func phyComAddrSpec(name string) MmsVariableSpec {
	return structureSpec(name, []MmsVariableSpec{
		{Type: OctetString, Name: "Addr", OctetStringSize: 6},
		{Type: Unsigned, Name: "PRIORITY", UnsignedBits: 8},
		{Type: Unsigned, Name: "VID", UnsignedBits: 16},
		{Type: Unsigned, Name: "APPID", UnsignedBits: 16},
	})
}

// CompileDataAttributeSpec compiles a data attribute subtree into its MMS type.
// Attributes with children become structures in child order; array
// attributes wrap the unnamed element type.
func CompileDataAttributeSpec(da *ModelNode) (*MmsVariableSpec, error) {
	spec, err := compileDataAttribute(da)
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

func compileDataAttribute(da *ModelNode) (MmsVariableSpec, error) {
	if da.Type != DataAttributeModelType {
		return MmsVariableSpec{}, fmt.Errorf("%w: %s is a %s, expected DA", ErrInvalidModel, da.ObjectReference(), da.Type)
	}
	elem, err := compileDataAttributeElement(da)
	if err != nil {
		return MmsVariableSpec{}, err
	}
	if !da.IsArray() {
		elem.Name = da.Name
		return elem, nil
	}
	return MmsVariableSpec{
		Type:  Array,
		Name:  da.Name,
		Array: &MmsArraySpec{ElementCount: da.ElementCount, Element: &elem},
	}, nil
}

// compileDataAttributeElement compiles the type of one attribute instance
// without a name.
func compileDataAttributeElement(da *ModelNode) (MmsVariableSpec, error) {
	if len(da.children) > 0 {
		elements := make([]MmsVariableSpec, 0, len(da.children))
		for _, child := range da.children {
			s, err := compileDataAttribute(child)
			if err != nil {
				return MmsVariableSpec{}, err
			}
			elements = append(elements, s)
		}
		return structureSpec("", elements), nil
	}
	s, ok := scalarSpec("", da.DAType)
	if !ok {
		return MmsVariableSpec{}, fmt.Errorf("%w: %s has type %s", ErrUnmappableType, da.ObjectReference(), da.DAType)
	}
	return s, nil
}

// compileDataObject builds the structure of all members of do carrying fc.
func compileDataObject(do *ModelNode, fc FC) (MmsVariableSpec, error) {
	count := 0
	for _, c := range do.children {
		if c.Type == DataAttributeModelType && c.FC == fc ||
			c.Type == DataObjectModelType && c.hasChildWithFC(fc) {
			count++
		}
	}
	elements := make([]MmsVariableSpec, 0, count)
	for _, c := range do.children {
		switch c.Type {
		case DataAttributeModelType:
			if c.FC != fc {
				continue
			}
			s, err := compileDataAttribute(c)
			if err != nil {
				return MmsVariableSpec{}, err
			}
			elements = append(elements, s)
		case DataObjectModelType:
			if !c.hasChildWithFC(fc) {
				continue
			}
			s, err := compileDataObject(c, fc)
			if err != nil {
				return MmsVariableSpec{}, err
			}
			elements = append(elements, s)
		default:
			return MmsVariableSpec{}, fmt.Errorf("%w: %s below data object %s", ErrInvalidModel, c.Type, do.ObjectReference())
		}
	}
	return structureSpec(do.Name, elements), nil
}

func compileFunctionalConstraint(ln *ModelNode, fc FC) (MmsVariableSpec, error) {
	var elements []MmsVariableSpec
	for _, do := range ln.children {
		if !do.hasChildWithFC(fc) {
			continue
		}
		s, err := compileDataObject(do, fc)
		if err != nil {
			return MmsVariableSpec{}, err
		}
		elements = append(elements, s)
	}
	return structureSpec(fc.String(), elements), nil
}

// compileLogicalNode produces the named variable of a logical node: one
// structure per populated FC in fixed order, then the buffered report,
// unbuffered report and GOOSE control block structures when present.
func compileLogicalNode(ln *ModelNode, cbs lnControlBlocks) (MmsVariableSpec, error) {
	for _, c := range ln.children {
		if c.Type != DataObjectModelType {
			return MmsVariableSpec{}, fmt.Errorf("%w: %s %s directly below logical node", ErrInvalidModel, c.Type, c.ObjectReference())
		}
	}

	count := 0
	for _, fc := range dataFCs {
		if ln.hasChildWithFC(fc) {
			count++
		}
	}
	if len(cbs.brcbs) > 0 {
		count++
	}
	if len(cbs.urcbs) > 0 {
		count++
	}
	if len(cbs.gocbs) > 0 {
		count++
	}

	elements := make([]MmsVariableSpec, 0, count)
	for _, fc := range dataFCs {
		if !ln.hasChildWithFC(fc) {
			continue
		}
		s, err := compileFunctionalConstraint(ln, fc)
		if err != nil {
			return MmsVariableSpec{}, err
		}
		elements = append(elements, s)
	}
	if len(cbs.brcbs) > 0 {
		elements = append(elements, reportControlBlocksSpec(FC_BR, cbs.brcbs))
	}
	if len(cbs.urcbs) > 0 {
		elements = append(elements, reportControlBlocksSpec(FC_RP, cbs.urcbs))
	}
	if len(cbs.gocbs) > 0 {
		elements = append(elements, gooseControlBlocksSpec(cbs.gocbs))
	}
	return structureSpec(ln.Name, elements), nil
}

// conformsTo reports whether v has the shape described by spec.
func conformsTo(v *MmsValue, spec *MmsVariableSpec) bool {
	if v == nil || v.Type != spec.Type {
		return false
	}
	switch spec.Type {
	case Structure:
		elems := v.Elements()
		if spec.Structure == nil || len(elems) != len(spec.Structure.Elements) {
			return false
		}
		for i := range elems {
			if !conformsTo(elems[i], &spec.Structure.Elements[i]) {
				return false
			}
		}
		return true
	case Array:
		elems := v.Elements()
		if spec.Array == nil || len(elems) != spec.Array.ElementCount {
			return false
		}
		for _, e := range elems {
			if !conformsTo(e, spec.Array.Element) {
				return false
			}
		}
		return true
	default:
		return hasGoRepresentation(v)
	}
}
