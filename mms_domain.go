package iec61850

import (
	"strconv"
	"strings"
)

// MmsDomain is the MMS view of one logical device: a named variable per
// logical node plus the named variable lists (data sets) it hosts. The value
// of each named variable is a structure whose leaves are the data attribute
// cells of the model, so lookups return live cells.
type MmsDomain struct {
	Name string

	device    *ModelNode
	variables []MmsVariableSpec
	values    []*MmsValue
	dataSets  []*DataSet
}

// NamedVariables returns the logical node specifications in declaration order.
func (d *MmsDomain) NamedVariables() []MmsVariableSpec {
	return d.variables
}

// DataSets returns the named variable lists hosted by this domain.
func (d *MmsDomain) DataSets() []*DataSet {
	return d.dataSets
}

// DataSet returns the named variable list with the given name ("LLN0$Events").
func (d *MmsDomain) DataSet(name string) *DataSet {
	for _, ds := range d.dataSets {
		if ds.MmsName() == name {
			return ds
		}
	}
	return nil
}

func (d *MmsDomain) namedVariable(name string) int {
	for i := range d.variables {
		if d.variables[i].Name == name {
			return i
		}
	}
	return -1
}

// lookup resolves a flattened item name to its specification and live value
// by walking both trees in parallel. Numeric components index arrays.
func (d *MmsDomain) lookup(itemID string) (*MmsVariableSpec, *MmsValue, bool) {
	parts := strings.Split(itemID, "$")
	idx := d.namedVariable(parts[0])
	if idx < 0 {
		return nil, nil, false
	}
	spec, value := &d.variables[idx], d.values[idx]
	for _, part := range parts[1:] {
		var ok bool
		spec, value, ok = component(spec, value, part)
		if !ok {
			return nil, nil, false
		}
	}
	return spec, value, true
}

func component(spec *MmsVariableSpec, value *MmsValue, name string) (*MmsVariableSpec, *MmsValue, bool) {
	switch spec.Type {
	case Structure:
		i, child := spec.element(name)
		if child == nil {
			return nil, nil, false
		}
		v := value.Element(i)
		return child, v, v != nil
	case Array:
		i, err := strconv.Atoi(name)
		if err != nil || spec.Array == nil {
			return nil, nil, false
		}
		v := value.Element(i)
		return spec.Array.Element, v, v != nil
	default:
		return nil, nil, false
	}
}

// Value returns the live value cell of an item, or nil.
func (d *MmsDomain) Value(itemID string) *MmsValue {
	_, v, ok := d.lookup(itemID)
	if !ok {
		return nil
	}
	return v
}

// VariableSpecification returns the type of an item, or nil.
func (d *MmsDomain) VariableSpecification(itemID string) *MmsVariableSpec {
	s, _, ok := d.lookup(itemID)
	if !ok {
		return nil
	}
	return s
}
