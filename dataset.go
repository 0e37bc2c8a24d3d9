package iec61850

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDanglingReference is returned by Compile when a data set entry does not
// resolve to a value in the model.
var ErrDanglingReference = errors.New("dangling data set reference")

// DataSetEntry is a resolved data set member bound to its value cell.
type DataSetEntry struct {
	LogicalDevice string
	VariableName  string
	Index         int
	ComponentName string

	value *MmsValue
}

// Value returns the live cell the entry points to.
func (e *DataSetEntry) Value() *MmsValue {
	return e.value
}

// Reference renders the entry as "LD/LN$FC$DO$DA", with array index and
// component appended when present.
func (e *DataSetEntry) Reference() string {
	ref := e.LogicalDevice + "/" + e.VariableName
	if e.Index >= 0 {
		ref += "(" + strconv.Itoa(e.Index) + ")"
	}
	if e.ComponentName != "" {
		ref += "$" + e.ComponentName
	}
	return ref
}

// DataSet is a compiled named variable list.
type DataSet struct {
	LogicalDevice string
	LogicalNode   string
	Name          string
	Entries       []*DataSetEntry
}

// MmsName is the name of the list within its domain, e.g. "LLN0$Events".
func (ds *DataSet) MmsName() string {
	return ds.LogicalNode + "$" + ds.Name
}

// Reference is the domain qualified name, e.g. "simpleIOGenericIO/LLN0$Events".
func (ds *DataSet) Reference() string {
	return ds.LogicalDevice + "/" + ds.MmsName()
}

// IsMemberValue reports whether value is one of the entries or nested inside
// one, and returns the index of the first matching entry.
func (ds *DataSet) IsMemberValue(value *MmsValue) (int, bool) {
	for i, e := range ds.Entries {
		if containsValue(e.value, value) {
			return i, true
		}
	}
	return -1, false
}

// containsValue reports whether value is container itself or one of its
// nested components.
func containsValue(container, value *MmsValue) bool {
	if container == nil || value == nil {
		return false
	}
	if container == value {
		return true
	}
	if container.Type == Structure || container.Type == Array {
		for _, c := range container.Elements() {
			if containsValue(c, value) {
				return true
			}
		}
	}
	return false
}

// buildDataSet resolves all entries of decl. One unresolvable entry fails the
// whole data set.
func buildDataSet(decl *DataSetDecl, domains map[string]*MmsDomain) (*DataSet, error) {
	if decl.Parent == nil || decl.Parent.Type != LogicalNodeModelType {
		return nil, fmt.Errorf("%w: data set %s has no parent logical node", ErrInvalidModel, decl.Name)
	}
	host := decl.Parent.LogicalDevice()
	if host == nil {
		return nil, fmt.Errorf("%w: data set %s is not attached to a logical device", ErrInvalidModel, decl.Name)
	}
	ds := &DataSet{
		LogicalDevice: host.Name,
		LogicalNode:   decl.Parent.Name,
		Name:          decl.Name,
		Entries:       make([]*DataSetEntry, 0, len(decl.Entries)),
	}
	for _, e := range decl.Entries {
		ldName := e.LogicalDevice
		if ldName == "" {
			ldName = host.Name
		}
		entry := &DataSetEntry{LogicalDevice: ldName, VariableName: e.VariableName, Index: e.Index, ComponentName: e.ComponentName}
		v, err := resolveEntry(domains[ldName], entry)
		if err != nil {
			return nil, fmt.Errorf("data set %s: %w", ds.Reference(), err)
		}
		entry.value = v
		ds.Entries = append(ds.Entries, entry)
	}
	return ds, nil
}

func resolveEntry(domain *MmsDomain, e *DataSetEntry) (*MmsValue, error) {
	if domain == nil {
		return nil, fmt.Errorf("%w: unknown logical device %q", ErrDanglingReference, e.LogicalDevice)
	}
	spec, v, ok := domain.lookup(e.VariableName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDanglingReference, e.Reference())
	}
	if e.Index >= 0 {
		spec, v, ok = component(spec, v, strconv.Itoa(e.Index))
		if !ok {
			return nil, fmt.Errorf("%w: %s index out of range", ErrDanglingReference, e.Reference())
		}
	}
	if e.ComponentName != "" {
		for _, part := range strings.Split(e.ComponentName, "$") {
			spec, v, ok = component(spec, v, part)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrDanglingReference, e.Reference())
			}
		}
	}
	return v, nil
}
