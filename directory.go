package iec61850

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// VariableTypeValue represents a flattened variable leaf with its MMS type,
// name from the MMS type specification, full object reference, and Go value.
// For composite (Array/Structure) types we don't emit an entry; we only emit
// leaves that carry a concrete value.
type VariableTypeValue struct {
	Type  MmsType
	Name  string
	Ref   string
	Value any
}

type Vars map[string][]string

type FCVar struct {
	LN     string
	FCVars map[string]Vars
}

// LogicalDeviceList returns the domain names in model order.
func (m *DeviceMapping) LogicalDeviceList() []string {
	out := make([]string, len(m.domains))
	for i, d := range m.domains {
		out[i] = d.Name
	}
	return out
}

func (m *DeviceMapping) domain(ldName string) (*MmsDomain, error) {
	d := m.domainIndex[ldName]
	if d == nil {
		return nil, fmt.Errorf("logical device %q: %w", ldName, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	return d, nil
}

// LogicalDeviceDirectory returns the logical node names of a logical device.
func (m *DeviceMapping) LogicalDeviceDirectory(ldName string) ([]string, error) {
	d, err := m.domain(ldName)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(d.variables))
	for i := range d.variables {
		out[i] = d.variables[i].Name
	}
	return out, nil
}

// LogicalDeviceVariables returns every named variable of the domain and all
// their structure components as flattened MMS names, depth first in
// declaration order ("GGIO1", "GGIO1$ST", "GGIO1$ST$Ind1", ...). Array
// elements are not listed.
func (m *DeviceMapping) LogicalDeviceVariables(ldName string) ([]string, error) {
	d, err := m.domain(ldName)
	if err != nil {
		return nil, err
	}
	var out []string
	var walk func(spec *MmsVariableSpec, prefix string)
	walk = func(spec *MmsVariableSpec, prefix string) {
		out = append(out, prefix)
		if spec.Type != Structure || spec.Structure == nil {
			return
		}
		for i := range spec.Structure.Elements {
			walk(&spec.Structure.Elements[i], prefix+"$"+spec.Structure.Elements[i].Name)
		}
	}
	for i := range d.variables {
		walk(&d.variables[i], d.variables[i].Name)
	}
	return out, nil
}

// LogicalDeviceDataSets returns the names of the data sets hosted by a domain.
func (m *DeviceMapping) LogicalDeviceDataSets(ldName string) ([]string, error) {
	d, err := m.domain(ldName)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(d.dataSets))
	for i, ds := range d.dataSets {
		out[i] = ds.MmsName()
	}
	return out, nil
}

// DataSetDirectory returns the members of a data set as functional
// constraint qualified references, e.g. "LD/GGIO1.AnIn1.mag.f[MX]".
func (m *DeviceMapping) DataSetDirectory(dataSetRef string) ([]string, error) {
	ds := m.findDataSet(dataSetRef)
	if ds == nil {
		return nil, fmt.Errorf("data set %q: %w", dataSetRef, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	out := make([]string, 0, len(ds.Entries))
	for _, e := range ds.Entries {
		ref, fc, err := ObjectReferenceFromMmsVariableName(e.LogicalDevice, e.VariableName)
		if err != nil {
			return nil, fmt.Errorf("data set %s: %w", ds.Reference(), err)
		}
		if e.Index >= 0 {
			ref += "(" + strconv.Itoa(e.Index) + ")"
		}
		if e.ComponentName != "" {
			ref += "." + strings.ReplaceAll(e.ComponentName, "$", ".")
		}
		out = append(out, ref+"["+fc.String()+"]")
	}
	return out, nil
}

// LogicalNodeDirectory lists the children of a logical node ("LD/LN") of the
// given ACSI class. Classes without instances in this model give an empty list.
func (m *DeviceMapping) LogicalNodeDirectory(lnRef string, class ACSIClass) ([]string, error) {
	ldName, lnName, ok := strings.Cut(lnRef, "/")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedReference, lnRef)
	}
	ld := m.model.GetLogicalDevice(ldName)
	if ld == nil {
		return nil, fmt.Errorf("logical device %q: %w", ldName, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	ln := ld.GetChild(lnName)
	if ln == nil {
		return nil, fmt.Errorf("logical node %q: %w", lnRef, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}

	out := make([]string, 0)
	switch class {
	case ACSI_CLASS_DATA_OBJECT:
		for _, do := range ln.children {
			out = append(out, do.Name)
		}
	case ACSI_CLASS_DATA_SET:
		for _, ds := range m.domainIndex[ldName].dataSets {
			if ds.LogicalNode == lnName {
				out = append(out, ds.Name)
			}
		}
	case ACSI_CLASS_BRCB, ACSI_CLASS_URCB:
		for _, rc := range m.reportControls {
			if rc.LogicalDevice == ldName && rc.LogicalNode == lnName && rc.Buffered == (class == ACSI_CLASS_BRCB) {
				out = append(out, rc.Name)
			}
		}
	case ACSI_CLASS_GoCB:
		for _, gc := range m.gooseControls {
			if gc.LogicalDevice == ldName && gc.LogicalNode == lnName {
				out = append(out, gc.Name)
			}
		}
	}
	return out, nil
}

// resolveReference translates "LD/LN" or "LD/LN.DO.DA" with fc into a
// domain and MMS item name.
func resolveReference(ref string, fc FC) (string, string, error) {
	domain, rest, ok := strings.Cut(ref, "/")
	if !ok || domain == "" || rest == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedReference, ref)
	}
	if !strings.Contains(rest, ".") {
		if _, known := fcNames[fc]; !known || fc == FC_ALL {
			return "", "", fmt.Errorf("%w: no FC token for %d", ErrMalformedReference, int(fc))
		}
		return domain, rest + "$" + fc.String(), nil
	}
	item, err := MmsVariableNameFromObjectReference(rest, fc)
	if err != nil {
		return "", "", err
	}
	return domain, item, nil
}

// VariableSpecification returns the MMS type of an object reference under a
// functional constraint, e.g. ("LD/GGIO1.AnIn1.mag", FC_MX).
func (m *DeviceMapping) VariableSpecification(ref string, fc FC) (*MmsVariableSpec, error) {
	domain, item, err := resolveReference(ref, fc)
	if err != nil {
		return nil, err
	}
	d, err := m.domain(domain)
	if err != nil {
		return nil, err
	}
	spec := d.VariableSpecification(item)
	if spec == nil {
		return nil, fmt.Errorf("%s[%s]: %w", ref, fc, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	return spec, nil
}

// ReadObject returns a copy of the value of an object reference under a
// functional constraint.
func (m *DeviceMapping) ReadObject(ref string, fc FC) (*MmsValue, error) {
	domain, item, err := resolveReference(ref, fc)
	if err != nil {
		return nil, err
	}
	if _, err := m.domain(domain); err != nil {
		return nil, err
	}
	v := m.readCell(domain, item)
	if v == nil {
		return nil, fmt.Errorf("%s[%s]: %w", ref, fc, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	return v, nil
}

// VariableTypeValues collects all leaf variables and their values for the
// given object reference and functional constraint. Specification and value
// are walked together; composite nodes (Array/Structure) are traversed but
// not returned as items.
func (m *DeviceMapping) VariableTypeValues(objectRef string, fc FC) ([]VariableTypeValue, error) {
	spec, err := m.VariableSpecification(objectRef, fc)
	if err != nil {
		return nil, err
	}
	val, err := m.ReadObject(objectRef, fc)
	if err != nil {
		return nil, err
	}

	out := make([]VariableTypeValue, 0)

	var walk func(spec *MmsVariableSpec, val *MmsValue, curRef string, curName string) error
	walk = func(spec *MmsVariableSpec, val *MmsValue, curRef string, curName string) error {
		if spec == nil || val == nil {
			return fmt.Errorf("nil spec or value for ref %s", curRef)
		}

		switch spec.Type {
		case Array:
			if val.Type != Array || spec.Array == nil || spec.Array.Element == nil {
				return fmt.Errorf("type mismatch at %s: spec Array, value %s", curRef, val.Type)
			}
			for i, child := range val.Elements() {
				nextRef := fmt.Sprintf("%s[%d]", curRef, i)
				nextName := fmt.Sprintf("%s[%d]", curName, i)
				if err := walk(spec.Array.Element, child, nextRef, nextName); err != nil {
					return err
				}
			}
			return nil
		case Structure:
			if val.Type != Structure || spec.Structure == nil {
				return fmt.Errorf("type mismatch at %s: spec Structure, value %s", curRef, val.Type)
			}
			elems := val.Elements()
			n := min(len(elems), len(spec.Structure.Elements))
			for i := 0; i < n; i++ {
				childSpec := &spec.Structure.Elements[i]
				nextRef := curRef
				nextName := curName
				if childSpec.Name != "" {
					nextRef = curRef + "." + childSpec.Name
					nextName = childSpec.Name
				}
				if err := walk(childSpec, elems[i], nextRef, nextName); err != nil {
					return err
				}
			}
			return nil
		default:
			leafName := spec.Name
			if leafName == "" {
				leafName = curName
			}
			out = append(out, VariableTypeValue{
				Type:  val.Type,
				Name:  leafName,
				Ref:   curRef,
				Value: val.Value,
			})
			return nil
		}
	}

	startName := spec.Name
	if idx := strings.LastIndex(objectRef, "."); startName == "" && idx != -1 {
		startName = objectRef[idx+1:]
	}
	if err := walk(spec, val, objectRef, startName); err != nil {
		return nil, err
	}
	return out, nil
}

// LogicalDeviceVariablesHierarchical groups the variables of a logical device
// by logical node and functional constraint. Each data object maps to the
// '$' separated paths of its components.
func (m *DeviceMapping) LogicalDeviceVariablesHierarchical(ldName string) ([]FCVar, error) {
	vars, err := m.LogicalDeviceVariables(ldName)
	if err != nil {
		return nil, err
	}

	byLN := make(map[string]FCVar)
	for _, v := range vars {
		parts := strings.SplitN(v, "$", 3)
		if len(parts) != 3 {
			// Skip the top level variable names
			continue
		}

		lnName, fc := parts[0], parts[1]
		variables := strings.SplitN(parts[2], "$", 2)
		base := variables[0]

		if _, ok := byLN[lnName]; !ok {
			byLN[lnName] = FCVar{LN: lnName, FCVars: make(map[string]Vars)}
		}
		if _, ok := byLN[lnName].FCVars[fc]; !ok {
			byLN[lnName].FCVars[fc] = make(Vars)
		}
		if _, ok := byLN[lnName].FCVars[fc][base]; !ok {
			byLN[lnName].FCVars[fc][base] = make([]string, 0)
		}
		if len(variables) == 2 {
			byLN[lnName].FCVars[fc][base] = append(byLN[lnName].FCVars[fc][base], variables[1])
		}
	}

	ret := make([]FCVar, 0, len(byLN))
	for _, v := range byLN {
		ret = append(ret, v)
	}
	slices.SortFunc(ret, func(a, b FCVar) int {
		return strings.Compare(a.LN, b.LN)
	})
	return ret, nil
}

// VariableValues reads the leaves of every logical node and functional
// constraint of the mapping. Logical nodes are read concurrently; the result
// is sorted by reference.
func (m *DeviceMapping) VariableValues() ([]VariableTypeValue, error) {
	type qvars struct {
		ld   string
		vars []FCVar
	}
	q := make([]qvars, 0)
	for _, ldName := range m.LogicalDeviceList() {
		variables, err := m.LogicalDeviceVariablesHierarchical(ldName)
		if err != nil {
			return nil, err
		}
		q = append(q, qvars{ldName, variables})
	}

	ret := make([]VariableTypeValue, 0)
	ch := make(chan []VariableTypeValue)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := range ch {
			ret = append(ret, v...)
		}
	}()

	eg := errgroup.Group{}
	eg.SetLimit(2)

	for _, qv := range q {
		for _, v := range qv.vars {
			for fc := range v.FCVars {
				eg.Go(func() error {
					dataRef := fmt.Sprintf("%s/%s", qv.ld, v.LN)
					values, err := m.VariableTypeValues(dataRef, FunctionalConstraintFromString(fc))
					if err != nil {
						ch <- []VariableTypeValue{{
							Type:  DataAccessError,
							Name:  v.LN,
							Ref:   dataRef,
							Value: err,
						}}
						return nil
					}
					ch <- values
					return nil
				})
			}
		}
	}

	err := eg.Wait()
	close(ch)
	wg.Wait()

	slices.SortFunc(ret, func(a, b VariableTypeValue) int {
		return strings.Compare(a.Ref, b.Ref)
	})
	return ret, err
}
