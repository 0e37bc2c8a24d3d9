package iec61850

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSetEntriesBindValueCells(t *testing.T) {
	m := compileSimpleIO(t, nil)

	ds := m.DataSet(simpleIOLD + "/LLN0$Events")
	require.NotNil(t, ds)
	assert.Same(t, ds, m.DataSet(simpleIOLD+"/LLN0.Events"))
	assert.Equal(t, "LLN0$Events", ds.MmsName())
	assert.Equal(t, simpleIOLD+"/LLN0$Events", ds.Reference())
	require.Len(t, ds.Entries, 4)

	for i, do := range []string{"SPCSO1", "SPCSO2", "SPCSO3", "SPCSO4"} {
		stVal := node(t, m, simpleIOLD+"/GGIO1."+do+".stVal")
		assert.Same(t, stVal.Value(), ds.Entries[i].Value())
		assert.Equal(t, simpleIOLD+"/GGIO1$ST$"+do+"$stVal", ds.Entries[i].Reference())
	}

	d := m.Domain(simpleIOLD)
	assert.Len(t, d.DataSets(), 2)
	assert.Same(t, ds, d.DataSet("LLN0$Events"))
	assert.Nil(t, d.DataSet("LLN0$Nope"))
}

func TestIsMemberValue(t *testing.T) {
	m := compileSimpleIO(t, nil)
	ds := m.DataSet(simpleIOLD + "/LLN0$Measurements")
	require.NotNil(t, ds)

	idx, ok := ds.IsMemberValue(node(t, m, simpleIOLD+"/GGIO1.AnIn2.mag.f").Value())
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	idx, ok = ds.IsMemberValue(node(t, m, simpleIOLD+"/GGIO1.AnIn4.q").Value())
	assert.True(t, ok)
	assert.Equal(t, 7, idx)

	// An entry does not contain the structure it is part of.
	_, ok = ds.IsMemberValue(node(t, m, simpleIOLD+"/GGIO1.AnIn1.mag").Value())
	assert.False(t, ok)

	_, ok = ds.IsMemberValue(node(t, m, simpleIOLD+"/GGIO1.AnIn1.t").Value())
	assert.False(t, ok)

	// Equal content is not membership.
	_, ok = ds.IsMemberValue(NewFloatValue(0))
	assert.False(t, ok)
}

func TestStructuredEntryContainsMembers(t *testing.T) {
	model := meterModel()
	ln := model.GetModelNodeByObjectReference("LD0/MMXU1")
	ds := model.AddDataSet(ln, "Power")
	require.NoError(t, ds.AddEntry("LD0/MMXU1.TotW", FC_MX))

	m, err := Compile(model, nil)
	require.NoError(t, err)

	compiled := m.DataSet("LD0/MMXU1$Power")
	require.NotNil(t, compiled)
	require.Len(t, compiled.Entries, 1)
	assert.Equal(t, Structure, compiled.Entries[0].Value().Type)
	assert.Len(t, compiled.Entries[0].Value().Elements(), 3)

	f := model.GetModelNodeByObjectReference("LD0/MMXU1.TotW.mag.f")
	idx, ok := compiled.IsMemberValue(f.Value())
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestDataSetArrayElementEntry(t *testing.T) {
	model := meterModel()
	ln := model.GetModelNodeByObjectReference("LD0/MMXU1")
	ds := model.AddDataSet(ln, "Settings")
	ds.Entries = append(ds.Entries, DataSetEntryDecl{LogicalDevice: "LD0", VariableName: "MMXU1$SP$Set$arr", Index: 1})

	m, err := Compile(model, nil)
	require.NoError(t, err)

	arr := model.GetModelNodeByObjectReference("LD0/MMXU1.Set.arr")
	compiled := m.DataSet("LD0/MMXU1$Settings")
	require.NotNil(t, compiled)
	assert.Same(t, arr.Value().Element(1), compiled.Entries[0].Value())
	assert.Equal(t, "LD0/MMXU1$SP$Set$arr(1)", compiled.Entries[0].Reference())

	model = meterModel()
	ds = model.AddDataSet(model.GetModelNodeByObjectReference("LD0/MMXU1"), "Settings")
	ds.Entries = append(ds.Entries, DataSetEntryDecl{LogicalDevice: "LD0", VariableName: "MMXU1$SP$Set$arr", Index: 5})
	_, err = Compile(model, nil)
	assert.ErrorIs(t, err, ErrDanglingReference)
}

func TestDanglingReferences(t *testing.T) {
	t.Run("missing attribute", func(t *testing.T) {
		model := meterModel()
		ds := model.AddDataSet(model.GetModelNodeByObjectReference("LD0/MMXU1"), "Broken")
		require.NoError(t, ds.AddEntry("LD0/MMXU1.TotW.mag.i", FC_MX))
		_, err := Compile(model, nil)
		assert.ErrorIs(t, err, ErrDanglingReference)
	})

	t.Run("unknown logical device", func(t *testing.T) {
		model := meterModel()
		ds := model.AddDataSet(model.GetModelNodeByObjectReference("LD0/MMXU1"), "Broken")
		require.NoError(t, ds.AddEntry("LD9/MMXU1.TotW.q", FC_MX))
		_, err := Compile(model, nil)
		assert.ErrorIs(t, err, ErrDanglingReference)
	})

	t.Run("report control block data set", func(t *testing.T) {
		model := meterModel()
		model.AddReportControlBlock(&ReportControlBlockDecl{
			Parent:  model.GetModelNodeByObjectReference("LD0/MMXU1"),
			Name:    "rcb",
			DataSet: "Missing",
		})
		_, err := Compile(model, nil)
		assert.ErrorIs(t, err, ErrDanglingReference)
	})

	t.Run("duplicate data set", func(t *testing.T) {
		model := meterModel()
		ln := model.GetModelNodeByObjectReference("LD0/MMXU1")
		for range 2 {
			ds := model.AddDataSet(ln, "Twice")
			require.NoError(t, ds.AddEntry("LD0/MMXU1.TotW.q", FC_MX))
		}
		_, err := Compile(model, nil)
		assert.ErrorIs(t, err, ErrInvalidModel)
	})
}
