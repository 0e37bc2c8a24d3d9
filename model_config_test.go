package iec61850

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateModelFromConfigFile(t *testing.T) {
	model := loadSimpleIO(t)
	assert.Equal(t, "simpleIO", model.Name)
	require.Len(t, model.LogicalDevices(), 1)
	assert.Equal(t, simpleIOLD, model.LogicalDevices()[0].Name)

	f := model.GetModelNodeByObjectReference(simpleIOLD + "/GGIO1.AnIn1.mag.f")
	require.NotNil(t, f)
	assert.Equal(t, DataAttributeModelType, f.Type)
	assert.Equal(t, DA_TYPE_FLOAT32, f.DAType)
	assert.Equal(t, FC_MX, f.FC, "inherited from mag")
	assert.Equal(t, DA_TYPE_CONSTRUCTED, f.Parent().DAType)

	stVal := model.GetModelNodeByObjectReference(simpleIOLD + "/LLN0.Mod.stVal")
	require.NotNil(t, stVal)
	assert.Equal(t, NewIntegerValue(1), stVal.Value())

	orCat := model.GetModelNodeByObjectReference(simpleIOLD + "/GGIO1.SPCSO1.Oper.origin.orCat")
	require.NotNil(t, orCat)
	assert.Equal(t, FC_CO, orCat.FC)

	assert.Len(t, model.DataSets(), 2)
	events := model.DataSets()[0]
	assert.Equal(t, "Events", events.Name)
	assert.Equal(t, DataSetEntryDecl{LogicalDevice: simpleIOLD, VariableName: "GGIO1$ST$SPCSO1$stVal", Index: -1}, events.Entries[0])

	rcbs := model.ReportControlBlocks()
	require.Len(t, rcbs, 3)
	assert.Equal(t, TrgOps{DataChange: true, QualityChange: true, TriggeredPeriodically: true, Gi: true}, rcbs[1].TrgOps)
	assert.Equal(t, uint32(1000), rcbs[1].IntgPd)
	assert.True(t, rcbs[2].Buffered)
	assert.True(t, rcbs[2].OptFlds.EntryID)

	gcbs := model.GSEControlBlocks()
	require.Len(t, gcbs, 2)
	assert.Equal(t, "events", gcbs[0].GoID)
	assert.Equal(t, uint32(100), gcbs[0].MinTime)
	assert.Equal(t, &PhyComAddress{Addr: [6]byte{0x01, 0x0c, 0xcd, 0x01, 0x00, 0x01}, Priority: 4, AppID: 4096}, gcbs[0].DstAddress())
}

func TestCreateModelFromMissingFile(t *testing.T) {
	_, err := CreateModelFromConfigFile("test/server/does_not_exist.yaml")
	var le *ModelLoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "test/server/does_not_exist.yaml", le.File)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Contains(t, err.Error(), "test/server/does_not_exist.yaml: ")
}

const arrayModel = `
name: arrays
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        dataObjects:
          - name: Set
            attributes:
              - {name: arr, type: INT32, fc: SP, count: 3, value: [1, 2, 3]}
        dataSets:
          - name: Second
            entries:
              - {ref: LLN0.Set.arr, fc: SP, index: 1}
`

func TestParseModelArrays(t *testing.T) {
	model, err := ParseModel([]byte(arrayModel))
	require.NoError(t, err)

	arr := model.GetModelNodeByObjectReference("LD0/LLN0.Set.arr")
	require.NotNil(t, arr)
	assert.True(t, arr.IsArray())
	assert.Equal(t, NewArrayValue(NewIntegerValue(1), NewIntegerValue(2), NewIntegerValue(3)), arr.Value())
	assert.Equal(t, 1, model.DataSets()[0].Entries[0].Index)

	m, err := Compile(model, nil)
	require.NoError(t, err)
	ds := m.DataSet("LD0/LLN0$Second")
	require.NotNil(t, ds)
	assert.Equal(t, int64(2), ds.Entries[0].Value().Int64())
	assert.Same(t, arr.Value().Element(1), ds.Entries[0].Value())
}

func TestParseModelErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{
			name: "bad yaml",
			yaml: "name: [unterminated",
		},
		{
			name: "missing name",
			yaml: `
logicalDevices:
  - name: LD0
    logicalNodes: [{name: LLN0}]
`,
		},
		{
			name: "no logical devices",
			yaml: "name: empty\nlogicalDevices: []\n",
		},
		{
			name: "unknown type",
			yaml: `
name: bad
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        dataObjects:
          - name: Mod
            attributes: [{name: stVal, type: INT99, fc: ST}]
`,
		},
		{
			name: "unknown fc",
			yaml: `
name: bad
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        dataObjects:
          - name: Mod
            attributes: [{name: stVal, type: BOOLEAN, fc: QQ}]
`,
		},
		{
			name: "value of wrong type",
			yaml: `
name: bad
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        dataObjects:
          - name: Mod
            attributes: [{name: stVal, type: BOOLEAN, fc: ST, value: maybe}]
`,
			want: ErrTypeMismatch,
		},
		{
			name: "array length",
			yaml: `
name: bad
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        dataObjects:
          - name: Set
            attributes: [{name: arr, type: INT32, fc: SP, count: 3, value: [1, 2]}]
`,
			want: ErrTypeMismatch,
		},
		{
			name: "unknown trigger option",
			yaml: `
name: bad
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        reportControlBlocks: [{name: rcb, trgOps: [often]}]
`,
		},
		{
			name: "unknown optional field",
			yaml: `
name: bad
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        reportControlBlocks: [{name: rcb, optFlds: [everything]}]
`,
		},
		{
			name: "bad destination address",
			yaml: `
name: bad
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        gseControlBlocks: [{name: gcb, dstAddress: {addr: "01-0c-cd"}}]
`,
		},
		{
			name: "data set entry without fc",
			yaml: `
name: bad
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        dataSets: [{name: ds, entries: [{ref: LLN0.Mod.stVal, fc: ZZ}]}]
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := ParseModel([]byte(tt.yaml))
			assert.Nil(t, model)
			var le *ModelLoadError
			require.ErrorAs(t, err, &le)
			assert.Empty(t, le.File)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}
