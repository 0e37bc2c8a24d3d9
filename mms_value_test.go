package iec61850

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmsValueUpdateKeepsIdentity(t *testing.T) {
	f := NewFloatValue(0)
	q := NewBitStringValue(0)
	mag := NewStructureValue(f)
	cell := NewStructureValue(mag, q)

	require.NoError(t, cell.Update(NewStructureValue(NewStructureValue(NewFloatValue(2.5)), NewBitStringValue(0x40))))
	assert.Same(t, mag, cell.Element(0))
	assert.Same(t, f, mag.Element(0))
	assert.Equal(t, 2.5, f.Float64())
	assert.Equal(t, uint32(0x40), q.Uint32())
}

func TestMmsValueUpdateRejectsShapeMismatch(t *testing.T) {
	cell := NewStructureValue(NewBooleanValue(false), NewIntegerValue(7))

	tests := []struct {
		name string
		src  *MmsValue
	}{
		{"nil", nil},
		{"scalar for structure", NewBooleanValue(true)},
		{"missing element", NewStructureValue(NewBooleanValue(true))},
		{"wrong element type", NewStructureValue(NewBooleanValue(true), NewFloatValue(1))},
		{"bad go representation", NewStructureValue(NewBooleanValue(true), &MmsValue{Type: Integer, Value: "7"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, cell.Update(tt.src), ErrTypeMismatch)
			assert.False(t, cell.Element(0).Bool(), "partial update")
			assert.Equal(t, int64(7), cell.Element(1).Int64())
		})
	}
}

func TestMmsValueCloneAndEqual(t *testing.T) {
	orig := NewStructureValue(NewOctetStringValue([]byte{1, 2}), NewArrayValue(NewIntegerValue(1), NewIntegerValue(2)))
	c := orig.Clone()
	require.True(t, orig.Equal(c))
	assert.NotSame(t, orig.Element(0), c.Element(0))

	c.Element(0).Bytes()[0] = 9
	assert.Equal(t, []byte{1, 2}, orig.Element(0).Bytes())
	assert.False(t, orig.Equal(c))

	assert.False(t, NewIntegerValue(1).Equal(NewUnsignedValue(1)))
	assert.False(t, NewArrayValue(NewIntegerValue(1)).Equal(NewArrayValue()))
	assert.True(t, (*MmsValue)(nil).Equal(nil))
	assert.False(t, NewBooleanValue(false).Equal(nil))
	assert.Nil(t, (*MmsValue)(nil).Clone())
}

func TestOctetStringValueCopiesInput(t *testing.T) {
	b := []byte{1, 2, 3}
	v := NewOctetStringValue(b)
	b[0] = 0
	assert.Equal(t, []byte{1, 2, 3}, v.Bytes())

	cell := NewOctetStringValue(make([]byte, 3))
	src := NewOctetStringValue([]byte{4, 5, 6})
	require.NoError(t, cell.Update(src))
	src.Bytes()[0] = 0
	assert.Equal(t, []byte{4, 5, 6}, cell.Bytes())
}

func TestStringValuesAreNormalized(t *testing.T) {
	decomposed := "Re\u0301seau"
	composed := "R\u00e9seau"

	v := NewStringValue(decomposed)
	assert.Equal(t, composed, v.StringValue())

	cell := NewStringValue("")
	require.NoError(t, cell.Update(&MmsValue{Type: String, Value: decomposed}))
	assert.Equal(t, composed, cell.StringValue())
	assert.True(t, cell.Equal(NewStringValue(composed)))

	// Visible strings are stored as given.
	assert.Equal(t, decomposed, NewVisibleStringValue(decomposed).StringValue())
}

func TestToMmsValue(t *testing.T) {
	tests := []struct {
		t     MmsType
		value any
		want  *MmsValue
	}{
		{Boolean, "true", NewBooleanValue(true)},
		{Boolean, 1, NewBooleanValue(true)},
		{Integer, 42, NewIntegerValue(42)},
		{Integer, "-3", NewIntegerValue(-3)},
		{Unsigned, 4096, NewUnsignedValue(4096)},
		{Float, 1.5, NewFloatValue(1.5)},
		{Float, "2", NewFloatValue(2)},
		{BitString, 0x40, NewBitStringValue(0x40)},
		{OctetString, []byte{1}, NewOctetStringValue([]byte{1})},
		{OctetString, "ab", NewOctetStringValue([]byte("ab"))},
		{VisibleString, 12, NewVisibleStringValue("12")},
		{UTCTime, 1700000000000, NewUTCTimeValue(1700000000000)},
	}
	for _, tt := range tests {
		got, err := ToMmsValue(tt.t, tt.value)
		require.NoError(t, err, "%s %v", tt.t, tt.value)
		assert.Equal(t, tt.want, got, "%s %v", tt.t, tt.value)
	}

	_, err := ToMmsValue(Integer, "seven")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = ToMmsValue(Structure, 1)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestNewDefaultValue(t *testing.T) {
	spec := structureSpec("cb", []MmsVariableSpec{
		{Type: Boolean, Name: "b"},
		{Type: OctetString, Name: "EntryID", OctetStringSize: 8},
		{Type: OctetString, Name: "Owner", OctetStringSize: 64},
		{Type: BinaryTime, Name: "TimeOfEntry", BinaryTimeSize: 6},
		phyComAddrSpec("DstAddress"),
	})
	v := NewDefaultValue(&spec)
	require.Len(t, v.Elements(), 5)
	assert.Equal(t, NewBooleanValue(false), v.Element(0))
	assert.Len(t, v.Element(1).Bytes(), 8)
	assert.Empty(t, v.Element(2).Bytes())
	assert.Equal(t, NewBinaryTimeValue(0), v.Element(3))
	assert.Len(t, v.Element(4).Element(0).Bytes(), 6)
}
