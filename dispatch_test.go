package iec61850

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchReadDataAttribute(t *testing.T) {
	env := newTestEnv(t)
	m := env.m
	conn := NewServerConnection("10.0.0.5:40000")

	v, err := m.DispatchRead(conn, simpleIOLD, "GGIO1$ST$SPCSO1$stVal")
	require.NoError(t, err)
	assert.Same(t, node(t, m, simpleIOLD+"/GGIO1.SPCSO1.stVal").Value(), v)

	v, err = m.DispatchRead(conn, simpleIOLD, "LLN0$DC$NamPlt")
	require.NoError(t, err)
	require.Equal(t, Structure, v.Type)
	assert.Equal(t, "MZ Automation", v.Element(0).StringValue())

	_, err = m.DispatchRead(conn, simpleIOLD, "GGIO1$ST$SPCSO9$stVal")
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT, AccessError(err))

	_, err = m.DispatchRead(conn, "otherLD", "GGIO1$ST$SPCSO1$stVal")
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT, AccessError(err))

	_, err = m.DispatchRead(conn, simpleIOLD, "GGIO1")
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, AccessError(err))
}

func TestDispatchWriteWithoutFCIsDenied(t *testing.T) {
	env := newTestEnv(t)
	err := env.m.DispatchWrite(nil, simpleIOLD, "LLN0", NewBooleanValue(true))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, AccessError(err))
	assert.True(t, errors.Is(err, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED))
}

func TestDispatchWriteGoEna(t *testing.T) {
	env := newTestEnv(t)
	m := env.m
	gc := m.GooseControl(simpleIOLD, "LLN0", "gcbEvents")
	require.NotNil(t, gc)
	require.False(t, gc.IsEnabled())

	require.NoError(t, m.DispatchWrite(nil, simpleIOLD, "LLN0$GO$gcbEvents$GoEna", NewBooleanValue(true)))
	assert.True(t, gc.IsEnabled())
	assert.Equal(t, uint32(1), gc.StNum())

	v, err := m.DispatchRead(nil, simpleIOLD, "LLN0$GO$gcbEvents$GoEna")
	require.NoError(t, err)
	assert.Equal(t, NewBooleanValue(true), v)

	err = m.DispatchWrite(nil, simpleIOLD, "LLN0$GO$gcbEvents$GoEna", NewVisibleStringValue("notabool"))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID, AccessError(err))
	assert.True(t, gc.IsEnabled())

	err = m.DispatchWrite(nil, simpleIOLD, "LLN0$GO$gcbEvents$GoID", NewVisibleStringValue("other"))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID, AccessError(err))

	err = m.DispatchWrite(nil, simpleIOLD, "LLN0$GO$gcbEvents$Bogus", NewBooleanValue(true))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, AccessError(err))

	err = m.DispatchWrite(nil, simpleIOLD, "LLN0$GO$gcbNope$GoEna", NewBooleanValue(true))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, AccessError(err))

	require.NoError(t, m.DispatchWrite(nil, simpleIOLD, "LLN0$GO$gcbEvents$GoEna", NewBooleanValue(false)))
	assert.False(t, gc.IsEnabled())
}

func TestDispatchReadGooseControl(t *testing.T) {
	env := newTestEnv(t)
	m := env.m

	v, err := m.DispatchRead(nil, simpleIOLD, "LLN0$GO$gcbEvents$DstAddress$APPID")
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), v.Uint64())

	v, err = m.DispatchRead(nil, simpleIOLD, "LLN0$GO$gcbEvents$DatSet")
	require.NoError(t, err)
	assert.Equal(t, simpleIOLD+"/LLN0$Events", v.StringValue())

	v, err = m.DispatchRead(nil, simpleIOLD, "LLN0$GO$gcbEvents$NdsCom")
	require.NoError(t, err)
	assert.False(t, v.Bool())

	v, err = m.DispatchRead(nil, simpleIOLD, "LLN0$GO$gcbEvents")
	require.NoError(t, err)
	assert.Len(t, v.Elements(), 9)

	v, err = m.DispatchRead(nil, simpleIOLD, "LLN0$GO")
	require.NoError(t, err)
	assert.Len(t, v.Elements(), 2)

	_, err = m.DispatchRead(nil, simpleIOLD, "LLN0$GO$gcbEvents$Nope")
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT, AccessError(err))
}

func TestDispatchWriteDataAttribute(t *testing.T) {
	env := newTestEnv(t)
	m := env.m
	vendor := node(t, m, simpleIOLD+"/GGIO1.NamPlt.vendor")

	require.NoError(t, m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt$vendor", NewVisibleStringValue("ACME")))
	assert.Equal(t, "ACME", vendor.Value().StringValue())

	err := m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt$vendor", NewIntegerValue(7))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID, AccessError(err))
	assert.Equal(t, "ACME", vendor.Value().StringValue())

	err = m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt$nothing", NewVisibleStringValue("x"))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID, AccessError(err))

	err = m.DispatchWrite(nil, simpleIOLD, "GGIO1$ST$SPCSO1$stVal", NewBooleanValue(true))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, AccessError(err))

	require.NoError(t, m.DispatchWrite(nil, simpleIOLD, "GGIO1$CF$SPCSO1$ctlModel", NewIntegerValue(4)))
	assert.Equal(t, int64(4), node(t, m, simpleIOLD+"/GGIO1.SPCSO1.ctlModel").Value().Int64())
}

func TestWriteAccessPolicy(t *testing.T) {
	env := newTestEnv(t)
	m := env.m
	vendor := node(t, m, simpleIOLD+"/GGIO1.NamPlt.vendor")

	require.NoError(t, m.SetWriteAccessPolicy(FC_DC, ACCESS_POLICY_DENY))
	err := m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt$vendor", NewVisibleStringValue("ACME"))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, AccessError(err))
	assert.Equal(t, "MZ Automation", vendor.Value().StringValue())

	require.NoError(t, m.SetWriteAccessPolicy(FC_DC, ACCESS_POLICY_ALLOW))
	require.NoError(t, m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt$vendor", NewVisibleStringValue("ACME")))

	assert.ErrorIs(t, m.SetWriteAccessPolicy(FC_ST, ACCESS_POLICY_ALLOW), ErrInvalidModel)
}

func TestObserversRunOnEveryWrite(t *testing.T) {
	env := newTestEnv(t)
	m := env.m
	vendor := node(t, m, simpleIOLD+"/GGIO1.NamPlt.vendor")

	var calls []*ModelNode
	require.NoError(t, m.RegisterObserver(vendor, func(da *ModelNode) {
		calls = append(calls, da)
	}))

	require.NoError(t, m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt$vendor", NewVisibleStringValue("ACME")))
	require.Len(t, calls, 1)
	assert.Same(t, vendor, calls[0])

	// Writing the same value again still notifies.
	require.NoError(t, m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt$vendor", NewVisibleStringValue("ACME")))
	require.Len(t, calls, 2)
	assert.Same(t, vendor, calls[1])

	// A rejected write does not.
	err := m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt$vendor", NewBooleanValue(true))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID, AccessError(err))
	assert.Len(t, calls, 2)

	// A write of the enclosing structure reaches observers of its members.
	whole := NewStructureValue(NewVisibleStringValue("Other"), NewVisibleStringValue("2.0"), NewVisibleStringValue("io"))
	require.NoError(t, m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt", whole))
	assert.Len(t, calls, 3)
	assert.Equal(t, "Other", vendor.Value().StringValue())

	// Writes to unrelated attributes do not.
	require.NoError(t, m.DispatchWrite(nil, simpleIOLD, "GGIO1$DC$NamPlt$swRev", NewVisibleStringValue("3.0")))
	assert.Len(t, calls, 3)

	assert.ErrorIs(t, m.RegisterObserver(node(t, m, simpleIOLD+"/GGIO1.NamPlt"), func(*ModelNode) {}), ErrInvalidModel)
}

func TestDispatchControlObjects(t *testing.T) {
	env := newTestEnv(t)
	m := env.m
	conn := NewServerConnection("10.0.0.5:40000")

	_, err := m.DispatchRead(conn, simpleIOLD, "GGIO1$CO$SPCSO1$Oper")
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, AccessError(err))

	var operated []string
	m.SetControlHandler(NewDirectControlHandler(m, func(do *ModelNode, ctlVal *MmsValue) error {
		operated = append(operated, do.Name)
		if do.Name == "SPCSO4" {
			return errors.New("blocked")
		}
		return m.UpdateBooleanAttributeValue(do.GetChild("stVal"), ctlVal.Bool())
	}))

	oper, err := m.DispatchRead(conn, simpleIOLD, "GGIO1$CO$SPCSO1$Oper")
	require.NoError(t, err)
	require.Len(t, oper.Elements(), 6)
	oper.Element(0).Value = true

	require.NoError(t, m.DispatchWrite(conn, simpleIOLD, "GGIO1$CO$SPCSO1$Oper", oper))
	assert.Equal(t, []string{"SPCSO1"}, operated)
	assert.True(t, node(t, m, simpleIOLD+"/GGIO1.SPCSO1.stVal").Value().Bool())
	assert.True(t, node(t, m, simpleIOLD+"/GGIO1.SPCSO1.Oper.ctlVal").Value().Bool())

	err = m.DispatchWrite(conn, simpleIOLD, "GGIO1$CO$SPCSO1$Oper$ctlVal", NewBooleanValue(false))
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, AccessError(err))

	err = m.DispatchWrite(conn, simpleIOLD, "GGIO1$CO$SPCSO1$Oper", NewBooleanValue(false))
	assert.Equal(t, DATA_ACCESS_ERROR_TYPE_INCONSISTENT, AccessError(err))

	err = m.DispatchWrite(conn, simpleIOLD, "GGIO1$CO$SPCSO9$Oper", oper)
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT, AccessError(err))

	err = m.DispatchWrite(conn, simpleIOLD, "GGIO1$CO$SPCSO4$Oper", oper)
	assert.Equal(t, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, AccessError(err))
	assert.False(t, node(t, m, simpleIOLD+"/GGIO1.SPCSO4.stVal").Value().Bool())
}

func TestAccessError(t *testing.T) {
	assert.Equal(t, DATA_ACCESS_ERROR_SUCCESS, AccessError(nil))
	assert.Equal(t, DATA_ACCESS_ERROR_UNKNOWN, AccessError(errors.New("plain")))
	assert.Equal(t, DATA_ACCESS_ERROR_HARDWARE_FAULT, AccessError(DATA_ACCESS_ERROR_HARDWARE_FAULT))
}
