package iec61850

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionClosedReleasesReportControls(t *testing.T) {
	env := newTestEnv(t)
	m := env.m
	conn := NewServerConnection("127.0.0.1:49152")
	m.ConnectionOpened(conn)

	events := m.ReportControl(simpleIOLD, "LLN0", "EventsRCB01")
	analog := m.ReportControl(simpleIOLD, "LLN0", "AnalogValuesRCB01")
	require.NoError(t, m.DispatchWrite(conn, simpleIOLD, eventsRCB+"$Resv", NewBooleanValue(true)))
	env.enableReport(t, conn, eventsRCB)
	env.enableReport(t, conn, analogRCB)

	require.NoError(t, m.UpdateBooleanAttributeValue(node(t, m, simpleIOLD+"/GGIO1.SPCSO1.stVal"), true))
	require.Equal(t, RCBStatePending, events.State())

	m.ConnectionClosed(conn)

	for _, rc := range []*ReportControl{events, analog} {
		assert.Equal(t, RCBStateDisabled, rc.State(), rc.Name)
		assert.False(t, rc.Enabled())
		assert.False(t, rc.Reserved())
		assert.Nil(t, rc.Connection())
	}
	assert.False(t, env.readRCB(t, eventsRCB, "RptEna").Bool())
	assert.False(t, env.readRCB(t, eventsRCB, "Resv").Bool())
	assert.Empty(t, env.readRCB(t, eventsRCB, "Owner").Bytes())

	// The pending change is dropped with the connection.
	env.advance(time.Second)
	assert.Empty(t, env.sender.Reports())

	other := NewServerConnection("10.0.0.9:40000")
	env.enableReport(t, other, eventsRCB)
	assert.Same(t, other, events.Connection())
}

func TestConnectionClosedLeavesOtherConnections(t *testing.T) {
	env := newTestEnv(t)
	m := env.m
	a := NewServerConnection("127.0.0.1:49152")
	b := NewServerConnection("10.0.0.9:40000")
	env.enableReport(t, a, eventsRCB)
	env.enableReport(t, b, analogRCB)

	m.ConnectionClosed(a)
	assert.False(t, m.ReportControl(simpleIOLD, "LLN0", "EventsRCB01").Enabled())
	analog := m.ReportControl(simpleIOLD, "LLN0", "AnalogValuesRCB01")
	assert.True(t, analog.Enabled())
	assert.Same(t, b, analog.Connection())
}

func TestNilConnectionIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	m := env.m
	env.enableReport(t, nil, eventsRCB)

	var events []ConnectionEvent
	m.SetConnectionIndicationHandler(func(_ *ServerConnection, event ConnectionEvent) {
		events = append(events, event)
	})

	require.NotPanics(t, func() {
		m.ConnectionOpened(nil)
		m.ConnectionClosed(nil)
	})
	assert.Empty(t, events)
	assert.Empty(t, m.Connections())

	// Blocks enabled without a client association stay enabled.
	assert.True(t, m.ReportControl(simpleIOLD, "LLN0", "EventsRCB01").Enabled())
	assert.True(t, env.readRCB(t, eventsRCB, "RptEna").Bool())
}

func TestConnectionIndicationHandlers(t *testing.T) {
	env := newTestEnv(t)
	m := env.m

	type indication struct {
		conn  *ServerConnection
		event ConnectionEvent
	}
	var first, second []indication
	id1 := m.SetConnectionIndicationHandler(func(conn *ServerConnection, event ConnectionEvent) {
		first = append(first, indication{conn, event})
	})
	id2 := m.SetConnectionIndicationHandler(func(conn *ServerConnection, event ConnectionEvent) {
		// Control blocks are already released when the handler runs.
		if event == CONNECTION_CLOSED {
			assert.False(t, m.ReportControl(simpleIOLD, "LLN0", "EventsRCB01").Enabled())
		}
		second = append(second, indication{conn, event})
	})
	assert.NotEqual(t, id1, id2)
	assert.Zero(t, m.SetConnectionIndicationHandler(nil))

	conn := NewServerConnection("127.0.0.1:49152")
	m.ConnectionOpened(conn)
	assert.Equal(t, []*ServerConnection{conn}, m.Connections())
	env.enableReport(t, conn, eventsRCB)
	m.ConnectionClosed(conn)
	assert.Empty(t, m.Connections())

	want := []indication{{conn, CONNECTION_OPENED}, {conn, CONNECTION_CLOSED}}
	assert.Equal(t, want, first)
	assert.Equal(t, want, second)

	m.RemoveConnectionIndicationHandler(id1)
	m.ConnectionOpened(conn)
	assert.Len(t, first, 2)
	assert.Len(t, second, 3)
}

func TestServerConnectionOwnerBytes(t *testing.T) {
	assert.Equal(t, []byte{192, 168, 1, 20}, NewServerConnection("192.168.1.20:102").ownerBytes())
	assert.Equal(t, []byte{10, 0, 0, 1}, NewServerConnection("10.0.0.1").ownerBytes())
	assert.Len(t, NewServerConnection("[fe80::1]:102").ownerBytes(), 16)

	c := NewServerConnection("pipe:client-7")
	id := c.ID()
	assert.Equal(t, id[:], c.ownerBytes())
	assert.Equal(t, "pipe:client-7", c.PeerAddress())
	assert.Contains(t, c.String(), id.String())

	var local *ServerConnection
	assert.Equal(t, "local", local.String())
	assert.NotEqual(t, c.ID(), NewServerConnection("pipe:client-7").ID())
}
