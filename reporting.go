package iec61850

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// RCB states and the events moving between them.
const (
	RCBStateDisabled = "disabled"
	RCBStateIdle     = "idle"
	RCBStatePending  = "pending"

	rcbEventEnable  = "enable"
	rcbEventTrigger = "trigger"
	rcbEventFlush   = "flush"
	rcbEventDisable = "disable"
)

// Report is one report instance handed to the ReportSender.
type Report struct {
	RptID       string
	DataSetRef  string
	OptFlds     OptFlds
	ConfRev     uint32
	SqNum       uint32
	EntryID     []byte
	TimeOfEntry time.Time
	BufOvfl     bool
	Entries     []ReportEntry
}

// ReportEntry is an included data set member with a snapshot of its value.
type ReportEntry struct {
	Index     int
	Reference string
	Value     *MmsValue
	Reason    ReasonForInclusion
}

// ReportSender delivers reports to a client. It is implemented by the
// transport layer and called without any mapping lock held.
type ReportSender interface {
	SendReport(conn *ServerConnection, report *Report) error
}

// ReportSenderFunc adapts a function to ReportSender.
type ReportSenderFunc func(conn *ServerConnection, report *Report) error

func (f ReportSenderFunc) SendReport(conn *ServerConnection, report *Report) error {
	return f(conn, report)
}

type outgoingReport struct {
	rc     *ReportControl
	conn   *ServerConnection
	report *Report
}

// ReportControl is the runtime state of a buffered or unbuffered report
// control block. All methods except the exported accessors expect the
// mapping lock to be held.
type ReportControl struct {
	Name          string
	LogicalDevice string
	LogicalNode   string
	Buffered      bool

	mu      *sync.Mutex
	log     zerolog.Logger
	mmsName string
	spec    MmsVariableSpec
	values  *MmsValue
	state   *fsm.FSM
	dataSet *DataSet

	conn      *ServerConnection
	reserved  bool
	inclusion []ReasonForInclusion
	snapshots []*MmsValue
	buffer    *reportBuffer

	bufTmDeadline time.Time
	nextIntegrity time.Time
}

func urcbSpec(name string) MmsVariableSpec {
	return structureSpec(name, []MmsVariableSpec{
		{Type: VisibleString, Name: "RptID", VisibleStringSize: 129},
		{Type: Boolean, Name: "RptEna"},
		{Type: Boolean, Name: "Resv"},
		{Type: VisibleString, Name: "DatSet", VisibleStringSize: 129},
		{Type: Unsigned, Name: "ConfRev", UnsignedBits: 32},
		{Type: BitString, Name: "OptFlds", BitStringSize: 10},
		{Type: Unsigned, Name: "BufTm", UnsignedBits: 32},
		{Type: Unsigned, Name: "SqNum", UnsignedBits: 8},
		{Type: BitString, Name: "TrgOps", BitStringSize: 6},
		{Type: Unsigned, Name: "IntgPd", UnsignedBits: 32},
		{Type: Boolean, Name: "GI"},
		{Type: OctetString, Name: "Owner", OctetStringSize: 64},
	})
}

func brcbSpec(name string) MmsVariableSpec {
	return structureSpec(name, []MmsVariableSpec{
		{Type: VisibleString, Name: "RptID", VisibleStringSize: 129},
		{Type: Boolean, Name: "RptEna"},
		{Type: VisibleString, Name: "DatSet", VisibleStringSize: 129},
		{Type: Unsigned, Name: "ConfRev", UnsignedBits: 32},
		{Type: BitString, Name: "OptFlds", BitStringSize: 10},
		{Type: Unsigned, Name: "BufTm", UnsignedBits: 32},
		{Type: Unsigned, Name: "SqNum", UnsignedBits: 16},
		{Type: BitString, Name: "TrgOps", BitStringSize: 6},
		{Type: Unsigned, Name: "IntgPd", UnsignedBits: 32},
		{Type: Boolean, Name: "GI"},
		{Type: Boolean, Name: "PurgeBuf"},
		{Type: OctetString, Name: "EntryID", OctetStringSize: 8},
		{Type: BinaryTime, Name: "TimeOfEntry", BinaryTimeSize: 6},
		{Type: OctetString, Name: "Owner", OctetStringSize: 64},
	})
}

// reportControlBlocksSpec builds the BR or RP structure of a logical node.
func reportControlBlocksSpec(fc FC, rcs []*ReportControl) MmsVariableSpec {
	elements := make([]MmsVariableSpec, len(rcs))
	for i, rc := range rcs {
		elements[i] = rc.spec
	}
	return structureSpec(fc.String(), elements)
}

func newReportControl(decl *ReportControlBlockDecl, mu *sync.Mutex, bufferSize int, log zerolog.Logger) (*ReportControl, error) {
	ln := decl.Parent
	if ln == nil || ln.Type != LogicalNodeModelType || ln.LogicalDevice() == nil {
		return nil, fmt.Errorf("%w: report control block %s has no parent logical node", ErrInvalidModel, decl.Name)
	}
	rc := &ReportControl{
		Name:          decl.Name,
		LogicalDevice: ln.LogicalDevice().Name,
		LogicalNode:   ln.Name,
		Buffered:      decl.Buffered,
		mu:            mu,
	}
	fc := FC_RP
	rc.spec = urcbSpec(decl.Name)
	if decl.Buffered {
		fc = FC_BR
		rc.spec = brcbSpec(decl.Name)
		rc.buffer = newReportBuffer(bufferSize)
	}
	rc.mmsName = BuildFlattenedID(ln.Name, fc, "", decl.Name)
	rc.log = log.With().Str("rcb", rc.Reference()).Logger()
	rc.values = NewDefaultValue(&rc.spec)

	rptID := decl.RptID
	if rptID == "" {
		rptID = rc.Reference()
	}
	rc.attr("RptID").Value = rptID
	if decl.DataSet != "" {
		rc.attr("DatSet").Value = rc.LogicalDevice + "/" + ln.Name + "$" + decl.DataSet
	}
	rc.attr("ConfRev").Value = uint64(decl.ConfRev)
	rc.attr("OptFlds").Value = uint32(decl.OptFlds.Mask())
	rc.attr("BufTm").Value = uint64(decl.BufTm)
	rc.attr("TrgOps").Value = uint32(decl.TrgOps.Mask())
	rc.attr("IntgPd").Value = uint64(decl.IntgPd)

	rc.state = fsm.NewFSM(RCBStateDisabled, fsm.Events{
		{Name: rcbEventEnable, Src: []string{RCBStateDisabled}, Dst: RCBStateIdle},
		{Name: rcbEventTrigger, Src: []string{RCBStateIdle}, Dst: RCBStatePending},
		{Name: rcbEventFlush, Src: []string{RCBStatePending}, Dst: RCBStateIdle},
		{Name: rcbEventDisable, Src: []string{RCBStateIdle, RCBStatePending}, Dst: RCBStateDisabled},
	}, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			rc.log.Trace().Str("from", e.Src).Str("to", e.Dst).Msg("rcb state")
		},
	})
	return rc, nil
}

// Reference returns "LD/LN$BR$name" or "LD/LN$RP$name".
func (rc *ReportControl) Reference() string {
	return rc.LogicalDevice + "/" + rc.mmsName
}

// attr returns the cell of a control block attribute or nil.
func (rc *ReportControl) attr(name string) *MmsValue {
	i, _ := rc.spec.element(name)
	return rc.values.Element(i)
}

func (rc *ReportControl) fire(event string) {
	if rc.state.Can(event) {
		if err := rc.state.Event(context.Background(), event); err != nil {
			rc.log.Debug().Err(err).Str("event", event).Msg("rcb transition")
		}
	}
}

func (rc *ReportControl) enabled() bool {
	return rc.state.Current() != RCBStateDisabled
}

func (rc *ReportControl) trgOps() TrgOps {
	return TrgOpsFromMask(int(rc.attr("TrgOps").Uint32()))
}

func (rc *ReportControl) optFlds() OptFlds {
	return OptFldsFromMask(int(rc.attr("OptFlds").Uint32()))
}

func (rc *ReportControl) bufTm() time.Duration {
	return time.Duration(rc.attr("BufTm").Uint64()) * time.Millisecond
}

func (rc *ReportControl) intgPd() time.Duration {
	return time.Duration(rc.attr("IntgPd").Uint64()) * time.Millisecond
}

// State returns the current reporting state.
func (rc *ReportControl) State() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state.Current()
}

func (rc *ReportControl) Enabled() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.enabled()
}

func (rc *ReportControl) Reserved() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.reserved
}

// Connection returns the connection the block is bound to, or nil.
func (rc *ReportControl) Connection() *ServerConnection {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.conn
}

// DataSet returns the data set currently referenced by DatSet.
func (rc *ReportControl) DataSet() *DataSet {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.dataSet
}

// Values returns a snapshot of the control block attributes.
func (rc *ReportControl) Values() *MmsValue {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.values.Clone()
}

func (rc *ReportControl) ownedByOther(conn *ServerConnection) bool {
	return rc.conn != nil && rc.conn != conn
}

func (rc *ReportControl) setOwner(conn *ServerConnection) {
	if conn == nil {
		rc.attr("Owner").Value = []byte{}
		return
	}
	rc.attr("Owner").Value = conn.ownerBytes()
}

func (rc *ReportControl) enable(conn *ServerConnection, now time.Time) ([]outgoingReport, error) {
	if rc.ownedByOther(conn) {
		return nil, DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE
	}
	if rc.enabled() {
		return nil, nil
	}
	if rc.dataSet == nil {
		return nil, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID
	}
	rc.conn = conn
	rc.setOwner(conn)
	rc.attr("RptEna").Value = true
	rc.inclusion = make([]ReasonForInclusion, len(rc.dataSet.Entries))
	rc.snapshots = make([]*MmsValue, len(rc.dataSet.Entries))
	if !rc.Buffered {
		rc.attr("SqNum").Value = uint64(0)
	}
	if pd := rc.intgPd(); pd > 0 {
		rc.nextIntegrity = now.Add(pd)
	}
	rc.fire(rcbEventEnable)
	rc.log.Debug().Str("connection", conn.String()).Msg("rcb enabled")

	if rc.Buffered {
		return rc.deliverBuffered(), nil
	}
	return nil, nil
}

func (rc *ReportControl) disable() {
	rc.fire(rcbEventDisable)
	rc.attr("RptEna").Value = false
	rc.inclusion = nil
	rc.snapshots = nil
	if !rc.reserved {
		rc.conn = nil
		rc.setOwner(nil)
	}
}

// deactivateForConnection releases the block if it is bound to conn.
func (rc *ReportControl) deactivateForConnection(conn *ServerConnection) bool {
	if rc.conn != conn {
		return false
	}
	rc.fire(rcbEventDisable)
	rc.conn = nil
	rc.attr("RptEna").Value = false
	rc.setOwner(nil)
	rc.inclusion = nil
	rc.snapshots = nil
	rc.reserved = false
	if !rc.Buffered {
		rc.attr("Resv").Value = false
	}
	return true
}

// valueUpdated records a change of data set member index together with the
// member's current value. A member that is already pending is reported first
// so no change is lost.
func (rc *ReportControl) valueUpdated(index int, reason ReasonForInclusion, now time.Time) []outgoingReport {
	ops := rc.trgOps()
	if !ops.Includes(reason) {
		if reason != REASON_DATA_CHANGE || !ops.DataUpdate {
			return nil
		}
		reason = REASON_DATA_UPDATE
	}
	var out []outgoingReport
	if rc.inclusion[index] != REASON_NOT_INCLUDED {
		out = rc.flush(now)
	}
	rc.inclusion[index] = reason
	rc.snapshots[index] = rc.dataSet.Entries[index].value.Clone()
	if rc.state.Current() == RCBStateIdle {
		rc.bufTmDeadline = now.Add(rc.bufTm())
		rc.fire(rcbEventTrigger)
	}
	return out
}

func (rc *ReportControl) nextSqNum() uint32 {
	cell := rc.attr("SqNum")
	sq := uint32(cell.Uint64())
	next := sq + 1
	if !rc.Buffered && next > 0xff || next > 0xffff {
		next = 0
	}
	cell.Value = uint64(next)
	return sq
}

// buildReport creates a report of the pending members, or of all members
// with reason all when all is not REASON_NOT_INCLUDED.
func (rc *ReportControl) buildReport(now time.Time, all ReasonForInclusion) *Report {
	r := &Report{
		RptID:       rc.attr("RptID").StringValue(),
		DataSetRef:  rc.dataSet.Reference(),
		OptFlds:     rc.optFlds(),
		ConfRev:     uint32(rc.attr("ConfRev").Uint64()),
		TimeOfEntry: now,
	}
	for i, e := range rc.dataSet.Entries {
		reason := all
		if reason == REASON_NOT_INCLUDED {
			reason = rc.inclusion[i]
		}
		if reason == REASON_NOT_INCLUDED {
			continue
		}
		value := rc.snapshots[i]
		if all != REASON_NOT_INCLUDED || value == nil {
			value = e.value.Clone()
		}
		r.Entries = append(r.Entries, ReportEntry{Index: i, Reference: e.Reference(), Value: value, Reason: reason})
	}
	r.SqNum = rc.nextSqNum()
	return r
}

// emit hands a finished report to the buffer or to the bound connection.
func (rc *ReportControl) emit(r *Report, now time.Time) []outgoingReport {
	if !rc.Buffered {
		if rc.conn == nil {
			return nil
		}
		return []outgoingReport{{rc: rc, conn: rc.conn, report: r}}
	}
	if err := rc.buffer.add(r); err != nil {
		rc.log.Warn().Err(err).Msg("buffering report")
		return nil
	}
	rc.attr("EntryID").Value = append([]byte{}, r.EntryID...)
	rc.attr("TimeOfEntry").Value = uint64(now.UnixMilli())
	if rc.conn == nil || !rc.enabled() {
		return nil
	}
	return rc.deliverBuffered()
}

func (rc *ReportControl) deliverBuffered() []outgoingReport {
	if rc.conn == nil {
		return nil
	}
	reports := rc.buffer.unsent()
	out := make([]outgoingReport, 0, len(reports))
	for _, r := range reports {
		out = append(out, outgoingReport{rc: rc, conn: rc.conn, report: r})
	}
	return out
}

// flush sends the pending members and returns to idle.
func (rc *ReportControl) flush(now time.Time) []outgoingReport {
	if rc.state.Current() != RCBStatePending {
		return nil
	}
	r := rc.buildReport(now, REASON_NOT_INCLUDED)
	for i := range rc.inclusion {
		rc.inclusion[i] = REASON_NOT_INCLUDED
		rc.snapshots[i] = nil
	}
	rc.fire(rcbEventFlush)
	if len(r.Entries) == 0 {
		return nil
	}
	return rc.emit(r, now)
}

// generalReport emits a report of all members, flushing pending ones first.
func (rc *ReportControl) generalReport(now time.Time, reason ReasonForInclusion) []outgoingReport {
	out := rc.flush(now)
	return append(out, rc.emit(rc.buildReport(now, reason), now)...)
}

// processEvents is one worker iteration for this block.
func (rc *ReportControl) processEvents(now time.Time) []outgoingReport {
	if !rc.enabled() {
		return nil
	}
	var out []outgoingReport
	if pd := rc.intgPd(); pd > 0 && rc.trgOps().TriggeredPeriodically && !now.Before(rc.nextIntegrity) {
		out = append(out, rc.generalReport(now, REASON_INTEGRITY)...)
		rc.nextIntegrity = now.Add(pd)
	}
	if rc.state.Current() == RCBStatePending && !now.Before(rc.bufTmDeadline) {
		out = append(out, rc.flush(now)...)
	}
	return out
}

// write handles a client write to one control block attribute.
func (rc *ReportControl) write(conn *ServerConnection, element string, value *MmsValue, now time.Time, dataSets func(ref string) *DataSet) ([]outgoingReport, error) {
	cell := rc.attr(element)
	if cell == nil || strings.Contains(element, "$") {
		return nil, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED
	}
	if value == nil || value.Type != cell.Type {
		return nil, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID
	}

	switch element {
	case "RptEna":
		if value.Bool() {
			return rc.enable(conn, now)
		}
		if rc.ownedByOther(conn) {
			return nil, DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE
		}
		rc.disable()
		return nil, nil
	case "Resv":
		if rc.ownedByOther(conn) {
			return nil, DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE
		}
		if value.Bool() {
			rc.reserved = true
			rc.conn = conn
			rc.setOwner(conn)
		} else {
			if rc.enabled() {
				return nil, DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE
			}
			rc.reserved = false
			rc.conn = nil
			rc.setOwner(nil)
		}
		cell.Value = value.Bool()
		return nil, nil
	case "GI":
		if !rc.enabled() || rc.ownedByOther(conn) {
			return nil, DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE
		}
		if value.Bool() && rc.trgOps().Gi {
			return rc.generalReport(now, REASON_GI), nil
		}
		return nil, nil
	case "ConfRev", "SqNum", "TimeOfEntry", "Owner":
		return nil, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED
	}

	// Configuration attributes can only change while the block is disabled.
	if rc.enabled() || rc.ownedByOther(conn) {
		return nil, DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE
	}
	switch element {
	case "PurgeBuf":
		if value.Bool() {
			rc.buffer.purge()
		}
		return nil, nil
	case "EntryID":
		if !rc.buffer.resync(value.Bytes()) {
			return nil, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID
		}
	case "DatSet":
		ref := value.StringValue()
		var ds *DataSet
		if ref != "" {
			if ds = dataSets(ref); ds == nil {
				return nil, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID
			}
		}
		if ds != rc.dataSet {
			rc.dataSet = ds
			confRev := rc.attr("ConfRev")
			confRev.Value = confRev.Uint64() + 1
			if rc.Buffered {
				rc.buffer.purge()
			}
		}
	}
	if err := cell.Update(value); err != nil {
		return nil, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID
	}
	return nil, nil
}
