package iec61850

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DeviceMapping is the MMS view of a compiled IedModel. It owns the value
// cells of the model, the data sets, and the report and GOOSE control blocks,
// and serializes every access to them with a single lock.
type DeviceMapping struct {
	mu     sync.Mutex
	model  *IedModel
	config *ServerConfig
	log    zerolog.Logger
	now    func() time.Time

	domains        []*MmsDomain
	domainIndex    map[string]*MmsDomain
	dataSets       []*DataSet
	reportControls []*ReportControl
	gooseControls  []*GooseControl

	observers         []observer
	writeAccessPolicy map[FC]AccessPolicy

	connections connectionRegistry
	worker      eventWorker
}

// ObserverFunc is called after every successful client write to an observed
// data attribute, a value inside it or a structure enclosing it.
type ObserverFunc func(da *ModelNode)

type observer struct {
	da *ModelNode
	fn ObserverFunc
}

// lnControlBlocks are the control blocks declared on one logical node.
type lnControlBlocks struct {
	brcbs []*ReportControl
	urcbs []*ReportControl
	gocbs []*GooseControl
}

// Compile builds the MMS mapping of model. Logical devices are compiled
// concurrently; the first configuration error aborts the compile. A nil config
// uses NewServerConfig.
func Compile(model *IedModel, config *ServerConfig) (*DeviceMapping, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrInvalidModel)
	}
	if config == nil {
		config = NewServerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	m := &DeviceMapping{
		model:       model,
		config:      config,
		log:         config.getLogger().With().Str("model", model.Name).Logger(),
		now:         config.clock(),
		domainIndex: make(map[string]*MmsDomain, len(model.devices)),
		writeAccessPolicy: map[FC]AccessPolicy{
			FC_SP: ACCESS_POLICY_ALLOW,
			FC_SV: ACCESS_POLICY_ALLOW,
			FC_CF: ACCESS_POLICY_ALLOW,
			FC_DC: ACCESS_POLICY_ALLOW,
		},
	}

	cbs, err := m.createControlBlocks()
	if err != nil {
		return nil, err
	}

	domains := make([]*MmsDomain, len(model.devices))
	eg := errgroup.Group{}
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, ld := range model.devices {
		eg.Go(func() error {
			d, err := compileDomain(ld, cbs)
			if err != nil {
				return err
			}
			domains[i] = d
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for _, d := range domains {
		if _, ok := m.domainIndex[d.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate logical device %s", ErrInvalidModel, d.Name)
		}
		m.domainIndex[d.Name] = d
	}
	m.domains = domains

	for _, decl := range model.dataSets {
		ds, err := buildDataSet(decl, m.domainIndex)
		if err != nil {
			return nil, err
		}
		host := m.domainIndex[ds.LogicalDevice]
		if host == nil {
			return nil, fmt.Errorf("%w: data set %s hosted by unknown logical device", ErrInvalidModel, ds.Reference())
		}
		if host.DataSet(ds.MmsName()) != nil {
			return nil, fmt.Errorf("%w: duplicate data set %s", ErrInvalidModel, ds.Reference())
		}
		host.dataSets = append(host.dataSets, ds)
		m.dataSets = append(m.dataSets, ds)
	}

	if err := m.bindControlBlockDataSets(); err != nil {
		return nil, err
	}

	m.log.Debug().Int("domains", len(m.domains)).Int("dataSets", len(m.dataSets)).
		Int("rcbs", len(m.reportControls)).Int("gocbs", len(m.gooseControls)).Msg("model compiled")
	return m, nil
}

func (m *DeviceMapping) createControlBlocks() (map[*ModelNode]*lnControlBlocks, error) {
	cbs := make(map[*ModelNode]*lnControlBlocks)
	get := func(ln *ModelNode) *lnControlBlocks {
		c := cbs[ln]
		if c == nil {
			c = &lnControlBlocks{}
			cbs[ln] = c
		}
		return c
	}
	for _, decl := range m.model.reportControlBlocks {
		rc, err := newReportControl(decl, &m.mu, m.config.ReportBufferSize, m.log)
		if err != nil {
			return nil, err
		}
		c := get(decl.Parent)
		if rc.Buffered {
			c.brcbs = append(c.brcbs, rc)
		} else {
			c.urcbs = append(c.urcbs, rc)
		}
		m.reportControls = append(m.reportControls, rc)
	}
	for _, decl := range m.model.gseControlBlocks {
		gc, err := newGooseControl(decl, &m.mu, m.log)
		if err != nil {
			return nil, err
		}
		c := get(decl.Parent)
		c.gocbs = append(c.gocbs, gc)
		m.gooseControls = append(m.gooseControls, gc)
	}
	return cbs, nil
}

func (m *DeviceMapping) bindControlBlockDataSets() error {
	for _, rc := range m.reportControls {
		ref := rc.attr("DatSet").StringValue()
		if ref == "" {
			continue
		}
		ds := m.findDataSet(ref)
		if ds == nil {
			return fmt.Errorf("%w: %s references data set %s", ErrDanglingReference, rc.Reference(), ref)
		}
		rc.dataSet = ds
	}
	for _, gc := range m.gooseControls {
		ref := gc.attr("DatSet").StringValue()
		if ref == "" {
			continue
		}
		ds := m.findDataSet(ref)
		if ds == nil {
			return fmt.Errorf("%w: %s references data set %s", ErrDanglingReference, gc.Reference(), ref)
		}
		gc.setDataSet(ds)
	}
	return nil
}

// findDataSet accepts "LD/LN$Name" as well as "LD/LN.Name".
func (m *DeviceMapping) findDataSet(ref string) *DataSet {
	ref = strings.ReplaceAll(ref, ".", "$")
	for _, ds := range m.dataSets {
		if ds.Reference() == ref {
			return ds
		}
	}
	return nil
}

func compileDomain(ld *ModelNode, cbs map[*ModelNode]*lnControlBlocks) (*MmsDomain, error) {
	if ld.Type != LogicalDeviceModelType {
		return nil, fmt.Errorf("%w: %s is not a logical device", ErrInvalidModel, ld.Name)
	}
	d := &MmsDomain{Name: ld.Name, device: ld}
	for _, ln := range ld.children {
		if ln.Type != LogicalNodeModelType {
			return nil, fmt.Errorf("%w: %s %s directly below logical device", ErrInvalidModel, ln.Type, ln.ObjectReference())
		}
		var lcb lnControlBlocks
		if c := cbs[ln]; c != nil {
			lcb = *c
		}
		spec, err := compileLogicalNode(ln, lcb)
		if err != nil {
			return nil, err
		}
		value, err := bindLogicalNode(ln, lcb, &spec)
		if err != nil {
			return nil, err
		}
		d.variables = append(d.variables, spec)
		d.values = append(d.values, value)
	}
	return d, nil
}

// bindLogicalNode builds the value structure of a logical node. Its leaves
// are the value cells of the data attributes and control blocks, so the
// structure shares them instead of copying.
func bindLogicalNode(ln *ModelNode, cbs lnControlBlocks, spec *MmsVariableSpec) (*MmsValue, error) {
	elems := make([]*MmsValue, 0, len(spec.Structure.Elements))
	for i := range spec.Structure.Elements {
		fcSpec := &spec.Structure.Elements[i]
		switch fc := FunctionalConstraintFromString(fcSpec.Name); fc {
		case FC_BR:
			elems = append(elems, reportControlValues(cbs.brcbs))
		case FC_RP:
			elems = append(elems, reportControlValues(cbs.urcbs))
		case FC_GO:
			gv := make([]*MmsValue, len(cbs.gocbs))
			for j, gc := range cbs.gocbs {
				gv[j] = gc.values
			}
			elems = append(elems, NewStructureValue(gv...))
		default:
			v, err := bindFC(ln, fc, fcSpec)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
	}
	return NewStructureValue(elems...), nil
}

func reportControlValues(rcs []*ReportControl) *MmsValue {
	v := make([]*MmsValue, len(rcs))
	for i, rc := range rcs {
		v[i] = rc.values
	}
	return NewStructureValue(v...)
}

func bindFC(ln *ModelNode, fc FC, spec *MmsVariableSpec) (*MmsValue, error) {
	elems := make([]*MmsValue, 0, len(spec.Structure.Elements))
	for _, do := range ln.children {
		if !do.hasChildWithFC(fc) {
			continue
		}
		v, err := bindDataObject(do, fc, &spec.Structure.Elements[len(elems)])
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	return NewStructureValue(elems...), nil
}

func bindDataObject(do *ModelNode, fc FC, spec *MmsVariableSpec) (*MmsValue, error) {
	elems := make([]*MmsValue, 0, len(spec.Structure.Elements))
	for _, c := range do.children {
		var (
			v   *MmsValue
			err error
		)
		switch {
		case c.Type == DataAttributeModelType && c.FC == fc:
			v, err = bindDataAttribute(c, &spec.Structure.Elements[len(elems)])
		case c.Type == DataObjectModelType && c.hasChildWithFC(fc):
			v, err = bindDataObject(c, fc, &spec.Structure.Elements[len(elems)])
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	return NewStructureValue(elems...), nil
}

// bindDataAttribute installs the value cell of da. Constructed attributes get
// a structure of their members' cells. A cell set before compile is kept when
// it has the compiled shape.
func bindDataAttribute(da *ModelNode, spec *MmsVariableSpec) (*MmsValue, error) {
	if spec.Type == Structure && len(da.children) > 0 {
		elems := make([]*MmsValue, len(da.children))
		for i, c := range da.children {
			v, err := bindDataAttribute(c, &spec.Structure.Elements[i])
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		da.value = NewStructureValue(elems...)
		return da.value, nil
	}
	if da.value != nil {
		if !conformsTo(da.value, spec) {
			return nil, fmt.Errorf("%w: initial value of %s is not %s", ErrTypeMismatch, da.ObjectReference(), spec)
		}
		return da.value, nil
	}
	da.value = NewDefaultValue(spec)
	return da.value, nil
}

// Model returns the compiled model.
func (m *DeviceMapping) Model() *IedModel {
	return m.model
}

func (m *DeviceMapping) Domains() []*MmsDomain {
	return m.domains
}

// Domain returns the domain of a logical device, or nil.
func (m *DeviceMapping) Domain(name string) *MmsDomain {
	return m.domainIndex[name]
}

func (m *DeviceMapping) DataSets() []*DataSet {
	return m.dataSets
}

// DataSet returns a data set by reference ("LD/LLN0$Events" or "LD/LLN0.Events").
func (m *DeviceMapping) DataSet(ref string) *DataSet {
	return m.findDataSet(ref)
}

func (m *DeviceMapping) ReportControls() []*ReportControl {
	return m.reportControls
}

func (m *DeviceMapping) GooseControls() []*GooseControl {
	return m.gooseControls
}

// ReportControl looks up a report control block by domain, logical node and name.
func (m *DeviceMapping) ReportControl(domain, ln, name string) *ReportControl {
	for _, rc := range m.reportControls {
		if rc.LogicalDevice == domain && rc.LogicalNode == ln && rc.Name == name {
			return rc
		}
	}
	return nil
}

// GooseControl looks up a GOOSE control block by domain, logical node and name.
func (m *DeviceMapping) GooseControl(domain, ln, name string) *GooseControl {
	for _, gc := range m.gooseControls {
		if gc.LogicalDevice == domain && gc.LogicalNode == ln && gc.Name == name {
			return gc
		}
	}
	return nil
}

// SetWriteAccessPolicy sets whether clients may write attributes of a writable
// functional constraint (SP, SV, CF, DC).
func (m *DeviceMapping) SetWriteAccessPolicy(fc FC, policy AccessPolicy) error {
	if !fc.IsWritable() {
		return fmt.Errorf("%w: FC %s is not writable", ErrInvalidModel, fc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeAccessPolicy[fc] = policy
	return nil
}

// RegisterObserver calls fn after every client write that changes the value
// of da, a value inside it, or a value containing it.
func (m *DeviceMapping) RegisterObserver(da *ModelNode, fn ObserverFunc) error {
	if da == nil || da.Type != DataAttributeModelType || da.value == nil {
		return fmt.Errorf("%w: observer needs a compiled data attribute", ErrInvalidModel)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer{da: da, fn: fn})
	return nil
}

func (m *DeviceMapping) matchingObservers(v *MmsValue) []observer {
	var out []observer
	for _, o := range m.observers {
		if containsValue(o.da.value, v) || containsValue(v, o.da.value) {
			out = append(out, o)
		}
	}
	return out
}

// triggerControls runs the trigger engine for a changed cell. It must be
// called with the lock held and returns the reports to send after unlocking.
func (m *DeviceMapping) triggerControls(v *MmsValue, reason ReasonForInclusion, now time.Time) []outgoingReport {
	var out []outgoingReport
	for _, rc := range m.reportControls {
		if !rc.enabled() || rc.dataSet == nil {
			continue
		}
		if idx, ok := rc.dataSet.IsMemberValue(v); ok {
			out = append(out, rc.valueUpdated(idx, reason, now)...)
		}
	}
	if reason == REASON_DATA_UPDATE {
		return out
	}
	for _, gc := range m.gooseControls {
		if !gc.IsEnabled() || gc.dataSet == nil {
			continue
		}
		if _, ok := gc.dataSet.IsMemberValue(v); ok {
			gc.observedChange()
		}
	}
	return out
}

// NotifyValueChanged tells the mapping that the application modified the
// value cell v directly. Reports and GOOSE messages are scheduled as for
// UpdateAttributeValue.
func (m *DeviceMapping) NotifyValueChanged(v *MmsValue, reason ReasonForInclusion) {
	m.mu.Lock()
	out := m.triggerControls(v, reason, m.now())
	m.mu.Unlock()
	m.sendReports(out)
}

// UpdateAttributeValue copies value into the cell of da and runs the trigger
// engine with data-change (quality-change for quality attributes) when the
// value differs, data-update otherwise.
func (m *DeviceMapping) UpdateAttributeValue(da *ModelNode, value *MmsValue) error {
	if da == nil {
		return fmt.Errorf("%w: nil data attribute", ErrInvalidModel)
	}
	m.mu.Lock()
	cell := da.value
	if cell == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s has no value", ErrInvalidModel, da.ObjectReference())
	}
	changed := !cell.Equal(value)
	if err := cell.Update(value); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("update %s: %w", da.ObjectReference(), err)
	}
	reason := REASON_DATA_UPDATE
	if changed {
		reason = REASON_DATA_CHANGE
		if da.DAType == DA_TYPE_QUALITY {
			reason = REASON_QUALITY_CHANGE
		}
	}
	out := m.triggerControls(cell, reason, m.now())
	m.mu.Unlock()
	m.sendReports(out)
	return nil
}

func (m *DeviceMapping) UpdateBooleanAttributeValue(da *ModelNode, value bool) error {
	return m.UpdateAttributeValue(da, NewBooleanValue(value))
}

func (m *DeviceMapping) UpdateInt32AttributeValue(da *ModelNode, value int32) error {
	return m.UpdateAttributeValue(da, NewIntegerValue(int64(value)))
}

func (m *DeviceMapping) UpdateFloatAttributeValue(da *ModelNode, value float32) error {
	return m.UpdateAttributeValue(da, NewFloatValue(float64(value)))
}

func (m *DeviceMapping) UpdateUTCTimeAttributeValue(da *ModelNode, t time.Time) error {
	return m.UpdateAttributeValue(da, NewUTCTimeValue(uint64(t.UnixMilli())))
}

func (m *DeviceMapping) UpdateVisibleStringAttributeValue(da *ModelNode, value string) error {
	return m.UpdateAttributeValue(da, NewVisibleStringValue(value))
}

// UpdateQuality sets a quality attribute from its bit mask.
func (m *DeviceMapping) UpdateQuality(da *ModelNode, quality uint32) error {
	if da != nil && da.DAType != DA_TYPE_QUALITY {
		return fmt.Errorf("%w: %s is not a quality attribute", ErrTypeMismatch, da.ObjectReference())
	}
	return m.UpdateAttributeValue(da, NewBitStringValue(quality))
}

// EnableAllGoosePublishing enables every GOOSE control block that has a data set.
func (m *DeviceMapping) EnableAllGoosePublishing() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var errs []error
	for _, gc := range m.gooseControls {
		if err := gc.enable(now); err != nil {
			errs = append(errs, fmt.Errorf("enable %s: %w", gc.Reference(), err))
		}
	}
	return errors.Join(errs...)
}

// readCell returns a copy of the value at domain/itemID, or nil.
func (m *DeviceMapping) readCell(domain, itemID string) *MmsValue {
	d := m.domainIndex[domain]
	if d == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return d.Value(itemID).Clone()
}

// writeCell updates the value at domain/itemID without running the trigger engine.
func (m *DeviceMapping) writeCell(domain, itemID string, value *MmsValue) error {
	d := m.domainIndex[domain]
	if d == nil {
		return DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cell := d.Value(itemID)
	if cell == nil {
		return DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT
	}
	if err := cell.Update(value); err != nil {
		return fmt.Errorf("%s/%s: %w", domain, itemID, DATA_ACCESS_ERROR_TYPE_INCONSISTENT)
	}
	return nil
}

// sendReports hands reports to the ReportSender. It must be called without
// the lock held. Buffered reports that could not be sent are delivered again
// on the next enable or resync.
func (m *DeviceMapping) sendReports(out []outgoingReport) {
	if len(out) == 0 {
		return
	}
	sender := m.config.ReportSender
	if sender == nil {
		return
	}
	for _, o := range out {
		if err := sender.SendReport(o.conn, o.report); err != nil {
			m.log.Warn().Err(err).Str("rcb", o.rc.Reference()).Uint32("sqNum", o.report.SqNum).Msg("sending report")
			if o.rc.Buffered {
				m.mu.Lock()
				o.rc.buffer.markUnsent(o.report.EntryID)
				m.mu.Unlock()
			}
		}
	}
}

func (m *DeviceMapping) publishGoose(msgs []*GooseMessage) {
	publisher := m.config.GoosePublisher
	if publisher == nil {
		return
	}
	for _, msg := range msgs {
		if err := publisher.Publish(msg); err != nil {
			m.log.Warn().Err(err).Str("gocb", msg.GoCBRef).Uint32("stNum", msg.StNum).Msg("publishing GOOSE message")
		}
	}
}
