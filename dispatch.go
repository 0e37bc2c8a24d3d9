package iec61850

import (
	"errors"
	"fmt"
	"strings"
)

// DispatchRead serves an MMS read of itemID in domain. The returned value is
// the live cell for plain data attributes; callers encode it before releasing
// it to the network and must not modify it.
func (m *DeviceMapping) DispatchRead(conn *ServerConnection, domain, itemID string) (*MmsValue, error) {
	token, ok := fcToken(itemID)
	if !ok {
		return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
	}
	fc := FunctionalConstraintFromString(token)

	switch fc {
	case FC_CO:
		handler := m.controlHandler()
		if handler == nil {
			return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
		}
		return handler.ReadAccessControlObject(conn, domain, itemID)
	case FC_GO:
		return m.readGooseControl(domain, itemID)
	case FC_RP, FC_BR:
		return m.readReportControl(domain, itemID)
	}

	d := m.domainIndex[domain]
	if d == nil {
		return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	v := d.Value(itemID)
	if v == nil {
		return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	return v, nil
}

// DispatchWrite serves an MMS write of value to itemID in domain.
func (m *DeviceMapping) DispatchWrite(conn *ServerConnection, domain, itemID string, value *MmsValue) error {
	token, ok := fcToken(itemID)
	if !ok {
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
	}
	fc := FunctionalConstraintFromString(token)

	switch fc {
	case FC_CO:
		handler := m.controlHandler()
		if handler == nil {
			return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
		}
		return handler.WriteAccessControlObject(conn, domain, itemID, value)
	case FC_GO:
		return m.writeGooseControl(domain, itemID, value)
	case FC_RP, FC_BR:
		return m.writeReportControl(conn, domain, itemID, value)
	}

	if !fc.IsWritable() {
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
	}
	return m.writeDataAttribute(domain, itemID, fc, value)
}

// SetControlHandler installs the handler for FC CO accesses. Handlers that
// need the mapping, like DirectControlHandler, are installed after Compile.
func (m *DeviceMapping) SetControlHandler(h ControlObjectHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.ControlHandler = h
}

func (m *DeviceMapping) controlHandler() ControlObjectHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.ControlHandler
}

func (m *DeviceMapping) reject(op, domain, itemID string, code MmsDataAccessError) error {
	m.log.Debug().Str("op", op).Str("domain", domain).Str("item", itemID).Str("result", code.Error()).Msg("access rejected")
	return fmt.Errorf("%s %s/%s: %w", op, domain, itemID, code)
}

func (m *DeviceMapping) writeDataAttribute(domain, itemID string, fc FC, value *MmsValue) error {
	d := m.domainIndex[domain]
	if d == nil {
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}

	m.mu.Lock()
	if m.writeAccessPolicy[fc] == ACCESS_POLICY_DENY {
		m.mu.Unlock()
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
	}
	cell := d.Value(itemID)
	if cell == nil {
		m.mu.Unlock()
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID)
	}
	changed := !cell.Equal(value)
	if err := cell.Update(value); err != nil {
		m.mu.Unlock()
		m.log.Debug().Err(err).Str("domain", domain).Str("item", itemID).Msg("write rejected")
		return fmt.Errorf("write %s/%s: %w", domain, itemID, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID)
	}
	reason := REASON_DATA_UPDATE
	if changed {
		reason = REASON_DATA_CHANGE
	}
	out := m.triggerControls(cell, reason, m.now())
	observers := m.matchingObservers(cell)
	m.mu.Unlock()

	m.sendReports(out)
	for _, o := range observers {
		o.fn(o.da)
	}
	return nil
}

// splitControlBlockItem splits "LN$FC$CBName$Attr$Sub" into the control
// block name and the remaining attribute path, which may be empty.
func splitControlBlockItem(itemID string) (ln, name, attribute string, ok bool) {
	parts := strings.SplitN(itemID, "$", 4)
	if len(parts) < 3 || parts[2] == "" {
		return "", "", "", false
	}
	ln, name = parts[0], parts[2]
	if len(parts) == 4 {
		attribute = parts[3]
	}
	return ln, name, attribute, true
}

func (m *DeviceMapping) readGooseControl(domain, itemID string) (*MmsValue, error) {
	ln, name, attribute, ok := splitControlBlockItem(itemID)
	if !ok {
		return m.readWholeFC(domain, itemID)
	}
	gc := m.GooseControl(domain, ln, name)
	if gc == nil {
		return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := controlBlockComponent(&gc.spec, gc.values, attribute)
	if v == nil {
		return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	return v.Clone(), nil
}

// readWholeFC serves reads of a whole "LN$GO", "LN$RP" or "LN$BR" structure.
func (m *DeviceMapping) readWholeFC(domain, itemID string) (*MmsValue, error) {
	d := m.domainIndex[domain]
	if d == nil {
		return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := d.Value(itemID)
	if v == nil {
		return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	return v.Clone(), nil
}

func controlBlockComponent(spec *MmsVariableSpec, value *MmsValue, attribute string) *MmsValue {
	if attribute == "" {
		return value
	}
	var ok bool
	for _, part := range strings.Split(attribute, "$") {
		spec, value, ok = component(spec, value, part)
		if !ok {
			return nil
		}
	}
	return value
}

func (m *DeviceMapping) writeGooseControl(domain, itemID string, value *MmsValue) error {
	ln, name, attribute, ok := splitControlBlockItem(itemID)
	if !ok || attribute == "" {
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
	}
	gc := m.GooseControl(domain, ln, name)
	if gc == nil {
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if controlBlockComponent(&gc.spec, gc.values, attribute) == nil {
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
	}
	if attribute != "GoEna" || value == nil || value.Type != Boolean {
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID)
	}
	b, isBool := value.Value.(bool)
	if !isBool {
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID)
	}
	if !b {
		gc.disable()
		return nil
	}
	if err := gc.enable(m.now()); err != nil {
		return fmt.Errorf("write %s/%s: %w", domain, itemID, err)
	}
	return nil
}

// findReportControl matches an item against the RCBs of the domain. The item
// must equal the RCB's MMS name or continue it with a '$' separator.
func (m *DeviceMapping) findReportControl(domain, itemID string) (*ReportControl, string) {
	for _, rc := range m.reportControls {
		if rc.LogicalDevice != domain || !strings.HasPrefix(itemID, rc.mmsName) {
			continue
		}
		rest := itemID[len(rc.mmsName):]
		if rest == "" {
			return rc, ""
		}
		if rest[0] == '$' {
			return rc, rest[1:]
		}
	}
	return nil, ""
}

func (m *DeviceMapping) readReportControl(domain, itemID string) (*MmsValue, error) {
	if _, _, _, ok := splitControlBlockItem(itemID); !ok {
		return m.readWholeFC(domain, itemID)
	}
	rc, attribute := m.findReportControl(domain, itemID)
	if rc == nil {
		return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := controlBlockComponent(&rc.spec, rc.values, attribute)
	if v == nil {
		return nil, m.reject("read", domain, itemID, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT)
	}
	return v.Clone(), nil
}

func (m *DeviceMapping) writeReportControl(conn *ServerConnection, domain, itemID string, value *MmsValue) error {
	rc, attribute := m.findReportControl(domain, itemID)
	if rc == nil || attribute == "" {
		return m.reject("write", domain, itemID, DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
	}
	m.mu.Lock()
	out, err := rc.write(conn, attribute, value, m.now(), m.findDataSet)
	m.mu.Unlock()
	m.sendReports(out)
	if err != nil {
		return m.reject("write", domain, itemID, AccessError(err))
	}
	return nil
}

// AccessError extracts the MMS data access error code from an error returned
// by the dispatcher. Errors without a code map to DATA_ACCESS_ERROR_UNKNOWN.
func AccessError(err error) MmsDataAccessError {
	if err == nil {
		return DATA_ACCESS_ERROR_SUCCESS
	}
	var code MmsDataAccessError
	if errors.As(err, &code) {
		return code
	}
	return DATA_ACCESS_ERROR_UNKNOWN
}
