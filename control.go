package iec61850

import (
	"fmt"
)

// ControlObjectHandler handles accesses to controllable data objects (FC CO).
// Select-before-operate and the control state machine live behind this
// interface. It is called without the mapping lock held, so it may update
// attribute values through the mapping.
type ControlObjectHandler interface {
	ReadAccessControlObject(conn *ServerConnection, domain, itemID string) (*MmsValue, error)
	WriteAccessControlObject(conn *ServerConnection, domain, itemID string, value *MmsValue) error
}

// OperateHandler is called with the data object and the control value of an
// accepted Oper write.
type OperateHandler func(do *ModelNode, ctlVal *MmsValue) error

// DirectControlHandler implements direct control with normal security: a
// write of the whole Oper structure is passed to OnOperate and stored in the
// CO cell. Other writes are denied.
type DirectControlHandler struct {
	mapping   *DeviceMapping
	OnOperate OperateHandler
}

func NewDirectControlHandler(m *DeviceMapping, onOperate OperateHandler) *DirectControlHandler {
	return &DirectControlHandler{mapping: m, OnOperate: onOperate}
}

func (h *DirectControlHandler) ReadAccessControlObject(_ *ServerConnection, domain, itemID string) (*MmsValue, error) {
	v := h.mapping.readCell(domain, itemID)
	if v == nil {
		return nil, DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT
	}
	return v, nil
}

func (h *DirectControlHandler) WriteAccessControlObject(conn *ServerConnection, domain, itemID string, value *MmsValue) error {
	id, err := ParseFlattenedID(itemID)
	if err != nil || id.FC != FC_CO || id.Attribute != "Oper" || id.ObjectPath == "" {
		return DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED
	}
	do := h.mapping.model.GetModelNodeByObjectReference(domain + "/" + id.LogicalNode + "." + id.ObjectPath)
	if do == nil || do.Type != DataObjectModelType {
		return DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT
	}
	if value == nil || value.Type != Structure || len(value.Elements()) == 0 {
		return DATA_ACCESS_ERROR_TYPE_INCONSISTENT
	}
	if err := h.mapping.writeCell(domain, itemID, value); err != nil {
		return err
	}
	ctlVal := value.Element(0)
	if h.OnOperate != nil {
		if err := h.OnOperate(do, ctlVal); err != nil {
			h.mapping.log.Debug().Err(err).Str("object", do.ObjectReference()).Msg("operate rejected")
			return fmt.Errorf("operate %s: %w", do.ObjectReference(), DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED)
		}
	}
	h.mapping.log.Info().Str("object", do.ObjectReference()).Str("connection", conn.String()).
		Str("ctlVal", ctlVal.String()).Msg("operate")
	return nil
}
