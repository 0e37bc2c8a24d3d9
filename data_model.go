package iec61850

import (
	"fmt"
	"strings"
)

type ModelNodeType int

const (
	LogicalDeviceModelType ModelNodeType = iota
	LogicalNodeModelType
	DataObjectModelType
	DataAttributeModelType
)

func (t ModelNodeType) String() string {
	switch t {
	case LogicalDeviceModelType:
		return "LD"
	case LogicalNodeModelType:
		return "LN"
	case DataObjectModelType:
		return "DO"
	case DataAttributeModelType:
		return "DA"
	default:
		return fmt.Sprintf("ModelNodeType(%d)", int(t))
	}
}

// DAType is the primitive type tag of a data attribute.
type DAType int

const (
	DA_TYPE_BOOLEAN DAType = iota
	DA_TYPE_INT8
	DA_TYPE_INT16
	DA_TYPE_INT32
	DA_TYPE_INT64
	DA_TYPE_INT128
	DA_TYPE_INT8U
	DA_TYPE_INT16U
	DA_TYPE_INT24U
	DA_TYPE_INT32U
	DA_TYPE_FLOAT32
	DA_TYPE_FLOAT64
	DA_TYPE_ENUMERATED
	DA_TYPE_OCTET_STRING_64
	DA_TYPE_OCTET_STRING_6
	DA_TYPE_OCTET_STRING_8
	DA_TYPE_VISIBLE_STRING_32
	DA_TYPE_VISIBLE_STRING_64
	DA_TYPE_VISIBLE_STRING_65
	DA_TYPE_VISIBLE_STRING_129
	DA_TYPE_VISIBLE_STRING_255
	DA_TYPE_UNICODE_STRING_255
	DA_TYPE_TIMESTAMP
	DA_TYPE_QUALITY
	DA_TYPE_CHECK
	DA_TYPE_CODEDENUM
	DA_TYPE_GENERIC_BITSTRING
	DA_TYPE_CONSTRUCTED
	DA_TYPE_ENTRY_TIME
	DA_TYPE_PHYCOMADDR
)

var daTypeNames = map[DAType]string{
	DA_TYPE_BOOLEAN:            "BOOLEAN",
	DA_TYPE_INT8:               "INT8",
	DA_TYPE_INT16:              "INT16",
	DA_TYPE_INT32:              "INT32",
	DA_TYPE_INT64:              "INT64",
	DA_TYPE_INT128:             "INT128",
	DA_TYPE_INT8U:              "INT8U",
	DA_TYPE_INT16U:             "INT16U",
	DA_TYPE_INT24U:             "INT24U",
	DA_TYPE_INT32U:             "INT32U",
	DA_TYPE_FLOAT32:            "FLOAT32",
	DA_TYPE_FLOAT64:            "FLOAT64",
	DA_TYPE_ENUMERATED:         "ENUMERATED",
	DA_TYPE_OCTET_STRING_64:    "OCTET_STRING_64",
	DA_TYPE_OCTET_STRING_6:     "OCTET_STRING_6",
	DA_TYPE_OCTET_STRING_8:     "OCTET_STRING_8",
	DA_TYPE_VISIBLE_STRING_32:  "VISIBLE_STRING_32",
	DA_TYPE_VISIBLE_STRING_64:  "VISIBLE_STRING_64",
	DA_TYPE_VISIBLE_STRING_65:  "VISIBLE_STRING_65",
	DA_TYPE_VISIBLE_STRING_129: "VISIBLE_STRING_129",
	DA_TYPE_VISIBLE_STRING_255: "VISIBLE_STRING_255",
	DA_TYPE_UNICODE_STRING_255: "UNICODE_STRING_255",
	DA_TYPE_TIMESTAMP:          "TIMESTAMP",
	DA_TYPE_QUALITY:            "QUALITY",
	DA_TYPE_CHECK:              "CHECK",
	DA_TYPE_CODEDENUM:          "CODEDENUM",
	DA_TYPE_GENERIC_BITSTRING:  "GENERIC_BITSTRING",
	DA_TYPE_CONSTRUCTED:        "CONSTRUCTED",
	DA_TYPE_ENTRY_TIME:         "ENTRY_TIME",
	DA_TYPE_PHYCOMADDR:         "PHYCOMADDR",
}

func (t DAType) String() string {
	if s, ok := daTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("DAType(%d)", int(t))
}

// ParseDAType looks up a type tag by its name, e.g. "FLOAT32".
func ParseDAType(s string) (DAType, bool) {
	for t, name := range daTypeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// ModelNode is a node of the IEC 61850 data model tree. Children keep their
// declaration order, which is also the element order of the compiled MMS
// structures. The parent pointer is a back reference only; children are owned
// by their parent's child list.
type ModelNode struct {
	Type ModelNodeType
	Name string

	parent   *ModelNode
	children []*ModelNode

	// Data attribute only
	DAType       DAType
	FC           FC
	ElementCount int // > 0 declares an array attribute

	value *MmsValue
}

// IedModel is the static server data model: the logical device tree plus the
// data set and control block declarations compiled alongside it.
type IedModel struct {
	Name string

	devices             []*ModelNode
	dataSets            []*DataSetDecl
	reportControlBlocks []*ReportControlBlockDecl
	gseControlBlocks    []*GSEControlBlockDecl
}

func NewIedModel(name string) *IedModel {
	return &IedModel{Name: name}
}

func (m *IedModel) AddLogicalDevice(name string) *ModelNode {
	ld := &ModelNode{Type: LogicalDeviceModelType, Name: name}
	m.devices = append(m.devices, ld)
	return ld
}

func (m *IedModel) LogicalDevices() []*ModelNode {
	return m.devices
}

func (m *IedModel) GetLogicalDevice(name string) *ModelNode {
	for _, ld := range m.devices {
		if ld.Name == name {
			return ld
		}
	}
	return nil
}

// GetModelNodeByObjectReference resolves "LD/LN.DO.DA" style references.
func (m *IedModel) GetModelNodeByObjectReference(ref string) *ModelNode {
	ldName, rest, ok := strings.Cut(ref, "/")
	if !ok {
		return nil
	}
	node := m.GetLogicalDevice(ldName)
	if node == nil || rest == "" {
		return node
	}
	for _, part := range strings.Split(rest, ".") {
		node = node.GetChild(part)
		if node == nil {
			return nil
		}
	}
	return node
}

func (m *IedModel) DataSets() []*DataSetDecl {
	return m.dataSets
}

func (m *IedModel) ReportControlBlocks() []*ReportControlBlockDecl {
	return m.reportControlBlocks
}

func (m *IedModel) GSEControlBlocks() []*GSEControlBlockDecl {
	return m.gseControlBlocks
}

func (n *ModelNode) addChild(c *ModelNode) *ModelNode {
	c.parent = n
	n.children = append(n.children, c)
	return c
}

func (n *ModelNode) AddLogicalNode(name string) *ModelNode {
	return n.addChild(&ModelNode{Type: LogicalNodeModelType, Name: name})
}

func (n *ModelNode) AddDataObject(name string) *ModelNode {
	return n.addChild(&ModelNode{Type: DataObjectModelType, Name: name})
}

// AddDataAttribute adds an attribute with the given type and constraint. A
// DA_TYPE_CONSTRUCTED attribute gets its members through further
// AddDataAttribute calls.
func (n *ModelNode) AddDataAttribute(name string, t DAType, fc FC) *ModelNode {
	return n.addChild(&ModelNode{Type: DataAttributeModelType, Name: name, DAType: t, FC: fc})
}

// AddArrayDataAttribute adds an array attribute of count elements of type t.
func (n *ModelNode) AddArrayDataAttribute(name string, t DAType, fc FC, count int) *ModelNode {
	da := n.AddDataAttribute(name, t, fc)
	da.ElementCount = count
	return da
}

// SetValue installs the initial value cell of a leaf attribute. Compile keeps
// this cell, so references taken before compile stay valid.
func (n *ModelNode) SetValue(v *MmsValue) *ModelNode {
	n.value = v
	return n
}

// Value returns the value cell bound to a data attribute, nil before compile
// or for logical devices, logical nodes and data objects.
func (n *ModelNode) Value() *MmsValue {
	return n.value
}

func (n *ModelNode) Parent() *ModelNode {
	return n.parent
}

func (n *ModelNode) Children() []*ModelNode {
	return n.children
}

func (n *ModelNode) GetChild(name string) *ModelNode {
	for _, c := range n.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (n *ModelNode) IsArray() bool {
	return n.ElementCount > 0
}

// LogicalDevice returns the logical device the node belongs to.
func (n *ModelNode) LogicalDevice() *ModelNode {
	for p := n; p != nil; p = p.parent {
		if p.Type == LogicalDeviceModelType {
			return p
		}
	}
	return nil
}

// LogicalNode returns the logical node the node belongs to.
func (n *ModelNode) LogicalNode() *ModelNode {
	for p := n; p != nil; p = p.parent {
		if p.Type == LogicalNodeModelType {
			return p
		}
	}
	return nil
}

// ObjectReference renders the node as "LD/LN.DO.DA".
func (n *ModelNode) ObjectReference() string {
	if n.Type == LogicalDeviceModelType {
		return n.Name
	}
	var parts []string
	p := n
	for ; p != nil && p.Type != LogicalDeviceModelType; p = p.parent {
		parts = append(parts, p.Name)
	}
	var b strings.Builder
	if p != nil {
		b.WriteString(p.Name)
		b.WriteString("/")
	}
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString(parts[i])
		if i > 0 {
			b.WriteString(".")
		}
	}
	return b.String()
}

// hasChildWithFC reports whether the subtree below n contains an attribute
// with the given constraint.
func (n *ModelNode) hasChildWithFC(fc FC) bool {
	for _, c := range n.children {
		switch c.Type {
		case DataAttributeModelType:
			if c.FC == fc {
				return true
			}
		case DataObjectModelType:
			if c.hasChildWithFC(fc) {
				return true
			}
		}
	}
	return false
}

// PhyComAddress is the destination of a GOOSE publisher.
type PhyComAddress struct {
	Addr     [6]byte
	Priority uint8
	VID      uint16
	AppID    uint16
}

// DataSetEntryDecl references one data set member. VariableName is the flat
// MMS name within LogicalDevice ("GGIO1$MX$AnIn1$mag$f"). Index selects an
// array element when >= 0, ComponentName a '$' separated path inside it.
type DataSetEntryDecl struct {
	LogicalDevice string
	VariableName  string
	Index         int
	ComponentName string
}

// DataSetDecl is a statically configured data set hosted by a logical node.
type DataSetDecl struct {
	Parent  *ModelNode
	Name    string
	Entries []DataSetEntryDecl
}

// AddEntry appends a member given by object reference and functional constraint.
func (d *DataSetDecl) AddEntry(objectRef string, fc FC) error {
	item, err := MmsVariableNameFromObjectReference(objectRef, fc)
	if err != nil {
		return fmt.Errorf("data set %s entry %q: %w", d.Name, objectRef, err)
	}
	domain, ok := DomainFromObjectReference(objectRef)
	if !ok && d.Parent != nil {
		if ld := d.Parent.LogicalDevice(); ld != nil {
			domain = ld.Name
		}
	}
	d.Entries = append(d.Entries, DataSetEntryDecl{LogicalDevice: domain, VariableName: item, Index: -1})
	return nil
}

func (m *IedModel) AddDataSet(parent *ModelNode, name string) *DataSetDecl {
	ds := &DataSetDecl{Parent: parent, Name: name}
	m.dataSets = append(m.dataSets, ds)
	return ds
}

// ReportControlBlockDecl is the static configuration of a report control block.
type ReportControlBlockDecl struct {
	Parent   *ModelNode
	Name     string
	RptID    string
	Buffered bool
	DataSet  string // data set name within the parent logical node
	ConfRev  uint32
	TrgOps   TrgOps
	OptFlds  OptFlds
	BufTm    uint32 // ms
	IntgPd   uint32 // ms
}

func (m *IedModel) AddReportControlBlock(rcb *ReportControlBlockDecl) *ReportControlBlockDecl {
	m.reportControlBlocks = append(m.reportControlBlocks, rcb)
	return rcb
}

// GSEControlBlockDecl is the static configuration of a GOOSE control block.
type GSEControlBlockDecl struct {
	Parent    *ModelNode
	Name      string
	GoID      string
	DataSet   string
	ConfRev   uint32
	FixedOffs bool
	MinTime   uint32 // ms
	MaxTime   uint32 // ms

	dstAddress *PhyComAddress
}

func (m *IedModel) AddGSEControlBlock(gcb *GSEControlBlockDecl) *GSEControlBlockDecl {
	m.gseControlBlocks = append(m.gseControlBlocks, gcb)
	return gcb
}

// DstAddress returns the configured destination or nil if none was set.
func (g *GSEControlBlockDecl) DstAddress() *PhyComAddress {
	return g.dstAddress
}

// dst allocates the destination address on first use.
func (g *GSEControlBlockDecl) dst() *PhyComAddress {
	if g.dstAddress == nil {
		g.dstAddress = &PhyComAddress{}
	}
	return g.dstAddress
}

func (g *GSEControlBlockDecl) SetDstAddressAddr(addr [6]byte) {
	g.dst().Addr = addr
}

func (g *GSEControlBlockDecl) SetDstAddressPriority(priority uint8) {
	g.dst().Priority = priority
}

func (g *GSEControlBlockDecl) SetDstAddressVID(vid uint16) {
	g.dst().VID = vid
}

func (g *GSEControlBlockDecl) SetDstAddressAppID(appID uint16) {
	g.dst().AppID = appID
}
