package iec61850

import (
	"strconv"
	"strings"
)

// Pretty Stringers with indentation starting at top node "IedModel"

// indent returns a string with two-space indentation repeated level times.
func indent(level int) string {
	if level <= 0 {
		return ""
	}
	return strings.Repeat("  ", level)
}

// String prints the full hierarchical data model followed by the data set
// and control block declarations.
func (m *IedModel) String() string {
	var b strings.Builder
	b.WriteString("IedModel: " + m.Name + "\n")
	for _, ld := range m.devices {
		ld.writeTo(&b, 1)
	}
	for _, ds := range m.dataSets {
		ds.writeTo(&b, 1)
	}
	for _, rc := range m.reportControlBlocks {
		rc.writeTo(&b, 1)
	}
	for _, gc := range m.gseControlBlocks {
		gc.writeTo(&b, 1)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (n *ModelNode) String() string {
	var b strings.Builder
	n.writeTo(&b, 0)
	return strings.TrimRight(b.String(), "\n")
}

func (n *ModelNode) writeTo(b *strings.Builder, level int) {
	b.WriteString(indent(level) + n.Type.String() + ": " + n.Name)
	if n.Type == DataAttributeModelType {
		b.WriteString(" [" + n.FC.String() + "] " + n.DAType.String())
		if n.IsArray() {
			b.WriteString("[" + strconv.Itoa(n.ElementCount) + "]")
		}
		if n.value != nil && len(n.children) == 0 {
			b.WriteString(" = " + n.value.String())
		}
	}
	b.WriteString("\n")
	for _, c := range n.children {
		c.writeTo(b, level+1)
	}
}

func (d *DataSetDecl) writeTo(b *strings.Builder, level int) {
	parent := "?"
	if d.Parent != nil {
		parent = d.Parent.ObjectReference()
	}
	b.WriteString(indent(level) + "DS: " + parent + "." + d.Name + "\n")
	for _, e := range d.Entries {
		b.WriteString(indent(level+1) + e.LogicalDevice + "/" + e.VariableName)
		if e.Index >= 0 {
			b.WriteString("(" + strconv.Itoa(e.Index) + ")")
		}
		if e.ComponentName != "" {
			b.WriteString("$" + e.ComponentName)
		}
		b.WriteString("\n")
	}
}

func (r *ReportControlBlockDecl) writeTo(b *strings.Builder, level int) {
	kind := "URCB"
	if r.Buffered {
		kind = "BRCB"
	}
	b.WriteString(indent(level) + kind + ": " + r.Name + " DataSet=" + r.DataSet +
		" ConfRev=" + strconv.FormatUint(uint64(r.ConfRev), 10) + "\n")
}

func (g *GSEControlBlockDecl) writeTo(b *strings.Builder, level int) {
	b.WriteString(indent(level) + "GoCB: " + g.Name + " GoID=" + g.GoID + " DataSet=" + g.DataSet + "\n")
}
