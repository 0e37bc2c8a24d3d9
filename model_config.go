package iec61850

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v3"
)

// ModelLoadError is returned when a model description cannot be loaded.
type ModelLoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *ModelLoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ModelLoadError) Unwrap() error {
	return e.Cause
}

// ModelConfig is the YAML description of an IedModel.
type ModelConfig struct {
	Name           string                `yaml:"name" validate:"nonzero"`
	LogicalDevices []LogicalDeviceConfig `yaml:"logicalDevices" validate:"min=1"`
}

type LogicalDeviceConfig struct {
	Name         string              `yaml:"name" validate:"nonzero,regexp=^[A-Za-z][A-Za-z0-9_]*$"`
	LogicalNodes []LogicalNodeConfig `yaml:"logicalNodes" validate:"min=1"`
}

type LogicalNodeConfig struct {
	Name                string                `yaml:"name" validate:"nonzero,regexp=^[A-Za-z][A-Za-z0-9_]*$"`
	DataObjects         []DataObjectConfig    `yaml:"dataObjects"`
	DataSets            []DataSetConfig       `yaml:"dataSets"`
	ReportControlBlocks []ReportControlConfig `yaml:"reportControlBlocks"`
	GSEControlBlocks    []GSEControlConfig    `yaml:"gseControlBlocks"`
}

type DataObjectConfig struct {
	Name        string             `yaml:"name" validate:"nonzero,regexp=^[A-Za-z][A-Za-z0-9_]*$"`
	DataObjects []DataObjectConfig `yaml:"dataObjects"`
	Attributes  []AttributeConfig  `yaml:"attributes"`
}

type AttributeConfig struct {
	Name       string            `yaml:"name" validate:"nonzero,regexp=^[A-Za-z][A-Za-z0-9_]*$"`
	Type       string            `yaml:"type"`
	FC         string            `yaml:"fc"`
	Count      int               `yaml:"count" validate:"min=0"`
	Value      any               `yaml:"value"`
	Attributes []AttributeConfig `yaml:"attributes"`
}

type DataSetConfig struct {
	Name    string               `yaml:"name" validate:"nonzero,regexp=^[A-Za-z][A-Za-z0-9_]*$"`
	Entries []DataSetEntryConfig `yaml:"entries" validate:"min=1"`
}

type DataSetEntryConfig struct {
	Ref       string `yaml:"ref" validate:"nonzero"`
	FC        string `yaml:"fc" validate:"nonzero"`
	Index     *int   `yaml:"index"`
	Component string `yaml:"component"`
}

type ReportControlConfig struct {
	Name     string   `yaml:"name" validate:"nonzero,regexp=^[A-Za-z][A-Za-z0-9_]*$"`
	RptID    string   `yaml:"rptId"`
	Buffered bool     `yaml:"buffered"`
	DataSet  string   `yaml:"dataSet"`
	ConfRev  uint32   `yaml:"confRev"`
	TrgOps   []string `yaml:"trgOps"`
	OptFlds  []string `yaml:"optFlds"`
	BufTm    uint32   `yaml:"bufTm"`
	IntgPd   uint32   `yaml:"intgPd"`
}

type GSEControlConfig struct {
	Name       string            `yaml:"name" validate:"nonzero,regexp=^[A-Za-z][A-Za-z0-9_]*$"`
	GoID       string            `yaml:"goId"`
	DataSet    string            `yaml:"dataSet"`
	ConfRev    uint32            `yaml:"confRev"`
	FixedOffs  bool              `yaml:"fixedOffs"`
	MinTime    uint32            `yaml:"minTime"`
	MaxTime    uint32            `yaml:"maxTime"`
	DstAddress *DstAddressConfig `yaml:"dstAddress"`
}

type DstAddressConfig struct {
	Addr     string `yaml:"addr" validate:"nonzero"`
	Priority uint8  `yaml:"priority"`
	VID      uint16 `yaml:"vid"`
	AppID    uint16 `yaml:"appId"`
}

// CreateModelFromConfigFile loads a YAML model description.
func CreateModelFromConfigFile(path string) (*IedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelLoadError{File: path, Message: "failed to read file", Cause: err}
	}
	model, err := ParseModel(data)
	if err != nil {
		if le, ok := err.(*ModelLoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &ModelLoadError{File: path, Message: err.Error()}
	}
	return model, nil
}

// ParseModel builds an IedModel from YAML bytes.
func ParseModel(data []byte) (*IedModel, error) {
	var cfg ModelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ModelLoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := validator.Validate(cfg); err != nil {
		return nil, &ModelLoadError{Message: "invalid model description", Cause: err}
	}
	model, err := cfg.Build()
	if err != nil {
		return nil, &ModelLoadError{Message: "invalid model description", Cause: err}
	}
	return model, nil
}

// Build converts the description into an IedModel.
func (cfg *ModelConfig) Build() (*IedModel, error) {
	model := NewIedModel(cfg.Name)
	for _, ldc := range cfg.LogicalDevices {
		ld := model.AddLogicalDevice(ldc.Name)
		for _, lnc := range ldc.LogicalNodes {
			ln := ld.AddLogicalNode(lnc.Name)
			for _, doc := range lnc.DataObjects {
				if err := buildDataObject(ln, doc); err != nil {
					return nil, err
				}
			}
			if err := buildControlDecls(model, ld, ln, lnc); err != nil {
				return nil, err
			}
		}
	}
	return model, nil
}

func buildDataObject(parent *ModelNode, cfg DataObjectConfig) error {
	do := parent.AddDataObject(cfg.Name)
	for _, c := range cfg.DataObjects {
		if err := buildDataObject(do, c); err != nil {
			return err
		}
	}
	for _, a := range cfg.Attributes {
		if err := buildAttribute(do, a, FC_NONE); err != nil {
			return err
		}
	}
	return nil
}

// buildAttribute adds a data attribute. Members of constructed attributes
// inherit the FC of their parent when they do not name one.
func buildAttribute(parent *ModelNode, cfg AttributeConfig, inherited FC) error {
	fc := FunctionalConstraintFromString(strings.ToUpper(cfg.FC))
	if fc == FC_NONE {
		fc = inherited
	}
	if fc == FC_NONE || fc == FC_ALL {
		return fmt.Errorf("attribute %s.%s: unknown FC %q", parent.ObjectReference(), cfg.Name, cfg.FC)
	}

	t := DA_TYPE_CONSTRUCTED
	if len(cfg.Attributes) == 0 {
		var ok bool
		if t, ok = ParseDAType(strings.ToUpper(cfg.Type)); !ok {
			return fmt.Errorf("attribute %s.%s: unknown type %q", parent.ObjectReference(), cfg.Name, cfg.Type)
		}
	}
	da := parent.AddDataAttribute(cfg.Name, t, fc)
	da.ElementCount = cfg.Count
	for _, c := range cfg.Attributes {
		if err := buildAttribute(da, c, fc); err != nil {
			return err
		}
	}
	if cfg.Value == nil {
		return nil
	}
	v, err := initialValue(da, cfg.Value)
	if err != nil {
		return fmt.Errorf("attribute %s: %w", da.ObjectReference(), err)
	}
	da.SetValue(v)
	return nil
}

func initialValue(da *ModelNode, value any) (*MmsValue, error) {
	if len(da.children) > 0 {
		return nil, fmt.Errorf("%w: constructed attributes take values on their members", ErrTypeMismatch)
	}
	spec, ok := scalarSpec(da.Name, da.DAType)
	if !ok || spec.Type == Structure {
		return nil, fmt.Errorf("%w: no initial value for type %s", ErrTypeMismatch, da.DAType)
	}
	if !da.IsArray() {
		return ToMmsValue(spec.Type, value)
	}
	list, ok := value.([]any)
	if !ok || len(list) != da.ElementCount {
		return nil, fmt.Errorf("%w: array of %d elements needs a list of %d values", ErrTypeMismatch, da.ElementCount, da.ElementCount)
	}
	elems := make([]*MmsValue, len(list))
	for i, e := range list {
		v, err := ToMmsValue(spec.Type, e)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return NewArrayValue(elems...), nil
}

var trgOpNames = map[string]func(*TrgOps){
	"dchg":      func(t *TrgOps) { t.DataChange = true },
	"qchg":      func(t *TrgOps) { t.QualityChange = true },
	"dupd":      func(t *TrgOps) { t.DataUpdate = true },
	"period":    func(t *TrgOps) { t.TriggeredPeriodically = true },
	"gi":        func(t *TrgOps) { t.Gi = true },
	"transient": func(t *TrgOps) { t.Transient = true },
}

var optFldNames = map[string]func(*OptFlds){
	"seqNum":     func(o *OptFlds) { o.SequenceNumber = true },
	"timeStamp":  func(o *OptFlds) { o.TimeOfEntry = true },
	"reasonCode": func(o *OptFlds) { o.ReasonForInclusion = true },
	"dataSet":    func(o *OptFlds) { o.DataSetName = true },
	"dataRef":    func(o *OptFlds) { o.DataReference = true },
	"bufOvfl":    func(o *OptFlds) { o.BufferOverflow = true },
	"entryID":    func(o *OptFlds) { o.EntryID = true },
	"confRev":    func(o *OptFlds) { o.ConfigRevision = true },
}

func buildControlDecls(model *IedModel, ld, ln *ModelNode, cfg LogicalNodeConfig) error {
	for _, dsc := range cfg.DataSets {
		ds := model.AddDataSet(ln, dsc.Name)
		for _, e := range dsc.Entries {
			fc := FunctionalConstraintFromString(strings.ToUpper(e.FC))
			if fc == FC_NONE {
				return fmt.Errorf("data set %s: unknown FC %q", dsc.Name, e.FC)
			}
			ref := e.Ref
			if !strings.Contains(ref, "/") {
				ref = ld.Name + "/" + ref
			}
			if err := ds.AddEntry(ref, fc); err != nil {
				return err
			}
			last := &ds.Entries[len(ds.Entries)-1]
			if e.Index != nil {
				last.Index = *e.Index
			}
			last.ComponentName = strings.ReplaceAll(e.Component, ".", "$")
		}
	}

	for _, rc := range cfg.ReportControlBlocks {
		decl := &ReportControlBlockDecl{
			Parent:   ln,
			Name:     rc.Name,
			RptID:    rc.RptID,
			Buffered: rc.Buffered,
			DataSet:  rc.DataSet,
			ConfRev:  rc.ConfRev,
			BufTm:    rc.BufTm,
			IntgPd:   rc.IntgPd,
		}
		for _, name := range rc.TrgOps {
			set, ok := trgOpNames[name]
			if !ok {
				return fmt.Errorf("report control block %s: unknown trigger option %q", rc.Name, name)
			}
			set(&decl.TrgOps)
		}
		for _, name := range rc.OptFlds {
			set, ok := optFldNames[name]
			if !ok {
				return fmt.Errorf("report control block %s: unknown optional field %q", rc.Name, name)
			}
			set(&decl.OptFlds)
		}
		model.AddReportControlBlock(decl)
	}

	for _, gc := range cfg.GSEControlBlocks {
		decl := model.AddGSEControlBlock(&GSEControlBlockDecl{
			Parent:    ln,
			Name:      gc.Name,
			GoID:      gc.GoID,
			DataSet:   gc.DataSet,
			ConfRev:   gc.ConfRev,
			FixedOffs: gc.FixedOffs,
			MinTime:   gc.MinTime,
			MaxTime:   gc.MaxTime,
		})
		if gc.DstAddress == nil {
			continue
		}
		mac, err := net.ParseMAC(gc.DstAddress.Addr)
		if err != nil || len(mac) != 6 {
			return fmt.Errorf("GoCB %s: invalid destination address %q", gc.Name, gc.DstAddress.Addr)
		}
		decl.SetDstAddressAddr([6]byte(mac))
		decl.SetDstAddressPriority(gc.DstAddress.Priority)
		decl.SetDstAddressVID(gc.DstAddress.VID)
		decl.SetDstAddressAppID(gc.DstAddress.AppID)
	}
	return nil
}
