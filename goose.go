package iec61850

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	defaultGooseMinTime = 10 * time.Millisecond
	defaultGooseMaxTime = 1000 * time.Millisecond
)

// GooseMessage is the content of one GOOSE publication. Frame encoding and
// addressing are left to the GoosePublisher.
type GooseMessage struct {
	GoCBRef           string
	GoID              string
	DataSetRef        string
	ConfRev           uint32
	NdsCom            bool
	FixedOffs         bool
	StNum             uint32
	SqNum             uint32
	TimeAllowedToLive time.Duration
	Timestamp         time.Time
	DstAddress        PhyComAddress
	Values            []*MmsValue
}

// GoosePublisher sends GOOSE messages on the network. It is called without
// any mapping lock held.
type GoosePublisher interface {
	Publish(msg *GooseMessage) error
}

// GoosePublisherFunc adapts a function to GoosePublisher.
type GoosePublisherFunc func(msg *GooseMessage) error

func (f GoosePublisherFunc) Publish(msg *GooseMessage) error {
	return f(msg)
}

// GooseControl is the runtime state of a GOOSE control block.
type GooseControl struct {
	Name          string
	LogicalDevice string
	LogicalNode   string

	mu      *sync.Mutex
	log     zerolog.Logger
	mmsName string
	spec    MmsVariableSpec
	values  *MmsValue
	dataSet *DataSet

	enabled atomic.Bool
	changed bool
	stNum   atomic.Uint32
	sqNum   atomic.Uint32

	minTime         time.Duration
	maxTime         time.Duration
	retransmit      time.Duration
	lastPublish     time.Time
	nextPublish     time.Time
	stateChangeTime time.Time
}

func gocbSpec(name string) MmsVariableSpec {
	return structureSpec(name, []MmsVariableSpec{
		{Type: Boolean, Name: "GoEna"},
		{Type: VisibleString, Name: "GoID", VisibleStringSize: 129},
		{Type: VisibleString, Name: "DatSet", VisibleStringSize: 129},
		{Type: Unsigned, Name: "ConfRev", UnsignedBits: 32},
		{Type: Boolean, Name: "NdsCom"},
		phyComAddrSpec("DstAddress"),
		{Type: Unsigned, Name: "MinTime", UnsignedBits: 32},
		{Type: Unsigned, Name: "MaxTime", UnsignedBits: 32},
		{Type: Boolean, Name: "FixedOffs"},
	})
}

// gooseControlBlocksSpec builds the GO structure of a logical node.
func gooseControlBlocksSpec(gcs []*GooseControl) MmsVariableSpec {
	elements := make([]MmsVariableSpec, len(gcs))
	for i, gc := range gcs {
		elements[i] = gc.spec
	}
	return structureSpec(FC_GO.String(), elements)
}

func newGooseControl(decl *GSEControlBlockDecl, mu *sync.Mutex, log zerolog.Logger) (*GooseControl, error) {
	ln := decl.Parent
	if ln == nil || ln.Type != LogicalNodeModelType || ln.LogicalDevice() == nil {
		return nil, fmt.Errorf("%w: GoCB %s has no parent logical node", ErrInvalidModel, decl.Name)
	}
	gc := &GooseControl{
		Name:          decl.Name,
		LogicalDevice: ln.LogicalDevice().Name,
		LogicalNode:   ln.Name,
		mu:            mu,
		spec:          gocbSpec(decl.Name),
		minTime:       time.Duration(decl.MinTime) * time.Millisecond,
		maxTime:       time.Duration(decl.MaxTime) * time.Millisecond,
	}
	if gc.minTime <= 0 {
		gc.minTime = defaultGooseMinTime
	}
	if gc.maxTime <= 0 {
		gc.maxTime = defaultGooseMaxTime
	}
	if gc.maxTime < gc.minTime {
		return nil, fmt.Errorf("%w: GoCB %s MaxTime %v below MinTime %v", ErrInvalidModel, decl.Name, gc.maxTime, gc.minTime)
	}
	gc.mmsName = BuildFlattenedID(ln.Name, FC_GO, "", decl.Name)
	gc.log = log.With().Str("gocb", gc.Reference()).Logger()
	gc.values = NewDefaultValue(&gc.spec)

	goID := decl.GoID
	if goID == "" {
		goID = gc.Reference()
	}
	gc.attr("GoID").Value = goID
	if decl.DataSet != "" {
		gc.attr("DatSet").Value = gc.LogicalDevice + "/" + ln.Name + "$" + decl.DataSet
	}
	gc.attr("ConfRev").Value = uint64(decl.ConfRev)
	gc.attr("NdsCom").Value = true
	gc.attr("MinTime").Value = uint64(gc.minTime.Milliseconds())
	gc.attr("MaxTime").Value = uint64(gc.maxTime.Milliseconds())
	gc.attr("FixedOffs").Value = decl.FixedOffs
	if dst := decl.DstAddress(); dst != nil {
		addr := gc.attr("DstAddress")
		addr.Element(0).Value = append([]byte{}, dst.Addr[:]...)
		addr.Element(1).Value = uint64(dst.Priority)
		addr.Element(2).Value = uint64(dst.VID)
		addr.Element(3).Value = uint64(dst.AppID)
	}
	return gc, nil
}

// Reference returns "LD/LN$GO$name".
func (gc *GooseControl) Reference() string {
	return gc.LogicalDevice + "/" + gc.mmsName
}

func (gc *GooseControl) attr(name string) *MmsValue {
	i, _ := gc.spec.element(name)
	return gc.values.Element(i)
}

func (gc *GooseControl) setDataSet(ds *DataSet) {
	gc.dataSet = ds
	gc.attr("NdsCom").Value = ds == nil
}

// IsEnabled can be called without holding the mapping lock.
func (gc *GooseControl) IsEnabled() bool {
	return gc.enabled.Load()
}

// StNum returns the current state number.
func (gc *GooseControl) StNum() uint32 {
	return gc.stNum.Load()
}

func (gc *GooseControl) SqNum() uint32 {
	return gc.sqNum.Load()
}

func (gc *GooseControl) DataSet() *DataSet {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.dataSet
}

// Values returns a snapshot of the control block attributes.
func (gc *GooseControl) Values() *MmsValue {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.values.Clone()
}

func (gc *GooseControl) dstAddress() PhyComAddress {
	var a PhyComAddress
	addr := gc.attr("DstAddress")
	copy(a.Addr[:], addr.Element(0).Bytes())
	a.Priority = uint8(addr.Element(1).Uint64())
	a.VID = uint16(addr.Element(2).Uint64())
	a.AppID = uint16(addr.Element(3).Uint64())
	return a
}

// enable starts publishing. The first message goes out on the next worker
// iteration with a new state number.
func (gc *GooseControl) enable(now time.Time) error {
	if gc.enabled.Load() {
		return nil
	}
	if gc.dataSet == nil {
		return DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE
	}
	gc.stNum.Inc()
	gc.sqNum.Store(0)
	gc.changed = false
	gc.retransmit = gc.maxTime
	gc.lastPublish = time.Time{}
	gc.nextPublish = now
	gc.stateChangeTime = now
	gc.attr("GoEna").Value = true
	gc.enabled.Store(true)
	gc.log.Debug().Msg("GOOSE publishing enabled")
	return nil
}

func (gc *GooseControl) disable() {
	if !gc.enabled.Load() {
		return
	}
	gc.enabled.Store(false)
	gc.changed = false
	gc.attr("GoEna").Value = false
	gc.log.Debug().Msg("GOOSE publishing disabled")
}

// observedChange marks the data set as changed. The new state is published
// by checkAndPublish.
func (gc *GooseControl) observedChange() {
	if gc.enabled.Load() {
		gc.changed = true
	}
}

// checkAndPublish returns the message due at now, if any. A pending change is
// published once MinTime has passed since the previous message and restarts
// retransmission at MinTime; without changes a message is repeated when the
// retransmission interval expires, doubling up to MaxTime.
func (gc *GooseControl) checkAndPublish(now time.Time) *GooseMessage {
	if !gc.enabled.Load() {
		return nil
	}
	if gc.changed && now.Sub(gc.lastPublish) >= gc.minTime {
		gc.changed = false
		gc.stNum.Inc()
		gc.sqNum.Store(0)
		gc.retransmit = gc.minTime
		gc.stateChangeTime = now
		return gc.publish(now)
	}
	if !now.Before(gc.nextPublish) {
		return gc.publish(now)
	}
	return nil
}

func (gc *GooseControl) publish(now time.Time) *GooseMessage {
	interval := gc.retransmit
	msg := &GooseMessage{
		GoCBRef:           gc.Reference(),
		GoID:              gc.attr("GoID").StringValue(),
		DataSetRef:        gc.dataSet.Reference(),
		ConfRev:           uint32(gc.attr("ConfRev").Uint64()),
		NdsCom:            gc.attr("NdsCom").Bool(),
		FixedOffs:         gc.attr("FixedOffs").Bool(),
		StNum:             gc.stNum.Load(),
		SqNum:             gc.sqNum.Load(),
		TimeAllowedToLive: 3 * interval,
		Timestamp:         gc.stateChangeTime,
		DstAddress:        gc.dstAddress(),
		Values:            make([]*MmsValue, len(gc.dataSet.Entries)),
	}
	for i, e := range gc.dataSet.Entries {
		msg.Values[i] = e.value.Clone()
	}
	gc.sqNum.Inc()
	gc.lastPublish = now
	gc.nextPublish = now.Add(interval)
	gc.retransmit = min(2*interval, gc.maxTime)
	return msg
}
