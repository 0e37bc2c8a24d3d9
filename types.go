package iec61850

import "fmt"

type MmsType int

type MmsValue struct {
	Type  MmsType
	Value interface{}
}

// data types
const (
	Array MmsType = iota
	Structure
	Boolean
	BitString
	Integer
	Unsigned
	Float
	OctetString
	VisibleString
	GeneralizedTime
	BinaryTime
	Bcd
	ObjId
	String
	UTCTime
	DataAccessError
)

type MmsDataAccessError int

const (
	DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE             MmsDataAccessError = -3
	DATA_ACCESS_ERROR_NO_RESPONSE                   MmsDataAccessError = -2
	DATA_ACCESS_ERROR_SUCCESS                       MmsDataAccessError = -1
	DATA_ACCESS_ERROR_OBJECT_INVALIDATED            MmsDataAccessError = 0
	DATA_ACCESS_ERROR_HARDWARE_FAULT                MmsDataAccessError = 1
	DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE       MmsDataAccessError = 2
	DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED          MmsDataAccessError = 3
	DATA_ACCESS_ERROR_OBJECT_UNDEFINED              MmsDataAccessError = 4
	DATA_ACCESS_ERROR_INVALID_ADDRESS               MmsDataAccessError = 5
	DATA_ACCESS_ERROR_TYPE_UNSUPPORTED              MmsDataAccessError = 6
	DATA_ACCESS_ERROR_TYPE_INCONSISTENT             MmsDataAccessError = 7
	DATA_ACCESS_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT MmsDataAccessError = 8
	DATA_ACCESS_ERROR_OBJECT_ACCESS_UNSUPPORTED     MmsDataAccessError = 9
	DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT          MmsDataAccessError = 10
	DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID          MmsDataAccessError = 11
	DATA_ACCESS_ERROR_UNKNOWN                       MmsDataAccessError = 12
)

// Error makes MmsDataAccessError usable as a Go error so dispatcher results can
// be wrapped with context and matched with errors.Is.
func (e MmsDataAccessError) Error() string {
	switch e {
	case DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE:
		return "success (no update)"
	case DATA_ACCESS_ERROR_NO_RESPONSE:
		return "no response"
	case DATA_ACCESS_ERROR_SUCCESS:
		return "success"
	case DATA_ACCESS_ERROR_OBJECT_INVALIDATED:
		return "object invalidated"
	case DATA_ACCESS_ERROR_HARDWARE_FAULT:
		return "hardware fault"
	case DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE:
		return "temporarily unavailable"
	case DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED:
		return "object access denied"
	case DATA_ACCESS_ERROR_OBJECT_UNDEFINED:
		return "object undefined"
	case DATA_ACCESS_ERROR_INVALID_ADDRESS:
		return "invalid address"
	case DATA_ACCESS_ERROR_TYPE_UNSUPPORTED:
		return "type unsupported"
	case DATA_ACCESS_ERROR_TYPE_INCONSISTENT:
		return "type inconsistent"
	case DATA_ACCESS_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT:
		return "object attribute inconsistent"
	case DATA_ACCESS_ERROR_OBJECT_ACCESS_UNSUPPORTED:
		return "object access unsupported"
	case DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT:
		return "object non-existent"
	case DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID:
		return "object value invalid"
	case DATA_ACCESS_ERROR_UNKNOWN:
		return "unknown data access error"
	default:
		return fmt.Sprintf("data access error %d", int(e))
	}
}

// AccessPolicy controls whether MMS writes are accepted for a functional constraint.
// ACCESS_POLICY_ALLOW allows writes, ACCESS_POLICY_DENY denies writes for given FC
type AccessPolicy int

const (
	ACCESS_POLICY_ALLOW AccessPolicy = iota
	ACCESS_POLICY_DENY
)

// ACSIClass represents the different ACSI class types as defined in IEC 61850
type ACSIClass int

const (
	ACSI_CLASS_DATA_OBJECT ACSIClass = iota
	ACSI_CLASS_DATA_SET
	ACSI_CLASS_BRCB
	ACSI_CLASS_URCB
	ACSI_CLASS_LCB
	ACSI_CLASS_LOG
	ACSI_CLASS_SGCB
	ACSI_CLASS_GoCB
	ACSI_CLASS_GsCB
	ACSI_CLASS_MSVCB
	ACSI_CLASS_USVCB
)

// ReasonForInclusion tells a report client why a data set member was included.
// The bit values line up with the TrgOps bits so a reason can be tested
// directly against a trigger mask.
type ReasonForInclusion int

const (
	REASON_NOT_INCLUDED   ReasonForInclusion = 0
	REASON_DATA_CHANGE    ReasonForInclusion = 1
	REASON_QUALITY_CHANGE ReasonForInclusion = 2
	REASON_DATA_UPDATE    ReasonForInclusion = 4
	REASON_INTEGRITY      ReasonForInclusion = 8
	REASON_GI             ReasonForInclusion = 16
	REASON_UNKNOWN        ReasonForInclusion = 32
)

func (r ReasonForInclusion) String() string {
	switch r {
	case REASON_NOT_INCLUDED:
		return "not-included"
	case REASON_DATA_CHANGE:
		return "data-change"
	case REASON_QUALITY_CHANGE:
		return "quality-change"
	case REASON_DATA_UPDATE:
		return "data-update"
	case REASON_INTEGRITY:
		return "integrity"
	case REASON_GI:
		return "GI"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

type TrgOps struct {
	DataChange            bool // Value change
	QualityChange         bool // Quality change
	DataUpdate            bool // Data update
	TriggeredPeriodically bool // Periodic trigger (integrity)
	Gi                    bool // GI (general interrogation) trigger
	Transient             bool // Transient
}

// TrgOpsFromMask decodes the trigger option bit string stored in an RCB.
func TrgOpsFromMask(g int) TrgOps {
	return TrgOps{
		DataChange:            IsBitSet(g, 0),
		QualityChange:         IsBitSet(g, 1),
		DataUpdate:            IsBitSet(g, 2),
		TriggeredPeriodically: IsBitSet(g, 3),
		Gi:                    IsBitSet(g, 4),
		Transient:             IsBitSet(g, 5),
	}
}

// Mask encodes the trigger options as stored in the TrgOps attribute.
func (t TrgOps) Mask() int {
	return setBits(t.DataChange, t.QualityChange, t.DataUpdate, t.TriggeredPeriodically, t.Gi, t.Transient)
}

// Includes reports whether a change with the given reason should trigger a report.
func (t TrgOps) Includes(reason ReasonForInclusion) bool {
	return t.Mask()&int(reason) != 0
}

type OptFlds struct {
	SequenceNumber     bool // Sequence number
	TimeOfEntry        bool // Report timestamp
	ReasonForInclusion bool // Reason code (reason for inclusion)
	DataSetName        bool // Data set
	DataReference      bool // Data reference
	BufferOverflow     bool // Buffer overflow indicator
	EntryID            bool // Report entry identifier
	ConfigRevision     bool // Configuration revision
}

func OptFldsFromMask(g int) OptFlds {
	return OptFlds{
		SequenceNumber:     IsBitSet(g, 0),
		TimeOfEntry:        IsBitSet(g, 1),
		ReasonForInclusion: IsBitSet(g, 2),
		DataSetName:        IsBitSet(g, 3),
		DataReference:      IsBitSet(g, 4),
		BufferOverflow:     IsBitSet(g, 5),
		EntryID:            IsBitSet(g, 6),
		ConfigRevision:     IsBitSet(g, 7),
	}
}

func (o OptFlds) Mask() int {
	return setBits(o.SequenceNumber, o.TimeOfEntry, o.ReasonForInclusion, o.DataSetName,
		o.DataReference, o.BufferOverflow, o.EntryID, o.ConfigRevision)
}

func setBits(flags ...bool) int {
	g := 0
	for i, f := range flags {
		if f {
			g |= 1 << i
		}
	}
	return g
}
