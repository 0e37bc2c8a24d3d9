package iec61850

// FC is an IEC 61850 functional constraint.
type FC int

const (
	FC_ST FC = iota
	FC_MX
	FC_SP
	FC_SV
	FC_CF
	FC_DC
	FC_SG
	FC_SE
	FC_SR
	FC_OR
	FC_BL
	FC_EX
	FC_CO
	FC_US
	FC_MS
	FC_RP
	FC_BR
	FC_LG
	FC_GO

	FC_ALL  FC = 99
	FC_NONE FC = -1
)

// dataFCs are the constraints a data attribute can carry, in the order the
// logical node structure lists them.
var dataFCs = []FC{FC_ST, FC_MX, FC_SP, FC_SV, FC_CF, FC_DC, FC_SG, FC_SE, FC_SR, FC_OR, FC_BL, FC_EX, FC_CO}

// IsWritable reports whether plain MMS writes are routed to the value cache for this FC.
func (f FC) IsWritable() bool {
	switch f {
	case FC_SP, FC_SV, FC_CF, FC_DC:
		return true
	default:
		return false
	}
}

// IsDataFC reports whether f can be attached to a data attribute.
func (f FC) IsDataFC() bool {
	return f >= FC_ST && f <= FC_CO
}
