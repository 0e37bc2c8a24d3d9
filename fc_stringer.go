package iec61850

var fcNames = map[FC]string{
	FC_ST:  "ST",
	FC_MX:  "MX",
	FC_SP:  "SP",
	FC_SV:  "SV",
	FC_CF:  "CF",
	FC_DC:  "DC",
	FC_SG:  "SG",
	FC_SE:  "SE",
	FC_SR:  "SR",
	FC_OR:  "OR",
	FC_BL:  "BL",
	FC_EX:  "EX",
	FC_CO:  "CO",
	FC_US:  "US",
	FC_MS:  "MS",
	FC_RP:  "RP",
	FC_BR:  "BR",
	FC_LG:  "LG",
	FC_GO:  "GO",
	FC_ALL: "ALL",
}

// String implements fmt.Stringer for FC. It returns the short IEC 61850
// abbreviation like "ST", "MX", etc.
func (f FC) String() string {
	if s, ok := fcNames[f]; ok {
		return s
	}
	return "--"
}

// FunctionalConstraintFromString parses a two letter FC token. Unknown tokens
// return FC_NONE.
func FunctionalConstraintFromString(s string) FC {
	for fc, name := range fcNames {
		if name == s {
			return fc
		}
	}
	return FC_NONE
}
