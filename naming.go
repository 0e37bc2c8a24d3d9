package iec61850

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedIdentifier is returned for flattened MMS names without a '$' separator.
	ErrMalformedIdentifier = errors.New("malformed MMS variable identifier")
	// ErrMalformedReference is returned for object references that cannot be translated.
	ErrMalformedReference = errors.New("malformed object reference")
)

// FlattenedID is a parsed MMS variable name of the form
// <LogicalNode>$<FC>$<ObjectPath>$<Attribute>. ObjectPath uses '.' as
// separator like object references do.
type FlattenedID struct {
	LogicalNode string
	FC          FC
	ObjectPath  string
	Attribute   string
}

// BuildFlattenedID joins the parts of a flattened identifier. Empty object
// path or attribute segments are left out.
func BuildFlattenedID(ln string, fc FC, objectPath, attribute string) string {
	var b strings.Builder
	b.WriteString(ln)
	b.WriteByte('$')
	b.WriteString(fc.String())
	if objectPath != "" {
		b.WriteByte('$')
		b.WriteString(strings.ReplaceAll(objectPath, ".", "$"))
	}
	if attribute != "" {
		b.WriteByte('$')
		b.WriteString(attribute)
	}
	return b.String()
}

// ParseFlattenedID splits a flattened identifier. The last segment after
// the FC token is the attribute, everything between them the object path.
// Identifiers with an unknown FC token parse with FC set to FC_NONE.
func ParseFlattenedID(id string) (FlattenedID, error) {
	ln, rest, ok := strings.Cut(id, "$")
	if !ok {
		return FlattenedID{}, fmt.Errorf("%w: %q", ErrMalformedIdentifier, id)
	}
	fcToken, tail, _ := strings.Cut(rest, "$")
	f := FlattenedID{LogicalNode: ln, FC: FunctionalConstraintFromString(fcToken)}
	if tail == "" {
		return f, nil
	}
	if i := strings.LastIndexByte(tail, '$'); i >= 0 {
		f.ObjectPath = strings.ReplaceAll(tail[:i], "$", ".")
		f.Attribute = tail[i+1:]
	} else {
		f.Attribute = tail
	}
	return f, nil
}

func (f FlattenedID) String() string {
	return BuildFlattenedID(f.LogicalNode, f.FC, f.ObjectPath, f.Attribute)
}

// fcToken returns the FC segment of a flattened identifier.
func fcToken(id string) (string, bool) {
	_, rest, ok := strings.Cut(id, "$")
	if !ok {
		return "", false
	}
	token, _, _ := strings.Cut(rest, "$")
	return token, true
}

// DomainFromObjectReference returns the logical device part of "LD/LN.DO".
func DomainFromObjectReference(ref string) (string, bool) {
	domain, _, ok := strings.Cut(ref, "/")
	return domain, ok
}

// MmsVariableNameFromObjectReference translates an object reference like
// "LD/GGIO1.AnIn1.mag.f" with FC_MX into the MMS item name
// "GGIO1$MX$AnIn1$mag$f". The logical device part is optional.
func MmsVariableNameFromObjectReference(ref string, fc FC) (string, error) {
	fcString, ok := fcNames[fc]
	if !ok || fc == FC_ALL {
		return "", fmt.Errorf("%w: no FC token for %d", ErrMalformedReference, int(fc))
	}
	if _, rest, ok := strings.Cut(ref, "/"); ok {
		ref = rest
	}
	ln, path, ok := strings.Cut(ref, ".")
	if !ok || ln == "" || path == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedReference, ref)
	}
	return ln + "$" + fcString + "$" + strings.ReplaceAll(path, ".", "$"), nil
}

// ObjectReferenceFromMmsVariableName is the inverse of
// MmsVariableNameFromObjectReference.
func ObjectReferenceFromMmsVariableName(domain, item string) (string, FC, error) {
	parts := strings.Split(item, "$")
	if len(parts) < 3 {
		return "", FC_NONE, fmt.Errorf("%w: %q", ErrMalformedIdentifier, item)
	}
	fc := FunctionalConstraintFromString(parts[1])
	if fc == FC_NONE {
		return "", FC_NONE, fmt.Errorf("%w: unknown FC %q in %q", ErrMalformedIdentifier, parts[1], item)
	}
	ref := parts[0] + "." + strings.Join(parts[2:], ".")
	if domain != "" {
		ref = domain + "/" + ref
	}
	return ref, fc, nil
}
