// Package mapping transforms raw EMR rows into canonical FHIR resources and
// checks them before they ever reach the network.
package mapping

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ehr/hie-sync/internal/platform/fhir"
)

// IdentifierKind is the closed set of identifier shapes the source emits,
// listed in authority order. Runtime string probing is replaced by this
// tagged classifier so that dispatch over identifier kinds stays exhaustive.
type IdentifierKind int

const (
	KindHealthID IdentifierKind = iota // primary national health id
	KindProgramID                      // program-specific id (site-year-sequence)
	KindLegacyID                       // legacy internal EMR id
	KindPersonID                       // person-level id, lowest authority
	KindUnknown
)

func (k IdentifierKind) String() string {
	switch k {
	case KindHealthID:
		return "health-id"
	case KindProgramID:
		return "program-id"
	case KindLegacyID:
		return "legacy-id"
	case KindPersonID:
		return "person-id"
	default:
		return "unknown"
	}
}

// System returns the identifier-system URI used on the wire for this kind.
func (k IdentifierKind) System() string {
	switch k {
	case KindHealthID:
		return "urn:hie:identifier:health-id"
	case KindProgramID:
		return "urn:hie:identifier:program-id"
	case KindLegacyID:
		return "urn:hie:identifier:legacy-id"
	case KindPersonID:
		return "urn:hie:identifier:person-id"
	default:
		return ""
	}
}

// KnownKinds is every identifier kind in authority order, highest first.
var KnownKinds = []IdentifierKind{KindHealthID, KindProgramID, KindLegacyID, KindPersonID}

var (
	healthIDPattern  = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)
	programIDPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2})-([0-9A-Fa-f]{2})-([0-9A-Fa-f]{2})-(\d{4})-([A-Za-z])-(\d{5})$`)
)

// ValidProgramID checks the full program-id format: three two-hex-digit
// triples, a four-digit year within [1900, 2100], one letter, and a
// five-digit sequence.
func ValidProgramID(value string) bool {
	m := programIDPattern.FindStringSubmatch(value)
	if m == nil {
		return false
	}
	year, err := strconv.Atoi(m[4])
	if err != nil {
		return false
	}
	return year >= 1900 && year <= 2100
}

// ValidHealthID checks the 8-character alphanumeric national id shape.
func ValidHealthID(value string) bool {
	return healthIDPattern.MatchString(value)
}

// Classify inspects the shape of an opaque identifier string. Values that
// match neither structured format are treated as legacy internal ids, never
// rejected: the resolver will probe the remaining systems in turn.
func Classify(value string) IdentifierKind {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return KindUnknown
	case ValidHealthID(value):
		return KindHealthID
	case ValidProgramID(value):
		return KindProgramID
	default:
		return KindLegacyID
	}
}

// IdentifierOf pulls the identifier with the given kind's system off a
// resource, or "".
func IdentifierOf(p *fhir.Patient, kind IdentifierKind) string {
	for _, id := range p.Identifier {
		if id.System == kind.System() {
			return id.Value
		}
	}
	return ""
}
