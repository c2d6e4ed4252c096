package mapping

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ehr/hie-sync/internal/platform/fhir"
)

// Result carries the outcome of structural validation. A unit with
// Valid=false is never transmitted; it goes to the dead-letter sink.
// Warnings are logged but do not block transmission.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Reason flattens the errors into a single dead-letter reason string.
func (r *Result) Reason() string {
	return strings.Join(r.Errors, "; ")
}

var (
	genderValues = map[string]bool{"male": true, "female": true, "other": true, "unknown": true}
	referenceRe  = regexp.MustCompile(`^[A-Za-z]+/[A-Za-z0-9\-\.]{1,64}$`)
)

const maxAgeYears = 120

// ValidatePatient enforces the structural rules a patient must satisfy
// before any network call: correct resource-type tag, at least one
// identifier, well-formed program id when one is claimed, sane birth date,
// enumerated gender, and well-formed organization reference.
func ValidatePatient(p *fhir.Patient, now time.Time) Result {
	r := Result{Valid: true}

	if p.ResourceType != "Patient" {
		r.addError("resourceType is %q, want Patient", p.ResourceType)
	}

	if len(p.Identifier) == 0 {
		r.addError("patient has no identifiers")
	}
	for _, id := range p.Identifier {
		if strings.TrimSpace(id.Value) == "" {
			r.addError("identifier with system %q has empty value", id.System)
		}
		if id.System == KindProgramID.System() && !ValidProgramID(id.Value) {
			r.addError("malformed program id %q", id.Value)
		}
	}

	if p.Gender != "" && !genderValues[p.Gender] {
		r.addError("gender %q is not an administrative-gender code", p.Gender)
	}

	if p.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", p.BirthDate)
		if err != nil {
			r.addError("birthDate %q is not YYYY-MM-DD", p.BirthDate)
		} else {
			if bd.After(now) {
				r.addError("birthDate %s is in the future", p.BirthDate)
			} else if now.Sub(bd) > maxAgeYears*365*24*time.Hour {
				// Flagged, not rejected: ancient dates are usually data
				// entry slips but are still legal.
				r.addWarning("birthDate %s implies age over %d years", p.BirthDate, maxAgeYears)
			}
		}
	}

	if p.ManagingOrganization != nil && !referenceRe.MatchString(p.ManagingOrganization.Reference) {
		r.addError("managingOrganization reference %q is malformed", p.ManagingOrganization.Reference)
	}

	return r
}

// ValidateObservation enforces the observation-side rules: resource-type
// tag, the resolved subject reference, a populated code, and a sane
// effective time.
func ValidateObservation(o *fhir.Observation, now time.Time) Result {
	r := Result{Valid: true}

	if o.ResourceType != "Observation" {
		r.addError("resourceType is %q, want Observation", o.ResourceType)
	}
	if o.ID == "" {
		r.addError("observation has no id")
	}
	if !referenceRe.MatchString(o.Subject.Reference) || !strings.HasPrefix(o.Subject.Reference, "Patient/") {
		r.addError("subject reference %q is malformed", o.Subject.Reference)
	}
	if len(o.Code.Coding) == 0 || o.Code.Coding[0].Code == "" {
		r.addError("observation has no code")
	}
	if o.EffectiveDateTime != "" {
		et, err := time.Parse(time.RFC3339, o.EffectiveDateTime)
		if err != nil {
			r.addError("effectiveDateTime %q is not RFC 3339", o.EffectiveDateTime)
		} else if et.After(now) {
			r.addError("effectiveDateTime %s is in the future", o.EffectiveDateTime)
		}
	}

	return r
}
