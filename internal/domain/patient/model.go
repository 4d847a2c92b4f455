package patient

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgeBracket is the coarse age group used by the front desk.
type AgeBracket string

const (
	Child AgeBracket = "Child"
	Adult AgeBracket = "Adult"
)

// AdultAge is the age at which a patient moves from Child to Adult.
const AdultAge = 18

var ErrNoSessionsLeft = errors.New("no authorized insurer sessions left")

// Insurance holds the insurer data of a patient. It is the single source of
// truth for authorization number and date.
type Insurance struct {
	Insurer             string `json:"insurer,omitempty"`
	CardNumber          string `json:"cardNumber,omitempty"`
	AuthorizationNumber string `json:"authorizationNumber,omitempty"`
	AuthorizationDate   string `json:"authorizationDate,omitempty"`
	SessionsAuthorized  int    `json:"sessionsAuthorized,omitempty"`
	SessionsUsed        int    `json:"sessionsUsed,omitempty"`
}

// Patient is a clinic patient record.
type Patient struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	BirthDate          string     `json:"birthDate,omitempty"`
	AgeBracket         AgeBracket `json:"ageBracket,omitempty"`
	AgeBracketOverride bool       `json:"ageBracketOverride,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	Professionals      []string   `json:"professionals,omitempty"`
	ProfessionalIDs    []string   `json:"professionalIds,omitempty"`
	Insurance          Insurance  `json:"insurance"`
	Notes              string     `json:"notes,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`

	// legacy holds top-level insurer fields decoded from older payloads until
	// Normalize folds them into Insurance.
	legacy legacyFields
}

type legacyFields struct {
	Insurer             string `json:"insurer,omitempty"`
	CardNumber          string `json:"cardNumber,omitempty"`
	AuthorizationNumber string `json:"authorizationNumber,omitempty"`
	AuthorizationDate   string `json:"authorizationDate,omitempty"`
}

// NewID returns a patient id made of the creation time and a random suffix.
func NewID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()[:8])
}

// Normalize resolves the insurer fields and the age bracket. Values already
// present in Insurance win; legacy top-level values only fill the gaps.
func (p *Patient) Normalize(now time.Time) {
	fill := func(dst *string, legacy string) {
		if *dst == "" && legacy != "" {
			*dst = legacy
		}
	}
	fill(&p.Insurance.Insurer, p.legacy.Insurer)
	fill(&p.Insurance.CardNumber, p.legacy.CardNumber)
	fill(&p.Insurance.AuthorizationNumber, p.legacy.AuthorizationNumber)
	fill(&p.Insurance.AuthorizationDate, p.legacy.AuthorizationDate)
	p.legacy = legacyFields{}

	if !p.AgeBracketOverride {
		if b, ok := DeriveAgeBracket(p.BirthDate, now); ok {
			p.AgeBracket = b
		}
	}
	if p.AgeBracket == "" {
		p.AgeBracket = Adult
	}
}

// DeriveAgeBracket computes the bracket from a YYYY-MM-DD birth date.
func DeriveAgeBracket(birthDate string, now time.Time) (AgeBracket, bool) {
	if birthDate == "" {
		return "", false
	}
	dob, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return "", false
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	if age < AdultAge {
		return Child, true
	}
	return Adult, true
}

// RecordSession consumes one authorized insurer session.
func (p *Patient) RecordSession() error {
	if p.Insurance.SessionsAuthorized > 0 && p.Insurance.SessionsUsed >= p.Insurance.SessionsAuthorized {
		return ErrNoSessionsLeft
	}
	p.Insurance.SessionsUsed++
	return nil
}

// RemainingSessions returns how many authorized sessions are left, or -1
// when the insurer does not cap sessions.
func (p Patient) RemainingSessions() int {
	if p.Insurance.SessionsAuthorized <= 0 {
		return -1
	}
	return p.Insurance.SessionsAuthorized - p.Insurance.SessionsUsed
}

func (p Patient) AssignedNames() []string { return p.Professionals }
func (p Patient) AssignedIDs() []string   { return p.ProfessionalIDs }

type patientAlias Patient

type patientWire struct {
	patientAlias
	legacyFields
}

// MarshalJSON emits the legacy top-level insurer fields next to the
// insurance object so older readers keep working.
func (p Patient) MarshalJSON() ([]byte, error) {
	return json.Marshal(patientWire{
		patientAlias: patientAlias(p),
		legacyFields: legacyFields{
			Insurer:             p.Insurance.Insurer,
			CardNumber:          p.Insurance.CardNumber,
			AuthorizationNumber: p.Insurance.AuthorizationNumber,
			AuthorizationDate:   p.Insurance.AuthorizationDate,
		},
	})
}

func (p *Patient) UnmarshalJSON(data []byte) error {
	var w patientWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = Patient(w.patientAlias)
	p.legacy = w.legacyFields
	return nil
}
