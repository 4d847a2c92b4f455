// Package inbox holds pre-registrations sent from the patient portal that
// wait for a staff member to approve them.
package inbox

import (
	"errors"
	"strings"
	"time"

	"github.com/clinica/agenda/internal/domain/patient"
)

var ErrNameRequired = errors.New("inbox entry has no name")

// Entry is a pending portal submission.
type Entry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BirthDate    string    `json:"birthDate,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Insurer      string    `json:"insurer,omitempty"`
	CardNumber   string    `json:"cardNumber,omitempty"`
	Professional string    `json:"professional,omitempty"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ToPatient builds the patient created when the entry is approved. The
// result is normalized and carries a fresh id.
func (e Entry) ToPatient(now time.Time) (patient.Patient, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return patient.Patient{}, ErrNameRequired
	}
	p := patient.Patient{
		ID:        patient.NewID(now),
		Name:      name,
		BirthDate: e.BirthDate,
		Phone:     e.Phone,
		Insurance: patient.Insurance{
			Insurer:    e.Insurer,
			CardNumber: e.CardNumber,
		},
		Notes:     e.Message,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prof := strings.TrimSpace(e.Professional); prof != "" {
		p.Professionals = []string{prof}
	}
	p.Normalize(now)
	return p, nil
}

// Merge adds incoming entries to current, replacing entries with the same
// id in place and appending new ones in order.
func Merge(current, incoming []Entry) []Entry {
	idx := make(map[string]int, len(current))
	out := make([]Entry, len(current), len(current)+len(incoming))
	copy(out, current)
	for i, e := range out {
		idx[e.ID] = i
	}
	for _, e := range incoming {
		if i, ok := idx[e.ID]; ok {
			out[i] = e
			continue
		}
		idx[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}
