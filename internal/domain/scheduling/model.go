package scheduling

import (
	"fmt"

	"github.com/clinica/agenda/internal/domain/patient"
)

// Type is how the appointment is paid for.
type Type string

const (
	TypeInsurance Type = "Insurance"
	TypePrivate   Type = "Private"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

var validStatuses = map[Status]bool{
	StatusScheduled: true, StatusCompleted: true, StatusCancelled: true,
}

// ValidStatus reports whether s is a known appointment status.
func ValidStatus(s Status) bool { return validStatuses[s] }

// Appointment is a single booked session. Patient fields are copied at
// creation time so the record survives later patient edits or deletion.
type Appointment struct {
	ID                  string `json:"id"`
	PatientID           string `json:"patientId"`
	PatientName         string `json:"patientName"`
	CardNumber          string `json:"cardNumber,omitempty"`
	AuthorizationNumber string `json:"authorizationNumber,omitempty"`
	AuthorizationDate   string `json:"authorizationDate,omitempty"`
	Professional        string `json:"professional"`
	ProfessionalID      string `json:"professionalId,omitempty"`
	Date                string `json:"date"`
	Time                string `json:"time"`
	Type                Type   `json:"type"`
	Status              Status `json:"status"`
	Note                string `json:"note,omitempty"`
	// SessionCounted is set once completing the appointment has consumed an
	// insurer session.
	SessionCounted      bool   `json:"sessionCounted,omitempty"`
}

func (a Appointment) AssignedNames() []string {
	if a.Professional == "" {
		return nil
	}
	return []string{a.Professional}
}

func (a Appointment) AssignedIDs() []string {
	if a.ProfessionalID == "" {
		return nil
	}
	return []string{a.ProfessionalID}
}

// slotCatalog lists the bookable times of day, every 30 minutes from 07:00
// to 20:30.
var slotCatalog = func() []string {
	var slots []string
	for h := 7; h <= 20; h++ {
		slots = append(slots, fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:30", h))
	}
	return slots
}()

var slotIndex = func() map[string]int {
	idx := make(map[string]int, len(slotCatalog))
	for i, s := range slotCatalog {
		idx[s] = i
	}
	return idx
}()

// Slots returns a copy of the slot catalog.
func Slots() []string {
	out := make([]string, len(slotCatalog))
	copy(out, slotCatalog)
	return out
}

// ValidSlot reports whether t is a catalog time.
func ValidSlot(t string) bool {
	_, ok := slotIndex[t]
	return ok
}

// RecurrencePolicy controls how a booking repeats.
type RecurrencePolicy string

const (
	RecurNone     RecurrencePolicy = "none"
	RecurWeekly   RecurrencePolicy = "weekly"
	RecurBiweekly RecurrencePolicy = "biweekly"
)

const (
	MinSeriesCount = 2
	MaxSeriesCount = 52
)

// Interval returns the number of days between occurrences.
func (p RecurrencePolicy) Interval() int {
	switch p {
	case RecurWeekly:
		return 7
	case RecurBiweekly:
		return 14
	}
	return 0
}

// RecurrenceSpec describes a repetition. Anchor defaults to the booking date.
type RecurrenceSpec struct {
	Policy RecurrencePolicy `json:"policy"`
	Count  int              `json:"count,omitempty"`
	Anchor string           `json:"anchor,omitempty"`
}

// BookingRequest is one scheduling request coming from the booking form.
type BookingRequest struct {
	Patient        *patient.Patient
	Professional   string
	ProfessionalID string
	Date           string
	Time           string
	Type           Type
	Note           string
}
