package scheduling

import (
	"fmt"
	"strings"
)

// ConflictPolicy decides what happens when a new booking lands on a slot the
// same professional already has.
type ConflictPolicy string

const (
	// ConflictAllow permits double-booking.
	ConflictAllow ConflictPolicy = "allow"
	// ConflictReject refuses bookings that collide with a scheduled one.
	ConflictReject ConflictPolicy = "reject"
)

func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ConflictAllow:
		return ConflictAllow, nil
	case ConflictReject:
		return ConflictReject, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Conflicts returns the proposed appointments that share date, time and
// professional with a scheduled existing appointment.
func Conflicts(existing, proposed []Appointment) []Appointment {
	taken := make(map[string][]Appointment)
	for _, a := range existing {
		if a.Status != StatusScheduled {
			continue
		}
		k := slotKey(a)
		taken[k] = append(taken[k], a)
	}
	var out []Appointment
	for _, p := range proposed {
		for _, a := range taken[slotKey(p)] {
			if SameProfessional(a, p) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func slotKey(a Appointment) string {
	return a.Date + "|" + a.Time
}

// SameProfessional reports whether a and b are booked with the same
// professional. Ids decide when both carry one; otherwise names are compared
// case-insensitively, so legacy name-only records still match.
func SameProfessional(a, b Appointment) bool {
	if a.ProfessionalID != "" && b.ProfessionalID != "" {
		return a.ProfessionalID == b.ProfessionalID
	}
	an := strings.ToLower(strings.TrimSpace(a.Professional))
	bn := strings.ToLower(strings.TrimSpace(b.Professional))
	return an != "" && an == bn
}

// Check applies the policy to a proposed batch.
func (p ConflictPolicy) Check(existing, proposed []Appointment) error {
	if p != ConflictReject {
		return nil
	}
	if c := Conflicts(existing, proposed); len(c) > 0 {
		return fmt.Errorf("%w: %s %s %s", ErrConflict, c[0].Professional, c[0].Date, c[0].Time)
	}
	return nil
}
