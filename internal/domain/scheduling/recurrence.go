package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewAppointmentID returns an id unique even within one synchronous batch:
// creation time, a random suffix and the position in the batch.
func NewAppointmentID(now time.Time, seq int) string {
	return fmt.Sprintf("%d-%s-%d", now.UnixNano(), uuid.New().String()[:8], seq)
}

// GenerateSeries expands a booking request into concrete appointments.
// With policy none the result has one element; otherwise Count elements
// spaced by the policy interval in calendar days, all at the same time.
// Existing bookings are not consulted.
func GenerateSeries(req BookingRequest, rec RecurrenceSpec) ([]Appointment, error) {
	if req.Patient == nil || req.Patient.ID == "" {
		return nil, invalid("patient", "is required")
	}
	if strings.TrimSpace(req.Professional) == "" {
		return nil, invalid("professional", "is required")
	}
	if req.Date == "" {
		return nil, invalid("date", "is required")
	}
	if _, err := ParseDate(req.Date); err != nil {
		return nil, invalid("date", "must be YYYY-MM-DD")
	}
	if req.Time == "" {
		return nil, invalid("time", "is required")
	}
	if !ValidSlot(req.Time) {
		return nil, invalid("time", fmt.Sprintf("%q is not a bookable slot", req.Time))
	}

	policy := rec.Policy
	if policy == "" {
		policy = RecurNone
	}
	count := 1
	switch policy {
	case RecurNone:
	case RecurWeekly, RecurBiweekly:
		if rec.Count < MinSeriesCount || rec.Count > MaxSeriesCount {
			return nil, invalid("recurrence.count", fmt.Sprintf("must be between %d and %d", MinSeriesCount, MaxSeriesCount))
		}
		count = rec.Count
	default:
		return nil, invalid("recurrence.policy", fmt.Sprintf("unknown policy %q", rec.Policy))
	}

	anchorStr := req.Date
	if rec.Anchor != "" {
		anchorStr = rec.Anchor
	}
	anchor, err := ParseDate(anchorStr)
	if err != nil {
		return nil, invalid("recurrence.anchor", "must be YYYY-MM-DD")
	}

	apptType := req.Type
	if apptType == "" {
		apptType = TypePrivate
		if req.Patient.Insurance.Insurer != "" {
			apptType = TypeInsurance
		}
	}

	now := time.Now()
	step := policy.Interval()
	series := make([]Appointment, 0, count)
	for i := 0; i < count; i++ {
		note := req.Note
		if i > 0 {
			note = sessionNote(req.Note, i+1)
		}
		series = append(series, Appointment{
			ID:                  NewAppointmentID(now, i),
			PatientID:           req.Patient.ID,
			PatientName:         req.Patient.Name,
			CardNumber:          req.Patient.Insurance.CardNumber,
			AuthorizationNumber: req.Patient.Insurance.AuthorizationNumber,
			AuthorizationDate:   req.Patient.Insurance.AuthorizationDate,
			Professional:        req.Professional,
			ProfessionalID:      req.ProfessionalID,
			Date:                anchor.AddDays(i * step).String(),
			Time:                req.Time,
			Type:                apptType,
			Status:              StatusScheduled,
			Note:                note,
		})
	}
	return series, nil
}

func sessionNote(note string, n int) string {
	suffix := fmt.Sprintf("Session %d", n)
	if strings.TrimSpace(note) == "" {
		return suffix
	}
	return fmt.Sprintf("%s (%s)", note, suffix)
}
