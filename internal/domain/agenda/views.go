package agenda

import (
	"fmt"
	"time"

	"github.com/clinica/agenda/internal/domain/patient"
	"github.com/clinica/agenda/internal/domain/scheduling"
	"github.com/clinica/agenda/internal/platform/auth"
)

type viewKey struct {
	kind  string
	param string
	actor auth.Actor
}

// viewCache memoizes calendar projections for one revision of the working
// set. Any mutation bumps the revision and invalidates every entry.
type viewCache struct {
	rev     uint64
	entries map[viewKey]interface{}
}

func newViewCache() *viewCache {
	return &viewCache{entries: make(map[viewKey]interface{})}
}

func (v *viewCache) get(rev uint64, k viewKey, build func() interface{}) interface{} {
	if v.rev != rev {
		v.rev = rev
		v.entries = make(map[viewKey]interface{})
	}
	if out, ok := v.entries[k]; ok {
		return out
	}
	out := build()
	v.entries[k] = out
	return out
}

func (c *Coordinator) visibleAppointmentsLocked(actor auth.Actor) []scheduling.Appointment {
	return auth.Visible(c.appointments, actor)
}

// VisiblePatients returns the patients the actor may see.
func (c *Coordinator) VisiblePatients(actor auth.Actor) []patient.Patient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]patient.Patient(nil), auth.Visible(c.patients, actor)...)
}

// AppointmentsOn returns the actor's appointments of one day sorted by time.
func (c *Coordinator) AppointmentsOn(actor auth.Actor, date string) ([]scheduling.Appointment, error) {
	if _, err := scheduling.ParseDate(date); err != nil {
		return nil, &scheduling.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.views.get(c.revision, viewKey{kind: "list", param: date, actor: actor}, func() interface{} {
		return scheduling.DayAppointments(c.visibleAppointmentsLocked(actor), date)
	})
	return out.([]scheduling.Appointment), nil
}

// DayView returns the slot rows of one day.
func (c *Coordinator) DayView(actor auth.Actor, date string) ([]scheduling.DaySlot, error) {
	if _, err := scheduling.ParseDate(date); err != nil {
		return nil, &scheduling.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.views.get(c.revision, viewKey{kind: "day", param: date, actor: actor}, func() interface{} {
		return scheduling.DayView(c.visibleAppointmentsLocked(actor), date)
	})
	return out.([]scheduling.DaySlot), nil
}

// WeekView returns the Sunday-first week containing date.
func (c *Coordinator) WeekView(actor auth.Actor, date string) ([]scheduling.WeekColumn, error) {
	d, err := scheduling.ParseDate(date)
	if err != nil {
		return nil, &scheduling.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	start := scheduling.WeekOf(d)[0]
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.views.get(c.revision, viewKey{kind: "week", param: start.String(), actor: actor}, func() interface{} {
		return scheduling.WeekView(c.visibleAppointmentsLocked(actor), start)
	})
	return out.([]scheduling.WeekColumn), nil
}

// MonthView returns the month grid with per-day counts.
func (c *Coordinator) MonthView(actor auth.Actor, year int, month time.Month) ([][7]scheduling.MonthCell, error) {
	if month < time.January || month > time.December {
		return nil, &scheduling.ValidationError{Field: "month", Reason: "must be between 1 and 12"}
	}
	if year < 1 || year > 9999 {
		return nil, &scheduling.ValidationError{Field: "year", Reason: "out of range"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.views.get(c.revision, viewKey{kind: "month", param: fmt.Sprintf("%04d-%02d", year, int(month)), actor: actor}, func() interface{} {
		return scheduling.MonthView(c.visibleAppointmentsLocked(actor), year, month)
	})
	return out.([][7]scheduling.MonthCell), nil
}
