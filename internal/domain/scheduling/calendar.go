package scheduling

import (
	"sort"
	"time"
)

// FirstWeekday is the day calendar weeks start on.
const FirstWeekday = time.Sunday

// Week is one calendar row. A zero Date marks a padding cell.
type Week [7]Date

// WeekOf returns the seven consecutive dates of the week containing d.
func WeekOf(d Date) Week {
	offset := (int(d.Weekday()) - int(FirstWeekday) + 7) % 7
	start := d.AddDays(-offset)
	var w Week
	for i := range w {
		w[i] = start.AddDays(i)
	}
	return w
}

// MonthGrid lays out a month as calendar rows. Only the first row is
// left-padded and only the last row is right-padded.
func MonthGrid(year int, month time.Month) []Week {
	first := Date{Year: year, Month: month, Day: 1}
	lead := (int(first.Weekday()) - int(FirstWeekday) + 7) % 7
	days := DaysIn(year, month)

	var (
		grid []Week
		row  Week
		col  = lead
	)
	for day := 1; day <= days; day++ {
		row[col] = Date{Year: year, Month: month, Day: day}
		col++
		if col == 7 {
			grid = append(grid, row)
			row = Week{}
			col = 0
		}
	}
	if col > 0 {
		grid = append(grid, row)
	}
	return grid
}

// SlotBucket returns the appointments at exactly date and time.
func SlotBucket(appts []Appointment, date, tm string) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if a.Date == date && a.Time == tm {
			out = append(out, a)
		}
	}
	return out
}

// DayAppointments returns the appointments on date ordered by time; equal
// times keep their original order.
func DayAppointments(appts []Appointment, date string) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if a.Date == date {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// DaySlot is one row of the day view.
type DaySlot struct {
	Time         string        `json:"time"`
	Appointments []Appointment `json:"appointments"`
}

// DayView returns one row per catalog slot, plus rows for appointments
// booked at off-catalog times, ordered by time.
func DayView(appts []Appointment, date string) []DaySlot {
	day := DayAppointments(appts, date)
	rows := make([]DaySlot, 0, len(slotCatalog))
	for _, s := range slotCatalog {
		rows = append(rows, DaySlot{Time: s, Appointments: SlotBucket(day, date, s)})
	}

	var extra []string
	seen := make(map[string]bool)
	for _, a := range day {
		if !ValidSlot(a.Time) && !seen[a.Time] {
			seen[a.Time] = true
			extra = append(extra, a.Time)
		}
	}
	for _, tm := range extra {
		rows = append(rows, DaySlot{Time: tm, Appointments: SlotBucket(day, date, tm)})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time < rows[j].Time })
	return rows
}

// WeekColumn is one day of the week view.
type WeekColumn struct {
	Date  string    `json:"date"`
	Slots []DaySlot `json:"slots"`
}

// WeekView projects the week containing d.
func WeekView(appts []Appointment, d Date) []WeekColumn {
	week := WeekOf(d)
	cols := make([]WeekColumn, 0, len(week))
	for _, day := range week {
		cols = append(cols, WeekColumn{Date: day.String(), Slots: DayView(appts, day.String())})
	}
	return cols
}

// MonthCell is one cell of the month view.
type MonthCell struct {
	Date  string `json:"date,omitempty"`
	Count int    `json:"count"`
}

// MonthView returns the month grid with the number of appointments per day.
func MonthView(appts []Appointment, year int, month time.Month) [][7]MonthCell {
	counts := make(map[string]int)
	for _, a := range appts {
		counts[a.Date]++
	}
	grid := MonthGrid(year, month)
	out := make([][7]MonthCell, len(grid))
	for r, week := range grid {
		for c, d := range week {
			if d.IsZero() {
				continue
			}
			out[r][c] = MonthCell{Date: d.String(), Count: counts[d.String()]}
		}
	}
	return out
}
