package agenda

import (
	"encoding/json"

	"github.com/clinica/agenda/internal/domain/inbox"
	"github.com/clinica/agenda/internal/domain/patient"
	"github.com/clinica/agenda/internal/domain/scheduling"
	"github.com/clinica/agenda/internal/platform/remote"
)

func patientRow(p patient.Patient) (remote.Row, error) {
	return remote.NewRow(remote.TablePatients, p.ID, p, map[string]string{
		"nome":               p.Name,
		"carteirinha":        p.Insurance.CardNumber,
		"numero_autorizacao": p.Insurance.AuthorizationNumber,
		"data_autorizacao":   p.Insurance.AuthorizationDate,
	})
}

func appointmentRow(a scheduling.Appointment) (remote.Row, error) {
	return remote.NewRow(remote.TableAppointments, a.ID, a, map[string]string{
		"date":               a.Date,
		"patient_id":         a.PatientID,
		"status":             string(a.Status),
		"carteirinha":        a.CardNumber,
		"numero_autorizacao": a.AuthorizationNumber,
		"data_autorizacao":   a.AuthorizationDate,
	})
}

func appointmentRows(as []scheduling.Appointment) ([]remote.Row, error) {
	rows := make([]remote.Row, 0, len(as))
	for _, a := range as {
		r, err := appointmentRow(a)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// decodeRows turns backend rows into T. Rows that do not decode are skipped
// and reported through bad.
func decodeRows[T any](rows []remote.Row, bad func(id string, err error)) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			bad(r.ID, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

func decodeInbox(rows []remote.Row, bad func(id string, err error)) []inbox.Entry {
	entries := make([]inbox.Entry, 0, len(rows))
	for _, r := range rows {
		var e inbox.Entry
		if err := json.Unmarshal(r.Data, &e); err != nil {
			bad(r.ID, err)
			continue
		}
		if e.ID == "" {
			e.ID = r.ID
		}
		entries = append(entries, e)
	}
	return entries
}
