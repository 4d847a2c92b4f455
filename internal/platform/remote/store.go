// Package remote talks to the backend that mirrors the clinic's tables.
//
// The backend is a generic keyed table store: every row carries an id, the
// full JSON document and a handful of denormalized text columns used for
// filtering on the server side. Two implementations exist, a direct
// PostgreSQL connection (PG) and a PostgREST-style HTTP API (REST).
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Table names.
const (
	TablePatients     = "patients"
	TableAppointments = "appointments"
	TableInbox        = "inbox"
)

// Denormalized columns per table. Their names match the backend schema.
var tableColumns = map[string][]string{
	TablePatients:     {"nome", "carteirinha", "numero_autorizacao", "data_autorizacao"},
	TableAppointments: {"date", "patient_id", "status", "carteirinha", "numero_autorizacao", "data_autorizacao"},
	TableInbox:        {"nome"},
}

// ErrUnknownTable is returned for a table outside the known set.
var ErrUnknownTable = errors.New("unknown table")

// Row is one record as exchanged with the backend.
type Row struct {
	ID      string
	Data    json.RawMessage
	Columns map[string]string
}

// Store is the backend table API. A nil Store means no backend is
// configured and the service runs offline.
type Store interface {
	Select(ctx context.Context, table string) ([]Row, error)
	Upsert(ctx context.Context, table string, rows ...Row) error
	Delete(ctx context.Context, table, id string) error
}

// Columns returns the denormalized column names of a table.
func Columns(table string) ([]string, error) {
	cols, ok := tableColumns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return cols, nil
}

// NewRow encodes v as a row. Columns not listed for the table are dropped.
func NewRow(table, id string, v interface{}, cols map[string]string) (Row, error) {
	allowed, err := Columns(table)
	if err != nil {
		return Row{}, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Row{}, fmt.Errorf("encode %s/%s: %w", table, id, err)
	}
	row := Row{ID: id, Data: data, Columns: make(map[string]string, len(allowed))}
	for _, c := range allowed {
		if val, ok := cols[c]; ok {
			row.Columns[c] = val
		}
	}
	return row, nil
}
