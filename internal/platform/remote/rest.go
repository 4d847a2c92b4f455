package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// REST stores rows through a PostgREST-compatible table API, such as the
// one exposed by hosted Postgres platforms.
type REST struct {
	client *resty.Client
}

// RESTError is a non-2xx answer from the table API.
type RESTError struct {
	Status int
	Body   string
}

func (e *RESTError) Error() string {
	return fmt.Sprintf("table api returned %d: %s", e.Status, e.Body)
}

// NewREST creates a client for baseURL. apiKey is sent both as the apikey
// header and as bearer token; it may be empty for open test servers.
func NewREST(baseURL, apiKey string) *REST {
	client := resty.New().
		SetBaseURL(baseURL).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("apikey", apiKey).SetAuthToken(apiKey)
	}
	return &REST{client: client}
}

type restRow map[string]interface{}

func (s *REST) Select(ctx context.Context, table string) ([]Row, error) {
	if _, err := Columns(table); err != nil {
		return nil, err
	}
	var raw []struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("select", "id,data").
		SetQueryParam("order", "created_at.asc,id.asc").
		SetResult(&raw).
		Get("/rest/v1/" + table)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("select %s: %w", table, &RESTError{Status: resp.StatusCode(), Body: resp.String()})
	}

	out := make([]Row, 0, len(raw))
	for _, r := range raw {
		out = append(out, Row{ID: r.ID, Data: r.Data})
	}
	return out, nil
}

// Upsert posts all rows in one request, merging on the primary key.
func (s *REST) Upsert(ctx context.Context, table string, rows ...Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols, err := Columns(table)
	if err != nil {
		return err
	}

	body := make([]restRow, 0, len(rows))
	for _, r := range rows {
		m := restRow{"id": r.ID, "data": r.Data}
		for _, c := range cols {
			if v := r.Columns[c]; v != "" {
				m[c] = v
			} else {
				m[c] = nil
			}
		}
		body = append(body, m)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetBody(body).
		Post("/rest/v1/" + table)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	if resp.IsError() {
		return fmt.Errorf("upsert %s: %w", table, &RESTError{Status: resp.StatusCode(), Body: resp.String()})
	}
	return nil
}

func (s *REST) Delete(ctx context.Context, table, id string) error {
	if _, err := Columns(table); err != nil {
		return err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		Delete("/rest/v1/" + table)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	if resp.IsError() {
		return fmt.Errorf("delete %s/%s: %w", table, id, &RESTError{Status: resp.StatusCode(), Body: resp.String()})
	}
	return nil
}
