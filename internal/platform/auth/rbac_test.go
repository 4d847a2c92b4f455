package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type record struct {
	names []string
	ids   []string
}

func (r record) AssignedNames() []string { return r.names }
func (r record) AssignedIDs() []string   { return r.ids }

func TestMatchProfessional(t *testing.T) {
	tests := []struct {
		stored  string
		display string
		want    bool
	}{
		{"Simone Martins De Agrela - CRP 196674", "Simone Martins De Agrela - CRP 196674", true},
		{"Simone Martins De Agrela - CRP 196674", "simone martins", true},
		{"Simone Martins De Agrela - CRP 196674", "Dra. Simone Martins De Agrela", true},
		{"Simone", "Simone Martins De Agrela", true},
		{"Carlos Pereira - CRM 1234", "Simone Martins De Agrela - CRP 196674", false},
		{"", "Simone", false},
		{"Simone", "", false},
		{" - CRP 1", "Simone", false},
	}
	for _, tt := range tests {
		if got := MatchProfessional(tt.stored, tt.display); got != tt.want {
			t.Errorf("MatchProfessional(%q, %q) = %v, want %v", tt.stored, tt.display, got, tt.want)
		}
	}
}

func TestVisible_Professional(t *testing.T) {
	actor := Actor{Role: RoleProfessional, DisplayName: "Simone Martins De Agrela - CRP 196674"}
	records := []record{
		{names: []string{"Simone Martins De Agrela - CRP 196674"}},
		{names: []string{"Carlos Pereira - CRM 1234"}},
		{names: []string{"Carlos Pereira - CRM 1234", "Simone Martins De Agrela"}},
	}
	got := Visible(records, actor)
	if len(got) != 2 {
		t.Fatalf("expected 2 visible records, got %d", len(got))
	}
	if got[0].names[0] != "Simone Martins De Agrela - CRP 196674" {
		t.Errorf("unexpected first record %+v", got[0])
	}
}

func TestVisible_OtherRolesUnfiltered(t *testing.T) {
	records := []record{{names: []string{"A"}}, {names: []string{"B"}}, {}}
	for _, role := range []string{RoleAdmin, RoleReception, ""} {
		if got := Visible(records, Actor{Role: role, DisplayName: "A"}); len(got) != 3 {
			t.Errorf("role %q: expected all records, got %d", role, len(got))
		}
	}
}

func TestAssignedTo_StableIDWins(t *testing.T) {
	actor := Actor{Role: RoleProfessional, DisplayName: "Simone", ProfessionalID: "prof-1"}

	if !AssignedTo(record{names: []string{"Someone Else"}, ids: []string{"prof-1"}}, actor) {
		t.Error("matching id must be visible regardless of name")
	}
	if AssignedTo(record{names: []string{"Simone"}, ids: []string{"prof-2"}}, actor) {
		t.Error("different id must hide the record even when names match")
	}
	if !AssignedTo(record{names: []string{"Simone - CRP 1"}}, actor) {
		t.Error("records without ids fall back to name matching")
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), Actor{Role: RoleReception}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole(RoleReception)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), Actor{Role: RoleAdmin}))
	c := e.NewContext(req, httptest.NewRecorder())

	h := RequireRole(RoleReception)(func(c echo.Context) error { return nil })
	if err := h(c); err != nil {
		t.Errorf("admin must pass, got %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), Actor{Role: RoleProfessional}))
	c := e.NewContext(req, httptest.NewRecorder())

	h := RequireRole(RoleReception)(func(c echo.Context) error { return nil })
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_Anonymous(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	h := RequireRole(RoleReception)(func(c echo.Context) error { return nil })
	httpErr, ok := h(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", httpErr)
	}
}
