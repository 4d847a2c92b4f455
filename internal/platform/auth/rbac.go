package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks the actor has one of the given
// roles. Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			for _, required := range roles {
				if actor.Role == required || actor.Role == RoleAdmin {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// Assignable is a record tied to one or more professionals, by display name
// and, for newer records, by stable id.
type Assignable interface {
	AssignedNames() []string
	AssignedIDs() []string
}

// Visible narrows records to what the actor may see. Professionals only see
// records assigned to them; every other role sees everything. The same rule
// serves appointments and patients so both views stay consistent.
func Visible[T Assignable](records []T, actor Actor) []T {
	if actor.Role != RoleProfessional {
		return records
	}
	out := make([]T, 0, len(records))
	for _, r := range records {
		if AssignedTo(r, actor) {
			out = append(out, r)
		}
	}
	return out
}

// AssignedTo reports whether the record belongs to the actor. Stable ids are
// compared when both sides have them; otherwise names are matched fuzzily.
func AssignedTo(r Assignable, actor Actor) bool {
	ids := r.AssignedIDs()
	if actor.ProfessionalID != "" && len(ids) > 0 {
		for _, id := range ids {
			if id == actor.ProfessionalID {
				return true
			}
		}
		return false
	}
	for _, name := range r.AssignedNames() {
		if MatchProfessional(name, actor.DisplayName) {
			return true
		}
	}
	return false
}

// MatchProfessional compares a stored professional string with a user's
// display name: case-insensitive substring either way, with the stored
// credential suffix (after " - ") dropped for the reverse check.
func MatchProfessional(stored, displayName string) bool {
	s := strings.ToLower(strings.TrimSpace(stored))
	u := strings.ToLower(strings.TrimSpace(displayName))
	if s == "" || u == "" {
		return false
	}
	if strings.Contains(s, u) {
		return true
	}
	base := s
	if i := strings.Index(base, " - "); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	return base != "" && strings.Contains(u, base)
}
