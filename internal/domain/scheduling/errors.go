package scheduling

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or invalid booking field. It is returned
// before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ErrConflict is returned by the reject policy when a slot is already taken
// by the same professional.
var ErrConflict = errors.New("professional already booked at this slot")

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
