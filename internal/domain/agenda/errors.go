package agenda

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an id does not match a cached record.
var ErrNotFound = errors.New("record not found")

// RemoteWriteError describes a failed remote effect. It is logged, shown to
// the user and kept for retry; write callers never receive it.
type RemoteWriteError struct {
	Op    string
	Table string
	ID    string
	Err   error
}

func (e *RemoteWriteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("remote %s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("remote %s %s/%s: %v", e.Op, e.Table, e.ID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// RemoteReadError is returned by FetchData when the backend could not be
// read. The local cache is left as it was.
type RemoteReadError struct {
	Table string
	Err   error
}

func (e *RemoteReadError) Error() string {
	return fmt.Sprintf("remote read %s: %v", e.Table, e.Err)
}

func (e *RemoteReadError) Unwrap() error { return e.Err }
