package agenda

// Status is the connection state of the remote store as seen by the user.
//
//	checking -> connected | offline
//	connected <-> error
//
// offline means no remote store is configured and never changes.
type Status string

const (
	StatusChecking  Status = "checking"
	StatusConnected Status = "connected"
	StatusError     Status = "error"
	StatusOffline   Status = "offline"
)

// SyncState is a snapshot of the coordinator's synchronization state.
type SyncState struct {
	Status   Status `json:"status"`
	Pending  int    `json:"pending"`
	Failed   int    `json:"failed"`
	Revision uint64 `json:"revision"`
}

// setStatusLocked moves to s. Callers hold c.mu.
func (c *Coordinator) setStatusLocked(s Status) {
	if c.remote == nil {
		s = StatusOffline
	}
	if c.status == s {
		return
	}
	c.log.Info().Str("from", string(c.status)).Str("to", string(s)).Msg("connection status changed")
	c.status = s
}

func (c *Coordinator) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatusLocked(s)
}

// Status returns the current connection status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns the status together with queue counters.
func (c *Coordinator) State() SyncState {
	c.mu.Lock()
	st := SyncState{Status: c.status, Revision: c.revision}
	c.mu.Unlock()

	st.Pending = c.queue.len()
	c.failedMu.Lock()
	st.Failed = len(c.failed)
	c.failedMu.Unlock()
	return st
}
