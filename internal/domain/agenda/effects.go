package agenda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/clinica/agenda/internal/platform/localcache"
	"github.com/clinica/agenda/internal/platform/remote"
)

// outboxTable holds the journal of remote effects that have not been applied
// yet. Entries survive restarts and are replayed by New.
const outboxTable = "outbox"

const (
	opUpsert = "upsert"
	opDelete = "delete"
)

// effect is one remote write, queued after its local transition has been
// committed. Effects are replayable: a failed effect can be queued again.
type effect struct {
	Seq      uint64       `json:"seq"`
	Op       string       `json:"op"`
	Table    string       `json:"table"`
	Rows     []remote.Row `json:"rows,omitempty"`
	DeleteID string       `json:"deleteId,omitempty"`
	Attempts int          `json:"attempts"`
}

func upsertEffect(table string, rows ...remote.Row) *effect {
	return &effect{Op: opUpsert, Table: table, Rows: rows}
}

func deleteEffect(table, id string) *effect {
	return &effect{Op: opDelete, Table: table, DeleteID: id}
}

// ids lists the record ids the effect touches.
func (e *effect) ids() []string {
	if e.Op == opDelete {
		return []string{e.DeleteID}
	}
	out := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		out[i] = r.ID
	}
	return out
}

// logID is the record id for log lines; batches have none.
func (e *effect) logID() string {
	if ids := e.ids(); len(ids) == 1 {
		return ids[0]
	}
	return ""
}

func (e *effect) journalKey() string {
	return fmt.Sprintf("%020d", e.Seq)
}

func (e *effect) run(ctx context.Context, s remote.Store) error {
	switch e.Op {
	case opUpsert:
		return s.Upsert(ctx, e.Table, e.Rows...)
	case opDelete:
		return s.Delete(ctx, e.Table, e.DeleteID)
	default:
		return fmt.Errorf("unknown effect op %q", e.Op)
	}
}

// effectQueue is an unbounded FIFO drained by a single worker.
type effectQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []*effect
	pending int // queued plus in flight
	drained chan struct{}
	closed  bool
}

func newEffectQueue() *effectQueue {
	q := &effectQueue{drained: make(chan struct{})}
	close(q.drained)
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *effectQueue) push(e *effect) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.pending == 0 {
		q.drained = make(chan struct{})
	}
	q.pending++
	q.items = append(q.items, e)
	q.cond.Signal()
	return true
}

// pop blocks until an effect is available. It returns false once the queue
// is closed and empty.
func (q *effectQueue) pop() (*effect, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e, true
}

func (q *effectQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending == 0 {
		close(q.drained)
	}
}

func (q *effectQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// wait blocks until every queued effect has been applied.
func (q *effectQueue) wait(ctx context.Context) error {
	q.mu.Lock()
	ch := q.drained
	q.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *effectQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// abandon drops effects that have not started yet and returns them.
func (q *effectQueue) abandon() []*effect {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := q.items
	q.items = nil
	if len(dropped) > 0 {
		q.pending -= len(dropped)
		if q.pending == 0 {
			close(q.drained)
		}
	}
	return dropped
}

// loadOutbox reads the journaled effects in the order they were queued.
func loadOutbox(cache *localcache.Store) ([]*effect, error) {
	effs, err := localcache.Load[*effect](cache, outboxTable)
	if err != nil {
		return nil, err
	}
	sortEffects(effs)
	return effs, nil
}

func sortEffects(effs []*effect) {
	sort.Slice(effs, func(i, j int) bool { return effs[i].Seq < effs[j].Seq })
}

// replayOutboxLocked tracks and queues the effects left over from an earlier
// run. Without a remote store they stay journaled for the next start.
func (c *Coordinator) replayOutboxLocked(effs []*effect) {
	for _, e := range effs {
		if e.Seq > c.outboxSeq {
			c.outboxSeq = e.Seq
		}
		c.unsynced[e.Seq] = e
	}
	if len(effs) == 0 || c.remote == nil {
		return
	}
	for _, e := range effs {
		c.queue.push(e)
	}
	c.log.Info().Int("count", len(effs)).Msg("replaying unsynced remote effects")
}

// enqueueLocked journals and queues e unless the service runs offline.
// Callers hold c.mu so effects are queued in the order their local
// transitions happened.
func (c *Coordinator) enqueueLocked(e *effect) {
	if c.remote == nil || c.status == StatusOffline {
		return
	}
	c.outboxSeq++
	e.Seq = c.outboxSeq
	c.unsynced[e.Seq] = e
	if err := c.cache.Put(outboxTable, e.journalKey(), e); err != nil {
		c.log.Error().Err(err).Str("op", e.Op).Str("table", e.Table).Msg("journal remote effect")
	}
	if !c.queue.push(e) {
		c.log.Warn().Str("op", e.Op).Str("table", e.Table).Str("id", e.logID()).Msg("coordinator closed, remote effect kept for next start")
	}
}

// unsyncedLocked returns the effects not yet applied remotely, oldest first.
func (c *Coordinator) unsyncedLocked() []*effect {
	out := make([]*effect, 0, len(c.unsynced))
	for _, e := range c.unsynced {
		out = append(out, e)
	}
	sortEffects(out)
	return out
}

func (c *Coordinator) runEffects() {
	defer close(c.workerDone)
	for {
		e, ok := c.queue.pop()
		if !ok {
			return
		}
		c.apply(e)
		c.queue.done()
	}
}

func (c *Coordinator) apply(e *effect) {
	e.Attempts++
	err := e.run(c.ctx, c.remote)
	if err == nil {
		c.log.Debug().Str("op", e.Op).Str("table", e.Table).Str("id", e.logID()).Msg("remote effect applied")
		c.mu.Lock()
		delete(c.unsynced, e.Seq)
		if c.status == StatusError || c.status == StatusChecking {
			c.setStatusLocked(StatusConnected)
		}
		c.mu.Unlock()
		if err := c.cache.Delete(outboxTable, e.journalKey()); err != nil {
			c.log.Error().Err(err).Uint64("seq", e.Seq).Msg("clear journaled effect")
		}
		return
	}

	werr := &RemoteWriteError{Op: e.Op, Table: e.Table, ID: e.logID(), Err: err}
	c.failedMu.Lock()
	c.failed = append(c.failed, e)
	c.failedMu.Unlock()
	if err := c.cache.Put(outboxTable, e.journalKey(), e); err != nil {
		c.log.Error().Err(err).Uint64("seq", e.Seq).Msg("journal failed effect")
	}

	if errors.Is(err, context.Canceled) && c.ctx.Err() != nil {
		c.log.Warn().Err(werr).Msg("remote effect interrupted by shutdown")
		return
	}
	c.log.Error().Err(werr).Int("attempts", e.Attempts).Msg("remote effect failed")
	c.setStatus(StatusError)
	c.toast(LevelError, fmt.Sprintf("Could not save %s to the server. The change is kept locally.", e.Table))
}

// RetryFailed queues every failed remote effect again, oldest first, and
// returns how many were queued.
func (c *Coordinator) RetryFailed(ctx context.Context) int {
	c.failedMu.Lock()
	failed := c.failed
	c.failed = nil
	c.failedMu.Unlock()

	if len(failed) == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return 0
	}
	n := 0
	for _, e := range failed {
		if c.queue.push(e) {
			n++
		} else {
			c.failedMu.Lock()
			c.failed = append(c.failed, e)
			c.failedMu.Unlock()
		}
	}
	c.log.Info().Int("count", n).Msg("retrying failed remote effects")
	return n
}

// Flush waits until all queued remote effects have been applied or ctx
// expires.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.queue.wait(ctx)
}
