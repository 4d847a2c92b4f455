// Package agenda owns the clinic's working set of patients and appointments.
//
// Every mutation is committed locally first (memory and the on-disk cache)
// and then mirrored to the remote store by a background worker, so the
// service keeps working while the backend is slow or unreachable. Remote
// effects are journaled in the local cache until they are applied; failures
// are reported to the user and kept for retry. They never undo a local
// change, and a fetch never overwrites a record that still has one pending.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinica/agenda/internal/domain/inbox"
	"github.com/clinica/agenda/internal/domain/patient"
	"github.com/clinica/agenda/internal/domain/scheduling"
	"github.com/clinica/agenda/internal/platform/localcache"
	"github.com/clinica/agenda/internal/platform/remote"
)

// Deps are the collaborators of a Coordinator. Remote may be nil, in which
// case the coordinator runs offline.
type Deps struct {
	Remote   remote.Store
	Cache    *localcache.Store
	Notifier Notifier
	Logger   zerolog.Logger
	Policy   scheduling.ConflictPolicy
	Now      func() time.Time
}

// Coordinator is the session's application context.
type Coordinator struct {
	mu           sync.Mutex
	status       Status
	patients     []patient.Patient
	appointments []scheduling.Appointment
	inbox        []inbox.Entry
	revision     uint64
	views        *viewCache

	remote   remote.Store
	cache    *localcache.Store
	notifier Notifier
	log      zerolog.Logger
	policy   scheduling.ConflictPolicy
	now      func() time.Time

	queue     *effectQueue
	unsynced  map[uint64]*effect // journaled effects not yet applied
	outboxSeq uint64
	failedMu  sync.Mutex
	failed    []*effect

	ctx        context.Context
	cancel     context.CancelFunc
	workerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// New loads the cached working set and starts the remote effect worker.
func New(deps Deps) (*Coordinator, error) {
	if deps.Cache == nil {
		return nil, errors.New("agenda: local cache is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	policy := deps.Policy
	if policy == "" {
		policy = scheduling.ConflictAllow
	}

	patients, err := localcache.Load[patient.Patient](deps.Cache, remote.TablePatients)
	if err != nil {
		return nil, fmt.Errorf("load cached patients: %w", err)
	}
	for i := range patients {
		patients[i].Normalize(now())
	}
	appts, err := localcache.Load[scheduling.Appointment](deps.Cache, remote.TableAppointments)
	if err != nil {
		return nil, fmt.Errorf("load cached appointments: %w", err)
	}
	outbox, err := loadOutbox(deps.Cache)
	if err != nil {
		return nil, fmt.Errorf("load remote effect journal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		status:       StatusChecking,
		patients:     patients,
		appointments: appts,
		views:        newViewCache(),
		remote:       deps.Remote,
		cache:        deps.Cache,
		notifier:     deps.Notifier,
		log:          deps.Logger.With().Str("component", "agenda").Logger(),
		policy:       policy,
		now:          now,
		queue:        newEffectQueue(),
		unsynced:     make(map[uint64]*effect),
		ctx:          ctx,
		cancel:       cancel,
		workerDone:   make(chan struct{}),
	}
	if c.remote == nil {
		c.status = StatusOffline
	}
	c.replayOutboxLocked(outbox)
	go c.runEffects()

	c.log.Info().
		Int("patients", len(patients)).
		Int("appointments", len(appts)).
		Int("unsynced", len(outbox)).
		Str("status", string(c.status)).
		Msg("local cache loaded")
	return c, nil
}

// Close stops accepting remote effects, waits for queued ones to finish or
// ctx to expire, and closes the local cache.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.queue.close()
		select {
		case <-c.workerDone:
		case <-ctx.Done():
			left := c.queue.abandon()
			c.log.Warn().Int("unsynced", len(left)).Msg("closing before remote effects drained, kept for next start")
			c.cancel()
			<-c.workerDone
		}
		c.cancel()
		c.closeErr = c.cache.Close()
	})
	return c.closeErr
}

func (c *Coordinator) touchLocked() {
	c.revision++
}

// persistFailedLocked reports a local cache write that did not reach disk.
// The in-memory commit stands.
func (c *Coordinator) persistFailedLocked(err error, table, id string) {
	c.log.Error().Err(err).Str("table", table).Str("id", id).Msg("local cache write failed")
	c.toast(LevelError, "Could not write to local storage. The change is kept for this session.")
}

func (c *Coordinator) indexPatientLocked(id string) int {
	for i := range c.patients {
		if c.patients[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Coordinator) indexAppointmentLocked(id string) int {
	for i := range c.appointments {
		if c.appointments[i].ID == id {
			return i
		}
	}
	return -1
}

// Patients returns the cached patients in insertion order.
func (c *Coordinator) Patients() []patient.Patient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]patient.Patient(nil), c.patients...)
}

func (c *Coordinator) Patient(id string) (patient.Patient, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexPatientLocked(id); i >= 0 {
		return c.patients[i], true
	}
	return patient.Patient{}, false
}

// Appointments returns the cached appointments in insertion order.
func (c *Coordinator) Appointments() []scheduling.Appointment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scheduling.Appointment(nil), c.appointments...)
}

func (c *Coordinator) Appointment(id string) (scheduling.Appointment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexAppointmentLocked(id); i >= 0 {
		return c.appointments[i], true
	}
	return scheduling.Appointment{}, false
}

// Inbox returns the pending portal entries.
func (c *Coordinator) Inbox() []inbox.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]inbox.Entry(nil), c.inbox...)
}

// SavePatient creates or updates a patient. An existing id is updated in
// place; a missing id gets a new one.
func (c *Coordinator) SavePatient(ctx context.Context, p patient.Patient) (patient.Patient, error) {
	if strings.TrimSpace(p.Name) == "" {
		return patient.Patient{}, &scheduling.ValidationError{Field: "name", Reason: "is required"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.savePatientLocked(p), nil
}

func (c *Coordinator) savePatientLocked(p patient.Patient) patient.Patient {
	now := c.now()
	if p.ID == "" {
		p.ID = patient.NewID(now)
	}
	p.Normalize(now)

	i := c.indexPatientLocked(p.ID)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
		if i >= 0 {
			p.CreatedAt = c.patients[i].CreatedAt
		}
	}
	p.UpdatedAt = now

	if i >= 0 {
		c.patients[i] = p
	} else {
		c.patients = append(c.patients, p)
	}
	c.touchLocked()
	if err := c.cache.Put(remote.TablePatients, p.ID, p); err != nil {
		c.persistFailedLocked(err, remote.TablePatients, p.ID)
	}
	c.log.Info().Str("table", remote.TablePatients).Str("id", p.ID).Msg("patient saved")

	c.enqueuePatientLocked(p)
	return p
}

func (c *Coordinator) enqueuePatientLocked(p patient.Patient) {
	row, err := patientRow(p)
	if err != nil {
		c.log.Error().Err(err).Str("id", p.ID).Msg("encode patient row")
		return
	}
	c.enqueueLocked(upsertEffect(remote.TablePatients, row))
}

// DeletePatient removes a patient. Appointments that reference it keep their
// copied patient fields.
func (c *Coordinator) DeletePatient(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexPatientLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	c.patients = append(c.patients[:i:i], c.patients[i+1:]...)
	c.touchLocked()
	if err := c.cache.Delete(remote.TablePatients, id); err != nil {
		c.persistFailedLocked(err, remote.TablePatients, id)
	}
	c.log.Info().Str("table", remote.TablePatients).Str("id", id).Msg("patient deleted")

	c.enqueueLocked(deleteEffect(remote.TablePatients, id))
	return nil
}

// AddAppointment adds one appointment.
func (c *Coordinator) AddAppointment(ctx context.Context, a scheduling.Appointment) (scheduling.Appointment, error) {
	out, err := c.AddAppointmentBatch(ctx, []scheduling.Appointment{a})
	if err != nil {
		return scheduling.Appointment{}, err
	}
	return out[0], nil
}

// AddAppointmentBatch adds appointments in one local commit and one remote
// upsert. Authorization data is taken from the referenced patient's current
// insurance when it has any.
func (c *Coordinator) AddAppointmentBatch(ctx context.Context, as []scheduling.Appointment) ([]scheduling.Appointment, error) {
	if len(as) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addAppointmentsLocked(as), nil
}

func (c *Coordinator) addAppointmentsLocked(as []scheduling.Appointment) []scheduling.Appointment {
	now := c.now()
	batch := make([]scheduling.Appointment, len(as))
	recs := make([]localcache.Record, len(as))
	for i, a := range as {
		if a.ID == "" {
			a.ID = scheduling.NewAppointmentID(now, i)
		}
		if a.Status == "" {
			a.Status = scheduling.StatusScheduled
		}
		c.enrichLocked(&a)
		batch[i] = a
		recs[i] = localcache.Record{ID: a.ID, Value: a}
	}

	for _, a := range batch {
		if i := c.indexAppointmentLocked(a.ID); i >= 0 {
			c.appointments[i] = a
			continue
		}
		c.appointments = append(c.appointments, a)
	}
	c.touchLocked()
	if err := c.cache.PutMany(remote.TableAppointments, recs); err != nil {
		c.persistFailedLocked(err, remote.TableAppointments, "")
	}
	c.log.Info().Str("table", remote.TableAppointments).Int("count", len(batch)).Msg("appointments added")

	rows, err := appointmentRows(batch)
	if err != nil {
		c.log.Error().Err(err).Msg("encode appointment rows")
		return batch
	}
	c.enqueueLocked(upsertEffect(remote.TableAppointments, rows...))
	return batch
}

// enrichLocked refreshes the copied patient fields of a from the patient's
// current record.
func (c *Coordinator) enrichLocked(a *scheduling.Appointment) {
	i := c.indexPatientLocked(a.PatientID)
	if i < 0 {
		return
	}
	p := c.patients[i]
	a.AuthorizationNumber = firstNonEmpty(p.Insurance.AuthorizationNumber, a.AuthorizationNumber)
	a.AuthorizationDate = firstNonEmpty(p.Insurance.AuthorizationDate, a.AuthorizationDate)
	a.PatientName = firstNonEmpty(a.PatientName, p.Name)
	a.CardNumber = firstNonEmpty(a.CardNumber, p.Insurance.CardNumber)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Book expands a booking request into its series, applies the conflict
// policy and adds the result as one batch.
func (c *Coordinator) Book(ctx context.Context, req scheduling.BookingRequest, rec scheduling.RecurrenceSpec) ([]scheduling.Appointment, error) {
	series, err := scheduling.GenerateSeries(req, rec)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.policy.Check(c.appointments, series); err != nil {
		return nil, err
	}
	return c.addAppointmentsLocked(series), nil
}

// UpdateAppointment replaces an existing appointment.
func (c *Coordinator) UpdateAppointment(ctx context.Context, a scheduling.Appointment) (scheduling.Appointment, error) {
	if a.Status != "" && !scheduling.ValidStatus(a.Status) {
		return scheduling.Appointment{}, &scheduling.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", a.Status)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexAppointmentLocked(a.ID)
	if i < 0 {
		return scheduling.Appointment{}, ErrNotFound
	}
	prev := c.appointments[i]
	if a.Status == "" {
		a.Status = prev.Status
	}
	a.SessionCounted = prev.SessionCounted
	return c.replaceAppointmentLocked(i, a), nil
}

// SetAppointmentStatus changes only the status of an appointment. Completing
// an insurance appointment consumes one of the patient's authorized sessions.
func (c *Coordinator) SetAppointmentStatus(ctx context.Context, id string, status scheduling.Status) (scheduling.Appointment, error) {
	if !scheduling.ValidStatus(status) {
		return scheduling.Appointment{}, &scheduling.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexAppointmentLocked(id)
	if i < 0 {
		return scheduling.Appointment{}, ErrNotFound
	}
	a := c.appointments[i]
	a.Status = status
	return c.replaceAppointmentLocked(i, a), nil
}

// replaceAppointmentLocked stores a at index i. An insurance appointment
// consumes a session the first time it is completed.
func (c *Coordinator) replaceAppointmentLocked(i int, a scheduling.Appointment) scheduling.Appointment {
	if a.Status == scheduling.StatusCompleted && a.Type == scheduling.TypeInsurance && !a.SessionCounted {
		a.SessionCounted = c.recordSessionLocked(a.PatientID)
	}

	c.appointments[i] = a
	c.touchLocked()
	if err := c.cache.Put(remote.TableAppointments, a.ID, a); err != nil {
		c.persistFailedLocked(err, remote.TableAppointments, a.ID)
	}
	c.log.Info().Str("table", remote.TableAppointments).Str("id", a.ID).Str("status", string(a.Status)).Msg("appointment updated")

	row, err := appointmentRow(a)
	if err != nil {
		c.log.Error().Err(err).Str("id", a.ID).Msg("encode appointment row")
		return a
	}
	c.enqueueLocked(upsertEffect(remote.TableAppointments, row))
	return a
}

// recordSessionLocked consumes one session of the patient and reports
// whether it did.
func (c *Coordinator) recordSessionLocked(id string) bool {
	i := c.indexPatientLocked(id)
	if i < 0 {
		return false
	}
	p := c.patients[i]
	if err := p.RecordSession(); err != nil {
		c.log.Warn().Err(err).Str("id", p.ID).Msg("session not recorded")
		c.toast(LevelWarning, fmt.Sprintf("%s has no authorized insurer sessions left.", p.Name))
		return false
	}
	p.UpdatedAt = c.now()
	c.patients[i] = p
	if err := c.cache.Put(remote.TablePatients, p.ID, p); err != nil {
		c.persistFailedLocked(err, remote.TablePatients, p.ID)
	}
	c.enqueuePatientLocked(p)
	return true
}

// DeleteAppointment removes an appointment.
func (c *Coordinator) DeleteAppointment(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexAppointmentLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	c.appointments = append(c.appointments[:i:i], c.appointments[i+1:]...)
	c.touchLocked()
	if err := c.cache.Delete(remote.TableAppointments, id); err != nil {
		c.persistFailedLocked(err, remote.TableAppointments, id)
	}
	c.log.Info().Str("table", remote.TableAppointments).Str("id", id).Msg("appointment deleted")

	c.enqueueLocked(deleteEffect(remote.TableAppointments, id))
	return nil
}

// FetchData replaces the local working set with the remote one. Records
// with a remote effect still outstanding keep their local state. On failure
// the cached data is kept and a *RemoteReadError is returned.
func (c *Coordinator) FetchData(ctx context.Context) error {
	if c.remote == nil {
		c.setStatus(StatusOffline)
		return nil
	}

	c.mu.Lock()
	before := c.unsyncedLocked()
	c.mu.Unlock()

	fetched := make(map[string][]remote.Row, 3)
	for _, table := range []string{remote.TablePatients, remote.TableAppointments, remote.TableInbox} {
		rows, err := c.remote.Select(ctx, table)
		if err != nil {
			rerr := &RemoteReadError{Table: table, Err: err}
			c.log.Error().Err(rerr).Msg("fetch failed, keeping cached data")
			c.setStatus(StatusError)
			c.toast(LevelError, "Could not reach the server. Showing locally saved data.")
			return rerr
		}
		fetched[table] = rows
	}

	skip := func(table string) func(id string, err error) {
		return func(id string, err error) {
			c.log.Warn().Err(err).Str("table", table).Str("id", id).Msg("skipping undecodable row")
		}
	}
	now := c.now()
	patients := decodeRows[patient.Patient](fetched[remote.TablePatients], skip(remote.TablePatients))
	for i := range patients {
		patients[i].Normalize(now)
	}
	appts := decodeRows[scheduling.Appointment](fetched[remote.TableAppointments], skip(remote.TableAppointments))
	entries := decodeInbox(fetched[remote.TableInbox], skip(remote.TableInbox))

	c.mu.Lock()
	defer c.mu.Unlock()

	pending := pendingFrom(before, c.unsyncedLocked())
	patients = overlay(patients, c.patients, patientID, pending[remote.TablePatients])
	appts = overlay(appts, c.appointments, appointmentID, pending[remote.TableAppointments])
	entries = overlay(entries, nil, inboxID, pending[remote.TableInbox])

	if err := c.cache.Replace(remote.TablePatients, records(patients, patientID)); err != nil {
		c.setStatusLocked(StatusError)
		return fmt.Errorf("persist fetched patients: %w", err)
	}
	if err := c.cache.Replace(remote.TableAppointments, records(appts, appointmentID)); err != nil {
		c.setStatusLocked(StatusError)
		return fmt.Errorf("persist fetched appointments: %w", err)
	}
	c.patients = patients
	c.appointments = appts
	c.inbox = inbox.Merge(c.inbox, entries)
	c.touchLocked()
	c.setStatusLocked(StatusConnected)

	c.log.Info().
		Int("patients", len(patients)).
		Int("appointments", len(appts)).
		Int("inbox", len(c.inbox)).
		Int("unsynced", len(c.unsynced)).
		Msg("remote data loaded")
	return nil
}

func patientID(p patient.Patient) string { return p.ID }

func appointmentID(a scheduling.Appointment) string { return a.ID }

func inboxID(e inbox.Entry) string { return e.ID }

func records[T any](items []T, id func(T) string) []localcache.Record {
	out := make([]localcache.Record, len(items))
	for i, it := range items {
		out[i] = localcache.Record{ID: id(it), Value: it}
	}
	return out
}

// Reconnect checks the backend again and, when it answers, queues the
// failed effects for another attempt. It does nothing when offline.
func (c *Coordinator) Reconnect(ctx context.Context) error {
	if c.remote == nil {
		return nil
	}
	c.setStatus(StatusChecking)
	if err := c.FetchData(ctx); err != nil {
		return err
	}
	c.RetryFailed(ctx)
	return nil
}

// ApproveInbox turns a pending portal entry into a patient.
func (c *Coordinator) ApproveInbox(ctx context.Context, id string) (patient.Patient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexInboxLocked(id)
	if i < 0 {
		return patient.Patient{}, ErrNotFound
	}
	p, err := c.inbox[i].ToPatient(c.now())
	if err != nil {
		return patient.Patient{}, &scheduling.ValidationError{Field: "name", Reason: err.Error()}
	}
	saved := c.savePatientLocked(p)
	c.removeInboxLocked(i)
	return saved, nil
}

// RejectInbox discards a pending portal entry.
func (c *Coordinator) RejectInbox(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexInboxLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	c.removeInboxLocked(i)
	return nil
}

func (c *Coordinator) indexInboxLocked(id string) int {
	for i := range c.inbox {
		if c.inbox[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Coordinator) removeInboxLocked(i int) {
	id := c.inbox[i].ID
	c.inbox = append(c.inbox[:i:i], c.inbox[i+1:]...)
	c.touchLocked()
	c.log.Info().Str("table", remote.TableInbox).Str("id", id).Msg("inbox entry resolved")
	c.enqueueLocked(deleteEffect(remote.TableInbox, id))
}
