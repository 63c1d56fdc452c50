// Package queue admits, dispatches and tracks download jobs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
)

const alertBuffer = 16

// Router returns the backend responsible for a job type.
type Router interface {
	For(t domain.JobType) (domain.Backend, error)
}

// EnqueueRequest describes a new job.
type EnqueueRequest struct {
	URL        string
	Type       domain.JobType // detected from URL when empty
	FormatSpec *string
	Metadata   *domain.Metadata
}

// Alert is a failure that needs the user's attention beyond one job.
type Alert struct {
	Kind    domain.ErrorKind
	JobID   string
	Message string
	At      time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithKeepAlive holds k while any job is running.
func WithKeepAlive(k domain.KeepAlive) Option {
	return func(m *Manager) { m.keepAlive = k }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the scheduler and exposes the caller operations.
type Manager struct {
	ledger    domain.JobLedger
	router    Router
	settings  domain.SettingsProvider
	keepAlive domain.KeepAlive
	logger    *zap.Logger
	now       func() time.Time

	// mu serializes scheduler passes and every job mutation.
	mu           sync.Mutex
	paused       bool
	queueEnabled bool
	stopping     bool
	runs         map[string]*run
	timers       map[string]*retryTimer

	wake   chan struct{}
	alerts chan Alert

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loop   chan struct{}
}

// New creates a queue manager. Call Start before use.
func New(ledger domain.JobLedger, router Router, settings domain.SettingsProvider, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		ledger:    ledger,
		router:    router,
		settings:  settings,
		keepAlive: nopKeepAlive{},
		logger:    logger.Named("queue"),
		now:       time.Now,
		runs:      make(map[string]*run),
		timers:    make(map[string]*retryTimer),
		wake:      make(chan struct{}, 1),
		alerts:    make(chan Alert, alertBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start recovers jobs interrupted by a previous crash and starts the scheduler.
func (m *Manager) Start(ctx context.Context) error {
	n, err := m.ledger.RecoverStale(ctx)
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if n > 0 {
		m.logger.Info("recovered interrupted jobs", zap.Int64("count", n))
	}

	s := m.settings.Current()
	m.mu.Lock()
	m.queueEnabled = s.QueueEnabled
	m.paused = !s.QueueEnabled
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.loop = make(chan struct{})
	m.mu.Unlock()

	go m.serve(m.ctx)

	m.mu.Lock()
	pending, err := m.rearm(ctx)
	m.mu.Unlock()
	if err != nil {
		m.Stop()
		return fmt.Errorf("restore pending retries: %w", err)
	}
	if pending > 0 {
		m.logger.Info("restored pending retries", zap.Int("count", pending))
	}
	m.trigger()
	m.logger.Info("queue started",
		zap.Int("max_concurrent", s.MaxConcurrentDownloads),
		zap.Int("torrent_max_concurrent", s.TorrentMaxConcurrent),
		zap.Bool("paused", !s.QueueEnabled))
	return nil
}

// Stop interrupts running transfers and waits for them to end. Jobs still
// running are left ACTIVE and will be requeued by the next Start. Pending
// automatic retries stay recorded in the ledger and are re-armed by Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel == nil || m.stopping {
		m.mu.Unlock()
		return
	}
	m.stopping = true
	for id, t := range m.timers {
		t.stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	m.cancel()
	<-m.loop
	m.wg.Wait()
	m.logger.Info("queue stopped")
}

// Enqueue validates and persists a new QUEUED job and returns its id.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	typ := req.Type
	if typ == "" {
		typ = domain.DetectType(req.URL)
	}
	if !typ.Valid() {
		return "", domain.ErrInvalidType
	}
	if err := domain.ValidateSource(req.URL, typ); err != nil {
		return "", err
	}
	b, err := m.router.For(typ)
	if err != nil {
		return "", err
	}
	if err := b.Available(); err != nil {
		m.alert(domain.KindOf(err), "", err.Error())
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	m.mu.Lock()
	pos, err := m.ledger.MaxQueuePosition(ctx)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	job := &domain.Job{
		ID:            id.String(),
		URL:           req.URL,
		Type:          typ,
		FormatSpec:    req.FormatSpec,
		Status:        domain.StatusQueued,
		AddedAt:       m.now(),
		QueuePosition: pos + 1,
	}
	if req.Metadata != nil {
		job.ApplyMetadata(*req.Metadata)
	}
	err = m.ledger.Upsert(ctx, job)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	m.logger.Info("job enqueued", zap.String("job_id", job.ID), zap.String("type", string(typ)))
	m.trigger()
	return job.ID, nil
}

// Get returns one job.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Job, error) {
	return m.ledger.Get(ctx, id)
}

// List returns all jobs in queue order.
func (m *Manager) List(ctx context.Context) ([]domain.Job, error) {
	return m.ledger.List(ctx)
}

// Observe streams the live job list until ctx ends.
func (m *Manager) Observe(ctx context.Context) <-chan []domain.Job {
	return m.ledger.Observe(ctx)
}

// Resolve inspects a URL with the backend for its type, without enqueueing.
func (m *Manager) Resolve(ctx context.Context, url string, typ domain.JobType) (*domain.Descriptor, error) {
	if typ == "" {
		typ = domain.DetectType(url)
	}
	if err := domain.ValidateSource(url, typ); err != nil {
		return nil, err
	}
	b, err := m.router.For(typ)
	if err != nil {
		return nil, err
	}
	return b.Resolve(ctx, url, domain.ResolveOptions{CookieFilePath: m.settings.Current().CookieFilePath})
}

// Cancel cancels a job. QUEUED jobs are cancelled at once; ACTIVE jobs are
// flagged and interrupted, and become CANCELLED when the backend acknowledges.
// A FAILED job waiting for an automatic retry stays FAILED. Terminal jobs are
// left alone.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	m.disarm(id)

	switch job.Status {
	case domain.StatusFailed:
		if job.RetryAt == nil {
			return nil
		}
		job.RetryAt = nil
		if err := m.ledger.Upsert(ctx, job); err != nil {
			return err
		}
		m.logger.Info("pending retry cancelled", zap.String("job_id", id))
		return nil
	case domain.StatusQueued:
		if err := job.TransitionTo(domain.StatusCancelled, m.now()); err != nil {
			return err
		}
		if err := m.ledger.Upsert(ctx, job); err != nil {
			return err
		}
		m.logger.Info("job cancelled", zap.String("job_id", id))
		return nil
	case domain.StatusActive:
		r, ok := m.runs[id]
		if !ok {
			// Nothing in flight to acknowledge.
			if err := job.TransitionTo(domain.StatusCancelled, m.now()); err != nil {
				return err
			}
			return m.ledger.Upsert(ctx, job)
		}
		if !job.CancelRequested {
			job.CancelRequested = true
			if err := m.ledger.Upsert(ctx, job); err != nil {
				return err
			}
		}
		m.logger.Info("cancel requested", zap.String("job_id", id), zap.String("backend", r.backend.Name()))
		if err := r.backend.Cancel(id); err != nil {
			m.logger.Warn("backend cancel failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	return nil
}

// Retry requeues a FAILED job at the back of the queue with a fresh attempt
// budget. Any other status yields domain.ErrInvalidTransition.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	job, err := m.ledger.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if job.Status != domain.StatusFailed {
		m.mu.Unlock()
		return fmt.Errorf("%w: retry %s job (job_id=%s)", domain.ErrInvalidTransition, job.Status, id)
	}
	m.disarm(id)
	job.RetryCount = 0
	err = m.requeue(ctx, job)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.trigger()
	return nil
}

// RetryAllFailed requeues every FAILED job, keeping their relative order.
func (m *Manager) RetryAllFailed(ctx context.Context) error {
	m.mu.Lock()
	failed, err := m.ledger.ListByStatus(ctx, domain.StatusFailed)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if len(failed) == 0 {
		m.mu.Unlock()
		return nil
	}
	pos, err := m.ledger.MaxQueuePosition(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for i := range failed {
		m.disarm(failed[i].ID)
		if err := failed[i].TransitionTo(domain.StatusQueued, m.now()); err != nil {
			m.mu.Unlock()
			return err
		}
		failed[i].RetryCount = 0
		failed[i].QueuePosition = pos + int64(i) + 1
	}
	err = m.ledger.UpsertAll(ctx, failed)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.logger.Info("failed jobs requeued", zap.Int("count", len(failed)))
	m.trigger()
	return nil
}

// Remove deletes a job. A running job is interrupted first. Missing ids are
// ignored.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disarm(id)
	if r, ok := m.runs[id]; ok {
		if err := r.backend.Cancel(id); err != nil {
			m.logger.Warn("backend cancel failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	if err := m.ledger.Remove(ctx, id); err != nil {
		return err
	}
	m.logger.Info("job removed", zap.String("job_id", id))
	return nil
}

// ClearCompletedAndCancelled deletes all COMPLETED and CANCELLED jobs.
func (m *Manager) ClearCompletedAndCancelled(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.RemoveByStatuses(ctx, domain.StatusCompleted, domain.StatusCancelled)
}

// Reorder moves the queued job at index from to index to.
func (m *Manager) Reorder(ctx context.Context, from, to int) error {
	m.mu.Lock()
	err := m.ledger.ReorderQueued(ctx, from, to)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.trigger()
	return nil
}

// PauseQueue stops new admissions. Running jobs continue.
func (m *Manager) PauseQueue() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.logger.Info("queue paused")
	m.trigger()
}

// ResumeQueue allows admissions again.
func (m *Manager) ResumeQueue() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.logger.Info("queue resumed")
	m.trigger()
}

// Paused reports whether admissions are paused.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// ApplySettings reacts to a configuration change. Flipping queue_enabled
// pauses or resumes the queue; caps take effect on the next pass.
func (m *Manager) ApplySettings(s domain.Settings) {
	m.mu.Lock()
	if s.QueueEnabled != m.queueEnabled {
		m.queueEnabled = s.QueueEnabled
		m.paused = !s.QueueEnabled
	}
	m.mu.Unlock()
	m.logger.Info("settings applied",
		zap.Int("max_concurrent", s.MaxConcurrentDownloads),
		zap.Int("torrent_max_concurrent", s.TorrentMaxConcurrent),
		zap.Bool("queue_enabled", s.QueueEnabled))
	m.trigger()
}

// Alerts delivers backend-unavailable and storage failures.
func (m *Manager) Alerts() <-chan Alert {
	return m.alerts
}

// Running returns the number of jobs with a transfer in flight.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *Manager) alert(kind domain.ErrorKind, jobID, msg string) {
	a := Alert{Kind: kind, JobID: jobID, Message: msg, At: m.now()}
	select {
	case m.alerts <- a:
	default:
		m.logger.Debug("alert dropped", zap.String("job_id", jobID), zap.String("error", msg))
	}
}

// requeue moves job to the back of the queue. Caller holds mu.
func (m *Manager) requeue(ctx context.Context, job *domain.Job) error {
	pos, err := m.ledger.MaxQueuePosition(ctx)
	if err != nil {
		return err
	}
	if err := job.TransitionTo(domain.StatusQueued, m.now()); err != nil {
		return err
	}
	job.QueuePosition = pos + 1
	if err := m.ledger.Upsert(ctx, job); err != nil {
		return err
	}
	m.logger.Info("job requeued", zap.String("job_id", job.ID), zap.Int("retry_count", job.RetryCount))
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrJobNotFound)
}

type nopKeepAlive struct{}

func (nopKeepAlive) Hold()    {}
func (nopKeepAlive) Release() {}
