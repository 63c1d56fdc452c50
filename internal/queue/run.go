package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
)

// run is one in-flight transfer.
type run struct {
	jobID   string
	backend domain.Backend
}

// launch dispatches a claimed job. Caller holds mu.
func (m *Manager) launch(job *domain.Job, s domain.Settings) {
	log := m.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)))

	b, err := m.router.For(job.Type)
	if err != nil {
		log.Error("no backend", zap.Error(err))
		m.failLocked(job, domain.NewBackendUnavailableError(err.Error(), err))
		return
	}

	r := &run{jobID: job.ID, backend: b}
	m.runs[job.ID] = r
	m.keepAlive.Hold()
	m.wg.Add(1)
	log.Info("job admitted", zap.String("backend", b.Name()), zap.Int("retry_count", job.RetryCount))

	go m.execute(m.ctx, r, job.Clone(), s.StartOptions())
}

// execute consumes the backend's progress stream until its terminal update.
func (m *Manager) execute(ctx context.Context, r *run, job domain.Job, opts domain.StartOptions) {
	defer m.wg.Done()

	if err := r.backend.Available(); err != nil {
		m.finish(r, err, "")
		return
	}
	updates, err := r.backend.Start(ctx, &job, opts)
	if err != nil {
		m.finish(r, err, "")
		return
	}

	for u := range updates {
		if u.Done {
			m.finish(r, u.Err, u.OutputPath)
			// Drain so the producer can close.
			for range updates {
			}
			return
		}
		m.progress(ctx, r.jobID, u)
	}
	m.finish(r, domain.NewNetworkError("backend stream ended without a result", nil), "")
}

// progress records telemetry and metadata for an ACTIVE job.
func (m *Manager) progress(ctx context.Context, id string, u domain.Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.ledger.Get(ctx, id)
	if err != nil {
		if !isNotFound(err) {
			m.logger.Warn("load job for progress", zap.String("job_id", id), zap.Error(err))
		}
		return
	}
	changed := false
	if u.Metadata != nil && job.Status == domain.StatusActive {
		job.ApplyMetadata(*u.Metadata)
		changed = true
	}
	if u.Telemetry != nil && job.ApplyTelemetry(*u.Telemetry) {
		changed = true
	}
	if !changed {
		return
	}
	if err := m.ledger.Upsert(ctx, job); err != nil {
		m.logger.Warn("record progress", zap.String("job_id", id), zap.Error(err))
	}
}

// finish applies a run's terminal outcome and frees its slot.
func (m *Manager) finish(r *run, runErr error, outputPath string) {
	m.mu.Lock()
	defer m.trigger()
	defer m.mu.Unlock()

	if m.runs[r.jobID] == r {
		delete(m.runs, r.jobID)
		m.keepAlive.Release()
	}

	// Interrupted by shutdown: leave ACTIVE for recovery on next start.
	if m.stopping && runErr != nil {
		return
	}

	// The run's context may be gone; the ledger write must still happen.
	ctx := context.Background()
	log := m.logger.With(zap.String("job_id", r.jobID), zap.String("backend", r.backend.Name()))

	job, err := m.ledger.Get(ctx, r.jobID)
	if err != nil {
		if isNotFound(err) {
			log.Debug("finished job was removed")
		} else {
			log.Error("load finished job", zap.Error(err))
		}
		return
	}
	if job.Status != domain.StatusActive {
		return
	}

	switch {
	case runErr == nil:
		_ = job.TransitionTo(domain.StatusCompleted, m.now())
		job.OutputPath = outputPath
		log.Info("job completed", zap.String("output", outputPath))
	case job.CancelRequested || domain.KindOf(runErr) == domain.KindCancelled:
		_ = job.TransitionTo(domain.StatusCancelled, m.now())
		log.Info("job cancelled")
	default:
		m.failLocked(job, runErr)
		return
	}
	if err := m.ledger.Upsert(ctx, job); err != nil {
		log.Error("record outcome", zap.Error(err))
	}
}
