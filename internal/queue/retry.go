package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
)

// RetryPolicy decides what happens to a failed job.
type RetryPolicy struct {
	Attempts        int
	Delay           time.Duration
	RetryResolution bool
}

// Decision is the outcome of a RetryPolicy.
type Decision struct {
	// Retry schedules a requeue after the delay and consumes one attempt.
	Retry bool
	// Alert surfaces the failure beyond the job itself.
	Alert bool
}

// PolicyFrom builds the retry policy from settings.
func PolicyFrom(s domain.Settings) RetryPolicy {
	return RetryPolicy{
		Attempts:        s.RetryAttempts,
		Delay:           s.RetryDelay,
		RetryResolution: s.RetryResolutionErrors,
	}
}

// Decide classifies a failure of job.
func (p RetryPolicy) Decide(job *domain.Job, kind domain.ErrorKind) Decision {
	switch kind {
	case domain.KindBackendUnavailable:
		return Decision{Alert: true}
	case domain.KindResolution:
		if !p.RetryResolution {
			return Decision{}
		}
	}
	return Decision{
		Retry: job.CanRetry(p.Attempts),
		Alert: kind == domain.KindStorage,
	}
}

type retryTimer struct {
	t *time.Timer
}

func (r *retryTimer) stop() {
	if r.t != nil {
		r.t.Stop()
	}
}

// failLocked marks an ACTIVE job FAILED and arms its retry. Caller holds mu.
func (m *Manager) failLocked(job *domain.Job, runErr error) {
	ctx := context.Background()
	kind := domain.KindOf(runErr)
	policy := PolicyFrom(m.settings.Current())
	d := policy.Decide(job, kind)

	if err := job.TransitionTo(domain.StatusFailed, m.now()); err != nil {
		m.logger.Error("fail job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	job.ErrorMessage = runErr.Error()
	job.ErrorKind = kind
	job.RetryAt = nil
	if d.Retry {
		job.RetryCount++
		at := m.now().Add(policy.Delay)
		job.RetryAt = &at
	}
	if err := m.ledger.Upsert(ctx, job); err != nil {
		m.logger.Error("record failure", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)),
		zap.Int("retry_count", job.RetryCount),
		zap.Bool("will_retry", d.Retry),
		zap.Error(runErr),
	}
	if kind == domain.KindStorage || kind == domain.KindBackendUnavailable {
		m.logger.Error("job failed", fields...)
	} else {
		m.logger.Warn("job failed", fields...)
	}
	if d.Alert {
		m.alert(kind, job.ID, job.ErrorMessage)
	}
	if d.Retry {
		m.arm(job.ID, policy.Delay)
	}
}

// arm schedules an automatic requeue. Caller holds mu.
func (m *Manager) arm(id string, delay time.Duration) {
	m.disarm(id)
	rt := &retryTimer{}
	rt.t = time.AfterFunc(delay, func() { m.fire(id, rt) })
	m.timers[id] = rt
}

// rearm restores the automatic retries recorded in the ledger, firing at
// once those already due. Caller holds mu.
func (m *Manager) rearm(ctx context.Context) (int, error) {
	failed, err := m.ledger.ListByStatus(ctx, domain.StatusFailed)
	if err != nil {
		return 0, err
	}
	n := 0
	now := m.now()
	for i := range failed {
		at := failed[i].RetryAt
		if at == nil {
			continue
		}
		m.arm(failed[i].ID, max(at.Sub(now), 0))
		n++
	}
	return n, nil
}

// disarm cancels a pending automatic requeue. Caller holds mu.
func (m *Manager) disarm(id string) {
	if rt, ok := m.timers[id]; ok {
		rt.stop()
		delete(m.timers, id)
	}
}

func (m *Manager) fire(id string, rt *retryTimer) {
	m.mu.Lock()
	if m.timers[id] != rt || m.stopping {
		m.mu.Unlock()
		return
	}
	delete(m.timers, id)

	ctx := context.Background()
	job, err := m.ledger.Get(ctx, id)
	if err != nil || job.Status != domain.StatusFailed {
		m.mu.Unlock()
		return
	}
	err = m.requeue(ctx, job)
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("automatic retry", zap.String("job_id", id), zap.Error(err))
		return
	}
	m.trigger()
}
