package queue

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
)

// trigger requests a scheduler pass. Concurrent requests coalesce.
func (m *Manager) trigger() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) serve(ctx context.Context) {
	defer close(m.loop)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			m.schedule(ctx)
		}
	}
}

// schedule admits QUEUED jobs in order while their class has capacity.
func (m *Manager) schedule(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused || m.stopping {
		return
	}
	s := m.settings.Current()

	active, err := m.ledger.ListByStatus(ctx, domain.StatusActive)
	if err != nil {
		m.logger.Error("list active jobs", zap.Error(err))
		return
	}
	counts := make(map[domain.Class]int)
	for _, j := range active {
		counts[j.Type.Class()]++
	}

	queued, err := m.ledger.ListByStatus(ctx, domain.StatusQueued)
	if err != nil {
		m.logger.Error("list queued jobs", zap.Error(err))
		return
	}

	for _, j := range queued {
		class := j.Type.Class()
		if counts[class] >= s.Cap(class) {
			continue
		}

		claimed, err := m.ledger.Claim(ctx, j.ID, m.now())
		if errors.Is(err, domain.ErrNotClaimable) {
			continue
		}
		if err != nil {
			m.logger.Error("claim job", zap.String("job_id", j.ID), zap.Error(err))
			return
		}
		counts[class]++
		m.launch(claimed, s)
	}
}
