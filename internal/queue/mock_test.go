package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cwygoda/haul/internal/adapter/backend"
	"github.com/cwygoda/haul/internal/domain"
)

// mockLedger implements domain.JobLedger in memory.
type mockLedger struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	maxActive map[domain.Class]int
	history   map[string][]domain.JobStatus
	watchers  []chan struct{}
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		jobs:      make(map[string]*domain.Job),
		maxActive: make(map[domain.Class]int),
		history:   make(map[string][]domain.JobStatus),
	}
}

// changed records bookkeeping after a mutation. Caller holds mu.
func (m *mockLedger) changed() {
	counts := make(map[domain.Class]int)
	for _, j := range m.jobs {
		if j.Status == domain.StatusActive {
			counts[j.Type.Class()]++
		}
		h := m.history[j.ID]
		if len(h) == 0 || h[len(h)-1] != j.Status {
			m.history[j.ID] = append(h, j.Status)
		}
	}
	for c, n := range counts {
		if n > m.maxActive[c] {
			m.maxActive[c] = n
		}
	}
	for _, w := range m.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

func (m *mockLedger) sorted(filter func(*domain.Job) bool) []domain.Job {
	var out []domain.Job
	for _, j := range m.jobs {
		if filter == nil || filter(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].QueuePosition != out[b].QueuePosition {
			return out[a].QueuePosition < out[b].QueuePosition
		}
		return out[a].AddedAt.Before(out[b].AddedAt)
	})
	return out
}

func (m *mockLedger) Observe(ctx context.Context) <-chan []domain.Job {
	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	m.mu.Lock()
	m.watchers = append(m.watchers, wake)
	m.mu.Unlock()

	out := make(chan []domain.Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
			jobs, _ := m.List(ctx)
			select {
			case out <- jobs:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (m *mockLedger) Get(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	c := job.Clone()
	return &c, nil
}

func (m *mockLedger) List(ctx context.Context) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(nil), nil
}

func (m *mockLedger) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(j *domain.Job) bool { return j.Status == status }), nil
}

func (m *mockLedger) Upsert(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := job.Clone()
	m.jobs[job.ID] = &c
	m.changed()
	return nil
}

func (m *mockLedger) UpsertAll(ctx context.Context, jobs []domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range jobs {
		c := jobs[i].Clone()
		m.jobs[c.ID] = &c
	}
	m.changed()
	return nil
}

func (m *mockLedger) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	m.changed()
	return nil
}

func (m *mockLedger) RemoveByStatuses(ctx context.Context, statuses ...domain.JobStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		for _, s := range statuses {
			if j.Status == s {
				delete(m.jobs, id)
				n++
				break
			}
		}
	}
	m.changed()
	return n, nil
}

func (m *mockLedger) ReorderQueued(ctx context.Context, from, to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	queued := m.sorted(func(j *domain.Job) bool { return j.Status == domain.StatusQueued })
	if from < 0 || from >= len(queued) || to < 0 || to >= len(queued) {
		return nil
	}
	item := queued[from]
	queued = append(queued[:from], queued[from+1:]...)
	queued = append(queued[:to], append([]domain.Job{item}, queued[to:]...)...)

	var max int64
	for _, j := range m.jobs {
		if j.QueuePosition > max {
			max = j.QueuePosition
		}
	}
	for i, j := range queued {
		m.jobs[j.ID].QueuePosition = max + 1024 + int64(i)*1024
	}
	m.changed()
	return nil
}

func (m *mockLedger) Claim(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != domain.StatusQueued {
		return nil, domain.ErrNotClaimable
	}
	if err := job.TransitionTo(domain.StatusActive, at); err != nil {
		return nil, err
	}
	job.CancelRequested = false
	m.changed()
	c := job.Clone()
	return &c, nil
}

func (m *mockLedger) MaxQueuePosition(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, j := range m.jobs {
		if j.QueuePosition > max {
			max = j.QueuePosition
		}
	}
	return max, nil
}

func (m *mockLedger) RecoverStale(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, j := range m.jobs {
		if j.Status != domain.StatusActive {
			continue
		}
		if j.CancelRequested {
			j.Status = domain.StatusCancelled
			j.CompletedAt = &now
		} else {
			j.Status = domain.StatusQueued
		}
		j.Speed, j.ETA = 0, 0
		n++
	}
	m.changed()
	return n, nil
}

func (m *mockLedger) status(id string) domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Status
	}
	return ""
}

func (m *mockLedger) count(status domain.JobStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}

// mockBackend hands out streams the test finishes by hand, or finishes them
// immediately when auto is set.
type mockBackend struct {
	name  string
	types []domain.JobType

	mu           sync.Mutex
	unavailable  error
	auto         func(job *domain.Job) error
	ignoreCancel bool
	streams      map[string]*backend.Stream
	starts       map[string]int
	cancels      map[string]int
}

func newMockBackend(name string, types ...domain.JobType) *mockBackend {
	return &mockBackend{
		name:    name,
		types:   types,
		streams: make(map[string]*backend.Stream),
		starts:  make(map[string]int),
		cancels: make(map[string]int),
	}
}

func (b *mockBackend) Name() string { return b.name }

func (b *mockBackend) Handles(t domain.JobType) bool {
	for _, x := range b.types {
		if x == t {
			return true
		}
	}
	return false
}

func (b *mockBackend) Available() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unavailable
}

func (b *mockBackend) Resolve(ctx context.Context, url string, opts domain.ResolveOptions) (*domain.Descriptor, error) {
	return &domain.Descriptor{Metadata: domain.Metadata{Title: "resolved " + url}}, nil
}

func (b *mockBackend) Start(ctx context.Context, job *domain.Job, opts domain.StartOptions) (<-chan domain.Update, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := backend.NewStream()
	b.streams[job.ID] = s
	b.starts[job.ID]++
	if b.auto != nil {
		s.Finish(b.auto(job), "/downloads/"+job.ID)
	}
	go func() {
		<-ctx.Done()
		s.Finish(ctx.Err(), "")
	}()
	return s.Updates(), nil
}

func (b *mockBackend) Cancel(jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels[jobID]++
	if s, ok := b.streams[jobID]; ok && !b.ignoreCancel {
		s.Finish(domain.NewCancelledError(context.Canceled), "")
	}
	return nil
}

func (b *mockBackend) stream(id string) *backend.Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[id]
}

func (b *mockBackend) startCount(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts[id]
}

// staticSettings is a mutable domain.SettingsProvider.
type staticSettings struct {
	mu sync.Mutex
	s  domain.Settings
}

func (p *staticSettings) Current() domain.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.s
}

func (p *staticSettings) set(fn func(*domain.Settings)) domain.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.s)
	return p.s
}

type countingKeepAlive struct {
	mu   sync.Mutex
	held int
}

func (k *countingKeepAlive) Hold() {
	k.mu.Lock()
	k.held++
	k.mu.Unlock()
}

func (k *countingKeepAlive) Release() {
	k.mu.Lock()
	k.held--
	k.mu.Unlock()
}

func (k *countingKeepAlive) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.held
}
