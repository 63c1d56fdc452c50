package domain

import (
	"context"
	"time"
)

// JobLedger is the driven port for durable job storage.
type JobLedger interface {
	// Observe streams the ordered job list, starting with the current state.
	Observe(ctx context.Context) <-chan []Job
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) ([]Job, error)
	ListByStatus(ctx context.Context, status JobStatus) ([]Job, error)
	Upsert(ctx context.Context, job *Job) error
	UpsertAll(ctx context.Context, jobs []Job) error
	Remove(ctx context.Context, id string) error
	RemoveByStatuses(ctx context.Context, statuses ...JobStatus) (int64, error)
	ReorderQueued(ctx context.Context, from, to int) error
	// Claim atomically moves a QUEUED job to ACTIVE.
	Claim(ctx context.Context, id string, at time.Time) (*Job, error)
	MaxQueuePosition(ctx context.Context) (int64, error)
	// RecoverStale settles ACTIVE jobs left by a previous run: pending cancels
	// become CANCELLED, the rest QUEUED.
	RecoverStale(ctx context.Context) (int64, error)
}

// Backend is the driven port for an execution engine.
type Backend interface {
	Name() string
	Handles(t JobType) bool
	// Available returns a BackendUnavailable error when the engine cannot run jobs.
	Available() error
	Resolve(ctx context.Context, url string, opts ResolveOptions) (*Descriptor, error)
	// Start begins the transfer. The returned channel yields telemetry and
	// ends with exactly one terminal update before it is closed.
	Start(ctx context.Context, job *Job, opts StartOptions) (<-chan Update, error)
	// Cancel requests cooperative interruption of an in-flight Start.
	Cancel(jobID string) error
}

// SettingsProvider supplies the current configuration.
type SettingsProvider interface {
	Current() Settings
}

// KeepAlive keeps the hosting process alive while jobs are active.
type KeepAlive interface {
	Hold()
	Release()
}
