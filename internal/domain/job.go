package domain

import "time"

// JobType selects the backend that handles a job.
type JobType string

const (
	TypeVideo   JobType = "VIDEO"
	TypeAudio   JobType = "AUDIO"
	TypeTorrent JobType = "TORRENT"
	TypeMagnet  JobType = "MAGNET"
)

// Class partitions job types for concurrency caps.
type Class string

const (
	ClassTransfer Class = "transfer"
	ClassTorrent  Class = "torrent"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case TypeVideo, TypeAudio, TypeTorrent, TypeMagnet:
		return true
	}
	return false
}

// Class returns the backend class of the type.
func (t JobType) Class() Class {
	if t == TypeTorrent || t == TypeMagnet {
		return ClassTorrent
	}
	return ClassTransfer
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "QUEUED"
	StatusActive    JobStatus = "ACTIVE"
	StatusFailed    JobStatus = "FAILED"
	StatusCompleted JobStatus = "COMPLETED"
	StatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal returns true for states a job only leaves by removal.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Job represents one user-requested download.
type Job struct {
	ID         string
	URL        string
	Type       JobType
	FormatSpec *string

	Title        string
	ThumbnailURL string
	WebpageURL   string
	Extractor    string

	Status          JobStatus
	ProgressPercent float64
	Speed           int64 // bytes per second
	ETA             int64 // seconds
	SizeBytes       int64

	// Torrent telemetry; nil for media jobs.
	Peers       *int
	UploadSpeed *int64
	Ratio       *float64

	ErrorMessage    string
	ErrorKind       ErrorKind
	RetryCount      int
	CancelRequested bool
	OutputPath      string

	AddedAt       time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	QueuePosition int64

	// RetryAt is when a FAILED job's automatic retry is due; nil when none
	// is pending.
	RetryAt *time.Time
}

// Metadata is the descriptive part of a job, populated once known.
type Metadata struct {
	Title        string
	ThumbnailURL string
	WebpageURL   string
	Extractor    string
}

// ApplyMetadata copies non-empty metadata fields onto the job.
func (j *Job) ApplyMetadata(m Metadata) {
	if m.Title != "" {
		j.Title = m.Title
	}
	if m.ThumbnailURL != "" {
		j.ThumbnailURL = m.ThumbnailURL
	}
	if m.WebpageURL != "" {
		j.WebpageURL = m.WebpageURL
	}
	if m.Extractor != "" {
		j.Extractor = m.Extractor
	}
}

// ApplyTelemetry records a progress snapshot. Only ACTIVE jobs accept telemetry.
func (j *Job) ApplyTelemetry(t Telemetry) bool {
	if j.Status != StatusActive {
		return false
	}
	j.ProgressPercent = clampPercent(t.ProgressPercent)
	j.Speed = t.Speed
	j.ETA = t.ETA
	if t.SizeBytes > 0 {
		j.SizeBytes = t.SizeBytes
	}
	if j.Type.Class() == ClassTorrent {
		j.Peers = t.Peers
		j.UploadSpeed = t.UploadSpeed
		j.Ratio = t.Ratio
	}
	return true
}

// CanRetry returns true if an automatic retry is still within budget.
func (j *Job) CanRetry(maxAttempts int) bool {
	return j.RetryCount < maxAttempts && !j.Status.IsTerminal()
}

// Clone returns a deep copy of the job.
func (j Job) Clone() Job {
	c := j
	if j.FormatSpec != nil {
		v := *j.FormatSpec
		c.FormatSpec = &v
	}
	if j.Peers != nil {
		v := *j.Peers
		c.Peers = &v
	}
	if j.UploadSpeed != nil {
		v := *j.UploadSpeed
		c.UploadSpeed = &v
	}
	if j.Ratio != nil {
		v := *j.Ratio
		c.Ratio = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	if j.RetryAt != nil {
		v := *j.RetryAt
		c.RetryAt = &v
	}
	return c
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
