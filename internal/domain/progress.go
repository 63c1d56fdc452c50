package domain

// Telemetry is one progress snapshot from a backend.
type Telemetry struct {
	ProgressPercent float64
	Speed           int64
	ETA             int64
	SizeBytes       int64
	Peers           *int
	UploadSpeed     *int64
	Ratio           *float64
}

// Update is one element of a backend progress stream. Exactly one update per
// stream has Done set; Err is nil on success.
type Update struct {
	Telemetry  *Telemetry
	Metadata   *Metadata
	Done       bool
	Err        error
	OutputPath string
}

// Format is one selectable rendition reported by Resolve.
type Format struct {
	ID         string
	Ext        string
	Resolution string
	Note       string
	SizeBytes  int64
}

// Descriptor is the result of inspecting a URL without enqueueing it.
type Descriptor struct {
	Metadata
	SizeBytes int64
	Formats   []Format
	Files     []string
}

// ResolveOptions carries per-call options for Resolve.
type ResolveOptions struct {
	CookieFilePath string
}

// StartOptions carries settings passed through to the backend.
type StartOptions struct {
	CookieFilePath string
	Transfer       TransferTuning
}
