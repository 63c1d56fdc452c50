package http

import (
	"time"

	"github.com/cwygoda/haul/internal/domain"
)

// jobResponse is the JSON form of a job.
type jobResponse struct {
	ID              string   `json:"id"`
	URL             string   `json:"url"`
	Type            string   `json:"type"`
	FormatSpec      *string  `json:"format_spec,omitempty"`
	Title           string   `json:"title,omitempty"`
	ThumbnailURL    string   `json:"thumbnail_url,omitempty"`
	WebpageURL      string   `json:"webpage_url,omitempty"`
	Extractor       string   `json:"extractor,omitempty"`
	Status          string   `json:"status"`
	ProgressPercent float64  `json:"progress_percent"`
	Speed           int64    `json:"speed"`
	ETA             int64    `json:"eta"`
	SizeBytes       int64    `json:"size_bytes"`
	Peers           *int     `json:"peers,omitempty"`
	UploadSpeed     *int64   `json:"upload_speed,omitempty"`
	Ratio           *float64 `json:"ratio,omitempty"`
	Error           string   `json:"error,omitempty"`
	ErrorKind       string   `json:"error_kind,omitempty"`
	RetryCount      int      `json:"retry_count"`
	CancelRequested bool     `json:"cancel_requested"`
	OutputPath      string   `json:"output_path,omitempty"`
	AddedAt         string   `json:"added_at"`
	StartedAt       string   `json:"started_at,omitempty"`
	CompletedAt     string   `json:"completed_at,omitempty"`
	QueuePosition   int64    `json:"queue_position"`
}

type formatResponse struct {
	ID         string `json:"id"`
	Ext        string `json:"ext,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Note       string `json:"note,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
}

type descriptorResponse struct {
	Title        string           `json:"title,omitempty"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty"`
	WebpageURL   string           `json:"webpage_url,omitempty"`
	Extractor    string           `json:"extractor,omitempty"`
	SizeBytes    int64            `json:"size_bytes,omitempty"`
	Formats      []formatResponse `json:"formats,omitempty"`
	Files        []string         `json:"files,omitempty"`
}

func jobToResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:              job.ID,
		URL:             job.URL,
		Type:            string(job.Type),
		FormatSpec:      job.FormatSpec,
		Title:           job.Title,
		ThumbnailURL:    job.ThumbnailURL,
		WebpageURL:      job.WebpageURL,
		Extractor:       job.Extractor,
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		Speed:           job.Speed,
		ETA:             job.ETA,
		SizeBytes:       job.SizeBytes,
		Peers:           job.Peers,
		UploadSpeed:     job.UploadSpeed,
		Ratio:           job.Ratio,
		Error:           job.ErrorMessage,
		ErrorKind:       string(job.ErrorKind),
		RetryCount:      job.RetryCount,
		CancelRequested: job.CancelRequested,
		OutputPath:      job.OutputPath,
		AddedAt:         formatTime(&job.AddedAt),
		StartedAt:       formatTime(job.StartedAt),
		CompletedAt:     formatTime(job.CompletedAt),
		QueuePosition:   job.QueuePosition,
	}
}

func jobsToResponse(jobs []domain.Job) []jobResponse {
	out := make([]jobResponse, len(jobs))
	for i := range jobs {
		out[i] = jobToResponse(&jobs[i])
	}
	return out
}

func descriptorToResponse(d *domain.Descriptor) descriptorResponse {
	resp := descriptorResponse{
		Title:        d.Title,
		ThumbnailURL: d.ThumbnailURL,
		WebpageURL:   d.WebpageURL,
		Extractor:    d.Extractor,
		SizeBytes:    d.SizeBytes,
		Files:        d.Files,
	}
	for _, f := range d.Formats {
		resp.Formats = append(resp.Formats, formatResponse(f))
	}
	return resp
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
