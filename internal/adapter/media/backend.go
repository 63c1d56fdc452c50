package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/adapter/backend"
	"github.com/cwygoda/haul/internal/domain"
)

const (
	defaultVideoFormat = "bv*+ba/b"
	defaultAudioFormat = "ba/b"
	progressInterval   = 500 * time.Millisecond
)

// fetchFunc runs one yt-dlp download of url into dir.
type fetchFunc func(ctx context.Context, req fetchRequest) (stderr string, err error)

type fetchRequest struct {
	URL      string
	Type     domain.JobType
	Format   string
	Dir      string
	Cookies  string
	Progress func(domain.Telemetry, *domain.Metadata)
}

// Backend downloads VIDEO and AUDIO jobs with yt-dlp.
type Backend struct {
	downloadDir string
	guard       *backend.SpaceGuard
	tracker     *backend.Tracker
	logger      *zap.Logger

	lookPath func(string) (string, error)
	fetch    fetchFunc
	inspect  func(ctx context.Context, url, cookies string) ([]byte, error)
}

// New creates a media backend writing into downloadDir.
func New(downloadDir string, guard *backend.SpaceGuard, logger *zap.Logger) *Backend {
	return &Backend{
		downloadDir: downloadDir,
		guard:       guard,
		tracker:     backend.NewTracker(),
		logger:      logger.Named("media"),
		lookPath:    exec.LookPath,
		fetch:       fetchWithYtdlp,
		inspect:     inspectWithYtdlp,
	}
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "media"
}

// Handles returns true for VIDEO and AUDIO jobs.
func (b *Backend) Handles(t domain.JobType) bool {
	return t == domain.TypeVideo || t == domain.TypeAudio
}

// Available checks that yt-dlp and ffmpeg are on PATH.
func (b *Backend) Available() error {
	for _, bin := range []string{"yt-dlp", "ffmpeg"} {
		if _, err := b.lookPath(bin); err != nil {
			return domain.NewBackendUnavailableError(fmt.Sprintf("%s not found in PATH", bin), err)
		}
	}
	return nil
}

// Resolve inspects url without downloading it.
func (b *Backend) Resolve(ctx context.Context, url string, opts domain.ResolveOptions) (*domain.Descriptor, error) {
	if err := b.Available(); err != nil {
		return nil, err
	}
	out, err := b.inspect(ctx, url, opts.CookieFilePath)
	if err != nil {
		return nil, err
	}
	return ParseInfo(out)
}

// Start begins the download in the background.
func (b *Backend) Start(ctx context.Context, job *domain.Job, opts domain.StartOptions) (<-chan domain.Update, error) {
	if err := b.Available(); err != nil {
		return nil, err
	}
	if err := b.guard.Check(); err != nil {
		return nil, err
	}

	runCtx, end := b.tracker.Begin(ctx, job.ID)
	stream := backend.NewStream()
	j := job.Clone()

	go func() {
		defer end()
		path, err := b.run(runCtx, &j, opts, stream)
		if err != nil && runCtx.Err() != nil {
			err = domain.NewCancelledError(runCtx.Err())
		}
		stream.Finish(err, path)
	}()
	return stream.Updates(), nil
}

// Cancel interrupts the job's download, if running.
func (b *Backend) Cancel(jobID string) error {
	if !b.tracker.Cancel(jobID) {
		b.logger.Debug("cancel for unknown run", zap.String("job_id", jobID))
	}
	return nil
}

func (b *Backend) run(ctx context.Context, job *domain.Job, opts domain.StartOptions, stream *backend.Stream) (string, error) {
	log := b.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)))

	if job.Title == "" {
		if desc, err := b.Resolve(ctx, job.URL, domain.ResolveOptions{CookieFilePath: opts.CookieFilePath}); err == nil {
			job.ApplyMetadata(desc.Metadata)
			stream.ReportMetadata(desc.Metadata)
		} else if ctx.Err() != nil {
			return "", ctx.Err()
		} else {
			log.Debug("metadata lookup failed", zap.Error(err))
		}
	}

	tempDir, err := os.MkdirTemp("", fmt.Sprintf("haul-job-%s-*", job.ID))
	if err != nil {
		return "", domain.NewStorageError("create temp dir", err)
	}
	log.Debug("running isolated", zap.String("dir", tempDir))
	defer os.RemoveAll(tempDir)

	stderr, err := b.fetch(ctx, fetchRequest{
		URL:     job.URL,
		Type:    job.Type,
		Format:  formatFor(job),
		Dir:     tempDir,
		Cookies: opts.CookieFilePath,
		Progress: func(t domain.Telemetry, m *domain.Metadata) {
			if m != nil {
				stream.ReportMetadata(*m)
			}
			stream.Report(t)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", backend.Classify(err, stderr)
	}

	moved, err := moveFiles(tempDir, b.downloadDir)
	if err != nil {
		return "", domain.NewStorageError(fmt.Sprintf("move files: %v", err), err)
	}
	log.Info("download finished", zap.Strings("files", moved))
	if len(moved) == 0 {
		return b.downloadDir, nil
	}

	out := moved[0]
	if job.Type == domain.TypeAudio && strings.EqualFold(filepath.Ext(out), ".mp3") {
		if err := writeTags(out, job); err != nil {
			log.Warn("tagging failed", zap.String("file", out), zap.Error(err))
		}
	}
	return out, nil
}

// formatFor returns the job's format override or the default for its type.
func formatFor(job *domain.Job) string {
	if job.FormatSpec != nil && *job.FormatSpec != "" {
		return *job.FormatSpec
	}
	if job.Type == domain.TypeAudio {
		return defaultAudioFormat
	}
	return defaultVideoFormat
}

func fetchWithYtdlp(ctx context.Context, req fetchRequest) (string, error) {
	dl := ytdlp.New().
		NoPlaylist().
		RestrictFilenames().
		Format(req.Format).
		Output(filepath.Join(req.Dir, "%(title)s.%(ext)s"))
	if req.Type == domain.TypeAudio {
		dl.ExtractAudio().AudioFormat("mp3")
	} else {
		dl.MergeOutputFormat("mp4")
	}
	if req.Cookies != "" {
		dl.Cookies(req.Cookies)
	}

	dl.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		var meta *domain.Metadata
		if update.Info != nil && update.Info.Title != nil && *update.Info.Title != "" {
			meta = &domain.Metadata{Title: *update.Info.Title}
		}
		req.Progress(telemetryFrom(int64(update.DownloadedBytes), int64(update.TotalBytes), update.Started, update.ETA()), meta)
	})

	result, err := dl.Run(ctx, req.URL)
	if err != nil {
		if result != nil {
			return result.Stderr, err
		}
		return "", err
	}
	return "", nil
}

func inspectWithYtdlp(ctx context.Context, url, cookies string) ([]byte, error) {
	dl := ytdlp.New().
		SkipDownload().
		DumpSingleJSON().
		NoPlaylist()
	if cookies != "" {
		dl.Cookies(cookies)
	}
	result, err := dl.Run(ctx, url)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = result.Stderr
		}
		return nil, backend.Classify(err, stderr)
	}
	return []byte(result.Stdout), nil
}

// telemetryFrom converts byte counters into a progress snapshot.
func telemetryFrom(downloaded, total int64, started time.Time, eta time.Duration) domain.Telemetry {
	t := domain.Telemetry{SizeBytes: total}
	if total > 0 {
		t.ProgressPercent = float64(downloaded) / float64(total) * 100
	}
	if !started.IsZero() {
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			t.Speed = int64(float64(downloaded) / elapsed)
		}
	}
	if eta > 0 {
		t.ETA = int64(eta.Seconds())
	}
	return t
}
