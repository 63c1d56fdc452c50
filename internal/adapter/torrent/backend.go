package torrent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/adapter/backend"
	"github.com/cwygoda/haul/internal/domain"
)

const (
	telemetryInterval = time.Second
	metadataTimeout   = 2 * time.Minute
)

// Config configures the torrent client.
type Config struct {
	DataDir    string
	Seed       bool
	ListenPort int
}

// Backend downloads TORRENT and MAGNET jobs with an embedded BitTorrent client.
type Backend struct {
	cfg     Config
	guard   *backend.SpaceGuard
	tracker *backend.Tracker
	http    *resty.Client
	logger  *zap.Logger

	metadataTimeout time.Duration

	mu      sync.Mutex
	client  *torrent.Client
	initErr error
	// refs counts the jobs and lookups using each torrent in the client.
	refs map[metainfo.Hash]int
}

// New creates a torrent backend. The client is started on first use.
func New(cfg Config, guard *backend.SpaceGuard, logger *zap.Logger) *Backend {
	return &Backend{
		cfg:     cfg,
		guard:   guard,
		tracker: backend.NewTracker(),
		http:    resty.New().SetTimeout(30 * time.Second).SetRetryCount(2),
		logger:  logger.Named("torrent"),

		metadataTimeout: metadataTimeout,
		refs:            make(map[metainfo.Hash]int),
	}
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "torrent"
}

// Handles returns true for TORRENT and MAGNET jobs.
func (b *Backend) Handles(t domain.JobType) bool {
	return t == domain.TypeTorrent || t == domain.TypeMagnet
}

// Available reports a client that failed to start.
func (b *Backend) Available() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initErr != nil {
		return domain.NewBackendUnavailableError(fmt.Sprintf("torrent client: %v", b.initErr), b.initErr)
	}
	return nil
}

// Close shuts the client down.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.Close()
		b.client = nil
		b.refs = make(map[metainfo.Hash]int)
	}
}

func (b *Backend) ensureClient(tuning domain.TransferTuning) (*torrent.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	if b.initErr != nil {
		return nil, domain.NewBackendUnavailableError(fmt.Sprintf("torrent client: %v", b.initErr), b.initErr)
	}

	if err := os.MkdirAll(b.cfg.DataDir, 0755); err != nil {
		return nil, domain.NewStorageError(fmt.Sprintf("create data dir: %v", err), err)
	}
	client, err := torrent.NewClient(clientConfig(b.cfg, tuning))
	if err != nil {
		b.initErr = err
		b.logger.Error("client start failed", zap.Error(err))
		return nil, domain.NewBackendUnavailableError(fmt.Sprintf("torrent client: %v", err), err)
	}
	b.client = client
	return client, nil
}

func clientConfig(cfg Config, tuning domain.TransferTuning) *torrent.ClientConfig {
	cc := torrent.NewDefaultClientConfig()
	cc.DataDir = cfg.DataDir
	cc.Seed = cfg.Seed
	cc.NoUpload = !cfg.Seed
	// 0 picks a free port.
	cc.ListenPort = cfg.ListenPort
	if tuning.Connections > 0 {
		cc.EstablishedConnsPerTorrent = tuning.Connections
	}
	if tuning.Segments > 0 {
		cc.HalfOpenConnsPerTorrent = tuning.Segments
	}
	if tuning.SegmentSize > 0 {
		cc.MaxUnverifiedBytes = tuning.SegmentSize
	}
	return cc
}

// Resolve reads the torrent's name, size and file list without downloading.
func (b *Backend) Resolve(ctx context.Context, url string, opts domain.ResolveOptions) (*domain.Descriptor, error) {
	if domain.DetectType(url) != domain.TypeMagnet {
		mi, err := b.loadMetaInfo(ctx, url)
		if err != nil {
			return nil, err
		}
		return describeMetaInfo(mi)
	}

	client, err := b.ensureClient(domain.TransferTuning{})
	if err != nil {
		return nil, err
	}
	spec, err := torrent.TorrentSpecFromMagnetUri(url)
	if err != nil {
		return nil, domain.NewResolutionError(fmt.Sprintf("invalid magnet: %v", err), err)
	}
	t, err := b.attach(client, spec)
	if err != nil {
		return nil, domain.NewResolutionError(fmt.Sprintf("add magnet: %v", err), err)
	}
	defer b.release(t)

	ctx, cancel := context.WithTimeout(ctx, b.metadataTimeout)
	defer cancel()
	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		return nil, domain.NewNetworkError("timed out fetching torrent metadata", ctx.Err())
	}
	return describeInfo(t.Info()), nil
}

// Start adds the torrent to the client and downloads all of its files.
func (b *Backend) Start(ctx context.Context, job *domain.Job, opts domain.StartOptions) (<-chan domain.Update, error) {
	if err := b.guard.Check(); err != nil {
		return nil, err
	}
	client, err := b.ensureClient(opts.Transfer)
	if err != nil {
		return nil, err
	}

	runCtx, end := b.tracker.Begin(ctx, job.ID)
	stream := backend.NewStream()
	j := job.Clone()

	go func() {
		defer end()
		path, err := b.run(runCtx, client, &j, opts.Transfer, stream)
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

func (b *Backend) run(ctx context.Context, client *torrent.Client, job *domain.Job, tuning domain.TransferTuning, stream *backend.Stream) (string, error) {
	log := b.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)))

	t, err := b.add(ctx, client, job)
	if err != nil {
		return "", err
	}
	seeding := false
	defer func() {
		// A seeding torrent keeps its reference for the life of the client.
		if !seeding {
			b.release(t)
		}
	}()

	if tuning.Connections > 0 {
		t.SetMaxEstablishedConns(tuning.Connections)
	}

	timeout := time.NewTimer(b.metadataTimeout)
	defer timeout.Stop()
	select {
	case <-t.GotInfo():
	case <-timeout.C:
		return "", domain.NewResolutionError("timed out fetching torrent metadata", context.DeadlineExceeded)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	stream.ReportMetadata(domain.Metadata{Title: t.Name(), Extractor: "bittorrent"})
	t.DownloadAll()
	log.Info("torrent started", zap.String("name", t.Name()), zap.Int64("size", t.Length()))

	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	s := newSampler(time.Now())
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case now := <-ticker.C:
			st := t.Stats()
			sample := Sample{
				At:         now,
				Completed:  t.BytesCompleted(),
				Length:     t.Length(),
				Downloaded: st.BytesReadData.Int64(),
				Uploaded:   st.BytesWrittenData.Int64(),
				Peers:      st.ActivePeers,
			}
			stream.Report(s.Next(sample))

			if sample.Length > 0 && sample.Completed >= sample.Length {
				seeding = b.cfg.Seed
				log.Info("torrent complete", zap.Bool("seeding", seeding))
				return filepath.Join(b.cfg.DataDir, t.Name()), nil
			}
		}
	}
}

func (b *Backend) add(ctx context.Context, client *torrent.Client, job *domain.Job) (*torrent.Torrent, error) {
	if job.Type == domain.TypeMagnet {
		spec, err := torrent.TorrentSpecFromMagnetUri(job.URL)
		if err != nil {
			return nil, domain.NewResolutionError(fmt.Sprintf("invalid magnet: %v", err), err)
		}
		t, err := b.attach(client, spec)
		if err != nil {
			return nil, domain.NewResolutionError(fmt.Sprintf("add magnet: %v", err), err)
		}
		return t, nil
	}

	mi, err := b.loadMetaInfo(ctx, job.URL)
	if err != nil {
		return nil, err
	}
	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		return nil, domain.NewResolutionError(fmt.Sprintf("bad metainfo: %v", err), err)
	}
	t, err := b.attach(client, spec)
	if err != nil {
		return nil, domain.NewResolutionError(fmt.Sprintf("add torrent: %v", err), err)
	}
	return t, nil
}

// attach adds spec to the client, or joins the torrent already there, and
// takes a reference on it. Every attach must be paired with a release.
func (b *Backend) attach(client *torrent.Client, spec *torrent.TorrentSpec) (*torrent.Torrent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, _, err := client.AddTorrentSpec(spec)
	if err != nil {
		return nil, err
	}
	b.refs[t.InfoHash()]++
	return t, nil
}

// release drops a reference and removes the torrent from the client once no
// job or lookup is using it.
func (b *Backend) release(t *torrent.Torrent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := t.InfoHash()
	b.refs[h]--
	if b.refs[h] > 0 {
		return
	}
	delete(b.refs, h)
	t.Drop()
}
