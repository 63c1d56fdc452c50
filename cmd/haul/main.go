package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/adapter/backend"
	httpAdapter "github.com/cwygoda/haul/internal/adapter/http"
	"github.com/cwygoda/haul/internal/adapter/media"
	"github.com/cwygoda/haul/internal/adapter/sqlite"
	"github.com/cwygoda/haul/internal/adapter/torrent"
	"github.com/cwygoda/haul/internal/adapter/tui"
	"github.com/cwygoda/haul/internal/config"
	"github.com/cwygoda/haul/internal/keepalive"
	"github.com/cwygoda/haul/internal/logger"
	"github.com/cwygoda/haul/internal/queue"
	"github.com/cwygoda/haul/internal/runlock"
)

const (
	drainGrace      = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "haul: %v\n", err)
		os.Exit(1)
	}
}

func run(flags config.Flags) error {
	provider, err := config.NewProvider(flags.ConfigPath, flags)
	if err != nil {
		return err
	}
	cfg := provider.Config()

	dataDir := filepath.Dir(cfg.Storage.DBPath)
	lock, err := runlock.Acquire(dataDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	// The dashboard owns the terminal, so logs go to a file beside the ledger.
	var logOut io.Writer = os.Stderr
	if flags.TUI {
		f, err := os.OpenFile(filepath.Join(dataDir, "haul.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format, logOut)
	defer log.Sync()

	log.Info("starting haul",
		zap.Int("port", cfg.Server.Port),
		zap.String("db", cfg.Storage.DBPath),
		zap.String("download_dir", cfg.Storage.DownloadDir))

	repo, err := sqlite.New(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer repo.Close()

	guard := backend.NewSpaceGuard(cfg.Storage.DownloadDir, cfg.Storage.MinFreeBytes)
	mediaBackend := media.New(cfg.Storage.DownloadDir, guard, log)
	torrentBackend := torrent.New(torrent.Config{
		DataDir:    cfg.Storage.DownloadDir,
		Seed:       cfg.Torrent.Seed,
		ListenPort: cfg.Torrent.ListenPort,
	}, guard, log)
	defer torrentBackend.Close()

	for _, b := range []interface {
		Name() string
		Available() error
	}{mediaBackend, torrentBackend} {
		if err := b.Available(); err != nil {
			log.Warn("backend unavailable", zap.String("backend", b.Name()), zap.Error(err))
		}
	}

	keep := keepalive.New(log)
	mgr := queue.New(repo, backend.NewRegistry(mediaBackend, torrentBackend), provider, log,
		queue.WithKeepAlive(keep))
	provider.OnChange(mgr.ApplySettings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := httpAdapter.NewServer(mgr, media.NewPlaylistExpander(), addr, cfg.Server.Secret, log)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	if flags.TUI {
		go func() {
			defer close(done)
			if err := tui.Run(ctx, mgr, mgr.Alerts()); err != nil {
				log.Error("dashboard error", zap.Error(err))
			}
		}()
	} else {
		go logAlerts(ctx, log, mgr.Alerts())
	}

wait:
	for {
		select {
		case <-done:
			break wait
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := provider.Reload(); err != nil {
					log.Error("config reload failed", zap.Error(err))
				} else {
					log.Info("config reloaded")
				}
				continue
			}
			log.Info("received signal, shutting down", zap.String("signal", sig.String()))
			break wait
		}
	}

	drain(log, mgr, keep, sigCh)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("shutdown complete")
	return nil
}

// drain stops admissions and waits for active jobs until the grace period
// ends or another signal arrives, then interrupts what is left.
func drain(log *zap.Logger, mgr *queue.Manager, keep *keepalive.Guard, sigCh <-chan os.Signal) {
	mgr.PauseQueue()

	if n := keep.Active(); n > 0 {
		log.Info("waiting for active jobs", zap.Int("active", n), zap.Duration("grace", drainGrace))
		ctx, cancel := context.WithTimeout(context.Background(), drainGrace)
		go func() {
			select {
			case <-sigCh:
			case <-ctx.Done():
			}
			cancel()
		}()
		if err := keep.Wait(ctx); err != nil {
			log.Warn("interrupting active jobs", zap.Int("active", keep.Active()))
		}
		cancel()
	}

	mgr.Stop()
}

func logAlerts(ctx context.Context, log *zap.Logger, alerts <-chan queue.Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-alerts:
			log.Error("queue alert",
				zap.String("kind", string(a.Kind)),
				zap.String("job_id", a.JobID),
				zap.String("error", a.Message))
		}
	}
}
