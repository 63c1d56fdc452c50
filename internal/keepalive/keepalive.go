// Package keepalive tracks in-flight work so the process can wait for it
// before exiting.
package keepalive

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Guard counts holds. It is released when the count returns to zero.
type Guard struct {
	logger *zap.Logger

	mu    sync.Mutex
	count int
	idle  chan struct{}
}

// New returns an idle guard.
func New(logger *zap.Logger) *Guard {
	idle := make(chan struct{})
	close(idle)
	return &Guard{logger: logger.Named("keepalive"), idle: idle}
}

// Hold registers one unit of active work.
func (g *Guard) Hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 {
		g.idle = make(chan struct{})
		g.logger.Debug("holding process")
	}
	g.count++
}

// Release drops one unit of active work. Extra releases are ignored.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 {
		return
	}
	g.count--
	if g.count == 0 {
		close(g.idle)
		g.logger.Debug("process idle")
	}
}

// Active returns the number of outstanding holds.
func (g *Guard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Wait blocks until no holds remain or ctx ends.
func (g *Guard) Wait(ctx context.Context) error {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
