package sqlite

import (
	"context"

	"github.com/cwygoda/haul/internal/domain"
)

type watcher struct {
	wake chan struct{}
}

// Observe streams the ordered job list. The first value is the current state;
// each committed mutation wakes the subscriber, which re-reads the list, so a
// slow reader sees the latest snapshot rather than every intermediate one.
// The channel is closed when ctx ends.
func (r *Repository) Observe(ctx context.Context) <-chan []domain.Job {
	w := &watcher{wake: make(chan struct{}, 1)}
	w.wake <- struct{}{}

	r.mu.Lock()
	r.watchers[w] = struct{}{}
	r.mu.Unlock()

	out := make(chan []domain.Job)
	go func() {
		defer close(out)
		defer func() {
			r.mu.Lock()
			delete(r.watchers, w)
			r.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
			}

			jobs, err := r.List(ctx)
			if err != nil {
				// Closed database or cancelled context; wait for the next wake.
				if ctx.Err() != nil {
					return
				}
				continue
			}

			select {
			case out <- jobs:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (r *Repository) notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for w := range r.watchers {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}
