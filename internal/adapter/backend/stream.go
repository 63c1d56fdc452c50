package backend

import (
	"sync"

	"github.com/cwygoda/haul/internal/domain"
)

// Stream is the producer side of a backend progress stream. Progress reports
// never block the producer; while the consumer is behind, telemetry is
// replaced by the newest snapshot and metadata is merged. Finish delivers
// exactly one terminal update and closes the channel.
type Stream struct {
	out    chan domain.Update
	signal chan struct{}

	mu       sync.Mutex
	pending  *domain.Update
	terminal *domain.Update
}

// NewStream creates a stream and starts its delivery goroutine.
func NewStream() *Stream {
	s := &Stream{
		out:    make(chan domain.Update),
		signal: make(chan struct{}, 1),
	}
	go s.pump()
	return s
}

// Updates returns the consumer side.
func (s *Stream) Updates() <-chan domain.Update {
	return s.out
}

// Report queues a telemetry snapshot. Dropped after Finish.
func (s *Stream) Report(t domain.Telemetry) {
	s.mu.Lock()
	if s.terminal != nil {
		s.mu.Unlock()
		return
	}
	if s.pending == nil {
		s.pending = &domain.Update{}
	}
	s.pending.Telemetry = &t
	s.mu.Unlock()
	s.wake()
}

// ReportMetadata queues newly discovered metadata. Dropped after Finish.
func (s *Stream) ReportMetadata(m domain.Metadata) {
	s.mu.Lock()
	if s.terminal != nil {
		s.mu.Unlock()
		return
	}
	if s.pending == nil {
		s.pending = &domain.Update{}
	}
	if s.pending.Metadata == nil {
		s.pending.Metadata = &domain.Metadata{}
	}
	merged := domain.Job{}
	merged.ApplyMetadata(*s.pending.Metadata)
	merged.ApplyMetadata(m)
	s.pending.Metadata = &domain.Metadata{
		Title:        merged.Title,
		ThumbnailURL: merged.ThumbnailURL,
		WebpageURL:   merged.WebpageURL,
		Extractor:    merged.Extractor,
	}
	s.mu.Unlock()
	s.wake()
}

// Finish records the terminal outcome. Only the first call has any effect;
// it reports whether this call was that one.
func (s *Stream) Finish(err error, outputPath string) bool {
	s.mu.Lock()
	if s.terminal != nil {
		s.mu.Unlock()
		return false
	}
	s.terminal = &domain.Update{Done: true, Err: err, OutputPath: outputPath}
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Stream) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Stream) pump() {
	defer close(s.out)
	for range s.signal {
		s.mu.Lock()
		pending, terminal := s.pending, s.terminal
		s.pending = nil
		s.mu.Unlock()

		if pending != nil {
			s.out <- *pending
		}
		if terminal != nil {
			s.out <- *terminal
			return
		}
	}
}
