package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/cwygoda/haul/internal/domain"
)

type mockBackend struct {
	name  string
	types []domain.JobType
}

func (m *mockBackend) Name() string { return m.name }
func (m *mockBackend) Handles(t domain.JobType) bool {
	for _, x := range m.types {
		if x == t {
			return true
		}
	}
	return false
}
func (m *mockBackend) Available() error { return nil }
func (m *mockBackend) Resolve(ctx context.Context, url string, opts domain.ResolveOptions) (*domain.Descriptor, error) {
	return &domain.Descriptor{}, nil
}
func (m *mockBackend) Start(ctx context.Context, job *domain.Job, opts domain.StartOptions) (<-chan domain.Update, error) {
	return nil, nil
}
func (m *mockBackend) Cancel(jobID string) error { return nil }

func TestRegistry_For(t *testing.T) {
	media := &mockBackend{name: "media", types: []domain.JobType{domain.TypeVideo, domain.TypeAudio}}
	torrent := &mockBackend{name: "torrent", types: []domain.JobType{domain.TypeTorrent, domain.TypeMagnet}}
	r := NewRegistry(media)
	r.Register(torrent)

	tests := []struct {
		typ      domain.JobType
		wantName string
	}{
		{domain.TypeVideo, "media"},
		{domain.TypeAudio, "media"},
		{domain.TypeTorrent, "torrent"},
		{domain.TypeMagnet, "torrent"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			b, err := r.For(tt.typ)
			if err != nil {
				t.Fatalf("For() error = %v", err)
			}
			if b.Name() != tt.wantName {
				t.Errorf("For() name = %q, want %q", b.Name(), tt.wantName)
			}
		})
	}

	if len(r.Backends()) != 2 {
		t.Errorf("Backends() len = %d, want 2", len(r.Backends()))
	}
}

func TestRegistry_For_NoMatch(t *testing.T) {
	r := NewRegistry()
	_, err := r.For(domain.TypeVideo)
	if !errors.Is(err, domain.ErrNoBackend) {
		t.Errorf("For() error = %v, want %v", err, domain.ErrNoBackend)
	}
}
