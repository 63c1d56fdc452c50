package media

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPlaylistID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/playlist?list=PL123", "PL123"},
		{"https://www.youtube.com/watch?v=abc&list=PL456&index=2", "PL456"},
		{"https://www.youtube.com/watch?v=abc", ""},
		{"::", ""},
	}
	for _, tt := range tests {
		if got := PlaylistID(tt.url); got != tt.want {
			t.Errorf("PlaylistID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestPlaylistExpander_Expand(t *testing.T) {
	var gotID string
	p := &PlaylistExpander{
		timeout: time.Second,
		list: func(ctx context.Context, id string) ([]PlaylistEntry, error) {
			gotID = id
			return []PlaylistEntry{{URL: "https://www.youtube.com/watch?v=a", Title: "A"}}, nil
		},
	}

	entries, err := p.Expand(context.Background(), "https://www.youtube.com/playlist?list=PL1")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if gotID != "PL1" || len(entries) != 1 {
		t.Errorf("Expand() id = %q entries = %v", gotID, entries)
	}

	if _, err := p.Expand(context.Background(), "https://www.youtube.com/watch?v=a"); err == nil {
		t.Error("Expand() without list id should fail")
	}

	p.list = func(ctx context.Context, id string) ([]PlaylistEntry, error) {
		return nil, errors.New("boom")
	}
	if _, err := p.Expand(context.Background(), "https://www.youtube.com/playlist?list=PL1"); err == nil {
		t.Error("Expand() should propagate list errors")
	}
}
