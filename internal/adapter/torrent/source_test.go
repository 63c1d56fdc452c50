package torrent

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
)

func testTorrent(t *testing.T) []byte {
	t.Helper()
	info := metainfo.Info{
		Name:        "ubuntu",
		PieceLength: 16384,
		Pieces:      make([]byte, 20),
		Files: []metainfo.FileInfo{
			{Length: 10, Path: []string{"disk.iso"}},
			{Length: 5, Path: []string{"docs", "README"}},
		},
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	mi := metainfo.MetaInfo{InfoBytes: infoBytes, Announce: "http://tracker.example/announce"}

	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		t.Fatalf("write metainfo: %v", err)
	}
	return buf.Bytes()
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	return New(Config{DataDir: t.TempDir()}, nil, zap.NewNop())
}

func TestBackend_ResolveRemoteTorrent(t *testing.T) {
	data := testTorrent(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ubuntu.torrent":
			w.Write(data)
		case "/busy.torrent":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := newTestBackend(t)
	b.http.SetRetryCount(0)

	desc, err := b.Resolve(context.Background(), srv.URL+"/ubuntu.torrent", domain.ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if desc.Title != "ubuntu" || desc.SizeBytes != 15 {
		t.Errorf("Resolve() = %+v", desc)
	}
	want := []string{"ubuntu/disk.iso", "ubuntu/docs/README"}
	if len(desc.Files) != 2 || desc.Files[0] != want[0] || desc.Files[1] != want[1] {
		t.Errorf("Files = %v, want %v", desc.Files, want)
	}

	tests := []struct {
		path string
		want domain.ErrorKind
	}{
		{"/missing.torrent", domain.KindResolution},
		{"/busy.torrent", domain.KindNetwork},
	}
	for _, tt := range tests {
		_, err := b.Resolve(context.Background(), srv.URL+tt.path, domain.ResolveOptions{})
		if got := domain.KindOf(err); got != tt.want {
			t.Errorf("Resolve(%s) kind = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestBackend_ResolveLocalTorrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ubuntu.torrent")
	if err := os.WriteFile(path, testTorrent(t), 0644); err != nil {
		t.Fatal(err)
	}

	b := newTestBackend(t)
	desc, err := b.Resolve(context.Background(), path, domain.ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if desc.Title != "ubuntu" {
		t.Errorf("Title = %q, want %q", desc.Title, "ubuntu")
	}

	broken := filepath.Join(t.TempDir(), "broken.torrent")
	os.WriteFile(broken, []byte("not bencode"), 0644)
	_, err = b.Resolve(context.Background(), broken, domain.ResolveOptions{})
	if domain.KindOf(err) != domain.KindResolution {
		t.Errorf("Resolve(broken) kind = %q, want %q", domain.KindOf(err), domain.KindResolution)
	}
}

func TestBackend_Handles(t *testing.T) {
	b := newTestBackend(t)
	if !b.Handles(domain.TypeTorrent) || !b.Handles(domain.TypeMagnet) {
		t.Error("torrent backend should handle TORRENT and MAGNET")
	}
	if b.Handles(domain.TypeAudio) {
		t.Error("torrent backend should not handle AUDIO")
	}
	if err := b.Available(); err != nil {
		t.Errorf("Available() before first use = %v", err)
	}
}

func TestClientConfig(t *testing.T) {
	cc := clientConfig(Config{DataDir: "/data", Seed: false, ListenPort: 6881},
		domain.TransferTuning{Connections: 40, Segments: 8, SegmentSize: 1 << 20})
	if cc.DataDir != "/data" || cc.ListenPort != 6881 {
		t.Errorf("DataDir/ListenPort = %q/%d", cc.DataDir, cc.ListenPort)
	}
	if cc.EstablishedConnsPerTorrent != 40 || cc.HalfOpenConnsPerTorrent != 8 {
		t.Errorf("conns = %d/%d, want 40/8", cc.EstablishedConnsPerTorrent, cc.HalfOpenConnsPerTorrent)
	}
	if cc.MaxUnverifiedBytes != 1<<20 {
		t.Errorf("MaxUnverifiedBytes = %d", cc.MaxUnverifiedBytes)
	}
	if !cc.NoUpload {
		t.Error("NoUpload = false without seeding")
	}
}
