package torrent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/cwygoda/haul/internal/domain"
)

const testInfoHash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

const testMagnet = "magnet:?xt=urn:btih:" + testInfoHash + "&dn=ubuntu"

// newOfflineBackend returns a backend whose client never reaches the network,
// so magnet metadata never arrives.
func newOfflineBackend(t *testing.T) (*Backend, *torrent.Client) {
	t.Helper()
	b := newTestBackend(t)
	cc := clientConfig(b.cfg, domain.TransferTuning{})
	cc.NoDHT = true
	cc.DisableTrackers = true
	cc.NoDefaultPortForwarding = true
	cc.ListenPort = 0
	client, err := torrent.NewClient(cc)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	b.client = client
	t.Cleanup(b.Close)
	return b, client
}

func magnetJob(id string) *domain.Job {
	return &domain.Job{ID: id, URL: testMagnet, Type: domain.TypeMagnet, Status: domain.StatusActive}
}

func terminal(t *testing.T, updates <-chan domain.Update) domain.Update {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				t.Fatal("stream closed without a terminal update")
			}
			if u.Done {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal update")
		}
	}
}

func (b *Backend) refCount(h metainfo.Hash) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs[h]
}

func waitRefs(t *testing.T, b *Backend, want int) {
	t.Helper()
	h := metainfo.NewHashFromHex(testInfoHash)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if b.refCount(h) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("refs = %d, want %d", b.refCount(h), want)
}

func TestBackend_CancelEndsRunAsCancelled(t *testing.T) {
	b, client := newOfflineBackend(t)

	updates, err := b.Start(context.Background(), magnetJob("a"), domain.StartOptions{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRefs(t, b, 1)

	if err := b.Cancel("a"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	u := terminal(t, updates)
	if kind := domain.KindOf(u.Err); kind != domain.KindCancelled {
		t.Errorf("terminal kind = %q (%v), want %q", kind, u.Err, domain.KindCancelled)
	}

	waitRefs(t, b, 0)
	if _, ok := client.Torrent(metainfo.NewHashFromHex(testInfoHash)); ok {
		t.Error("torrent still in client after cancel")
	}
}

func TestBackend_MetadataTimeout(t *testing.T) {
	b, _ := newOfflineBackend(t)
	b.metadataTimeout = 50 * time.Millisecond

	updates, err := b.Start(context.Background(), magnetJob("a"), domain.StartOptions{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	u := terminal(t, updates)
	if kind := domain.KindOf(u.Err); kind != domain.KindResolution {
		t.Errorf("terminal kind = %q (%v), want %q", kind, u.Err, domain.KindResolution)
	}
	if u.Err == nil || !strings.Contains(u.Err.Error(), "timed out fetching torrent metadata") {
		t.Errorf("terminal error = %v", u.Err)
	}
	waitRefs(t, b, 0)
}

func TestBackend_SharedTorrentOutlivesOneJob(t *testing.T) {
	b, client := newOfflineBackend(t)
	hash := metainfo.NewHashFromHex(testInfoHash)

	first, err := b.Start(context.Background(), magnetJob("a"), domain.StartOptions{})
	if err != nil {
		t.Fatalf("Start(a) error = %v", err)
	}
	second, err := b.Start(context.Background(), magnetJob("b"), domain.StartOptions{})
	if err != nil {
		t.Fatalf("Start(b) error = %v", err)
	}
	waitRefs(t, b, 2)

	b.Cancel("a")
	terminal(t, first)
	waitRefs(t, b, 1)
	if _, ok := client.Torrent(hash); !ok {
		t.Fatal("cancelling one job dropped the torrent another job is using")
	}

	b.Cancel("b")
	terminal(t, second)
	waitRefs(t, b, 0)
	if _, ok := client.Torrent(hash); ok {
		t.Error("torrent still in client after the last job ended")
	}
}

func TestBackend_AttachRelease(t *testing.T) {
	b, client := newOfflineBackend(t)
	hash := metainfo.NewHashFromHex(testInfoHash)

	spec, err := torrent.TorrentSpecFromMagnetUri(testMagnet)
	if err != nil {
		t.Fatalf("TorrentSpecFromMagnetUri() error = %v", err)
	}
	t1, err := b.attach(client, spec)
	if err != nil {
		t.Fatalf("attach() error = %v", err)
	}
	t2, err := b.attach(client, spec)
	if err != nil {
		t.Fatalf("second attach() error = %v", err)
	}
	if t1 != t2 {
		t.Error("attach() returned a different torrent for the same infohash")
	}

	b.release(t1)
	if _, ok := client.Torrent(hash); !ok {
		t.Fatal("release() dropped a torrent that is still referenced")
	}
	b.release(t2)
	if _, ok := client.Torrent(hash); ok {
		t.Error("release() kept an unreferenced torrent")
	}
}
