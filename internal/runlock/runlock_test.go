package runlock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := Acquire(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire() error = %v, want ErrLocked", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockDirName)); !os.IsNotExist(err) {
		t.Error("lock directory still exists after Release()")
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() after Release() error = %v", err)
	}
	again.Release()
}

func TestAcquire_ReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	lockDir := filepath.Join(dir, lockDirName)
	os.Mkdir(lockDir, 0o755)

	// PIDs this large are not handed out on Linux.
	data, _ := json.Marshal(owner{PID: 1 << 30, CreatedAt: "2020-01-01T00:00:00Z", Hostname: hostname()})
	os.WriteFile(filepath.Join(lockDir, ownerFileName), data, 0o644)

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() over stale lock error = %v", err)
	}
	defer lock.Release()

	o, err := readOwner(lockDir)
	if err != nil || o.PID != os.Getpid() {
		t.Errorf("owner = %+v, %v; want current pid", o, err)
	}
}

func TestAcquire_ForeignHostNotReclaimed(t *testing.T) {
	dir := t.TempDir()
	lockDir := filepath.Join(dir, lockDirName)
	os.Mkdir(lockDir, 0o755)
	data, _ := json.Marshal(owner{PID: 1 << 30, CreatedAt: "2020-01-01T00:00:00Z", Hostname: "elsewhere"})
	os.WriteFile(filepath.Join(lockDir, ownerFileName), data, 0o644)

	if _, err := Acquire(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("Acquire() error = %v, want ErrLocked", err)
	}
}

func TestAcquire_EmptyDir(t *testing.T) {
	if _, err := Acquire("  "); err == nil {
		t.Error("Acquire() accepted an empty directory")
	}
}

func TestRelease_Nil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("Release() on nil = %v", err)
	}
}
