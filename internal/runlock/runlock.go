// Package runlock keeps two haul processes from sharing one ledger.
package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	lockDirName   = ".haul.lock"
	ownerFileName = "owner.json"
)

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("directory is locked by another haul process")

// Lock is a held directory lock.
type Lock struct {
	dir string
}

type owner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// Acquire takes the lock in dir. A lock left behind by a dead process on
// this host is reclaimed.
func Acquire(dir string) (*Lock, error) {
	target := strings.TrimSpace(dir)
	if target == "" {
		return nil, fmt.Errorf("lock directory is required")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", target, err)
	}

	lockDir := filepath.Join(target, lockDirName)
	for attempt := 0; ; attempt++ {
		err := os.Mkdir(lockDir, 0o755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire lock for %s: %w", target, err)
		}

		o, readErr := readOwner(lockDir)
		if attempt == 0 && readErr == nil && stale(o) {
			os.Remove(filepath.Join(lockDir, ownerFileName))
			os.Remove(lockDir)
			continue
		}
		if readErr == nil && o.PID > 0 {
			return nil, fmt.Errorf("%w: %s (pid=%d created_at=%s host=%s)",
				ErrLocked, target, o.PID, o.CreatedAt, o.Hostname)
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, target)
	}

	o := owner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostname(),
	}
	data, _ := json.Marshal(o)
	if err := os.WriteFile(filepath.Join(lockDir, ownerFileName), data, 0o644); err != nil {
		os.Remove(lockDir)
		return nil, fmt.Errorf("write lock owner for %s: %w", target, err)
	}
	return &Lock{dir: lockDir}, nil
}

// Release removes the lock. It is safe to call on a nil lock.
func (l *Lock) Release() error {
	if l == nil || l.dir == "" {
		return nil
	}
	os.Remove(filepath.Join(l.dir, ownerFileName))
	if err := os.Remove(l.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.dir, err)
	}
	return nil
}

func readOwner(lockDir string) (owner, error) {
	var o owner
	data, err := os.ReadFile(filepath.Join(lockDir, ownerFileName))
	if err != nil {
		return o, err
	}
	err = json.Unmarshal(data, &o)
	return o, err
}

// stale reports whether the owner was a process on this host that has exited.
func stale(o owner) bool {
	if o.PID <= 0 || o.Hostname != hostname() {
		return false
	}
	if o.PID == os.Getpid() {
		return false
	}
	return !alive(o.PID)
}

func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}
