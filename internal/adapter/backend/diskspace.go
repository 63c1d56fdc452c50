package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/cwygoda/haul/internal/domain"
)

// SpaceGuard refuses to start transfers when the destination volume is low.
type SpaceGuard struct {
	Dir     string
	MinFree uint64

	// usage is replaced in tests.
	usage func(path string) (uint64, error)
}

// NewSpaceGuard creates a guard for dir. A zero minFree disables the check.
func NewSpaceGuard(dir string, minFree uint64) *SpaceGuard {
	return &SpaceGuard{Dir: dir, MinFree: minFree, usage: freeBytes}
}

// Check returns a storage error when free space is below the minimum.
func (g *SpaceGuard) Check() error {
	if g == nil || g.MinFree == 0 {
		return nil
	}
	free, err := g.usage(existingParent(g.Dir))
	if err != nil {
		return domain.NewStorageError(fmt.Sprintf("check free space on %s: %v", g.Dir, err), err)
	}
	if free < g.MinFree {
		return domain.NewStorageError(fmt.Sprintf("only %s free on %s, need %s",
			humanize.IBytes(free), g.Dir, humanize.IBytes(g.MinFree)), nil)
	}
	return nil
}

func freeBytes(path string) (uint64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// existingParent walks up from dir until it finds a path that exists.
func existingParent(dir string) string {
	p := filepath.Clean(dir)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
