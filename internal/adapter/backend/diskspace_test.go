package backend

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cwygoda/haul/internal/domain"
)

func TestSpaceGuard_Check(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		min  uint64
		free uint64
		err  error
		want domain.ErrorKind
	}{
		{"disabled", 0, 0, nil, ""},
		{"enough", 100, 1000, nil, ""},
		{"low", 1000, 100, nil, domain.KindStorage},
		{"usage error", 1, 0, errors.New("statfs"), domain.KindStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var asked string
			g := NewSpaceGuard(filepath.Join(dir, "not", "yet"), tt.min)
			g.usage = func(p string) (uint64, error) {
				asked = p
				return tt.free, tt.err
			}
			if got := domain.KindOf(g.Check()); got != tt.want {
				t.Errorf("Check() kind = %q, want %q", got, tt.want)
			}
			if tt.min > 0 && asked != dir {
				t.Errorf("usage path = %q, want existing parent %q", asked, dir)
			}
		})
	}
}

func TestSpaceGuard_Nil(t *testing.T) {
	var g *SpaceGuard
	if err := g.Check(); err != nil {
		t.Errorf("nil guard Check() = %v", err)
	}
}
