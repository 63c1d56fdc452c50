package backend

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/cwygoda/haul/internal/domain"
)

var (
	resolutionHints = []string{
		"unsupported url",
		"is not a valid url",
		"video unavailable",
		"private video",
		"this video has been removed",
		"requested format is not available",
		"http error 404",
		"http error 403",
		"invalid magnet",
		"bad metainfo",
		"unable to extract",
	}
	storageHints = []string{
		"no space left on device",
		"disk quota exceeded",
		"read-only file system",
		"permission denied",
		"file name too long",
	}
	unavailableHints = []string{
		"ffmpeg could not be found",
		"ffprobe could not be found",
		"executable file not found",
	}
)

// Classify turns a failed run and its captured output into a classified
// domain error. Output that matches no known pattern counts as network.
func Classify(err error, output string) error {
	if err == nil {
		return nil
	}
	var be *domain.BackendError
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewCancelledError(err)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return domain.NewBackendUnavailableError(err.Error(), err)
	}

	msg := lastLine(output)
	if msg == "" {
		msg = err.Error()
	}
	text := strings.ToLower(output + "\n" + err.Error())
	switch {
	case containsAny(text, unavailableHints):
		return domain.NewBackendUnavailableError(msg, err)
	case containsAny(text, storageHints):
		return domain.NewStorageError(msg, err)
	case containsAny(text, resolutionHints):
		return domain.NewResolutionError(msg, err)
	}
	return domain.NewNetworkError(msg, err)
}

func containsAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

// lastLine returns the last ERROR line of tool output, or the last non-empty line.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "ERROR:") {
			return truncate(l, 500)
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return truncate(l, 500)
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
