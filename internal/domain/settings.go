package domain

import "time"

// TransferTuning is passed through untouched to the torrent backend.
type TransferTuning struct {
	Connections int
	Segments    int
	SegmentSize int64
}

// Settings is the queue configuration read by the manager.
type Settings struct {
	MaxConcurrentDownloads int
	TorrentMaxConcurrent   int
	QueueEnabled           bool
	RetryAttempts          int
	RetryDelay             time.Duration
	RetryResolutionErrors  bool
	Transfer               TransferTuning
	CookieFilePath         string
}

// Cap returns the concurrency cap for a backend class.
func (s Settings) Cap(c Class) int {
	if c == ClassTorrent {
		return s.TorrentMaxConcurrent
	}
	return s.MaxConcurrentDownloads
}

// StartOptions derives backend start options from the settings.
func (s Settings) StartOptions() StartOptions {
	return StartOptions{
		CookieFilePath: s.CookieFilePath,
		Transfer:       s.Transfer,
	}
}
