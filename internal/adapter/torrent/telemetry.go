package torrent

import (
	"time"

	"github.com/cwygoda/haul/internal/domain"
)

// Sample is one reading of a torrent's counters.
type Sample struct {
	At         time.Time
	Completed  int64
	Length     int64
	Downloaded int64 // payload bytes read from peers
	Uploaded   int64 // payload bytes written to peers
	Peers      int
}

// sampler turns successive counter readings into rates.
type sampler struct {
	prev Sample
}

func newSampler(start time.Time) *sampler {
	return &sampler{prev: Sample{At: start}}
}

// Next returns the telemetry for s relative to the previous sample.
func (s *sampler) Next(cur Sample) domain.Telemetry {
	prev := s.prev
	s.prev = cur

	t := domain.Telemetry{SizeBytes: cur.Length}
	if cur.Length > 0 {
		t.ProgressPercent = float64(cur.Completed) / float64(cur.Length) * 100
	}

	var down, up int64
	if elapsed := cur.At.Sub(prev.At).Seconds(); elapsed > 0 {
		down = rate(cur.Downloaded-prev.Downloaded, elapsed)
		up = rate(cur.Uploaded-prev.Uploaded, elapsed)
	}
	t.Speed = down
	if down > 0 && cur.Length > cur.Completed {
		t.ETA = (cur.Length - cur.Completed) / down
	}

	peers := cur.Peers
	t.Peers = &peers
	t.UploadSpeed = &up
	var ratio float64
	if cur.Completed > 0 {
		ratio = float64(cur.Uploaded) / float64(cur.Completed)
	}
	t.Ratio = &ratio
	return t
}

func rate(delta int64, seconds float64) int64 {
	if delta <= 0 {
		return 0
	}
	return int64(float64(delta) / seconds)
}
