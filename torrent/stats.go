package torrent

import (
	"sync"
	"time"

	"github.com/jkaberg/torsync/torrent/engine"
	"github.com/jkaberg/torsync/torrent/loader"
)

type GlobalTorrentStats struct {
	DownloadedBytes        int64   `json:"downloadedBytes"`
	UploadedBytes          int64   `json:"uploadedBytes"`
	SessionDownloadedBytes int64   `json:"sessionDownloadedBytes"`
	SessionUploadedBytes   int64   `json:"sessionUploadedBytes"`
	DownloadRate           float64 `json:"downloadRate"`
	UploadRate             float64 `json:"uploadRate"`
	TimePassed             float64 `json:"timePassed"`
	SessionTime            float64 `json:"sessionTime"`
}

type sample struct {
	at   time.Time
	down int64
	up   int64
}

// Stats adds the session counters reported by the engine to the totals
// persisted by earlier runs and keeps a window of samples for the current
// rates.
type Stats struct {
	mut sync.Mutex

	base    loader.Totals
	current engine.Counters

	lastAt  time.Time
	session time.Duration

	window  int
	samples []sample
}

func NewStats(base loader.Totals, window int) *Stats {
	if window < 2 {
		window = 2
	}
	return &Stats{
		base:   base,
		window: window,
	}
}

// Feed records the engine counters observed at at.
func (s *Stats) Feed(c engine.Counters, at time.Time) {
	s.mut.Lock()
	defer s.mut.Unlock()

	if !s.lastAt.IsZero() && at.After(s.lastAt) {
		s.session += at.Sub(s.lastAt)
	}
	if s.lastAt.IsZero() || at.After(s.lastAt) {
		s.lastAt = at
	}
	s.current = c

	s.samples = append(s.samples, sample{
		at:   at,
		down: c.Downloaded,
		up:   c.Uploaded,
	})
	if len(s.samples) > s.window {
		s.samples = s.samples[len(s.samples)-s.window:]
	}
}

// Totals returns the all time values to persist.
func (s *Stats) Totals() loader.Totals {
	s.mut.Lock()
	defer s.mut.Unlock()

	return loader.Totals{
		Downloaded: s.base.Downloaded + s.current.Downloaded,
		Uploaded:   s.base.Uploaded + s.current.Uploaded,
		Uptime:     s.base.Uptime + s.session,
	}
}

func (s *Stats) GlobalStats() *GlobalTorrentStats {
	s.mut.Lock()
	defer s.mut.Unlock()

	sd := s.current.Downloaded
	su := s.current.Uploaded

	down, up := s.rates()

	return &GlobalTorrentStats{
		DownloadedBytes:        s.base.Downloaded + sd,
		UploadedBytes:          s.base.Uploaded + su,
		SessionDownloadedBytes: sd,
		SessionUploadedBytes:   su,
		DownloadRate:           down,
		UploadRate:             up,
		TimePassed:             (s.base.Uptime + s.session).Seconds(),
		SessionTime:            s.session.Seconds(),
	}
}

// rates returns bytes per second over the sample window.
func (s *Stats) rates() (float64, float64) {
	if len(s.samples) < 2 {
		return 0, 0
	}

	first := s.samples[0]
	last := s.samples[len(s.samples)-1]
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	down := float64(last.down-first.down) / dt
	up := float64(last.up-first.up) / dt

	return max(down, 0), max(up, 0)
}
