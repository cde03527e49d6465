package loader

import (
	"time"

	"github.com/jkaberg/torsync/torrent/engine"
)

// ResumeStore keeps one resume descriptor per torrent, keyed by info hash.
type ResumeStore interface {
	SaveDescriptor(d engine.Descriptor) error
	DeleteDescriptor(hash string) error
	// ListDescriptors returns every stored descriptor plus the hashes of the
	// entries that could not be decoded.
	ListDescriptors() ([]engine.Descriptor, []string, error)
}

// Totals are the all time transfer counters kept across restarts.
type Totals struct {
	Downloaded int64         `json:"downloaded"`
	Uploaded   int64         `json:"uploaded"`
	Uptime     time.Duration `json:"uptime"`
}

type StatsStore interface {
	SaveTotals(t Totals) error
	LoadTotals() (Totals, error)
}

type Store interface {
	ResumeStore
	StatsStore
	Close() error
}
