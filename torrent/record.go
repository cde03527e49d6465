package torrent

import (
	"slices"
	"sync"

	"github.com/jkaberg/torsync/torrent/engine"
)

// fields that make the stored resume state outdated
const unsavedFields = FieldName | FieldState | FieldProgress | FieldQueue | FieldSavePath

// Record is the application view of one torrent. The reactive loop mutates
// it; any goroutine may read it through the accessors.
type Record struct {
	id     uint64
	handle engine.Handle
	hash   string

	mu       sync.RWMutex
	status   engine.Status
	peers    []engine.Peer
	trackers []engine.Tracker
	files    []engine.FileProgress
	magnet   string
	fresh    bool
	settled  bool
	dirty    bool
	removed  bool
	cleanups []func()
}

func newRecord(id uint64, h engine.Handle, hash, name string) *Record {
	return &Record{
		id:     id,
		handle: h,
		hash:   hash,
		status: engine.Status{
			Name:     name,
			InfoHash: hash,
			ETA:      engine.ETAUnknown,
		},
	}
}

func (r *Record) ID() uint64            { return r.id }
func (r *Record) Handle() engine.Handle { return r.handle }
func (r *Record) InfoHash() string      { return r.hash }

func (r *Record) Status() engine.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Record) Peers() []engine.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.peers)
}

func (r *Record) Trackers() []engine.Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.trackers)
}

func (r *Record) Files() []engine.FileProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.files)
}

// Magnet is the correlation link recorded when the torrent was added by a
// user action. It is empty for torrents restored from resume state.
func (r *Record) Magnet() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.magnet
}

// Fresh reports whether the torrent was just added by the user and is still
// highlighted.
func (r *Record) Fresh() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fresh
}

func (r *Record) Settled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settled
}

func (r *Record) Removed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.removed
}

func (r *Record) unsaved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// replace swaps in a new snapshot and returns the fields that changed.
func (r *Record) replace(s engine.Snapshot) Field {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removed {
		return 0
	}

	f := diffStatus(r.status, s.Status)
	if len(r.peers) != len(s.Peers) {
		f |= FieldPeers
	}

	r.status = s.Status
	r.peers = s.Peers
	r.trackers = s.Trackers
	r.files = s.Files
	if f&unsavedFields != 0 {
		r.dirty = true
	}

	return f
}

func diffStatus(a, b engine.Status) Field {
	var f Field
	if a.Name != b.Name {
		f |= FieldName
	}
	if a.State != b.State || a.Paused != b.Paused {
		f |= FieldState
	}
	if a.Progress != b.Progress || a.Completed != b.Completed {
		f |= FieldProgress
	}
	if a.DownloadRate != b.DownloadRate {
		f |= FieldDownloadRate
	}
	if a.UploadRate != b.UploadRate {
		f |= FieldUploadRate
	}
	if a.TotalSize != b.TotalSize {
		f |= FieldSize
	}
	if a.QueuePosition != b.QueuePosition {
		f |= FieldQueue
	}
	if a.ETA != b.ETA {
		f |= FieldETA
	}
	if a.Error != b.Error {
		f |= FieldError
	}
	if a.NumPeers != b.NumPeers || a.NumSeeds != b.NumSeeds {
		f |= FieldPeers
	}
	if a.SavePath != b.SavePath {
		f |= FieldSavePath
	}
	if !a.AddedAt.Equal(b.AddedAt) {
		f |= FieldAddedAt
	}
	return f
}

func (r *Record) setMagnet(m string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.magnet = m
}

func (r *Record) setFresh(fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return
	}
	r.fresh = fresh
	r.settled = !fresh
}

func (r *Record) setSavePath(p string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed || r.status.SavePath == p {
		return false
	}
	r.status.SavePath = p
	r.dirty = true
	return true
}

func (r *Record) markSaved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = false
}

// onTeardown registers fn to run when the record is removed. It runs right
// away if the record is already gone.
func (r *Record) onTeardown(fn func()) {
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		fn()
		return
	}
	r.cleanups = append(r.cleanups, fn)
	r.mu.Unlock()
}

// teardown releases record-local timers and subscriptions. Later mutations
// are no-ops.
func (r *Record) teardown() {
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return
	}
	r.removed = true
	cleanups := r.cleanups
	r.cleanups = nil
	r.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}
}
