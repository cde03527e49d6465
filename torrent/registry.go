package torrent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jkaberg/torsync/torrent/engine"
)

// Registry maps engine handles to records. Entries are created only when the
// engine reports an added torrent and removed only by Remove or Clear.
//
// Only the reactive loop mutates the registry; the lock lets other goroutines
// read it.
type Registry struct {
	mu       sync.RWMutex
	nextID   uint64
	byHandle map[engine.Handle]*Record
	byID     map[uint64]*Record

	eng    engine.Engine
	notify func(ids []uint64, f Field)
}

func NewRegistry(eng engine.Engine, notify func(ids []uint64, f Field)) *Registry {
	if notify == nil {
		notify = func([]uint64, Field) {}
	}
	return &Registry{
		byHandle: make(map[engine.Handle]*Record),
		byID:     make(map[uint64]*Record),
		eng:      eng,
		notify:   notify,
	}
}

// Add registers a record for h. If h is already known the existing record
// is returned together with ErrDuplicateHandle.
func (r *Registry) Add(h engine.Handle, hash, name string) (*Record, error) {
	r.mu.Lock()
	if rec, ok := r.byHandle[h]; ok {
		r.mu.Unlock()
		return rec, ErrDuplicateHandle
	}

	r.nextID++
	rec := newRecord(r.nextID, h, hash, name)
	r.byHandle[h] = rec
	r.byID[rec.id] = rec
	r.mu.Unlock()

	r.notify([]uint64{rec.id}, FieldAdded)

	return rec, nil
}

// Remove drops the record for h and asks the engine to drop the torrent.
func (r *Registry) Remove(h engine.Handle, deleteFiles bool) (*Record, error) {
	r.mu.Lock()
	rec, ok := r.byHandle[h]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("remove %s: %w", h, ErrUnknownHandle)
	}
	delete(r.byHandle, h)
	delete(r.byID, rec.id)
	r.mu.Unlock()

	rec.teardown()

	r.eng.Remove(h, deleteFiles)
	r.notify([]uint64{rec.id}, FieldRemoved)

	return rec, nil
}

func (r *Registry) FindByID(id uint64) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *Registry) FindByHandle(h engine.Handle) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byHandle[h]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// Records returns every record ordered by id.
func (r *Registry) Records() []*Record {
	r.mu.RLock()
	out := make([]*Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Clear tears down every record without touching the engine.
func (r *Registry) Clear() {
	r.mu.Lock()
	recs := make([]*Record, 0, len(r.byHandle))
	ids := make([]uint64, 0, len(r.byHandle))
	for _, rec := range r.byHandle {
		recs = append(recs, rec)
		ids = append(ids, rec.id)
	}
	r.byHandle = make(map[engine.Handle]*Record)
	r.byID = make(map[uint64]*Record)
	r.mu.Unlock()

	for _, rec := range recs {
		rec.teardown()
	}

	if len(ids) != 0 {
		r.notify(ids, FieldRemoved)
	}
}
