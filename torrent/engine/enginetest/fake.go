// Package enginetest provides a scripted engine for tests.
package enginetest

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jkaberg/torsync/torrent/engine"
)

var _ engine.Engine = &Fake{}

type RemoveCall struct {
	Handle      engine.Handle
	DeleteFiles bool
}

type MoveCall struct {
	Handle engine.Handle
	Path   string
}

type RenameCall struct {
	Handle engine.Handle
	Index  int
	Name   string
}

// Fake records every call and returns whatever events were pushed. Read the
// recorded calls through the accessors while a core is running.
//
// With AutoAdd, SubmitAdd answers with an Added event immediately. With
// AutoPersist, SaveResume answers with PersistCompleted. PauseDelay is the
// number of IsPaused calls that report false after Pause.
type Fake struct {
	mu sync.Mutex

	AutoAdd     bool
	AutoPersist bool
	PauseDelay  int

	events    []engine.Event
	snapshots []engine.Snapshot
	counters  engine.Counters

	Adds      []engine.AddRequest
	Saves     []engine.Handle
	Removes   []RemoveCall
	Moves     []MoveCall
	Renames   []RenameCall
	Paused    []engine.Handle
	Resumed   []engine.Handle
	Snapshots int

	unanswered []engine.Handle

	pauseRequested bool
	pauseChecks    int
}

func New() *Fake {
	return &Fake{}
}

// HandleFor derives the handle AutoAdd uses for req.
func HandleFor(req engine.AddRequest) engine.Handle {
	src := req.MetaInfo
	if len(src) == 0 {
		src = []byte(req.Magnet)
	}
	sum := sha1.Sum(src)
	return engine.Handle(hex.EncodeToString(sum[:]))
}

// Push queues events for the next DrainEvents.
func (f *Fake) Push(evs ...engine.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evs...)
}

// SetSnapshots sets what RequestSnapshot reports.
func (f *Fake) SetSnapshots(s []engine.Snapshot, c engine.Counters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = s
	f.counters = c
}

func (f *Fake) RequestSnapshot() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Snapshots++
	if len(f.snapshots) > 0 {
		f.events = append(f.events, engine.StatusUpdate{Torrents: f.snapshots})
	}
	f.events = append(f.events, engine.AggregateCounters{Counters: f.counters, At: time.Now()})
}

func (f *Fake) DrainEvents() []engine.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out
}

func (f *Fake) SubmitAdd(req engine.AddRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Adds = append(f.Adds, req)
	if f.AutoAdd {
		h := HandleFor(req)
		f.events = append(f.events, engine.Added{
			Token:    req.Token,
			Handle:   h,
			InfoHash: string(h),
			Name:     string(h)[:8],
		})
	}
}

func (f *Fake) SaveResume(h engine.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Saves = append(f.Saves, h)
	if f.AutoPersist {
		f.events = append(f.events, persisted(h))
		return
	}
	f.unanswered = append(f.unanswered, h)
}

func persisted(h engine.Handle) engine.PersistCompleted {
	return engine.PersistCompleted{
		Handle: h,
		Descriptor: engine.Descriptor{
			InfoHash: string(h),
			Name:     string(h),
			Magnet:   "magnet:?xt=urn:btih:" + string(h),
		},
	}
}

func (f *Fake) Remove(h engine.Handle, deleteFiles bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removes = append(f.Removes, RemoveCall{Handle: h, DeleteFiles: deleteFiles})
}

func (f *Fake) PauseTorrent(h engine.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Paused = append(f.Paused, h)
	f.events = append(f.events, engine.Paused{Handle: h})
}

func (f *Fake) ResumeTorrent(h engine.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resumed = append(f.Resumed, h)
}

func (f *Fake) MoveStorage(h engine.Handle, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Moves = append(f.Moves, MoveCall{Handle: h, Path: path})
}

func (f *Fake) RenameFile(h engine.Handle, index int, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Renames = append(f.Renames, RenameCall{Handle: h, Index: index, Name: name})
}

func (f *Fake) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseRequested = true
}

func (f *Fake) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pauseRequested {
		return false
	}
	f.pauseChecks++
	return f.pauseChecks > f.PauseDelay
}

// SaveCount returns the number of SaveResume calls so far.
func (f *Fake) SaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Saves)
}

func (f *Fake) SetAutoAdd(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AutoAdd = v
}

// SetAutoPersist toggles AutoPersist. Turning it on also answers the saves
// that were left unanswered so far.
func (f *Fake) SetAutoPersist(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AutoPersist = v
	if !v {
		return
	}
	for _, h := range f.unanswered {
		f.events = append(f.events, persisted(h))
	}
	f.unanswered = nil
}

func (f *Fake) RemoveCalls() []RemoveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RemoveCall(nil), f.Removes...)
}

func (f *Fake) MoveCalls() []MoveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MoveCall(nil), f.Moves...)
}

func (f *Fake) RenameCalls() []RenameCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RenameCall(nil), f.Renames...)
}

func (f *Fake) SaveCalls() []engine.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Handle(nil), f.Saves...)
}

// AddRequests returns a copy of the recorded add requests.
func (f *Fake) AddRequests() []engine.AddRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.AddRequest(nil), f.Adds...)
}
