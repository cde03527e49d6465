package engine

import "time"

// Event is one unit of the engine's notification stream. The set of events
// is closed: Dispatch calls the Handler method for the concrete kind, so a
// Handler implementation has to cover every kind to compile.
type Event interface {
	Kind() string
	Dispatch(h Handler) error
}

// Handler receives events through Event.Dispatch.
type Handler interface {
	StatusUpdate(e StatusUpdate) error
	Added(e Added) error
	PersistCompleted(e PersistCompleted) error
	PersistFailed(e PersistFailed) error
	Finished(e Finished) error
	Paused(e Paused) error
	StorageMoved(e StorageMoved) error
	StorageMoveFailed(e StorageMoveFailed) error
	FileRenamed(e FileRenamed) error
	FileRenameFailed(e FileRenameFailed) error
	AggregateCounters(e AggregateCounters) error
}

type StatusUpdate struct {
	Torrents []Snapshot
}

// Added reports the outcome of an add request. Token echoes the request.
type Added struct {
	Token    Token
	Handle   Handle
	InfoHash string
	Name     string
	Err      error
}

type PersistCompleted struct {
	Handle     Handle
	Descriptor Descriptor
}

type PersistFailed struct {
	Handle Handle
	Err    error
}

type Finished struct {
	Handle Handle
}

type Paused struct {
	Handle Handle
}

type StorageMoved struct {
	Handle Handle
	Path   string
}

type StorageMoveFailed struct {
	Handle Handle
	Err    error
}

type FileRenamed struct {
	Handle Handle
	Index  int
	Name   string
}

type FileRenameFailed struct {
	Handle Handle
	Index  int
	Err    error
}

type AggregateCounters struct {
	Counters Counters
	At       time.Time
}

func (e StatusUpdate) Kind() string      { return "status_update" }
func (e Added) Kind() string             { return "added" }
func (e PersistCompleted) Kind() string  { return "persist_completed" }
func (e PersistFailed) Kind() string     { return "persist_failed" }
func (e Finished) Kind() string          { return "finished" }
func (e Paused) Kind() string            { return "paused" }
func (e StorageMoved) Kind() string      { return "storage_moved" }
func (e StorageMoveFailed) Kind() string { return "storage_move_failed" }
func (e FileRenamed) Kind() string       { return "file_renamed" }
func (e FileRenameFailed) Kind() string  { return "file_rename_failed" }
func (e AggregateCounters) Kind() string { return "aggregate_counters" }

func (e StatusUpdate) Dispatch(h Handler) error      { return h.StatusUpdate(e) }
func (e Added) Dispatch(h Handler) error             { return h.Added(e) }
func (e PersistCompleted) Dispatch(h Handler) error  { return h.PersistCompleted(e) }
func (e PersistFailed) Dispatch(h Handler) error     { return h.PersistFailed(e) }
func (e Finished) Dispatch(h Handler) error          { return h.Finished(e) }
func (e Paused) Dispatch(h Handler) error            { return h.Paused(e) }
func (e StorageMoved) Dispatch(h Handler) error      { return h.StorageMoved(e) }
func (e StorageMoveFailed) Dispatch(h Handler) error { return h.StorageMoveFailed(e) }
func (e FileRenamed) Dispatch(h Handler) error       { return h.FileRenamed(e) }
func (e FileRenameFailed) Dispatch(h Handler) error  { return h.FileRenameFailed(e) }
func (e AggregateCounters) Dispatch(h Handler) error { return h.AggregateCounters(e) }
