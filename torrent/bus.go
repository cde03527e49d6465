package torrent

import (
	"strings"
	"sync"
)

// Field is a set of record attributes touched by a registry change.
type Field uint32

const (
	FieldName Field = 1 << iota
	FieldState
	FieldProgress
	FieldDownloadRate
	FieldUploadRate
	FieldSize
	FieldQueue
	FieldETA
	FieldError
	FieldPeers
	FieldSavePath
	FieldAddedAt
	FieldFresh
	// FieldAdded and FieldRemoved mark membership changes.
	FieldAdded
	FieldRemoved
)

var fieldNames = []string{
	"name", "state", "progress", "downloadRate", "uploadRate", "size", "queue",
	"eta", "error", "peers", "savePath", "addedAt", "fresh", "added", "removed",
}

func (f Field) Has(o Field) bool { return f&o != 0 }

func (f Field) Names() []string {
	var out []string
	for i, n := range fieldNames {
		if f&(1<<i) != 0 {
			out = append(out, n)
		}
	}
	return out
}

func (f Field) String() string {
	return strings.Join(f.Names(), "|")
}

// Signal is a notification for the UI layer. It is one of Busy, AddError,
// RegistryChanged or PreferenceChanged.
type Signal interface {
	signal()
}

type Busy struct {
	Busy bool
}

type AddErrorKind int

const (
	// AddErrorRejected is an add refused by the engine.
	AddErrorRejected AddErrorKind = iota
	// AddErrorCorrupt is a descriptor that could not be read or parsed.
	AddErrorCorrupt
)

func (k AddErrorKind) String() string {
	if k == AddErrorCorrupt {
		return "corrupt"
	}
	return "rejected"
}

type AddError struct {
	Kind    AddErrorKind
	Names   []string
	Message string
}

type RegistryChanged struct {
	IDs    []uint64
	Fields Field
}

type PreferenceChanged struct {
	Key string
}

func (Busy) signal()              {}
func (AddError) signal()          {}
func (RegistryChanged) signal()   {}
func (PreferenceChanged) signal() {}

type subscriber struct {
	id int
	fn func(Signal)
}

// bus delivers signals to subscribers in subscription order.
type bus struct {
	mu   sync.Mutex
	next int
	subs []subscriber
}

func (b *bus) subscribe(fn func(Signal)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *bus) publish(s Signal) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fn(s)
	}
}
