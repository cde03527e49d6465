// Package engine defines the boundary between the synchronization core and
// the torrent engine that actually speaks the protocol.
//
// The engine is pull based: the core asks for a snapshot, then drains the
// events that are already available. Every other call only queues work; the
// outcome is reported later as an event.
package engine

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrDuplicate is reported in Added when the torrent is already loaded.
	ErrDuplicate = errors.New("torrent already added")
	// ErrUnknownHandle is reported when an operation targets a dropped torrent.
	ErrUnknownHandle = errors.New("unknown torrent handle")
)

// Handle identifies one torrent inside the engine. It becomes invalid once
// the engine drops the torrent.
type Handle string

// Token correlates an add request with its Added event. Zero means the add
// was not issued by a user action (resume restore).
type Token uint64

type State int

const (
	StateQueued State = iota
	StateChecking
	StateMetadata
	StateDownloading
	StateSeeding
	StatePaused
	StateError
)

var stateNames = [...]string{
	StateQueued:      "queued",
	StateChecking:    "checking",
	StateMetadata:    "metadata",
	StateDownloading: "downloading",
	StateSeeding:     "seeding",
	StatePaused:      "paused",
	StateError:       "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ParseState returns the state named s.
func ParseState(s string) (State, bool) {
	for i, n := range stateNames {
		if n == s {
			return State(i), true
		}
	}
	return 0, false
}

// ETAUnknown is used when a torrent is not making progress.
const ETAUnknown = time.Duration(math.MaxInt64)

// Status is a point in time view of one torrent.
type Status struct {
	Name          string        `json:"name"`
	InfoHash      string        `json:"infoHash"`
	State         State         `json:"state"`
	Paused        bool          `json:"paused"`
	DownloadRate  int64         `json:"downloadRate"`
	UploadRate    int64         `json:"uploadRate"`
	Progress      float64       `json:"progress"`
	TotalSize     int64         `json:"totalSize"`
	Completed     int64         `json:"completed"`
	TotalDownload int64         `json:"totalDownload"`
	TotalUpload   int64         `json:"totalUpload"`
	QueuePosition int           `json:"queuePosition"`
	ETA           time.Duration `json:"eta"`
	NumPeers      int           `json:"numPeers"`
	NumSeeds      int           `json:"numSeeds"`
	SavePath      string        `json:"savePath"`
	AddedAt       time.Time     `json:"addedAt"`
	Error         string        `json:"error,omitempty"`
}

type Peer struct {
	Addr         string `json:"addr"`
	Client       string `json:"client,omitempty"`
	DownloadRate int64  `json:"downloadRate"`
	UploadRate   int64  `json:"uploadRate"`
}

type Tracker struct {
	URL  string `json:"url"`
	Tier int    `json:"tier"`
}

type FileProgress struct {
	Path      string `json:"path"`
	Length    int64  `json:"length"`
	Completed int64  `json:"completed"`
}

// Snapshot carries everything the engine knows about one torrent.
type Snapshot struct {
	Handle   Handle
	Status   Status
	Peers    []Peer
	Trackers []Tracker
	Files    []FileProgress
}

// Counters are session wide transfer totals. They keep counting torrents
// removed during the session.
type Counters struct {
	Downloaded int64 `json:"downloaded"`
	Uploaded   int64 `json:"uploaded"`
}

// Descriptor is the resume state of one torrent. Its content is owned by the
// engine; the core only stores and replays it.
type Descriptor struct {
	InfoHash string    `json:"infoHash"`
	Name     string    `json:"name"`
	Magnet   string    `json:"magnet,omitempty"`
	MetaInfo []byte    `json:"metaInfo,omitempty"`
	SavePath string    `json:"savePath"`
	Paused   bool      `json:"paused"`
	AddedAt  time.Time `json:"addedAt"`
	Finished bool      `json:"finished,omitempty"`
	// Renamed maps a file path in the torrent, joined by '/', to the base
	// name the file is stored under.
	Renamed map[string]string `json:"renamed,omitempty"`
}

// AddRequest asks the engine to load a torrent. Exactly one of MetaInfo and
// Magnet is set.
type AddRequest struct {
	Token    Token
	MetaInfo []byte
	Magnet   string
	SavePath string
	Paused   bool
	AddedAt  time.Time
	Finished bool
	Renamed  map[string]string
}

// FromDescriptor builds the add request that restores d.
func FromDescriptor(d Descriptor) AddRequest {
	return AddRequest{
		MetaInfo: d.MetaInfo,
		Magnet:   d.Magnet,
		SavePath: d.SavePath,
		Paused:   d.Paused,
		AddedAt:  d.AddedAt,
		Finished: d.Finished,
		Renamed:  d.Renamed,
	}
}

// Engine is the external torrent engine as seen by the core. None of the
// methods may block on network or disk.
type Engine interface {
	// RequestSnapshot queues a StatusUpdate and an AggregateCounters event.
	RequestSnapshot()
	// DrainEvents returns and clears the events that are ready.
	DrainEvents() []Event

	SubmitAdd(req AddRequest)
	SaveResume(h Handle)
	Remove(h Handle, deleteFiles bool)
	PauseTorrent(h Handle)
	ResumeTorrent(h Handle)
	MoveStorage(h Handle, path string)
	RenameFile(h Handle, index int, name string)

	// Pause stops every torrent. IsPaused reports when that is done.
	Pause()
	IsPaused() bool
}
