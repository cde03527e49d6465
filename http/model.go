package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jkaberg/torsync/torrent"
	"github.com/jkaberg/torsync/torrent/creator"
	"github.com/jkaberg/torsync/torrent/engine"
)

type Error struct {
	Error string `json:"error"`
}

type TorrentRow struct {
	ID            uint64  `json:"id"`
	InfoHash      string  `json:"infoHash"`
	Name          string  `json:"name"`
	State         string  `json:"state"`
	Paused        bool    `json:"paused"`
	Progress      float64 `json:"progress"`
	DownloadRate  int64   `json:"downloadRate"`
	UploadRate    int64   `json:"uploadRate"`
	TotalSize     int64   `json:"totalSize"`
	QueuePosition int     `json:"queuePosition"`
	// ETA is in seconds, -1 when unknown.
	ETA      int64     `json:"eta"`
	NumPeers int       `json:"numPeers"`
	NumSeeds int       `json:"numSeeds"`
	SavePath string    `json:"savePath"`
	AddedAt  time.Time `json:"addedAt"`
	Error    string    `json:"error,omitempty"`
	Fresh    bool      `json:"fresh"`
}

type TorrentDetails struct {
	TorrentRow

	Magnet   string                `json:"magnet,omitempty"`
	Peers    []engine.Peer         `json:"peers"`
	Trackers []engine.Tracker      `json:"trackers"`
	Files    []engine.FileProgress `json:"files"`
}

func newRow(r *torrent.Record) TorrentRow {
	st := r.Status()
	eta := int64(-1)
	if st.ETA != engine.ETAUnknown {
		eta = int64(st.ETA.Seconds())
	}
	return TorrentRow{
		ID:            r.ID(),
		InfoHash:      r.InfoHash(),
		Name:          st.Name,
		State:         st.State.String(),
		Paused:        st.Paused,
		Progress:      st.Progress,
		DownloadRate:  st.DownloadRate,
		UploadRate:    st.UploadRate,
		TotalSize:     st.TotalSize,
		QueuePosition: st.QueuePosition,
		ETA:           eta,
		NumPeers:      st.NumPeers,
		NumSeeds:      st.NumSeeds,
		SavePath:      st.SavePath,
		AddedAt:       st.AddedAt,
		Error:         st.Error,
		Fresh:         r.Fresh(),
	}
}

func newDetails(r *torrent.Record) TorrentDetails {
	return TorrentDetails{
		TorrentRow: newRow(r),
		Magnet:     r.Magnet(),
		Peers:      r.Peers(),
		Trackers:   r.Trackers(),
		Files:      r.Files(),
	}
}

// TorrentAdd adds a torrent from a magnet link or the raw .torrent content
// (base64 in JSON). With Prompt set nothing is added until the returned
// prompt is confirmed.
type TorrentAdd struct {
	Magnet   string `json:"magnet"`
	MetaInfo []byte `json:"metaInfo"`
	Name     string `json:"name"`
	SavePath string `json:"savePath"`
	Paused   bool   `json:"paused"`
	Prompt   bool   `json:"prompt"`
}

type PromptAnswer struct {
	SavePath string `json:"savePath"`
	Paused   bool   `json:"paused"`
}

type TorrentMove struct {
	Path string `json:"path" binding:"required"`
}

type FileRename struct {
	Index *int   `json:"index" binding:"required"`
	Name  string `json:"name" binding:"required"`
}

type ViewSettings struct {
	Mode     string   `json:"mode"`
	Reversed bool     `json:"reversed"`
	States   []string `json:"states,omitempty"`
	Search   string   `json:"search,omitempty"`
	Modes    []string `json:"modes,omitempty"`
}

type CreateRequest struct {
	creator.Options
	Add bool `json:"add"`
}

type CreateStatus struct {
	ID       uint64  `json:"id"`
	Root     string  `json:"root"`
	Add      bool    `json:"add"`
	Progress float64 `json:"progress"`
	Done     bool    `json:"done"`
	Error    string  `json:"error,omitempty"`
	// Torrent is the finished .torrent content, base64 in JSON.
	Torrent []byte `json:"torrent,omitempty"`
}

func newCreateStatus(j *torrent.CreateJob) CreateStatus {
	s := CreateStatus{
		ID:       j.ID,
		Root:     j.Options.Root,
		Add:      j.Add,
		Progress: j.Progress(),
	}
	select {
	case <-j.Done():
		s.Done = true
		b, err := j.Result()
		if err != nil {
			s.Error = err.Error()
		} else {
			s.Torrent = b
		}
	default:
	}
	return s
}

type StatsResponse struct {
	*torrent.GlobalTorrentStats

	Torrents          int   `json:"torrents"`
	PendingOperations int64 `json:"pendingOperations"`
}

// signalEvent is one server-sent event.
type signalEvent struct {
	Name string
	Data any
}

func newSignalEvent(s torrent.Signal) (signalEvent, bool) {
	switch s := s.(type) {
	case torrent.Busy:
		return signalEvent{Name: "busy", Data: gin.H{"busy": s.Busy}}, true
	case torrent.AddError:
		return signalEvent{Name: "addError", Data: gin.H{
			"kind":    s.Kind.String(),
			"names":   s.Names,
			"message": s.Message,
		}}, true
	case torrent.RegistryChanged:
		return signalEvent{Name: "changed", Data: gin.H{
			"ids":    s.IDs,
			"fields": s.Fields.Names(),
		}}, true
	case torrent.PreferenceChanged:
		return signalEvent{Name: "preference", Data: gin.H{"key": s.Key}}, true
	default:
		return signalEvent{}, false
	}
}
