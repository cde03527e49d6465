package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jkaberg/torsync/torrent"
	"github.com/jkaberg/torsync/torrent/engine"
)

// qBittorrent torrent info DTO (subset Arr uses)
type qbtTorrentInfo struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Size     int64   `json:"size"`
	DlSpeed  int64   `json:"dlspeed"`
	UpSpeed  int64   `json:"upspeed"`
	Eta      int64   `json:"eta"`
	AddedOn  int64   `json:"added_on"`
	SavePath string  `json:"save_path"`
}

// qbtState maps to the state names qBittorrent clients know.
func qbtState(st engine.Status) string {
	done := st.Progress >= 1
	switch {
	case st.State == engine.StateError:
		return "error"
	case st.Paused && done:
		return "pausedUP"
	case st.Paused:
		return "pausedDL"
	}
	switch st.State {
	case engine.StateChecking:
		if done {
			return "checkingUP"
		}
		return "checkingDL"
	case engine.StateMetadata:
		return "metaDL"
	case engine.StateSeeding:
		return "uploading"
	case engine.StateQueued:
		if done {
			return "queuedUP"
		}
		return "queuedDL"
	default:
		return "downloading"
	}
}

func mapTorrentInfo(r *torrent.Record) qbtTorrentInfo {
	st := r.Status()
	eta := int64(8640000)
	if st.ETA != engine.ETAUnknown {
		eta = int64(st.ETA.Seconds())
	}
	return qbtTorrentInfo{
		Hash:     strings.ToLower(r.InfoHash()),
		Name:     st.Name,
		State:    qbtState(st),
		Progress: st.Progress,
		Size:     st.TotalSize,
		DlSpeed:  st.DownloadRate,
		UpSpeed:  st.UploadRate,
		Eta:      eta,
		AddedOn:  st.AddedAt.Unix(),
		SavePath: st.SavePath,
	}
}

// recordsByHash resolves a qBittorrent hash list. "all" selects everything.
func recordsByHash(s *torrent.Core, hashes string) []*torrent.Record {
	recs := s.Registry().Records()
	if hashes == "all" {
		return recs
	}

	want := map[string]struct{}{}
	for _, h := range splitCSV(hashes, "|") {
		want[strings.ToLower(h)] = struct{}{}
	}

	var out []*torrent.Record
	for _, r := range recs {
		if _, ok := want[strings.ToLower(r.InfoHash())]; ok {
			out = append(out, r)
		}
	}
	return out
}

func qbtTorrentsAdd(s *torrent.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		savePath := c.PostForm("savepath")
		paused := c.PostForm("paused") == "true" || c.PostForm("stopped") == "true"

		var ps []torrent.AddParams
		for _, u := range splitCSV(c.PostForm("urls"), "\n") {
			ps = append(ps, torrent.AddParams{Magnet: u, Name: u, SavePath: savePath, Paused: paused})
		}

		if form, err := c.MultipartForm(); err == nil {
			for _, fh := range form.File["torrents"] {
				f, err := fh.Open()
				if err != nil {
					c.String(http.StatusBadRequest, err.Error())
					return
				}
				b, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					c.String(http.StatusBadRequest, err.Error())
					return
				}
				ps = append(ps, torrent.AddParams{MetaInfo: b, Name: fh.Filename, SavePath: savePath, Paused: paused})
			}
		}

		if len(ps) == 0 {
			c.String(http.StatusBadRequest, "No urls or torrents provided")
			return
		}

		errs, err := s.AddBatch(c.Request.Context(), ps)
		if err != nil {
			c.String(errorStatus(err), err.Error())
			return
		}
		for _, e := range errs {
			if e == nil {
				c.String(http.StatusOK, "Ok.")
				return
			}
		}
		c.String(http.StatusUnsupportedMediaType, "Fails.")
	}
}

func qbtTorrentsInfo(s *torrent.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		var recs []*torrent.Record
		if hashes := c.Query("hashes"); hashes != "" {
			recs = recordsByHash(s, hashes)
		} else {
			recs = s.Torrents()
		}

		out := make([]qbtTorrentInfo, 0, len(recs))
		for _, r := range recs {
			out = append(out, mapTorrentInfo(r))
		}
		c.JSON(http.StatusOK, out)
	}
}

func qbtTorrentsDelete(s *torrent.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		hashes := c.PostForm("hashes")
		if hashes == "" {
			c.String(http.StatusBadRequest, "hashes required")
			return
		}
		deleteFiles := c.PostForm("deleteFiles") == "true"

		for _, r := range recordsByHash(s, hashes) {
			if err := s.Remove(c.Request.Context(), r.ID(), deleteFiles); err != nil {
				c.String(errorStatus(err), err.Error())
				return
			}
		}
		c.String(http.StatusOK, "Ok.")
	}
}

func qbtTorrentsPause(s *torrent.Core, pause bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, r := range recordsByHash(s, c.PostForm("hashes")) {
			var err error
			if pause {
				err = s.Pause(c.Request.Context(), r.ID())
			} else {
				err = s.Resume(c.Request.Context(), r.ID())
			}
			if err != nil {
				c.String(errorStatus(err), err.Error())
				return
			}
		}
		c.String(http.StatusOK, "Ok.")
	}
}
