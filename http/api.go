package http

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/jkaberg/torsync/config"
	"github.com/jkaberg/torsync/torrent"
	"github.com/jkaberg/torsync/torrent/engine"
)

// opWait bounds how long a move or rename request waits for the engine
// before answering 202.
var opWait = 30 * time.Second

func errorStatus(err error) int {
	switch {
	case errors.Is(err, torrent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, torrent.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, torrent.ErrClosing):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func abort(ctx *gin.Context, err error) {
	_ = ctx.Error(err)
	ctx.JSON(errorStatus(err), Error{Error: err.Error()})
}

func paramID(ctx *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, Error{Error: "invalid id: " + ctx.Param(name)})
		return 0, false
	}
	return id, true
}

var apiTorrentsHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rows := s.Torrents()
		out := make([]TorrentRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, newRow(r))
		}
		ctx.JSON(http.StatusOK, out)
	}
}

var apiTorrentDetailsHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		rec, err := s.Torrent(id)
		if err != nil {
			abort(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, newDetails(rec))
	}
}

var apiAddTorrentHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var body TorrentAdd
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}

		p := torrent.AddParams{
			MetaInfo: body.MetaInfo,
			Magnet:   body.Magnet,
			SavePath: body.SavePath,
			Paused:   body.Paused,
			Name:     body.Name,
		}

		if body.Prompt {
			pr, err := s.AddWithPrompt(p)
			if err != nil {
				abort(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, pr)
			return
		}

		if err := s.Add(ctx.Request.Context(), p); err != nil {
			abort(ctx, err)
			return
		}

		ctx.JSON(http.StatusAccepted, nil)
	}
}

// apiUploadTorrentHandler adds every .torrent file of a multipart form as
// one batch.
var apiUploadTorrentHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		form, err := ctx.MultipartForm()
		if err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}

		paused := ctx.PostForm("paused") == "true"
		savePath := ctx.PostForm("savePath")

		var ps []torrent.AddParams
		for _, fh := range form.File["torrents"] {
			f, err := fh.Open()
			if err != nil {
				ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
				return
			}
			b, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
				return
			}
			ps = append(ps, torrent.AddParams{MetaInfo: b, Name: fh.Filename, SavePath: savePath, Paused: paused})
		}
		if len(ps) == 0 {
			ctx.JSON(http.StatusBadRequest, Error{Error: "no torrent files in form"})
			return
		}

		errs, err := s.AddBatch(ctx.Request.Context(), ps)
		if err != nil {
			abort(ctx, err)
			return
		}

		failed := map[string]string{}
		for i, e := range errs {
			if e != nil {
				failed[ps[i].Name] = e.Error()
			}
		}
		ctx.JSON(http.StatusAccepted, gin.H{"added": len(ps) - len(failed), "failed": failed})
	}
}

var apiPromptHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		pr, ok := s.Prompt(id)
		if !ok {
			abort(ctx, torrent.ErrNotFound)
			return
		}
		ctx.JSON(http.StatusOK, pr)
	}
}

var apiConfirmPromptHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		var body PromptAnswer
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		pr, ok := s.Prompt(id)
		if !ok {
			abort(ctx, torrent.ErrNotFound)
			return
		}
		if err := pr.Confirm(ctx.Request.Context(), body.SavePath, body.Paused); err != nil {
			abort(ctx, err)
			return
		}
		ctx.JSON(http.StatusAccepted, nil)
	}
}

var apiCancelPromptHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		if pr, ok := s.Prompt(id); ok {
			pr.Cancel()
		}
		ctx.JSON(http.StatusOK, nil)
	}
}

var apiDelTorrentHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		deleteFiles := ctx.Query("deleteFiles") == "true"
		if err := s.Remove(ctx.Request.Context(), id, deleteFiles); err != nil {
			abort(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, nil)
	}
}

var apiPauseHandler = func(s *torrent.Core, pause bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		var err error
		if pause {
			err = s.Pause(ctx.Request.Context(), id)
		} else {
			err = s.Resume(ctx.Request.Context(), id)
		}
		if err != nil {
			abort(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, nil)
	}
}

// waitOp answers once the engine reports the result of the operation, or
// with 202 when it takes longer than opWait.
func waitOp(ctx *gin.Context, start func(done func(error)) error) {
	res := make(chan error, 1)
	if err := start(func(err error) { res <- err }); err != nil {
		abort(ctx, err)
		return
	}

	select {
	case err := <-res:
		if err != nil {
			abort(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, nil)
	case <-time.After(opWait):
		ctx.JSON(http.StatusAccepted, gin.H{"pending": true})
	case <-ctx.Request.Context().Done():
	}
}

var apiMoveHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		var body TorrentMove
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		waitOp(ctx, func(done func(error)) error {
			return s.MoveStorage(ctx.Request.Context(), id, body.Path, done)
		})
	}
}

var apiRenameHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		var body FileRename
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		waitOp(ctx, func(done func(error)) error {
			return s.RenameFile(ctx.Request.Context(), id, *body.Index, body.Name, done)
		})
	}
}

var apiStatsHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, StatsResponse{
			GlobalTorrentStats: s.Stats(),
			Torrents:           s.Registry().Len(),
			PendingOperations:  s.PendingOperations(),
		})
	}
}

var apiGetViewHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		v := s.View()
		f := v.Filter()
		out := ViewSettings{
			Mode:     v.Mode(),
			Reversed: v.Reversed(),
			Search:   f.Search,
			Modes:    torrent.SortModes(),
		}
		for _, st := range f.States {
			out.States = append(out.States, st.String())
		}
		ctx.JSON(http.StatusOK, out)
	}
}

// apiSetViewHandler persists the sort preference and applies the filter,
// which lives only as long as the process.
var apiSetViewHandler = func(s *torrent.Core, ch *cfgpkg.Handler) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var body ViewSettings
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		if !slices.Contains(torrent.SortModes(), body.Mode) {
			ctx.JSON(http.StatusBadRequest, Error{Error: "unknown sort mode: " + body.Mode})
			return
		}

		f := torrent.Filter{Search: body.Search}
		for _, n := range body.States {
			st, ok := engine.ParseState(n)
			if !ok {
				ctx.JSON(http.StatusBadRequest, Error{Error: "unknown state: " + n})
				return
			}
			f.States = append(f.States, st)
		}

		conf, err := ch.Get()
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, Error{Error: err.Error()})
			return
		}
		conf.View.Mode = body.Mode
		conf.View.Reversed = body.Reversed
		if err := ch.Save(conf); err != nil {
			ctx.JSON(http.StatusInternalServerError, Error{Error: err.Error()})
			return
		}

		if err := s.PreferenceChanged(ctx.Request.Context(), "view"); err != nil {
			abort(ctx, err)
			return
		}
		s.View().SetFilter(f)

		ctx.JSON(http.StatusOK, nil)
	}
}

type settingsPayload struct {
	Session     *cfgpkg.Session     `json:"session"`
	Watch       *cfgpkg.Watch       `json:"watch"`
	Hibernation *cfgpkg.Hibernation `json:"hibernation"`
	Stats       *cfgpkg.Stats       `json:"stats"`
}

var apiGetSettingsHandler = func(ch *cfgpkg.Handler) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		conf, err := ch.Get()
		if err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, settingsPayload{
			Session:     conf.Session,
			Watch:       conf.Watch,
			Hibernation: conf.Hibernation,
			Stats:       conf.Stats,
		})
	}
}

// apiSetSettingsHandler saves the given sections. Engine settings apply on
// the next start; the rest is reloaded right away.
var apiSetSettingsHandler = func(s *torrent.Core, ch *cfgpkg.Handler) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var body settingsPayload
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}

		if se := body.Session; se != nil {
			if se.ListenPort < 0 || se.ListenPort > 65535 {
				ctx.JSON(http.StatusBadRequest, Error{Error: "invalid listen port"})
				return
			}
			if se.IP != "" && net.ParseIP(se.IP) == nil {
				ctx.JSON(http.StatusBadRequest, Error{Error: "invalid public IP"})
				return
			}
			if se.DownloadLimitMbit < 0 || se.UploadLimitMbit < 0 {
				ctx.JSON(http.StatusBadRequest, Error{Error: "limits must be >= 0"})
				return
			}
		}
		if w := body.Watch; w != nil && w.Enabled && w.Path == "" {
			ctx.JSON(http.StatusBadRequest, Error{Error: "watch path is required"})
			return
		}

		conf, err := ch.Get()
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, Error{Error: err.Error()})
			return
		}
		if body.Session != nil {
			conf.Session = body.Session
		}
		if body.Watch != nil {
			conf.Watch = body.Watch
		}
		if body.Hibernation != nil {
			conf.Hibernation = body.Hibernation
		}
		if body.Stats != nil {
			conf.Stats = body.Stats
		}
		if err := ch.Save(cfgpkg.AddDefaults(conf)); err != nil {
			ctx.JSON(http.StatusInternalServerError, Error{Error: err.Error()})
			return
		}

		if err := s.PreferenceChanged(ctx.Request.Context(), "settings"); err != nil {
			abort(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, nil)
	}
}

// apiEventsHandler streams core signals as server-sent events. Signals are
// dropped for a client that does not keep up.
var apiEventsHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ch := make(chan signalEvent, 64)
		unsubscribe := s.Subscribe(func(sig torrent.Signal) {
			ev, ok := newSignalEvent(sig)
			if !ok {
				return
			}
			select {
			case ch <- ev:
			default:
			}
		})
		defer unsubscribe()

		ctx.Header("Content-Type", "text/event-stream")
		ctx.Header("Cache-Control", "no-cache")
		ctx.Status(http.StatusOK)
		ctx.Writer.Flush()

		ctx.Stream(func(w io.Writer) bool {
			select {
			case ev := <-ch:
				ctx.SSEvent(ev.Name, ev.Data)
				return true
			case <-ctx.Request.Context().Done():
				return false
			}
		})
	}
}

var apiCreateHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var body CreateRequest
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		if body.Root == "" {
			ctx.JSON(http.StatusBadRequest, Error{Error: "root is required"})
			return
		}

		j, err := s.Create(body.Options, body.Add)
		if err != nil {
			abort(ctx, err)
			return
		}
		ctx.JSON(http.StatusAccepted, newCreateStatus(j))
	}
}

var apiCreateJobsHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		jobs := s.CreateJobs()
		out := make([]CreateStatus, 0, len(jobs))
		for _, j := range jobs {
			st := newCreateStatus(j)
			st.Torrent = nil
			out = append(out, st)
		}
		ctx.JSON(http.StatusOK, out)
	}
}

var apiCreateJobHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		j, ok := s.CreateJob(id)
		if !ok {
			abort(ctx, torrent.ErrNotFound)
			return
		}
		ctx.JSON(http.StatusOK, newCreateStatus(j))
	}
}

var apiCancelCreateHandler = func(s *torrent.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id, ok := paramID(ctx, "id")
		if !ok {
			return
		}
		j, ok := s.CreateJob(id)
		if !ok {
			abort(ctx, torrent.ErrNotFound)
			return
		}
		j.Cancel()
		ctx.JSON(http.StatusOK, nil)
	}
}

var apiLogHandler = func(path string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		f, err := os.Open(path)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		defer f.Close()

		fi, err := f.Stat()
		if err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}

		max := math.Max(float64(-fi.Size()), -1024*8*8)
		if _, err := f.Seek(int64(max), io.SeekEnd); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}

		var b bytes.Buffer
		if _, err := b.ReadFrom(f); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}

		ctx.Data(http.StatusOK, "text/plain; charset=utf-8", b.Bytes())
	}
}
