package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/torsync/config"
	"github.com/jkaberg/torsync/torrent"
	"github.com/jkaberg/torsync/torrent/creator"
	"github.com/jkaberg/torsync/torrent/engine"
	"github.com/jkaberg/torsync/torrent/engine/enginetest"
	"github.com/jkaberg/torsync/torrent/loader"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	core   *torrent.Core
	eng    *enginetest.Fake
	conf   *config.Handler
	router *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()

	ch := config.NewHandler(filepath.Join(t.TempDir(), "config.yaml"))
	conf, err := ch.Get()
	require.NoError(t, err)
	conf.Session.SavePath = t.TempDir()
	conf.Session.AlertIntervalMs = 20
	conf.Session.CloseTimeoutSec = 1
	conf.Log.Path = t.TempDir()
	require.NoError(t, ch.Save(conf))

	store, err := loader.NewDB("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng := enginetest.New()
	eng.SetAutoAdd(true)
	eng.SetAutoPersist(true)

	reg := prometheus.NewRegistry()
	c, err := torrent.New(ch, eng, store, torrent.WithMetrics(reg))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	t.Cleanup(func() {
		c.Close(context.Background())
		cancel()
		<-errc
	})

	return &server{
		core:   c,
		eng:    eng,
		conf:   ch,
		router: NewRouter(c, ch, reg, filepath.Join(conf.Log.Path, "torsync.log")),
	}
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *server) addMagnet(t *testing.T, i int) TorrentRow {
	t.Helper()

	magnet := fmt.Sprintf("magnet:?xt=urn:btih:%040x", i)
	w := s.do(t, http.MethodPost, "/api/torrents", TorrentAdd{Magnet: magnet})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	h := enginetest.HandleFor(engine.AddRequest{Magnet: magnet})
	var row TorrentRow
	require.Eventually(t, func() bool {
		for _, r := range decode[[]TorrentRow](t, s.do(t, http.MethodGet, "/api/torrents", nil)) {
			if r.InfoHash == string(h) {
				row = r
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return row
}

func newTorrentFile(t *testing.T) []byte {
	t.Helper()

	p := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte("x"), 1000), 0644))
	j := creator.New(creator.Options{Root: p})
	j.Start()
	b, err := j.Result()
	require.NoError(t, err)
	return b
}

func TestTorrentLifecycle(t *testing.T) {
	require := require.New(t)
	s := newServer(t)

	row := s.addMagnet(t, 1)
	require.True(row.Fresh)
	require.Equal(int64(-1), row.ETA)

	path := fmt.Sprintf("/api/torrents/%d", row.ID)
	w := s.do(t, http.MethodGet, path, nil)
	require.Equal(http.StatusOK, w.Code)
	d := decode[TorrentDetails](t, w)
	require.Contains(d.Magnet, fmt.Sprintf("%040x", 1))

	require.Equal(http.StatusOK, s.do(t, http.MethodPost, path+"/pause", nil).Code)
	require.Equal(http.StatusOK, s.do(t, http.MethodPost, path+"/resume", nil).Code)

	require.Equal(http.StatusOK, s.do(t, http.MethodDelete, path+"?deleteFiles=true", nil).Code)
	require.Equal([]enginetest.RemoveCall{{Handle: engine.Handle(row.InfoHash), DeleteFiles: true}}, s.eng.RemoveCalls())

	require.Equal(http.StatusNotFound, s.do(t, http.MethodGet, path, nil).Code)
	require.Equal(http.StatusNotFound, s.do(t, http.MethodPost, path+"/pause", nil).Code)
	require.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, "/api/torrents/abc", nil).Code)
}

func TestAddRejectsGarbage(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/torrents", TorrentAdd{MetaInfo: []byte("not bencode")})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NotEmpty(t, decode[Error](t, w).Error)
	require.Empty(t, s.eng.AddRequests())
}

func TestAddWithPrompt(t *testing.T) {
	require := require.New(t)
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/torrents", TorrentAdd{MetaInfo: newTorrentFile(t), Prompt: true})
	require.Equal(http.StatusOK, w.Code, w.Body.String())
	pr := decode[struct {
		ID        uint64 `json:"id"`
		Name      string `json:"name"`
		TotalSize int64  `json:"totalSize"`
	}](t, w)
	require.Equal("payload.bin", pr.Name)
	require.Equal(int64(1000), pr.TotalSize)
	require.Empty(s.eng.AddRequests())

	path := fmt.Sprintf("/api/prompts/%d", pr.ID)
	require.Equal(http.StatusOK, s.do(t, http.MethodGet, path, nil).Code)

	w = s.do(t, http.MethodPost, path, PromptAnswer{SavePath: "/media", Paused: true})
	require.Equal(http.StatusAccepted, w.Code, w.Body.String())

	adds := s.eng.AddRequests()
	require.Len(adds, 1)
	require.Equal("/media", adds[0].SavePath)
	require.True(adds[0].Paused)

	require.Equal(http.StatusNotFound, s.do(t, http.MethodGet, path, nil).Code)
}

func TestMoveAndRename(t *testing.T) {
	require := require.New(t)
	s := newServer(t)
	row := s.addMagnet(t, 2)
	h := engine.Handle(row.InfoHash)

	go func() {
		for len(s.eng.MoveCalls()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		s.eng.Push(engine.StorageMoved{Handle: h, Path: "/new"})
	}()
	w := s.do(t, http.MethodPost, fmt.Sprintf("/api/torrents/%d/move", row.ID), TorrentMove{Path: "/new"})
	require.Equal(http.StatusOK, w.Code, w.Body.String())

	go func() {
		for len(s.eng.RenameCalls()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		s.eng.Push(engine.FileRenameFailed{Handle: h, Index: 0, Err: errors.ErrUnsupported})
	}()
	idx := 0
	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/torrents/%d/rename", row.ID), FileRename{Index: &idx, Name: "x"})
	require.Equal(http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/torrents/%d/rename", row.ID), gin.H{"name": "x"})
	require.Equal(http.StatusBadRequest, w.Code)
}

func TestViewSettings(t *testing.T) {
	require := require.New(t)
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/settings/view", ViewSettings{
		Mode:     "size",
		Reversed: true,
		States:   []string{"seeding"},
		Search:   "ubuntu",
	})
	require.Equal(http.StatusOK, w.Code, w.Body.String())

	v := decode[ViewSettings](t, s.do(t, http.MethodGet, "/api/settings/view", nil))
	require.Equal("size", v.Mode)
	require.True(v.Reversed)
	require.Equal([]string{"seeding"}, v.States)
	require.Equal("ubuntu", v.Search)
	require.Contains(v.Modes, "name")

	conf, err := s.conf.Get()
	require.NoError(err)
	require.Equal("size", conf.View.Mode)
	require.True(conf.View.Reversed)

	require.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, "/api/settings/view", ViewSettings{Mode: "nope"}).Code)
	require.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, "/api/settings/view", ViewSettings{Mode: "name", States: []string{"sleeping"}}).Code)
}

func TestSettings(t *testing.T) {
	require := require.New(t)
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/api/settings/config", nil)
	require.Equal(http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/settings/config", gin.H{
		"Hibernation": gin.H{"PreventSleep": false, "IntervalSec": 9},
	})
	require.Equal(http.StatusOK, w.Code, w.Body.String())

	conf, err := s.conf.Get()
	require.NoError(err)
	require.False(conf.Hibernation.PreventSleep)
	require.Equal(9, conf.Hibernation.IntervalSec)

	w = s.do(t, http.MethodPost, "/api/settings/config", gin.H{"Session": gin.H{"ListenPort": 70000}})
	require.Equal(http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/api/settings/config", gin.H{"Watch": gin.H{"Enabled": true}})
	require.Equal(http.StatusBadRequest, w.Code)
}

func TestStatsAndMetrics(t *testing.T) {
	require := require.New(t)
	s := newServer(t)
	s.addMagnet(t, 3)

	st := decode[StatsResponse](t, s.do(t, http.MethodGet, "/api/stats", nil))
	require.Equal(1, st.Torrents)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(http.StatusOK, w.Code)
	require.Contains(w.Body.String(), "torsync_torrents 1")
	require.Contains(w.Body.String(), `torsync_engine_events_total{kind="added"}`)
}

func TestCreateJob(t *testing.T) {
	require := require.New(t)
	s := newServer(t)

	root := filepath.Join(t.TempDir(), "share")
	require.NoError(os.MkdirAll(root, 0755))
	require.NoError(os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644))

	w := s.do(t, http.MethodPost, "/api/create", CreateRequest{Options: creator.Options{Root: root}})
	require.Equal(http.StatusAccepted, w.Code, w.Body.String())
	job := decode[CreateStatus](t, w)

	var st CreateStatus
	require.Eventually(func() bool {
		st = decode[CreateStatus](t, s.do(t, http.MethodGet, fmt.Sprintf("/api/create/%d", job.ID), nil))
		return st.Done
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(st.Error)
	require.NotEmpty(st.Torrent)
	require.Equal(1.0, st.Progress)

	jobs := decode[[]CreateStatus](t, s.do(t, http.MethodGet, "/api/create", nil))
	require.Len(jobs, 1)
	require.Empty(jobs[0].Torrent)

	require.Equal(http.StatusNotFound, s.do(t, http.MethodGet, "/api/create/99", nil).Code)
	require.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, "/api/create", CreateRequest{}).Code)
}

func TestEventsStream(t *testing.T) {
	require := require.New(t)
	s := newServer(t)

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal("text/event-stream", resp.Header.Get("Content-Type"))

	s.addMagnet(t, 4)

	sc := bufio.NewScanner(resp.Body)
	found := false
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "event:") && strings.Contains(sc.Text(), "changed") {
			found = true
			break
		}
	}
	require.True(found)
}

func TestLog(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/log", nil).Code)
}
