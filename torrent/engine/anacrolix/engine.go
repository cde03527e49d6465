// Package anacrolix implements the engine boundary on top of
// github.com/anacrolix/torrent.
package anacrolix

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/torsync/config"
	"github.com/jkaberg/torsync/torrent/engine"
)

var _ engine.Engine = &Engine{}

type entry struct {
	t        *torrent.Torrent
	st       storage.ClientImplCloser
	savePath string
	addedAt  time.Time
	paused   bool
	finished bool
	renamed  map[string]string

	// carried keeps totals across drop and re-add on moves and renames
	carried engine.Counters
	prev    engine.Counters
	prevAt  time.Time
}

// Engine runs every operation on a single worker goroutine in submission
// order. Results are queued as events until the core drains them.
type Engine struct {
	c     *torrent.Client
	st    storage.ClientImplCloser
	log   zerolog.Logger
	cfg   *config.Session
	clock func() time.Time

	jobsMu sync.Mutex
	jobs   []func()
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}

	evMu   sync.Mutex
	events []engine.Event

	paused atomic.Bool

	// owned by the worker
	entries map[engine.Handle]*entry
	order   []engine.Handle
	// removed holds the totals of torrents removed during the session
	removed engine.Counters
}

func New(cfg *config.Session) (*Engine, error) {
	if err := os.MkdirAll(cfg.SavePath, 0744); err != nil {
		return nil, fmt.Errorf("error creating save path: %w", err)
	}

	st := storage.NewFile(cfg.SavePath)
	c, err := newClient(st, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("error starting torrent client: %w", err)
	}

	e := &Engine{
		c:       c,
		st:      st,
		log:     log.Logger.With().Str("component", "engine").Logger(),
		cfg:     cfg,
		clock:   time.Now,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		entries: make(map[engine.Handle]*entry),
	}

	go e.run()

	return e, nil
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		e.jobsMu.Lock()
		jobs := e.jobs
		e.jobs = nil
		e.jobsMu.Unlock()

		for _, j := range jobs {
			j()
		}

		if len(jobs) != 0 {
			continue
		}

		select {
		case <-e.wake:
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) submit(j func()) {
	e.jobsMu.Lock()
	e.jobs = append(e.jobs, j)
	e.jobsMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) emit(evs ...engine.Event) {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	e.events = append(e.events, evs...)
}

func (e *Engine) DrainEvents() []engine.Event {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	out := e.events
	e.events = nil
	return out
}

func (e *Engine) RequestSnapshot() {
	e.submit(e.snapshot)
}

func (e *Engine) snapshot() {
	now := e.clock()

	var snaps []engine.Snapshot
	total := e.removed
	var finished []engine.Event
	for pos, h := range e.order {
		en := e.entries[h]
		s := e.snapshotOf(h, en, pos, now)
		total.Downloaded += s.Status.TotalDownload
		total.Uploaded += s.Status.TotalUpload

		if en.finish(s.Status.State) {
			finished = append(finished, engine.Finished{Handle: h})
		}

		snaps = append(snaps, s)
	}

	if len(snaps) != 0 {
		e.emit(engine.StatusUpdate{Torrents: snaps})
	}
	e.emit(finished...)
	e.emit(engine.AggregateCounters{Counters: total, At: now})
}

func (e *Engine) snapshotOf(h engine.Handle, en *entry, pos int, now time.Time) engine.Snapshot {
	t := en.t
	st := t.Stats()
	cur := totalsOf(en, &st)

	var down, up int64
	if !en.prevAt.IsZero() {
		if dt := now.Sub(en.prevAt).Seconds(); dt > 0 {
			down = int64(float64(cur.Downloaded-en.prev.Downloaded) / dt)
			up = int64(float64(cur.Uploaded-en.prev.Uploaded) / dt)
		}
	}
	en.prev = cur
	en.prevAt = now

	status := engine.Status{
		Name:          t.Name(),
		InfoHash:      string(h),
		Paused:        en.paused || e.paused.Load(),
		DownloadRate:  down,
		UploadRate:    up,
		TotalDownload: cur.Downloaded,
		TotalUpload:   cur.Uploaded,
		QueuePosition: pos,
		NumPeers:      st.ActivePeers,
		NumSeeds:      st.ConnectedSeeders,
		SavePath:      en.savePath,
		AddedAt:       en.addedAt,
		ETA:           engine.ETAUnknown,
	}

	var files []engine.FileProgress
	var checking bool
	if t.Info() != nil {
		status.TotalSize = t.Length()
		status.Completed = t.BytesCompleted()
		if status.TotalSize > 0 {
			status.Progress = float64(status.Completed) / float64(status.TotalSize)
		}
		status.ETA = eta(status.TotalSize-status.Completed, down)

		for _, psr := range t.PieceStateRuns() {
			if psr.Checking {
				checking = true
				break
			}
		}

		for _, f := range t.Files() {
			fi := f.FileInfo()
			files = append(files, engine.FileProgress{
				Path:      displayPath(f.Path(), &fi, en.renamed),
				Length:    f.Length(),
				Completed: f.BytesCompleted(),
			})
		}
	}
	status.State = stateOf(status.Paused, t.Info() != nil, checking, status.Completed, status.TotalSize)

	var peers []engine.Peer
	for _, pc := range t.PeerConns() {
		peers = append(peers, engine.Peer{Addr: pc.RemoteAddr.String()})
	}

	var trackers []engine.Tracker
	mi := t.Metainfo()
	for tier, urls := range mi.UpvertedAnnounceList() {
		for _, u := range urls {
			trackers = append(trackers, engine.Tracker{URL: u, Tier: tier})
		}
	}

	return engine.Snapshot{
		Handle:   h,
		Status:   status,
		Peers:    peers,
		Trackers: trackers,
		Files:    files,
	}
}

// finish reports whether en reached seeding for the first time. The flag is
// persisted in descriptors so restored torrents do not finish again.
func (en *entry) finish(st engine.State) bool {
	if st != engine.StateSeeding || en.finished {
		return false
	}
	en.finished = true
	return true
}

// totalsOf returns the transfer totals of en, including what it carried over
// from earlier instances of the same torrent.
func totalsOf(en *entry, st *torrent.TorrentStats) engine.Counters {
	return engine.Counters{
		Downloaded: en.carried.Downloaded + st.BytesReadData.Int64(),
		Uploaded:   en.carried.Uploaded + st.BytesWrittenData.Int64(),
	}
}

func stateOf(paused, hasInfo, checking bool, completed, length int64) engine.State {
	switch {
	case paused:
		return engine.StatePaused
	case !hasInfo:
		return engine.StateMetadata
	case checking:
		return engine.StateChecking
	case length > 0 && completed >= length:
		return engine.StateSeeding
	default:
		return engine.StateDownloading
	}
}

func eta(remaining, rate int64) time.Duration {
	if remaining <= 0 {
		return 0
	}
	if rate <= 0 {
		return engine.ETAUnknown
	}
	return time.Duration(remaining/rate) * time.Second
}

func (e *Engine) SubmitAdd(req engine.AddRequest) {
	e.submit(func() {
		h, name, err := e.add(req, engine.Counters{})
		e.emit(engine.Added{
			Token:    req.Token,
			Handle:   h,
			InfoHash: string(h),
			Name:     name,
			Err:      err,
		})
	})
}

func specFor(req engine.AddRequest) (*torrent.TorrentSpec, string, error) {
	if len(req.MetaInfo) != 0 {
		mi, err := metainfo.Load(bytes.NewReader(req.MetaInfo))
		if err != nil {
			return nil, "", fmt.Errorf("error parsing torrent: %w", err)
		}
		spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
		if err != nil {
			return nil, "", fmt.Errorf("error parsing torrent: %w", err)
		}
		return spec, spec.DisplayName, nil
	}

	spec, err := torrent.TorrentSpecFromMagnetUri(req.Magnet)
	if err != nil {
		return nil, req.Magnet, fmt.Errorf("error parsing magnet: %w", err)
	}
	name := spec.DisplayName
	if name == "" {
		name = spec.InfoHash.HexString()
	}
	return spec, name, nil
}

func (e *Engine) add(req engine.AddRequest, carried engine.Counters) (engine.Handle, string, error) {
	spec, name, err := specFor(req)
	if err != nil {
		return "", name, err
	}

	h := engine.Handle(spec.InfoHash.HexString())
	if _, ok := e.entries[h]; ok {
		return h, name, engine.ErrDuplicate
	}

	savePath := req.SavePath
	if savePath == "" {
		savePath = e.cfg.SavePath
	}
	st := e.newStorage(savePath, req.Renamed)
	spec.Storage = st

	t, isNew, err := e.c.AddTorrentSpec(spec)
	if err != nil {
		st.Close()
		return h, name, err
	}
	if !isNew {
		st.Close()
		return h, name, engine.ErrDuplicate
	}

	addedAt := req.AddedAt
	if addedAt.IsZero() {
		addedAt = e.clock()
	}

	en := &entry{
		t:        t,
		st:       st,
		savePath: savePath,
		addedAt:  addedAt,
		paused:   req.Paused,
		finished: req.Finished,
		renamed:  req.Renamed,
		carried:  carried,
	}
	e.entries[h] = en
	e.order = append(e.order, h)

	if req.Paused || e.paused.Load() {
		t.DisallowDataDownload()
		t.DisallowDataUpload()
	}

	go func() {
		select {
		case <-t.GotInfo():
			t.DownloadAll()
		case <-t.Closed():
		}
	}()

	e.log.Debug().Str("hash", string(h)).Str("name", name).Msg("torrent added")

	return h, name, nil
}

// newStorage keeps piece completion next to the data, like storage.NewFile,
// and stores renamed files under their new names.
func (e *Engine) newStorage(savePath string, renamed map[string]string) storage.ClientImplCloser {
	if err := os.MkdirAll(savePath, 0744); err != nil {
		e.log.Warn().Err(err).Str("path", savePath).Msg("error creating save path")
	}
	pc, err := storage.NewDefaultPieceCompletionForDir(savePath)
	if err != nil {
		e.log.Warn().Err(err).Str("path", savePath).Msg("error opening piece completion, keeping it in memory")
		pc = storage.NewMapPieceCompletion()
	}
	return storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   savePath,
		FilePathMaker:   filePathMaker(renamed),
		PieceCompletion: pc,
	})
}

func (e *Engine) SaveResume(h engine.Handle) {
	e.submit(func() {
		en, ok := e.entries[h]
		if !ok {
			e.emit(engine.PersistFailed{Handle: h, Err: engine.ErrUnknownHandle})
			return
		}

		d, err := descriptorOf(h, en)
		if err != nil {
			e.emit(engine.PersistFailed{Handle: h, Err: err})
			return
		}

		e.emit(engine.PersistCompleted{Handle: h, Descriptor: d})
	})
}

func descriptorOf(h engine.Handle, en *entry) (engine.Descriptor, error) {
	t := en.t
	mi := t.Metainfo()

	m := metainfo.Magnet{
		InfoHash:    t.InfoHash(),
		DisplayName: t.Name(),
	}
	for _, tier := range mi.UpvertedAnnounceList() {
		m.Trackers = append(m.Trackers, tier...)
	}

	d := engine.Descriptor{
		InfoHash: string(h),
		Name:     t.Name(),
		Magnet:   m.String(),
		SavePath: en.savePath,
		Paused:   en.paused,
		AddedAt:  en.addedAt,
		Finished: en.finished,
		Renamed:  en.renamed,
	}

	if t.Info() != nil {
		b, err := bencode.Marshal(mi)
		if err != nil {
			return d, fmt.Errorf("error encoding metainfo: %w", err)
		}
		d.MetaInfo = b
	}

	return d, nil
}

func (e *Engine) Remove(h engine.Handle, deleteFiles bool) {
	e.submit(func() {
		en, ok := e.entries[h]
		if !ok {
			return
		}
		root := dataRoot(en)
		st := en.t.Stats()
		tot := totalsOf(en, &st)
		e.removed.Downloaded += tot.Downloaded
		e.removed.Uploaded += tot.Uploaded
		e.drop(h, en)

		if deleteFiles && root != "" {
			p := filepath.Join(en.savePath, root)
			for _, s := range []string{"", partSuffix} {
				if err := os.RemoveAll(p + s); err != nil {
					e.log.Warn().Err(err).Str("hash", string(h)).Msg("error deleting torrent data")
				}
			}
		}
	})
}

// dataRoot is the top level file or directory of en below its save path.
func dataRoot(en *entry) string {
	info := en.t.Info()
	if info != nil && !info.IsDir() {
		fi := info.UpvertedFiles()[0]
		return relPath(info, &fi, en.renamed)
	}
	return en.t.Name()
}

func (e *Engine) drop(h engine.Handle, en *entry) {
	en.t.Drop()
	if err := en.st.Close(); err != nil {
		e.log.Debug().Err(err).Str("hash", string(h)).Msg("error closing torrent storage")
	}

	delete(e.entries, h)
	for i, oh := range e.order {
		if oh == h {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) PauseTorrent(h engine.Handle) {
	e.submit(func() {
		en, ok := e.entries[h]
		if !ok {
			return
		}
		en.paused = true
		en.t.DisallowDataDownload()
		en.t.DisallowDataUpload()
		e.emit(engine.Paused{Handle: h})
	})
}

func (e *Engine) ResumeTorrent(h engine.Handle) {
	e.submit(func() {
		en, ok := e.entries[h]
		if !ok || e.paused.Load() {
			return
		}
		en.paused = false
		en.t.AllowDataDownload()
		en.t.AllowDataUpload()
	})
}

// MoveStorage drops the torrent, moves its data and loads it again from the
// new location. The handle stays the same.
func (e *Engine) MoveStorage(h engine.Handle, path string) {
	e.submit(func() {
		if err := e.move(h, path); err != nil {
			e.emit(engine.StorageMoveFailed{Handle: h, Err: err})
			return
		}
		e.emit(engine.StorageMoved{Handle: h, Path: path})
	})
}

func (e *Engine) move(h engine.Handle, path string) error {
	en, ok := e.entries[h]
	if !ok {
		return engine.ErrUnknownHandle
	}
	if en.t.Info() == nil {
		return errors.New("torrent metadata not available yet")
	}
	if filepath.Clean(path) == filepath.Clean(en.savePath) {
		return nil
	}

	d, err := descriptorOf(h, en)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path, 0744); err != nil {
		return err
	}

	st := en.t.Stats()
	carried := totalsOf(en, &st)
	root := dataRoot(en)
	e.drop(h, en)

	if err := moveData(filepath.Join(en.savePath, root), filepath.Join(path, root)); err != nil {
		// put it back where it was
		if _, _, aerr := e.add(engine.FromDescriptor(d), carried); aerr != nil {
			e.log.Error().Err(aerr).Str("hash", string(h)).Msg("error re-adding torrent after failed move")
		}
		return fmt.Errorf("error moving torrent data: %w", err)
	}

	d.SavePath = path
	_, _, err = e.add(engine.FromDescriptor(d), carried)
	return err
}

// RenameFile drops the torrent, renames the file on disk and loads the
// torrent again with the file stored under its new name. The handle stays the
// same.
func (e *Engine) RenameFile(h engine.Handle, index int, name string) {
	e.submit(func() {
		if err := e.rename(h, index, name); err != nil {
			e.emit(engine.FileRenameFailed{Handle: h, Index: index, Err: err})
			return
		}
		e.emit(engine.FileRenamed{Handle: h, Index: index, Name: name})
	})
}

func (e *Engine) rename(h engine.Handle, index int, name string) error {
	en, ok := e.entries[h]
	if !ok {
		return engine.ErrUnknownHandle
	}
	info := en.t.Info()
	if info == nil {
		return errors.New("torrent metadata not available yet")
	}
	files := info.UpvertedFiles()
	if index < 0 || index >= len(files) {
		return fmt.Errorf("file index %d out of range", index)
	}

	renamed, from, to, err := planRename(info, files[index], en.renamed, name)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	src := filepath.Join(en.savePath, from)
	dst := filepath.Join(en.savePath, to)
	if exists(dst) {
		return fmt.Errorf("rename %q: %w", name, fs.ErrExist)
	}

	d, err := descriptorOf(h, en)
	if err != nil {
		return err
	}

	st := en.t.Stats()
	carried := totalsOf(en, &st)
	e.drop(h, en)

	if err := moveData(src, dst); err != nil {
		if _, _, aerr := e.add(engine.FromDescriptor(d), carried); aerr != nil {
			e.log.Error().Err(aerr).Str("hash", string(h)).Msg("error re-adding torrent after failed rename")
		}
		return fmt.Errorf("error renaming file: %w", err)
	}

	d.Renamed = renamed
	_, _, err = e.add(engine.FromDescriptor(d), carried)
	return err
}

func (e *Engine) Pause() {
	e.submit(func() {
		for _, en := range e.entries {
			en.t.DisallowDataDownload()
			en.t.DisallowDataUpload()
		}
		e.paused.Store(true)
	})
}

func (e *Engine) IsPaused() bool {
	return e.paused.Load()
}

// Close stops the worker and the client. Queued jobs that did not run yet are
// discarded.
func (e *Engine) Close() error {
	close(e.stop)
	<-e.done

	for h, en := range e.entries {
		e.drop(h, en)
	}

	e.c.Close()
	return e.st.Close()
}
