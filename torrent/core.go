// Package torrent keeps the torrent registry in sync with the engine and
// runs the background work around it: resume persistence, the watch folder,
// sleep inhibition and the sorted view used by the UI.
package torrent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/torsync/config"
	"github.com/jkaberg/torsync/torrent/engine"
	"github.com/jkaberg/torsync/torrent/loader"
	"github.com/jkaberg/torsync/torrent/watchers"
)

var errAlreadyRunning = errors.New("torrent core already running")

// ConfigSource provides the current settings. The core reads it at start and
// again on every preference change.
type ConfigSource interface {
	Get() (*config.Root, error)
}

type AddParams struct {
	MetaInfo []byte
	Magnet   string
	SavePath string
	Paused   bool
	// Name labels the request in error reports when it cannot be parsed.
	Name string
}

type Option func(*Core)

// WithInhibitor sets the sleep inhibition backend. The default does nothing.
func WithInhibitor(i Inhibitor) Option {
	return func(c *Core) { c.inhibitor = i }
}

// WithMetrics registers the core collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Core) { c.registerer = reg }
}

type opKind int

const (
	opMove opKind = iota
	opRename
)

// pendingOp is the single outstanding move or rename request.
type pendingOp struct {
	kind   opKind
	handle engine.Handle
	index  int
	done   func(error)
}

// Core owns the registry. All mutations run on the goroutine executing Run;
// the exported methods post commands to it.
type Core struct {
	cfgSrc ConfigSource
	confMu sync.RWMutex
	conf   *config.Root

	eng     engine.Engine
	store   loader.Store
	log     zerolog.Logger
	metrics *metrics
	bus     bus

	reg       *Registry
	view      *View
	stats     *Stats
	callbacks callbackQueue
	pending   PendingOps
	hib       *Hibernation

	deb       *watchers.Debouncer
	watcher   *watchers.DirWatcher
	debTicker *time.Ticker

	lastOp    *pendingOp
	restoring int

	promptsMu sync.Mutex
	promptID  uint64
	prompts   map[uint64]*Prompt

	jobsMu sync.Mutex
	jobID  uint64
	jobs   map[uint64]*CreateJob

	cmds    chan func()
	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool
	closing atomic.Bool

	inhibitor  Inhibitor
	registerer prometheus.Registerer
}

func New(cfgSrc ConfigSource, eng engine.Engine, store loader.Store, opts ...Option) (*Core, error) {
	conf, err := cfgSrc.Get()
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	conf = config.AddDefaults(conf)

	c := &Core{
		cfgSrc:  cfgSrc,
		conf:    conf,
		eng:     eng,
		store:   store,
		log:     log.Logger.With().Str("component", "torrent-core").Logger(),
		prompts: make(map[uint64]*Prompt),
		jobs:    make(map[uint64]*CreateJob),
		cmds:    make(chan func()),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	c.metrics = newMetrics(c.registerer)

	totals, err := store.LoadTotals()
	if err != nil {
		c.log.Warn().Err(err).Msg("error loading stats, starting from zero")
	}
	c.stats = NewStats(totals, conf.Stats.RateWindow)
	c.reg = NewRegistry(eng, c.registryChanged)

	c.view, err = NewView(c.reg, conf.View.Mode, conf.View.Reversed)
	if err != nil {
		c.log.Warn().Err(err).Msg("falling back to sort by name")
		c.view, _ = NewView(c.reg, "name", conf.View.Reversed)
	}

	c.hib = NewHibernation(c.inhibitor)
	c.deb = watchers.NewDebouncer(time.Duration(conf.Watch.DebounceSec) * time.Second)

	return c, nil
}

func (c *Core) config() *config.Root {
	c.confMu.RLock()
	defer c.confMu.RUnlock()
	return c.conf
}

// Subscribe registers fn for every signal. Signals are delivered on the
// reactive goroutine in subscription order.
func (c *Core) Subscribe(fn func(Signal)) (unsubscribe func()) {
	return c.bus.subscribe(fn)
}

func (c *Core) Registry() *Registry { return c.reg }
func (c *Core) View() *View         { return c.view }

// Torrents returns the records as ordered and filtered by the view.
func (c *Core) Torrents() []*Record {
	return c.view.Rows()
}

func (c *Core) Torrent(id uint64) (*Record, error) {
	rec := c.reg.FindByID(id)
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (c *Core) Stats() *GlobalTorrentStats {
	return c.stats.GlobalStats()
}

func (c *Core) PendingOperations() int64 {
	return c.pending.Load()
}

// Run drives the reactive loop until ctx is canceled or Close is called.
func (c *Core) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		if c.closing.Load() {
			return ErrClosing
		}
		return errAlreadyRunning
	}
	defer close(c.done)

	conf := c.config()
	alert := time.NewTicker(time.Duration(conf.Session.AlertIntervalMs) * time.Millisecond)
	defer alert.Stop()
	hib := time.NewTicker(time.Duration(conf.Hibernation.IntervalSec) * time.Second)
	defer hib.Stop()
	save := time.NewTicker(time.Duration(conf.Stats.SaveIntervalSec) * time.Second)
	defer save.Stop()

	if err := c.startWatcher(conf.Watch); err != nil {
		c.log.Error().Err(err).Str("folder", conf.Watch.Path).Msg("error starting watch folder")
	}

	c.log.Info().Msg("torrent core started")

	for {
		var debC <-chan time.Time
		if c.debTicker != nil {
			debC = c.debTicker.C
		}
		var pathC <-chan string
		if c.watcher != nil {
			pathC = c.watcher.Paths()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case fn := <-c.cmds:
			fn()
		case <-alert.C:
			c.alertTick()
		case <-hib.C:
			c.hibernationTick()
		case now := <-debC:
			c.debounceTick(now)
		case p := <-pathC:
			c.track(p)
		case <-save.C:
			c.saveStats()
		}
	}
}

// exec runs fn on the reactive goroutine and waits for its result.
func (c *Core) exec(ctx context.Context, fn func() error) error {
	if c.closing.Load() {
		return ErrClosing
	}

	errc := make(chan error, 1)
	select {
	case c.cmds <- func() { errc <- fn() }:
	case <-c.stop:
		return ErrClosing
	case <-c.done:
		return ErrClosing
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-errc
}

// post queues fn without waiting. It is dropped once the loop is gone.
func (c *Core) post(fn func()) {
	go func() {
		select {
		case c.cmds <- fn:
		case <-c.stop:
		case <-c.done:
		}
	}()
}

func (c *Core) alertTick() {
	c.eng.RequestSnapshot()
	c.dispatch(c.eng.DrainEvents())
}

func (c *Core) registryChanged(ids []uint64, f Field) {
	c.view.OnRegistryChanged(f)
	if f.Has(FieldAdded | FieldRemoved) {
		c.metrics.torrents.Set(float64(c.reg.Len()))
	}
	c.bus.publish(RegistryChanged{IDs: ids, Fields: f})
}

// persist asks the engine for the resume state of rec.
func (c *Core) persist(rec *Record) {
	n := c.pending.Add()
	c.metrics.pending.Set(float64(n))
	c.eng.SaveResume(rec.Handle())
}

func (c *Core) persistDone() {
	n, ok := c.pending.Done()
	if !ok {
		c.log.Warn().Msg("persistence answer without a pending request")
	}
	c.metrics.pending.Set(float64(n))
}

func (c *Core) saveStats() {
	if err := c.store.SaveTotals(c.stats.Totals()); err != nil {
		c.log.Error().Err(err).Msg("error saving stats")
	}
}

func isActive(st engine.Status) bool {
	if st.Paused {
		return false
	}
	switch st.State {
	case engine.StateDownloading, engine.StateMetadata, engine.StateChecking:
		return true
	}
	return false
}

func (c *Core) hibernationTick() {
	active := 0
	for _, rec := range c.reg.Records() {
		if isActive(rec.Status()) {
			active++
		}
	}
	c.hib.Update(c.config().Hibernation.PreventSleep, active)
}

// Restore loads every stored resume descriptor into the engine. Busy is
// signalled until the engine has answered all of them.
func (c *Core) Restore(ctx context.Context) error {
	return c.exec(ctx, c.restore)
}

func (c *Core) restore() error {
	descs, corrupt, err := c.store.ListDescriptors()
	if err != nil {
		return fmt.Errorf("error loading resume state: %w", err)
	}

	if len(corrupt) != 0 {
		c.bus.publish(AddError{
			Kind:    AddErrorCorrupt,
			Names:   corrupt,
			Message: fmt.Sprintf("%d stored torrents could not be read", len(corrupt)),
		})
	}

	if len(descs) == 0 {
		return nil
	}

	if c.restoring == 0 {
		c.bus.publish(Busy{Busy: true})
	}
	c.restoring += len(descs)
	for _, d := range descs {
		c.eng.SubmitAdd(engine.FromDescriptor(d))
	}

	c.log.Info().Int("torrents", len(descs)).Msg("restoring torrents")
	return nil
}

// Add submits one torrent. The outcome arrives later through the registry
// and the signals.
func (c *Core) Add(ctx context.Context, p AddParams) error {
	var err error
	if xerr := c.exec(ctx, func() error {
		err = c.addBatch([]AddParams{p}, nil)[0]
		return nil
	}); xerr != nil {
		return xerr
	}
	return err
}

// AddBatch submits several torrents. Descriptors that cannot be parsed are
// reported in a single AddError signal.
func (c *Core) AddBatch(ctx context.Context, ps []AddParams) ([]error, error) {
	var errs []error
	err := c.exec(ctx, func() error {
		errs = c.addBatch(ps, nil)
		return nil
	})
	return errs, err
}

func (c *Core) addBatch(ps []AddParams, unreadable []string) []error {
	errs := make([]error, len(ps))
	corrupt := unreadable
	for i, p := range ps {
		if err := c.submit(p); err != nil {
			errs[i] = err
			name := p.Name
			if name == "" {
				name = p.Magnet
			}
			corrupt = append(corrupt, name)
		}
	}

	if len(corrupt) != 0 {
		c.bus.publish(AddError{
			Kind:    AddErrorCorrupt,
			Names:   corrupt,
			Message: fmt.Sprintf("%d torrents could not be read", len(corrupt)),
		})
	}

	return errs
}

func (c *Core) submit(p AddParams) error {
	d, err := describe(p)
	if err != nil {
		return err
	}

	conf := c.config()
	savePath := p.SavePath
	if savePath == "" {
		savePath = conf.Session.SavePath
	}

	magnet := d.Magnet
	token := c.callbacks.Enqueue(func(engine.Handle, *Record) (string, bool) {
		return magnet, true
	})

	c.eng.SubmitAdd(engine.AddRequest{
		Token:    token,
		MetaInfo: p.MetaInfo,
		Magnet:   p.Magnet,
		SavePath: savePath,
		Paused:   p.Paused || conf.Session.StartPaused,
		AddedAt:  time.Now(),
	})

	c.log.Debug().Str("name", d.Name).Uint64("token", uint64(token)).Msg("add submitted")
	return nil
}

// settle shows rec as fresh for the configured time.
func (c *Core) settle(rec *Record, fresh bool) {
	rec.setFresh(fresh)
	if !fresh {
		return
	}

	id := rec.ID()
	t := time.AfterFunc(time.Duration(c.config().Session.FreshForSec)*time.Second, func() {
		c.post(func() {
			if rec.Removed() {
				return
			}
			rec.setFresh(false)
			c.registryChanged([]uint64{id}, FieldFresh)
		})
	})
	rec.onTeardown(func() { t.Stop() })
}

// Remove drops a torrent and its resume state.
func (c *Core) Remove(ctx context.Context, id uint64, deleteFiles bool) error {
	return c.exec(ctx, func() error {
		rec := c.reg.FindByID(id)
		if rec == nil {
			return ErrNotFound
		}

		if _, err := c.reg.Remove(rec.Handle(), deleteFiles); err != nil {
			return err
		}

		if op := c.lastOp; op != nil && op.handle == rec.Handle() {
			c.completeOp(op.kind, op.handle, op.index, ErrNotFound)
		}

		if err := c.store.DeleteDescriptor(rec.InfoHash()); err != nil {
			c.log.Warn().Err(err).Str("hash", rec.InfoHash()).Msg("error deleting resume state")
		}

		c.log.Info().Str("name", rec.Status().Name).Bool("delete-files", deleteFiles).Msg("torrent removed")
		return nil
	})
}

func (c *Core) Pause(ctx context.Context, id uint64) error {
	return c.exec(ctx, func() error {
		rec := c.reg.FindByID(id)
		if rec == nil {
			return ErrNotFound
		}
		c.eng.PauseTorrent(rec.Handle())
		return nil
	})
}

func (c *Core) Resume(ctx context.Context, id uint64) error {
	return c.exec(ctx, func() error {
		rec := c.reg.FindByID(id)
		if rec == nil {
			return ErrNotFound
		}
		c.eng.ResumeTorrent(rec.Handle())
		c.persist(rec)
		return nil
	})
}

// MoveStorage relocates the data of a torrent. done receives the result; it
// gets ErrSuperseded if another move or rename is issued first.
func (c *Core) MoveStorage(ctx context.Context, id uint64, path string, done func(error)) error {
	return c.exec(ctx, func() error {
		rec := c.reg.FindByID(id)
		if rec == nil {
			return ErrNotFound
		}
		c.setOp(&pendingOp{kind: opMove, handle: rec.Handle(), done: done})
		c.eng.MoveStorage(rec.Handle(), path)
		return nil
	})
}

// RenameFile renames one file of a torrent. done behaves as in MoveStorage.
func (c *Core) RenameFile(ctx context.Context, id uint64, index int, name string, done func(error)) error {
	return c.exec(ctx, func() error {
		rec := c.reg.FindByID(id)
		if rec == nil {
			return ErrNotFound
		}
		c.setOp(&pendingOp{kind: opRename, handle: rec.Handle(), index: index, done: done})
		c.eng.RenameFile(rec.Handle(), index, name)
		return nil
	})
}

func (c *Core) setOp(op *pendingOp) {
	if prev := c.lastOp; prev != nil && prev.done != nil {
		prev.done(ErrSuperseded)
	}
	c.lastOp = op
}

// completeOp finishes the pending operation if it matches. It reports
// whether one did.
func (c *Core) completeOp(kind opKind, h engine.Handle, index int, err error) bool {
	op := c.lastOp
	if op == nil || op.kind != kind || op.handle != h {
		return false
	}
	if kind == opRename && op.index != index {
		return false
	}

	c.lastOp = nil
	if op.done != nil {
		op.done(err)
	}
	return true
}

// PreferenceChanged reloads the settings and applies them.
func (c *Core) PreferenceChanged(ctx context.Context, key string) error {
	return c.exec(ctx, func() error {
		conf, err := c.cfgSrc.Get()
		if err != nil {
			return fmt.Errorf("error reading config: %w", err)
		}
		conf = config.AddDefaults(conf)

		prev := c.config()
		c.confMu.Lock()
		c.conf = conf
		c.confMu.Unlock()

		if err := c.view.SetMode(conf.View.Mode); err != nil {
			c.log.Warn().Err(err).Msg("keeping previous sort mode")
		}
		c.view.SetReversed(conf.View.Reversed)

		c.hibernationTick()

		if *prev.Watch != *conf.Watch {
			c.stopWatcher()
			c.deb = watchers.NewDebouncer(time.Duration(conf.Watch.DebounceSec) * time.Second)
			if err := c.startWatcher(conf.Watch); err != nil {
				c.log.Error().Err(err).Str("folder", conf.Watch.Path).Msg("error starting watch folder")
			}
		}

		c.bus.publish(PreferenceChanged{Key: key})
		return nil
	})
}

func (c *Core) startWatcher(w *config.Watch) error {
	if !w.Enabled || w.Path == "" {
		return nil
	}

	dw, err := watchers.NewDirWatcher(w.Path)
	if err != nil {
		return err
	}
	if err := dw.Start(); err != nil {
		dw.Close()
		return err
	}

	c.watcher = dw
	return nil
}

func (c *Core) stopWatcher() {
	c.stopDebounce()
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Close(); err != nil {
		c.log.Warn().Err(err).Msg("error closing watch folder")
	}
	c.watcher = nil
}

// track starts debouncing p. The debounce ticker only runs while files are
// tracked.
func (c *Core) track(p string) {
	if !c.deb.Track(p) || c.debTicker != nil {
		return
	}
	c.debTicker = time.NewTicker(time.Duration(c.config().Watch.IntervalMs) * time.Millisecond)
}

func (c *Core) stopDebounce() {
	if c.debTicker == nil {
		return
	}
	c.debTicker.Stop()
	c.debTicker = nil
}

func (c *Core) debounceTick(now time.Time) {
	ready := c.deb.Tick(now)
	if c.deb.Len() == 0 {
		c.stopDebounce()
	}
	if len(ready) != 0 {
		c.addFiles(ready)
	}
}

// addFiles adds the torrent files as one batch, then renames each so it is
// not picked up again.
func (c *Core) addFiles(paths []string) {
	var ps []AddParams
	var readable []string
	var unreadable []string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			c.log.Warn().Err(err).Str("file", p).Msg("error reading torrent file")
			unreadable = append(unreadable, filepath.Base(p))
			if err := watchers.MarkInvalid(p); err != nil {
				c.log.Debug().Err(err).Str("file", p).Msg("error marking torrent file")
			}
			continue
		}
		ps = append(ps, AddParams{MetaInfo: b, Name: filepath.Base(p)})
		readable = append(readable, p)
	}

	errs := c.addBatch(ps, unreadable)
	for i, p := range readable {
		mark := watchers.MarkAdded
		if errs[i] != nil {
			mark = watchers.MarkInvalid
		}
		if err := mark(p); err != nil {
			c.log.Warn().Err(err).Str("file", p).Msg("error marking torrent file")
		}
	}
}
