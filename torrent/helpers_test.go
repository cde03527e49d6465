package torrent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jkaberg/torsync/config"
	"github.com/jkaberg/torsync/torrent/creator"
	"github.com/jkaberg/torsync/torrent/engine"
	"github.com/jkaberg/torsync/torrent/engine/enginetest"
	"github.com/jkaberg/torsync/torrent/loader"
)

type testConfig struct {
	mu   sync.Mutex
	root config.Root
}

func newTestConfig(t *testing.T, mod func(*config.Root)) *testConfig {
	r := config.AddDefaults(&config.Root{})
	r.Session.SavePath = t.TempDir()
	r.Session.AlertIntervalMs = 20
	r.Session.CloseTimeoutSec = 5
	r.Hibernation.PreventSleep = true
	if mod != nil {
		mod(r)
	}
	return &testConfig{root: *r}
}

// Get returns a deep copy so the core never shares sections with the test.
func (c *testConfig) Get() (*config.Root, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.root
	session, watch, hib, view, stats, log, http := *r.Session, *r.Watch, *r.Hibernation, *r.View, *r.Stats, *r.Log, *r.HTTPGlobal
	r.Session, r.Watch, r.Hibernation, r.View, r.Stats, r.Log, r.HTTPGlobal = &session, &watch, &hib, &view, &stats, &log, &http
	return &r, nil
}

func (c *testConfig) update(fn func(*config.Root)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.root)
}

type signals struct {
	mu  sync.Mutex
	all []Signal
}

func (s *signals) record(sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, sig)
}

func (s *signals) addErrors() []AddError {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AddError
	for _, sig := range s.all {
		if e, ok := sig.(AddError); ok {
			out = append(out, e)
		}
	}
	return out
}

func (s *signals) busy() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bool
	for _, sig := range s.all {
		if b, ok := sig.(Busy); ok {
			out = append(out, b.Busy)
		}
	}
	return out
}

func (s *signals) changes() []RegistryChanged {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RegistryChanged
	for _, sig := range s.all {
		if e, ok := sig.(RegistryChanged); ok {
			out = append(out, e)
		}
	}
	return out
}

func (s *signals) preferences() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, sig := range s.all {
		if p, ok := sig.(PreferenceChanged); ok {
			out = append(out, p.Key)
		}
	}
	return out
}

func (s *signals) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = nil
}

type harness struct {
	core  *Core
	eng   *enginetest.Fake
	store *loader.DB
	conf  *testConfig
	sigs  *signals
}

func newHarness(t *testing.T, mod func(*config.Root), opts ...Option) *harness {
	t.Helper()

	store, err := loader.NewDB("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	conf := newTestConfig(t, mod)
	eng := enginetest.New()
	c, err := New(conf, eng, store, opts...)
	require.NoError(t, err)

	sigs := &signals{}
	c.Subscribe(sigs.record)

	return &harness{core: c, eng: eng, store: store, conf: conf, sigs: sigs}
}

// run starts the reactive loop and closes the core at the end of the test.
func (h *harness) run(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.core.Run(ctx) }()

	t.Cleanup(func() {
		h.eng.SetAutoPersist(true)
		h.core.Close(context.Background())
		cancel()
		<-errc
	})
}

func magnetFor(i int) string {
	return fmt.Sprintf("magnet:?xt=urn:btih:%040x&dn=torrent-%d", i, i)
}

func handleFor(i int) engine.Handle {
	return engine.Handle(fmt.Sprintf("%040x", i))
}

// addKnown registers a torrent the way a resume load does.
func (h *harness) addKnown(t *testing.T, i int) *Record {
	t.Helper()

	hd := handleFor(i)
	h.eng.Push(engine.Added{Handle: hd, InfoHash: string(hd), Name: fmt.Sprintf("torrent-%d", i)})
	h.core.alertTick()

	rec := h.core.reg.FindByHandle(hd)
	require.NotNil(t, rec)
	return rec
}

func testTorrent(t *testing.T, name string) []byte {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("content of "+name), 0644))

	j := creator.New(creator.Options{Root: p})
	j.Start()
	b, err := j.Result()
	require.NoError(t, err)
	return b
}

type countingInhibitor struct {
	mu       sync.Mutex
	inhibits int
	releases int
	err      error
}

func (c *countingInhibitor) Inhibit(string) (io.Closer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.inhibits++
	return closerFunc(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.releases++
		return nil
	}), nil
}

func (c *countingInhibitor) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inhibits, c.releases
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg)
}
