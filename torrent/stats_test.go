package torrent

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jkaberg/torsync/torrent/engine"
	"github.com/jkaberg/torsync/torrent/loader"
)

func TestStatsTotals(t *testing.T) {
	require := require.New(t)

	s := NewStats(loader.Totals{Downloaded: 1000, Uploaded: 100, Uptime: time.Hour}, 3)
	t0 := time.Now()

	s.Feed(engine.Counters{Downloaded: 0, Uploaded: 0}, t0)
	s.Feed(engine.Counters{Downloaded: 200, Uploaded: 20}, t0.Add(time.Second))
	s.Feed(engine.Counters{Downloaded: 400, Uploaded: 40}, t0.Add(2*time.Second))

	gs := s.GlobalStats()
	require.Equal(int64(1400), gs.DownloadedBytes)
	require.Equal(int64(140), gs.UploadedBytes)
	require.Equal(int64(400), gs.SessionDownloadedBytes)
	require.InDelta(200, gs.DownloadRate, 0.001)
	require.InDelta(20, gs.UploadRate, 0.001)
	require.InDelta(2, gs.SessionTime, 0.001)
	require.InDelta(3602, gs.TimePassed, 0.001)

	tot := s.Totals()
	require.Equal(int64(1400), tot.Downloaded)
	require.Equal(time.Hour+2*time.Second, tot.Uptime)

	// the window drops the oldest sample
	s.Feed(engine.Counters{Downloaded: 400, Uploaded: 40}, t0.Add(3*time.Second))
	s.Feed(engine.Counters{Downloaded: 400, Uploaded: 40}, t0.Add(4*time.Second))
	gs = s.GlobalStats()
	require.Zero(gs.DownloadRate)
}

func TestStatsRatesNeedTwoSamples(t *testing.T) {
	s := NewStats(loader.Totals{}, 0)
	s.Feed(engine.Counters{Downloaded: 10}, time.Now())
	gs := s.GlobalStats()
	require.Zero(t, gs.DownloadRate)
	require.Zero(t, gs.UploadRate)
}

func TestPendingOpsNeverNegative(t *testing.T) {
	require := require.New(t)

	var p PendingOps
	_, ok := p.Done()
	require.False(ok)
	require.Zero(p.Load())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Add()
		}()
		go func() {
			defer wg.Done()
			p.Done()
		}()
	}
	wg.Wait()
	require.GreaterOrEqual(p.Load(), int64(0))

	for {
		if _, ok := p.Done(); !ok {
			break
		}
	}
	require.Zero(p.Load())
}

func TestBusOrderAndUnsubscribe(t *testing.T) {
	require := require.New(t)

	var b bus
	var got []string
	unsubA := b.subscribe(func(s Signal) { got = append(got, "a") })
	b.subscribe(func(s Signal) { got = append(got, "b") })

	b.publish(Busy{Busy: true})
	require.Equal([]string{"a", "b"}, got)

	unsubA()
	unsubA()
	got = nil
	b.publish(PreferenceChanged{Key: "view"})
	require.Equal([]string{"b"}, got)
}

func TestFieldNames(t *testing.T) {
	f := FieldName | FieldProgress | FieldRemoved
	require.Equal(t, []string{"name", "progress", "removed"}, f.Names())
	require.Equal(t, "name|progress|removed", f.String())
	require.True(t, f.Has(FieldProgress|FieldETA))
	require.False(t, f.Has(FieldETA))
}

func TestHibernationEdges(t *testing.T) {
	require := require.New(t)

	inh := &countingInhibitor{}
	h := NewHibernation(inh)

	h.Update(true, 0)
	require.False(h.Inhibited())

	h.Update(true, 1)
	h.Update(true, 3)
	require.True(h.Inhibited())

	h.Update(true, 0)
	h.Update(true, 0)
	require.False(h.Inhibited())

	h.Update(true, 2)
	// turning the preference off allows sleep even with active torrents
	h.Update(false, 2)
	require.False(h.Inhibited())

	inhibits, releases := inh.counts()
	require.Equal(2, inhibits)
	require.Equal(2, releases)

	h.Update(true, 1)
	h.Release()
	h.Release()
	_, releases = inh.counts()
	require.Equal(3, releases)
}

func TestHibernationInhibitError(t *testing.T) {
	require := require.New(t)

	inh := &countingInhibitor{err: errors.New("no bus")}
	h := NewHibernation(inh)

	h.Update(true, 1)
	require.False(h.Inhibited())

	// still failing, tried again
	h.Update(true, 1)
	require.False(h.Inhibited())

	inh.mu.Lock()
	inh.err = nil
	inh.mu.Unlock()
	h.Update(true, 1)
	require.True(h.Inhibited())

	// held, no further calls while the state is unchanged
	h.Update(true, 2)
	h.Update(true, 0)
	require.False(h.Inhibited())

	inhibits, releases := inh.counts()
	require.Equal(1, inhibits)
	require.Equal(1, releases)
}

func TestRemoveWithStaleCounters(t *testing.T) {
	require := require.New(t)
	h := newHarness(t, nil)

	rec := h.addKnown(t, 1)
	rec.replace(engine.Snapshot{Status: engine.Status{Name: "torrent-1", TotalDownload: 1000, TotalUpload: 100}})
	h.eng.SetSnapshots(nil, engine.Counters{Downloaded: 1000, Uploaded: 100})
	h.core.alertTick()

	_, err := h.core.reg.Remove(handleFor(1), false)
	require.NoError(err)

	// counters taken before the removal still include the torrent, later
	// ones keep it in the session totals
	for i := 0; i < 3; i++ {
		h.core.alertTick()
		gs := h.core.Stats()
		require.Equal(int64(1000), gs.DownloadedBytes)
		require.Equal(int64(100), gs.UploadedBytes)
		require.Zero(gs.DownloadRate)
	}
	require.Equal(int64(1000), h.core.stats.Totals().Downloaded)
}
