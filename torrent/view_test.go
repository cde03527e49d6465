package torrent

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jkaberg/torsync/torrent/engine"
	"github.com/jkaberg/torsync/torrent/engine/enginetest"
)

func randomRegistry(t *testing.T, n int) *Registry {
	t.Helper()

	rnd := rand.New(rand.NewSource(7))
	reg := NewRegistry(enginetest.New(), nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	names := []string{"alpha", "Beta", "gamma", "alpha", "delta"}

	for i := 0; i < n; i++ {
		h := engine.Handle(fmt.Sprintf("h%d", i))
		rec, err := reg.Add(h, string(h), "")
		require.NoError(t, err)
		// few distinct values so ties are common
		rec.replace(engine.Snapshot{Status: engine.Status{
			Name:          names[rnd.Intn(len(names))],
			State:         engine.State(rnd.Intn(3)),
			Progress:      float64(rnd.Intn(3)) / 2,
			DownloadRate:  int64(rnd.Intn(2) * 100),
			TotalSize:     int64(rnd.Intn(3)),
			QueuePosition: rnd.Intn(4),
			ETA:           time.Duration(rnd.Intn(3)) * time.Minute,
			AddedAt:       base.Add(time.Duration(rnd.Intn(3)) * time.Hour),
		}})
	}
	return reg
}

func TestViewTotalOrder(t *testing.T) {
	reg := randomRegistry(t, 30)
	recs := reg.Records()

	for _, mode := range SortModes() {
		for _, rev := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/reversed=%v", mode, rev), func(t *testing.T) {
				require := require.New(t)
				v, err := NewView(reg, mode, rev)
				require.NoError(err)

				for _, a := range recs {
					require.Zero(v.Compare(a, a))
					for _, b := range recs {
						if a == b {
							continue
						}
						ab := v.Compare(a, b)
						require.NotZero(ab)
						require.Equal(-ab, v.Compare(b, a))

						for _, c := range recs {
							if ab < 0 && v.Compare(b, c) < 0 {
								require.Negative(v.Compare(a, c))
							}
						}
					}
				}
			})
		}
	}
}

func TestViewReversal(t *testing.T) {
	require := require.New(t)
	reg := randomRegistry(t, 20)

	for _, mode := range SortModes() {
		v, err := NewView(reg, mode, false)
		require.NoError(err)
		fwd := v.Rows()

		v.SetReversed(true)
		rev := v.Rows()
		require.Len(rev, len(fwd))
		for i := range fwd {
			require.Same(fwd[i], rev[len(rev)-1-i], mode)
		}
	}
}

func TestViewSortByName(t *testing.T) {
	require := require.New(t)
	reg := NewRegistry(enginetest.New(), nil)
	for i, name := range []string{"charlie", "Alpha", "bravo", "alpha"} {
		rec, err := reg.Add(engine.Handle(name+fmt.Sprint(i)), "", name)
		require.NoError(err)
		rec.replace(engine.Snapshot{Status: engine.Status{Name: name, QueuePosition: 10 - i}})
	}

	v, err := NewView(reg, "name", false)
	require.NoError(err)

	var got []string
	for _, r := range v.Rows() {
		got = append(got, r.Status().Name)
	}
	// equal names fall back to the queue position
	require.Equal([]string{"alpha", "Alpha", "bravo", "charlie"}, got)

	require.Error(v.SetMode("nope"))
	require.Equal("name", v.Mode())

	_, err = NewView(reg, "nope", false)
	require.Error(err)
}

func TestViewRelevance(t *testing.T) {
	require := require.New(t)
	reg := NewRegistry(enginetest.New(), nil)
	rec, err := reg.Add("a", "", "alpha")
	require.NoError(err)

	v, err := NewView(reg, "progress", false)
	require.NoError(err)
	require.Len(v.Rows(), 1)

	require.False(v.OnRegistryChanged(FieldDownloadRate|FieldPeers))
	require.True(v.OnRegistryChanged(FieldProgress))
	require.True(v.OnRegistryChanged(FieldRemoved))

	// rows are not rebuilt for an irrelevant change
	rec.replace(engine.Snapshot{Status: engine.Status{Name: "alpha", DownloadRate: 5}})
	v.Rows()
	_, err = reg.Add("b", "", "beta")
	require.NoError(err)
	require.False(v.OnRegistryChanged(FieldUploadRate))
	require.Len(v.Rows(), 1)

	require.True(v.OnRegistryChanged(FieldAdded))
	require.Len(v.Rows(), 2)

	v.SetFilter(Filter{States: []engine.State{engine.StateSeeding}})
	require.True(v.OnRegistryChanged(FieldState))
}

func TestViewFilter(t *testing.T) {
	require := require.New(t)
	reg := NewRegistry(enginetest.New(), nil)

	add := func(h, name string, st engine.State) {
		rec, err := reg.Add(engine.Handle(h), "", name)
		require.NoError(err)
		rec.replace(engine.Snapshot{Status: engine.Status{Name: name, State: st}})
	}
	add("a", "Ubuntu 24.04 Desktop", engine.StateSeeding)
	add("b", "debian-12-netinst", engine.StateDownloading)
	add("c", "ubuntu-server", engine.StateDownloading)

	v, err := NewView(reg, "name", false)
	require.NoError(err)
	require.Len(v.Rows(), 3)

	v.SetFilter(Filter{Search: "ubu"})
	require.Len(v.Rows(), 2)

	v.SetFilter(Filter{Search: "ubu", States: []engine.State{engine.StateDownloading}})
	rows := v.Rows()
	require.Len(rows, 1)
	require.Equal("ubuntu-server", rows[0].Status().Name)

	v.SetFilter(Filter{})
	require.Len(v.Rows(), 3)
}
