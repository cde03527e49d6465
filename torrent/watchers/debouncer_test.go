package watchers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, p string, at time.Time) {
	t.Helper()
	if _, err := os.Stat(p); os.IsNotExist(err) {
		require.NoError(t, os.WriteFile(p, []byte("d8:announce0:e"), 0644))
	}
	require.NoError(t, os.Chtimes(p, at, at))
}

func TestDebouncerWaitsForStableFile(t *testing.T) {
	require := require.New(t)

	t0 := time.Now().Add(-time.Hour).Truncate(time.Second)
	p := filepath.Join(t.TempDir(), "a.torrent")
	touch(t, p, t0)

	d := NewDebouncer(2 * time.Second)
	require.True(d.Track(p))

	require.Empty(d.Tick(t0.Add(time.Second)))

	touch(t, p, t0.Add(1500*time.Millisecond))
	require.Empty(d.Tick(t0.Add(2*time.Second)))
	require.Empty(d.Tick(t0.Add(3*time.Second)))
	require.Empty(d.Tick(t0.Add(3400*time.Millisecond)))
	require.Equal([]string{p}, d.Tick(t0.Add(3500*time.Millisecond)))
	require.Zero(d.Len())
}

func TestDebouncerUntouchedFile(t *testing.T) {
	require := require.New(t)

	t0 := time.Now().Add(-time.Hour).Truncate(time.Second)
	p := filepath.Join(t.TempDir(), "a.torrent")
	touch(t, p, t0)

	d := NewDebouncer(2 * time.Second)
	require.True(d.Track(p))

	var addedAt time.Time
	for tick := t0; tick.Before(t0.Add(5 * time.Second)); tick = tick.Add(500 * time.Millisecond) {
		if ready := d.Tick(tick); len(ready) != 0 {
			addedAt = tick
			break
		}
	}
	require.Equal(t0.Add(2*time.Second), addedAt)
}

func TestDebouncerDedupesByIdentity(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	p := filepath.Join(dir, "a.torrent")
	touch(t, p, time.Now())
	link := filepath.Join(dir, "b.torrent")
	require.NoError(os.Link(p, link))

	d := NewDebouncer(2 * time.Second)
	require.True(d.Track(p))
	require.False(d.Track(p))
	require.False(d.Track(link))
	require.Equal(1, d.Len())
}

func TestDebouncerDropsVanishedFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	p := filepath.Join(dir, "a.torrent")
	touch(t, p, time.Now())

	d := NewDebouncer(2 * time.Second)
	require.False(d.Track(filepath.Join(dir, "missing.torrent")))
	require.True(d.Track(p))
	require.NoError(os.Remove(p))

	require.Empty(d.Tick(time.Now().Add(time.Minute)))
	require.Zero(d.Len())
}
