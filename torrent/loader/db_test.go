package loader

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/torsync/torrent/engine"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestDescriptors(t *testing.T) {
	require := require.New(t)
	db := newTestDB(t)

	added := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(db.SaveDescriptor(engine.Descriptor{
		InfoHash: "aa",
		Name:     "first",
		MetaInfo: []byte("d4:infod...e"),
		SavePath: "/data",
		AddedAt:  added,
	}))
	require.NoError(db.SaveDescriptor(engine.Descriptor{
		InfoHash: "bb",
		Name:     "second",
		Magnet:   "magnet:?xt=urn:btih:bb",
		Paused:   true,
	}))

	ds, corrupt, err := db.ListDescriptors()
	require.NoError(err)
	require.Empty(corrupt)
	require.Len(ds, 2)
	require.Equal("first", ds[0].Name)
	require.True(added.Equal(ds[0].AddedAt))
	require.True(ds[1].Paused)

	require.NoError(db.DeleteDescriptor("aa"))
	require.NoError(db.DeleteDescriptor("not-there"))

	ds, _, err = db.ListDescriptors()
	require.NoError(err)
	require.Len(ds, 1)
	require.Equal("bb", ds[0].InfoHash)
}

func TestSaveDescriptorWithoutHash(t *testing.T) {
	require.Error(t, newTestDB(t).SaveDescriptor(engine.Descriptor{Name: "x"}))
}

func TestCorruptDescriptors(t *testing.T) {
	require := require.New(t)
	db := newTestDB(t)

	require.NoError(db.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(resumeRootKey+"cc"), []byte("{broken"))
	}))
	require.NoError(db.SaveDescriptor(engine.Descriptor{InfoHash: "dd"}))
	require.NoError(db.SaveDescriptor(engine.Descriptor{InfoHash: "ee", Magnet: "magnet:?xt=urn:btih:ee"}))

	ds, corrupt, err := db.ListDescriptors()
	require.NoError(err)
	require.Len(ds, 1)
	require.Equal([]string{"cc", "dd"}, corrupt)
}

func TestTotals(t *testing.T) {
	require := require.New(t)
	db := newTestDB(t)

	got, err := db.LoadTotals()
	require.NoError(err)
	require.Zero(got)

	want := Totals{Downloaded: 10, Uploaded: 20, Uptime: time.Hour}
	require.NoError(db.SaveTotals(want))

	got, err = db.LoadTotals()
	require.NoError(err)
	require.Equal(want, got)
}
