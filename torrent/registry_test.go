package torrent

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jkaberg/torsync/torrent/engine"
	"github.com/jkaberg/torsync/torrent/engine/enginetest"
)

func TestRegistryAddRemove(t *testing.T) {
	require := require.New(t)

	eng := enginetest.New()
	var removed []uint64
	reg := NewRegistry(eng, func(ids []uint64, f Field) {
		if f.Has(FieldRemoved) {
			removed = append(removed, ids...)
		}
	})

	a, err := reg.Add("a", "hash-a", "alpha")
	require.NoError(err)
	b, err := reg.Add("b", "hash-b", "beta")
	require.NoError(err)
	require.Less(a.ID(), b.ID())

	dup, err := reg.Add("a", "hash-a", "alpha")
	require.ErrorIs(err, ErrDuplicateHandle)
	require.Same(a, dup)
	require.Equal(2, reg.Len())

	require.Same(a, reg.FindByID(a.ID()))
	require.Same(b, reg.FindByHandle("b"))
	require.Nil(reg.FindByHandle("c"))

	_, err = reg.Remove("c", false)
	require.ErrorIs(err, ErrUnknownHandle)

	got, err := reg.Remove("a", true)
	require.NoError(err)
	require.Same(a, got)
	require.True(a.Removed())
	require.Nil(reg.FindByID(a.ID()))
	require.Equal([]uint64{a.ID()}, removed)
	require.Equal([]enginetest.RemoveCall{{Handle: "a", DeleteFiles: true}}, eng.RemoveCalls())

	// a removed record ignores later snapshots
	require.Zero(a.replace(engine.Snapshot{Status: engine.Status{Name: "changed"}}))
	require.Equal("alpha", a.Status().Name)
}

func TestRegistryTeardownRunsCleanups(t *testing.T) {
	require := require.New(t)
	reg := NewRegistry(enginetest.New(), nil)

	rec, err := reg.Add("a", "hash-a", "alpha")
	require.NoError(err)

	calls := 0
	rec.onTeardown(func() { calls++ })
	rec.onTeardown(func() { calls++ })

	reg.Clear()
	require.Equal(2, calls)
	require.Zero(reg.Len())

	// registering after teardown runs right away
	rec.onTeardown(func() { calls++ })
	require.Equal(3, calls)

	rec.setFresh(true)
	require.False(rec.Fresh())
	require.False(rec.setSavePath("/x"))
}

// The registry must stay a bijection between handles and ids whatever the
// order of adds and removes.
func TestRegistryBijection(t *testing.T) {
	require := require.New(t)

	rnd := rand.New(rand.NewSource(1))
	reg := NewRegistry(enginetest.New(), nil)
	live := map[engine.Handle]bool{}

	for i := 0; i < 2000; i++ {
		h := engine.Handle(fmt.Sprintf("h%d", rnd.Intn(50)))
		if rnd.Intn(3) == 0 {
			_, err := reg.Remove(h, false)
			if live[h] {
				require.NoError(err)
			} else {
				require.ErrorIs(err, ErrUnknownHandle)
			}
			delete(live, h)
			continue
		}

		_, err := reg.Add(h, string(h), string(h))
		if live[h] {
			require.ErrorIs(err, ErrDuplicateHandle)
		} else {
			require.NoError(err)
		}
		live[h] = true
	}

	require.Equal(len(live), reg.Len())

	ids := map[uint64]bool{}
	for _, rec := range reg.Records() {
		require.True(live[rec.Handle()])
		require.False(ids[rec.ID()])
		ids[rec.ID()] = true
		require.Same(rec, reg.FindByID(rec.ID()))
		require.Same(rec, reg.FindByHandle(rec.Handle()))
	}
}

func TestCallbackQueue(t *testing.T) {
	require := require.New(t)

	var q callbackQueue
	var order []string
	cb := func(name string) AddCallback {
		return func(engine.Handle, *Record) (string, bool) {
			order = append(order, name)
			return "magnet-" + name, true
		}
	}

	t1 := q.Enqueue(cb("one"))
	t2 := q.Enqueue(cb("two"))
	t3 := q.Enqueue(cb("three"))
	require.NotZero(t1)
	require.Equal(3, q.Len())

	m, fresh := q.Invoke(t2, "", nil)
	require.Equal("magnet-two", m)
	require.True(fresh)

	m, fresh = q.Invoke(0, "", nil)
	require.Empty(m)
	require.False(fresh)

	require.True(q.Discard(t1))
	require.False(q.Discard(t1))

	q.Invoke(t3, "", nil)
	require.Equal([]string{"two", "three"}, order)
	require.Zero(q.Len())

	// tokens are never reused
	require.Greater(q.Enqueue(nil), t3)
}
