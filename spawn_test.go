package arengo

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillArray produces the worker payload both the spawned and the direct
// variant compute, so results can be compared element for element.
func fillArray(a *Arena, seed int64) Handle {
	h, err := a.Alloc(3 * 8)
	if err != nil {
		panic(err)
	}
	buf := a.Pin(h)
	for i := int64(0); i < 3; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(seed*(i+1)))
	}
	a.Unpin(h)
	return h
}

func readArray(a *Arena, h Handle) [3]int64 {
	buf := a.Pin(h)
	defer a.Unpin(h)
	var out [3]int64
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}

func TestSpawn_OwnedResultMatchesDirectCall(t *testing.T) {
	rt := newTestRuntime(t)
	a, err := rt.NewArena(nil)
	require.NoError(t, err)
	defer a.Destroy()

	p := a.Spawn(ModeOwned, func(ta *Arena) Value {
		return HandleValue(fillArray(ta, 7))
	})

	direct := readArray(a, fillArray(a, 7))

	v := p.Sync()
	require.True(t, v.IsHandle())
	assert.Equal(t, direct, readArray(a, v.Handle()))
	assert.Equal(t, StateSynced, p.State())
}

func TestSpawn_ResyncReturnsCachedValue(t *testing.T) {
	rt := newTestRuntime(t)
	a, err := rt.NewArena(nil)
	require.NoError(t, err)
	defer a.Destroy()

	runs := 0
	p := a.Spawn(ModeOwned, func(ta *Arena) Value {
		runs++
		return HandleValue(fillArray(ta, 3))
	})

	first := p.Sync()
	second := p.Sync()

	assert.Equal(t, first.Handle(), second.Handle(), "re-sync must not re-promote")
	assert.Equal(t, 1, runs, "re-sync must not re-execute")
}

func TestSpawn_ConcurrentSync(t *testing.T) {
	rt := newTestRuntime(t)
	a, err := rt.NewArena(nil)
	require.NoError(t, err)
	defer a.Destroy()

	p := a.Spawn(ModeOwned, func(ta *Arena) Value {
		return HandleValue(fillArray(ta, 11))
	})

	var wg sync.WaitGroup
	results := make([]Handle, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Sync().Handle()
		}(i)
	}
	wg.Wait()

	for i := 1; i < 8; i++ {
		assert.Equal(t, results[0], results[i], "racing syncs must agree on one handle")
	}
}

func TestSpawn_PanicPropagatesAtSync(t *testing.T) {
	rt := newTestRuntime(t)
	a, err := rt.NewArena(nil)
	require.NoError(t, err)
	defer a.Destroy()

	p := a.Spawn(ModeOwned, func(ta *Arena) Value {
		panic("worker exploded")
	})

	assert.PanicsWithValue(t, "worker exploded", func() { p.Sync() })
	assert.Equal(t, StatePanicked, p.State())

	// Every subsequent sync re-raises.
	assert.PanicsWithValue(t, "worker exploded", func() { p.Sync() })
}

func TestSpawn_UnsyncedFailureDiscarded(t *testing.T) {
	rt := newTestRuntime(t)
	a, err := rt.NewArena(nil)
	require.NoError(t, err)

	p := a.Spawn(ModeOwned, func(ta *Arena) Value {
		panic("nobody is listening")
	})
	<-p.done

	// Destroying the owning arena reclaims the pending without raising.
	a.Destroy()
	rt.Flush()
}

func TestSpawn_SharedMode(t *testing.T) {
	rt := newTestRuntime(t)
	a, err := rt.NewArena(nil)
	require.NoError(t, err)
	defer a.Destroy()

	shared, err := a.AllocBytes(make([]byte, 8))
	require.NoError(t, err)

	p := a.Spawn(ModeShared, func(ta *Arena) Value {
		// Shared mode works directly against the spawner's arena.
		buf := ta.Pin(shared)
		buf[0] = 42
		ta.Unpin(shared)
		return HandleValue(shared)
	})

	v := p.Sync()
	assert.Equal(t, shared, v.Handle(), "shared result needs no promotion")

	buf := a.Pin(shared)
	assert.Equal(t, byte(42), buf[0])
	a.Unpin(shared)
}

func TestSpawn_PrivateMode(t *testing.T) {
	rt := newTestRuntime(t)
	a, err := rt.NewArena(nil)
	require.NoError(t, err)
	defer a.Destroy()

	t.Run("primitive result", func(t *testing.T) {
		p := a.Spawn(ModePrivate, func(ta *Arena) Value {
			h, err := ta.Alloc(1024)
			if err != nil {
				panic(err)
			}
			buf := ta.Pin(h)
			var sum int64
			for i := range buf {
				buf[i] = byte(i)
				sum += int64(buf[i])
			}
			ta.Unpin(h)
			return IntValue(sum)
		})

		v := p.Sync()
		assert.Equal(t, KindInt, v.Kind())
		assert.NotZero(t, v.Int())
	})

	t.Run("handle result is fatal", func(t *testing.T) {
		p := a.Spawn(ModePrivate, func(ta *Arena) Value {
			h, _ := ta.Alloc(8)
			return HandleValue(h)
		})

		assert.Panics(t, func() { p.Sync() })
	})
}

func TestSyncAll(t *testing.T) {
	t.Run("collects in argument order", func(t *testing.T) {
		rt := newTestRuntime(t)
		a, err := rt.NewArena(nil)
		require.NoError(t, err)
		defer a.Destroy()

		var ps []*Pending
		for i := 0; i < 4; i++ {
			i := i
			ps = append(ps, a.Spawn(ModeOwned, func(ta *Arena) Value {
				return IntValue(int64(i * i))
			}))
		}

		vs := SyncAll(ps...)
		require.Len(t, vs, 4)
		for i, v := range vs {
			assert.Equal(t, int64(i*i), v.Int())
		}
	})

	t.Run("first failure in argument order wins", func(t *testing.T) {
		rt := newTestRuntime(t)
		a, err := rt.NewArena(nil)
		require.NoError(t, err)
		defer a.Destroy()

		release := make(chan struct{})
		first := a.Spawn(ModeOwned, func(ta *Arena) Value {
			// Completes last, but still wins failure selection.
			<-release
			panic("failure A")
		})
		second := a.Spawn(ModeOwned, func(ta *Arena) Value {
			defer close(release)
			panic("failure B")
		})

		defer func() {
			r := recover()
			require.NotNil(t, r, "expected propagated failure")
			assert.Equal(t, "failure A", r)
		}()
		SyncAll(first, second)
	})
}

func TestValue(t *testing.T) {
	assert.Equal(t, int64(-5), IntValue(-5).Int())
	assert.Equal(t, 2.5, FloatValue(2.5).Float())
	assert.True(t, BoolValue(true).Bool())

	h := Handle{Slot: 3, Gen: 9}
	assert.Equal(t, h, HandleValue(h).Handle())

	assert.Panics(t, func() { IntValue(1).Float() }, "kind mismatch must panic")
	assert.Equal(t, KindNil, Value{}.Kind())
}
