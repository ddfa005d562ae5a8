package arengo

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/arengo/internal/arena"
)

// Mode selects the memory relationship between a spawned thread and its
// spawner.
type Mode int

const (
	// ModeOwned gives the thread a private arena whose result is promoted
	// into the spawner's arena at first sync.
	ModeOwned Mode = iota
	// ModeShared runs the thread directly against the spawner's arena.
	// Safety of concurrent access is established ahead of time by the
	// freeze analysis.
	ModeShared
	// ModePrivate gives the thread a detached arena. No memory flows back;
	// the result must be a primitive.
	ModePrivate
)

func (m Mode) String() string {
	switch m {
	case ModeOwned:
		return "owned"
	case ModeShared:
		return "shared"
	case ModePrivate:
		return "private"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// PendingState is the lifecycle of a spawned thread's result.
type PendingState int32

const (
	// StatePending means the result has not been synced yet.
	StatePending PendingState = iota
	// StateSynced means the result was delivered by a sync.
	StateSynced
	// StatePanicked means the thread failed; syncs re-raise the failure.
	StatePanicked
)

func (s PendingState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSynced:
		return "synced"
	case StatePanicked:
		return "panicked"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Pending is the handle to a spawned thread's eventual result. It moves
// from pending to exactly one of synced or panicked, at the first sync.
// All methods are safe for concurrent use.
type Pending struct {
	rt     *Runtime
	caller *Arena
	ta     *arena.Arena // thread arena; nil in shared mode
	mode   Mode

	done    chan struct{}
	deliver sync.Once
	state   atomic.Int32

	// Written by the thread before done closes, read only after.
	result  Value
	failure any
}

// Spawn runs fn on a dedicated OS thread and returns the pending result.
//
// The thread receives its own arena in Owned and Private modes, and the
// spawner's arena in Shared mode. Failure to create the thread arena means
// host memory is exhausted and panics.
func (a *Arena) Spawn(mode Mode, fn func(ta *Arena) Value) *Pending {
	rt := a.rt

	p := &Pending{
		rt:     rt,
		caller: a,
		mode:   mode,
		done:   make(chan struct{}),
	}

	threadArena := a
	if mode != ModeShared {
		parent := a.inner
		if mode == ModePrivate {
			parent = rt.root.inner
		}
		inner, err := arena.New(rt.table, parent)
		if err != nil {
			panic(fmt.Sprintf("arengo: spawn arena: %v", err))
		}
		rt.registry.Register(inner)
		p.ta = inner
		threadArena = &Arena{rt: rt, inner: inner}
	}

	rt.metrics.RecordSpawn(mode)
	go p.run(fn, threadArena)
	return p
}

// run executes fn with the goroutine wired to one OS thread for its whole
// lifetime. The generated code may park thread-local native state.
func (p *Pending) run(fn func(ta *Arena) Value, ta *Arena) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(p.done)

	defer func() {
		if r := recover(); r != nil {
			p.failure = r
			// A detached arena has no owner left to reclaim it. An owned
			// thread arena stays attached to the spawner and is reclaimed
			// with it.
			if p.mode == ModePrivate && !p.ta.Destroyed() {
				p.ta.Destroy()
			}
		}
	}()

	v := fn(ta)

	if p.mode == ModePrivate {
		if v.IsHandle() {
			panic("arengo: private spawn returned a handle-backed value")
		}
		// Detached arena; its memory never outlives the thread.
		p.ta.Destroy()
	}

	p.result = v
}

// State returns the current lifecycle state without blocking.
func (p *Pending) State() PendingState {
	return PendingState(p.state.Load())
}

// Completed reports whether the thread has finished, synced or not.
func (p *Pending) Completed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Sync blocks until the thread completes and delivers its result.
//
// In Owned mode the first sync promotes a handle-backed result into the
// spawner's arena and destroys the thread arena. Further syncs return the
// cached value without re-executing anything. If the thread panicked, every
// sync re-raises the captured failure.
func (p *Pending) Sync() Value {
	start := time.Now()
	<-p.done

	if p.failure != nil {
		p.state.Store(int32(StatePanicked))
		p.rt.metrics.RecordSync(time.Since(start), true)
		panic(p.failure)
	}

	p.deliver.Do(func() {
		if p.mode == ModeOwned {
			if p.result.IsHandle() {
				nh, err := p.ta.Promote(p.caller.inner, p.result.Handle())
				if err != nil {
					panic(fmt.Sprintf("arengo: promote spawn result: %v", err))
				}
				p.result = HandleValue(nh)
			}
			p.ta.Destroy()
		}
		p.state.Store(int32(StateSynced))
	})

	p.rt.metrics.RecordSync(time.Since(start), false)
	return p.result
}

// SyncAll waits for every pending result, then delivers them in argument
// order. If any thread panicked, the first failure in argument order is
// re-raised after all threads have completed.
func SyncAll(pending ...*Pending) []Value {
	for _, p := range pending {
		<-p.done
	}

	out := make([]Value, len(pending))
	for i, p := range pending {
		out[i] = p.Sync()
	}
	return out
}
