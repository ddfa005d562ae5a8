package arena

import (
	"fmt"
	"sort"
)

// CleanupFunc is a teardown action attached to an arena. It runs on the
// background cleaner when the arena is destroyed.
type CleanupFunc func() error

type cleanup struct {
	name     string
	priority int
	seq      int // Registration order; tie-break for equal priorities
	fn       CleanupFunc
}

// RegisterCleanup attaches a teardown action invoked during destruction in
// ascending priority order (e.g. join callbacks before close callbacks).
// name labels the resource in cleanup failure logs.
func (a *Arena) RegisterCleanup(name string, priority int, fn CleanupFunc) {
	if a.destroyed.Load() {
		panic(fmt.Sprintf("arena: cleanup registration on destroyed arena %d", a.id))
	}

	a.mu.Lock()
	a.cleanups = append(a.cleanups, cleanup{
		name:     name,
		priority: priority,
		seq:      len(a.cleanups),
		fn:       fn,
	})
	a.mu.Unlock()
}

// CleanupFailure describes a cleanup callback that returned an error or
// panicked during teardown.
type CleanupFailure struct {
	Arena    uint64
	Resource string
	Priority int
	Err      error
}

// Teardown runs the registered cleanup callbacks in ascending priority
// order, then unmaps the arena's blocks and recycles its handle slots. A
// failing callback is reported through onFailure (if non-nil) and never
// aborts the teardown - one broken resource must not stall reclamation of
// the rest of memory.
//
// Called by the cleaner for retired arenas, or inline from Destroy when no
// cleaner is attached. Must run exactly once per arena; retire guarantees
// that.
func (a *Arena) Teardown(onFailure func(CleanupFailure)) {
	a.mu.Lock()
	cleanups := a.cleanups
	a.cleanups = nil
	owned := a.owned
	a.owned = nil
	a.mu.Unlock()

	sort.SliceStable(cleanups, func(i, j int) bool {
		if cleanups[i].priority != cleanups[j].priority {
			return cleanups[i].priority < cleanups[j].priority
		}
		return cleanups[i].seq < cleanups[j].seq
	})

	for _, c := range cleanups {
		if err := a.runCleanup(c); err != nil && onFailure != nil {
			onFailure(CleanupFailure{
				Arena:    a.id,
				Resource: c.name,
				Priority: c.priority,
				Err:      err,
			})
		}
	}

	a.releaseBlocks()

	// All owned entries were killed in retire; return their slots to the
	// table free set.
	if owned != nil {
		it := owned.Iterator()
		for it.HasNext() {
			a.table.Release(it.Next())
		}
	}
	for _, slot := range a.DrainDeadSlots() {
		a.table.Release(slot)
	}
}

func (a *Arena) runCleanup(c cleanup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup %q panicked: %v", c.name, r)
		}
	}()
	return c.fn()
}
