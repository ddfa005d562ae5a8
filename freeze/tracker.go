package freeze

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// Check runs the frozen-resource analysis over a function body and returns
// every violation found. An empty result means the function is safe to
// compile.
func Check(f *Func) []Diagnostic {
	if f == nil || len(f.Blocks) == 0 {
		return nil
	}

	t := &tracker{
		fn:       f,
		spawnIDs: make(map[spawnKey]uint32),
	}
	t.numberSpawns()
	t.fixpoint()
	return t.report()
}

// spawnKey addresses a spawn instruction by position in the CFG.
type spawnKey struct {
	block int
	instr int
}

type tracker struct {
	fn *Func

	// Each spawn instruction is a distinct pending-result generator.
	spawnIDs  map[spawnKey]uint32
	spawnPos  []Pos
	spawnFroz [][]Var // Resources each spawn freezes

	in []state // Per-block entry state, fixpoint result
}

// state carries the two dataflow facts per program point.
type state struct {
	// frozen maps a resource to the pending spawns freezing it.
	frozen map[Var]*roaring.Bitmap
	// pending maps a result variable to its unresolved spawns.
	pending map[Var]*roaring.Bitmap
}

func newState() state {
	return state{
		frozen:  make(map[Var]*roaring.Bitmap),
		pending: make(map[Var]*roaring.Bitmap),
	}
}

func (s state) clone() state {
	out := newState()
	for v, ids := range s.frozen {
		out.frozen[v] = ids.Clone()
	}
	for v, ids := range s.pending {
		out.pending[v] = ids.Clone()
	}
	return out
}

// union merges other into s and reports whether s changed. Union is the
// join: a fact holds after a merge if it holds on any incoming path.
func (s state) union(other state) bool {
	changed := false
	for v, ids := range other.frozen {
		if cur, ok := s.frozen[v]; ok {
			before := cur.GetCardinality()
			cur.Or(ids)
			changed = changed || cur.GetCardinality() != before
		} else {
			s.frozen[v] = ids.Clone()
			changed = true
		}
	}
	for v, ids := range other.pending {
		if cur, ok := s.pending[v]; ok {
			before := cur.GetCardinality()
			cur.Or(ids)
			changed = changed || cur.GetCardinality() != before
		} else {
			s.pending[v] = ids.Clone()
			changed = true
		}
	}
	return changed
}

// numberSpawns assigns each spawn instruction an id and precomputes the
// resources it freezes.
func (t *tracker) numberSpawns() {
	for bi, b := range t.fn.Blocks {
		for ii, instr := range b.Instrs {
			sp, ok := instr.(Spawn)
			if !ok {
				continue
			}
			id := uint32(len(t.spawnPos))
			t.spawnIDs[spawnKey{bi, ii}] = id
			t.spawnPos = append(t.spawnPos, sp.At)
			t.spawnFroz = append(t.spawnFroz, t.frozenBy(sp))
		}
	}
}

// frozenBy returns the resources a spawn freezes in the caller: everything
// reachable from every argument in Shared mode, and everything reachable
// from by-reference arguments otherwise.
func (t *tracker) frozenBy(sp Spawn) []Var {
	seen := make(map[Var]struct{})
	var out []Var
	for _, arg := range sp.Args {
		if sp.Mode != ModeShared && !arg.ByRef {
			continue
		}
		for _, r := range t.fn.reachable(arg.X) {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// fixpoint computes per-block entry states with a forward worklist.
func (t *tracker) fixpoint() {
	n := len(t.fn.Blocks)
	t.in = make([]state, n)
	for i := range t.in {
		t.in[i] = newState()
	}

	work := make([]int, 0, n)
	inWork := make([]bool, n)
	work = append(work, 0)
	inWork[0] = true

	for len(work) > 0 {
		bi := work[0]
		work = work[1:]
		inWork[bi] = false

		out := t.in[bi].clone()
		for ii, instr := range t.fn.Blocks[bi].Instrs {
			t.transfer(&out, spawnKey{bi, ii}, instr, nil)
		}

		for _, succ := range t.fn.Blocks[bi].Succs {
			if t.in[succ].union(out) && !inWork[succ] {
				work = append(work, succ)
				inWork[succ] = true
			}
		}
	}
}

// report walks the blocks once more over the converged states and collects
// diagnostics in source order.
func (t *tracker) report() []Diagnostic {
	var diags []Diagnostic
	emit := func(d Diagnostic) {
		diags = append(diags, d)
	}

	for bi := range t.fn.Blocks {
		s := t.in[bi].clone()
		for ii, instr := range t.fn.Blocks[bi].Instrs {
			t.transfer(&s, spawnKey{bi, ii}, instr, emit)
		}
	}

	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].Pos.Line != diags[j].Pos.Line {
			return diags[i].Pos.Line < diags[j].Pos.Line
		}
		return diags[i].Pos.Col < diags[j].Pos.Col
	})
	return diags
}

// transfer applies one instruction's gen/kill to s, emitting diagnostics
// when emit is non-nil (the reporting pass).
func (t *tracker) transfer(s *state, key spawnKey, instr Instr, emit func(Diagnostic)) {
	switch in := instr.(type) {
	case Read:
		t.checkRead(s, in.X, in.At, emit)

	case Write:
		if emit != nil {
			if ids, ok := s.pending[in.X]; ok && !ids.IsEmpty() {
				emit(Diagnostic{
					Pos:     in.At,
					Code:    CodeReassignPending,
					Message: fmt.Sprintf("cannot reassign %q before syncing its pending result", in.X),
					Spawned: t.positions(ids),
				})
			} else if ids, ok := s.frozen[in.X]; ok && !ids.IsEmpty() {
				emit(Diagnostic{
					Pos:     in.At,
					Code:    CodeWriteFrozen,
					Message: fmt.Sprintf("cannot write %q while it is frozen by a pending spawn", in.X),
					Spawned: t.positions(ids),
				})
			}
		}

	case Spawn:
		// Arguments are read at the spawn site.
		for _, arg := range in.Args {
			t.checkRead(s, arg.X, in.At, emit)
		}

		if emit != nil {
			if ids, ok := s.pending[in.Result.X]; ok && !ids.IsEmpty() {
				emit(Diagnostic{
					Pos:     in.At,
					Code:    CodeReassignPending,
					Message: fmt.Sprintf("cannot respawn into %q before syncing its pending result", in.Result.X),
					Spawned: t.positions(ids),
				})
			}
			if in.Mode == ModePrivate && in.Result.Kind == ResultHandle {
				emit(Diagnostic{
					Pos:     in.At,
					Code:    CodePrivateHandleResult,
					Message: fmt.Sprintf("private spawn of %q cannot return a handle-backed value", in.Result.X),
				})
			}
		}

		id := t.spawnIDs[key]
		for _, v := range t.spawnFroz[id] {
			ids, ok := s.frozen[v]
			if !ok {
				ids = roaring.New()
				s.frozen[v] = ids
			}
			ids.Add(id)
		}

		gen := roaring.New()
		gen.Add(id)
		s.pending[in.Result.X] = gen

	case Sync:
		for _, target := range in.Targets {
			ids, ok := s.pending[target]
			if !ok || ids.IsEmpty() {
				if emit != nil {
					emit(Diagnostic{
						Pos:     in.At,
						Code:    CodeSyncUnspawned,
						Message: fmt.Sprintf("sync of %q which holds no pending result", target),
					})
				}
				continue
			}

			delete(s.pending, target)
			for v, frozen := range s.frozen {
				frozen.AndNot(ids)
				if frozen.IsEmpty() {
					delete(s.frozen, v)
				}
			}
		}
	}
}

// checkRead flags reads of un-synced pending variables. Reads of frozen
// resources are legal: concurrent readers are safe by construction.
func (t *tracker) checkRead(s *state, x Var, at Pos, emit func(Diagnostic)) {
	if emit == nil {
		return
	}
	if ids, ok := s.pending[x]; ok && !ids.IsEmpty() {
		emit(Diagnostic{
			Pos:     at,
			Code:    CodeReadPending,
			Message: fmt.Sprintf("cannot read %q before syncing its pending result", x),
			Spawned: t.positions(ids),
		})
	}
}

// positions resolves spawn ids to their source locations.
func (t *tracker) positions(ids *roaring.Bitmap) []Pos {
	out := make([]Pos, 0, ids.GetCardinality())
	it := ids.Iterator()
	for it.HasNext() {
		out = append(out, t.spawnPos[it.Next()])
	}
	return out
}
