package freeze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pos(line int) Pos { return Pos{File: "main.src", Line: line, Col: 1} }

// linear builds a single-block function from a list of instructions.
func linear(instrs ...Instr) *Func {
	return &Func{
		Name:   "f",
		Blocks: []Block{{Instrs: instrs}},
	}
}

func codes(diags []Diagnostic) []Code {
	out := make([]Code, len(diags))
	for i, d := range diags {
		out[i] = d.Code
	}
	return out
}

func TestCheck_ReadBeforeSync(t *testing.T) {
	t.Run("read of pending result rejected", func(t *testing.T) {
		fn := linear(
			Spawn{Result: Result{X: "r", Kind: ResultHandle}, Mode: ModeOwned, At: pos(1)},
			Read{X: "r", At: pos(2)},
		)

		diags := Check(fn)
		require.Len(t, diags, 1)
		assert.Equal(t, CodeReadPending, diags[0].Code)
		assert.Equal(t, 2, diags[0].Pos.Line)
		require.Len(t, diags[0].Spawned, 1)
		assert.Equal(t, 1, diags[0].Spawned[0].Line)
	})

	t.Run("read after sync allowed", func(t *testing.T) {
		fn := linear(
			Spawn{Result: Result{X: "r", Kind: ResultHandle}, Mode: ModeOwned, At: pos(1)},
			Sync{Targets: []Var{"r"}, At: pos(2)},
			Read{X: "r", At: pos(3)},
		)

		assert.Empty(t, Check(fn))
	})
}

func TestCheck_WriteFrozen(t *testing.T) {
	t.Run("write to by-ref argument rejected before sync", func(t *testing.T) {
		fn := linear(
			Spawn{
				Result: Result{X: "r", Kind: ResultPrimitive},
				Mode:   ModeOwned,
				Args:   []Arg{{X: "arr", ByRef: true}},
				At:     pos(1),
			},
			Write{X: "arr", At: pos(2)},
			Sync{Targets: []Var{"r"}, At: pos(3)},
			Write{X: "arr", At: pos(4)},
		)

		diags := Check(fn)
		require.Len(t, diags, 1)
		assert.Equal(t, CodeWriteFrozen, diags[0].Code)
		assert.Equal(t, 2, diags[0].Pos.Line)
	})

	t.Run("by-value argument stays writable", func(t *testing.T) {
		fn := linear(
			Spawn{
				Result: Result{X: "r", Kind: ResultPrimitive},
				Mode:   ModeOwned,
				Args:   []Arg{{X: "x", ByRef: false}},
				At:     pos(1),
			},
			Write{X: "x", At: pos(2)},
		)

		assert.Empty(t, Check(fn))
	})

	t.Run("shared mode freezes every argument", func(t *testing.T) {
		fn := linear(
			Spawn{
				Result: Result{X: "r", Kind: ResultPrimitive},
				Mode:   ModeShared,
				Args:   []Arg{{X: "x", ByRef: false}},
				At:     pos(1),
			},
			Write{X: "x", At: pos(2)},
		)

		diags := Check(fn)
		require.Len(t, diags, 1)
		assert.Equal(t, CodeWriteFrozen, diags[0].Code)
	})

	t.Run("reads of frozen resources stay legal", func(t *testing.T) {
		fn := linear(
			Spawn{
				Result: Result{X: "r", Kind: ResultPrimitive},
				Mode:   ModeOwned,
				Args:   []Arg{{X: "arr", ByRef: true}},
				At:     pos(1),
			},
			Read{X: "arr", At: pos(2)},
		)

		assert.Empty(t, Check(fn))
	})

	t.Run("reachability extends the freeze", func(t *testing.T) {
		fn := linear(
			Spawn{
				Result: Result{X: "r", Kind: ResultPrimitive},
				Mode:   ModeOwned,
				Args:   []Arg{{X: "node", ByRef: true}},
				At:     pos(1),
			},
			Write{X: "leaf", At: pos(2)},
		)
		fn.Reach = map[Var][]Var{"node": {"leaf"}}

		diags := Check(fn)
		require.Len(t, diags, 1)
		assert.Equal(t, CodeWriteFrozen, diags[0].Code)
	})
}

func TestCheck_ReassignPending(t *testing.T) {
	fn := linear(
		Spawn{Result: Result{X: "r", Kind: ResultPrimitive}, Mode: ModeOwned, At: pos(1)},
		Write{X: "r", At: pos(2)},
	)

	diags := Check(fn)
	require.Len(t, diags, 1)
	assert.Equal(t, CodeReassignPending, diags[0].Code)

	respawn := linear(
		Spawn{Result: Result{X: "r", Kind: ResultPrimitive}, Mode: ModeOwned, At: pos(1)},
		Spawn{Result: Result{X: "r", Kind: ResultPrimitive}, Mode: ModeOwned, At: pos(2)},
	)

	diags = Check(respawn)
	require.Len(t, diags, 1)
	assert.Equal(t, CodeReassignPending, diags[0].Code)
}

func TestCheck_PrivateHandleResult(t *testing.T) {
	fn := linear(
		Spawn{Result: Result{X: "r", Kind: ResultHandle}, Mode: ModePrivate, At: pos(1)},
	)

	diags := Check(fn)
	require.Len(t, diags, 1)
	assert.Equal(t, CodePrivateHandleResult, diags[0].Code)

	primitive := linear(
		Spawn{Result: Result{X: "r", Kind: ResultPrimitive}, Mode: ModePrivate, At: pos(1)},
	)
	assert.Empty(t, Check(primitive))
}

func TestCheck_Branches(t *testing.T) {
	t.Run("sync on one path only does not unfreeze", func(t *testing.T) {
		// b0: spawn; branch to b1 (sync) or b2 (no sync); both join in b3
		// which writes the frozen argument.
		fn := &Func{
			Name: "f",
			Blocks: []Block{
				{
					Instrs: []Instr{Spawn{
						Result: Result{X: "r", Kind: ResultPrimitive},
						Mode:   ModeOwned,
						Args:   []Arg{{X: "arr", ByRef: true}},
						At:     pos(1),
					}},
					Succs: []int{1, 2},
				},
				{Instrs: []Instr{Sync{Targets: []Var{"r"}, At: pos(2)}}, Succs: []int{3}},
				{Succs: []int{3}},
				{Instrs: []Instr{Write{X: "arr", At: pos(4)}}},
			},
		}

		diags := Check(fn)
		require.NotEmpty(t, diags)
		assert.Contains(t, codes(diags), CodeWriteFrozen)
	})

	t.Run("sync on every path unfreezes", func(t *testing.T) {
		fn := &Func{
			Name: "f",
			Blocks: []Block{
				{
					Instrs: []Instr{Spawn{
						Result: Result{X: "r", Kind: ResultPrimitive},
						Mode:   ModeOwned,
						Args:   []Arg{{X: "arr", ByRef: true}},
						At:     pos(1),
					}},
					Succs: []int{1, 2},
				},
				{Instrs: []Instr{Sync{Targets: []Var{"r"}, At: pos(2)}}, Succs: []int{3}},
				{Instrs: []Instr{Sync{Targets: []Var{"r"}, At: pos(3)}}, Succs: []int{3}},
				{Instrs: []Instr{Write{X: "arr", At: pos(4)}}},
			},
		}

		diags := Check(fn)
		for _, d := range diags {
			assert.NotEqual(t, CodeWriteFrozen, d.Code, "write after all-paths sync flagged at %v", d.Pos)
		}
	})

	t.Run("loop converges", func(t *testing.T) {
		// b0 -> b1 -> b1 (self loop) -> b2
		fn := &Func{
			Name: "f",
			Blocks: []Block{
				{
					Instrs: []Instr{Spawn{
						Result: Result{X: "r", Kind: ResultPrimitive},
						Mode:   ModeOwned,
						Args:   []Arg{{X: "arr", ByRef: true}},
						At:     pos(1),
					}},
					Succs: []int{1},
				},
				{Instrs: []Instr{Read{X: "arr", At: pos(2)}}, Succs: []int{1, 2}},
				{Instrs: []Instr{Sync{Targets: []Var{"r"}, At: pos(3)}}},
			},
		}

		assert.Empty(t, Check(fn))
	})
}

func TestCheck_SyncUnspawned(t *testing.T) {
	fn := linear(
		Sync{Targets: []Var{"r"}, At: pos(1)},
	)

	diags := Check(fn)
	require.Len(t, diags, 1)
	assert.Equal(t, CodeSyncUnspawned, diags[0].Code)
}

func TestCheck_DiagnosticsInSourceOrder(t *testing.T) {
	fn := linear(
		Spawn{Result: Result{X: "r", Kind: ResultHandle}, Mode: ModeOwned, Args: []Arg{{X: "a", ByRef: true}}, At: pos(1)},
		Write{X: "a", At: pos(2)},
		Read{X: "r", At: pos(3)},
	)

	diags := Check(fn)
	require.Len(t, diags, 2)
	assert.True(t, diags[0].Pos.Line < diags[1].Pos.Line)
}
