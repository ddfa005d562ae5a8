package freeze

import "fmt"

// Pos is a source location.
type Pos struct {
	File string
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

// Var names a variable within a function body.
type Var string

// Mode selects the arena binding of spawned work. Mirrors the runtime's
// spawn modes.
type Mode int

const (
	// ModeOwned runs the thread in a fresh child arena; the result is
	// promoted to the caller at sync.
	ModeOwned Mode = iota
	// ModeShared binds the thread to the caller's arena; everything
	// reachable by the callee freezes in the caller until sync.
	ModeShared
	// ModePrivate runs the thread in an isolated arena; only primitive
	// results may cross back.
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

// ResultKind classifies a spawn's declared result type.
type ResultKind int

const (
	// ResultPrimitive is a plain value result.
	ResultPrimitive ResultKind = iota
	// ResultHandle is a handle-backed (arena-allocated) result.
	ResultHandle
)

// Instr is a single analyzed instruction. Only the operations the analysis
// cares about are modeled; the front end drops everything else when
// lowering.
type Instr interface {
	Position() Pos
}

// Read observes a variable's value.
type Read struct {
	X  Var
	At Pos
}

// Write assigns or mutates a variable.
type Write struct {
	X  Var
	At Pos
}

// Spawn starts concurrent work bound to Result.
type Spawn struct {
	Result Result
	Mode   Mode
	Args   []Arg
	At     Pos
}

// Result declares the variable and type class a spawn resolves into.
type Result struct {
	X    Var
	Kind ResultKind
}

// Arg is a spawn argument.
type Arg struct {
	X     Var
	ByRef bool
}

// Sync blocks on one or more pending results. A single-element Targets is
// a plain sync; multiple elements model a set sync.
type Sync struct {
	Targets []Var
	At      Pos
}

func (i Read) Position() Pos  { return i.At }
func (i Write) Position() Pos { return i.At }
func (i Spawn) Position() Pos { return i.At }
func (i Sync) Position() Pos  { return i.At }

// Block is a basic block.
type Block struct {
	Instrs []Instr
	// Succs are indices of successor blocks in Func.Blocks.
	Succs []int
}

// Func is an analyzed function body. Blocks[0] is the entry.
type Func struct {
	Name   string
	Params []Param
	Blocks []Block

	// Reach is the alias closure supplied by the front end: for each
	// variable, the resources reachable from it. A variable always
	// reaches at least itself; a missing entry means exactly itself.
	Reach map[Var][]Var
}

// Param is a function parameter with its by-reference annotation.
type Param struct {
	X     Var
	ByRef bool
}

// reachable returns the resources reachable from v, including v.
func (f *Func) reachable(v Var) []Var {
	rs, ok := f.Reach[v]
	if !ok {
		return []Var{v}
	}
	for _, r := range rs {
		if r == v {
			return rs
		}
	}
	out := make([]Var, 0, len(rs)+1)
	out = append(out, v)
	out = append(out, rs...)
	return out
}
