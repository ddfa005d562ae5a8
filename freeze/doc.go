// Package freeze implements the compile-time frozen-resource analysis.
//
// When a function spawns concurrent work that can reach shared mutable
// state (Shared mode, or any by-reference argument), that state must not be
// written by the spawning side until a sync has resolved the pending result
// on every control-flow path. The analysis enforces this at compile time,
// which is what lets the runtime skip locks in the common case: concurrent
// readers are safe by construction, and writer/writer and writer/reader
// races are rejected before the program runs.
//
// # Model
//
// The front end lowers each function body to a small CFG (Func, Block,
// Instr) with by-reference parameter annotations and an alias closure
// mapping each variable to the resources reachable from it. Check runs a
// forward dataflow fixpoint over two lattices:
//
//   - frozen: variable -> set of pending results freezing it
//   - pending: result variable -> unresolved pending results
//
// A spawn generates into both sets; a sync kills. The merge at control-flow
// joins is set union, so a resource stays frozen until a sync resolving its
// spawner has executed on every incoming path.
//
// The pass produces source-located diagnostics and nothing else; it adds
// zero runtime cost.
package freeze
