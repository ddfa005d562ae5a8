package freeze

import "fmt"

// Code classifies a diagnostic.
type Code string

const (
	// CodeWriteFrozen reports a write to a resource frozen by a pending
	// spawn.
	CodeWriteFrozen Code = "write-frozen"
	// CodeReadPending reports a read of a pending-result variable before
	// its sync.
	CodeReadPending Code = "read-before-sync"
	// CodeReassignPending reports reassignment of a pending-result
	// variable before its sync.
	CodeReassignPending Code = "reassign-before-sync"
	// CodePrivateHandleResult reports a private-mode spawn declaring a
	// handle-backed result, which cannot escape an isolated arena.
	CodePrivateHandleResult Code = "private-handle-result"
	// CodeSyncUnspawned reports a sync of a variable that holds no
	// pending result on any path.
	CodeSyncUnspawned Code = "sync-of-unspawned"
)

// Diagnostic is a compile-time safety violation with its source location.
type Diagnostic struct {
	Pos     Pos
	Code    Code
	Message string
	// Spawned, when the violation is attributed to a pending spawn, is
	// that spawn's location.
	Spawned []Pos
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s [%s]", d.Pos, d.Message, d.Code)
}
