package nestedset

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAnchor             = errors.New("invalid anchor node")
	ErrCyclicMove                = errors.New("cannot move a node into its own subtree")
	ErrMultipleRootsNotSupported = errors.New("scope already has a root")
	ErrHasChildren               = errors.New("node has children")
	ErrScopeMismatch             = errors.New("operation spans scopes")
	ErrCorruptedTree             = errors.New("tree boundaries are corrupted")
	ErrNotFound                  = errors.New("not found")

	// returned internally when a scope changed between resolving a target and
	// locking it; the operation is retried
	errScopeMoved = errors.New("scope changed while acquiring lock")
)

// CorruptionError reports every invariant violation found in one scope. It
// matches ErrCorruptedTree with errors.Is, and can only be resolved by a
// rebuild.
type CorruptionError struct {
	Scope      int64
	Violations []Violation
}

func (e *CorruptionError) Error() string {
	const show = 5
	parts := make([]string, 0, show)
	for i, v := range e.Violations {
		if i == show {
			break
		}
		parts = append(parts, v.String())
	}
	more := ""
	if len(e.Violations) > show {
		more = fmt.Sprintf(" (and %d more)", len(e.Violations)-show)
	}
	return fmt.Sprintf("scope %d: %s: %s%s", e.Scope, ErrCorruptedTree, strings.Join(parts, "; "), more)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorruptedTree
}
