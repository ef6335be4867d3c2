// Package treestore is the row-access layer underneath the nested set
// algorithms: point reads, ordered range scans and the set-based bulk
// boundary updates, all inside transactional units of work.
package treestore

import (
	"context"
	"errors"

	"github.com/bluesky-social/nestedset/models"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrReadOnly     = errors.New("write attempted in read-only transaction")

	// ErrStopScan can be returned from a Scan callback to end the scan early
	// without an error.
	ErrStopScan = errors.New("stop scan")
)

// Bound selects one of the two boundary columns.
type Bound int

const (
	LeftBound Bound = iota
	RightBound
)

func (b Bound) String() string {
	if b == RightBound {
		return "right"
	}
	return "left"
}

// Query selects rows of a single scope. Unset spans do not constrain. Results
// are ordered by left boundary, ascending unless Desc is set.
type Query struct {
	Scope int64
	Left  Span
	Right Span
	Level Span

	// only rows with right == left + 1
	LeavesOnly bool

	Desc  bool
	Limit int
}

// Match reports whether a row satisfies the query predicate (ordering and
// limit aside).
func (q Query) Match(n *models.Node) bool {
	if n.Scope != q.Scope {
		return false
	}
	if q.LeavesOnly && n.Right != n.Left+1 {
		return false
	}
	return q.Left.Contains(n.Left) && q.Right.Contains(n.Right) && q.Level.Contains(n.Level)
}

// Store hands out units of work. Every error returned by the callback of
// Update rolls back all of its writes.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the row-access contract available inside a unit of work.
type Tx interface {
	// LockScope takes an exclusive lock on the scope, held until the unit of
	// work ends.
	LockScope(ctx context.Context, scope int64) error

	ReadNode(ctx context.Context, id models.NodeID) (*models.Node, error)
	Find(ctx context.Context, q Query) ([]*models.Node, error)
	// Scan streams matching rows to fn, one at a time
	Scan(ctx context.Context, q Query, fn func(n *models.Node) error) error
	// Count ignores Desc and Limit
	Count(ctx context.Context, q Query) (int64, error)

	// Scopes lists every scope holding at least one node, ascending.
	Scopes(ctx context.Context) ([]int64, error)
	// MaxScope is the highest scope in use or reserved.
	MaxScope(ctx context.Context) (int64, error)
	// ReserveScope claims an unused scope. Returns false if it was already
	// claimed.
	ReserveScope(ctx context.Context, scope int64) (bool, error)

	InsertRow(ctx context.Context, n *models.Node) error
	DeleteRow(ctx context.Context, id models.NodeID) error
	// DeleteSpan removes every row of the scope whose left lies in the span.
	DeleteSpan(ctx context.Context, scope int64, left Span) (int64, error)

	// UpdateBoundaries adds delta to the given bound of every row of the
	// scope where that bound lies in the span.
	UpdateBoundaries(ctx context.Context, scope int64, bound Bound, span Span, delta int64) (int64, error)
	// UpdateSubtree adds delta to both bounds and levelDelta to the level of
	// every row of the scope whose left lies in the span, moving those rows
	// to newScope.
	UpdateSubtree(ctx context.Context, scope int64, left Span, delta, levelDelta, newScope int64) (int64, error)
	SetBounds(ctx context.Context, id models.NodeID, left, right, level int64) error
}

// ReadByScope returns every node of a scope in left order.
func ReadByScope(ctx context.Context, tx Tx, scope int64) ([]*models.Node, error) {
	return tx.Find(ctx, Query{Scope: scope})
}
