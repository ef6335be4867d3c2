package treestore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bluesky-social/nestedset/models"
)

type memState struct {
	nodes    map[models.NodeID]models.Node
	reserved map[int64]bool
	nextID   models.NodeID
}

func (st *memState) clone() *memState {
	out := &memState{
		nodes:    make(map[models.NodeID]models.Node, len(st.nodes)),
		reserved: make(map[int64]bool, len(st.reserved)),
		nextID:   st.nextID,
	}
	for k, v := range st.nodes {
		out.nodes[k] = v
	}
	for k, v := range st.reserved {
		out.reserved[k] = v
	}
	return out
}

// Memstore is a simple in-memory implementation of the Store interface.
// Update works on a private copy of the rows which replaces the shared state
// only when the callback succeeds; units of work are fully serialized.
type Memstore struct {
	lk sync.RWMutex
	st *memState

	// Fault, if set, is consulted before every write; a non-nil result fails
	// that write. Used to exercise rollback.
	Fault func(op string) error
}

func NewMemstore() *Memstore {
	return &Memstore{
		st: &memState{
			nodes:    make(map[models.NodeID]models.Node),
			reserved: make(map[int64]bool),
			nextID:   1,
		},
	}
}

func (s *Memstore) View(ctx context.Context, fn func(tx Tx) error) error {
	s.lk.RLock()
	defer s.lk.RUnlock()

	return fn(&memTx{st: s.st, store: s})
}

func (s *Memstore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work, store: s, writable: true}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Len is the total number of stored rows.
func (s *Memstore) Len() int {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return len(s.st.nodes)
}

type memTx struct {
	st       *memState
	store    *Memstore
	writable bool
}

func (tx *memTx) checkWrite(op string) error {
	if !tx.writable {
		return ErrReadOnly
	}
	if tx.store.Fault != nil {
		return tx.store.Fault(op)
	}
	return nil
}

func (tx *memTx) LockScope(ctx context.Context, scope int64) error {
	// units of work are serialized by the store lock
	if !tx.writable {
		return ErrReadOnly
	}
	tx.st.reserved[scope] = true
	return nil
}

func (tx *memTx) ReadNode(ctx context.Context, id models.NodeID) (*models.Node, error) {
	n, ok := tx.st.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return &n, nil
}

func (tx *memTx) Find(ctx context.Context, q Query) ([]*models.Node, error) {
	var out []*models.Node
	for _, n := range tx.st.nodes {
		if q.Match(&n) {
			c := n
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.Node) int {
		if q.Desc {
			return cmp.Compare(b.Left, a.Left)
		}
		return cmp.Compare(a.Left, b.Left)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (tx *memTx) Scan(ctx context.Context, q Query, fn func(n *models.Node) error) error {
	rows, err := tx.Find(ctx, q)
	if err != nil {
		return err
	}
	for _, n := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(n); err != nil {
			if err == ErrStopScan {
				return nil
			}
			return err
		}
	}
	return nil
}

func (tx *memTx) Count(ctx context.Context, q Query) (int64, error) {
	var c int64
	for _, n := range tx.st.nodes {
		if q.Match(&n) {
			c++
		}
	}
	return c, nil
}

func (tx *memTx) Scopes(ctx context.Context) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	for _, n := range tx.st.nodes {
		if !seen[n.Scope] {
			seen[n.Scope] = true
			out = append(out, n.Scope)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (tx *memTx) MaxScope(ctx context.Context) (int64, error) {
	var highest int64
	for _, n := range tx.st.nodes {
		if n.Scope > highest {
			highest = n.Scope
		}
	}
	for s := range tx.st.reserved {
		if s > highest {
			highest = s
		}
	}
	return highest, nil
}

func (tx *memTx) ReserveScope(ctx context.Context, scope int64) (bool, error) {
	if err := tx.checkWrite("reserve"); err != nil {
		return false, err
	}
	if tx.st.reserved[scope] {
		return false, nil
	}
	tx.st.reserved[scope] = true
	return true, nil
}

func (tx *memTx) InsertRow(ctx context.Context, n *models.Node) error {
	if err := tx.checkWrite("insert"); err != nil {
		return err
	}
	n.ID = tx.st.nextID
	tx.st.nextID++
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	tx.st.nodes[n.ID] = *n
	return nil
}

func (tx *memTx) DeleteRow(ctx context.Context, id models.NodeID) error {
	if err := tx.checkWrite("delete"); err != nil {
		return err
	}
	delete(tx.st.nodes, id)
	return nil
}

func (tx *memTx) DeleteSpan(ctx context.Context, scope int64, left Span) (int64, error) {
	if err := tx.checkWrite("delete"); err != nil {
		return 0, err
	}
	var c int64
	for id, n := range tx.st.nodes {
		if n.Scope == scope && left.Contains(n.Left) {
			delete(tx.st.nodes, id)
			c++
		}
	}
	return c, nil
}

func (tx *memTx) UpdateBoundaries(ctx context.Context, scope int64, bound Bound, span Span, delta int64) (int64, error) {
	if err := tx.checkWrite("shift"); err != nil {
		return 0, err
	}
	var c int64
	for id, n := range tx.st.nodes {
		if n.Scope != scope {
			continue
		}
		switch bound {
		case LeftBound:
			if !span.Contains(n.Left) {
				continue
			}
			n.Left += delta
		case RightBound:
			if !span.Contains(n.Right) {
				continue
			}
			n.Right += delta
		}
		tx.st.nodes[id] = n
		c++
	}
	return c, nil
}

func (tx *memTx) UpdateSubtree(ctx context.Context, scope int64, left Span, delta, levelDelta, newScope int64) (int64, error) {
	if err := tx.checkWrite("relocate"); err != nil {
		return 0, err
	}
	var c int64
	for id, n := range tx.st.nodes {
		if n.Scope != scope || !left.Contains(n.Left) {
			continue
		}
		n.Left += delta
		n.Right += delta
		n.Level += levelDelta
		n.Scope = newScope
		tx.st.nodes[id] = n
		c++
	}
	return c, nil
}

func (tx *memTx) SetBounds(ctx context.Context, id models.NodeID, left, right, level int64) error {
	if err := tx.checkWrite("set"); err != nil {
		return err
	}
	n, ok := tx.st.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	n.Left = left
	n.Right = right
	n.Level = level
	n.UpdatedAt = time.Now()
	tx.st.nodes[id] = n
	return nil
}
