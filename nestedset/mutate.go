package nestedset

import (
	"context"
	"fmt"
	"time"

	"github.com/bluesky-social/nestedset/boundary"
	"github.com/bluesky-social/nestedset/models"
	"github.com/bluesky-social/nestedset/treestore"

	"go.opentelemetry.io/otel/attribute"
)

// Insert writes node at the target position. On success node carries its
// assigned id, boundaries, level and scope; on failure it is left untouched.
//
// A non-zero node.Scope must match the scope the node lands in: the anchor's,
// or target.Scope for a root placement.
func (t *Tree) Insert(ctx context.Context, node *models.Node, target Target) error {
	ctx, span := startSpan(ctx, "Insert", attribute.String("target", target.String()))
	start := time.Now()

	err := retryScoped(func() error {
		return t.insert(ctx, node, target)
	})

	observeMutation("insert", start, err)
	endSpan(span, err)
	if err == nil {
		t.Logger.Debug("inserted node", "id", node.ID, "scope", node.Scope, "left", node.Left, "level", node.Level)
	}
	return err
}

func (t *Tree) insert(ctx context.Context, node *models.Node, target Target) error {
	var inserted models.Node
	if err := target.validate(); err != nil {
		return err
	}

	if target.Position == boundary.Root {
		if err := t.checkScope(target.Scope); err != nil {
			return err
		}
		if node.Scope != 0 && node.Scope != target.Scope {
			return fmt.Errorf("node scope %d, root of scope %d: %w", node.Scope, target.Scope, ErrScopeMismatch)
		}
		err := t.write(ctx, []int64{target.Scope}, func(tx treestore.Tx) error {
			scope, err := t.rootPlacement(ctx, tx, target.Scope)
			if err != nil {
				return err
			}
			inserted, err = t.insertRow(ctx, tx, node, scope, 1, t.Config.BaseLevel)
			return err
		})
		if err != nil {
			return err
		}
		*node = inserted
		return nil
	}

	// resolve the anchor's scope before locking it
	scope, err := t.anchorScope(ctx, target.Anchor)
	if err != nil {
		return err
	}

	err = t.write(ctx, []int64{scope}, func(tx treestore.Tx) error {
		anchor, err := readAnchor(ctx, tx, target.Anchor)
		if err != nil {
			return err
		}
		if anchor.Scope != scope {
			return errScopeMoved
		}
		if node.Scope != 0 {
			if err := AssertSameScope(anchor, node); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidAnchor, err)
			}
		}

		if anchor.IsRoot() && target.Position.IsSibling() {
			if !t.Config.AllowForests {
				return fmt.Errorf("sibling of root %d: %w", anchor.ID, ErrMultipleRootsNotSupported)
			}
			newScope, err := allocateScope(ctx, tx)
			if err != nil {
				return err
			}
			inserted, err = t.insertRow(ctx, tx, node, newScope, 1, t.Config.BaseLevel)
			return err
		}

		left, level, err := boundary.InsertionPoint(anchor.Bounds(), target.Position, t.Config.BaseLevel)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAnchor, err)
		}
		if err := shift(ctx, tx, "insert", scope, left, 2); err != nil {
			return err
		}
		inserted, err = t.insertRow(ctx, tx, node, scope, left, level)
		return err
	})
	if err != nil {
		return err
	}
	*node = inserted
	return nil
}

// insertRow writes a copy of node as a leaf at left.
func (t *Tree) insertRow(ctx context.Context, tx treestore.Tx, node *models.Node, scope, left, level int64) (models.Node, error) {
	row := *node
	row.ID = 0
	row.Scope = scope
	row.Left = left
	row.Right = left + 1
	row.Level = level
	if err := tx.InsertRow(ctx, &row); err != nil {
		return row, fmt.Errorf("inserting node row: %w", err)
	}
	return row, nil
}

// CreateRoot starts a new tree: it allocates a fresh scope and inserts node
// as its root. Without scopes, it inserts the root of scope 0.
func (t *Tree) CreateRoot(ctx context.Context, node *models.Node) error {
	if !t.Config.UseScope {
		return t.Insert(ctx, node, RootOf(0))
	}

	ctx, span := startSpan(ctx, "CreateRoot")
	start := time.Now()

	var inserted models.Node
	err := t.write(ctx, nil, func(tx treestore.Tx) error {
		scope, err := allocateScope(ctx, tx)
		if err != nil {
			return err
		}
		inserted, err = t.insertRow(ctx, tx, node, scope, 1, t.Config.BaseLevel)
		return err
	})
	if err == nil {
		*node = inserted
		t.Logger.Debug("created tree", "id", node.ID, "scope", node.Scope)
	}

	observeMutation("create_root", start, err)
	endSpan(span, err)
	return err
}

func (t *Tree) anchorScope(ctx context.Context, id models.NodeID) (int64, error) {
	var scope int64
	err := t.store.View(ctx, func(tx treestore.Tx) error {
		a, err := readAnchor(ctx, tx, id)
		if err != nil {
			return err
		}
		scope = a.Scope
		return nil
	})
	return scope, err
}

func (t *Tree) nodeScope(ctx context.Context, id models.NodeID) (int64, error) {
	var scope int64
	err := t.store.View(ctx, func(tx treestore.Tx) error {
		n, err := readNode(ctx, tx, id)
		if err != nil {
			return err
		}
		scope = n.Scope
		return nil
	})
	return scope, err
}

// lockedNode runs fn with the node's scope locked and the node freshly read
// inside the same unit of work.
func (t *Tree) lockedNode(ctx context.Context, id models.NodeID, fn func(tx treestore.Tx, n *models.Node) error) error {
	return retryScoped(func() error {
		scope, err := t.nodeScope(ctx, id)
		if err != nil {
			return err
		}
		return t.write(ctx, []int64{scope}, func(tx treestore.Tx) error {
			n, err := readNode(ctx, tx, id)
			if err != nil {
				return err
			}
			if n.Scope != scope {
				return errScopeMoved
			}
			return fn(tx, n)
		})
	})
}

// DeleteNode removes a single leaf. Children are never promoted implicitly:
// a node with children fails with ErrHasChildren.
func (t *Tree) DeleteNode(ctx context.Context, id models.NodeID) error {
	ctx, span := startSpan(ctx, "DeleteNode", attribute.Int64("id", int64(id)))
	start := time.Now()

	err := t.lockedNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		if !n.IsLeaf() {
			return fmt.Errorf("node %d: %w", id, ErrHasChildren)
		}
		if err := tx.DeleteRow(ctx, id); err != nil {
			return fmt.Errorf("deleting node row: %w", err)
		}
		return shift(ctx, tx, "delete", n.Scope, n.Right+1, -2)
	})

	observeMutation("delete", start, err)
	endSpan(span, err)
	return err
}

// DeleteSubtree removes a node together with all of its descendants, and
// returns the number of removed rows.
func (t *Tree) DeleteSubtree(ctx context.Context, id models.NodeID) (int64, error) {
	ctx, span := startSpan(ctx, "DeleteSubtree", attribute.Int64("id", int64(id)))
	start := time.Now()

	var removed int64
	err := t.lockedNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		b := n.Bounds()
		var err error
		removed, err = tx.DeleteSpan(ctx, n.Scope, treestore.Between(b.Left, b.Right))
		if err != nil {
			return fmt.Errorf("deleting subtree rows: %w", err)
		}
		if removed != b.Size() {
			return fmt.Errorf("subtree of %d should hold %d rows, found %d: %w", id, b.Size(), removed, ErrCorruptedTree)
		}
		return shift(ctx, tx, "delete_subtree", n.Scope, b.Right+1, -b.Width())
	})

	observeMutation("delete_subtree", start, err)
	endSpan(span, err)
	if err == nil {
		t.Logger.Debug("deleted subtree", "id", id, "removed", removed)
	}
	return removed, err
}

// DeleteDescendants removes everything below a node, keeping the node
// itself as a leaf. Returns the number of removed rows.
func (t *Tree) DeleteDescendants(ctx context.Context, id models.NodeID) (int64, error) {
	ctx, span := startSpan(ctx, "DeleteDescendants", attribute.Int64("id", int64(id)))
	start := time.Now()

	var removed int64
	err := t.lockedNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		b := n.Bounds()
		if b.IsLeaf() {
			return nil
		}
		var err error
		removed, err = tx.DeleteSpan(ctx, n.Scope, treestore.Between(b.Left+1, b.Right-1))
		if err != nil {
			return fmt.Errorf("deleting descendant rows: %w", err)
		}
		if removed != b.Descendants() {
			return fmt.Errorf("node %d should have %d descendants, found %d: %w", id, b.Descendants(), removed, ErrCorruptedTree)
		}
		// the node's own right boundary closes in along with everything after it
		return shift(ctx, tx, "delete_descendants", n.Scope, b.Right, -(b.Width() - 2))
	})

	observeMutation("delete_descendants", start, err)
	endSpan(span, err)
	return removed, err
}

// Move relocates a node and its whole subtree to the target, possibly in
// another scope. The relative order and nesting inside the subtree are kept;
// levels follow the new depth. Returns the node as stored after the move.
func (t *Tree) Move(ctx context.Context, id models.NodeID, target Target) (*models.Node, error) {
	ctx, span := startSpan(ctx, "Move", attribute.Int64("id", int64(id)), attribute.String("target", target.String()))
	start := time.Now()

	var moved *models.Node
	err := retryScoped(func() error {
		var err error
		moved, err = t.move(ctx, id, target)
		return err
	})

	observeMutation("move", start, err)
	endSpan(span, err)
	if err == nil {
		t.Logger.Debug("moved subtree", "id", id, "scope", moved.Scope, "left", moved.Left, "level", moved.Level)
	}
	return moved, err
}

func (t *Tree) move(ctx context.Context, id models.NodeID, target Target) (*models.Node, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	toRootPosition := target.Position == boundary.Root
	if toRootPosition {
		if err := t.checkScope(target.Scope); err != nil {
			return nil, err
		}
	}

	// resolve both scopes before locking them
	var src, dst int64
	err := t.store.View(ctx, func(tx treestore.Tx) error {
		n, err := readNode(ctx, tx, id)
		if err != nil {
			return err
		}
		src = n.Scope
		if toRootPosition {
			dst = target.Scope
			return nil
		}
		a, err := readAnchor(ctx, tx, target.Anchor)
		if err != nil {
			return err
		}
		dst = a.Scope
		return nil
	})
	if err != nil {
		return nil, err
	}

	var moved *models.Node
	err = t.write(ctx, []int64{src, dst}, func(tx treestore.Tx) error {
		n, err := readNode(ctx, tx, id)
		if err != nil {
			return err
		}
		if n.Scope != src {
			return errScopeMoved
		}

		var anchor *models.Node
		if !toRootPosition {
			anchor, err = readAnchor(ctx, tx, target.Anchor)
			if err != nil {
				return err
			}
			if anchor.Scope != dst {
				return errScopeMoved
			}
			if anchor.ID == n.ID || n.Bounds().IsAncestorOf(anchor.Bounds()) {
				return fmt.Errorf("moving %d to %s: %w", id, target, ErrCyclicMove)
			}
		}

		// work out the destination scope, and whether the subtree becomes a root
		destScope := dst
		asRoot := toRootPosition
		switch {
		case toRootPosition && n.IsRoot() && src == dst:
			moved = n
			return nil
		case toRootPosition:
			destScope, err = t.rootPlacement(ctx, tx, dst)
			if err != nil {
				return err
			}
		case anchor.IsRoot() && target.Position.IsSibling():
			if !t.Config.AllowForests {
				return fmt.Errorf("sibling of root %d: %w", anchor.ID, ErrMultipleRootsNotSupported)
			}
			destScope, err = allocateScope(ctx, tx)
			if err != nil {
				return err
			}
			asRoot = true
		}

		b := n.Bounds()
		width := b.Width()

		// park the subtree at non-positive boundaries, out of reach of the
		// shifts below
		if _, err := tx.UpdateSubtree(ctx, src, treestore.Between(b.Left, b.Right), -b.Right, 0, src); err != nil {
			return fmt.Errorf("detaching subtree: %w", err)
		}
		parked := b.Left - b.Right

		// close the gap at the old location
		if err := shift(ctx, tx, "move", src, b.Right+1, -width); err != nil {
			return err
		}

		// the anchor may have shifted while the gap closed
		left, level := int64(1), t.Config.BaseLevel
		if !asRoot {
			anchor, err = readAnchor(ctx, tx, anchor.ID)
			if err != nil {
				return err
			}
			left, level, err = boundary.InsertionPoint(anchor.Bounds(), target.Position, t.Config.BaseLevel)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidAnchor, err)
			}
		}

		if err := shift(ctx, tx, "move", destScope, left, width); err != nil {
			return err
		}

		relocated, err := tx.UpdateSubtree(ctx, src, treestore.Between(parked, 0), left-parked, level-b.Level, destScope)
		if err != nil {
			return fmt.Errorf("reattaching subtree: %w", err)
		}
		if relocated != b.Size() {
			return fmt.Errorf("subtree of %d should hold %d rows, relocated %d: %w", id, b.Size(), relocated, ErrCorruptedTree)
		}

		moved, err = readNode(ctx, tx, id)
		if err != nil {
			return err
		}
		if !asRoot {
			if err := AssertSameScope(anchor, moved); err != nil {
				return fmt.Errorf("subtree of %d landed away from its anchor: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}
