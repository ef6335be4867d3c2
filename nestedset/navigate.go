package nestedset

import (
	"context"
	"fmt"
	"iter"

	"github.com/bluesky-social/nestedset/models"
	"github.com/bluesky-social/nestedset/treestore"

	"go.opentelemetry.io/otel/attribute"
)

// viewNode runs fn on a node read inside a single read-only unit of work, so
// that everything fn looks at comes from one snapshot.
func (t *Tree) viewNode(ctx context.Context, id models.NodeID, fn func(tx treestore.Tx, n *models.Node) error) error {
	return t.store.View(ctx, func(tx treestore.Tx) error {
		n, err := readNode(ctx, tx, id)
		if err != nil {
			return err
		}
		return fn(tx, n)
	})
}

// findOne returns the first row matched by q, or ErrNotFound.
func findOne(ctx context.Context, tx treestore.Tx, q treestore.Query, what string) (*models.Node, error) {
	q.Limit = 1
	nodes, err := tx.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nodes[0], nil
}

func (t *Tree) Get(ctx context.Context, id models.NodeID) (*models.Node, error) {
	var out *models.Node
	err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		out = n
		return nil
	})
	return out, err
}

// ancestorsQuery matches every node enclosing n, root first.
func ancestorsQuery(n *models.Node) treestore.Query {
	return treestore.Query{
		Scope: n.Scope,
		Left:  treestore.AtMost(n.Left - 1),
		Right: treestore.AtLeast(n.Right + 1),
	}
}

// descendantsQuery matches the nodes strictly inside n, at most maxDepth
// levels below it. maxDepth <= 0 means unlimited.
func descendantsQuery(n *models.Node, maxDepth int64) treestore.Query {
	q := treestore.Query{
		Scope: n.Scope,
		Left:  treestore.Between(n.Left+1, n.Right-1),
	}
	if maxDepth > 0 {
		q.Level = treestore.Between(n.Level+1, n.Level+maxDepth)
	}
	return q
}

func childrenQuery(n *models.Node) treestore.Query {
	q := descendantsQuery(n, 0)
	q.Level = treestore.Exactly(n.Level + 1)
	return q
}

// Ancestors returns the chain of nodes enclosing id, from the root down to
// its parent. The result is empty for a root.
func (t *Tree) Ancestors(ctx context.Context, id models.NodeID) ([]*models.Node, error) {
	ctx, span := startSpan(ctx, "Ancestors", attribute.Int64("id", int64(id)))
	var out []*models.Node
	err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		var err error
		out, err = tx.Find(ctx, ancestorsQuery(n))
		return err
	})
	endSpan(span, err)
	return out, err
}

// Path is Ancestors followed by the node itself.
func (t *Tree) Path(ctx context.Context, id models.NodeID) ([]*models.Node, error) {
	var out []*models.Node
	err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		anc, err := tx.Find(ctx, ancestorsQuery(n))
		if err != nil {
			return err
		}
		out = append(anc, n)
		return nil
	})
	return out, err
}

// Descendants streams the nodes below id in pre-order, at most maxDepth
// levels deep (maxDepth <= 0 means unlimited). Rows are fetched in pages,
// each from its own short read, so the loop body may call back into the
// tree. A write inside the loop shows up in the pages read after it.
func (t *Tree) Descendants(ctx context.Context, id models.NodeID, maxDepth int64) iter.Seq2[*models.Node, error] {
	return func(yield func(*models.Node, error) bool) {
		var after int64
		for {
			var page []*models.Node
			err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
				q := descendantsQuery(n, maxDepth)
				if after >= n.Left+1 {
					q.Left = treestore.Between(after+1, n.Right-1)
				}
				q.Limit = t.pageSize
				return tx.Scan(ctx, q, func(d *models.Node) error {
					page = append(page, d)
					return nil
				})
			})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, d := range page {
				if !yield(d, nil) {
					return
				}
			}
			if len(page) < t.pageSize {
				return
			}
			after = page[len(page)-1].Left
		}
	}
}

// DescendantList collects Descendants into a slice.
func (t *Tree) DescendantList(ctx context.Context, id models.NodeID, maxDepth int64) ([]*models.Node, error) {
	var out []*models.Node
	for n, err := range t.Descendants(ctx, id, maxDepth) {
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Children returns the direct children of id in sibling order.
func (t *Tree) Children(ctx context.Context, id models.NodeID) ([]*models.Node, error) {
	var out []*models.Node
	err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		if n.IsLeaf() {
			return nil
		}
		var err error
		out, err = tx.Find(ctx, childrenQuery(n))
		return err
	})
	return out, err
}

// Siblings returns the children of id's parent in sibling order, with or
// without id itself. A root has no siblings.
func (t *Tree) Siblings(ctx context.Context, id models.NodeID, includeSelf bool) ([]*models.Node, error) {
	var out []*models.Node
	err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		var all []*models.Node
		if n.IsRoot() {
			all = []*models.Node{n}
		} else {
			p, err := parentOf(ctx, tx, n)
			if err != nil {
				return err
			}
			all, err = tx.Find(ctx, childrenQuery(p))
			if err != nil {
				return err
			}
		}
		for _, s := range all {
			if includeSelf || s.ID != n.ID {
				out = append(out, s)
			}
		}
		return nil
	})
	return out, err
}

func parentOf(ctx context.Context, tx treestore.Tx, n *models.Node) (*models.Node, error) {
	q := ancestorsQuery(n)
	q.Desc = true
	return findOne(ctx, tx, q, fmt.Sprintf("parent of %d", n.ID))
}

// Parent returns the node directly enclosing id. Fails with ErrNotFound for
// a root.
func (t *Tree) Parent(ctx context.Context, id models.NodeID) (*models.Node, error) {
	var out *models.Node
	err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		var err error
		out, err = parentOf(ctx, tx, n)
		return err
	})
	return out, err
}

// Root returns the root of a scope.
func (t *Tree) Root(ctx context.Context, scope int64) (*models.Node, error) {
	if err := t.checkScope(scope); err != nil {
		return nil, err
	}
	var out *models.Node
	err := t.store.View(ctx, func(tx treestore.Tx) error {
		var err error
		out, err = findOne(ctx, tx, treestore.Query{Scope: scope, Left: treestore.Exactly(1)}, fmt.Sprintf("root of scope %d", scope))
		return err
	})
	return out, err
}

// RootOfNode returns the root of the tree holding id.
func (t *Tree) RootOfNode(ctx context.Context, id models.NodeID) (*models.Node, error) {
	var out *models.Node
	err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		if n.IsRoot() {
			out = n
			return nil
		}
		var err error
		out, err = findOne(ctx, tx, ancestorsQuery(n), fmt.Sprintf("root above %d", n.ID))
		return err
	})
	return out, err
}

func (t *Tree) FirstChild(ctx context.Context, id models.NodeID) (*models.Node, error) {
	return t.neighbour(ctx, id, "first child", func(n *models.Node) treestore.Query {
		return treestore.Query{Scope: n.Scope, Left: treestore.Exactly(n.Left + 1)}
	})
}

func (t *Tree) LastChild(ctx context.Context, id models.NodeID) (*models.Node, error) {
	return t.neighbour(ctx, id, "last child", func(n *models.Node) treestore.Query {
		return treestore.Query{Scope: n.Scope, Right: treestore.Exactly(n.Right - 1)}
	})
}

// PrevSibling is the node whose right boundary directly precedes id's left.
func (t *Tree) PrevSibling(ctx context.Context, id models.NodeID) (*models.Node, error) {
	return t.neighbour(ctx, id, "previous sibling", func(n *models.Node) treestore.Query {
		return treestore.Query{Scope: n.Scope, Right: treestore.Exactly(n.Left - 1)}
	})
}

// NextSibling is the node whose left boundary directly follows id's right.
func (t *Tree) NextSibling(ctx context.Context, id models.NodeID) (*models.Node, error) {
	return t.neighbour(ctx, id, "next sibling", func(n *models.Node) treestore.Query {
		return treestore.Query{Scope: n.Scope, Left: treestore.Exactly(n.Right + 1)}
	})
}

func (t *Tree) neighbour(ctx context.Context, id models.NodeID, what string, q func(n *models.Node) treestore.Query) (*models.Node, error) {
	var out *models.Node
	err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		var err error
		out, err = findOne(ctx, tx, q(n), fmt.Sprintf("%s of %d", what, n.ID))
		return err
	})
	return out, err
}

// Leaves returns every childless node of a scope, in left order.
func (t *Tree) Leaves(ctx context.Context, scope int64) ([]*models.Node, error) {
	if err := t.checkScope(scope); err != nil {
		return nil, err
	}
	var out []*models.Node
	err := t.store.View(ctx, func(tx treestore.Tx) error {
		var err error
		out, err = tx.Find(ctx, treestore.Query{Scope: scope, LeavesOnly: true})
		return err
	})
	return out, err
}

// CountDescendants is derived from the boundaries alone.
func (t *Tree) CountDescendants(ctx context.Context, id models.NodeID) (int64, error) {
	n, err := t.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return n.Bounds().Descendants(), nil
}

func (t *Tree) CountChildren(ctx context.Context, id models.NodeID) (int64, error) {
	var c int64
	err := t.viewNode(ctx, id, func(tx treestore.Tx, n *models.Node) error {
		if n.IsLeaf() {
			return nil
		}
		var err error
		c, err = tx.Count(ctx, childrenQuery(n))
		return err
	})
	return c, err
}

// IsAncestor reports whether ancestor strictly encloses node.
func (t *Tree) IsAncestor(ctx context.Context, ancestor, node models.NodeID) (bool, error) {
	var out bool
	err := t.store.View(ctx, func(tx treestore.Tx) error {
		a, err := readNode(ctx, tx, ancestor)
		if err != nil {
			return err
		}
		n, err := readNode(ctx, tx, node)
		if err != nil {
			return err
		}
		out = a.Bounds().IsAncestorOf(n.Bounds())
		return nil
	})
	return out, err
}
