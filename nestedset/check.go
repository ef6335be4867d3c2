package nestedset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluesky-social/nestedset/models"
	"github.com/bluesky-social/nestedset/treestore"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Invariant names a structural rule of a well-formed scope.
type Invariant int

const (
	// right > left, and the span is odd
	OddSpan Invariant = iota
	// the boundaries of N nodes are exactly 1..2N, each used once
	DenseBoundaries
	// two ranges are either nested or disjoint
	Nesting
	// a child sits exactly one level below its parent
	LevelRule
	// children tile their parent without gaps
	SiblingOrder
	// one root, opening the scope at left 1
	SingleRoot
)

var invariantNames = map[Invariant]string{
	OddSpan:         "odd-span",
	DenseBoundaries: "dense-boundaries",
	Nesting:         "nesting",
	LevelRule:       "level",
	SiblingOrder:    "sibling-order",
	SingleRoot:      "single-root",
}

func (i Invariant) String() string {
	if s, ok := invariantNames[i]; ok {
		return s
	}
	return fmt.Sprintf("invariant(%d)", int(i))
}

type Violation struct {
	Invariant Invariant
	NodeID    models.NodeID
	Detail    string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s at node %d: %s", v.Invariant, v.NodeID, v.Detail)
}

// Link is one parent edge used to rebuild a scope. Parent is 0 for the root.
type Link struct {
	ID     models.NodeID `json:"id"`
	Parent models.NodeID `json:"parent"`
}

type checkFrame struct {
	node *models.Node
	// left boundary expected for the next child
	next int64
}

// CheckNodes validates the rows of one scope, given in left order, and
// returns every violation found. A nil result means the scope is well formed.
func CheckNodes(nodes []*models.Node, baseLevel int64) []Violation {
	var out []Violation
	report := func(inv Invariant, n *models.Node, format string, args ...any) {
		out = append(out, Violation{Invariant: inv, NodeID: n.ID, Detail: fmt.Sprintf(format, args...)})
	}

	total := int64(2 * len(nodes))
	seen := make(map[int64]models.NodeID, total)
	for _, n := range nodes {
		if n.Right <= n.Left || (n.Right-n.Left)%2 != 1 {
			report(OddSpan, n, "span [%d,%d]", n.Left, n.Right)
		}
		for _, v := range []int64{n.Left, n.Right} {
			if v < 1 || v > total {
				report(DenseBoundaries, n, "value %d outside 1..%d", v, total)
				continue
			}
			if other, dup := seen[v]; dup {
				report(DenseBoundaries, n, "value %d already used by node %d", v, other)
				continue
			}
			seen[v] = n.ID
		}
	}

	var stack []*checkFrame
	closeFrame := func(f *checkFrame) {
		if !f.node.IsLeaf() && f.next != f.node.Right {
			report(SiblingOrder, f.node, "children end at %d, node closes at %d", f.next-1, f.node.Right)
		}
	}

	for i, n := range nodes {
		for len(stack) > 0 && stack[len(stack)-1].node.Right < n.Left {
			closeFrame(stack[len(stack)-1])
			stack = stack[:len(stack)-1]
		}

		if len(stack) == 0 {
			if i > 0 {
				report(SingleRoot, n, "second top-level node at %d", n.Left)
			} else {
				if n.Left != 1 {
					report(SingleRoot, n, "root opens at %d", n.Left)
				}
				if n.Level != baseLevel {
					report(LevelRule, n, "root level %d, expected %d", n.Level, baseLevel)
				}
			}
			stack = append(stack, &checkFrame{node: n, next: n.Left + 1})
			continue
		}

		parent := stack[len(stack)-1]
		if n.Right > parent.node.Right {
			report(Nesting, n, "[%d,%d] overlaps node %d [%d,%d]", n.Left, n.Right, parent.node.ID, parent.node.Left, parent.node.Right)
			continue
		}
		if n.Level != parent.node.Level+1 {
			report(LevelRule, n, "level %d under parent %d at level %d", n.Level, parent.node.ID, parent.node.Level)
		}
		if n.Left != parent.next {
			report(SiblingOrder, n, "opens at %d, expected %d", n.Left, parent.next)
		}
		parent.next = n.Right + 1
		stack = append(stack, &checkFrame{node: n, next: n.Left + 1})
	}
	for i := len(stack) - 1; i >= 0; i-- {
		closeFrame(stack[i])
	}

	return out
}

// Verify checks one scope. Returns a *CorruptionError listing every violated
// invariant, nil for a well-formed (or empty) scope.
func (t *Tree) Verify(ctx context.Context, scope int64) error {
	ctx, span := startSpan(ctx, "Verify", attribute.Int64("scope", scope))
	err := t.verify(ctx, scope)
	endSpan(span, err)
	return err
}

func (t *Tree) verify(ctx context.Context, scope int64) error {
	if err := t.checkScope(scope); err != nil {
		return err
	}
	var nodes []*models.Node
	err := t.store.View(ctx, func(tx treestore.Tx) error {
		var err error
		nodes, err = treestore.ReadByScope(ctx, tx, scope)
		return err
	})
	if err != nil {
		return err
	}

	if vs := CheckNodes(nodes, t.Config.BaseLevel); len(vs) > 0 {
		corruptScopesCounter.Inc()
		t.Logger.Warn("scope failed verification", "scope", scope, "violations", len(vs))
		return &CorruptionError{Scope: scope, Violations: vs}
	}
	return nil
}

// VerifyAll checks every scope in use, at most concurrency at a time.
// Corruption reports of all scopes are joined; any other failure aborts.
func (t *Tree) VerifyAll(ctx context.Context, concurrency int) error {
	scopes, err := t.Scopes(ctx)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		corrupt []error
	)

	eg, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}
	for _, scope := range scopes {
		eg.Go(func() error {
			err := t.Verify(ctx, scope)
			if errors.Is(err, ErrCorruptedTree) {
				mu.Lock()
				corrupt = append(corrupt, err)
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return errors.Join(corrupt...)
}

// deriveLinks recovers parent edges from boundaries. Nodes not enclosed by
// anything become roots.
func deriveLinks(nodes []*models.Node) []Link {
	links := make([]Link, 0, len(nodes))
	var stack []*models.Node
	for _, n := range nodes {
		for len(stack) > 0 && stack[len(stack)-1].Right < n.Left {
			stack = stack[:len(stack)-1]
		}
		var parent models.NodeID
		if len(stack) > 0 {
			parent = stack[len(stack)-1].ID
		}
		links = append(links, Link{ID: n.ID, Parent: parent})
		stack = append(stack, n)
	}
	return links
}

// ParentLinks returns the parent edge of every node in a scope, in pre-order,
// as implied by the current boundaries.
func (t *Tree) ParentLinks(ctx context.Context, scope int64) ([]Link, error) {
	if err := t.checkScope(scope); err != nil {
		return nil, err
	}
	var links []Link
	err := t.store.View(ctx, func(tx treestore.Tx) error {
		nodes, err := treestore.ReadByScope(ctx, tx, scope)
		if err != nil {
			return err
		}
		links = deriveLinks(nodes)
		return nil
	})
	return links, err
}

// Rebuild renumbers a whole scope from parent edges. Every node of the scope
// must be linked exactly once; siblings are ordered as they appear in links.
// Rows that already hold the computed boundaries are not written, so
// rebuilding a well-formed scope from its own ParentLinks changes nothing.
// Returns the number of rewritten rows.
func (t *Tree) Rebuild(ctx context.Context, scope int64, links []Link) (int64, error) {
	ctx, span := startSpan(ctx, "Rebuild", attribute.Int64("scope", scope), attribute.Int("links", len(links)))
	start := time.Now()
	if err := t.checkScope(scope); err != nil {
		endSpan(span, err)
		return 0, err
	}

	var changed int64
	err := t.write(ctx, []int64{scope}, func(tx treestore.Tx) error {
		nodes, err := treestore.ReadByScope(ctx, tx, scope)
		if err != nil {
			return err
		}
		computed, err := t.numberLinks(ctx, tx, scope, nodes, links)
		if err != nil {
			return err
		}

		changed = 0
		for _, n := range nodes {
			c := computed[n.ID]
			if c.Left == n.Left && c.Right == n.Right && c.Level == n.Level {
				continue
			}
			if err := tx.SetBounds(ctx, n.ID, c.Left, c.Right, c.Level); err != nil {
				return fmt.Errorf("rewriting node %d: %w", n.ID, err)
			}
			changed++
		}
		return nil
	})
	if err == nil {
		rebuiltNodesCounter.Add(float64(changed))
		t.Logger.Info("rebuilt scope", "scope", scope, "nodes", len(links), "changed", changed)
	}

	observeMutation("rebuild", start, err)
	endSpan(span, err)
	return changed, err
}

// numberLinks validates links against the rows of the scope, and assigns
// pre-order boundaries and levels.
func (t *Tree) numberLinks(ctx context.Context, tx treestore.Tx, scope int64, nodes []*models.Node, links []Link) (map[models.NodeID]models.Node, error) {
	inScope := make(map[models.NodeID]bool, len(nodes))
	for _, n := range nodes {
		inScope[n.ID] = true
	}

	// a referenced id outside the scope is either missing or elsewhere
	foreign := func(id models.NodeID) error {
		n, err := readNode(ctx, tx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("node %d belongs to scope %d, not %d: %w", id, n.Scope, scope, ErrScopeMismatch)
	}

	children := make(map[models.NodeID][]models.NodeID)
	linked := make(map[models.NodeID]bool, len(links))
	var roots []models.NodeID
	for _, l := range links {
		if !inScope[l.ID] {
			return nil, foreign(l.ID)
		}
		if l.Parent != 0 && !inScope[l.Parent] {
			return nil, foreign(l.Parent)
		}
		if linked[l.ID] {
			return nil, fmt.Errorf("node %d is linked more than once", l.ID)
		}
		if l.Parent == l.ID {
			return nil, fmt.Errorf("node %d is its own parent: %w", l.ID, ErrCyclicMove)
		}
		linked[l.ID] = true
		if l.Parent == 0 {
			roots = append(roots, l.ID)
		} else {
			children[l.Parent] = append(children[l.Parent], l.ID)
		}
	}
	for _, n := range nodes {
		if !linked[n.ID] {
			return nil, fmt.Errorf("node %d of scope %d has no link", n.ID, scope)
		}
	}

	out := make(map[models.NodeID]models.Node, len(nodes))
	if len(nodes) == 0 {
		return out, nil
	}
	switch {
	case len(roots) > 1:
		return nil, fmt.Errorf("scope %d has %d roots: %w", scope, len(roots), ErrMultipleRootsNotSupported)
	case len(roots) == 0:
		return nil, fmt.Errorf("scope %d has no root, links are cyclic: %w", scope, ErrCyclicMove)
	}

	type frame struct {
		id    models.NodeID
		level int64
		next  int
	}
	counter := int64(1)
	out[roots[0]] = models.Node{Left: counter, Level: t.Config.BaseLevel}
	stack := []*frame{{id: roots[0], level: t.Config.BaseLevel}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		kids := children[f.id]
		if f.next < len(kids) {
			kid := kids[f.next]
			f.next++
			counter++
			out[kid] = models.Node{Left: counter, Level: f.level + 1}
			stack = append(stack, &frame{id: kid, level: f.level + 1})
			continue
		}
		counter++
		n := out[f.id]
		n.Right = counter
		out[f.id] = n
		stack = stack[:len(stack)-1]
	}

	if len(out) != len(nodes) {
		return nil, fmt.Errorf("%d nodes of scope %d are not reachable from root %d, links are cyclic: %w", len(nodes)-len(out), scope, roots[0], ErrCyclicMove)
	}
	return out, nil
}

// FixLevels recomputes levels from boundaries, leaving the boundaries
// themselves alone. The scope must be otherwise well formed. Returns the
// number of rewritten rows.
func (t *Tree) FixLevels(ctx context.Context, scope int64) (int64, error) {
	ctx, span := startSpan(ctx, "FixLevels", attribute.Int64("scope", scope))
	start := time.Now()
	if err := t.checkScope(scope); err != nil {
		endSpan(span, err)
		return 0, err
	}

	var changed int64
	err := t.write(ctx, []int64{scope}, func(tx treestore.Tx) error {
		nodes, err := treestore.ReadByScope(ctx, tx, scope)
		if err != nil {
			return err
		}

		var structural []Violation
		for _, v := range CheckNodes(nodes, t.Config.BaseLevel) {
			if v.Invariant != LevelRule {
				structural = append(structural, v)
			}
		}
		if len(structural) > 0 {
			return &CorruptionError{Scope: scope, Violations: structural}
		}

		changed = 0
		var stack []*models.Node
		for _, n := range nodes {
			for len(stack) > 0 && stack[len(stack)-1].Right < n.Left {
				stack = stack[:len(stack)-1]
			}
			level := t.Config.BaseLevel + int64(len(stack))
			stack = append(stack, n)
			if n.Level == level {
				continue
			}
			if err := tx.SetBounds(ctx, n.ID, n.Left, n.Right, level); err != nil {
				return fmt.Errorf("rewriting node %d: %w", n.ID, err)
			}
			changed++
		}
		return nil
	})
	if err == nil {
		rebuiltNodesCounter.Add(float64(changed))
	}

	observeMutation("fix_levels", start, err)
	endSpan(span, err)
	return changed, err
}
