package nestedset

import (
	"context"
	"fmt"

	"github.com/bluesky-social/nestedset/models"
	"github.com/bluesky-social/nestedset/treestore"
)

// how many candidate scopes allocation tries before giving up
const maxAllocAttempts = 16

// checkScope rejects scopes other than 0 when scoping is disabled.
func (t *Tree) checkScope(scope int64) error {
	if !t.Config.UseScope && scope != 0 {
		return fmt.Errorf("scopes are disabled, got scope %d: %w", scope, ErrScopeMismatch)
	}
	if scope < 0 {
		return fmt.Errorf("negative scope %d: %w", scope, ErrScopeMismatch)
	}
	return nil
}

// allocateScope claims the next unused scope inside tx. The claim commits or
// rolls back together with the rest of the unit of work.
func allocateScope(ctx context.Context, tx treestore.Tx) (int64, error) {
	for i := 0; i < maxAllocAttempts; i++ {
		highest, err := tx.MaxScope(ctx)
		if err != nil {
			return 0, err
		}
		ok, err := tx.ReserveScope(ctx, highest+1)
		if err != nil {
			return 0, fmt.Errorf("reserving scope %d: %w", highest+1, err)
		}
		if ok {
			return highest + 1, nil
		}
	}
	return 0, fmt.Errorf("could not allocate a scope after %d attempts", maxAllocAttempts)
}

// AllocateScope reserves and returns a scope no node uses yet.
func (t *Tree) AllocateScope(ctx context.Context) (int64, error) {
	ctx, span := startSpan(ctx, "AllocateScope")
	if !t.Config.UseScope {
		err := fmt.Errorf("scopes are disabled: %w", ErrScopeMismatch)
		endSpan(span, err)
		return 0, err
	}

	var scope int64
	err := t.store.Update(ctx, func(tx treestore.Tx) error {
		var err error
		scope, err = allocateScope(ctx, tx)
		return err
	})
	endSpan(span, err)
	return scope, err
}

// AssertSameScope fails with ErrScopeMismatch unless all nodes share one scope.
func AssertSameScope(nodes ...*models.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	first := nodes[0]
	for _, n := range nodes[1:] {
		if n.Scope != first.Scope {
			return fmt.Errorf("node %d is in scope %d, node %d in scope %d: %w", first.ID, first.Scope, n.ID, n.Scope, ErrScopeMismatch)
		}
	}
	return nil
}

// Scopes lists every scope holding at least one node.
func (t *Tree) Scopes(ctx context.Context) ([]int64, error) {
	ctx, span := startSpan(ctx, "Scopes")
	var scopes []int64
	err := t.store.View(ctx, func(tx treestore.Tx) error {
		var err error
		scopes, err = tx.Scopes(ctx)
		return err
	})
	endSpan(span, err)
	return scopes, err
}

// rootPlacement resolves where a new root goes. An empty scope takes it
// directly; otherwise forests divert it to a freshly allocated scope.
func (t *Tree) rootPlacement(ctx context.Context, tx treestore.Tx, scope int64) (int64, error) {
	c, err := tx.Count(ctx, treestore.Query{Scope: scope})
	if err != nil {
		return 0, err
	}
	if c == 0 {
		return scope, nil
	}
	if !t.Config.AllowForests {
		return 0, fmt.Errorf("scope %d: %w", scope, ErrMultipleRootsNotSupported)
	}
	return allocateScope(ctx, tx)
}
