package nestedset

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bluesky-social/nestedset/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAssertSameScope(t *testing.T) {
	assert := assert.New(t)

	a := &models.Node{ID: 1, Scope: 3}
	b := &models.Node{ID: 2, Scope: 3}
	c := &models.Node{ID: 3, Scope: 4}

	assert.NoError(AssertSameScope())
	assert.NoError(AssertSameScope(a))
	assert.NoError(AssertSameScope(a, b))

	err := AssertSameScope(a, b, c)
	assert.ErrorIs(err, ErrScopeMismatch)
	assert.Contains(err.Error(), "node 3 in scope 4")
}

func TestRetryScoped(t *testing.T) {
	assert := assert.New(t)

	calls := 0
	err := retryScoped(func() error {
		calls++
		if calls < 3 {
			return errScopeMoved
		}
		return nil
	})
	assert.NoError(err)
	assert.Equal(3, calls)

	calls = 0
	err = retryScoped(func() error {
		calls++
		return errScopeMoved
	})
	assert.ErrorIs(err, ErrScopeMismatch)
	assert.Equal(maxScopeRetries, calls)

	// other failures are returned straight away
	calls = 0
	boom := errors.New("boom")
	assert.ErrorIs(retryScoped(func() error {
		calls++
		return boom
	}), boom)
	assert.Equal(1, calls)
}

func TestConcurrentMutations(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		ctx := context.Background()

		a := insert(t, tr, "A", RootOf(1))
		x := insert(t, tr, "X", RootOf(2))
		p1 := insert(t, tr, "P1", LastChildOf(a.ID))
		p2 := insert(t, tr, "P2", LastChildOf(x.ID))

		const perWorker = 15
		var eg errgroup.Group

		// plain inserts under both roots
		for i, root := range []*models.Node{a, x, a, x} {
			eg.Go(func() error {
				for j := 0; j < perWorker; j++ {
					n := &models.Node{Label: fmt.Sprintf("w%d-%d", i, j)}
					if err := tr.Insert(ctx, n, LastChildOf(root.ID)); err != nil {
						return fmt.Errorf("worker %d: %w", i, err)
					}
				}
				return nil
			})
		}

		// moves in opposite directions, each locking both scopes
		for _, m := range []struct {
			node       *models.Node
			away, home *models.Node
		}{
			{p1, x, a},
			{p2, a, x},
		} {
			eg.Go(func() error {
				for j := 0; j < perWorker; j++ {
					if _, err := tr.Move(ctx, m.node.ID, LastChildOf(m.away.ID)); err != nil {
						return fmt.Errorf("moving %s away: %w", m.node.Label, err)
					}
					if _, err := tr.Move(ctx, m.node.ID, FirstChildOf(m.home.ID)); err != nil {
						return fmt.Errorf("moving %s home: %w", m.node.Label, err)
					}
				}
				return nil
			})
		}

		// inserts anchored on the moving nodes; their scope changes between
		// resolving it and locking it. Running out of retries is the only
		// acceptable failure.
		var chased [2]int
		for i, p := range []*models.Node{p1, p2} {
			eg.Go(func() error {
				for j := 0; j < perWorker; j++ {
					err := tr.Insert(ctx, &models.Node{Label: fmt.Sprintf("c%d-%d", i, j)}, FirstChildOf(p.ID))
					switch {
					case err == nil:
						chased[i]++
					case errors.Is(err, ErrScopeMismatch):
					default:
						return fmt.Errorf("chasing %s: %w", p.Label, err)
					}
				}
				return nil
			})
		}

		require.NoError(t, eg.Wait())
		require.NoError(t, tr.Verify(ctx, 1))
		require.NoError(t, tr.Verify(ctx, 2))

		assert := assert.New(t)
		assert.Equal(int64(1), get(t, tr, p1.ID)[2])
		assert.Equal(int64(1), get(t, tr, p2.ID)[2])

		total := len(readScope(t, tr, 1)) + len(readScope(t, tr, 2))
		assert.Equal(4+4*perWorker+chased[0]+chased[1], total)

		c1, err := tr.CountChildren(ctx, p1.ID)
		require.NoError(t, err)
		assert.Equal(int64(chased[0]), c1)
	})
}
