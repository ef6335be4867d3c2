package nestedset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNavigation(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		assert := assert.New(t)
		ctx := context.Background()
		m := seedTree(t, tr)

		anc, err := tr.Ancestors(ctx, m["D"].ID)
		require.NoError(t, err)
		assert.Equal([]string{"A", "B"}, labels(anc))

		anc, err = tr.Ancestors(ctx, m["A"].ID)
		require.NoError(t, err)
		assert.Empty(anc)

		path, err := tr.Path(ctx, m["F"].ID)
		require.NoError(t, err)
		assert.Equal([]string{"A", "C", "F"}, labels(path))

		all, err := tr.DescendantList(ctx, m["A"].ID, 0)
		require.NoError(t, err)
		assert.Equal([]string{"B", "D", "E", "C", "F"}, labels(all))

		shallow, err := tr.DescendantList(ctx, m["A"].ID, 1)
		require.NoError(t, err)
		assert.Equal([]string{"B", "C"}, labels(shallow))

		none, err := tr.DescendantList(ctx, m["D"].ID, 0)
		require.NoError(t, err)
		assert.Empty(none)

		kids, err := tr.Children(ctx, m["B"].ID)
		require.NoError(t, err)
		assert.Equal([]string{"D", "E"}, labels(kids))

		sibs, err := tr.Siblings(ctx, m["C"].ID, true)
		require.NoError(t, err)
		assert.Equal([]string{"B", "C"}, labels(sibs))
		sibs, err = tr.Siblings(ctx, m["C"].ID, false)
		require.NoError(t, err)
		assert.Equal([]string{"B"}, labels(sibs))
		sibs, err = tr.Siblings(ctx, m["A"].ID, false)
		require.NoError(t, err)
		assert.Empty(sibs)

		p, err := tr.Parent(ctx, m["E"].ID)
		require.NoError(t, err)
		assert.Equal("B", p.Label)
		_, err = tr.Parent(ctx, m["A"].ID)
		assert.ErrorIs(err, ErrNotFound)

		root, err := tr.Root(ctx, 1)
		require.NoError(t, err)
		assert.Equal("A", root.Label)
		_, err = tr.Root(ctx, 2)
		assert.ErrorIs(err, ErrNotFound)

		root, err = tr.RootOfNode(ctx, m["F"].ID)
		require.NoError(t, err)
		assert.Equal("A", root.Label)

		_, err = tr.Get(ctx, 9999)
		assert.ErrorIs(err, ErrNotFound)
	})
}

func TestNeighbours(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		assert := assert.New(t)
		ctx := context.Background()
		m := seedTree(t, tr)

		n, err := tr.FirstChild(ctx, m["A"].ID)
		require.NoError(t, err)
		assert.Equal("B", n.Label)

		n, err = tr.LastChild(ctx, m["A"].ID)
		require.NoError(t, err)
		assert.Equal("C", n.Label)

		n, err = tr.PrevSibling(ctx, m["E"].ID)
		require.NoError(t, err)
		assert.Equal("D", n.Label)

		n, err = tr.NextSibling(ctx, m["B"].ID)
		require.NoError(t, err)
		assert.Equal("C", n.Label)

		_, err = tr.NextSibling(ctx, m["C"].ID)
		assert.ErrorIs(err, ErrNotFound)
		_, err = tr.PrevSibling(ctx, m["D"].ID)
		assert.ErrorIs(err, ErrNotFound)
		_, err = tr.FirstChild(ctx, m["F"].ID)
		assert.ErrorIs(err, ErrNotFound)
	})
}

func TestCounts(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		assert := assert.New(t)
		ctx := context.Background()
		m := seedTree(t, tr)

		leaves, err := tr.Leaves(ctx, 1)
		require.NoError(t, err)
		assert.Equal([]string{"D", "E", "F"}, labels(leaves))

		c, err := tr.CountDescendants(ctx, m["A"].ID)
		require.NoError(t, err)
		assert.Equal(int64(5), c)

		c, err = tr.CountChildren(ctx, m["B"].ID)
		require.NoError(t, err)
		assert.Equal(int64(2), c)

		c, err = tr.CountChildren(ctx, m["F"].ID)
		require.NoError(t, err)
		assert.Zero(c)

		ok, err := tr.IsAncestor(ctx, m["A"].ID, m["F"].ID)
		require.NoError(t, err)
		assert.True(ok)

		ok, err = tr.IsAncestor(ctx, m["B"].ID, m["F"].ID)
		require.NoError(t, err)
		assert.False(ok)

		ok, err = tr.IsAncestor(ctx, m["B"].ID, m["B"].ID)
		require.NoError(t, err)
		assert.False(ok)
	})
}

func TestDescendantsEarlyBreak(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		assert := assert.New(t)
		ctx := context.Background()
		m := seedTree(t, tr)

		var seen []string
		for n, err := range tr.Descendants(ctx, m["A"].ID, 0) {
			require.NoError(t, err)
			seen = append(seen, n.Label)
			if len(seen) == 2 {
				break
			}
		}
		assert.Equal([]string{"B", "D"}, seen)

		// the unit of work is closed, so writes go through again
		insert(t, tr, "G", LastChildOf(m["F"].ID))

		var errs int
		for _, err := range tr.Descendants(ctx, 9999, 0) {
			assert.ErrorIs(err, ErrNotFound)
			errs++
		}
		assert.Equal(1, errs)
	})
}

func TestDescendantsPaging(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		assert := assert.New(t)
		ctx := context.Background()
		m := seedTree(t, tr)
		tr.pageSize = 2

		// reads inside the loop need a connection of their own
		var seen, parents []string
		for n, err := range tr.Descendants(ctx, m["A"].ID, 0) {
			require.NoError(t, err)
			p, err := tr.Parent(ctx, n.ID)
			require.NoError(t, err)
			seen = append(seen, n.Label)
			parents = append(parents, p.Label)
		}
		assert.Equal([]string{"B", "D", "E", "C", "F"}, seen)
		assert.Equal([]string{"A", "B", "B", "A", "C"}, parents)

		shallow, err := tr.DescendantList(ctx, m["A"].ID, 1)
		require.NoError(t, err)
		assert.Equal([]string{"B", "C"}, labels(shallow))

		// a full page ending on the last row is followed by an empty one
		list, err := tr.DescendantList(ctx, m["B"].ID, 0)
		require.NoError(t, err)
		assert.Equal([]string{"D", "E"}, labels(list))
	})
}
