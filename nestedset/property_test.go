package nestedset

import (
	"cmp"
	"context"
	"slices"
	"testing"

	"github.com/bluesky-social/nestedset/boundary"
	"github.com/bluesky-social/nestedset/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomTarget picks an anchor among nodes and a position that keeps the
// tree single-rooted.
func randomTarget(f *gofakeit.Faker, nodes []*models.Node) Target {
	anchor := nodes[f.Number(0, len(nodes)-1)]
	positions := []boundary.Position{boundary.FirstChild, boundary.LastChild}
	if !anchor.IsRoot() {
		positions = append(positions, boundary.PrevSibling, boundary.NextSibling)
	}
	return Target{Anchor: anchor.ID, Position: positions[f.Number(0, len(positions)-1)]}
}

// checkScopes asserts every scope is well formed and ancestry is acyclic
func checkScopes(t *testing.T, tr *Tree, scopes ...int64) {
	ctx := context.Background()
	for _, scope := range scopes {
		require.NoError(t, tr.Verify(ctx, scope))
		nodes := readScope(t, tr, scope)
		for _, a := range nodes {
			for _, b := range nodes {
				assert.False(t, a.Bounds().IsAncestorOf(b.Bounds()) && b.Bounds().IsAncestorOf(a.Bounds()))
			}
		}
	}
}

func TestRandomOperations(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		ctx := context.Background()
		f := gofakeit.New(42)

		insert(t, tr, f.Noun(), RootOf(1))
		insert(t, tr, f.Noun(), RootOf(2))

		for i := 0; i < 200; i++ {
			scope := int64(f.Number(1, 2))
			nodes := readScope(t, tr, scope)
			if len(nodes) == 0 {
				insert(t, tr, f.Noun(), RootOf(scope))
				continue
			}
			pick := nodes[f.Number(0, len(nodes)-1)]

			switch op := f.Number(0, 9); {
			case op < 5:
				insert(t, tr, f.Noun(), randomTarget(f, nodes))
			case op < 6:
				err := tr.DeleteNode(ctx, pick.ID)
				if !pick.IsLeaf() {
					assert.ErrorIs(t, err, ErrHasChildren)
				} else {
					assert.NoError(t, err)
				}
			case op < 7 && !pick.IsRoot():
				_, err := tr.DeleteSubtree(ctx, pick.ID)
				assert.NoError(t, err)
			default:
				other := readScope(t, tr, int64(f.Number(1, 2)))
				if len(other) == 0 {
					continue
				}
				target := randomTarget(f, other)
				anchor, err := tr.Get(ctx, target.Anchor)
				require.NoError(t, err)
				_, err = tr.Move(ctx, pick.ID, target)
				if anchor.ID == pick.ID || pick.Bounds().IsAncestorOf(anchor.Bounds()) {
					assert.ErrorIs(t, err, ErrCyclicMove)
				} else {
					// a root may leave its scope empty
					assert.NoError(t, err)
				}
			}
			checkScopes(t, tr, 1, 2)
		}
	})
}

func TestInsertDeleteRestores(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		assert := assert.New(t)
		ctx := context.Background()
		f := gofakeit.New(7)
		seedTree(t, tr)

		before, err := tr.ParentLinks(ctx, 1)
		require.NoError(t, err)

		for i := 0; i < 20; i++ {
			n := insert(t, tr, f.Noun(), randomTarget(f, readScope(t, tr, 1)))
			require.NoError(t, tr.DeleteNode(ctx, n.ID))

			after, err := tr.ParentLinks(ctx, 1)
			require.NoError(t, err)
			assert.Equal(before, after)
		}
	})
}

func TestMovePreservesDescendants(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		assert := assert.New(t)
		ctx := context.Background()
		f := gofakeit.New(11)

		root := insert(t, tr, "root", RootOf(1))
		for i := 0; i < 30; i++ {
			insert(t, tr, f.Noun(), randomTarget(f, readScope(t, tr, 1)))
		}

		for i := 0; i < 20; i++ {
			nodes := readScope(t, tr, 1)
			pick := nodes[f.Number(1, len(nodes)-1)]
			target := randomTarget(f, nodes)
			anchor, err := tr.Get(ctx, target.Anchor)
			require.NoError(t, err)
			if anchor.ID == pick.ID || pick.Bounds().IsAncestorOf(anchor.Bounds()) {
				continue
			}

			before, err := tr.DescendantList(ctx, pick.ID, 0)
			require.NoError(t, err)
			_, err = tr.Move(ctx, pick.ID, target)
			require.NoError(t, err)
			after, err := tr.DescendantList(ctx, pick.ID, 0)
			require.NoError(t, err)

			ids := func(nodes []*models.Node) []models.NodeID {
				out := make([]models.NodeID, 0, len(nodes))
				for _, n := range nodes {
					out = append(out, n.ID)
				}
				return out
			}
			assert.Equal(ids(before), ids(after))
			checkScopes(t, tr, 1)
		}

		r, err := tr.Root(ctx, 1)
		require.NoError(t, err)
		assert.Equal(root.ID, r.ID)
		assert.True(slices.IsSortedFunc(readScope(t, tr, 1), func(a, b *models.Node) int {
			return cmp.Compare(a.Left, b.Left)
		}))
	})
}
