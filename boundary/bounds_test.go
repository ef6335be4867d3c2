package boundary

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type RelationFixture struct {
	A          Bounds
	B          Bounds
	Ancestor   bool
	Descendant bool
	Disjoint   bool
}

func TestRelations(t *testing.T) {
	assert := assert.New(t)

	root := Bounds{Left: 1, Right: 8}
	child := Bounds{Left: 2, Right: 5, Level: 1}
	grandchild := Bounds{Left: 3, Right: 4, Level: 2}
	other := Bounds{Left: 6, Right: 7, Level: 1}
	foreign := Bounds{Scope: 2, Left: 3, Right: 4, Level: 2}

	fixtures := []RelationFixture{
		RelationFixture{A: root, B: child, Ancestor: true},
		RelationFixture{A: root, B: grandchild, Ancestor: true},
		RelationFixture{A: child, B: root, Descendant: true},
		RelationFixture{A: child, B: other, Disjoint: true},
		RelationFixture{A: root, B: foreign, Disjoint: true},
		RelationFixture{A: root, B: root},
	}

	for _, f := range fixtures {
		assert.Equal(f.Ancestor, f.A.IsAncestorOf(f.B), "%v ancestor of %v", f.A, f.B)
		assert.Equal(f.Descendant, f.A.IsDescendantOf(f.B), "%v descendant of %v", f.A, f.B)
		assert.Equal(f.Disjoint, f.A.Disjoint(f.B), "%v disjoint %v", f.A, f.B)
		// never both ways
		assert.False(f.A.IsAncestorOf(f.B) && f.B.IsAncestorOf(f.A))
	}

	assert.True(root.Contains(root))
	assert.True(child.Before(other))
	assert.False(other.Before(child))
}

func TestSizes(t *testing.T) {
	assert := assert.New(t)

	leaf := Bounds{Left: 4, Right: 5}
	assert.True(leaf.IsLeaf())
	assert.True(leaf.Valid())
	assert.Equal(int64(1), leaf.Size())
	assert.Equal(int64(0), leaf.Descendants())

	tree := Bounds{Left: 1, Right: 10}
	assert.True(tree.IsRoot())
	assert.False(tree.IsLeaf())
	assert.Equal(int64(5), tree.Size())
	assert.Equal(int64(10), tree.Width())
	assert.Equal(int64(10), Width(tree.Size()))

	assert.False(Bounds{Left: 1, Right: 3}.Valid())
	assert.False(Bounds{Left: 3, Right: 2}.Valid())
	assert.False(Bounds{Left: 0, Right: 1}.Valid())
}

func TestInsertionPoint(t *testing.T) {
	assert := assert.New(t)

	anchor := Bounds{Left: 2, Right: 5, Level: 1}

	type fixture struct {
		pos   Position
		left  int64
		level int64
	}
	fixtures := []fixture{
		{pos: Root, left: 1, level: 0},
		{pos: FirstChild, left: 3, level: 2},
		{pos: LastChild, left: 5, level: 2},
		{pos: PrevSibling, left: 2, level: 1},
		{pos: NextSibling, left: 6, level: 1},
	}
	for _, f := range fixtures {
		left, level, err := InsertionPoint(anchor, f.pos, 0)
		assert.NoError(err)
		assert.True(f.pos.Valid())
		assert.Equal(f.left, left, f.pos.String())
		assert.Equal(f.level, level, f.pos.String())
	}

	_, level, err := InsertionPoint(anchor, Root, 3)
	assert.NoError(err)
	assert.Equal(int64(3), level)

	for _, p := range []Position{Position(-1), Position(9)} {
		assert.False(p.Valid())
		_, _, err := InsertionPoint(anchor, p, 0)
		assert.Error(err, p.String())
	}
}

func TestParsePosition(t *testing.T) {
	assert := assert.New(t)

	for _, p := range []Position{Root, FirstChild, LastChild, PrevSibling, NextSibling} {
		parsed, err := ParsePosition(p.String())
		assert.NoError(err)
		assert.Equal(p, parsed)
	}

	p, err := ParsePosition(" After ")
	assert.NoError(err)
	assert.Equal(NextSibling, p)
	assert.True(p.IsSibling())
	assert.False(p.IsChild())

	_, err = ParsePosition("sideways")
	assert.Error(err)
	assert.Equal("position(42)", Position(42).String())
}
