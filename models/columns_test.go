package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type ColumnsFixture struct {
	Cols  Columns
	Error bool
}

func TestColumnsValidate(t *testing.T) {
	assert := assert.New(t)

	custom := Columns{Table: "category", Left: "lft", Right: "rgt", Level: "depth", Scope: "tree_id"}

	fixtures := []ColumnsFixture{
		ColumnsFixture{Cols: DefaultColumns()},
		ColumnsFixture{Cols: custom},
		ColumnsFixture{Cols: Columns{Table: "category", Left: "lft", Right: "lft", Level: "depth", Scope: "tree_id"}, Error: true},
		ColumnsFixture{Cols: Columns{Table: "category", Left: "id", Right: "rgt", Level: "depth", Scope: "tree_id"}, Error: true},
		ColumnsFixture{Cols: Columns{Table: "drop table;", Left: "lft", Right: "rgt", Level: "depth", Scope: "tree_id"}, Error: true},
		ColumnsFixture{Cols: Columns{Table: "category", Left: "", Right: "rgt", Level: "depth", Scope: "tree_id"}, Error: true},
	}

	for _, f := range fixtures {
		err := f.Cols.Validate()
		if f.Error {
			assert.Error(err, "%+v", f.Cols)
		} else {
			assert.NoError(err, "%+v", f.Cols)
		}
	}

	assert.True(DefaultColumns().IsDefault())
	assert.False(custom.IsDefault())
}

func TestNodeBounds(t *testing.T) {
	assert := assert.New(t)

	n := Node{ID: 7, Left: 2, Right: 3, Level: 1, Scope: 4}
	b := n.Bounds()
	assert.Equal(int64(4), b.Scope)
	assert.True(n.IsLeaf())
	assert.False(n.IsRoot())
	assert.Equal("node(7 scope=4 [2,3] level=1)", n.String())
}
