package models

import (
	"fmt"
	"time"

	"github.com/bluesky-social/nestedset/boundary"
)

// NodeID is the stable identity of a node. Boundaries can be renumbered
// freely (eg, by a rebuild) without touching it.
type NodeID uint64

type Node struct {
	ID NodeID `gorm:"column:id;primarykey"`

	// these fields are automatically managed by gorm (by convention)
	CreatedAt time.Time
	UpdatedAt time.Time

	// opaque payload carried along with the node
	Label string `gorm:"column:label"`

	Left  int64 `gorm:"column:tree_left;index:idx_tree_node_scope_left,priority:2"`
	Right int64 `gorm:"column:tree_right;index:idx_tree_node_scope_right,priority:2"`
	Level int64 `gorm:"column:tree_level"`
	Scope int64 `gorm:"column:tree_scope;default:0;index:idx_tree_node_scope_left,priority:1;index:idx_tree_node_scope_right,priority:1"`
}

func (Node) TableName() string {
	return "tree_node"
}

func (n *Node) Bounds() boundary.Bounds {
	return boundary.Bounds{
		Scope: n.Scope,
		Left:  n.Left,
		Right: n.Right,
		Level: n.Level,
	}
}

func (n *Node) IsLeaf() bool {
	return n.Bounds().IsLeaf()
}

func (n *Node) IsRoot() bool {
	return n.Bounds().IsRoot()
}

func (n *Node) String() string {
	return fmt.Sprintf("node(%d scope=%d [%d,%d] level=%d)", n.ID, n.Scope, n.Left, n.Right, n.Level)
}

// ScopeLock is a sentinel row, one per scope. Writers lock it for the
// duration of a mutation, and scope allocation reserves new scopes by
// creating it.
type ScopeLock struct {
	Scope     int64 `gorm:"column:scope;primarykey;autoIncrement:false"`
	CreatedAt time.Time
}

func (ScopeLock) TableName() string {
	return "tree_scope_lock"
}
