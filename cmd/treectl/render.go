package main

import (
	"fmt"

	"github.com/bluesky-social/nestedset/models"

	"github.com/xlab/treeprint"
)

func nodeLabel(n *models.Node) string {
	return fmt.Sprintf("%s (id=%d [%d,%d])", n.Label, n.ID, n.Left, n.Right)
}

// renderTree draws a subtree given as a root followed by its descendants in
// left order.
func renderTree(nodes []*models.Node) string {
	if len(nodes) == 0 {
		return ""
	}

	type frame struct {
		node   *models.Node
		branch treeprint.Tree
	}

	root := treeprint.NewWithRoot(nodeLabel(nodes[0]))
	stack := []frame{{node: nodes[0], branch: root}}
	for _, n := range nodes[1:] {
		for len(stack) > 1 && stack[len(stack)-1].node.Right < n.Left {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].branch
		if n.IsLeaf() {
			parent.AddNode(nodeLabel(n))
			continue
		}
		stack = append(stack, frame{node: n, branch: parent.AddBranch(nodeLabel(n))})
	}
	return root.String()
}
