package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/bluesky-social/nestedset/boundary"
	"github.com/bluesky-social/nestedset/models"
	"github.com/bluesky-social/nestedset/nestedset"

	"github.com/urfave/cli/v2"
)

var targetFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "position",
		Usage: "root, first-child, last-child, before or after",
		Value: "last-child",
	},
	&cli.Uint64Flag{
		Name:  "anchor",
		Usage: "id of the node the position is relative to",
	},
	&cli.Int64Flag{
		Name:  "scope",
		Usage: "scope for root positions",
	},
}

// parseTarget reads a placement from the position/anchor/scope flags.
func parseTarget(position string, anchor uint64, scope int64) (nestedset.Target, error) {
	pos, err := boundary.ParsePosition(position)
	if err != nil {
		return nestedset.Target{}, err
	}
	if pos == boundary.Root {
		return nestedset.RootOf(scope), nil
	}
	if anchor == 0 {
		return nestedset.Target{}, fmt.Errorf("position %s requires --anchor", pos)
	}
	return nestedset.Target{Anchor: models.NodeID(anchor), Position: pos}, nil
}

func targetFromFlags(cctx *cli.Context) (nestedset.Target, error) {
	return parseTarget(cctx.String("position"), cctx.Uint64("anchor"), cctx.Int64("scope"))
}

func idArg(cctx *cli.Context) (models.NodeID, error) {
	if cctx.Args().Len() != 1 {
		return 0, fmt.Errorf("expected exactly one node id argument")
	}
	id, err := strconv.ParseUint(cctx.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id: %w", err)
	}
	return models.NodeID(id), nil
}

var cmdInit = &cli.Command{
	Name:  "init",
	Usage: "create the tree and scope lock tables, or check a custom table layout",
	Action: func(cctx *cli.Context) error {
		_, store, cleanup, err := openTree(cctx)
		if err != nil {
			return err
		}
		defer cleanup()
		return store.Init(cctx.Context)
	},
}

var cmdInsert = &cli.Command{
	Name:  "insert",
	Usage: "insert a new node",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:     "label",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "new-tree",
			Usage: "create the root of a freshly allocated scope, ignoring position",
		},
	}, targetFlags...),
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		n := &models.Node{Label: cctx.String("label")}
		if cctx.Bool("new-tree") {
			if err := tree.CreateRoot(ctx, n); err != nil {
				return err
			}
			printNode(n)
			return nil
		}

		target, err := targetFromFlags(cctx)
		if err != nil {
			return err
		}
		if err := tree.Insert(ctx, n, target); err != nil {
			return err
		}
		printNode(n)
		return nil
	}),
}

var cmdMove = &cli.Command{
	Name:      "move",
	Usage:     "move a node and its subtree",
	ArgsUsage: "<id>",
	Flags:     targetFlags,
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		id, err := idArg(cctx)
		if err != nil {
			return err
		}
		target, err := targetFromFlags(cctx)
		if err != nil {
			return err
		}
		n, err := tree.Move(ctx, id, target)
		if err != nil {
			return err
		}
		printNode(n)
		return nil
	}),
}

var cmdDelete = &cli.Command{
	Name:      "delete",
	Usage:     "delete a leaf node, a subtree, or everything below a node",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "subtree",
			Usage: "delete the node with all its descendants",
		},
		&cli.BoolFlag{
			Name:  "descendants",
			Usage: "delete only the descendants, keeping the node",
		},
	},
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		id, err := idArg(cctx)
		if err != nil {
			return err
		}

		var removed int64
		switch {
		case cctx.Bool("subtree") && cctx.Bool("descendants"):
			return fmt.Errorf("--subtree and --descendants are mutually exclusive")
		case cctx.Bool("subtree"):
			removed, err = tree.DeleteSubtree(ctx, id)
		case cctx.Bool("descendants"):
			removed, err = tree.DeleteDescendants(ctx, id)
		default:
			err = tree.DeleteNode(ctx, id)
			removed = 1
		}
		if err != nil {
			return err
		}
		fmt.Printf("removed %d nodes\n", removed)
		return nil
	}),
}

var cmdShow = &cli.Command{
	Name:  "show",
	Usage: "print the trees of one or all scopes",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:  "scope",
			Usage: "only print this scope",
		},
	},
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		scopes := []int64{cctx.Int64("scope")}
		if !cctx.IsSet("scope") {
			var err error
			scopes, err = tree.Scopes(ctx)
			if err != nil {
				return err
			}
		}

		for _, scope := range scopes {
			root, err := tree.Root(ctx, scope)
			if err != nil {
				return err
			}
			nodes, err := tree.DescendantList(ctx, root.ID, 0)
			if err != nil {
				return err
			}
			fmt.Printf("scope %d\n", scope)
			fmt.Println(renderTree(append([]*models.Node{root}, nodes...)))
		}
		return nil
	}),
}

var cmdAncestors = &cli.Command{
	Name:      "ancestors",
	Usage:     "list the ancestors of a node, root first",
	ArgsUsage: "<id>",
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		id, err := idArg(cctx)
		if err != nil {
			return err
		}
		nodes, err := tree.Ancestors(ctx, id)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			printNode(n)
		}
		return nil
	}),
}

var cmdDescendants = &cli.Command{
	Name:      "descendants",
	Usage:     "stream the descendants of a node in pre-order",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:  "depth",
			Usage: "maximum depth below the node (0 for unlimited)",
		},
	},
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		id, err := idArg(cctx)
		if err != nil {
			return err
		}
		for n, err := range tree.Descendants(ctx, id, cctx.Int64("depth")) {
			if err != nil {
				return err
			}
			printNode(n)
		}
		return nil
	}),
}

var cmdVerify = &cli.Command{
	Name:  "verify",
	Usage: "check the structural invariants of one or all scopes",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name: "scope",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "verify every scope",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "scopes verified in parallel with --all",
			Value: 4,
		},
	},
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		var err error
		if cctx.Bool("all") {
			err = tree.VerifyAll(ctx, cctx.Int("concurrency"))
		} else {
			err = tree.Verify(ctx, cctx.Int64("scope"))
		}
		if err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}),
}

var cmdRebuild = &cli.Command{
	Name:  "rebuild",
	Usage: "renumber a scope from parent links",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name: "scope",
		},
		&cli.PathFlag{
			Name:  "links",
			Usage: "JSON file with [{\"id\":..,\"parent\":..}] in sibling order; defaults to links derived from current boundaries",
		},
	},
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		scope := cctx.Int64("scope")

		var links []nestedset.Link
		if p := cctx.Path("links"); p != "" {
			b, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(b, &links); err != nil {
				return fmt.Errorf("parsing %s: %w", p, err)
			}
		} else {
			var err error
			links, err = tree.ParentLinks(ctx, scope)
			if err != nil {
				return err
			}
		}

		changed, err := tree.Rebuild(ctx, scope, links)
		if err != nil {
			return err
		}
		fmt.Printf("rewrote %d of %d nodes\n", changed, len(links))
		return nil
	}),
}

var cmdFixLevels = &cli.Command{
	Name:  "fix-levels",
	Usage: "recompute levels of a scope from its boundaries",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name: "scope",
		},
	},
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		changed, err := tree.FixLevels(ctx, cctx.Int64("scope"))
		if err != nil {
			return err
		}
		fmt.Printf("rewrote %d nodes\n", changed)
		return nil
	}),
}
