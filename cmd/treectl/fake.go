package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bluesky-social/nestedset/boundary"
	"github.com/bluesky-social/nestedset/models"
	"github.com/bluesky-social/nestedset/nestedset"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var cmdFake = &cli.Command{
	Name:  "fake",
	Usage: "populate the table with randomly shaped trees",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "nodes",
			Usage: "nodes per tree, root included",
			Value: 100,
		},
		&cli.IntFlag{
			Name:  "scope-count",
			Usage: "number of trees to create, each in its own scope",
			Value: 1,
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "random seed; the same seed produces the same shapes",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "trees generated in parallel",
			Value: 4,
		},
	},
	Action: withTree(func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error {
		count := cctx.Int("scope-count")
		if !tree.Config.UseScope && count > 1 {
			return fmt.Errorf("more than one tree requires scopes")
		}

		eg, ctx := errgroup.WithContext(ctx)
		if c := cctx.Int("concurrency"); c > 0 {
			eg.SetLimit(c)
		}
		for i := 0; i < count; i++ {
			faker := gofakeit.New(cctx.Int64("seed") + int64(i))
			eg.Go(func() error {
				root, err := fakeTree(ctx, tree, faker, cctx.Int("nodes"))
				if err != nil {
					return err
				}
				slog.Info("generated tree", "scope", root.Scope, "root", root.ID)
				fmt.Printf("scope %d: root %d\n", root.Scope, root.ID)
				return nil
			})
		}
		return eg.Wait()
	}),
}

// fakeTree creates a new tree of size nodes with random shape and labels.
func fakeTree(ctx context.Context, tree *nestedset.Tree, faker *gofakeit.Faker, size int) (*models.Node, error) {
	root := &models.Node{Label: faker.Company()}
	if err := tree.CreateRoot(ctx, root); err != nil {
		return nil, err
	}

	ids := []models.NodeID{root.ID}
	for i := 1; i < size; i++ {
		anchor := ids[faker.Number(0, len(ids)-1)]
		positions := []boundary.Position{boundary.FirstChild, boundary.LastChild}
		if anchor != root.ID {
			positions = append(positions, boundary.PrevSibling, boundary.NextSibling)
		}
		target := nestedset.Target{Anchor: anchor, Position: positions[faker.Number(0, len(positions)-1)]}

		n := &models.Node{Label: faker.BuzzWord()}
		if err := tree.Insert(ctx, n, target); err != nil {
			return nil, fmt.Errorf("inserting fake node %d: %w", i, err)
		}
		ids = append(ids, n.ID)
	}
	return root, nil
}
