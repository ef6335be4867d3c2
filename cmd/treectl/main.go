package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/bluesky-social/nestedset/models"
	"github.com/bluesky-social/nestedset/nestedset"
	"github.com/bluesky-social/nestedset/treestore"
	"github.com/bluesky-social/nestedset/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting process", "err", err.Error())
		os.Exit(-1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "treectl",
		Usage:   "inspect and edit nested set trees stored in a SQL table",
		Version: versioninfo.Short(),
	}

	defaults := models.DefaultColumns()
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db-url",
			Usage:   "database connection string",
			Value:   "sqlite://data/treectl/tree.sqlite",
			EnvVars: []string{"TREECTL_DB_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-conn",
			Usage:   "limit on size of database connection pool",
			Value:   10,
			EnvVars: []string{"TREECTL_MAX_DB_CONNECTIONS", "MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "warn",
			EnvVars: []string{"TREECTL_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (text or json)",
			Value:   "text",
			EnvVars: []string{"TREECTL_LOG_FMT"},
		},
		&cli.BoolFlag{
			Name:    "use-scope",
			Usage:   "partition the table into independent trees by scope column",
			Value:   true,
			EnvVars: []string{"TREECTL_USE_SCOPE"},
		},
		&cli.BoolFlag{
			Name:    "allow-forests",
			Usage:   "place extra roots into freshly allocated scopes instead of failing",
			EnvVars: []string{"TREECTL_ALLOW_FORESTS"},
		},
		&cli.Int64Flag{
			Name:    "base-level",
			Usage:   "level of root nodes",
			EnvVars: []string{"TREECTL_BASE_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "table",
			Usage:   "name of the tree table",
			Value:   defaults.Table,
			EnvVars: []string{"TREECTL_TABLE"},
		},
		&cli.StringFlag{
			Name:    "left-column",
			Value:   defaults.Left,
			EnvVars: []string{"TREECTL_LEFT_COLUMN"},
		},
		&cli.StringFlag{
			Name:    "right-column",
			Value:   defaults.Right,
			EnvVars: []string{"TREECTL_RIGHT_COLUMN"},
		},
		&cli.StringFlag{
			Name:    "level-column",
			Value:   defaults.Level,
			EnvVars: []string{"TREECTL_LEVEL_COLUMN"},
		},
		&cli.StringFlag{
			Name:    "scope-column",
			Value:   defaults.Scope,
			EnvVars: []string{"TREECTL_SCOPE_COLUMN"},
		},
		&cli.BoolFlag{
			Name:    "enable-db-tracing",
			Usage:   "emit OpenTelemetry spans for database queries",
			EnvVars: []string{"TREECTL_ENABLE_DB_TRACING"},
		},
	}
	app.Before = func(cctx *cli.Context) error {
		_, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		return err
	}
	app.Commands = []*cli.Command{
		cmdInit,
		cmdInsert,
		cmdMove,
		cmdDelete,
		cmdShow,
		cmdAncestors,
		cmdDescendants,
		cmdVerify,
		cmdRebuild,
		cmdFixLevels,
		cmdFake,
	}

	return app.Run(args)
}

// openTree connects to the database and wraps it in a Tree. The returned
// cleanup func flushes traces and closes the connection pool.
func openTree(cctx *cli.Context) (*nestedset.Tree, *treestore.GormStore, func(), error) {
	shutdownOTEL := configOTEL("treectl")

	dburl := cctx.String("db-url")
	maxConn := cctx.Int("max-db-conn")
	slog.Debug("configuring database", "maxConn", maxConn)
	db, err := cliutil.SetupDatabase(dburl, maxConn)
	if err != nil {
		shutdownOTEL()
		return nil, nil, nil, err
	}
	sqldb, err := db.DB()
	if err != nil {
		shutdownOTEL()
		return nil, nil, nil, err
	}
	cleanup := func() {
		sqldb.Close()
		shutdownOTEL()
	}

	if cctx.Bool("enable-db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
	}

	cols := models.Columns{
		Table: cctx.String("table"),
		Left:  cctx.String("left-column"),
		Right: cctx.String("right-column"),
		Level: cctx.String("level-column"),
		Scope: cctx.String("scope-column"),
	}
	store, err := treestore.NewGormStore(db, cols)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := store.Healthcheck(); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("database unreachable: %w", err)
	}
	if u, err := cliutil.ParseDatabaseURL(dburl); err == nil && !u.IsSqlite() {
		store.ReadIsolation = sql.LevelRepeatableRead
	}

	tree, err := nestedset.New(store, &nestedset.Config{
		UseScope:     cctx.Bool("use-scope"),
		AllowForests: cctx.Bool("allow-forests"),
		BaseLevel:    cctx.Int64("base-level"),
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return tree, store, cleanup, nil
}

// withTree runs fn against an opened tree, for command actions.
func withTree(fn func(ctx context.Context, cctx *cli.Context, tree *nestedset.Tree) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		tree, _, cleanup, err := openTree(cctx)
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cctx.Context, cctx, tree)
	}
}

func printNode(n *models.Node) {
	fmt.Printf("%d\t%s\tscope=%d\t[%d,%d]\tlevel=%d\n", n.ID, n.Label, n.Scope, n.Left, n.Right, n.Level)
}
