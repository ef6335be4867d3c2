// Package nestedset maintains hierarchical trees stored as flat rows using
// nested set (left/right boundary) encoding plus a depth level. Reads are
// range comparisons over boundaries; every structural write rewrites the
// boundaries of all affected rows inside one locked unit of work.
package nestedset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bluesky-social/nestedset/boundary"
	"github.com/bluesky-social/nestedset/models"
	"github.com/bluesky-social/nestedset/treestore"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("nestedset")

// how often an operation is retried when the scope it resolved changed
// before its lock was acquired
const maxScopeRetries = 5

// rows fetched per read by the Descendants iterator
const defaultPageSize = 256

type Config struct {
	// partition the table into independent trees by scope. When false,
	// every node lives in scope 0.
	UseScope bool

	// when set, a root placed into a non-empty scope starts a new scope
	// instead of failing with ErrMultipleRootsNotSupported. Requires UseScope.
	AllowForests bool

	// level of root nodes
	BaseLevel int64
}

func DefaultConfig() *Config {
	return &Config{
		UseScope: true,
	}
}

type Tree struct {
	store  treestore.Store
	Logger *slog.Logger
	Config Config

	// serializes writers to one scope within this process; the store lock
	// covers other processes
	scopeLocks *xsync.MapOf[int64, *sync.Mutex]

	pageSize int
}

func New(store treestore.Store, config *Config) (*Tree, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AllowForests && !config.UseScope {
		return nil, fmt.Errorf("forests require scopes to be enabled")
	}
	if config.BaseLevel < 0 {
		return nil, fmt.Errorf("negative base level: %d", config.BaseLevel)
	}

	return &Tree{
		store:      store,
		Logger:     slog.Default().With("system", "nestedset"),
		Config:     *config,
		scopeLocks: xsync.NewMapOf[int64, *sync.Mutex](),
		pageSize:   defaultPageSize,
	}, nil
}

// Target is a placement relative to an anchor node, or a root placement in
// a scope.
type Target struct {
	Anchor   models.NodeID
	Position boundary.Position

	// only used with boundary.Root
	Scope int64
}

func RootOf(scope int64) Target {
	return Target{Position: boundary.Root, Scope: scope}
}

func FirstChildOf(anchor models.NodeID) Target {
	return Target{Anchor: anchor, Position: boundary.FirstChild}
}

func LastChildOf(anchor models.NodeID) Target {
	return Target{Anchor: anchor, Position: boundary.LastChild}
}

func Before(anchor models.NodeID) Target {
	return Target{Anchor: anchor, Position: boundary.PrevSibling}
}

func After(anchor models.NodeID) Target {
	return Target{Anchor: anchor, Position: boundary.NextSibling}
}

func (t Target) String() string {
	if t.Position == boundary.Root {
		return fmt.Sprintf("root of scope %d", t.Scope)
	}
	return fmt.Sprintf("%s of %d", t.Position, t.Anchor)
}

// validate rejects positions outside the declared set before anything is
// read or written.
func (t Target) validate() error {
	if !t.Position.Valid() {
		return fmt.Errorf("%s: %w", t, ErrInvalidAnchor)
	}
	return nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func observeMutation(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	mutationsCounter.WithLabelValues(op, result).Inc()
	mutationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (t *Tree) scopeMutex(scope int64) *sync.Mutex {
	mu, _ := t.scopeLocks.LoadOrCompute(scope, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return mu
}

// write runs fn in one unit of work holding the exclusive lock of every
// listed scope. Locks are taken in ascending scope order.
func (t *Tree) write(ctx context.Context, scopes []int64, fn func(tx treestore.Tx) error) error {
	scopes = slices.Clone(scopes)
	slices.Sort(scopes)
	scopes = slices.Compact(scopes)

	for _, s := range scopes {
		mu := t.scopeMutex(s)
		mu.Lock()
		defer mu.Unlock()
	}

	return t.store.Update(ctx, func(tx treestore.Tx) error {
		for _, s := range scopes {
			if err := tx.LockScope(ctx, s); err != nil {
				return fmt.Errorf("locking scope %d: %w", s, err)
			}
		}
		return fn(tx)
	})
}

// retryScoped calls fn until it stops failing with errScopeMoved.
func retryScoped(fn func() error) error {
	var err error
	for i := 0; i < maxScopeRetries; i++ {
		err = fn()
		if !errors.Is(err, errScopeMoved) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrScopeMismatch, err)
}

// readNode wraps the store lookup, mapping a missing row to ErrNotFound.
func readNode(ctx context.Context, tx treestore.Tx, id models.NodeID) (*models.Node, error) {
	n, err := tx.ReadNode(ctx, id)
	if err != nil {
		if errors.Is(err, treestore.ErrNodeNotFound) {
			return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return n, nil
}

// readAnchor is readNode for anchors, mapping a missing row to ErrInvalidAnchor.
func readAnchor(ctx context.Context, tx treestore.Tx, id models.NodeID) (*models.Node, error) {
	n, err := tx.ReadNode(ctx, id)
	if err != nil {
		if errors.Is(err, treestore.ErrNodeNotFound) {
			return nil, fmt.Errorf("anchor %d does not exist: %w", id, ErrInvalidAnchor)
		}
		return nil, err
	}
	return n, nil
}

// shift adds delta to every boundary value at or beyond from, in one scope.
func shift(ctx context.Context, tx treestore.Tx, op string, scope, from, delta int64) error {
	nl, err := tx.UpdateBoundaries(ctx, scope, treestore.LeftBound, treestore.AtLeast(from), delta)
	if err != nil {
		return fmt.Errorf("shifting left boundaries: %w", err)
	}
	nr, err := tx.UpdateBoundaries(ctx, scope, treestore.RightBound, treestore.AtLeast(from), delta)
	if err != nil {
		return fmt.Errorf("shifting right boundaries: %w", err)
	}
	rowsShiftedCounter.WithLabelValues(op).Add(float64(nl + nr))
	return nil
}
