package treestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bluesky-social/nestedset/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is a gorm-backed implementation of the Store interface. Works
// with both the sqlite and postgres dialects.
type GormStore struct {
	db   *gorm.DB
	cols models.Columns

	// isolation level for View transactions; LevelDefault leaves it to the
	// driver. Postgres deployments want sql.LevelRepeatableRead here so that
	// reads never observe a half-shifted tree.
	ReadIsolation sql.IsolationLevel
}

func NewGormStore(db *gorm.DB, cols models.Columns) (*GormStore, error) {
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	return &GormStore{
		db:   db,
		cols: cols,
	}, nil
}

// Init creates the tables for the default layout. A custom layout is
// expected to exist already; its columns are checked instead.
func (s *GormStore) Init(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&models.ScopeLock{}); err != nil {
		return err
	}
	if s.cols.IsDefault() {
		return db.AutoMigrate(&models.Node{})
	}

	m := db.Migrator()
	if !m.HasTable(s.cols.Table) {
		return fmt.Errorf("tree table does not exist: %s", s.cols.Table)
	}
	for _, col := range []string{"id", "label", s.cols.Left, s.cols.Right, s.cols.Level, s.cols.Scope} {
		if !m.HasColumn(s.cols.Table, col) {
			return fmt.Errorf("tree table %s is missing column %s", s.cols.Table, col)
		}
	}
	return nil
}

// simple check of connection to database
func (s *GormStore) Healthcheck() error {
	return s.db.Exec("SELECT 1").Error
}

func (s *GormStore) View(ctx context.Context, fn func(tx Tx) error) error {
	var opts []*sql.TxOptions
	if s.ReadIsolation != sql.LevelDefault {
		opts = append(opts, &sql.TxOptions{Isolation: s.ReadIsolation})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, cols: s.cols})
	}, opts...)
}

func (s *GormStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, cols: s.cols, writable: true})
	})
}

type gormTx struct {
	db       *gorm.DB
	cols     models.Columns
	writable bool
}

func (t *gormTx) quote(name string) string {
	return t.db.Statement.Quote(name)
}

func (t *gormTx) table(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Table(t.cols.Table)
}

// selection aliases the configured columns to the names of the Node model,
// so rows scan straight into it
func (t *gormTx) selection() string {
	sel := fmt.Sprintf("id, label, %s AS tree_left, %s AS tree_right, %s AS tree_level, %s AS tree_scope",
		t.quote(t.cols.Left), t.quote(t.cols.Right), t.quote(t.cols.Level), t.quote(t.cols.Scope))
	if t.cols.IsDefault() {
		sel += ", created_at, updated_at"
	}
	return sel
}

func whereSpan(db *gorm.DB, col string, s Span) *gorm.DB {
	if v, ok := s.Point(); ok {
		return db.Where(col+" = ?", v)
	}
	if v, ok := s.Lower(); ok {
		db = db.Where(col+" >= ?", v)
	}
	if v, ok := s.Upper(); ok {
		db = db.Where(col+" <= ?", v)
	}
	return db
}

func (t *gormTx) where(db *gorm.DB, q Query) *gorm.DB {
	left := t.quote(t.cols.Left)
	db = db.Where(t.quote(t.cols.Scope)+" = ?", q.Scope)
	db = whereSpan(db, left, q.Left)
	db = whereSpan(db, t.quote(t.cols.Right), q.Right)
	db = whereSpan(db, t.quote(t.cols.Level), q.Level)
	if q.LeavesOnly {
		db = db.Where(fmt.Sprintf("%s = %s + 1", t.quote(t.cols.Right), left))
	}
	return db
}

func (t *gormTx) query(ctx context.Context, q Query) *gorm.DB {
	db := t.where(t.table(ctx).Select(t.selection()), q)
	order := t.quote(t.cols.Left)
	if q.Desc {
		order += " DESC"
	}
	db = db.Order(order)
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	return db
}

func (t *gormTx) checkWrite() error {
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}

func (t *gormTx) LockScope(ctx context.Context, scope int64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	db := t.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ScopeLock{Scope: scope}).Error; err != nil {
		return fmt.Errorf("creating scope lock row: %w", err)
	}
	// sqlite has no row locks; its writers are serialized by the database lock
	var lk models.ScopeLock
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("scope = ?", scope).Take(&lk).Error; err != nil {
		return fmt.Errorf("locking scope: %w", err)
	}
	return nil
}

func (t *gormTx) ReadNode(ctx context.Context, id models.NodeID) (*models.Node, error) {
	var n models.Node
	if err := t.table(ctx).Select(t.selection()).Where("id = ?", id).Take(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNodeNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (t *gormTx) Find(ctx context.Context, q Query) ([]*models.Node, error) {
	nodes := []*models.Node{}
	if err := t.query(ctx, q).Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

func (t *gormTx) Scan(ctx context.Context, q Query, fn func(n *models.Node) error) error {
	rows, err := t.query(ctx, q).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var n models.Node
		if err := t.db.ScanRows(rows, &n); err != nil {
			return err
		}
		if err := fn(&n); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return rows.Err()
}

func (t *gormTx) Count(ctx context.Context, q Query) (int64, error) {
	var c int64
	if err := t.where(t.table(ctx), q).Count(&c).Error; err != nil {
		return 0, err
	}
	return c, nil
}

func (t *gormTx) Scopes(ctx context.Context) ([]int64, error) {
	scopes := []int64{}
	if err := t.table(ctx).Distinct().Order(t.quote(t.cols.Scope)).Pluck(t.cols.Scope, &scopes).Error; err != nil {
		return nil, err
	}
	return scopes, nil
}

func (t *gormTx) MaxScope(ctx context.Context) (int64, error) {
	var fromNodes, fromLocks int64
	if err := t.table(ctx).Select(fmt.Sprintf("COALESCE(MAX(%s), 0)", t.quote(t.cols.Scope))).Scan(&fromNodes).Error; err != nil {
		return 0, err
	}
	if err := t.db.WithContext(ctx).Model(&models.ScopeLock{}).Select("COALESCE(MAX(scope), 0)").Scan(&fromLocks).Error; err != nil {
		return 0, err
	}
	return max(fromNodes, fromLocks), nil
}

func (t *gormTx) ReserveScope(ctx context.Context, scope int64) (bool, error) {
	if err := t.checkWrite(); err != nil {
		return false, err
	}
	res := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ScopeLock{Scope: scope})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *gormTx) InsertRow(ctx context.Context, n *models.Node) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if t.cols.IsDefault() {
		return t.db.WithContext(ctx).Create(n).Error
	}

	// map-based creates don't back-fill the primary key; (scope, left) is
	// unique while the scope is locked, so look the row up by it
	row := map[string]any{
		"label":      n.Label,
		t.cols.Left:  n.Left,
		t.cols.Right: n.Right,
		t.cols.Level: n.Level,
		t.cols.Scope: n.Scope,
	}
	if err := t.table(ctx).Create(row).Error; err != nil {
		return err
	}
	var id models.NodeID
	if err := t.table(ctx).Select("id").Where(t.quote(t.cols.Scope)+" = ? AND "+t.quote(t.cols.Left)+" = ?", n.Scope, n.Left).Limit(1).Scan(&id).Error; err != nil {
		return fmt.Errorf("reading back inserted node: %w", err)
	}
	if id == 0 {
		return fmt.Errorf("inserted node not found at scope %d left %d", n.Scope, n.Left)
	}
	n.ID = id
	return nil
}

func (t *gormTx) DeleteRow(ctx context.Context, id models.NodeID) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	return t.table(ctx).Where("id = ?", id).Delete(&models.Node{}).Error
}

func (t *gormTx) DeleteSpan(ctx context.Context, scope int64, left Span) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	res := t.where(t.table(ctx), Query{Scope: scope, Left: left}).Delete(&models.Node{})
	return res.RowsAffected, res.Error
}

func (t *gormTx) UpdateBoundaries(ctx context.Context, scope int64, bound Bound, span Span, delta int64) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	col := t.cols.Left
	q := Query{Scope: scope, Left: span}
	if bound == RightBound {
		col = t.cols.Right
		q = Query{Scope: scope, Right: span}
	}
	res := t.where(t.table(ctx), q).Update(col, gorm.Expr(t.quote(col)+" + ?", delta))
	return res.RowsAffected, res.Error
}

func (t *gormTx) UpdateSubtree(ctx context.Context, scope int64, left Span, delta, levelDelta, newScope int64) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	res := t.where(t.table(ctx), Query{Scope: scope, Left: left}).Updates(map[string]any{
		t.cols.Left:  gorm.Expr(t.quote(t.cols.Left)+" + ?", delta),
		t.cols.Right: gorm.Expr(t.quote(t.cols.Right)+" + ?", delta),
		t.cols.Level: gorm.Expr(t.quote(t.cols.Level)+" + ?", levelDelta),
		t.cols.Scope: newScope,
	})
	return res.RowsAffected, res.Error
}

func (t *gormTx) SetBounds(ctx context.Context, id models.NodeID, left, right, level int64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	res := t.table(ctx).Where("id = ?", id).Updates(map[string]any{
		t.cols.Left:  left,
		t.cols.Right: right,
		t.cols.Level: level,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNodeNotFound
	}
	return nil
}
