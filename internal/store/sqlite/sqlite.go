// Package sqlite implements store.Store on a SQLite database whose schema is
// derived from a table registry.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"tabsnap/internal/registry"
	"tabsnap/internal/store"
)

type Store struct {
	db  *sql.DB
	reg *registry.Registry
	log *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the SQLite file at path and creates every
// registered table that does not exist yet. The caller must Close the store.
func Open(path string, reg *registry.Registry, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	// The modernc.org driver is pure Go; pragmas apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db, reg: reg, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for callers that seed or inspect data.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, name := range s.reg.RestoreOrder() {
		t, _ := s.reg.Lookup(name)
		if _, err := s.db.ExecContext(ctx, createTableSQL(s.reg, t)); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	s.log.Debug("SQLite migration applied", "tables", len(s.reg.AllTableNames()))
	return nil
}

func (s *Store) table(name string) (*registry.Table, error) {
	t, ok := s.reg.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

// Scan returns every row of table ordered by primary key.
func (s *Store) Scan(ctx context.Context, table string) ([]store.Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}

	cols := quoteAll(t.FieldNames())
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(cols, ", "), quote(t.Name), quote(t.PrimaryKey))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		dest := make([]any, len(t.Fields))
		for i, f := range t.Fields {
			dest[i] = newScanTarget(f.Kind)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}

		rec := make(store.Record, len(t.Fields))
		for i, f := range t.Fields {
			v, err := fromColumn(f, dest[i])
			if err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", table, f.Name, err)
			}
			rec[f.Name] = v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}

	return records, nil
}

// InTx runs fn in a transaction with foreign key checks deferred to commit,
// so a table may be cleared and refilled while child rows still point at it.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := sqlTx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		_ = sqlTx.Rollback()
		return fmt.Errorf("defer foreign keys: %w", err)
	}

	t := &tx{store: s, tx: sqlTx, touched: make(map[string]bool)}
	if err := fn(t); err != nil {
		s.rollback(sqlTx)
		return err
	}

	// A deferred violation would make COMMIT fail and leave the transaction
	// open, so violations are detected first and rolled back here.
	if err := checkForeignKeys(ctx, sqlTx, s.checkScope(t.touched)); err != nil {
		s.rollback(sqlTx)
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) rollback(sqlTx *sql.Tx) {
	if err := sqlTx.Rollback(); err != nil {
		s.log.Warn("Rollback failed", "error", err)
	}
}

// checkScope returns the written tables plus every table holding a foreign
// key into one of them, in registry order. Rows elsewhere cannot have changed.
func (s *Store) checkScope(touched map[string]bool) []string {
	var scope []string
	for _, name := range s.reg.AllTableNames() {
		if touched[name] {
			scope = append(scope, name)
			continue
		}
		t, _ := s.reg.Lookup(name)
		for _, ref := range t.References {
			if touched[ref] {
				scope = append(scope, name)
				break
			}
		}
	}
	return scope
}

func checkForeignKeys(ctx context.Context, sqlTx *sql.Tx, tables []string) error {
	for _, table := range tables {
		if err := checkTableForeignKeys(ctx, sqlTx, table); err != nil {
			return err
		}
	}
	return nil
}

func checkTableForeignKeys(ctx context.Context, sqlTx *sql.Tx, name string) error {
	rows, err := sqlTx.QueryContext(ctx, "PRAGMA foreign_key_check("+quote(name)+")")
	if err != nil {
		return fmt.Errorf("foreign key check %s: %w", name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return rows.Err()
	}
	var (
		table, parent string
		rowid         sql.NullInt64
		fkid          int64
	)
	if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
		return fmt.Errorf("foreign key check %s: %w", name, err)
	}
	return fmt.Errorf("foreign key violation: %s row %d references missing %s", table, rowid.Int64, parent)
}

type tx struct {
	store   *Store
	tx      *sql.Tx
	touched map[string]bool
}

func (t *tx) Upsert(ctx context.Context, table string, rec store.Record) error {
	desc, err := t.store.table(table)
	if err != nil {
		return err
	}

	args := make([]any, len(desc.Fields))
	for i, f := range desc.Fields {
		v, err := toColumn(f, rec[f.Name])
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		args[i] = v
	}

	if _, err := t.tx.ExecContext(ctx, upsertSQL(desc), args...); err != nil {
		return fmt.Errorf("upsert into %s: %w", table, err)
	}
	t.touched[desc.Name] = true
	return nil
}

func (t *tx) DeleteAll(ctx context.Context, table string) error {
	desc, err := t.store.table(table)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+quote(desc.Name)); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	t.touched[desc.Name] = true
	return nil
}
