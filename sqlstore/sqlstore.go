// Package sqlstore keeps cell blobs in relational tables, one table per
// entity type, keyed by (level, id).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/GIScience/oshdb-sub001/store"
)

type Options struct {
	// TablePrefix is prepended to the entity type name.
	TablePrefix string
}

func (o *Options) SetDefaults() {
	if o.TablePrefix == "" {
		o.TablePrefix = "grid_"
	}
}

type Store struct {
	db   *sql.DB
	opts Options
}

func New(db *sql.DB, opts Options) *Store {
	opts.SetDefaults()
	return &Store{db: db, opts: opts}
}

// Open opens a database with the given driver and returns a store on it.
func Open(driver, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, opts), nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Table(t history.EntityType) string {
	return s.opts.TablePrefix + t.String()
}

func (s *Store) CreateTables(ctx context.Context, types ...history.EntityType) error {
	for _, t := range types {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (level INTEGER NOT NULL, id INTEGER NOT NULL, data BLOB, PRIMARY KEY (level, id))`,
			s.Table(t)))
		if err != nil {
			return err
		}
	}
	return nil
}

// missingTable matches the "unknown table" errors of sqlite, postgres and
// mysql drivers.
func missingTable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "doesn't exist")
}

// HasTable probes the table of t. Errors other than an unknown table, such
// as a closed database, are returned as they are.
func (s *Store) HasTable(ctx context.Context, t history.EntityType) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE 1 = 0`, s.Table(t)))
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if missingTable(err) {
			return false, nil
		}
		return false, err
	}
	_ = rows.Close()
	return true, nil
}

// CheckTables fails with ErrTableNotFound on the first type without a table.
func (s *Store) CheckTables(ctx context.Context, types []history.EntityType) error {
	for _, t := range types {
		ok, err := s.HasTable(ctx, t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", oshdb_errors.ErrTableNotFound, s.Table(t))
		}
	}
	return nil
}

func (s *Store) upsert(t history.EntityType) string {
	return fmt.Sprintf(
		`INSERT INTO %s (level, id, data) VALUES (?, ?, ?) ON CONFLICT (level, id) DO UPDATE SET data = excluded.data`,
		s.Table(t))
}

func (s *Store) Put(ctx context.Context, t history.EntityType, id grid.CellID, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.upsert(t), int64(id.Zoom), int64(id.ID), data)
	return err
}

// PutBatch writes all entries in one transaction.
func (s *Store) PutBatch(ctx context.Context, t history.EntityType, entries []store.Entry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, s.upsert(t))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err = stmt.ExecContext(ctx, int64(e.ID.Zoom), int64(e.ID.ID), e.Data); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, t history.EntityType, id grid.CellID) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE level = ? AND id = ?`, s.Table(t)),
		int64(id.Zoom), int64(id.ID)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}

// ScanRange yields the stored cells of one id range in id order. Cells
// without a row are simply not produced.
func (s *Store) ScanRange(ctx context.Context, t history.EntityType, r grid.CellIDRange) iter.Seq2[store.Entry, error] {
	return func(yield func(store.Entry, error) bool) {
		if r.Empty() {
			return
		}
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT id, data FROM %s WHERE level = ? AND id BETWEEN ? AND ? ORDER BY id`, s.Table(t)),
			int64(r.Zoom), int64(r.From), int64(r.To))
		if err != nil {
			yield(store.Entry{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			var data []byte
			if err := rows.Scan(&id, &data); err != nil {
				yield(store.Entry{}, err)
				return
			}
			if !yield(store.Entry{ID: grid.CellID{Zoom: r.Zoom, ID: uint64(id)}, Data: data}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(store.Entry{}, err)
		}
	}
}
