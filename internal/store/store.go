// Package store defines the data store collaborator used by the snapshot
// writer and the restore executor.
package store

import (
	"context"
	"errors"
)

// Record is a row keyed by field name. Values are typed Go values: int64,
// float64, string, bool, time.Time, nil, or JSON-compatible slices and maps.
type Record map[string]any

var ErrUnknownTable = errors.New("unknown table")

// Store reads whole tables and applies writes inside call-scoped transactions.
type Store interface {
	// Scan returns every record of table ordered by primary key.
	Scan(ctx context.Context, table string) ([]Record, error)

	// InTx runs fn in a transaction. The transaction commits when fn returns
	// nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a transaction.
type Tx interface {
	// Upsert inserts rec or merges it into the row with the same primary key.
	Upsert(ctx context.Context, table string, rec Record) error

	// DeleteAll removes every row of table.
	DeleteAll(ctx context.Context, table string) error
}
