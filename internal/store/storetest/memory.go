// Package storetest provides an in-memory store.Store with fault injection
// for tests.
package storetest

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"tabsnap/internal/registry"
	"tabsnap/internal/store"
)

// Memory is an in-memory store. Rows keep insertion order. Failures can be
// injected per table for scans and upserts.
type Memory struct {
	mu     sync.Mutex
	reg    *registry.Registry
	tables map[string][]store.Record

	ScanErr   map[string]error
	UpsertErr map[string]error
}

func NewMemory(reg *registry.Registry) *Memory {
	return &Memory{
		reg:       reg,
		tables:    map[string][]store.Record{},
		ScanErr:   map[string]error{},
		UpsertErr: map[string]error{},
	}
}

// Put appends records to table without going through a transaction.
func (m *Memory) Put(table string, recs ...store.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.tables[table] = append(m.tables[table], maps.Clone(r))
	}
}

// Rows returns a copy of the rows of table.
func (m *Memory) Rows(table string) []store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.tables[table])
}

func (m *Memory) Scan(_ context.Context, table string) ([]store.Record, error) {
	if !m.reg.Has(table) {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	if err := m.ScanErr[table]; err != nil {
		return nil, err
	}
	return m.Rows(table), nil
}

func (m *Memory) InTx(_ context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make(map[string][]store.Record, len(m.tables))
	for name, rows := range m.tables {
		saved[name] = cloneRows(rows)
	}

	if err := fn(&memTx{m: m}); err != nil {
		m.tables = saved
		return err
	}
	return nil
}

type memTx struct {
	m *Memory
}

func (t *memTx) Upsert(_ context.Context, table string, rec store.Record) error {
	tbl, ok := t.m.reg.Lookup(table)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	if err := t.m.UpsertErr[table]; err != nil {
		return err
	}

	key := rec[tbl.PrimaryKey]
	rows := t.m.tables[table]
	for i, row := range rows {
		if row[tbl.PrimaryKey] == key {
			merged := maps.Clone(row)
			maps.Copy(merged, rec)
			rows[i] = merged
			return nil
		}
	}
	t.m.tables[table] = append(rows, maps.Clone(rec))
	return nil
}

func (t *memTx) DeleteAll(_ context.Context, table string) error {
	if !t.m.reg.Has(table) {
		return fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	delete(t.m.tables, table)
	return nil
}

func cloneRows(rows []store.Record) []store.Record {
	if rows == nil {
		return nil
	}
	out := make([]store.Record, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(r)
	}
	return out
}
