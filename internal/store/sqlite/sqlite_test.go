package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabsnap/internal/registry"
	"tabsnap/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "household.db"), registry.Household(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func upsert(t *testing.T, s *Store, table string, recs ...store.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		for _, r := range recs {
			if err := tx.Upsert(ctx, table, r); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestUpsertAndScanTypedValues(t *testing.T) {
	s := openTestStore(t)
	created := time.Date(2024, 5, 1, 8, 30, 0, 123000000, time.UTC)

	upsert(t, s, "ingredients", store.Record{
		"id":                int64(1),
		"name":              "flour",
		"unit":              nil,
		"calories_per_unit": 3.64,
		"in_pantry":         true,
		"created_at":        created,
	})

	recs, err := s.Scan(context.Background(), "ingredients")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, int64(1), r["id"])
	assert.Equal(t, "flour", r["name"])
	assert.Nil(t, r["unit"])
	assert.Equal(t, 3.64, r["calories_per_unit"])
	assert.Equal(t, true, r["in_pantry"])
	assert.Equal(t, created, r["created_at"])
}

func TestUpsertMergesOnPrimaryKey(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	upsert(t, s, "activities", store.Record{"id": int64(7), "name": "walk", "category": "outdoor", "duration_minutes": int64(30), "indoor": false})
	upsert(t, s, "activities", store.Record{"id": int64(7), "name": "long walk", "category": "outdoor", "duration_minutes": int64(90), "indoor": false})
	upsert(t, s, "recipes", store.Record{"id": int64(1), "title": "bread", "servings": int64(4), "tags": []any{"baking"}, "created_at": now})

	recs, err := s.Scan(context.Background(), "activities")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "long walk", recs[0]["name"])
	assert.Equal(t, int64(90), recs[0]["duration_minutes"])

	recipes, err := s.Scan(context.Background(), "recipes")
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, []any{"baking"}, recipes[0]["tags"])
}

func TestScanOrdersByPrimaryKey(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []int64{3, 1, 2} {
		upsert(t, s, "activities", store.Record{"id": id, "name": "a", "category": "c", "duration_minutes": int64(1), "indoor": true})
	}

	recs, err := s.Scan(context.Background(), "activities")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, int64(i+1), r["id"])
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Upsert(ctx, "activities", store.Record{"id": int64(1), "name": "a", "category": "c", "duration_minutes": int64(1), "indoor": true}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	recs, err := s.Scan(ctx, "activities")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDeleteAllWithChildrenDeferred(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	upsert(t, s, "recipes", store.Record{"id": int64(1), "title": "soup", "servings": int64(2), "created_at": now})
	upsert(t, s, "meals", store.Record{"id": int64(1), "recipe_id": int64(1), "planned_for": now, "slot": "dinner", "eaten": false})

	// Clearing and refilling the parent inside one transaction keeps the child valid.
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteAll(ctx, "recipes"); err != nil {
			return err
		}
		return tx.Upsert(ctx, "recipes", store.Record{"id": int64(1), "title": "soup v2", "servings": int64(2), "created_at": now})
	}))

	// Clearing the parent without refilling it violates the foreign key at commit.
	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.DeleteAll(ctx, "recipes")
	})
	assert.Error(t, err)

	recipes, err := s.Scan(ctx, "recipes")
	require.NoError(t, err)
	require.Len(t, recipes, 1)
	assert.Equal(t, "soup v2", recipes[0]["title"])
}

func TestForeignKeyViolationOnInsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.Upsert(ctx, "activity_logs", store.Record{"id": int64(1), "activity_id": int64(99), "started_at": time.Now()})
	})
	assert.Error(t, err)
}

func TestForeignKeyCheckScopedToWrittenTables(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		table   string
		rec     store.Record
		wantErr bool
	}{
		{
			name:  "unrelated table",
			table: "ingredients",
			rec:   store.Record{"id": int64(1), "name": "salt", "in_pantry": true, "created_at": now},
		},
		{
			name:    "parent of orphan",
			table:   "activities",
			rec:     store.Record{"id": int64(1), "name": "walk", "category": "outdoor", "duration_minutes": int64(30), "indoor": false},
			wantErr: true,
		},
		{
			name:    "orphan table",
			table:   "activity_logs",
			rec:     store.Record{"id": int64(2), "activity_id": int64(99), "started_at": now},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			ctx := context.Background()

			// Plant a dangling child row that predates the transaction.
			conn, err := s.DB().Conn(ctx)
			require.NoError(t, err)
			_, err = conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF")
			require.NoError(t, err)
			_, err = conn.ExecContext(ctx, `INSERT INTO "activity_logs" ("id", "activity_id", "started_at") VALUES (1, 99, '2024-01-01T00:00:00Z')`)
			require.NoError(t, err)
			_, err = conn.ExecContext(ctx, "PRAGMA foreign_keys = ON")
			require.NoError(t, err)
			require.NoError(t, conn.Close())

			err = s.InTx(ctx, func(tx store.Tx) error {
				return tx.Upsert(ctx, tt.table, tt.rec)
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "activity_logs")
				return
			}
			require.NoError(t, err)

			recs, err := s.Scan(ctx, tt.table)
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

func TestCheckScopeIncludesReferencingTables(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name    string
		touched []string
		want    []string
	}{
		{name: "nothing", touched: nil, want: nil},
		{name: "leaf", touched: []string{"meals"}, want: []string{"meals"}},
		{name: "parent", touched: []string{"recipes"}, want: []string{"recipes", "recipe_ingredients", "meals"}},
		{name: "two parents", touched: []string{"ingredients", "activities"}, want: []string{"ingredients", "recipe_ingredients", "activities", "activity_logs"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			touched := make(map[string]bool)
			for _, name := range tt.touched {
				touched[name] = true
			}
			assert.Equal(t, tt.want, s.checkScope(touched))
		})
	}
}

func TestUnknownTable(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Scan(context.Background(), "ghosts")
	assert.ErrorIs(t, err, store.ErrUnknownTable)
}

func TestUpsertRejectsBadTypes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.Upsert(ctx, "activities", store.Record{"id": "x1", "name": "a", "category": "c", "duration_minutes": int64(1), "indoor": true})
	})
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "household.db")
	s, err := Open(path, registry.Household(), nil)
	require.NoError(t, err)
	upsert(t, s, "activities", store.Record{"id": int64(1), "name": "a", "category": "c", "duration_minutes": int64(1), "indoor": true})
	require.NoError(t, s.Close())

	s, err = Open(path, registry.Household(), nil)
	require.NoError(t, err)
	defer s.Close()

	recs, err := s.Scan(context.Background(), "activities")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
