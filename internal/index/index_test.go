package index_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/adapter/memory"
	"github.com/tobsdb/tdb/internal/builder"
	. "github.com/tobsdb/tdb/internal/index"
	"gotest.tools/assert"
)

const test_schema = `
$TABLE users {
    id Int key(primary) default(autoincrement)
    email String unique(true) optional(true)
    age Int optional(true) index(true)
    joined Date optional(true) index(true)
    tags Vector vector(String) optional(true) index(true)
}
`

type failingAdapter struct {
	adapter.Adapter
	fail_on any
}

func (a *failingAdapter) AddIndexValue(ctx context.Context, table, index string, pk, value any) error {
	if value == a.fail_on {
		return errors.New("disk full")
	}
	return a.Adapter.AddIndexValue(ctx, table, index, pk, value)
}

func setup(t *testing.T, a adapter.Adapter) (*builder.Database, *builder.Table, *Engine) {
	ctx := context.Background()
	if a == nil {
		a = memory.New(memory.Options{})
	}
	db, err := builder.NewDatabase(ctx, "testdb", a)
	assert.NilError(t, err)
	s, err := builder.ParseSchema(test_schema)
	assert.NilError(t, err)
	users := s[0]
	assert.NilError(t, db.Adapter.CreateTable(ctx, users.Name, users.Info()))
	db.PutTable(users)

	e := New(db)
	assert.NilError(t, e.Create(ctx, users))
	return db, users, e
}

func owners(t *testing.T, db *builder.Database, index string, value any) []any {
	pks, err := db.Adapter.ReadIndexKey(context.Background(), "users", index, value)
	assert.NilError(t, err)
	return pks
}

func TestValues(t *testing.T) {
	_, users, _ := setup(t, nil)
	joined := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	vals := Values(users, builder.Row{
		"id":     1,
		"email":  "",
		"age":    0,
		"joined": joined,
		"tags":   []any{"a", "b", "a", nil, ""},
	})
	_, has_email := vals["email"]
	assert.Assert(t, !has_email, "empty strings are not indexed")
	assert.Equal(t, vals["age"], 0)
	assert.Equal(t, vals["joined"], joined.UnixMilli())
	assert.DeepEqual(t, vals["tags"], []any{"a", "b"})

	vals = Values(users, builder.Row{"age": 4.0, "tags": []any{}})
	assert.Equal(t, vals["age"], 4)
	_, has_tags := vals["tags"]
	assert.Assert(t, !has_tags)
}

func TestDiff(t *testing.T) {
	_, users, _ := setup(t, nil)

	old := builder.Row{"id": 1, "email": "a@x", "age": 3, "tags": []any{"a", "b"}}
	assert.Equal(t, len(Diff(users, old, old)), 0)

	ops := Diff(users, old, builder.Row{"id": 1, "email": "a@x", "age": 4, "tags": []any{"b", "c"}})
	got := []string{}
	for _, op := range ops {
		got = append(got, fmt.Sprintf("%t %s %v", op.Add, op.Index.ID, op.Value))
	}
	assert.DeepEqual(t, got, []string{
		"false age 3", "false tags a",
		"true age 4", "true tags c",
	})

	ops = Diff(users, nil, old)
	assert.Equal(t, len(ops), 4)
	for _, op := range ops {
		assert.Assert(t, op.Add)
	}

	added := Added(Diff(users, old, builder.Row{"email": "b@x", "age": 3}))
	assert.DeepEqual(t, added, map[string]any{"email": "b@x"})
}

func TestApplyAndUnique(t *testing.T) {
	ctx := context.Background()
	db, users, e := setup(t, nil)

	row := builder.Row{"id": 1, "email": "a@x", "tags": []any{"go"}}
	vals := Values(users, row)
	res, err := e.Reserve(ctx, users, vals)
	assert.NilError(t, err)
	assert.NilError(t, e.CheckUnique(ctx, users, vals, nil))
	assert.NilError(t, e.Apply(ctx, users, 1, Ops(users, vals, true), res))
	res.Release()

	assert.DeepEqual(t, owners(t, db, "email", "a@x"), []any{1})
	assert.DeepEqual(t, owners(t, db, "tags", "go"), []any{1})

	err = e.CheckUnique(ctx, users, map[string]any{"email": "a@x"}, 2)
	assert.Assert(t, errors.Is(err, builder.ErrUniqueConstraint))
	assert.ErrorContains(t, err, "users.email = a@x")

	assert.NilError(t, e.CheckUnique(ctx, users, map[string]any{"email": "a@x"}, 1))
	assert.NilError(t, e.CheckUnique(ctx, users, map[string]any{"age": 5}, 2), "non unique indexes are skipped")

	assert.NilError(t, e.Apply(ctx, users, 1, Ops(users, vals, false), nil))
	assert.Equal(t, len(owners(t, db, "email", "a@x")), 0)
}

func TestApplyUndo(t *testing.T) {
	ctx := context.Background()
	db, users, e := setup(t, &failingAdapter{Adapter: memory.New(memory.Options{}), fail_on: "boom"})

	row := builder.Row{"id": 7, "email": "a@x", "age": 9, "tags": []any{"ok", "boom"}}
	err := e.Apply(ctx, users, 7, Ops(users, Values(users, row), true), nil)
	assert.ErrorContains(t, err, "disk full")
	assert.Assert(t, adapter.IsAdapterError(err))

	assert.Equal(t, len(owners(t, db, "email", "a@x")), 0)
	assert.Equal(t, len(owners(t, db, "age", 9)), 0)
	assert.Equal(t, len(owners(t, db, "tags", "ok")), 0)
	assert.Assert(t, !users.Stale())
	assert.Equal(t, db.IndexLocks.Len(), 0)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	db, users, e := setup(t, nil)

	for i := 1; i <= 20; i++ {
		_, err := db.Adapter.Write(ctx, "users", i, builder.Row{
			"id": i, "email": fmt.Sprintf("u%d@x", i), "age": i % 3, "tags": []any{"t", fmt.Sprint(i)},
		})
		assert.NilError(t, err)
	}
	users.MarkStale()

	assert.NilError(t, e.Rebuild(ctx, users))
	assert.Equal(t, users.Count.Load(), int64(20))
	assert.Assert(t, !users.Stale())
	assert.DeepEqual(t, owners(t, db, "email", "u5@x"), []any{5})
	assert.Equal(t, len(owners(t, db, "age", 0)), 6)
	assert.Equal(t, len(owners(t, db, "tags", "t")), 20)
}

func TestConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	db, users, e := setup(t, nil)
	age := users.Index("age")

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Check(t, e.Update(ctx, users, age, i%2, i, true))
		}()
	}
	wg.Wait()
	assert.Equal(t, len(owners(t, db, "age", 0)), 25)
	assert.Equal(t, len(owners(t, db, "age", 1)), 25)
	assert.Equal(t, db.IndexLocks.Len(), 0)
}

func TestReserveBlocksOtherWriters(t *testing.T) {
	ctx := context.Background()
	_, users, e := setup(t, nil)

	res, err := e.Reserve(ctx, users, map[string]any{"email": "a@x", "age": 1})
	assert.NilError(t, err)

	wait_ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = e.Reserve(wait_ctx, users, map[string]any{"email": "a@x"})
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))

	// age is not unique and was not reserved
	assert.NilError(t, e.Update(ctx, users, users.Index("age"), 1, 3, true))

	res.Release()
	res2, err := e.Reserve(ctx, users, map[string]any{"email": "a@x"})
	assert.NilError(t, err)
	res2.Release()
}
