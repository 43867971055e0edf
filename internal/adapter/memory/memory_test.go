package memory_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/adapter/memory"
	"github.com/tobsdb/tdb/internal/types"
	"gotest.tools/assert"
)

var intTable = adapter.TableInfo{
	PkPath:  []string{"id"},
	PkType:  types.FieldTypeInt,
	IsPkNum: true,
	AutoGen: true,
}

func newAdapter(t *testing.T, opts memory.Options) adapter.Adapter {
	a := memory.New(opts)
	ctx := context.Background()
	assert.NilError(t, a.Connect(ctx, "testdb"))
	assert.NilError(t, a.CreateTable(ctx, "test", intTable))
	return a
}

func collect(t *testing.T, a adapter.Adapter, typ adapter.ReadType, low, high any, reverse bool) []adapter.Row {
	rows := []adapter.Row{}
	err := a.ReadMulti(context.Background(), "test", typ, low, high, reverse, func(row adapter.Row, i int) error {
		assert.Equal(t, i, len(rows))
		rows = append(rows, row)
		return nil
	})
	assert.NilError(t, err)
	return rows
}

func ids(rows []adapter.Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r["id"].(int)
	}
	return out
}

func insertTitles(t *testing.T, a adapter.Adapter, n int) []adapter.Row {
	ctx := context.Background()
	rows := []adapter.Row{}
	for i := 1; i <= n; i++ {
		row := adapter.Row{"name": fmt.Sprintf("Title %d", i)}
		pk, err := a.Write(ctx, "test", nil, row)
		assert.NilError(t, err)
		assert.Equal(t, pk, i)
		rows = append(rows, row)
	}
	return rows
}

func TestAutoIncrementAndReplace(t *testing.T) {
	a := newAdapter(t, memory.Options{})
	ctx := context.Background()

	pk, err := a.Write(ctx, "test", nil, adapter.Row{"name": "Test"})
	assert.NilError(t, err)
	assert.Equal(t, pk, 1)

	_, err = a.Write(ctx, "test", 1, adapter.Row{"id": 1, "name": "Testing"})
	assert.NilError(t, err)

	row, err := a.Read(ctx, "test", 1)
	assert.NilError(t, err)
	assert.DeepEqual(t, row, adapter.Row{"id": 1, "name": "Testing"})

	row, err = a.Read(ctx, "test", 2)
	assert.NilError(t, err)
	assert.Assert(t, row == nil)

	pk, err = a.Write(ctx, "test", nil, adapter.Row{"name": "next"})
	assert.NilError(t, err)
	assert.Equal(t, pk, 2)
}

func TestReadsAreCopies(t *testing.T) {
	a := newAdapter(t, memory.Options{})
	ctx := context.Background()

	row := adapter.Row{"tags": []any{"a"}}
	pk, err := a.Write(ctx, "test", nil, row)
	assert.NilError(t, err)
	row["tags"].([]any)[0] = "changed"

	read, err := a.Read(ctx, "test", pk)
	assert.NilError(t, err)
	assert.DeepEqual(t, read["tags"], []any{"a"})
}

func TestReadMulti(t *testing.T) {
	a := newAdapter(t, memory.Options{})
	reference := insertTitles(t, a, 500)

	t.Run("range is inclusive", func(t *testing.T) {
		rows := collect(t, a, adapter.ReadRange, 10, 20, false)
		expected := []adapter.Row{}
		for _, r := range reference {
			if id := r["id"].(int); id >= 10 && id <= 20 {
				expected = append(expected, r)
			}
		}
		assert.DeepEqual(t, rows, expected)
		assert.Equal(t, rows[0]["id"], 10)
		assert.Equal(t, rows[len(rows)-1]["id"], 20)
	})

	t.Run("range reverse", func(t *testing.T) {
		assert.DeepEqual(t, ids(collect(t, a, adapter.ReadRange, 10, 13, true)), []int{13, 12, 11, 10})
	})

	t.Run("range bounds", func(t *testing.T) {
		assert.DeepEqual(t, ids(collect(t, a, adapter.ReadRange, 7, 7, false)), []int{7})
		assert.DeepEqual(t, ids(collect(t, a, adapter.ReadRange, 498, nil, false)), []int{498, 499, 500})
		assert.DeepEqual(t, ids(collect(t, a, adapter.ReadRange, nil, 2, true)), []int{2, 1})
		assert.DeepEqual(t, ids(collect(t, a, adapter.ReadRange, -5, 1, false)), []int{1})
		assert.Equal(t, len(collect(t, a, adapter.ReadRange, 501, 900, false)), 0)
		assert.Equal(t, len(collect(t, a, adapter.ReadRange, 20, 10, false)), 0)
	})

	t.Run("offset window", func(t *testing.T) {
		rows := collect(t, a, adapter.ReadOffset, 10, 20, false)
		assert.Equal(t, len(rows), 20)
		// positions [10,30) are ids 11..30
		assert.Equal(t, rows[0]["id"], 11)
		assert.Equal(t, rows[19]["id"], 30)
	})

	t.Run("offset reverse", func(t *testing.T) {
		assert.DeepEqual(t, ids(collect(t, a, adapter.ReadOffset, 0, 3, true)), []int{500, 499, 498})
	})

	t.Run("offset past end", func(t *testing.T) {
		assert.Equal(t, len(collect(t, a, adapter.ReadOffset, 498, 10, false)), 2)
		assert.Equal(t, len(collect(t, a, adapter.ReadOffset, 600, 10, false)), 0)
	})

	t.Run("all", func(t *testing.T) {
		rows := collect(t, a, adapter.ReadAll, nil, nil, false)
		assert.Equal(t, len(rows), 500)
		for i := 1; i < len(rows); i++ {
			assert.Assert(t, rows[i-1]["id"].(int) < rows[i]["id"].(int))
		}
	})

	t.Run("stop early", func(t *testing.T) {
		n := 0
		err := a.ReadMulti(context.Background(), "test", adapter.ReadAll, nil, nil, false, func(row adapter.Row, i int) error {
			n++
			if n == 5 {
				return adapter.ErrStop
			}
			return nil
		})
		assert.NilError(t, err)
		assert.Equal(t, n, 5)
	})

	t.Run("table index", func(t *testing.T) {
		keys, err := a.GetTableIndex(context.Background(), "test")
		assert.NilError(t, err)
		assert.Equal(t, len(keys), 500)
		assert.Equal(t, keys[0], 1)

		n, err := a.GetTableIndexLength(context.Background(), "test")
		assert.NilError(t, err)
		assert.Equal(t, n, 500)
	})
}

func TestRangeOnEmptyTable(t *testing.T) {
	a := newAdapter(t, memory.Options{})
	assert.Equal(t, len(collect(t, a, adapter.ReadRange, 1, 10, false)), 0)
	assert.Equal(t, len(collect(t, a, adapter.ReadOffset, 0, 10, false)), 0)
}

func TestNumericKeysSortNumerically(t *testing.T) {
	a := newAdapter(t, memory.Options{})
	ctx := context.Background()
	for _, id := range []int{10, 9, 100, 2} {
		_, err := a.Write(ctx, "test", id, adapter.Row{})
		assert.NilError(t, err)
	}
	assert.DeepEqual(t, ids(collect(t, a, adapter.ReadAll, nil, nil, false)), []int{2, 9, 10, 100})
}

func TestSecondaryIndex(t *testing.T) {
	a := newAdapter(t, memory.Options{})
	ctx := context.Background()
	assert.NilError(t, a.CreateIndex(ctx, "test", "name", types.FieldTypeString))

	assert.NilError(t, a.AddIndexValue(ctx, "test", "name", 3, "bob"))
	assert.NilError(t, a.AddIndexValue(ctx, "test", "name", 1, "bob"))
	assert.NilError(t, a.AddIndexValue(ctx, "test", "name", 2, "alice"))
	assert.NilError(t, a.AddIndexValue(ctx, "test", "name", 1, "bob"))

	pks, err := a.ReadIndexKey(ctx, "test", "name", "bob")
	assert.NilError(t, err)
	assert.DeepEqual(t, pks, []any{1, 3})

	type entry struct {
		Pk    any
		Value any
	}
	read := func(typ adapter.ReadType, low, high any, reverse bool) []entry {
		out := []entry{}
		err := a.ReadIndexKeys(ctx, "test", "name", typ, low, high, reverse, func(pk, value any) error {
			out = append(out, entry{pk, value})
			return nil
		})
		assert.NilError(t, err)
		return out
	}

	all := read(adapter.ReadAll, nil, nil, false)
	assert.Equal(t, len(all), 3)
	assert.Equal(t, all[0], entry{2, "alice"})
	assert.Equal(t, all[2], entry{3, "bob"})

	assert.Equal(t, read(adapter.ReadAll, nil, nil, true)[0], entry{3, "bob"})
	assert.Equal(t, len(read(adapter.ReadRange, "b", "c", false)), 2)
	assert.Equal(t, read(adapter.ReadOffset, 1, 1, false)[0], entry{1, "bob"})
	assert.DeepEqual(t, read(adapter.ReadRange, "bob", "bob", true), []entry{{3, "bob"}, {1, "bob"}})
	assert.DeepEqual(t, read(adapter.ReadRange, "a", "alice", false), []entry{{2, "alice"}})
	assert.Equal(t, len(read(adapter.ReadRange, "c", nil, false)), 0)
	assert.DeepEqual(t, read(adapter.ReadOffset, 0, 2, true), []entry{{3, "bob"}, {1, "bob"}})
	assert.DeepEqual(t, read(adapter.ReadOffset, 2, nil, false), []entry{{3, "bob"}})

	assert.NilError(t, a.DeleteIndexValue(ctx, "test", "name", 1, "bob"))
	assert.NilError(t, a.DeleteIndexValue(ctx, "test", "name", 3, "bob"))
	pks, err = a.ReadIndexKey(ctx, "test", "name", "bob")
	assert.NilError(t, err)
	assert.Equal(t, len(pks), 0)

	assert.NilError(t, a.DropIndex(ctx, "test", "name"))
	_, err = a.ReadIndexKey(ctx, "test", "name", "bob")
	assert.ErrorContains(t, err, "index name does not exist")
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a := newAdapter(t, memory.Options{Dir: dir})
	assert.NilError(t, a.CreateIndex(ctx, "test", "tags", types.FieldTypeString))
	insertTitles(t, a, 3)
	assert.NilError(t, a.AddIndexValue(ctx, "test", "tags", 2, "x"))
	assert.NilError(t, a.Disconnect(ctx))

	b := newAdapter(t, memory.Options{Dir: dir})
	rows := collect(t, b, adapter.ReadAll, nil, nil, false)
	assert.DeepEqual(t, ids(rows), []int{1, 2, 3})
	assert.Equal(t, rows[1]["name"], "Title 2")

	pks, err := b.ReadIndexKey(ctx, "test", "tags", "x")
	assert.NilError(t, err)
	assert.DeepEqual(t, pks, []any{2})

	pk, err := b.Write(ctx, "test", nil, adapter.Row{})
	assert.NilError(t, err)
	assert.Equal(t, pk, 4)

	assert.NilError(t, b.DropTable(ctx, "test"))
	c := newAdapter(t, memory.Options{Dir: dir})
	n, err := c.GetTableIndexLength(ctx, "test")
	assert.NilError(t, err)
	assert.Equal(t, n, 0)
}

func TestCheckedWrapsErrors(t *testing.T) {
	a := adapter.Checked(memory.New(memory.Options{}))
	_, err := a.Read(context.Background(), "missing", 1)
	assert.ErrorContains(t, err, "adapter read: table missing does not exist")
	assert.Assert(t, adapter.IsAdapterError(err))

	assert.NilError(t, a.CreateTable(context.Background(), "test", intTable))
	_, err = a.Write(context.Background(), "test", nil, adapter.Row{})
	assert.NilError(t, err)

	custom := fmt.Errorf("mine")
	err = a.ReadMulti(context.Background(), "test", adapter.ReadAll, nil, nil, false, func(adapter.Row, int) error {
		return custom
	})
	assert.Equal(t, err, custom)
	assert.Assert(t, !adapter.IsAdapterError(err))
}
