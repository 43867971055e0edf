package path_test

import (
	"testing"

	"github.com/tobsdb/tdb/internal/path"
	"gotest.tools/assert"
)

func TestResolve(t *testing.T) {
	r := path.NewResolver(8)
	assert.DeepEqual(t, r.Resolve("a.b[0].c"), []string{"a", "b", "0", "c"})
	assert.DeepEqual(t, r.Resolve("id"), []string{"id"})
	assert.DeepEqual(t, r.Resolve("list[2][1]"), []string{"list", "2", "1"})
	assert.Equal(t, path.Join(r.Resolve("a.b[0].c")), "a.b.0.c")
}

func TestGet(t *testing.T) {
	row := map[string]any{
		"name": "bob",
		"address": map[string]any{
			"city": "Lagos",
			"tags": []any{"home", map[string]any{"kind": "work"}},
		},
	}

	v, ok := path.Get(row, path.Split("address.city"))
	assert.Assert(t, ok)
	assert.Equal(t, v, "Lagos")

	v, ok = path.Get(row, path.Split("address.tags[1].kind"))
	assert.Assert(t, ok)
	assert.Equal(t, v, "work")

	_, ok = path.Get(row, path.Split("address.tags[5]"))
	assert.Assert(t, !ok)

	_, ok = path.Get(row, path.Split("name.first"))
	assert.Assert(t, !ok)
}

func TestSet(t *testing.T) {
	t.Run("creates maps and lists", func(t *testing.T) {
		row := map[string]any{}
		path.Set(row, path.Split("a.b"), 1)
		path.Set(row, path.Split("list[2].x"), "y")

		assert.DeepEqual(t, row, map[string]any{
			"a":    map[string]any{"b": 1},
			"list": []any{nil, nil, map[string]any{"x": "y"}},
		})
	})

	t.Run("overwrites scalars", func(t *testing.T) {
		row := map[string]any{"a": 5}
		path.Set(row, path.Split("a.b"), true)
		assert.DeepEqual(t, row, map[string]any{"a": map[string]any{"b": true}})
	})

	t.Run("delete", func(t *testing.T) {
		row := map[string]any{"a": map[string]any{"b": 1, "c": 2}, "l": []any{1, 2}}
		path.Delete(row, path.Split("a.b"))
		path.Delete(row, path.Split("l[0]"))
		assert.DeepEqual(t, row, map[string]any{"a": map[string]any{"c": 2}, "l": []any{nil, 2}})
	})
}
