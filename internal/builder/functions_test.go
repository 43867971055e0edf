package builder_test

import (
	"testing"

	. "github.com/tobsdb/tdb/internal/builder"
	"gotest.tools/assert"
)

func TestBuiltinFunctions(t *testing.T) {
	f := NewFunctions()
	call := func(name string, args ...any) any {
		fn, ok := f.Get(name)
		assert.Assert(t, ok, name)
		v, err := fn(args...)
		assert.NilError(t, err)
		return v
	}

	assert.Equal(t, call("lower", "HeLLo"), "hello")
	assert.Equal(t, call("UPPER", "a"), "A")
	assert.Equal(t, call("TRIM", "  x "), "x")
	assert.Equal(t, call("LENGTH", "héllo"), 5)
	assert.Equal(t, call("LENGTH", []any{1, 2}), 2)
	assert.Equal(t, call("ABS", -3), 3.0)
	assert.Equal(t, call("ROUND", 1.234, 1), 1.2)
	assert.Equal(t, call("ROUND", 2.5), 3.0)
	assert.Equal(t, call("CEIL", 1.2), 2.0)
	assert.Equal(t, call("FLOOR", 1.8), 1.0)
	assert.Equal(t, call("COALESCE", nil, nil, "z"), "z")
	assert.Assert(t, call("LOWER", nil) == nil)

	fn, _ := f.Get("ABS")
	_, err := fn("x")
	assert.ErrorContains(t, err, "x is not a number")

	_, ok := f.Get("NOPE")
	assert.Assert(t, !ok)

	f.Register("double", func(args ...any) (any, error) { return args[0].(int) * 2, nil })
	assert.Equal(t, call("DOUBLE", 4), 8)

	assert.Assert(t, IsAggregate("count"))
	assert.Assert(t, !IsAggregate("LOWER"))
}

func TestEventBus(t *testing.T) {
	b := NewEventBus()
	got := []Event{}
	unsubscribe := b.Subscribe("a", func(e Event) { got = append(got, e) })
	b.Watch("a", "name", func(e Event) { got = append(got, e) })

	b.Emit(Event{Type: EventUpsert, Table: "a", Pk: 1})
	b.Emit(Event{Type: EventUpsert, Table: "b", Pk: 1})
	b.Emit(Event{Type: EventChange, Table: "a", Path: "name", Value: "x"})
	b.Emit(Event{Type: EventChange, Table: "a", Path: "other"})
	assert.Equal(t, len(got), 2)
	assert.Equal(t, got[0].Type, EventUpsert)
	assert.Equal(t, got[1].Value, "x")

	assert.DeepEqual(t, b.WatchedPaths("a"), []string{"name"})

	unsubscribe()
	b.Emit(Event{Type: EventDelete, Table: "a", Pk: 1})
	assert.Equal(t, len(got), 2)
}
