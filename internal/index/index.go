// Package index keeps secondary indexes in step with row writes. Every
// mutation of one index value goes through a per-value lock, and unique
// values are reserved for the whole check, write, add sequence of a row.
package index

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/metrics"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/types"
	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
)

// Coerce casts a row value to the representation stored in idx. ok is
// false for values that are never indexed: nil, empty strings and values
// that cannot be represented.
func Coerce(idx *builder.Index, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.(string); ok && len(s) == 0 {
		return nil, false
	}
	c, ok := values.Coerce(idx.Type, v)
	if !ok {
		return nil, false
	}
	if s, is_str := c.(string); is_str && len(s) == 0 {
		return nil, false
	}
	return c, true
}

// Values reads the value of every index of t from row. Array indexes map
// to a de-duplicated []any of coerced elements; indexes with nothing to
// store are absent from the result.
func Values(t *builder.Table, row builder.Row) map[string]any {
	out := map[string]any{}
	if row == nil {
		return out
	}
	for _, idx := range t.IndexList() {
		raw, ok := path.Get(row, idx.Path)
		if !ok || raw == nil {
			continue
		}
		if !idx.Array {
			if v, ok := Coerce(idx, raw); ok {
				out[idx.ID] = v
			}
			continue
		}

		list, ok := values.ToSlice(raw)
		if !ok {
			continue
		}
		seen := map[string]bool{}
		elems := []any{}
		for _, e := range list {
			v, ok := Coerce(idx, e)
			if !ok {
				continue
			}
			key := pkg.KeyOf(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			elems = append(elems, v)
		}
		if len(elems) > 0 {
			out[idx.ID] = elems
		}
	}
	return out
}

// Op adds or removes one (value, pk) entry of an index.
type Op struct {
	Index *builder.Index
	Value any
	Add   bool
}

func (op Op) inverse() Op { return Op{Index: op.Index, Value: op.Value, Add: !op.Add} }

func entries(v any, array bool) []any {
	if !array {
		return []any{v}
	}
	list, _ := v.([]any)
	return list
}

// Ops lists the entries of vals as all-add or all-remove operations, in
// index order.
func Ops(t *builder.Table, vals map[string]any, add bool) []Op {
	ops := []Op{}
	for _, idx := range t.IndexList() {
		v, ok := vals[idx.ID]
		if !ok {
			continue
		}
		for _, e := range entries(v, idx.Array) {
			ops = append(ops, Op{Index: idx, Value: e, Add: add})
		}
	}
	return ops
}

// Diff computes the index operations that turn the entries of old into the
// entries of new. Unchanged indexes produce nothing; array indexes produce
// the set difference both ways. Removals come first.
func Diff(t *builder.Table, old, new builder.Row) []Op {
	old_vals := Values(t, old)
	new_vals := Values(t, new)

	removes := []Op{}
	adds := []Op{}
	for _, idx := range t.IndexList() {
		ov, o_ok := old_vals[idx.ID]
		nv, n_ok := new_vals[idx.ID]
		if o_ok && n_ok && values.Equal(ov, nv) {
			continue
		}
		o_entries, n_entries := []any{}, []any{}
		if o_ok {
			o_entries = entries(ov, idx.Array)
		}
		if n_ok {
			n_entries = entries(nv, idx.Array)
		}
		n_keys := keySet(n_entries)
		o_keys := keySet(o_entries)
		for _, e := range o_entries {
			if !n_keys[pkg.KeyOf(e)] {
				removes = append(removes, Op{Index: idx, Value: e})
			}
		}
		for _, e := range n_entries {
			if !o_keys[pkg.KeyOf(e)] {
				adds = append(adds, Op{Index: idx, Value: e, Add: true})
			}
		}
	}
	return append(removes, adds...)
}

func keySet(list []any) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, v := range list {
		out[pkg.KeyOf(v)] = true
	}
	return out
}

// Added collects the values the ops add to unique indexes.
func Added(ops []Op) map[string]any {
	out := map[string]any{}
	for _, op := range ops {
		if op.Add && op.Index.Unique {
			out[op.Index.ID] = op.Value
		}
	}
	return out
}

type Engine struct {
	db_id   string
	adapter adapter.Adapter
	locks   *pkg.KeyedMutex
}

func New(db *builder.Database) *Engine {
	return &Engine{db_id: db.ID, adapter: db.Adapter, locks: db.IndexLocks}
}

func (e *Engine) lockKey(t *builder.Table, idx *builder.Index, value any) string {
	return e.db_id + "\x00" + t.Name + "\x00" + idx.ID + "\x00" + pkg.KeyOf(value)
}

func (e *Engine) write(ctx context.Context, t *builder.Table, idx *builder.Index, value, pk any, add bool) error {
	if add {
		return e.adapter.AddIndexValue(ctx, t.Name, idx.ID, pk, value)
	}
	return e.adapter.DeleteIndexValue(ctx, t.Name, idx.ID, pk, value)
}

// Update adds or removes one index entry under the lock of its value.
func (e *Engine) Update(ctx context.Context, t *builder.Table, idx *builder.Index, value, pk any, add bool) error {
	unlock, err := e.locks.Lock(ctx, e.lockKey(t, idx, value))
	if err != nil {
		return err
	}
	defer unlock()
	return e.write(ctx, t, idx, value, pk, add)
}

// Reservation holds the locks of unique values between the uniqueness
// check and the index add.
type Reservation struct {
	held   map[string]bool
	unlock func()
}

func (r *Reservation) holds(key string) bool { return r != nil && r.held[key] }

// Release frees the reserved values. Safe on a nil reservation.
func (r *Reservation) Release() {
	if r != nil && r.unlock != nil {
		r.unlock()
		r.unlock = nil
	}
}

// Reserve locks the unique values among vals in sorted key order.
func (e *Engine) Reserve(ctx context.Context, t *builder.Table, vals map[string]any) (*Reservation, error) {
	keys := []string{}
	for id, v := range vals {
		idx := t.Index(id)
		if idx == nil || !idx.Unique {
			continue
		}
		keys = append(keys, e.lockKey(t, idx, v))
	}
	res := &Reservation{held: map[string]bool{}}
	if len(keys) == 0 {
		return res, nil
	}
	unlock, err := e.locks.LockAll(ctx, keys)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		res.held[k] = true
	}
	res.unlock = unlock
	return res, nil
}

// CheckUnique fails when a unique value in vals already belongs to a row
// other than own_pk. A nil own_pk means the row does not exist yet.
func (e *Engine) CheckUnique(ctx context.Context, t *builder.Table, vals map[string]any, own_pk any) error {
	ids := make([]string, 0, len(vals))
	for id := range vals {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		idx := t.Index(id)
		if idx == nil || !idx.Unique {
			continue
		}
		owners, err := e.adapter.ReadIndexKey(ctx, t.Name, idx.ID, vals[id])
		if err != nil {
			return err
		}
		for _, owner := range owners {
			if own_pk != nil && values.Equal(owner, own_pk) {
				continue
			}
			metrics.UniqueViolationsTotal.WithLabelValues(t.Name, idx.ID).Inc()
			return errors.Wrapf(builder.ErrUniqueConstraint, "%s.%s = %v", t.Name, idx.ID, vals[id])
		}
	}
	return nil
}

// Apply runs ops for the row pk in order. Values held by res are not locked
// again. When an op fails, the ops already applied are undone in reverse
// order and the error is returned.
func (e *Engine) Apply(ctx context.Context, t *builder.Table, pk any, ops []Op, res *Reservation) error {
	for i, op := range ops {
		if err := e.apply(ctx, t, pk, op, res); err != nil {
			e.Revert(ctx, t, pk, ops[:i], res)
			return err
		}
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, t *builder.Table, pk any, op Op, res *Reservation) error {
	if res.holds(e.lockKey(t, op.Index, op.Value)) {
		return e.write(ctx, t, op.Index, op.Value, pk, op.Add)
	}
	return e.Update(ctx, t, op.Index, op.Value, pk, op.Add)
}

// Revert applies the inverse of ops, last first. It runs even when ctx is
// cancelled. A failed undo leaves the table marked stale until its indexes
// are rebuilt.
func (e *Engine) Revert(ctx context.Context, t *builder.Table, pk any, ops []Op, res *Reservation) {
	ctx = context.WithoutCancel(ctx)
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i].inverse()
		if err := e.apply(ctx, t, pk, op, res); err != nil {
			pkg.ErrorLog("failed to undo index update on", t.Name+"."+op.Index.ID, "for", pk, ";", err)
			metrics.IndexRepairsTotal.WithLabelValues(t.Name).Inc()
			t.MarkStale()
		}
	}
}

// Create allocates storage for every index of t.
func (e *Engine) Create(ctx context.Context, t *builder.Table) error {
	for _, idx := range t.IndexList() {
		if err := e.adapter.CreateIndex(ctx, t.Name, idx.ID, indexType(idx)); err != nil {
			return err
		}
	}
	return nil
}

func indexType(idx *builder.Index) types.FieldType {
	if idx.Type == types.FieldTypeDate {
		// dates are stored as unix milliseconds
		return types.FieldTypeInt
	}
	return idx.Type
}
