package query

import (
	"context"
	"slices"

	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/planner"
	"github.com/tobsdb/tdb/internal/values"
	"github.com/tobsdb/tdb/pkg"
	"golang.org/x/sync/errgroup"
)

// resolve answers AND-joined fast conditions from the primary key and the
// indexes. Each condition is resolved concurrently into a bag of keys; a key
// survives when every bag holds it. The result is in key order.
func (x *executor) resolve(ctx context.Context, t *builder.Table, nodes []*planner.Node, reverse bool) ([]any, error) {
	bags := make([][]any, len(nodes))
	g, g_ctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		g.Go(func() error {
			pks, err := x.resolveNode(g_ctx, t, node)
			bags[i] = pks
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pks := intersect(bags)
	slices.SortFunc(pks, values.Compare)
	if reverse {
		slices.Reverse(pks)
	}
	return pks, nil
}

// intersect keeps the keys present in every bag. Bags may hold duplicates.
func intersect(bags [][]any) []any {
	counts := map[string]int{}
	first := map[string]any{}
	order := []string{}
	for _, bag := range bags {
		seen := map[string]bool{}
		for _, pk := range bag {
			k := pkg.KeyOf(pk)
			if seen[k] {
				continue
			}
			seen[k] = true
			if counts[k] == 0 {
				first[k] = pk
				order = append(order, k)
			}
			counts[k]++
		}
	}
	out := []any{}
	for _, k := range order {
		if counts[k] == len(bags) {
			out = append(out, first[k])
		}
	}
	return out
}

func (x *executor) resolveNode(ctx context.Context, t *builder.Table, node *planner.Node) ([]any, error) {
	if node.IsPK {
		return x.resolvePk(ctx, t, node)
	}
	idx := node.Index.ID
	a := x.db.Adapter

	switch node.Comparator {
	case values.CompareEqual, values.CompareIncludes:
		return a.ReadIndexKey(ctx, t.Name, idx, node.Value)
	case values.CompareIn, values.CompareIntersect:
		list, _ := values.ToSlice(node.Value)
		out := []any{}
		for _, v := range list {
			pks, err := a.ReadIndexKey(ctx, t.Name, idx, v)
			if err != nil {
				return nil, err
			}
			out = append(out, pks...)
		}
		return out, nil
	case values.CompareIntersectAll:
		list, _ := values.ToSlice(node.Value)
		bags := make([][]any, 0, len(list))
		for _, v := range list {
			pks, err := a.ReadIndexKey(ctx, t.Name, idx, v)
			if err != nil {
				return nil, err
			}
			bags = append(bags, pks)
		}
		return intersect(bags), nil
	case values.CompareBetween:
		bounds, _ := values.ToSlice(node.Value)
		return x.indexRange(ctx, t, idx, bounds[0], bounds[1], nil)
	case values.CompareLike, values.CompareIncludesLike:
		pattern := node.Value.(string)
		prefix, _ := values.LikePrefix(pattern)
		return x.indexRange(ctx, t, idx, prefix, values.PrefixUpperBound(prefix), func(v any) bool {
			return x.planner.Matcher().Match(v, values.CompareLike, pattern)
		})
	}
	return nil, malformedf("%s cannot be answered from index %s", node.Comparator, idx)
}

func (x *executor) indexRange(ctx context.Context, t *builder.Table, idx string, low, high any, keep func(any) bool) ([]any, error) {
	out := []any{}
	err := x.db.Adapter.ReadIndexKeys(ctx, t.Name, idx, adapter.ReadRange, low, high, false, func(pk, value any) error {
		if keep == nil || keep(value) {
			out = append(out, pk)
		}
		return nil
	})
	return out, err
}

func (x *executor) resolvePk(ctx context.Context, t *builder.Table, node *planner.Node) ([]any, error) {
	switch node.Comparator {
	case values.CompareEqual:
		return []any{node.Value}, nil
	case values.CompareIn:
		list, _ := values.ToSlice(node.Value)
		return list, nil
	case values.CompareBetween:
		bounds, _ := values.ToSlice(node.Value)
		return x.pkRange(ctx, t, bounds[0], bounds[1], nil)
	case values.CompareLike:
		pattern := node.Value.(string)
		prefix, _ := values.LikePrefix(pattern)
		return x.pkRange(ctx, t, prefix, values.PrefixUpperBound(prefix), func(pk any) bool {
			return x.planner.Matcher().Match(pk, values.CompareLike, pattern)
		})
	}
	return nil, malformedf("%s cannot be answered from the primary key of %s", node.Comparator, t.Name)
}

func (x *executor) pkRange(ctx context.Context, t *builder.Table, low, high any, keep func(any) bool) ([]any, error) {
	out := []any{}
	err := x.db.Adapter.ReadMulti(ctx, t.Name, adapter.ReadRange, low, high, false, func(row adapter.Row, _ int) error {
		pk := t.Pk(row)
		if keep == nil || keep(pk) {
			out = append(out, pk)
		}
		return nil
	})
	return out, err
}

// readRows reads pks in order, skipping keys with no row.
func (x *executor) readRows(ctx context.Context, t *builder.Table, pks []any, fn func(row builder.Row) (bool, error)) error {
	for _, pk := range pks {
		row, err := x.db.Adapter.Read(ctx, t.Name, pk)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		done, err := fn(row)
		if err != nil || done {
			return err
		}
	}
	return nil
}
