package index

import (
	"context"
	"runtime"

	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/pkg"
	"golang.org/x/sync/errgroup"
)

// Rebuild drops and recreates every index of t from the stored rows, then
// recounts the table. A successful rebuild clears the stale flag.
func (e *Engine) Rebuild(ctx context.Context, t *builder.Table) error {
	for _, idx := range t.IndexList() {
		if err := e.adapter.DropIndex(ctx, t.Name, idx.ID); err != nil {
			return err
		}
	}
	if err := e.Create(ctx, t); err != nil {
		return err
	}

	rows := []builder.Row{}
	err := e.adapter.ReadMulti(ctx, t.Name, adapter.ReadAll, nil, nil, false, func(row adapter.Row, _ int) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return err
	}

	g, g_ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, row := range rows {
		pk := t.Pk(row)
		ops := Ops(t, Values(t, row), true)
		if len(ops) == 0 {
			continue
		}
		g.Go(func() error {
			for _, op := range ops {
				if err := e.Update(g_ctx, t, op.Index, op.Value, pk, true); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	t.Count.Store(int64(len(rows)))
	t.ClearStale()
	pkg.DebugLog("rebuilt", len(t.Indexes), "indexes of", t.Name, "over", len(rows), "rows")
	return nil
}
