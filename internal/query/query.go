// Package query executes queries against a database: it prepares the WHERE
// and ORDER BY of a query, picks the cheapest execution level that can
// answer it, and runs writes through the row mutation pipeline.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/index"
	"github.com/tobsdb/tdb/internal/metrics"
	"github.com/tobsdb/tdb/internal/planner"
	"github.com/tobsdb/tdb/pkg"
)

type Action string

const (
	ActionSelect         Action = "select"
	ActionUpsert         Action = "upsert"
	ActionDelete         Action = "delete"
	ActionCreateTable    Action = "create table"
	ActionDropTable      Action = "drop table"
	ActionRebuildIndexes Action = "rebuild indexes"
	ActionDescribe       Action = "describe"
	ActionShowTables     Action = "show tables"
	ActionTotal          Action = "total"
)

func (a Action) isSchema() bool {
	return a == ActionCreateTable || a == ActionDropTable || a == ActionRebuildIndexes
}

type Level int

const (
	LevelAuto Level = iota
	LevelFast
	LevelMedium
	LevelComplete
)

func (l Level) String() string {
	switch l {
	case LevelFast:
		return "fast"
	case LevelMedium:
		return "medium"
	case LevelComplete:
		return "complete"
	}
	return "none"
}

type State string

const (
	StatePending  State = "pending"
	StateComplete State = "complete"
	StateError    State = "error"
)

const (
	JoinInner = "inner"
	JoinLeft  = "left"
)

// Join pairs every row of the query table with the rows of Table for which
// `On[0] On[1] On[2]` holds, On[0] read from the query table's row and
// On[2] from Table's.
type Join struct {
	Table string `json:"table"`
	Type  string `json:"type"`
	On    []any  `json:"on"`
}

type Query struct {
	Table  string
	Action Action
	// upsert: a row or a list of rows; select: the projection; create
	// table: a builder.TableDef or schema text
	ActionArgs any
	Where      any
	Having     any
	OrderBy    any
	GroupBy    any
	Distinct   bool
	Join       *Join
	// non-positive means no limit
	Limit  int
	Offset int
	// upsert with a WHERE sets ActionArgs at this path instead of merging
	UpsertPath string
	// memoizes the prepared WHERE under this id
	CacheID string
	// run select at this level or a more thorough one
	ForceLevel Level

	State State
	Error string
}

// RowFunc receives result rows in order. Returning adapter.ErrStop ends the
// query early without an error.
type RowFunc func(row builder.Row, i int) error

type executor struct {
	db      *builder.Database
	planner *planner.Planner
	index   *index.Engine
}

func newExecutor(db *builder.Database) *executor {
	return &executor{db: db, planner: planner.New(db), index: index.New(db)}
}

// Run executes q against db, streaming result rows to on_row. q.State and
// q.Error record the outcome.
func Run(ctx context.Context, db *builder.Database, q *Query, on_row RowFunc) (err error) {
	if on_row == nil {
		on_row = func(builder.Row, int) error { return nil }
	}
	q.State = StatePending
	q.Error = ""

	start := time.Now()
	level := LevelAuto
	defer func() {
		status := "ok"
		if err != nil {
			status = fmt.Sprint(StatusOf(err))
			q.State = StateError
			q.Error = err.Error()
			pkg.DebugLog("query", q.Action, "on", q.Table, "failed:", err)
		} else {
			q.State = StateComplete
		}
		metrics.QueriesTotal.WithLabelValues(string(q.Action), level.String(), status).Inc()
		metrics.QueryDuration.WithLabelValues(string(q.Action)).Observe(time.Since(start).Seconds())
	}()

	if q.Action.isSchema() {
		db.GetLocker().Lock()
		defer db.GetLocker().Unlock()
	} else {
		db.GetLocker().RLock()
		defer db.GetLocker().RUnlock()
	}

	x := newExecutor(db)
	switch q.Action {
	case ActionShowTables:
		return x.showTables(on_row)
	case ActionCreateTable:
		return x.createTableAction(ctx, q, on_row)
	}

	table, err := db.Table(q.Table)
	if err != nil {
		return err
	}

	switch q.Action {
	case ActionSelect, "":
		pq, err := x.prepare(table, q)
		if err != nil {
			return err
		}
		level = pq.Level
		return x.selectRows(ctx, pq, on_row)
	case ActionUpsert:
		return x.upsertAction(ctx, table, q, on_row)
	case ActionDelete:
		return x.deleteAction(ctx, table, q, on_row)
	case ActionDropTable:
		return x.dropTable(ctx, table, on_row)
	case ActionRebuildIndexes:
		return x.rebuild(ctx, table, on_row)
	case ActionDescribe:
		return x.describe(table, on_row)
	case ActionTotal:
		return on_row(builder.Row{"table": table.Name, "total": int(table.Count.Load())}, 0)
	}
	return errors.Wrapf(builder.ErrMalformedClause, "unknown action %q", q.Action)
}

// Select runs a select and collects its rows.
func Select(ctx context.Context, db *builder.Database, q *Query) ([]builder.Row, error) {
	q.Action = ActionSelect
	rows := []builder.Row{}
	err := Run(ctx, db, q, func(row builder.Row, _ int) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}
