package client

import "context"

type (
	TdbRequestData any
	// TdbRequestWhere is a clause array such as []any{"age", ">", 3}.
	TdbRequestWhere any
)

type SelectOptions struct {
	Columns  []string
	Where    TdbRequestWhere
	Having   TdbRequestWhere
	OrderBy  any
	GroupBy  any
	Distinct bool
	Limit    int
	Offset   int
	CacheId  string
}

func (c *TdbClient) Select(ctx context.Context, table string, opts SelectOptions) (TdbResponse, error) {
	req := map[string]any{
		"table":    table,
		"where":    opts.Where,
		"having":   opts.Having,
		"orderBy":  opts.OrderBy,
		"groupBy":  opts.GroupBy,
		"distinct": opts.Distinct,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
		"cacheId":  opts.CacheId,
	}
	if len(opts.Columns) > 0 {
		req["data"] = opts.Columns
	}
	return c.Query(ctx, "select", req)
}

// Upsert inserts data, a row or a list of rows, replacing rows with the
// same primary key.
func (c *TdbClient) Upsert(ctx context.Context, table string, data TdbRequestData) (TdbResponse, error) {
	return c.Query(ctx, "upsert", map[string]any{"table": table, "data": data})
}

// Update merges data into every row matching where.
func (c *TdbClient) Update(ctx context.Context, table string, where TdbRequestWhere, data TdbRequestData) (TdbResponse, error) {
	return c.Query(ctx, "upsert", map[string]any{"table": table, "where": where, "data": data})
}

func (c *TdbClient) Delete(ctx context.Context, table string, where TdbRequestWhere) (TdbResponse, error) {
	return c.Query(ctx, "delete", map[string]any{"table": table, "where": where})
}

func (c *TdbClient) Total(ctx context.Context, table string) (int, error) {
	res, err := c.Query(ctx, "total", map[string]any{"table": table})
	if err != nil {
		return 0, err
	}
	var rows []struct {
		Total int `json:"total"`
	}
	if err := res.Decode(&rows); err != nil || len(rows) == 0 {
		return 0, err
	}
	return rows[0].Total, nil
}

func (c *TdbClient) CreateTable(ctx context.Context, schema string) (TdbResponse, error) {
	return c.Query(ctx, "create table", map[string]any{"data": schema})
}

func (c *TdbClient) DropTable(ctx context.Context, table string) (TdbResponse, error) {
	return c.Query(ctx, "drop table", map[string]any{"table": table})
}

func (c *TdbClient) Describe(ctx context.Context, table string) (TdbResponse, error) {
	return c.Query(ctx, "describe", map[string]any{"table": table})
}

func (c *TdbClient) ShowTables(ctx context.Context) (TdbResponse, error) {
	return c.Query(ctx, "show tables", nil)
}

func (c *TdbClient) CreateUser(ctx context.Context, name, password, role string) (TdbResponse, error) {
	return c.Query(ctx, "createUser", map[string]any{"name": name, "password": password, "role": role})
}

func (c *TdbClient) DeleteUser(ctx context.Context, name string) (TdbResponse, error) {
	return c.Query(ctx, "deleteUser", map[string]any{"name": name})
}
