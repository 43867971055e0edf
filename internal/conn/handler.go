package conn

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/auth"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/query"
)

type Response struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	// don't manually set this. it comes from the client
	ReqId int `json:"__tdb_client_req_id__"`
}

func NewErrorResponse(status int, err string) Response {
	return Response{Message: err, Status: status}
}

func NewResponse(status int, message string, data any) Response {
	return Response{Data: data, Message: message, Status: status}
}

func badRequest(err error) Response {
	return NewErrorResponse(http.StatusBadRequest, err.Error())
}

type QueryRequest struct {
	Table string `json:"table"`
	// rows to upsert, tables to create, or the select projection
	Data       any         `json:"data"`
	Where      any         `json:"where"`
	Having     any         `json:"having"`
	OrderBy    any         `json:"orderBy"`
	GroupBy    any         `json:"groupBy"`
	Distinct   bool        `json:"distinct"`
	Join       *query.Join `json:"join"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	UpsertPath string      `json:"upsertPath"`
	CacheId    string      `json:"cacheId"`
}

func (r QueryRequest) Query(action query.Action) *query.Query {
	return &query.Query{
		Table:      r.Table,
		Action:     action,
		ActionArgs: r.Data,
		Where:      r.Where,
		Having:     r.Having,
		OrderBy:    r.OrderBy,
		GroupBy:    r.GroupBy,
		Distinct:   r.Distinct,
		Join:       r.Join,
		Limit:      r.Limit,
		Offset:     r.Offset,
		UpsertPath: r.UpsertPath,
		CacheID:    r.CacheId,
	}
}

// QueryReqHandler runs one query against db. The rows it produced are sent
// back even when it fails part way, as a batch upsert can.
func QueryReqHandler(rctx context.Context, db *builder.Database, action query.Action, raw []byte) Response {
	var req QueryRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return badRequest(err)
		}
	}

	q := req.Query(action)
	rows := []builder.Row{}
	err := query.Run(rctx, db, q, func(row builder.Row, _ int) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return NewResponse(query.StatusOf(err), err.Error(), rows)
	}

	status := http.StatusOK
	if action == query.ActionUpsert || action == query.ActionCreateTable {
		status = http.StatusCreated
	}
	message := fmt.Sprintf("%s returned %d rows", action, len(rows))
	if req.Table != "" {
		message = fmt.Sprintf("%s on table %s returned %d rows", action, req.Table, len(rows))
	}
	return NewResponse(status, message, rows)
}

type UseDBRequest struct {
	DB     string `json:"db"`
	Schema string `json:"schema"`
}

func UseDBReqHandler(rctx context.Context, tdb *TobsDB, ctx *ConnCtx, raw []byte) Response {
	var req UseDBRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	if req.DB == "" {
		return NewErrorResponse(http.StatusBadRequest, "Database name cannot be empty")
	}
	db, res := resolveForUser(tdb, rctx, ctx.User, req.DB, req.Schema)
	if db == nil {
		return res
	}
	ctx.DB, ctx.DBName = db, req.DB
	return NewResponse(http.StatusOK, fmt.Sprintf("Using database %s", req.DB), nil)
}

type DropDBRequest struct {
	DB string `json:"db"`
}

func DropDBReqHandler(rctx context.Context, tdb *TobsDB, ctx *ConnCtx, raw []byte) Response {
	var req DropDBRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	if err := tdb.DropDatabase(rctx, req.DB); err != nil {
		if tdb.Database(req.DB) == nil {
			return NewErrorResponse(http.StatusNotFound, err.Error())
		}
		return NewErrorResponse(query.StatusOf(err), err.Error())
	}
	if ctx.DBName == req.DB {
		ctx.DB, ctx.DBName = nil, ""
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Dropped database %s", req.DB), nil)
}

func ListDBReqHandler(tdb *TobsDB) Response {
	names := tdb.DatabaseNames()
	return NewResponse(http.StatusOK, fmt.Sprintf("Found %d databases", len(names)), names)
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     any    `json:"role"`
}

func CreateUserReqHandler(tdb *TobsDB, raw []byte) Response {
	var req CreateUserRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		return badRequest(err)
	}
	u, err := tdb.Users.Add(req.Name, req.Password, role)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			return NewErrorResponse(http.StatusConflict, err.Error())
		}
		return badRequest(err)
	}
	return NewResponse(http.StatusCreated, fmt.Sprintf("Created user %s", u.Name),
		map[string]any{"id": u.Id, "name": u.Name, "role": u.Role.String()})
}

type DeleteUserRequest struct {
	Name string `json:"name"`
}

func DeleteUserReqHandler(tdb *TobsDB, ctx *ConnCtx, raw []byte) Response {
	var req DeleteUserRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	if ctx.User != nil && ctx.User.Name == req.Name {
		return NewErrorResponse(http.StatusBadRequest, "Cannot delete the current user")
	}
	if err := tdb.Users.Delete(req.Name); err != nil {
		return NewErrorResponse(http.StatusNotFound, err.Error())
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Deleted user %s", req.Name), nil)
}

type UpdateUserRoleRequest struct {
	Name string `json:"name"`
	Role any    `json:"role"`
}

func UpdateUserRoleReqHandler(tdb *TobsDB, raw []byte) Response {
	var req UpdateUserRoleRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		return badRequest(err)
	}
	if err := tdb.Users.SetRole(req.Name, role); err != nil {
		return NewErrorResponse(http.StatusNotFound, err.Error())
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Updated role of user %s to %s", req.Name, role), nil)
}
