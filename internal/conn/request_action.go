package conn

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tobsdb/tdb/internal/auth"
	"github.com/tobsdb/tdb/internal/query"
)

type RequestAction string

const (
	// query actions
	RequestActionSelect         = RequestAction(query.ActionSelect)
	RequestActionUpsert         = RequestAction(query.ActionUpsert)
	RequestActionDelete         = RequestAction(query.ActionDelete)
	RequestActionCreateTable    = RequestAction(query.ActionCreateTable)
	RequestActionDropTable      = RequestAction(query.ActionDropTable)
	RequestActionRebuildIndexes = RequestAction(query.ActionRebuildIndexes)
	RequestActionDescribe       = RequestAction(query.ActionDescribe)
	RequestActionShowTables     = RequestAction(query.ActionShowTables)
	RequestActionTotal          = RequestAction(query.ActionTotal)

	// database actions
	RequestActionUseDB  RequestAction = "useDatabase"
	RequestActionDropDB RequestAction = "dropDatabase"
	RequestActionListDB RequestAction = "listDatabases"

	// user actions
	RequestActionCreateUser     RequestAction = "createUser"
	RequestActionDeleteUser     RequestAction = "deleteUser"
	RequestActionUpdateUserRole RequestAction = "updateUserRole"
)

func (action RequestAction) IsReadOnly() bool {
	switch action {
	case RequestActionSelect, RequestActionDescribe, RequestActionShowTables, RequestActionTotal,
		RequestActionUseDB, RequestActionListDB:
		return true
	}
	return false
}

func (action RequestAction) IsQuery() bool {
	switch action {
	case RequestActionSelect, RequestActionUpsert, RequestActionDelete, RequestActionCreateTable,
		RequestActionDropTable, RequestActionRebuildIndexes, RequestActionDescribe,
		RequestActionShowTables, RequestActionTotal:
		return true
	}
	return false
}

// Clearance is the least privileged role allowed to run action.
func (action RequestAction) Clearance() auth.TdbUserRole {
	switch action {
	case RequestActionDropTable, RequestActionRebuildIndexes, RequestActionDropDB, RequestActionListDB,
		RequestActionCreateUser, RequestActionDeleteUser, RequestActionUpdateUserRole:
		return auth.TdbUserRoleAdmin
	case RequestActionUpsert, RequestActionDelete, RequestActionCreateTable:
		return auth.TdbUserRoleReadWrite
	}
	return auth.TdbUserRoleReadOnly
}

func ActionHandler(rctx context.Context, tdb *TobsDB, action RequestAction, ctx *ConnCtx, raw []byte) Response {
	if !ctx.User.HasClearance(action.Clearance()) {
		return NewErrorResponse(http.StatusForbidden, auth.InsufficientPermissions.Error())
	}

	if action.IsQuery() {
		if ctx.DB == nil {
			return NewErrorResponse(http.StatusBadRequest, "no database selected")
		}
		return QueryReqHandler(rctx, ctx.DB, query.Action(action), raw)
	}

	switch action {
	case RequestActionUseDB:
		return UseDBReqHandler(rctx, tdb, ctx, raw)
	case RequestActionDropDB:
		return DropDBReqHandler(rctx, tdb, ctx, raw)
	case RequestActionListDB:
		return ListDBReqHandler(tdb)
	case RequestActionCreateUser:
		return CreateUserReqHandler(tdb, raw)
	case RequestActionDeleteUser:
		return DeleteUserReqHandler(tdb, ctx, raw)
	case RequestActionUpdateUserRole:
		return UpdateUserRoleReqHandler(tdb, raw)
	default:
		return NewErrorResponse(http.StatusBadRequest, fmt.Sprintf("unknown action: %s", action))
	}
}
