package conn

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/panjf2000/ants/v2"
	"github.com/tobsdb/tdb/internal/auth"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/metrics"
	"github.com/tobsdb/tdb/internal/query"
	"github.com/tobsdb/tdb/pkg"
)

type WsRequest struct {
	Action RequestAction `json:"action"`
	ReqId  int           `json:"__tdb_client_req_id__"` // used in tdb clients
}

var Upgrader = websocket.Upgrader{
	WriteBufferSize: 1024 * 10,
	ReadBufferSize:  1024 * 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type ConnRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`

	DB     string `json:"db"`
	Schema string `json:"schema"`

	CheckOnly bool `json:"checkOnly"`
}

func tryConnect(tdb *TobsDB, rctx context.Context, ctx *ConnCtx, buf []byte) error {
	var r ConnRequest
	if err := json.Unmarshal(buf, &r); err != nil {
		ctx.WriteResponse(NewErrorResponse(http.StatusBadRequest, err.Error()))
		return err
	}

	ctx.User = tdb.Users.Validate(r.Username, r.Password)
	if ctx.User == nil {
		return ctx.WriteResponse(NewErrorResponse(http.StatusUnauthorized, "Invalid auth"))
	}

	if r.CheckOnly {
		_, err := builder.ParseSchema(r.Schema)
		res := NewResponse(http.StatusOK, "Schema is valid", nil)
		if err != nil {
			res = NewErrorResponse(query.StatusOf(err), err.Error())
		}
		pkg.InfoLog("Schema checks completed:", res.Message)
		ctx.WriteResponse(res)
		ctx.shouldClose = true
		return nil
	}

	if r.DB != "" {
		db, res := resolveForUser(tdb, rctx, ctx.User, r.DB, r.Schema)
		if db == nil {
			ctx.WriteResponse(res)
			return nil
		}
		ctx.DB, ctx.DBName = db, r.DB
		pkg.InfoLog("Using database", r.DB)
	}

	ctx.SetAuthed()
	return ctx.WriteResponse(NewResponse(http.StatusOK, "connected", map[string]any{
		"db":   ctx.DBName,
		"user": ctx.User.Name,
		"role": ctx.User.Role.String(),
	}))
}

// resolveForUser opens db_name for u. Only users that can write may create
// a database or change its schema.
func resolveForUser(tdb *TobsDB, rctx context.Context, u *auth.TdbUser, db_name, schema string) (*builder.Database, Response) {
	if !u.HasClearance(auth.TdbUserRoleReadWrite) {
		if db := tdb.Database(db_name); db != nil {
			return db, Response{}
		}
		return nil, NewErrorResponse(http.StatusForbidden, auth.InsufficientPermissions.Error())
	}
	db, err := tdb.ResolveDatabase(rctx, db_name, schema)
	if err != nil {
		return nil, NewErrorResponse(query.StatusOf(err), err.Error())
	}
	return db, Response{}
}

// ServeWs upgrades the request and hands the connection to the pool.
func (tdb *TobsDB) ServeWs(w http.ResponseWriter, r *http.Request) {
	if tdb.pool.IsClosed() {
		ConnError(w, r, "server is shutting down")
		return
	}
	if tdb.pool.Free() == 0 {
		ConnError(w, r, "too many connections")
		return
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkg.ErrorLog("upgrading connection", err)
		return
	}

	err = tdb.pool.Submit(func() { tdb.HandleConnection(conn) })
	if err != nil {
		msg := "server unavailable"
		if err == ants.ErrPoolOverload {
			msg = "too many connections"
		}
		pkg.WarnLog("rejecting connection from", conn.RemoteAddr(), msg)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, msg))
		conn.Close()
	}
}

func (tdb *TobsDB) HandleConnection(conn *websocket.Conn) {
	metrics.OpenConnections.Inc()
	defer metrics.OpenConnections.Dec()

	rctx, cancel := context.WithCancel(tdb.ctx)
	defer cancel()
	go func() {
		<-rctx.Done()
		conn.Close()
	}()

	ctx := NewConnCtx(conn)
	defer pkg.InfoLog("Connection closed from", conn.RemoteAddr())
	for {
		buf, err := ctx.Read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !ctx.shouldClose {
				pkg.DebugLog("conn read error", err)
			}
			return
		}

		if !ctx.isAuthed {
			if ctx.attempts == maxConnAttempts {
				pkg.ErrorLog("max connection attempts reached")
				return
			}

			err = tryConnect(tdb, rctx, ctx, buf)
			ctx.attempts += 1
			if err != nil {
				pkg.ErrorLog("conn attempt error", err)
				return
			}
			continue
		}

		var req WsRequest
		if err := json.Unmarshal(buf, &req); err != nil {
			pkg.ErrorLog("parsing request", err)
			ctx.WriteResponse(NewErrorResponse(http.StatusBadRequest, err.Error()))
			continue
		}

		res := ActionHandler(rctx, tdb, req.Action, ctx, buf)
		res.ReqId = req.ReqId

		if err := ctx.WriteResponse(res); err != nil {
			pkg.ErrorLog("writing response", err)
			return
		}

		if !req.Action.IsReadOnly() && res.Status < http.StatusBadRequest {
			tdb.MarkChanged()
		}
	}
}

func ConnError(w http.ResponseWriter, r *http.Request, conn_error string) {
	pkg.InfoLog("connection error:", conn_error)
	headers := http.Header{}
	headers.Set("tdb-error", conn_error)
	conn, err := Upgrader.Upgrade(w, r, headers)
	if err != nil {
		pkg.ErrorLog(err)
		return
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseUnsupportedData, conn_error))
	conn.Close()
}
