package conn_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/tobsdb/tdb/internal/auth"
	. "github.com/tobsdb/tdb/internal/conn"
	"github.com/tobsdb/tdb/pkg"
	"gotest.tools/assert"
)

func TestCreateUser(t *testing.T) {
	tdb := newTestServer(t)
	res := CreateUserReqHandler(tdb, []byte(`{
        "name": "test",
        "password": "test",
        "role": "readWrite"
        }`))
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)
	assert.Equal(t, tdb.Users.Get("test").Role, auth.TdbUserRoleReadWrite)

	res = CreateUserReqHandler(tdb, []byte(`{"name": "test", "password": "x", "role": 2}`))
	assert.Equal(t, res.Status, http.StatusConflict, res.Message)

	res = CreateUserReqHandler(tdb, []byte(`{"name": "other", "password": "x", "role": "owner"}`))
	assert.Equal(t, res.Status, http.StatusBadRequest, res.Message)
}

func TestDeleteUser(t *testing.T) {
	tdb := newTestServer(t)
	ctx := &ConnCtx{User: tdb.Users.Get("root")}
	_, err := tdb.Users.Add("test", "test", auth.TdbUserRoleReadOnly)
	assert.NilError(t, err)

	res := ActionHandler(context.Background(), tdb, RequestActionDeleteUser, ctx, []byte(`{"name": "root"}`))
	assert.Equal(t, res.Status, http.StatusBadRequest, res.Message)

	res = ActionHandler(context.Background(), tdb, RequestActionDeleteUser, ctx, []byte(`{"name": "test"}`))
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	assert.Assert(t, tdb.Users.Get("test") == nil)

	res = ActionHandler(context.Background(), tdb, RequestActionDeleteUser, ctx, []byte(`{"name": "test"}`))
	assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
}

func TestUpdateUserRole(t *testing.T) {
	tdb := newTestServer(t)
	ctx := &ConnCtx{User: tdb.Users.Get("root")}
	_, err := tdb.Users.Add("test", "test", auth.TdbUserRoleReadOnly)
	assert.NilError(t, err)

	res := ActionHandler(context.Background(), tdb, RequestActionUpdateUserRole, ctx,
		[]byte(`{"name": "test", "role": "admin"}`))
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	assert.Equal(t, tdb.Users.Get("test").Role, auth.TdbUserRoleAdmin)
}

func TestDatabases(t *testing.T) {
	tdb := newTestServer(t)
	ctx := newTestConn(t, tdb)

	res := ActionHandler(context.Background(), tdb, RequestActionListDB, ctx, nil)
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	assert.DeepEqual(t, res.Data, []string{"test"})

	res = ActionHandler(context.Background(), tdb, RequestActionDropDB, ctx, []byte(`{"db": "test"}`))
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	assert.Assert(t, ctx.DB == nil)
	assert.Assert(t, tdb.Database("test") == nil)

	res = ActionHandler(context.Background(), tdb, RequestActionDropDB, ctx, []byte(`{"db": "test"}`))
	assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	bg := context.Background()
	settings := Settings{Adapter: AdapterMemory, DataPath: dir}

	tdb, err := NewTobsDB(AuthSettings{Username: "root", Password: "root"}, settings)
	assert.NilError(t, err)
	ctx := &ConnCtx{User: tdb.Users.Get("root")}
	res := UseDBReqHandler(bg, tdb, ctx, reqEncode(map[string]any{"db": "test", "schema": test_schema}))
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	populate(t, tdb, ctx, 4)
	tdb.Close(bg)

	tdb, err = NewTobsDB(AuthSettings{Username: "root", Password: "root"}, settings)
	assert.NilError(t, err)
	defer tdb.Close(bg)
	db := tdb.Database("test")
	assert.Assert(t, db != nil)

	ctx = &ConnCtx{User: tdb.Users.Get("root"), DB: db, DBName: "test"}
	res = ActionHandler(bg, tdb, RequestActionTotal, ctx, reqEncode(map[string]any{"table": "a"}))
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	assert.Equal(t, rowsOf(t, res)[0]["total"], 4)

	// the unique index was rebuilt from the restored rows
	res = ActionHandler(bg, tdb, RequestActionUpsert, ctx,
		reqEncode(map[string]any{"table": "a", "data": map[string]any{"b": 2}}))
	assert.Equal(t, res.Status, http.StatusConflict, res.Message)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, req map[string]any) map[string]any {
	assert.NilError(t, ws.WriteJSON(req))
	_, data, err := ws.ReadMessage()
	assert.NilError(t, err)
	res := map[string]any{}
	assert.NilError(t, json.Unmarshal(data, &res))
	return res
}

func TestWebsocket(t *testing.T) {
	tdb := newTestServer(t)
	srv := httptest.NewServer(tdb.Handler())
	defer srv.Close()

	t.Run("health", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/health")
		assert.NilError(t, err)
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		assert.Equal(t, string(body), "ok")
	})

	t.Run("metrics", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/metrics")
		assert.NilError(t, err)
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		assert.Assert(t, strings.Contains(string(body), "tdb_open_connections"))
	})

	t.Run("bad auth", func(t *testing.T) {
		ws := dial(t, srv)
		res := send(t, ws, map[string]any{"username": "root", "password": "nope"})
		assert.Equal(t, pkg.NumToInt(res["status"]), http.StatusUnauthorized)
	})

	t.Run("queries", func(t *testing.T) {
		ws := dial(t, srv)
		res := send(t, ws, map[string]any{
			"username": "root", "password": "root", "db": "ws", "schema": test_schema,
		})
		assert.Equal(t, pkg.NumToInt(res["status"]), http.StatusOK, res["message"])

		res = send(t, ws, map[string]any{
			"action": "upsert", "table": "a", "data": []any{map[string]any{"b": 1}, map[string]any{"b": 2}},
			"__tdb_client_req_id__": 7,
		})
		assert.Equal(t, pkg.NumToInt(res["status"]), http.StatusCreated, res["message"])
		assert.Equal(t, pkg.NumToInt(res["__tdb_client_req_id__"]), 7)

		res = send(t, ws, map[string]any{
			"action": "select", "table": "a", "where": []any{"b", "=", 2}, "__tdb_client_req_id__": 8,
		})
		assert.Equal(t, pkg.NumToInt(res["status"]), http.StatusOK, res["message"])
		assert.Equal(t, pkg.NumToInt(res["__tdb_client_req_id__"]), 8)
		rows := res["data"].([]any)
		assert.Equal(t, len(rows), 1)
		assert.Equal(t, pkg.NumToInt(rows[0].(map[string]any)["id"]), 2)
	})

	t.Run("check only", func(t *testing.T) {
		ws := dial(t, srv)
		res := send(t, ws, map[string]any{
			"username": "root", "password": "root", "schema": "$TABLE x {\n    y Foo\n}", "checkOnly": true,
		})
		assert.Equal(t, pkg.NumToInt(res["status"]), http.StatusBadRequest, res["message"])
	})
}
