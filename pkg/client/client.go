// Golang client for Tobsdb.
//
// Usage:
//
// generate model types from schema
//
//	```sh
//	tdb-generate -lang golang -path ./schema.tdb -out ./tdb/schema/types.go
//	```
//
// create a new Tobsdb client and connect
//
//	```go
//	tdb, err := client.NewTdbClient("ws://localhost:7085", "example", client.TdbClientOptions{})
//	err = tdb.Connect(ctx)
//	```
//
// make requests and decode the rows into the generated types
//
//	```go
//	res, err := tdb.Upsert(ctx, "example", schema.Example{Field: "value"})
//	var rows []schema.Example
//	err = res.Decode(&rows)
//	```
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"github.com/goccy/go-json"
	ws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/pkg"
)

type (
	TdbClientOptions struct {
		Username string
		Password string
		// Schema is sent on connect. SchemaPath is read when Schema is
		// empty.
		Schema     string
		SchemaPath string
	}

	// Tobsdb client
	//
	// Unless you know what you're doing, you probably want to use
	// the `NewTdbClient` function instead.
	TdbClient struct {
		locker sync.Mutex
		// The websocket connection used by the client
		conn *ws.Conn
		// The url of the Tobsdb server
		Url     *url.URL
		DB      string
		options TdbClientOptions
		req_id  int
	}
)

func (options *TdbClientOptions) readSchema() (string, error) {
	if options.Schema != "" || options.SchemaPath == "" {
		return options.Schema, nil
	}

	if !path.IsAbs(options.SchemaPath) {
		cwd, _ := os.Getwd()
		options.SchemaPath = path.Join(cwd, options.SchemaPath)
	}

	schema, err := os.ReadFile(options.SchemaPath)
	return string(schema), err
}

func NewTdbClient(urlStr string, dbName string, options TdbClientOptions) (*TdbClient, error) {
	Url, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}
	if _, err := options.readSchema(); err != nil {
		return nil, errors.Wrap(err, "reading schema")
	}
	return &TdbClient{Url: Url, DB: dbName, options: options}, nil
}

type TdbResponse struct {
	Status    int             `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestId int             `json:"__tdb_client_req_id__"`
}

func (r TdbResponse) Ok() bool { return r.Status >= 200 && r.Status < 300 }

// Decode unmarshals the response data into v.
func (r TdbResponse) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

func (r TdbResponse) Rows() ([]map[string]any, error) {
	rows := []map[string]any{}
	err := r.Decode(&rows)
	return rows, err
}

// TdbError is returned for responses with an error status.
type TdbError struct {
	Status  int
	Message string
}

func (e *TdbError) Error() string { return fmt.Sprintf("TDB Error %d: %s", e.Status, e.Message) }

func (c *TdbClient) Connect(ctx context.Context) error {
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, res, err := ws.DefaultDialer.DialContext(ctx, c.Url.String(), nil)
	if err != nil {
		if res != nil && res.Header.Get("tdb-error") != "" {
			return fmt.Errorf("TDB Error: %s", res.Header.Get("tdb-error"))
		}
		return err
	}

	schema, _ := c.options.readSchema()
	err = conn.WriteJSON(map[string]any{
		"username": c.options.Username,
		"password": c.options.Password,
		"db":       c.DB,
		"schema":   schema,
	})
	if err != nil {
		conn.Close()
		return err
	}

	var auth_res TdbResponse
	if err := readResponse(conn, &auth_res); err != nil {
		conn.Close()
		return err
	}
	if auth_res.Status != http.StatusOK {
		conn.Close()
		return &TdbError{auth_res.Status, auth_res.Message}
	}

	pkg.DebugLog("Connected to TDB Server", c.Url.Host)
	c.conn = conn
	return nil
}

func readResponse(conn *ws.Conn, res *TdbResponse) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, res)
}

func (c *TdbClient) Disconnect() error {
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.conn == nil {
		return nil
	}
	defer func() { c.conn = nil }()

	err := c.conn.WriteMessage(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, "Disconnect"))
	if err != nil {
		pkg.ErrorLog(err)
		c.conn.Close()
		return err
	}
	if err := c.conn.Close(); err != nil {
		pkg.ErrorLog(err)
		return err
	}

	pkg.DebugLog("Disconnected from TDB Server")
	return nil
}

// Query sends one request and waits for its response. Requests on a client
// are answered in order, one at a time.
func (c *TdbClient) Query(ctx context.Context, action string, req map[string]any) (TdbResponse, error) {
	if err := c.Connect(ctx); err != nil {
		return TdbResponse{}, err
	}

	c.locker.Lock()
	defer c.locker.Unlock()
	if c.conn == nil {
		return TdbResponse{}, fmt.Errorf("Not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	c.req_id++
	body := map[string]any{}
	for k, v := range req {
		body[k] = v
	}
	body["action"] = action
	body["__tdb_client_req_id__"] = c.req_id

	if err := c.conn.WriteJSON(body); err != nil {
		return TdbResponse{}, err
	}

	var res TdbResponse
	if err := readResponse(c.conn, &res); err != nil {
		return res, err
	}
	if res.RequestId != c.req_id {
		return res, errors.Errorf("response for request %d, expected %d", res.RequestId, c.req_id)
	}
	if !res.Ok() {
		return res, &TdbError{res.Status, res.Message}
	}
	return res, nil
}
