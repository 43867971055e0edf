package conn

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/tobsdb/tdb/internal/auth"
	"github.com/tobsdb/tdb/internal/builder"
)

type ConnCtx struct {
	conn        *websocket.Conn
	attempts    int
	isAuthed    bool
	shouldClose bool

	User   *auth.TdbUser
	DB     *builder.Database
	DBName string
}

const (
	maxConnAttempts  = 3
	authDeadline     = 30 * time.Second
	shouldCloseError = "connection closed by server"
)

// New connections have a 30 second deadline.
// If the deadline is reached, and the connection is not authenticated, the connection is closed.
func NewConnCtx(c *websocket.Conn) *ConnCtx {
	c.SetReadDeadline(time.Now().Add(authDeadline))
	return &ConnCtx{conn: c}
}

// SetAuthed marks the connection as authenticated and removes the deadline.
func (ctx *ConnCtx) SetAuthed() {
	ctx.isAuthed = true
	if ctx.conn != nil {
		ctx.conn.SetReadDeadline(time.Time{})
	}
}

func (ctx *ConnCtx) IsAuthed() bool { return ctx.isAuthed }

func (ctx *ConnCtx) Read() ([]byte, error) {
	if ctx.shouldClose {
		return nil, errors.New(shouldCloseError)
	}
	_, buf, err := ctx.conn.ReadMessage()
	return buf, err
}

func (ctx *ConnCtx) Write(buf []byte) error {
	if ctx.shouldClose {
		return errors.New(shouldCloseError)
	}
	return ctx.conn.WriteMessage(websocket.TextMessage, buf)
}

func (ctx *ConnCtx) WriteString(buf string) error { return ctx.Write([]byte(buf)) }

func (ctx *ConnCtx) WriteResponse(r Response) error {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(NewErrorResponse(http.StatusInternalServerError, err.Error()))
	}
	return ctx.Write(data)
}
