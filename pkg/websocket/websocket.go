package websocket

import (
	"encoding/json"
	"fmt"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"math"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	MethodUpdatePlayback = "update_playback"
	MethodSendMessage    = "send_message"
	MethodSendEmoji      = "send_emoji"
	MethodClaimHost      = "claim_host"
	MethodHeartbeat      = "heartbeat"
	MethodSync           = "sync"
)

// WriteTimeout bounds every write, a peer that stops reading gets closed
const WriteTimeout = 10 * time.Second

type (
	// Request is sent by clients, every request gets exactly one Response
	Request struct {
		ID     string                 `json:"id"`
		Method string                 `json:"method"`
		Params map[string]interface{} `json:"params"`
	}

	Result struct {
		Success bool        `json:"success"`
		Code    int         `json:"code"`
		Error   string      `json:"error,omitempty"`
		Data    interface{} `json:"data,omitempty"`
	}

	Response struct {
		ID     string `json:"id"`
		Result Result `json:"result"`
	}

	// Conn serializes writes of concurrent senders to one connection
	Conn struct {
		conn         net.Conn
		writeTimeout time.Duration
		sync.Mutex
	}
)

func (r *Request) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("invalid request id")
	}

	switch r.Method {
	case MethodUpdatePlayback:
		if _, ok := r.Params["isPlaying"].(bool); !ok {
			return fmt.Errorf("invalid '%s' request, param 'isPlaying' is required and must be bool", r.Method)
		}
		seek, ok := r.Params["seekTime"].(float64)
		if !ok || math.IsNaN(seek) || math.IsInf(seek, 0) || seek < 0 {
			return fmt.Errorf("invalid '%s' request, param 'seekTime' is required and must be a non negative number", r.Method)
		}
	case MethodSendMessage:
		text, ok := r.Params["text"].(string)
		if !ok || strings.TrimSpace(text) == "" {
			return fmt.Errorf("invalid '%s' request, param 'text' is required and must be string", r.Method)
		}
	case MethodSendEmoji:
		emoji, ok := r.Params["emoji"].(string)
		if !ok || emoji == "" {
			return fmt.Errorf("invalid '%s' request, param 'emoji' is required and must be string", r.Method)
		}
	case MethodClaimHost:
		if password, exists := r.Params["password"]; exists && password != nil {
			if _, ok := password.(string); !ok {
				return fmt.Errorf("invalid '%s' request, param 'password' must be string", r.Method)
			}
		}
	case MethodHeartbeat, MethodSync:
	default:
		return fmt.Errorf("invalid request method: '%s'", r.Method)
	}

	return nil
}

// String returns a string param or an empty string
func (r *Request) String(name string) string {
	s, _ := r.Params[name].(string)
	return s
}

func (r *Request) Float(name string) float64 {
	f, _ := r.Params[name].(float64)
	return f
}

func (r *Request) Bool(name string) bool {
	b, _ := r.Params[name].(bool)
	return b
}

// NewResponse builds the response to request ID, codes follow http status codes
func NewResponse(ID string, code int, data interface{}, err error) *Response {
	res := &Response{
		ID: ID,
		Result: Result{
			Success: code == 200,
			Code:    code,
			Data:    data,
		},
	}
	if err != nil {
		res.Result.Error = err.Error()
	}
	return res
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, writeTimeout: WriteTimeout}
}

// ReadText blocks until the next text frame, control frames are handled
func (c *Conn) ReadText() ([]byte, error) {
	return wsutil.ReadClientText(c.conn)
}

func (c *Conn) WriteJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(ws.OpText, b)
}

func (c *Conn) Ping() error {
	return c.write(ws.OpPing, []byte("ping"))
}

// write sends one frame, the connection is closed when it fails
func (c *Conn) write(op ws.OpCode, p []byte) error {
	c.Lock()
	defer c.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		_ = c.conn.Close()
		return err
	}
	if err := wsutil.WriteServerMessage(c.conn, op, p); err != nil {
		_ = c.conn.Close()
		return err
	}
	return nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
