package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/labstack/gommon/log"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syncstream.me/model"
	"syncstream.me/party"
	"syncstream.me/pkg/websocket"
	"time"
)

// HeartbeatInterval is how often a live connection refreshes the presence of
// its participant
const HeartbeatInterval = 60 * time.Second

var ErrClosed = errors.New("connection closed")

// Live is a websocket connection to one session. Feed events arrive on
// Events, requests are answered through the returned values.
type Live struct {
	conn net.Conn
	rw   io.ReadWriter
	// handshake leftovers, owned by readLoop and returned to the pool when it
	// stops
	br *bufio.Reader

	sync.Mutex
	nextID  uint64
	pending map[string]chan *reply

	events    chan *party.Event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type reply struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// frame is either a feed event or the response to a request
type frame struct {
	ID     string `json:"id"`
	Result *reply `json:"result"`
}

// lockedWriter lets control frame replies share the connection with requests
type lockedWriter struct {
	l *Live
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.l.Lock()
	defer w.l.Unlock()
	return w.l.conn.Write(p)
}

// Connect joins sessionID as user and starts receiving its events
func (c *Client) Connect(ctx context.Context, sessionID string, user model.Identity) (*Live, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{
		"session_id": {sessionID},
		"user_id":    {user.ID},
		"name":       {user.Name},
		"avatar":     {user.Avatar},
	}.Encode()

	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("connect to session %s: %v: %w", sessionID, err, model.ErrTransport)
	}

	l := newLive(conn, br)
	go l.readLoop()
	go l.heartbeat()
	return l, nil
}

func newLive(conn net.Conn, br *bufio.Reader) *Live {
	l := &Live{
		conn:    conn,
		br:      br,
		pending: make(map[string]chan *reply),
		events:  make(chan *party.Event, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	l.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{l}}
	return l
}

// Events delivers feed events, Done is closed when the connection ends. Slow
// consumers lose events, every session event carries a full snapshot.
func (l *Live) Events() <-chan *party.Event {
	return l.events
}

func (l *Live) Done() <-chan struct{} {
	return l.done
}

func (l *Live) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}

func (l *Live) UpdatePlayback(ctx context.Context, u model.PlaybackUpdate) (*model.PlaybackState, error) {
	var state model.PlaybackState
	err := l.call(ctx, websocket.MethodUpdatePlayback, echoMap{"isPlaying": u.IsPlaying, "seekTime": u.SeekTime}, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (l *Live) SendMessage(ctx context.Context, text string) (*model.Message, error) {
	var msg model.Message
	if err := l.call(ctx, websocket.MethodSendMessage, echoMap{"text": text}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (l *Live) SendEmoji(ctx context.Context, emoji string) (*model.EmojiReaction, error) {
	var reaction model.EmojiReaction
	if err := l.call(ctx, websocket.MethodSendEmoji, echoMap{"emoji": emoji}, &reaction); err != nil {
		return nil, err
	}
	return &reaction, nil
}

func (l *Live) ClaimHost(ctx context.Context, password string) (*string, error) {
	var res struct {
		NewHostID *string `json:"newHostId"`
	}
	err := l.call(ctx, websocket.MethodClaimHost, echoMap{"password": password}, &res)
	return res.NewHostID, err
}

func (l *Live) Heartbeat(ctx context.Context) error {
	return l.call(ctx, websocket.MethodHeartbeat, nil, nil)
}

// Sync reads the current playback state, the "sync to host" action
func (l *Live) Sync(ctx context.Context) (*model.PlaybackState, error) {
	var state *model.PlaybackState
	err := l.call(ctx, websocket.MethodSync, nil, &state)
	return state, err
}

func (l *Live) call(ctx context.Context, method string, params echoMap, out interface{}) error {
	ch := make(chan *reply, 1)

	l.Lock()
	l.nextID++
	ID := strconv.FormatUint(l.nextID, 10)
	l.pending[ID] = ch
	l.Unlock()

	defer func() {
		l.Lock()
		delete(l.pending, ID)
		l.Unlock()
	}()

	b, err := json.Marshal(&websocket.Request{ID: ID, Method: method, Params: params})
	if err != nil {
		return err
	}
	l.Lock()
	err = wsutil.WriteClientText(l.conn, b)
	l.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %v: %w", method, err, model.ErrTransport)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	case r := <-ch:
		if !r.Success {
			return fmt.Errorf("%w: %s", errorOf(r.Code), r.Error)
		}
		if out == nil || len(r.Data) == 0 {
			return nil
		}
		return json.Unmarshal(r.Data, out)
	}
}

func (l *Live) readLoop() {
	defer func() {
		_ = l.Close()
		if l.br != nil {
			ws.PutReader(l.br)
			l.br = nil
		}
		close(l.stopped)
	}()

	for {
		b, err := wsutil.ReadServerText(l.rw)
		if err != nil {
			select {
			case <-l.done:
			default:
				log.Debug(err)
			}
			return
		}

		var f frame
		if err = json.Unmarshal(b, &f); err != nil {
			log.Warn(err)
			continue
		}
		if f.Result != nil {
			l.Lock()
			ch, ok := l.pending[f.ID]
			l.Unlock()
			if ok {
				ch <- f.Result
			}
			continue
		}

		var e party.Event
		if err = json.Unmarshal(b, &e); err != nil {
			log.Warn(err)
			continue
		}
		select {
		case l.events <- &e:
		default:
			log.Debugf("dropped %s event of session %s", e.Type, e.SessionID)
		}
		if e.Type == party.EventDeleted {
			return
		}
	}
}

func (l *Live) heartbeat() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.Heartbeat(ctx); err != nil {
				log.Warn(err)
			}
			cancel()
		}
	}
}
