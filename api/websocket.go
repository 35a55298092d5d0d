package api

import (
	"context"
	"encoding/json"
	"github.com/gobwas/ws"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"net/http"
	"sync"
	"syncstream.me/model"
	"syncstream.me/party"
	"syncstream.me/pkg/websocket"
	"time"
)

const (
	pingInterval   = 30 * time.Second
	requestTimeout = 10 * time.Second
)

// Endpoint to establish websocket connection
func (api *API) websocket(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	user := model.Identity{
		ID:     c.QueryParam("user_id"),
		Name:   c.QueryParam("name"),
		Avatar: c.QueryParam("avatar"),
	}
	if !user.Valid() {
		return respondError(c, http.StatusUnprocessableEntity, "user_id and name are required")
	}

	if _, err := api.service.GetSession(c.Request().Context(), sessionID); err != nil {
		return fail(c, err)
	}

	raw, _, _, err := ws.UpgradeHTTP(c.Request(), c.Response())
	if err != nil {
		log.Warn(err)
		return nil
	}

	api.serveUser(websocket.NewConn(raw), sessionID, user)
	return nil
}

// pusher writes feed events to one connection and drops session snapshots
// older than the last one written
type pusher struct {
	write func(v interface{}) error

	sync.Mutex
	last time.Time
}

func (p *pusher) push(e *party.Event) error {
	p.Lock()
	defer p.Unlock()
	if e.Type == party.EventSession && e.Session != nil {
		if e.Session.UpdatedAt.Before(p.last) {
			return nil
		}
		p.last = e.Session.UpdatedAt
	}
	return p.write(e)
}

// connect counts a connection of userID to sessionID
func (api *API) connect(sessionID, userID string) {
	api.connsMu.Lock()
	api.conns[sessionID+"/"+userID]++
	api.connsMu.Unlock()
}

// disconnect returns the number of connections of userID left in sessionID
func (api *API) disconnect(sessionID, userID string) int {
	api.connsMu.Lock()
	defer api.connsMu.Unlock()
	key := sessionID + "/" + userID
	api.conns[key]--
	left := api.conns[key]
	if left <= 0 {
		delete(api.conns, key)
	}
	return left
}

// Connections returns the number of open websocket connections of userID
// in sessionID
func (api *API) Connections(sessionID, userID string) int {
	api.connsMu.Lock()
	defer api.connsMu.Unlock()
	return api.conns[sessionID+"/"+userID]
}

// Serves user websocket connection
func (api *API) serveUser(conn *websocket.Conn, sessionID string, user model.Identity) {
	done := make(chan struct{})
	p := &pusher{write: conn.WriteJSON}
	api.connect(sessionID, user.ID)

	unsubscribe := api.feed.Subscribe(sessionID, func(e *party.Event) {
		if err := p.push(e); err != nil {
			log.Debugf("push to %s: %v", user.ID, err)
		}
		if e.Type == party.EventDeleted {
			_ = conn.Close()
		}
	})

	onConnect := func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					log.Warn(err)
				}
			}
		}
	}

	onDisconnect := func() {
		close(done)
		unsubscribe()
		_ = conn.Close()

		// the participant stays while another connection of the user is open
		if left := api.disconnect(sessionID, user.ID); left > 0 {
			log.Infoj(log.JSON{"event": "user_disconnected", "session_id": sessionID, "user_id": user.ID, "connections": left})
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := api.service.Leave(ctx, sessionID, user.ID); err != nil {
			log.Warn(err)
		}
		log.Infoj(log.JSON{"event": "user_disconnected", "session_id": sessionID, "user_id": user.ID})
	}

	go onConnect()
	defer onDisconnect()

	// subscribed already, so the snapshot is at least as fresh as any missed
	// event, the pusher drops it if a newer one went out first
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	session, err := api.service.GetSession(ctx, sessionID)
	if err == nil {
		err = p.push(&party.Event{Type: party.EventSession, SessionID: sessionID, Session: session})
	}
	if err == nil {
		_, err = api.service.Join(ctx, sessionID, user)
	}
	cancel()
	if err != nil {
		log.Warn(err)
		return
	}
	log.Infoj(log.JSON{"event": "user_connected", "session_id": sessionID, "user_id": user.ID})

	for {
		b, err := conn.ReadText()
		if err != nil {
			break
		}

		var req websocket.Request
		if err = json.Unmarshal(b, &req); err != nil {
			api.sendResponse(conn, websocket.NewResponse("", http.StatusUnprocessableEntity, nil, err))
			continue
		}

		if err = req.Validate(); err != nil {
			log.Debug(err)
			api.sendResponse(conn, websocket.NewResponse(req.ID, http.StatusUnprocessableEntity, nil, err))
			continue
		}

		data, err := api.handleRequest(sessionID, user, &req)
		if err != nil {
			api.sendResponse(conn, websocket.NewResponse(req.ID, statusOf(err), nil, errorMessage(err)))
			continue
		}
		api.sendResponse(conn, websocket.NewResponse(req.ID, http.StatusOK, data, nil))
	}
}

func (api *API) handleRequest(sessionID string, user model.Identity, req *websocket.Request) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch req.Method {
	case websocket.MethodUpdatePlayback:
		return api.service.UpdatePlaybackState(ctx, sessionID, user.ID, model.PlaybackUpdate{
			IsPlaying: req.Bool("isPlaying"),
			SeekTime:  req.Float("seekTime"),
		})
	case websocket.MethodSendMessage:
		return api.service.SendMessage(ctx, sessionID, user, req.String("text"))
	case websocket.MethodSendEmoji:
		return api.service.SendEmoji(ctx, sessionID, user, req.String("emoji"))
	case websocket.MethodClaimHost:
		host, err := api.service.ClaimHost(ctx, sessionID, user.ID, req.String("password"))
		if err != nil {
			return nil, err
		}
		return echo.Map{"newHostId": host}, nil
	case websocket.MethodHeartbeat:
		return nil, api.service.Heartbeat(ctx, sessionID, user.ID)
	case websocket.MethodSync:
		return api.service.SyncState(ctx, sessionID)
	}
	return nil, nil
}

func (api *API) sendResponse(conn *websocket.Conn, res *websocket.Response) {
	if err := conn.WriteJSON(res); err != nil {
		log.Error(err)
	}
}

type messageError string

func (e messageError) Error() string {
	return string(e)
}

// errorMessage hides internal details of err from the client
func errorMessage(err error) error {
	if statusOf(err) >= http.StatusInternalServerError {
		log.Error(err)
	}
	return messageError(messageOf(err))
}
