package api

import (
	"context"
	"encoding/json"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"syncstream.me/model"
	"syncstream.me/party"
	"testing"
	"time"
)

type frame struct {
	// events
	Type    party.EventType `json:"type"`
	Session *struct {
		HostID *string `json:"hostId"`
	} `json:"session"`
	Participants []json.RawMessage `json:"participants"`
	// responses
	ID     string `json:"id"`
	Result *struct {
		Success bool            `json:"success"`
		Code    int             `json:"code"`
		Error   string          `json:"error"`
		Data    json.RawMessage `json:"data"`
	} `json:"result"`
}

type wsClient struct {
	conn net.Conn
	rw   io.ReadWriter
}

func dial(t *testing.T, server *httptest.Server, sessionID, userID string) *wsClient {
	q := url.Values{"session_id": {sessionID}, "user_id": {userID}, "name": {"Swift Cat"}}
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + q.Encode()

	conn, br, _, err := ws.Dial(context.Background(), u)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{conn: conn, rw: conn}
	if br != nil {
		c.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}
	return c
}

func (c *wsClient) send(t *testing.T, raw string) {
	require.NoError(t, wsutil.WriteClientText(c.conn, []byte(raw)))
}

// next reads frames until match accepts one
func (c *wsClient) next(t *testing.T, match func(*frame) bool) *frame {
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		b, err := wsutil.ReadServerText(c.rw)
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(b, &f))
		if match(&f) {
			return &f
		}
	}
}

func response(ID string) func(*frame) bool {
	return func(f *frame) bool {
		return f.Result != nil && f.ID == ID
	}
}

func TestWebsocketSession(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	server := httptest.NewServer(api)
	defer server.Close()
	ID := createSession(t, api, "abc123")

	c := dial(t, server, ID, "u1")
	first := c.next(t, func(*frame) bool { return true })
	assert.Equal(t, party.EventSession, first.Type)
	require.NotNil(t, first.Session)
	assert.Nil(t, first.Session.HostID)

	joined := c.next(t, func(f *frame) bool { return f.Type == party.EventParticipants })
	assert.Len(t, joined.Participants, 1)

	c.send(t, `{"id":"1","method":"claim_host","params":{"password":"wrong"}}`)
	res := c.next(t, response("1"))
	assert.False(t, res.Result.Success)
	assert.Equal(t, http.StatusForbidden, res.Result.Code)

	c.send(t, `{"id":"2","method":"claim_host","params":{"password":"abc123"}}`)
	res = c.next(t, response("2"))
	require.True(t, res.Result.Success)
	assert.JSONEq(t, `{"newHostId":"u1"}`, string(res.Result.Data))

	event := c.next(t, func(f *frame) bool {
		return f.Type == party.EventSession && f.Session != nil && f.Session.HostID != nil
	})
	assert.Equal(t, "u1", *event.Session.HostID)

	c.send(t, `{"id":"3","method":"update_playback","params":{"isPlaying":true,"seekTime":-1}}`)
	res = c.next(t, response("3"))
	assert.Equal(t, http.StatusUnprocessableEntity, res.Result.Code)

	c.send(t, `{"id":"4","method":"update_playback","params":{"isPlaying":true,"seekTime":12}}`)
	res = c.next(t, response("4"))
	require.True(t, res.Result.Success)

	c.send(t, `{"id":"5","method":"sync"}`)
	res = c.next(t, response("5"))
	require.True(t, res.Result.Success)
	var state struct {
		IsPlaying bool    `json:"isPlaying"`
		SeekTime  float64 `json:"seekTime"`
		UpdatedBy string  `json:"updatedBy"`
	}
	require.NoError(t, json.Unmarshal(res.Result.Data, &state))
	assert.True(t, state.IsPlaying)
	assert.Equal(t, float64(12), state.SeekTime)
	assert.Equal(t, "u1", state.UpdatedBy)

	c.send(t, `not json`)
	res = c.next(t, response(""))
	assert.False(t, res.Result.Success)
}

func TestWebsocketBroadcast(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	server := httptest.NewServer(api)
	defer server.Close()
	ID := createSession(t, api, "")

	alice := dial(t, server, ID, "alice")
	alice.next(t, func(f *frame) bool { return f.Type == party.EventSession })
	bob := dial(t, server, ID, "bob")
	bob.next(t, func(f *frame) bool { return f.Type == party.EventSession })
	alice.next(t, func(f *frame) bool {
		return f.Type == party.EventParticipants && len(f.Participants) == 2
	})

	alice.send(t, `{"id":"1","method":"send_message","params":{"text":"hello"}}`)
	require.True(t, alice.next(t, response("1")).Result.Success)
	bob.next(t, func(f *frame) bool { return f.Type == party.EventMessage })

	_ = bob.conn.Close()
	alice.next(t, func(f *frame) bool {
		return f.Type == party.EventParticipants && len(f.Participants) == 1
	})
}

func TestWebsocketRejectsUnknownSession(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	server := httptest.NewServer(api)
	defer server.Close()

	q := url.Values{"session_id": {"missing"}, "user_id": {"u1"}, "name": {"Swift Cat"}}
	_, _, _, err := ws.Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http")+"/ws?"+q.Encode())
	assert.Error(t, err)

	q.Set("session_id", createSession(t, api, ""))
	q.Del("name")
	_, _, _, err = ws.Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http")+"/ws?"+q.Encode())
	assert.Error(t, err)
}

func TestWebsocketUserWithTwoConnections(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	server := httptest.NewServer(api)
	defer server.Close()
	ID := createSession(t, api, "")

	tab := dial(t, server, ID, "alice")
	tab.next(t, func(f *frame) bool { return f.Type == party.EventSession })
	other := dial(t, server, ID, "alice")
	other.next(t, func(f *frame) bool { return f.Type == party.EventSession })
	assert.Equal(t, 2, api.Connections(ID, "alice"))

	participants := func() int {
		var list []json.RawMessage
		code, _ := call(t, api, http.MethodGet, "/sessions/"+ID+"/participants", "", &list)
		require.Equal(t, http.StatusOK, code)
		return len(list)
	}
	assert.Eventually(t, func() bool { return participants() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = tab.conn.Close()
	assert.Eventually(t, func() bool { return api.Connections(ID, "alice") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, participants())

	other.send(t, `{"id":"1","method":"heartbeat"}`)
	assert.True(t, other.next(t, response("1")).Result.Success)

	_ = other.conn.Close()
	assert.Eventually(t, func() bool { return participants() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, api.Connections(ID, "alice"))
}

func TestPusherDropsOlderSnapshots(t *testing.T) {
	base := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	var written []*party.Event
	p := &pusher{write: func(v interface{}) error {
		written = append(written, v.(*party.Event))
		return nil
	}}
	snapshot := func(at time.Time) *party.Event {
		return &party.Event{Type: party.EventSession, SessionID: "room", Session: &model.SessionDetails{ID: "room", UpdatedAt: at}}
	}

	require.NoError(t, p.push(snapshot(base.Add(time.Second))))
	require.NoError(t, p.push(snapshot(base)))
	require.NoError(t, p.push(&party.Event{Type: party.EventMessage, SessionID: "room"}))
	require.NoError(t, p.push(snapshot(base.Add(time.Second))))
	require.NoError(t, p.push(snapshot(base.Add(2*time.Second))))

	require.Len(t, written, 4)
	assert.Equal(t, party.EventSession, written[0].Type)
	assert.Equal(t, party.EventMessage, written[1].Type)
	assert.Equal(t, base.Add(2*time.Second), written[3].Session.UpdatedAt)
}
