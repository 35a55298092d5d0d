// Package client is a Go consumer of the watch party api: typed calls for the
// http routes, a live connection for the websocket feed and the playback
// Reconciler that keeps a local player in step with the room.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syncstream.me/model"
	"syncstream.me/pkg/identity"
	"time"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *string         `json:"error"`
}

// New returns a client for the api served at baseURL. A nil hc means
// a client with a 15 second timeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// LocalIdentity loads the identity kept in the file at path, creating it on
// first use
func LocalIdentity(path string) (model.Identity, error) {
	return identity.Ensure(identity.NewFileStore(path))
}

// Session is the client side view of a room
type Session struct {
	model.SessionDetails
}

// ShouldShareScreen reports whether the local participant is the one allowed
// to publish its screen
func (s *Session) ShouldShareScreen(localID string) bool {
	return localID != "" && s.ActiveSharer != nil && *s.ActiveSharer == localID
}

func (c *Client) CreateSession(ctx context.Context, password string) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/sessions", echoMap{"password": password}, &res)
	return res.ID, err
}

func (c *Client) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	var sessions []model.SessionSummary
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &sessions)
	return sessions, err
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID), nil, &s.SessionDetails); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID, password string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID), echoMap{"password": password}, nil)
}

func (c *Client) VerifyPassword(ctx context.Context, sessionID, password string) (bool, error) {
	var res struct {
		Success bool `json:"success"`
	}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "verify"), echoMap{"password": password}, &res)
	return res.Success, err
}

// SetVideoURL resolves rawURL on the server and plays it, a blank url clears
// the video
func (c *Client) SetVideoURL(ctx context.Context, sessionID, userID, rawURL string) (*Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPut, sessionPath(sessionID, "video"), echoMap{"userId": userID, "url": rawURL}, &s.SessionDetails)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) SetVideoSource(ctx context.Context, sessionID, userID string, src *model.VideoSource) (*Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPut, sessionPath(sessionID, "video"), echoMap{"userId": userID, "source": src}, &s.SessionDetails)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) SetScreenSharer(ctx context.Context, sessionID, userID string, sharerID *string) (*Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPut, sessionPath(sessionID, "sharer"), echoMap{"userId": userID, "sharerId": sharerID}, &s.SessionDetails)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) UpdatePlayback(ctx context.Context, sessionID, userID string, u model.PlaybackUpdate) (*model.PlaybackState, error) {
	var state model.PlaybackState
	err := c.do(ctx, http.MethodPut, sessionPath(sessionID, "playback"),
		echoMap{"userId": userID, "isPlaying": u.IsPlaying, "seekTime": u.SeekTime}, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SyncState reads the current playback state, nil when nothing played yet
func (c *Client) SyncState(ctx context.Context, sessionID string) (*model.PlaybackState, error) {
	var state *model.PlaybackState
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "playback"), nil, &state)
	return state, err
}

func (c *Client) ClaimHost(ctx context.Context, sessionID, userID, password string) (*string, error) {
	var res struct {
		NewHostID *string `json:"newHostId"`
	}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "host"), echoMap{"userId": userID, "password": password}, &res)
	return res.NewHostID, err
}

func (c *Client) Join(ctx context.Context, sessionID string, user model.Identity) (*model.Participant, error) {
	var p model.Participant
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "participants"), user, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	var participants []*model.Participant
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "participants"), nil, &participants)
	return participants, err
}

func (c *Client) SendMessage(ctx context.Context, sessionID string, user model.Identity, text string) (*model.Message, error) {
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "messages"), echoMap{"user": user, "text": text}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error) {
	var messages []*model.Message
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "messages"), nil, &messages)
	return messages, err
}

func (c *Client) SendEmoji(ctx context.Context, sessionID string, user model.Identity, emoji string) (*model.EmojiReaction, error) {
	var reaction model.EmojiReaction
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "emojis"), echoMap{"user": user, "emoji": emoji}, &reaction); err != nil {
		return nil, err
	}
	return &reaction, nil
}

// ListEmojisSince returns reactions created after since, a zero since lists
// all of them
func (c *Client) ListEmojisSince(ctx context.Context, sessionID string, since time.Time) ([]*model.EmojiReaction, error) {
	path := sessionPath(sessionID, "emojis")
	if !since.IsZero() {
		path += "?since=" + strconv.FormatInt(since.UnixMilli(), 10)
	}
	var reactions []*model.EmojiReaction
	err := c.do(ctx, http.MethodGet, path, nil, &reactions)
	return reactions, err
}

// Token issues a conferencing token for the room of sessionID
func (c *Client) Token(ctx context.Context, sessionID, userID, name string) (token, serverURL string, err error) {
	var res struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	err = c.do(ctx, http.MethodPost, sessionPath(sessionID, "token"), echoMap{"identity": userID, "name": name}, &res)
	return res.Token, res.URL, err
}

func (c *Client) ResolveVideo(ctx context.Context, rawURL string) (*model.VideoSource, error) {
	var src model.VideoSource
	if err := c.do(ctx, http.MethodPost, "/video/resolve", echoMap{"url": rawURL}, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// Recommend takes newline separated titles and preferences
func (c *Client) Recommend(ctx context.Context, watchHistory, preferences string) (*model.Recommendations, error) {
	var rec model.Recommendations
	err := c.do(ctx, http.MethodPost, "/recommendations", echoMap{"watchHistory": watchHistory, "preferences": preferences}, &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type echoMap map[string]interface{}

func sessionPath(sessionID string, parts ...string) string {
	path := "/sessions/" + url.PathEscape(sessionID)
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, model.ErrTransport)
	}
	defer res.Body.Close()

	var env envelope
	if err = json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d: %w", method, path, res.StatusCode, model.ErrTransport)
	}
	if res.StatusCode != http.StatusOK || env.Error != nil {
		msg := http.StatusText(res.StatusCode)
		if env.Error != nil {
			msg = *env.Error
		}
		return fmt.Errorf("%w: %s", errorOf(res.StatusCode), msg)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// errorOf maps api statuses back onto the error taxonomy
func errorOf(code int) error {
	switch code {
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusForbidden:
		return model.ErrAuthFailure
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return model.ErrInvalid
	case http.StatusServiceUnavailable:
		return model.ErrUnconfigured
	default:
		return model.ErrTransport
	}
}
