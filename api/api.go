package api

import (
	"context"
	"errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"net/http"
	"strconv"
	"sync"
	"syncstream.me/config"
	"syncstream.me/model"
	"syncstream.me/party"
	"syncstream.me/pkg/conference"
	"syncstream.me/pkg/llm"
	"syncstream.me/pkg/utils"
	"time"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 90
)

type API struct {
	echo       *echo.Echo
	config     *config.Config
	service    *party.Service
	feed       *party.Feed
	conference *conference.Bridge
	llm        *llm.Adapter

	// open websocket connections per session and user
	connsMu sync.Mutex
	conns   map[string]int
}

type (
	passwordRequest struct {
		Password string `json:"password" query:"password"`
	}

	videoRequest struct {
		UserID string             `json:"userId"`
		URL    string             `json:"url"`
		Source *model.VideoSource `json:"source"`
	}

	sharerRequest struct {
		UserID   string  `json:"userId"`
		SharerID *string `json:"sharerId"`
	}

	playbackRequest struct {
		UserID    string  `json:"userId"`
		IsPlaying bool    `json:"isPlaying"`
		SeekTime  float64 `json:"seekTime"`
	}

	hostRequest struct {
		UserID   string `json:"userId"`
		Password string `json:"password"`
	}

	messageRequest struct {
		User model.Identity `json:"user"`
		Text string         `json:"text"`
	}

	emojiRequest struct {
		User  model.Identity `json:"user"`
		Emoji string         `json:"emoji"`
	}

	tokenRequest struct {
		Identity string `json:"identity"`
		Name     string `json:"name"`
	}

	resolveRequest struct {
		URL string `json:"url"`
	}

	recommendationsRequest struct {
		WatchHistory string `json:"watchHistory"`
		Preferences  string `json:"preferences"`
	}
)

func New(c *config.Config, s *party.Service, f *party.Feed, b *conference.Bridge, l *llm.Adapter) *API {
	api := &API{
		echo:       echo.New(),
		config:     c,
		service:    s,
		feed:       f,
		conference: b,
		llm:        l,
		conns:      make(map[string]int),
	}

	api.echo.HideBanner = true
	api.echo.HidePort = true
	api.echo.HTTPErrorHandler = handleError
	api.echo.Use(middleware.Recover())
	api.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: c.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	}))
	if c.Level() <= log.DEBUG {
		api.echo.Use(middleware.Logger())
	}

	api.echo.GET("/", api.ping)
	api.echo.GET("/stats/visits", api.visits)
	api.echo.POST("/sessions", api.createSession)
	api.echo.GET("/sessions", api.listSessions)
	api.echo.GET("/sessions/:sessionID", api.getSession)
	api.echo.DELETE("/sessions/:sessionID", api.deleteSession)
	api.echo.POST("/sessions/:sessionID/verify", api.verifyPassword)
	api.echo.PUT("/sessions/:sessionID/video", api.setVideo)
	api.echo.PUT("/sessions/:sessionID/sharer", api.setSharer)
	api.echo.GET("/sessions/:sessionID/playback", api.syncPlayback)
	api.echo.PUT("/sessions/:sessionID/playback", api.updatePlayback)
	api.echo.POST("/sessions/:sessionID/host", api.claimHost)
	api.echo.GET("/sessions/:sessionID/participants", api.listParticipants)
	api.echo.POST("/sessions/:sessionID/participants", api.join)
	api.echo.GET("/sessions/:sessionID/messages", api.listMessages)
	api.echo.POST("/sessions/:sessionID/messages", api.sendMessage)
	api.echo.GET("/sessions/:sessionID/emojis", api.listEmojis)
	api.echo.POST("/sessions/:sessionID/emojis", api.sendEmoji)
	api.echo.POST("/sessions/:sessionID/token", api.issueToken)
	api.echo.POST("/video/resolve", api.resolveVideo)
	api.echo.POST("/recommendations", api.recommend)
	api.echo.Any("/ws", api.websocket)

	return api
}

// Start subscribes to session events and serves http until Close
func (api *API) Start() error {
	if err := api.feed.Start(); err != nil {
		return err
	}
	addr := ":" + strconv.Itoa(api.config.HttpPort)
	log.Infof("http server started on %s", addr)
	err := api.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (api *API) Close(ctx context.Context) error {
	err := api.echo.Shutdown(ctx)
	if ferr := api.feed.Close(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.echo.ServeHTTP(w, r)
}

// Ping handler
func (api *API) ping(c echo.Context) error {
	_, err := api.service.RecordVisit(c.Request().Context())
	if err != nil {
		log.Error(err)
	}
	return c.String(http.StatusOK, "OK")
}

// visits lists the visit counters of the last days query param days
func (api *API) visits(c echo.Context) error {
	days := utils.ParseInt(c.QueryParam("days"), defaultStatsDays, 1, maxStatsDays)
	visits, err := api.service.Visits(c.Request().Context(), days)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, visits)
}

func (api *API) createSession(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	ID, err := api.service.CreateSession(c.Request().Context(), req.Password)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, echo.Map{"id": ID})
}

func (api *API) listSessions(c echo.Context) error {
	sessions, err := api.service.ListSessions(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return respond(c, sessions)
}

func (api *API) getSession(c echo.Context) error {
	session, err := api.service.GetSession(c.Request().Context(), c.Param("sessionID"))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, session)
}

func (api *API) deleteSession(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := api.service.DeleteSession(c.Request().Context(), c.Param("sessionID"), req.Password); err != nil {
		return fail(c, err)
	}
	return respond(c, echo.Map{"success": true})
}

func (api *API) verifyPassword(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	ok, err := api.service.VerifyPassword(c.Request().Context(), c.Param("sessionID"), req.Password)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, echo.Map{"success": ok})
}

func (api *API) setVideo(c echo.Context) error {
	var req videoRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	var session *model.SessionDetails
	var err error
	ctx, sessionID := c.Request().Context(), c.Param("sessionID")
	if req.Source != nil {
		session, err = api.service.SetVideoSource(ctx, sessionID, req.UserID, req.Source)
	} else {
		session, err = api.service.SetVideoURL(ctx, sessionID, req.UserID, req.URL)
	}
	if err != nil {
		return fail(c, err)
	}
	return respond(c, session)
}

func (api *API) setSharer(c echo.Context) error {
	var req sharerRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	session, err := api.service.SetScreenSharer(c.Request().Context(), c.Param("sessionID"), req.UserID, req.SharerID)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, session)
}

func (api *API) syncPlayback(c echo.Context) error {
	state, err := api.service.SyncState(c.Request().Context(), c.Param("sessionID"))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, state)
}

func (api *API) updatePlayback(c echo.Context) error {
	var req playbackRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	state, err := api.service.UpdatePlaybackState(c.Request().Context(), c.Param("sessionID"), req.UserID,
		model.PlaybackUpdate{IsPlaying: req.IsPlaying, SeekTime: req.SeekTime})
	if err != nil {
		return fail(c, err)
	}
	return respond(c, state)
}

func (api *API) claimHost(c echo.Context) error {
	var req hostRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	host, err := api.service.ClaimHost(c.Request().Context(), c.Param("sessionID"), req.UserID, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, echo.Map{"newHostId": host})
}

func (api *API) listParticipants(c echo.Context) error {
	participants, err := api.service.ListParticipants(c.Request().Context(), c.Param("sessionID"))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, participants)
}

func (api *API) join(c echo.Context) error {
	var user model.Identity
	if err := c.Bind(&user); err != nil {
		return err
	}
	p, err := api.service.Join(c.Request().Context(), c.Param("sessionID"), user)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, p)
}

func (api *API) listMessages(c echo.Context) error {
	messages, err := api.service.ListMessages(c.Request().Context(), c.Param("sessionID"))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, messages)
}

func (api *API) sendMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	msg, err := api.service.SendMessage(c.Request().Context(), c.Param("sessionID"), req.User, req.Text)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, msg)
}

// listEmojis returns reactions created after the since query param (unix ms)
func (api *API) listEmojis(c echo.Context) error {
	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			return respondError(c, http.StatusUnprocessableEntity, "since must be a unix timestamp in milliseconds")
		}
		since = time.UnixMilli(ms)
	}
	reactions, err := api.service.ListEmojisSince(c.Request().Context(), c.Param("sessionID"), since)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, reactions)
}

func (api *API) sendEmoji(c echo.Context) error {
	var req emojiRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	reaction, err := api.service.SendEmoji(c.Request().Context(), c.Param("sessionID"), req.User, req.Emoji)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, reaction)
}

// issueToken hands out a conferencing token for the session room
func (api *API) issueToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	sessionID := c.Param("sessionID")
	if _, err := api.service.GetSession(c.Request().Context(), sessionID); err != nil {
		return fail(c, err)
	}
	token, err := api.conference.IssueToken(sessionID, req.Identity, req.Name)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, echo.Map{"token": token, "url": api.conference.ServerURL()})
}

func (api *API) resolveVideo(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	src, err := api.service.ResolveVideo(c.Request().Context(), req.URL)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, src)
}

func (api *API) recommend(c echo.Context) error {
	var req recommendationsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	rec, err := api.llm.RecommendContent(c.Request().Context(), llm.SplitLines(req.WatchHistory), llm.SplitLines(req.Preferences))
	switch {
	case errors.Is(err, model.ErrInvalid):
		return respondError(c, http.StatusUnprocessableEntity, llm.MsgNoInput)
	case err != nil:
		log.Error(err)
		return respondError(c, statusOf(err), llm.MsgRecommendationFailed)
	}
	return respond(c, rec)
}
