// Package party implements the watch party operations on top of the storage:
// room lifecycle, the playback and host protocols, chat and reactions. Every
// successful write is announced on the message broker so that the Feed of
// every api instance can push it to connected participants.
package party

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/labstack/gommon/log"
	"golang.org/x/crypto/bcrypt"
	"strings"
	"syncstream.me/model"
	"syncstream.me/pkg/msgbroker"
	"syncstream.me/pkg/utils"
	"syncstream.me/pkg/videourl"
	"syncstream.me/storage"
	"time"
)

// ErrNotHost rejects host only writes when host control is enforced
var ErrNotHost = fmt.Errorf("%w: only the host can do that", model.ErrAuthFailure)

// URLResolver classifies links the local rules could not
type URLResolver interface {
	ProcessVideoURL(ctx context.Context, rawURL string) (*model.VideoSource, error)
}

type Options struct {
	SessionIDLength    int
	EnforceHostControl bool
	// PasswordCost is the bcrypt cost, bcrypt.DefaultCost when zero
	PasswordCost int
	Resolver     URLResolver
}

type Service struct {
	storage storage.Storage
	broker  msgbroker.MessageBroker
	opts    Options
}

func NewService(s storage.Storage, mb msgbroker.MessageBroker, opts Options) *Service {
	if opts.PasswordCost == 0 {
		opts.PasswordCost = bcrypt.DefaultCost
	}
	return &Service{storage: s, broker: mb, opts: opts}
}

// CreateSession creates a room, an empty password leaves it open
func (s *Service) CreateSession(ctx context.Context, password string) (string, error) {
	if !model.IsPasswordValid(password) {
		return "", fmt.Errorf("%w: password must be at most %d bytes", model.ErrInvalid, model.MaxPasswordLength)
	}

	var hash string
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.PasswordCost)
		if err != nil {
			return "", err
		}
		hash = string(b)
	}

	ID, err := s.storage.CreateSession(ctx, hash, s.opts.SessionIDLength)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	log.Infoj(log.JSON{"event": "session_created", "session_id": ID, "protected": hash != ""})
	return ID, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.SessionDetails, error) {
	session, err := s.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Details(), nil
}

func (s *Service) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	sessions, err := s.storage.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]model.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		result = append(result, session.Summary())
	}
	return result, nil
}

// VerifyPassword reports whether candidate is exactly the room password.
// Rooms without a password accept anything.
func (s *Service) VerifyPassword(ctx context.Context, sessionID, candidate string) (bool, error) {
	session, err := s.storage.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return checkPassword(session, candidate), nil
}

func checkPassword(session *model.Session, candidate string) bool {
	if !session.HasPassword() {
		return true
	}
	if !model.IsPasswordValid(candidate) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(session.PasswordHash), []byte(candidate)) == nil
}

// DeleteSession removes the room and everything under it
func (s *Service) DeleteSession(ctx context.Context, sessionID, password string) error {
	session, err := s.storage.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !checkPassword(session, password) {
		return fmt.Errorf("%w: wrong password", model.ErrAuthFailure)
	}
	if err = s.storage.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	log.Infoj(log.JSON{"event": "session_deleted", "session_id": sessionID})
	s.publish(&Event{Type: EventDeleted, SessionID: sessionID})
	return nil
}

// authorize rejects writes from non hosts when host control is enforced and
// somebody holds the role
func (s *Service) authorize(ctx context.Context, sessionID, userID string) error {
	if !s.opts.EnforceHostControl {
		return nil
	}
	session, err := s.storage.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.HostID != nil && !session.IsHost(userID) {
		return ErrNotHost
	}
	return nil
}

// SetVideoSource replaces the video, drops the screen sharer and rewinds the
// timeline. A nil src clears the video.
func (s *Service) SetVideoSource(ctx context.Context, sessionID, userID string, src *model.VideoSource) (*model.SessionDetails, error) {
	if src != nil && !src.Valid() {
		return nil, fmt.Errorf("%w: video source", model.ErrInvalid)
	}
	if err := s.authorize(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	session, err := s.storage.SetVideoSource(ctx, sessionID, src)
	if err != nil {
		return nil, err
	}
	return s.publishSession(session), nil
}

// ResolveVideo turns a raw link into a video source. Local rules go first, the
// resolver is only asked about links they cannot classify.
func (s *Service) ResolveVideo(ctx context.Context, rawURL string) (*model.VideoSource, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: url is required", model.ErrInvalid)
	}
	src := videourl.Parse(rawURL)
	if src.Platform != model.PlatformUnknown || s.opts.Resolver == nil {
		return src, nil
	}

	resolved, err := s.opts.Resolver.ProcessVideoURL(ctx, rawURL)
	if errors.Is(err, model.ErrUnconfigured) {
		return src, nil
	}
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// SetVideoURL resolves rawURL and sets it as the video, a blank url clears it
func (s *Service) SetVideoURL(ctx context.Context, sessionID, userID, rawURL string) (*model.SessionDetails, error) {
	if strings.TrimSpace(rawURL) == "" {
		return s.SetVideoSource(ctx, sessionID, userID, nil)
	}
	if err := s.authorize(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	src, err := s.ResolveVideo(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return s.SetVideoSource(ctx, sessionID, userID, src)
}

// SetScreenSharer hands the screen to sharerID and drops the video, nil stops
// sharing
func (s *Service) SetScreenSharer(ctx context.Context, sessionID, userID string, sharerID *string) (*model.SessionDetails, error) {
	if sharerID != nil && strings.TrimSpace(*sharerID) == "" {
		sharerID = nil
	}
	if err := s.authorize(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	session, err := s.storage.SetScreenSharer(ctx, sessionID, sharerID)
	if err != nil {
		return nil, err
	}
	return s.publishSession(session), nil
}

// UpdatePlaybackState overwrites the playback state, last write wins
func (s *Service) UpdatePlaybackState(ctx context.Context, sessionID, userID string, u model.PlaybackUpdate) (*model.PlaybackState, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalid)
	}
	if !u.Valid() {
		return nil, fmt.Errorf("%w: seek time must be a finite non negative number", model.ErrInvalid)
	}
	if err := s.authorize(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	session, err := s.storage.SetPlaybackState(ctx, sessionID, userID, u)
	if err != nil {
		return nil, err
	}
	s.publishSession(session)
	return session.PlaybackState, nil
}

// SyncState returns the current playback state, nil when nothing played yet
func (s *Service) SyncState(ctx context.Context, sessionID string) (*model.PlaybackState, error) {
	session, err := s.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.PlaybackState, nil
}

// ClaimHost toggles the host role of userID and returns the new host id
func (s *Service) ClaimHost(ctx context.Context, sessionID, userID, password string) (*string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalid)
	}
	session, err := s.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !checkPassword(session, password) {
		return nil, fmt.Errorf("%w: wrong password", model.ErrAuthFailure)
	}

	session, err = s.storage.ToggleHost(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	log.Infoj(log.JSON{"event": "host_toggled", "session_id": sessionID, "user_id": userID, "is_host": session.IsHost(userID)})
	s.publishSession(session)
	return session.HostID, nil
}

// Join adds user to the participants or refreshes it
func (s *Service) Join(ctx context.Context, sessionID string, user model.Identity) (*model.Participant, error) {
	if !user.Valid() {
		return nil, fmt.Errorf("%w: identity", model.ErrInvalid)
	}
	p, err := s.storage.AddParticipant(ctx, sessionID, user)
	if err != nil {
		return nil, err
	}
	s.publishParticipants(ctx, sessionID)
	return p, nil
}

func (s *Service) Heartbeat(ctx context.Context, sessionID, userID string) error {
	return s.storage.TouchParticipant(ctx, sessionID, userID)
}

func (s *Service) Leave(ctx context.Context, sessionID, userID string) error {
	if err := s.storage.RemoveParticipant(ctx, sessionID, userID); err != nil {
		return err
	}
	s.publishParticipants(ctx, sessionID)
	return nil
}

func (s *Service) ListParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	if !s.storage.SessionExist(ctx, sessionID) {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	return s.storage.ListParticipants(ctx, sessionID)
}

// SendMessage appends a chat message, text is trimmed first
func (s *Service) SendMessage(ctx context.Context, sessionID string, user model.Identity, text string) (*model.Message, error) {
	if !user.Valid() {
		return nil, fmt.Errorf("%w: identity", model.ErrInvalid)
	}
	text = strings.TrimSpace(text)
	if !utils.IsLengthValid(text, 1, model.MaxMessageLength) {
		return nil, fmt.Errorf("%w: message must be 1-%d characters", model.ErrInvalid, model.MaxMessageLength)
	}
	msg, err := s.storage.AddMessage(ctx, sessionID, user, text)
	if err != nil {
		return nil, err
	}
	s.publish(&Event{Type: EventMessage, SessionID: sessionID, Message: msg})
	return msg, nil
}

func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error) {
	if !s.storage.SessionExist(ctx, sessionID) {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	return s.storage.ListMessages(ctx, sessionID)
}

func (s *Service) SendEmoji(ctx context.Context, sessionID string, user model.Identity, emoji string) (*model.EmojiReaction, error) {
	if !user.Valid() {
		return nil, fmt.Errorf("%w: identity", model.ErrInvalid)
	}
	if !model.IsEmojiValid(emoji) {
		return nil, fmt.Errorf("%w: unsupported emoji %q", model.ErrInvalid, emoji)
	}
	reaction, err := s.storage.AddEmoji(ctx, sessionID, user, emoji)
	if err != nil {
		return nil, err
	}
	s.publish(&Event{Type: EventEmoji, SessionID: sessionID, Emoji: reaction})
	return reaction, nil
}

// ListEmojisSince returns reactions created strictly after since
func (s *Service) ListEmojisSince(ctx context.Context, sessionID string, since time.Time) ([]*model.EmojiReaction, error) {
	if !s.storage.SessionExist(ctx, sessionID) {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	return s.storage.ListEmojisSince(ctx, sessionID, since)
}

// RecordVisit counts a visit for today
func (s *Service) RecordVisit(ctx context.Context) (int64, error) {
	return s.storage.IncrVisits(ctx)
}

// Visits returns the visits of the last days, today first
func (s *Service) Visits(ctx context.Context, days int) ([]model.DailyVisits, error) {
	today := time.Now()
	visits := make([]model.DailyVisits, 0, days)
	for i := 0; i < days; i++ {
		date := today.AddDate(0, 0, -i)
		n, err := s.storage.GetVisitsByDate(ctx, date)
		if err != nil {
			return nil, err
		}
		visits = append(visits, model.DailyVisits{Date: date.Format("2006-01-02"), Visits: n})
	}
	return visits, nil
}

func (s *Service) publishSession(session *model.Session) *model.SessionDetails {
	details := session.Details()
	s.publish(&Event{Type: EventSession, SessionID: session.ID, Session: details})
	return details
}

func (s *Service) publishParticipants(ctx context.Context, sessionID string) {
	participants, err := s.storage.ListParticipants(ctx, sessionID)
	if err != nil {
		log.Warn(err)
		return
	}
	s.publish(&Event{Type: EventParticipants, SessionID: sessionID, Participants: participants})
}

// publish announces e, the write already succeeded so failures are only logged
func (s *Service) publish(e *Event) {
	b, err := json.Marshal(e)
	if err != nil {
		log.Error(err)
		return
	}
	if err = s.broker.Publish(b, channel(e.SessionID)); err != nil {
		log.Warnf("publish %s event of session %s: %v", e.Type, e.SessionID, err)
	}
}
