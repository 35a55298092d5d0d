package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/go-redis/redis/v7"
	"sort"
	"strconv"
	"strings"
	"syncstream.me/model"
	"syncstream.me/pkg/utils"
	"time"
)

const (
	sessionsKey     = "sessions"
	maxIDLength     = 15
	maxEmojiLog     = 500
	maxToggleTries  = 10
	fieldID         = "id"
	fieldPassword   = "password_hash"
	fieldHost       = "host_id"
	fieldSharer     = "active_sharer"
	fieldVideo      = "video_source"
	fieldPlayback   = "playback_state"
	fieldCreatedAt  = "created_at"
	fieldUpdatedAt  = "updated_at"
	timestampLayout = time.RFC3339Nano
)

var errIDTaken = errors.New("session id is taken")

type Storage interface {
	SessionExist(ctx context.Context, sessionID string) bool
	CreateSession(ctx context.Context, passwordHash string, idLength int) (ID string, err error)
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SetVideoSource(ctx context.Context, sessionID string, src *model.VideoSource) (*model.Session, error)
	SetScreenSharer(ctx context.Context, sessionID string, sharerID *string) (*model.Session, error)
	SetPlaybackState(ctx context.Context, sessionID, userID string, u model.PlaybackUpdate) (*model.Session, error)
	ToggleHost(ctx context.Context, sessionID, userID string) (*model.Session, error)
	AddParticipant(ctx context.Context, sessionID string, user model.Identity) (*model.Participant, error)
	TouchParticipant(ctx context.Context, sessionID, userID string) error
	RemoveParticipant(ctx context.Context, sessionID, userID string) error
	ListParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error)
	AddMessage(ctx context.Context, sessionID string, user model.Identity, text string) (*model.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error)
	AddEmoji(ctx context.Context, sessionID string, user model.Identity, emoji string) (*model.EmojiReaction, error)
	ListEmojisSince(ctx context.Context, sessionID string, since time.Time) ([]*model.EmojiReaction, error)
	IncrVisits(ctx context.Context) (int64, error)
	GetVisitsByDate(ctx context.Context, date time.Time) (int64, error)
}

type storage struct {
	rdb   *redis.Client
	newID func(length int) string
}

func New(rdb *redis.Client) Storage {
	return &storage{rdb: rdb, newID: utils.RandString}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func participantsKey(sessionID string) string {
	return sessionKey(sessionID) + ":participants"
}

func messagesKey(sessionID string) string {
	return sessionKey(sessionID) + ":messages"
}

func emojisKey(sessionID string) string {
	return sessionKey(sessionID) + ":emojis"
}

func notFound(sessionID string) error {
	return fmt.Errorf("session '%s': %w", sessionID, model.ErrNotFound)
}

// now returns the redis server time so that every timestamp is assigned by
// the store rather than by whichever instance handled the request.
func (s *storage) now(ctx context.Context) (time.Time, error) {
	t, err := s.rdb.WithContext(ctx).Time().Result()
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (s *storage) SessionExist(ctx context.Context, sessionID string) bool {
	return s.rdb.WithContext(ctx).Exists(sessionKey(sessionID)).Val() == 1
}

func (s *storage) CreateSession(ctx context.Context, passwordHash string, idLength int) (string, error) {
	rdb := s.rdb.WithContext(ctx)
	if idLength <= 0 {
		idLength = 6
	}

	now, err := s.now(ctx)
	if err != nil {
		return "", err
	}
	data := map[string]interface{}{
		fieldPassword:  passwordHash,
		fieldHost:      "",
		fieldSharer:    "",
		fieldVideo:     "",
		fieldPlayback:  "",
		fieldCreatedAt: now.Format(timestampLayout),
		fieldUpdatedAt: now.Format(timestampLayout),
	}

	// the id is claimed and the session written in one transaction, a taken
	// or contended id moves on to a longer one
	for i := idLength; i <= maxIDLength; i++ {
		ID := s.newID(i)
		key := sessionKey(ID)
		err := rdb.Watch(func(tx *redis.Tx) error {
			n, err := tx.Exists(key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return errIDTaken
			}
			data[fieldID] = ID
			_, err = tx.TxPipelined(func(pipe redis.Pipeliner) error {
				pipe.HSet(key, data)
				pipe.SAdd(sessionsKey, ID)
				return nil
			})
			return err
		}, key)

		if err == errIDTaken || err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return "", err
		}
		return ID, nil
	}
	return "", errors.New("unable to generate an unique ID")
}

func (s *storage) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	data, err := s.rdb.WithContext(ctx).HGetAll(sessionKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, notFound(sessionID)
	}
	return decodeSession(data)
}

func (s *storage) ListSessions(ctx context.Context) ([]*model.Session, error) {
	rdb := s.rdb.WithContext(ctx)
	IDs, err := rdb.SMembers(sessionsKey).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.StringStringMapCmd, len(IDs))
	_, err = rdb.Pipelined(func(pipe redis.Pipeliner) error {
		for i, ID := range IDs {
			cmds[i] = pipe.HGetAll(sessionKey(ID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]*model.Session, 0, len(IDs))
	for _, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			continue
		}
		session, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// DeleteSession removes the session together with its sub-collections in
// one transaction.
func (s *storage) DeleteSession(ctx context.Context, sessionID string) error {
	var deleted *redis.IntCmd
	_, err := s.rdb.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(sessionKey(sessionID))
		pipe.Del(participantsKey(sessionID), messagesKey(sessionID), emojisKey(sessionID))
		pipe.SRem(sessionsKey, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session '%s': %w", sessionID, err)
	}
	if deleted.Val() == 0 {
		return notFound(sessionID)
	}
	return nil
}

// withSession runs fn while the session hash and the extra keys are
// watched, fn fails with TxFailedErr when any of them changes before its
// transaction executes. A deleted session stops the retries with
// ErrNotFound.
func (s *storage) withSession(ctx context.Context, sessionID string, fn func(tx *redis.Tx) error, keys ...string) error {
	key := sessionKey(sessionID)
	rdb := s.rdb.WithContext(ctx)

	for i := 0; i < maxToggleTries; i++ {
		err := rdb.Watch(func(tx *redis.Tx) error {
			n, err := tx.Exists(key).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return notFound(sessionID)
			}
			return fn(tx)
		}, append([]string{key}, keys...)...)

		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("session '%s': too many concurrent updates", sessionID)
}

// update runs fn inside an optimistic transaction on the session hash. fn
// receives the current session and returns the fields to write.
func (s *storage) update(ctx context.Context, sessionID string, fn func(cur *model.Session, now time.Time) (map[string]interface{}, error)) (*model.Session, error) {
	key := sessionKey(sessionID)
	rdb := s.rdb.WithContext(ctx)

	for i := 0; i < maxToggleTries; i++ {
		err := rdb.Watch(func(tx *redis.Tx) error {
			data, err := tx.HGetAll(key).Result()
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return notFound(sessionID)
			}
			cur, err := decodeSession(data)
			if err != nil {
				return err
			}
			now, err := s.now(ctx)
			if err != nil {
				return err
			}
			fields, err := fn(cur, now)
			if err != nil {
				return err
			}
			fields[fieldUpdatedAt] = now.Format(timestampLayout)

			_, err = tx.TxPipelined(func(pipe redis.Pipeliner) error {
				pipe.HSet(key, fields)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.GetSession(ctx, sessionID)
	}
	return nil, fmt.Errorf("session '%s': too many concurrent updates", sessionID)
}

// SetVideoSource stores the source (or clears it when src is nil), clears
// the active sharer and resets the playback timeline.
func (s *storage) SetVideoSource(ctx context.Context, sessionID string, src *model.VideoSource) (*model.Session, error) {
	return s.update(ctx, sessionID, func(_ *model.Session, now time.Time) (map[string]interface{}, error) {
		var video string
		if src != nil {
			var err error
			if video, err = encodeJSON(src); err != nil {
				return nil, err
			}
		}
		playback, err := encodeJSON(model.ResetPlayback(now))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			fieldVideo:    video,
			fieldSharer:   "",
			fieldPlayback: playback,
		}, nil
	})
}

func (s *storage) SetScreenSharer(ctx context.Context, sessionID string, sharerID *string) (*model.Session, error) {
	return s.update(ctx, sessionID, func(cur *model.Session, _ time.Time) (map[string]interface{}, error) {
		fields := map[string]interface{}{
			fieldSharer: "",
		}
		if sharerID != nil {
			fields[fieldSharer] = *sharerID
			fields[fieldVideo] = ""
		}
		return fields, nil
	})
}

func (s *storage) SetPlaybackState(ctx context.Context, sessionID, userID string, u model.PlaybackUpdate) (*model.Session, error) {
	return s.update(ctx, sessionID, func(_ *model.Session, now time.Time) (map[string]interface{}, error) {
		playback, err := encodeJSON(&model.PlaybackState{
			IsPlaying: u.IsPlaying,
			SeekTime:  u.SeekTime,
			UpdatedBy: userID,
			UpdatedAt: now,
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{fieldPlayback: playback}, nil
	})
}

// ToggleHost makes userID the host, or clears the host if userID already is.
func (s *storage) ToggleHost(ctx context.Context, sessionID, userID string) (*model.Session, error) {
	return s.update(ctx, sessionID, func(cur *model.Session, _ time.Time) (map[string]interface{}, error) {
		if cur.IsHost(userID) {
			return map[string]interface{}{fieldHost: ""}, nil
		}
		return map[string]interface{}{fieldHost: userID}, nil
	})
}

func (s *storage) AddParticipant(ctx context.Context, sessionID string, user model.Identity) (*model.Participant, error) {
	var p *model.Participant
	err := s.withSession(ctx, sessionID, func(tx *redis.Tx) error {
		now, err := s.now(ctx)
		if err != nil {
			return err
		}
		p = &model.Participant{Identity: user, JoinedAt: now, LastSeen: now}
		if raw, err := tx.HGet(participantsKey(sessionID), user.ID).Result(); err == nil {
			var existing model.Participant
			if json.Unmarshal([]byte(raw), &existing) == nil && !existing.JoinedAt.IsZero() {
				p.JoinedAt = existing.JoinedAt
			}
		} else if err != redis.Nil {
			return err
		}

		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(func(pipe redis.Pipeliner) error {
			pipe.HSet(participantsKey(sessionID), user.ID, string(b))
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// TouchParticipant refreshes LastSeen, a participant removed meanwhile is
// not brought back
func (s *storage) TouchParticipant(ctx context.Context, sessionID, userID string) error {
	key := participantsKey(sessionID)
	return s.withSession(ctx, sessionID, func(tx *redis.Tx) error {
		raw, err := tx.HGet(key, userID).Result()
		if err == redis.Nil {
			return fmt.Errorf("participant '%s' in session '%s': %w", userID, sessionID, model.ErrNotFound)
		}
		if err != nil {
			return err
		}

		var p model.Participant
		if err = json.Unmarshal([]byte(raw), &p); err != nil {
			return err
		}
		if p.LastSeen, err = s.now(ctx); err != nil {
			return err
		}
		b, err := json.Marshal(&p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(func(pipe redis.Pipeliner) error {
			pipe.HSet(key, userID, string(b))
			return nil
		})
		return err
	}, key)
}

func (s *storage) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	return s.rdb.WithContext(ctx).HDel(participantsKey(sessionID), userID).Err()
}

func (s *storage) ListParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	data, err := s.rdb.WithContext(ctx).HGetAll(participantsKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}

	participants := make([]*model.Participant, 0, len(data))
	for _, raw := range data {
		var p model.Participant
		if err = json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		participants = append(participants, &p)
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].ID < participants[j].ID
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, nil
}

func (s *storage) AddMessage(ctx context.Context, sessionID string, user model.Identity, text string) (*model.Message, error) {
	ID, err := s.appendEntry(ctx, sessionID, messagesKey(sessionID), 0, user, map[string]interface{}{"text": text})
	if err != nil {
		return nil, err
	}
	return &model.Message{ID: ID, User: user, Text: text, Timestamp: streamTime(ID)}, nil
}

func (s *storage) ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error) {
	entries, err := s.rdb.WithContext(ctx).XRange(messagesKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, err
	}

	messages := make([]*model.Message, 0, len(entries))
	for _, e := range entries {
		user, err := decodeUser(e.Values)
		if err != nil {
			return nil, err
		}
		messages = append(messages, &model.Message{
			ID:        e.ID,
			User:      user,
			Text:      stringValue(e.Values, "text"),
			Timestamp: streamTime(e.ID),
		})
	}
	return messages, nil
}

func (s *storage) AddEmoji(ctx context.Context, sessionID string, user model.Identity, emoji string) (*model.EmojiReaction, error) {
	ID, err := s.appendEntry(ctx, sessionID, emojisKey(sessionID), maxEmojiLog, user, map[string]interface{}{"emoji": emoji})
	if err != nil {
		return nil, err
	}
	return &model.EmojiReaction{ID: ID, Emoji: emoji, User: user, Timestamp: streamTime(ID)}, nil
}

// ListEmojisSince returns reactions created strictly after since.
func (s *storage) ListEmojisSince(ctx context.Context, sessionID string, since time.Time) ([]*model.EmojiReaction, error) {
	start := "-"
	if !since.IsZero() {
		start = strconv.FormatInt(since.UnixNano()/int64(time.Millisecond)+1, 10)
	}
	entries, err := s.rdb.WithContext(ctx).XRange(emojisKey(sessionID), start, "+").Result()
	if err != nil {
		return nil, err
	}

	reactions := make([]*model.EmojiReaction, 0, len(entries))
	for _, e := range entries {
		user, err := decodeUser(e.Values)
		if err != nil {
			return nil, err
		}
		reactions = append(reactions, &model.EmojiReaction{
			ID:        e.ID,
			Emoji:     stringValue(e.Values, "emoji"),
			User:      user,
			Timestamp: streamTime(e.ID),
		})
	}
	return reactions, nil
}

// appendEntry adds an entry to a session stream, it never outlives a
// concurrent DeleteSession
func (s *storage) appendEntry(ctx context.Context, sessionID, key string, maxLen int64, user model.Identity, values map[string]interface{}) (string, error) {
	b, err := json.Marshal(user)
	if err != nil {
		return "", err
	}
	values["user"] = string(b)

	var cmd *redis.StringCmd
	err = s.withSession(ctx, sessionID, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(func(pipe redis.Pipeliner) error {
			cmd = pipe.XAdd(&redis.XAddArgs{
				Stream:       key,
				MaxLenApprox: maxLen,
				ID:           "*",
				Values:       values,
			})
			return nil
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return cmd.Val(), nil
}

func (s *storage) IncrVisits(ctx context.Context) (int64, error) {
	return s.rdb.WithContext(ctx).Incr("visits:" + time.Now().Format("02.01.06")).Result()
}

// GetVisitsByDate returns the visits counted on date, zero for a day without
// any
func (s *storage) GetVisitsByDate(ctx context.Context, date time.Time) (int64, error) {
	n, err := s.rdb.WithContext(ctx).Get("visits:" + date.Format("02.01.06")).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func decodeSession(data map[string]string) (*model.Session, error) {
	s := &model.Session{
		ID:           data[fieldID],
		PasswordHash: data[fieldPassword],
	}
	if v := data[fieldHost]; v != "" {
		s.HostID = model.StringPtr(v)
	}
	if v := data[fieldSharer]; v != "" {
		s.ActiveSharer = model.StringPtr(v)
	}
	if v := data[fieldVideo]; v != "" && v != "null" {
		s.VideoSource = &model.VideoSource{}
		if err := json.Unmarshal([]byte(v), s.VideoSource); err != nil {
			return nil, fmt.Errorf("decode video source of '%s': %w", s.ID, err)
		}
	}
	if v := data[fieldPlayback]; v != "" && v != "null" {
		s.PlaybackState = &model.PlaybackState{}
		if err := json.Unmarshal([]byte(v), s.PlaybackState); err != nil {
			return nil, fmt.Errorf("decode playback state of '%s': %w", s.ID, err)
		}
	}
	s.CreatedAt, _ = time.Parse(timestampLayout, data[fieldCreatedAt])
	s.UpdatedAt, _ = time.Parse(timestampLayout, data[fieldUpdatedAt])
	return s, nil
}

func decodeUser(values map[string]interface{}) (model.Identity, error) {
	var user model.Identity
	err := json.Unmarshal([]byte(stringValue(values, "user")), &user)
	return user, err
}

func encodeJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func stringValue(values map[string]interface{}, key string) string {
	v, _ := values[key].(string)
	return v
}

// streamTime extracts the millisecond timestamp redis embeds in stream ids
func streamTime(ID string) time.Time {
	ms, err := strconv.ParseInt(strings.SplitN(ID, "-", 2)[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}
