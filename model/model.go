package model

import (
	"math"
	"strings"
	"syncstream.me/pkg/utils"
	"time"
)

// Platform of a video source
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformVimeo   Platform = "vimeo"
	PlatformDirect  Platform = "direct"
	PlatformUnknown Platform = "unknown"

	// UpdatedBySystem marks playback states written by the server itself
	UpdatedBySystem = "system"

	MaxPasswordLength = 72
	MaxMessageLength  = 1000
)

// Emojis is the fixed set of reactions a participant may send
var Emojis = []string{"❤️", "😂", "👍", "😮", "😢", "🔥"}

type (
	VideoSource struct {
		Platform     Platform `json:"platform"`
		VideoID      *string  `json:"videoId"`
		CorrectedURL string   `json:"correctedUrl"`
	}

	PlaybackState struct {
		IsPlaying bool      `json:"isPlaying"`
		SeekTime  float64   `json:"seekTime"`
		UpdatedBy string    `json:"updatedBy"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Session is the stored state of a single watch party
	Session struct {
		ID            string         `json:"id"`
		PasswordHash  string         `json:"-"`
		HostID        *string        `json:"hostId"`
		ActiveSharer  *string        `json:"activeSharer"`
		VideoSource   *VideoSource   `json:"videoSource"`
		PlaybackState *PlaybackState `json:"playbackState"`
		CreatedAt     time.Time      `json:"createdAt"`
		UpdatedAt     time.Time      `json:"updatedAt"`
	}

	// SessionDetails is what participants are allowed to see about a session
	SessionDetails struct {
		ID            string         `json:"id"`
		HasPassword   bool           `json:"hasPassword"`
		HostID        *string        `json:"hostId"`
		ActiveSharer  *string        `json:"activeSharer"`
		VideoSource   *VideoSource   `json:"videoSource"`
		PlaybackState *PlaybackState `json:"playbackState"`
		// UpdatedAt orders snapshots of the same session
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// DailyVisits is the number of api visits on one day, date is YYYY-MM-DD
	DailyVisits struct {
		Date   string `json:"date"`
		Visits int64  `json:"visits"`
	}

	SessionSummary struct {
		ID          string `json:"id"`
		HasPassword bool   `json:"hasPassword"`
	}

	// Identity is the pseudonymous, client generated user identity
	Identity struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Avatar string `json:"avatar"`
	}

	Participant struct {
		Identity
		JoinedAt time.Time `json:"joinedAt"`
		LastSeen time.Time `json:"lastSeen"`
	}

	Message struct {
		ID        string    `json:"id"`
		User      Identity  `json:"user"`
		Text      string    `json:"text"`
		Timestamp time.Time `json:"timestamp"`
	}

	EmojiReaction struct {
		ID        string    `json:"id"`
		Emoji     string    `json:"emoji"`
		User      Identity  `json:"user"`
		Timestamp time.Time `json:"timestamp"`
	}

	PlaybackUpdate struct {
		IsPlaying bool    `json:"isPlaying"`
		SeekTime  float64 `json:"seekTime"`
	}

	Recommendations struct {
		Recommendations []string `json:"recommendations"`
		Reasoning       string   `json:"reasoning"`
	}
)

func (s *Session) HasPassword() bool {
	return s.PasswordHash != ""
}

func (s *Session) Details() *SessionDetails {
	return &SessionDetails{
		ID:            s.ID,
		HasPassword:   s.HasPassword(),
		HostID:        s.HostID,
		ActiveSharer:  s.ActiveSharer,
		VideoSource:   s.VideoSource,
		PlaybackState: s.PlaybackState,
		UpdatedAt:     s.UpdatedAt,
	}
}

func (s *Session) Summary() SessionSummary {
	return SessionSummary{ID: s.ID, HasPassword: s.HasPassword()}
}

// IsHost reports whether userID currently holds the host role
func (s *Session) IsHost(userID string) bool {
	return s.HostID != nil && *s.HostID == userID
}

func (i *Identity) Valid() bool {
	return utils.IsLengthValid(strings.TrimSpace(i.ID), 1, 64) &&
		utils.IsLengthValid(strings.TrimSpace(i.Name), 1, 100) &&
		utils.IsLengthValid(i.Avatar, 0, 2048)
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformVimeo, PlatformDirect, PlatformUnknown:
		return true
	}
	return false
}

// Valid checks the platform/videoId pairing: ids are required for youtube and
// vimeo and must be absent for direct and unknown sources.
func (v *VideoSource) Valid() bool {
	if !v.Platform.Valid() || strings.TrimSpace(v.CorrectedURL) == "" {
		return false
	}
	switch v.Platform {
	case PlatformYouTube, PlatformVimeo:
		return v.VideoID != nil && *v.VideoID != ""
	default:
		return v.VideoID == nil
	}
}

func (u *PlaybackUpdate) Valid() bool {
	return !math.IsNaN(u.SeekTime) && !math.IsInf(u.SeekTime, 0) && u.SeekTime >= 0
}

// ResetPlayback is the state written whenever the video source changes
func ResetPlayback(now time.Time) *PlaybackState {
	return &PlaybackState{
		IsPlaying: false,
		SeekTime:  0,
		UpdatedBy: UpdatedBySystem,
		UpdatedAt: now,
	}
}

func IsEmojiValid(emoji string) bool {
	return utils.InArray(Emojis, emoji)
}

func IsPasswordValid(password string) bool {
	return len(password) <= MaxPasswordLength
}

func StringPtr(s string) *string {
	return &s
}
