package party

import (
	"strings"
	"syncstream.me/model"
)

const eventsChannel = "events:"

type EventType string

const (
	EventSession      EventType = "session"
	EventParticipants EventType = "participants"
	EventMessage      EventType = "message"
	EventEmoji        EventType = "emoji"
	EventDeleted      EventType = "deleted"
)

// Event is published after every write to a session. Session events carry a
// full snapshot so consumers never have to merge partial updates.
type Event struct {
	Type         EventType             `json:"type"`
	SessionID    string                `json:"sessionId"`
	Session      *model.SessionDetails `json:"session,omitempty"`
	Participants []*model.Participant  `json:"participants,omitempty"`
	Message      *model.Message        `json:"message,omitempty"`
	Emoji        *model.EmojiReaction  `json:"emoji,omitempty"`
}

func channel(sessionID string) string {
	return eventsChannel + sessionID
}

func sessionFromChannel(ch string) (string, bool) {
	if !strings.HasPrefix(ch, eventsChannel) || len(ch) == len(eventsChannel) {
		return "", false
	}
	return ch[len(eventsChannel):], true
}
