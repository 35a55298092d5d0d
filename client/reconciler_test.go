package client

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"syncstream.me/model"
	"syncstream.me/party"
	"testing"
	"time"
)

type fakePlayer struct {
	position float64
	playing  bool
	seeks    []float64
}

func (p *fakePlayer) Position() float64 { return p.position }
func (p *fakePlayer) Playing() bool     { return p.playing }
func (p *fakePlayer) Play()             { p.playing = true }
func (p *fakePlayer) Pause()            { p.playing = false }

func (p *fakePlayer) Seek(seconds float64) {
	p.position = seconds
	p.seeks = append(p.seeks, seconds)
}

func newReconciler(now time.Time) *Reconciler {
	r := NewReconciler("me", 0)
	r.now = func() time.Time { return now }
	return r
}

func TestReconcilerExtrapolates(t *testing.T) {
	base := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	r := newReconciler(base.Add(10 * time.Second))

	playing := &model.PlaybackState{IsPlaying: true, SeekTime: 30, UpdatedBy: "host", UpdatedAt: base}
	assert.Equal(t, float64(40), r.Expected(playing))

	paused := &model.PlaybackState{IsPlaying: false, SeekTime: 30, UpdatedBy: "host", UpdatedAt: base}
	assert.Equal(t, float64(30), r.Expected(paused))

	future := &model.PlaybackState{IsPlaying: true, SeekTime: 30, UpdatedBy: "host", UpdatedAt: base.Add(time.Minute)}
	assert.Equal(t, float64(30), r.Expected(future))
}

func TestReconcilerApply(t *testing.T) {
	base := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	r := newReconciler(base)
	p := &fakePlayer{}

	assert.True(t, r.Apply(p, &model.PlaybackState{IsPlaying: true, SeekTime: 60, UpdatedBy: "host", UpdatedAt: base}))
	assert.True(t, p.playing)
	assert.Equal(t, []float64{60}, p.seeks)

	// within the drift threshold
	p.position = 61.5
	assert.False(t, r.Apply(p, &model.PlaybackState{IsPlaying: true, SeekTime: 60, UpdatedBy: "host", UpdatedAt: base.Add(time.Millisecond)}))
	assert.Len(t, p.seeks, 1)

	// pause without a seek
	assert.True(t, r.Apply(p, &model.PlaybackState{IsPlaying: false, SeekTime: 61, UpdatedBy: "host", UpdatedAt: base.Add(time.Second)}))
	assert.False(t, p.playing)
	assert.Len(t, p.seeks, 1)

	// beyond it
	assert.True(t, r.Apply(p, &model.PlaybackState{IsPlaying: false, SeekTime: 120, UpdatedBy: "host", UpdatedAt: base.Add(2 * time.Second)}))
	assert.Equal(t, float64(120), p.position)

	assert.False(t, r.Apply(p, nil))
}

func TestReconcilerSkipsEchoesAndStaleStates(t *testing.T) {
	base := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	r := newReconciler(base)
	p := &fakePlayer{position: 10}

	own := &model.PlaybackState{IsPlaying: true, SeekTime: 500, UpdatedBy: "me", UpdatedAt: base}
	assert.False(t, r.Apply(p, own))
	assert.Empty(t, p.seeks)
	assert.False(t, p.playing)

	stale := &model.PlaybackState{IsPlaying: true, SeekTime: 900, UpdatedBy: "host", UpdatedAt: base.Add(-time.Second)}
	assert.False(t, r.Apply(p, stale))
	same := &model.PlaybackState{IsPlaying: true, SeekTime: 900, UpdatedBy: "host", UpdatedAt: base}
	assert.False(t, r.Apply(p, same))
	assert.Empty(t, p.seeks)
}

func TestReconcilerForce(t *testing.T) {
	base := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	r := newReconciler(base.Add(2 * time.Second))
	p := &fakePlayer{position: 11}

	state := &model.PlaybackState{IsPlaying: true, SeekTime: 10, UpdatedBy: "me", UpdatedAt: base}
	assert.True(t, r.Force(p, state))
	assert.Equal(t, []float64{12}, p.seeks)
	assert.True(t, p.playing)

	// the forced state counts as applied
	assert.False(t, r.Apply(p, state))
	assert.False(t, r.Force(p, nil))
}

func TestReconcilerFollowSkipsOlderSnapshots(t *testing.T) {
	base := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	r := newReconciler(base.Add(time.Hour))
	p := &fakePlayer{}
	l := &Live{events: make(chan *party.Event, 4), done: make(chan struct{})}

	snapshot := func(at time.Time, host string) *party.Event {
		return &party.Event{Type: party.EventSession, SessionID: "room", Session: &model.SessionDetails{
			ID:            "room",
			HostID:        model.StringPtr(host),
			PlaybackState: &model.PlaybackState{SeekTime: 10, UpdatedBy: host, UpdatedAt: at},
			UpdatedAt:     at,
		}}
	}
	l.events <- snapshot(base.Add(2*time.Second), "bob")
	l.events <- snapshot(base.Add(time.Second), "carol")
	l.events <- &party.Event{Type: party.EventDeleted, SessionID: "room"}

	var hosts []string
	err := r.Follow(context.Background(), l, p, func(s *Session) {
		hosts = append(hosts, *s.HostID)
	})
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, []string{"bob"}, hosts)
	assert.Len(t, p.seeks, 1)
}

func TestShouldShareScreen(t *testing.T) {
	s := &Session{}
	assert.False(t, s.ShouldShareScreen("me"))
	s.ActiveSharer = model.StringPtr("me")
	assert.True(t, s.ShouldShareScreen("me"))
	assert.False(t, s.ShouldShareScreen("you"))
	assert.False(t, s.ShouldShareScreen(""))
}
