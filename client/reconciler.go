package client

import (
	"context"
	"fmt"
	"math"
	"sync"
	"syncstream.me/model"
	"syncstream.me/party"
	"time"
)

// DefaultDriftThreshold is how far a local player may drift from the room
// before it is seeked
const DefaultDriftThreshold = 2 * time.Second

// Player is the local video element being kept in step
type Player interface {
	// Position in seconds
	Position() float64
	Playing() bool
	Seek(seconds float64)
	Play()
	Pause()
}

// Reconciler applies remote playback states to a local Player without
// echoing them back. Local writes must not be issued from inside Apply.
type Reconciler struct {
	localID   string
	threshold time.Duration
	now       func() time.Time

	mu          sync.Mutex
	lastApplied time.Time
	lastSession time.Time
}

func NewReconciler(localID string, threshold time.Duration) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	return &Reconciler{localID: localID, threshold: threshold, now: time.Now}
}

// Expected returns where the room is now: the stored position, moved forward
// by the time passed since the update while playing
func (r *Reconciler) Expected(state *model.PlaybackState) float64 {
	if !state.IsPlaying {
		return state.SeekTime
	}
	elapsed := r.now().Sub(state.UpdatedAt).Seconds()
	return state.SeekTime + math.Max(0, elapsed)
}

// Apply brings p in line with state and reports whether p was touched. Echoes
// of the local participant's own writes and states not newer than the last
// applied one are skipped.
func (r *Reconciler) Apply(p Player, state *model.PlaybackState) bool {
	if state == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !state.UpdatedAt.After(r.lastApplied) {
		return false
	}
	r.lastApplied = state.UpdatedAt
	if state.UpdatedBy == r.localID {
		return false
	}
	return r.apply(p, state, false)
}

// Force applies state regardless of its author and age, the "sync to host"
// action
func (r *Reconciler) Force(p Player, state *model.PlaybackState) bool {
	if state == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if state.UpdatedAt.After(r.lastApplied) {
		r.lastApplied = state.UpdatedAt
	}
	return r.apply(p, state, true)
}

func (r *Reconciler) apply(p Player, state *model.PlaybackState, seek bool) bool {
	touched := false
	expected := r.Expected(state)
	if seek || math.Abs(p.Position()-expected) > r.threshold.Seconds() {
		p.Seek(expected)
		touched = true
	}
	if state.IsPlaying && !p.Playing() {
		p.Play()
		touched = true
	} else if !state.IsPlaying && p.Playing() {
		p.Pause()
		touched = true
	}
	return touched
}

// fresh reports whether the snapshot is not older than the last one seen
func (r *Reconciler) fresh(s *model.SessionDetails) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.UpdatedAt.Before(r.lastSession) {
		return false
	}
	r.lastSession = s.UpdatedAt
	return true
}

// Follow applies the session events of l to p until ctx is done or the
// connection ends. onSession, when set, sees every session snapshot that is
// not older than the ones before it.
func (r *Reconciler) Follow(ctx context.Context, l *Live, p Player, onSession func(*Session)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.Done():
			return ErrClosed
		case e := <-l.Events():
			if e.Type == party.EventDeleted {
				return fmt.Errorf("session %s: %w", e.SessionID, model.ErrNotFound)
			}
			if e.Type != party.EventSession || e.Session == nil || !r.fresh(e.Session) {
				continue
			}
			r.Apply(p, e.Session.PlaybackState)
			if onSession != nil {
				onSession(&Session{SessionDetails: *e.Session})
			}
		}
	}
}
