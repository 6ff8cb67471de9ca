package service

import (
	"context"
	"sync"
	"time"
)

// PlaybackState is one of Idle, Playing or Stopped
type PlaybackState interface {
	Kind() string
}

// Idle means nothing has been played in the session yet
type Idle struct{}

// Playing means a synthesized reply is being delivered
type Playing struct {
	MessageID string
	AudioURL  string
	StartedAt time.Time
	cancel    context.CancelFunc
}

// StopReason explains why playback ended
type StopReason string

const (
	StopRequested StopReason = "requested"
	StopReplaced  StopReason = "replaced"
	StopFinished  StopReason = "finished"
)

// Stopped means the last playback ended
type Stopped struct {
	MessageID string
	Reason    StopReason
}

func (Idle) Kind() string    { return "idle" }
func (Playing) Kind() string { return "playing" }
func (Stopped) Kind() string { return "stopped" }

// PlaybackView is the JSON form of a playback state
type PlaybackView struct {
	State     string     `json:"state"`
	MessageID string     `json:"messageId,omitempty"`
	AudioURL  string     `json:"audioUrl,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Reason    StopReason `json:"reason,omitempty"`
}

// Playback tracks the speech playback of one voice session
type Playback struct {
	mu    sync.Mutex
	state PlaybackState
	now   func() time.Time
}

func newPlayback(now func() time.Time) *Playback {
	return &Playback{state: Idle{}, now: now}
}

// Play starts playback of a message, stopping any current one. The returned
// context is cancelled when this playback is stopped or replaced.
func (p *Playback) Play(parent context.Context, messageID, audioURL string) context.Context {
	ctx, cancel := context.WithCancel(parent)

	p.mu.Lock()
	defer p.mu.Unlock()

	if playing, ok := p.state.(Playing); ok {
		playing.cancel()
	}
	p.state = Playing{
		MessageID: messageID,
		AudioURL:  audioURL,
		StartedAt: p.now(),
		cancel:    cancel,
	}
	return ctx
}

// Stop ends the current playback. It reports false when nothing was playing.
func (p *Playback) Stop(reason StopReason) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	playing, ok := p.state.(Playing)
	if !ok {
		return false
	}
	playing.cancel()
	p.state = Stopped{MessageID: playing.MessageID, Reason: reason}
	return true
}

// Finish marks messageID as played to the end if it is still the current one
func (p *Playback) Finish(messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if playing, ok := p.state.(Playing); ok && playing.MessageID == messageID {
		playing.cancel()
		p.state = Stopped{MessageID: messageID, Reason: StopFinished}
	}
}

// State returns the current state
func (p *Playback) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// View renders the current state
func (p *Playback) View() PlaybackView {
	switch s := p.State().(type) {
	case Playing:
		started := s.StartedAt
		return PlaybackView{State: s.Kind(), MessageID: s.MessageID, AudioURL: s.AudioURL, StartedAt: &started}
	case Stopped:
		return PlaybackView{State: s.Kind(), MessageID: s.MessageID, Reason: s.Reason}
	default:
		return PlaybackView{State: Idle{}.Kind()}
	}
}

// PlaybackRegistry holds one Playback per voice session
type PlaybackRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Playback
	now      func() time.Time
}

// NewPlaybackRegistry creates an empty registry
func NewPlaybackRegistry() *PlaybackRegistry {
	return &PlaybackRegistry{sessions: make(map[string]*Playback), now: time.Now}
}

// For returns the session's playback, creating it on first use
func (r *PlaybackRegistry) For(sessionID string) *Playback {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.sessions[sessionID]
	if !ok {
		p = newPlayback(r.now)
		r.sessions[sessionID] = p
	}
	return p
}

// Forget stops and drops a session's playback
func (r *PlaybackRegistry) Forget(sessionID string) {
	r.mu.Lock()
	p, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if ok {
		p.Stop(StopRequested)
	}
}
