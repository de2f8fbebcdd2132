// Package aggregate accumulates streamed assistant output per session
// and emits a single synthetic completion when the session goes idle.
//
// Three inbound shapes feed the accumulator: message updates register
// assistant message IDs and usage snapshots, message-part updates
// collect text fragments for registered messages, and session-idle
// events trigger emission. Text from messages never registered as
// assistant-authored is discarded, so user prompts never appear in
// outbound notifications. An optional idle debounce delays emission
// and is cancelled by renewed activity.
package aggregate

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/hookline/hookline/pkg/hookline/event"
	"github.com/hookline/hookline/pkg/hookline/observability"
	"github.com/hookline/hookline/pkg/hookline/schedule"
)

// RoleAssistant is the message role whose parts are accumulated.
const RoleAssistant = "assistant"

// Session is what the title lookup returns for a session.
type Session struct {
	Title     string
	Directory string
}

// TitleLookup resolves session metadata for completion payloads. It
// may fail; the aggregator degrades to fallbacks and never surfaces
// the error.
type TitleLookup func(ctx context.Context, sessionID string) (Session, error)

// CompletionFunc receives each emitted completion.
type CompletionFunc func(event.Completion)

// Config configures an Aggregator.
type Config struct {
	// OnCompletion is invoked once per idle transition with accumulated
	// content. Required.
	OnCompletion CompletionFunc

	// Lookup resolves session titles. Optional; on nil or failure the
	// title falls back to the directory basename, then the session ID.
	Lookup TitleLookup

	// IdleDelay debounces emission: a session-idle event arms a timer
	// for this duration instead of emitting immediately, and renewed
	// activity cancels it. Zero emits on the idle event itself.
	IdleDelay time.Duration

	// Logger enables structured debug logging.
	Logger *slog.Logger

	// Now overrides the clock (for tests).
	Now func() time.Time

	// Scheduler drives the idle-delay timers. Default: StdScheduler.
	Scheduler schedule.Scheduler
}

// sessionState is the per-session accumulator. Owned by the
// Aggregator's mutex.
type sessionState struct {
	assistantIDs  map[string]struct{}
	parts         map[string]string
	partOrder     []string
	lastMessageID string
	usage         *event.Usage
	idle          schedule.Timer
}

// Aggregator turns per-session message streams into completion events.
type Aggregator struct {
	onCompletion CompletionFunc
	lookup       TitleLookup
	idleDelay    time.Duration
	logger       *slog.Logger
	now          func() time.Time
	sched        schedule.Scheduler

	mu       sync.Mutex
	sessions map[string]*sessionState
	closed   bool
}

// New creates an Aggregator from the configuration.
func New(cfg Config) *Aggregator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.NewStdScheduler()
	}
	return &Aggregator{
		onCompletion: cfg.OnCompletion,
		lookup:       cfg.Lookup,
		idleDelay:    cfg.IdleDelay,
		logger:       cfg.Logger,
		now:          cfg.Now,
		sched:        cfg.Scheduler,
		sessions:     make(map[string]*sessionState),
	}
}

// HandleMessageUpdated registers assistant messages and records the
// latest usage snapshot. Counts as activity: a pending idle emission
// for the session is cancelled, state retained.
func (a *Aggregator) HandleMessageUpdated(u event.MessageUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || u.SessionID == "" {
		return
	}
	a.cancelIdleLocked(u.SessionID)
	if u.Role != RoleAssistant {
		return
	}
	st := a.stateLocked(u.SessionID)
	st.assistantIDs[u.MessageID] = struct{}{}
	if u.Usage != nil {
		snapshot := *u.Usage
		st.usage = &snapshot
	}
}

// HandleMessagePart accumulates a text part for a registered assistant
// message. Parts for unregistered messages and non-text parts are
// discarded, but every part event still counts as activity: a pending
// idle emission for the session is cancelled before the discard. Later
// updates to the same part ID overwrite the stored text.
func (a *Aggregator) HandleMessagePart(p event.MessagePart) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || p.SessionID == "" {
		return
	}
	a.cancelIdleLocked(p.SessionID)
	if p.PartType != "text" {
		return
	}
	st := a.sessions[p.SessionID]
	if st == nil {
		return
	}
	if _, ok := st.assistantIDs[p.MessageID]; !ok {
		return
	}
	if _, ok := st.parts[p.PartID]; !ok {
		st.partOrder = append(st.partOrder, p.PartID)
	}
	st.parts[p.PartID] = p.Text
	st.lastMessageID = p.MessageID
}

// HandleSessionIdle triggers emission for the session, either
// immediately or after the configured idle delay. A session with no
// accumulated parts is a no-op. A second idle event while a timer is
// pending resets it to the full delay.
func (a *Aggregator) HandleSessionIdle(s event.SessionIdle) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	st := a.sessions[s.SessionID]
	if st == nil || len(st.parts) == 0 {
		a.mu.Unlock()
		return
	}

	if a.idleDelay <= 0 {
		a.mu.Unlock()
		a.emit(s.SessionID)
		return
	}

	if st.idle != nil {
		st.idle.Stop()
	}
	id := s.SessionID
	st.idle = a.sched.AfterFunc(a.idleDelay, func() {
		a.emit(id)
	})
	a.mu.Unlock()
}

// Pending reports whether sessionID has any accumulated parts.
func (a *Aggregator) Pending(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.sessions[sessionID]
	return st != nil && len(st.parts) > 0
}

// Close cancels all pending idle timers with no emission and rejects
// further events.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for _, st := range a.sessions {
		if st.idle != nil {
			st.idle.Stop()
		}
	}
	a.sessions = make(map[string]*sessionState)
}

// emit snapshots and clears the session state, then builds and
// delivers the completion. State is cleared whether or not the
// callback or the title lookup succeed.
func (a *Aggregator) emit(sessionID string) {
	a.mu.Lock()
	st := a.sessions[sessionID]
	if a.closed || st == nil || len(st.parts) == 0 {
		a.mu.Unlock()
		return
	}
	delete(a.sessions, sessionID)
	a.mu.Unlock()

	fragments := make([]string, 0, len(st.partOrder))
	for _, partID := range st.partOrder {
		fragments = append(fragments, st.parts[partID])
	}

	c := event.Completion{
		SessionID:      sessionID,
		SessionTitle:   a.resolveTitle(sessionID),
		MessageContent: Join(fragments),
		MessageID:      st.lastMessageID,
		Timestamp:      a.now(),
	}
	if st.usage != nil {
		c.Tokens = st.usage.Tokens
		c.Cost = st.usage.Cost
	}

	observability.LogCompletionEmitted(a.logger, sessionID, len(fragments))
	if a.onCompletion != nil {
		a.onCompletion(c)
	}
}

// resolveTitle runs the fallback chain: lookup title, directory
// basename, raw session ID. Lookup failures are swallowed.
func (a *Aggregator) resolveTitle(sessionID string) string {
	if a.lookup == nil {
		return sessionID
	}
	sess, err := a.lookup(context.Background(), sessionID)
	if err != nil {
		if a.logger != nil {
			a.logger.Debug("session title lookup failed",
				slog.String("sessionId", sessionID),
				slog.String("error", err.Error()))
		}
		return sessionID
	}
	if sess.Title != "" {
		return sess.Title
	}
	if base := path.Base(sess.Directory); base != "" && base != "." && base != "/" {
		return base
	}
	return sessionID
}

// stateLocked returns the session state, creating it on first use.
// Caller holds the mutex.
func (a *Aggregator) stateLocked(sessionID string) *sessionState {
	st := a.sessions[sessionID]
	if st == nil {
		st = &sessionState{
			assistantIDs: make(map[string]struct{}),
			parts:        make(map[string]string),
		}
		a.sessions[sessionID] = st
	}
	return st
}

// cancelIdleLocked stops a pending idle timer for the session, if any.
// Caller holds the mutex.
func (a *Aggregator) cancelIdleLocked(sessionID string) {
	if st := a.sessions[sessionID]; st != nil && st.idle != nil {
		st.idle.Stop()
		st.idle = nil
	}
}
