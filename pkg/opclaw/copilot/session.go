package copilot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
)

// DefaultSessionTTL is the sliding inactivity window of a session.
const DefaultSessionTTL = 10 * time.Minute

// Turn is one conversation turn.
type Turn struct {
	Role llm.Role
	Text string
	At   time.Time
}

// Session is the conversation state of one operator. It is owned by the
// SessionStore and dropped after a period of inactivity.
type Session struct {
	// OperatorID is the platform user the session belongs to.
	OperatorID string

	// CreatedAt is the session creation time.
	CreatedAt time.Time

	// conv is the model-side conversation handle. Sends are serialized by sendMu.
	conv   llm.Conversation
	sendMu sync.Mutex

	mu         sync.Mutex
	turns      []Turn
	lastActive time.Time
	timer      *time.Timer
	gen        uint64
}

// Turns returns a copy of the conversation turns in insertion order.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// LastActive returns the time of the last touch.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// send forwards text through the conversation handle, one call at a time.
func (s *Session) send(ctx context.Context, text string) (*llm.Response, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conv.Send(ctx, text)
}

// SessionStore keeps at most one live session per operator. Each session
// carries its own expiry timer, reset on every touch.
type SessionStore struct {
	ttl      time.Duration
	newConv  func() llm.Conversation
	onChange func(live int)
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore creates a store. newConv opens the conversation handle of a
// new session.
func NewSessionStore(ttl time.Duration, newConv func() llm.Conversation, logger *slog.Logger) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		ttl:      ttl,
		newConv:  newConv,
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]*Session),
	}
}

// OnChange registers a callback invoked with the live session count after
// every creation or expiry.
func (ss *SessionStore) OnChange(fn func(live int)) { ss.onChange = fn }

// GetOrCreate returns the operator's live session, creating it if absent, and
// resets its expiry timer.
func (ss *SessionStore) GetOrCreate(operatorID string) *Session {
	ss.mu.Lock()
	s, ok := ss.sessions[operatorID]
	if !ok {
		now := time.Now()
		s = &Session{
			OperatorID: operatorID,
			CreatedAt:  now,
			lastActive: now,
			conv:       ss.newConv(),
		}
		ss.sessions[operatorID] = s
		ss.logger.Debug("session created", "operator", operatorID)
	}
	live := len(ss.sessions)
	ss.mu.Unlock()

	ss.Touch(s)
	if !ok {
		ss.changed(live)
	}
	return s
}

// Get returns the live session of the operator, if any.
func (ss *SessionStore) Get(operatorID string) (*Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.sessions[operatorID]
	return s, ok
}

// AppendTurn appends a turn to the session.
func (ss *SessionStore) AppendTurn(s *Session, role llm.Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Text: text, At: time.Now()})
}

// Touch cancels the pending expiry and schedules a new one a full TTL from now.
func (ss *SessionStore) Touch(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive = time.Now()
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(ss.ttl, func() { ss.expire(s, gen) })
}

// expire removes s unless it was touched after this timer was scheduled.
func (ss *SessionStore) expire(s *Session, gen uint64) {
	ss.mu.Lock()
	s.mu.Lock()
	if s.gen != gen || ss.sessions[s.OperatorID] != s {
		s.mu.Unlock()
		ss.mu.Unlock()
		return
	}
	delete(ss.sessions, s.OperatorID)
	s.timer = nil
	s.mu.Unlock()
	live := len(ss.sessions)
	ss.mu.Unlock()

	ss.logger.Debug("session expired", "operator", s.OperatorID)
	ss.changed(live)
}

// Count returns the number of live sessions.
func (ss *SessionStore) Count() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}

// Close stops every timer and drops all sessions.
func (ss *SessionStore) Close() {
	ss.mu.Lock()
	for id, s := range ss.sessions {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.gen++
		s.mu.Unlock()
		delete(ss.sessions, id)
	}
	ss.mu.Unlock()
	ss.changed(0)
}

func (ss *SessionStore) changed(live int) {
	if ss.onChange != nil {
		ss.onChange(live)
	}
}
