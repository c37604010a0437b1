package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/planner"
	"github.com/vayux/mcp-intentful-agent/internal/store"
)

// ErrEmptyMessage is returned for a chat request without text.
var ErrEmptyMessage = errors.New("message is required")

const partialSaveTimeout = 5 * time.Second

// Service runs chat turns and persists the conversation between them.
type Service struct {
	loop   *Loop
	repo   store.Repository
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a chat service.
func NewService(loop *Loop, repo store.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		loop:   loop,
		repo:   repo,
		logger: logger,
		locks:  make(map[string]*sessionLock),
	}
}

// Chat loads the session, runs one turn and saves the result. Turns of the
// same session run one at a time.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	now := time.Now()
	if sess == nil {
		sess = &domain.ChatSession{SessionID: sessionID, CreatedAt: now}
	}

	conv := Conversation{History: sess.History, State: s.decodeState(sess)}
	turn, err := s.loop.Resume(ctx, message, conv)
	if err != nil {
		s.logger.Error("turn failed", "session_id", sessionID, "steps", turn.Steps, "error", err)
		if len(turn.History) > len(conv.History) {
			s.savePartial(ctx, sess, message, turn.History, now)
		}
		return nil, fmt.Errorf("run turn: %w", err)
	}

	state, err := json.Marshal(turn.State)
	if err != nil {
		return nil, fmt.Errorf("encode planner state: %w", err)
	}
	sess.History = turn.History
	sess.State = string(state)
	sess.Messages = append(sess.Messages,
		domain.StoredMessage{Role: RoleUser, Content: message},
		domain.StoredMessage{Role: RoleAssistant, Content: turn.Reply},
	)
	sess.UpdatedAt = now
	if err := s.repo.UpsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("chat turn completed",
		"session_id", sessionID,
		"outcome", turn.Outcome,
		"steps", turn.Steps,
		"tools_used", turn.ToolsUsed,
	)
	return &ChatResponse{
		Reply:     turn.Reply,
		SessionID: sessionID,
		ToolsUsed: turn.ToolsUsed,
		State:     turn.State.Phase.String(),
	}, nil
}

// savePartial keeps the tool results of an interrupted turn so a completed
// write is not offered for confirmation again. The state is rederived from the
// history since the loop did not reach a decision.
func (s *Service) savePartial(ctx context.Context, sess *domain.ChatSession, message string, history domain.History, now time.Time) {
	state, err := json.Marshal(planner.StateOf(history))
	if err != nil {
		s.logger.Error("encode planner state", "session_id", sess.SessionID, "error", err)
		return
	}
	sess.History = history
	sess.State = string(state)
	sess.Messages = append(sess.Messages, domain.StoredMessage{Role: RoleUser, Content: message})
	sess.UpdatedAt = now

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), partialSaveTimeout)
	defer cancel()
	if err := s.repo.UpsertSession(ctx, sess); err != nil {
		s.logger.Error("save partial turn", "session_id", sess.SessionID, "error", err)
		return
	}
	s.logger.Warn("saved partial turn", "session_id", sess.SessionID, "results", len(history))
}

// Sessions lists stored sessions.
func (s *Service) Sessions(ctx context.Context) ([]domain.SessionSummary, error) {
	return s.repo.ListSessions(ctx)
}

// ResetSession deletes a session.
func (s *Service) ResetSession(ctx context.Context, sessionID string) error {
	unlock := s.lock(sessionID)
	defer unlock()

	return s.repo.DeleteSession(ctx, sessionID)
}

// lock serializes work on one session. Entries are dropped once no caller
// holds or waits for them.
func (s *Service) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}

// decodeState restores the stored planner state, falling back to the state
// implied by the history.
func (s *Service) decodeState(sess *domain.ChatSession) planner.State {
	if sess.State == "" {
		return planner.StateOf(sess.History)
	}
	var st planner.State
	if err := json.Unmarshal([]byte(sess.State), &st); err != nil {
		s.logger.Warn("discarding unreadable planner state", "session_id", sess.SessionID, "error", err)
		return planner.StateOf(sess.History)
	}
	return st
}
