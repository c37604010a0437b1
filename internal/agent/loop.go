package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vayux/mcp-intentful-agent/internal/action"
	"github.com/vayux/mcp-intentful-agent/internal/bridge"
	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/metrics"
	"github.com/vayux/mcp-intentful-agent/internal/planner"
)

// MaxSteps bounds the planner invocations of a single turn.
const MaxSteps = 6

const (
	msgConfirmFallback = `I need your confirmation to proceed. Reply "Yes" to confirm.`
	msgStepLimit       = "I couldn't complete that safely within the step limit. Please try again with more details."
)

var tracer = otel.Tracer("github.com/vayux/mcp-intentful-agent/internal/agent")

// Planner decides the next action of a turn.
type Planner interface {
	Decide(text string, history domain.History, state planner.State) planner.Decision
}

var _ Planner = (*planner.Planner)(nil)

// Outcome says how a turn ended.
type Outcome string

const (
	OutcomeFinal        Outcome = "final"
	OutcomeAskUser      Outcome = "ask_user"
	OutcomeConfirmation Outcome = "confirmation"
	OutcomeExhausted    Outcome = "exhausted"
)

var terminalOutcome = map[action.Kind]Outcome{
	action.KindFinal:   OutcomeFinal,
	action.KindAskUser: OutcomeAskUser,
}

// Conversation is the state carried between turns.
type Conversation struct {
	History domain.History
	State   planner.State
}

// Turn is the result of one loop run.
type Turn struct {
	Reply   string
	History domain.History
	State   planner.State
	Outcome Outcome
	// Steps counts planner invocations, including the confirmation re-ask.
	Steps     int
	ToolsUsed []string
}

// Loop runs bounded turns against a tool server.
type Loop struct {
	planner  Planner
	dialer   bridge.Dialer
	maxSteps int
	logger   *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxSteps overrides MaxSteps. Values below one are ignored.
func WithMaxSteps(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxSteps = n
		}
	}
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// NewLoop creates a Loop.
func NewLoop(p Planner, d bridge.Dialer, opts ...LoopOption) *Loop {
	l := &Loop{planner: p, dialer: d, maxSteps: MaxSteps, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RunTurn runs one turn with the state implied by history.
func (l *Loop) RunTurn(ctx context.Context, utterance string, history domain.History) (Turn, error) {
	return l.Resume(ctx, utterance, Conversation{History: history, State: planner.StateOf(history)})
}

// Resume runs one turn from an explicit conversation state. The tool session
// is opened on entry and closed on every return path. A cancelled context
// ends the turn between steps with the history gathered so far.
func (l *Loop) Resume(ctx context.Context, utterance string, conv Conversation) (turn Turn, err error) {
	ctx, span := tracer.Start(ctx, "agent.turn")
	start := time.Now()
	turn = Turn{History: conv.History, State: conv.State}
	defer func() {
		outcome := string(turn.Outcome)
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.String("turn.outcome", outcome),
			attribute.Int("turn.steps", turn.Steps),
		)
		span.End()
		metrics.TurnTotal.WithLabelValues(outcome).Inc()
		metrics.TurnSteps.Observe(float64(turn.Steps))
		metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}()

	session, err := l.dialer.Dial(ctx)
	if err != nil {
		return turn, fmt.Errorf("open tool session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			l.logger.Warn("failed to close tool session", "error", closeErr)
		}
	}()

	known := make(map[string]bool)
	for _, name := range session.Tools() {
		known[name] = true
	}

	text := utterance
	for turn.Steps < l.maxSteps {
		if err := ctx.Err(); err != nil {
			return turn, fmt.Errorf("turn interrupted after %d steps: %w", turn.Steps, err)
		}

		d, err := l.decide(ctx, text, &turn)
		if err != nil {
			return turn, err
		}
		text = ""

		switch a := d.Action.(type) {
		case action.Final, action.AskUser:
			reply, _ := action.Text(a)
			turn.finish(reply, terminalOutcome[a.Kind()], d.State)
			return turn, nil
		case action.Tool:
			r := l.invoke(ctx, session, known, a)
			turn.History = turn.History.Append(r)
			turn.ToolsUsed = append(turn.ToolsUsed, a.Name)
			turn.State = planner.StateOf(turn.History)
			if r.IsConfirmationRequired() {
				l.askConfirmation(ctx, &turn)
				return turn, nil
			}
		default:
			return turn, fmt.Errorf("%w: unhandled action %T", action.ErrSchema, d.Action)
		}
	}

	l.logger.Warn("turn hit the step limit", "steps", turn.Steps, "history_len", len(turn.History))
	turn.finish(msgStepLimit, OutcomeExhausted, planner.StateOf(turn.History))
	return turn, nil
}

// askConfirmation gives the planner one more step to phrase the confirmation
// question. The fixed prompt is used when no step is left or the planner
// answers with anything other than AskUser.
func (l *Loop) askConfirmation(ctx context.Context, turn *Turn) {
	state := turn.State
	if turn.Steps < l.maxSteps {
		d, err := l.decide(ctx, "", turn)
		if ask, ok := d.Action.(action.AskUser); ok && err == nil {
			turn.finish(ask.Question, OutcomeConfirmation, d.State)
			return
		}
		l.logger.Warn("planner did not ask for confirmation", "step", turn.Steps, "error", err)
	}
	turn.finish(msgConfirmFallback, OutcomeConfirmation, state)
}

func (l *Loop) decide(ctx context.Context, text string, turn *Turn) (planner.Decision, error) {
	_, span := tracer.Start(ctx, "planner.decide")
	defer span.End()

	turn.Steps++
	d := l.planner.Decide(text, turn.History, turn.State)
	span.SetAttributes(
		attribute.Int("planner.step", turn.Steps),
		attribute.String("planner.intent", string(d.Intent)),
		attribute.String("planner.phase", d.State.Phase.String()),
	)
	if err := action.Validate(d.Action); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return d, fmt.Errorf("planner step %d: %w", turn.Steps, err)
	}
	span.SetAttributes(attribute.String("planner.action", string(d.Action.Kind())))

	l.logger.Debug("planner decided",
		"step", turn.Steps,
		"intent", d.Intent,
		"action", d.Action.Kind(),
	)
	return d, nil
}

// invoke calls one tool. Names the session did not advertise are answered
// with NOT_FOUND without reaching the server.
func (l *Loop) invoke(ctx context.Context, session bridge.Session, known map[string]bool, t action.Tool) domain.ToolResult {
	start := time.Now()
	var r domain.ToolResult
	if known[t.Name] {
		r = session.Invoke(ctx, t.Name, t.Args)
	} else {
		r = domain.Failure(domain.NewToolError(domain.CodeNotFound, "Unknown tool: "+t.Name, nil))
	}
	r.Tool = t.Name

	code := "ok"
	if !r.OK {
		code = string(r.Code())
	}
	metrics.ToolCallTotal.WithLabelValues(t.Name, code).Inc()
	metrics.ToolCallDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())

	l.logger.Info("tool invoked", "tool", t.Name, "ok", r.OK, "code", code, "why", t.Rationale)
	return r
}

func (t *Turn) finish(reply string, outcome Outcome, state planner.State) {
	t.Reply = reply
	t.Outcome = outcome
	t.State = state
}
