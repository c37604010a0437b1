// Package eval runs golden conversations through the agent loop and checks
// the final replies.
package eval

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/vayux/mcp-intentful-agent/internal/agent"
	"github.com/vayux/mcp-intentful-agent/internal/backend"
	"github.com/vayux/mcp-intentful-agent/internal/bridge"
	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/orderbackend"
	"github.com/vayux/mcp-intentful-agent/internal/planner"
	"github.com/vayux/mcp-intentful-agent/internal/tools"
)

// AccessToken is the bearer token the harness presents to the backend.
const AccessToken = "test-token"

// Scopes granted to the harness. Order creation is not exercised.
var Scopes = []domain.Scope{domain.ScopeOrderRead, domain.ScopeOrderCancel}

// Case is one golden conversation. Every message is a separate turn; the
// checks apply to the reply of the last one.
type Case struct {
	Name        string
	Messages    []string
	Contains    []string
	NotContains []string
	// Mutations is the number of backend writes expected, checked only
	// against an in-process backend. Negative skips the check.
	Mutations int
}

// Golden returns the built-in conversations.
func Golden() []Case {
	return []Case{
		{
			Name:      "cancel_flow_asks_confirmation",
			Messages:  []string{"Cancel my delayed order"},
			Contains:  []string{"confirm", "cancel"},
			Mutations: 0,
		},
		{
			Name:      "status_check_shows_delayed",
			Messages:  []string{"What is my order status?"},
			Contains:  []string{"delayed"},
			Mutations: 0,
		},
		{
			Name:      "cancel_flow_executes_after_confirmation",
			Messages:  []string{"Cancel my order", "Yes, cancel it"},
			Contains:  []string{"cancelled"},
			Mutations: 1,
		},
		{
			Name:      "simple_greeting_handled",
			Messages:  []string{"Hello"},
			Contains:  []string{"help", "order"},
			Mutations: 0,
		},
	}
}

// Stack is a loop plus, when the backend runs in process, its order book.
type Stack struct {
	Loop   *agent.Loop
	Orders *orderbackend.Orders
	Close  func()
}

// StackFunc builds a fresh stack for each case.
type StackFunc func() (Stack, error)

// InProcess serves a freshly seeded orders backend over httptest for every
// case, so cases never see each other's writes.
func InProcess() StackFunc {
	return func() (Stack, error) {
		orders := orderbackend.NewOrders()
		srv := httptest.NewServer(orderbackend.NewServer(orders).Router())
		loop := newLoop(srv.URL)
		return Stack{Loop: loop, Orders: orders, Close: srv.Close}, nil
	}
}

// Remote points every case at an already running backend.
func Remote(baseURL string) StackFunc {
	return func() (Stack, error) {
		if baseURL == "" {
			return Stack{}, fmt.Errorf("backend url is required")
		}
		return Stack{Loop: newLoop(baseURL), Close: func() {}}, nil
	}
}

func newLoop(baseURL string) *agent.Loop {
	cfg := backend.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.AccessToken = AccessToken
	cfg.Timeout = 5 * time.Second
	ts := tools.New(backend.New(cfg, nil), Scopes)
	return agent.NewLoop(planner.New(), bridge.NewLocalDialer(ts))
}

// Report is the outcome of one case.
type Report struct {
	Name     string
	Passed   bool
	Message  string
	Reply    string
	Duration time.Duration
}

// Run executes one case on a fresh stack.
func Run(ctx context.Context, newStack StackFunc, c Case) Report {
	start := time.Now()
	rep := Report{Name: c.Name}
	defer func() { rep.Duration = time.Since(start) }()

	stack, err := newStack()
	if err != nil {
		rep.Message = fmt.Sprintf("build stack: %v", err)
		return rep
	}
	defer stack.Close()

	var history domain.History
	for _, msg := range c.Messages {
		turn, err := stack.Loop.RunTurn(ctx, msg, history)
		if err != nil {
			rep.Message = fmt.Sprintf("turn %q failed: %v", msg, err)
			return rep
		}
		history = turn.History
		rep.Reply = turn.Reply
	}

	if msg := check(c, rep.Reply, stack.Orders); msg != "" {
		rep.Message = msg
		return rep
	}
	rep.Passed = true
	rep.Message = "PASSED"
	return rep
}

// RunAll executes every case in order.
func RunAll(ctx context.Context, newStack StackFunc, cases []Case) []Report {
	reports := make([]Report, 0, len(cases))
	for _, c := range cases {
		reports = append(reports, Run(ctx, newStack, c))
	}
	return reports
}

func check(c Case, reply string, orders *orderbackend.Orders) string {
	got := strings.ToLower(reply)
	for _, want := range c.Contains {
		if !strings.Contains(got, strings.ToLower(want)) {
			return fmt.Sprintf("expected reply to contain %q, got: %s", want, truncate(reply, 100))
		}
	}
	for _, unwanted := range c.NotContains {
		if strings.Contains(got, strings.ToLower(unwanted)) {
			return fmt.Sprintf("expected reply NOT to contain %q, got: %s", unwanted, truncate(reply, 100))
		}
	}
	if orders != nil && c.Mutations >= 0 && orders.Mutations() != c.Mutations {
		return fmt.Sprintf("expected %d backend mutations, got %d", c.Mutations, orders.Mutations())
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
