package planner

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vayux/mcp-intentful-agent/internal/action"
	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

func orderResult(id, status string) domain.ToolResult {
	r := domain.Success(map[string]any{"order": map[string]any{
		"orderId": id, "status": status, "items": []any{map[string]any{"name": "Widget", "qty": 2.0}}, "total": 49.99, "cancelled": false,
	}})
	r.Tool = domain.ToolGetLatestOrder
	return r
}

func statusResult(id, status string) domain.ToolResult {
	r := domain.Success(map[string]any{"status": map[string]any{"orderId": id, "status": status, "cancelled": status == domain.StatusCancelled}})
	r.Tool = domain.ToolGetOrderStatus
	return r
}

func gateResult(details map[string]any) domain.ToolResult {
	return domain.Failure(domain.NewToolError(domain.CodeConfirmationRequired, "confirm", details))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := NewKeywordClassifier(nil)
	cases := map[string]Intent{
		"Hello":                    IntentGreeting,
		"hey there":                IntentGreeting,
		"what can you do?":         IntentHelp,
		"Cancel my delayed order":  IntentCancel,
		"please cancel my order":   IntentCancel,
		"Yes, cancel it":           IntentConfirm,
		"yes!":                     IntentConfirm,
		"cancel that":              IntentDecline,
		"no thanks":                IntentDecline,
		"Order 2 widgets":          IntentAddOrder,
		"I want 3 gizmos":          IntentAddOrder,
		"What is my order status?": IntentStatus,
		"where is my package":      IntentStatus,
		"show my latest order":     IntentShow,
		"this is confusing":        IntentUnknown,
		"":                         IntentUnknown,
	}
	for text, want := range cases {
		assert.Equal(t, want, c.Classify(text), text)
	}
}

func TestExtractItems(t *testing.T) {
	t.Parallel()

	e := NewItemExtractor(nil)
	assert.Equal(t, []domain.OrderItem{{ProductName: "widget", Quantity: 2}}, e.Extract("Order 2 widgets"))
	assert.Equal(t, []domain.OrderItem{
		{ProductName: "widget", Quantity: 2},
		{ProductName: "gadget", Quantity: 1},
	}, e.Extract("Order 2 widgets and 1 gadget"))
	assert.Equal(t, []domain.OrderItem{{ProductName: "gizmo", Quantity: 3}}, e.Extract("gizmo x3 please"))
	assert.Equal(t, []domain.OrderItem{{ProductName: "doohickey", Quantity: 1}}, e.Extract("a doohickey"))
	assert.Equal(t, []domain.OrderItem{{ProductName: "widget", Quantity: 100}}, e.Extract("500 widgets"))
	assert.Equal(t, []domain.OrderItem{{ProductName: "widget", Quantity: 100}}, e.Extract("99999999999999999999999 widgets"))
	assert.Empty(t, e.Extract("something shiny"))
}

func TestGreetingNeedsNoTool(t *testing.T) {
	t.Parallel()

	a := New().Next("Hello", nil)
	final, ok := a.(action.Final)
	require.True(t, ok, "got %T", a)
	assert.Contains(t, strings.ToLower(final.Message), "help")
	assert.Contains(t, strings.ToLower(final.Message), "order")
}

func TestAddOrderIsAlwaysUnconfirmed(t *testing.T) {
	t.Parallel()

	a := New().Next("Order 2 widgets", nil)
	tool, ok := a.(action.Tool)
	require.True(t, ok, "got %T", a)
	assert.Equal(t, domain.ToolCreateOrder, tool.Name)
	assert.Equal(t, false, tool.Args["confirmed"])
	assert.Equal(t, []any{map[string]any{"product_name": "widget", "quantity": 2}}, tool.Args["items"])
}

func TestAddOrderWithoutProductsAsksForClarification(t *testing.T) {
	t.Parallel()

	p := New()
	d := p.Decide("I want to place order", nil, Idle())
	ask, ok := d.Action.(action.AskUser)
	require.True(t, ok, "got %T", d.Action)
	assert.Contains(t, ask.Question, "What would you like to order?")
	assert.Equal(t, PhaseAwaitingClarification, d.State.Phase)

	// A bare product list is an order only while clarification is pending.
	d = p.Decide("3 gizmos", nil, d.State)
	tool, ok := d.Action.(action.Tool)
	require.True(t, ok, "got %T", d.Action)
	assert.Equal(t, domain.ToolCreateOrder, tool.Name)

	_, isTool := p.Decide("3 gizmos", domain.History{statusResult("ORD-12345", domain.StatusShipped)}, Idle()).Action.(action.Tool)
	assert.False(t, isTool)
}

func TestConfirmationReaskForOrderItems(t *testing.T) {
	t.Parallel()

	h := domain.History{gateResult(map[string]any{
		"items":    []any{map[string]any{"product_name": "widget", "quantity": 2.0}},
		"required": map[string]any{"confirmed": true},
	})}
	d := New().Decide("", h, StateOf(h))
	ask, ok := d.Action.(action.AskUser)
	require.True(t, ok, "got %T", d.Action)
	assert.Contains(t, ask.Question, "2x widget")
	assert.Equal(t, PhaseAwaitingConfirmation, d.State.Phase)
	require.NotNil(t, d.State.Pending)
	assert.Equal(t, true, d.State.Pending.Args["confirmed"])
}

func TestConfirmationReaskGeneric(t *testing.T) {
	t.Parallel()

	h := domain.History{gateResult(map[string]any{"order_id": "ORD-12345", "required": map[string]any{"confirmed": true}})}
	a := New().Next("", h)
	assert.Equal(t, action.AskUser{Question: msgConfirmGeneric}, a)
}

func TestConfirmReplaysExactItems(t *testing.T) {
	t.Parallel()

	items := []any{
		map[string]any{"product_name": "widget", "quantity": 2.0},
		map[string]any{"product_name": "gadget", "quantity": 1.0},
	}
	h := domain.History{gateResult(map[string]any{"items": items, "required": map[string]any{"confirmed": true}})}

	a := New().Next("yes", h)
	tool, ok := a.(action.Tool)
	require.True(t, ok, "got %T", a)
	assert.Equal(t, domain.ToolCreateOrder, tool.Name)
	assert.Equal(t, true, tool.Args["confirmed"])

	want, err := json.Marshal(items)
	require.NoError(t, err)
	got, err := json.Marshal(tool.Args["items"])
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestConfirmCancelsKnownOrder(t *testing.T) {
	t.Parallel()

	h := domain.History{orderResult("ORD-12345", domain.StatusDelayed), statusResult("ORD-12345", domain.StatusDelayed)}
	a := New().Next("Yes, cancel it", h)
	assert.Equal(t, action.Tool{
		Name:      domain.ToolRequestOrderCancellation,
		Args:      map[string]any{"order_id": "ORD-12345", "confirmed": true},
		Rationale: "User confirmed cancellation.",
	}, a)
}

func TestConfirmUsesMostRecentGate(t *testing.T) {
	t.Parallel()

	h := domain.History{
		gateResult(map[string]any{"items": []any{map[string]any{"product_name": "widget", "quantity": 2.0}}}),
		gateResult(map[string]any{"order_id": "ORD-12345", "required": map[string]any{"confirmed": true}}),
	}
	st := StateOf(h)
	require.NotNil(t, st.Pending)

	a := New().Next("yes", h)
	assert.Equal(t, *st.Pending, a)
	tool, ok := a.(action.Tool)
	require.True(t, ok, "got %T", a)
	assert.Equal(t, domain.ToolRequestOrderCancellation, tool.Name)
	assert.Equal(t, "ORD-12345", tool.Args["order_id"])
}

func TestConfirmAfterCompletedWriteIsNotReplayed(t *testing.T) {
	t.Parallel()

	created := orderResult("ORD-00002", domain.StatusProcessing)
	created.Tool = domain.ToolCreateOrder
	h := domain.History{
		gateResult(map[string]any{"items": []any{map[string]any{"product_name": "widget", "quantity": 2.0}}}),
		created,
	}
	require.Equal(t, PhaseIdle, StateOf(h).Phase)

	d := New().Decide("Yes", h, StateOf(h))
	assert.Equal(t, action.Final{Message: msgNothingToConfirm}, d.Action)
	assert.Equal(t, PhaseIdle, d.State.Phase)
}

func TestConfirmAfterCancellationIsNotReplayed(t *testing.T) {
	t.Parallel()

	cancelled := domain.Success(map[string]any{"result": map[string]any{"orderId": "ORD-12345", "status": domain.StatusCancelled}})
	cancelled.Tool = domain.ToolRequestOrderCancellation
	h := domain.History{statusResult("ORD-12345", domain.StatusDelayed), cancelled}

	assert.Equal(t, action.Final{Message: msgNothingToConfirm}, New().Decide("yes", h, Idle()).Action)
}

func TestConfirmWhileIdleStopsAtMostRecentGate(t *testing.T) {
	t.Parallel()

	h := domain.History{
		gateResult(map[string]any{"items": []any{map[string]any{"product_name": "widget", "quantity": 2.0}}}),
		gateResult(map[string]any{"order_id": "ORD-67890"}),
		orderResult("ORD-12345", domain.StatusDelayed),
		orderResult("ORD-12345", domain.StatusDelayed),
	}
	require.Equal(t, PhaseIdle, StateOf(h).Phase)

	tool, ok := New().Next("yes", h).(action.Tool)
	require.True(t, ok)
	assert.Equal(t, domain.ToolRequestOrderCancellation, tool.Name)
	assert.Equal(t, "ORD-67890", tool.Args["order_id"])
}

func TestConfirmIssuesPendingFromState(t *testing.T) {
	t.Parallel()

	pending := cancelTool("ORD-67890")
	d := New().Decide("yes", nil, State{Phase: PhaseAwaitingConfirmation, Pending: pending})
	assert.Equal(t, *pending, d.Action)
}

func TestConfirmWithoutContextFetchesOrder(t *testing.T) {
	t.Parallel()

	tool, ok := New().Next("yes", nil).(action.Tool)
	require.True(t, ok)
	assert.Equal(t, domain.ToolGetLatestOrder, tool.Name)
}

func TestCancelChain(t *testing.T) {
	t.Parallel()

	p := New()
	var h domain.History

	tool, ok := p.Next("Cancel my delayed order", h).(action.Tool)
	require.True(t, ok)
	assert.Equal(t, domain.ToolGetLatestOrder, tool.Name)

	h = h.Append(orderResult("ORD-12345", domain.StatusDelayed))
	tool, ok = p.Next("", h).(action.Tool)
	require.True(t, ok)
	assert.Equal(t, domain.ToolGetOrderStatus, tool.Name)
	assert.Equal(t, "ORD-12345", tool.Args["order_id"])

	h = h.Append(statusResult("ORD-12345", domain.StatusDelayed))
	d := p.Decide("", h, StateOf(h))
	ask, ok := d.Action.(action.AskUser)
	require.True(t, ok, "got %T", d.Action)
	assert.Contains(t, strings.ToLower(ask.Question), "confirm")
	assert.Contains(t, strings.ToLower(ask.Question), "cancel")
	assert.Equal(t, PhaseAwaitingConfirmation, d.State.Phase)
	require.NotNil(t, d.State.Pending)
	assert.Equal(t, "ORD-12345", d.State.Pending.Args["order_id"])
}

func TestCancelIntentWithKnownStatus(t *testing.T) {
	t.Parallel()

	p := New()
	assert.Equal(t, action.AskUser{Question: msgDelayedCancelAsk}, p.Next("cancel it", domain.History{statusResult("ORD-12345", domain.StatusDelayed)}))
	assert.Equal(t, action.Final{Message: msgHasBeenCancelled}, p.Next("cancel it", domain.History{statusResult("ORD-12345", domain.StatusCancelled)}))

	final, ok := p.Next("cancel it", domain.History{statusResult("ORD-67890", domain.StatusShipped)}).(action.Final)
	require.True(t, ok)
	assert.Contains(t, final.Message, "Only delayed orders can be cancelled")
}

func TestWriteOutcomeBeatsStaleGate(t *testing.T) {
	t.Parallel()

	done := domain.Success(map[string]any{"result": map[string]any{"orderId": "ORD-12345", "status": domain.StatusCancelled}, "idempotency_key": "k-12345678"})
	done.Tool = domain.ToolRequestOrderCancellation
	h := domain.History{gateResult(map[string]any{"order_id": "ORD-12345"}), done}

	assert.Equal(t, action.Final{Message: msgCancelled}, New().Next("", h))
	assert.Equal(t, PhaseIdle, StateOf(h).Phase)
}

func TestOrderPlacedSummary(t *testing.T) {
	t.Parallel()

	created := domain.Success(map[string]any{"order": map[string]any{
		"orderId": "ORD-55555", "status": domain.StatusProcessing,
		"items": []any{map[string]any{"name": "Widget", "qty": 2.0}}, "total": 49.98,
	}})
	created.Tool = domain.ToolCreateOrder

	final, ok := New().Next("", domain.History{created}).(action.Final)
	require.True(t, ok)
	assert.Contains(t, final.Message, "Order placed successfully!")
	assert.Contains(t, final.Message, "Widget x2")
	assert.Contains(t, final.Message, "$49.98")
}

func TestProcessingOrderFromReadIsNotAWrite(t *testing.T) {
	t.Parallel()

	// get_latest_order after a purchase also reports PROCESSING.
	tool, ok := New().Next("", domain.History{orderResult("ORD-55555", domain.StatusProcessing)}).(action.Tool)
	require.True(t, ok)
	assert.Equal(t, domain.ToolGetOrderStatus, tool.Name)
}

func TestFallbacks(t *testing.T) {
	t.Parallel()

	p := New()
	tool, ok := p.Next("this is confusing", nil).(action.Tool)
	require.True(t, ok)
	assert.Equal(t, domain.ToolGetLatestOrder, tool.Name)

	failed := domain.Failure(domain.NewToolError(domain.CodeNotFound, "Not found", nil))
	final, ok := p.Next("this is confusing", domain.History{failed}).(action.Final)
	require.True(t, ok)
	assert.Contains(t, final.Message, "I'm not sure what you'd like to do.")
}

func TestDeclineIsFinal(t *testing.T) {
	t.Parallel()

	h := domain.History{gateResult(map[string]any{"order_id": "ORD-12345"})}
	d := New().Decide("no", h, StateOf(h))
	assert.Equal(t, action.Final{Message: msgDecline}, d.Action)
	assert.Equal(t, PhaseIdle, d.State.Phase)
}

func TestStateJSON(t *testing.T) {
	t.Parallel()

	in := State{Phase: PhaseAwaitingConfirmation, Pending: cancelTool("ORD-12345")}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out State
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Phase, out.Phase)
	require.NotNil(t, out.Pending)
	assert.Equal(t, in.Pending.Name, out.Pending.Name)
	assert.Equal(t, "ORD-12345", out.Pending.Args["order_id"])

	assert.Error(t, json.Unmarshal([]byte(`{"phase":"sleeping"}`), &out))
}

type fixedClassifier Intent

func (f fixedClassifier) Classify(string) Intent { return Intent(f) }

func TestCustomClassifier(t *testing.T) {
	t.Parallel()

	p := New(WithClassifier(fixedClassifier(IntentHelp)))
	final, ok := p.Next("anything at all", nil).(action.Final)
	require.True(t, ok)
	assert.Contains(t, final.Message, "I can help you with")
}
