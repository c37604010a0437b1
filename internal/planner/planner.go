package planner

import (
	"github.com/vayux/mcp-intentful-agent/internal/action"
	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// Decision is the planner's answer for one step.
type Decision struct {
	Action action.Action
	Intent Intent
	// State is the state after Action is taken.
	State State
}

type input struct {
	text    string
	intent  Intent
	history domain.History
	last    domain.ToolResult
	state   State
}

// rule returns ok=false to pass the decision on to the next rule.
type rule func(in input) (action.Action, bool)

// Planner is a deterministic rule-based decision maker.
type Planner struct {
	classifier Classifier
	extractor  *ItemExtractor
	catalog    []string

	byIntent map[Intent]rule
	byPhase  map[Phase]map[Intent]rule
}

// Option configures a Planner.
type Option func(*Planner)

// WithClassifier replaces the keyword classifier.
func WithClassifier(c Classifier) Option {
	return func(p *Planner) { p.classifier = c }
}

// WithCatalog sets the products the planner recognizes.
func WithCatalog(catalog []string) Option {
	return func(p *Planner) { p.catalog = catalog }
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{catalog: DefaultCatalog}
	for _, opt := range opts {
		opt(p)
	}
	if p.classifier == nil {
		p.classifier = NewKeywordClassifier(p.catalog)
	}
	p.extractor = NewItemExtractor(p.catalog)

	p.byIntent = map[Intent]rule{
		IntentGreeting: p.greet,
		IntentHelp:     p.help,
		IntentDecline:  p.decline,
		IntentAddOrder: p.addOrder,
		IntentConfirm:  p.confirm,
		IntentShow:     p.showOrder,
		IntentStatus:   p.status,
		IntentCancel:   p.cancel,
	}
	p.byPhase = map[Phase]map[Intent]rule{
		PhaseAwaitingConfirmation: {
			IntentConfirm: p.confirmPending,
			IntentDecline: p.decline,
		},
		PhaseAwaitingClarification: {
			IntentUnknown: p.clarifiedOrder,
		},
	}
	return p
}

// Next picks the action for (text, history). It is a pure function of its inputs.
func (p *Planner) Next(text string, history domain.History) action.Action {
	return p.Decide(text, history, StateOf(history)).Action
}

// Decide picks the next action given an explicit state. Rules are tried in a
// fixed order and the first match wins.
func (p *Planner) Decide(text string, history domain.History, state State) Decision {
	in := input{
		text:    text,
		intent:  p.classifier.Classify(text),
		history: history,
		state:   state,
	}
	in.last, _ = history.Last()

	a := p.decide(in)
	return Decision{Action: a, Intent: in.intent, State: p.after(a, in)}
}

func (p *Planner) decide(in input) action.Action {
	// A write that just succeeded wins over any stale confirmation prompt.
	if in.text == "" || in.intent == IntentGreeting || in.intent == IntentHelp || in.intent == IntentUnknown {
		if msg, ok := writeOutcome(in.last); ok {
			return action.Final{Message: msg}
		}
	}

	if in.intent != IntentConfirm && in.intent != IntentDecline {
		for _, r := range reverse(in.history.Tail(2)) {
			if r.IsConfirmationRequired() {
				return p.reask(r.Error)
			}
		}
	}

	if rules, ok := p.byPhase[in.state.Phase]; ok {
		if r, ok := rules[in.intent]; ok {
			if a, ok := r(in); ok {
				return a
			}
		}
	}
	if r, ok := p.byIntent[in.intent]; ok {
		if a, ok := r(in); ok {
			return a
		}
	}
	if a, ok := p.followUp(in); ok {
		return a
	}

	if len(in.history) == 0 {
		return action.Tool{Name: domain.ToolGetLatestOrder, Args: map[string]any{}, Rationale: "Starting fresh - getting latest order."}
	}
	return action.Final{Message: fallbackMessage(p.catalog)}
}

func (p *Planner) after(a action.Action, in input) State {
	switch v := a.(type) {
	case action.Final:
		return Idle()
	case action.AskUser:
		if v.Question == clarifyOrderQuestion(p.catalog) {
			return State{Phase: PhaseAwaitingClarification}
		}
		return StateOf(in.history)
	default:
		return in.state
	}
}

func (p *Planner) reask(te *domain.ToolError) action.Action {
	if raw, ok := te.Details["items"]; ok {
		items, _ := domain.DecodeAny[[]domain.OrderItem](raw)
		return action.AskUser{Question: confirmOrderQuestion(items)}
	}
	return action.AskUser{Question: msgConfirmGeneric}
}

func (p *Planner) greet(input) (action.Action, bool) {
	return action.Final{Message: greetingMessage()}, true
}

func (p *Planner) help(input) (action.Action, bool) {
	return action.Final{Message: helpMessage(p.catalog)}, true
}

func (p *Planner) decline(input) (action.Action, bool) {
	return action.Final{Message: msgDecline}, true
}

func (p *Planner) addOrder(in input) (action.Action, bool) {
	items := p.extractor.Extract(in.text)
	if len(items) == 0 {
		return action.AskUser{Question: clarifyOrderQuestion(p.catalog)}, true
	}
	return newOrderTool(items), true
}

// clarifiedOrder treats a bare product list as an order when the previous turn
// asked what to order.
func (p *Planner) clarifiedOrder(in input) (action.Action, bool) {
	items := p.extractor.Extract(in.text)
	if len(items) == 0 {
		return nil, false
	}
	return newOrderTool(items), true
}

// confirmPending issues the write the human was asked to confirm.
func (p *Planner) confirmPending(in input) (action.Action, bool) {
	if in.state.Pending == nil {
		return nil, false
	}
	return *in.state.Pending, true
}

// confirm answers a "yes" outside AwaitingConfirmation from history alone:
// the most recent gate is replayed, else the latest known order is cancelled.
// A write that already completed is never walked past.
func (p *Planner) confirm(in input) (action.Action, bool) {
	for _, r := range reverse(in.history) {
		if _, done := writeOutcome(r); done {
			return action.Final{Message: msgNothingToConfirm}, true
		}
		if !r.IsConfirmationRequired() {
			continue
		}
		if t := pendingFromGate(r.Error.Details, in.history); t != nil {
			return *t, true
		}
		break
	}

	orderID := latestOrderID(in.history)
	if orderID == "" {
		return action.Tool{Name: domain.ToolGetLatestOrder, Args: map[string]any{}, Rationale: "Need to find the order before cancelling."}, true
	}
	return *cancelTool(orderID), true
}

func (p *Planner) showOrder(in input) (action.Action, bool) {
	if o, ok := in.last.Order(); ok {
		return action.Final{Message: orderDetailsMessage(o)}, true
	}
	return action.Tool{Name: domain.ToolGetLatestOrder, Args: map[string]any{}, Rationale: "User wants to see their order."}, true
}

func (p *Planner) status(in input) (action.Action, bool) {
	if st, ok := in.last.Status(); ok {
		return action.Final{Message: statusMessage(st)}, true
	}
	if o, ok := in.last.Order(); ok {
		return statusTool(o.OrderID, "Getting order status."), true
	}
	return action.Tool{Name: domain.ToolGetLatestOrder, Args: map[string]any{}, Rationale: "Need to get order before checking status."}, true
}

func (p *Planner) cancel(in input) (action.Action, bool) {
	if st, ok := in.last.Status(); ok {
		switch st.Status {
		case domain.StatusDelayed:
			return action.AskUser{Question: msgDelayedCancelAsk}, true
		case domain.StatusCancelled:
			return action.Final{Message: msgHasBeenCancelled}, true
		default:
			return action.Final{Message: notCancellableMessage(st.Status)}, true
		}
	}
	if o, ok := in.last.Order(); ok {
		if o.Cancelled {
			return action.Final{Message: msgHasBeenCancelled}, true
		}
		return statusTool(o.OrderID, "Checking order status before cancellation."), true
	}
	return action.Tool{Name: domain.ToolGetLatestOrder, Args: map[string]any{}, Rationale: "Need to find order to cancel."}, true
}

// followUp continues a flow from the latest tool result.
func (p *Planner) followUp(in input) (action.Action, bool) {
	if o, ok := in.last.Order(); ok && in.last.Tool != domain.ToolCreateOrder {
		return statusTool(o.OrderID, "Checking order status."), true
	}
	if st, ok := in.last.Status(); ok {
		if st.Status == domain.StatusDelayed {
			return action.AskUser{Question: msgDelayedOffer}, true
		}
		return action.Final{Message: statusSummaryMessage(st.Status)}, true
	}
	if msg, ok := writeOutcome(in.last); ok {
		return action.Final{Message: msg}, true
	}
	return nil, false
}

// writeOutcome reports a successful write: a new order or a resolved cancellation.
// Results without a tool name are judged by shape alone.
func writeOutcome(r domain.ToolResult) (string, bool) {
	if !r.OK {
		return "", false
	}
	if r.Tool == "" || r.Tool == domain.ToolCreateOrder {
		if o, ok := r.Order(); ok && o.Status == domain.StatusProcessing {
			return orderPlacedMessage(o), true
		}
	}
	if r.Tool == "" || r.Tool == domain.ToolRequestOrderCancellation {
		if c, ok := r.Cancellation(); ok {
			switch c.Status {
			case domain.StatusCancelled:
				return msgCancelled, true
			case domain.StatusAlreadyCancelled:
				return msgAlreadyCancelled, true
			}
		}
	}
	return "", false
}

func latestOrderID(history domain.History) string {
	for _, r := range reverse(history) {
		if o, ok := r.Order(); ok {
			return o.OrderID
		}
		if st, ok := r.Status(); ok {
			return st.OrderID
		}
	}
	return ""
}

func newOrderTool(items []domain.OrderItem) action.Tool {
	list := make([]any, 0, len(items))
	for _, it := range items {
		list = append(list, map[string]any{"product_name": it.ProductName, "quantity": it.Quantity})
	}
	t := createTool(list, false)
	t.Rationale = "Creating order for: " + domain.ItemsSummary(items)
	return t
}

// createTool builds a create_order call. items is passed through untouched so a
// confirmed replay carries exactly the list the gate returned.
func createTool(items any, confirmed bool) action.Tool {
	why := "User confirmed order placement."
	if !confirmed {
		why = "Creating order."
	}
	return action.Tool{
		Name:      domain.ToolCreateOrder,
		Args:      map[string]any{"items": items, "confirmed": confirmed},
		Rationale: why,
	}
}

func statusTool(orderID, why string) action.Tool {
	return action.Tool{Name: domain.ToolGetOrderStatus, Args: map[string]any{"order_id": orderID}, Rationale: why}
}
