package planner

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/vayux/mcp-intentful-agent/internal/action"
	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

var utterances = []string{
	"", "Hello", "help", "Cancel my order", "Yes, cancel it", "no", "Order 2 widgets",
	"What is my order status?", "show my order", "3 gizmos", "blah",
}

// genHistory builds histories from a small alphabet of realistic results.
func genHistory() gopter.Gen {
	alphabet := []domain.ToolResult{
		orderResult("ORD-12345", domain.StatusDelayed),
		orderResult("ORD-67890", domain.StatusShipped),
		statusResult("ORD-12345", domain.StatusDelayed),
		statusResult("ORD-12345", domain.StatusCancelled),
		gateResult(map[string]any{"order_id": "ORD-12345", "required": map[string]any{"confirmed": true}}),
		gateResult(map[string]any{"items": []any{map[string]any{"product_name": "widget", "quantity": 2.0}}}),
		domain.Failure(domain.NewToolError(domain.CodeNotFound, "Not found", nil)),
		domain.Success(map[string]any{"result": map[string]any{"orderId": "ORD-12345", "status": domain.StatusCancelled}}),
		domain.Completed(),
	}
	return gen.SliceOf(gen.IntRange(0, len(alphabet)-1)).Map(func(idx []int) domain.History {
		h := make(domain.History, 0, len(idx))
		for _, i := range idx {
			h = append(h, alphabet[i])
		}
		return h
	})
}

func TestPlannerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	p := New()

	properties.Property("decision is deterministic in (text, history)", prop.ForAll(
		func(u int, h domain.History) bool {
			text := utterances[u]
			return reflect.DeepEqual(p.Next(text, h), New().Next(text, h))
		},
		gen.IntRange(0, len(utterances)-1),
		genHistory(),
	))

	properties.Property("every decision is a valid action", prop.ForAll(
		func(u int, h domain.History) bool {
			return action.Validate(p.Next(utterances[u], h)) == nil
		},
		gen.IntRange(0, len(utterances)-1),
		genHistory(),
	))

	properties.Property("writes are only confirmed after a confirm reply", prop.ForAll(
		func(u int, h domain.History) bool {
			text := utterances[u]
			tool, ok := p.Next(text, h).(action.Tool)
			if !ok || tool.Args["confirmed"] != true {
				return true
			}
			return NewKeywordClassifier(nil).Classify(text) == IntentConfirm
		},
		gen.IntRange(0, len(utterances)-1),
		genHistory(),
	))

	properties.TestingRun(t)
}
