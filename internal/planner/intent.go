// Package planner implements the rule-based decision maker that picks the next
// action of a turn from the user's text and the tool-result history.
package planner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// Intent is the classified purpose of a user utterance.
type Intent string

const (
	IntentGreeting Intent = "greeting"
	IntentHelp     Intent = "help"
	IntentCancel   Intent = "cancel"
	IntentAddOrder Intent = "add_order"
	IntentStatus   Intent = "status"
	IntentShow     Intent = "show_order"
	IntentConfirm  Intent = "confirm"
	IntentDecline  Intent = "decline"
	IntentUnknown  Intent = "unknown"
)

// Classifier maps free text to an Intent.
type Classifier interface {
	Classify(text string) Intent
}

// DefaultCatalog lists the products the demo backend sells.
var DefaultCatalog = []string{"widget", "gadget", "gizmo", "doohickey", "thingamajig"}

// maxQuantity caps extracted quantities.
const maxQuantity = 100

var (
	greetingWords   = []string{"hello", "hi", "hey"}
	greetingPhrases = []string{"good morning", "good afternoon"}
	helpPhrases     = []string{"help", "what can you do", "what do you do", "capabilities"}
	orderPhrases    = []string{"add order", "place order", "create order", "new order", "buy", "order a", "want to order", "i want", "get me"}
	orderVerbs      = []string{"order", "buy", "want", "get", "add"}
	statusPhrases   = []string{"status", "where is", "track", "tracking", "when will"}
	showPhrases     = []string{"show", "latest order", "my order", "order details", "what order"}

	confirmReplies = map[string]bool{
		"yes": true, "yes, cancel it": true, "yes cancel it": true, "confirm": true, "confirm cancel": true,
		"ok": true, "sure": true, "do it": true, "yes please": true, "yes, please": true, "proceed": true,
	}
	declineReplies = map[string]bool{
		"no": true, "no thanks": true, "no, thanks": true, "never mind": true, "cancel that": true, "don't": true, "stop": true,
	}

	wordSplit = regexp.MustCompile(`[^a-z0-9']+`)
)

// KeywordClassifier classifies by keyword and substring matching.
type KeywordClassifier struct {
	Catalog []string
}

// NewKeywordClassifier creates a classifier over the given product catalog.
func NewKeywordClassifier(catalog []string) *KeywordClassifier {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	return &KeywordClassifier{Catalog: catalog}
}

// Classify returns the first matching intent. Exact confirm/decline replies are
// matched before the cancel keyword so "Yes, cancel it" confirms and
// "cancel that" declines.
func (c *KeywordClassifier) Classify(text string) Intent {
	lower := normalize(text)
	if lower == "" {
		return IntentUnknown
	}
	words := wordSplit.Split(lower, -1)

	if containsWord(words, greetingWords) || containsAny(lower, greetingPhrases) {
		return IntentGreeting
	}
	if containsAny(lower, helpPhrases) {
		return IntentHelp
	}

	reply := strings.TrimRight(lower, ".!")
	if confirmReplies[reply] {
		return IntentConfirm
	}
	if declineReplies[reply] {
		return IntentDecline
	}

	// "order" only counts against cancel when it appears outside "cancel" itself.
	if strings.Contains(lower, "cancel") && !strings.Contains(strings.ReplaceAll(lower, "cancel", ""), "order") {
		return IntentCancel
	}
	if strings.HasPrefix(lower, "cancel") {
		return IntentCancel
	}

	if containsAny(lower, orderPhrases) {
		return IntentAddOrder
	}
	mentioned := c.mentionsProduct(lower)
	if mentioned && containsAny(lower, orderVerbs) {
		return IntentAddOrder
	}
	if strings.HasPrefix(lower, "order ") && mentioned {
		return IntentAddOrder
	}

	if strings.Contains(lower, "cancel") {
		return IntentCancel
	}
	if containsAny(lower, statusPhrases) {
		return IntentStatus
	}
	if containsAny(lower, showPhrases) {
		return IntentShow
	}
	return IntentUnknown
}

func (c *KeywordClassifier) mentionsProduct(lower string) bool {
	for _, p := range c.Catalog {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func containsWord(words, wanted []string) bool {
	for _, w := range words {
		for _, x := range wanted {
			if w == x {
				return true
			}
		}
	}
	return false
}

// ItemExtractor finds product/quantity pairs in free text.
type ItemExtractor struct {
	catalog []string
	before  map[string]*regexp.Regexp
	after   map[string]*regexp.Regexp
}

// NewItemExtractor compiles the quantity patterns for each catalog product.
func NewItemExtractor(catalog []string) *ItemExtractor {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	e := &ItemExtractor{
		catalog: catalog,
		before:  make(map[string]*regexp.Regexp, len(catalog)),
		after:   make(map[string]*regexp.Regexp, len(catalog)),
	}
	for _, p := range catalog {
		q := regexp.QuoteMeta(p)
		e.before[p] = regexp.MustCompile(`(\d+)\s*x?\s*` + q + `s?`)
		e.after[p] = regexp.MustCompile(q + `s?\s*x?\s*(\d+)`)
	}
	return e
}

// Extract returns one item per mentioned product, in catalog order. The
// quantity defaults to 1 and is capped at 100.
func (e *ItemExtractor) Extract(text string) []domain.OrderItem {
	lower := strings.ToLower(text)
	var items []domain.OrderItem
	for _, p := range e.catalog {
		if !strings.Contains(lower, p) {
			continue
		}
		qty := 1
		if m := e.before[p].FindStringSubmatch(lower); m != nil {
			qty = parseQuantity(m[1])
		} else if m := e.after[p].FindStringSubmatch(lower); m != nil {
			qty = parseQuantity(m[1])
		}
		items = append(items, domain.OrderItem{ProductName: p, Quantity: min(qty, maxQuantity)})
	}
	return items
}

func parseQuantity(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		// Only digits reach here, so the failure is overflow.
		return maxQuantity
	}
	return n
}
