package planner

import (
	"fmt"
	"strings"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

const (
	msgDecline          = "No problem! Let me know if you need anything else."
	msgCancelled        = "Your order has been cancelled successfully."
	msgAlreadyCancelled = "This order was already cancelled."
	msgHasBeenCancelled = "This order has already been cancelled."
	msgConfirmGeneric   = `I need your confirmation to proceed. Reply "Yes" to confirm or "No" to cancel.`
	msgDelayedOffer     = `Your latest order is DELAYED. Would you like me to cancel it? Reply "Yes" to confirm or "No" to keep it.`
	msgDelayedCancelAsk = `Your order is delayed. Would you like me to cancel it? Reply "Yes" to confirm.`
	msgNothingToConfirm = "There is nothing waiting for your confirmation right now. What would you like to do?"
)

func greetingMessage() string {
	return "Hello! I'm your order assistant. I can help you:\n" +
		"- Check your order status\n" +
		"- Show your latest order details\n" +
		"- Cancel delayed orders\n" +
		"- Place a new order\n\n" +
		"What would you like to do?"
}

func helpMessage(catalog []string) string {
	return "I can help you with:\n\n" +
		"**Check order status** - Ask \"What's my order status?\"\n" +
		"**View order details** - Ask \"Show my latest order\"\n" +
		"**Cancel orders** - Ask \"Cancel my order\" (only delayed orders can be cancelled)\n" +
		fmt.Sprintf("**Place an order** - Ask \"Order 2 widgets\" (available: %s)\n\n", strings.Join(catalog, ", ")) +
		"Just type your question!"
}

func fallbackMessage(catalog []string) string {
	return "I'm not sure what you'd like to do. I can help you:\n" +
		"- Check your order status\n" +
		"- Show your order details\n" +
		"- Cancel a delayed order\n" +
		fmt.Sprintf("- Place a new order (available: %s)\n\n", strings.Join(catalog, ", ")) +
		"What would you like?"
}

func clarifyOrderQuestion(catalog []string) string {
	return fmt.Sprintf("What would you like to order? Available products: %s. "+
		"You can say something like 'Order 2 widgets and 1 gadget'.", strings.Join(catalog, ", "))
}

func confirmOrderQuestion(items []domain.OrderItem) string {
	return fmt.Sprintf("Ready to place order for: %s. Reply 'Yes' to confirm or 'No' to cancel.", domain.ItemsSummary(items))
}

func orderPlacedMessage(o domain.Order) string {
	return fmt.Sprintf("Order placed successfully!\n\n- Order ID: %s\n- Items: %s\n- Total: $%.2f\n- Status: %s",
		o.OrderID, o.LinesSummary(), o.Total, o.Status)
}

func orderDetailsMessage(o domain.Order) string {
	lines := o.LinesSummary()
	if lines == "" {
		lines = "N/A"
	}
	return fmt.Sprintf("**Your Latest Order**\n\n- Order ID: %s\n- Status: %s\n- Items: %s\n- Total: $%.2f",
		o.OrderID, o.Status, lines, o.Total)
}

func statusMessage(st domain.OrderStatus) string {
	status := st.Status
	if status == "" {
		status = "Unknown"
	}
	id := st.OrderID
	if id == "" {
		id = "N/A"
	}
	msg := fmt.Sprintf("**Order Status**\n\nOrder %s is currently: %s", id, status)
	if status == domain.StatusDelayed {
		msg += "\n\nWould you like me to cancel this order? Reply \"Yes\" to cancel."
	}
	return msg
}

func notCancellableMessage(status string) string {
	return fmt.Sprintf("Your order status is %s. Only delayed orders can be cancelled. "+
		"Would you like me to check if there's an issue with your order?", status)
}

func statusSummaryMessage(status string) string {
	return fmt.Sprintf("Your order status is: %s. Let me know if you need anything else!", status)
}
