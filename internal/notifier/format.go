package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/orderbilling/internal/events"
)

const timeLayout = "2006-01-02 15:04:05 MST"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Format renders the chat message for an order event.
func Format(event events.Event) (string, error) {
	var b strings.Builder
	switch e := event.(type) {
	case events.OrderCreated:
		fmt.Fprintf(&b, "🟢 Order Created\n")
		fmt.Fprintf(&b, "User: %s\n", e.UserID)
		fmt.Fprintf(&b, "Order ID: %s\n", e.OrderID)
		fmt.Fprintf(&b, "Package: %s\n", e.PackageType)
		fmt.Fprintf(&b, "Amount: %s %s\n", e.Amount.StringFixed(2), strings.ToUpper(e.Currency))
		fmt.Fprintf(&b, "Created At: %s", formatTime(e.CreatedAt))
	case events.OrderPaid:
		fmt.Fprintf(&b, "💰 Order Paid\n")
		fmt.Fprintf(&b, "User: %s\n", e.UserID)
		fmt.Fprintf(&b, "Order ID: %s\n", e.OrderID)
		fmt.Fprintf(&b, "Package: %s\n", e.PackageType)
		fmt.Fprintf(&b, "Amount: %s %s\n", e.Amount.StringFixed(2), strings.ToUpper(e.Currency))
		fmt.Fprintf(&b, "Paid At: %s\n", formatTime(e.PaidAt))
		fmt.Fprintf(&b, "Stripe ID: %s", e.StripePaymentIntentID)
	case events.OrderFailed:
		fmt.Fprintf(&b, "❌ Order Failed\n")
		fmt.Fprintf(&b, "User: %s\n", e.UserID)
		fmt.Fprintf(&b, "Order ID: %s\n", e.OrderID)
		fmt.Fprintf(&b, "Reason: %s\n", e.Reason)
		fmt.Fprintf(&b, "Failed At: %s", formatTime(e.FailedAt))
	default:
		return "", fmt.Errorf("%w: %T", events.ErrUnknownEventType, event)
	}
	return b.String(), nil
}
