package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	stripeapi "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventPaymentIntentCanceled  = "payment_intent.canceled"
)

// ConstructEvent verifies the Stripe-Signature header and maps the event.
func (g *Gateway) ConstructEvent(payload []byte, signatureHeader string) (domain.ProviderEvent, error) {
	if g.webhookSecret == "" || strings.TrimSpace(signatureHeader) == "" {
		return domain.ProviderEvent{}, domain.ErrSignatureVerification
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.ProviderEvent{}, fmt.Errorf("%w: %w", domain.ErrSignatureVerification, err)
	}
	return toProviderEvent(event)
}

func toProviderEvent(event stripeapi.Event) (domain.ProviderEvent, error) {
	out := domain.ProviderEvent{
		ID:        event.ID,
		Type:      string(event.Type),
		Kind:      kindOf(string(event.Type)),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.ID == "" || out.Type == "" {
		return domain.ProviderEvent{}, domain.ErrInvalidEvent
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "payment_intent."):
		var intent stripeapi.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return domain.ProviderEvent{}, fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err)
		}
		out.PaymentIntentID = intent.ID
		out.Metadata = intent.Metadata
		if intent.LastPaymentError != nil {
			out.FailureReason = strings.TrimSpace(intent.LastPaymentError.Msg)
		}
	case strings.HasPrefix(out.Type, "charge."):
		var charge stripeapi.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return domain.ProviderEvent{}, fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err)
		}
		out.Metadata = charge.Metadata
		if charge.PaymentIntent != nil {
			out.PaymentIntentID = charge.PaymentIntent.ID
		}
	}
	return out, nil
}

func kindOf(eventType string) domain.EventKind {
	switch eventType {
	case EventPaymentIntentSucceeded:
		return domain.EventKindPaymentSucceeded
	case EventPaymentIntentFailed:
		return domain.EventKindPaymentFailed
	case EventPaymentIntentCanceled:
		return domain.EventKindPaymentCanceled
	default:
		return domain.EventKindUnhandled
	}
}
