package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentIntentRequest struct {
	OrderID  uuid.UUID
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// PaymentGateway is the outbound side of the payment provider.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, intentID string) error
	// ExtractOrderID never fails; a missing or malformed id reports false.
	ExtractOrderID(event ProviderEvent) (uuid.UUID, bool)
}

// WebhookVerifier authenticates and parses inbound provider notifications.
type WebhookVerifier interface {
	ConstructEvent(payload []byte, signatureHeader string) (ProviderEvent, error)
}
