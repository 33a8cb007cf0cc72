package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const (
	RoutingKeyOrderCreated = "order.created"
	RoutingKeyOrderPaid    = "order.paid"
	RoutingKeyOrderFailed  = "order.failed"
)

// RoutingKeys lists every key the billing service publishes.
var RoutingKeys = []string{RoutingKeyOrderCreated, RoutingKeyOrderPaid, RoutingKeyOrderFailed}

var (
	ErrUnknownEventType = errors.New("unknown_event_type")
	ErrInvalidEnvelope  = errors.New("invalid_envelope")
)

// Event is a domain event that can be routed to the broker.
type Event interface {
	RoutingKey() string
	// PartitionKey groups events of one aggregate for ordered delivery.
	PartitionKey() string
}

type OrderCreated struct {
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      uuid.UUID       `json:"user_id"`
	PackageType string          `json:"package_type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (OrderCreated) RoutingKey() string     { return RoutingKeyOrderCreated }
func (e OrderCreated) PartitionKey() string { return e.OrderID.String() }

type OrderPaid struct {
	OrderID               uuid.UUID       `json:"order_id"`
	UserID                uuid.UUID       `json:"user_id"`
	PackageType           string          `json:"package_type"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	PaidAt                time.Time       `json:"paid_at"`
	StripePaymentIntentID string          `json:"stripe_payment_intent_id"`
}

func (OrderPaid) RoutingKey() string     { return RoutingKeyOrderPaid }
func (e OrderPaid) PartitionKey() string { return e.OrderID.String() }

type OrderFailed struct {
	OrderID  uuid.UUID `json:"order_id"`
	UserID   uuid.UUID `json:"user_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

func (OrderFailed) RoutingKey() string     { return RoutingKeyOrderFailed }
func (e OrderFailed) PartitionKey() string { return e.OrderID.String() }

// Envelope is the wire format of every published event. Subscribers dedupe on ID.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func NewEnvelope(event Event, occurredAt time.Time) (Envelope, error) {
	if event == nil {
		return Envelope{}, ErrInvalidEnvelope
	}
	data, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:         ulid.Make().String(),
		Type:       event.RoutingKey(),
		OccurredAt: occurredAt.UTC(),
		Data:       data,
	}, nil
}

// ParseEnvelope decodes a raw broker message.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.ID == "" || env.Type == "" || len(env.Data) == 0 {
		return Envelope{}, ErrInvalidEnvelope
	}
	return env, nil
}

// Decode returns the typed event carried by the envelope.
func (e Envelope) Decode() (Event, error) {
	var (
		event Event
		err   error
	)
	switch e.Type {
	case RoutingKeyOrderCreated:
		var v OrderCreated
		err = json.Unmarshal(e.Data, &v)
		event = v
	case RoutingKeyOrderPaid:
		var v OrderPaid
		err = json.Unmarshal(e.Data, &v)
		event = v
	case RoutingKeyOrderFailed:
		var v OrderFailed
		err = json.Unmarshal(e.Data, &v)
		event = v
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, e.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	return event, nil
}
