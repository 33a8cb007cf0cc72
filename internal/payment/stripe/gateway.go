package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/pkg/money"
	stripeapi "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"go.uber.org/zap"
)

var ErrMissingSecretKey = errors.New("stripe secret key is required")

// Gateway talks to the Stripe API through a dedicated client, never the package-level key.
type Gateway struct {
	api           *client.API
	webhookSecret string
	log           *zap.Logger
}

func NewGateway(cfg config.Config, log *zap.Logger) (*Gateway, error) {
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		return nil, ErrMissingSecretKey
	}
	return newGateway(key, cfg.Stripe.WebhookSecret, cfg.Stripe.APIURL, nil, log), nil
}

func newGateway(secretKey, webhookSecret, apiURL string, httpClient *http.Client, log *zap.Logger) *Gateway {
	var backends *stripeapi.Backends
	if apiURL != "" || httpClient != nil {
		backendCfg := &stripeapi.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripeapi.Int64(0),
			LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
		}
		if apiURL != "" {
			backendCfg.URL = stripeapi.String(strings.TrimRight(apiURL, "/"))
		}
		backends = &stripeapi.Backends{
			API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg),
			Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, backendCfg),
			Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, backendCfg),
		}
	}

	api := &client.API{}
	api.Init(secretKey, backends)
	return &Gateway{
		api:           api,
		webhookSecret: strings.TrimSpace(webhookSecret),
		log:           log.Named("payment.stripe"),
	}
}

func (g *Gateway) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	amount, err := money.ToMinorUnits(req.Amount, currency)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(amount),
		Currency: stripeapi.String(currency),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.OrderID.String())
	params.AddMetadata("order_id", req.OrderID.String())
	for k, v := range req.Metadata {
		if k == "order_id" {
			continue
		}
		params.AddMetadata(k, v)
	}

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		g.log.Warn("create payment intent failed",
			zap.String("order_id", req.OrderID.String()),
			zap.Error(err),
		)
		return domain.PaymentIntent{}, fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}
	return domain.PaymentIntent{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (g *Gateway) CancelPaymentIntent(ctx context.Context, intentID string) error {
	params := &stripeapi.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}
	return nil
}

// ExtractOrderID reads metadata.order_id; missing or malformed ids report false.
func (g *Gateway) ExtractOrderID(event domain.ProviderEvent) (uuid.UUID, bool) {
	raw := strings.TrimSpace(event.Metadata["order_id"])
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
