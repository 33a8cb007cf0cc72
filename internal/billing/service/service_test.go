package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/orderbilling/internal/audit/domain"
	auditrepo "github.com/smallbiznis/orderbilling/internal/audit/repository"
	auditservice "github.com/smallbiznis/orderbilling/internal/audit/service"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/billing/repository"
	"github.com/smallbiznis/orderbilling/internal/clock"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/internal/events"
	"github.com/smallbiznis/orderbilling/internal/migration"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockGateway struct {
	mock.Mock
}

func (g *mockGateway) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	args := g.Called(ctx, req)
	return args.Get(0).(domain.PaymentIntent), args.Error(1)
}

func (g *mockGateway) CancelPaymentIntent(ctx context.Context, intentID string) error {
	args := g.Called(ctx, intentID)
	return args.Error(0)
}

func (g *mockGateway) ExtractOrderID(event domain.ProviderEvent) (uuid.UUID, bool) {
	id, err := uuid.Parse(event.Metadata["order_id"])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, event events.Event) (events.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return events.Envelope{}, p.err
	}
	p.events = append(p.events, event)
	return events.NewEnvelope(event, time.Now())
}

func (p *capturePublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Event, len(p.events))
	copy(out, p.events)
	return out
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	clock     *clock.FakeClock
	gateway   *mockGateway
	publisher *capturePublisher
	orders    domain.OrderRepository
	webhooks  domain.WebhookRepository
	audits    auditdomain.Repository
	node      *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Order{}, &domain.WebhookEvent{}, &auditdomain.PaymentAudit{}))
	return newFixtureWithDB(t, db)
}

// newMigratedFixture builds the schema from the shipped SQL migrations with
// foreign keys enforced.
func newMigratedFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{})
	require.NoError(t, err)
	scripts, err := migration.UpScripts()
	require.NoError(t, err)
	for _, script := range scripts {
		require.NoError(t, db.Exec(script).Error)
	}
	return newFixtureWithDB(t, db)
}

func newFixtureWithDB(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	auditRepository := auditrepo.Provide()
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditRepository,
	})

	gw := &mockGateway{}
	pub := &capturePublisher{}
	orders := repository.ProvideOrders()
	webhooks := repository.ProvideWebhooks()

	cfg := config.Config{}
	cfg.Webhook.ProcessingLease = 2 * time.Minute

	svc := newService(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Config:    cfg,
		Pricing:   config.NewStaticPricingHolder(config.DefaultPricingConfig()),
		Orders:    orders,
		Webhooks:  webhooks,
		Audit:     audit,
		Gateway:   gw,
		Publisher: pub,
	})

	return &fixture{
		svc:       svc,
		db:        db,
		clock:     clk,
		gateway:   gw,
		publisher: pub,
		orders:    orders,
		webhooks:  webhooks,
		audits:    auditRepository,
		node:      node,
	}
}

// seedOrder inserts an order directly, optionally with a payment intent.
func (f *fixture) seedOrder(t *testing.T, userID uuid.UUID, status domain.OrderStatus, intentID string) domain.Order {
	t.Helper()
	now := f.clock.Now()
	order := domain.Order{
		ID:          uuid.New(),
		UserID:      userID,
		PackageType: domain.PackageStandard,
		Amount:      decimal.RequireFromString("29.99"),
		Currency:    "USD",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if intentID != "" {
		secret := intentID + "_secret"
		order.StripePaymentIntentID = &intentID
		order.StripeClientSecret = &secret
	}
	if status == domain.OrderStatusPaid {
		order.PaidAt = &now
	}
	require.NoError(t, f.orders.Insert(context.Background(), f.db, &order))
	return order
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) domain.Order {
	t.Helper()
	order, err := f.orders.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, order)
	return *order
}

func (f *fixture) auditActions(t *testing.T, orderID uuid.UUID) []auditdomain.PaymentAudit {
	t.Helper()
	items, err := f.audits.ListByOrder(context.Background(), f.db, orderID)
	require.NoError(t, err)
	return items
}

func requirePaidAtInvariant(t *testing.T, order domain.Order) {
	t.Helper()
	if order.Status == domain.OrderStatusPaid {
		require.NotNil(t, order.PaidAt, "paid order must carry paid_at")
	} else {
		require.Nil(t, order.PaidAt, "unpaid order must not carry paid_at")
	}
}

func succeededEvent(id, intentID string) domain.ProviderEvent {
	return domain.ProviderEvent{
		ID:              id,
		Type:            "payment_intent.succeeded",
		Kind:            domain.EventKindPaymentSucceeded,
		PaymentIntentID: intentID,
	}
}

var errBoom = errors.New("boom")
