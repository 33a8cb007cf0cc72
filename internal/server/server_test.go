package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/orderbilling/internal/audit/domain"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/internal/identity"
	"github.com/smallbiznis/orderbilling/internal/observability"
	obsmetrics "github.com/smallbiznis/orderbilling/internal/observability/metrics"
	"github.com/smallbiznis/orderbilling/internal/ratelimit"
	"github.com/smallbiznis/orderbilling/internal/receipt"
	"github.com/smallbiznis/orderbilling/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBillingService struct {
	orders       map[uuid.UUID]domain.Order
	createErr    error
	processErr   error
	lastCreate   domain.CreateOrderRequest
	lastList     domain.ListOrdersRequest
	lastWebhooks domain.ListWebhookEventsRequest
	processed    []domain.ProviderEvent
	cancelErr    error
	statsCalls   int
}

func newFakeBillingService() *fakeBillingService {
	return &fakeBillingService{orders: map[uuid.UUID]domain.Order{}}
}

func (f *fakeBillingService) ListPackages(ctx context.Context) []domain.Package {
	return []domain.Package{{Type: domain.PackageBasic, Name: "Basic Package", Price: decimal.RequireFromString("9.99"), Currency: "usd"}}
}

func (f *fakeBillingService) GetPackage(ctx context.Context, packageType string) (domain.Package, error) {
	if !domain.PackageType(packageType).Valid() {
		return domain.Package{}, domain.ErrInvalidPackage
	}
	return domain.Package{Type: domain.PackageType(packageType), Name: "Package"}, nil
}

func (f *fakeBillingService) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResponse, error) {
	f.lastCreate = req
	if f.createErr != nil {
		return domain.CreateOrderResponse{}, f.createErr
	}
	order := domain.Order{ID: uuid.New(), UserID: req.UserID, PackageType: domain.PackageType(req.PackageType), Status: domain.OrderStatusPendingPayment}
	return domain.CreateOrderResponse{
		Order:   order,
		Payment: domain.PaymentHandle{OrderID: order.ID, ClientSecret: "pi_secret", Status: order.Status},
	}, nil
}

func (f *fakeBillingService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (domain.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	if !order.Owned(userID) {
		return domain.Order{}, domain.ErrAccessDenied
	}
	return order, nil
}

func (f *fakeBillingService) ListOrders(ctx context.Context, req domain.ListOrdersRequest) (domain.ListOrdersResponse, error) {
	f.lastList = req
	page := pagination.Pagination{Page: req.Page, PageSize: req.PageSize}
	if page.PageSize == 0 {
		page.PageSize = pagination.DefaultPageSize
	}
	if err := page.Validate(); err != nil {
		return domain.ListOrdersResponse{}, err
	}
	return domain.ListOrdersResponse{PageInfo: pagination.BuildPageInfo(page, 0), Orders: []domain.Order{}}, nil
}

func (f *fakeBillingService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (domain.Order, error) {
	if f.cancelErr != nil {
		return domain.Order{}, f.cancelErr
	}
	order, err := f.GetOrder(ctx, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatusCancelled
	return order, nil
}

func (f *fakeBillingService) OrderHistory(ctx context.Context, orderID, userID uuid.UUID) ([]auditdomain.PaymentAudit, error) {
	if _, err := f.GetOrder(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return []auditdomain.PaymentAudit{{OrderID: orderID, Action: auditdomain.ActionOrderCreated, NewStatus: "created"}}, nil
}

func (f *fakeBillingService) ProcessWebhook(ctx context.Context, event domain.ProviderEvent, payload []byte) error {
	f.processed = append(f.processed, event)
	return f.processErr
}

func (f *fakeBillingService) ListWebhookEvents(ctx context.Context, req domain.ListWebhookEventsRequest) ([]domain.WebhookEvent, error) {
	f.lastWebhooks = req
	return []domain.WebhookEvent{}, nil
}

func (f *fakeBillingService) Stats(ctx context.Context) (domain.Stats, error) {
	f.statsCalls++
	return domain.Stats{TotalOrders: 3, PaidOrders: 1}, nil
}

type fakeVerifier struct{}

func (fakeVerifier) ConstructEvent(payload []byte, signatureHeader string) (domain.ProviderEvent, error) {
	if signatureHeader != "valid" {
		return domain.ProviderEvent{}, fmt.Errorf("%w: bad header", domain.ErrSignatureVerification)
	}
	return domain.ProviderEvent{ID: "evt_1", Type: "payment_intent.succeeded", Kind: domain.EventKindPaymentSucceeded}, nil
}

// tokenResolver accepts "<role>:<uuid>" tokens.
type tokenResolver struct{}

func (tokenResolver) Resolve(ctx context.Context, token string) (identity.Identity, error) {
	role, raw, ok := strings.Cut(token, ":")
	if !ok {
		return identity.Identity{}, identity.ErrUnauthorized
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return identity.Identity{}, identity.ErrUnauthorized
	}
	return identity.Identity{UserID: id, Role: role, Email: "buyer@example.com"}, nil
}

type testServer struct {
	engine  *gin.Engine
	billing *fakeBillingService
	userID  uuid.UUID
}

func newTestServer(t *testing.T, limiter *ratelimit.OrderCreateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{AppName: "billing-service", CORSAllowedOrigins: []string{"*"}}
	httpMetrics, err := obsmetrics.NewHTTPMetrics(nil)
	require.NoError(t, err)
	engine := NewEngine(cfg, observability.Config{ServiceName: "billing-service", Environment: "test"}, httpMetrics)

	billing := newFakeBillingService()
	NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Log:        zap.NewNop(),
		BillingSvc: billing,
		Verifier:   fakeVerifier{},
		Resolver:   tokenResolver{},
		Receipts:   receipt.NewGenerator(cfg),
		Limiter:    limiter,
	})
	return &testServer{engine: engine, billing: billing, userID: uuid.New()}
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func (ts *testServer) userToken() string {
	return "user:" + ts.userID.String()
}

func (ts *testServer) seedOrder(owner uuid.UUID, status domain.OrderStatus) domain.Order {
	order := domain.Order{
		ID:          uuid.New(),
		UserID:      owner,
		PackageType: domain.PackageBasic,
		Amount:      decimal.RequireFromString("9.99"),
		Currency:    "usd",
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	if status == domain.OrderStatusPaid {
		paidAt := time.Now().UTC()
		order.PaidAt = &paidAt
	}
	ts.billing.orders[order.ID] = order
	return order
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"billing-service"}`, w.Body.String())
}

func TestPackagesArePublic(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodGet, "/api/v1/billing/packages", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Basic Package")

	w = ts.do(http.MethodGet, "/api/v1/billing/packages/gold", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "package_type", payload.Errors[0].Field)
}

func TestCreateOrder(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/v1/billing/orders", "", map[string]any{"package_type": "basic"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Type)

	w = ts.do(http.MethodPost, "/api/v1/billing/orders", ts.userToken(), map[string]any{"package_type": "gold"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "package_type", payload.Errors[0].Field)
	assert.Equal(t, "package_type", payload.Errors[0].Code)

	w = ts.do(http.MethodPost, "/api/v1/billing/orders", ts.userToken(), []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/billing/orders", ts.userToken(), map[string]any{
		"package_type": "premium",
		"metadata":     map[string]any{"source": "web"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, ts.userID, ts.billing.lastCreate.UserID)
	assert.Equal(t, "premium", ts.billing.lastCreate.PackageType)
	assert.Equal(t, "web", ts.billing.lastCreate.Metadata["source"])
	assert.Contains(t, w.Body.String(), `"client_secret":"pi_secret"`)
}

func TestCreateOrderErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"gateway", fmt.Errorf("%w: card_declined", domain.ErrGateway), http.StatusBadGateway, "payment_gateway_error"},
		{"publish", fmt.Errorf("%w: %w", domain.ErrPublish, fmt.Errorf("broker down")), http.StatusServiceUnavailable, "event_publish_failed"},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.billing.createErr = tt.err
			w := ts.do(http.MethodPost, "/api/v1/billing/orders", ts.userToken(), map[string]any{"package_type": "basic"})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.typ, decodeError(t, w).Type)
		})
	}
}

func TestGetOrderOwnership(t *testing.T) {
	ts := newTestServer(t, nil)
	own := ts.seedOrder(ts.userID, domain.OrderStatusPendingPayment)
	other := ts.seedOrder(uuid.New(), domain.OrderStatusPendingPayment)

	w := ts.do(http.MethodGet, "/api/v1/billing/orders/"+own.ID.String(), ts.userToken(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/billing/orders/"+other.ID.String(), ts.userToken(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/billing/orders/"+uuid.NewString(), ts.userToken(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/billing/orders/not-a-uuid", ts.userToken(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_order_id", decodeError(t, w).Errors[0].Code)
}

func TestListOrdersQuery(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/api/v1/billing/orders?page=2&page_size=10&status=paid", ts.userToken(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, ts.billing.lastList.Page)
	assert.Equal(t, 10, ts.billing.lastList.PageSize)
	require.NotNil(t, ts.billing.lastList.Status)
	assert.Equal(t, domain.OrderStatusPaid, *ts.billing.lastList.Status)

	w = ts.do(http.MethodGet, "/api/v1/billing/orders", ts.userToken(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.billing.lastList.Page)

	w = ts.do(http.MethodGet, "/api/v1/billing/orders?status=shipped", ts.userToken(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/billing/orders?page=0", ts.userToken(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/billing/orders?page_size=abc", ts.userToken(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelOrderConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	order := ts.seedOrder(ts.userID, domain.OrderStatusPaid)
	ts.billing.cancelErr = fmt.Errorf("%w: cannot cancel order with status paid", domain.ErrInvalidStateTransition)

	w := ts.do(http.MethodPost, "/api/v1/billing/orders/"+order.ID.String()+"/cancel", ts.userToken(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "invalid_state_transition", payload.Type)
	assert.Equal(t, "cannot cancel order with status paid", payload.Message)
}

func TestOrderHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	order := ts.seedOrder(ts.userID, domain.OrderStatusCreated)

	w := ts.do(http.MethodGet, "/api/v1/billing/orders/"+order.ID.String()+"/history", ts.userToken(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), auditdomain.ActionOrderCreated)
}

func TestOrderReceipt(t *testing.T) {
	ts := newTestServer(t, nil)
	pending := ts.seedOrder(ts.userID, domain.OrderStatusPendingPayment)
	paid := ts.seedOrder(ts.userID, domain.OrderStatusPaid)

	w := ts.do(http.MethodGet, "/api/v1/billing/orders/"+pending.ID.String()+"/receipt", ts.userToken(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "order_not_paid", decodeError(t, w).Type)

	w = ts.do(http.MethodGet, "/api/v1/billing/orders/"+paid.ID.String()+"/receipt", ts.userToken(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), paid.ID.String())
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/api/v1/billing/stats", ts.userToken(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, ts.billing.statsCalls)

	admin := "admin:" + uuid.NewString()
	w = ts.do(http.MethodGet, "/api/v1/billing/stats", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_orders":3`)

	w = ts.do(http.MethodGet, "/api/v1/billing/webhook-events?failed=true&limit=5", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ts.billing.lastWebhooks.OnlyFailed)
	assert.Equal(t, 5, ts.billing.lastWebhooks.Limit)

	w = ts.do(http.MethodGet, "/api/v1/billing/webhook-events?failed=maybe", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t, nil)
	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
		req.Header.Set(stripeSignatureHeader, signature)
		w := httptest.NewRecorder()
		ts.engine.ServeHTTP(w, req)
		return w
	}

	w := send("forged")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "invalid_signature", payload.Type)
	assert.Equal(t, "Invalid signature", payload.Message)
	assert.Empty(t, ts.billing.processed)

	w = send("valid")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())
	require.Len(t, ts.billing.processed, 1)
	assert.Equal(t, "evt_1", ts.billing.processed[0].ID)

	ts.billing.processErr = fmt.Errorf("%w: order is failed", domain.ErrInvalidStateTransition)
	w = send("valid")
	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "order is failed")
}

func TestOrderCreateRateLimit(t *testing.T) {
	limiter := ratelimit.NewOrderCreateLimiter(config.Config{RateLimit: config.RateLimitConfig{
		Enabled:          true,
		OrderCreateRate:  0.001,
		OrderCreateBurst: 1,
	}}, nil, zap.NewNop())
	ts := newTestServer(t, limiter)

	w := ts.do(http.MethodPost, "/api/v1/billing/orders", ts.userToken(), map[string]any{"package_type": "basic"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/billing/orders", ts.userToken(), map[string]any{"package_type": "basic"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decodeError(t, w).Type)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	other := "user:" + uuid.NewString()
	w = ts.do(http.MethodPost, "/api/v1/billing/orders", other, map[string]any{"package_type": "basic"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodGet, "/api/v1/billing/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestToSnake(t *testing.T) {
	assert.Equal(t, "package_type", toSnake("PackageType"))
	assert.Equal(t, "metadata", toSnake("Metadata"))
}
