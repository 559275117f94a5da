package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subvaulthq/subvault-backend/internal/allocation"
	"github.com/subvaulthq/subvault-backend/internal/notifications"
	"github.com/subvaulthq/subvault-backend/internal/pool"
	"github.com/subvaulthq/subvault-backend/internal/renewals"
	subscriptionsvc "github.com/subvaulthq/subvault-backend/internal/subscriptions"
	"github.com/subvaulthq/subvault-backend/pkg/config"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/pagination"
)

type stubAllocationService struct {
	allocate func(ctx context.Context, input allocation.AllocateInput) (*models.Subscription, error)
}

func (s stubAllocationService) AllocateForOrder(ctx context.Context, input allocation.AllocateInput) (*models.Subscription, error) {
	if s.allocate != nil {
		return s.allocate(ctx, input)
	}
	return &models.Subscription{ID: uuid.New()}, nil
}

type stubSubscriptionsService struct{}

func (stubSubscriptionsService) Issue(ctx context.Context, input subscriptionsvc.IssueInput) (*models.Subscription, error) {
	return &models.Subscription{ID: uuid.New(), Code: input.Code}, nil
}

func (stubSubscriptionsService) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return &models.Subscription{ID: id}, nil
}

func (stubSubscriptionsService) GetByOrderID(ctx context.Context, orderID string) (*models.Subscription, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
}

func (stubSubscriptionsService) List(ctx context.Context, params pagination.Params) (*subscriptionsvc.Page, error) {
	return &subscriptionsvc.Page{}, nil
}

type stubRenewalsService struct{}

func (stubRenewalsService) Renew(ctx context.Context, subscriptionID uuid.UUID, opts renewals.RenewOptions) (*models.Subscription, error) {
	now := time.Now().UTC()
	return &models.Subscription{ID: subscriptionID, StartDate: now, ExpirationDate: now.AddDate(0, 0, 30)}, nil
}

func (stubRenewalsService) History(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]models.RenewalSnapshot, error) {
	return nil, nil
}

type stubPoolService struct{}

func (stubPoolService) ClaimOne(ctx context.Context, productCode string) (*models.CredentialPoolEntry, error) {
	return nil, pkgerrors.New(pkgerrors.CodeExhausted, "no credentials available")
}

func (stubPoolService) ClaimOneTx(ctx context.Context, tx *gorm.DB, productCode string) (*models.CredentialPoolEntry, error) {
	return nil, pkgerrors.New(pkgerrors.CodeExhausted, "no credentials available")
}

func (stubPoolService) PurgeExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func (stubPoolService) Availability(ctx context.Context, productCode string) (int64, error) {
	return 3, nil
}

func (stubPoolService) Provision(ctx context.Context, input pool.ProvisionInput) (int, error) {
	return len(input.Payloads), nil
}

type stubNotificationsService struct{}

func (stubNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	return &notifications.ListResult{}, nil
}

func (stubNotificationsService) MarkSent(ctx context.Context, notificationID uuid.UUID) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
	}
}

func newTestRouter() http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(RouterParams{
		Config:        testConfig(),
		Logger:        logg,
		Allocation:    stubAllocationService{},
		Subscriptions: stubSubscriptionsService{},
		Renewals:      stubRenewalsService{},
		Pool:          stubPoolService{},
		Notifications: stubNotificationsService{},
	})
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if env := resp.Header().Get("X-SubVault-Env"); env != "test" {
		t.Fatalf("unexpected env header %q", env)
	}
}

func TestCreateAllocationAcceptsValidBody(t *testing.T) {
	router := newTestRouter()
	body := `{"order_id":"ord-1001","product_code":"streamco-premium","duration_label":"1 month","customer_name":"Dana Smith","customer_email":"dana@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/allocations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestCreateAllocationRejectsMissingFields(t *testing.T) {
	router := newTestRouter()
	body := `{"order_id":"ord-1001"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/allocations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSubscriptionDetailRejectsBadID(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/not-a-uuid", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSubscriptionByOrderReturnsNotFound(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/by-order/ord-9999", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestRenewReturnsUpdatedSubscription(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/"+uuid.NewString()+"/renew", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestPoolAvailabilityRequiresProductCode(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pool/availability", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/pool/availability?product_code=streamco-premium", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestNotificationsList(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}
