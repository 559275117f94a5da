package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/subvaulthq/subvault-backend/internal/duration"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/pagination"
)

// Service defines read and issuance operations over active subscriptions.
// Renewal mutations live in the renewals package.
type Service interface {
	// Issue creates an entitlement out-of-band, without an order or a pool
	// claim. Used by operators re-issuing after a partial allocation failure.
	Issue(ctx context.Context, input IssueInput) (*models.Subscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Subscription, error)
	List(ctx context.Context, params pagination.Params) (*Page, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// IssueInput describes a manual entitlement issuance.
type IssueInput struct {
	OrderID       *string `json:"order_id,omitempty"`
	CustomerName  string  `json:"customer_name"`
	CustomerEmail string  `json:"customer_email"`
	CustomerPhone *string `json:"customer_phone,omitempty"`
	Code          string  `json:"code"`
	DurationLabel string  `json:"duration_label"`
}

// Page is one cursor-delimited slice of subscriptions.
type Page struct {
	Items      []models.Subscription `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// NewService wires a subscription service with the provided repository.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	return &service{repo: repo, logg: logg, now: time.Now}, nil
}

func (s *service) Issue(ctx context.Context, input IssueInput) (*models.Subscription, error) {
	if input.CustomerName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer name is required")
	}
	if input.CustomerEmail == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	if input.Code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription code is required")
	}

	days, err := duration.ToDays(input.DurationLabel)
	if err != nil {
		return nil, err
	}

	start := s.now().UTC()
	sub := &models.Subscription{
		OrderID:        input.OrderID,
		CustomerName:   input.CustomerName,
		CustomerEmail:  input.CustomerEmail,
		CustomerPhone:  input.CustomerPhone,
		Code:           input.Code,
		DurationLabel:  input.DurationLabel,
		StartDate:      start,
		ExpirationDate: start.AddDate(0, 0, days),
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating subscription")
	}

	if s.logg != nil {
		logCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())
		s.logg.Info(logCtx, "subscription issued manually")
	}
	return sub, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("subscription %s not found", id))
	}
	return sub, nil
}

func (s *service) GetByOrderID(ctx context.Context, orderID string) (*models.Subscription, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	sub, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading subscription by order")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no subscription for order %q", orderID))
	}
	return sub, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) (*Page, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	items, err := s.repo.List(ctx, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing subscriptions")
	}

	page := &Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}
