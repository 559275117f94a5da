package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	dbpkg "github.com/subvaulthq/subvault-backend/pkg/db"
	"github.com/subvaulthq/subvault-backend/pkg/db/models"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
)

// AssignedBySystem marks records written by the engine rather than a human
// operator.
const AssignedBySystem = "system"

// Service defines operations over the allocation ledger.
type Service interface {
	// Record writes the immutable order-to-credential link. A second record
	// for the same order fails with a conflict; that conflict is the
	// store-enforced idempotency mechanism for allocation.
	Record(ctx context.Context, input RecordInput) (*models.AllocationRecord, error)
	RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.AllocationRecord, error)
	Lookup(ctx context.Context, orderID string) (*models.AllocationRecord, error)
}

type service struct {
	repo Repository
}

// RecordInput captures the immutable data an allocation record requires.
type RecordInput struct {
	OrderID         string          `json:"order_id"`
	PayloadSnapshot json.RawMessage `json:"payload_snapshot"`
	AssignedBy      string          `json:"assigned_by"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, input RecordInput) (*models.AllocationRecord, error) {
	return s.record(ctx, s.repo, input)
}

func (s *service) RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.AllocationRecord, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	return s.record(ctx, s.repo.WithTx(tx), input)
}

func (s *service) record(ctx context.Context, repo Repository, input RecordInput) (*models.AllocationRecord, error) {
	if input.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if len(input.PayloadSnapshot) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credential payload snapshot is required")
	}
	if input.AssignedBy == "" {
		input.AssignedBy = AssignedBySystem
	}

	record := &models.AllocationRecord{
		OrderID:         input.OrderID,
		PayloadSnapshot: input.PayloadSnapshot,
		AssignedBy:      input.AssignedBy,
	}

	if err := repo.Create(ctx, record); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("order %q already has an allocation", input.OrderID))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "writing allocation record")
	}
	return record, nil
}

func (s *service) Lookup(ctx context.Context, orderID string) (*models.AllocationRecord, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	record, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "looking up allocation record")
	}
	return record, nil
}
