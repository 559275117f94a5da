package controllers

import (
	"net/http"

	"github.com/subvaulthq/subvault-backend/api/responses"
	"github.com/subvaulthq/subvault-backend/api/validators"
	"github.com/subvaulthq/subvault-backend/internal/allocation"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/metrics"
)

type allocateRequest struct {
	OrderID       string  `json:"order_id" validate:"required"`
	ProductCode   string  `json:"product_code" validate:"required"`
	DurationLabel string  `json:"duration_label" validate:"required"`
	CustomerName  string  `json:"customer_name" validate:"required"`
	CustomerEmail string  `json:"customer_email" validate:"required,email"`
	CustomerPhone *string `json:"customer_phone,omitempty"`
	Actor         string  `json:"actor,omitempty"`
}

// CreateAllocation assigns a pooled credential to a paid order.
func CreateAllocation(svc allocation.Service, engineMetrics *metrics.EngineMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocation service unavailable"))
			return
		}

		var req allocateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			engineMetrics.IncAllocation(metrics.OutcomeError)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.AllocateForOrder(r.Context(), allocation.AllocateInput{
			OrderID:       req.OrderID,
			ProductCode:   req.ProductCode,
			DurationLabel: req.DurationLabel,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			CustomerPhone: req.CustomerPhone,
			Actor:         req.Actor,
		})
		if err != nil {
			engineMetrics.IncAllocation(allocationOutcome(err))
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		engineMetrics.IncAllocation(metrics.OutcomeSuccess)
		responses.WriteSuccessStatus(w, http.StatusCreated, sub)
	}
}

func allocationOutcome(err error) string {
	switch {
	case pkgerrors.HasCode(err, pkgerrors.CodeExhausted):
		return metrics.OutcomeExhausted
	case pkgerrors.HasCode(err, pkgerrors.CodePartialFailure):
		return metrics.OutcomePartial
	default:
		return metrics.OutcomeError
	}
}
