package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/subvaulthq/subvault-backend/api/responses"
	"github.com/subvaulthq/subvault-backend/api/validators"
	"github.com/subvaulthq/subvault-backend/internal/pool"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/metrics"
)

type provisionRequest struct {
	ProductCode string            `json:"product_code" validate:"required"`
	Payloads    []json.RawMessage `json:"payloads" validate:"required,min=1"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// ProvisionPoolEntries loads a batch of credentials into the pool.
func ProvisionPoolEntries(svc pool.Service, engineMetrics *metrics.EngineMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pool service unavailable"))
			return
		}

		var req provisionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		inserted, err := svc.Provision(r.Context(), pool.ProvisionInput{
			ProductCode: req.ProductCode,
			Payloads:    req.Payloads,
			ExpiresAt:   req.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if depth, depthErr := svc.Availability(r.Context(), req.ProductCode); depthErr == nil {
			engineMetrics.SetPoolDepth(req.ProductCode, depth)
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"product_code": req.ProductCode,
			"inserted":     inserted,
		})
	}
}

// PoolAvailability reports the unclaimed entry count for a product.
func PoolAvailability(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pool service unavailable"))
			return
		}

		productCode := strings.TrimSpace(r.URL.Query().Get("product_code"))
		if productCode == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product_code is required"))
			return
		}

		available, err := svc.Availability(r.Context(), productCode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"product_code": productCode,
			"available":    available,
		})
	}
}

// PurgePoolEntries removes expired never-claimed entries on demand. The cron
// worker runs the same sweep daily; this endpoint exists for operators.
func PurgePoolEntries(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pool service unavailable"))
			return
		}

		purged, err := svc.PurgeExpired(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"purged": purged})
	}
}
