package controllers

import (
	"net/http"
	"time"

	"github.com/subvaulthq/subvault-backend/api/responses"
	"github.com/subvaulthq/subvault-backend/api/validators"
	"github.com/subvaulthq/subvault-backend/internal/renewals"
	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/metrics"
)

const maxHistoryLimit = 100

type renewRequest struct {
	ExplicitNewExpiration *time.Time `json:"explicit_new_expiration,omitempty"`
	DurationLabel         *string    `json:"duration_label,omitempty"`
	Actor                 string     `json:"actor,omitempty"`
}

// RenewSubscription extends a subscription from its stored expiration date.
func RenewSubscription(svc renewals.Service, engineMetrics *metrics.EngineMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "renewals service unavailable"))
			return
		}

		id, err := subscriptionIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req renewRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			engineMetrics.IncRenewal(metrics.OutcomeError)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Renew(r.Context(), id, renewals.RenewOptions{
			ExplicitNewExpiration: req.ExplicitNewExpiration,
			DurationLabel:         req.DurationLabel,
			Actor:                 req.Actor,
		})
		if err != nil {
			engineMetrics.IncRenewal(metrics.OutcomeError)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		engineMetrics.IncRenewal(metrics.OutcomeSuccess)
		responses.WriteSuccess(w, sub)
	}
}

// RenewalHistory lists the append-only renewal snapshots for a subscription,
// newest first.
func RenewalHistory(svc renewals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "renewals service unavailable"))
			return
		}

		id, err := subscriptionIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, maxHistoryLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		history, err := svc.History(r.Context(), id, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, history)
	}
}
