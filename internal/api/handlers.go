/**
 * @description
 * This file contains the HTTP handlers for the settlement service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/B-Ventures/bpay-v2-sub000/internal/app"
	"github.com/B-Ventures/bpay-v2-sub000/internal/domain"
	"github.com/B-Ventures/bpay-v2-sub000/internal/store"
)

// SettlementHandlers holds the application service that handlers will use.
type SettlementHandlers struct {
	service *app.Service
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(service *app.Service) *SettlementHandlers {
	return &SettlementHandlers{service: service}
}

// eligibilityResponse is sent back from the funding-source eligibility endpoint
// so the client can decide whether to show the "add card" flow or an upgrade
// prompt without attempting the attach.
type eligibilityResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// resolveUser extracts the auth subject from the request context and maps it
// to the internal user id. It writes the error response itself and returns
// ok=false when the caller cannot be identified.
func (h *SettlementHandlers) resolveUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	subject, ok := GetAuthSubject(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get auth subject from context")
		return uuid.Nil, false
	}

	userID, err := h.service.ResolveInternalUserID(r.Context(), subject)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=user_resolution_failed subject=%s err=%v", subject, err)
		h.writeError(w, http.StatusBadRequest, "User not found")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *SettlementHandlers) authorizeTransactionPIN(r *http.Request, w http.ResponseWriter, userID uuid.UUID, pin string) bool {
	err := h.service.VerifyTransactionPIN(r.Context(), userID, pin)
	if err == nil {
		return true
	}

	if errors.Is(err, app.ErrTransactionPINRequired) {
		h.writeError(w, http.StatusPreconditionFailed, "Transaction PIN is required for this request.")
		return false
	}
	if errors.Is(err, app.ErrInvalidTransactionPIN) {
		h.writeError(w, http.StatusUnauthorized, "Invalid transaction PIN.")
		return false
	}

	log.Printf("level=error component=api msg=\"transaction pin verification failed\" user_id=%s err=%v", userID, err)
	h.writeError(w, http.StatusInternalServerError, "Unable to verify transaction PIN")
	return false
}

// SettleHandler handles requests to fund and provision a new bcard.
func (h *SettlementHandlers) SettleHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req domain.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MerchantName == "" {
		h.writeError(w, http.StatusBadRequest, "merchant_name is required")
		return
	}

	if !h.authorizeTransactionPIN(r, w, userID, req.TransactionPIN) {
		return
	}

	result, err := h.service.Settle(r.Context(), userID, req)
	if err != nil {
		var rateErr *app.RateLimitError
		if errors.As(err, &rateErr) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", rateErr.RetryAfterSeconds))
			h.writeError(w, http.StatusTooManyRequests, "Too many settlement attempts. Please slow down.")
			return
		}
		log.Printf("level=error component=api endpoint=settle msg=\"settlement failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Settlement could not be processed")
		return
	}

	status := http.StatusCreated
	if result.Status != "succeeded" {
		// Failed settlements are reported as a structured 422 so the client
		// can render the per-source breakdown and remediation flags.
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, result)
}

// ValidateSplitHandler performs a dry-run validation of a split configuration
// without moving any money.
func (h *SettlementHandlers) ValidateSplitHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var config domain.SplitConfiguration
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.ValidateSplit(r.Context(), userID, config)
	if err != nil {
		log.Printf("level=error component=api endpoint=validate_split msg=\"validation failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Split could not be validated")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// AttachFundingSourceHandler attaches a new funding source, subject to the
// caller's subscription tier policy.
func (h *SettlementHandlers) AttachFundingSourceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req domain.AttachFundingSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Type == "" || req.PaymentMethodRef == "" {
		h.writeError(w, http.StatusBadRequest, "name, type and payment_method_ref are required")
		return
	}

	source, err := h.service.AttachFundingSource(r.Context(), userID, req)
	if err != nil {
		var policyErr *app.PolicyDeniedError
		if errors.As(err, &policyErr) {
			h.writeError(w, http.StatusForbidden, policyErr.Reason)
			return
		}
		log.Printf("level=error component=api endpoint=attach_funding_source msg=\"attach failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Funding source could not be attached")
		return
	}

	h.writeJSON(w, http.StatusCreated, source)
}

// ListFundingSourcesHandler returns the caller's funding sources.
func (h *SettlementHandlers) ListFundingSourcesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	sources, err := h.service.ListFundingSources(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_funding_sources msg=\"list failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Funding sources could not be listed")
		return
	}
	if sources == nil {
		sources = []domain.FundingSource{}
	}

	h.writeJSON(w, http.StatusOK, sources)
}

// RemoveFundingSourceHandler soft-deletes one of the caller's funding sources.
func (h *SettlementHandlers) RemoveFundingSourceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid funding source ID")
		return
	}

	if err := h.service.RemoveFundingSource(r.Context(), sourceID, userID); err != nil {
		if errors.Is(err, store.ErrFundingSourceNotFound) {
			h.writeError(w, http.StatusNotFound, "Funding source not found")
			return
		}
		log.Printf("level=error component=api endpoint=remove_funding_source msg=\"remove failed\" user_id=%s source_id=%s err=%v", userID, sourceID, err)
		h.writeError(w, http.StatusInternalServerError, "Funding source could not be removed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FundingSourceEligibilityHandler reports whether the caller may attach
// another funding source under their tier policy.
func (h *SettlementHandlers) FundingSourceEligibilityHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.CanAttachFundingSource(r.Context(), userID, r.URL.Query().Get("cardholder_name"))
	if err != nil {
		log.Printf("level=error component=api endpoint=funding_source_eligibility msg=\"check failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Eligibility could not be determined")
		return
	}

	h.writeJSON(w, http.StatusOK, eligibilityResponse{Allowed: result.Allowed, Reason: result.Reason})
}

// GetCardHandler returns a virtual card owned by the caller. Sensitive card
// fields are never available here; they are returned exactly once at issuance.
func (h *SettlementHandlers) GetCardHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	cardID, err := uuid.Parse(chi.URLParam(r, "cardID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid card ID")
		return
	}

	card, err := h.service.GetCard(r.Context(), cardID, userID)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			h.writeError(w, http.StatusNotFound, "Card not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_card msg=\"lookup failed\" user_id=%s card_id=%s err=%v", userID, cardID, err)
		h.writeError(w, http.StatusInternalServerError, "Card could not be retrieved")
		return
	}

	h.writeJSON(w, http.StatusOK, card)
}

// FreezeCardHandler deactivates a card so further authorizations are declined.
func (h *SettlementHandlers) FreezeCardHandler(w http.ResponseWriter, r *http.Request) {
	h.setCardStatus(w, r, "freeze", func(cardID, userID uuid.UUID) error {
		return h.service.FreezeCard(r.Context(), cardID, userID)
	})
}

// UnfreezeCardHandler reactivates a frozen card.
func (h *SettlementHandlers) UnfreezeCardHandler(w http.ResponseWriter, r *http.Request) {
	h.setCardStatus(w, r, "unfreeze", func(cardID, userID uuid.UUID) error {
		return h.service.UnfreezeCard(r.Context(), cardID, userID)
	})
}

func (h *SettlementHandlers) setCardStatus(w http.ResponseWriter, r *http.Request, action string, apply func(cardID, userID uuid.UUID) error) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	cardID, err := uuid.Parse(chi.URLParam(r, "cardID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid card ID")
		return
	}

	if err := apply(cardID, userID); err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			h.writeError(w, http.StatusNotFound, "Card not found")
			return
		}
		log.Printf("level=error component=api endpoint=%s_card msg=\"status change failed\" user_id=%s card_id=%s err=%v", action, userID, cardID, err)
		h.writeError(w, http.StatusInternalServerError, "Card status could not be updated")
		return
	}

	card, err := h.service.GetCard(r.Context(), cardID, userID)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, card)
}

func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
