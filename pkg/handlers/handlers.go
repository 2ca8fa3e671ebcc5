package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/x402-rs/x402-ask/pkg/facilitator"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// Handler serves the facilitator HTTP API
type Handler struct {
	facilitator facilitator.Facilitator
	log         logging.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(fac facilitator.Facilitator, log logging.Logger) *Handler {
	return &Handler{
		facilitator: fac,
		log:         log,
	}
}

// VerifyHandler handles POST /verify requests
func (h *Handler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse request (fail on unknown/misnamed fields)
	var req types.VerifyRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, types.ReasonMalformed, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if err := req.Requirement.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, types.ReasonMalformed, err.Error())
		return
	}

	ctx := r.Context()
	receipt, err := h.facilitator.Verify(ctx, &req.Authorization, &req.Requirement)

	var verr *types.VerificationError
	switch {
	case err == nil:
		h.log.Info(ctx, "payment verified",
			"payer", receipt.Payer, "network", receipt.Network, "nonce", req.Requirement.Nonce)
		respondJSON(w, http.StatusOK, types.NewValidResponse(receipt))
	case errors.As(err, &verr):
		// Protocol-level rejections are a 200 with an invalid verdict
		h.log.Info(ctx, "payment rejected",
			"payer", req.Authorization.Payer, "reason", verr.Reason, "nonce", req.Requirement.Nonce)
		respondJSON(w, http.StatusOK, types.NewInvalidResponse(verr))
	case errors.Is(err, context.Canceled):
		h.log.Debug(ctx, "verify canceled by caller", "nonce", req.Requirement.Nonce)
	case errors.Is(err, types.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		h.log.Error(ctx, "verify timed out", "error", err)
		respondError(w, http.StatusGatewayTimeout, "", "verification timed out")
	default:
		h.log.Error(ctx, "verify failed", "error", err)
		respondError(w, http.StatusBadGateway, "", fmt.Sprintf("verification failed: %v", err))
	}
}

// SupportedHandler handles GET /supported requests
func (h *Handler) SupportedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := h.facilitator.Supported(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "", fmt.Sprintf("failed to get supported networks: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// HealthHandler handles GET /health requests
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, reason types.Reason, message string) {
	respondJSON(w, status, types.ErrorResponse{Error: message, Reason: reason})
}

// SetupRoutes sets up all HTTP routes
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/verify", h.VerifyHandler)
	mux.HandleFunc("/supported", h.SupportedHandler)
	mux.HandleFunc("/health", h.HealthHandler)
}
