// Package handler exposes the exchange relay endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"covenant/internal/exchange"
	identityservice "covenant/internal/identity/service"
	"covenant/internal/platform/middleware"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/httputil"
)

// Handler serves data-exchange triggering and the provider token
// handshake. Token routes are participant-authenticated with client
// credentials; the trigger route is bearer-authenticated.
type Handler struct {
	relay    *exchange.Service
	identity *identityservice.Service
	logger   *slog.Logger
}

func New(relay *exchange.Service, identity *identityservice.Service, logger *slog.Logger) *Handler {
	return &Handler{relay: relay, identity: identity, logger: logger}
}

// RegisterProtected mounts the bearer-authenticated trigger route.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/consents/{id}/data-exchange", h.handleTrigger)
}

// RegisterParticipant mounts the client-credential routes used by
// counterpart connectors.
func (h *Handler) RegisterParticipant(r chi.Router) {
	r.Post("/consents/{id}/token", h.handleAttachToken)
	r.Post("/consents/{id}/token/verify", h.handleVerifyToken)
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := authenticatedUser(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	consentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent id"))
		return
	}

	result, err := h.relay.Trigger(ctx, consentID, userID)
	if err != nil {
		h.logger.WarnContext(ctx, "data exchange trigger failed",
			"request_id", middleware.GetRequestID(ctx),
			"consent_id", consentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleAttachToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.authenticatedParticipant(r); err != nil {
		httputil.WriteError(w, err)
		return
	}
	consentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent id"))
		return
	}
	var req tokenRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.relay.AttachToken(ctx, consentID, req.Token)
	if err != nil {
		h.logger.WarnContext(ctx, "token attachment failed",
			"request_id", middleware.GetRequestID(ctx),
			"consent_id", consentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

type verifyResponse struct {
	Matched bool `json:"matched"`
}

func (h *Handler) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.authenticatedParticipant(r); err != nil {
		httputil.WriteError(w, err)
		return
	}
	consentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent id"))
		return
	}
	var req tokenRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	matched, err := h.relay.VerifyToken(ctx, consentID, req.Token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{Matched: matched})
}

func (h *Handler) authenticatedParticipant(r *http.Request) (any, error) {
	return h.identity.AuthenticateParticipant(r.Context(),
		r.Header.Get("X-Client-Id"), r.Header.Get("X-Client-Secret"))
}

func authenticatedUser(ctx context.Context) (uuid.UUID, error) {
	raw := middleware.GetUserID(ctx)
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeUnauthorized, "malformed user identity")
	}
	return userID, nil
}
