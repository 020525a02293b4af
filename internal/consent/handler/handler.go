// Package handler exposes the consent lifecycle endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"covenant/internal/consent/models"
	"covenant/internal/consent/service"
	"covenant/internal/platform/middleware"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/httputil"
)

// Handler serves consent grant, revoke, listing and confirmation routes.
type Handler struct {
	consents *service.Service
	logger   *slog.Logger
}

func New(consents *service.Service, logger *slog.Logger) *Handler {
	return &Handler{consents: consents, logger: logger}
}

// RegisterProtected mounts the bearer-authenticated consent routes.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/consents", h.handleGive)
	r.Get("/consents", h.handleList)
	r.Get("/consents/{id}", h.handleGet)
	r.Post("/consents/{id}/revoke", h.handleRevoke)
}

// RegisterPublic mounts the email deep-link confirmation route. The token
// itself authenticates the request.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/consents/confirm", h.handleConfirm)
}

type giveRequest struct {
	PrivacyNoticeID string `json:"privacyNoticeId"`
	Email           string `json:"email,omitempty"`
}

type verificationResponse struct {
	Message string `json:"message"`
	SentTo  string `json:"sentTo"`
}

func (h *Handler) handleGive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := authenticatedUser(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req giveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	noticeID, err := uuid.Parse(req.PrivacyNoticeID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid privacy notice id"))
		return
	}

	result, err := h.consents.Give(ctx, userID, noticeID, req.Email)
	if err != nil {
		h.logger.WarnContext(ctx, "consent grant failed",
			"request_id", middleware.GetRequestID(ctx),
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if result.VerificationSent {
		httputil.WriteJSON(w, http.StatusAccepted, verificationResponse{
			Message: "verification email sent",
			SentTo:  result.VerificationTo,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result.Consent)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	intent := r.URL.Query().Get("token")
	if intent == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "token query parameter is required"))
		return
	}

	result, err := h.consents.ConfirmGrant(ctx, intent)
	if err != nil {
		h.logger.WarnContext(ctx, "consent confirmation failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result.Consent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := authenticatedUser(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.consents.List(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
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

	record, err := h.consents.Get(ctx, consentID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
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

	record, err := h.consents.Revoke(ctx, consentID, userID)
	if err != nil {
		h.logger.WarnContext(ctx, "consent revocation failed",
			"request_id", middleware.GetRequestID(ctx),
			"user_id", userID,
			"consent_id", consentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

// authenticatedUser pulls the bearer-authenticated user ID from context.
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
