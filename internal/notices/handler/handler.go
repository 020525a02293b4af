// Package handler exposes privacy notice endpoints.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"covenant/internal/notices/models"
	"covenant/internal/notices/service"
	"covenant/internal/platform/middleware"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/httputil"
)

// Handler serves privacy notice listing and retrieval.
type Handler struct {
	notices *service.Service
	logger  *slog.Logger
}

func New(notices *service.Service, logger *slog.Logger) *Handler {
	return &Handler{notices: notices, logger: logger}
}

// Register mounts the privacy notice routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/privacy-notices", h.handleList)
	r.Get("/privacy-notices/{id}", h.handleGet)
}

type listResponse struct {
	Notices  []models.Notice   `json:"privacyNotices"`
	Warnings []service.Warning `json:"warnings,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := r.URL.Query().Get("dataProvider")
	consumer := r.URL.Query().Get("dataConsumer")
	if provider == "" || consumer == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest,
			"dataProvider and dataConsumer query parameters are required"))
		return
	}

	notices, warnings, err := h.notices.ListForPair(ctx, provider, consumer)
	if err != nil {
		h.logger.ErrorContext(ctx, "notice listing failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if notices == nil {
		notices = []models.Notice{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Notices: notices, Warnings: warnings})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid privacy notice id"))
		return
	}

	notice, err := h.notices.Get(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, notice)
}
