package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"covenant/internal/identity/models"
	"covenant/internal/identity/service"
	"covenant/internal/platform/middleware"
	"covenant/internal/token"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/httputil"
)

// Handler exposes user signup/login and participant registration endpoints.
type Handler struct {
	identity *service.Service
	tokens   *token.Service
	logger   *slog.Logger
}

func New(identity *service.Service, tokens *token.Service, logger *slog.Logger) *Handler {
	return &Handler{identity: identity, tokens: tokens, logger: logger}
}

// Register mounts the identity routes. Participant identifier registration is
// client-credential authenticated, not bearer authenticated.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/signup", h.handleSignup)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/participants", h.handleRegisterParticipant)
	r.Post("/participants/identifiers", h.handleRegisterIdentifier)
}

type signupRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type userResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req signupRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	user, err := h.identity.RegisterUser(ctx, req.FirstName, req.LastName, req.Email, req.Password)
	if err != nil {
		h.logger.WarnContext(ctx, "signup failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, userResponse{
		ID:        user.ID.String(),
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	user, err := h.identity.AuthenticateUser(ctx, req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	signed, err := h.tokens.GenerateAccessToken(user.ID.String(), user.Email)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue access token",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, loginResponse{AccessToken: signed, TokenType: "Bearer"})
}

type registerParticipantRequest struct {
	LegalName          string           `json:"legalName"`
	Identifier         string           `json:"identifier"`
	SelfDescriptionURL string           `json:"selfDescriptionURL"`
	Email              string           `json:"email"`
	Password           string           `json:"password"`
	Endpoints          models.Endpoints `json:"endpoints"`
}

type registerParticipantResponse struct {
	ID                 string `json:"id"`
	LegalName          string `json:"legalName"`
	SelfDescriptionURL string `json:"selfDescriptionURL"`
	ClientID           string `json:"clientID"`
	// ClientSecret is returned exactly once, at registration.
	ClientSecret string `json:"clientSecret"`
}

func (h *Handler) handleRegisterParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerParticipantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	registered, err := h.identity.RegisterParticipant(ctx, req.LegalName, req.Identifier,
		req.SelfDescriptionURL, req.Email, req.Password, req.Endpoints)
	if err != nil {
		h.logger.WarnContext(ctx, "participant registration failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, registerParticipantResponse{
		ID:                 registered.Participant.ID.String(),
		LegalName:          registered.Participant.LegalName,
		SelfDescriptionURL: registered.Participant.SelfDescriptionURL,
		ClientID:           registered.Participant.ClientID,
		ClientSecret:       registered.ClientSecret,
	})
}

type registerIdentifierRequest struct {
	Email      string `json:"email"`
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
}

type identifierResponse struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participantID"`
	Email         string `json:"email"`
	Identifier    string `json:"identifier"`
	UserID        string `json:"userID,omitempty"`
}

// handleRegisterIdentifier lets a participant declare "we know this person".
// Authenticated with the participant's generated client credentials.
func (h *Handler) handleRegisterIdentifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	participant, err := h.identity.AuthenticateParticipant(ctx,
		r.Header.Get("X-Client-Id"), r.Header.Get("X-Client-Secret"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req registerIdentifierRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Identifier == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "identifier is required"))
		return
	}

	ident, err := h.identity.RegisterIdentifier(ctx, participant.ID, req.Email, req.Identifier, req.URL)
	if err != nil {
		h.logger.WarnContext(ctx, "identifier registration failed",
			"request_id", middleware.GetRequestID(ctx),
			"participant_id", participant.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := identifierResponse{
		ID:            ident.ID.String(),
		ParticipantID: ident.ParticipantID.String(),
		Email:         ident.Email,
		Identifier:    ident.Identifier,
	}
	if ident.Attached() {
		resp.UserID = ident.UserID.String()
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}
