// AngelaMos | 2026
// handler.go

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/templates/identity-backend/internal/core"
	"github.com/carterperez-dev/templates/identity-backend/internal/middleware"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts /auth. limiter guards the credential endpoints and
// may be nil.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
	limiter func(http.Handler) http.Handler,
) {
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter)
			}
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
			r.Post("/resend-verification", h.ResendVerification)
		})
		r.Post("/refresh", h.Refresh)
		r.Post("/verify", h.Verify)

		r.Group(func(r chi.Router) {
			r.Use(authenticator)
			r.Post("/logout", h.Logout)
		})
	})
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.Signup(r.Context(), SignupInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		var weak *WeakPasswordError
		switch {
		case errors.As(err, &weak):
			core.JSONError(w, core.NewAppError(
				ErrWeakPassword,
				weak.Error(),
				http.StatusBadRequest,
				"WEAK_PASSWORD",
			))
		case errors.Is(err, ErrEmailAlreadyRegistered):
			core.JSONError(w, core.NewAppError(
				ErrEmailAlreadyRegistered,
				"email already registered",
				http.StatusConflict,
				"EMAIL_ALREADY_REGISTERED",
			))
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.Created(w, toUserResponse(user))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			core.JSONError(w, core.NewAppError(
				ErrInvalidCredentials,
				"invalid email or password",
				http.StatusUnauthorized,
				"INVALID_CREDENTIALS",
			))
		case errors.Is(err, ErrEmailNotVerified):
			core.JSONError(w, core.NewAppError(
				ErrEmailNotVerified,
				"email address has not been verified",
				http.StatusForbidden,
				"EMAIL_NOT_VERIFIED",
			))
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.OK(w, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.service.AccessTTL() / time.Second),
		ExpiresAt:    pair.AccessExpiresAt,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	access, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTokenExpired):
			core.JSONError(w, core.TokenExpiredError())
		case errors.Is(err, core.ErrTokenInvalid):
			core.JSONError(w, core.TokenInvalidError())
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.OK(w, TokenResponse{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.service.AccessTTL() / time.Second),
		ExpiresAt:   access.ExpiresAt,
	})
}

// Verify answers 400 for a malformed or unknown token and 401 for an
// expired one.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTokenExpired):
			core.JSONError(w, core.TokenExpiredError())
		case errors.Is(err, core.ErrTokenInvalid):
			core.JSONError(w, core.NewAppError(
				core.ErrTokenInvalid,
				"verification token is invalid",
				http.StatusBadRequest,
				"TOKEN_INVALID",
			))
		case errors.Is(err, core.ErrNotFound):
			core.NotFound(w, "user")
		default:
			core.InternalServerError(w, err)
		}
		return
	}

	core.OK(w, toUserResponse(user))
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, MessageResponse{
		Message: "if the account exists and is unverified, a new link has been sent",
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		core.Unauthorized(w, "")
		return
	}

	if err := h.service.Logout(r.Context(), principal); err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		core.BadRequest(w, "invalid request body")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return false
	}

	return true
}
