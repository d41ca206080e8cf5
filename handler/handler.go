package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"agent-inbox/internal/usecase"
)

type MessageUseCase interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	List(ctx context.Context, userID, agentType string) (usecase.ListOutput, error)
	Clear(ctx context.Context, in usecase.ClearInput) (int, error)
}

type AuthUseCase interface {
	Signup(ctx context.Context, in usecase.SignupInput) (usecase.Session, error)
	Login(ctx context.Context, in usecase.LoginInput) (usecase.Session, error)
	GoogleLogin(ctx context.Context, credential string) (usecase.Session, error)
}

// Pinger is a dependency probed by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	messages MessageUseCase
	auth     AuthUseCase
	checks   map[string]Pinger
	logger   zerolog.Logger
}

type Option func(*Handler)

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithHealthCheck registers a dependency reported by GET /health.
func WithHealthCheck(name string, p Pinger) Option {
	return func(h *Handler) {
		if p != nil {
			h.checks[name] = p
		}
	}
}

func NewHandler(messages MessageUseCase, auth AuthUseCase, opts ...Option) (*Handler, error) {
	if messages == nil {
		return nil, errors.New("handler: message use case must not be nil")
	}
	if auth == nil {
		return nil, errors.New("handler: auth use case must not be nil")
	}
	h := &Handler{
		messages: messages,
		auth:     auth,
		checks:   map[string]Pinger{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string, code usecase.ErrorCode) {
	h.JSON(w, status, errorResponse{OK: false, Error: message, Code: string(code)})
}

// fail maps a use case error to its HTTP status. Internal details are logged,
// never returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		ue = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected", Err: err}
	}
	status := statusFor(ue.Code)

	ev := h.logger.Info()
	if status >= http.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(ue.Err).
		Str("code", string(ue.Code)).
		Str("reason", ue.Reason).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("request failed")

	h.Error(w, status, messageFor(ue), ue.Code)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorNoPassword:
		return http.StatusBadRequest
	case usecase.ErrorInvalidCredentials, usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorLimitReached, usecase.ErrorForbidden:
		return http.StatusForbidden
	case usecase.ErrorNotFound, usecase.ErrorUserNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict, usecase.ErrorUserExists:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(e *usecase.Error) string {
	switch e.Code {
	case usecase.ErrorInvalidInput:
		return fmt.Sprintf("invalid input: %s", e.Reason)
	case usecase.ErrorLimitReached:
		return "message limit reached for this agent"
	case usecase.ErrorConflict:
		return "thread was modified concurrently, please retry"
	case usecase.ErrorUserExists:
		return "User already exists"
	case usecase.ErrorUserNotFound:
		return "User not found. Please sign up."
	case usecase.ErrorNoPassword:
		return "Account exists but has no password. Try signing in with Google."
	case usecase.ErrorInvalidCredentials:
		return "Invalid credentials"
	case usecase.ErrorUnauthorized:
		return "authentication failed"
	case usecase.ErrorForbidden:
		return "forbidden"
	case usecase.ErrorUpstream:
		return "agent webhook failed"
	default:
		return "internal server error"
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_json", Err: err}
	}
	return nil
}
