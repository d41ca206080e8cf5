package usecase

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"agent-inbox/internal/domain"
	"agent-inbox/internal/metrics"
	"agent-inbox/internal/repository"
)

const minPasswordLen = 6

type AuthService struct {
	users  UserStore
	tokens TokenIssuer
	hasher PasswordHasher
	google GoogleVerifier
}

type SignupInput struct {
	Username string
	Email    string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

// Session is the result of every successful auth flow.
type Session struct {
	Token string
	User  domain.Profile
}

// NewAuthService wires the auth flows. google may be nil, in which case
// GoogleLogin fails with an internal error.
func NewAuthService(users UserStore, tokens TokenIssuer, hasher PasswordHasher, google GoogleVerifier) (*AuthService, error) {
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("usecase: token issuer must not be nil")
	}
	if hasher == nil {
		return nil, errors.New("usecase: password hasher must not be nil")
	}
	return &AuthService{users: users, tokens: tokens, hasher: hasher, google: google}, nil
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput) (Session, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" || in.Password == "" {
		return Session{}, newError(ErrorInvalidInput, "missing_fields", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, newError(ErrorInvalidInput, "invalid_email", err)
	}
	if len(in.Password) < minPasswordLen {
		return Session{}, newError(ErrorInvalidInput, "password_too_short", nil)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, newError(ErrorInternal, "hash_error", err)
	}
	u := domain.User{
		ID:           newUUID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			metrics.AuthAttempts.WithLabelValues("signup", "exists").Inc()
			return Session{}, newError(ErrorUserExists, "email_taken", err)
		}
		return Session{}, newError(ErrorInternal, "create_user_error", err)
	}
	metrics.AuthAttempts.WithLabelValues("signup", "ok").Inc()
	return s.session(u)
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (Session, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" {
		return Session{}, newError(ErrorInvalidInput, "missing_fields", nil)
	}
	u, found, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return Session{}, newError(ErrorInternal, "load_user_error", err)
	}
	if !found {
		metrics.AuthAttempts.WithLabelValues("password", "unknown_user").Inc()
		return Session{}, newError(ErrorUserNotFound, "no_such_email", nil)
	}
	if u.PasswordHash == "" {
		metrics.AuthAttempts.WithLabelValues("password", "no_password").Inc()
		return Session{}, newError(ErrorNoPassword, "google_only_account", nil)
	}
	if err := s.hasher.Compare(u.PasswordHash, in.Password); err != nil {
		metrics.AuthAttempts.WithLabelValues("password", "mismatch").Inc()
		return Session{}, newError(ErrorInvalidCredentials, "password_mismatch", err)
	}
	metrics.AuthAttempts.WithLabelValues("password", "ok").Inc()
	return s.session(u)
}

// GoogleLogin verifies a Google ID token and signs the user in, creating the
// account on first use and linking the Google id and picture otherwise.
func (s *AuthService) GoogleLogin(ctx context.Context, credential string) (Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Session{}, newError(ErrorInvalidInput, "missing_credential", nil)
	}
	if s.google == nil {
		return Session{}, newError(ErrorInternal, "google_not_configured", nil)
	}
	id, err := s.google.Verify(ctx, credential)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("google", "invalid_token").Inc()
		return Session{}, newError(ErrorUnauthorized, "invalid_google_token", err)
	}
	if id.Email == "" {
		return Session{}, newError(ErrorUnauthorized, "google_token_without_email", nil)
	}
	if !id.EmailVerified {
		metrics.AuthAttempts.WithLabelValues("google", "unverified_email").Inc()
		return Session{}, newError(ErrorUnauthorized, "google_email_unverified", nil)
	}

	u, found, err := s.users.GetUserByEmail(ctx, id.Email)
	if err != nil {
		return Session{}, newError(ErrorInternal, "load_user_error", err)
	}
	if !found {
		u, found, err = s.createGoogleUser(ctx, id)
		if err != nil {
			return Session{}, err
		}
	}
	if found {
		if u.GoogleID != "" && u.GoogleID != id.Subject {
			metrics.AuthAttempts.WithLabelValues("google", "subject_mismatch").Inc()
			return Session{}, newError(ErrorUnauthorized, "google_account_mismatch", nil)
		}
		if linkGoogle(&u, id) {
			if err := s.users.UpdateUser(ctx, u); err != nil {
				return Session{}, newError(ErrorInternal, "update_user_error", err)
			}
		}
	}
	metrics.AuthAttempts.WithLabelValues("google", "ok").Inc()
	return s.session(u)
}

// createGoogleUser creates the account for a first Google sign-in. When a
// concurrent sign-in created it first, the stored user is returned with
// existing set so the caller links it instead.
func (s *AuthService) createGoogleUser(ctx context.Context, id GoogleIdentity) (u domain.User, existing bool, err error) {
	username := id.Name
	if username == "" {
		username, _, _ = strings.Cut(id.Email, "@")
	}
	u = domain.User{
		ID:        newUUID(),
		Username:  username,
		Email:     strings.ToLower(id.Email),
		GoogleID:  id.Subject,
		Picture:   id.Picture,
		CreatedAt: now(),
	}
	err = s.users.CreateUser(ctx, u)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, repository.ErrUserExists) {
		return domain.User{}, false, newError(ErrorInternal, "create_user_error", err)
	}
	stored, found, lerr := s.users.GetUserByEmail(ctx, id.Email)
	if lerr != nil {
		return domain.User{}, false, newError(ErrorInternal, "load_user_error", lerr)
	}
	if !found {
		return domain.User{}, false, newError(ErrorInternal, "create_user_error", err)
	}
	return stored, true, nil
}

// linkGoogle fills in the Google id and picture when missing and reports
// whether anything changed.
func linkGoogle(u *domain.User, id GoogleIdentity) bool {
	changed := false
	if u.GoogleID == "" && id.Subject != "" {
		u.GoogleID = id.Subject
		changed = true
	}
	if u.Picture == "" && id.Picture != "" {
		u.Picture = id.Picture
		changed = true
	}
	return changed
}

func (s *AuthService) session(u domain.User) (Session, error) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return Session{}, newError(ErrorInternal, "token_error", err)
	}
	return Session{Token: token, User: u.Profile()}, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
