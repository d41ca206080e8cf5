package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"agent-inbox/internal/domain"
	"agent-inbox/internal/repository"
)

type memUsers struct {
	byEmail   map[string]domain.User
	getErr    error
	createErr error
	updates   int

	// concurrent is stored just before CreateUser runs, as if another
	// request had created the account first.
	concurrent *domain.User
}

func newMemUsers(users ...domain.User) *memUsers {
	m := &memUsers{byEmail: map[string]domain.User{}}
	for _, u := range users {
		m.byEmail[strings.ToLower(u.Email)] = u
	}
	return m
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	if m.getErr != nil {
		return domain.User{}, false, m.getErr
	}
	u, ok := m.byEmail[strings.ToLower(strings.TrimSpace(email))]
	return u, ok, nil
}

func (m *memUsers) CreateUser(_ context.Context, u domain.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.concurrent != nil {
		m.byEmail[strings.ToLower(m.concurrent.Email)] = *m.concurrent
		m.concurrent = nil
	}
	key := strings.ToLower(u.Email)
	if _, ok := m.byEmail[key]; ok {
		return repository.ErrUserExists
	}
	m.byEmail[key] = u
	return nil
}

func (m *memUsers) UpdateUser(_ context.Context, u domain.User) error {
	m.updates++
	m.byEmail[strings.ToLower(u.Email)] = u
	return nil
}

type fakeTokens struct{ err error }

func (f fakeTokens) Issue(userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "token-for-" + userID, nil
}

// plainHasher prefixes instead of hashing.
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "h:" + p, nil }

func (plainHasher) Compare(hash, p string) error {
	if hash != "h:"+p {
		return errors.New("mismatch")
	}
	return nil
}

type fakeGoogle struct {
	id  GoogleIdentity
	err error
}

func (f fakeGoogle) Verify(_ context.Context, _ string) (GoogleIdentity, error) {
	return f.id, f.err
}

func newTestAuth(t *testing.T, users *memUsers, g GoogleVerifier) *AuthService {
	t.Helper()
	orig := newUUID
	newUUID = func() string { return "user-1" }
	t.Cleanup(func() { newUUID = orig })

	svc, err := NewAuthService(users, fakeTokens{}, plainHasher{}, g)
	require.NoError(t, err)
	return svc
}

func TestSignup_CreatesUser(t *testing.T) {
	users := newMemUsers()
	svc := newTestAuth(t, users, nil)

	sess, err := svc.Signup(context.Background(), SignupInput{Username: "ana", Email: "Ana@Example.com", Password: "secret1"})
	require.NoError(t, err)
	require.Equal(t, "token-for-user-1", sess.Token)
	require.Equal(t, domain.Profile{ID: "user-1", Username: "ana", Email: "ana@example.com"}, sess.User)
	require.Equal(t, "h:secret1", users.byEmail["ana@example.com"].PasswordHash)
}

func TestSignup_Errors(t *testing.T) {
	existing := domain.User{ID: "u0", Email: "ana@example.com"}
	tests := []struct {
		name string
		in   SignupInput
		code ErrorCode
	}{
		{name: "missing username", in: SignupInput{Email: "b@example.com", Password: "secret1"}, code: ErrorInvalidInput},
		{name: "bad email", in: SignupInput{Username: "b", Email: "not-an-email", Password: "secret1"}, code: ErrorInvalidInput},
		{name: "short password", in: SignupInput{Username: "b", Email: "b@example.com", Password: "123"}, code: ErrorInvalidInput},
		{name: "duplicate", in: SignupInput{Username: "ana", Email: "ana@example.com", Password: "secret1"}, code: ErrorUserExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestAuth(t, newMemUsers(existing), nil)
			_, err := svc.Signup(context.Background(), tt.in)
			requireCode(t, err, tt.code)
		})
	}
}

func TestLogin(t *testing.T) {
	withPassword := domain.User{ID: "u1", Username: "ana", Email: "ana@example.com", PasswordHash: "h:secret1"}
	googleOnly := domain.User{ID: "u2", Username: "bo", Email: "bo@example.com", GoogleID: "g-2"}

	tests := []struct {
		name     string
		in       LoginInput
		wantCode ErrorCode
	}{
		{name: "ok", in: LoginInput{Email: "ana@example.com", Password: "secret1"}},
		{name: "unknown email", in: LoginInput{Email: "zed@example.com", Password: "secret1"}, wantCode: ErrorUserNotFound},
		{name: "google only", in: LoginInput{Email: "bo@example.com", Password: "secret1"}, wantCode: ErrorNoPassword},
		{name: "wrong password", in: LoginInput{Email: "ana@example.com", Password: "nope"}, wantCode: ErrorInvalidCredentials},
		{name: "missing fields", in: LoginInput{Email: "ana@example.com"}, wantCode: ErrorInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestAuth(t, newMemUsers(withPassword, googleOnly), nil)
			sess, err := svc.Login(context.Background(), tt.in)
			if tt.wantCode != "" {
				requireCode(t, err, tt.wantCode)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "token-for-u1", sess.Token)
			require.Equal(t, "ana", sess.User.Username)
		})
	}
}

func TestLogin_StoreError(t *testing.T) {
	users := newMemUsers()
	users.getErr = errors.New("db down")
	_, err := newTestAuth(t, users, nil).Login(context.Background(), LoginInput{Email: "a@b.c", Password: "x"})
	requireCode(t, err, ErrorInternal)
}

func TestGoogleLogin_CreatesUser(t *testing.T) {
	users := newMemUsers()
	g := fakeGoogle{id: GoogleIdentity{Subject: "g-1", Email: "cy@example.com", EmailVerified: true, Picture: "https://pic"}}
	svc := newTestAuth(t, users, g)

	sess, err := svc.GoogleLogin(context.Background(), "credential")
	require.NoError(t, err)
	require.Equal(t, "cy", sess.User.Username)
	require.Equal(t, "https://pic", sess.User.Picture)
	require.Equal(t, "g-1", users.byEmail["cy@example.com"].GoogleID)
	require.Empty(t, users.byEmail["cy@example.com"].PasswordHash)
}

func TestGoogleLogin_LinksExistingAccount(t *testing.T) {
	users := newMemUsers(domain.User{ID: "u1", Username: "ana", Email: "ana@example.com", PasswordHash: "h:secret1"})
	g := fakeGoogle{id: GoogleIdentity{Subject: "g-1", Email: "ana@example.com", EmailVerified: true, Name: "Ana B", Picture: "https://pic"}}
	svc := newTestAuth(t, users, g)

	sess, err := svc.GoogleLogin(context.Background(), "credential")
	require.NoError(t, err)
	require.Equal(t, "token-for-u1", sess.Token)
	require.Equal(t, "ana", sess.User.Username)
	require.Equal(t, 1, users.updates)
	require.Equal(t, "g-1", users.byEmail["ana@example.com"].GoogleID)

	// Already linked: no further writes.
	_, err = svc.GoogleLogin(context.Background(), "credential")
	require.NoError(t, err)
	require.Equal(t, 1, users.updates)
}

func TestGoogleLogin_Errors(t *testing.T) {
	svc := newTestAuth(t, newMemUsers(), nil)
	_, err := svc.GoogleLogin(context.Background(), "credential")
	requireCode(t, err, ErrorInternal)

	svc = newTestAuth(t, newMemUsers(), fakeGoogle{err: errors.New("bad audience")})
	_, err = svc.GoogleLogin(context.Background(), "credential")
	requireCode(t, err, ErrorUnauthorized)

	_, err = svc.GoogleLogin(context.Background(), " ")
	requireCode(t, err, ErrorInvalidInput)

	svc = newTestAuth(t, newMemUsers(), fakeGoogle{id: GoogleIdentity{Subject: "g", EmailVerified: true}})
	_, err = svc.GoogleLogin(context.Background(), "credential")
	requireCode(t, err, ErrorUnauthorized)

	users := newMemUsers()
	users.createErr = errors.New("dynamo down")
	svc = newTestAuth(t, users, fakeGoogle{id: GoogleIdentity{Subject: "g", Email: "x@example.com", EmailVerified: true}})
	_, err = svc.GoogleLogin(context.Background(), "credential")
	requireCode(t, err, ErrorInternal)
}

func TestGoogleLogin_RejectsUnverifiedEmail(t *testing.T) {
	victim := domain.User{ID: "victim-id", Username: "vic", Email: "victim@corp.com", PasswordHash: "h:secret1"}
	users := newMemUsers(victim)
	g := fakeGoogle{id: GoogleIdentity{Subject: "other-sub", Email: "victim@corp.com", EmailVerified: false}}
	svc := newTestAuth(t, users, g)

	sess, err := svc.GoogleLogin(context.Background(), "credential")
	requireCode(t, err, ErrorUnauthorized)
	require.Empty(t, sess.Token)
	require.Empty(t, users.byEmail["victim@corp.com"].GoogleID)
	require.Zero(t, users.updates)
}

func TestGoogleLogin_RejectsDifferentLinkedSubject(t *testing.T) {
	linked := domain.User{ID: "u2", Username: "bo", Email: "bo@example.com", GoogleID: "g-2"}
	users := newMemUsers(linked)
	g := fakeGoogle{id: GoogleIdentity{Subject: "g-other", Email: "bo@example.com", EmailVerified: true}}
	svc := newTestAuth(t, users, g)

	_, err := svc.GoogleLogin(context.Background(), "credential")
	requireCode(t, err, ErrorUnauthorized)
	require.Equal(t, "g-2", users.byEmail["bo@example.com"].GoogleID)
	require.Zero(t, users.updates)
}

func TestGoogleLogin_ConcurrentFirstSignInLinks(t *testing.T) {
	users := newMemUsers()
	users.concurrent = &domain.User{ID: "u-first", Username: "cy", Email: "cy@example.com"}
	g := fakeGoogle{id: GoogleIdentity{Subject: "g-1", Email: "cy@example.com", EmailVerified: true, Picture: "https://pic"}}
	svc := newTestAuth(t, users, g)

	sess, err := svc.GoogleLogin(context.Background(), "credential")
	require.NoError(t, err)
	require.Equal(t, "token-for-u-first", sess.Token)
	require.Equal(t, "g-1", users.byEmail["cy@example.com"].GoogleID)
	require.Equal(t, 1, users.updates)
}

func TestSession_TokenError(t *testing.T) {
	svc, err := NewAuthService(newMemUsers(), fakeTokens{err: errors.New("no secret")}, plainHasher{}, nil)
	require.NoError(t, err)
	_, err = svc.Signup(context.Background(), SignupInput{Username: "a", Email: "a@example.com", Password: "secret1"})
	requireCode(t, err, ErrorInternal)
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, ErrorLimitReached, CodeOf(newError(ErrorLimitReached, "x", nil)))
	require.Equal(t, ErrorInternal, CodeOf(errors.New("plain")))
}
