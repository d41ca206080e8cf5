package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"

	"agent-inbox/internal/usecase"
)

type validateFunc func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// Verifier checks Google Sign-In ID tokens issued for one OAuth client.
type Verifier struct {
	clientID string
	validate validateFunc
}

func NewVerifier(clientID string) (*Verifier, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, errors.New("google: client id must not be empty")
	}
	return &Verifier{clientID: clientID, validate: idtoken.Validate}, nil
}

// Verify validates the credential's signature, expiry and audience and
// returns the identity it carries.
func (v *Verifier) Verify(ctx context.Context, credential string) (usecase.GoogleIdentity, error) {
	payload, err := v.validate(ctx, credential, v.clientID)
	if err != nil {
		return usecase.GoogleIdentity{}, fmt.Errorf("google: validate id token: %w", err)
	}
	if payload == nil {
		return usecase.GoogleIdentity{}, errors.New("google: empty token payload")
	}
	return usecase.GoogleIdentity{
		Subject:       payload.Subject,
		Email:         claim(payload.Claims, "email"),
		EmailVerified: boolClaim(payload.Claims, "email_verified"),
		Name:          claim(payload.Claims, "name"),
		Picture:       claim(payload.Claims, "picture"),
	}, nil
}

// boolClaim accepts both JSON booleans and the "true"/"false" strings some
// issuers emit.
func boolClaim(claims map[string]interface{}, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

func claim(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}
