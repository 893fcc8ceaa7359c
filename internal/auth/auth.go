package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/pkg/jwt"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/middleware"
)

// TokenQueryParam carries the credential for clients that cannot set
// headers on the WebSocket handshake.
const TokenQueryParam = "token"

// TokenVerifier validates a signed credential.
type TokenVerifier interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// Authenticator turns a bearer credential into an Identity.
type Authenticator struct {
	verifier TokenVerifier
}

func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Authenticate verifies the credential. Every failure is reported as
// domain.ErrUnauthorized without further detail.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*domain.Identity, error) {
	if credential == "" {
		return nil, domain.ErrUnauthorized
	}

	claims, err := a.verifier.ValidateToken(credential)
	if err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Msg("credential rejected")
		return nil, domain.ErrUnauthorized
	}

	identity := &domain.Identity{
		UserID: claims.UserID,
		Handle: claims.Email,
	}
	if identity.Handle == "" {
		identity.Handle = claims.UserID
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Verify adapts Authenticate to the REST auth middleware.
func (a *Authenticator) Verify(ctx context.Context, token string) (string, string, error) {
	identity, err := a.Authenticate(ctx, token)
	if err != nil {
		return "", "", fmt.Errorf("verify: %w", err)
	}
	return identity.UserID, identity.Handle, nil
}

// TokenFromRequest returns the bearer credential of a handshake request,
// preferring the Authorization header over the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if token := middleware.BearerToken(r.Header.Get(middleware.AuthHeaderKey)); token != "" {
		return token
	}
	return r.URL.Query().Get(TokenQueryParam)
}
