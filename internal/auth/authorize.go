package auth

import (
	"context"
	"errors"

	"rhgestor.org/internal/apperr"
)

// Authorizer moves a request from Unauthenticated to Authenticated, and then to
// Authorized or Denied.
type Authorizer struct {
	tokens     *TokenService
	identities IdentityReader
}

// NewAuthorizer wires token verification to identity re-resolution.
func NewAuthorizer(tokens *TokenService, identities IdentityReader) *Authorizer {
	return &Authorizer{tokens: tokens, identities: identities}
}

// Authenticate verifies the bearer token and reloads the identity it names.
// Missing, inactive, or unverifiable subjects yield apperr.ErrUnauthorized.
func (a *Authorizer) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return Identity{}, apperr.Unauthorized("invalid or expired token")
	}
	subject, err := claims.IdentityID()
	if err != nil {
		return Identity{}, apperr.Unauthorized("invalid or expired token")
	}
	id, err := a.identities.IdentityByID(ctx, subject)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Identity{}, apperr.Unauthorized("account no longer exists")
		}
		return Identity{}, err
	}
	if !id.Active {
		return Identity{}, apperr.Unauthorized("account is inactive")
	}
	return id, nil
}

// Authorize decides p for an identity loaded by Authenticate.
func (a *Authorizer) Authorize(id Identity, p Permission) error {
	if id.Can(p) {
		return nil
	}
	return apperr.Forbidden("you do not have permission to %s %s", p.Action, p.Resource)
}

// Require authorizes p for the identity attached to ctx.
func (a *Authorizer) Require(ctx context.Context, p Permission) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, apperr.Unauthorized("authentication required")
	}
	if err := a.Authorize(id, p); err != nil {
		return Identity{}, err
	}
	return id, nil
}
