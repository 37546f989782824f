package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth verifies the bearer token and reloads the identity it names, so
// every request sees the current role, status and permissions.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeFail(w, http.StatusUnauthorized, err.Error(), nil)
			return
		}
		id, err := a.svc.Authorizer.Authenticate(r.Context(), token)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require gates the request on p and counts the decision. It writes the
// error response and returns false when the request may not proceed.
func (a *API) require(w http.ResponseWriter, r *http.Request, p auth.Permission) (auth.Identity, bool) {
	id, err := a.svc.Authorizer.Require(r.Context(), p)
	if err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			a.metrics.Authz(p.String(), false)
		}
		a.fail(w, r, err)
		return auth.Identity{}, false
	}
	a.metrics.Authz(p.String(), true)
	return id, true
}

// current returns the authenticated identity for endpoints that need no
// permission beyond authentication.
func (a *API) current(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, "authentication required", nil)
		return auth.Identity{}, false
	}
	return id, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
