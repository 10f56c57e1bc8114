package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/pkg/jwt"
)

const (
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	TokenQuery    = "token"
	UserIDQuery   = "user_id"
)

// Identity is the authenticated user of a request or connection.
type Identity struct {
	UserID   string
	Username string
}

// Authenticator resolves the identity behind an HTTP or upgrade request.
// Failures wrap domain.ErrUnauthenticated.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// JWTAuthenticator validates an HS256 access token taken from the
// Authorization header or the token query parameter.
type JWTAuthenticator struct {
	manager *jwt.Manager
}

// NewJWTAuthenticator validates bearer tokens with manager.
func NewJWTAuthenticator(manager *jwt.Manager) *JWTAuthenticator {
	return &JWTAuthenticator{manager: manager}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrUnauthenticated)
	}

	claims, err := a.manager.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return &Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, BearerPrefix))
	}
	return r.URL.Query().Get(TokenQuery)
}

// QueryAuthenticator trusts the user_id query parameter. Development only.
type QueryAuthenticator struct{}

func (QueryAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	userID := strings.TrimSpace(r.URL.Query().Get(UserIDQuery))
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get("X-User-ID"))
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user_id", domain.ErrUnauthenticated)
	}
	return &Identity{UserID: userID}, nil
}

// New builds the authenticator for mode ("jwt" or "query").
func New(mode string, manager *jwt.Manager) (Authenticator, error) {
	switch mode {
	case "", "jwt":
		return NewJWTAuthenticator(manager), nil
	case "query":
		return QueryAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", mode)
	}
}
