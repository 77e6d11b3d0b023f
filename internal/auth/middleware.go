package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/utils"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const principalKey contextKey = "principal"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Claims covers the hosted auth service token layout. The role may live at
// the top level or inside app_metadata.
type Claims struct {
	Email       string `json:"email"`
	Role        string `json:"role"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

func (c *Claims) principal() models.Principal {
	role := c.AppMetadata.Role
	if role == "" {
		role = c.Role
	}
	return models.Principal{UserID: c.Subject, Email: c.Email, Role: role}
}

// Verifier turns a raw bearer token into a principal.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (models.Principal, error)
}

// HMACVerifier validates HS256 tokens signed with the hosted service secret.
type HMACVerifier struct {
	Secret []byte
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (models.Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return models.Principal{}, fmt.Errorf("%w: subject claim missing", ErrUnauthenticated)
	}
	return claims.principal(), nil
}

// OIDCVerifier validates tokens against an OpenID Connect issuer.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	// SkipClientIDCheck: tokens are issued to the browser client, not this service
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return &OIDCVerifier{verifier: verifier}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (models.Principal, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return models.Principal{}, fmt.Errorf("%w: failed to parse claims", ErrUnauthenticated)
	}
	claims.Subject = idToken.Subject
	return claims.principal(), nil
}

// NewVerifier prefers OIDC when an issuer is configured.
func NewVerifier(ctx context.Context, jwtSecret, oidcIssuer string) (Verifier, error) {
	if oidcIssuer != "" {
		return NewOIDCVerifier(ctx, oidcIssuer)
	}
	if jwtSecret == "" {
		return nil, errors.New("neither AUTH_JWT_SECRET nor OIDC_ISSUER is set")
	}
	return &HMACVerifier{Secret: []byte(jwtSecret)}, nil
}

func Middleware(v Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
				return
			}

			principal, err := v.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				utils.WriteError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole rejects callers whose token role differs from role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PrincipalFrom(r.Context()).Role != role {
				utils.WriteError(w, http.StatusForbidden, "Forbidden", fmt.Sprintf("%s role required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) models.Principal {
	if p, ok := ctx.Value(principalKey).(models.Principal); ok {
		return p
	}
	return models.Principal{}
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	return PrincipalFrom(ctx).UserID
}
