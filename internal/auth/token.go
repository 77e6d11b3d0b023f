package auth

import (
	"errors"
	"net/http"
	"strings"
)

// tokenQueryParam carries the token for EventSource streams, which cannot set
// request headers.
const tokenQueryParam = "access_token"

// ExtractTokenFromRequest reads the bearer token from the Authorization
// header, falling back to the access_token query parameter on GET requests.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if r.Method == http.MethodGet {
			if tok := r.URL.Query().Get(tokenQueryParam); tok != "" {
				return tok, nil
			}
		}
		return "", errors.New("authorization header is missing")
	}

	scheme, tok, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	tok = strings.TrimSpace(tok)
	if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}
	return tok, nil
}
