package models

// TokenResponse is the OAuth2 client-credentials response body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}
