package models

// Principal is the authenticated caller extracted from a bearer token.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == "admin"
}
