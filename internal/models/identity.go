package models

// Identity is the caller resolved from a verified access token and a live session.
type Identity struct {
	UserID    string
	SessionID string
	Role      UserRole
}

// RefreshIdentity is the payload of a verified refresh token.
type RefreshIdentity struct {
	SessionID string
	Hash      string
}
