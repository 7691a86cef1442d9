package transfer

import "time"

// TokenGrant is the normalized result of a code exchange or refresh across
// all providers.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scope        string
}

// Profile is the normalized provider-side identity used to key a social
// account.
type Profile struct {
	ProviderUserID string
	Name           string
	Username       string
	AvatarURL      string
}

type GoogleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// BlueskySession is the AT-proto session pair returned by createSession and
// refreshSession.
type BlueskySession struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}
