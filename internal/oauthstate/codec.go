package oauthstate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

const (
	ActionConnect   = "connect"
	ActionReconnect = "reconnect"
)

// MaxAge bounds how long a state survives the redirect round trip.
const MaxAge = 10 * time.Minute

// Payload is the self-contained state carried across the OAuth redirect.
// It is never persisted server-side; the HMAC signature is the only trust.
type Payload struct {
	UserID   int64  `json:"user_id"`
	Provider string `json:"provider"`
	Action   string `json:"action"`
	Verifier string `json:"verifier"`
	// Origin carries the instance origin for multi-instance providers.
	Origin   string `json:"origin,omitempty"`
	IssuedAt int64  `json:"iat"`
}

type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Encode serializes the payload and appends an HMAC-SHA256 signature:
// base64url(json) + "." + hex(sig).
func (c *Codec) Encode(p Payload) (string, error) {
	if p.IssuedAt == 0 {
		p.IssuedAt = time.Now().Unix()
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	body := base64.RawURLEncoding.EncodeToString(raw)
	return body + "." + c.sign(body), nil
}

// Decode verifies the signature and the issue window and returns the
// payload, or nil when the state cannot be trusted. Callers must treat nil
// as "reject the flow".
func (c *Codec) Decode(state string) *Payload {
	body, sig, ok := strings.Cut(state, ".")
	if !ok {
		return nil
	}

	if !hmac.Equal([]byte(c.sign(body)), []byte(sig)) {
		return nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}

	issued := time.Unix(p.IssuedAt, 0)
	if time.Since(issued) > MaxAge || issued.After(time.Now().Add(time.Minute)) {
		return nil
	}

	return &p
}

func (c *Codec) sign(body string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}
