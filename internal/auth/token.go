// Package auth verifies the session tokens the Chronicle API hands to the
// editor. A token is base64url(JSON claims) "." base64url(HMAC-SHA256).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Claims struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Role string `json:"role"`
	// Doc scopes the token to one document. Empty allows any.
	Doc string `json:"doc,omitempty"`
	JTI string `json:"jti"`
	Exp int64  `json:"exp"`
}

// AllowsDocument reports whether the token may act on documentID.
func (c Claims) AllowsDocument(documentID string) bool {
	return c.Doc == "" || c.Doc == documentID
}

// ExpiresAt is Exp as a time.
func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

func (c Claims) complete() bool {
	return c.Sub != "" && c.Name != "" && c.JTI != "" && c.Exp != 0
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrNoSecret     = errors.New("token secret is not configured")
)

// Verifier signs and checks tokens with one shared secret.
type Verifier struct {
	secret []byte
	// leeway tolerates clock skew between the issuer and this service.
	leeway time.Duration
	now    func() time.Time
}

func NewVerifier(secret []byte, leeway time.Duration) *Verifier {
	return &Verifier{secret: secret, leeway: leeway, now: time.Now}
}

// Issue signs claims. The service itself only issues tokens in tests and
// tooling; editors get theirs from the Chronicle API.
func (v *Verifier) Issue(claims Claims) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("issue token: %w", ErrNoSecret)
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + v.sign(payload), nil
}

// Parse checks the signature first and only then looks at the claims.
func (v *Verifier) Parse(token string) (Claims, error) {
	if len(v.secret) == 0 {
		return Claims{}, ErrNoSecret
	}
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(v.sign(payload))) {
		return Claims{}, ErrInvalidToken
	}

	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil || !claims.complete() {
		return Claims{}, ErrInvalidToken
	}
	if !v.now().Before(claims.ExpiresAt().Add(v.leeway)) {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func (v *Verifier) sign(payload string) string {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
