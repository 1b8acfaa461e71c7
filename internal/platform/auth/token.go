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

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")
)

// Signer issues and verifies "prefix.payload.signature" tokens. The prefix
// is mixed into the MAC so a token of one kind never verifies as another.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Expiring is implemented by claim types carried in signed tokens.
type Expiring interface {
	ExpiresAt() int64
}

func (s *Signer) Sign(prefix string, claims Expiring, now time.Time) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", errors.New("signer not initialized")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || strings.Contains(prefix, ".") {
		return "", fmt.Errorf("invalid token prefix %q", prefix)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if claims.ExpiresAt() <= now.UTC().Unix() {
		return "", errors.New("exp must be in the future")
	}

	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)
	return strings.Join([]string{prefix, payloadB64, s.mac(prefix, payloadB64)}, "."), nil
}

// Verify checks the signature and expiry and decodes the claims into dst.
func (s *Signer) Verify(prefix string, token string, dst Expiring, now time.Time) error {
	if s == nil || len(s.secret) == 0 {
		return errors.New("signer not initialized")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || parts[0] != prefix {
		return ErrTokenInvalid
	}
	payloadB64, sigB64 := parts[1], parts[2]
	if payloadB64 == "" || sigB64 == "" {
		return ErrTokenInvalid
	}

	expected, err := base64.RawURLEncoding.DecodeString(s.mac(prefix, payloadB64))
	if err != nil {
		return ErrTokenInvalid
	}
	got, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return ErrTokenInvalid
	}
	if !hmac.Equal(expected, got) {
		return ErrTokenInvalid
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return ErrTokenInvalid
	}
	if err := json.Unmarshal(payloadJSON, dst); err != nil {
		return ErrTokenInvalid
	}
	if dst.ExpiresAt() == 0 {
		return ErrTokenInvalid
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if dst.ExpiresAt() <= now.UTC().Unix() {
		return ErrTokenExpired
	}
	return nil
}

func (s *Signer) mac(prefix string, payloadB64 string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(prefix + "\n"))
	_, _ = mac.Write([]byte(payloadB64))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
