package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSubject = "X-Leadline-Subject"
	HeaderEmail   = "X-Leadline-Email"
	HeaderRoles   = "X-Leadline-Roles"

	HeaderInternalAuthTimestamp = "X-Leadline-Auth-Ts"
	HeaderInternalAuthSignature = "X-Leadline-Auth-Sig"
)

// GatewayHeadersAuthenticator trusts identity headers set by a fronting
// gateway that signs them with a shared secret.
type GatewayHeadersAuthenticator struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
}

func NewGatewayHeadersAuthenticator(secret string) (*GatewayHeadersAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("CRM_INTERNAL_AUTH_SECRET is required")
	}
	return &GatewayHeadersAuthenticator{
		Secret:  secret,
		MaxSkew: 5 * time.Minute,
	}, nil
}

func (a *GatewayHeadersAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}

	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	rolesRaw := strings.TrimSpace(r.Header.Get(HeaderRoles))

	ts := strings.TrimSpace(r.Header.Get(HeaderInternalAuthTimestamp))
	sig := strings.TrimSpace(r.Header.Get(HeaderInternalAuthSignature))
	if ts == "" || sig == "" {
		return Identity{}, ErrUnauthenticated
	}

	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now().UTC()
	}
	if err := VerifyInternalAuthTimestamp(ts, now, a.MaxSkew); err != nil {
		return Identity{}, err
	}
	if err := VerifyInternalAuthSignature(
		a.Secret,
		ts,
		r.Method,
		r.URL.Path,
		r.Header.Get("X-Request-Id"),
		subject,
		email,
		rolesRaw,
		sig,
	); err != nil {
		return Identity{}, err
	}

	return Identity{
		Subject: subject,
		Email:   email,
		Roles:   parseCSV(rolesRaw),
	}, nil
}

func ComputeInternalAuthSignature(secret string, ts string, method string, path string, requestID string, subject string, email string, roles string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("internal auth secret is required")
	}
	if strings.TrimSpace(ts) == "" {
		return "", errors.New("timestamp is required")
	}
	parts := []string{
		strings.TrimSpace(ts),
		strings.ToUpper(strings.TrimSpace(method)),
		strings.TrimSpace(path),
		strings.TrimSpace(requestID),
		strings.TrimSpace(subject),
		strings.TrimSpace(email),
		strings.TrimSpace(roles),
	}
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(strings.Join(parts, "\n"))); err != nil {
		return "", fmt.Errorf("hmac: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func VerifyInternalAuthSignature(secret string, ts string, method string, path string, requestID string, subject string, email string, roles string, signature string) error {
	expected, err := ComputeInternalAuthSignature(secret, ts, method, path, requestID, subject, email, roles)
	if err != nil {
		return err
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errors.New("signature is required")
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("invalid signature")
	}
	return nil
}

func VerifyInternalAuthTimestamp(ts string, now time.Time, maxSkew time.Duration) error {
	parsed, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if maxSkew <= 0 {
		return nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	tsTime := time.Unix(parsed, 0).UTC()
	if tsTime.After(now.Add(maxSkew)) || tsTime.Before(now.Add(-maxSkew)) {
		return errors.New("timestamp outside allowed skew")
	}
	return nil
}
