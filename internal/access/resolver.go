package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/platform/auth"
	"github.com/leadline-labs/leadline/internal/repo"
)

// UserDirectory is the subset of the user repository the resolver needs.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserBySubject(ctx context.Context, subject string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	BindSubject(ctx context.Context, userID, subject string) error
}

type SettingsReader interface {
	GetSetting(ctx context.Context, key string) ([]byte, error)
}

const DefaultOverrideTTL = 30 * time.Second

// Resolver turns an authenticated identity into a Principal.
type Resolver struct {
	users    UserDirectory
	settings SettingsReader
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	override  Override
	loadedAt  time.Time
	hasLoaded bool
}

func NewResolver(users UserDirectory, settings SettingsReader, ttl time.Duration) *Resolver {
	if users == nil || settings == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultOverrideTTL
	}
	return &Resolver{users: users, settings: settings, ttl: ttl, now: time.Now}
}

// Resolve trusts the principal embedded in a session token. Otherwise the
// user is found by subject, then by email on first login, and must be
// active. Unknown or inactive users fail with auth.ErrForbidden.
func (r *Resolver) Resolve(ctx context.Context, identity auth.Identity) (Principal, error) {
	if claims := identity.Session; claims != nil {
		role, err := domain.ParseRole(claims.Role)
		if err != nil {
			return Principal{}, fmt.Errorf("%w: %v", auth.ErrForbidden, err)
		}
		return Principal{
			UserID:      claims.UserID,
			Subject:     claims.Subject,
			Email:       claims.Email,
			Role:        role,
			TeamID:      claims.TeamID,
			Permissions: SetFromStrings(claims.Permissions),
		}, nil
	}

	user, err := r.lookup(ctx, identity)
	if err != nil {
		return Principal{}, err
	}
	if !user.Active {
		return Principal{}, fmt.Errorf("%w: user %s is inactive", auth.ErrForbidden, user.ID)
	}
	override, err := r.Override(ctx)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:      user.ID,
		Subject:     identity.Subject,
		Email:       user.Email,
		Role:        user.Role,
		TeamID:      user.TeamID,
		Permissions: Resolve(user.Role, override),
	}, nil
}

// Refresh re-reads the user behind a session token so a reissued token
// reflects the current role, team, active flag and override. Identities
// without a session resolve as usual.
func (r *Resolver) Refresh(ctx context.Context, identity auth.Identity) (Principal, error) {
	claims := identity.Session
	if claims == nil {
		return r.Resolve(ctx, identity)
	}
	user, err := r.users.GetUser(ctx, claims.UserID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return Principal{}, fmt.Errorf("%w: user %s no longer exists", auth.ErrForbidden, claims.UserID)
	case err != nil:
		return Principal{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.Active {
		return Principal{}, fmt.Errorf("%w: user %s is inactive", auth.ErrForbidden, user.ID)
	}
	if user.Subject != "" && user.Subject != claims.Subject {
		return Principal{}, fmt.Errorf("%w: user %s is bound to another subject", auth.ErrForbidden, user.ID)
	}
	override, err := r.Override(ctx)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:      user.ID,
		Subject:     claims.Subject,
		Email:       user.Email,
		Role:        user.Role,
		TeamID:      user.TeamID,
		Permissions: Resolve(user.Role, override),
	}, nil
}

func (r *Resolver) lookup(ctx context.Context, identity auth.Identity) (domain.User, error) {
	subject := strings.TrimSpace(identity.Subject)
	if subject != "" {
		user, err := r.users.GetUserBySubject(ctx, subject)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, fmt.Errorf("lookup user by subject: %w", err)
		}
	}

	email := strings.TrimSpace(identity.Email)
	if email == "" {
		return domain.User{}, fmt.Errorf("%w: no user for subject %q", auth.ErrForbidden, subject)
	}
	user, err := r.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, fmt.Errorf("%w: no user for %q", auth.ErrForbidden, email)
		}
		return domain.User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	if subject != "" && user.Subject != subject {
		if err := r.users.BindSubject(ctx, user.ID, subject); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return domain.User{}, fmt.Errorf("%w: user %s is bound to another subject", auth.ErrForbidden, user.ID)
			}
			return domain.User{}, fmt.Errorf("bind subject: %w", err)
		}
		user.Subject = subject
	}
	return user, nil
}

// Override returns the stored override, cached for the resolver's TTL. A
// missing document means defaults only.
func (r *Resolver) Override(ctx context.Context) (Override, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.hasLoaded && now.Sub(r.loadedAt) < r.ttl {
		return r.override, nil
	}

	raw, err := r.settings.GetSetting(ctx, SettingsKey)
	var override Override
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return Override{}, fmt.Errorf("load permission override: %w", err)
	default:
		override, err = ParseOverride(raw)
		if err != nil {
			return Override{}, fmt.Errorf("stored permission override: %w", err)
		}
	}
	r.override, r.loadedAt, r.hasLoaded = override, now, true
	return override, nil
}

// Invalidate drops the cached override so the next request re-reads it.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.hasLoaded = false
	r.mu.Unlock()
}
