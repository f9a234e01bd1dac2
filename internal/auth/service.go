// Package auth is the token and credential lifecycle core: registration,
// login with brute-force lockout, refresh-token rotation, password reset
// and RBAC resolution. The HTTP layer stays thin; everything with security
// semantics lives here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"authgate.dev/internal/ids"
	"authgate.dev/internal/obs"
	"authgate.dev/internal/password"
	"authgate.dev/internal/token"
)

// Well-known RBAC names. AdminRole and DefaultRole are seeded as system
// roles and cannot be renamed or deleted.
const (
	AdminRole          = "admin"
	DefaultRole        = "user"
	WildcardPermission = "*:*"
)

// Audit-only failure reasons. Recorded with each failed attempt but never
// surfaced to callers: externally every one of these (except inactive) is
// plain invalid-credentials.
const (
	reasonUserNotFound = "user not found"
	reasonInactive     = "account inactive"
	reasonNoPassword   = "account has no password (social login)"
	reasonBadPassword  = "invalid password"
)

const (
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultResetTTL         = time.Hour
	defaultMaxLoginAttempts = 10
	defaultLockoutWindow    = 30 * time.Minute
	// Revoked-but-unexpired tokens are kept for audit, then removed by the
	// sweep once older than this.
	defaultRevokedRetention = 30 * 24 * time.Hour
)

const logComponent = "auth"

// Service composes hashing, token minting and the store into the
// register/login/refresh/logout/reset flows.
type Service struct {
	store  Store
	hasher *password.Hasher
	codec  *token.Codec

	refreshTTL       time.Duration
	resetTTL         time.Duration
	maxLoginAttempts int
	lockoutWindow    time.Duration
	revokedRetention time.Duration

	now func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithRefreshTTL sets the refresh-token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithResetTTL sets the password-reset token lifetime.
func WithResetTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithLockoutPolicy sets the brute-force threshold and trailing window.
func WithLockoutPolicy(maxAttempts int, window time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxLoginAttempts = maxAttempts
		}
		if window > 0 {
			s.lockoutWindow = window
		}
	}
}

// WithRevokedRetention sets how long revoked refresh tokens are kept for
// audit before the sweep removes them.
func WithRevokedRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.revokedRetention = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the orchestrator.
func NewService(store Store, hasher *password.Hasher, codec *token.Codec, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	s := &Service{
		store:            store,
		hasher:           hasher,
		codec:            codec,
		refreshTTL:       defaultRefreshTTL,
		resetTTL:         defaultResetTTL,
		maxLoginAttempts: defaultMaxLoginAttempts,
		lockoutWindow:    defaultLockoutWindow,
		revokedRetention: defaultRevokedRetention,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a principal with the default role and issues its first
// token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput, dev DeviceInfo) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &User{
		ID:           ids.New(),
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users().Create(ctx, u, []string{DefaultRole}); err != nil {
		return nil, err
	}

	roles, perms, err := s.resolve(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.mintTokens(ctx, u, roles, perms, dev)
	if err != nil {
		return nil, err
	}

	obs.Info(logComponent, "user registered", map[string]any{"user_id": u.ID})
	return &AuthResult{User: Sanitize(u, roles, perms), Tokens: tokens}, nil
}

// Login authenticates credentials. Unknown email and wrong password are
// indistinguishable to the caller; only the inactive-account case is
// reported distinctly.
func (s *Service) Login(ctx context.Context, in LoginInput, dev DeviceInfo) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)

	if err := s.checkLockout(ctx, email); err != nil {
		obs.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, err
	}

	u, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if rerr := s.recordAttempt(ctx, email, dev.IPAddress, false, reasonUserNotFound); rerr != nil {
				return nil, rerr
			}
			obs.LoginAttempts.WithLabelValues("failure").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !u.IsActive {
		if rerr := s.recordAttempt(ctx, email, dev.IPAddress, false, reasonInactive); rerr != nil {
			return nil, rerr
		}
		obs.LoginAttempts.WithLabelValues("failure").Inc()
		return nil, ErrAccountInactive
	}

	if u.PasswordHash == "" {
		if rerr := s.recordAttempt(ctx, email, dev.IPAddress, false, reasonNoPassword); rerr != nil {
			return nil, rerr
		}
		obs.LoginAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(u.PasswordHash, in.Password) {
		if rerr := s.recordAttempt(ctx, email, dev.IPAddress, false, reasonBadPassword); rerr != nil {
			return nil, rerr
		}
		obs.LoginAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	if err := s.recordAttempt(ctx, email, dev.IPAddress, true, ""); err != nil {
		return nil, err
	}
	obs.LoginAttempts.WithLabelValues("success").Inc()

	// Online credential upgrade: rehash under current params. Best effort,
	// the login itself already succeeded.
	if s.hasher.NeedsRehash(u.PasswordHash) {
		if newHash, herr := s.hasher.Hash(in.Password); herr == nil {
			if uerr := s.store.Users().UpdatePassword(ctx, u.ID, newHash); uerr != nil {
				obs.Warn(logComponent, "credential upgrade failed", map[string]any{"user_id": u.ID, "error": uerr.Error()})
			}
		}
	}

	now := s.now().UTC()
	if err := s.store.Users().UpdateLastLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.LastLoginAt = &now

	roles, perms, err := s.resolve(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.mintTokens(ctx, u, roles, perms, dev)
	if err != nil {
		return nil, err
	}

	obs.Info(logComponent, "user logged in", map[string]any{"user_id": u.ID})
	return &AuthResult{User: Sanitize(u, roles, perms), Tokens: tokens}, nil
}

// Refresh rotates the presented refresh token: strict one-time use. The
// new access token carries the principal's current roles and permissions,
// so a role revoked since issuance takes effect here.
func (s *Service) Refresh(ctx context.Context, refreshToken string, dev DeviceInfo) (*TokenPair, error) {
	hash := token.HashToken(refreshToken)

	rec, err := s.store.RefreshTokens().FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RefreshRotations.WithLabelValues("unknown").Inc()
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if rec.Revoked {
		obs.RefreshRotations.WithLabelValues("revoked_replay").Inc()
		obs.Warn(logComponent, "revoked refresh token replayed", map[string]any{"user_id": rec.UserID})
		return nil, ErrTokenRevoked
	}

	now := s.now().UTC()
	if now.After(rec.ExpiresAt) {
		obs.RefreshRotations.WithLabelValues("expired").Inc()
		return nil, ErrTokenExpired
	}

	// Compare-and-set: revoke iff still active. Of two concurrent rotations
	// exactly one lands here with ok=true; the loser is treated the same as
	// a replayed revoked token.
	ok, err := s.store.RefreshTokens().RevokeActive(ctx, hash, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		obs.RefreshRotations.WithLabelValues("revoked_replay").Inc()
		obs.Warn(logComponent, "concurrent refresh rotation rejected", map[string]any{"user_id": rec.UserID})
		return nil, ErrTokenRevoked
	}

	u, err := s.store.Users().Find(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	roles, perms, err := s.resolve(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.mintTokens(ctx, u, roles, perms, dev)
	if err != nil {
		return nil, err
	}

	obs.RefreshRotations.WithLabelValues("rotated").Inc()
	return &tokens, nil
}

// Logout revokes exactly the presented refresh token. Unknown or already
// revoked tokens are a no-op; logout always succeeds.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	hash := token.HashToken(refreshToken)
	if err := s.store.RefreshTokens().RevokeByHash(ctx, hash, s.now().UTC()); err != nil {
		return err
	}
	obs.Info(logComponent, "user logged out", nil)
	return nil
}

// LogoutAll revokes every active refresh token for the principal.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	n, err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return err
	}
	obs.Info(logComponent, "user logged out everywhere", map[string]any{"user_id": userID, "revoked": n})
	return nil
}

// ForgotPassword generates and stores a hashed reset token. It succeeds
// whether or not the email exists; the caller learns nothing either way.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	u, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.Info(logComponent, "password reset requested for unknown email", nil)
			return nil
		}
		return err
	}

	raw, err := token.GenerateSecure(token.ResetTokenBytes)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	rec := &PasswordResetToken{
		ID:        ids.New(),
		UserID:    u.ID,
		TokenHash: token.HashToken(raw),
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.store.ResetTokens().Create(ctx, rec); err != nil {
		return err
	}

	// Delivery is out of scope here; a mailer picks these up elsewhere.
	obs.Info(logComponent, "password reset token generated", map[string]any{"user_id": u.ID})
	return nil
}

// ResetPassword consumes a reset token and, as one atomic unit, stores the
// new hash and revokes every refresh token the principal holds. Forced
// re-authentication after a reset is a security invariant, not a side
// effect.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	rec, err := s.store.ResetTokens().FindByHash(ctx, token.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: reset token", ErrNotFound)
		}
		return err
	}
	if rec.Used {
		return fmt.Errorf("%w: reset token already used", ErrConflict)
	}
	now := s.now().UTC()
	if now.After(rec.ExpiresAt) {
		return fmt.Errorf("%w: reset token expired", ErrConflict)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.CompletePasswordReset(ctx, rec.UserID, rec.ID, hash, now); err != nil {
		return err
	}

	obs.Info(logComponent, "password reset completed", map[string]any{"user_id": rec.UserID})
	return nil
}

// VerifyAccessToken validates a stateless access token, distinguishing
// expiry (caller should refresh) from everything else (hard reject).
func (s *Service) VerifyAccessToken(raw string) (*token.Claims, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SweepExpired permanently deletes refresh tokens past expiry, plus revoked
// tokens older than the retention window. Intended to run on a schedule
// outside the request path.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()

	expired, err := s.store.RefreshTokens().DeleteExpiredBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	obs.TokensSwept.WithLabelValues("expired").Add(float64(expired))

	retained, err := s.store.RefreshTokens().DeleteRevokedBefore(ctx, now.Add(-s.revokedRetention))
	if err != nil {
		return expired, err
	}
	obs.TokensSwept.WithLabelValues("revoked_retention").Add(float64(retained))

	obs.Info(logComponent, "token sweep completed", map[string]any{
		"expired": expired, "revoked_past_retention": retained,
	})
	return expired + retained, nil
}

// checkLockout fails closed once the trailing window holds too many failed
// attempts for the identifier. Identifier-scoped, not IP-scoped: it guards
// an email against credential stuffing from any source.
func (s *Service) checkLockout(ctx context.Context, email string) error {
	since := s.now().UTC().Add(-s.lockoutWindow)
	failed, err := s.store.LoginAttempts().CountFailedSince(ctx, email, since)
	if err != nil {
		return err
	}
	if failed >= s.maxLoginAttempts {
		remaining := int(math.Ceil(s.lockoutWindow.Minutes()))
		return &LockedError{RemainingMinutes: remaining}
	}
	return nil
}

func (s *Service) recordAttempt(ctx context.Context, email, ip string, successful bool, reason string) error {
	if ip == "" {
		ip = "unknown"
	}
	return s.store.LoginAttempts().Record(ctx, &LoginAttempt{
		ID:            ids.New(),
		Email:         email,
		IPAddress:     ip,
		Successful:    successful,
		FailureReason: reason,
		AttemptedAt:   s.now().UTC(),
	})
}

// resolve loads the principal's current role names and the union of their
// permission names. Never cached: authorization state is re-read on every
// flow so revocations take effect immediately.
func (s *Service) resolve(ctx context.Context, userID string) (roles []string, perms []string, err error) {
	assigned, err := s.store.Roles().RolesForUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	roles = make([]string, 0, len(assigned))
	for _, r := range assigned {
		roles = append(roles, r.Name)
	}
	perms, err = s.store.Permissions().NamesForUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return roles, perms, nil
}

func (s *Service) mintTokens(ctx context.Context, u *User, roles, perms []string, dev DeviceInfo) (TokenPair, error) {
	access, accessExp, err := s.codec.Issue(u.ID, u.Email, roles, perms)
	if err != nil {
		return TokenPair{}, err
	}

	raw, err := token.GenerateSecure(token.RefreshTokenBytes)
	if err != nil {
		return TokenPair{}, err
	}
	now := s.now().UTC()
	rec := &RefreshToken{
		ID:         ids.New(),
		UserID:     u.ID,
		TokenHash:  token.HashToken(raw),
		DeviceInfo: dev.UserAgent,
		IPAddress:  dev.IPAddress,
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}

	obs.TokenPairsIssued.Inc()
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		ExpiresIn:        int64(s.codec.TTL().Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// NormalizeEmail lowercases and trims an identifier. All lookups and
// attempt accounting use the normalized form.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
