package auth

import (
	"context"
	"strings"
	"time"
)

const defaultTokenTTL = 24 * time.Hour

// Service provides registration, credential issuance and identity resolution.
type Service struct {
	store    UserStore
	now      func() time.Time
	tokenTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithTokenTTL configures issued token lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service with optional configuration.
func NewService(store UserStore, opts ...ServiceOption) *Service {
	svc := &Service{
		store:    store,
		now:      time.Now,
		tokenTTL: defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Register creates a new account. A requested role is honored with the
// planner default; registering an admin is allowed only while no admin
// exists, which bootstraps the first installation.
func (s *Service) Register(ctx context.Context, username, password, fullName string, role Role) (Identity, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return Identity{}, ErrInvalidInput
	}
	if role == "" {
		role = DefaultRole
	}
	if !role.Valid() {
		return Identity{}, ErrInvalidInput
	}
	if role == RoleAdmin {
		n, err := s.store.CountByRole(ctx, RoleAdmin)
		if err != nil {
			return Identity{}, err
		}
		if n > 0 {
			return Identity{}, ErrAdminExists
		}
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Identity{}, err
	}
	user := &User{
		Username:     username,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return Identity{}, err
	}
	return IdentityOf(user), nil
}

// Authenticate verifies credentials and issues a bearer token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, Identity, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return "", Identity{}, ErrUnauthorized
	}
	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return "", Identity{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", Identity{}, ErrUnauthorized
	}
	token, err := GenerateToken(user.Username, user.Role, s.tokenTTL)
	if err != nil {
		return "", Identity{}, err
	}
	return token, IdentityOf(user), nil
}

// Resolve maps a bearer token to the identity it represents. Token claims
// carry the username; the role is re-read from the store so a later role
// change takes effect without reissuing the token.
func (s *Service) Resolve(ctx context.Context, token string) (Identity, error) {
	claims, err := ParseAndValidate(token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	user, err := s.store.FindByUsername(ctx, claims.Subject)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return IdentityOf(user), nil
}

// ProfileUpdate carries optional self-service profile changes.
type ProfileUpdate struct {
	FullName *string
	Password *string
}

// UpdateProfile applies full-name and password changes for the given user.
// A password change invalidates the credential tied to the old password on
// the client side; the caller is responsible for dropping it.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (Identity, error) {
	user, err := s.store.Find(ctx, userID)
	if err != nil {
		return Identity{}, err
	}
	if upd.FullName != nil {
		user.FullName = strings.TrimSpace(*upd.FullName)
	}
	if upd.Password != nil {
		pw := strings.TrimSpace(*upd.Password)
		if pw == "" {
			return Identity{}, ErrInvalidInput
		}
		hash, err := HashPassword(pw)
		if err != nil {
			return Identity{}, err
		}
		user.PasswordHash = hash
	}
	if err := s.store.Update(ctx, user); err != nil {
		return Identity{}, err
	}
	return IdentityOf(user), nil
}

// ListUsers returns all identities. Admin-only at the API boundary.
func (s *Service) ListUsers(ctx context.Context) ([]Identity, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Identity, 0, len(users))
	for _, u := range users {
		out = append(out, IdentityOf(u))
	}
	return out, nil
}

// CreateUser provisions an account on behalf of an administrator. Unlike
// Register it may create additional admins.
func (s *Service) CreateUser(ctx context.Context, username, password, fullName string, role Role) (Identity, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return Identity{}, ErrInvalidInput
	}
	if role == "" {
		role = DefaultRole
	}
	if !role.Valid() {
		return Identity{}, ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Identity{}, err
	}
	user := &User{
		Username:     username,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return Identity{}, err
	}
	return IdentityOf(user), nil
}

// ChangeRole updates a user's role.
func (s *Service) ChangeRole(ctx context.Context, userID string, role Role) error {
	if !role.Valid() {
		return ErrInvalidInput
	}
	user, err := s.store.Find(ctx, userID)
	if err != nil {
		return err
	}
	user.Role = role
	return s.store.Update(ctx, user)
}

// DeleteUser removes an account.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}
