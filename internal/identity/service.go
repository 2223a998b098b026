// Package identity provides user accounts, authentication and sessions.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
	"golang.org/x/crypto/bcrypt"
)

// Service implements user management and authentication.
type Service struct {
	repo       Repository
	auth       Authenticator
	bcryptCost int
}

// NewService creates a new identity service.
func NewService(repo Repository, auth Authenticator) *Service {
	return &Service{
		repo:       repo,
		auth:       auth,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// RegisterInput holds data for creating a user.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginInput holds login credentials.
type LoginInput struct {
	Email    string
	Password string
}

// AdminSeed describes the administrator account created on startup.
type AdminSeed struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a reporter account.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	return s.createUser(ctx, input, domain.RoleUser)
}

func (s *Service) createUser(ctx context.Context, input RegisterInput, role domain.Role) (*domain.User, error) {
	email := normalizeEmail(input.Email)

	_, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailExists
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:     email,
		Password:  string(hash),
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Role:      role,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	ctxlog.FromContext(ctx).Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Login checks credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, input LoginInput) (*domain.User, *TokenPair, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if user.IsDeleted() {
		return nil, nil, ErrInvalidCredentials
	}

	tokens, err := s.auth.GenerateTokens(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}
	return user, tokens, nil
}

// RefreshTokens rotates a refresh token.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.auth.RefreshTokens(ctx, refreshToken)
}

// Logout revokes a refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.auth.RevokeRefreshToken(ctx, refreshToken)
}

// GetUserByID returns a user by id.
func (s *Service) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ValidateToken validates an access token for httputil.AuthMiddleware.
func (s *Service) ValidateToken(ctx context.Context, token string) (string, domain.Role, error) {
	return s.auth.ValidateAccessToken(ctx, token)
}

// ChangePassword replaces the password after verifying the current one and
// revokes every refresh token of the user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.Password = string(hash)
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	if err := s.repo.DeleteUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

// UpdateUserInput holds the fields an administrator may change. Nil fields
// are left as they are.
type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Role      *domain.Role
}

// ListUsers returns a page of accounts and the number matching filter.
func (s *Service) ListUsers(ctx context.Context, filter UserFilter) ([]domain.User, int, error) {
	return s.repo.ListUsers(ctx, filter)
}

// UpdateUser changes names and role of the account id on behalf of actorID.
// A role change ends every session of the account so the new role applies
// from the next login.
func (s *Service) UpdateUser(ctx context.Context, actorID, id string, input UpdateUserInput) (*domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	roleChanged := input.Role != nil && *input.Role != user.Role
	if roleChanged {
		if !input.Role.IsValid() {
			return nil, ErrInvalidRole
		}
		if id == actorID {
			return nil, ErrSelfModification
		}
		user.Role = *input.Role
	}
	if input.FirstName != nil {
		user.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		user.LastName = strings.TrimSpace(*input.LastName)
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if roleChanged {
		if err := s.repo.DeleteUserRefreshTokens(ctx, id); err != nil {
			return nil, fmt.Errorf("revoke refresh tokens: %w", err)
		}
		ctxlog.FromContext(ctx).Info("user role changed", "user_id", id, "role", user.Role, "actor_id", actorID)
	}
	return user, nil
}

// DeactivateUser soft-deletes the account id. It can no longer log in and
// its refresh tokens are revoked. Incidents it declared are kept.
func (s *Service) DeactivateUser(ctx context.Context, actorID, id string) error {
	if id == actorID {
		return ErrSelfModification
	}
	if err := s.repo.SetUserDeleted(ctx, id, true); err != nil {
		return err
	}
	if err := s.repo.DeleteUserRefreshTokens(ctx, id); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	ctxlog.FromContext(ctx).Info("user deactivated", "user_id", id, "actor_id", actorID)
	return nil
}

// RestoreUser reactivates a soft-deleted account.
func (s *Service) RestoreUser(ctx context.Context, id string) (*domain.User, error) {
	if err := s.repo.SetUserDeleted(ctx, id, false); err != nil {
		return nil, err
	}
	return s.repo.GetUserByID(ctx, id)
}

// DeleteUser removes the account id permanently. Accounts that declared
// incidents fail with ErrUserInUse and should be deactivated instead.
func (s *Service) DeleteUser(ctx context.Context, actorID, id string) error {
	if id == actorID {
		return ErrSelfModification
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("user deleted", "user_id", id, "actor_id", actorID)
	return nil
}

// EnsureAdmin creates the seed administrator if the e-mail is unknown.
// An existing account is left unchanged.
func (s *Service) EnsureAdmin(ctx context.Context, seed AdminSeed) error {
	if seed.Email == "" {
		return nil
	}

	_, err := s.createUser(ctx, RegisterInput(seed), domain.RoleAdmin)
	switch {
	case err == nil:
		slog.Info("admin account created", "email", normalizeEmail(seed.Email))
		return nil
	case errors.Is(err, ErrEmailExists):
		return nil
	default:
		return fmt.Errorf("seed admin: %w", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
