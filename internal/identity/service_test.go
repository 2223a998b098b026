package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	users          map[string]*domain.User
	createUserErr  error
	getUserByEmail func(email string) (*domain.User, error)
	deleteUserErr  error
	revokedFor     []string
	nextID         int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockRepository) CreateUser(_ context.Context, user *domain.User) error {
	if m.createUserErr != nil {
		return m.createUserErr
	}
	m.nextID++
	user.ID = fmt.Sprintf("user-%d", m.nextID)
	m.users[user.Email] = user
	return nil
}

func (m *mockRepository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	if m.getUserByEmail != nil {
		return m.getUserByEmail(email)
	}
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) UpdateUser(_ context.Context, user *domain.User) error {
	m.users[user.Email] = user
	return nil
}

func (m *mockRepository) ListUsers(_ context.Context, filter UserFilter) ([]domain.User, int, error) {
	users := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if u.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		users = append(users, *u)
	}
	slices.SortFunc(users, func(a, b domain.User) int { return strings.Compare(a.Email, b.Email) })
	return users, len(users), nil
}

func (m *mockRepository) SetUserDeleted(ctx context.Context, id string, deleted bool) error {
	u, err := m.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	u.DeletedAt = nil
	if deleted {
		now := time.Now()
		u.DeletedAt = &now
	}
	return nil
}

func (m *mockRepository) DeleteUser(ctx context.Context, id string) error {
	if m.deleteUserErr != nil {
		return m.deleteUserErr
	}
	u, err := m.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	delete(m.users, u.Email)
	return nil
}

func (m *mockRepository) SaveRefreshToken(_ context.Context, _ *domain.RefreshToken) error {
	return nil
}

func (m *mockRepository) GetRefreshToken(_ context.Context, _ string) (*domain.RefreshToken, error) {
	return nil, ErrInvalidToken
}

func (m *mockRepository) DeleteRefreshToken(_ context.Context, _ string) error {
	return nil
}

func (m *mockRepository) DeleteUserRefreshTokens(_ context.Context, userID string) error {
	m.revokedFor = append(m.revokedFor, userID)
	return nil
}

// mockAuthenticator implements Authenticator for testing.
type mockAuthenticator struct {
	issuedFor []string
}

func (m *mockAuthenticator) GenerateTokens(_ context.Context, user *domain.User) (*TokenPair, error) {
	m.issuedFor = append(m.issuedFor, user.ID)
	return &TokenPair{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockAuthenticator) ValidateAccessToken(_ context.Context, _ string) (string, domain.Role, error) {
	return "", "", nil
}

func (m *mockAuthenticator) RefreshTokens(_ context.Context, _ string) (*TokenPair, error) {
	return &TokenPair{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockAuthenticator) RevokeRefreshToken(_ context.Context, _ string) error {
	return nil
}

func (m *mockAuthenticator) Type() string {
	return "mock"
}

func newTestService(repo *mockRepository, auth *mockAuthenticator) *Service {
	s := NewService(repo, auth)
	s.bcryptCost = bcrypt.MinCost
	return s
}

func TestRegister_HashesPasswordAndDefaultsToUserRole(t *testing.T) {
	// Arrange
	repo := newMockRepository()
	service := newTestService(repo, &mockAuthenticator{})

	// Act
	user, err := service.Register(context.Background(), RegisterInput{
		Email:     "  Agent@Example.com ",
		Password:  "password123",
		FirstName: "Kossi",
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "agent@example.com", user.Email)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.NotEqual(t, "password123", user.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("password123")))
}

func TestRegister_EmailAlreadyExists(t *testing.T) {
	// Arrange
	repo := newMockRepository()
	repo.users["existing@example.com"] = &domain.User{Email: "existing@example.com"}
	service := newTestService(repo, &mockAuthenticator{})

	// Act
	user, err := service.Register(context.Background(), RegisterInput{
		Email:    "existing@example.com",
		Password: "password123",
	})

	// Assert
	assert.Nil(t, user)
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestRegister_CreateUserFails(t *testing.T) {
	// Arrange
	repo := newMockRepository()
	repo.createUserErr = errors.New("database error")
	service := newTestService(repo, &mockAuthenticator{})

	// Act
	user, err := service.Register(context.Background(), RegisterInput{
		Email:    "test@example.com",
		Password: "password123",
	})

	// Assert
	assert.Nil(t, user)
	assert.Error(t, err)
}

func TestRegister_LookupFails(t *testing.T) {
	// Arrange
	repo := newMockRepository()
	repo.getUserByEmail = func(string) (*domain.User, error) {
		return nil, errors.New("connection refused")
	}
	service := newTestService(repo, &mockAuthenticator{})

	// Act
	_, err := service.Register(context.Background(), RegisterInput{
		Email:    "test@example.com",
		Password: "password123",
	})

	// Assert
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmailExists)
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name        string
		email       string
		password    string
		deactivated bool
		wantErr     error
	}{
		{name: "valid credentials", email: "agent@example.com", password: "password123"},
		{name: "email is case-insensitive", email: "AGENT@example.com", password: "password123"},
		{name: "wrong password", email: "agent@example.com", password: "nope", wantErr: ErrInvalidCredentials},
		{name: "unknown email", email: "ghost@example.com", password: "password123", wantErr: ErrInvalidCredentials},
		{name: "deactivated account", email: "agent@example.com", password: "password123", deactivated: true, wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			repo := newMockRepository()
			auth := &mockAuthenticator{}
			service := newTestService(repo, auth)
			registered, err := service.Register(context.Background(), RegisterInput{
				Email:    "agent@example.com",
				Password: "password123",
			})
			require.NoError(t, err)
			if tt.deactivated {
				require.NoError(t, repo.SetUserDeleted(context.Background(), registered.ID, true))
			}

			// Act
			user, tokens, err := service.Login(context.Background(), LoginInput{
				Email:    tt.email,
				Password: tt.password,
			})

			// Assert
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, auth.issuedFor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, registered.ID, user.ID)
			assert.Equal(t, "access", tokens.AccessToken)
			assert.Equal(t, []string{registered.ID}, auth.issuedFor)
		})
	}
}

func TestChangePassword(t *testing.T) {
	t.Run("wrong current password", func(t *testing.T) {
		// Arrange
		repo := newMockRepository()
		service := newTestService(repo, &mockAuthenticator{})
		user, err := service.Register(context.Background(), RegisterInput{Email: "a@example.com", Password: "password123"})
		require.NoError(t, err)

		// Act
		err = service.ChangePassword(context.Background(), user.ID, "wrong-one", "newpassword1")

		// Assert
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Empty(t, repo.revokedFor)
	})

	t.Run("success revokes sessions", func(t *testing.T) {
		// Arrange
		repo := newMockRepository()
		service := newTestService(repo, &mockAuthenticator{})
		user, err := service.Register(context.Background(), RegisterInput{Email: "a@example.com", Password: "password123"})
		require.NoError(t, err)

		// Act
		err = service.ChangePassword(context.Background(), user.ID, "password123", "newpassword1")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{user.ID}, repo.revokedFor)
		stored := repo.users["a@example.com"]
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("newpassword1")))
	})

	t.Run("unknown user", func(t *testing.T) {
		service := newTestService(newMockRepository(), &mockAuthenticator{})

		err := service.ChangePassword(context.Background(), "missing", "a", "b")

		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestEnsureAdmin(t *testing.T) {
	t.Run("creates admin when absent", func(t *testing.T) {
		// Arrange
		repo := newMockRepository()
		service := newTestService(repo, &mockAuthenticator{})

		// Act
		err := service.EnsureAdmin(context.Background(), AdminSeed{Email: "admin@anac.tg", Password: "changeme123"})

		// Assert
		require.NoError(t, err)
		require.Contains(t, repo.users, "admin@anac.tg")
		assert.Equal(t, domain.RoleAdmin, repo.users["admin@anac.tg"].Role)
	})

	t.Run("leaves existing account untouched", func(t *testing.T) {
		// Arrange
		repo := newMockRepository()
		existing := &domain.User{ID: "u1", Email: "admin@anac.tg", Role: domain.RoleOperator, Password: "hash"}
		repo.users[existing.Email] = existing
		service := newTestService(repo, &mockAuthenticator{})

		// Act
		err := service.EnsureAdmin(context.Background(), AdminSeed{Email: "admin@anac.tg", Password: "changeme123"})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, domain.RoleOperator, repo.users["admin@anac.tg"].Role)
		assert.Equal(t, "hash", repo.users["admin@anac.tg"].Password)
	})

	t.Run("no email configured", func(t *testing.T) {
		repo := newMockRepository()
		service := newTestService(repo, &mockAuthenticator{})

		err := service.EnsureAdmin(context.Background(), AdminSeed{})

		require.NoError(t, err)
		assert.Empty(t, repo.users)
	})
}

// seedAccounts registers an admin acting on an operator and a reporter.
func seedAccounts(t *testing.T, repo *mockRepository, service *Service) (admin, operator, reporter *domain.User) {
	t.Helper()
	ctx := context.Background()
	var err error
	admin, err = service.createUser(ctx, RegisterInput{Email: "admin@anac.tg", Password: "password123"}, domain.RoleAdmin)
	require.NoError(t, err)
	operator, err = service.createUser(ctx, RegisterInput{Email: "op@anac.tg", Password: "password123"}, domain.RoleOperator)
	require.NoError(t, err)
	reporter, err = service.Register(ctx, RegisterInput{Email: "agent@anac.tg", Password: "password123", FirstName: "Kossi"})
	require.NoError(t, err)
	return admin, operator, reporter
}

func TestListUsers(t *testing.T) {
	// Arrange
	repo := newMockRepository()
	service := newTestService(repo, &mockAuthenticator{})
	_, operator, reporter := seedAccounts(t, repo, service)
	require.NoError(t, service.DeactivateUser(context.Background(), "someone-else", reporter.ID))
	role := domain.RoleOperator

	// Act
	active, total, err := service.ListUsers(context.Background(), UserFilter{})
	require.NoError(t, err)
	operators, _, err := service.ListUsers(context.Background(), UserFilter{Role: &role})
	require.NoError(t, err)
	all, _, err := service.ListUsers(context.Background(), UserFilter{IncludeDeleted: true})
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 2, total)
	assert.Len(t, active, 2)
	require.Len(t, operators, 1)
	assert.Equal(t, operator.ID, operators[0].ID)
	assert.Len(t, all, 3)
}

func TestUpdateUser(t *testing.T) {
	ptr := func(s string) *string { return &s }
	roleOf := func(r domain.Role) *domain.Role { return &r }

	tests := []struct {
		name        string
		self        bool
		input       UpdateUserInput
		wantErr     error
		wantRole    domain.Role
		wantFirst   string
		wantRevoked bool
	}{
		{
			name:      "names are trimmed",
			input:     UpdateUserInput{FirstName: ptr("  Kossi "), LastName: ptr(" Agbeko ")},
			wantRole:  domain.RoleUser,
			wantFirst: "Kossi",
		},
		{
			name:        "promotion ends sessions",
			input:       UpdateUserInput{Role: roleOf(domain.RoleOperator)},
			wantRole:    domain.RoleOperator,
			wantFirst:   "Kossi",
			wantRevoked: true,
		},
		{
			name:      "same role is not a change",
			input:     UpdateUserInput{Role: roleOf(domain.RoleUser)},
			wantRole:  domain.RoleUser,
			wantFirst: "Kossi",
		},
		{name: "unknown role", input: UpdateUserInput{Role: roleOf("pilot")}, wantErr: ErrInvalidRole},
		{name: "admin cannot demote self", self: true, input: UpdateUserInput{Role: roleOf(domain.RoleUser)}, wantErr: ErrSelfModification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			repo := newMockRepository()
			service := newTestService(repo, &mockAuthenticator{})
			admin, _, reporter := seedAccounts(t, repo, service)
			target := reporter.ID
			if tt.self {
				target = admin.ID
			}

			// Act
			user, err := service.UpdateUser(context.Background(), admin.ID, target, tt.input)

			// Assert
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, repo.revokedFor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, user.Role)
			assert.Equal(t, tt.wantFirst, user.FirstName)
			if tt.wantRevoked {
				assert.Equal(t, []string{reporter.ID}, repo.revokedFor)
			} else {
				assert.Empty(t, repo.revokedFor)
			}
		})
	}
}

func TestDeactivateAndRestoreUser(t *testing.T) {
	t.Run("deactivation revokes sessions", func(t *testing.T) {
		// Arrange
		repo := newMockRepository()
		service := newTestService(repo, &mockAuthenticator{})
		admin, operator, _ := seedAccounts(t, repo, service)

		// Act
		err := service.DeactivateUser(context.Background(), admin.ID, operator.ID)

		// Assert
		require.NoError(t, err)
		assert.True(t, repo.users[operator.Email].IsDeleted())
		assert.Equal(t, []string{operator.ID}, repo.revokedFor)
	})

	t.Run("restore", func(t *testing.T) {
		// Arrange
		repo := newMockRepository()
		service := newTestService(repo, &mockAuthenticator{})
		admin, operator, _ := seedAccounts(t, repo, service)
		require.NoError(t, service.DeactivateUser(context.Background(), admin.ID, operator.ID))

		// Act
		restored, err := service.RestoreUser(context.Background(), operator.ID)

		// Assert
		require.NoError(t, err)
		assert.False(t, restored.IsDeleted())
	})

	t.Run("self", func(t *testing.T) {
		repo := newMockRepository()
		service := newTestService(repo, &mockAuthenticator{})
		admin, _, _ := seedAccounts(t, repo, service)

		err := service.DeactivateUser(context.Background(), admin.ID, admin.ID)

		assert.ErrorIs(t, err, ErrSelfModification)
		assert.False(t, repo.users[admin.Email].IsDeleted())
	})

	t.Run("unknown user", func(t *testing.T) {
		service := newTestService(newMockRepository(), &mockAuthenticator{})

		_, err := service.RestoreUser(context.Background(), "missing")

		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestDeleteUser(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		// Arrange
		repo := newMockRepository()
		service := newTestService(repo, &mockAuthenticator{})
		admin, _, reporter := seedAccounts(t, repo, service)

		// Act
		err := service.DeleteUser(context.Background(), admin.ID, reporter.ID)

		// Assert
		require.NoError(t, err)
		assert.NotContains(t, repo.users, reporter.Email)
	})

	t.Run("declarant is kept", func(t *testing.T) {
		repo := newMockRepository()
		repo.deleteUserErr = ErrUserInUse
		service := newTestService(repo, &mockAuthenticator{})
		admin, _, reporter := seedAccounts(t, repo, service)

		err := service.DeleteUser(context.Background(), admin.ID, reporter.ID)

		assert.ErrorIs(t, err, ErrUserInUse)
	})

	t.Run("self", func(t *testing.T) {
		repo := newMockRepository()
		service := newTestService(repo, &mockAuthenticator{})
		admin, _, _ := seedAccounts(t, repo, service)

		err := service.DeleteUser(context.Background(), admin.ID, admin.ID)

		assert.ErrorIs(t, err, ErrSelfModification)
		assert.Contains(t, repo.users, admin.Email)
	})
}
