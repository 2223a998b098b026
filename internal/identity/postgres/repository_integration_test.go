//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/identity"
	"github.com/anac-tg/incident-desk/internal/identity/postgres"
	"github.com/anac-tg/incident-desk/internal/testutil"
)

func TestRepository_Users(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewRepository(testutil.NewMigratedDatabase(t, "../../../migrations"))

	user := &domain.User{
		Email:     "ama.mensah@aeroport.test",
		Password:  "hash",
		FirstName: "Ama",
		LastName:  "Mensah",
		Role:      domain.RoleOperator,
	}
	require.NoError(t, repo.CreateUser(ctx, user))
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())

	t.Run("duplicate email", func(t *testing.T) {
		dup := *user
		assert.ErrorIs(t, repo.CreateUser(ctx, &dup), identity.ErrEmailExists)
	})

	t.Run("lookups", func(t *testing.T) {
		byID, err := repo.GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Email, byID.Email)
		assert.Equal(t, domain.RoleOperator, byID.Role)

		byEmail, err := repo.GetUserByEmail(ctx, user.Email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)

		_, err = repo.GetUserByEmail(ctx, "nobody@aeroport.test")
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		for _, id := range []string{"abc", "", "1' OR '1'='1", user.ID + "x"} {
			_, err := repo.GetUserByID(ctx, id)
			assert.ErrorIs(t, err, identity.ErrUserNotFound, "get %q", id)
			assert.ErrorIs(t, repo.UpdateUser(ctx, &domain.User{ID: id, Role: domain.RoleUser}), identity.ErrUserNotFound, "update %q", id)
			assert.ErrorIs(t, repo.SetUserDeleted(ctx, id, true), identity.ErrUserNotFound, "soft delete %q", id)
			assert.ErrorIs(t, repo.DeleteUser(ctx, id), identity.ErrUserNotFound, "delete %q", id)
		}
	})

	t.Run("update", func(t *testing.T) {
		user.Password = "new-hash"
		require.NoError(t, repo.UpdateUser(ctx, user))

		got, err := repo.GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.Password)
	})
}

func TestRepository_UserManagement(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedDatabase(t, "../../../migrations")
	repo := postgres.NewRepository(pool)

	seed := []*domain.User{
		{Email: "yao.kpodar@aeroport.test", FirstName: "Yao", LastName: "Kpodar", Role: domain.RoleOperator},
		{Email: "essi.amouzou@aeroport.test", FirstName: "Essi", LastName: "Amouzou", Role: domain.RoleUser},
		{Email: "afi.dogbe@aeroport.test", FirstName: "Afi", LastName: "Dogbe", Role: domain.RoleUser},
	}
	for _, u := range seed {
		u.Password = "hash"
		require.NoError(t, repo.CreateUser(ctx, u))
	}
	operator, essi, afi := seed[0], seed[1], seed[2]

	t.Run("list ordered by last name", func(t *testing.T) {
		users, total, err := repo.ListUsers(ctx, identity.UserFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, users, 2)
		assert.Equal(t, essi.ID, users[0].ID)
		assert.Equal(t, afi.ID, users[1].ID)
	})

	t.Run("role and query filters", func(t *testing.T) {
		role := domain.RoleOperator
		users, total, err := repo.ListUsers(ctx, identity.UserFilter{Role: &role})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, operator.ID, users[0].ID)

		users, total, err = repo.ListUsers(ctx, identity.UserFilter{Query: "DOGBE"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, afi.ID, users[0].ID)
	})

	t.Run("soft delete and restore", func(t *testing.T) {
		require.NoError(t, repo.SetUserDeleted(ctx, essi.ID, true))

		got, err := repo.GetUserByID(ctx, essi.ID)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted())

		_, total, err := repo.ListUsers(ctx, identity.UserFilter{})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		_, total, err = repo.ListUsers(ctx, identity.UserFilter{IncludeDeleted: true})
		require.NoError(t, err)
		assert.Equal(t, 3, total)

		require.NoError(t, repo.SetUserDeleted(ctx, essi.ID, false))
		got, err = repo.GetUserByID(ctx, essi.ID)
		require.NoError(t, err)
		assert.False(t, got.IsDeleted())
	})

	t.Run("declarant cannot be removed", func(t *testing.T) {
		_, err := pool.Exec(ctx, `
			INSERT INTO incidents (tracking_id, title, description, type, priority, declarant_id)
			VALUES ('INC-TEST-1', 'Balise', 'Balise éteinte', 'OTHER', 'MOYENNE', $1)`, afi.ID)
		require.NoError(t, err)

		assert.ErrorIs(t, repo.DeleteUser(ctx, afi.ID), identity.ErrUserInUse)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.DeleteUser(ctx, operator.ID))

		_, err := repo.GetUserByID(ctx, operator.ID)
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
		assert.ErrorIs(t, repo.DeleteUser(ctx, operator.ID), identity.ErrUserNotFound)
	})
}

func TestRepository_RefreshTokens(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewRepository(testutil.NewMigratedDatabase(t, "../../../migrations"))

	user := &domain.User{Email: "kofi@aeroport.test", Password: "hash", Role: domain.RoleUser}
	require.NoError(t, repo.CreateUser(ctx, user))

	token := &domain.RefreshToken{UserID: user.ID, Token: "rt-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.SaveRefreshToken(ctx, token))
	require.NoError(t, repo.SaveRefreshToken(ctx, &domain.RefreshToken{
		UserID: user.ID, Token: "rt-2", ExpiresAt: time.Now().Add(time.Hour),
	}))

	got, err := repo.GetRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)

	require.NoError(t, repo.DeleteRefreshToken(ctx, "rt-1"))
	assert.ErrorIs(t, repo.DeleteRefreshToken(ctx, "rt-1"), identity.ErrInvalidToken)
	_, err = repo.GetRefreshToken(ctx, "rt-1")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)

	require.NoError(t, repo.DeleteUserRefreshTokens(ctx, user.ID))
	_, err = repo.GetRefreshToken(ctx, "rt-2")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}
