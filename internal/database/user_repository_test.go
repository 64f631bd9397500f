//go:build integration

package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_InsertAndFind(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewUserRepository()
	ctx := context.Background()

	user := &User{
		ID:        uuid.New(),
		Name:      "paul",
		RentLimit: 5,
		Version:   0,
	}

	require.NoError(t, repo.Insert(ctx, db.Pool(), user))

	found, err := repo.FindByID(ctx, db.Pool(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, "paul", found.Name)
	assert.Equal(t, int32(5), found.RentLimit)
}

func TestUserRepository_FindByID_NotFound(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewUserRepository()
	ctx := context.Background()

	found, err := repo.FindByID(ctx, db.Pool(), uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Nil(t, found)
}

func TestUserRepository_UpdateAndDelete(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewUserRepository()
	ctx := context.Background()

	user := &User{ID: uuid.New(), Name: "paul", RentLimit: 5, Version: 0}
	require.NoError(t, repo.Insert(ctx, db.Pool(), user))

	user.Name = "muad'dib"
	user.RentLimit = 10
	user.Version = 1
	require.NoError(t, repo.Update(ctx, db.Pool(), user))

	found, err := repo.FindByID(ctx, db.Pool(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "muad'dib", found.Name)
	assert.Equal(t, int32(10), found.RentLimit)
	assert.Equal(t, int64(1), found.Version)

	require.NoError(t, repo.Delete(ctx, db.Pool(), user.ID))
	_, err = repo.FindByID(ctx, db.Pool(), user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_FindAll(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewUserRepository()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, db.Pool(), &User{ID: uuid.New(), Name: "b", RentLimit: 1, Version: 0}))
	require.NoError(t, repo.Insert(ctx, db.Pool(), &User{ID: uuid.New(), Name: "a", RentLimit: 2, Version: 0}))

	users, err := repo.FindAll(ctx, db.Pool())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a", users[0].Name)
	assert.Equal(t, "b", users[1].Name)
}
