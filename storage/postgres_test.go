package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"juxction/core"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_UpsertProfile(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepositoryWithPool(mock)
	profile := &core.Profile{
		ID:        uuid.New(),
		Email:     "ada@example.com",
		FullName:  "Ada",
		AvatarURL: "https://cdn.example.com/ada.png",
	}

	mock.ExpectExec("INSERT INTO profiles").
		WithArgs(profile.ID, profile.Email, profile.FullName, profile.AvatarURL).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertProfile(context.Background(), profile))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpsertLinkedAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepositoryWithPool(mock)
	account := &core.LinkedAccount{
		Provider:       core.LinkedProviderSteam,
		ProviderUserID: "76561197960287930",
		ProfileID:      uuid.New(),
	}

	mock.ExpectExec("ON CONFLICT \\(provider, profile_id\\)").
		WithArgs(account.Provider, account.ProviderUserID, account.ProfileID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertLinkedAccount(context.Background(), account))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpsertSteamAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepositoryWithPool(mock)
	id := uuid.New()
	created := time.Unix(1063407589, 0).UTC()
	account := &core.SteamAccount{
		ID:             id,
		ProfileID:      id,
		SteamID:        "76561197960287930",
		Username:       "gabelogannewell",
		SteamCreatedAt: &created,
		UpdatedAt:      time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO steam_accounts").
		WithArgs(account.ID, account.ProfileID, account.SteamID, account.Username, account.AvatarURL,
			account.ProfileURL, account.SteamCreatedAt, account.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertSteamAccount(context.Background(), account))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresRepositoryWithPool(mock)
	boom := errors.New("connection reset")

	mock.ExpectExec("INSERT INTO profiles").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(boom)

	err = repo.UpsertProfile(context.Background(), &core.Profile{ID: uuid.New()})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
