package storage

import (
	"context"
	"fmt"

	"juxction/core"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the part of *pgxpool.Pool the repository needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresRepository writes account rows straight to Postgres, for
// deployments that do not go through PostgREST.
type PostgresRepository struct {
	pool PgxPool
}

func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func NewPostgresRepositoryWithPool(pool PgxPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) UpsertProfile(ctx context.Context, p *core.Profile) error {
	query := `
		INSERT INTO profiles (id, email, full_name, avatar_url, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = EXCLUDED.full_name,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, p.ID, p.Email, p.FullName, p.AvatarURL); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpsertLinkedAccount(ctx context.Context, a *core.LinkedAccount) error {
	query := `
		INSERT INTO linked_accounts (provider, provider_user_id, profile_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (provider, profile_id) DO UPDATE SET
			provider_user_id = EXCLUDED.provider_user_id,
			updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, a.Provider, a.ProviderUserID, a.ProfileID); err != nil {
		return fmt.Errorf("upsert linked account: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpsertSteamAccount(ctx context.Context, a *core.SteamAccount) error {
	query := `
		INSERT INTO steam_accounts (
			id, profile_id, steam_id, steam_username, steam_avatar,
			steam_profile_url, steam_created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			profile_id = EXCLUDED.profile_id,
			steam_id = EXCLUDED.steam_id,
			steam_username = EXCLUDED.steam_username,
			steam_avatar = EXCLUDED.steam_avatar,
			steam_profile_url = EXCLUDED.steam_profile_url,
			steam_created_at = EXCLUDED.steam_created_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		a.ID, a.ProfileID, a.SteamID, a.Username, a.AvatarURL,
		a.ProfileURL, a.SteamCreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert steam account: %w", err)
	}
	return nil
}
