package storage

import (
	"context"
	"database/sql"
	"fmt"

	"juxction/core"

	"github.com/ydb-platform/ydb-go-sdk/v3"
	"github.com/ydb-platform/ydb-go-sdk/v3/table/types"
	yc "github.com/ydb-platform/ydb-go-yc"
)

type YDBConfig struct {
	DSN string `yaml:"dsn"`
	// ServiceAccountKeyFile selects Yandex Cloud service account auth.
	// Empty means metadata credentials.
	ServiceAccountKeyFile string `yaml:"service_account_key_file"`
}

// YDBRepository keeps account rows in YDB through database/sql.
type YDBRepository struct {
	driver *ydb.Driver
	db     *sql.DB
}

func NewYDBRepository(ctx context.Context, cfg YDBConfig) (*YDBRepository, error) {
	opts := []ydb.Option{yc.WithInternalCA()}
	if cfg.ServiceAccountKeyFile != "" {
		opts = append(opts, yc.WithServiceAccountKeyFileCredentials(cfg.ServiceAccountKeyFile))
	} else {
		opts = append(opts, yc.WithMetadataCredentials())
	}

	driver, err := ydb.Open(ctx, cfg.DSN, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open ydb: %w", err)
	}

	connector, err := ydb.Connector(driver)
	if err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to create ydb connector: %w", err)
	}

	return &YDBRepository{driver: driver, db: sql.OpenDB(connector)}, nil
}

func (r *YDBRepository) Close(ctx context.Context) error {
	if err := r.db.Close(); err != nil {
		return err
	}
	return r.driver.Close(ctx)
}

func (r *YDBRepository) UpsertProfile(ctx context.Context, p *core.Profile) error {
	query := `
		DECLARE $id AS Utf8;
		DECLARE $email AS Utf8;
		DECLARE $full_name AS Utf8;
		DECLARE $avatar_url AS Utf8;
		UPSERT INTO profiles (id, email, full_name, avatar_url, updated_at)
		VALUES ($id, $email, $full_name, $avatar_url, CurrentUtcTimestamp());
	`
	_, err := r.db.ExecContext(ctx, query,
		sql.Named("id", p.ID.String()),
		sql.Named("email", p.Email),
		sql.Named("full_name", p.FullName),
		sql.Named("avatar_url", p.AvatarURL),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *YDBRepository) UpsertLinkedAccount(ctx context.Context, a *core.LinkedAccount) error {
	query := `
		DECLARE $provider AS Utf8;
		DECLARE $provider_user_id AS Utf8;
		DECLARE $profile_id AS Utf8;
		UPSERT INTO linked_accounts (provider, profile_id, provider_user_id, updated_at)
		VALUES ($provider, $profile_id, $provider_user_id, CurrentUtcTimestamp());
	`
	_, err := r.db.ExecContext(ctx, query,
		sql.Named("provider", a.Provider),
		sql.Named("provider_user_id", a.ProviderUserID),
		sql.Named("profile_id", a.ProfileID.String()),
	)
	if err != nil {
		return fmt.Errorf("upsert linked account: %w", err)
	}
	return nil
}

func (r *YDBRepository) UpsertSteamAccount(ctx context.Context, a *core.SteamAccount) error {
	query := `
		DECLARE $id AS Utf8;
		DECLARE $profile_id AS Utf8;
		DECLARE $steam_id AS Utf8;
		DECLARE $steam_username AS Utf8;
		DECLARE $steam_avatar AS Utf8;
		DECLARE $steam_profile_url AS Utf8;
		DECLARE $steam_created_at AS Optional<Timestamp>;
		DECLARE $updated_at AS Timestamp;
		UPSERT INTO steam_accounts (
			id, profile_id, steam_id, steam_username, steam_avatar,
			steam_profile_url, steam_created_at, updated_at
		)
		VALUES (
			$id, $profile_id, $steam_id, $steam_username, $steam_avatar,
			$steam_profile_url, $steam_created_at, $updated_at
		);
	`
	_, err := r.db.ExecContext(ctx, query,
		sql.Named("id", a.ID.String()),
		sql.Named("profile_id", a.ProfileID.String()),
		sql.Named("steam_id", a.SteamID),
		sql.Named("steam_username", a.Username),
		sql.Named("steam_avatar", a.AvatarURL),
		sql.Named("steam_profile_url", a.ProfileURL),
		sql.Named("steam_created_at", types.NullableTimestampValueFromTime(a.SteamCreatedAt)),
		sql.Named("updated_at", a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert steam account: %w", err)
	}
	return nil
}
