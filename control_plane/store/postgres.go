package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appInfoSchema = `
	CREATE TABLE IF NOT EXISTS app_info (
		id               BIGINT PRIMARY KEY,
		current_server   TEXT NOT NULL DEFAULT '',
		lease_expires_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// PostgresStore implements OwnershipStore on the app_info.current_server column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the app_info table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, appInfoSchema)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) ClaimApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error) {
	defer observe("postgres", "claim")()

	query := `
		INSERT INTO app_info (id, current_server, lease_expires_at, updated_at)
		VALUES ($1, $2, NOW() + ($3 * INTERVAL '1 millisecond'), NOW())
		ON CONFLICT (id) DO UPDATE SET
			current_server = EXCLUDED.current_server,
			lease_expires_at = EXCLUDED.lease_expires_at,
			updated_at = NOW()
		WHERE app_info.current_server = EXCLUDED.current_server
		   OR app_info.current_server = ''
		   OR app_info.lease_expires_at < NOW()
	`
	tag, err := s.pool.Exec(ctx, query, appID, nodeID, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("claim app %d: %w", appID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RenewApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error) {
	defer observe("postgres", "renew")()

	query := `
		UPDATE app_info
		SET lease_expires_at = NOW() + ($3 * INTERVAL '1 millisecond'), updated_at = NOW()
		WHERE id = $1 AND current_server = $2 AND lease_expires_at >= NOW()
	`
	tag, err := s.pool.Exec(ctx, query, appID, nodeID, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("renew app %d: %w", appID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseApp(ctx context.Context, appID int64, nodeID string) error {
	defer observe("postgres", "release")()

	query := `UPDATE app_info SET current_server = '', updated_at = NOW() WHERE id = $1 AND current_server = $2`
	_, err := s.pool.Exec(ctx, query, appID, nodeID)
	return err
}

func (s *PostgresStore) AppOwner(ctx context.Context, appID int64) (AppOwnership, error) {
	defer observe("postgres", "owner")()

	rec := AppOwnership{AppID: appID}
	query := `SELECT current_server, lease_expires_at, lease_expires_at >= NOW() FROM app_info WHERE id = $1`

	var server string
	var live bool
	err := s.pool.QueryRow(ctx, query, appID).Scan(&server, &rec.ExpiresAt, &live)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("lookup owner of app %d: %w", appID, err)
	}

	rec.Known = true
	if live {
		rec.Owner = server
	}
	return rec, nil
}
