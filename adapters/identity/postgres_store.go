package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/otpgate/core"
)

// Schema creates the accounts table used by PostgresStore
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            UUID PRIMARY KEY,
	role          TEXT NOT NULL,
	email         TEXT NOT NULL,
	name          TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	phone_number  TEXT NOT NULL DEFAULT '',
	country       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (role, email)
)`

const uniqueViolation = "23505"

const accountColumns = `id, role, email, name, password_hash, phone_number, country, created_at`

// PostgresStore is an IdentityStore backed by a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate accounts: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, role, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE role = $1 AND lower(email) = lower($2))`,
		role, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, role, email string) (*core.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE role = $1 AND lower(email) = lower($2)`,
		role, email,
	)
	return scanAccount(row)
}

func (s *PostgresStore) LookupByID(ctx context.Context, role, id string) (*core.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.ErrIdentityNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE role = $1 AND id = $2`,
		role, id,
	)
	return scanAccount(row)
}

func (s *PostgresStore) Create(ctx context.Context, account *core.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (id, role, email, name, password_hash, phone_number, country)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		account.ID, account.Role, account.Email, account.Name,
		account.PasswordHash, account.PhoneNumber, account.Country,
	).Scan(&account.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return core.ErrIdentityExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, role, email, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $3 WHERE role = $1 AND lower(email) = lower($2)`,
		role, email, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrIdentityNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*core.Account, error) {
	var a core.Account
	err := row.Scan(&a.ID, &a.Role, &a.Email, &a.Name, &a.PasswordHash, &a.PhoneNumber, &a.Country, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &a, nil
}
