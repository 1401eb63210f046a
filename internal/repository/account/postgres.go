package account

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/logging"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

// NewPostgres returns a Repository backed by Postgres.
func NewPostgres(pool *pgxpool.Pool, logger logrus.FieldLogger) Repository {
	return &postgresRepo{pool: pool, logger: logging.OrDiscard(logger)}
}

const columns = `id::text, email, password_hash, email_verified, created_at`

func (r *postgresRepo) Create(ctx context.Context, a Account) (*Account, error) {
	const q = `
INSERT INTO accounts (id, email, password_hash, email_verified)
VALUES ($1, $2, $3, $4)
RETURNING ` + columns
	return r.scan(r.pool.QueryRow(ctx, q, a.ID, strings.ToLower(a.Email), a.PasswordHash, a.EmailVerified))
}

func (r *postgresRepo) GetByEmail(ctx context.Context, email string) (*Account, error) {
	const q = `SELECT ` + columns + ` FROM accounts WHERE lower(email) = lower($1) LIMIT 1`
	return r.scan(r.pool.QueryRow(ctx, q, email))
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*Account, error) {
	const q = `SELECT ` + columns + ` FROM accounts WHERE id = $1 LIMIT 1`
	return r.scan(r.pool.QueryRow(ctx, q, id))
}

func (r *postgresRepo) MarkVerified(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE accounts SET email_verified = TRUE WHERE id = $1`, id)
}

func (r *postgresRepo) SetPasswordHash(ctx context.Context, id, hash string) error {
	return r.exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE id = $1`, id, hash)
}

// Delete removes the account; its session tokens go with it by cascade.
func (r *postgresRepo) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
}

func (r *postgresRepo) exec(ctx context.Context, q string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresRepo) scan(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.EmailVerified, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrAlreadyExists
		}
		r.logger.WithError(err).Error("account repo: scan")
		return nil, err
	}
	return &a, nil
}
