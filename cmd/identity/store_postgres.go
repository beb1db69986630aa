package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLookup resolves users from the storefront's users table.
//
// The pgx pool is owned by the caller; this lookup must NOT close it.
type PostgresLookup struct {
	pool *pgxpool.Pool
}

// NewPostgresLookup constructs a PostgresLookup.
func NewPostgresLookup(pool *pgxpool.Pool) (*PostgresLookup, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return &PostgresLookup{pool: pool}, nil
}

// FindByID resolves a user by id.
func (s *PostgresLookup) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%s: %w: empty id", op, ErrInvalidInput)
	}

	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, role, status
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}
