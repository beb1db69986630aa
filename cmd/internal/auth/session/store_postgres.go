package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore implements Store over PostgreSQL.
//
// Expected schema (managed outside this repo):
//
//	CREATE TABLE sessions (
//	    id                   TEXT PRIMARY KEY,
//	    owner_id             TEXT NOT NULL,
//	    credential_hash      TEXT NOT NULL,
//	    prev_credential_hash TEXT,
//	    issued_at            TIMESTAMPTZ NOT NULL,
//	    last_used_at         TIMESTAMPTZ,
//	    expires_at           TIMESTAMPTZ NOT NULL,
//	    revoked_at           TIMESTAMPTZ,
//	    revocation_reason    TEXT,
//	    revoked_from_addr    TEXT,
//	    created_from_addr    TEXT NOT NULL
//	);
//	CREATE UNIQUE INDEX sessions_active_credential_hash
//	    ON sessions (credential_hash) WHERE revoked_at IS NULL;
//	CREATE INDEX sessions_owner_id ON sessions (owner_id);
//	CREATE INDEX sessions_prev_credential_hash ON sessions (prev_credential_hash);
//
// The pool is owned by the caller; this store never closes it. All
// conditional updates are single statements, so the rotation
// compare-and-swap needs no explicit transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `
	id, owner_id, credential_hash, prev_credential_hash,
	issued_at, last_used_at, expires_at,
	revoked_at, revocation_reason, revoked_from_addr, created_from_addr
`

// FindByHash loads a record by its current or previous credential hash.
func (s *PostgresStore) FindByHash(ctx context.Context, credentialHash string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM sessions
		WHERE credential_hash = $1 OR prev_credential_hash = $1
		LIMIT 1
	`, credentialHash)
	return scanRecord(row)
}

// FindAllByOwner returns all records for ownerID, oldest first.
func (s *PostgresStore) FindAllByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM sessions
		WHERE owner_id = $1
		ORDER BY id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Insert persists a new record under a fresh ULID.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) (Record, error) {
	rec.SessionID = ulid.Make().String()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, owner_id, credential_hash, prev_credential_hash,
			issued_at, last_used_at, expires_at,
			revoked_at, revocation_reason, revoked_from_addr, created_from_addr
		) VALUES (
			$1, $2, $3, NULL,
			$4, NULL, $5,
			NULL, NULL, NULL, $6
		)
	`, rec.SessionID, rec.OwnerID, rec.CredentialHash, rec.IssuedAt, rec.ExpiresAt, rec.CreatedFromAddr)
	if isUniqueViolation(err) {
		return Record{}, ErrDuplicateHash
	}
	if err != nil {
		return Record{}, err
	}

	return rec, nil
}

// Update fully replaces the record identified by rec.SessionID.
func (s *PostgresStore) Update(ctx context.Context, rec Record) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET owner_id = $2,
		    credential_hash = $3,
		    prev_credential_hash = $4,
		    issued_at = $5,
		    last_used_at = $6,
		    expires_at = $7,
		    revoked_at = $8,
		    revocation_reason = $9,
		    revoked_from_addr = $10,
		    created_from_addr = $11
		WHERE id = $1
	`, rec.SessionID, rec.OwnerID, rec.CredentialHash, rec.PrevCredentialHash,
		rec.IssuedAt, rec.LastUsedAt, rec.ExpiresAt,
		rec.RevokedAt, rec.RevocationReason, rec.RevokedFromAddr, rec.CreatedFromAddr)
	if isUniqueViolation(err) {
		return ErrDuplicateHash
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Rotate swaps the credential in place, keyed by the old hash so a
// concurrent rotation from the same snapshot cannot also succeed.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET prev_credential_hash = credential_hash,
		    credential_hash = $4,
		    expires_at = $5,
		    last_used_at = $2,
		    revoked_at = NULL,
		    revocation_reason = NULL,
		    revoked_from_addr = NULL
		WHERE id = $1 AND credential_hash = $3 AND revoked_at IS NULL
	`, sessionID, now, oldHash, newHash, expiresAt)
	if isUniqueViolation(err) {
		return false, ErrDuplicateHash
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeByHash revokes the non-revoked record currently keyed by credentialHash.
func (s *PostgresStore) RevokeByHash(ctx context.Context, now time.Time, credentialHash, reason, fromAddr string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = $2,
		    revocation_reason = $3,
		    revoked_from_addr = $4
		WHERE credential_hash = $1 AND revoked_at IS NULL
	`, credentialHash, now, reason, fromAddr)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeAllForOwner revokes every still-active record of ownerID.
func (s *PostgresStore) RevokeAllForOwner(ctx context.Context, now time.Time, ownerID, reason, fromAddr string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = $2,
		    revocation_reason = $3,
		    revoked_from_addr = $4
		WHERE owner_id = $1 AND revoked_at IS NULL
	`, ownerID, now, reason, fromAddr)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredBefore removes records whose expiry passed before cutoff.
func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.SessionID,
		&rec.OwnerID,
		&rec.CredentialHash,
		&rec.PrevCredentialHash,
		&rec.IssuedAt,
		&rec.LastUsedAt,
		&rec.ExpiresAt,
		&rec.RevokedAt,
		&rec.RevocationReason,
		&rec.RevokedFromAddr,
		&rec.CreatedFromAddr,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}
