package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrTokenInvalid covers unknown, expired and already-revoked refresh
// tokens; callers treat all three the same way.
var ErrTokenInvalid = errors.New("refresh token invalid")

// TokenRepo persists and validates refresh tokens. Only the SHA-256 hash
// of a token ever reaches the database.
type TokenRepo struct{ db *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{db: db} }

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?,?,?)",
		userID, tokenHash, exp)
	return err
}

// Consume revokes the token and returns its owner in one step, so a
// token presented twice concurrently rotates at most once. The revoke
// runs first; a token that was not live leaves zero rows affected.
func (r *TokenRepo) Consume(ctx context.Context, tokenHash string) (uint64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW() WHERE token_hash=? AND revoked_at IS NULL AND expires_at > NOW()",
		tokenHash)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrTokenInvalid
	}

	var userID uint64
	if err := tx.QueryRowContext(ctx,
		"SELECT user_id FROM refresh_tokens WHERE token_hash=?",
		tokenHash).Scan(&userID); err != nil {
		return 0, err
	}
	return userID, tx.Commit()
}

// RevokeAllForUser revokes all of a user's active tokens.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW() WHERE user_id=? AND revoked_at IS NULL",
		userID)
	return err
}

// PurgeExpired deletes rows whose expiry passed more than the retention
// window ago. Revoked rows inside the window stay for auditability.
func (r *TokenRepo) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ?",
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
