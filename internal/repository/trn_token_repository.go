package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

// TrnTokenRepository stores single-use TRN tokens by digest.
type TrnTokenRepository struct {
	db *sqlx.DB
}

// NewTrnTokenRepository constructs a TrnTokenRepository.
func NewTrnTokenRepository(db *sqlx.DB) *TrnTokenRepository {
	return &TrnTokenRepository{db: db}
}

// Create stores a new token.
func (r *TrnTokenRepository) Create(ctx context.Context, q DBTX, token *models.TrnToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO trn_tokens (id, digest, trn, email_address, expires_at, created_at)
		VALUES (:id, :digest, :trn, :email_address, :expires_at, :created_at)`
	if _, err := q.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create trn token: %w", err)
	}
	return nil
}

const trnTokenColumns = `id, digest, trn, email_address, expires_at, consumed_at, consumed_by_key, created_at`

// GetByDigest loads a token without locking it.
func (r *TrnTokenRepository) GetByDigest(ctx context.Context, q DBTX, digest string) (*models.TrnToken, error) {
	query := fmt.Sprintf("SELECT %s FROM trn_tokens WHERE digest = $1", trnTokenColumns)
	var token models.TrnToken
	if err := q.GetContext(ctx, &token, query, digest); err != nil {
		return nil, err
	}
	return &token, nil
}

// GetByDigestForUpdate loads and row-locks the token with the given digest.
func (r *TrnTokenRepository) GetByDigestForUpdate(ctx context.Context, q DBTX, digest string) (*models.TrnToken, error) {
	query := fmt.Sprintf("SELECT %s FROM trn_tokens WHERE digest = $1 FOR UPDATE", trnTokenColumns)
	var token models.TrnToken
	if err := q.GetContext(ctx, &token, query, digest); err != nil {
		return nil, err
	}
	return &token, nil
}

// Consume marks an unconsumed token as used by an external key.
func (r *TrnTokenRepository) Consume(ctx context.Context, q DBTX, id, externalKey string, at time.Time) error {
	const query = `UPDATE trn_tokens SET consumed_at = $3, consumed_by_key = $2 WHERE id = $1 AND consumed_at IS NULL`
	result, err := q.ExecContext(ctx, query, id, externalKey, at)
	if err != nil {
		return fmt.Errorf("consume trn token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume trn token rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
