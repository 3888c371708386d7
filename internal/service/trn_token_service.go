package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

const tokenBytes = 20

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type trnTokenStore interface {
	Create(ctx context.Context, q repository.DBTX, token *models.TrnToken) error
	GetByDigest(ctx context.Context, q repository.DBTX, digest string) (*models.TrnToken, error)
	GetByDigestForUpdate(ctx context.Context, q repository.DBTX, digest string) (*models.TrnToken, error)
	Consume(ctx context.Context, q repository.DBTX, id, externalKey string, at time.Time) error
}

// TrnTokenService issues and redeems single-use TRN tokens. Only a keyed
// BLAKE2b digest of each token is stored.
type TrnTokenService struct {
	tokens trnTokenStore
	reader repository.DBTX
	key    []byte
	ttl    time.Duration
	audit  auditLogger
	logger *zap.Logger
	now    func() time.Time
}

// NewTrnTokenService constructs the service. Keys longer than 64 bytes are
// hashed down to fit BLAKE2b's key size.
func NewTrnTokenService(tokens trnTokenStore, reader repository.DBTX, key string, ttl time.Duration, audit auditLogger, logger *zap.Logger) *TrnTokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	keyBytes := []byte(key)
	if len(keyBytes) > blake2b.Size {
		sum := blake2b.Sum256(keyBytes)
		keyBytes = sum[:]
	}
	return &TrnTokenService{tokens: tokens, reader: reader, key: keyBytes, ttl: ttl, audit: audit, logger: logger, now: time.Now}
}

// Digest returns the stored form of a token.
func (s *TrnTokenService) Digest(token string) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// key length is bounded in the constructor
		panic(err)
	}
	h.Write([]byte(strings.ToUpper(strings.TrimSpace(token))))
	return hex.EncodeToString(h.Sum(nil))
}

// Issue creates a token for trn and returns the plaintext once.
func (s *TrnTokenService) Issue(ctx context.Context, trn, email, actorID string) (string, *models.TrnToken, error) {
	canonical := CanonicalIdentifier(trn)
	if canonical == "" || len(canonical) != models.TrnWidth {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "trn must be a 7 digit registry number")
	}
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, internalError(err, "failed to generate token")
	}
	plain := tokenEncoding.EncodeToString(raw)
	token := &models.TrnToken{
		Digest:    s.Digest(plain),
		Trn:       canonical,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	if e := CanonicalEmail(email); e != "" {
		token.EmailAddress = &e
	}
	if err := s.tokens.Create(ctx, s.reader, token); err != nil {
		return "", nil, internalError(err, "failed to store token")
	}
	writeAudit(ctx, s.audit, s.logger, "trn-token-service", &models.AuditLog{
		UserID:     actorPtr(actorID),
		Action:     models.AuditActionTokenIssue,
		Resource:   "trn_token",
		ResourceID: &token.ID,
		NewValues:  auditValues(map[string]interface{}{"trn": token.Trn, "expiresAt": token.ExpiresAt}),
	})
	return plain, token, nil
}

// Peek returns the TRN a token would redeem to, or "" when the token is
// unknown, expired or already consumed. Nothing is locked.
func (s *TrnTokenService) Peek(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", nil
	}
	record, err := s.tokens.GetByDigest(ctx, s.reader, s.Digest(token))
	if err != nil {
		if repository.IsNotFound(err) {
			return "", nil
		}
		return "", internalError(err, "failed to look up token")
	}
	if !record.Redeemable(s.now()) {
		return "", nil
	}
	return CanonicalIdentifier(record.Trn), nil
}

// Redeem locks the token and consumes it on behalf of externalKey. It
// reports false when the token can no longer be redeemed.
func (s *TrnTokenService) Redeem(ctx context.Context, q repository.DBTX, token, externalKey string) (bool, error) {
	record, err := s.tokens.GetByDigestForUpdate(ctx, q, s.Digest(token))
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, internalError(err, "failed to lock token")
	}
	now := s.now()
	if !record.Redeemable(now) {
		return false, nil
	}
	if err := s.tokens.Consume(ctx, q, record.ID, externalKey, now.UTC()); err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, internalError(err, "failed to consume token")
	}
	return true, nil
}
