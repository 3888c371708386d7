package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

// maxTrnValue is the largest number that still formats to TrnWidth digits.
const maxTrnValue int64 = 9999999

type identifierRangeStore interface {
	LockCurrent(ctx context.Context, q repository.DBTX) (*models.IdentifierRange, error)
	Advance(ctx context.Context, q repository.DBTX, rng *models.IdentifierRange) error
	List(ctx context.Context, q repository.DBTX) ([]models.IdentifierRange, error)
	CountConflicts(ctx context.Context, q repository.DBTX, from, to int64) (int, int, error)
	Create(ctx context.Context, q repository.DBTX, rng *models.IdentifierRange) error
}

// IdentifierService hands out TRNs from the current identifier range.
// Only this service reads or writes next_id.
type IdentifierService struct {
	ranges       identifierRangeStore
	tx           txRunner
	reader       repository.DBTX
	audit        auditLogger
	metrics      *MetricsService
	lowWatermark int64
	logger       *zap.Logger
}

// IdentifierServiceOption configures the allocator.
type IdentifierServiceOption func(*IdentifierService)

// WithLowWatermark sets the remaining-count threshold that triggers a warning.
func WithLowWatermark(remaining int64) IdentifierServiceOption {
	return func(s *IdentifierService) {
		if remaining >= 0 {
			s.lowWatermark = remaining
		}
	}
}

// WithIdentifierMetrics attaches metrics.
func WithIdentifierMetrics(metrics *MetricsService) IdentifierServiceOption {
	return func(s *IdentifierService) {
		s.metrics = metrics
	}
}

// WithIdentifierAudit attaches an audit sink.
func WithIdentifierAudit(audit auditLogger) IdentifierServiceOption {
	return func(s *IdentifierService) {
		s.audit = audit
	}
}

// NewIdentifierService constructs the allocator.
func NewIdentifierService(ranges identifierRangeStore, tx txRunner, reader repository.DBTX, logger *zap.Logger, opts ...IdentifierServiceOption) *IdentifierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &IdentifierService{ranges: ranges, tx: tx, reader: reader, logger: logger, lowWatermark: 1000}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// AllocateNext takes the next TRN inside the caller's transaction. The range
// row stays locked until that transaction ends, so concurrent allocations are
// serialized and never return the same number. Exhaustion is a hard stop: no
// other range is activated here.
func (s *IdentifierService) AllocateNext(ctx context.Context, q repository.DBTX) (string, error) {
	rng, err := s.ranges.LockCurrent(ctx, q)
	if err != nil {
		if repository.IsNotFound(err) {
			s.logger.Error("no identifier range available")
			s.metrics.SetTrnRangeRemaining(0)
			return "", appErrors.ErrNoRangeAvailable
		}
		return "", internalError(err, "failed to lock identifier range")
	}

	value := rng.NextID
	if value > rng.ToID {
		return "", appErrors.Clone(appErrors.ErrNoRangeAvailable, fmt.Sprintf("identifier range %s is past its end", rng.ID))
	}
	if value == rng.ToID {
		rng.IsExhausted = true
	} else {
		rng.NextID = value + 1
	}
	if err := s.ranges.Advance(ctx, q, rng); err != nil {
		return "", internalError(err, "failed to advance identifier range")
	}

	remaining := rng.Remaining()
	s.metrics.RecordTrnAllocation(remaining)
	switch {
	case rng.IsExhausted:
		s.logger.Error("identifier range exhausted", zap.String("range_id", rng.ID), zap.Int64("to_id", rng.ToID))
	case remaining <= s.lowWatermark:
		s.logger.Warn("identifier range running low", zap.String("range_id", rng.ID), zap.Int64("remaining", remaining))
	}
	return models.FormatTrn(value), nil
}

// AddRange registers a new range. It is refused while another range is still
// current or when it overlaps any existing range.
func (s *IdentifierService) AddRange(ctx context.Context, from, to int64, actorID string) (*models.IdentifierRange, error) {
	if from <= 0 || to < from || to > maxTrnValue {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("range must satisfy 0 < from <= to <= %d", maxTrnValue))
	}
	rng := &models.IdentifierRange{FromID: from, ToID: to, NextID: from}
	err := s.tx.WithinTx(ctx, func(q repository.DBTX) error {
		overlapping, current, err := s.ranges.CountConflicts(ctx, q, from, to)
		if err != nil {
			return err
		}
		if overlapping > 0 {
			return appErrors.ErrRangeOverlap
		}
		if current > 0 {
			return appErrors.Clone(appErrors.ErrConflict, "an identifier range is still current")
		}
		return s.ranges.Create(ctx, q, rng)
	})
	if err != nil {
		return nil, internalError(err, "failed to add identifier range")
	}
	s.metrics.SetTrnRangeRemaining(rng.Remaining())
	s.logger.Info("identifier range added", zap.String("range_id", rng.ID), zap.Int64("from_id", from), zap.Int64("to_id", to))
	writeAudit(ctx, s.audit, s.logger, "identifier-service", &models.AuditLog{
		UserID:     actorPtr(actorID),
		Action:     models.AuditActionRangeCreate,
		Resource:   "identifier_range",
		ResourceID: &rng.ID,
		NewValues:  auditValues(rng),
	})
	return rng, nil
}

// RangeSummary reports the allocation state of all ranges.
type RangeSummary struct {
	Ranges    []models.IdentifierRange `json:"ranges"`
	Remaining int64                    `json:"remaining"`
	Current   *models.IdentifierRange  `json:"current,omitempty"`
	CheckedAt time.Time                `json:"checkedAt"`
}

// ListRanges returns all ranges with the number still available.
func (s *IdentifierService) ListRanges(ctx context.Context) (*RangeSummary, error) {
	ranges, err := s.ranges.List(ctx, s.reader)
	if err != nil {
		return nil, internalError(err, "failed to list identifier ranges")
	}
	summary := &RangeSummary{Ranges: ranges, CheckedAt: time.Now().UTC()}
	for i := range ranges {
		summary.Remaining += ranges[i].Remaining()
		if !ranges[i].IsExhausted && summary.Current == nil {
			summary.Current = &ranges[i]
		}
	}
	s.metrics.SetTrnRangeRemaining(summary.Remaining)
	return summary, nil
}
