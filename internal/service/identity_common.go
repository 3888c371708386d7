package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

type txRunner interface {
	WithinTx(ctx context.Context, fn func(tx repository.DBTX) error) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type eventAppender interface {
	Append(ctx context.Context, q repository.DBTX, event *models.PersonEvent) error
}

// eventNotifier is told when committed events are waiting to be published.
type eventNotifier interface {
	Notify()
}

type projectionRefresher interface {
	Refresh(ctx context.Context, q repository.DBTX, personID string) error
}

// appendEvent serializes payload and appends it to the person event log.
func appendEvent(ctx context.Context, q repository.DBTX, events eventAppender, personID string, name string, payload interface{}) error {
	if events == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}
	event := &models.PersonEvent{EventName: name, Payload: types.JSONText(body)}
	if personID != "" {
		event.PersonID = &personID
	}
	if err := events.Append(ctx, q, event); err != nil {
		return err
	}
	return nil
}

func notify(n eventNotifier) {
	if n != nil {
		n.Notify()
	}
}

func writeAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, source string, log *models.AuditLog) {
	if audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = source
	if err := audit.CreateAuditLog(ctx, log); err != nil {
		logger.Warn("failed to persist audit log", zap.String("action", log.Action), zap.Error(err))
	}
}

func auditValues(v interface{}) []byte {
	if v == nil {
		return nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return body
}

func actorPtr(actorID string) *string {
	if actorID == "" {
		return nil
	}
	return &actorID
}

// internalError wraps an unexpected failure unless it already carries a domain code.
func internalError(err error, message string) error {
	if err == nil {
		return nil
	}
	var domain *appErrors.Error
	if errors.As(err, &domain) {
		return domain
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
