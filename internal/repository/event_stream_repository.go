package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

// EventStreamRepository appends person events to a Redis stream.
type EventStreamRepository struct {
	client redis.Cmdable
	stream string
}

// NewEventStreamRepository constructs the stream writer.
func NewEventStreamRepository(client redis.Cmdable, stream string) *EventStreamRepository {
	return &EventStreamRepository{client: client, stream: stream}
}

// Publish XADDs one event and returns the stream entry id.
func (r *EventStreamRepository) Publish(ctx context.Context, event models.PersonEvent) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("event stream not configured")
	}
	personID := ""
	if event.PersonID != nil {
		personID = *event.PersonID
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"event_id":   event.ID,
			"event_name": event.EventName,
			"person_id":  personID,
			"payload":    string(event.Payload),
			"created_at": event.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return id, nil
}
