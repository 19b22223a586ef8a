package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gymledger/internal/model"
	"gymledger/internal/repository"
	"gymledger/pkg/idgen"

	"gorm.io/gorm"
)

// eventWriter appends domain events to the outbox inside the caller's transaction, so an
// event exists if and only if the change it describes committed.
type eventWriter struct {
	outboxRepo *repository.OutboxRepository
	ids        *idgen.Generator
}

func newEventWriter(db *gorm.DB, ids *idgen.Generator) *eventWriter {
	return &eventWriter{
		outboxRepo: repository.NewOutboxRepository(db),
		ids:        ids,
	}
}

// write keys the message by owner so a consumer sees one owner's events in order.
func (w *eventWriter) write(ctx context.Context, tx *gorm.DB, topic, eventType string, ownerID int64, at time.Time, data map[string]interface{}) error {
	payload := map[string]interface{}{
		"event_id":    w.ids.EventKey(),
		"event_type":  eventType,
		"owner_id":    ownerID,
		"occurred_at": at.Format(time.RFC3339Nano),
		"data":        data,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	msg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(ownerID, 10),
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := w.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", eventType, err)
	}
	return nil
}
