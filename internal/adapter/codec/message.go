package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iho/eventledger/internal/domain"
)

// Message is the envelope published for each outbox row.
type Message struct {
	EventID       string          `json:"eventId"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	EventType     string          `json:"eventType"`
	Version       int64           `json:"version"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

// EncodeMessage wraps an outbox row for the broker.
func EncodeMessage(event *domain.OutboxEvent) ([]byte, error) {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return json.Marshal(Message{
		EventID:       event.EventID.String(),
		AggregateID:   event.AggregateID.String(),
		AggregateType: event.AggregateType,
		EventType:     string(event.EventType),
		Version:       event.Version,
		OccurredAt:    event.OccurredAt.UTC(),
		Payload:       payload,
	})
}

// DecodeMessage unwraps a broker message into an account event. Malformed
// ids are reported as domain.ErrEventCorrupted.
func DecodeMessage(data []byte) (domain.AccountEvent, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEventCorrupted, err)
	}
	if msg.AggregateType != domain.AggregateTypeAccount {
		return nil, fmt.Errorf("%w: aggregate type %q", domain.ErrUnknownEventType, msg.AggregateType)
	}

	eventID, err := domain.ParseEventID(msg.EventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEventCorrupted, err)
	}
	accountID, err := domain.ParseAccountID(msg.AggregateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEventCorrupted, err)
	}

	meta := domain.EventMeta{
		EventID:    eventID,
		AccountID:  accountID,
		OccurredAt: msg.OccurredAt,
		Version:    msg.Version,
	}
	return DecodeEvent(meta, domain.EventType(msg.EventType), msg.Payload)
}

// NewOutboxEvent builds the outbox row for an appended event.
func NewOutboxEvent(e domain.AccountEvent, createdAt time.Time) (*domain.OutboxEvent, error) {
	payload, err := EncodeEvent(e)
	if err != nil {
		return nil, err
	}
	meta := e.Meta()
	return &domain.OutboxEvent{
		EventID:       meta.EventID,
		AggregateID:   meta.AccountID,
		AggregateType: domain.AggregateTypeAccount,
		EventType:     e.Type(),
		Version:       meta.Version,
		Payload:       payload,
		OccurredAt:    meta.OccurredAt,
		CreatedAt:     createdAt,
	}, nil
}
