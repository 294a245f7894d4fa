package domain

import "time"

// OutboxEvent is an account event queued for publication.
type OutboxEvent struct {
	Position      int64
	EventID       EventID
	AggregateID   AccountID
	AggregateType string
	EventType     EventType
	Version       int64
	Payload       []byte
	OccurredAt    time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}
