package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/iho/eventledger/internal/domain"
)

type stubClock struct{ at time.Time }

func (c stubClock) Now() time.Time { return c.at }

func TestOutboxPublishWritesRowPerEvent(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)
	createdAt := testOccurredAt.Add(time.Second)
	repo := newOutboxRepository(mock, stubClock{at: createdAt})

	for _, e := range []domain.AccountEvent{openedEvent(), creditedEvent(2, "3.00")} {
		mock.ExpectExec(sqlPattern(insertOutboxSQL)).
			WithArgs(e.Meta().EventID.String(), testAccountID.String(), domain.AggregateTypeAccount,
				string(e.Type()), e.Meta().Version, pgxmock.AnyArg(), testOccurredAt, timeToPgTimestamptz(createdAt)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	err := repo.Publish(context.Background(), tx, []domain.AccountEvent{openedEvent(), creditedEvent(2, "3.00")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertExpectations(t, mock)
}

func TestOutboxGetUnpublished(t *testing.T) {
	mock := newMockPool(t)
	repo := newOutboxRepository(mock, stubClock{})

	rows := pgxmock.NewRows([]string{
		"position", "event_id", "aggregate_id", "aggregate_type", "event_type", "version",
		"payload", "occurred_at", "created_at", "published_at", "published",
	}).
		AddRow(int64(7), "e1", testAccountID.String(), "account", "account.opened", int64(1),
			[]byte(`{"currency":"USD","initialBalance":"10.00"}`), testOccurredAt,
			timeToPgTimestamptz(testOccurredAt), pgtype.Timestamptz{}, false).
		AddRow(int64(8), "e2", testAccountID.String(), "account", "funds.credited", int64(2),
			[]byte(`{"currency":"USD","amount":"1.00"}`), testOccurredAt,
			timeToPgTimestamptz(testOccurredAt), pgtype.Timestamptz{}, false)

	mock.ExpectQuery(sqlPattern(selectUnpublishedSQL)).WithArgs(10).WillReturnRows(rows)

	events, err := repo.GetUnpublished(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Position != 7 || events[1].EventType != domain.EventTypeFundsCredited || events[1].Version != 2 {
		t.Fatalf("unexpected rows: %#v %#v", events[0], events[1])
	}
	if events[0].PublishedAt != nil || events[0].Published {
		t.Fatalf("expected unpublished row, got %#v", events[0])
	}

	assertExpectations(t, mock)
}

func TestOutboxMarkAndDeletePublished(t *testing.T) {
	mock := newMockPool(t)
	repo := newOutboxRepository(mock, stubClock{})
	at := testOccurredAt.Add(time.Minute)

	mock.ExpectExec(sqlPattern(markPublishedSQL)).
		WithArgs("e1", timeToPgTimestamptz(at)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(sqlPattern(deletePublishedSQL)).
		WithArgs(timeToPgTimestamptz(at)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	if err := repo.MarkPublished(context.Background(), "e1", at); err != nil {
		t.Fatalf("mark: %v", err)
	}
	deleted, err := repo.DeletePublished(context.Background(), at)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted rows, got %d", deleted)
	}

	assertExpectations(t, mock)
}
