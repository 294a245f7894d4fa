package eventconsumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/eventledger/internal/adapter/codec"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
	"github.com/iho/eventledger/internal/usecase"
	"github.com/iho/eventledger/internal/usecase/mocks"
)

const (
	testAccountID  domain.AccountID = "01HZX5Y7D8Q4J0ABCDEFGHJKMN"
	otherAccountID domain.AccountID = "01HZX5Y7D8Q4J0ABCDEFGHJKMP"
)

var testNow = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func usd(s string) domain.Money {
	return domain.NewMoney(decimal.RequireFromString(s), domain.USD)
}

func metaFor(accountID domain.AccountID, version int64) domain.EventMeta {
	id := accountID.String()
	return domain.EventMeta{
		EventID:    domain.EventID(id[:24] + id[25:] + string(rune('0'+version))),
		AccountID:  accountID,
		OccurredAt: testNow,
		Version:    version,
	}
}

func message(t *testing.T, offset int64, e domain.AccountEvent) kafka.Message {
	t.Helper()
	row, err := codec.NewOutboxEvent(e, testNow)
	require.NoError(t, err)
	value, err := codec.EncodeMessage(row)
	require.NoError(t, err)
	return kafka.Message{
		Topic:  "account-events",
		Offset: offset,
		Key:    []byte(e.Meta().AccountID),
		Value:  value,
	}
}

func garbage(offset int64) kafka.Message {
	return kafka.Message{Topic: "account-events", Partition: 2, Offset: offset, Value: []byte("not json")}
}

func opened() domain.AccountEvent {
	return openedFor(testAccountID)
}

func openedFor(accountID domain.AccountID) domain.AccountEvent {
	return domain.AccountOpened{EventMeta: metaFor(accountID, 1), Currency: domain.USD, InitialBalance: usd("10.00")}
}

func credited(version int64, amount string) domain.AccountEvent {
	return domain.FundsCredited{EventMeta: metaFor(testAccountID, version), TransactionID: "5b8f3c1e-0a7d-4b55-9f60-1f2a3b4c5d6e", Amount: usd(amount)}
}

// fakeReader serves queued messages and then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
	once      sync.Once
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	r.once.Do(func() { close(r.drained) })
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

// fakeWriter records dead-lettered messages, or fails every write when err is set.
type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	attempts int
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

func (w *fakeWriter) writeAttempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type harness struct {
	consumer *Consumer
	reader   *fakeReader
	dlq      *fakeWriter
	balances *mocks.MemoryBalanceStore
	metrics  *metrics.Metrics
}

func newHarness(msgs ...kafka.Message) *harness {
	m := metrics.New(prometheus.NewRegistry())
	balances := mocks.NewMemoryBalanceStore()
	projection := usecase.NewProjectionUseCase(mocks.NewMemoryTxManager(), balances, zerolog.Nop(), m)
	reader := newFakeReader(msgs...)
	dlq := &fakeWriter{}
	c := newConsumer(reader, dlq, projection, zerolog.Nop(), m)
	c.gapRetries = 3
	c.initialInterval = time.Millisecond
	c.maxInterval = 5 * time.Millisecond
	return &harness{consumer: c, reader: reader, dlq: dlq, balances: balances, metrics: m}
}

// run starts the consumer and stops it once the queue is drained.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.consumer.Start(ctx) }()

	select {
	case <-h.reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConsumerProjectsAndCommits(t *testing.T) {
	h := newHarness(message(t, 0, opened()), message(t, 1, credited(2, "5.00")))

	h.run(t)

	view, err := h.balances.GetBalance(context.Background(), testAccountID)
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(usd("15.00")))
	assert.Equal(t, int64(2), view.Version)
	assert.Equal(t, []int64{0, 1}, h.reader.commits())
	assert.Empty(t, h.dlq.written())
}

func TestConsumerAcknowledgesDuplicates(t *testing.T) {
	h := newHarness(
		message(t, 0, opened()),
		message(t, 1, credited(2, "5.00")),
		message(t, 2, credited(2, "5.00")),
	)

	h.run(t)

	view, err := h.balances.GetBalance(context.Background(), testAccountID)
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(usd("15.00")), "duplicate applied twice: %s", view.Balance)
	assert.Equal(t, []int64{0, 1, 2}, h.reader.commits())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ProjectionRejected.WithLabelValues("duplicate")))
	assert.Empty(t, h.dlq.written())
}

func TestConsumerDeadLettersUndecodableMessages(t *testing.T) {
	bad := garbage(0)
	bad.Headers = []kafka.Header{{Key: "event-type", Value: []byte("funds.credited")}}
	h := newHarness(bad, message(t, 1, opened()))

	h.run(t)

	assert.Equal(t, []int64{0, 1}, h.reader.commits())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ProjectionRejected.WithLabelValues("undecodable")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ProjectionDeadLettered.WithLabelValues("undecodable")))

	written := h.dlq.written()
	require.Len(t, written, 1)
	dead := written[0]
	assert.Equal(t, []byte("not json"), dead.Value)
	assert.Equal(t, "funds.credited", header(dead, "event-type"))
	assert.Equal(t, "undecodable", header(dead, headerReason))
	assert.NotEmpty(t, header(dead, headerError))
	assert.Equal(t, "account-events", header(dead, headerSourceTopic))
	assert.Equal(t, "2", header(dead, headerSourcePartition))
	assert.Equal(t, "0", header(dead, headerSourceOffset))
}

func TestConsumerDeadLettersAGapAfterRetries(t *testing.T) {
	h := newHarness(message(t, 0, opened()), message(t, 1, credited(3, "5.00")))

	h.run(t)

	assert.Equal(t, []int64{0, 1}, h.reader.commits())
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.ProjectionRejected.WithLabelValues("gap")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ProjectionDeadLettered.WithLabelValues("gap")))

	written := h.dlq.written()
	require.Len(t, written, 1)
	assert.Equal(t, "gap", header(written[0], headerReason))
	assert.Equal(t, "1", header(written[0], headerSourceOffset))
	assert.Equal(t, []byte(testAccountID), written[0].Key)

	view, err := h.balances.GetBalance(context.Background(), testAccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.Version)
}

func TestConsumerKeepsThePartitionMovingPastBadMessages(t *testing.T) {
	h := newHarness(
		message(t, 0, opened()),
		garbage(1),
		message(t, 2, credited(3, "5.00")),
		message(t, 3, openedFor(otherAccountID)),
	)

	h.run(t)

	assert.Equal(t, []int64{0, 1, 2, 3}, h.reader.commits())

	written := h.dlq.written()
	require.Len(t, written, 2)
	assert.Equal(t, "undecodable", header(written[0], headerReason))
	assert.Equal(t, "gap", header(written[1], headerReason))

	view, err := h.balances.GetBalance(context.Background(), otherAccountID)
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(usd("10.00")))
}

func TestConsumerDoesNotCommitWithoutDeadLetterWrite(t *testing.T) {
	h := newHarness(garbage(0))
	h.dlq.err = errors.New("broker unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.consumer.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for h.dlq.writeAttempts() < 3 {
		select {
		case <-deadline:
			t.Fatal("expected the dead-letter write to be retried")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, h.reader.commits())
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.ProjectionDeadLettered.WithLabelValues("undecodable")))
}

type failingProjector struct {
	mu    sync.Mutex
	calls int
	fails int
}

func (p *failingProjector) Apply(ctx context.Context, accountID domain.AccountID, events []domain.AccountEvent) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fails {
		return false, errors.New("connection refused")
	}
	return true, nil
}

func TestConsumerRetriesTransientFailures(t *testing.T) {
	projector := &failingProjector{fails: 5}
	reader := newFakeReader(message(t, 0, opened()))
	dlq := &fakeWriter{}
	c := newConsumer(reader, dlq, projector, zerolog.Nop(), nil)
	c.gapRetries = 2
	c.initialInterval = time.Millisecond
	c.maxInterval = time.Millisecond

	require.NoError(t, c.handle(context.Background(), reader.queue[0]))
	assert.Equal(t, 6, projector.calls)
	assert.Empty(t, dlq.written(), "only version gaps are dead-lettered")
}

func TestConsumerCloseClosesReaderAndWriter(t *testing.T) {
	dlq := &fakeWriter{}
	c := newConsumer(newFakeReader(), dlq, &failingProjector{}, zerolog.Nop(), nil)

	require.NoError(t, c.Close())
	assert.True(t, dlq.closed)
}
