package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

const (
	testTxID          domain.TransactionID = "5b8f3c1e-0a7d-4b55-9f60-1f2a3b4c5d6e"
	testReservationID domain.ReservationID = "01HZX5Y7D8Q4J0ABCDEFGHJKR1"
)

func TestProcessedTransactionRegister(t *testing.T) {
	tests := []struct {
		name       string
		rows       *pgxmock.Rows
		fallback   *pgxmock.Rows
		wantStatus usecase.TransactionStatus
		wantErr    error
	}{
		{
			name:       "first registration",
			rows:       pgxmock.NewRows([]string{"fingerprint", "inserted"}).AddRow("fp-1", true),
			wantStatus: usecase.TransactionCommitted,
		},
		{
			name:       "retry with same fingerprint",
			rows:       pgxmock.NewRows([]string{"fingerprint", "inserted"}).AddRow("fp-1", false),
			wantStatus: usecase.TransactionNoEffect,
		},
		{
			name:    "reuse with different fingerprint",
			rows:    pgxmock.NewRows([]string{"fingerprint", "inserted"}).AddRow("fp-other", false),
			wantErr: domain.ErrTransactionIDConflict,
		},
		{
			name:       "concurrent commit seen by fallback",
			rows:       pgxmock.NewRows([]string{"fingerprint", "inserted"}),
			fallback:   pgxmock.NewRows([]string{"fingerprint"}).AddRow("fp-1"),
			wantStatus: usecase.TransactionNoEffect,
		},
		{
			name:     "concurrent commit with other fingerprint",
			rows:     pgxmock.NewRows([]string{"fingerprint", "inserted"}),
			fallback: pgxmock.NewRows([]string{"fingerprint"}).AddRow("fp-other"),
			wantErr:  domain.ErrTransactionIDConflict,
		},
		{
			name:     "row vanished",
			rows:     pgxmock.NewRows([]string{"fingerprint", "inserted"}),
			fallback: pgxmock.NewRows([]string{"fingerprint"}),
			wantErr:  domain.ErrInconsistentState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			tx := beginTx(t, mock)

			mock.ExpectQuery(sqlPattern(registerTransactionSQL)).
				WithArgs(testAccountID.String(), testTxID.String(), "fp-1", testOccurredAt).
				WillReturnRows(tt.rows)
			if tt.fallback != nil {
				mock.ExpectQuery(sqlPattern(selectFingerprintSQL)).
					WithArgs(testAccountID.String(), testTxID.String()).
					WillReturnRows(tt.fallback)
			}

			status, err := NewProcessedTransactionRepository().Register(context.Background(), tx, testAccountID, testTxID, "fp-1", testOccurredAt)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status != tt.wantStatus {
				t.Fatalf("expected %s, got %s", tt.wantStatus, status)
			}
			assertExpectations(t, mock)
		})
	}
}

func TestProcessedReservationLookupPhase(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)
	repo := NewProcessedReservationRepository()

	mock.ExpectQuery(sqlPattern(selectReservationPhaseSQL)).
		WithArgs(testAccountID.String(), testReservationID.String()).
		WillReturnRows(pgxmock.NewRows([]string{"phase"}).AddRow("CAPTURED"))
	mock.ExpectQuery(sqlPattern(selectReservationPhaseSQL)).
		WithArgs(testAccountID.String(), "01HZX5Y7D8Q4J0ABCDEFGHJKR9").
		WillReturnRows(pgxmock.NewRows([]string{"phase"}))

	phase, found, err := repo.LookupPhase(context.Background(), tx, testAccountID, testReservationID)
	if err != nil || !found || phase != domain.PhaseCaptured {
		t.Fatalf("expected CAPTURED, got %s found=%v err=%v", phase, found, err)
	}

	_, found, err = repo.LookupPhase(context.Background(), tx, testAccountID, "01HZX5Y7D8Q4J0ABCDEFGHJKR9")
	if err != nil || found {
		t.Fatalf("expected unknown reservation, got found=%v err=%v", found, err)
	}

	assertExpectations(t, mock)
}

func TestProcessedReservationLookupPhaseUnknownValue(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)

	mock.ExpectQuery(sqlPattern(selectReservationPhaseSQL)).
		WithArgs(testAccountID.String(), testReservationID.String()).
		WillReturnRows(pgxmock.NewRows([]string{"phase"}).AddRow("EXPIRED"))

	_, _, err := NewProcessedReservationRepository().LookupPhase(context.Background(), tx, testAccountID, testReservationID)
	if !errors.Is(err, domain.ErrInconsistentState) {
		t.Fatalf("expected inconsistent state, got %v", err)
	}
}

func TestProcessedReservationLookupByTransaction(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)

	mock.ExpectQuery(sqlPattern(selectReservationByTxSQL)).
		WithArgs(testAccountID.String(), testTxID.String()).
		WillReturnRows(pgxmock.NewRows([]string{"reservation_id"}).AddRow(testReservationID.String()))

	id, found, err := NewProcessedReservationRepository().LookupReservationByTransaction(context.Background(), tx, testAccountID, testTxID)
	if err != nil || !found || id != testReservationID {
		t.Fatalf("expected %s, got %s found=%v err=%v", testReservationID, id, found, err)
	}
}

func TestProcessedReservationRegisterAndUpdate(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)
	repo := NewProcessedReservationRepository()

	mock.ExpectExec(sqlPattern(insertReservationSQL)).
		WithArgs(testAccountID.String(), testReservationID.String(), testTxID.String(), "RESERVED", testOccurredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sqlPattern(updateReservationPhaseSQL)).
		WithArgs(testAccountID.String(), testReservationID.String(), "CANCELED", testOccurredAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.Register(context.Background(), tx, testAccountID, testTxID, testReservationID, domain.PhaseReserved, testOccurredAt); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := repo.UpdatePhase(context.Background(), tx, testAccountID, testReservationID, domain.PhaseCanceled, testOccurredAt); err != nil {
		t.Fatalf("update: %v", err)
	}

	assertExpectations(t, mock)
}

func TestProcessedReservationUpdateUnknown(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)

	mock.ExpectExec(sqlPattern(updateReservationPhaseSQL)).
		WithArgs(testAccountID.String(), testReservationID.String(), "CAPTURED", testOccurredAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewProcessedReservationRepository().UpdatePhase(context.Background(), tx, testAccountID, testReservationID, domain.PhaseCaptured, testOccurredAt)
	if !errors.Is(err, domain.ErrInconsistentState) {
		t.Fatalf("expected inconsistent state, got %v", err)
	}
}
