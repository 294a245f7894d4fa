package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
)

// Command names used for logs and metrics.
const (
	CommandOpenAccount        = "open_account"
	CommandCreditAccount      = "credit_account"
	CommandDebitAccount       = "debit_account"
	CommandReserveFunds       = "reserve_funds"
	CommandCaptureReservation = "capture_reservation"
	CommandCancelReservation  = "cancel_reservation"
	CommandCloseAccount       = "close_account"
)

// ReserveResult is the outcome of ReserveFunds. On a retry ReservationID is
// the id assigned by the first successful call.
type ReserveResult struct {
	ReservationID domain.ReservationID
	Status        TransactionStatus
}

// ReservationResult is the outcome of a capture or cancel. Amount is set only
// when the call had an effect.
type ReservationResult struct {
	Status TransactionStatus
	Amount *domain.Money
}

// AccountService runs account commands: load, validate, append, publish and
// update the idempotency registries, all in one database transaction.
type AccountService struct {
	txManager         TransactionManager
	eventStore        EventStore
	snapshots         SnapshotStore
	publisher         EventPublisher
	transactions      ProcessedTransactionStore
	reservations      ProcessedReservationStore
	idGen             IDGenerator
	clock             Clock
	snapshotThreshold int64
	logger            zerolog.Logger
	metrics           *metrics.Metrics
}

func NewAccountService(
	txManager TransactionManager,
	eventStore EventStore,
	snapshots SnapshotStore,
	publisher EventPublisher,
	transactions ProcessedTransactionStore,
	reservations ProcessedReservationStore,
	idGen IDGenerator,
	clock Clock,
	snapshotThreshold int64,
	logger zerolog.Logger,
	metrics *metrics.Metrics,
) (*AccountService, error) {
	if snapshotThreshold <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrSnapshotThresholdUnset, snapshotThreshold)
	}
	return &AccountService{
		txManager:         txManager,
		eventStore:        eventStore,
		snapshots:         snapshots,
		publisher:         publisher,
		transactions:      transactions,
		reservations:      reservations,
		idGen:             idGen,
		clock:             clock,
		snapshotThreshold: snapshotThreshold,
		logger:            logger.With().Str("component", "account_service").Logger(),
		metrics:           metrics,
	}, nil
}

// OpenAccount creates a new account stream. It is not idempotent on its own.
func (s *AccountService) OpenAccount(ctx context.Context, cmd domain.OpenAccount) (id domain.AccountID, err error) {
	start := time.Now()
	defer func() { s.observe(CommandOpenAccount, start, TransactionCommitted, err) }()

	id = s.idGen.NewAccountID()
	opened, err := domain.HandleOpenAccount(cmd, id, s.idGen.NewEventID(), s.clock.Now())
	if err != nil {
		return "", err
	}
	events := []domain.AccountEvent{opened}

	err = s.inTx(ctx, func(ctx context.Context, tx Transaction) error {
		return s.appendAndPublish(ctx, tx, id, 0, events)
	})
	if err != nil {
		return "", err
	}

	if acc, rerr := domain.Rehydrate(events); rerr == nil {
		s.maybeSnapshot(ctx, acc, 0)
	}
	s.logger.Info().Str("account_id", id.String()).Str("currency", cmd.Currency.String()).Msg("account opened")
	return id, nil
}

func (s *AccountService) CreditAccount(ctx context.Context, cmd domain.CreditAccount) (status TransactionStatus, err error) {
	start := time.Now()
	defer func() { s.observe(CommandCreditAccount, start, status, err) }()

	return s.runTransactionCommand(ctx, cmd, func(acc *domain.Account, now time.Time) ([]domain.AccountEvent, error) {
		return acc.Credit(cmd, s.idGen.NewEventID, now)
	}, nil)
}

func (s *AccountService) DebitAccount(ctx context.Context, cmd domain.DebitAccount) (status TransactionStatus, err error) {
	start := time.Now()
	defer func() { s.observe(CommandDebitAccount, start, status, err) }()

	return s.runTransactionCommand(ctx, cmd, func(acc *domain.Account, now time.Time) ([]domain.AccountEvent, error) {
		return acc.Debit(cmd, s.idGen.NewEventID, now)
	}, nil)
}

// ReserveFunds holds funds and registers the reservation as RESERVED.
func (s *AccountService) ReserveFunds(ctx context.Context, cmd domain.ReserveFunds) (result ReserveResult, err error) {
	start := time.Now()
	defer func() { s.observe(CommandReserveFunds, start, result.Status, err) }()

	reservationID := s.idGen.NewReservationID()
	status, err := s.runTransactionCommand(ctx, cmd,
		func(acc *domain.Account, now time.Time) ([]domain.AccountEvent, error) {
			return acc.Reserve(cmd, reservationID, s.idGen.NewEventID, now)
		},
		&transactionHooks{
			afterAppend: func(ctx context.Context, tx Transaction, now time.Time) error {
				return s.reservations.Register(ctx, tx, cmd.AccountID, cmd.TransactionID, reservationID, domain.PhaseReserved, now)
			},
			onNoEffect: func(ctx context.Context, tx Transaction) error {
				existing, found, err := s.reservations.LookupReservationByTransaction(ctx, tx, cmd.AccountID, cmd.TransactionID)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: transaction %s processed but no reservation registered",
						domain.ErrInconsistentState, cmd.TransactionID)
				}
				reservationID = existing
				return nil
			},
		})
	if err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{ReservationID: reservationID, Status: status}, nil
}

func (s *AccountService) CaptureReservation(ctx context.Context, cmd domain.CaptureReservation) (result ReservationResult, err error) {
	start := time.Now()
	defer func() { s.observe(CommandCaptureReservation, start, result.Status, err) }()

	return s.runReservationCommand(ctx, cmd.AccountID, cmd.ReservationID, domain.PhaseCaptured,
		func(acc *domain.Account, now time.Time) (domain.ReservationOutcome, error) {
			return acc.Capture(cmd, s.idGen.NewEventID, now)
		})
}

func (s *AccountService) CancelReservation(ctx context.Context, cmd domain.CancelReservation) (result ReservationResult, err error) {
	start := time.Now()
	defer func() { s.observe(CommandCancelReservation, start, result.Status, err) }()

	return s.runReservationCommand(ctx, cmd.AccountID, cmd.ReservationID, domain.PhaseCanceled,
		func(acc *domain.Account, now time.Time) (domain.ReservationOutcome, error) {
			return acc.Cancel(cmd, s.idGen.NewEventID, now)
		})
}

// CloseAccount closes an empty account.
func (s *AccountService) CloseAccount(ctx context.Context, cmd domain.CloseAccount) (err error) {
	start := time.Now()
	defer func() { s.observe(CommandCloseAccount, start, TransactionCommitted, err) }()

	var (
		acc         *domain.Account
		fromVersion int64
	)
	err = s.inTx(ctx, func(ctx context.Context, tx Transaction) error {
		now := s.clock.Now()
		var err error
		if acc, err = s.load(ctx, tx, cmd.AccountID); err != nil {
			return err
		}
		fromVersion = acc.Version()
		events, err := acc.Close(cmd, s.idGen.NewEventID, now)
		if err != nil {
			return err
		}
		return s.appendAndPublish(ctx, tx, cmd.AccountID, fromVersion, events)
	})
	if err != nil {
		return err
	}
	s.maybeSnapshot(ctx, acc, fromVersion)
	return nil
}

type transactionHooks struct {
	// afterAppend runs after the events are appended and published.
	afterAppend func(ctx context.Context, tx Transaction, now time.Time) error
	// onNoEffect runs when the transaction id was already processed.
	onNoEffect func(ctx context.Context, tx Transaction) error
}

func (s *AccountService) runTransactionCommand(
	ctx context.Context,
	cmd domain.TransactionCommand,
	handle func(acc *domain.Account, now time.Time) ([]domain.AccountEvent, error),
	hooks *transactionHooks,
) (TransactionStatus, error) {
	var (
		acc         *domain.Account
		fromVersion int64
		status      TransactionStatus
	)
	accountID := cmd.TargetAccount()

	err := s.inTx(ctx, func(ctx context.Context, tx Transaction) error {
		now := s.clock.Now()
		var err error
		status, err = s.transactions.Register(ctx, tx, accountID, cmd.Transaction(), cmd.Fingerprint(), now)
		if err != nil {
			return err
		}
		if status == TransactionNoEffect {
			if hooks != nil && hooks.onNoEffect != nil {
				return hooks.onNoEffect(ctx, tx)
			}
			return nil
		}

		if acc, err = s.load(ctx, tx, accountID); err != nil {
			return err
		}
		fromVersion = acc.Version()
		events, err := handle(acc, now)
		if err != nil {
			return err
		}
		if err := s.appendAndPublish(ctx, tx, accountID, fromVersion, events); err != nil {
			return err
		}
		if hooks != nil && hooks.afterAppend != nil {
			return hooks.afterAppend(ctx, tx, now)
		}
		return nil
	})
	if err != nil {
		return status, err
	}

	if status == TransactionCommitted {
		s.maybeSnapshot(ctx, acc, fromVersion)
	} else {
		s.logger.Debug().
			Str("account_id", accountID.String()).
			Str("transaction_id", cmd.Transaction().String()).
			Msg("transaction already processed")
	}
	return status, nil
}

func (s *AccountService) runReservationCommand(
	ctx context.Context,
	accountID domain.AccountID,
	reservationID domain.ReservationID,
	target domain.ReservationPhase,
	handle func(acc *domain.Account, now time.Time) (domain.ReservationOutcome, error),
) (ReservationResult, error) {
	var (
		acc         *domain.Account
		fromVersion int64
		result      ReservationResult
	)

	err := s.inTx(ctx, func(ctx context.Context, tx Transaction) error {
		now := s.clock.Now()
		var err error
		if acc, err = s.load(ctx, tx, accountID); err != nil {
			return err
		}
		fromVersion = acc.Version()
		outcome, err := handle(acc, now)
		if err != nil {
			return err
		}

		if !outcome.HasEffect() {
			phase, found, err := s.reservations.LookupPhase(ctx, tx, accountID, reservationID)
			if err != nil {
				return err
			}
			if err := domain.ResolveAbsentReservation(reservationID, phase, found, target); err != nil {
				return err
			}
			result = ReservationResult{Status: TransactionNoEffect}
			return nil
		}

		if err := s.appendAndPublish(ctx, tx, accountID, fromVersion, outcome.Events); err != nil {
			return err
		}
		if err := s.reservations.UpdatePhase(ctx, tx, accountID, reservationID, target, now); err != nil {
			return err
		}
		amount := outcome.Amount
		result = ReservationResult{Status: TransactionCommitted, Amount: &amount}
		return nil
	})
	if err != nil {
		return ReservationResult{}, err
	}

	if result.Status == TransactionCommitted {
		s.maybeSnapshot(ctx, acc, fromVersion)
	}
	return result, nil
}

// inTx runs fn in a transaction bounded by DefaultTransactionTimeout and
// commits when fn succeeds.
func (s *AccountService) inTx(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := s.txManager.Begin(txCtx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	if err := fn(txCtx, tx); err != nil {
		return err
	}
	return tx.Commit(txCtx)
}

func (s *AccountService) appendAndPublish(ctx context.Context, tx Transaction, accountID domain.AccountID, expectedVersion int64, events []domain.AccountEvent) error {
	if err := s.eventStore.AppendEvents(ctx, tx, accountID, expectedVersion, events); err != nil {
		return err
	}
	return s.publisher.Publish(ctx, tx, events)
}

// load rebuilds the account from the latest usable snapshot plus its tail,
// falling back to a full replay.
func (s *AccountService) load(ctx context.Context, tx Transaction, accountID domain.AccountID) (*domain.Account, error) {
	if acc, ok := s.loadFromSnapshot(ctx, tx, accountID); ok {
		return acc, nil
	}

	history, err := s.eventStore.LoadEvents(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ReplayedEvents.Observe(float64(len(history)))
	}
	acc, err := domain.Rehydrate(history)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, err)
	}
	return acc, nil
}

func (s *AccountService) loadFromSnapshot(ctx context.Context, tx Transaction, accountID domain.AccountID) (*domain.Account, bool) {
	snap, err := s.snapshots.Load(ctx, accountID)
	if err != nil {
		s.snapshotFailed("load", accountID, err)
		return nil, false
	}
	if snap == nil {
		return nil, false
	}

	tail, err := s.eventStore.LoadEventsAfterVersion(ctx, tx, accountID, snap.Version)
	if err != nil {
		s.snapshotFailed("load", accountID, err)
		return nil, false
	}
	if len(tail) > 0 && tail[0].Meta().Version != snap.Version+1 {
		s.snapshotFailed("load", accountID, &domain.NonContiguousVersionError{
			AccountID: accountID,
			Expected:  snap.Version + 1,
			Actual:    tail[0].Meta().Version,
		})
		return nil, false
	}

	acc, err := domain.RehydrateFromSnapshot(*snap, tail)
	if err != nil {
		s.snapshotFailed("load", accountID, err)
		return nil, false
	}
	if s.metrics != nil {
		s.metrics.ReplayedEvents.Observe(float64(len(tail)))
	}
	return acc, true
}

// maybeSnapshot saves a snapshot when the command moved the account across a
// threshold boundary. Failures are logged and dropped.
func (s *AccountService) maybeSnapshot(ctx context.Context, acc *domain.Account, fromVersion int64) {
	if acc == nil || !domain.ShouldSnapshot(fromVersion, acc.Version(), s.snapshotThreshold) {
		return
	}
	if err := s.snapshots.SaveSnapshot(ctx, acc.Snapshot()); err != nil {
		s.snapshotFailed("save", acc.ID(), err)
		return
	}
	if s.metrics != nil {
		s.metrics.SnapshotsSaved.Inc()
	}
}

func (s *AccountService) snapshotFailed(op string, accountID domain.AccountID, err error) {
	s.logger.Warn().Err(err).
		Str("account_id", accountID.String()).
		Str("operation", op).
		Msg("snapshot unavailable, continuing without it")
	if s.metrics != nil {
		s.metrics.SnapshotFailures.WithLabelValues(op).Inc()
	}
}

func (s *AccountService) observe(command string, start time.Time, status TransactionStatus, err error) {
	result := status.String()
	if err != nil {
		kind := domain.KindOf(err)
		result = string(kind)
		if kind == domain.KindInternal {
			s.logger.Error().Err(err).Str("command", command).Msg("command failed")
		}
	}
	if s.metrics == nil {
		return
	}
	s.metrics.Commands.WithLabelValues(command, result).Inc()
	s.metrics.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		s.metrics.ConcurrencyConflicts.WithLabelValues(command).Inc()
	}
}
