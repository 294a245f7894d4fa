package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/eventledger/internal/adapter/http/dto"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
	"github.com/iho/eventledger/internal/usecase"
)

const (
	testAccountID     = "01HZX5Y7D8Q4J0ABCDEFGHJKMN"
	testReservationID = "01HZX5Y7D8Q4J0ABCDEFGHJKMP"
	testTransactionID = "5b8f3c1e-0a7d-4b55-9f60-1f2a3b4c5d6e"
)

type accountServiceStub struct {
	openFn    func(ctx context.Context, cmd domain.OpenAccount) (domain.AccountID, error)
	creditFn  func(ctx context.Context, cmd domain.CreditAccount) (usecase.TransactionStatus, error)
	debitFn   func(ctx context.Context, cmd domain.DebitAccount) (usecase.TransactionStatus, error)
	reserveFn func(ctx context.Context, cmd domain.ReserveFunds) (usecase.ReserveResult, error)
	captureFn func(ctx context.Context, cmd domain.CaptureReservation) (usecase.ReservationResult, error)
	cancelFn  func(ctx context.Context, cmd domain.CancelReservation) (usecase.ReservationResult, error)
	closeFn   func(ctx context.Context, cmd domain.CloseAccount) error
}

func (s *accountServiceStub) OpenAccount(ctx context.Context, cmd domain.OpenAccount) (domain.AccountID, error) {
	return s.openFn(ctx, cmd)
}

func (s *accountServiceStub) CreditAccount(ctx context.Context, cmd domain.CreditAccount) (usecase.TransactionStatus, error) {
	return s.creditFn(ctx, cmd)
}

func (s *accountServiceStub) DebitAccount(ctx context.Context, cmd domain.DebitAccount) (usecase.TransactionStatus, error) {
	return s.debitFn(ctx, cmd)
}

func (s *accountServiceStub) ReserveFunds(ctx context.Context, cmd domain.ReserveFunds) (usecase.ReserveResult, error) {
	return s.reserveFn(ctx, cmd)
}

func (s *accountServiceStub) CaptureReservation(ctx context.Context, cmd domain.CaptureReservation) (usecase.ReservationResult, error) {
	return s.captureFn(ctx, cmd)
}

func (s *accountServiceStub) CancelReservation(ctx context.Context, cmd domain.CancelReservation) (usecase.ReservationResult, error) {
	return s.cancelFn(ctx, cmd)
}

func (s *accountServiceStub) CloseAccount(ctx context.Context, cmd domain.CloseAccount) error {
	return s.closeFn(ctx, cmd)
}

// conflictRetrier retries conflicts up to max times without sleeping.
type conflictRetrier struct {
	max int
}

func (r conflictRetrier) Retry(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i <= r.max; i++ {
		if err = op(); err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}

func newTestHandler(svc AccountService, m *metrics.Metrics) *AccountHandler {
	return NewAccountHandler(svc, conflictRetrier{max: 3}, m, zerolog.Nop())
}

func setChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestAccountHandler_Open_Success(t *testing.T) {
	var captured domain.OpenAccount
	handler := newTestHandler(&accountServiceStub{
		openFn: func(ctx context.Context, cmd domain.OpenAccount) (domain.AccountID, error) {
			captured = cmd
			return testAccountID, nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts",
		jsonBody(t, dto.OpenAccountRequest{Currency: "USD", InitialBalance: "10.00"}))
	rec := httptest.NewRecorder()

	handler.Open(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Currency != domain.USD || captured.InitialBalance.StringAmount() != "10.00" {
		t.Fatalf("expected command to match request, got %+v", captured)
	}

	var resp dto.OpenAccountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AccountID != testAccountID {
		t.Fatalf("expected account id %s, got %s", testAccountID, resp.AccountID)
	}
}

func TestAccountHandler_Open_InvalidJSON(t *testing.T) {
	handler := newTestHandler(&accountServiceStub{
		openFn: func(ctx context.Context, cmd domain.OpenAccount) (domain.AccountID, error) {
			t.Fatal("OpenAccount should not be called for invalid payload")
			return "", nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewBufferString("{invalid json"))
	rec := httptest.NewRecorder()

	handler.Open(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAccountHandler_Open_UnsupportedCurrency(t *testing.T) {
	handler := newTestHandler(&accountServiceStub{
		openFn: func(ctx context.Context, cmd domain.OpenAccount) (domain.AccountID, error) {
			t.Fatal("OpenAccount should not be called for an unsupported currency")
			return "", nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts", jsonBody(t, dto.OpenAccountRequest{Currency: "XYZ"}))
	rec := httptest.NewRecorder()

	handler.Open(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "invalid_request" {
		t.Fatalf("expected invalid_request code, got %+v", resp)
	}
}

func TestAccountHandler_Open_NegativeInitialBalance(t *testing.T) {
	handler := newTestHandler(&accountServiceStub{
		openFn: func(ctx context.Context, cmd domain.OpenAccount) (domain.AccountID, error) {
			return "", domain.ErrNegativeInitialBalance
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts",
		jsonBody(t, dto.OpenAccountRequest{Currency: "USD", InitialBalance: "-1"}))
	rec := httptest.NewRecorder()

	handler.Open(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestAccountHandler_Credit(t *testing.T) {
	tests := []struct {
		name       string
		status     usecase.TransactionStatus
		err        error
		wantCode   int
		wantStatus string
	}{
		{name: "committed", status: usecase.TransactionCommitted, wantCode: http.StatusOK, wantStatus: "committed"},
		{name: "retry has no effect", status: usecase.TransactionNoEffect, wantCode: http.StatusOK, wantStatus: "no_effect"},
		{name: "reused transaction id", err: domain.ErrTransactionIDConflict, wantCode: http.StatusConflict},
		{name: "closed account", err: domain.ErrAccountInactive, wantCode: http.StatusConflict},
		{name: "unknown account", err: domain.ErrAccountHistoryNotFound, wantCode: http.StatusNotFound},
		{name: "store failure", err: errors.New("db down"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured domain.CreditAccount
			handler := newTestHandler(&accountServiceStub{
				creditFn: func(ctx context.Context, cmd domain.CreditAccount) (usecase.TransactionStatus, error) {
					captured = cmd
					return tt.status, tt.err
				},
			}, nil)

			req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/credits",
				jsonBody(t, dto.MoneyRequest{TransactionID: testTransactionID, Amount: "5.00", Currency: "USD"}))
			req = setChiURLParams(req, "id", testAccountID)
			rec := httptest.NewRecorder()

			handler.Credit(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if captured.AccountID != testAccountID || captured.Amount.StringAmount() != "5.00" {
				t.Fatalf("unexpected command %+v", captured)
			}
			if tt.err != nil {
				return
			}

			var resp dto.TransactionResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.wantStatus || resp.TransactionID != testTransactionID {
				t.Fatalf("unexpected response %+v", resp)
			}
		})
	}
}

func TestAccountHandler_InternalErrorHidesDetails(t *testing.T) {
	handler := newTestHandler(&accountServiceStub{
		debitFn: func(ctx context.Context, cmd domain.DebitAccount) (usecase.TransactionStatus, error) {
			return 0, fmt.Errorf("decode: %w", domain.ErrUnknownEventType)
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/debits",
		jsonBody(t, dto.MoneyRequest{TransactionID: testTransactionID, Amount: "1", Currency: "USD"}))
	req = setChiURLParams(req, "id", testAccountID)
	rec := httptest.NewRecorder()

	handler.Debit(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Message != "" {
		t.Fatalf("expected no details in internal error, got %+v", resp)
	}
}

func TestAccountHandler_Debit_InsufficientFunds(t *testing.T) {
	handler := newTestHandler(&accountServiceStub{
		debitFn: func(ctx context.Context, cmd domain.DebitAccount) (usecase.TransactionStatus, error) {
			return 0, domain.ErrInsufficientFunds
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/debits",
		jsonBody(t, dto.MoneyRequest{TransactionID: testTransactionID, Amount: "100", Currency: "USD"}))
	req = setChiURLParams(req, "id", testAccountID)
	rec := httptest.NewRecorder()

	handler.Debit(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != string(domain.KindBusinessRule) {
		t.Fatalf("expected business_rule code, got %+v", resp)
	}
}

func TestAccountHandler_RetriesConcurrencyConflicts(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	calls := 0
	handler := newTestHandler(&accountServiceStub{
		debitFn: func(ctx context.Context, cmd domain.DebitAccount) (usecase.TransactionStatus, error) {
			calls++
			if calls < 3 {
				return 0, domain.ErrConcurrencyConflict
			}
			return usecase.TransactionCommitted, nil
		},
	}, m)

	req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/debits",
		jsonBody(t, dto.MoneyRequest{TransactionID: testTransactionID, Amount: "1", Currency: "USD"}))
	req = setChiURLParams(req, "id", testAccountID)
	rec := httptest.NewRecorder()

	handler.Debit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if got := testutil.ToFloat64(m.CommandRetries.WithLabelValues(usecase.CommandDebitAccount)); got != 2 {
		t.Fatalf("expected 2 retries recorded, got %v", got)
	}
}

func TestAccountHandler_ConflictAfterRetriesSetsRetryAfter(t *testing.T) {
	handler := newTestHandler(&accountServiceStub{
		creditFn: func(ctx context.Context, cmd domain.CreditAccount) (usecase.TransactionStatus, error) {
			return 0, domain.ErrConcurrencyConflict
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/credits",
		jsonBody(t, dto.MoneyRequest{TransactionID: testTransactionID, Amount: "1", Currency: "USD"}))
	req = setChiURLParams(req, "id", testAccountID)
	rec := httptest.NewRecorder()

	handler.Credit(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestAccountHandler_Reserve(t *testing.T) {
	tests := []struct {
		name     string
		status   usecase.TransactionStatus
		wantCode int
	}{
		{"new reservation", usecase.TransactionCommitted, http.StatusCreated},
		{"retry returns original reservation", usecase.TransactionNoEffect, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(&accountServiceStub{
				reserveFn: func(ctx context.Context, cmd domain.ReserveFunds) (usecase.ReserveResult, error) {
					return usecase.ReserveResult{ReservationID: testReservationID, Status: tt.status}, nil
				},
			}, nil)

			req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/reservations",
				jsonBody(t, dto.MoneyRequest{TransactionID: testTransactionID, Amount: "4", Currency: "USD"}))
			req = setChiURLParams(req, "id", testAccountID)
			rec := httptest.NewRecorder()

			handler.Reserve(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var resp dto.ReserveResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.ReservationID != testReservationID {
				t.Fatalf("expected reservation id %s, got %s", testReservationID, resp.ReservationID)
			}
		})
	}
}

func TestAccountHandler_Capture(t *testing.T) {
	amount := domain.NewMoney(decimal.RequireFromString("4"), domain.USD)
	var captured domain.CaptureReservation
	handler := newTestHandler(&accountServiceStub{
		captureFn: func(ctx context.Context, cmd domain.CaptureReservation) (usecase.ReservationResult, error) {
			captured = cmd
			return usecase.ReservationResult{Status: usecase.TransactionCommitted, Amount: &amount}, nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/reservations/"+testReservationID+"/capture", nil)
	req = setChiURLParams(req, "id", testAccountID, "rid", testReservationID)
	rec := httptest.NewRecorder()

	handler.Capture(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.ReservationID != testReservationID {
		t.Fatalf("unexpected command %+v", captured)
	}

	var resp dto.ReservationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Amount == nil || !resp.Amount.Equal(decimal.RequireFromString("4")) || resp.Currency != "USD" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAccountHandler_Cancel(t *testing.T) {
	tests := []struct {
		name     string
		result   usecase.ReservationResult
		err      error
		wantCode int
	}{
		{"repeat cancel has no effect", usecase.ReservationResult{Status: usecase.TransactionNoEffect}, nil, http.StatusOK},
		{"already captured", usecase.ReservationResult{}, domain.ErrReservationAlreadyCaptured, http.StatusConflict},
		{"unknown reservation", usecase.ReservationResult{}, domain.ErrReservationNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(&accountServiceStub{
				cancelFn: func(ctx context.Context, cmd domain.CancelReservation) (usecase.ReservationResult, error) {
					return tt.result, tt.err
				},
			}, nil)

			req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/reservations/"+testReservationID+"/cancel", nil)
			req = setChiURLParams(req, "id", testAccountID, "rid", testReservationID)
			rec := httptest.NewRecorder()

			handler.Cancel(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestAccountHandler_Cancel_InvalidReservationID(t *testing.T) {
	handler := newTestHandler(&accountServiceStub{
		cancelFn: func(ctx context.Context, cmd domain.CancelReservation) (usecase.ReservationResult, error) {
			t.Fatal("CancelReservation should not be called")
			return usecase.ReservationResult{}, nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/reservations/res-1/cancel", nil)
	req = setChiURLParams(req, "id", testAccountID, "rid", "res-1")
	rec := httptest.NewRecorder()

	handler.Cancel(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAccountHandler_Close(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"closed", nil, http.StatusNoContent},
		{"not empty", domain.ErrAccountNotEmpty, http.StatusUnprocessableEntity},
		{"already closed", domain.ErrAccountInactive, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(&accountServiceStub{
				closeFn: func(ctx context.Context, cmd domain.CloseAccount) error { return tt.err },
			}, nil)

			req := httptest.NewRequest(http.MethodPost, "/accounts/"+testAccountID+"/close", nil)
			req = setChiURLParams(req, "id", testAccountID)
			rec := httptest.NewRecorder()

			handler.Close(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}
