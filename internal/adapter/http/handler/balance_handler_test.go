package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/eventledger/internal/adapter/http/dto"
	"github.com/iho/eventledger/internal/domain"
	"github.com/iho/eventledger/internal/usecase"
)

type balanceServiceStub struct {
	view *domain.AccountBalanceView
	err  error
}

func (s *balanceServiceStub) GetAccountBalance(ctx context.Context, accountID domain.AccountID) (*domain.AccountBalanceView, error) {
	return s.view, s.err
}

type reconcilerStub struct {
	result *usecase.ReconciliationResult
	err    error
}

func (s *reconcilerStub) ReconcileAccount(ctx context.Context, accountID domain.AccountID) (*usecase.ReconciliationResult, error) {
	return s.result, s.err
}

func usd(s string) domain.Money {
	return domain.NewMoney(decimal.RequireFromString(s), domain.USD)
}

func testView(balance, reserved string, version int64) domain.AccountBalanceView {
	return domain.AccountBalanceView{
		AccountID: testAccountID,
		Currency:  domain.USD,
		Balance:   usd(balance),
		Reserved:  usd(reserved),
		Status:    domain.AccountStatusOpened,
		Version:   version,
	}
}

func TestBalanceHandler_Get(t *testing.T) {
	view := testView("15.00", "4.00", 3)
	handler := NewBalanceHandler(&balanceServiceStub{view: &view}, nil, zerolog.Nop())

	req := setChiURLParams(httptest.NewRequest(http.MethodGet, "/accounts/"+testAccountID+"/balance", nil), "id", testAccountID)
	rec := httptest.NewRecorder()

	handler.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp dto.BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Available.Equal(decimal.RequireFromString("11")) {
		t.Fatalf("expected available 11, got %s", resp.Available)
	}
	if resp.Status != "OPENED" || resp.Version != 3 || resp.Currency != "USD" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestBalanceHandler_Get_NotFound(t *testing.T) {
	handler := NewBalanceHandler(&balanceServiceStub{err: domain.ErrAccountBalanceNotFound}, nil, zerolog.Nop())

	req := setChiURLParams(httptest.NewRequest(http.MethodGet, "/accounts/"+testAccountID+"/balance", nil), "id", testAccountID)
	rec := httptest.NewRecorder()

	handler.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBalanceHandler_Get_InvalidID(t *testing.T) {
	handler := NewBalanceHandler(&balanceServiceStub{}, nil, zerolog.Nop())

	req := setChiURLParams(httptest.NewRequest(http.MethodGet, "/accounts/abc/balance", nil), "id", "abc")
	rec := httptest.NewRecorder()

	handler.Get(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBalanceHandler_Reconcile(t *testing.T) {
	checkedAt := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	projected := testView("15.00", "0.00", 3)
	result := &usecase.ReconciliationResult{
		AccountID:    testAccountID,
		Expected:     testView("15.00", "4.00", 3),
		Projected:    &projected,
		Differences:  []string{"reserved"},
		IsReconciled: false,
		CheckedAt:    checkedAt,
	}
	var logs bytes.Buffer
	handler := NewBalanceHandler(nil, &reconcilerStub{result: result}, zerolog.New(&logs))

	req := setChiURLParams(httptest.NewRequest(http.MethodGet, "/accounts/"+testAccountID+"/reconciliation", nil), "id", testAccountID)
	rec := httptest.NewRecorder()

	handler.Reconcile(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if out := logs.String(); !strings.Contains(out, "read model out of sync") || !strings.Contains(out, `"differences":["reserved"]`) {
		t.Fatalf("expected drift warning, got %q", out)
	}

	var resp dto.ReconciliationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Reconciled || len(resp.Differences) != 1 || resp.Projected == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !resp.CheckedAt.Equal(checkedAt) {
		t.Fatalf("expected checked_at %s, got %s", checkedAt, resp.CheckedAt)
	}
}

func TestBalanceHandler_Reconcile_UnknownAccount(t *testing.T) {
	handler := NewBalanceHandler(nil, &reconcilerStub{err: domain.ErrAccountHistoryNotFound}, zerolog.Nop())

	req := setChiURLParams(httptest.NewRequest(http.MethodGet, "/accounts/"+testAccountID+"/reconciliation", nil), "id", testAccountID)
	rec := httptest.NewRecorder()

	handler.Reconcile(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
