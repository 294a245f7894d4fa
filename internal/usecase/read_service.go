package usecase

import (
	"context"

	"github.com/iho/eventledger/internal/domain"
)

// AccountReadService serves queries from the balance read model.
type AccountReadService struct {
	reader BalanceReader
}

func NewAccountReadService(reader BalanceReader) *AccountReadService {
	return &AccountReadService{reader: reader}
}

// GetAccountBalance returns the projected balance, or domain.ErrAccountBalanceNotFound.
func (s *AccountReadService) GetAccountBalance(ctx context.Context, accountID domain.AccountID) (*domain.AccountBalanceView, error) {
	view, err := s.reader.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, domain.ErrAccountBalanceNotFound
	}
	return view, nil
}
