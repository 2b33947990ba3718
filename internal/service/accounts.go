package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/ledger"
	"costledger/backend/internal/lock"
	"costledger/backend/internal/store"
)

// OpenAccount returns the customer's account, creating an empty one on first use.
func (s *Service) OpenAccount(ctx context.Context, tenantID string, req domain.AccountOpenRequest) (domain.Account, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.Account{}, err
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if err := s.check(req); err != nil {
		return domain.Account{}, err
	}

	account, err := s.ensureAccount(ctx, tenantID, req.CustomerID)
	if err != nil {
		return domain.Account{}, err
	}
	return *account, nil
}

// ensureAccount reads first so existing customers never take a write lock.
func (s *Service) ensureAccount(ctx context.Context, tenantID string, customerID string) (*domain.Account, error) {
	var account *domain.Account
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		account, err = tx.GetOrCreateAccount(ctx, tenantID, customerID)
		return err
	})
	if !errors.Is(err, store.ErrAccountNotFound) {
		return account, err
	}

	err = s.write(ctx, "open_account", []string{lock.CustomerKey(tenantID, customerID)}, func(tx store.Tx) error {
		var err error
		account, err = s.ledger.GetOrCreateAccount(ctx, tx, tenantID, customerID)
		return err
	})
	return account, err
}

func (s *Service) GetAccount(ctx context.Context, tenantID string, accountID string) (domain.Account, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.Account{}, err
	}
	var account *domain.Account
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		account, err = s.ledger.GetAccount(ctx, tx, tenantID, accountID)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}
	return *account, nil
}

func (s *Service) SetCreditLimit(ctx context.Context, tenantID string, accountID string, req domain.CreditLimitRequest) (domain.Account, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Account{}, err
	}
	if err := requireTenant(tenantID); err != nil {
		return domain.Account{}, err
	}

	var account *domain.Account
	err := s.write(ctx, "set_credit_limit", []string{lock.AccountKey(tenantID, accountID)}, func(tx store.Tx) error {
		var err error
		account, err = s.ledger.SetCreditLimit(ctx, tx, tenantID, accountID, req.CreditLimit)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}

	s.logger.Info("credit limit set",
		zap.String("tenant_id", tenantID),
		zap.String("account_id", accountID),
		zap.String("credit_limit", account.CreditLimit.String()),
		zap.String("actor", actorName(ctx)),
	)
	return *account, nil
}

func (s *Service) ListTransactions(ctx context.Context, tenantID string, accountID string, limit int) (domain.TransactionListResponse, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.TransactionListResponse{}, err
	}

	var resp domain.TransactionListResponse
	err := s.read(ctx, func(tx store.Tx) error {
		account, err := s.ledger.GetAccount(ctx, tx, tenantID, accountID)
		if err != nil {
			return err
		}
		entries, err := s.ledger.ListTransactions(ctx, tx, tenantID, accountID, limit)
		if err != nil {
			return err
		}
		resp = domain.TransactionListResponse{Account: *account, Transactions: entries}
		return nil
	})
	return resp, err
}

func (s *Service) AppendTransaction(ctx context.Context, tenantID string, accountID string, req domain.AppendRequest) (domain.AccountTransaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.AccountTransaction{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.AccountTransaction{}, fmt.Errorf("%w: %s", store.ErrInvalidAmount, err.Error())
	}

	var created *domain.AccountTransaction
	err := s.write(ctx, "append", []string{lock.AccountKey(tenantID, accountID)}, func(tx store.Tx) error {
		var err error
		created, err = s.ledger.Append(ctx, tx, tenantID, accountID, ledger.Entry{
			Kind:      req.Kind,
			Amount:    req.Amount,
			Notes:     strings.TrimSpace(req.Notes),
			Reference: strings.TrimSpace(req.Reference),
			CreatedBy: actorName(ctx),
		})
		return err
	})
	if err != nil {
		return domain.AccountTransaction{}, err
	}

	s.logger.Info("ledger entry appended",
		zap.String("tenant_id", tenantID),
		zap.String("account_id", accountID),
		zap.String("transaction_id", created.ID),
		zap.String("kind", string(created.Kind)),
		zap.String("amount", created.Amount.String()),
		zap.String("balance_after", created.BalanceAfter.String()),
	)
	return *created, nil
}

func (s *Service) ReverseTransaction(ctx context.Context, tenantID string, accountID string, transactionID string, req domain.ReversalRequest) (domain.AccountTransaction, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.AccountTransaction{}, err
	}
	if err := requireTenant(tenantID); err != nil {
		return domain.AccountTransaction{}, err
	}
	if err := s.check(req); err != nil {
		return domain.AccountTransaction{}, err
	}

	var reversal *domain.AccountTransaction
	err := s.write(ctx, "reverse", []string{lock.AccountKey(tenantID, accountID)}, func(tx store.Tx) error {
		var err error
		reversal, err = s.ledger.Reverse(ctx, tx, tenantID, accountID, transactionID, strings.TrimSpace(req.Notes), actorName(ctx))
		return err
	})
	if err != nil {
		return domain.AccountTransaction{}, err
	}

	s.logger.Info("ledger entry reversed",
		zap.String("tenant_id", tenantID),
		zap.String("account_id", accountID),
		zap.String("transaction_id", transactionID),
		zap.String("reversal_id", reversal.ID),
		zap.String("balance_after", reversal.BalanceAfter.String()),
	)
	return *reversal, nil
}

func (s *Service) CorrectTransaction(ctx context.Context, tenantID string, accountID string, transactionID string, req domain.CorrectionRequest) (domain.CorrectionResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CorrectionResult{}, err
	}
	if err := requireTenant(tenantID); err != nil {
		return domain.CorrectionResult{}, err
	}
	if err := s.check(req); err != nil {
		return domain.CorrectionResult{}, err
	}

	var result *domain.CorrectionResult
	err := s.write(ctx, "correct", []string{lock.AccountKey(tenantID, accountID)}, func(tx store.Tx) error {
		var err error
		result, err = s.ledger.Correct(ctx, tx, tenantID, accountID, transactionID, req.Amount, strings.TrimSpace(req.Notes), actorName(ctx))
		return err
	})
	if err != nil {
		return domain.CorrectionResult{}, err
	}

	s.logger.Info("ledger entry corrected",
		zap.String("tenant_id", tenantID),
		zap.String("account_id", accountID),
		zap.String("transaction_id", transactionID),
		zap.String("corrected_id", result.Corrected.ID),
		zap.String("balance_after", result.Corrected.BalanceAfter.String()),
	)
	return *result, nil
}

// VerifyAccount replays the account's chain. An inconsistent chain is reported,
// not repaired.
func (s *Service) VerifyAccount(ctx context.Context, tenantID string, accountID string) (domain.LedgerVerification, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.LedgerVerification{}, err
	}
	var result domain.LedgerVerification
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		result, err = s.ledger.Verify(ctx, tx, tenantID, accountID)
		return err
	})
	if err != nil {
		return domain.LedgerVerification{}, err
	}
	if !result.Consistent {
		s.logger.Error("ledger chain inconsistent",
			zap.String("tenant_id", tenantID),
			zap.String("account_id", accountID),
			zap.Int64("first_mismatch_seq", result.FirstMismatchSeq),
			zap.String("cached_balance", result.CachedBalance.String()),
			zap.String("replayed_balance", result.ReplayedBalance.String()),
		)
	}
	return result, nil
}
