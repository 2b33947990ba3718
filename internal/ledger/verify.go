package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/store"
)

// Verify replays the chain from zero and checks each recorded balance_after and
// the account's cached balance.
func (l *Ledger) Verify(ctx context.Context, tx store.Tx, tenantID string, accountID string) (domain.LedgerVerification, error) {
	account, err := tx.GetAccount(ctx, tenantID, accountID)
	if err != nil {
		return domain.LedgerVerification{}, err
	}
	newestFirst, err := tx.ListTransactions(ctx, tenantID, accountID, 0)
	if err != nil {
		return domain.LedgerVerification{}, err
	}

	result := Replay(newestFirst)
	result.AccountID = accountID
	result.CachedBalance = account.Balance
	result.Consistent = result.FirstMismatchSeq == 0 && account.Balance.Equal(result.ReplayedBalance)
	return result, nil
}

// Replay walks entries given newest first, the order ListTransactions returns.
func Replay(newestFirst []domain.AccountTransaction) domain.LedgerVerification {
	result := domain.LedgerVerification{Entries: len(newestFirst)}
	balance := decimal.Zero
	for i := len(newestFirst) - 1; i >= 0; i-- {
		entry := newestFirst[i]
		expectedSeq := int64(len(newestFirst) - i)

		next, err := Apply(balance, entry.Kind, entry.Amount)
		if err != nil || entry.Seq != expectedSeq || !next.Equal(entry.BalanceAfter) {
			if result.FirstMismatchSeq == 0 {
				result.FirstMismatchSeq = expectedSeq
			}
		}
		if err == nil {
			balance = next
		}
	}
	result.ReplayedBalance = balance
	return result
}
