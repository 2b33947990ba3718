package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/store"
)

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("COSTLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set COSTLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	if err := Migrate(databaseURL, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := New(context.Background(), databaseURL, 5*time.Second)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestBatchWalkDecrementsInFIFOOrder(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()
	tenant := fmt.Sprintf("it-tenant-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM batches WHERE tenant_id = $1`, tenant)
	})

	older := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 0, 1)
	err := s.WithTx(ctx, func(tx store.Tx) error {
		for _, b := range []domain.Batch{
			{ProductID: "P1", PurchaseUnitPrice: decimal.NewFromInt(12), QuantityPurchased: 5, BatchDate: newer},
			{ProductID: "P1", PurchaseUnitPrice: decimal.NewFromInt(10), QuantityPurchased: 5, BatchDate: older},
		} {
			b.TenantID = tenant
			b.QuantityRemaining = b.QuantityPurchased
			if _, err := tx.CreateBatch(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed batches: %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		open, err := tx.ListOpenBatches(ctx, tenant, "P1")
		if err != nil {
			return err
		}
		if len(open) != 2 || !open[0].PurchaseUnitPrice.Equal(decimal.NewFromInt(10)) {
			return fmt.Errorf("unexpected order: %+v", open)
		}
		_, err = tx.DecrementBatch(ctx, tenant, open[0].ID, 5)
		return err
	})
	if err != nil {
		t.Fatalf("consume oldest: %v", err)
	}

	err = s.View(ctx, func(tx store.Tx) error {
		open, err := tx.ListOpenBatches(ctx, tenant, "P1")
		if err != nil {
			return err
		}
		if len(open) != 1 || !open[0].PurchaseUnitPrice.Equal(decimal.NewFromInt(12)) {
			return fmt.Errorf("expected only the newer batch open, got %+v", open)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestGetOrCreateAccountRaceYieldsOneAccount(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()
	tenant := fmt.Sprintf("it-tenant-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM accounts WHERE tenant_id = $1`, tenant)
	})

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for attempt := 0; attempt < 5; attempt++ {
				errs[i] = s.WithTx(ctx, func(tx store.Tx) error {
					account, err := tx.GetOrCreateAccount(ctx, tenant, "C1")
					if err != nil {
						return err
					}
					ids[i] = account.ID
					return nil
				})
				if !store.IsTransient(errs[i]) {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected a single account, got %s and %s", ids[0], ids[i])
		}
	}
}

func TestMigrationsRollBackAndReapply(t *testing.T) {
	databaseURL := os.Getenv("COSTLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set COSTLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	m, err := NewMigrator(databaseURL, nil)
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := m.Down(); err != nil {
		t.Fatalf("down: %v", err)
	}
	// The schema is restored for the other integration tests.
	if err := m.Up(); err != nil {
		t.Fatalf("up after down: %v", err)
	}

	s := openIntegrationStore(t)
	ctx := context.Background()
	tenant := fmt.Sprintf("it-tenant-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM product_costs WHERE tenant_id = $1`, tenant)
	})

	finest := decimal.RequireFromString("0.000001")
	if err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertProductCost(ctx, tenant, "P1", finest)
	}); err != nil {
		t.Fatalf("upsert cost: %v", err)
	}
	err = s.View(ctx, func(tx store.Tx) error {
		cost, _, err := tx.GetProductCost(ctx, tenant, "P1")
		if err != nil {
			return err
		}
		if !cost.Equal(finest) {
			t.Fatalf("expected %s to survive storage, got %s", finest, cost)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read cost: %v", err)
	}
}
