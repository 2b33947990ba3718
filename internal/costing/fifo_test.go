package costing

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/store"
	"costledger/backend/internal/store/memory"
)

const tenant = "t1"

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func seedBatches(t *testing.T, repo store.Repository, productID string, batches ...domain.Batch) []string {
	t.Helper()
	ids := make([]string, 0, len(batches))
	err := repo.WithTx(context.Background(), func(tx store.Tx) error {
		for _, b := range batches {
			b.TenantID = tenant
			b.ProductID = productID
			b.QuantityRemaining = b.QuantityPurchased
			created, err := tx.CreateBatch(context.Background(), b)
			if err != nil {
				return err
			}
			ids = append(ids, created.ID)
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func batch(date int, qty int64, price string) domain.Batch {
	return domain.Batch{BatchDate: day(date), QuantityPurchased: qty, PurchaseUnitPrice: decimal.RequireFromString(price)}
}

func TestPlan(t *testing.T) {
	batches := []domain.Batch{
		{ID: "b1", PurchaseUnitPrice: decimal.NewFromInt(10), QuantityRemaining: 5},
		{ID: "b2", PurchaseUnitPrice: decimal.NewFromInt(12), QuantityRemaining: 5},
	}

	tests := []struct {
		name         string
		quantity     int64
		fallback     decimal.Decimal
		wantTotal    decimal.Decimal
		wantFallback int64
		wantBatches  int
		wantErr      error
	}{
		{name: "zero quantity", quantity: 0, wantErr: store.ErrInvalidQuantity},
		{name: "negative quantity", quantity: -3, wantErr: store.ErrInvalidQuantity},
		{name: "single batch", quantity: 4, wantTotal: decimal.NewFromInt(40), wantBatches: 1},
		{name: "spans batches", quantity: 7, wantTotal: decimal.NewFromInt(74), wantBatches: 2},
		{name: "exactly drains", quantity: 10, wantTotal: decimal.NewFromInt(110), wantBatches: 2},
		{name: "falls back", quantity: 12, fallback: decimal.NewFromInt(20), wantTotal: decimal.NewFromInt(150), wantFallback: 2, wantBatches: 2},
		{name: "fallback defaults to zero", quantity: 12, fallback: decimal.Zero, wantTotal: decimal.NewFromInt(110), wantFallback: 2, wantBatches: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Plan("P1", batches, tt.quantity, tt.fallback)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantTotal.Equal(result.TotalCost), "total %s", result.TotalCost)
			assert.Equal(t, tt.wantFallback, result.UnitsFromFallback)
			assert.Equal(t, tt.quantity, result.UnitsFromBatches+result.UnitsFromFallback)
			assert.Len(t, result.BatchesConsumed, tt.wantBatches)
		})
	}
}

func TestPlanWithoutBatchesUsesFallbackForEverything(t *testing.T) {
	result, err := Plan("P1", nil, 3, decimal.RequireFromString("4.25"))
	require.NoError(t, err)
	assert.Empty(t, result.BatchesConsumed)
	assert.Equal(t, int64(3), result.UnitsFromFallback)
	assert.True(t, result.UnitCost.Equal(decimal.RequireFromString("4.25")))
}

func TestConsumeSpansTwoBatches(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	ids := seedBatches(t, repo, "P1", batch(1, 5, "10"), batch(2, 5, "12"))
	engine := NewEngine(DefaultScale)

	var result domain.CostResult
	err := repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		result, err = engine.Consume(ctx, tx, tenant, "P1", 7)
		return err
	})
	require.NoError(t, err)

	// (5×10 + 2×12) / 7
	assert.True(t, result.TotalCost.Equal(decimal.NewFromInt(74)))
	assert.Equal(t, "10.2857142857", result.UnitCost.Round(10).String())
	assert.Equal(t, "10.29", engine.Round(result.UnitCost).StringFixed(2))
	assert.Equal(t, int64(0), result.UnitsFromFallback)
	require.Len(t, result.BatchesConsumed, 2)
	assert.Equal(t, ids[0], result.BatchesConsumed[0].BatchID)
	assert.Equal(t, int64(5), result.BatchesConsumed[0].UnitsConsumed)
	assert.Equal(t, int64(2), result.BatchesConsumed[1].UnitsConsumed)

	require.NoError(t, repo.View(ctx, func(tx store.Tx) error {
		first, err := tx.GetBatch(ctx, tenant, ids[0])
		require.NoError(t, err)
		second, err := tx.GetBatch(ctx, tenant, ids[1])
		require.NoError(t, err)
		assert.Equal(t, int64(0), first.QuantityRemaining)
		assert.Equal(t, int64(3), second.QuantityRemaining)
		return nil
	}))
}

func TestConsumeBeyondBatchesUsesStaticCost(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedBatches(t, repo, "P1", batch(1, 4, "10"), batch(2, 3, "12"))
	require.NoError(t, repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertProductCost(ctx, tenant, "P1", decimal.NewFromInt(15))
	}))
	engine := NewEngine(DefaultScale)

	var result domain.CostResult
	err := repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		result, err = engine.Consume(ctx, tx, tenant, "P1", 100)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(93), result.UnitsFromFallback)
	assert.Equal(t, int64(7), result.UnitsFromBatches)
	// 4×10 + 3×12 + 93×15
	assert.True(t, result.TotalCost.Equal(decimal.NewFromInt(1471)))
	assert.True(t, result.UnitCost.Equal(decimal.RequireFromString("14.71")))

	require.NoError(t, repo.View(ctx, func(tx store.Tx) error {
		open, err := tx.ListOpenBatches(ctx, tenant, "P1")
		assert.Empty(t, open)
		return err
	}))
}

func TestConsumeRejectsNonPositiveQuantity(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	ids := seedBatches(t, repo, "P1", batch(1, 5, "10"))
	engine := NewEngine(DefaultScale)

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		_, err := engine.Consume(ctx, tx, tenant, "P1", 0)
		return err
	})
	assert.ErrorIs(t, err, store.ErrInvalidQuantity)

	require.NoError(t, repo.View(ctx, func(tx store.Tx) error {
		b, err := tx.GetBatch(ctx, tenant, ids[0])
		require.NoError(t, err)
		assert.Equal(t, int64(5), b.QuantityRemaining)
		return nil
	}))
}

func TestConsumeRollsBackWithEnclosingUnit(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	ids := seedBatches(t, repo, "P1", batch(1, 5, "10"))
	engine := NewEngine(DefaultScale)

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := engine.Consume(ctx, tx, tenant, "P1", 3); err != nil {
			return err
		}
		return store.ErrStorageFailure
	})
	require.ErrorIs(t, err, store.ErrStorageFailure)

	require.NoError(t, repo.View(ctx, func(tx store.Tx) error {
		b, err := tx.GetBatch(ctx, tenant, ids[0])
		require.NoError(t, err)
		assert.Equal(t, int64(5), b.QuantityRemaining)
		return nil
	}))
}

func TestQuoteDoesNotDecrement(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	ids := seedBatches(t, repo, "P1", batch(1, 5, "10"), batch(2, 5, "12"))
	engine := NewEngine(DefaultScale)

	require.NoError(t, repo.View(ctx, func(tx store.Tx) error {
		result, err := engine.Quote(ctx, tx, tenant, "P1", 7)
		require.NoError(t, err)
		assert.True(t, result.TotalCost.Equal(decimal.NewFromInt(74)))

		b, err := tx.GetBatch(ctx, tenant, ids[0])
		require.NoError(t, err)
		assert.Equal(t, int64(5), b.QuantityRemaining)
		return nil
	}))
}

func TestConsumeDrainsOldestFirstAcrossRandomSequences(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(42, 7))
	engine := NewEngine(DefaultScale)

	for round := 0; round < 25; round++ {
		repo := memory.New()
		inputs := make([]domain.Batch, 0, 6)
		n := 1 + rng.IntN(6)
		for i := 0; i < n; i++ {
			// Dates repeat on purpose so insertion order breaks ties.
			inputs = append(inputs, batch(1+rng.IntN(4), int64(1+rng.IntN(9)), "1"))
		}
		ids := seedBatches(t, repo, "P1", inputs...)

		var order []string
		require.NoError(t, repo.View(ctx, func(tx store.Tx) error {
			open, err := tx.ListOpenBatches(ctx, tenant, "P1")
			for _, b := range open {
				order = append(order, b.ID)
			}
			return err
		}))
		require.Len(t, order, len(ids))

		consumed := make(map[string]int64, len(ids))
		for step := 0; step < 8; step++ {
			qty := int64(1 + rng.IntN(7))
			err := repo.WithTx(ctx, func(tx store.Tx) error {
				before, err := tx.ListOpenBatches(ctx, tenant, "P1")
				if err != nil {
					return err
				}
				result, err := engine.Consume(ctx, tx, tenant, "P1", qty)
				if err != nil {
					return err
				}
				for i, used := range result.BatchesConsumed {
					// Every batch except the last one drawn from must be fully drained.
					require.Equal(t, before[i].ID, used.BatchID)
					if i < len(result.BatchesConsumed)-1 {
						require.Equal(t, before[i].QuantityRemaining, used.UnitsConsumed)
					}
					consumed[used.BatchID] += used.UnitsConsumed
				}
				return nil
			})
			require.NoError(t, err)
		}

		require.NoError(t, repo.View(ctx, func(tx store.Tx) error {
			drained := true
			for _, id := range order {
				b, err := tx.GetBatch(ctx, tenant, id)
				require.NoError(t, err)
				assert.LessOrEqual(t, consumed[id], b.QuantityPurchased)
				assert.Equal(t, b.QuantityPurchased-consumed[id], b.QuantityRemaining)
				if !drained {
					assert.Equal(t, b.QuantityPurchased, b.QuantityRemaining, "newer batch touched before older drained")
				}
				if b.QuantityRemaining > 0 {
					drained = false
				}
			}
			return nil
		}))
	}
}
