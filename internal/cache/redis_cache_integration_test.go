package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"costledger/backend/internal/domain"
)

func TestRedisQuoteCacheInvalidatesProduct(t *testing.T) {
	addr := os.Getenv("COSTLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COSTLEDGER_TEST_REDIS_ADDR not set")
	}
	client := NewRedisClient(addr, "", 0)
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	c := NewRedisQuoteCache(client)
	tenant := "it-" + time.Now().Format("150405.000000000")
	quote := &domain.CostResult{ProductID: "P1", Quantity: 3, UnitCost: decimal.RequireFromString("10.5")}

	gen, err := c.Generation(ctx, tenant, "P1")
	if err != nil {
		t.Fatalf("generation: %v", err)
	}
	for _, qty := range []int64{3, 4} {
		if err := c.Set(ctx, tenant, "P1", gen, qty, quote, time.Minute); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := c.Set(ctx, tenant, "P2", 0, 3, quote, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := c.Get(ctx, tenant, "P1", gen, 3)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if !got.UnitCost.Equal(quote.UnitCost) {
		t.Fatalf("unit cost round trip: got %s", got.UnitCost)
	}

	if err := c.InvalidateProduct(ctx, tenant, "P1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	for _, qty := range []int64{3, 4} {
		if _, ok, _ := c.Get(ctx, tenant, "P1", gen, qty); ok {
			t.Fatalf("quote for qty %d survived invalidation", qty)
		}
	}
	if _, ok, _ := c.Get(ctx, tenant, "P2", 0, 3); !ok {
		t.Fatalf("other product's quote was dropped")
	}

	// A quote computed before the invalidation and stored after it stays unreachable.
	if err := c.Set(ctx, tenant, "P1", gen, 3, quote, time.Minute); err != nil {
		t.Fatalf("late set: %v", err)
	}
	current, err := c.Generation(ctx, tenant, "P1")
	if err != nil {
		t.Fatalf("generation: %v", err)
	}
	if current != gen+1 {
		t.Fatalf("expected generation %d, got %d", gen+1, current)
	}
	if _, ok, _ := c.Get(ctx, tenant, "P1", current, 3); ok {
		t.Fatalf("stale quote served under the new generation")
	}
}
