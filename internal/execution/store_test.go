package execution

import (
	"path/filepath"
	"testing"

	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/providers"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "trades.db"), filepath.Join(dir, "trades.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func storedTrade(t *testing.T, tradeID string, state HopState) Trade {
	t.Helper()
	route := execRoute(t, providers.Thorchain, execHop(t, providers.Thorchain, "ETH", "USDC", false))
	return Trade{
		ID:        tradeID,
		Route:     *route,
		Hops:      []HopStatus{{State: state, SellTxHash: "0xsell"}},
		CreatedAt: "2026-08-27T10:00:00Z",
		UpdatedAt: "2026-08-27T10:05:00Z",
	}
}

func TestStoreSaveGetRoundtrip(t *testing.T) {
	store := openTestStore(t)
	trade := storedTrade(t, "trade-1", HopConfirming)

	if err := store.Save(trade); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Get("trade-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != trade.ID || got.Route.Provider != trade.Route.Provider {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.Hops[0].State != HopConfirming || got.Hops[0].SellTxHash != "0xsell" {
		t.Fatalf("hop state lost: %+v", got.Hops[0])
	}
}

func TestStoreSaveUpserts(t *testing.T) {
	store := openTestStore(t)
	trade := storedTrade(t, "trade-1", HopConfirming)
	if err := store.Save(trade); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	trade.Hops[0].State = HopSucceeded
	trade.Hops[0].BuyTxHash = "0xbuy"
	if err := store.Save(trade); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := store.Get("trade-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Hops[0].State != HopSucceeded || got.Hops[0].BuyTxHash != "0xbuy" {
		t.Fatalf("upsert lost the update: %+v", got.Hops[0])
	}

	trades, err := store.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("upsert must not duplicate rows: %d", len(trades))
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get("nope"); clierr.CodeOf(err) != clierr.CodeStore {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestStoreSaveRequiresID(t *testing.T) {
	store := openTestStore(t)
	if err := store.Save(Trade{}); clierr.CodeOf(err) != clierr.CodeStore {
		t.Fatal("expected error for missing trade id")
	}
}

func TestStoreListOrdersByUpdatedAt(t *testing.T) {
	store := openTestStore(t)
	older := storedTrade(t, "older", HopSucceeded)
	older.UpdatedAt = "2026-08-27T09:00:00Z"
	newer := storedTrade(t, "newer", HopConfirming)
	newer.UpdatedAt = "2026-08-27T11:00:00Z"

	if err := store.Save(older); err != nil {
		t.Fatalf("Save older failed: %v", err)
	}
	if err := store.Save(newer); err != nil {
		t.Fatalf("Save newer failed: %v", err)
	}

	trades, err := store.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(trades) != 2 || trades[0].ID != "newer" {
		t.Fatalf("unexpected order: %+v", trades)
	}
}
