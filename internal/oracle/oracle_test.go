package oracle

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hopwise/traderoute/internal/id"
)

func oracleAsset(t *testing.T, chainRef, token string) id.Asset {
	t.Helper()
	chain, err := id.ParseChain(chainRef)
	if err != nil {
		t.Fatalf("ParseChain failed: %v", err)
	}
	asset, err := id.ParseAsset(chain, token)
	if err != nil {
		t.Fatalf("ParseAsset failed: %v", err)
	}
	return asset
}

func TestStaticServesOnlyRequestedAssets(t *testing.T) {
	eth := oracleAsset(t, "ethereum", "ETH")
	btc := oracleAsset(t, "bitcoin", "BTC")
	static := NewStatic(Rates{
		eth.AssetID: decimal.RequireFromString("2500"),
		btc.AssetID: decimal.RequireFromString("60000"),
	})

	rates, err := static.Rates(context.Background(), []id.Asset{eth})
	if err != nil {
		t.Fatalf("Rates failed: %v", err)
	}
	if _, ok := rates.Lookup(eth); !ok {
		t.Fatal("requested asset missing")
	}
	if _, ok := rates.Lookup(btc); ok {
		t.Fatal("unrequested asset leaked")
	}
}

func TestStaticCopiesInput(t *testing.T) {
	eth := oracleAsset(t, "ethereum", "ETH")
	src := Rates{eth.AssetID: decimal.RequireFromString("2500")}
	static := NewStatic(src)
	src[eth.AssetID] = decimal.Zero

	rates, err := static.Rates(context.Background(), []id.Asset{eth})
	if err != nil {
		t.Fatalf("Rates failed: %v", err)
	}
	v, _ := rates.Lookup(eth)
	if !v.Equal(decimal.RequireFromString("2500")) {
		t.Fatalf("static oracle shares caller's map: %s", v)
	}
}
