package id

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	clierr "github.com/hopwise/traderoute/internal/errors"
)

// Chain and asset identifiers follow CAIP-2/CAIP-19 so the same notation
// covers account-based, UTXO and Cosmos-SDK chains.
const (
	NamespaceEVM    = "eip155"
	NamespaceUTXO   = "bip122"
	NamespaceCosmos = "cosmos"
)

var (
	evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	caip2Pattern      = regexp.MustCompile(`^[a-z0-9]+:[a-zA-Z0-9._-]+$`)
)

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
	// SLIP-44 coin type used for HD derivation on this chain.
	CoinType uint32
}

func (c Chain) Namespace() string {
	idx := strings.Index(c.CAIP2, ":")
	if idx < 0 {
		return ""
	}
	return c.CAIP2[:idx]
}

func (c Chain) IsEVM() bool    { return c.Namespace() == NamespaceEVM }
func (c Chain) IsUTXO() bool   { return c.Namespace() == NamespaceUTXO }
func (c Chain) IsCosmos() bool { return c.Namespace() == NamespaceCosmos }

type Asset struct {
	ChainID  string
	AssetID  string
	Symbol   string
	Address  string
	Decimals int
}

func (a Asset) Chain() (Chain, bool) {
	c, ok := chainByCAIP2[a.ChainID]
	return c, ok
}

func (a Asset) IsZero() bool { return a.AssetID == "" }

func (a Asset) String() string { return a.AssetID }

// SameChain reports whether both assets live on the same chain.
func (a Asset) SameChain(b Asset) bool { return a.ChainID == b.ChainID }

var chainBySlug = map[string]Chain{
	"ethereum":  {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, CoinType: 60},
	"mainnet":   {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, CoinType: 60},
	"base":      {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453, CoinType: 60},
	"arbitrum":  {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161, CoinType: 60},
	"avalanche": {Name: "Avalanche", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114, CoinType: 60},
	"polygon":   {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137, CoinType: 60},
	"bitcoin":   {Name: "Bitcoin", Slug: "bitcoin", CAIP2: "bip122:000000000019d6689c085ae165831e93", CoinType: 0},
	"litecoin":  {Name: "Litecoin", Slug: "litecoin", CAIP2: "bip122:12a765e31ffd4059bada1e25190f6e98", CoinType: 2},
	"dogecoin":  {Name: "Dogecoin", Slug: "dogecoin", CAIP2: "bip122:1a91e3dace36e2be3bf030a65679fe82", CoinType: 3},
	"cosmoshub": {Name: "Cosmos Hub", Slug: "cosmoshub", CAIP2: "cosmos:cosmoshub-4", CoinType: 118},
	"osmosis":   {Name: "Osmosis", Slug: "osmosis", CAIP2: "cosmos:osmosis-1", CoinType: 118},
	"thorchain": {Name: "THORChain", Slug: "thorchain", CAIP2: "cosmos:thorchain-1", CoinType: 931},
}

var chainByCAIP2 = func() map[string]Chain {
	out := make(map[string]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.CAIP2] = chain
	}
	return out
}()

// ParseChain resolves a chain slug or CAIP-2 identifier.
func ParseChain(input string) (Chain, error) {
	clean := strings.ToLower(strings.TrimSpace(input))
	if clean == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	if chain, ok := chainBySlug[clean]; ok {
		return chain, nil
	}
	if caip2Pattern.MatchString(clean) {
		if chain, ok := chainByCAIP2[clean]; ok {
			return chain, nil
		}
	}
	return Chain{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("unsupported chain %q (supported: %s)", input, strings.Join(ChainSlugs(), ", ")))
}

// ChainByCAIP2 resolves a known chain from its CAIP-2 identifier.
func ChainByCAIP2(caip2 string) (Chain, bool) {
	c, ok := chainByCAIP2[caip2]
	return c, ok
}

func ChainSlugs() []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(chainBySlug))
	for _, chain := range chainBySlug {
		if seen[chain.Slug] {
			continue
		}
		seen[chain.Slug] = true
		out = append(out, chain.Slug)
	}
	sort.Strings(out)
	return out
}

type knownToken struct {
	Symbol   string
	Address  string
	Decimals int
}

var tokensByChain = map[string][]knownToken{
	"eip155:1": {
		{Symbol: "ETH", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
	},
	"eip155:8453": {
		{Symbol: "ETH", Decimals: 18},
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
	},
	"eip155:42161": {
		{Symbol: "ETH", Decimals: 18},
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
	},
	"eip155:43114": {
		{Symbol: "AVAX", Decimals: 18},
		{Symbol: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
	},
	"eip155:137": {
		{Symbol: "POL", Decimals: 18},
	},
	"bip122:000000000019d6689c085ae165831e93": {
		{Symbol: "BTC", Decimals: 8},
	},
	"bip122:12a765e31ffd4059bada1e25190f6e98": {
		{Symbol: "LTC", Decimals: 8},
	},
	"bip122:1a91e3dace36e2be3bf030a65679fe82": {
		{Symbol: "DOGE", Decimals: 8},
	},
	"cosmos:cosmoshub-4": {
		{Symbol: "ATOM", Decimals: 6},
	},
	"cosmos:osmosis-1": {
		{Symbol: "OSMO", Decimals: 6},
	},
	"cosmos:thorchain-1": {
		{Symbol: "RUNE", Decimals: 8},
	},
}

// ParseAsset resolves a token reference on the given chain. The token may be
// a known symbol or, on EVM chains, a raw ERC-20 contract address.
func ParseAsset(chain Chain, token string) (Asset, error) {
	clean := strings.TrimSpace(token)
	if clean == "" {
		return Asset{}, clierr.New(clierr.CodeUsage, "asset is required")
	}

	if evmAddressPattern.MatchString(clean) {
		if !chain.IsEVM() {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("contract address %q is only valid on EVM chains", clean))
		}
		for _, t := range tokensByChain[chain.CAIP2] {
			if strings.EqualFold(t.Address, clean) {
				return assetFromToken(chain, t), nil
			}
		}
		return Asset{
			ChainID:  chain.CAIP2,
			AssetID:  fmt.Sprintf("%s/erc20:%s", chain.CAIP2, clean),
			Symbol:   strings.ToUpper(clean[:6]),
			Address:  clean,
			Decimals: 18,
		}, nil
	}

	upper := strings.ToUpper(clean)
	for _, t := range tokensByChain[chain.CAIP2] {
		if t.Symbol == upper {
			return assetFromToken(chain, t), nil
		}
	}
	return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown asset %q on %s", token, chain.Slug))
}

func assetFromToken(chain Chain, t knownToken) Asset {
	assetID := fmt.Sprintf("%s/slip44:%d", chain.CAIP2, chain.CoinType)
	if t.Address != "" {
		assetID = fmt.Sprintf("%s/erc20:%s", chain.CAIP2, t.Address)
	}
	return Asset{
		ChainID:  chain.CAIP2,
		AssetID:  assetID,
		Symbol:   t.Symbol,
		Address:  t.Address,
		Decimals: t.Decimals,
	}
}

// NativeAsset returns the chain's gas asset.
func NativeAsset(chain Chain) (Asset, error) {
	for _, t := range tokensByChain[chain.CAIP2] {
		if t.Address == "" {
			return assetFromToken(chain, t), nil
		}
	}
	return Asset{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("no native asset registered for %s", chain.Slug))
}
