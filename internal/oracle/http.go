package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/id"
)

// HTTPClient fetches rates from a simple JSON endpoint and caches them
// in-process. The endpoint takes a comma-separated list of asset ids and
// responds with {"rates": {"<asset id>": "<decimal>"}}.
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	retries    int
	cache      *gocache.Cache
}

type HTTPOptions struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Retries  int
	CacheTTL time.Duration
}

func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, clierr.New(clierr.CodeUsage, "oracle endpoint is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: opts.Timeout},
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		retries:    opts.Retries,
		cache:      gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}, nil
}

type ratesResponse struct {
	Rates map[string]string `json:"rates"`
}

func (c *HTTPClient) Rates(ctx context.Context, assets []id.Asset) (Rates, error) {
	out := make(Rates, len(assets))
	var missing []string
	for _, asset := range assets {
		if cached, ok := c.cache.Get(asset.AssetID); ok {
			out[asset.AssetID] = cached.(decimal.Decimal)
			continue
		}
		missing = append(missing, asset.AssetID)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for assetID, rate := range fetched {
		c.cache.SetDefault(assetID, rate)
		out[assetID] = rate
	}
	return out, nil
}

func (c *HTTPClient) fetch(ctx context.Context, assetIDs []string) (Rates, error) {
	endpoint := fmt.Sprintf("%s?assets=%s", c.endpoint, url.QueryEscape(strings.Join(assetIDs, ",")))

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "rate request cancelled", ctx.Err())
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
		rates, err := c.doFetch(ctx, endpoint)
		if err == nil {
			return rates, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *HTTPClient) doFetch(ctx context.Context, endpoint string) (Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build rate request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch rates", err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read rate response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("rate endpoint returned status %d", resp.StatusCode))
	}

	var parsed ratesResponse
	if err := json.Unmarshal(buf, &parsed); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode rate response", err)
	}

	out := make(Rates, len(parsed.Rates))
	for assetID, raw := range parsed.Rates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("invalid rate for %s", assetID), err)
		}
		out[assetID] = rate
	}
	return out, nil
}
