package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hypertrack/internal/domain"
	"hypertrack/internal/infra"

	"github.com/shopspring/decimal"
)

// DefaultRestURL is the Hyperliquid mainnet info endpoint host.
const DefaultRestURL = "https://api.hyperliquid.xyz"

// Client is the Hyperliquid info API client (boundary layer). It is
// read-only: the observation venue is never traded on.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Hyperliquid info client.
func NewClient(cfg *infra.Config) *Client {
	baseURL := cfg.API.Hyperliquid.RestURL
	if baseURL == "" {
		baseURL = DefaultRestURL
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "hyperliquid_client"),
	}
}

// clearinghouseState mirrors the relevant slice of the info API response.
type clearinghouseState struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	AssetPositions []struct {
		Position struct {
			Coin     string `json:"coin"`
			Szi      string `json:"szi"` // signed size: positive long, negative short
			EntryPx  string `json:"entryPx"`
			MarkPx   string `json:"markPx"`
			Leverage struct {
				Value int `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
	Time int64 `json:"time"` // unix millis
}

// WalletPositions fetches the current positions of one source wallet and
// converts them to snapshots. A wallet with no open positions returns an
// empty slice; callers treat absence as flat.
func (c *Client) WalletPositions(ctx context.Context, wallet string) ([]domain.WalletPositionSnapshot, error) {
	reqBody := map[string]string{
		"type": "clearinghouseState",
		"user": wallet,
	}

	body, err := c.post(ctx, "/info", reqBody)
	if err != nil {
		return nil, err
	}

	var state clearinghouseState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to parse clearinghouse state: %w", err)
	}

	equity, err := decimal.NewFromString(state.MarginSummary.AccountValue)
	if err != nil {
		return nil, fmt.Errorf("bad account value %q: %w", state.MarginSummary.AccountValue, err)
	}

	observedAt := time.Now()
	if state.Time > 0 {
		observedAt = time.UnixMilli(state.Time)
	}

	snaps := make([]domain.WalletPositionSnapshot, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p := ap.Position
		szi, err := decimal.NewFromString(p.Szi)
		if err != nil || szi.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.EntryPx)
		mark, _ := decimal.NewFromString(p.MarkPx)

		snaps = append(snaps, domain.WalletPositionSnapshot{
			Wallet:        strings.ToLower(wallet),
			Symbol:        strings.ToUpper(p.Coin),
			SignedSize:    szi,
			EntryPrice:    entry,
			MarkPrice:     mark,
			AccountEquity: equity,
			ObservedAt:    observedAt,
		})
	}
	return snaps, nil
}

// AllMids fetches the venue-wide mid prices, keyed by symbol.
func (c *Client) AllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := c.post(ctx, "/info", map[string]string{"type": "allMids"})
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse mids: %w", err)
	}

	mids := make(map[string]decimal.Decimal, len(raw))
	for coin, px := range raw {
		if v, err := decimal.NewFromString(px); err == nil {
			mids[strings.ToUpper(coin)] = v
		}
	}
	return mids, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(jsonBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hyperliquid api error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}
