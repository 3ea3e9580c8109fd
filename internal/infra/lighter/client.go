package lighter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

// DefaultBaseURL is the Lighter mainnet REST endpoint.
const DefaultBaseURL = "https://mainnet.zklighter.elliot.ai"

// Client is the Lighter REST API client (boundary layer). It implements
// domain.ExecutionClient; every error it returns is a domain.ExecError so
// the coordinator can tell transient failures from terminal ones.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
}

// NewClient creates a new Lighter API client.
func NewClient(cfg *infra.Config) *Client {
	baseURL := cfg.API.Lighter.RestURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
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
		signer: NewSigner(cfg.API.Lighter.AccessKey, cfg.API.Lighter.SecretKey),
		logger: slog.Default().With("module", "lighter_client"),
	}
}

type placeOrderRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`      // buy, sell
	OrderType  string `json:"orderType"` // market only for now
	Size       string `json:"size"`
	ReduceOnly bool   `json:"reduceOnly"`
}

type placeOrderResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		OrderID    string `json:"orderId"`
		FilledSize string `json:"filledSize"`
		AvgPrice   string `json:"avgPrice"`
	} `json:"data"`
}

// SubmitMarketOrder sends a market order and returns the confirmed fill.
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol string, side domain.Side, size decimal.Decimal, reduceOnly bool) (domain.Fill, error) {
	sideStr := "buy"
	if side == domain.SideShort {
		sideStr = "sell"
	}
	// A reduce-only order closes the opposite-side position, so the wire
	// side is the direction of the closing trade itself.

	reqBody := placeOrderRequest{
		Symbol:     strings.ToUpper(symbol),
		Side:       sideStr,
		OrderType:  "market",
		Size:       size.String(),
		ReduceOnly: reduceOnly,
	}

	body, err := c.doRequest(ctx, "POST", "/api/v1/order", reqBody)
	if err != nil {
		return domain.Fill{}, err
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Fill{}, domain.NewExecError(domain.ExecErrValidation, "place_order", fmt.Errorf("failed to parse response: %w", err))
	}
	if resp.Code != "0" {
		return domain.Fill{}, businessError("place_order", resp.Code, resp.Msg)
	}

	fill := domain.Fill{OrderRef: resp.Data.OrderID}
	if resp.Data.FilledSize != "" {
		if v, err := decimal.NewFromString(resp.Data.FilledSize); err == nil {
			fill.FilledSize = v
		}
	}
	if resp.Data.AvgPrice != "" {
		if v, err := decimal.NewFromString(resp.Data.AvgPrice); err == nil {
			fill.AvgPrice = v
		}
	}

	c.logger.Info("✅ Order Filled", "symbol", symbol, "side", sideStr, "size", size.String(), "oid", fill.OrderRef)
	return fill, nil
}

type accountResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Equity    string `json:"equity"`
		Available string `json:"availableBalance"`
	} `json:"data"`
}

// Balance fetches the follower account equity and available balance.
func (c *Client) Balance(ctx context.Context) (domain.AccountState, error) {
	body, err := c.doRequest(ctx, "GET", "/api/v1/account", nil)
	if err != nil {
		return domain.AccountState{}, err
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.AccountState{}, domain.NewExecError(domain.ExecErrConnectivity, "balance", err)
	}
	if resp.Code != "0" {
		return domain.AccountState{}, businessError("balance", resp.Code, resp.Msg)
	}

	var state domain.AccountState
	if state.Equity, err = decimal.NewFromString(resp.Data.Equity); err != nil {
		return domain.AccountState{}, domain.NewExecError(domain.ExecErrValidation, "balance", fmt.Errorf("bad equity %q: %w", resp.Data.Equity, err))
	}
	if state.Available, err = decimal.NewFromString(resp.Data.Available); err != nil {
		return domain.AccountState{}, domain.NewExecError(domain.ExecErrValidation, "balance", fmt.Errorf("bad available %q: %w", resp.Data.Available, err))
	}
	return state, nil
}

type positionsResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Symbol     string `json:"symbol"`
		Side       string `json:"side"` // long, short
		Size       string `json:"size"`
		EntryPrice string `json:"entryPrice"`
	} `json:"data"`
}

// Positions fetches the follower's open positions on the venue.
func (c *Client) Positions(ctx context.Context) ([]domain.VenuePosition, error) {
	body, err := c.doRequest(ctx, "GET", "/api/v1/positions", nil)
	if err != nil {
		return nil, err
	}

	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewExecError(domain.ExecErrConnectivity, "positions", err)
	}
	if resp.Code != "0" {
		return nil, businessError("positions", resp.Code, resp.Msg)
	}

	out := make([]domain.VenuePosition, 0, len(resp.Data))
	for _, p := range resp.Data {
		size, err := decimal.NewFromString(p.Size)
		if err != nil || size.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)

		side := domain.SideLong
		if strings.EqualFold(p.Side, "short") {
			side = domain.SideShort
		}
		out = append(out, domain.VenuePosition{
			Symbol:     strings.ToUpper(p.Symbol),
			Side:       side,
			Size:       size.Abs(),
			EntryPrice: entry,
		})
	}
	return out, nil
}

type tickerResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		MarkPrice string `json:"markPrice"`
	} `json:"data"`
}

// MarkPrice fetches the current mark price for a symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	path := "/api/v1/ticker?symbol=" + strings.ToUpper(symbol)
	body, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return decimal.Zero, err
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, domain.NewExecError(domain.ExecErrConnectivity, "mark_price", err)
	}
	if resp.Code != "0" {
		return decimal.Zero, businessError("mark_price", resp.Code, resp.Msg)
	}

	price, err := decimal.NewFromString(resp.Data.MarkPrice)
	if err != nil {
		return decimal.Zero, domain.NewExecError(domain.ExecErrValidation, "mark_price", fmt.Errorf("bad mark price %q: %w", resp.Data.MarkPrice, err))
	}
	return price, nil
}

// doRequest handles auth headers, serialization and transport-level error
// classification.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	op := method + " " + path

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, domain.NewExecError(domain.ExecErrValidation, op, err)
		}
		bodyReader = bytes.NewBuffer(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, domain.NewExecError(domain.ExecErrValidation, op, err)
	}

	for k, v := range c.signer.GenerateHeaders(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewExecError(domain.ExecErrTimeout, op, err)
		}
		return nil, domain.NewExecError(domain.ExecErrConnectivity, op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewExecError(domain.ExecErrConnectivity, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return bodyBytes, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewExecError(domain.ExecErrRateLimited, op, fmt.Errorf("status=%d body=%s", resp.StatusCode, bodyBytes))
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, domain.NewExecError(domain.ExecErrConnectivity, op, fmt.Errorf("status=%d body=%s", resp.StatusCode, bodyBytes))
	default:
		return nil, domain.NewExecError(domain.ExecErrRejected, op, fmt.Errorf("status=%d body=%s", resp.StatusCode, bodyBytes))
	}
}

// businessError maps Lighter business codes onto the execution error
// taxonomy. Unknown codes are treated as terminal rejections.
func businessError(op, code, msg string) error {
	kind := domain.ExecErrRejected
	switch code {
	case "429", "10006": // rate limit
		kind = domain.ExecErrRateLimited
	case "10001": // invalid parameter
		kind = domain.ExecErrValidation
	}
	return domain.NewExecError(kind, op, fmt.Errorf("lighter business error: code=%s msg=%s", code, msg))
}
