// Package exchange implements the market-data clients for the supported
// derivatives venues and the gateway that aggregates them behind one
// interface. REST fills the gaps; where a venue streams funding rates over
// WebSocket the gateway prefers the stream.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mkravets/fundarb/internal/crypto"
	"github.com/mkravets/fundarb/internal/domain"
)

// BinanceClient is the REST client for the Binance USD-M futures API.
type BinanceClient struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewBinanceClient creates a Binance futures REST client.
//
// baseURL is the API root, e.g. "https://fapi.binance.com". auth may be nil;
// without credentials the fee endpoint is unavailable and taker fees are
// reported unknown.
func NewBinanceClient(baseURL string, auth *crypto.HMACAuth) *BinanceClient {
	return &BinanceClient{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FundingRate returns the current funding rate for a contract symbol
// (e.g. "BTCUSDT") from the premium index endpoint.
func (c *BinanceClient) FundingRate(ctx context.Context, symbol string) (float64, time.Time, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doRequest(ctx, "/fapi/v1/premiumIndex", params, false)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("binance: funding rate %s: %w", symbol, err)
	}

	var resp struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
		Time            int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, time.Time{}, fmt.Errorf("binance: decode premium index: %w", err)
	}

	rate, err := strconv.ParseFloat(resp.LastFundingRate, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("binance: parse funding rate %q: %w", resp.LastFundingRate, err)
	}

	return rate, time.UnixMilli(resp.Time), nil
}

// TakerFee returns the account's taker commission rate for a symbol. The
// endpoint is private; without configured credentials the fee is reported
// unknown rather than zero.
func (c *BinanceClient) TakerFee(ctx context.Context, symbol string) (float64, bool, error) {
	if !c.auth.Configured() {
		return 0, false, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doRequest(ctx, "/fapi/v1/commissionRate", params, true)
	if err != nil {
		return 0, false, fmt.Errorf("binance: commission rate %s: %w", symbol, err)
	}

	var resp struct {
		Symbol              string `json:"symbol"`
		TakerCommissionRate string `json:"takerCommissionRate"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, false, fmt.Errorf("binance: decode commission rate: %w", err)
	}

	fee, err := strconv.ParseFloat(resp.TakerCommissionRate, 64)
	if err != nil {
		return 0, false, fmt.Errorf("binance: parse taker fee %q: %w", resp.TakerCommissionRate, err)
	}

	return fee, true, nil
}

// doRequest builds, optionally signs, sends, and reads a GET request.
// Binance signing appends timestamp and signature parameters to the query
// and carries the API key in a header.
func (c *BinanceClient) doRequest(ctx context.Context, path string, params url.Values, signed bool) ([]byte, error) {
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("signature", c.auth.SignQuery(params.Encode()))
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func (c *BinanceClient) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (%d): %w", apiErr.Msg, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%d)", apiErr.Msg, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%d)", apiErr.Msg, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%d)", statusCode, apiErr.Msg, apiErr.Code)
	}
}
