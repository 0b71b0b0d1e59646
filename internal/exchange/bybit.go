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

// BybitClient is the REST client for the Bybit V5 API, linear (USDT
// perpetual) category.
type BybitClient struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewBybitClient creates a Bybit V5 REST client.
//
// baseURL is the API root, e.g. "https://api.bybit.com". auth may be nil;
// without credentials the fee-rate endpoint is unavailable and taker fees
// are reported unknown.
func NewBybitClient(baseURL string, auth *crypto.HMACAuth) *BybitClient {
	return &BybitClient{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// bybitEnvelope is the common V5 response wrapper. retCode 0 is success;
// everything else is an API-level error even when HTTP is 200.
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// FundingRate returns the current funding rate for a contract symbol
// (e.g. "BTCUSDT") from the tickers endpoint.
func (c *BybitClient) FundingRate(ctx context.Context, symbol string) (float64, time.Time, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)

	result, err := c.doRequest(ctx, "/v5/market/tickers", params, false)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("bybit: funding rate %s: %w", symbol, err)
	}

	var resp struct {
		List []struct {
			Symbol          string `json:"symbol"`
			FundingRate     string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return 0, time.Time{}, fmt.Errorf("bybit: decode tickers: %w", err)
	}
	if len(resp.List) == 0 {
		return 0, time.Time{}, fmt.Errorf("bybit: funding rate %s: %w", symbol, domain.ErrNotFound)
	}

	rate, err := strconv.ParseFloat(resp.List[0].FundingRate, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("bybit: parse funding rate %q: %w", resp.List[0].FundingRate, err)
	}

	return rate, time.Now(), nil
}

// TakerFee returns the account's taker fee rate for a symbol. The endpoint
// is private; without configured credentials the fee is reported unknown
// rather than zero.
func (c *BybitClient) TakerFee(ctx context.Context, symbol string) (float64, bool, error) {
	if !c.auth.Configured() {
		return 0, false, nil
	}

	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)

	result, err := c.doRequest(ctx, "/v5/account/fee-rate", params, true)
	if err != nil {
		return 0, false, fmt.Errorf("bybit: fee rate %s: %w", symbol, err)
	}

	var resp struct {
		List []struct {
			Symbol       string `json:"symbol"`
			TakerFeeRate string `json:"takerFeeRate"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return 0, false, fmt.Errorf("bybit: decode fee rate: %w", err)
	}
	if len(resp.List) == 0 {
		return 0, false, nil
	}

	fee, err := strconv.ParseFloat(resp.List[0].TakerFeeRate, 64)
	if err != nil {
		return 0, false, fmt.Errorf("bybit: parse taker fee %q: %w", resp.List[0].TakerFeeRate, err)
	}

	return fee, true, nil
}

// doRequest builds, optionally signs, sends, and unwraps a GET request.
// Bybit signing travels in X-BAPI-* headers over the raw query string.
func (c *BybitClient) doRequest(ctx context.Context, path string, params url.Values, signed bool) (json.RawMessage, error) {
	query := params.Encode()

	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		for k, v := range c.auth.BybitHeaders(query) {
			req.Header.Set(k, v)
		}
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
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}

	var envelope bybitEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.RetCode != 0 {
		return nil, fmt.Errorf("API error %d: %s", envelope.RetCode, envelope.RetMsg)
	}

	return envelope.Result, nil
}
