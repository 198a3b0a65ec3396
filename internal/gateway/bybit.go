package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal-core/pkg/exchanges/common"
)

// BybitConfig holds Bybit V5 credentials.
type BybitConfig struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Bybit is a Bybit V5 REST client implementing Gateway. Responses are
// decoded into typed DTOs at this boundary; schema mismatches fail fast
// instead of leaking zero values into sizing logic.
type Bybit struct {
	cfg         BybitConfig
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
}

func NewBybit(cfg BybitConfig) *Bybit {
	base := "https://api.bybit.com"
	if cfg.Testnet {
		base = "https://api-testnet.bybit.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	client := &Bybit{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	client.timeSync = common.NewTimeSync(func() (int64, error) {
		return client.GetServerTime()
	})
	// 120 requests per 5s window on the V5 REST surface
	client.rateLimiter = common.NewRateLimiter(120, 5*time.Second)
	go client.timeSync.Start(context.Background())
	return client
}

// backoffIfThrottled waits out the rest of the rate window when the reported
// remaining budget runs low.
func (b *Bybit) backoffIfThrottled(ctx context.Context) error {
	if !b.rateLimiter.ShouldDelay() {
		return nil
	}
	select {
	case <-time.After(500 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// envelope is the V5 response wrapper shared by all endpoints.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (b *Bybit) GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)

	body, err := b.do(ctx, http.MethodGet, "/v5/market/instruments-info", params, false)
	if err != nil {
		return InstrumentInfo{}, err
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				BasePrecision  string `json:"basePrecision"`
				MinOrderQty    string `json:"minOrderQty"`
				MaxOrderQty    string `json:"maxOrderQty"`
				MaxMktOrderQty string `json:"maxMktOrderQty"`
				QtyStep        string `json:"qtyStep"`
				MinOrderAmt    string `json:"minOrderAmt"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return InstrumentInfo{}, fmt.Errorf("decode instrument info: %w", err)
	}
	if len(result.List) == 0 {
		return InstrumentInfo{}, fmt.Errorf("instrument %s not found", symbol)
	}

	f := result.List[0].LotSizeFilter
	return InstrumentInfo{
		Symbol:         result.List[0].Symbol,
		MinOrderQty:    parseDecimal(f.MinOrderQty),
		MaxOrderQty:    parseDecimal(f.MaxOrderQty),
		MaxMktOrderQty: parseDecimal(f.MaxMktOrderQty),
		QtyStep:        parseDecimal(f.QtyStep),
		MinOrderAmt:    parseDecimal(f.MinOrderAmt),
		BasePrecision:  parseDecimal(f.BasePrecision),
	}, nil
}

func (b *Bybit) GetTickers(ctx context.Context, category string) ([]Ticker, error) {
	params := url.Values{}
	params.Set("category", category)

	body, err := b.do(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			Price24hPcnt string `json:"price24hPcnt"`
			Turnover24h  string `json:"turnover24h"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}

	now := time.Now()
	tickers := make([]Ticker, 0, len(result.List))
	for _, row := range result.List {
		tickers = append(tickers, Ticker{
			Symbol:       row.Symbol,
			LastPrice:    parseDecimal(row.LastPrice),
			Change24hPct: parseDecimal(row.Price24hPcnt),
			Volume24h:    parseDecimal(row.Turnover24h),
			UpdatedAt:    now,
		})
	}
	return tickers, nil
}

func (b *Bybit) GetWalletBalance(ctx context.Context) (BalanceSnapshot, error) {
	if b.cfg.APIKey == "" || b.cfg.APISecret == "" {
		return BalanceSnapshot{}, errors.New("bybit: API key/secret required")
	}
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	body, err := b.do(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return BalanceSnapshot{}, err
	}

	var result struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				Locked          string `json:"locked"`
				AvailableToSell string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return BalanceSnapshot{}, fmt.Errorf("decode wallet balance: %w", err)
	}
	if len(result.List) == 0 {
		return BalanceSnapshot{}, errors.New("wallet balance response has no accounts")
	}

	coins := make(map[string]decimal.Decimal)
	for _, c := range result.List[0].Coin {
		free := parseDecimal(c.WalletBalance).Sub(parseDecimal(c.Locked))
		if free.Sign() > 0 {
			coins[c.Coin] = free
		}
	}
	return BalanceSnapshot{Coins: coins, FetchedAt: time.Now()}, nil
}

func (b *Bybit) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if b.cfg.APIKey == "" || b.cfg.APISecret == "" {
		return OrderResult{}, errors.New("bybit: API key/secret required")
	}

	payload := map[string]string{
		"category":  req.Category,
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": string(req.Type),
		"qty":       req.Qty,
	}
	if req.Type == OrderTypeLimit {
		payload["price"] = req.Price.String()
	}
	if req.ClientID != "" {
		payload["orderLinkId"] = req.ClientID
	}
	if req.Side == SideBuy && req.Type == OrderTypeMarket {
		// qty is in base units; V5 defaults market buys to quote units
		payload["marketUnit"] = "baseCoin"
	}

	bodyJSON, err := json.Marshal(payload)
	if err != nil {
		return OrderResult{}, err
	}

	env, err := b.doSignedJSON(ctx, "/v5/order/create", bodyJSON)
	if err != nil {
		return OrderResult{}, err
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &result); err != nil {
			return OrderResult{}, fmt.Errorf("decode order result: %w", err)
		}
	}

	return OrderResult{
		RetCode: env.RetCode,
		RetMsg:  env.RetMsg,
		OrderID: result.OrderID,
	}, nil
}

// GetServerTime fetches server time (ms) for clock-offset correction.
func (b *Bybit) GetServerTime() (int64, error) {
	resp, err := b.httpClient.Get(b.baseURL + "/v5/market/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server time status %d: %s", resp.StatusCode, string(raw))
	}
	var res struct {
		Result struct {
			TimeNano string `json:"timeNano"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	nanos, err := strconv.ParseInt(res.Result.TimeNano, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse server time: %w", err)
	}
	return nanos / int64(time.Millisecond), nil
}

// do performs a GET-style request; signed requests carry the V5 auth headers.
func (b *Bybit) do(ctx context.Context, method, path string, params url.Values, signed bool) (json.RawMessage, error) {
	if err := b.backoffIfThrottled(ctx); err != nil {
		return nil, err
	}

	encoded := params.Encode()
	endpoint := b.baseURL + path
	if encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if signed {
		b.signRequest(req, encoded)
	}

	res, err := b.httpClient.Do(req)
	if err != nil {
		return nil, Transient(path, err)
	}
	defer res.Body.Close()

	b.rateLimiter.UpdateFromHeader(res.Header.Get("X-Bapi-Limit-Status"))

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
		return nil, Transient(path, fmt.Errorf("status %d: %s", res.StatusCode, string(raw)))
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("bybit %s status %d: %s", path, res.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit %s retCode=%d: %s", path, env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

// doSignedJSON posts a signed JSON body and returns the envelope so the
// caller can surface retCode-level rejections without losing the result.
func (b *Bybit) doSignedJSON(ctx context.Context, path string, body []byte) (envelope, error) {
	if err := b.backoffIfThrottled(ctx); err != nil {
		return envelope{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.signRequest(req, string(body))

	res, err := b.httpClient.Do(req)
	if err != nil {
		return envelope{}, Transient(path, err)
	}
	defer res.Body.Close()

	b.rateLimiter.UpdateFromHeader(res.Header.Get("X-Bapi-Limit-Status"))

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
		return envelope{}, Transient(path, fmt.Errorf("status %d: %s", res.StatusCode, string(raw)))
	}
	if res.StatusCode >= 300 {
		return envelope{}, fmt.Errorf("bybit %s status %d: %s", path, res.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// signRequest applies V5 HMAC auth headers.
// signature = HMAC_SHA256(timestamp + apiKey + recvWindow + payload)
func (b *Bybit) signRequest(req *http.Request, payload string) {
	timestamp := time.Now().UnixMilli()
	if b.timeSync != nil && b.timeSync.Offset() != 0 {
		timestamp = b.timeSync.Now()
	}
	ts := strconv.FormatInt(timestamp, 10)
	recv := strconv.FormatInt(b.cfg.RecvWindow, 10)

	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(ts + b.cfg.APIKey + recv + payload))

	req.Header.Set("X-BAPI-API-KEY", b.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recv)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
