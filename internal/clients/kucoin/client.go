// Package kucoin implements the exchange API client: balances, symbol
// metadata, spot prices and limit orders.
package kucoin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/domain"
)

const defaultBaseURL = "https://api.kucoin.com"

// Client is a signed REST client for the exchange. One instance per process;
// safe for sequential use from the pipeline stages.
type Client struct {
	baseURL    string
	key        string
	secret     string
	passphrase string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new exchange client
func NewClient(key, secret, passphrase string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		key:        key,
		secret:     secret,
		passphrase: passphrase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("client", "kucoin").Logger(),
	}
}

type apiEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type accountData struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Holds     string `json:"holds"`
}

type symbolData struct {
	Symbol         string `json:"symbol"`
	BaseCurrency   string `json:"baseCurrency"`
	QuoteCurrency  string `json:"quoteCurrency"`
	PriceIncrement string `json:"priceIncrement"`
	BaseIncrement  string `json:"baseIncrement"`
	EnableTrading  bool   `json:"enableTrading"`
}

type orderData struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	DealSize    string `json:"dealSize"`
	IsActive    bool   `json:"isActive"`
	CancelExist bool   `json:"cancelExist"`
	TimeInForce string `json:"timeInForce"`
	CreatedAt   int64  `json:"createdAt"`
}

// GetTradeAccounts returns every non-zero trade balance plus the quote
// currency balance, mirroring what the account manager needs to value the
// account.
func (c *Client) GetTradeAccounts(ctx context.Context) ([]domain.ExchangeBalance, error) {
	var accounts []accountData
	if err := c.get(ctx, "/api/v1/accounts", &accounts); err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}

	var balances []domain.ExchangeBalance
	for _, a := range accounts {
		if a.Type != "trade" {
			continue
		}
		balance := parseFloat(a.Balance)
		if balance <= 0 && a.Currency != domain.QuoteCurrency {
			continue
		}
		balances = append(balances, domain.ExchangeBalance{
			ID:        a.ID,
			Currency:  a.Currency,
			Type:      a.Type,
			Balance:   balance,
			Available: parseFloat(a.Available),
			Holds:     parseFloat(a.Holds),
		})
	}
	return balances, nil
}

// GetFiatPrice returns the quote-equivalent spot price for a currency.
func (c *Client) GetFiatPrice(ctx context.Context, currency string) (float64, error) {
	var prices map[string]string
	path := "/api/v1/prices?base=USD&currencies=" + currency
	if err := c.get(ctx, path, &prices); err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", currency, err)
	}

	raw, ok := prices[currency]
	if !ok {
		return 0, fmt.Errorf("no spot price for %s", currency)
	}
	return parseFloat(raw), nil
}

// GetSymbolInfo returns quantization rules for a trading pair.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	var data symbolData
	if err := c.get(ctx, "/api/v2/symbols/"+symbol, &data); err != nil {
		return domain.SymbolInfo{}, fmt.Errorf("failed to get symbol %s: %w", symbol, err)
	}
	return domain.SymbolInfo{
		Symbol:         data.Symbol,
		BaseCurrency:   data.BaseCurrency,
		QuoteCurrency:  data.QuoteCurrency,
		PriceIncrement: data.PriceIncrement,
		BaseIncrement:  data.BaseIncrement,
		EnableTrading:  data.EnableTrading,
	}, nil
}

// CreateLimitOrder places a limit order, quantizing price and size to the
// symbol's increments, and returns the exchange order id.
func (c *Client) CreateLimitOrder(ctx context.Context, req domain.CreateOrderRequest) (string, error) {
	info, err := c.GetSymbolInfo(ctx, req.Symbol)
	if err != nil {
		return "", err
	}

	price, err := quantize(req.Price, info.PriceIncrement)
	if err != nil {
		return "", fmt.Errorf("failed to quantize price for %s: %w", req.Symbol, err)
	}
	size, err := quantize(req.Size, info.BaseIncrement)
	if err != nil {
		return "", fmt.Errorf("failed to quantize size for %s: %w", req.Symbol, err)
	}
	if price <= 0 || size <= 0 {
		return "", fmt.Errorf("order for %s quantized to zero (price %.10f size %.10f)", req.Symbol, price, size)
	}

	payload := map[string]interface{}{
		"clientOid": uuid.New().String(),
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      "limit",
		"price":     strconv.FormatFloat(price, 'f', -1, 64),
		"size":      strconv.FormatFloat(size, 'f', -1, 64),
	}
	if req.TimeInForce != "" {
		payload["timeInForce"] = req.TimeInForce
	}
	if req.TimeInForce == "GTT" && req.CancelAfter > 0 {
		payload["cancelAfter"] = int64(req.CancelAfter / time.Second)
	}

	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := c.post(ctx, "/api/v1/orders", payload, &data); err != nil {
		return "", err
	}

	c.log.Info().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Float64("price", price).
		Float64("size", size).
		Str("order_id", data.OrderID).
		Msg("Limit order placed")
	return data.OrderID, nil
}

// GetOrder fetches an order by exchange id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.ExchangeOrder, error) {
	var data orderData
	if err := c.get(ctx, "/api/v1/orders/"+orderID, &data); err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	return toExchangeOrder(data), nil
}

// ListActiveOrders lists open orders, optionally filtered by side and symbol.
func (c *Client) ListActiveOrders(ctx context.Context, side, symbol string) ([]domain.ExchangeOrder, error) {
	path := "/api/v1/orders?status=active"
	if side != "" {
		path += "&side=" + side
	}
	if symbol != "" {
		path += "&symbol=" + symbol
	}

	var data struct {
		Items []orderData `json:"items"`
	}
	if err := c.get(ctx, path, &data); err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}

	orders := make([]domain.ExchangeOrder, 0, len(data.Items))
	for _, item := range data.Items {
		orders = append(orders, toExchangeOrder(item))
	}
	return orders, nil
}

// GetAllTickers returns every trading pair symbol on the exchange. Used by
// discovery only.
func (c *Client) GetAllTickers(ctx context.Context) ([]string, error) {
	var data struct {
		Ticker []struct {
			Symbol string `json:"symbol"`
		} `json:"ticker"`
	}
	if err := c.get(ctx, "/api/v1/market/allTickers", &data); err != nil {
		return nil, fmt.Errorf("failed to get all tickers: %w", err)
	}

	symbols := make([]string, 0, len(data.Ticker))
	for _, t := range data.Ticker {
		symbols = append(symbols, t.Symbol)
	}
	return symbols, nil
}

func toExchangeOrder(data orderData) domain.ExchangeOrder {
	return domain.ExchangeOrder{
		OrderID:     data.ID,
		Symbol:      data.Symbol,
		Side:        data.Side,
		Price:       parseFloat(data.Price),
		Size:        parseFloat(data.Size),
		DealSize:    parseFloat(data.DealSize),
		IsActive:    data.IsActive,
		CancelExist: data.CancelExist,
		TimeInForce: data.TimeInForce,
		CreatedAt:   time.UnixMilli(data.CreatedAt).UTC(),
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.sign(req, method, path, body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response (http %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || (envelope.Code != "" && envelope.Code != "200000") {
		return &APIError{
			HTTPStatus: resp.StatusCode,
			Code:       envelope.Code,
			Message:    envelope.Msg,
		}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// sign adds the KC-API-* authentication headers (key version 2).
func (c *Client) sign(req *http.Request, method, path string, body []byte) {
	if c.key == "" {
		return // unauthenticated endpoints still work for market data
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	payload := timestamp + strings.ToUpper(method) + path + string(body)

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(payload))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	passMac := hmac.New(sha256.New, []byte(c.secret))
	passMac.Write([]byte(c.passphrase))
	passphrase := base64.StdEncoding.EncodeToString(passMac.Sum(nil))

	req.Header.Set("KC-API-KEY", c.key)
	req.Header.Set("KC-API-SIGN", signature)
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-PASSPHRASE", passphrase)
	req.Header.Set("KC-API-KEY-VERSION", "2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
