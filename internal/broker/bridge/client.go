package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dtms/internal/broker"
	"dtms/internal/pkg/circuit"
	"dtms/internal/types"

	"github.com/tidwall/gjson"
)

// Config describes how to reach the MT5 bridge collaborator.
type Config struct {
	APIURL         string
	APIToken       string
	TimeoutSeconds int

	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Client talks to the MT5 bridge REST API. Mutating endpoints return a
// trade-server retcode envelope which is mapped onto broker.Error; the
// transport is additionally guarded by a circuit breaker so a flapping
// bridge degrades to fast retryable failures instead of piling up
// blocked calls.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	breaker    *circuit.Breaker
}

// NewClient constructs a bridge client from configuration.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("bridge api_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing bridge api_url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	breakTimeout := cfg.BreakerTimeout
	if breakTimeout <= 0 {
		breakTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		token:      strings.TrimSpace(cfg.APIToken),
		breaker:    circuit.NewBreaker("bridge", threshold, breakTimeout),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Name() string { return "mt5-bridge" }

// ListOpenPositions fetches the live position list from the bridge.
func (c *Client) ListOpenPositions(ctx context.Context) ([]types.Position, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, err
	}
	items := gjson.GetBytes(raw, "positions")
	if !items.Exists() {
		items = gjson.ParseBytes(raw)
	}
	var out []types.Position
	items.ForEach(func(_, item gjson.Result) bool {
		pos := parsePosition(item)
		if pos.Ticket > 0 {
			out = append(out, pos)
		}
		return true
	})
	return out, nil
}

// AccountSummary fetches the equity picture used by the risk detector.
func (c *Client) AccountSummary(ctx context.Context) (types.Account, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/account", nil)
	if err != nil {
		return types.Account{}, err
	}
	doc := gjson.ParseBytes(raw)
	return types.Account{
		Equity:      doc.Get("equity").Float(),
		Balance:     doc.Get("balance").Float(),
		DailyPnL:    doc.Get("profit_today").Float(),
		Currency:    doc.Get("currency").String(),
		RefreshedAt: time.Now().UTC(),
	}, nil
}

// ModifyStopLoss moves the protective stop of an open position.
func (c *Client) ModifyStopLoss(ctx context.Context, ticket int64, stopLoss float64, comment string) error {
	payload := map[string]any{"sl": stopLoss, "comment": comment}
	raw, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/positions/%d/modify", ticket), payload)
	if err != nil {
		return err
	}
	return checkRetcode(raw)
}

// PartialClose closes part of a position by volume.
func (c *Client) PartialClose(ctx context.Context, ticket int64, volume float64, comment string) error {
	if volume <= 0 {
		return broker.NewError(broker.CodeInvalidVolume, "partial close volume must be positive")
	}
	payload := map[string]any{"volume": volume, "comment": comment}
	raw, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/positions/%d/close", ticket), payload)
	if err != nil {
		return err
	}
	return checkRetcode(raw)
}

// ClosePosition flattens the position entirely.
func (c *Client) ClosePosition(ctx context.Context, ticket int64, comment string) error {
	payload := map[string]any{"comment": comment}
	raw, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/positions/%d/close", ticket), payload)
	if err != nil {
		return err
	}
	return checkRetcode(raw)
}

func parsePosition(item gjson.Result) types.Position {
	pos := types.Position{
		Ticket:          item.Get("ticket").Int(),
		Symbol:          item.Get("symbol").String(),
		Direction:       types.ParseDirection(item.Get("type").String()),
		Volume:          item.Get("volume").Float(),
		EntryPrice:      item.Get("price_open").Float(),
		StopLoss:        item.Get("sl").Float(),
		TakeProfit:      item.Get("tp").Float(),
		InitialStopLoss: item.Get("sl_initial").Float(),
		CurrentPrice:    item.Get("price_current").Float(),
		RealizedPnL:     item.Get("profit_realized").Float(),
		TradeClass:      types.ParseTradeClass(item.Get("trade_class").String()),
		UpdatedAt:       time.Now().UTC(),
	}
	if ts := item.Get("time").Int(); ts > 0 {
		pos.OpenedAt = time.Unix(ts, 0).UTC()
	}
	item.Get("entry_factors").ForEach(func(_, f gjson.Result) bool {
		name := f.Get("name").String()
		if name != "" {
			pos.EntryFactors = append(pos.EntryFactors, types.EntryFactor{
				Name:    name,
				Bullish: f.Get("bullish").Bool(),
			})
		}
		return true
	})
	return pos
}

// checkRetcode maps the bridge's trade-server envelope onto broker.Error.
func checkRetcode(raw []byte) error {
	doc := gjson.ParseBytes(raw)
	code := doc.Get("retcode").Int()
	if code == 0 || code == broker.CodeDone {
		return nil
	}
	msg := doc.Get("message").String()
	if msg == "" {
		msg = "bridge rejected request"
	}
	return broker.NewError(int(code), msg)
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("bridge client not initialized")
	}
	if !c.breaker.Allow() {
		return nil, broker.NewError(broker.CodeConnection, "bridge circuit open")
	}
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling bridge request failed: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building bridge request failed: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, broker.NewError(broker.CodeConnection, err.Error())
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		return nil, broker.NewError(broker.CodeConnection, fmt.Sprintf("bridge %s: %s", resp.Status, strings.TrimSpace(string(data))))
	}
	c.breaker.RecordSuccess()
	if resp.StatusCode >= 300 {
		if code := gjson.GetBytes(data, "retcode").Int(); code > 0 {
			return nil, broker.NewError(int(code), gjson.GetBytes(data, "message").String())
		}
		return nil, broker.NewError(broker.CodeRejected, fmt.Sprintf("bridge %s", resp.Status))
	}
	return data, nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("bridge api url not set")
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "/"
	}
	ref := &url.URL{Path: strings.TrimLeft(trimmed, "/")}
	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref), nil
}
