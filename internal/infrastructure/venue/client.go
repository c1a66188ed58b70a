// Package venue is the HTTP adapter for the prediction-market exchange:
// order submission, wallet balances, and trader discovery.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/services/orders"
)

const (
	defaultTimeout = 30 * time.Second
	maxReadRetries = 3
)

// Config represents venue API configuration
type Config struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	Environment string // "sandbox" or "production"
	Timeout     time.Duration
}

// Client represents a venue API client
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewClient creates a new venue API client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	httpClient := &http.Client{Timeout: config.Timeout}

	cbSettings := gobreaker.Settings{
		Name:        "VenueAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("venue circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     httpClient,
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		logger:         logger,
	}
}

type submitOrderPayload struct {
	AssetID        string `json:"asset_id"`
	Side           string `json:"side"`
	OrderType      string `json:"order_type"`
	SizeUSDC       string `json:"size_usdc"`
	SizeShares     string `json:"size_shares,omitempty"`
	LimitPrice     string `json:"limit_price"`
	MaxSlippageBps string `json:"max_slippage_bps"`
}

type submitOrderResponse struct {
	Status       string          `json:"status"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	FilledShares decimal.Decimal `json:"filled_shares"`
	Message      string          `json:"message"`
}

// SubmitOrder places one order. Submission is never retried: a duplicate
// submission is worse than a failed one, so transport errors surface to
// the caller as-is.
func (c *Client) SubmitOrder(ctx context.Context, req orders.SubmitOrderRequest) (*orders.SubmitOrderResult, error) {
	payload := submitOrderPayload{
		AssetID:        req.AssetID,
		Side:           string(req.Side),
		OrderType:      string(req.OrderType),
		SizeUSDC:       req.SizeUSDC.String(),
		SizeShares:     req.SizeShares.String(),
		LimitPrice:     req.LimitPrice.String(),
		MaxSlippageBps: req.MaxSlippageBps.String(),
	}

	var resp submitOrderResponse
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		if err := c.doOnce(ctx, http.MethodPost, "/v1/orders", payload, &resp); err != nil {
			return nil, err
		}
		return &orders.SubmitOrderResult{
			Status:       orders.VenueStatus(resp.Status),
			FillPrice:    resp.FillPrice,
			FilledShares: resp.FilledShares,
			Message:      resp.Message,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("submit order failed: %w", err)
	}
	return result.(*orders.SubmitOrderResult), nil
}

type balanceResponse struct {
	USDCBalance decimal.Decimal `json:"usdc_balance"`
}

// Balance returns the wallet's available USDC balance.
func (c *Client) Balance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var resp balanceResponse
	endpoint := fmt.Sprintf("/v1/wallets/%s/balance", url.PathEscape(walletID))
	if err := c.doWithRetry(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("get balance failed: %w", err)
	}
	return resp.USDCBalance, nil
}

type traderListResponse struct {
	Traders []string `json:"traders"`
}

// TradersForList resolves a curated trader list to wallet addresses.
func (c *Client) TradersForList(ctx context.Context, listID string) ([]string, error) {
	var resp traderListResponse
	endpoint := fmt.Sprintf("/v1/trader-lists/%s", url.PathEscape(listID))
	if err := c.doWithRetry(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("get trader list failed: %w", err)
	}
	return resp.Traders, nil
}

// TopTraders returns the current top-n leaderboard wallet addresses.
func (c *Client) TopTraders(ctx context.Context, n int) ([]string, error) {
	var resp traderListResponse
	endpoint := "/v1/leaderboard?limit=" + strconv.Itoa(n)
	if err := c.doWithRetry(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("get leaderboard failed: %w", err)
	}
	return resp.Traders, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, body, response interface{}) error {
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt <= maxReadRetries; attempt++ {
			if attempt > 0 {
				backoff := time.Duration(1<<(attempt-1)) * time.Second
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff):
				}
				c.logger.Debug("retrying venue API request",
					zap.Int("attempt", attempt),
					zap.String("method", method),
					zap.String("endpoint", endpoint))
			}

			if lastErr = c.doOnce(ctx, method, endpoint, body, response); lastErr == nil {
				return nil, nil
			}
		}
		return nil, lastErr
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, body, response interface{}) error {
	fullURL := c.config.BaseURL + endpoint

	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("x-venue-environment", c.config.Environment)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	if response != nil {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
