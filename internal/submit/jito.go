package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"solana-copy-trader/internal/retry"
)

// Relay defaults.
const (
	DefaultRelayTimeout    = 10 * time.Second
	DefaultRelayRetries    = 2
	DefaultRelayRetryDelay = 100 * time.Millisecond
	DefaultRelayMaxDelay   = time.Second

	// MaxBundleSize is the relay's transaction limit per bundle.
	MaxBundleSize = 5
)

// Relay accepts atomic transaction bundles.
type Relay interface {
	// SendBundle submits wire-encoded transactions and returns the bundle ID.
	SendBundle(ctx context.Context, txs [][]byte) (string, error)
}

// JitoClient is a block-engine bundle relay client.
type JitoClient struct {
	endpoint   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	requestID  atomic.Uint64
}

// JitoOption configures JitoClient.
type JitoOption func(*JitoClient)

// WithJitoHTTPClient sets a custom http.Client.
func WithJitoHTTPClient(client *http.Client) JitoOption {
	return func(c *JitoClient) {
		c.client = client
	}
}

// WithJitoRetry sets retry attempts after the first call and the initial delay.
func WithJitoRetry(maxRetries int, delay time.Duration) JitoOption {
	return func(c *JitoClient) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// NewJitoClient creates a relay client for the block-engine bundles endpoint.
func NewJitoClient(endpoint string, opts ...JitoOption) *JitoClient {
	c := &JitoClient{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultRelayTimeout},
		maxRetries: DefaultRelayRetries,
		retryDelay: DefaultRelayRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type bundleRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      uint64     `json:"id"`
	Method  string     `json:"method"`
	Params  [][]string `json:"params"`
}

type bundleResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendBundle posts sendBundle with base58-encoded transactions.
func (c *JitoClient) SendBundle(ctx context.Context, txs [][]byte) (string, error) {
	if len(txs) == 0 || len(txs) > MaxBundleSize {
		return "", fmt.Errorf("bundle size %d out of range [1,%d]", len(txs), MaxBundleSize)
	}
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i] = base58.Encode(tx)
	}
	body, err := json.Marshal(bundleRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "sendBundle",
		Params:  [][]string{encoded},
	})
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}

	policy := retry.Exponential(c.maxRetries+1, c.retryDelay, DefaultRelayMaxDelay)
	return retry.DoValue(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		return c.post(ctx, body)
	})
}

func (c *JitoClient) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("relay status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", retry.Permanent(fmt.Errorf("relay status %d: %s", resp.StatusCode, respBody))
	}

	var out bundleResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	if out.Error != nil {
		return "", retry.Permanent(fmt.Errorf("relay error %d: %s", out.Error.Code, out.Error.Message))
	}
	if out.Result == "" {
		return "", retry.Permanent(errors.New("relay returned no bundle id"))
	}
	return out.Result, nil
}
