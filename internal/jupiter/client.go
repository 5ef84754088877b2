// Package jupiter is a client for the public Jupiter swap aggregator API.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/retry"
)

// Default configuration values.
const (
	DefaultBaseURL    = "https://quote-api.jup.ag/v6"
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 200 * time.Millisecond
	DefaultMaxDelay   = 2 * time.Second
)

// Swap modes.
const (
	SwapModeExactIn  = "ExactIn"
	SwapModeExactOut = "ExactOut"
)

// ErrNoRoute is returned when the aggregator has no route or payload for a pair.
var ErrNoRoute = errors.New("aggregator has no route")

// Client calls the quote and swap endpoints.
type Client struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithRetry sets the retry count and initial delay for transient failures.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// NewClient creates a client for baseURL. An empty baseURL selects the public endpoint.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuoteRequest selects a pair and amount. Amount is in raw units of the input
// mint for ExactIn and of the output mint for ExactOut.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
	SwapMode    string
}

// Quote is a quote response. Raw keeps the full body for the swap call.
type Quote struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SwapMode             string `json:"swapMode"`
	SlippageBps          int    `json:"slippageBps"`
	PriceImpactPct       string `json:"priceImpactPct"`

	Raw json.RawMessage `json:"-"`
}

// OutAmountUint parses OutAmount.
func (q *Quote) OutAmountUint() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

// SwapRequest asks for a ready-to-sign transaction for quote.
type SwapRequest struct {
	Quote                     *Quote
	UserPublicKey             string
	WrapAndUnwrapSOL          bool
	DynamicComputeUnitLimit   bool
	PrioritizationFeeLamports uint64
}

// SwapResponse holds the base64 serialized transaction.
type SwapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("jupiter api %d: %s", e.Status, e.Message)
}

// Quote fetches the best route for req.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	if req.SwapMode != "" {
		q.Set("swapMode", req.SwapMode)
	}

	start := time.Now()
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	observability.RecordRPCLatency("jupiter_quote", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("quote: decode: %w", err)
	}
	if quote.OutAmount == "" || quote.OutAmount == "0" {
		return nil, fmt.Errorf("quote %s -> %s: %w", req.InputMint, req.OutputMint, ErrNoRoute)
	}
	quote.Raw = body
	return &quote, nil
}

// Swap fetches the serialized swap transaction for a quote.
func (c *Client) Swap(ctx context.Context, req SwapRequest) (*SwapResponse, error) {
	if req.Quote == nil || len(req.Quote.Raw) == 0 {
		return nil, fmt.Errorf("swap: missing quote")
	}
	payload, err := json.Marshal(struct {
		QuoteResponse             json.RawMessage `json:"quoteResponse"`
		UserPublicKey             string          `json:"userPublicKey"`
		WrapAndUnwrapSOL          bool            `json:"wrapAndUnwrapSol"`
		DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
		PrioritizationFeeLamports uint64          `json:"prioritizationFeeLamports,omitempty"`
	}{
		QuoteResponse:             req.Quote.Raw,
		UserPublicKey:             req.UserPublicKey,
		WrapAndUnwrapSOL:          req.WrapAndUnwrapSOL,
		DynamicComputeUnitLimit:   req.DynamicComputeUnitLimit,
		PrioritizationFeeLamports: req.PrioritizationFeeLamports,
	})
	if err != nil {
		return nil, fmt.Errorf("swap: marshal: %w", err)
	}

	start := time.Now()
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/swap", payload)
	observability.RecordRPCLatency("jupiter_swap", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}

	var resp SwapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("swap: decode: %w", err)
	}
	if resp.SwapTransaction == "" {
		return nil, fmt.Errorf("swap: empty transaction: %w", ErrNoRoute)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	policy := retry.Exponential(c.maxRetries+1, c.retryDelay, c.maxDelay)
	return retry.DoValue(ctx, policy, func(ctx context.Context, _ int) ([]byte, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return respBody, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &apiError{Status: resp.StatusCode, Message: string(respBody)}
		default:
			// 4xx means the pair or amount is not routable
			return nil, retry.Permanent(fmt.Errorf("%w: %w", ErrNoRoute, &apiError{Status: resp.StatusCode, Message: errorMessage(respBody)}))
		}
	})
}

func errorMessage(body []byte) string {
	var e struct {
		Error     string `json:"error"`
		ErrorCode string `json:"errorCode"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		if e.ErrorCode != "" {
			return e.ErrorCode + ": " + e.Error
		}
		return e.Error
	}
	return string(body)
}
