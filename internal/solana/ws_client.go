package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages. Pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// Commitment is used when a subscription does not set its own.
	Commitment string
	// BufferSize is the capacity of each notification channel.
	BufferSize int
	// Logger receives protocol diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
		Commitment:       CommitmentProcessed,
		BufferSize:       1024,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
// It never reconnects: the first transport error ends every subscription.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex // serializes writes
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription ID to its dispatcher
	subs       map[int64]*subscription
	subsClosed bool
	subsMu     sync.Mutex

	// pendingSubs maps request ID to a subscription awaiting confirmation
	pendingSubs   map[uint64]*pendingSub
	pendingSubsMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
	err      error
	errMu    sync.Mutex
	wg       sync.WaitGroup
}

// subscription dispatches notification results to one typed channel.
// Both funcs are only called from the read loop.
type subscription struct {
	method  string
	deliver func(result []byte) bool
	close   func()
}

type pendingSub struct {
	sub   *subscription
	reply chan error
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Commitment == "" {
		cfg.Commitment = CommitmentProcessed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger.Named("ws"),
		subs:        make(map[int64]*subscription),
		pendingSubs: make(map[uint64]*pendingSub),
		done:        make(chan struct{}),
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// SubscribeTransactions subscribes to transactions matching the filter.
func (c *WSClientImpl) SubscribeTransactions(ctx context.Context, filter TransactionFilter) (<-chan TransactionNotification, error) {
	txFilter := map[string]interface{}{
		"vote":   filter.IncludeVotes,
		"failed": filter.IncludeFailed,
	}
	if len(filter.AccountRequired) > 0 {
		txFilter["accountRequired"] = filter.AccountRequired
	}
	if len(filter.AccountInclude) > 0 {
		txFilter["accountInclude"] = filter.AccountInclude
	}
	if len(filter.AccountExclude) > 0 {
		txFilter["accountExclude"] = filter.AccountExclude
	}

	commitment := filter.Commitment
	if commitment == "" {
		commitment = c.config.Commitment
	}

	params := []interface{}{
		txFilter,
		map[string]interface{}{
			"commitment":                     commitment,
			"encoding":                       "json",
			"transactionDetails":             "full",
			"showRewards":                    false,
			"maxSupportedTransactionVersion": 0,
		},
	}

	ch := make(chan TransactionNotification, c.config.BufferSize)
	sub := &subscription{
		method: "transactionNotification",
		deliver: func(result []byte) bool {
			n, err := DecodeTransactionNotification(result)
			if err != nil {
				c.logger.Debug("decode transaction notification", zap.Error(err))
				n = TransactionNotification{Raw: result, DecodeErr: err}
			}
			// Block until we can send - never drop events
			select {
			case ch <- n:
				return true
			case <-c.done:
				return false
			}
		},
		close: func() { close(ch) },
	}

	if err := c.subscribe(ctx, "transactionSubscribe", params, sub); err != nil {
		return nil, err
	}
	return ch, nil
}

// SubscribeProgram subscribes to account changes of accounts owned by program.
func (c *WSClientImpl) SubscribeProgram(ctx context.Context, program string, filters []AccountFilter) (<-chan ProgramNotification, error) {
	config := map[string]interface{}{
		"commitment": c.config.Commitment,
		"encoding":   "base64",
	}
	if len(filters) > 0 {
		fs := make([]map[string]interface{}, len(filters))
		for i, f := range filters {
			fs[i] = f.toParam()
		}
		config["filters"] = fs
	}

	ch := make(chan ProgramNotification, c.config.BufferSize)
	sub := &subscription{
		method: "programNotification",
		deliver: func(result []byte) bool {
			n, err := DecodeProgramNotification(result)
			if err != nil {
				c.logger.Debug("decode program notification", zap.Error(err))
				n = ProgramNotification{Raw: result, DecodeErr: err}
			}
			select {
			case ch <- n:
				return true
			case <-c.done:
				return false
			}
		},
		close: func() { close(ch) },
	}

	if err := c.subscribe(ctx, "programSubscribe", []interface{}{program, config}, sub); err != nil {
		return nil, err
	}
	return ch, nil
}

// subscribe sends a subscription request; the read loop registers sub when the server confirms it.
func (c *WSClientImpl) subscribe(ctx context.Context, method string, params []interface{}, sub *subscription) error {
	if err := c.streamErr(); err != nil {
		return err
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	pending := &pendingSub{sub: sub, reply: make(chan error, 1)}
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = pending
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		dropPending()
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case err := <-pending.reply:
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		return nil
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return fmt.Errorf("%s: subscription timeout after %s", method, c.config.SubscribeTimeout)
	case <-c.done:
		return c.streamErr()
	case <-ctx.Done():
		dropPending()
		return ctx.Err()
	}
}

// Err returns the transport error that terminated the connection.
// It is nil while the connection is healthy, after Close, and after a normal remote close.
func (c *WSClientImpl) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *WSClientImpl) streamErr() error {
	select {
	case <-c.done:
		if err := c.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrStreamClosed, err)
		}
		return ErrStreamClosed
	default:
		return nil
	}
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	c.connMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.connMu.Unlock()

	c.shutdown(nil)
	c.wg.Wait()
	return nil
}

// shutdown records the terminal error once and stops both loops.
func (c *WSClientImpl) shutdown(err error) {
	c.doneOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
// It is the only sender on subscription channels and closes them on exit.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()
	defer c.closeSubscriptions()

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case c.closed.Load():
				c.shutdown(nil)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Info("remote closed connection")
				c.shutdown(nil)
			default:
				c.shutdown(fmt.Errorf("websocket read: %w", err))
			}
			return
		}

		if !c.handleMessage(message) {
			return
		}
	}
}

func (c *WSClientImpl) closeSubscriptions() {
	c.subsMu.Lock()
	for id, sub := range c.subs {
		sub.close()
		delete(c.subs, id)
	}
	c.subsClosed = true
	c.subsMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, p := range c.pendingSubs {
		p.reply <- ErrStreamClosed
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()
}

// handleMessage processes one incoming message. It returns false once the client is done.
func (c *WSClientImpl) handleMessage(message []byte) bool {
	var env wsEnvelope
	if err := sonnet.Unmarshal(message, &env); err != nil {
		c.logger.Warn("unparseable message", zap.Error(err), zap.Int("bytes", len(message)))
		return true
	}

	if env.Method != "" {
		if env.Params == nil {
			return true
		}
		c.subsMu.Lock()
		sub, ok := c.subs[env.Params.Subscription]
		c.subsMu.Unlock()
		if !ok || sub.method != env.Method {
			return true
		}
		return sub.deliver(env.Params.Result)
	}

	if env.ID == nil {
		return true
	}

	c.pendingSubsMu.Lock()
	pending, ok := c.pendingSubs[*env.ID]
	if ok {
		delete(c.pendingSubs, *env.ID)
	}
	c.pendingSubsMu.Unlock()
	if !ok {
		return true
	}

	if env.Error != nil {
		c.logger.Warn("subscription rejected",
			zap.Int("code", env.Error.Code),
			zap.String("message", env.Error.Message))
		pending.reply <- env.Error
		return true
	}

	var subID int64
	if err := sonnet.Unmarshal(env.Result, &subID); err != nil {
		pending.reply <- fmt.Errorf("parse subscription id: %w", err)
		return true
	}

	c.subsMu.Lock()
	c.subs[subID] = pending.sub
	c.subsMu.Unlock()
	pending.reply <- nil
	return true
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.connMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("ping failed", zap.Error(err))
			}
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsEnvelope covers subscription replies and notifications.
type wsEnvelope struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription int64           `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type wsTransactionResult struct {
	Signature   string `json:"signature"`
	Slot        uint64 `json:"slot"`
	Transaction *struct {
		Transaction *struct {
			Signatures []string `json:"signatures"`
			Message    *struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
		Meta *wsTransactionMeta `json:"meta"`
	} `json:"transaction"`
}

type wsTransactionMeta struct {
	Err               interface{}      `json:"err"`
	PreBalances       []uint64         `json:"preBalances"`
	PostBalances      []uint64         `json:"postBalances"`
	PreTokenBalances  []wsTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []wsTokenBalance `json:"postTokenBalances"`
	LogMessages       []string         `json:"logMessages"`
	LoadedAddresses   *struct {
		Writable []string `json:"writable"`
		Readonly []string `json:"readonly"`
	} `json:"loadedAddresses"`
}

type wsTokenBalance struct {
	AccountIndex  int            `json:"accountIndex"`
	Mint          string         `json:"mint"`
	Owner         string         `json:"owner"`
	UITokenAmount *uiTokenAmount `json:"uiTokenAmount"`
}

type wsProgramResult struct {
	Context *struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value *struct {
		Pubkey  string     `json:"pubkey"`
		Account rawAccount `json:"account"`
	} `json:"value"`
}

// DecodeTransactionNotification decodes a transactionSubscribe result payload.
// It also decodes payloads recorded by the audit trail.
func DecodeTransactionNotification(result []byte) (TransactionNotification, error) {
	var r wsTransactionResult
	if err := sonnet.Unmarshal(result, &r); err != nil {
		return TransactionNotification{}, fmt.Errorf("unmarshal transaction result: %w", err)
	}
	if r.Transaction == nil || r.Transaction.Transaction == nil || r.Transaction.Transaction.Message == nil {
		return TransactionNotification{}, fmt.Errorf("transaction notification without message")
	}
	if r.Transaction.Meta == nil {
		return TransactionNotification{}, fmt.Errorf("transaction notification without meta")
	}

	tx := r.Transaction.Transaction
	meta := r.Transaction.Meta

	n := TransactionNotification{
		Signature:    r.Signature,
		Slot:         r.Slot,
		LogMessages:  meta.LogMessages,
		Err:          meta.Err,
		PreBalances:  meta.PreBalances,
		PostBalances: meta.PostBalances,
		Raw:          result,
	}
	if n.Signature == "" && len(tx.Signatures) > 0 {
		n.Signature = tx.Signatures[0]
	}

	n.AccountKeys = append(n.AccountKeys, tx.Message.AccountKeys...)
	if meta.LoadedAddresses != nil {
		n.AccountKeys = append(n.AccountKeys, meta.LoadedAddresses.Writable...)
		n.AccountKeys = append(n.AccountKeys, meta.LoadedAddresses.Readonly...)
	}

	var err error
	if n.PreTokenBalances, err = convertTokenBalances(meta.PreTokenBalances); err != nil {
		return TransactionNotification{}, err
	}
	if n.PostTokenBalances, err = convertTokenBalances(meta.PostTokenBalances); err != nil {
		return TransactionNotification{}, err
	}
	return n, nil
}

func convertTokenBalances(in []wsTokenBalance) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		tb := TokenBalance{AccountIndex: b.AccountIndex, Mint: b.Mint, Owner: b.Owner}
		if b.UITokenAmount != nil {
			amount, err := parseAmount(b.UITokenAmount.Amount)
			if err != nil {
				return nil, err
			}
			tb.Amount = amount
			tb.Decimals = b.UITokenAmount.Decimals
		}
		out = append(out, tb)
	}
	return out, nil
}

// DecodeProgramNotification decodes a programSubscribe result payload.
func DecodeProgramNotification(result []byte) (ProgramNotification, error) {
	var r wsProgramResult
	if err := sonnet.Unmarshal(result, &r); err != nil {
		return ProgramNotification{}, fmt.Errorf("unmarshal program result: %w", err)
	}
	if r.Value == nil {
		return ProgramNotification{}, fmt.Errorf("program notification without value")
	}
	info, err := r.Value.Account.decode()
	if err != nil {
		return ProgramNotification{}, err
	}
	n := ProgramNotification{Pubkey: r.Value.Pubkey, Account: *info, Raw: result}
	if r.Context != nil {
		n.Slot = r.Context.Slot
	}
	return n, nil
}
