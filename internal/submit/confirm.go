package submit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/solana"
)

// DefaultPollInterval is the confirmation polling period.
const DefaultPollInterval = 500 * time.Millisecond

// Confirmer polls signature status until a transaction lands, fails, or its
// blockhash expires.
type Confirmer struct {
	rpc      solana.RPCClient
	interval time.Duration
	logger   *zap.Logger
}

// NewConfirmer creates a confirmer.
func NewConfirmer(rpc solana.RPCClient, interval time.Duration, logger *zap.Logger) *Confirmer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Confirmer{rpc: rpc, interval: interval, logger: logger}
}

// Wait blocks until signature reaches confirmed commitment.
// It returns ErrSubmissionFailure if the transaction executed with an error and
// ErrConfirmationTimeout once the block height passes lastValidBlockHeight.
// RPC errors while polling are logged and polling continues.
func (c *Confirmer) Wait(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		done, err := c.poll(ctx, signature, lastValidBlockHeight)
		if done {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", domain.ErrConfirmationTimeout, signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Confirmer) poll(ctx context.Context, signature string, lastValid uint64) (bool, error) {
	statuses, err := c.rpc.GetSignatureStatuses(ctx, signature)
	if err != nil {
		c.logger.Debug("signature status failed", zap.String("signature", signature), zap.Error(err))
	} else if len(statuses) > 0 && statuses[0] != nil {
		st := statuses[0]
		if st.Err != nil {
			return true, fmt.Errorf("%w: %s failed on chain: %v", domain.ErrSubmissionFailure, signature, st.Err)
		}
		if st.Landed() {
			return true, nil
		}
	}

	height, err := c.rpc.GetBlockHeight(ctx)
	if err != nil {
		c.logger.Debug("block height failed", zap.Error(err))
		return false, nil
	}
	if lastValid > 0 && height > lastValid {
		return true, fmt.Errorf("%w: %s not landed by block height %d", domain.ErrConfirmationTimeout, signature, lastValid)
	}
	return false, nil
}
