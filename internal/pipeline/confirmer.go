package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/plagtech/spraay-solana-gateway/internal/metrics"
)

// Confirmer waits for submitted chunks to reach a terminal state.
type Confirmer struct {
	ledger   Ledger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewConfirmer(ledger Ledger, interval, timeout time.Duration, logger *slog.Logger) *Confirmer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Confirmer{ledger: ledger, interval: interval, timeout: timeout, logger: logger.With("component", "confirmer")}
}

// Wait polls every pending record concurrently until each one is confirmed
// or failed. Each poller writes only its own element of records.
func (c *Confirmer) Wait(ctx context.Context, kind model.AssetKind, records []model.SubmissionRecord, window model.ValidityWindow) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for i := range records {
		if records[i].Status.Terminal() || !records[i].Submitted {
			continue
		}
		wg.Add(1)
		go func(rec *model.SubmissionRecord) {
			defer wg.Done()
			start := time.Now()
			v := c.poll(ctx, rec, window)
			rec.Status = v.status
			if v.err != nil {
				rec.Error = v.err.Error()
			}
			metrics.ChunkConfirmations.WithLabelValues(string(kind), string(v.status), v.reason).Inc()
			metrics.ChunkConfirmLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
			c.logger.Info("chunk settled",
				"chunk", rec.ChunkIndex,
				"signature", rec.Signature,
				"status", v.status,
				"reason", v.reason,
			)
		}(&records[i])
	}
	wg.Wait()
}

type verdict struct {
	status model.SubmissionStatus
	reason string
	err    error
}

func failed(reason string, err error) verdict {
	return verdict{status: model.SubmissionFailed, reason: reason, err: err}
}

func (c *Confirmer) poll(ctx context.Context, rec *model.SubmissionRecord, window model.ValidityWindow) verdict {
	sig, err := solana.SignatureFromBase58(rec.Signature)
	if err != nil {
		return failed("bad_signature", fmt.Errorf("parse signature: %w", err))
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if v, done := c.check(ctx, rec, sig); done {
			return v
		}

		height, err := c.ledger.BlockHeight(ctx)
		switch {
		case err != nil:
			c.logger.Warn("block height poll failed", "chunk", rec.ChunkIndex, "error", err)
		case height > window.LastValidBlockHeight:
			// The transaction may have landed between the two reads.
			if v, done := c.check(ctx, rec, sig); done {
				return v
			}
			return failed("expired", fmt.Errorf("%w: block height %d > last valid %d",
				ErrWindowExpired, height, window.LastValidBlockHeight))
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return failed("timeout", fmt.Errorf("%w after %s", ErrConfirmTimeout, c.timeout))
			}
			return failed("canceled", ctx.Err())
		case <-ticker.C:
		}
	}
}

// check reports done when the signature reached a terminal state.
func (c *Confirmer) check(ctx context.Context, rec *model.SubmissionRecord, sig solana.Signature) (verdict, bool) {
	state, err := c.ledger.SignatureStatus(ctx, sig)
	if err != nil {
		c.logger.Warn("signature status poll failed", "chunk", rec.ChunkIndex, "signature", rec.Signature, "error", err)
		return verdict{}, false
	}
	if state == nil {
		return verdict{}, false
	}
	if state.Failed() {
		return failed("onchain_error", fmt.Errorf("transaction failed on-chain: %s", state.Err)), true
	}
	if state.Confirmed() {
		return verdict{status: model.SubmissionConfirmed, reason: state.ConfirmationStatus}, true
	}
	return verdict{}, false
}
