package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/plagtech/spraay-solana-gateway/internal/metrics"
)

// Submitter signs and sends chunks strictly in order.
type Submitter struct {
	ledger   Ledger
	treasury Treasury
	logger   *slog.Logger
}

func NewSubmitter(ledger Ledger, treasury Treasury, logger *slog.Logger) *Submitter {
	return &Submitter{ledger: ledger, treasury: treasury, logger: logger.With("component", "submitter")}
}

// Submit returns one record per chunk. Chunk k is sent only after the send
// call for chunk k-1 returned. The first failure halts the batch: that chunk
// is recorded failed with its error and every later chunk is recorded failed
// with ErrNotSubmitted. onIssued, if set, sees every successfully sent record.
func (s *Submitter) Submit(
	ctx context.Context,
	kind model.AssetKind,
	chunks []model.Chunk,
	window model.ValidityWindow,
	onIssued func(model.SubmissionRecord),
) []model.SubmissionRecord {
	records := make([]model.SubmissionRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = model.SubmissionRecord{
			ChunkIndex:       chunk.Index,
			Status:           model.SubmissionPending,
			RecipientIndexes: chunk.RecipientIndexes(),
			Recipients:       chunk.Addresses(),
		}
	}

	for i, chunk := range chunks {
		sig, err := s.submitOne(ctx, chunk, window)
		if sig != (solana.Signature{}) {
			records[i].Signature = sig.String()
		}
		if err != nil {
			records[i].Status = model.SubmissionFailed
			records[i].Error = err.Error()
			metrics.ChunksSubmitted.WithLabelValues(string(kind), "error").Inc()
			s.logger.Error("chunk submission failed, halting batch",
				"chunk", chunk.Index,
				"signature", records[i].Signature,
				"error", err,
			)
			for j := i + 1; j < len(records); j++ {
				records[j].Status = model.SubmissionFailed
				records[j].Error = fmt.Sprintf("%s: batch halted at chunk %d", ErrNotSubmitted, chunk.Index)
				metrics.ChunksSubmitted.WithLabelValues(string(kind), "skipped").Inc()
			}
			break
		}

		records[i].Submitted = true
		metrics.ChunksSubmitted.WithLabelValues(string(kind), "ok").Inc()
		metrics.ChunkOpCount.WithLabelValues(string(kind)).Observe(float64(chunk.OpCount))
		s.logger.Info("chunk submitted",
			"chunk", chunk.Index,
			"signature", records[i].Signature,
			"instructions", chunk.OpCount,
			"recipients", len(chunk.Groups),
		)
		if onIssued != nil {
			onIssued(records[i])
		}
	}
	return records
}

// submitOne returns the locally computed signature whenever signing worked,
// so an ambiguous send can still be looked up.
func (s *Submitter) submitOne(ctx context.Context, chunk model.Chunk, window model.ValidityWindow) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w", ErrNotSubmitted, err)
	}

	tx, err := solana.NewTransaction(
		chunk.Instructions(),
		window.Blockhash,
		solana.TransactionPayer(s.treasury.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	if err := s.treasury.SignTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, fmt.Errorf("sign transaction: no signature produced")
	}
	local := tx.Signatures[0]

	sent, err := s.ledger.Send(ctx, tx)
	if err != nil {
		return local, fmt.Errorf("send transaction: %w", err)
	}
	if sent != (solana.Signature{}) && sent != local {
		s.logger.Warn("node returned a different signature", "chunk", chunk.Index, "local", local, "node", sent)
		return sent, nil
	}
	return local, nil
}
