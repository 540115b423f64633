package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/plagtech/spraay-solana-gateway/internal/store"
)

// BatchRepo stores the payout audit ledger in payout_batches.
type BatchRepo struct {
	db *DB
}

var _ store.BatchRepository = (*BatchRepo)(nil)

func NewBatchRepo(db *DB) *BatchRepo {
	return &BatchRepo{db: db}
}

func (r *BatchRepo) CreateBatch(ctx context.Context, b *model.BatchRecord) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payout_batches (id, kind, network, mint, recipients, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $6)
	`, b.ID, b.Kind, b.Network, b.Mint, b.Recipients, createdAt)
	if err != nil {
		return fmt.Errorf("create batch %s: %w", b.ID, err)
	}
	return nil
}

// RecordSubmission appends one issued chunk and its signature.
func (r *BatchRepo) RecordSubmission(ctx context.Context, batchID uuid.UUID, rec model.SubmissionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	chunk, err := json.Marshal([]model.SubmissionRecord{rec})
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", rec.ChunkIndex, err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE payout_batches
		SET chunks = chunks || $2::jsonb,
			signatures = CASE WHEN $3 = '' THEN signatures ELSE array_append(signatures, $3) END,
			updated_at = now()
		WHERE id = $1
	`, batchID, string(chunk), rec.Signature)
	if err != nil {
		return fmt.Errorf("record submission %s/%d: %w", batchID, rec.ChunkIndex, err)
	}
	return requireRow(res, batchID)
}

// CompleteBatch replaces the chunk list with the final records.
func (r *BatchRepo) CompleteBatch(ctx context.Context, batchID uuid.UUID, outcome model.BatchOutcome, chunks []model.SubmissionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if chunks == nil {
		chunks = []model.SubmissionRecord{}
	}
	encoded, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("encode chunks: %w", err)
	}
	signatures := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.Submitted && c.Signature != "" {
			signatures = append(signatures, c.Signature)
		}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE payout_batches
		SET outcome = $2, chunks = $3::jsonb, signatures = $4, completed_at = now(), updated_at = now()
		WHERE id = $1
	`, batchID, outcome, string(encoded), pq.Array(signatures))
	if err != nil {
		return fmt.Errorf("complete batch %s: %w", batchID, err)
	}
	return requireRow(res, batchID)
}

func (r *BatchRepo) GetBatch(ctx context.Context, batchID uuid.UUID) (*model.BatchRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var (
		b       model.BatchRecord
		mint    sql.NullString
		outcome sql.NullString
		chunks  []byte
		done    sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, kind, network, mint, recipients, outcome, chunks, created_at, completed_at
		FROM payout_batches
		WHERE id = $1
	`, batchID).Scan(&b.ID, &b.Kind, &b.Network, &mint, &b.Recipients, &outcome, &chunks, &b.CreatedAt, &done)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", batchID, err)
	}

	b.Mint = mint.String
	if outcome.Valid {
		o := model.BatchOutcome(outcome.String)
		b.Outcome = &o
	}
	if done.Valid {
		t := done.Time
		b.CompletedAt = &t
	}
	if err := json.Unmarshal(chunks, &b.Chunks); err != nil {
		return nil, fmt.Errorf("decode chunks of batch %s: %w", batchID, err)
	}
	return &b, nil
}

func requireRow(res sql.Result, batchID uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrBatchNotFound, batchID)
	}
	return nil
}
