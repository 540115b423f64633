package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
)

var (
	// ErrBatchNotFound is returned by GetBatch for an unknown id.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrDuplicateRequest is returned when an idempotency key is reused.
	ErrDuplicateRequest = errors.New("duplicate request: idempotency key already used")
)

// BatchRepository is the audit ledger of payout batches. Writes happen at
// three points: before the first chunk is signed, after each chunk is
// issued, and once every chunk is terminal.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *model.BatchRecord) error
	RecordSubmission(ctx context.Context, batchID uuid.UUID, rec model.SubmissionRecord) error
	CompleteBatch(ctx context.Context, batchID uuid.UUID, outcome model.BatchOutcome, chunks []model.SubmissionRecord) error
	GetBatch(ctx context.Context, batchID uuid.UUID) (*model.BatchRecord, error)
}

// IdempotencyGuard claims request keys for a TTL.
type IdempotencyGuard interface {
	// Acquire returns false when key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// NoopBatchRepository discards writes. Used when no database is configured.
type NoopBatchRepository struct{}

func (NoopBatchRepository) CreateBatch(context.Context, *model.BatchRecord) error { return nil }

func (NoopBatchRepository) RecordSubmission(context.Context, uuid.UUID, model.SubmissionRecord) error {
	return nil
}

func (NoopBatchRepository) CompleteBatch(context.Context, uuid.UUID, model.BatchOutcome, []model.SubmissionRecord) error {
	return nil
}

func (NoopBatchRepository) GetBatch(context.Context, uuid.UUID) (*model.BatchRecord, error) {
	return nil, ErrBatchNotFound
}
