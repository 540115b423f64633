package model

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// InstructionGroup is the indivisible set of instructions that pays one
// recipient: an optional associated-token-account creation followed by the
// transfer. A group is never split across transactions.
type InstructionGroup struct {
	RecipientIndex int
	Address        solana.PublicKey
	BaseUnits      uint64
	CreatesAccount bool
	Instructions   []solana.Instruction
}

func (g InstructionGroup) OpCount() int {
	return len(g.Instructions)
}

// Chunk is a transaction-sized run of consecutive instruction groups.
type Chunk struct {
	Index   int
	Groups  []InstructionGroup
	OpCount int
}

// Instructions flattens the chunk's groups in order.
func (c Chunk) Instructions() []solana.Instruction {
	out := make([]solana.Instruction, 0, c.OpCount)
	for _, g := range c.Groups {
		out = append(out, g.Instructions...)
	}
	return out
}

func (c Chunk) RecipientIndexes() []int {
	out := make([]int, len(c.Groups))
	for i, g := range c.Groups {
		out[i] = g.RecipientIndex
	}
	return out
}

func (c Chunk) Addresses() []string {
	out := make([]string, len(c.Groups))
	for i, g := range c.Groups {
		out[i] = g.Address.String()
	}
	return out
}

// ValidityWindow is the recent blockhash shared by every chunk of one batch
// and the last block height at which transactions referencing it are accepted.
type ValidityWindow struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionConfirmed SubmissionStatus = "confirmed"
	SubmissionFailed    SubmissionStatus = "failed"
)

func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionConfirmed || s == SubmissionFailed
}

// SubmissionRecord tracks one chunk from signing to its terminal state.
// Signature is set when the chunk was signed, even if the send call failed,
// so an operator can look up an ambiguous submission.
type SubmissionRecord struct {
	ChunkIndex       int              `json:"chunk"`
	Signature        string           `json:"signature,omitempty"`
	Submitted        bool             `json:"submitted"`
	Status           SubmissionStatus `json:"status"`
	Error            string           `json:"error,omitempty"`
	RecipientIndexes []int            `json:"recipientIndexes"`
	Recipients       []string         `json:"recipients"`
}

type BatchOutcome string

const (
	BatchOutcomeSuccess  BatchOutcome = "success"
	BatchOutcomePartial  BatchOutcome = "partial"
	BatchOutcomeFailed   BatchOutcome = "failed"
	BatchOutcomeRejected BatchOutcome = "rejected"
)

// BatchResult aggregates every SubmissionRecord of a batch.
// Signatures and Explorer list only chunks that were actually submitted,
// in chunk order.
type BatchResult struct {
	BatchID         uuid.UUID          `json:"batchId"`
	Success         bool               `json:"success"`
	Outcome         BatchOutcome       `json:"outcome"`
	Kind            AssetKind          `json:"kind"`
	Token           string             `json:"token,omitempty"`
	Decimals        *int               `json:"decimals,omitempty"`
	Recipients      int                `json:"recipients"`
	Transactions    int                `json:"transactions"`
	Signatures      []string           `json:"signatures"`
	Explorer        []string           `json:"explorer"`
	ATAsCreated     *int               `json:"atasCreated,omitempty"`
	Chunks          []SubmissionRecord `json:"chunks"`
	ConfirmedChunks []int              `json:"confirmedChunks"`
	FailedChunks    []int              `json:"failedChunks"`
	Error           string             `json:"error,omitempty"`
}

// Summarize derives every aggregate field of the result from its chunks.
func (r *BatchResult) Summarize(network Network) {
	r.Signatures = make([]string, 0, len(r.Chunks))
	r.Explorer = make([]string, 0, len(r.Chunks))
	r.ConfirmedChunks = make([]int, 0, len(r.Chunks))
	r.FailedChunks = make([]int, 0)

	for _, rec := range r.Chunks {
		if rec.Submitted {
			r.Signatures = append(r.Signatures, rec.Signature)
			r.Explorer = append(r.Explorer, network.ExplorerURL(rec.Signature))
		}
		switch rec.Status {
		case SubmissionConfirmed:
			r.ConfirmedChunks = append(r.ConfirmedChunks, rec.ChunkIndex)
		default:
			r.FailedChunks = append(r.FailedChunks, rec.ChunkIndex)
		}
	}
	r.Transactions = len(r.Signatures)

	switch {
	case len(r.Chunks) > 0 && len(r.FailedChunks) == 0:
		r.Outcome = BatchOutcomeSuccess
	case len(r.ConfirmedChunks) > 0:
		r.Outcome = BatchOutcomePartial
	default:
		r.Outcome = BatchOutcomeFailed
	}
	r.Success = r.Outcome == BatchOutcomeSuccess
}

// BatchRecord is the persisted audit view of a batch.
type BatchRecord struct {
	ID          uuid.UUID          `json:"id"`
	Kind        AssetKind          `json:"kind"`
	Network     Network            `json:"network"`
	Mint        string             `json:"mint,omitempty"`
	Recipients  int                `json:"recipients"`
	Outcome     *BatchOutcome      `json:"outcome,omitempty"`
	Chunks      []SubmissionRecord `json:"chunks"`
	CreatedAt   time.Time          `json:"createdAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
}
