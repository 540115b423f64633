package pipeline

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
)

//go:generate mockgen -source=ledger.go -destination=mocks/mock_ledger.go -package=mocks

// Ledger is the pipeline's only channel to the cluster.
type Ledger interface {
	// LatestWindow returns a fresh blockhash at confirmed commitment.
	LatestWindow(ctx context.Context) (model.ValidityWindow, error)
	AccountExists(ctx context.Context, address solana.PublicKey) (bool, error)
	// MintDecimals reads the decimals byte of an SPL mint account.
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	// Send submits a signed transaction. It is never retried.
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// SignatureStatus returns nil when the signature is unknown.
	SignatureStatus(ctx context.Context, sig solana.Signature) (*model.SignatureState, error)
	BlockHeight(ctx context.Context) (uint64, error)
	// Transaction returns nil when the transaction is unknown.
	Transaction(ctx context.Context, sig solana.Signature) (*model.TxDetails, error)
}

// Treasury is the process-wide fee payer and transfer authority.
type Treasury interface {
	PublicKey() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}
