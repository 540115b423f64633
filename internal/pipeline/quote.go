package pipeline

import (
	"fmt"
	"strings"

	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/shopspring/decimal"
)

const (
	// LamportsPerSignature is the base fee of a single-signer transaction.
	LamportsPerSignature uint64 = 5000
	// TokenAccountRentLamports is the rent-exempt minimum of a 165-byte token account.
	TokenAccountRentLamports uint64 = 2_039_280
	// MaxQuoteRecipients caps the projected batch size so fee arithmetic
	// stays within uint64.
	MaxQuoteRecipients = 1_000_000_000
)

// Estimator projects fees and timing for a batch without touching the
// network. It shares its Capacities with the packer.
type Estimator struct {
	caps       Capacities
	feePercent decimal.Decimal
}

func NewEstimator(caps Capacities, serviceFeePercent decimal.Decimal) *Estimator {
	return &Estimator{caps: caps, feePercent: serviceFeePercent}
}

// Quote assumes single-instruction groups, so Transactions matches Pack for
// native batches and for token batches where every account exists. Token
// quotes are an upper bound on rent: every recipient is assumed to need a
// new account. The fee counts Transactions signatures plus that rent;
// TransactionsUpperBound covers every group needing two instructions.
func (e *Estimator) Quote(recipients int, tokenSymbol string) model.Quote {
	recipients = min(max(recipients, 1), MaxQuoteRecipients)
	tokenSymbol = strings.TrimSpace(tokenSymbol)
	kind := model.AssetKindToken
	if tokenSymbol == "" || strings.EqualFold(tokenSymbol, model.NativeSymbol) {
		kind = model.AssetKindNative
		tokenSymbol = model.NativeSymbol
	}

	capacity := e.caps.For(kind)
	txs := ceilDiv(recipients, capacity)
	upper := txs
	lamports := uint64(txs) * LamportsPerSignature

	q := model.Quote{
		Recipients:        recipients,
		Token:             tokenSymbol,
		Kind:              kind,
		Transactions:      txs,
		MaxPerTransaction: capacity,
		ServiceFee:        fmt.Sprintf("%s%% of total amount", e.feePercent.String()),
		EstimatedTime:     fmt.Sprintf("~%ds", max(1, ceilDiv(txs, 2))),
	}

	if kind == model.AssetKindToken {
		upper = ceilDiv(recipients, capacity/MaxGroupOps)
		rent := uint64(recipients) * TokenAccountRentLamports
		lamports += rent
		note := fmt.Sprintf("Up to %s SOL if all %d recipients need new token accounts", formatSOL(rent), recipients)
		q.ATARentNote = &note
	}

	q.TransactionsUpperBound = upper
	q.EstimatedNetworkFeeLamports = lamports
	q.EstimatedNetworkFee = formatSOL(lamports) + " SOL"
	return q
}

func formatSOL(lamports uint64) string {
	return decimal.NewFromInt(int64(lamports)).Shift(-model.NativeDecimals).StringFixed(6)
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
