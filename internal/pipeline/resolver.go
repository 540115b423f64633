package pipeline

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"golang.org/x/sync/errgroup"
)

// Resolution is the receiving account of one owner for one mint. Create is
// non-nil when the account does not exist yet.
type Resolution struct {
	Owner  solana.PublicKey
	ATA    solana.PublicKey
	Create solana.Instruction
}

// Resolver derives associated token accounts and checks whether they exist.
// It never creates accounts; it only proposes the creation instruction.
type Resolver struct {
	ledger      Ledger
	payer       solana.PublicKey
	concurrency int
}

func NewResolver(ledger Ledger, payer solana.PublicKey, concurrency int) *Resolver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Resolver{ledger: ledger, payer: payer, concurrency: concurrency}
}

func (r *Resolver) Resolve(ctx context.Context, mint, owner solana.PublicKey) (Resolution, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return Resolution{}, fmt.Errorf("derive token account for %s: %w", owner, err)
	}
	exists, err := r.ledger.AccountExists(ctx, ata)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: check token account %s: %w", ErrResolution, ata, err)
	}

	res := Resolution{Owner: owner, ATA: ata}
	if !exists {
		res.Create = associatedtokenaccount.NewCreateInstruction(r.payer, owner, mint).Build()
	}
	return res, nil
}

// ResolveAll resolves every owner concurrently. Results are indexed like
// owners. The first error cancels the remaining lookups.
func (r *Resolver) ResolveAll(ctx context.Context, mint solana.PublicKey, owners []solana.PublicKey) ([]Resolution, error) {
	out := make([]Resolution, len(owners))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, owner := range owners {
		g.Go(func() error {
			res, err := r.Resolve(gctx, mint, owner)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
