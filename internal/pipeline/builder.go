package pipeline

import (
	"fmt"
	"math"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/shopspring/decimal"
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ToBaseUnits returns floor(amount * 10^decimals). Zero results and values
// beyond uint64 are rejected.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	scaled := amount.Shift(decimals).Floor()
	if !scaled.IsPositive() {
		return 0, fmt.Errorf("amount %s is below the smallest unit (%d decimals)", amount, decimals)
	}
	if scaled.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("amount %s overflows base units", amount)
	}
	return scaled.BigInt().Uint64(), nil
}

// BuildNativeGroups emits one system transfer per recipient, in input order.
func BuildNativeGroups(treasury solana.PublicKey, recipients []model.Recipient) ([]model.InstructionGroup, error) {
	groups := make([]model.InstructionGroup, len(recipients))
	for i, r := range recipients {
		lamports, err := ToBaseUnits(r.Amount, model.NativeDecimals)
		if err != nil {
			return nil, invalid(r.Index, "amount", r.Amount.String(), err.Error())
		}
		groups[i] = model.InstructionGroup{
			RecipientIndex: r.Index,
			Address:        r.Address,
			BaseUnits:      lamports,
			Instructions: []solana.Instruction{
				system.NewTransferInstruction(lamports, treasury, r.Address).Build(),
			},
		}
	}
	return groups, nil
}

// BuildTokenGroups emits [createATA?, transfer] per recipient, in input
// order. resolutions must be indexed like recipients.
func BuildTokenGroups(
	treasury, mint solana.PublicKey,
	decimals uint8,
	recipients []model.Recipient,
	resolutions []Resolution,
) ([]model.InstructionGroup, error) {
	if len(resolutions) != len(recipients) {
		return nil, fmt.Errorf("build token groups: %d resolutions for %d recipients", len(resolutions), len(recipients))
	}
	source, _, err := solana.FindAssociatedTokenAddress(treasury, mint)
	if err != nil {
		return nil, fmt.Errorf("derive treasury token account: %w", err)
	}

	groups := make([]model.InstructionGroup, len(recipients))
	created := make(map[solana.PublicKey]bool)
	for i, r := range recipients {
		units, err := ToBaseUnits(r.Amount, int32(decimals))
		if err != nil {
			return nil, invalid(r.Index, "amount", r.Amount.String(), err.Error())
		}
		res := resolutions[i]

		// A wallet listed twice gets its account created once, by its first group.
		creates := res.Create != nil && !created[res.ATA]
		ixs := make([]solana.Instruction, 0, 2)
		if creates {
			ixs = append(ixs, res.Create)
			created[res.ATA] = true
		}
		ixs = append(ixs, token.NewTransferInstruction(units, source, res.ATA, treasury, nil).Build())

		groups[i] = model.InstructionGroup{
			RecipientIndex: r.Index,
			Address:        r.Address,
			BaseUnits:      units,
			CreatesAccount: creates,
			Instructions:   ixs,
		}
	}
	return groups, nil
}
