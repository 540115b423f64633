package pipeline

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
)

// ValidateRecipients checks the list and every entry, stopping at the first
// violation.
func ValidateRecipients(raw []model.RawRecipient, max int) ([]model.Recipient, error) {
	if len(raw) == 0 {
		return nil, invalid(-1, "recipients", "", "recipients array is required and must not be empty")
	}
	if len(raw) > max {
		return nil, invalid(-1, "recipients", fmt.Sprint(len(raw)), fmt.Sprintf("max %d recipients per request", max))
	}

	out := make([]model.Recipient, len(raw))
	for i, r := range raw {
		addr, err := parsePublicKey(r.Address)
		if err != nil {
			return nil, invalid(i, "address", truncate(r.Address, 64), err.Error())
		}

		amount, err := model.ParseAmount(r.Amount)
		if err != nil {
			return nil, invalid(i, "amount", truncate(string(r.Amount), model.MaxAmountLength), err.Error())
		}
		if !amount.IsPositive() {
			return nil, invalid(i, "amount", amount.String(), "amount must be greater than zero")
		}

		out[i] = model.Recipient{Index: i, Address: addr, Amount: amount}
	}
	return out, nil
}

// ValidateMint checks that the token identifier is itself a public key.
func ValidateMint(mint string) (solana.PublicKey, error) {
	pub, err := parsePublicKey(mint)
	if err != nil {
		return solana.PublicKey{}, invalid(-1, "mint", mint, "valid SPL token mint address is required")
	}
	return pub, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func parsePublicKey(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("address is required")
	}
	pub, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("not a base58 public key")
	}
	return pub, nil
}
