package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// RawRecipient is a recipient as received from a caller, before validation.
// Amount is kept raw so that numbers are parsed without float rounding.
type RawRecipient struct {
	Address string          `json:"address"`
	Amount  json.RawMessage `json:"amount"`
}

// Recipient is a validated payout target. Amount is in human units
// (SOL for native batches, whole tokens for token batches).
type Recipient struct {
	Index   int
	Address solana.PublicKey
	Amount  decimal.Decimal
}

const (
	// MaxAmountLength bounds the textual form of an amount.
	MaxAmountLength = 64
	// MaxAmountExponent bounds the decimal exponent in either direction.
	MaxAmountExponent = 64
)

// ParseAmount decodes a JSON number or numeric string into a decimal.
// Amounts longer than MaxAmountLength or with an exponent beyond
// MaxAmountExponent are rejected before any arithmetic happens.
func ParseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Decimal{}, fmt.Errorf("amount is required")
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return decimal.Decimal{}, fmt.Errorf("decode amount string: %w", err)
		}
	} else if !json.Valid(trimmed) || trimmed[0] == '{' || trimmed[0] == '[' || trimmed[0] == 't' || trimmed[0] == 'f' {
		return decimal.Decimal{}, fmt.Errorf("amount must be a number")
	}

	if len(text) > MaxAmountLength {
		return decimal.Decimal{}, fmt.Errorf("amount must be at most %d characters", MaxAmountLength)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount must be a number: %w", err)
	}
	if exp := d.Exponent(); exp > MaxAmountExponent || exp < -MaxAmountExponent {
		return decimal.Decimal{}, fmt.Errorf("amount is out of range")
	}
	return d, nil
}

type NativeBatchRequest struct {
	Recipients []RawRecipient `json:"recipients"`
}

type TokenBatchRequest struct {
	Mint       string         `json:"mint"`
	Recipients []RawRecipient `json:"recipients"`
}
