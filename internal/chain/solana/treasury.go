package solana

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58/base58"
	"github.com/plagtech/spraay-solana-gateway/internal/pipeline"
)

var ErrInvalidTreasuryKey = errors.New("invalid treasury key")

// Treasury is the fee payer and source of every payout. It is loaded once
// and never mutated.
type Treasury struct {
	key solanago.PrivateKey
	pub solanago.PublicKey
}

var _ pipeline.Treasury = (*Treasury)(nil)

// LoadTreasury decodes a base58 64-byte ed25519 keypair. When
// expectedWallet is set the derived public key must match it. Errors never
// echo the secret.
func LoadTreasury(secret, expectedWallet string) (*Treasury, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: not base58", ErrInvalidTreasuryKey)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: decoded to %d bytes, want %d", ErrInvalidTreasuryKey, len(raw), ed25519.PrivateKeySize)
	}
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize]).Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match the seed", ErrInvalidTreasuryKey)
	}

	key := solanago.PrivateKey(raw)
	pub := key.PublicKey()
	if expectedWallet = strings.TrimSpace(expectedWallet); expectedWallet != "" {
		want, err := solanago.PublicKeyFromBase58(expectedWallet)
		if err != nil {
			return nil, fmt.Errorf("treasury wallet %q is not a public key: %w", expectedWallet, err)
		}
		if !want.Equals(pub) {
			return nil, fmt.Errorf("%w: key belongs to %s, expected %s", ErrInvalidTreasuryKey, pub, want)
		}
	}
	return &Treasury{key: key, pub: pub}, nil
}

func (t *Treasury) PublicKey() solanago.PublicKey { return t.pub }

// SignTransaction adds the treasury signature. Any other required signer
// makes signing fail.
func (t *Treasury) SignTransaction(tx *solanago.Transaction) error {
	_, err := tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		if pub.Equals(t.pub) {
			return &t.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("treasury sign: %w", err)
	}
	return nil
}

func (t *Treasury) String() string { return "treasury(" + t.pub.String() + ")" }

func (t *Treasury) LogValue() slog.Value {
	return slog.GroupValue(slog.String("public_key", t.pub.String()), slog.String("key", "[REDACTED]"))
}
