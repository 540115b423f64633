package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"gopkg.in/yaml.v3"
)

// TokenInfo is one registry entry. Decimals is informational; transfers
// always read decimals from the mint account.
type TokenInfo struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Mint     string `yaml:"mint" json:"mint"`
	Decimals *uint8 `yaml:"decimals,omitempty" json:"decimals,omitempty"`
}

type tokenFile struct {
	Tokens []TokenInfo `yaml:"tokens"`
}

// TokenRegistry maps upper-case symbols to mint addresses for one network.
type TokenRegistry struct {
	network  model.Network
	bySymbol map[string]TokenInfo
}

// LoadTokenRegistry reads the optional YAML file at path and adds USDC for
// the active network unless the file already defines it. usdcMint may be
// empty on clusters without a canonical USDC mint.
func LoadTokenRegistry(path string, network model.Network, usdcMint string) (*TokenRegistry, error) {
	var file tokenFile
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read token registry %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse token registry %s: %w", path, err)
		}
	}

	reg := &TokenRegistry{network: network, bySymbol: make(map[string]TokenInfo, len(file.Tokens)+1)}
	for i, tok := range file.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if symbol == "" || strings.TrimSpace(tok.Mint) == "" {
			return nil, fmt.Errorf("token registry entry %d: symbol and mint are required", i)
		}
		if symbol == model.NativeSymbol {
			return nil, fmt.Errorf("token registry entry %d: %s is the native asset", i, symbol)
		}
		if _, dup := reg.bySymbol[symbol]; dup {
			return nil, fmt.Errorf("token registry entry %d: duplicate symbol %s", i, symbol)
		}
		tok.Symbol = symbol
		tok.Mint = strings.TrimSpace(tok.Mint)
		reg.bySymbol[symbol] = tok
	}

	if _, ok := reg.bySymbol["USDC"]; !ok && usdcMint != "" {
		six := uint8(6)
		reg.bySymbol["USDC"] = TokenInfo{Symbol: "USDC", Mint: usdcMint, Decimals: &six}
	}
	return reg, nil
}

// Lookup resolves a symbol, case-insensitively.
func (r *TokenRegistry) Lookup(symbol string) (TokenInfo, bool) {
	if r == nil {
		return TokenInfo{}, false
	}
	tok, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return tok, ok
}

// ResolveMint returns the mint address for a registry symbol, or the input
// unchanged when it is not a known symbol.
func (r *TokenRegistry) ResolveMint(symbolOrMint string) string {
	if tok, ok := r.Lookup(symbolOrMint); ok {
		return tok.Mint
	}
	return symbolOrMint
}

// Tokens lists entries sorted by symbol.
func (r *TokenRegistry) Tokens() []TokenInfo {
	if r == nil {
		return nil
	}
	out := make([]TokenInfo, 0, len(r.bySymbol))
	for _, tok := range r.bySymbol {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *TokenRegistry) Network() model.Network {
	return r.network
}
