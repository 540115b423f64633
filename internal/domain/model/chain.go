package model

type Chain string

const (
	ChainSolana Chain = "solana"
)

func (c Chain) String() string {
	return string(c)
}

type Network string

const (
	NetworkMainnetBeta Network = "mainnet-beta"
	NetworkDevnet      Network = "devnet"
	NetworkTestnet     Network = "testnet"
)

func (n Network) String() string {
	return string(n)
}

func (n Network) Valid() bool {
	switch n {
	case NetworkMainnetBeta, NetworkDevnet, NetworkTestnet:
		return true
	default:
		return false
	}
}

const explorerTxBaseURL = "https://explorer.solana.com/tx/"

// ExplorerURL returns the public block explorer link for a transaction signature.
// Mainnet links carry no cluster parameter.
func (n Network) ExplorerURL(signature string) string {
	switch n {
	case NetworkDevnet, NetworkTestnet:
		return explorerTxBaseURL + signature + "?cluster=" + string(n)
	default:
		return explorerTxBaseURL + signature
	}
}

type AssetKind string

const (
	AssetKindNative AssetKind = "native"
	AssetKindToken  AssetKind = "token"
)

func (k AssetKind) String() string {
	return string(k)
}

const (
	// NativeDecimals is the fixed lamports-per-SOL scale.
	NativeDecimals int32 = 9
	NativeSymbol         = "SOL"
)
