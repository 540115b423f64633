package model

// Quote is a network-free fee and timing projection for a batch.
type Quote struct {
	Recipients                  int       `json:"recipients"`
	Token                       string    `json:"token"`
	Kind                        AssetKind `json:"kind"`
	Transactions                int       `json:"transactions"`
	TransactionsUpperBound      int       `json:"transactionsUpperBound"`
	MaxPerTransaction           int       `json:"maxPerTransaction"`
	EstimatedNetworkFee         string    `json:"estimatedNetworkFee"`
	EstimatedNetworkFeeLamports uint64    `json:"estimatedNetworkFeeLamports"`
	ATARentNote                 *string   `json:"ataRentNote"`
	ServiceFee                  string    `json:"serviceFee"`
	EstimatedTime               string    `json:"estimatedTime"`
}
