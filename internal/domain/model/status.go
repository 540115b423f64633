package model

import "encoding/json"

// SignatureState is the cluster's view of a submitted signature.
type SignatureState struct {
	Slot               uint64
	ConfirmationStatus string
	Err                json.RawMessage
}

func (s SignatureState) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// Confirmed reports whether the signature reached confirmed (or finalized)
// commitment without an execution error.
func (s SignatureState) Confirmed() bool {
	if s.Failed() {
		return false
	}
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

type TxDetails struct {
	Slot      uint64
	BlockTime *int64
	Fee       uint64
}

// TxStatusReport is the passthrough status shape returned for a signature.
type TxStatusReport struct {
	Signature string          `json:"signature"`
	Status    string          `json:"status"`
	Err       json.RawMessage `json:"err"`
	Slot      *uint64         `json:"slot"`
	BlockTime *int64          `json:"blockTime"`
	Fee       *uint64         `json:"fee"`
	Explorer  string          `json:"explorer"`
}
