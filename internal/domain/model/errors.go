package model

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNotTokenMint    = errors.New("account is not an SPL token mint")
)
