package types

import "math/big"

// Account holds the balances tracked by the marketplace ledger. Balances are
// kept per token so settlement paths can validate the asset explicitly.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceBSK  *big.Int `json:"balanceBSK"`
	BalanceZBSK *big.Int `json:"balanceZBSK"`
}
