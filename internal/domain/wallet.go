package domain

import "time"

// Wallet is a user's registered pair of settlement addresses.
type Wallet struct {
	UserID           string    `json:"user_id"`
	SettlementWallet string    `json:"settlement_wallet"`
	TokenWallet      string    `json:"token_wallet"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type RegisterWalletRequest struct {
	SettlementWallet string `json:"settlement_wallet"`
	TokenWallet      string `json:"token_wallet"`
}
