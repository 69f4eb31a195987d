package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/jackc/pgx/v5"
)

// GetWallet returns the registered wallets for a user, or nil.
func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, settlement_wallet, token_wallet, created_at, updated_at
		FROM registered_wallets WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.SettlementWallet, &w.TokenWallet, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting wallet for %s: %w", userID, err)
	}
	return &w, nil
}

// UpsertWallet registers or replaces the wallet pair for a user.
func (s *PostgresStore) UpsertWallet(ctx context.Context, userID string, req domain.RegisterWalletRequest) (*domain.Wallet, error) {
	var w domain.Wallet
	err := s.pool.QueryRow(ctx, `
		INSERT INTO registered_wallets (user_id, settlement_wallet, token_wallet)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			settlement_wallet = EXCLUDED.settlement_wallet,
			token_wallet = EXCLUDED.token_wallet,
			updated_at = NOW()
		RETURNING user_id, settlement_wallet, token_wallet, created_at, updated_at
	`, userID, req.SettlementWallet, req.TokenWallet).Scan(
		&w.UserID, &w.SettlementWallet, &w.TokenWallet, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting wallet for %s: %w", userID, err)
	}
	return &w, nil
}
