package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/toolbridge/toolbridge/internal/domain"
)

func (s *Store) CreateTransaction(ctx context.Context, tx domain.OAuthTransaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_transactions (id, state, connector_id, user_id, verifier_hash, redirect_uri, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.ID, tx.State, tx.ConnectorID, tx.UserID, tx.VerifierHash, tx.RedirectURI,
		string(tx.Status), tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert oauth transaction: %w", err)
	}
	return nil
}

// GetStartedTransaction enforces single use at the query level: a completed
// or failed transaction is indistinguishable from an unknown state.
func (s *Store) GetStartedTransaction(ctx context.Context, state string) (domain.OAuthTransaction, error) {
	var tx domain.OAuthTransaction
	var status string

	err := s.pool.QueryRow(ctx, `
		SELECT id, state, connector_id, user_id, verifier_hash, redirect_uri, status, created_at
		FROM oauth_transactions
		WHERE state = $1 AND status = $2`,
		state, string(domain.TransactionStatusStarted)).
		Scan(&tx.ID, &tx.State, &tx.ConnectorID, &tx.UserID, &tx.VerifierHash,
			&tx.RedirectURI, &status, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OAuthTransaction{}, domain.NewNotFoundError("oauth transaction not found")
		}
		return domain.OAuthTransaction{}, fmt.Errorf("failed to scan oauth transaction: %w", err)
	}

	tx.Status = domain.TransactionStatus(status)
	return tx, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_transactions SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update oauth transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("oauth transaction not found")
	}
	return nil
}
