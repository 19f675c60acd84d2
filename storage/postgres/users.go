package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

const userColumns = `id, role, status, display_name, wallet_address, wallet_registered, created_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Role, &u.Status, &u.DisplayName, &u.WalletAddress,
		&u.WalletRegistered, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (p *PostgresBackend) GetUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(p.pool.QueryRow(ctx, query, id))
}

func (p *PostgresBackend) GetUsers(ctx context.Context, ids []uuid.UUID) ([]types.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`
	rows, err := p.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()
	var users []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (p *PostgresBackend) FindUserByWallet(ctx context.Context, address string) (*types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE wallet_address = $1`
	return scanUser(p.pool.QueryRow(ctx, query, address))
}

func (p *PostgresBackend) SetWalletRegistered(ctx context.Context, address string) (*types.User, error) {
	query := `UPDATE users SET wallet_registered = true
		WHERE wallet_address = $1
		RETURNING ` + userColumns
	return scanUser(p.pool.QueryRow(ctx, query, address))
}

func (p *PostgresBackend) GetCommissionRule(ctx context.Context, ruleType types.CommissionType) (*types.CommissionRule, error) {
	query := `SELECT type, fee_percentage FROM commission_rules WHERE type = $1`
	var rule types.CommissionRule
	err := p.pool.QueryRow(ctx, query, ruleType).Scan(&rule.Type, &rule.FeePercentage)
	if errors.Is(err, pgx.ErrNoRows) {
		// No rule means fall back to the configured static percentage.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan commission rule: %w", err)
	}
	return &rule, nil
}
