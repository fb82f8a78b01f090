package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/webchat/internal/common"
	"github.com/dmitrijs2005/webchat/internal/dbx"
	"github.com/dmitrijs2005/webchat/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetOrCreate performs an atomic check-then-insert keyed by the ordered pair.
// ON CONFLICT DO NOTHING turns a lost race into an empty RETURNING set, after
// which the winner's row is re-fetched.
func (r *PostgresRepository) GetOrCreate(ctx context.Context, a, b string) (*models.Conversation, bool, error) {
	low, high := models.OrderPair(a, b)

	insert := `
		INSERT INTO conversations (user_low, user_high)
		VALUES ($1, $2)
		ON CONFLICT (user_low, user_high) DO NOTHING
		RETURNING id, user_low, user_high, created_at
	`
	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, insert, low, high).
		Scan(&conv.ID, &conv.UserLow, &conv.UserHigh, &conv.CreatedAt)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("db error: %w", err)
	}

	// Conflict path: another caller created the row, return it.
	sel := `
		SELECT id, user_low, user_high, created_at
		FROM conversations
		WHERE user_low = $1 AND user_high = $2
	`
	err = r.db.QueryRowContext(ctx, sel, low, high).
		Scan(&conv.ID, &conv.UserLow, &conv.UserHigh, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, common.ErrorNotFound
		}
		return nil, false, fmt.Errorf("db error: %w", err)
	}
	return conv, false, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
		SELECT id, user_low, user_high, created_at
		FROM conversations
		WHERE id = $1
	`
	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&conv.ID, &conv.UserLow, &conv.UserHigh, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return conv, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT c.id, c.user_low, c.user_high, c.created_at,
		       COALESCE(MAX(m.created_at), c.created_at) AS last_message_at
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.user_low = $1 OR c.user_high = $1
		GROUP BY c.id
		ORDER BY last_message_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.UserLow, &conv.UserHigh, &conv.CreatedAt, &conv.LastMessageAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return convs, nil
}
