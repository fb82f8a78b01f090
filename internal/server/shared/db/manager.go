// Package db opens the database connection and prepares the repository
// manager for the server.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/webchat/internal/server/repositories/repomanager"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to PostgreSQL with the pgx stdlib driver, runs embedded
// migrations, and returns both the connection and a repository manager.
func Open(ctx context.Context, dsn string) (*sql.DB, repomanager.RepositoryManager, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migration error: %w", err)
	}

	return conn, m, nil
}
