package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/webchat/internal/dbx"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/messages"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/revokedtokens"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can run
// the same repository code over a plain connection or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RevokedTokens(db dbx.DBTX) revokedtokens.Repository
	Conversations(db dbx.DBTX) conversations.Repository
	Messages(db dbx.DBTX) messages.Repository
}
