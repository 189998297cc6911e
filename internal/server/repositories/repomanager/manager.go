package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/sharedrop/internal/dbx"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/downloadlogs"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/files"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/transfers"
)

// RepositoryManager vends repositories bound to a DBTX, so one service call
// can run several of them inside the same transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Transfers(db dbx.DBTX) transfers.Repository
	Files(db dbx.DBTX) files.Repository
	DownloadLogs(db dbx.DBTX) downloadlogs.Repository
}
