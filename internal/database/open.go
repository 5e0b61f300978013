package database

import (
	"context"
	"fmt"
	"log/slog"
)

// Open connects the backend named by dbType. For sqlite, url is the database file path.
func Open(ctx context.Context, dbType, url string, batchSize int, logger *slog.Logger) (DBManager, error) {
	switch dbType {
	case "postgres":
		pool, err := ConnectDB(ctx, url)
		if err != nil {
			return nil, err
		}
		return NewPostgresDBManager(pool, batchSize, logger), nil
	case "sqlite":
		return OpenSQLite(url, batchSize, logger)
	}
	return nil, fmt.Errorf("unsupported database type %q", dbType)
}
