package internal

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukerupert/kasse/migrations"
	"github.com/pressly/goose/v3"
)

// gooseLogger routes goose output through slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.logger.Info(fmt.Sprintf(format, v...), "component", "migrations")
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.logger.Error(fmt.Sprintf(format, v...), "component", "migrations")
}

// RunMigrations applies every pending migration from the embedded set and
// returns the resulting schema version.
func RunMigrations(db *sql.DB, logger *slog.Logger) (int64, error) {
	goose.SetBaseFS(migrations.MigrationsFS)
	goose.SetLogger(gooseLogger{logger: logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
