package dbmigrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/fdg312/metabolic-hub/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Commands accepted by Run.
var Commands = []string{"up", "down", "status", "version", "redo"}

func ValidCommand(command string) bool {
	for _, c := range Commands {
		if c == command {
			return true
		}
	}
	return false
}

// Run applies a goose command. An empty dir uses the SQL files embedded in
// the binary; a non-empty dir reads migrations from disk.
func Run(ctx context.Context, command, dbURL, dir string, logger *zap.Logger) error {
	if dbURL == "" {
		return fmt.Errorf("database URL is empty")
	}
	if !ValidCommand(command) {
		return fmt.Errorf("unsupported migrate command %q", command)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if dir == "" {
		goose.SetBaseFS(migrations.FS)
		dir = "."
	} else {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("migrations dir: %w", err)
		}
		goose.SetBaseFS(nil)
	}
	goose.SetLogger(zap.NewStdLog(logger.Named("goose")))

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.RunContext(ctx, command, db, dir); err != nil {
		return fmt.Errorf("goose %s failed: %w", command, err)
	}
	return nil
}
