package auth

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Migrate applies the embedded schema and seed migrations to db. The goose
// provider is local to the call, no global goose state is touched.
func Migrate(ctx context.Context, db *bun.DB, logger Logger) error {
	logger = normalizeLogger(logger)

	var gooseDialect goose.Dialect
	var dir string
	switch db.Dialect().Name() {
	case dialect.PG:
		gooseDialect, dir = goose.DialectPostgres, "postgres"
	case dialect.SQLite:
		gooseDialect, dir = goose.DialectSQLite3, "sqlite"
	default:
		return goerrors.New("unsupported database dialect", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"dialect": db.Dialect().Name().String()})
	}

	fsys, err := MigrationsFor(dir)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open migrations")
	}

	provider, err := goose.NewProvider(gooseDialect, db.DB, fsys,
		goose.WithLogger(gooseLogger{logger}),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create migration provider")
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to apply migrations")
	}

	for _, res := range results {
		logger.Info("applied migration", "source", res.Source.Path, "duration", res.Duration)
	}

	return nil
}

type gooseLogger struct {
	logger Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.logger.Debug(fmt.Sprintf(format, v...))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.logger.Error(fmt.Sprintf(format, v...))
}
