// Command authctl runs operator tasks against the auth database.
//
//	authctl [-config path] [-env file] migrate
//	authctl [-config path] [-env file] create-admin -email a@x.com -phone 555-0100 -first Ada -last Admin
//	authctl [-config path] [-env file] purge-expired
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-workorder-auth"
	"github.com/goliatone/go-workorder-auth/config"
	"github.com/goliatone/go-workorder-auth/persistence"
)

var errUsage = errors.New("usage: authctl [-config path] [-env file] <migrate|create-admin|purge-expired> [flags]")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	db     *bun.DB
	logger auth.Logger
	out    io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", os.Getenv("AUTH_CONFIG"), "path to the YAML configuration file")
	envFile := fs.String("env", ".env", "dotenv file loaded before the environment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: auth.NewSlogLogger(cfg.Logging.NewLogger(os.Stderr, "authctl")),
		out:    out,
	}

	a.db, err = persistence.Open(ctx, persistence.Options{
		Dialect:      cfg.Database.Dialect,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer a.db.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "migrate":
		return a.migrate(ctx)
	case "create-admin":
		return a.createAdmin(ctx, rest)
	case "purge-expired":
		return a.purgeExpired(ctx)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func (a *app) migrate(ctx context.Context) error {
	if err := auth.Migrate(ctx, a.db, a.logger); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "migrations applied")
	return nil
}

func (a *app) service() (*auth.Service, error) {
	codec, err := auth.NewTokenCodecFromConfig(a.cfg, auth.WithCodecLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return auth.NewService(auth.NewRepositoryManager(a.db), codec, a.cfg).
		WithLogger(a.logger), nil
}

func (a *app) purgeExpired(ctx context.Context) error {
	svc, err := a.service()
	if err != nil {
		return err
	}

	n, err := svc.Ledger().PurgeExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "purged %d expired verification tokens\n", n)
	return nil
}
