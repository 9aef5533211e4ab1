// Command import loads items from a CSV or JSON source into the database once.
//
// Usage:
//
//	import [--source URL|PATH] [--dry-run]
//	import migrate
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/JonMunkholm/itemstats/internal/config"
	"github.com/JonMunkholm/itemstats/internal/core"
	"github.com/JonMunkholm/itemstats/internal/logging"
	"github.com/JonMunkholm/itemstats/internal/store"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "import",
		Usage: "Import items from a CSV or JSON source",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "source",
				Aliases: []string{"s"},
				Usage:   "URL or path of a .csv or .json file (default: configured source)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Load and normalize only; log the category averages without writing",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				EnvVars: []string{"LOG_FORMAT"},
				Value:   "text",
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(c.String("log-level"), c.String("log-format"))
			return nil
		},
		Action: runImport,
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Create the database tables if they do not exist",
				Action: runMigrate,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func runImport(c *cli.Context) error {
	ctx := c.Context
	dryRun := c.Bool("dry-run")

	var opts []config.Option
	if dryRun {
		opts = append(opts, config.WithoutDatabase())
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}

	if dryRun {
		service := core.NewService(nil, nil, cfg)
		res, err := service.Preview(ctx, c.String("source"))
		if err != nil {
			return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
		}
		fmt.Printf("dry run: %d records from %s\n", res.Records, res.Source)
		return nil
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	service := core.NewService(db, nil, cfg)
	res, err := service.RunImport(ctx, c.String("source"), core.TriggerCLI)
	if err != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}

	fmt.Printf("created=%d updated=%d total=%d source=%s run=%s\n",
		res.Created, res.Updated, res.Total, res.Source, res.RunID)
	return nil
}

func runMigrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := openStore(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(c.Context); err != nil {
		return err
	}
	slog.Info("schema up to date")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Database.URL, store.PoolConfig{
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

