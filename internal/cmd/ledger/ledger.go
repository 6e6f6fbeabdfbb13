// Package ledger parses ledger command flags and starts the incident ledger service.
package ledger

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tandemfamily/tandem/internal/ledger/app"
	"github.com/tandemfamily/tandem/internal/ledger/export"
	"github.com/tandemfamily/tandem/internal/ledger/storage/integrity"
	ledgersqlite "github.com/tandemfamily/tandem/internal/ledger/storage/sqlite"
	"github.com/tandemfamily/tandem/internal/ledger/verify"
	"github.com/tandemfamily/tandem/internal/ledger/writer"
	entrypoint "github.com/tandemfamily/tandem/internal/platform/cmd"
	"github.com/tandemfamily/tandem/internal/platform/telemetry/metrics"
)

// Config holds ledger command configuration.
type Config struct {
	Port       int    `env:"TANDEM_LEDGER_PORT" envDefault:"8084"`
	Addr       string `env:"TANDEM_LEDGER_ADDR"`
	DBPath     string `env:"TANDEM_LEDGER_DB_PATH" envDefault:"data/ledger.db"`
	MaxRetries int    `env:"TANDEM_LEDGER_MAX_RETRIES" envDefault:"5"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The ledger server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The ledger server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the ledger SQLite database")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Append retry budget under tip contention")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the incident ledger service.
func Run(ctx context.Context, cfg Config) error {
	keyring, err := integrity.KeyringFromEnv()
	if err != nil {
		return fmt.Errorf("load integrity keyring: %w", err)
	}

	store, err := ledgersqlite.Open(cfg.DBPath, keyring)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close ledger store: %v", err)
		}
	}()

	ledgerMetrics, err := metrics.NewLedgerMetrics(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	w := writer.New(store,
		writer.WithMaxRetries(cfg.MaxRetries),
		writer.WithMetrics(ledgerMetrics),
	)
	v := verify.New(store, keyring, verify.WithMetrics(ledgerMetrics))
	e := export.New(v, export.WithMetrics(ledgerMetrics))

	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Port)
	}

	server := app.New(addr, w, v, e, store, ledgerMetrics)
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLedger, func(runCtx context.Context) error {
		return server.ListenAndServe(runCtx)
	})
}
