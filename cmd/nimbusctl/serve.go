package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/internal/httpapi"
	"github.com/forest6511/nimbusvault/internal/logging"
	"github.com/forest6511/nimbusvault/pkg/audit"
	"github.com/forest6511/nimbusvault/pkg/sweep"
)

var (
	serveAddr           string
	serveRequestTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: NIMBUS_HTTP__ADDR)")
	serveCmd.Flags().DurationVar(&serveRequestTimeout, "request-timeout", 30*time.Second, "Per-request timeout")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the vault and saved locations over local HTTP",
	Long: `Unlocks the vault and serves it over a local JSON API, running the
background sweeper for trash retention, cache expiry, audit pruning and
idle locking. The vault is locked again on shutdown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = audit.WithSource(ctx, audit.SourceAPI)

		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()

		store, err := openWeather(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		cache, err := openCache(ctx)
		if err != nil {
			return err
		}
		if cache != store {
			defer cache.Close()
		}

		sweepers := []sweep.Sweeper{
			sweep.Trash{Store: v, Retention: cfg.Trash.Retention},
			sweep.Cache{Cache: cache, TTL: cfg.Cache.TTL},
			sweep.IdleLock{Vault: v},
		}
		if a := v.Audit(); a != nil && cfg.AuditRetention > 0 {
			sweepers = append(sweepers, sweep.Audit{Log: a, Retention: cfg.AuditRetention})
		}
		janitor := sweep.New(sweep.Config{Interval: cfg.Trash.SweepInterval, Logger: logging.NewSlogLogger(logger)}, sweepers...)
		janitor.Start(audit.WithSource(ctx, audit.SourceSweep))
		defer janitor.Stop()

		addr := serveAddr
		if addr == "" {
			addr = cfg.HTTP.Addr
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s\n", addr)
		srv := httpapi.New(v, store, httpapi.WithLogger(logger), httpapi.WithRequestTimeout(serveRequestTimeout))
		if err := srv.ListenAndServe(ctx, addr); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}
