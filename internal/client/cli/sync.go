package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/syncer"
	"github.com/spf13/cobra"
)

func newSyncCommand(opts *RootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize conversations until interrupted",
		Long: `Runs a sync cycle immediately and then after every sync interval, and
keeps live subscriptions open for active conversations. With --once a single
cycle runs and the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *App) error {
				return runSync(ctx, a, once)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle without live subscriptions")

	return cmd
}

func runSync(ctx context.Context, a *App, once bool) error {
	if err := a.unlock(ctx); err != nil {
		return err
	}
	if _, err := a.keys.EnsurePersonalKeys(ctx); err != nil {
		return err
	}

	manager, orch := a.newSyncer(func(e syncer.Event) { printEvent(a, e) })

	if once {
		return orch.RunCycle(ctx)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.MetricsAddr != "" {
		srv := a.serveMetrics()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Close(context.Background())

	return orch.Run(ctx)
}

func (a *App) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info(context.Background(), "serving metrics", "addr", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error(context.Background(), "metrics server stopped", "error", err)
		}
	}()
	return srv
}

func printEvent(a *App, e syncer.Event) {
	switch e.Type {
	case syncer.EventInitialSyncComplete:
		fmt.Fprintln(a.out, "initial sync complete")
	case syncer.EventSyncProgressed:
		fmt.Fprintf(a.out, "sync cycle %d done\n", e.Cycle)
	case syncer.EventSyncError:
		fmt.Fprintf(a.out, "sync failed: %v\n", e.Err)
	}
}
