package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/devblac/peep-indexer/internal/api"
	"github.com/devblac/peep-indexer/internal/config"
	"github.com/devblac/peep-indexer/internal/engine"
	"github.com/devblac/peep-indexer/internal/health"
	"github.com/devblac/peep-indexer/internal/metrics"
	"github.com/devblac/peep-indexer/internal/peep"
	"github.com/devblac/peep-indexer/internal/search"
	"github.com/devblac/peep-indexer/internal/source/evm"
	"github.com/devblac/peep-indexer/internal/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagOnce     bool
	flagDryRun   bool
	flagFrom     uint64
	flagTo       uint64
	flagInterval time.Duration
	flagHealth   string
	flagMetrics  string
	flagAPI      string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Process one tick and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Index peeps but do not send notifications")
	runCmd.Flags().Uint64Var(&flagFrom, "from", 0, "Start block override for sources without a cursor")
	runCmd.Flags().Uint64Var(&flagTo, "to", 0, "Stop at block (inclusive)")
	runCmd.Flags().DurationVar(&flagInterval, "interval", time.Second, "Delay between ticks")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
	runCmd.Flags().StringVar(&flagAPI, "api", "", "Read API HTTP address (e.g., :8081)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan the contract and index peeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		clients, sources, err := buildSources(cfg, store)
		if err != nil {
			return err
		}

		resolver, err := newResolver(cfg, log)
		if err != nil {
			return fmt.Errorf("ipfs: %w", err)
		}
		pipeline := engine.NewPipeline(resolver, peep.NewNormalizer(cfg.Normalizer.ContentType, log), store, mtr, log)

		opts := engine.RunnerOptions{To: flagTo, Metrics: mtr, Log: log}
		var searcher api.Searcher
		if cfg.Global.SearchIndex != "" {
			idx, err := search.Open(cfg.Global.SearchIndex)
			if err != nil {
				return err
			}
			defer idx.Close()
			opts.Index = idx
			searcher = idx
			log.Info("search index enabled", "path", cfg.Global.SearchIndex)
		}

		if len(cfg.Notify) > 0 {
			sinks, err := buildSinks(cfg)
			if err != nil {
				return err
			}
			notifier, err := engine.NewNotifier(store, cfg.Notify, sinks, flagDryRun, mtr, log)
			if err != nil {
				return err
			}
			opts.Notifier = notifier
		}

		runner := engine.NewRunner(store, sources, pipeline, opts)

		var servers []*http.Server
		if flagHealth != "" {
			rpcChecker := health.NewRPCChecker(clients)
			servers = append(servers, health.NewServer(flagHealth, health.Checker{
				DBPing:   store.Ping,
				RPCPing:  rpcChecker.Ping,
				IPFSPing: resolver.Ping,
			}))
			log.Info("health check enabled", "addr", flagHealth)
		}
		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			servers = append(servers, &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second})
		}
		if flagAPI != "" {
			servers = append(servers, api.New(store, searcher, log).NewHTTPServer(flagAPI))
			log.Info("read api enabled", "addr", flagAPI)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, srv := range servers {
			srv := srv
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server %s: %w", srv.Addr, err)
				}
				return nil
			})
		}
		g.Go(func() error {
			defer shutdownServers(servers)
			return loop(gctx, runner, mtr, log)
		})
		return g.Wait()
	},
}

func buildSources(cfg *config.Config, store *storage.Store) (map[string]evm.BlockClient, map[string]engine.CallSource, error) {
	clients := map[string]evm.BlockClient{}
	sources := map[string]engine.CallSource{}
	for _, src := range cfg.Sources {
		if flagFrom > 0 {
			src.StartBlock = strconv.FormatUint(flagFrom, 10)
		}
		cli, err := evm.NewRPCClient(src.RPCURL)
		if err != nil {
			return nil, nil, err
		}
		abis, err := evm.LoadABIs(src.ABIDirs)
		if err != nil {
			return nil, nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
		sc, err := evm.NewScanner(cli, store, src, cfg.Global.Confirmations, abis)
		if err != nil {
			return nil, nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
		clients[src.ID] = cli
		sources[src.ID] = sc
	}
	return clients, sources, nil
}

// loop ticks the runner until --once, the --to target or shutdown. The
// interval is skipped while a source still has confirmed blocks to catch up on.
func loop(ctx context.Context, runner *engine.Runner, mtr *metrics.Metrics, log *slog.Logger) error {
	for {
		tick, err := runner.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			mtr.Errors()
			log.Error("run error", "error", err)
			return err
		}
		log.Debug("tick complete", "dry_run", flagDryRun, "behind", tick.Behind)
		if flagOnce || tick.Done {
			return nil
		}
		if tick.Behind {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(flagInterval):
		}
	}
}

func shutdownServers(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(ctx)
	}
}
