package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/peep-indexer/internal/engine"
	"github.com/devblac/peep-indexer/internal/source/evm"
	"github.com/spf13/cobra"
)

const pingTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping storage, RPC and the IPFS gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, %d source(s), %d notify rule(s))\n", cfg.Version, len(cfg.Sources), len(cfg.Notify))

		if _, err := buildSinks(cfg); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		for _, r := range cfg.Notify {
			if _, err := engine.CompilePredicates(r.Where); err != nil {
				return fmt.Errorf("config invalid: notify %s: %w", r.ID, err)
			}
		}

		failures := 0

		store, err := openStore(cfg)
		if err != nil {
			failures++
			fmt.Fprintf(out, "- storage (%s): ERROR %v\n", cfg.Global.DBDriver, err)
		} else {
			fmt.Fprintf(out, "- storage (%s): OK\n", cfg.Global.DBDriver)
			_ = store.Close()
		}

		for _, src := range cfg.Sources {
			chainID, err := pingEVM(cmd.Context(), src.RPCURL)
			if err != nil {
				failures++
				fmt.Fprintf(out, "- source %s (evm): ERROR %v\n", src.ID, err)
				continue
			}
			fmt.Fprintf(out, "- source %s (evm): chainId %s OK\n", src.ID, chainID)
		}

		resolver, err := newResolver(cfg, newLogger())
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
		defer cancel()
		if err := resolver.Ping(ctx); err != nil {
			failures++
			fmt.Fprintf(out, "- ipfs gateway %s: ERROR %v\n", resolver.Gateway(), err)
		} else {
			fmt.Fprintf(out, "- ipfs gateway %s: OK\n", resolver.Gateway())
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed connectivity", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func pingEVM(ctx context.Context, rpcURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	cli, err := evm.NewRPCClient(rpcURL)
	if err != nil {
		return "", err
	}
	defer cli.Close()

	id, err := cli.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("eth_chainId: %w", err)
	}
	return id.String(), nil
}
