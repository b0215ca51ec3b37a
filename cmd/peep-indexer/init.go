package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing config file")
}

const sampleConfig = `version: 1
global:
  db_driver: sqlite
  db_path: peeps.db
  confirmations: 12
  search_index: peeps.bleve
sources:
  - id: mainnet
    type: evm
    rpc_url: ${RPC_URL}
    contract: "0x0000000000000000000000000000000000000000"
    start_block: latest-100
ipfs:
  gateway_url: https://ipfs.io
  timeout: 10s
  retries: 2
  backoff: 500ms
normalizer:
  content_type: peep
notify:
  - id: replies
    where: ["variant == REPLY"]
    sinks: [slack_main]
    dedupe: {key: "reply:id", ttl: 1h}
sinks:
  - id: slack_main
    type: slack
    webhook_url: ${SLACK_WEBHOOK}
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := writeSampleConfig(cfgPath, flagForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; set RPC_URL and SLACK_WEBHOOK (or a .env next to it) and the contract address\n", cfgPath)
		return nil
	},
}

func writeSampleConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
