package health

import (
	"context"
	"fmt"

	"github.com/devblac/peep-indexer/internal/source/evm"
)

// RPCChecker pings every configured EVM source.
type RPCChecker struct {
	clients map[string]evm.BlockClient
}

// NewRPCChecker creates a checker for the given sources keyed by id.
func NewRPCChecker(clients map[string]evm.BlockClient) *RPCChecker {
	return &RPCChecker{clients: clients}
}

// Ping fetches the latest header from each source and reports the last failure.
func (c *RPCChecker) Ping(ctx context.Context) error {
	var lastErr error
	for id, cli := range c.clients {
		if _, err := cli.HeaderByNumber(ctx, nil); err != nil {
			lastErr = fmt.Errorf("evm source %s: %w", id, err)
		}
	}
	return lastErr
}
