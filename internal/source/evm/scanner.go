package evm

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/devblac/peep-indexer/internal/config"
	"github.com/devblac/peep-indexer/internal/storage"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockClient captures the subset of ethclient used by the scanner.
type BlockClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// RPCClient is a thin wrapper over ethclient.Client that satisfies BlockClient.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(rpcURL string) (*RPCClient, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}

// Scanner processes blocks sequentially with confirmation safety.
type Scanner struct {
	client        BlockClient
	store         *storage.Store
	source        config.Source
	confirmations uint64
	decoder       *CallDecoder
}

// NewScanner builds a scanner for a source's contract.
func NewScanner(client BlockClient, store *storage.Store, source config.Source, confirmations uint64, abis map[string]*abi.ABI) (*Scanner, error) {
	decoder, err := NewCallDecoder(source.Contract, abis)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.ID, err)
	}
	return &Scanner{
		client:        client,
		store:         store,
		source:        source,
		confirmations: confirmations,
		decoder:       decoder,
	}, nil
}

// SourceID returns the configured source id.
func (s *Scanner) SourceID() string {
	return s.source.ID
}

// ProcessNext handles the next eligible block (respecting confirmations) and
// returns the contract calls of its successful transactions in block order.
// The cursor advances before the calls are returned, so each call is
// delivered at most once. An empty Batch means the source is caught up.
func (s *Scanner) ProcessNext(ctx context.Context) (Batch, error) {
	curHeight, _, hasCursor, err := s.store.GetCursor(ctx, s.source.ID)
	if err != nil {
		return Batch{}, err
	}

	latest, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Batch{}, fmt.Errorf("latest header: %w", err)
	}
	latestHeight := latest.Number.Uint64()

	safeHeight := latestHeight
	if s.confirmations > 0 {
		if s.confirmations > safeHeight {
			return Batch{}, nil
		}
		safeHeight -= s.confirmations
	}

	target := curHeight + 1
	if !hasCursor {
		start, err := resolveStartHeight(s.source.StartBlock, safeHeight)
		if err != nil {
			return Batch{}, err
		}
		target = start
	}

	if target > safeHeight {
		return Batch{}, nil
	}

	block, err := s.client.BlockByNumber(ctx, new(big.Int).SetUint64(target))
	if err != nil {
		return Batch{}, fmt.Errorf("block %d: %w", target, err)
	}

	calls := []Call{}
	for _, tx := range block.Transactions() {
		kind, hash, matched, decodeErr := s.decoder.Decode(tx)
		if !matched {
			continue
		}

		receipt, err := s.client.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return Batch{}, fmt.Errorf("receipt %s: %w", tx.Hash().Hex(), err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			continue
		}
		if decodeErr != nil {
			return Batch{}, fmt.Errorf("tx %s: %w", tx.Hash().Hex(), decodeErr)
		}

		from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			return Batch{}, fmt.Errorf("tx %s sender: %w", tx.Hash().Hex(), err)
		}

		calls = append(calls, Call{
			SourceID:  s.source.ID,
			Kind:      kind,
			IPFSHash:  hash,
			TxHash:    tx.Hash().Hex(),
			From:      strings.ToLower(from.Hex()),
			Height:    target,
			BlockHash: block.Hash().Hex(),
			Timestamp: block.Time(),
		})
	}

	if err := s.store.UpsertCursor(ctx, s.source.ID, target, block.Hash().Hex()); err != nil {
		return Batch{}, err
	}

	return Batch{Calls: calls, Scanned: true, Height: target, Behind: target < safeHeight}, nil
}

func resolveStartHeight(start string, safeHeight uint64) (uint64, error) {
	if start == "" || start == "0" {
		return 0, nil
	}
	if strings.HasPrefix(start, "latest-") {
		offsetStr := strings.TrimPrefix(start, "latest-")
		n, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse start_block %q: %w", start, err)
		}
		if n > safeHeight {
			return 0, nil
		}
		return safeHeight - n, nil
	}
	if start == "latest" {
		return safeHeight, nil
	}

	n, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse start_block %q: %w", start, err)
	}
	return n, nil
}
