package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devblac/peep-indexer/internal/ipfs"
	"github.com/devblac/peep-indexer/internal/metrics"
	"github.com/devblac/peep-indexer/internal/peep"
	"github.com/devblac/peep-indexer/internal/source/evm"
	"github.com/devblac/peep-indexer/internal/storage"
)

// ErrMalformedCall reports call data the pipeline cannot act on.
var ErrMalformedCall = errors.New("malformed call")

// Call is one post, share or reply invocation handed to the pipeline.
type Call struct {
	Kind     string
	Hash     string
	SourceID string
	Tx       peep.TxInfo
}

// CallFromEVM converts a scanned contract call.
func CallFromEVM(c evm.Call) Call {
	return Call{
		Kind:     c.Kind,
		Hash:     c.IPFSHash,
		SourceID: c.SourceID,
		Tx: peep.TxInfo{
			From:        c.From,
			Hash:        c.TxHash,
			BlockNumber: c.Height,
			Timestamp:   c.Timestamp,
		},
	}
}

func (c Call) validate() error {
	switch c.Kind {
	case evm.KindPost, evm.KindShare, evm.KindReply:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedCall, c.Kind)
	}
	if c.Tx.Hash == "" {
		return fmt.Errorf("%w: empty tx hash", ErrMalformedCall)
	}
	return nil
}

// Status is the terminal state of a processed call.
type Status int

const (
	OutcomePersisted Status = iota + 1
	OutcomeRejected
	OutcomeNotFound
	OutcomeDuplicate
)

func (s Status) String() string {
	switch s {
	case OutcomePersisted:
		return "persisted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Outcome describes what happened to a call. Record is set only when persisted.
type Outcome struct {
	Status    Status
	Record    peep.Record
	Rejection *peep.RejectedError
}

// Resolver fetches the payload stored under an IPFS hash.
type Resolver interface {
	Resolve(ctx context.Context, hash string, tx peep.TxInfo) (peep.Payload, error)
}

// Ledger persists records and the global counters.
type Ledger interface {
	Ingest(ctx context.Context, fn func(w peep.Writer) error) error
	IncrementResolutionFailures(ctx context.Context) (uint64, error)
}

// Pipeline resolves, normalizes and persists calls one at a time.
type Pipeline struct {
	resolver   Resolver
	normalizer *peep.Normalizer
	ledger     Ledger
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// NewPipeline wires the pipeline collaborators. m may be nil.
func NewPipeline(resolver Resolver, normalizer *peep.Normalizer, ledger Ledger, m *metrics.Metrics, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		resolver:   resolver,
		normalizer: normalizer,
		ledger:     ledger,
		metrics:    m,
		log:        log,
	}
}

// Process runs a call to completion. Unresolvable content, rejected payloads
// and hashes that are already indexed are reported through the outcome with a
// nil error. An empty hash resolves to not found.
func (p *Pipeline) Process(ctx context.Context, call Call) (Outcome, error) {
	if err := call.validate(); err != nil {
		return Outcome{}, err
	}

	payload, err := p.resolver.Resolve(ctx, call.Hash, call.Tx)
	if err != nil {
		if !errors.Is(err, ipfs.ErrNotFound) {
			return Outcome{}, fmt.Errorf("resolve %s: %w", call.Hash, err)
		}
		p.log.Warn("unable to load data from ipfs", "hash", call.Hash, "fn", call.Kind, "tx", call.Tx.Hash)
		if _, err := p.ledger.IncrementResolutionFailures(ctx); err != nil {
			return Outcome{}, fmt.Errorf("count resolution failure: %w", err)
		}
		p.metrics.IPFSNotFound()
		return Outcome{Status: OutcomeNotFound}, nil
	}

	var rec peep.Record
	err = p.ledger.Ingest(ctx, func(w peep.Writer) error {
		r, err := p.normalizer.Normalize(ctx, w, payload, call.Hash, call.Tx)
		if err != nil {
			return err
		}
		if err := w.SavePeep(ctx, r); err != nil {
			return err
		}
		rec = r
		return nil
	})

	var rejected *peep.RejectedError
	if errors.As(err, &rejected) {
		p.metrics.PeepRejected()
		return Outcome{Status: OutcomeRejected, Rejection: rejected}, nil
	}
	if errors.Is(err, storage.ErrDuplicate) {
		// The rolled back transaction released the sequence number.
		p.log.Warn("ignoring duplicate peep", "hash", call.Hash, "fn", call.Kind, "tx", call.Tx.Hash)
		p.metrics.PeepDuplicate()
		return Outcome{Status: OutcomeDuplicate}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("persist %s: %w", call.Hash, err)
	}

	p.metrics.PeepIndexed(string(rec.Variant))
	p.log.Debug("peep persisted", "id", rec.ID, "number", rec.Number, "variant", rec.Variant, "tx", call.Tx.Hash)
	return Outcome{Status: OutcomePersisted, Record: rec}, nil
}
