package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devblac/peep-indexer/internal/metrics"
	"github.com/devblac/peep-indexer/internal/peep"
	"github.com/devblac/peep-indexer/internal/source/evm"
	"github.com/devblac/peep-indexer/internal/storage"
)

// CallSource yields the contract calls of the next eligible block.
type CallSource interface {
	ProcessNext(ctx context.Context) (evm.Batch, error)
}

// Indexer receives every persisted peep.
type Indexer interface {
	IndexPeep(r peep.Record) error
}

// Runner wires sources, the pipeline, search indexing and notifications for a single pass.
type Runner struct {
	store    *storage.Store
	sources  map[string]CallSource
	pipeline *Pipeline
	index    Indexer
	notifier *Notifier
	targetTo uint64
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// RunnerOptions carries the optional collaborators.
type RunnerOptions struct {
	Index    Indexer
	Notifier *Notifier
	// To stops a source once its cursor reaches this height (inclusive). Zero means no limit.
	To      uint64
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// NewRunner builds a runner for the provided sources.
func NewRunner(store *storage.Store, sources map[string]CallSource, pipeline *Pipeline, opts RunnerOptions) *Runner {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		store:    store,
		sources:  sources,
		pipeline: pipeline,
		index:    opts.Index,
		notifier: opts.Notifier,
		targetTo: opts.To,
		metrics:  opts.Metrics,
		log:      log,
	}
}

// Tick summarizes one RunOnce pass.
type Tick struct {
	// Done reports that every source has reached the --to target.
	Done bool
	// Behind reports that some source has confirmed blocks left to scan.
	Behind bool
}

// RunOnce processes one eligible block per source.
func (r *Runner) RunOnce(ctx context.Context) (Tick, error) {
	tick := Tick{Done: r.targetTo > 0}
	for id, src := range r.sources {
		if r.targetTo > 0 {
			h, _, ok, err := r.store.GetCursor(ctx, id)
			if err != nil {
				return Tick{}, err
			}
			if ok && h >= r.targetTo {
				continue
			}
			tick.Done = false
		}
		batch, err := src.ProcessNext(ctx)
		if err != nil {
			return Tick{}, fmt.Errorf("evm source %s: %w", id, err)
		}
		if !batch.Scanned {
			continue
		}
		r.metrics.BlocksProcessed()
		for _, c := range batch.Calls {
			if err := r.handleCall(ctx, CallFromEVM(c)); err != nil {
				return Tick{}, err
			}
		}
		if batch.Behind && (r.targetTo == 0 || batch.Height < r.targetTo) {
			tick.Behind = true
		}
	}
	return tick, nil
}

func (r *Runner) handleCall(ctx context.Context, call Call) error {
	out, err := r.pipeline.Process(ctx, call)
	if err != nil {
		return fmt.Errorf("tx %s: %w", call.Tx.Hash, err)
	}
	if out.Status != OutcomePersisted {
		r.log.Debug("call skipped", "hash", call.Hash, "tx", call.Tx.Hash, "status", out.Status.String())
		return nil
	}

	rec := out.Record
	r.log.Info("peep indexed", "id", rec.ID, "number", rec.Number, "variant", rec.Variant, "source", call.SourceID)

	if r.index != nil {
		// The record is durable already; a stale index is repaired by reindex.
		if err := r.index.IndexPeep(rec); err != nil {
			r.metrics.Errors()
			r.log.Warn("search index update failed", "id", rec.ID, "error", err)
		}
	}
	if r.notifier != nil {
		// The cursor is past this block already; a failed notification must not stop it.
		if err := r.notifier.Notify(ctx, call.SourceID, call.Kind, rec); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.metrics.Errors()
			r.log.Warn("notification failed", "id", rec.ID, "tx", call.Tx.Hash, "error", err)
		}
	}
	return nil
}
