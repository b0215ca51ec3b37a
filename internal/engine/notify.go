package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/peep-indexer/internal/config"
	"github.com/devblac/peep-indexer/internal/metrics"
	"github.com/devblac/peep-indexer/internal/peep"
	"github.com/devblac/peep-indexer/internal/sink"
	"github.com/devblac/peep-indexer/internal/storage"
	"github.com/google/uuid"
)

const defaultDedupeTTL = 24 * time.Hour

// Notifier matches persisted peeps against notify rules and delivers them to sinks.
type Notifier struct {
	store   *storage.Store
	sinks   map[string]sink.Sender
	rules   []ruleExec
	dryRun  bool
	nowFunc func() time.Time
	newID   func() string
	metrics *metrics.Metrics
	log     *slog.Logger
}

type ruleExec struct {
	rule  config.NotifyRule
	preds []Predicate
	ttl   time.Duration
}

// NewNotifier compiles the rules. In dry-run mode matches are logged but not delivered.
func NewNotifier(store *storage.Store, rules []config.NotifyRule, sinks map[string]sink.Sender, dryRun bool, m *metrics.Metrics, log *slog.Logger) (*Notifier, error) {
	if log == nil {
		log = slog.Default()
	}
	execs := make([]ruleExec, 0, len(rules))
	for _, r := range rules {
		preds, err := CompilePredicates(r.Where)
		if err != nil {
			return nil, fmt.Errorf("rule %s predicates: %w", r.ID, err)
		}
		ttl := defaultDedupeTTL
		if r.Dedupe != nil && r.Dedupe.TTL != "" {
			if d, err := time.ParseDuration(r.Dedupe.TTL); err == nil && d > 0 {
				ttl = d
			}
		}
		execs = append(execs, ruleExec{rule: r, preds: preds, ttl: ttl})
	}
	return &Notifier{
		store:   store,
		sinks:   sinks,
		rules:   execs,
		dryRun:  dryRun,
		nowFunc: time.Now,
		newID:   uuid.NewString,
		metrics: m,
		log:     log,
	}, nil
}

// Notify evaluates every rule for rec. Sink failures are recorded and
// logged; only storage errors are returned.
func (n *Notifier) Notify(ctx context.Context, sourceID, kind string, rec peep.Record) error {
	fields := rec.Fields()
	for _, exec := range n.rules {
		if exec.rule.Source != "" && exec.rule.Source != sourceID {
			continue
		}
		if !matchAll(exec.preds, fields) {
			continue
		}

		if exec.rule.Dedupe != nil {
			key := buildDedupeKey(exec.rule.ID, exec.rule.Dedupe.Key, rec)
			now := n.nowFunc()
			isDup, err := n.store.IsDuplicate(ctx, key, now)
			if err != nil {
				return err
			}
			if isDup {
				n.metrics.NotificationDropped()
				continue
			}
			if err := n.store.MarkDedupe(ctx, key, now.Add(exec.ttl)); err != nil {
				return err
			}
		}

		if n.dryRun {
			n.log.Info("rule matched (dry-run)", "rule", exec.rule.ID, "peep", rec.ID, "number", rec.Number)
			continue
		}

		if err := n.deliver(ctx, exec.rule, sourceID, kind, rec); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) deliver(ctx context.Context, rule config.NotifyRule, sourceID, kind string, rec peep.Record) error {
	notif := storage.Notification{
		ID:        n.newID(),
		RuleID:    rule.ID,
		PeepID:    rec.ID,
		TxHash:    rec.CreatedInTx,
		CreatedAt: n.nowFunc(),
	}
	if err := n.store.InsertNotification(ctx, notif); err != nil {
		return err
	}

	payload := sink.PeepPayload{RuleID: rule.ID, SourceID: sourceID, CallKind: kind, Record: rec}
	for _, sinkID := range rule.Sinks {
		s := n.sinks[sinkID]
		if s == nil {
			continue
		}
		send := storage.Send{NotificationID: notif.ID, SinkID: sinkID, Status: storage.SendOK, CreatedAt: n.nowFunc()}
		if err := s.Send(ctx, payload); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn("sink delivery failed", "rule", rule.ID, "sink", sinkID, "peep", rec.ID, "error", err)
			n.metrics.NotificationDropped()
			send.Status = storage.SendFailed
			send.Error = err.Error()
		} else {
			n.metrics.NotificationSent()
		}
		if err := n.store.InsertSend(ctx, send); err != nil && !errors.Is(err, storage.ErrDuplicate) {
			return err
		}
	}
	return nil
}

var dedupeTokens = []string{"txhash", "account", "variant", "number", "id"}

// buildDedupeKey expands record tokens in pattern and scopes the result to the rule.
// An empty pattern dedupes on the peep id.
func buildDedupeKey(ruleID, pattern string, rec peep.Record) string {
	if pattern == "" {
		pattern = "id"
	}
	values := map[string]string{
		"txhash":  rec.CreatedInTx,
		"account": rec.Account,
		"variant": string(rec.Variant),
		"number":  strconv.FormatUint(rec.Number, 10),
		"id":      rec.ID,
	}
	pairs := make([]string, 0, len(dedupeTokens)*2)
	for _, tok := range dedupeTokens {
		pairs = append(pairs, tok, values[tok])
	}
	return ruleID + "|" + strings.NewReplacer(pairs...).Replace(pattern)
}
