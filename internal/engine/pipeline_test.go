package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/devblac/peep-indexer/internal/ipfs"
	"github.com/devblac/peep-indexer/internal/logging"
	"github.com/devblac/peep-indexer/internal/metrics"
	"github.com/devblac/peep-indexer/internal/peep"
	"github.com/devblac/peep-indexer/internal/storage"
)

type fakeResolver struct {
	docs  map[string]string
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, hash string, tx peep.TxInfo) (peep.Payload, error) {
	f.calls++
	raw, ok := f.docs[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ipfs.ErrNotFound, hash)
	}
	return peep.DecodePayload([]byte(raw))
}

type pipelineFixture struct {
	store    *storage.Store
	resolver *fakeResolver
	pipeline *Pipeline
	logs     *bytes.Buffer
}

func newPipelineFixture(t *testing.T, docs map[string]string) *pipelineFixture {
	t.Helper()
	store := newTestStore(t)
	logs := &bytes.Buffer{}
	log := logging.NewWriter(logs, "debug")
	m := metrics.NewUnregistered()
	res := &fakeResolver{docs: docs}
	return &pipelineFixture{
		store:    store,
		resolver: res,
		pipeline: NewPipeline(res, peep.NewNormalizer("", log), store, m, log),
		logs:     logs,
	}
}

func (f *pipelineFixture) counters(t *testing.T) peep.Counters {
	t.Helper()
	c, err := f.store.Counters(context.Background())
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	return c
}

func postCall(hash, txHash string) Call {
	return Call{
		Kind:     "post",
		Hash:     hash,
		SourceID: "main",
		Tx:       peep.TxInfo{From: "0xabc", Hash: txHash, BlockNumber: 10, Timestamp: 1000},
	}
}

func TestProcessRoundTrip(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{
		"QmHi": `{"type":"peep","content":"hi","untrustedTimestamp":100}`,
	})
	ctx := context.Background()

	out, err := f.pipeline.Process(ctx, postCall("QmHi", "0x1"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != OutcomePersisted {
		t.Fatalf("status = %s", out.Status)
	}

	got, ok, err := f.store.GetPeep(ctx, "QmHi")
	if err != nil || !ok {
		t.Fatalf("get peep ok=%v err=%v", ok, err)
	}
	if got.Number != 1 || got.Account != "0xabc" || got.Variant != peep.VariantOriginal {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Content.OrZero() != "hi" || got.Timestamp != 100 {
		t.Fatalf("unexpected content/timestamp %+v", got)
	}
	if got.CreatedInBlock != 10 || got.CreatedInTx != "0x1" || got.CreatedTimestamp != 1000 {
		t.Fatalf("unexpected provenance %+v", got)
	}
	if got.Share.IsSet() || got.ReplyTo.IsSet() || got.Pic.IsSet() {
		t.Fatalf("unexpected optional fields %+v", got)
	}
	if c := f.counters(t); c.TotalRecords != 1 || c.TotalResolutionFailures != 0 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestProcessNotFoundCountsFailure(t *testing.T) {
	f := newPipelineFixture(t, nil)

	out, err := f.pipeline.Process(context.Background(), postCall("QmGone", "0x2"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != OutcomeNotFound {
		t.Fatalf("status = %s", out.Status)
	}
	if c := f.counters(t); c.TotalResolutionFailures != 1 || c.TotalRecords != 0 {
		t.Fatalf("unexpected counters %+v", c)
	}
	if _, ok, _ := f.store.GetPeep(context.Background(), "QmGone"); ok {
		t.Fatalf("record must not exist")
	}
	logs := f.logs.String()
	for _, want := range []string{"unable to load data from ipfs", "QmGone", "fn=post", "0x2"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("log missing %q: %s", want, logs)
		}
	}
}

func TestProcessRejectedHasNoSideEffects(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{"QmOther": `{"type":"other"}`})

	out, err := f.pipeline.Process(context.Background(), postCall("QmOther", "0xbad"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != OutcomeRejected || out.Rejection == nil {
		t.Fatalf("expected rejection, got %+v", out)
	}
	if out.Rejection.Type != "other" || out.Rejection.TxHash != "0xbad" {
		t.Fatalf("unexpected rejection %+v", out.Rejection)
	}
	if c := f.counters(t); c.TotalRecords != 0 || c.TotalResolutionFailures != 0 {
		t.Fatalf("rejection changed counters %+v", c)
	}
	logs := f.logs.String()
	if !strings.Contains(logs, "other") || !strings.Contains(logs, "0xbad") {
		t.Fatalf("diagnostic missing type or tx: %s", logs)
	}
}

func TestProcessSequenceIgnoresInterleavedFailures(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{
		"QmA":   `{"type":"peep","content":"a"}`,
		"QmBad": `{"type":"spam"}`,
		"QmB":   `{"type":"peep","shareID":"QmA"}`,
		"QmC":   `{"type":"peep","shareID":"QmA","parentID":"QmB"}`,
	})
	ctx := context.Background()

	calls := []Call{
		postCall("QmA", "0x1"),
		postCall("QmBad", "0x2"),
		postCall("QmMissing", "0x3"),
		{Kind: "share", Hash: "QmB", Tx: peep.TxInfo{From: "0xabc", Hash: "0x4"}},
		postCall("QmMissing2", "0x5"),
		postCall("QmBad", "0x6"),
		{Kind: "reply", Hash: "QmC", Tx: peep.TxInfo{From: "0xabc", Hash: "0x7"}},
	}
	var persisted []peep.Record
	for _, c := range calls {
		out, err := f.pipeline.Process(ctx, c)
		if err != nil {
			t.Fatalf("process %s: %v", c.Hash, err)
		}
		if out.Status == OutcomePersisted {
			persisted = append(persisted, out.Record)
		}
	}

	if len(persisted) != 3 {
		t.Fatalf("persisted %d records", len(persisted))
	}
	for i, r := range persisted {
		if r.Number != uint64(i+1) {
			t.Fatalf("%s number = %d, want %d", r.ID, r.Number, i+1)
		}
	}
	if persisted[1].Variant != peep.VariantShare {
		t.Fatalf("QmB variant = %s", persisted[1].Variant)
	}
	reply := persisted[2]
	if reply.Variant != peep.VariantReply || reply.ReplyTo.OrZero() != "QmB" || reply.Share.OrZero() != "QmA" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if c := f.counters(t); c.TotalRecords != 3 || c.TotalResolutionFailures != 2 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestProcessMalformedCall(t *testing.T) {
	f := newPipelineFixture(t, nil)

	cases := []Call{
		{Kind: "burn", Hash: "QmA", Tx: peep.TxInfo{Hash: "0x1"}},
		{Kind: "post", Hash: "QmA"},
	}
	for _, c := range cases {
		if _, err := f.pipeline.Process(context.Background(), c); !errors.Is(err, ErrMalformedCall) {
			t.Fatalf("%+v: expected ErrMalformedCall, got %v", c, err)
		}
	}
	if f.resolver.calls != 0 {
		t.Fatalf("resolver called for malformed input")
	}
}

func TestProcessEmptyHashCountsFailure(t *testing.T) {
	f := newPipelineFixture(t, nil)

	out, err := f.pipeline.Process(context.Background(), postCall("", "0x1"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != OutcomeNotFound {
		t.Fatalf("status = %s", out.Status)
	}
	if c := f.counters(t); c.TotalResolutionFailures != 1 || c.TotalRecords != 0 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestProcessDuplicateIsIgnored(t *testing.T) {
	f := newPipelineFixture(t, map[string]string{
		"QmA": `{"type":"peep"}`,
		"QmB": `{"type":"peep"}`,
	})
	ctx := context.Background()

	if _, err := f.pipeline.Process(ctx, postCall("QmA", "0x1")); err != nil {
		t.Fatalf("first: %v", err)
	}
	out, err := f.pipeline.Process(ctx, postCall("QmA", "0x2"))
	if err != nil {
		t.Fatalf("duplicate returned error: %v", err)
	}
	if out.Status != OutcomeDuplicate {
		t.Fatalf("status = %s", out.Status)
	}
	logs := f.logs.String()
	for _, want := range []string{"ignoring duplicate peep", "QmA", "0x2"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("log missing %q: %s", want, logs)
		}
	}

	got, _, err := f.store.GetPeep(ctx, "QmA")
	if err != nil {
		t.Fatalf("get peep: %v", err)
	}
	if got.CreatedInTx != "0x1" {
		t.Fatalf("duplicate overwrote the record: %+v", got)
	}

	next, err := f.pipeline.Process(ctx, postCall("QmB", "0x3"))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.Record.Number != 2 {
		t.Fatalf("duplicate consumed a number: next = %d", next.Record.Number)
	}
}

type cancelResolver struct{}

func (cancelResolver) Resolve(ctx context.Context, hash string, tx peep.TxInfo) (peep.Payload, error) {
	return nil, context.Canceled
}

func TestProcessPropagatesNonNotFoundErrors(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(cancelResolver{}, peep.NewNormalizer("", nil), store, nil, nil)

	if _, err := p.Process(context.Background(), postCall("QmA", "0x1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	c, err := store.Counters(context.Background())
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if c.TotalResolutionFailures != 0 {
		t.Fatalf("cancellation must not count as not found")
	}
}
