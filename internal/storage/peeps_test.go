package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/devblac/peep-indexer/internal/peep"
)

func ingest(t *testing.T, store *Store, r peep.Record) (peep.Record, error) {
	t.Helper()
	var saved peep.Record
	err := store.Ingest(context.Background(), func(w peep.Writer) error {
		n, err := w.NextSequence(context.Background())
		if err != nil {
			return err
		}
		r.Number = n
		saved = r
		return w.SavePeep(context.Background(), r)
	})
	return saved, err
}

func TestIngestAssignsIncreasingNumbers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"Qm1", "Qm2", "Qm3"} {
		r, err := ingest(t, store, peep.Record{ID: id, Account: "0xa", Variant: peep.VariantOriginal})
		if err != nil {
			t.Fatalf("ingest %s: %v", id, err)
		}
		if r.Number != uint64(i+1) {
			t.Fatalf("%s number = %d, want %d", id, r.Number, i+1)
		}
	}

	c, err := store.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if c.TotalRecords != 3 {
		t.Fatalf("total records = %d", c.TotalRecords)
	}
}

func TestIngestDuplicateRollsBackNumber(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := ingest(t, store, peep.Record{ID: "Qm1", Variant: peep.VariantOriginal}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := ingest(t, store, peep.Record{ID: "Qm1", Variant: peep.VariantOriginal}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	c, err := store.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if c.TotalRecords != 1 {
		t.Fatalf("duplicate consumed a number: total=%d", c.TotalRecords)
	}

	r, err := ingest(t, store, peep.Record{ID: "Qm2", Variant: peep.VariantOriginal})
	if err != nil {
		t.Fatalf("ingest after duplicate: %v", err)
	}
	if r.Number != 2 {
		t.Fatalf("number after rollback = %d, want 2", r.Number)
	}
}

func TestGetPeepRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := peep.Record{
		ID:               "QmReply",
		Account:          "0xabc",
		Variant:          peep.VariantReply,
		Content:          peep.Some("hi"),
		Share:            peep.Some("QmShare"),
		ReplyTo:          peep.Some("QmParent"),
		Timestamp:        100,
		CreatedInBlock:   10,
		CreatedInTx:      "0x1",
		CreatedTimestamp: 1000,
	}
	saved, err := ingest(t, store, in)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got, ok, err := store.GetPeep(ctx, "QmReply")
	if err != nil || !ok {
		t.Fatalf("get peep ok=%v err=%v", ok, err)
	}
	if got != saved {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, saved)
	}
	if got.Pic.IsSet() {
		t.Fatalf("pic should stay absent")
	}

	if _, ok, err := store.GetPeep(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing peep ok=%v err=%v", ok, err)
	}
}

func TestListAndEachPeep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := ingest(t, store, peep.Record{ID: id, Variant: peep.VariantOriginal}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	page, err := store.ListPeeps(ctx, 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != "b" || page[1].ID != "c" {
		t.Fatalf("unexpected page: %+v", page)
	}

	var seen []string
	if err := store.EachPeep(ctx, func(r peep.Record) error {
		seen = append(seen, r.ID)
		return nil
	}); err != nil {
		t.Fatalf("each: %v", err)
	}
	if len(seen) != 4 || seen[3] != "d" {
		t.Fatalf("unexpected iteration: %v", seen)
	}
}

func TestResolutionFailuresPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		n, err := store.IncrementResolutionFailures(ctx)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != uint64(i) {
			t.Fatalf("failures = %d, want %d", n, i)
		}
	}
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	c, err := reopened.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if c.TotalResolutionFailures != 2 || c.TotalRecords != 0 {
		t.Fatalf("unexpected counters after reopen: %+v", c)
	}
}
