package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblac/peep-indexer/internal/peep"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCursorUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertCursor(ctx, "src1", 10, "hashA"); err != nil {
		t.Fatalf("upsert cursor: %v", err)
	}
	h, hash, ok, err := store.GetCursor(ctx, "src1")
	if err != nil || !ok {
		t.Fatalf("get cursor failed err=%v ok=%v", err, ok)
	}
	if h != 10 || hash != "hashA" {
		t.Fatalf("unexpected cursor: %d %s", h, hash)
	}

	if err := store.UpsertCursor(ctx, "src1", 20, "hashB"); err != nil {
		t.Fatalf("upsert cursor update: %v", err)
	}
	h, hash, ok, err = store.GetCursor(ctx, "src1")
	if err != nil || !ok || h != 20 || hash != "hashB" {
		t.Fatalf("cursor not updated: %d %s err=%v ok=%v", h, hash, err, ok)
	}

	cursors, err := store.ListCursors(ctx)
	if err != nil {
		t.Fatalf("list cursors: %v", err)
	}
	if len(cursors) != 1 || cursors[0].SourceID != "src1" || cursors[0].Height != 20 {
		t.Fatalf("unexpected cursors: %+v", cursors)
	}
}

func TestDedupeTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.MarkDedupe(ctx, "k1", now.Add(1*time.Second)); err != nil {
		t.Fatalf("mark dedupe: %v", err)
	}
	dup, err := store.IsDuplicate(ctx, "k1", now)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate before expiry")
	}

	later := now.Add(2 * time.Second)
	dup, err = store.IsDuplicate(ctx, "k1", later)
	if err != nil {
		t.Fatalf("is duplicate later: %v", err)
	}
	if dup {
		t.Fatalf("expected non-duplicate after expiry")
	}
}

func TestExactlyOnceNotification(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n := Notification{ID: "n1", RuleID: "r1", PeepID: "Qm1", TxHash: "0xabc", CreatedAt: time.Now()}
	if err := store.InsertNotification(ctx, n); err != nil {
		t.Fatalf("insert notification: %v", err)
	}
	if err := store.InsertNotification(ctx, n); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate notification insert to fail, got %v", err)
	}

	if err := store.InsertSend(ctx, Send{NotificationID: "n1", SinkID: "s1", Status: SendOK}); err != nil {
		t.Fatalf("insert send: %v", err)
	}
	if err := store.InsertSend(ctx, Send{NotificationID: "n1", SinkID: "s1", Status: SendOK}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate send insert to fail with ErrDuplicate, got %v", err)
	}
	if got, err := store.CountSends(ctx, "n1"); err != nil || got != 1 {
		t.Fatalf("count sends = %d err=%v", got, err)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}

func TestConnectUnsupportedDriver(t *testing.T) {
	if _, err := Connect("mysql", "x"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c > ? LIMIT ?;"
	if got := rebind(DriverSQLite, q); got != q {
		t.Fatalf("sqlite query rewritten: %s", got)
	}
	want := "SELECT a FROM t WHERE b = $1 AND c > $2 LIMIT $3;"
	if got := rebind(DriverPostgres, q); got != want {
		t.Fatalf("rebind = %s, want %s", got, want)
	}
}

func TestCountersStartAtZero(t *testing.T) {
	store := newTestStore(t)
	c, err := store.Counters(context.Background())
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if c != (peep.Counters{}) {
		t.Fatalf("expected zero counters, got %+v", c)
	}
}
