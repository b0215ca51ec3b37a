package peep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type countingSeq struct {
	next  uint64
	calls int
}

func (c *countingSeq) NextSequence(context.Context) (uint64, error) {
	c.calls++
	c.next++
	return c.next, nil
}

func newTestNormalizer(buf *bytes.Buffer) *Normalizer {
	log := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewNormalizer("", log)
}

func mustPayload(t *testing.T, raw string) Payload {
	t.Helper()
	p, err := DecodePayload([]byte(raw))
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return p
}

func TestNormalizeOriginal(t *testing.T) {
	var buf bytes.Buffer
	n := newTestNormalizer(&buf)
	seq := &countingSeq{}
	tx := TxInfo{From: "0xABC", Hash: "0x1", BlockNumber: 10, Timestamp: 1000}

	rec, err := n.Normalize(context.Background(), seq, mustPayload(t, `{"type":"peep","content":"hi","untrustedTimestamp":100}`), "Qm1", tx)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.ID != "Qm1" || rec.Number != 1 {
		t.Fatalf("unexpected id/number: %s %d", rec.ID, rec.Number)
	}
	if rec.Account != "0xABC" {
		t.Fatalf("account = %q", rec.Account)
	}
	if got, ok := rec.Content.Get(); !ok || got != "hi" {
		t.Fatalf("content = %q present=%v", got, ok)
	}
	if rec.Pic.IsSet() {
		t.Fatalf("pic should be absent")
	}
	if rec.Timestamp != 100 || rec.CreatedTimestamp != 1000 {
		t.Fatalf("timestamps = %d / %d", rec.Timestamp, rec.CreatedTimestamp)
	}
	if rec.CreatedInBlock != 10 || rec.CreatedInTx != "0x1" {
		t.Fatalf("provenance = %d %s", rec.CreatedInBlock, rec.CreatedInTx)
	}
	if rec.Variant != VariantOriginal {
		t.Fatalf("variant = %s", rec.Variant)
	}
	if rec.Share.IsSet() || rec.ReplyTo.IsSet() {
		t.Fatalf("share/reply should be absent")
	}
}

func TestNormalizeVariants(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		want      Variant
		wantShare string
		wantReply string
	}{
		{"original", `{"type":"peep"}`, VariantOriginal, "", ""},
		{"share", `{"type":"peep","shareID":"QmS"}`, VariantShare, "QmS", ""},
		{"reply", `{"type":"peep","parentID":"QmP"}`, VariantReply, "", "QmP"},
		{"reply wins over share", `{"type":"peep","shareID":"QmS","parentID":"QmP"}`, VariantReply, "QmS", "QmP"},
		{"null share ignored", `{"type":"peep","shareID":null}`, VariantOriginal, "", ""},
		{"numeric parent ignored", `{"type":"peep","parentID":7}`, VariantOriginal, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			rec, err := newTestNormalizer(&buf).Normalize(context.Background(), &countingSeq{}, mustPayload(t, tt.payload), "id", TxInfo{Hash: "0x1"})
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if rec.Variant != tt.want {
				t.Errorf("variant = %s, want %s", rec.Variant, tt.want)
			}
			if got := rec.Share.OrZero(); got != tt.wantShare {
				t.Errorf("share = %q, want %q", got, tt.wantShare)
			}
			if got := rec.ReplyTo.OrZero(); got != tt.wantReply {
				t.Errorf("replyTo = %q, want %q", got, tt.wantReply)
			}
		})
	}
}

func TestNormalizeRejectsOtherType(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		observed string
	}{
		{"other", `{"type":"other"}`, "other"},
		{"missing", `{"content":"hi"}`, "null"},
		{"numeric", `{"type":5}`, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			seq := &countingSeq{}
			_, err := newTestNormalizer(&buf).Normalize(context.Background(), seq, mustPayload(t, tt.payload), "id", TxInfo{Hash: "0xdead"})
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("expected rejection, got %v", err)
			}
			var rej *RejectedError
			if !errors.As(err, &rej) || rej.Type != tt.observed {
				t.Fatalf("rejected type = %+v, want %q", rej, tt.observed)
			}
			if seq.calls != 0 {
				t.Fatalf("rejected payload consumed %d numbers", seq.calls)
			}
			out := buf.String()
			if !strings.Contains(out, tt.observed) || !strings.Contains(out, "0xdead") {
				t.Fatalf("diagnostic missing type or tx: %s", out)
			}
		})
	}
}

func TestNormalizeCustomContentType(t *testing.T) {
	n := NewNormalizer("chirp", nil)
	if _, err := n.Normalize(context.Background(), &countingSeq{}, Payload{"type": "chirp"}, "id", TxInfo{}); err != nil {
		t.Fatalf("chirp should be accepted: %v", err)
	}
	if _, err := n.Normalize(context.Background(), &countingSeq{}, Payload{"type": "peep"}, "id", TxInfo{}); !errors.Is(err, ErrRejected) {
		t.Fatalf("peep should be rejected, got %v", err)
	}
}

func TestNormalizeSequenceError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewNormalizer("", nil).Normalize(context.Background(), failingSeq{boom}, Payload{"type": "peep"}, "id", TxInfo{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected sequence error, got %v", err)
	}
}

type failingSeq struct{ err error }

func (f failingSeq) NextSequence(context.Context) (uint64, error) { return 0, f.err }
