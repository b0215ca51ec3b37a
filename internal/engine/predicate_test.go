package engine

import (
	"testing"

	"github.com/devblac/peep-indexer/internal/peep"
)

func TestCompilePredicates(t *testing.T) {
	fields := peep.Record{
		ID:      "QmB",
		Number:  1500,
		Account: "0xabcdef",
		Variant: peep.VariantReply,
		Content: peep.Some("gm == gn"),
		ReplyTo: peep.Some("QmA"),
	}.Fields()

	tests := []struct {
		expr string
		want bool
	}{
		{"variant == REPLY", true},
		{"variant == reply", true},
		{"variant != SHARE", true},
		{"number > 1_000", true},
		{"number <= 1e3", false},
		{"number >= 24 * 50", true},
		{"account in 0x111,0xABCDEF", true},
		{"account in 0x111,0x222", false},
		{"content contains gm == gn", true},
		{"content startswith gn", false},
		{"reply_to == QmA", true},
		{"share == QmA", false},
		{"pic contains x", false},
	}
	for _, tt := range tests {
		preds, err := CompilePredicates([]string{tt.expr})
		if err != nil {
			t.Fatalf("%s: compile: %v", tt.expr, err)
		}
		if got := matchAll(preds, fields); got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.expr, got, tt.want)
		}
	}
}

func TestCompilePredicatesErrors(t *testing.T) {
	for _, expr := range []string{"variant", "== REPLY", "content contains "} {
		if _, err := CompilePredicates([]string{expr}); err == nil {
			t.Fatalf("%q: expected compile error", expr)
		}
	}
}

func TestCompilePredicatesSkipsBlank(t *testing.T) {
	preds, err := CompilePredicates([]string{"", "  "})
	if err != nil || len(preds) != 0 {
		t.Fatalf("expected no predicates, got %d err=%v", len(preds), err)
	}
	if !matchAll(preds, map[string]any{}) {
		t.Fatalf("empty predicate set must match")
	}
}
