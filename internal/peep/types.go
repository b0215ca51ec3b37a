package peep

import (
	"encoding/json"
	"fmt"
)

// Variant classifies a peep.
type Variant string

const (
	VariantOriginal Variant = "ORIGINAL"
	VariantShare    Variant = "SHARE"
	VariantReply    Variant = "REPLY"
)

// ParseVariant maps a stored variant string back to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantOriginal, VariantShare, VariantReply:
		return v, nil
	default:
		return "", fmt.Errorf("unknown variant %q", s)
	}
}

// Optional holds a value that may be absent. The zero value is absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsSet reports whether a value is present.
func (o Optional[T]) IsSet() bool {
	return o.ok
}

// OrZero returns the value, or the zero value of T when absent.
func (o Optional[T]) OrZero() T {
	return o.value
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// TxInfo is the read-only provenance of the chain call that triggered ingestion.
type TxInfo struct {
	From        string
	Hash        string
	BlockNumber uint64
	Timestamp   uint64
}

func (t TxInfo) String() string {
	return fmt.Sprintf("{hash=%s from=%s block=%d timestamp=%d}", t.Hash, t.From, t.BlockNumber, t.Timestamp)
}

// Record is a normalized, append-only peep.
type Record struct {
	ID      string  `json:"id"`
	Number  uint64  `json:"number"`
	Account string  `json:"account"`
	Variant Variant `json:"variant"`

	Content Optional[string] `json:"content"`
	Pic     Optional[string] `json:"pic"`
	Share   Optional[string] `json:"share"`
	ReplyTo Optional[string] `json:"replyTo"`

	// Timestamp is supplied by the author and is not verified.
	Timestamp int64 `json:"timestamp"`

	CreatedInBlock   uint64 `json:"createdInBlock"`
	CreatedInTx      string `json:"createdInTx"`
	CreatedTimestamp uint64 `json:"createdTimestamp"`
}

// Fields flattens the record for predicate evaluation and templates.
// Absent optional fields are omitted.
func (r Record) Fields() map[string]any {
	out := map[string]any{
		"id":                r.ID,
		"number":            r.Number,
		"account":           r.Account,
		"variant":           string(r.Variant),
		"timestamp":         r.Timestamp,
		"created_in_block":  r.CreatedInBlock,
		"created_in_tx":     r.CreatedInTx,
		"created_timestamp": r.CreatedTimestamp,
	}
	if v, ok := r.Content.Get(); ok {
		out["content"] = v
	}
	if v, ok := r.Pic.Get(); ok {
		out["pic"] = v
	}
	if v, ok := r.Share.Get(); ok {
		out["share"] = v
	}
	if v, ok := r.ReplyTo.Get(); ok {
		out["reply_to"] = v
	}
	return out
}

// Counters are the global ingestion totals.
type Counters struct {
	TotalRecords            uint64 `json:"totalRecords"`
	TotalResolutionFailures uint64 `json:"totalResolutionFailures"`
}
