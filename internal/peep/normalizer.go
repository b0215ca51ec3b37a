package peep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultContentType is the payload type tag accepted when none is configured.
const DefaultContentType = "peep"

// ErrRejected matches every *RejectedError.
var ErrRejected = errors.New("peep rejected")

// RejectedError reports a payload whose type tag is not the expected one.
type RejectedError struct {
	Type   string
	TxHash string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("invalid peep of type=%s in tx=%s", e.Type, e.TxHash)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Sequencer hands out record numbers. Each call consumes one number.
type Sequencer interface {
	NextSequence(ctx context.Context) (uint64, error)
}

// Writer is the transactional view the pipeline normalizes and saves through.
type Writer interface {
	Sequencer
	SavePeep(ctx context.Context, r Record) error
}

// Normalizer turns resolved payloads into records.
type Normalizer struct {
	contentType string
	log         *slog.Logger
}

// NewNormalizer builds a normalizer accepting payloads tagged contentType.
func NewNormalizer(contentType string, log *slog.Logger) *Normalizer {
	if contentType == "" {
		contentType = DefaultContentType
	}
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{contentType: contentType, log: log}
}

// ContentType returns the accepted type tag.
func (n *Normalizer) ContentType() string {
	return n.contentType
}

// Normalize validates payload and builds the record with the given id.
// A number is drawn from seq only once the payload is accepted.
//
// When both shareID and parentID are present the record is a REPLY and
// keeps its Share reference.
func (n *Normalizer) Normalize(ctx context.Context, seq Sequencer, payload Payload, id string, tx TxInfo) (Record, error) {
	typ, ok := payload.String(KeyType).Get()
	if !ok || typ != n.contentType {
		observed := typeLabel(payload[KeyType])
		n.log.Warn("ignoring invalid peep", "type", observed, "tx", tx.Hash)
		return Record{}, &RejectedError{Type: observed, TxHash: tx.Hash}
	}

	number, err := seq.NextSequence(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("assign number: %w", err)
	}

	rec := Record{
		ID:        id,
		Number:    number,
		Account:   tx.From,
		Content:   payload.String(KeyContent),
		Pic:       payload.String(KeyPic),
		Timestamp: payload.Int(KeyUntrustedTimestamp, 0),
		Variant:   VariantOriginal,
	}

	if share := payload.String(KeyShareID); share.IsSet() {
		rec.Share = share
		rec.Variant = VariantShare
	}
	if parent := payload.String(KeyParentID); parent.IsSet() {
		rec.ReplyTo = parent
		rec.Variant = VariantReply
	}

	rec.CreatedInBlock = tx.BlockNumber
	rec.CreatedInTx = tx.Hash
	rec.CreatedTimestamp = tx.Timestamp
	return rec, nil
}

func typeLabel(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
