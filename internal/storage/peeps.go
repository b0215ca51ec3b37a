package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/devblac/peep-indexer/internal/peep"
)

const peepColumns = `id, number, account, variant, content, pic, share_id, reply_to,
  untrusted_ts, created_in_block, created_in_tx, created_timestamp`

// peepTx is the transactional peep.Writer handed out by Ingest.
type peepTx struct {
	tx     *sql.Tx
	driver string
}

// NextSequence increments total_records and returns the new value.
func (p *peepTx) NextSequence(ctx context.Context) (uint64, error) {
	var n uint64
	err := p.tx.QueryRowContext(ctx, `
UPDATE stats SET total_records = total_records + 1 WHERE id = 1
RETURNING total_records;
`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment total_records: %w", err)
	}
	return n, nil
}

// SavePeep inserts a record; an existing id yields ErrDuplicate.
func (p *peepTx) SavePeep(ctx context.Context, r peep.Record) error {
	if r.ID == "" {
		return errors.New("peep id required")
	}
	_, err := p.tx.ExecContext(ctx, rebind(p.driver, `
INSERT INTO peeps (`+peepColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`),
		r.ID, int64(r.Number), r.Account, string(r.Variant),
		nullString(r.Content), nullString(r.Pic), nullString(r.Share), nullString(r.ReplyTo),
		r.Timestamp, int64(r.CreatedInBlock), r.CreatedInTx, int64(r.CreatedTimestamp),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert peep %s: %w", r.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert peep %s: %w", r.ID, err)
	}
	return nil
}

// Ingest runs fn in one transaction so a record and its number commit together.
// Any error from fn rolls back the number it drew.
func (s *Store) Ingest(ctx context.Context, fn func(w peep.Writer) error) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&peepTx{tx: tx, driver: s.driver})
	})
}

// IncrementResolutionFailures bumps total_resolution_failures and returns the new value.
func (s *Store) IncrementResolutionFailures(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `
UPDATE stats SET total_resolution_failures = total_resolution_failures + 1 WHERE id = 1
RETURNING total_resolution_failures;
`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment total_resolution_failures: %w", err)
	}
	return n, nil
}

// Counters loads the persisted totals.
func (s *Store) Counters(ctx context.Context) (peep.Counters, error) {
	var c peep.Counters
	err := s.db.QueryRowContext(ctx, `
SELECT total_records, total_resolution_failures FROM stats WHERE id = 1;
`).Scan(&c.TotalRecords, &c.TotalResolutionFailures)
	if err != nil {
		return peep.Counters{}, fmt.Errorf("load counters: %w", err)
	}
	return c, nil
}

// GetPeep loads a record by id.
func (s *Store) GetPeep(ctx context.Context, id string) (peep.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+peepColumns+` FROM peeps WHERE id = ?;`), id)
	r, err := scanPeep(row)
	switch {
	case err == nil:
		return r, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return peep.Record{}, false, nil
	default:
		return peep.Record{}, false, fmt.Errorf("get peep: %w", err)
	}
}

// ListPeeps returns up to limit records with number > after, in number order.
func (s *Store) ListPeeps(ctx context.Context, after uint64, limit int) ([]peep.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT `+peepColumns+` FROM peeps WHERE number > ? ORDER BY number LIMIT ?;
`), int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("list peeps: %w", err)
	}
	defer rows.Close()

	out := []peep.Record{}
	for rows.Next() {
		r, err := scanPeep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan peep: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EachPeep streams every record in number order.
func (s *Store) EachPeep(ctx context.Context, fn func(peep.Record) error) error {
	var after uint64
	for {
		batch, err := s.ListPeeps(ctx, after, 500)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, r := range batch {
			if err := fn(r); err != nil {
				return err
			}
		}
		after = batch[len(batch)-1].Number
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPeep(row scanner) (peep.Record, error) {
	var (
		r                          peep.Record
		variant                    string
		content, pic, share, reply sql.NullString
	)
	err := row.Scan(&r.ID, &r.Number, &r.Account, &variant, &content, &pic, &share, &reply,
		&r.Timestamp, &r.CreatedInBlock, &r.CreatedInTx, &r.CreatedTimestamp)
	if err != nil {
		return peep.Record{}, err
	}
	if r.Variant, err = peep.ParseVariant(variant); err != nil {
		return peep.Record{}, err
	}
	r.Content = optional(content)
	r.Pic = optional(pic)
	r.Share = optional(share)
	r.ReplyTo = optional(reply)
	return r, nil
}

func nullString(o peep.Optional[string]) sql.NullString {
	v, ok := o.Get()
	return sql.NullString{String: v, Valid: ok}
}

func optional(ns sql.NullString) peep.Optional[string] {
	if !ns.Valid {
		return peep.None[string]()
	}
	return peep.Some(ns.String)
}
