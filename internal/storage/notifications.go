package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Notification records that a notify rule fired for a peep.
type Notification struct {
	ID        string
	RuleID    string
	PeepID    string
	TxHash    string
	CreatedAt time.Time
}

// InsertNotification stores a notification; primary key enforces exactly-once insertion.
func (s *Store) InsertNotification(ctx context.Context, n Notification) error {
	if n.ID == "" || n.RuleID == "" || n.PeepID == "" {
		return errors.New("notification id, rule_id and peep_id required")
	}
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO notifications (id, rule_id, peep_id, txhash, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`), n.ID, n.RuleID, n.PeepID, n.TxHash, nullTime(n.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert notification: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Send represents a sink delivery record.
type Send struct {
	NotificationID string
	SinkID         string
	Status         string
	Error          string
	CreatedAt      time.Time
}

// Delivery statuses.
const (
	SendOK     = "ok"
	SendFailed = "failed"
)

// InsertSend records a sink delivery attempt; primary key enforces exactly-once per notification/sink.
func (s *Store) InsertSend(ctx context.Context, srec Send) error {
	if srec.NotificationID == "" || srec.SinkID == "" || srec.Status == "" {
		return errors.New("notification_id, sink_id, and status are required")
	}
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO sends (notification_id, sink_id, status, error, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`), srec.NotificationID, srec.SinkID, srec.Status, srec.Error, nullTime(srec.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert send: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert send: %w", err)
	}
	return nil
}

// CountSends returns the number of delivery records for a notification.
func (s *Store) CountSends(ctx context.Context, notificationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM sends WHERE notification_id = ?;`), notificationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sends: %w", err)
	}
	return n, nil
}
