// Copyright 2024-2026 Aiku AI

// Package store provides SQLite persistence for channel subscriptions and
// the index of chat messages created for each relayed post.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store handles SQLite persistence. All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Subscription links a tracked account to a chat channel.
type Subscription struct {
	AccountID string    `json:"account_id"`
	Handle    string    `json:"handle"`
	ChannelID string    `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery records one chat message created for a relayed post.
type Delivery struct {
	PostID    string
	ChannelID string
	MessageID string
}

// Open creates a new Store with the given database path and creates the
// schema if needed. ":memory:" opens a private in-memory database.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A shared in-memory database only lives as long as one connection does.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		account_id TEXT NOT NULL,
		handle TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (account_id, channel_id)
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		post_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (channel_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_created ON subscriptions(created_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_post ON deliveries(post_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Subscribe adds a channel subscription. Subscribing twice is a no-op that
// keeps the original creation time but refreshes the handle.
func (s *Store) Subscribe(ctx context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.AccountID == "" || sub.ChannelID == "" {
		return errors.New("account id and channel id are required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (account_id, handle, channel_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, channel_id) DO UPDATE SET handle = excluded.handle
	`, sub.AccountID, sub.Handle, sub.ChannelID, sub.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// Unsubscribe removes a channel subscription and reports whether it existed.
func (s *Store) Unsubscribe(ctx context.Context, accountID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE account_id = ? AND channel_id = ?`, accountID, channelID)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Subscriptions lists every subscription, oldest first.
func (s *Store) Subscriptions(ctx context.Context) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, handle, channel_id, created_at
		FROM subscriptions
		ORDER BY created_at, account_id, channel_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.AccountID, &sub.Handle, &sub.ChannelID, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// TrackedAccountIDs returns the distinct subscribed account ids in the
// order they were first subscribed.
func (s *Store) TrackedAccountIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id
		FROM subscriptions
		GROUP BY account_id
		ORDER BY MIN(created_at), account_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query tracked accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChannelsForAccount returns the channels subscribed to an account.
func (s *Store) ChannelsForAccount(ctx context.Context, accountID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id FROM subscriptions WHERE account_id = ? ORDER BY created_at, channel_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, fmt.Errorf("scan channel id: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// RecordDelivery stores the chat message created for a post.
func (s *Store) RecordDelivery(ctx context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO deliveries (post_id, channel_id, message_id, created_at)
		VALUES (?, ?, ?, ?)
	`, d.PostID, d.ChannelID, d.MessageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// DeliveriesForPost returns the chat messages created for a post.
func (s *Store) DeliveriesForPost(ctx context.Context, postID string) ([]Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, channel_id, message_id FROM deliveries WHERE post_id = ? ORDER BY created_at
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.PostID, &d.ChannelID, &d.MessageID); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ForgetDelivery removes one delivery record.
func (s *Store) ForgetDelivery(ctx context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE channel_id = ? AND message_id = ?`, channelID, messageID)
	if err != nil {
		return fmt.Errorf("delete delivery: %w", err)
	}
	return nil
}

// PruneDeliveries removes delivery records created before cutoff and
// returns how many were removed.
func (s *Store) PruneDeliveries(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
