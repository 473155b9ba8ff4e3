package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification is one insert event published by the observations trigger.
type Notification struct {
	Channel string
	Symbol  string
}

// Subscription holds a pooled connection dedicated to LISTEN.
type Subscription struct {
	conn    *pgxpool.Conn
	channel string
}

// Listen acquires a connection and subscribes it to channel. The connection
// stays out of the pool until Close.
func (s *Store) Listen(ctx context.Context, channel string) (*Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if !channelName.MatchString(channel) {
		return nil, fmt.Errorf("invalid notification channel %q", channel)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	return &Subscription{conn: conn, channel: channel}, nil
}

// Wait blocks until the next notification arrives or ctx ends. Notifications
// delivered while nobody waits are buffered by the connection.
func (s *Subscription) Wait(ctx context.Context) (Notification, error) {
	n, err := s.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return Notification{}, err
	}
	return Notification{Channel: n.Channel, Symbol: n.Payload}, nil
}

// Close unsubscribes and returns the connection to the pool. A connection
// that cannot be cleaned up is closed rather than reused.
func (s *Subscription) Close() {
	if s == nil || s.conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := s.conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = s.conn.Conn().Close(ctx)
	}
	s.conn.Release()
	s.conn = nil
}
