// Package guestbook persists messages posted after a successful Auth47
// redemption. Messages are append-only; the newest come back first.
package guestbook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const messagesKey = "guestbook:messages"

// MaxText caps a single message's length in bytes.
const MaxText = 280

// Message is one signed guestbook entry.
type Message struct {
	Nym      string `json:"nym"`
	Text     string `json:"text"`
	PostedAt int64  `json:"posted_at"`
}

// Append durably records a message. The caller must only invoke this after
// the redemption that authorizes it has been verified, and must consume the
// challenge record only after Append returns.
func Append(ctx context.Context, rdb *redis.Client, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := rdb.LPush(ctx, messagesKey, data).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Recent returns up to n messages, newest first.
func Recent(ctx context.Context, rdb *redis.Client, n int64) ([]Message, error) {
	raw, err := rdb.LRange(ctx, messagesKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Count returns the total number of stored messages.
func Count(ctx context.Context, rdb *redis.Client) (int64, error) {
	return rdb.LLen(ctx, messagesKey).Result()
}
