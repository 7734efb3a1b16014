// Package notify is the fire-and-forget notification sink. The core never
// depends on delivery success: failures are logged and swallowed.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier delivers a short text to a user or role. Implementations must
// not block the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, recipient, text string)
}

const channel = "procurement.notifications"

// RedisNotifier publishes notifications to a Redis channel for downstream
// delivery (mail, chat, whatever subscribes).
type RedisNotifier struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisNotifier(rdb *redis.Client, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, log: log}
}

func (n *RedisNotifier) Notify(ctx context.Context, recipient, text string) {
	payload, _ := json.Marshal(map[string]string{
		"recipient": recipient,
		"text":      text,
		"at":        time.Now().UTC().Format(time.RFC3339),
	})
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		n.log.Warn("notification publish failed",
			zap.String("recipient", recipient), zap.Error(err))
	}
}

// Nop discards all notifications. Used in tests and when Redis is not
// configured.
type Nop struct{}

func (Nop) Notify(ctx context.Context, recipient, text string) {}
