// Package bus implements the optional cross-process interrupt fan-out: a
// Redis Pub/Sub channel per chat id that the run manager's HardCancel publishes to,
// so a supervisorctl invocation (or a second supervisord replica) can
// request cancellation of a run it doesn't own in-process. Grounded on the
// teacher's internal/queue/producer.go (thin wrapper, structured logging of
// every publish) and consumer.go (tolerant field parsing), adapted from
// Redis Streams to Pub/Sub since fan-out here needs no consumer-group
// replay — an interrupt signal missed because nobody was listening is
// simply a no-op, not a lost unit of work.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"agentsup.dev/supervisor/internal/model"
)

const channelPrefix = "supervisor:interrupt:"

func channel(chatID string) string { return channelPrefix + chatID }

// InterruptMessage is published on a chat's channel to request cancellation
// from whichever process owns the active run, if any.
type InterruptMessage struct {
	ChatID string             `json:"chat_id"`
	Mode   model.InterruptMode `json:"mode"`
	Reason string             `json:"reason"`
}

// Bus wraps a redis.Client for one concern: per-chat interrupt fan-out.
type Bus struct {
	client *redis.Client
}

func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// PublishInterrupt broadcasts an interrupt request on chatID's channel.
// Delivery is best-effort: if no process is subscribed, the publish simply
// has no effect, which is correct for a signal whose in-process fallback
// (runmanager's cancelCurrent hook) already handles the common
// single-instance case. Satisfies runmanager.InterruptPublisher.
func (b *Bus) PublishInterrupt(ctx context.Context, chatID string, mode model.InterruptMode, reason string) error {
	msg := InterruptMessage{ChatID: chatID, Mode: mode, Reason: reason}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshaling interrupt message: %w", err)
	}

	if err := b.client.Publish(ctx, channel(chatID), payload).Err(); err != nil {
		return fmt.Errorf("bus: publishing interrupt (chat_id=%s): %w", chatID, err)
	}

	slog.InfoContext(ctx, "published cross-process interrupt", "chat_id", chatID, "mode", mode)
	return nil
}

// Handler is invoked for each interrupt message received for a subscribed
// chat; it should apply the interrupt to the local session store if (and
// only if) this process owns that chat's active run.
type Handler func(ctx context.Context, msg InterruptMessage)

// Subscribe listens on chatID's channel until ctx is cancelled, invoking
// handle for every message received. Malformed payloads are logged and
// skipped rather than aborting the subscription.
func (b *Bus) Subscribe(ctx context.Context, chatID string, handle Handler) error {
	sub := b.client.Subscribe(ctx, channel(chatID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg InterruptMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				slog.WarnContext(ctx, "bus: discarding malformed interrupt payload", "chat_id", chatID, "error", err)
				continue
			}
			handle(ctx, msg)
		}
	}
}

// SubscribeAll listens on every chat's interrupt channel via a pattern
// subscription, used by supervisord's single long-lived fan-out listener.
func (b *Bus) SubscribeAll(ctx context.Context, handle Handler) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg InterruptMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				slog.WarnContext(ctx, "bus: discarding malformed interrupt payload", "channel", m.Channel, "error", err)
				continue
			}
			handle(ctx, msg)
		}
	}
}
