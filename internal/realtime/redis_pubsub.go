package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "match:"
	publishWait   = 5 * time.Second
	mirrorBuffer  = 1024
)

// redisPayload is the message published to Redis for observers of a match.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

type mirrored struct {
	code string
	msg  Message
}

// RedisPubSub mirrors match events to Redis channels "match:<code>". Publishing happens on one
// goroutine so the per-match order is kept and game timers never wait on Redis.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
	queue  chan mirrored
	done   chan struct{}
}

// NewRedisPubSub creates a Redis mirror for match events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{
		client: client,
		logger: logger,
		queue:  make(chan mirrored, mirrorBuffer),
		done:   make(chan struct{}),
	}
}

// ChannelName returns the Redis channel of a match.
func ChannelName(code string) string {
	return channelPrefix + code
}

// PublishMatchEvent queues an event for publishing. Events are dropped when the queue is full.
func (r *RedisPubSub) PublishMatchEvent(code string, msg Message) {
	select {
	case r.queue <- mirrored{code: code, msg: msg}:
	default:
		r.logger.Warn("redis mirror queue full, dropping event", zap.String("code", code), zap.String("event", msg.Event))
	}
}

// Run publishes queued events until ctx is cancelled.
func (r *RedisPubSub) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.queue:
			if err := r.publish(ctx, m); err != nil {
				r.logger.Warn("redis publish failed", zap.String("code", m.code), zap.Error(err))
			}
		}
	}
}

// Done is closed when Run returns.
func (r *RedisPubSub) Done() <-chan struct{} {
	return r.done
}

func (r *RedisPubSub) publish(ctx context.Context, m mirrored) error {
	body, err := json.Marshal(redisPayload{Event: m.msg.Event, Data: m.msg.Data, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishWait)
	defer cancel()
	return r.client.Publish(ctx, ChannelName(m.code), body).Err()
}
