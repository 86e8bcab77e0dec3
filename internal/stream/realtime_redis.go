// Package stream carries order status events over Redis streams.
package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// StreamOrderStatus is the default stream the order service publishes status changes to.
const StreamOrderStatus = "order:status"

const payloadField = "data"

// Entry is one stream record. Data is nil when the record has no payload field.
type Entry struct {
	ID   string
	Data []byte
}

type RedisStream struct {
	client *redis.Client
	group  string
}

func NewRedisStream(client *redis.Client, group string) *RedisStream {
	return &RedisStream{
		client: client,
		group:  group,
	}
}

// CreateGroup creates the consumer group (and the stream) if missing.
func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: jsonData},
	}).Result()
}

// Read fetches up to count entries for consumer. start ">" reads new entries,
// any other ID pages through the consumer's pending entries after that ID.
// A block timeout with nothing to read returns no entries and no error.
func (s *RedisStream) Read(ctx context.Context, stream, consumer, start string, count int64, block time.Duration) ([]Entry, error) {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{stream, start},
		Count:    count,
		Block:    block,
	}
	if start != ">" {
		args.Block = -1
	}

	res, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, st := range res {
		for _, msg := range st.Messages {
			entries = append(entries, Entry{ID: msg.ID, Data: payload(msg.Values)})
		}
	}
	return entries, nil
}

func payload(values map[string]interface{}) []byte {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func (s *RedisStream) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.client.XAck(ctx, stream, s.group, ids...).Err()
}

// Pending returns the number of delivered but unacknowledged entries.
func (s *RedisStream) Pending(ctx context.Context, stream string) (int64, error) {
	info, err := s.client.XPending(ctx, stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}
