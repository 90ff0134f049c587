package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iago/content-router/internal/domain"
	"github.com/redis/go-redis/v9"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
}

// StreamsQueue implements Producer and Consumer on a Redis Streams consumer
// group. Failed messages are re-added with a bumped attempt counter and end
// up on the DLQ stream once attempts run out.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
}

// streamPayload is the JSON body stored in the "payload" field.
type streamPayload struct {
	Item        domain.ContentItem  `json:"item"`
	ContentType domain.ContentType  `json:"content_type"`
	Options     domain.RouteOptions `json:"options"`
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "route_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "route_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "router-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.RouteMessage) error {
	values, err := streamValues(message)
	if err != nil {
		return err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.RouteMessage) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				q.handle(ctx, entry, handler)
			}
		}
	}
}

func (q *StreamsQueue) handle(ctx context.Context, entry redis.XMessage, handler func(context.Context, domain.RouteMessage) error) {
	defer func() { _ = q.ackAndDelete(ctx, entry.ID) }()

	message, err := parseStreamMessage(entry)
	if err != nil {
		_ = q.sendToDLQ(ctx, domain.RouteMessage{}, entry, err.Error())
		return
	}

	handleErr := handler(ctx, message)
	if handleErr == nil {
		return
	}

	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		_ = q.sendToDLQ(ctx, message, entry, handleErr.Error())
		return
	}
	if err := q.Enqueue(ctx, message); err != nil {
		_ = q.sendToDLQ(ctx, message, entry, fmt.Sprintf("requeue failed: %v", err))
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, message domain.RouteMessage, entry redis.XMessage, reason string) error {
	values := map[string]any{
		"stream_id": entry.ID,
		"job_id":    message.JobID,
		"attempt":   message.Attempt,
		"error":     reason,
		"moved_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload, ok := entry.Values["payload"]; ok {
		values["payload"] = payload
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func streamValues(message domain.RouteMessage) (map[string]any, error) {
	payload, err := json.Marshal(streamPayload{
		Item:        message.Item,
		ContentType: message.ContentType,
		Options:     message.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("encode route message: %w", err)
	}
	return map[string]any{
		"job_id":       message.JobID,
		"payload":      string(payload),
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func parseStreamMessage(entry redis.XMessage) (domain.RouteMessage, error) {
	field := func(key string) (string, error) {
		value, ok := entry.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := field("job_id")
	if err != nil {
		return domain.RouteMessage{}, err
	}
	rawPayload, err := field("payload")
	if err != nil {
		return domain.RouteMessage{}, err
	}
	var payload streamPayload
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return domain.RouteMessage{}, fmt.Errorf("invalid payload: %w", err)
	}

	rawAttempt, err := field("attempt")
	if err != nil {
		return domain.RouteMessage{}, err
	}
	attempt, err := strconv.Atoi(rawAttempt)
	if err != nil {
		return domain.RouteMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}

	rawRequestedAt, err := field("requested_at")
	if err != nil {
		return domain.RouteMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, rawRequestedAt)
	if err != nil {
		return domain.RouteMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	return domain.RouteMessage{
		JobID:       jobID,
		Item:        payload.Item,
		ContentType: payload.ContentType,
		Options:     payload.Options,
		Attempt:     attempt,
		RequestedAt: requestedAt,
	}, nil
}
