package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/iago/content-router/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisRecordStore keeps one JSON value per fingerprint plus a set per
// identifier value pointing back at the fingerprints that carry it.
type RedisRecordStore struct {
	client *redis.Client
	prefix string
}

var _ RecordStore = (*RedisRecordStore)(nil)

type RedisRecordConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func NewRedisRecordStore(ctx context.Context, cfg RedisRecordConfig) (*RedisRecordStore, error) {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "content_router"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisRecordStore{client: client, prefix: prefix}, nil
}

func (s *RedisRecordStore) Close() error {
	return s.client.Close()
}

func (s *RedisRecordStore) Get(ctx context.Context, fingerprint string) (*domain.ProcessingRecord, error) {
	raw, err := s.client.Get(ctx, s.recordKey(fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w: %w", ErrStorageUnavailable, err)
	}

	var record domain.ProcessingRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", fingerprint, err)
	}
	return &record, nil
}

func (s *RedisRecordStore) Put(ctx context.Context, record *domain.ProcessingRecord) error {
	if record == nil || strings.TrimSpace(record.Fingerprint) == "" {
		return errors.New("record fingerprint is required")
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(record.Fingerprint), encoded, 0)
		for _, value := range indexValues(record) {
			pipe.SAdd(ctx, s.indexKey(value), record.Fingerprint)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store record: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *RedisRecordStore) FindByIdentifier(ctx context.Context, identifier string) ([]string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}

	keys := []string{s.indexKey(identifier)}
	if lowered := strings.ToLower(identifier); lowered != identifier {
		keys = append(keys, s.indexKey(lowered))
	}

	members, err := s.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("find records: %w: %w", ErrStorageUnavailable, err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *RedisRecordStore) recordKey(fingerprint string) string {
	return s.prefix + ":record:" + fingerprint
}

func (s *RedisRecordStore) indexKey(value string) string {
	return s.prefix + ":idx:" + value
}

func indexValues(record *domain.ProcessingRecord) []string {
	values := []string{
		record.Fingerprint,
		record.SecondaryFingerprint,
		record.Metadata.PostID,
		record.Metadata.ContentHash,
		record.SourceURL,
		record.Metadata.NormalizedURL,
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
