package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/LeadPipe/internal/errx"
	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultRedisTTL is how long an idle conversation survives in Redis.
const DefaultRedisTTL = 30 * 24 * time.Hour

// RedisConfig mirrors the connection settings accepted by NewRedisClient.
type RedisConfig struct {
	URL          string `split_words:"true"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
}

// NewRedisClient parses the URL, applies timeouts in seconds and pings the server.
func (c RedisConfig) NewRedisClient(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, err
	}
	if c.ReadTimeout > 0 {
		opts.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
	}
	if c.WriteTimeout > 0 {
		opts.WriteTimeout = time.Duration(c.WriteTimeout) * time.Second
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = time.Duration(c.DialTimeout) * time.Second
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// RedisStore keeps conversations under conversation:<id>:* keys and leads under
// lead:<phone>. Every write refreshes the key's TTL.
type RedisStore struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	closer func() error
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the Redis URL in the options.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	cfg := Opts{TTL: DefaultRedisTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("redis url not set")
	}
	client, err := RedisConfig{URL: cfg.DSN, ReadTimeout: 3, WriteTimeout: 3, DialTimeout: 5}.NewRedisClient(context.Background())
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	s := NewRedisStoreFromClient(client, cfg.TTL)
	s.closer = client.Close
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. A non-positive ttl disables expiry.
func NewRedisStoreFromClient(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func conversationKey(conversationID, field string) string {
	return fmt.Sprintf("conversation:%s:%s", conversationID, field)
}

func leadKey(phone string) string {
	return fmt.Sprintf("lead:%s", phone)
}

// touch extends the TTL of key.
func (s *RedisStore) touch(ctx context.Context, key string) error {
	if s.ttl <= 0 {
		return nil
	}
	ok, err := s.rdb.Expire(ctx, key, s.ttl).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
		return errx.WrapRedis(err)
	}
	if !ok {
		logx.Warn().Str("key", key).Dur("ttl", s.ttl).Msg("failed to set TTL on key")
	}
	return nil
}

func (s *RedisStore) getString(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to read key")
		return "", errx.WrapRedis(err)
	}
	return v, nil
}

func (s *RedisStore) setString(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, s.expiry()).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to write key")
		return errx.WrapRedis(err)
	}
	return nil
}

func (s *RedisStore) expiry() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	return s.ttl
}

func (s *RedisStore) GetThreadID(ctx context.Context, conversationID string) (string, error) {
	return s.getString(ctx, conversationKey(conversationID, "thread"))
}

func (s *RedisStore) SetThreadID(ctx context.Context, conversationID, threadID string) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	return s.setString(ctx, conversationKey(conversationID, "thread"), threadID)
}

func (s *RedisStore) GetTaggerThreadID(ctx context.Context, conversationID string) (string, error) {
	return s.getString(ctx, conversationKey(conversationID, "tagger_thread"))
}

func (s *RedisStore) SetTaggerThreadID(ctx context.Context, conversationID, threadID string) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	return s.setString(ctx, conversationKey(conversationID, "tagger_thread"), threadID)
}

func (s *RedisStore) AppendMessage(ctx context.Context, conversationID string, msg models.Message) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	msg.Timestamp = stamp(msg.Timestamp)
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := conversationKey(conversationID, "messages")
	if err := s.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push message to redis")
		return errx.WrapRedis(err)
	}
	return s.touch(ctx, key)
}

func (s *RedisStore) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	key := conversationKey(conversationID, "messages")
	rows, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load conversation history from redis")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]models.Message, 0, len(rows))
	for i, row := range rows {
		var m models.Message
		if err := json.Unmarshal([]byte(row), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// UpsertLeadFacts merges facts with an optimistic WATCH/MULTI transaction.
func (s *RedisStore) UpsertLeadFacts(ctx context.Context, phone string, facts models.LeadFacts) (models.Lead, error) {
	if err := validatePhone(phone); err != nil {
		return models.Lead{}, err
	}
	client, ok := s.rdb.(*redis.Client)
	if !ok {
		return s.upsertLead(ctx, s.rdb, phone, facts)
	}

	key := leadKey(phone)
	var lead models.Lead
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := client.Watch(ctx, func(tx *redis.Tx) error {
			var err error
			lead, err = s.upsertLead(ctx, tx, phone, facts)
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return lead, err
	}
	return models.Lead{}, errx.WrapRedis(redis.TxFailedErr)
}

func (s *RedisStore) upsertLead(ctx context.Context, rdb redis.Cmdable, phone string, facts models.LeadFacts) (models.Lead, error) {
	key := leadKey(phone)
	lead, err := readLead(ctx, rdb, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.Lead{}, err
	}
	lead.Phone = phone
	lead.Facts = lead.Facts.Merge(facts)
	lead.UpdatedAt = time.Now().UTC()

	b, err := json.Marshal(lead)
	if err != nil {
		return models.Lead{}, fmt.Errorf("marshal lead: %w", err)
	}
	write := func(p redis.Pipeliner) error {
		p.Set(ctx, key, b, s.expiry())
		return nil
	}
	if tx, ok := rdb.(*redis.Tx); ok {
		_, err = tx.TxPipelined(ctx, write)
	} else {
		_, err = rdb.TxPipelined(ctx, write)
	}
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return models.Lead{}, err
		}
		return models.Lead{}, errx.WrapRedis(err)
	}
	return lead, nil
}

func readLead(ctx context.Context, rdb redis.Cmdable, key string) (models.Lead, error) {
	v, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return models.Lead{}, ErrNotFound
	}
	if err != nil {
		return models.Lead{}, errx.WrapRedis(err)
	}
	var lead models.Lead
	if err := json.Unmarshal([]byte(v), &lead); err != nil {
		return models.Lead{}, fmt.Errorf("unmarshal lead: %w", err)
	}
	return lead, nil
}

func (s *RedisStore) GetLead(ctx context.Context, phone string) (models.Lead, error) {
	return readLead(ctx, s.rdb, leadKey(phone))
}

func (s *RedisStore) UpdateConversationStatus(ctx context.Context, conversationID string, status models.ConversationStatus) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	if err := status.Validate(); err != nil {
		return err
	}
	status.UpdatedAt = stamp(status.UpdatedAt)
	b, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return s.setString(ctx, conversationKey(conversationID, "status"), string(b))
}

func (s *RedisStore) GetConversationStatus(ctx context.Context, conversationID string) (models.ConversationStatus, error) {
	v, err := s.getString(ctx, conversationKey(conversationID, "status"))
	if err != nil {
		return models.ConversationStatus{}, err
	}
	if v == "" {
		return models.ConversationStatus{}, ErrNotFound
	}
	var status models.ConversationStatus
	if err := json.Unmarshal([]byte(v), &status); err != nil {
		return models.ConversationStatus{}, fmt.Errorf("unmarshal status: %w", err)
	}
	return status, nil
}

func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
