// Package store provides storage backends for LeadPipe.
//
// A Store keeps conversation histories, the provider thread ids bound to each
// conversation, lead facts and qualification status. Backends are in-memory,
// SQLite, PostgreSQL and Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ErrNotFound is returned when a lead or status has not been recorded.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract used by the agent and orchestrator.
// Thread getters return an empty id and a nil error when nothing is stored.
type Store interface {
	GetThreadID(ctx context.Context, conversationID string) (string, error)
	SetThreadID(ctx context.Context, conversationID, threadID string) error
	GetTaggerThreadID(ctx context.Context, conversationID string) (string, error)
	SetTaggerThreadID(ctx context.Context, conversationID, threadID string) error

	AppendMessage(ctx context.Context, conversationID string, msg models.Message) error
	History(ctx context.Context, conversationID string) ([]models.Message, error)

	UpsertLeadFacts(ctx context.Context, phone string, facts models.LeadFacts) (models.Lead, error)
	GetLead(ctx context.Context, phone string) (models.Lead, error)

	UpdateConversationStatus(ctx context.Context, conversationID string, status models.ConversationStatus) error
	GetConversationStatus(ctx context.Context, conversationID string) (models.ConversationStatus, error)

	Close() error
}

// Opts holds configuration shared by the backends.
type Opts struct {
	DSN string
	// TTL bounds how long Redis keeps an idle conversation.
	TTL time.Duration
}

// Option defines a configuration option for a store.
type Option func(*Opts)

func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// WithTTL sets the idle expiry for backends that support it.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// DetectDSNType returns the backend a DSN refers to. Anything that is not a
// recognizable Postgres, Redis or in-memory DSN is treated as a SQLite path.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case d == "" || lower == "memory" || lower == ":memory:":
		return DriverMemory
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return DriverRedis
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return DriverPostgres
	}
	return DriverSQLite
}

// New opens the backend selected by DetectDSNType.
func New(dsn string, opts ...Option) (Store, error) {
	opts = append([]Option{func(o *Opts) { o.DSN = dsn }}, opts...)
	switch DetectDSNType(dsn) {
	case DriverMemory:
		return NewInMemoryStore(), nil
	case DriverPostgres:
		return NewPostgresStore(opts...)
	case DriverRedis:
		return NewRedisStore(opts...)
	case DriverSQLite:
		return NewSQLiteStore(opts...)
	}
	return nil, fmt.Errorf("unsupported dsn %q", dsn)
}

func validateConversationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return models.ErrEmptyConversationID
	}
	return nil
}

func validatePhone(phone string) error {
	if strings.TrimSpace(phone) == "" {
		return models.ErrEmptyPhone
	}
	return nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
