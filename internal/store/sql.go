package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/errx"
	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// dialect captures the few differences between the SQLite and Postgres schemas.
type dialect struct {
	name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// appended to SELECTs that read a row about to be rewritten
	lockSuffix string
}

// sqlStore implements Store over database/sql. Queries are written with ?
// placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		logx.Error().Err(err).Str("driver", s.dialect.name).Str("op", op).Msg("store write failed")
		return fmt.Errorf("%s: %w", op, errx.WrapSQL(err))
	}
	return nil
}

func (s *sqlStore) getThread(ctx context.Context, column, conversationID string) (string, error) {
	var id sql.NullString
	query := s.rebind(`SELECT ` + column + ` FROM conversations WHERE conversation_id = ?`)
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", column, errx.WrapSQL(err))
	}
	return id.String, nil
}

func (s *sqlStore) setThread(ctx context.Context, column, conversationID, threadID string) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	return s.exec(ctx, "set "+column, `INSERT INTO conversations (conversation_id, `+column+`) VALUES (?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET `+column+` = excluded.`+column,
		conversationID, nilIfEmpty(threadID))
}

func (s *sqlStore) GetThreadID(ctx context.Context, conversationID string) (string, error) {
	return s.getThread(ctx, "thread_id", conversationID)
}

func (s *sqlStore) SetThreadID(ctx context.Context, conversationID, threadID string) error {
	return s.setThread(ctx, "thread_id", conversationID, threadID)
}

func (s *sqlStore) GetTaggerThreadID(ctx context.Context, conversationID string) (string, error) {
	return s.getThread(ctx, "tagger_thread_id", conversationID)
}

func (s *sqlStore) SetTaggerThreadID(ctx context.Context, conversationID, threadID string) error {
	return s.setThread(ctx, "tagger_thread_id", conversationID, threadID)
}

func (s *sqlStore) AppendMessage(ctx context.Context, conversationID string, msg models.Message) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	return s.exec(ctx, "append message",
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, string(msg.Role), msg.Content, stamp(msg.Timestamp).UnixMilli())
}

func (s *sqlStore) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", errx.WrapSQL(err))
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			role    string
			content string
			created int64
		)
		if err := rows.Scan(&role, &content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, models.Message{
			Role:      models.Role(role),
			Content:   content,
			Timestamp: time.UnixMilli(created).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", errx.WrapSQL(err))
	}
	return msgs, nil
}

// UpsertLeadFacts merges facts into the stored lead inside one transaction.
func (s *sqlStore) UpsertLeadFacts(ctx context.Context, phone string, facts models.LeadFacts) (models.Lead, error) {
	if err := validatePhone(phone); err != nil {
		return models.Lead{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Lead{}, fmt.Errorf("begin: %w", errx.WrapSQL(err))
	}
	defer tx.Rollback()

	lead, err := scanLead(tx.QueryRowContext(ctx, s.rebind(
		`SELECT phone, facts, updated_at FROM leads WHERE phone = ?`+s.dialect.lockSuffix), phone))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.Lead{}, err
	}

	lead.Phone = phone
	lead.Facts = lead.Facts.Merge(facts)
	lead.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(lead.Facts)
	if err != nil {
		return models.Lead{}, fmt.Errorf("encode facts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO leads (phone, facts, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (phone) DO UPDATE SET facts = excluded.facts, updated_at = excluded.updated_at`),
		phone, string(encoded), lead.UpdatedAt.UnixMilli()); err != nil {
		return models.Lead{}, fmt.Errorf("upsert lead: %w", errx.WrapSQL(err))
	}
	if err := tx.Commit(); err != nil {
		return models.Lead{}, fmt.Errorf("commit: %w", errx.WrapSQL(err))
	}
	logx.Debug().Str("driver", s.dialect.name).Str("phone", phone).Msg("lead facts upserted")
	return lead, nil
}

func (s *sqlStore) GetLead(ctx context.Context, phone string) (models.Lead, error) {
	return scanLead(s.db.QueryRowContext(ctx, s.rebind(`SELECT phone, facts, updated_at FROM leads WHERE phone = ?`), phone))
}

func scanLead(row *sql.Row) (models.Lead, error) {
	var (
		lead    models.Lead
		facts   string
		updated int64
	)
	if err := row.Scan(&lead.Phone, &facts, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Lead{}, ErrNotFound
		}
		return models.Lead{}, fmt.Errorf("scan lead: %w", errx.WrapSQL(err))
	}
	if err := json.Unmarshal([]byte(facts), &lead.Facts); err != nil {
		return models.Lead{}, fmt.Errorf("decode facts: %w", err)
	}
	lead.UpdatedAt = time.UnixMilli(updated).UTC()
	return lead, nil
}

func (s *sqlStore) UpdateConversationStatus(ctx context.Context, conversationID string, status models.ConversationStatus) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	if err := status.Validate(); err != nil {
		return err
	}
	return s.exec(ctx, "update status", `INSERT INTO conversations
		(conversation_id, score, temperature, outcome, ready_to_schedule, status_updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			score = excluded.score,
			temperature = excluded.temperature,
			outcome = excluded.outcome,
			ready_to_schedule = excluded.ready_to_schedule,
			status_updated_at = excluded.status_updated_at`,
		conversationID, status.Score, string(status.Temperature), string(status.Outcome),
		status.ReadyToSchedule, stamp(status.UpdatedAt).UnixMilli())
}

func (s *sqlStore) GetConversationStatus(ctx context.Context, conversationID string) (models.ConversationStatus, error) {
	var (
		status      models.ConversationStatus
		temperature string
		outcome     string
		updated     sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT score, temperature, outcome, ready_to_schedule, status_updated_at
		FROM conversations WHERE conversation_id = ?`), conversationID).
		Scan(&status.Score, &temperature, &outcome, &status.ReadyToSchedule, &updated)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !updated.Valid) {
		return models.ConversationStatus{}, ErrNotFound
	}
	if err != nil {
		return models.ConversationStatus{}, fmt.Errorf("get status: %w", errx.WrapSQL(err))
	}
	status.Temperature = models.Temperature(temperature)
	status.Outcome = models.Outcome(outcome)
	status.UpdatedAt = time.UnixMilli(updated.Int64).UTC()
	return status, nil
}

func (s *sqlStore) Close() error {
	err := s.db.Close()
	if err != nil {
		logx.Error().Err(err).Str("driver", s.dialect.name).Msg("failed to close database")
	}
	return err
}
