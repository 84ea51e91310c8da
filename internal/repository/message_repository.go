//go:generate go run go.uber.org/mock/mockgen -source=message_repository.go -destination=../mocks/mock_message_repository.go -package=mocks
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-relay/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrPersistence marks every failure of the underlying storage.
var ErrPersistence = errors.New("message store unavailable")

// MessageRepo is the append-only chat log.
type MessageRepo interface {
	// Append assigns an ID and a creation time, persists the message and
	// returns the stored record.
	Append(ctx context.Context, user, content string, fileURL *string) (*models.Message, error)
	// ListAll returns every message, oldest first.
	ListAll(ctx context.Context) ([]*models.Message, error)
	Close() error
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS messages (
		seq        BIGSERIAL,
		id         UUID PRIMARY KEY,
		user_name  TEXT NOT NULL,
		content    TEXT NOT NULL,
		file_url   TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`

const postgresIndex = `CREATE INDEX IF NOT EXISTS messages_created_at_seq_idx ON messages (created_at, seq)`

type PostgresMessageRepo struct {
	pool  *pgxpool.Pool
	log   zerolog.Logger
	mu    sync.Mutex
	clock *monotonicClock
}

// NewPostgresMessageRepo creates the messages table when missing and seeds the
// clock from the newest stored message.
func NewPostgresMessageRepo(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) (*PostgresMessageRepo, error) {
	r := &PostgresMessageRepo{
		pool:  pool,
		log:   log.With().Str("component", "store").Str("driver", "postgres").Logger(),
		clock: newMonotonicClock(),
	}

	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var latest time.Time
	err := pool.QueryRow(ctx, `SELECT created_at FROM messages ORDER BY created_at DESC, seq DESC LIMIT 1`).Scan(&latest)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("%w: read latest message: %w", ErrPersistence, err)
	default:
		r.clock.seed(latest)
	}

	return r, nil
}

func (r *PostgresMessageRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{postgresSchema, postgresIndex} {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", ErrPersistence, err)
		}
	}
	return nil
}

func (r *PostgresMessageRepo) Append(ctx context.Context, user, content string, fileURL *string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := models.NewMessage(user, content, fileURL, r.clock.next())

	query := `
		INSERT INTO messages (id, user_name, content, file_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.User,
		m.Content,
		m.FileURL,
		m.CreatedAt,
	)
	if err != nil {
		r.log.Error().Err(err).Stringer("id", m.ID).Str("user", m.User).Msg("failed to save message")
		return nil, fmt.Errorf("%w: insert message %s: %w", ErrPersistence, m.ID, err)
	}

	return m, nil
}

func (r *PostgresMessageRepo) ListAll(ctx context.Context) ([]*models.Message, error) {
	query := `
		SELECT id, user_name, content, file_url, created_at
		FROM messages
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		r.log.Error().Err(err).Msg("history query failed")
		return nil, fmt.Errorf("%w: query history: %w", ErrPersistence, err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m := &models.Message{}
		err := rows.Scan(
			&m.ID,
			&m.User,
			&m.Content,
			&m.FileURL,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan message: %w", ErrPersistence, err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read history: %w", ErrPersistence, err)
	}

	return messages, nil
}

func (r *PostgresMessageRepo) Close() error {
	r.pool.Close()
	return nil
}
