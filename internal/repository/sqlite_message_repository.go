package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-relay/internal/models"

	"github.com/rs/zerolog"
)

// created_at is stored as unix nanoseconds to avoid driver-specific time
// formatting.
const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		user_name  TEXT NOT NULL,
		content    TEXT NOT NULL,
		file_url   TEXT,
		created_at INTEGER NOT NULL
	)`

type SQLiteMessageRepo struct {
	db    *sql.DB
	log   zerolog.Logger
	mu    sync.Mutex
	clock *monotonicClock
}

func NewSQLiteMessageRepo(ctx context.Context, db *sql.DB, log zerolog.Logger) (*SQLiteMessageRepo, error) {
	r := &SQLiteMessageRepo{
		db:    db,
		log:   log.With().Str("component", "store").Str("driver", "sqlite").Logger(),
		clock: newMonotonicClock(),
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("%w: ensure schema: %w", ErrPersistence, err)
	}

	var latest int64
	err := db.QueryRowContext(ctx, `SELECT created_at FROM messages ORDER BY created_at DESC, seq DESC LIMIT 1`).Scan(&latest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("%w: read latest message: %w", ErrPersistence, err)
	default:
		r.clock.seed(time.Unix(0, latest))
	}

	return r, nil
}

func (r *SQLiteMessageRepo) Append(ctx context.Context, user, content string, fileURL *string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := models.NewMessage(user, content, fileURL, r.clock.next())

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_name, content, file_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID.String(),
		m.User,
		m.Content,
		m.FileURL,
		m.CreatedAt.UnixNano(),
	)
	if err != nil {
		r.log.Error().Err(err).Stringer("id", m.ID).Str("user", m.User).Msg("failed to save message")
		return nil, fmt.Errorf("%w: insert message %s: %w", ErrPersistence, m.ID, err)
	}

	return m, nil
}

func (r *SQLiteMessageRepo) ListAll(ctx context.Context) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_name, content, file_url, created_at
		FROM messages
		ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		r.log.Error().Err(err).Msg("history query failed")
		return nil, fmt.Errorf("%w: query history: %w", ErrPersistence, err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var (
			m         models.Message
			fileURL   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.User, &m.Content, &fileURL, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %w", ErrPersistence, err)
		}
		if fileURL.Valid {
			m.FileURL = &fileURL.String
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read history: %w", ErrPersistence, err)
	}

	return messages, nil
}

func (r *SQLiteMessageRepo) Close() error {
	return r.db.Close()
}
