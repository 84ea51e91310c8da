package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chat-relay/internal/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

const badgerMessagePrefix = "msg:"

// BadgerMessageRepo keeps the log in BadgerDB. Keys are
// "msg:{unix_nano_padded}:{uuid}" so a prefix scan yields chronological order;
// the 19-digit padding keeps lexicographic and numeric order identical.
type BadgerMessageRepo struct {
	db    *badger.DB
	log   zerolog.Logger
	mu    sync.Mutex
	clock *monotonicClock
}

func NewBadgerMessageRepo(db *badger.DB, log zerolog.Logger) (*BadgerMessageRepo, error) {
	r := &BadgerMessageRepo{
		db:    db,
		log:   log.With().Str("component", "store").Str("driver", "badger").Logger(),
		clock: newMonotonicClock(),
	}

	latest, err := r.latest()
	if err != nil {
		return nil, err
	}
	if latest != nil {
		r.clock.seed(latest.CreatedAt)
	}

	return r, nil
}

func badgerMessageKey(m *models.Message) []byte {
	return fmt.Appendf(nil, "%s%019d:%s", badgerMessagePrefix, m.CreatedAt.UnixNano(), m.ID)
}

func (r *BadgerMessageRepo) latest() (*models.Message, error) {
	var latest *models.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerMessagePrefix)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(prefix, 0xff))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(v []byte) error {
			latest = &models.Message{}
			return json.Unmarshal(v, latest)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read latest message: %w", ErrPersistence, err)
	}
	return latest, nil
}

func (r *BadgerMessageRepo) Append(ctx context.Context, user, content string, fileURL *string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m := models.NewMessage(user, content, fileURL, r.clock.next())
	value, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: encode message %s: %w", ErrPersistence, m.ID, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerMessageKey(m), value)
	})
	if err != nil {
		r.log.Error().Err(err).Stringer("id", m.ID).Str("user", m.User).Msg("failed to save message")
		return nil, fmt.Errorf("%w: write message %s: %w", ErrPersistence, m.ID, err)
	}

	return m, nil
}

func (r *BadgerMessageRepo) ListAll(ctx context.Context) ([]*models.Message, error) {
	messages := make([]*models.Message, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerMessagePrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(v []byte) error {
				m := &models.Message{}
				if err := json.Unmarshal(v, m); err != nil {
					return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
				}
				messages = append(messages, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.Error().Err(err).Msg("history scan failed")
		return nil, fmt.Errorf("%w: scan history: %w", ErrPersistence, err)
	}

	return messages, nil
}

func (r *BadgerMessageRepo) Close() error {
	return r.db.Close()
}
