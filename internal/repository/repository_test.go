package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

// runMessageRepoSuite exercises the behavior every backend must share.
func runMessageRepoSuite(t *testing.T, open func(t *testing.T) MessageRepo) {
	t.Run("empty log lists no messages", func(t *testing.T) {
		req := require.New(t)
		repo := open(t)

		messages, err := repo.ListAll(context.Background())
		req.NoError(err)
		req.NotNil(messages)
		req.Empty(messages)
	})

	t.Run("append assigns id and timestamp", func(t *testing.T) {
		req := require.New(t)
		repo := open(t)

		m, err := repo.Append(context.Background(), "alice", "hi", nil)
		req.NoError(err)
		req.NotEqual(uuid.Nil, m.ID)
		req.False(m.CreatedAt.IsZero())
		req.Equal("alice", m.User)
		req.Equal("hi", m.Content)
		req.Nil(m.FileURL)
	})

	t.Run("list returns messages in append order", func(t *testing.T) {
		req := require.New(t)
		repo := open(t)
		ctx := context.Background()

		var appended []uuid.UUID
		for i := range 20 {
			var fileURL *string
			if i%3 == 0 {
				fileURL = ptr(fmt.Sprintf("http://host/%d.png", i))
			}
			m, err := repo.Append(ctx, "alice", fmt.Sprintf("message %d", i), fileURL)
			req.NoError(err)
			appended = append(appended, m.ID)
		}

		messages, err := repo.ListAll(ctx)
		req.NoError(err)
		req.Len(messages, len(appended))
		for i, m := range messages {
			req.Equal(appended[i], m.ID)
			req.Equal(fmt.Sprintf("message %d", i), m.Content)
			if i%3 == 0 {
				req.NotNil(m.FileURL)
				req.Equal(fmt.Sprintf("http://host/%d.png", i), *m.FileURL)
			} else {
				req.Nil(m.FileURL)
			}
			if i > 0 {
				req.True(m.CreatedAt.After(messages[i-1].CreatedAt), "timestamps must increase")
			}
		}
	})

	t.Run("concurrent appends never collide", func(t *testing.T) {
		req := require.New(t)
		repo := open(t)
		ctx := context.Background()

		const writers, perWriter = 8, 10
		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perWriter {
					if _, err := repo.Append(ctx, fmt.Sprintf("user-%d", w), fmt.Sprintf("%d", i), nil); err != nil {
						errs <- err
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			req.NoError(err)
		}

		messages, err := repo.ListAll(ctx)
		req.NoError(err)
		req.Len(messages, writers*perWriter)

		seen := make(map[uuid.UUID]struct{}, len(messages))
		for i, m := range messages {
			_, dup := seen[m.ID]
			req.False(dup, "duplicate id %s", m.ID)
			seen[m.ID] = struct{}{}
			if i > 0 {
				req.True(m.CreatedAt.After(messages[i-1].CreatedAt))
			}
		}
	})

	t.Run("canceled context surfaces a persistence error", func(t *testing.T) {
		req := require.New(t)
		repo := open(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := repo.Append(ctx, "alice", "hi", nil)
		req.Error(err)
		req.True(errors.Is(err, ErrPersistence))
	})
}
