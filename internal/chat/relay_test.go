package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/db"
	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/repository"
	"chat-relay/internal/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type historyFrame struct {
	Type types.FrameType   `json:"type"`
	Data []json.RawMessage `json:"data"`
}

func newTestRelay(t *testing.T) (*Relay, *mocks.MockMessageRepo, *Hub) {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageRepo(ctrl)
	hub := NewHub(zerolog.Nop())
	return NewRelay(store, hub, time.Second, zerolog.Nop()), store, hub
}

func storedMessage(user, content string, fileURL *string) *models.Message {
	return models.NewMessage(user, content, fileURL, time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
}

func TestRelay_JoinSendsHistoryThenRegisters(t *testing.T) {
	req := require.New(t)
	relay, store, hub := newTestRelay(t)

	history := []*models.Message{
		storedMessage("alice", "hi", nil),
		storedMessage("bob", "hello", ptr("http://host/a.png")),
	}
	store.EXPECT().ListAll(gomock.Any()).Return(history, nil)

	conn := newFakeConn("c")
	req.NoError(relay.Join(context.Background(), conn))
	req.Equal(1, hub.Count())

	got := conn.received()
	req.Len(got, 1)

	var frame historyFrame
	req.NoError(json.Unmarshal(got[0], &frame))
	req.Equal(types.TypeOldMessages, frame.Type)
	req.Len(frame.Data, 2)

	var first models.Message
	req.NoError(json.Unmarshal(frame.Data[0], &first))
	req.Equal(history[0].ID, first.ID)
	req.Nil(first.FileURL)
}

func TestRelay_JoinWithEmptyHistorySendsEmptyArray(t *testing.T) {
	relay, store, _ := newTestRelay(t)
	store.EXPECT().ListAll(gomock.Any()).Return(nil, nil)

	conn := newFakeConn("c")
	require.NoError(t, relay.Join(context.Background(), conn))

	require.Len(t, conn.received(), 1)
	require.JSONEq(t, `{"type":"oldMessages","data":[]}`, string(conn.received()[0]))
}

func TestRelay_JoinFailureLeavesConnectionUnregistered(t *testing.T) {
	req := require.New(t)
	relay, store, hub := newTestRelay(t)
	store.EXPECT().ListAll(gomock.Any()).Return(nil, fmt.Errorf("%w: down", repository.ErrPersistence))

	conn := newFakeConn("c")
	err := relay.Join(context.Background(), conn)

	req.Error(err)
	req.True(errors.Is(err, repository.ErrPersistence))
	req.Equal(0, hub.Count())
	req.Len(conn.received(), 1)
	req.JSONEq(`{"type":"error","error":"history could not be loaded"}`, string(conn.received()[0]))
}

func TestRelay_ReceiveBroadcastsStoredRecordToEveryoneIncludingSender(t *testing.T) {
	req := require.New(t)
	relay, store, _ := newTestRelay(t)
	store.EXPECT().ListAll(gomock.Any()).Return([]*models.Message{}, nil).Times(2)

	sender, peer := newFakeConn("sender"), newFakeConn("peer")
	req.NoError(relay.Join(context.Background(), sender))
	req.NoError(relay.Join(context.Background(), peer))

	fileURL := "http://host/abc.png"
	stored := storedMessage("alice", "yo", &fileURL)
	store.EXPECT().
		Append(gomock.Any(), "alice", "yo", gomock.Eq(&fileURL)).
		Return(stored, nil)

	req.NoError(relay.Receive(context.Background(), sender, []byte(`{"user":"alice","content":"yo","fileUrl":"http://host/abc.png"}`)))

	senderGot, peerGot := sender.received(), peer.received()
	req.Len(senderGot, 2)
	req.Len(peerGot, 2)
	req.Equal(senderGot[1], peerGot[1])

	var wire map[string]any
	req.NoError(json.Unmarshal(peerGot[1], &wire))
	req.Equal(stored.ID.String(), wire["id"])
	req.Equal("alice", wire["user"])
	req.Equal("yo", wire["content"])
	req.Equal(fileURL, wire["fileUrl"])
	req.Contains(wire, "createdAt")
	req.NotContains(wire, "type", "new messages carry no discriminator")
}

func TestRelay_ReceiveWithoutFileSendsNullFileURL(t *testing.T) {
	req := require.New(t)
	relay, store, _ := newTestRelay(t)
	store.EXPECT().ListAll(gomock.Any()).Return([]*models.Message{}, nil)

	conn := newFakeConn("c")
	req.NoError(relay.Join(context.Background(), conn))

	store.EXPECT().Append(gomock.Any(), "alice", "hi", gomock.Nil()).Return(storedMessage("alice", "hi", nil), nil)
	req.NoError(relay.Receive(context.Background(), conn, []byte(`{"user":"alice","content":"hi"}`)))

	var wire map[string]any
	req.NoError(json.Unmarshal(conn.received()[1], &wire))
	req.Contains(wire, "fileUrl")
	req.Nil(wire["fileUrl"])
}

func TestRelay_MalformedPayloadIsDropped(t *testing.T) {
	req := require.New(t)
	relay, store, hub := newTestRelay(t)
	store.EXPECT().ListAll(gomock.Any()).Return([]*models.Message{}, nil).Times(2)

	sender, peer := newFakeConn("sender"), newFakeConn("peer")
	req.NoError(relay.Join(context.Background(), sender))
	req.NoError(relay.Join(context.Background(), peer))

	// No Append expectation: the mock fails the test if the store is touched.
	err := relay.Receive(context.Background(), sender, []byte(`{"user":"alice"}`))

	req.True(errors.Is(err, ErrMalformedPayload))
	req.Len(sender.received(), 1)
	req.Len(peer.received(), 1)
	req.Equal(2, hub.Count(), "malformed input must not close the connection")
	req.False(sender.isClosed())
}

func TestRelay_PersistenceFailureNotifiesSenderOnly(t *testing.T) {
	req := require.New(t)
	relay, store, hub := newTestRelay(t)
	store.EXPECT().ListAll(gomock.Any()).Return([]*models.Message{}, nil).Times(2)

	sender, peer := newFakeConn("sender"), newFakeConn("peer")
	req.NoError(relay.Join(context.Background(), sender))
	req.NoError(relay.Join(context.Background(), peer))

	store.EXPECT().
		Append(gomock.Any(), "alice", "hi", gomock.Nil()).
		Return(nil, fmt.Errorf("%w: disk full", repository.ErrPersistence))

	err := relay.Receive(context.Background(), sender, []byte(`{"user":"alice","content":"hi"}`))

	req.True(errors.Is(err, repository.ErrPersistence))
	req.Len(sender.received(), 2)
	req.JSONEq(`{"type":"error","error":"message could not be saved"}`, string(sender.received()[1]))
	req.Len(peer.received(), 1, "nothing is broadcast when the append fails")
	req.Equal(2, hub.Count())
}

func TestRelay_LeaveStopsDelivery(t *testing.T) {
	req := require.New(t)
	relay, store, hub := newTestRelay(t)
	store.EXPECT().ListAll(gomock.Any()).Return([]*models.Message{}, nil).Times(2)

	stays, leaves := newFakeConn("stays"), newFakeConn("leaves")
	req.NoError(relay.Join(context.Background(), stays))
	req.NoError(relay.Join(context.Background(), leaves))

	relay.Leave(leaves)
	req.Equal(1, hub.Count())

	store.EXPECT().Append(gomock.Any(), "bob", "bye", gomock.Nil()).Return(storedMessage("bob", "bye", nil), nil)
	req.NoError(relay.Receive(context.Background(), stays, []byte(`{"user":"bob","content":"bye"}`)))

	req.Len(stays.received(), 2)
	req.Len(leaves.received(), 1)
}

func TestRelay_StoreCallsAreBounded(t *testing.T) {
	relay, store, _ := newTestRelay(t)
	store.EXPECT().ListAll(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]*models.Message, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		require.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
		return []*models.Message{}, nil
	})

	require.NoError(t, relay.Join(context.Background(), newFakeConn("c")))
}

func messageID(t *testing.T, payload []byte) string {
	t.Helper()
	var m struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(payload, &m))
	require.NotEmpty(t, m.ID)
	return m.ID
}

func TestRelay_ConcurrentJoinSeesEveryMessageOnce(t *testing.T) {
	req := require.New(t)

	bdb, err := db.OpenBadger(t.TempDir(), zerolog.Nop())
	req.NoError(err)
	store, err := repository.NewBadgerMessageRepo(bdb, zerolog.Nop())
	req.NoError(err)
	t.Cleanup(func() { _ = store.Close() })

	hub := NewHub(zerolog.Nop())
	relay := NewRelay(store, hub, 5*time.Second, zerolog.Nop())

	sender := newFakeConn("sender")
	req.NoError(relay.Join(context.Background(), sender))

	const (
		messages = 200
		joiners  = 40
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range messages {
			payload := fmt.Sprintf(`{"user":"alice","content":"m%d"}`, i)
			if err := relay.Receive(context.Background(), sender, []byte(payload)); err != nil {
				t.Errorf("receive %d: %v", i, err)
				return
			}
		}
	}()

	conns := make([]*fakeConn, joiners)
	for i := range conns {
		conns[i] = newFakeConn(fmt.Sprintf("joiner-%d", i))
		req.NoError(relay.Join(context.Background(), conns[i]))
	}
	wg.Wait()

	stored, err := store.ListAll(context.Background())
	req.NoError(err)
	req.Len(stored, messages)

	want := make([]string, 0, messages)
	for _, m := range stored {
		want = append(want, m.ID.String())
	}

	for _, c := range conns {
		got := c.received()
		req.NotEmpty(got)

		var frame historyFrame
		req.NoError(json.Unmarshal(got[0], &frame))
		req.Equal(types.TypeOldMessages, frame.Type)

		seen := make([]string, 0, messages)
		for _, raw := range frame.Data {
			seen = append(seen, messageID(t, raw))
		}
		for _, payload := range got[1:] {
			seen = append(seen, messageID(t, payload))
		}

		req.Equal(want, seen, "%s must see every message exactly once, in order", c.name)
	}
}

func TestRelay_JoinsDoNotBlockEachOther(t *testing.T) {
	relay, store, hub := newTestRelay(t)

	const joiners = 2
	entered := make(chan struct{}, joiners)
	release := make(chan struct{})

	store.EXPECT().ListAll(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]*models.Message, error) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []*models.Message{}, nil
	}).Times(joiners)

	errs := make(chan error, joiners)
	for i := range joiners {
		go func() {
			errs <- relay.Join(context.Background(), newFakeConn(fmt.Sprintf("c%d", i)))
		}()
	}

	for range joiners {
		select {
		case <-entered:
		case <-time.After(500 * time.Millisecond):
			t.Fatal("a history load waited on another joiner")
		}
	}
	close(release)

	for range joiners {
		require.NoError(t, <-errs)
	}
	require.Equal(t, joiners, hub.Count())
}
