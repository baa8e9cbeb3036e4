package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/store"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T, ids ...string) *Store {
	t.Helper()
	s := New()
	for _, id := range ids {
		require.NoError(t, s.CreateUser(context.Background(), &store.User{ID: id, Username: id, FullName: id}))
	}
	return s
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, "alice")

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)

	_, err = s.GetUser(ctx, "nobody")
	require.ErrorIs(t, err, common.ErrNotFound)

	u, err = s.UpdateFullName(ctx, "alice", "Alice Liddell")
	require.NoError(t, err)
	require.Equal(t, "Alice Liddell", u.FullName)

	_, err = s.UpdateFullName(ctx, "nobody", "x")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.ErrorIs(t, s.CreateUser(ctx, &store.User{}), common.ErrValidation)
}

func TestConversationAndMarkRead(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, "alice", "bob", "carol")
	base := time.Now()

	msgs := []store.Message{
		{ID: "2", Sender: "bob", Receiver: "alice", IV: "iv", CreatedAt: base.Add(2 * time.Second)},
		{ID: "1", Sender: "alice", Receiver: "bob", IV: "iv", CreatedAt: base.Add(time.Second)},
		{ID: "3", Sender: "carol", Receiver: "alice", IV: "iv", CreatedAt: base},
		{ID: "4", Sender: "bob", Receiver: "alice", IV: "iv", CreatedAt: base.Add(3 * time.Second)},
	}
	for i := range msgs {
		require.NoError(t, s.CreateMessage(ctx, &msgs[i]))
	}

	conv, err := s.Conversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, conv, 3)
	require.Equal(t, []string{"1", "2", "4"}, []string{conv[0].ID, conv[1].ID, conv[2].ID})

	n, err := s.MarkRead(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.MarkRead(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Zero(t, n)

	conv, err = s.Conversation(ctx, "alice", "carol")
	require.NoError(t, err)
	require.Len(t, conv, 1)
	require.False(t, conv[0].Read)
}

func TestNotificationsOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, "alice")
	base := time.Now()

	for i := 0; i < 5; i++ {
		n := &store.Notification{Message: fmt.Sprintf("n%d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.AppendNotification(ctx, "alice", n, 0))
	}

	all, err := s.ListNotifications(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "n4", all[0].Message)
	require.Equal(t, "n0", all[4].Message)

	page, err := s.ListNotifications(ctx, "alice", 2, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"n3", "n2"}, []string{page[0].Message, page[1].Message})

	page, err = s.ListNotifications(ctx, "alice", 2, 10)
	require.NoError(t, err)
	require.Empty(t, page)

	empty, err := s.ListNotifications(ctx, "nobody", 0, 0)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestNotificationsTieBreakByInsertion(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, "alice")
	at := time.Now()

	for _, m := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendNotification(ctx, "alice", &store.Notification{Message: m, CreatedAt: at}, 0))
	}

	all, err := s.ListNotifications(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Equal(t, "third", all[0].Message)
	require.Equal(t, "first", all[2].Message)
}

func TestNotificationsRetention(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, "alice")
	base := time.Now()

	for i := 0; i < 10; i++ {
		n := &store.Notification{Message: fmt.Sprintf("n%d", i), CreatedAt: base.Add(time.Duration(i) * time.Millisecond)}
		require.NoError(t, s.AppendNotification(ctx, "alice", n, 3))
	}

	all, err := s.ListNotifications(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"n9", "n8", "n7"}, []string{all[0].Message, all[1].Message, all[2].Message})
}

func TestNotificationsUnknownIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.AppendNotification(ctx, "ghost", &store.Notification{Message: "x"}, 0)
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.MarkNotificationsRead(ctx, "ghost")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMarkNotificationsReadWithConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, "alice")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = s.AppendNotification(ctx, "alice", &store.Notification{Message: "m", CreatedAt: time.Now()}, 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = s.MarkNotificationsRead(ctx, "alice")
		}
	}()
	wg.Wait()

	all, err := s.ListNotifications(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 100)
}

func TestFriendRequests(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, "alice", "bob")
	now := time.Now()

	r := &store.FriendRequest{ID: "fr1", Requester: "alice", Recipient: "bob", Status: store.FriendPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateFriendRequest(ctx, r))

	found, err := s.FindFriendRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, "fr1", found.ID)

	pending, err := s.PendingFriendRequests(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.UpdateFriendStatus(ctx, "fr1", store.FriendAccepted, now.Add(time.Second)))
	got, err := s.GetFriendRequest(ctx, "fr1")
	require.NoError(t, err)
	require.Equal(t, store.FriendAccepted, got.Status)

	pending, err = s.PendingFriendRequests(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = s.GetFriendRequest(ctx, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
	require.ErrorIs(t, s.UpdateFriendStatus(ctx, "missing", store.FriendRejected, now), common.ErrNotFound)
	_, err = s.FindFriendRequest(ctx, "alice", "carol")
	require.ErrorIs(t, err, common.ErrNotFound)
}
