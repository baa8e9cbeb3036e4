package friends

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/events"
	"github.com/Tyrowin/taptik/internal/notify"
	"github.com/Tyrowin/taptik/internal/store"
	"github.com/Tyrowin/taptik/internal/store/memory"
	"github.com/Tyrowin/taptik/internal/testhelpers"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	store   *memory.Store
	pusher  *testhelpers.Recorder
	ledger  *notify.Ledger
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	for _, u := range []store.User{
		{ID: "alice", Username: "alice", FullName: "Alice A"},
		{ID: "bob", Username: "bob", FullName: "Bob B"},
	} {
		require.NoError(t, s.CreateUser(ctx, &u))
	}

	log := zaptest.NewLogger(t)
	p := testhelpers.NewRecorder("alice", "bob")
	ledger := notify.NewLedger(s, p, log)
	svc := NewService(s, s, p, ledger, log)

	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{store: s, pusher: p, ledger: ledger, service: svc}
}

func TestSendRequestPushesToRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.service.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, store.FriendPending, req.Status)

	pushed := f.pusher.For("bob")
	require.Len(t, pushed, 1)
	require.Equal(t, events.NewFriendRequest, pushed[0].Event)
	require.Equal(t, req, pushed[0].Payload)

	pending, err := f.service.Pending(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, req.ID, pending[0].ID)

	none, err := f.service.Pending(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestSendRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.SendRequest(ctx, "alice", "")
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = f.service.SendRequest(ctx, "alice", "alice")
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = f.service.SendRequest(ctx, "alice", "ghost")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.service.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.service.SendRequest(ctx, "alice", "bob")
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = f.service.SendRequest(ctx, "bob", "alice")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestAcceptNotifiesRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.service.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	updated, err := f.service.Respond(ctx, "bob", req.ID, store.FriendAccepted)
	require.NoError(t, err)
	require.Equal(t, store.FriendAccepted, updated.Status)
	require.True(t, updated.UpdatedAt.After(req.CreatedAt))

	require.Equal(t, []string{events.NewNotification, events.FriendRequestUpdated}, f.pusher.Events("alice"))

	feed, err := f.ledger.FetchAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.Equal(t, "Bob B (@bob) accepted your friend request.", feed[0].Message)

	_, err = f.service.SendRequest(ctx, "bob", "alice")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestRespondRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.service.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = f.service.Respond(ctx, "bob", req.ID, "blocked")
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = f.service.Respond(ctx, "alice", req.ID, store.FriendAccepted)
	require.ErrorIs(t, err, common.ErrForbidden)
	_, err = f.service.Respond(ctx, "bob", "missing", store.FriendAccepted)
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.service.Respond(ctx, "bob", req.ID, store.FriendRejected)
	require.NoError(t, err)
	_, err = f.service.Respond(ctx, "bob", req.ID, store.FriendAccepted)
	require.ErrorIs(t, err, common.ErrValidation)

	feed, err := f.ledger.FetchAll(ctx, "alice")
	require.NoError(t, err)
	require.Contains(t, feed[0].Message, "declined")
}

func TestDeclinedRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.service.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.service.Respond(ctx, "bob", req.ID, store.FriendRejected)
	require.NoError(t, err)

	// The declined requester may not retry, but the other side may reach out.
	_, err = f.service.SendRequest(ctx, "alice", "bob")
	require.ErrorIs(t, err, common.ErrValidation)

	again, err := f.service.SendRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, "bob", again.Requester)
}

// TestRespondFailsWhenReceiptCannotBeAppended verifies that an answer whose
// notification cannot be written is not committed and not announced.
func TestRespondFailsWhenReceiptCannotBeAppended(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.service.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	log := zaptest.NewLogger(t)
	failing := notify.NewLedger(testhelpers.FailingAppends{Notifications: f.store, Err: diskFull}, f.pusher, log)
	svc := NewService(f.store, f.store, f.pusher, failing, log)

	_, err = svc.Respond(ctx, "bob", req.ID, store.FriendAccepted)
	require.ErrorIs(t, err, diskFull)
	require.Empty(t, f.pusher.For("alice"))

	stored, err := f.store.GetFriendRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, store.FriendPending, stored.Status)

	answered, err := f.service.Respond(ctx, "bob", req.ID, store.FriendAccepted)
	require.NoError(t, err)
	require.Equal(t, store.FriendAccepted, answered.Status)
	require.Equal(t, []string{events.NewNotification, events.FriendRequestUpdated}, f.pusher.Events("alice"))
}
