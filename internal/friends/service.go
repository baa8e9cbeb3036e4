// Package friends manages friend requests between identities.
package friends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/events"
	"github.com/Tyrowin/taptik/internal/notify"
	"github.com/Tyrowin/taptik/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service owns the friend request lifecycle: pending, then accepted or
// rejected by the recipient.
type Service struct {
	friends store.Friends
	dir     store.Directory
	pusher  events.Pusher
	ledger  *notify.Ledger
	log     *zap.Logger
	now     func() time.Time
}

// NewService wires a Service.
func NewService(f store.Friends, dir store.Directory, p events.Pusher, ledger *notify.Ledger, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		friends: f,
		dir:     dir,
		pusher:  p,
		ledger:  ledger,
		log:     log.With(zap.String("component", "friends")),
		now:     time.Now,
	}
}

// SendRequest creates a pending request from requester to recipient and
// pushes it to the recipient as new-friend-request.
func (s *Service) SendRequest(ctx context.Context, requester, recipient string) (store.FriendRequest, error) {
	if recipient == "" {
		return store.FriendRequest{}, fmt.Errorf("%w: recipient is required", common.ErrValidation)
	}
	if recipient == requester {
		return store.FriendRequest{}, fmt.Errorf("%w: cannot befriend yourself", common.ErrValidation)
	}
	if _, err := s.dir.GetUser(ctx, recipient); err != nil {
		return store.FriendRequest{}, fmt.Errorf("resolve recipient: %w", err)
	}

	existing, err := s.friends.FindFriendRequest(ctx, requester, recipient)
	switch {
	case err == nil:
		if err := checkExisting(existing, requester); err != nil {
			return store.FriendRequest{}, err
		}
	case !errors.Is(err, common.ErrNotFound):
		return store.FriendRequest{}, fmt.Errorf("find friend request: %w", err)
	}

	now := s.now().UTC()
	req := store.FriendRequest{
		ID:        uuid.NewString(),
		Requester: requester,
		Recipient: recipient,
		Status:    store.FriendPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.friends.CreateFriendRequest(ctx, &req); err != nil {
		return store.FriendRequest{}, fmt.Errorf("store friend request: %w", err)
	}

	if d := s.pusher.Push(recipient, events.NewFriendRequest, req); !d.Sent() {
		s.log.Debug("friend request stored, live push skipped",
			zap.String("recipient", recipient), zap.String("reason", string(d.Reason)))
	}
	return req, nil
}

func checkExisting(r *store.FriendRequest, requester string) error {
	switch r.Status {
	case store.FriendAccepted:
		return fmt.Errorf("%w: already friends", common.ErrValidation)
	case store.FriendPending:
		return fmt.Errorf("%w: friend request already sent", common.ErrValidation)
	case store.FriendRejected:
		if r.Requester == requester {
			return fmt.Errorf("%w: previous request was declined", common.ErrValidation)
		}
	}
	return nil
}

// Pending lists the requests waiting on recipient, newest first.
func (s *Service) Pending(ctx context.Context, recipient string) ([]store.FriendRequest, error) {
	out, err := s.friends.PendingFriendRequests(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("pending friend requests: %w", err)
	}
	if out == nil {
		out = []store.FriendRequest{}
	}
	return out, nil
}

// Respond records the recipient's answer, notifies the requester and pushes
// friend-request-updated to them. The requester's notification is appended
// before the status changes; if it cannot be, the request stays pending.
func (s *Service) Respond(ctx context.Context, recipient, id string, status store.FriendStatus) (store.FriendRequest, error) {
	if status != store.FriendAccepted && status != store.FriendRejected {
		return store.FriendRequest{}, fmt.Errorf("%w: invalid status %q", common.ErrValidation, status)
	}

	req, err := s.friends.GetFriendRequest(ctx, id)
	if err != nil {
		return store.FriendRequest{}, fmt.Errorf("load friend request: %w", err)
	}
	if req.Recipient != recipient {
		return store.FriendRequest{}, fmt.Errorf("%w: request %s is addressed to someone else", common.ErrForbidden, id)
	}
	if req.Status != store.FriendPending {
		return store.FriendRequest{}, fmt.Errorf("%w: request is already %s", common.ErrValidation, req.Status)
	}

	me, err := s.dir.GetUser(ctx, recipient)
	if err != nil {
		return store.FriendRequest{}, fmt.Errorf("resolve recipient: %w", err)
	}

	receipt, err := s.ledger.FriendRequestAnswered(ctx, req.Requester, me, status == store.FriendAccepted)
	if err != nil {
		return store.FriendRequest{}, fmt.Errorf("friend request receipt: %w", err)
	}

	req.Status = status
	req.UpdatedAt = s.now().UTC()
	if err := s.friends.UpdateFriendStatus(ctx, req.ID, req.Status, req.UpdatedAt); err != nil {
		return store.FriendRequest{}, fmt.Errorf("update friend request: %w", err)
	}

	receipt.Deliver()
	s.pusher.Push(req.Requester, events.FriendRequestUpdated, *req)
	return *req, nil
}
