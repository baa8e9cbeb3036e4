// Package memory is an in-process implementation of store.Store. It is the
// default when no database DSN is configured and backs most package tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/store"
)

// Store keeps every record behind a single RWMutex.
type Store struct {
	mu            sync.RWMutex
	users         map[string]store.User
	messages      []*store.Message
	notifications map[string][]store.Notification
	friends       map[string]*store.FriendRequest
	seq           int64
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]store.User),
		notifications: make(map[string][]store.Notification),
		friends:       make(map[string]*store.FriendRequest),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("%w: user id is required", common.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = *u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, common.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) UpdateFullName(_ context.Context, id, fullName string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, common.ErrNotFound)
	}
	u.FullName = fullName
	s.users[id] = u
	return &u, nil
}

func (s *Store) CreateMessage(_ context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *Store) Conversation(_ context.Context, a, b string) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Message, 0)
	for _, m := range s.messages {
		if (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a) {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) MarkRead(_ context.Context, reader, from string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.Sender == from && m.Receiver == reader && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendNotification(_ context.Context, identity string, n *store.Notification, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[identity]; !ok {
		return fmt.Errorf("user %q: %w", identity, common.ErrNotFound)
	}

	s.seq++
	n.ID = s.seq
	feed := append(s.notifications[identity], *n)
	if keep > 0 && len(feed) > keep {
		feed = trimOldest(feed, keep)
	}
	s.notifications[identity] = feed
	return nil
}

func (s *Store) ListNotifications(_ context.Context, identity string, limit, offset int) ([]store.Notification, error) {
	s.mu.RLock()
	feed := append([]store.Notification(nil), s.notifications[identity]...)
	s.mu.RUnlock()

	sortNewestFirst(feed)

	if offset < 0 {
		offset = 0
	}
	if offset >= len(feed) {
		return []store.Notification{}, nil
	}
	feed = feed[offset:]
	if limit > 0 && limit < len(feed) {
		feed = feed[:limit]
	}
	return feed, nil
}

func (s *Store) MarkNotificationsRead(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[identity]; !ok {
		return 0, fmt.Errorf("user %q: %w", identity, common.ErrNotFound)
	}

	feed := s.notifications[identity]
	n := 0
	for i := range feed {
		if !feed[i].Read {
			feed[i].Read = true
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateFriendRequest(_ context.Context, r *store.FriendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.friends[r.ID] = &cp
	return nil
}

func (s *Store) GetFriendRequest(_ context.Context, id string) (*store.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.friends[id]
	if !ok {
		return nil, fmt.Errorf("friend request %q: %w", id, common.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) FindFriendRequest(_ context.Context, a, b string) (*store.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *store.FriendRequest
	for _, r := range s.friends {
		if (r.Requester == a && r.Recipient == b) || (r.Requester == b && r.Recipient == a) {
			if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("friend request between %q and %q: %w", a, b, common.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) UpdateFriendStatus(_ context.Context, id string, status store.FriendStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.friends[id]
	if !ok {
		return fmt.Errorf("friend request %q: %w", id, common.ErrNotFound)
	}
	r.Status = status
	r.UpdatedAt = at
	return nil
}

func (s *Store) PendingFriendRequests(_ context.Context, recipient string) ([]store.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.FriendRequest, 0)
	for _, r := range s.friends {
		if r.Recipient == recipient && r.Status == store.FriendPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// sortNewestFirst orders by CreatedAt descending; equal timestamps fall back
// to insertion order, newest first.
func sortNewestFirst(feed []store.Notification) {
	sort.SliceStable(feed, func(i, j int) bool {
		if !feed[i].CreatedAt.Equal(feed[j].CreatedAt) {
			return feed[i].CreatedAt.After(feed[j].CreatedAt)
		}
		return feed[i].ID > feed[j].ID
	})
}

func trimOldest(feed []store.Notification, keep int) []store.Notification {
	ordered := append([]store.Notification(nil), feed...)
	sortNewestFirst(ordered)
	cutoff := ordered[keep-1]

	kept := make([]store.Notification, 0, keep)
	for _, n := range feed {
		if n.CreatedAt.After(cutoff.CreatedAt) || (n.CreatedAt.Equal(cutoff.CreatedAt) && n.ID >= cutoff.ID) {
			kept = append(kept, n)
		}
	}
	return kept
}
