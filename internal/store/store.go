// Package store defines the persisted record shapes consumed and produced by
// the real-time core, and the repository contracts the durable store must
// satisfy. Implementations live in the memory and postgres subpackages.
package store

import (
	"context"
	"time"
)

// User is the directory record for an identity.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullname"`
}

// Message is a persisted envelope. Ciphertext and IV are hex encoded; the
// plaintext is never stored. IV is present even for image-only messages.
type Message struct {
	ID         string
	Sender     string
	Receiver   string
	Ciphertext *string
	Image      *string
	IV         string
	Read       bool
	CreatedAt  time.Time
}

// Notification is one entry of an identity's feed.
type Notification struct {
	ID        int64     `json:"-"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
	IsSerious bool      `json:"isSerious"`
}

// FriendStatus is the lifecycle state of a friend request.
type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
	FriendRejected FriendStatus = "rejected"
)

// FriendRequest is the record pushed as new-friend-request.
type FriendRequest struct {
	ID        string       `json:"id"`
	Requester string       `json:"requester"`
	Recipient string       `json:"recipient"`
	Status    FriendStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Directory resolves identities. Unknown identities yield common.ErrNotFound.
type Directory interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	UpdateFullName(ctx context.Context, id, fullName string) (*User, error)
}

// Messages persists message envelopes.
type Messages interface {
	CreateMessage(ctx context.Context, m *Message) error
	// Conversation returns messages exchanged between a and b in either
	// direction, oldest first.
	Conversation(ctx context.Context, a, b string) ([]Message, error)
	// MarkRead flips read on unread messages sent by from to reader and
	// returns how many were updated.
	MarkRead(ctx context.Context, reader, from string) (int, error)
}

// Notifications persists per-identity notification feeds.
type Notifications interface {
	// AppendNotification adds n to the feed of identity and trims the feed
	// to the newest keep entries when keep > 0. Unknown identities yield
	// common.ErrNotFound.
	AppendNotification(ctx context.Context, identity string, n *Notification, keep int) error
	// ListNotifications returns entries newest first. limit <= 0 means all.
	ListNotifications(ctx context.Context, identity string, limit, offset int) ([]Notification, error)
	// MarkNotificationsRead sets read on every unread entry as one atomic
	// conditional update and returns how many changed.
	MarkNotificationsRead(ctx context.Context, identity string) (int, error)
}

// Friends persists friend requests.
type Friends interface {
	CreateFriendRequest(ctx context.Context, r *FriendRequest) error
	GetFriendRequest(ctx context.Context, id string) (*FriendRequest, error)
	// FindFriendRequest returns the request between a and b in either
	// direction, or common.ErrNotFound.
	FindFriendRequest(ctx context.Context, a, b string) (*FriendRequest, error)
	UpdateFriendStatus(ctx context.Context, id string, status FriendStatus, at time.Time) error
	PendingFriendRequests(ctx context.Context, recipient string) ([]FriendRequest, error)
}

// Store is the full durable collaborator.
type Store interface {
	Directory
	Messages
	Notifications
	Friends
	Close() error
}
