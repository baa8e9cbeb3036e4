// Package notify implements the notification ledger: an append-only,
// per-identity feed written by independent producers and drained by its
// owner.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/events"
	"github.com/Tyrowin/taptik/internal/store"
	"go.uber.org/zap"
)

// DefaultRetention is the number of entries kept per identity when no
// retention is configured.
const DefaultRetention = 500

// Ledger appends to and reads notification feeds. It is safe for concurrent
// use; serialization of appends is delegated to the store.
type Ledger struct {
	store     store.Notifications
	pusher    events.Pusher
	retention int
	log       *zap.Logger
	now       func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithRetention keeps at most n entries per identity. n <= 0 disables trimming.
func WithRetention(n int) Option {
	return func(l *Ledger) { l.retention = n }
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger builds a ledger over s that pushes new-notification through p.
func NewLedger(s store.Notifications, p events.Pusher, log *zap.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		store:     s,
		pusher:    p,
		retention: DefaultRetention,
		log:       log.With(zap.String("component", "ledger")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds entry to the feed of identity. A zero CreatedAt is set to now.
func (l *Ledger) Append(ctx context.Context, identity string, entry store.Notification) (store.Notification, error) {
	if strings.TrimSpace(identity) == "" {
		return store.Notification{}, fmt.Errorf("%w: notification target is required", common.ErrValidation)
	}
	if strings.TrimSpace(entry.Message) == "" {
		return store.Notification{}, fmt.Errorf("%w: notification message is required", common.ErrValidation)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}

	if err := l.store.AppendNotification(ctx, identity, &entry, l.retention); err != nil {
		return store.Notification{}, fmt.Errorf("append notification: %w", err)
	}
	return entry, nil
}

// Notify appends a new unread entry and then pushes it as new-notification.
// An append failure is returned; a missed push is not.
func (l *Ledger) Notify(ctx context.Context, identity, message string, serious bool) (store.Notification, events.Delivery, error) {
	r, err := l.Record(ctx, identity, message, serious)
	if err != nil {
		return store.Notification{}, events.Drop(events.ReasonOffline), err
	}
	return r.Notification, r.Deliver(), nil
}

// Receipt is an appended entry whose new-notification push has not happened
// yet.
type Receipt struct {
	store.Notification
	identity string
	ledger   *Ledger
}

// Record appends a new unread entry without pushing it. Producers record
// first, commit the change the entry describes, then call Deliver, so a
// failed append leaves that change undone.
func (l *Ledger) Record(ctx context.Context, identity, message string, serious bool) (Receipt, error) {
	entry, err := l.Append(ctx, identity, store.Notification{Message: message, IsSerious: serious})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Notification: entry, identity: identity, ledger: l}, nil
}

// Deliver pushes the entry to its owner as new-notification.
func (r Receipt) Deliver() events.Delivery {
	if r.ledger == nil {
		return events.Drop(events.ReasonOffline)
	}
	delivery := r.ledger.pusher.Push(r.identity, events.NewNotification, r.Notification)
	if !delivery.Sent() {
		r.ledger.log.Debug("notification stored, live push skipped",
			zap.String("identity", r.identity),
			zap.String("reason", string(delivery.Reason)))
	}
	return delivery
}

// FetchAll returns every entry of identity, newest first. read is not touched.
func (l *Ledger) FetchAll(ctx context.Context, identity string) ([]store.Notification, error) {
	return l.Page(ctx, identity, 0, 0)
}

// Page returns up to limit entries after skipping offset, newest first.
func (l *Ledger) Page(ctx context.Context, identity string, limit, offset int) ([]store.Notification, error) {
	feed, err := l.store.ListNotifications(ctx, identity, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if feed == nil {
		feed = []store.Notification{}
	}
	return feed, nil
}

// MarkAllRead flips every unread entry of identity to read and returns how
// many changed. Entries appended concurrently are either marked or left
// unread; none are lost.
func (l *Ledger) MarkAllRead(ctx context.Context, identity string) (int, error) {
	if strings.TrimSpace(identity) == "" {
		return 0, fmt.Errorf("%w: identity is required", common.ErrValidation)
	}
	n, err := l.store.MarkNotificationsRead(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return n, nil
}
