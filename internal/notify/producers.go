package notify

import (
	"context"
	"fmt"

	"github.com/Tyrowin/taptik/internal/store"
)

// LoginActivity records a sign-in on the account of identity. It is marked
// serious so clients can surface it prominently.
func (l *Ledger) LoginActivity(ctx context.Context, identity, client string) (store.Notification, error) {
	msg := "New login to your account."
	if client != "" {
		msg = fmt.Sprintf("New login to your account from %s.", client)
	}
	entry, _, err := l.Notify(ctx, identity, msg, true)
	return entry, err
}

// ProfileUpdated records a profile change made by identity.
func (l *Ledger) ProfileUpdated(ctx context.Context, identity string) (Receipt, error) {
	return l.Record(ctx, identity, "Your profile was updated.", false)
}

// FriendRequestAnswered tells the requester how the recipient responded.
func (l *Ledger) FriendRequestAnswered(ctx context.Context, requester string, recipient *store.User, accepted bool) (Receipt, error) {
	verb := "declined"
	if accepted {
		verb = "accepted"
	}
	msg := fmt.Sprintf("%s (@%s) %s your friend request.", recipient.FullName, recipient.Username, verb)
	return l.Record(ctx, requester, msg, false)
}

// MessageReceived records that sender wrote to receiver.
func (l *Ledger) MessageReceived(ctx context.Context, receiver string, sender *store.User) (Receipt, error) {
	return l.Record(ctx, receiver, fmt.Sprintf("New message from %s (@%s).", sender.FullName, sender.Username), false)
}
