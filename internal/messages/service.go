// Package messages sends and reads direct messages. Text is encrypted before
// it is stored and decrypted again when it is read back or pushed live.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/taptik/internal/cipher"
	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/events"
	"github.com/Tyrowin/taptik/internal/notify"
	"github.com/Tyrowin/taptik/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// View is a message as the client sees it: text in plaintext.
type View struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Text      *string   `json:"text"`
	Image     *string   `json:"image"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Draft is an outgoing message. At least one of Text and Image is required.
type Draft struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Service coordinates the cipher, the message store and live delivery.
type Service struct {
	messages store.Messages
	dir      store.Directory
	cipher   *cipher.Cipher
	pusher   events.Pusher
	ledger   *notify.Ledger
	log      *zap.Logger
	now      func() time.Time
}

// NewService wires a Service. ledger may be nil to skip message receipts.
func NewService(m store.Messages, dir store.Directory, c *cipher.Cipher, p events.Pusher, ledger *notify.Ledger, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		messages: m,
		dir:      dir,
		cipher:   c,
		pusher:   p,
		ledger:   ledger,
		log:      log.With(zap.String("component", "messages")),
		now:      time.Now,
	}
}

// Send encrypts, persists and then pushes a message from sender to receiver.
// The receiver's receipt is appended before the message is stored, so a
// failed receipt fails the send with nothing stored or pushed. The returned
// delivery reports whether the receiver saw it live.
func (s *Service) Send(ctx context.Context, sender, receiver string, d Draft) (View, events.Delivery, error) {
	if strings.TrimSpace(sender) == "" || strings.TrimSpace(receiver) == "" {
		return View{}, events.Delivery{}, fmt.Errorf("%w: sender and receiver are required", common.ErrValidation)
	}
	if sender == receiver {
		return View{}, events.Delivery{}, fmt.Errorf("%w: cannot message yourself", common.ErrValidation)
	}
	if d.Text == "" && d.Image == "" {
		return View{}, events.Delivery{}, fmt.Errorf("%w: message text or image is required", common.ErrValidation)
	}

	from, err := s.dir.GetUser(ctx, sender)
	if err != nil {
		return View{}, events.Delivery{}, fmt.Errorf("resolve sender: %w", err)
	}
	if _, err := s.dir.GetUser(ctx, receiver); err != nil {
		return View{}, events.Delivery{}, fmt.Errorf("resolve receiver: %w", err)
	}

	m := store.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		CreatedAt: s.now().UTC(),
	}
	if d.Text != "" {
		ct, iv, err := s.cipher.Encrypt(d.Text)
		if err != nil {
			return View{}, events.Delivery{}, fmt.Errorf("encrypt message: %w", err)
		}
		m.Ciphertext, m.IV = &ct, iv
	} else {
		iv, err := s.cipher.NewIV()
		if err != nil {
			return View{}, events.Delivery{}, fmt.Errorf("message iv: %w", err)
		}
		m.IV = iv
	}
	if d.Image != "" {
		img := d.Image
		m.Image = &img
	}

	var receipt notify.Receipt
	if s.ledger != nil {
		if receipt, err = s.ledger.MessageReceived(ctx, receiver, from); err != nil {
			return View{}, events.Delivery{}, fmt.Errorf("message receipt: %w", err)
		}
	}

	if err := s.messages.CreateMessage(ctx, &m); err != nil {
		return View{}, events.Delivery{}, fmt.Errorf("store message: %w", err)
	}

	view := View{
		ID:        m.ID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Image:     m.Image,
		CreatedAt: m.CreatedAt,
	}
	if d.Text != "" {
		text := d.Text
		view.Text = &text
	}

	delivery := s.pusher.Push(receiver, events.NewMessage, view)
	receipt.Deliver()
	return view, delivery, nil
}

// Conversation returns the messages between a and b, oldest first, with text
// decrypted. Rows that fail to decrypt are returned as stored.
func (s *Service) Conversation(ctx context.Context, a, b string) ([]View, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("%w: both parties are required", common.ErrValidation)
	}
	rows, err := s.messages.Conversation(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	out := make([]View, 0, len(rows))
	for _, m := range rows {
		out = append(out, s.view(m))
	}
	return out, nil
}

// MarkRead marks every message from peer to reader as read.
func (s *Service) MarkRead(ctx context.Context, reader, peer string) (int, error) {
	if reader == "" || peer == "" {
		return 0, fmt.Errorf("%w: both parties are required", common.ErrValidation)
	}
	n, err := s.messages.MarkRead(ctx, reader, peer)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return n, nil
}

func (s *Service) view(m store.Message) View {
	v := View{
		ID:        m.ID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Image:     m.Image,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
	if m.Ciphertext == nil {
		return v
	}

	text, err := s.cipher.Decrypt(*m.Ciphertext, m.IV)
	if err != nil {
		s.log.Warn("message not decryptable, returning stored value",
			zap.String("message_id", m.ID), zap.Bool("crypto", errors.Is(err, common.ErrCrypto)), zap.Error(err))
		stored := *m.Ciphertext
		v.Text = &stored
		return v
	}
	v.Text = &text
	return v
}
