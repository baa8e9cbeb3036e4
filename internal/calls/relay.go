// Package calls relays peer-to-peer call signaling between two identities and
// tracks each call attempt as a small state machine.
//
// Signaling payloads (SDP, ICE candidates) are opaque and forwarded verbatim.
// The relay only tracks the lifecycle: ringing, accepted, in call, ended.
package calls

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tyrowin/taptik/internal/common"
	"github.com/Tyrowin/taptik/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRingTimeout bounds how long a call may ring unanswered.
const DefaultRingTimeout = 45 * time.Second

// Reasons attached to relay-generated signals.
const (
	ReasonBusy         = "busy"
	ReasonDisconnected = "disconnected"
	ReasonTimeout      = "timeout"
)

// ErrNoSession is returned for signaling between a pair with no call.
var ErrNoSession = errors.New("no call session")

// State is the call state as seen by one party.
type State int

const (
	Idle State = iota
	Outgoing
	Incoming
	Accepted
	InCall
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	case Accepted:
		return "accepted"
	case InCall:
		return "in-call"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type phase int

const (
	ringing phase = iota
	accepted
	active
)

type session struct {
	id     string
	caller string
	callee string
	phase  phase
	timer  *time.Timer
}

func (s *session) peer(identity string) string {
	if identity == s.caller {
		return s.callee
	}
	return s.caller
}

func (s *session) involves(a, b string) bool {
	return (s.caller == a && s.callee == b) || (s.caller == b && s.callee == a)
}

// Observer receives lifecycle outcomes, e.g. for metrics.
type Observer func(outcome string)

// Relay owns every in-flight call session. A party takes part in at most one
// session at a time; that membership is the busy flag.
type Relay struct {
	mu          sync.Mutex
	byParty     map[string]*session
	pusher      events.Pusher
	ringTimeout time.Duration
	log         *zap.Logger
	observe     Observer
}

// Option customizes a Relay.
type Option func(*Relay)

// WithRingTimeout overrides DefaultRingTimeout. d <= 0 disables the timeout.
func WithRingTimeout(d time.Duration) Option {
	return func(r *Relay) { r.ringTimeout = d }
}

// WithObserver registers a callback for call outcomes.
func WithObserver(o Observer) Option {
	return func(r *Relay) { r.observe = o }
}

// NewRelay builds a relay that delivers signals through p.
func NewRelay(p events.Pusher, log *zap.Logger, opts ...Option) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Relay{
		byParty:     make(map[string]*session),
		pusher:      p,
		ringTimeout: DefaultRingTimeout,
		log:         log.With(zap.String("component", "calls")),
		observe:     func(string) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StateOf reports the call state of identity.
func (r *Relay) StateOf(identity string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byParty[identity]
	if !ok {
		return Idle
	}
	switch s.phase {
	case ringing:
		if identity == s.caller {
			return Outgoing
		}
		return Incoming
	case accepted:
		return Accepted
	default:
		return InCall
	}
}

// Handle dispatches one inbound call-* frame sent by from.
func (r *Relay) Handle(from, event string, sig events.Signal) error {
	if from == "" {
		return fmt.Errorf("%w: call signaling requires an identity", common.ErrValidation)
	}
	if sig.To == "" || sig.To == from {
		return fmt.Errorf("%w: invalid call target %q", common.ErrValidation, sig.To)
	}
	sig.From = from

	switch event {
	case events.CallRequest:
		r.request(sig)
		return nil
	case events.CallAccept:
		return r.accept(sig)
	case events.CallReject:
		return r.reject(sig)
	case events.CallOffer, events.CallICECandidate:
		return r.forward(event, sig, false)
	case events.CallAnswer:
		return r.forward(event, sig, true)
	case events.CallEnded:
		return r.end(sig)
	default:
		return fmt.Errorf("%w: unknown call event %q", common.ErrValidation, event)
	}
}

func (r *Relay) request(sig events.Signal) {
	caller, callee := sig.From, sig.To

	r.mu.Lock()
	_, calleeBusy := r.byParty[callee]
	_, callerBusy := r.byParty[caller]
	if calleeBusy || callerBusy {
		r.mu.Unlock()
		r.log.Debug("call rejected, party busy",
			zap.String("caller", caller), zap.String("callee", callee), zap.Bool("callee_busy", calleeBusy))
		r.observe("busy")
		r.pusher.Push(caller, events.CallReject, events.Signal{To: caller, From: callee, Reason: ReasonBusy})
		return
	}

	s := &session{id: uuid.NewString(), caller: caller, callee: callee, phase: ringing}
	r.byParty[caller] = s
	r.byParty[callee] = s
	if r.ringTimeout > 0 {
		s.timer = time.AfterFunc(r.ringTimeout, func() { r.expire(s) })
	}
	r.mu.Unlock()

	r.log.Debug("call ringing", zap.String("session", s.id), zap.String("caller", caller), zap.String("callee", callee))
	r.observe("requested")
	if d := r.pusher.Push(callee, events.CallRequest, sig); !d.Sent() {
		// An unreachable callee is not busy; the caller rings until the timeout.
		r.mu.Lock()
		if r.byParty[callee] == s {
			delete(r.byParty, callee)
		}
		r.mu.Unlock()
		r.log.Debug("call request not delivered", zap.String("callee", callee), zap.String("reason", string(d.Reason)))
	}
}

func (r *Relay) accept(sig events.Signal) error {
	r.mu.Lock()
	s, ok := r.byParty[sig.From]
	if !ok || s.callee != sig.From || s.caller != sig.To || s.phase != ringing {
		r.mu.Unlock()
		return ErrNoSession
	}
	s.phase = accepted
	stopTimer(s)
	r.mu.Unlock()

	r.observe("accepted")
	r.pusher.Push(sig.To, events.CallAccept, sig)
	return nil
}

func (r *Relay) reject(sig events.Signal) error {
	r.mu.Lock()
	s, ok := r.byParty[sig.From]
	if !ok || !s.involves(sig.From, sig.To) || s.phase != ringing {
		r.mu.Unlock()
		return ErrNoSession
	}
	r.discardLocked(s)
	r.mu.Unlock()

	r.observe("rejected")
	r.pusher.Push(sig.To, events.CallReject, sig)
	return nil
}

func (r *Relay) forward(event string, sig events.Signal, answer bool) error {
	r.mu.Lock()
	s, ok := r.byParty[sig.From]
	if !ok || !s.involves(sig.From, sig.To) {
		r.mu.Unlock()
		return ErrNoSession
	}
	started := false
	if answer && s.phase != active {
		s.phase = active
		stopTimer(s)
		started = true
	}
	r.mu.Unlock()

	if started {
		r.observe("connected")
	}
	r.pusher.Push(sig.To, event, sig)
	return nil
}

func (r *Relay) end(sig events.Signal) error {
	r.mu.Lock()
	s, ok := r.byParty[sig.From]
	if !ok || !s.involves(sig.From, sig.To) {
		r.mu.Unlock()
		return ErrNoSession
	}
	r.discardLocked(s)
	r.mu.Unlock()

	r.observe("ended")
	r.pusher.Push(sig.To, events.CallEnded, sig)
	return nil
}

// Disconnected ends the session of identity, if any, and tells the other
// party. It is the implicit call-ended of a dropped connection.
func (r *Relay) Disconnected(identity string) {
	r.mu.Lock()
	s, ok := r.byParty[identity]
	if !ok {
		r.mu.Unlock()
		return
	}
	peer := s.peer(identity)
	peerJoined := r.byParty[peer] == s
	r.discardLocked(s)
	r.mu.Unlock()

	r.log.Debug("call ended by disconnect", zap.String("session", s.id), zap.String("identity", identity))
	r.observe("disconnected")
	if peerJoined {
		r.pusher.Push(peer, events.CallEnded, events.Signal{To: peer, From: identity, Reason: ReasonDisconnected})
	}
}

func (r *Relay) expire(s *session) {
	r.mu.Lock()
	if r.byParty[s.caller] != s || s.phase != ringing {
		r.mu.Unlock()
		return
	}
	calleeRang := r.byParty[s.callee] == s
	r.discardLocked(s)
	r.mu.Unlock()

	r.log.Debug("call timed out", zap.String("session", s.id))
	r.observe("timeout")
	r.pusher.Push(s.caller, events.CallTimeout, events.Signal{To: s.caller, From: s.callee, Reason: ReasonTimeout})
	if calleeRang {
		r.pusher.Push(s.callee, events.CallTimeout, events.Signal{To: s.callee, From: s.caller, Reason: ReasonTimeout})
	}
}

func (r *Relay) discardLocked(s *session) {
	stopTimer(s)
	if r.byParty[s.caller] == s {
		delete(r.byParty, s.caller)
	}
	if r.byParty[s.callee] == s {
		delete(r.byParty, s.callee)
	}
}

func stopTimer(s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
}
