// Package session negotiates sync sessions for the local device: outbound
// invites with their response window, inbound invites awaiting a decision,
// and the membership of the session the device has joined.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/socket"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

// DefaultInviteTimeout is how long an outbound invite waits for a response
const DefaultInviteTimeout = 60 * time.Second

var (
	// ErrNoTargets is returned by SendInvite without any target user
	ErrNoTargets = errors.New("invite needs at least one target user")
	// ErrInvitePending is returned by SendInvite while another invite awaits responses
	ErrInvitePending = errors.New("an invite is already pending")
	// ErrUnknownInvite is returned when no inbound invite matches the session id
	ErrUnknownInvite = errors.New("no pending invite for session")
	// ErrNoInvite is returned by WaitInvite when no invite was sent
	ErrNoInvite = errors.New("no invite sent")
)

// Identity is the local user and device
type Identity struct {
	UserID     string
	Username   string
	DeviceName string
}

// Outcome is how an outbound invite was resolved
type Outcome string

const (
	OutcomePending  Outcome = ""
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeTimedOut Outcome = "timed_out"
)

// TargetStatus tracks one invited user
type TargetStatus string

const (
	TargetAwaiting TargetStatus = "awaiting"
	TargetAccepted TargetStatus = "accepted"
	TargetRejected TargetStatus = "rejected"
	TargetTimedOut TargetStatus = "timed_out"
)

// EventKind names a negotiator notification
type EventKind string

const (
	EventInviteReceived      EventKind = "invite_received"
	EventInviteHandled       EventKind = "invite_handled"
	EventInviteRejected      EventKind = "invite_rejected"
	EventInviteTimedOut      EventKind = "invite_timed_out"
	EventSessionJoined       EventKind = "session_joined"
	EventParticipantsChanged EventKind = "participants_changed"
	EventParticipantLeft     EventKind = "participant_left"
	EventSessionLeft         EventKind = "session_left"
	EventSessionEnded        EventKind = "session_ended"
)

// Event is delivered to subscribers after the negotiator's state changed.
// Invite is set on EventInviteReceived, and on EventSessionJoined when the
// local device joined by accepting.
type Event struct {
	Kind         EventKind           `json:"kind"`
	SessionID    string              `json:"sessionId,omitempty"`
	UserID       string              `json:"userId,omitempty"`
	Invite       *types.Invite       `json:"invite,omitempty"`
	Participants []types.Participant `json:"participants,omitempty"`
}

// Outbound describes the most recent invite sent by this device
type Outbound struct {
	SessionID string                  `json:"sessionId"`
	Targets   map[string]TargetStatus `json:"targets"`
	SentAt    time.Time               `json:"sentAt"`
	Outcome   Outcome                 `json:"outcome,omitempty"`
}

type outbound struct {
	sessionID string
	targets   map[string]TargetStatus
	sentAt    time.Time
	outcome   Outcome
	timer     *clock.Timer
	done      chan struct{}
}

func (o *outbound) resolve(outcome Outcome) {
	if o.outcome != OutcomePending {
		return
	}
	o.outcome = outcome
	if o.timer != nil {
		o.timer.Stop()
	}
	close(o.done)
}

// Negotiator owns the invite lifecycle and session membership
type Negotiator struct {
	conn  socket.Conn
	self  Identity
	clock clock.Clock
	log   *zap.Logger

	timeout           time.Duration
	rejectUnsolicited func() bool

	mu           sync.Mutex
	sessionID    string
	participants []types.Participant
	out          *outbound
	inbound      map[string]types.Invite
	accepted     *types.Invite
	subscribers  []func(Event)
}

// Option configures a Negotiator
type Option func(*Negotiator)

// WithClock sets the clock used for invite timeouts
func WithClock(c clock.Clock) Option {
	return func(n *Negotiator) { n.clock = c }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(n *Negotiator) { n.log = log.Named("session") }
}

// WithInviteTimeout sets the response window of outbound invites
func WithInviteTimeout(d time.Duration) Option {
	return func(n *Negotiator) { n.timeout = d }
}

// WithRejectUnsolicited makes inbound invites auto-reject while fn returns true.
// fn is consulted on every invite.
func WithRejectUnsolicited(fn func() bool) Option {
	return func(n *Negotiator) { n.rejectUnsolicited = fn }
}

// New creates a negotiator speaking over conn. Call Start to register handlers.
func New(conn socket.Conn, self Identity, opts ...Option) *Negotiator {
	n := &Negotiator{
		conn:              conn,
		self:              self,
		clock:             clock.New(),
		log:               zap.NewNop(),
		timeout:           DefaultInviteTimeout,
		rejectUnsolicited: func() bool { return false },
		inbound:           make(map[string]types.Invite),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start registers the negotiator's socket handlers
func (n *Negotiator) Start() {
	n.conn.On(types.EventInviteReceived, n.onInviteReceived)
	n.conn.On(types.EventInviteHandled, n.onInviteHandled)
	n.conn.On(types.EventInviteRejected, n.onInviteRejected)
	n.conn.On(types.EventSyncSessionStarted, n.onSessionStarted)
	n.conn.On(types.EventParticipantsUpdate, n.onParticipantsUpdate)
	n.conn.On(types.EventPlayerLeft, n.onPlayerLeft)
	n.conn.On(types.EventSessionEnded, n.onSessionEnded)
	n.conn.On(socket.EventDisconnect, n.onDisconnect)
}

// Subscribe registers fn for every negotiator event.
// fn runs without the negotiator's lock held.
func (n *Negotiator) Subscribe(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribers = append(n.subscribers, fn)
}

func (n *Negotiator) unlockAndPublish(events ...Event) {
	subs := append(([]func(Event))(nil), n.subscribers...)
	n.mu.Unlock()
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// SendInvite invites targets to a session seeded with snap. The live
// session id is reused when the device is already synced. Targets are
// marked as awaiting before the invite is emitted.
func (n *Negotiator) SendInvite(targets []string, snap types.Snapshot) (string, error) {
	targets = lo.Uniq(lo.Compact(targets))
	targets = lo.Without(targets, n.self.UserID)
	if len(targets) == 0 {
		return "", ErrNoTargets
	}

	n.mu.Lock()
	if n.out != nil && n.out.outcome == OutcomePending {
		n.mu.Unlock()
		return "", ErrInvitePending
	}

	sessionID := n.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	o := &outbound{
		sessionID: sessionID,
		targets:   make(map[string]TargetStatus, len(targets)),
		sentAt:    n.clock.Now(),
		done:      make(chan struct{}),
	}
	for _, t := range targets {
		o.targets[t] = TargetAwaiting
	}
	o.timer = n.clock.AfterFunc(n.timeout, func() { n.expire(o) })
	n.out = o
	n.mu.Unlock()

	req := types.InviteRequest{
		TargetUserIDs: targets,
		SessionID:     sessionID,
		CurrentTrack:  snap.CurrentTrack,
		Playlist:      snap.Queue,
		Progress:      snap.Position,
	}
	if err := n.conn.Emit(types.EventInvite, req); err != nil {
		n.log.Warn("emit invite failed", zap.String("sessionId", sessionID), zap.Error(err))
	}

	n.log.Info("invite sent", zap.String("sessionId", sessionID), zap.Strings("targets", targets))
	return sessionID, nil
}

// expire resolves o as timed out if nobody answered in time
func (n *Negotiator) expire(o *outbound) {
	n.mu.Lock()
	if o.outcome != OutcomePending {
		n.mu.Unlock()
		return
	}
	var timedOut []string
	for user, st := range o.targets {
		if st == TargetAwaiting {
			o.targets[user] = TargetTimedOut
			timedOut = append(timedOut, user)
		}
	}
	o.resolve(OutcomeTimedOut)
	n.log.Info("invite timed out", zap.String("sessionId", o.sessionID), zap.Strings("targets", timedOut))
	n.unlockAndPublish(Event{Kind: EventInviteTimedOut, SessionID: o.sessionID})
}

// WaitInvite blocks until the most recent outbound invite is resolved
func (n *Negotiator) WaitInvite(ctx context.Context) (Outcome, error) {
	n.mu.Lock()
	o := n.out
	n.mu.Unlock()
	if o == nil {
		return OutcomePending, ErrNoInvite
	}

	select {
	case <-o.done:
		n.mu.Lock()
		defer n.mu.Unlock()
		return o.outcome, nil
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

// LastInvite returns the state of the most recent outbound invite
func (n *Negotiator) LastInvite() (Outbound, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.out == nil {
		return Outbound{}, false
	}
	targets := make(map[string]TargetStatus, len(n.out.targets))
	for k, v := range n.out.targets {
		targets[k] = v
	}
	return Outbound{
		SessionID: n.out.sessionID,
		Targets:   targets,
		SentAt:    n.out.sentAt,
		Outcome:   n.out.outcome,
	}, true
}

// Accept joins the session of a pending inbound invite. The invite is kept
// as the last accepted invite until TakeAcceptedInvite is called.
func (n *Negotiator) Accept(sessionID string) error {
	n.mu.Lock()
	inv, ok := n.inbound[sessionID]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInvite, sessionID)
	}
	delete(n.inbound, sessionID)

	previous := n.sessionID
	n.sessionID = sessionID
	n.participants = nil
	n.accepted = &inv
	n.log.Info("invite accepted", zap.String("sessionId", sessionID), zap.String("from", inv.FromUserID))

	events := []Event{{Kind: EventSessionJoined, SessionID: sessionID, Invite: &inv}}
	if previous != "" && previous != sessionID {
		events = append([]Event{{Kind: EventSessionLeft, SessionID: previous}}, events...)
	}
	n.unlockAndPublish(events...)

	if previous != "" && previous != sessionID {
		n.emitLeave(previous)
	}
	n.respond(inv, true)
	return nil
}

// Reject declines a pending inbound invite
func (n *Negotiator) Reject(sessionID string) error {
	n.mu.Lock()
	inv, ok := n.inbound[sessionID]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInvite, sessionID)
	}
	delete(n.inbound, sessionID)
	n.mu.Unlock()

	n.log.Info("invite rejected", zap.String("sessionId", sessionID), zap.String("from", inv.FromUserID))
	n.respond(inv, false)
	return nil
}

func (n *Negotiator) respond(inv types.Invite, accept bool) {
	resp := types.InviteResponse{
		FromUserID:   inv.FromUserID,
		FromSocketID: inv.FromSocketID,
		SessionID:    inv.SessionID,
		Accept:       accept,
	}
	if err := n.conn.Emit(types.EventRespondInvite, resp); err != nil {
		n.log.Warn("emit respond_invite failed", zap.String("sessionId", inv.SessionID), zap.Error(err))
	}
}

// Leave leaves sessionID. Leaving a session the device is not in is a no-op.
func (n *Negotiator) Leave(sessionID string) {
	n.mu.Lock()
	if sessionID == "" || sessionID != n.sessionID {
		n.mu.Unlock()
		return
	}
	n.clearSessionLocked()
	n.log.Info("session left", zap.String("sessionId", sessionID))
	n.unlockAndPublish(Event{Kind: EventSessionLeft, SessionID: sessionID})

	n.emitLeave(sessionID)
}

func (n *Negotiator) emitLeave(sessionID string) {
	cmd := types.SyncCommand{SessionID: sessionID, Type: types.CommandLeave}
	if err := n.conn.Emit(types.EventSyncCommand, cmd); err != nil {
		n.log.Warn("emit leave failed", zap.String("sessionId", sessionID), zap.Error(err))
	}
}

func (n *Negotiator) clearSessionLocked() {
	n.sessionID = ""
	n.participants = nil
	n.accepted = nil
}

// SessionID returns the live session id, empty when not synced
func (n *Negotiator) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// Participants returns the members of the live session
func (n *Negotiator) Participants() []types.Participant {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.Participant(nil), n.participants...)
}

// PendingInvites returns the inbound invites awaiting a decision, oldest first
func (n *Negotiator) PendingInvites() []types.Invite {
	n.mu.Lock()
	defer n.mu.Unlock()
	invites := lo.Values(n.inbound)
	sortInvites(invites)
	return invites
}

func sortInvites(invites []types.Invite) {
	sort.Slice(invites, func(i, j int) bool {
		if invites[i].CreatedAt != invites[j].CreatedAt {
			return invites[i].CreatedAt < invites[j].CreatedAt
		}
		return invites[i].SessionID < invites[j].SessionID
	})
}

// TakeAcceptedInvite returns the last accepted invite once, then nil
func (n *Negotiator) TakeAcceptedInvite() *types.Invite {
	n.mu.Lock()
	defer n.mu.Unlock()
	inv := n.accepted
	n.accepted = nil
	return inv
}

// NoteParticipantLeft drops userID from the live session's members.
// Nothing is published when the user was not a member.
func (n *Negotiator) NoteParticipantLeft(userID string) {
	n.mu.Lock()
	if n.sessionID == "" {
		n.mu.Unlock()
		return
	}
	before := len(n.participants)
	n.participants = lo.Reject(n.participants, func(p types.Participant, _ int) bool {
		return p.UserID == userID
	})
	if len(n.participants) == before {
		n.mu.Unlock()
		return
	}
	sessionID := n.sessionID
	n.log.Info("participant left", zap.String("sessionId", sessionID), zap.String("userId", userID))
	n.unlockAndPublish(Event{Kind: EventParticipantLeft, SessionID: sessionID, UserID: userID})
}

func (n *Negotiator) onInviteReceived(data json.RawMessage) {
	var inv types.Invite
	if err := json.Unmarshal(data, &inv); err != nil {
		n.log.Warn("bad invite_received", zap.Error(err))
		return
	}
	if inv.SessionID == "" {
		return
	}

	if n.rejectUnsolicited() {
		n.log.Info("invite auto-rejected", zap.String("sessionId", inv.SessionID), zap.String("from", inv.FromUserID))
		n.respond(inv, false)
		return
	}

	n.mu.Lock()
	n.inbound[inv.SessionID] = inv
	n.log.Info("invite received", zap.String("sessionId", inv.SessionID), zap.String("from", inv.FromUserID))
	n.unlockAndPublish(Event{Kind: EventInviteReceived, SessionID: inv.SessionID, UserID: inv.FromUserID, Invite: &inv})
}

func (n *Negotiator) onInviteHandled(data json.RawMessage) {
	var res types.InviteResolved
	if err := json.Unmarshal(data, &res); err != nil {
		n.log.Warn("bad invite_handled", zap.Error(err))
		return
	}

	n.mu.Lock()
	var dropped []string
	if res.SessionID != "" {
		if _, ok := n.inbound[res.SessionID]; ok {
			delete(n.inbound, res.SessionID)
			dropped = append(dropped, res.SessionID)
		}
	} else {
		dropped = lo.Keys(n.inbound)
		n.inbound = make(map[string]types.Invite)
	}

	events := lo.Map(dropped, func(id string, _ int) Event {
		return Event{Kind: EventInviteHandled, SessionID: id}
	})
	n.unlockAndPublish(events...)
}

func (n *Negotiator) onInviteRejected(data json.RawMessage) {
	var res types.InviteResolved
	if err := json.Unmarshal(data, &res); err != nil {
		n.log.Warn("bad invite_rejected", zap.Error(err))
		return
	}

	n.mu.Lock()
	o := n.out
	if o == nil || o.outcome != OutcomePending || (res.SessionID != "" && res.SessionID != o.sessionID) {
		n.mu.Unlock()
		return
	}
	if st, ok := o.targets[res.FromUserID]; !ok || st != TargetAwaiting {
		n.mu.Unlock()
		return
	}
	o.targets[res.FromUserID] = TargetRejected
	if !lo.Contains(lo.Values(o.targets), TargetAwaiting) {
		o.resolve(OutcomeRejected)
	}
	n.log.Info("invite declined", zap.String("sessionId", o.sessionID), zap.String("by", res.FromUserID))
	n.unlockAndPublish(Event{Kind: EventInviteRejected, SessionID: o.sessionID, UserID: res.FromUserID})
}

func (n *Negotiator) onSessionStarted(data json.RawMessage) {
	var started types.SessionStarted
	if err := json.Unmarshal(data, &started); err != nil {
		n.log.Warn("bad sync_session_started", zap.Error(err))
		return
	}

	n.mu.Lock()
	o := n.out
	ours := o != nil && o.sessionID == started.SessionID
	if !ours && started.SessionID != n.sessionID {
		n.mu.Unlock()
		n.log.Debug("session start for unknown session", zap.String("sessionId", started.SessionID))
		return
	}

	if ours {
		for _, u := range started.Users {
			if _, ok := o.targets[u.UserID]; ok {
				o.targets[u.UserID] = TargetAccepted
			}
		}
		o.resolve(OutcomeAccepted)
	}

	joined := n.sessionID != started.SessionID
	n.sessionID = started.SessionID
	n.participants = append([]types.Participant(nil), started.Users...)

	var events []Event
	if joined {
		n.log.Info("session started", zap.String("sessionId", started.SessionID), zap.Int("members", len(started.Users)))
		events = append(events, Event{Kind: EventSessionJoined, SessionID: started.SessionID})
	}
	events = append(events, Event{Kind: EventParticipantsChanged, SessionID: started.SessionID, Participants: n.participants})
	n.unlockAndPublish(events...)
}

func (n *Negotiator) onParticipantsUpdate(data json.RawMessage) {
	var upd types.ParticipantsUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		n.log.Warn("bad participants_update", zap.Error(err))
		return
	}

	n.mu.Lock()
	if n.sessionID == "" || (upd.SessionID != "" && upd.SessionID != n.sessionID) {
		n.mu.Unlock()
		return
	}
	n.participants = append([]types.Participant(nil), upd.Participants...)
	n.unlockAndPublish(Event{Kind: EventParticipantsChanged, SessionID: n.sessionID, Participants: upd.Participants})
}

func (n *Negotiator) onPlayerLeft(data json.RawMessage) {
	var left types.PlayerLeft
	if err := json.Unmarshal(data, &left); err != nil {
		n.log.Warn("bad player_left", zap.Error(err))
		return
	}
	if left.SessionID != "" && left.SessionID != n.SessionID() {
		return
	}
	n.NoteParticipantLeft(left.UserID)
}

func (n *Negotiator) onSessionEnded(data json.RawMessage) {
	var ended types.SessionEnded
	if err := json.Unmarshal(data, &ended); err != nil {
		n.log.Warn("bad session_ended", zap.Error(err))
		return
	}

	n.mu.Lock()
	if n.sessionID == "" || (ended.SessionID != "" && ended.SessionID != n.sessionID) {
		n.mu.Unlock()
		return
	}
	sessionID := n.sessionID
	n.clearSessionLocked()
	n.log.Info("session ended", zap.String("sessionId", sessionID))
	n.unlockAndPublish(Event{Kind: EventSessionEnded, SessionID: sessionID})
}

// onDisconnect drops the session locally; the relay treats the lost socket as a leave
func (n *Negotiator) onDisconnect(json.RawMessage) {
	n.mu.Lock()
	n.inbound = make(map[string]types.Invite)
	if n.sessionID == "" {
		n.mu.Unlock()
		return
	}
	sessionID := n.sessionID
	n.clearSessionLocked()
	n.log.Warn("connection lost, session dropped", zap.String("sessionId", sessionID))
	n.unlockAndPublish(Event{Kind: EventSessionEnded, SessionID: sessionID})
}
