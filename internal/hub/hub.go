// Package hub is a development relay for the sync protocol. It tracks which
// sockets belong to which session and forwards messages between them. It
// never arbitrates conflicting commands.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/socket"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

// Hub relays session traffic between connected sockets
type Hub struct {
	mu       sync.Mutex
	peers    map[string]*peer    // socketID -> peer
	sessions map[string][]string // sessionID -> member socket ids in join order
	log      *zap.Logger
	now      func() time.Time
}

type peer struct {
	info    types.Participant
	session string
	out     *mailbox
}

type delivery struct {
	to  *peer
	env socket.Envelope
}

// Option configures a Hub
type Option func(*Hub)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(h *Hub) { h.log = log.Named("hub") }
}

// New creates an empty hub
func New(opts ...Option) *Hub {
	h := &Hub{
		peers:    make(map[string]*peer),
		sessions: make(map[string][]string),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// register adds a socket and queues its connected event
func (h *Hub) register(info types.Participant) *peer {
	info.SocketID = uuid.NewString()
	p := &peer{info: info, out: newMailbox()}

	h.mu.Lock()
	h.peers[info.SocketID] = p
	h.mu.Unlock()

	h.log.Info("socket registered",
		zap.String("socketId", info.SocketID),
		zap.String("userId", info.UserID),
		zap.String("device", info.DeviceName))

	env, _ := socket.NewEnvelope(types.EventConnected, types.Connected{SocketID: info.SocketID})
	p.out.push(env)
	return p
}

// unregister removes a socket, treating it as leaving its session
func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	out := h.leaveLocked(p)
	delete(h.peers, p.info.SocketID)
	h.mu.Unlock()

	h.deliver(out)
	p.out.close()
	h.log.Info("socket unregistered", zap.String("socketId", p.info.SocketID))
}

// Sessions returns the member socket ids of every live session
func (h *Hub) Sessions() map[string][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string][]string, len(h.sessions))
	for id, members := range h.sessions {
		out[id] = append([]string(nil), members...)
	}
	return out
}

// handle routes one inbound envelope from p
func (h *Hub) handle(p *peer, env socket.Envelope) {
	var out []delivery

	switch env.Event {
	case types.EventInvite:
		var req types.InviteRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.log.Warn("bad invite", zap.Error(err))
			return
		}
		out = h.routeInvite(p, req)

	case types.EventRespondInvite:
		var resp types.InviteResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			h.log.Warn("bad respond_invite", zap.Error(err))
			return
		}
		out = h.routeResponse(p, resp)

	case types.EventSyncCommand:
		var cmd types.SyncCommand
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			h.log.Warn("bad sync_command", zap.Error(err))
			return
		}
		out = h.routeCommand(p, cmd)

	default:
		h.log.Debug("ignoring event", zap.String("event", env.Event))
		return
	}

	h.deliver(out)
}

func (h *Hub) deliver(out []delivery) {
	for _, d := range out {
		d.to.out.push(d.env)
	}
}

func envelope(to *peer, event string, data any) delivery {
	env, _ := socket.NewEnvelope(event, data)
	return delivery{to: to, env: env}
}

func (h *Hub) routeInvite(from *peer, req types.InviteRequest) []delivery {
	invite := types.Invite{
		FromUserID:     from.info.UserID,
		FromUsername:   from.info.Username,
		FromDeviceName: from.info.DeviceName,
		FromSocketID:   from.info.SocketID,
		TargetUserIDs:  req.TargetUserIDs,
		SessionID:      req.SessionID,
		CurrentTrack:   req.CurrentTrack,
		Playlist:       req.Playlist,
		Progress:       req.Progress,
		CreatedAt:      h.now().UnixMilli(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var out []delivery
	for _, p := range h.peers {
		if p == from || !lo.Contains(req.TargetUserIDs, p.info.UserID) {
			continue
		}
		out = append(out, envelope(p, types.EventInviteReceived, invite))
	}
	h.log.Info("invite routed",
		zap.String("sessionId", req.SessionID),
		zap.String("from", from.info.UserID),
		zap.Int("sockets", len(out)))
	return out
}

func (h *Hub) routeResponse(from *peer, resp types.InviteResponse) []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []delivery

	// The responder's other devices drop the invite
	for _, p := range h.peers {
		if p != from && p.info.UserID == from.info.UserID {
			out = append(out, envelope(p, types.EventInviteHandled,
				types.InviteResolved{FromUserID: from.info.UserID, SessionID: resp.SessionID}))
		}
	}

	inviter := h.peers[resp.FromSocketID]
	if inviter == nil {
		h.log.Warn("inviter gone", zap.String("socketId", resp.FromSocketID))
		return out
	}

	if !resp.Accept {
		out = append(out, envelope(inviter, types.EventInviteRejected,
			types.InviteResolved{FromUserID: from.info.UserID, SessionID: resp.SessionID}))
		return out
	}

	if inviter.session != resp.SessionID {
		out = append(out, h.leaveLocked(inviter)...)
		h.joinLocked(inviter, resp.SessionID)
	}
	if from.session != resp.SessionID {
		out = append(out, h.leaveLocked(from)...)
		h.joinLocked(from, resp.SessionID)
	}

	members := h.participantsLocked(resp.SessionID)
	out = append(out, envelope(inviter, types.EventSyncSessionStarted,
		types.SessionStarted{SessionID: resp.SessionID, Users: members}))
	out = append(out, h.broadcastLocked(resp.SessionID, "", types.EventParticipantsUpdate,
		types.ParticipantsUpdate{SessionID: resp.SessionID, Participants: members})...)
	out = append(out, envelope(inviter, types.EventRequestInitialState,
		types.InitialStateRequest{SessionID: resp.SessionID, FromSocketID: from.info.SocketID}))

	h.log.Info("invite accepted",
		zap.String("sessionId", resp.SessionID),
		zap.String("by", from.info.UserID),
		zap.Int("members", len(members)))
	return out
}

func (h *Hub) routeCommand(from *peer, cmd types.SyncCommand) []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cmd.SessionID == "" || from.session != cmd.SessionID {
		h.log.Debug("command for foreign session dropped",
			zap.String("sessionId", cmd.SessionID),
			zap.String("socketId", from.info.SocketID))
		return nil
	}

	evt := types.SyncEvent{
		SessionID:    cmd.SessionID,
		Type:         cmd.Type,
		Data:         cmd.Data,
		FromUserID:   from.info.UserID,
		FromSocketID: from.info.SocketID,
	}

	var out []delivery
	if cmd.TargetSocketID != "" {
		if target := h.peers[cmd.TargetSocketID]; target != nil && target.session == cmd.SessionID {
			out = append(out, envelope(target, types.EventSyncEvent, evt))
		}
	} else {
		out = h.broadcastLocked(cmd.SessionID, from.info.SocketID, types.EventSyncEvent, evt)
	}

	if cmd.Type == types.CommandLeave {
		out = append(out, h.leaveLocked(from)...)
	}
	return out
}

func (h *Hub) joinLocked(p *peer, sessionID string) {
	p.session = sessionID
	if !lo.Contains(h.sessions[sessionID], p.info.SocketID) {
		h.sessions[sessionID] = append(h.sessions[sessionID], p.info.SocketID)
	}
}

// leaveLocked removes p from its session and returns the notifications
func (h *Hub) leaveLocked(p *peer) []delivery {
	sessionID := p.session
	if sessionID == "" {
		return nil
	}
	p.session = ""

	members := lo.Without(h.sessions[sessionID], p.info.SocketID)
	h.sessions[sessionID] = members

	left := types.PlayerLeft{
		SessionID: sessionID,
		UserID:    p.info.UserID,
		Username:  p.info.Username,
		SocketID:  p.info.SocketID,
	}
	out := h.broadcastLocked(sessionID, "", types.EventPlayerLeft, left)
	out = append(out, h.broadcastLocked(sessionID, "", types.EventParticipantsUpdate,
		types.ParticipantsUpdate{SessionID: sessionID, Participants: h.participantsLocked(sessionID)})...)

	if len(members) < 2 {
		out = append(out, h.broadcastLocked(sessionID, "", types.EventSessionEnded,
			types.SessionEnded{SessionID: sessionID})...)
		for _, id := range members {
			if m := h.peers[id]; m != nil {
				m.session = ""
			}
		}
		delete(h.sessions, sessionID)
		h.log.Info("session ended", zap.String("sessionId", sessionID))
	}
	return out
}

func (h *Hub) participantsLocked(sessionID string) []types.Participant {
	return lo.FilterMap(h.sessions[sessionID], func(id string, _ int) (types.Participant, bool) {
		p := h.peers[id]
		if p == nil {
			return types.Participant{}, false
		}
		return p.info, true
	})
}

func (h *Hub) broadcastLocked(sessionID, excludeSocketID, event string, data any) []delivery {
	var out []delivery
	for _, id := range h.sessions[sessionID] {
		if id == excludeSocketID {
			continue
		}
		if p := h.peers[id]; p != nil {
			out = append(out, envelope(p, event, data))
		}
	}
	return out
}
