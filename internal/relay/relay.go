// Package relay mirrors local playback transitions onto the live sync
// session and applies the session's commands to the local player.
//
// Commands applied from the session arm a short guard. While it is armed
// local transitions are not mirrored. The guard expires on the clock, not
// on a follow-up event.
package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/player"
	"github.com/austinkregel/local-media/tandem/internal/session"
	"github.com/austinkregel/local-media/tandem/internal/socket"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

// Default timings
const (
	DefaultGuard          = 100 * time.Millisecond
	DefaultHandshakeDelay = 200 * time.Millisecond
)

// Player is the part of the state machine the relay drives
type Player interface {
	Resume() error
	Pause() error
	Seek(position float64) error
	LoadTrack(track types.Track) error
	ReplaceQueue(tracks []types.Track)
	PlayTrackList(tracks []types.Track, index int, opts ...player.PlayOption) error
	SwitchMode(mode types.ListeningMode) error
	Mode() types.ListeningMode
	Status() player.Status
	Snapshot() types.Snapshot
	Subscribe(o player.Observer)
}

// Sessions is the part of the negotiator the relay reads
type Sessions interface {
	SessionID() string
	TakeAcceptedInvite() *types.Invite
	NoteParticipantLeft(userID string)
	Subscribe(fn func(session.Event))
}

// Relay translates between local transitions and session commands
type Relay struct {
	conn   socket.Conn
	neg    Sessions
	player Player
	self   string
	clock  clock.Clock
	log    *zap.Logger

	guardFor       time.Duration
	handshakeDelay time.Duration

	mu         sync.Mutex
	guardUntil time.Time
}

// Option configures a Relay
type Option func(*Relay)

// WithClock sets the clock for the guard and the handshake delay
func WithClock(c clock.Clock) Option {
	return func(r *Relay) { r.clock = c }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(r *Relay) { r.log = log.Named("relay") }
}

// WithGuard sets how long local transitions stay unmirrored after an inbound command
func WithGuard(d time.Duration) Option {
	return func(r *Relay) { r.guardFor = d }
}

// WithHandshakeDelay sets the gap between the track and the transport state
// sent to a newly joined participant
func WithHandshakeDelay(d time.Duration) Option {
	return func(r *Relay) { r.handshakeDelay = d }
}

// New creates a relay for the local user selfUserID. Call Start to wire it.
func New(conn socket.Conn, neg Sessions, p Player, selfUserID string, opts ...Option) *Relay {
	r := &Relay{
		conn:           conn,
		neg:            neg,
		player:         p,
		self:           selfUserID,
		clock:          clock.New(),
		log:            zap.NewNop(),
		guardFor:       DefaultGuard,
		handshakeDelay: DefaultHandshakeDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to the player and the negotiator and registers the
// relay's socket handlers
func (r *Relay) Start() {
	r.player.Subscribe(r)
	r.neg.Subscribe(r.onSessionEvent)
	r.conn.On(types.EventSyncEvent, r.onSyncEvent)
	r.conn.On(types.EventRequestInitialState, r.onInitialStateRequest)
}

func (r *Relay) arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guardUntil = r.clock.Now().Add(r.guardFor)
}

// Guarded reports whether local transitions are currently suppressed
func (r *Relay) Guarded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock.Now().Before(r.guardUntil)
}

// mirror sends a local transition to the session unless it came from the session
func (r *Relay) mirror(kind types.CommandKind, data any) {
	sessionID := r.neg.SessionID()
	if sessionID == "" || r.Guarded() {
		return
	}
	r.send(sessionID, kind, data, "")
}

func (r *Relay) send(sessionID string, kind types.CommandKind, data any, target string) {
	cmd := types.SyncCommand{SessionID: sessionID, Type: kind, TargetSocketID: target}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			r.log.Error("marshal command failed", zap.String("type", string(kind)), zap.Error(err))
			return
		}
		cmd.Data = raw
	}
	if err := r.conn.Emit(types.EventSyncCommand, cmd); err != nil {
		r.log.Warn("emit command failed", zap.String("type", string(kind)), zap.Error(err))
		return
	}
	r.log.Debug("command sent", zap.String("type", string(kind)), zap.String("target", target))
}

// PlayStateChanged implements player.Observer
func (r *Relay) PlayStateChanged(playing bool, position float64) {
	kind := types.CommandPause
	if playing {
		kind = types.CommandPlay
	}
	r.mirror(kind, types.TransportState{Position: &position})
}

// Seeked implements player.Observer
func (r *Relay) Seeked(position float64) {
	r.mirror(types.CommandSeek, position)
}

// TrackChanged implements player.Observer
func (r *Relay) TrackChanged(track *types.Track) {
	if track == nil {
		return
	}
	r.mirror(types.CommandTrackChange, track)
}

// QueueChanged implements player.Observer
func (r *Relay) QueueChanged(queue []types.Track) {
	r.mirror(types.CommandPlaylist, queue)
}

// SettingsChanged implements player.Observer. Policy and rate stay local.
func (r *Relay) SettingsChanged(types.Policy, float64) {}

func (r *Relay) onSyncEvent(data json.RawMessage) {
	var evt types.SyncEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		r.log.Warn("bad sync_event", zap.Error(err))
		return
	}
	if evt.FromUserID == r.self {
		return
	}
	if sessionID := r.neg.SessionID(); sessionID == "" || (evt.SessionID != "" && evt.SessionID != sessionID) {
		r.log.Debug("command for inactive session dropped",
			zap.String("sessionId", evt.SessionID),
			zap.String("type", string(evt.Type)))
		return
	}

	if err := r.apply(evt); err != nil {
		r.log.Error("apply command failed",
			zap.String("type", string(evt.Type)),
			zap.String("from", evt.FromUserID),
			zap.Error(err))
	}
}

// apply runs one inbound command against the player with the guard armed
func (r *Relay) apply(evt types.SyncEvent) error {
	r.log.Debug("command received", zap.String("type", string(evt.Type)), zap.String("from", evt.FromUserID))

	switch evt.Type {
	case types.CommandLeave:
		r.neg.NoteParticipantLeft(evt.FromUserID)
		return nil

	case types.CommandPlay, types.CommandPause:
		var st types.TransportState
		if len(evt.Data) > 0 {
			if err := json.Unmarshal(evt.Data, &st); err != nil {
				return fmt.Errorf("decode %s: %w", evt.Type, err)
			}
		}
		r.arm()
		if st.Position != nil {
			if err := r.player.Seek(*st.Position); err != nil {
				return err
			}
		}
		if evt.Type == types.CommandPlay {
			return r.player.Resume()
		}
		return r.player.Pause()

	case types.CommandSeek:
		var pos float64
		if err := json.Unmarshal(evt.Data, &pos); err != nil {
			return fmt.Errorf("decode seek: %w", err)
		}
		r.arm()
		return r.player.Seek(pos)

	case types.CommandTrackChange:
		var track types.Track
		if err := json.Unmarshal(evt.Data, &track); err != nil {
			return fmt.Errorf("decode track_change: %w", err)
		}
		r.arm()
		return r.player.LoadTrack(track)

	case types.CommandPlaylist:
		var tracks []types.Track
		if err := json.Unmarshal(evt.Data, &tracks); err != nil {
			return fmt.Errorf("decode playlist: %w", err)
		}
		r.arm()
		r.player.ReplaceQueue(tracks)
		return nil

	default:
		return fmt.Errorf("unknown command %q", evt.Type)
	}
}

// onInitialStateRequest sends the current track to the requester, then the
// transport state once the requester had time to load it
func (r *Relay) onInitialStateRequest(data json.RawMessage) {
	var req types.InitialStateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		r.log.Warn("bad request_initial_state", zap.Error(err))
		return
	}
	sessionID := r.neg.SessionID()
	if sessionID == "" || req.SessionID != sessionID || req.FromSocketID == "" {
		return
	}

	snap := r.player.Snapshot()
	if snap.CurrentTrack == nil {
		return
	}

	r.log.Info("sending initial state", zap.String("to", req.FromSocketID), zap.String("track", snap.CurrentTrack.ID))
	r.send(sessionID, types.CommandTrackChange, snap.CurrentTrack, req.FromSocketID)

	r.clock.AfterFunc(r.handshakeDelay, func() {
		if r.neg.SessionID() != sessionID {
			return
		}
		pos := r.player.Snapshot().Position
		kind := types.CommandPause
		if r.player.Status() == player.StatusPlaying {
			kind = types.CommandPlay
		}
		r.send(sessionID, kind, types.TransportState{Position: &pos}, req.FromSocketID)
	})
}

func (r *Relay) onSessionEvent(ev session.Event) {
	if ev.Kind != session.EventSessionJoined || ev.Invite == nil {
		return
	}
	inv := r.neg.TakeAcceptedInvite()
	if inv == nil {
		return
	}
	if err := r.applyInvite(*inv); err != nil {
		r.log.Error("apply invite failed", zap.String("sessionId", inv.SessionID), zap.Error(err))
	}
}

// applyInvite seeds the player from an accepted invite's snapshot
func (r *Relay) applyInvite(inv types.Invite) error {
	if inv.CurrentTrack == nil {
		return nil
	}
	track := *inv.CurrentTrack

	tracks := inv.Playlist
	_, index, found := lo.FindIndexOf(tracks, func(t types.Track) bool { return t.ID == track.ID })
	if !found {
		tracks = append([]types.Track{track}, tracks...)
		index = 0
	}

	r.arm()
	if track.Mode != "" && track.Mode != r.player.Mode() {
		if err := r.player.SwitchMode(track.Mode); err != nil {
			return err
		}
		r.arm()
	}

	r.log.Info("joining playback",
		zap.String("sessionId", inv.SessionID),
		zap.String("track", track.ID),
		zap.Float64("progress", inv.Progress))
	return r.player.PlayTrackList(tracks, index, player.StartAt(inv.Progress))
}
