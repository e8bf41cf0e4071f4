package types

import "encoding/json"

// Socket event names
const (
	EventConnected           = "connected"
	EventInvite              = "invite"
	EventInviteReceived      = "invite_received"
	EventRespondInvite       = "respond_invite"
	EventSyncSessionStarted  = "sync_session_started"
	EventInviteRejected      = "invite_rejected"
	EventInviteHandled       = "invite_handled"
	EventParticipantsUpdate  = "participants_update"
	EventSyncCommand         = "sync_command"
	EventSyncEvent           = "sync_event"
	EventRequestInitialState = "request_initial_state"
	EventPlayerLeft          = "player_left"
	EventSessionEnded        = "session_ended"
)

// CommandKind is the kind of a sync command
type CommandKind string

const (
	CommandPlay        CommandKind = "play"
	CommandPause       CommandKind = "pause"
	CommandSeek        CommandKind = "seek"
	CommandTrackChange CommandKind = "track_change"
	CommandPlaylist    CommandKind = "playlist"
	CommandLeave       CommandKind = "leave"
)

// Participant describes one connected device in a session
type Participant struct {
	UserID     string `json:"userId"`
	Username   string `json:"username,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	SocketID   string `json:"socketId"`
}

// InviteRequest is the outbound invite payload
type InviteRequest struct {
	TargetUserIDs []string `json:"targetUserIds"`
	SessionID     string   `json:"sessionId"`
	CurrentTrack  *Track   `json:"currentTrack,omitempty"`
	Playlist      []Track  `json:"playlist,omitempty"`
	Progress      float64  `json:"progress"`
}

// Invite is the full invite as delivered to its targets
type Invite struct {
	FromUserID     string   `json:"fromUserId"`
	FromUsername   string   `json:"fromUsername,omitempty"`
	FromDeviceName string   `json:"fromDeviceName,omitempty"`
	FromSocketID   string   `json:"fromSocketId"`
	TargetUserIDs  []string `json:"targetUserIds"`
	SessionID      string   `json:"sessionId"`
	CurrentTrack   *Track   `json:"currentTrack,omitempty"`
	Playlist       []Track  `json:"playlist,omitempty"`
	Progress       float64  `json:"progress"`
	CreatedAt      int64    `json:"createdAt"` // unix millis
}

// InviteResponse answers an invite. FromUserID and FromSocketID name the inviter.
type InviteResponse struct {
	FromUserID   string `json:"fromUserId"`
	FromSocketID string `json:"fromSocketId"`
	SessionID    string `json:"sessionId"`
	Accept       bool   `json:"accept"`
}

// SessionStarted confirms that at least one target accepted
type SessionStarted struct {
	SessionID string        `json:"sessionId"`
	Users     []Participant `json:"users"`
}

// InviteResolved is the payload of invite_rejected and invite_handled
type InviteResolved struct {
	FromUserID string `json:"fromUserId"`
	SessionID  string `json:"sessionId,omitempty"`
}

// ParticipantsUpdate carries the full membership of a session
type ParticipantsUpdate struct {
	SessionID    string        `json:"sessionId,omitempty"`
	Participants []Participant `json:"participants"`
}

// SyncCommand is a transport command sent to a session
type SyncCommand struct {
	SessionID      string          `json:"sessionId"`
	Type           CommandKind     `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	TargetSocketID string          `json:"targetSocketId,omitempty"`
}

// SyncEvent is a SyncCommand as relayed to the other participants
type SyncEvent struct {
	SessionID    string          `json:"sessionId,omitempty"`
	Type         CommandKind     `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	FromUserID   string          `json:"fromUserId"`
	FromSocketID string          `json:"fromSocketId,omitempty"`
}

// InitialStateRequest asks the receiver to send its state to FromSocketID
type InitialStateRequest struct {
	SessionID    string `json:"sessionId"`
	FromSocketID string `json:"fromSocketId"`
}

// PlayerLeft notifies that a participant left a session
type PlayerLeft struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	SocketID  string `json:"socketId,omitempty"`
}

// SessionEnded notifies that a session no longer exists
type SessionEnded struct {
	SessionID string `json:"sessionId"`
}

// Connected is sent by the relay once a socket is registered
type Connected struct {
	SocketID string `json:"socketId"`
}

// TransportState is the payload of play and pause commands
type TransportState struct {
	Position *float64 `json:"position,omitempty"`
}
