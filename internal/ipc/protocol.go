// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/austinkregel/local-media/tandem/internal/lyrics"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdStatus    CommandType = "status"
	CmdPlayTrack CommandType = "playTrack"
	CmdPlayList  CommandType = "playList"
	CmdPause     CommandType = "pause"
	CmdResume    CommandType = "resume"
	CmdToggle    CommandType = "toggle"
	CmdStop      CommandType = "stop"
	CmdNext      CommandType = "next"
	CmdPrev      CommandType = "prev"
	CmdSeek      CommandType = "seek"
	CmdVolume    CommandType = "volume"

	// Settings
	CmdSetRate       CommandType = "setRate"
	CmdSetPolicy     CommandType = "setPolicy"
	CmdSetMode       CommandType = "setMode"
	CmdSetSleepTimer CommandType = "setSleepTimer"
	CmdSetSkipIntro  CommandType = "setSkipIntro"
	CmdSetSkipOutro  CommandType = "setSkipOutro"

	// Queue management commands
	CmdGetQueue    CommandType = "getQueue"
	CmdQueueAppend CommandType = "queueAppend"
	CmdQueueRemove CommandType = "queueRemove"
	CmdQueueMove   CommandType = "queueMove"
	CmdQueueJump   CommandType = "queueJump"

	// Sync sessions
	CmdInvite       CommandType = "invite"
	CmdAcceptInvite CommandType = "acceptInvite"
	CmdRejectInvite CommandType = "rejectInvite"
	CmdLeave        CommandType = "leave"
	CmdGetSession   CommandType = "getSession"
)

// Push message types not taken from session events
const (
	PushTrackChanged = "track_changed"
	PushPlayState    = "play_state"
	PushQueueChanged = "queue_changed"
)

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PlayTrackRequest is the data for a playTrack command
type PlayTrackRequest struct {
	Track    types.Track `json:"track"`
	Position *float64    `json:"position,omitempty"` // seconds
}

// PlayListRequest is the data for a playList command
type PlayListRequest struct {
	Tracks   []types.Track `json:"tracks"`
	Index    int           `json:"index"`
	Position *float64      `json:"position,omitempty"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	Position float64 `json:"position"` // seconds
}

// VolumeRequest is the data for a volume command. A nil level reads the volume.
type VolumeRequest struct {
	Level *float64 `json:"level,omitempty"` // 0.0 - 1.0
}

// VolumeResponse reports the output volume
type VolumeResponse struct {
	Level float64 `json:"level"`
}

// RateRequest is the data for a setRate command
type RateRequest struct {
	Rate float64 `json:"rate"`
}

// PolicyRequest is the data for a setPolicy command
type PolicyRequest struct {
	Policy string `json:"policy"`
}

// ModeRequest is the data for a setMode command
type ModeRequest struct {
	Mode string `json:"mode"`
}

// SleepTimerRequest is the data for a setSleepTimer command. 0 clears the timer.
type SleepTimerRequest struct {
	Minutes float64 `json:"minutes"`
}

// SkipRequest is the data for setSkipIntro and setSkipOutro
type SkipRequest struct {
	Seconds float64 `json:"seconds"`
}

// StatusResponse is the response to a status command
type StatusResponse struct {
	State          string              `json:"state"`
	Mode           types.ListeningMode `json:"mode"`
	Track          *types.Track        `json:"track,omitempty"`
	Position       float64             `json:"position"`
	Duration       float64             `json:"duration"`
	Rate           float64             `json:"rate"`
	Policy         types.Policy        `json:"policy"`
	Volume         float64             `json:"volume"`
	QueueIndex     int                 `json:"queueIndex"`
	QueueSize      int                 `json:"queueSize"`
	SleepRemaining float64             `json:"sleepRemaining,omitempty"` // seconds
	SkipIntro      float64             `json:"skipIntro"`
	SkipOutro      float64             `json:"skipOutro"`
	Lyric          *lyrics.Line        `json:"lyric,omitempty"`
	SessionID      string              `json:"sessionId,omitempty"`
}

// GetQueueResponse is the response to a getQueue command
type GetQueueResponse struct {
	Items  []types.Track `json:"items"`
	Index  int           `json:"index"`
	Policy types.Policy  `json:"policy"`
}

// QueueAppendRequest is the data for a queueAppend command
type QueueAppendRequest struct {
	Tracks []types.Track `json:"tracks"`
}

// QueueJumpRequest is the data for a queueJump command
type QueueJumpRequest struct {
	Index int `json:"index"`
}

// QueueRemoveRequest is the data for a queueRemove command
type QueueRemoveRequest struct {
	Index int `json:"index"`
}

// QueueMoveRequest is the data for a queueMove command
type QueueMoveRequest struct {
	FromIndex int `json:"fromIndex"`
	ToIndex   int `json:"toIndex"`
}

// InviteRequest is the data for an invite command
type InviteRequest struct {
	Targets []string `json:"targets"`
}

// SessionRequest names a session for acceptInvite, rejectInvite and leave
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionResponse is the response to getSession and invite
type SessionResponse struct {
	SessionID    string              `json:"sessionId,omitempty"`
	Participants []types.Participant `json:"participants,omitempty"`
	Pending      []types.Invite      `json:"pending,omitempty"`
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data any) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage encodes a push message
func NewPushMessage(msgType string, data any) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	msg := PushMessage{
		Type: msgType,
		Data: rawData,
	}
	return json.Marshal(msg)
}
