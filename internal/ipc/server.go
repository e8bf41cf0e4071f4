package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/lyrics"
	"github.com/austinkregel/local-media/tandem/internal/player"
	"github.com/austinkregel/local-media/tandem/internal/session"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

const clientBuffer = 32

// ErrNoSync is returned for session commands when the daemon runs without a relay
var ErrNoSync = errors.New("sync unavailable")

// Player is the playback surface exposed to clients
type Player interface {
	PlayTrack(track types.Track, opts ...player.PlayOption) error
	PlayTrackList(tracks []types.Track, index int, opts ...player.PlayOption) error
	Pause() error
	Resume() error
	Toggle() error
	Stop() error
	Next() error
	Previous() error
	Seek(position float64) error
	SetRate(rate float64) error
	SetPolicy(policy types.Policy)
	SwitchMode(mode types.ListeningMode) error
	SetSleepTimer(minutes float64)
	SleepRemaining() time.Duration
	SetSkipIntro(sec float64) error
	SetSkipOutro(sec float64) error
	SkipDurations() (intro, outro float64)

	Queue() ([]types.Track, int)
	Append(tracks []types.Track)
	Remove(index int) bool
	Move(from, to int) bool
	Jump(index int) error

	Status() player.Status
	Current() *types.Track
	Position() float64
	Duration() float64
	Policy() types.Policy
	Rate() float64
	Mode() types.ListeningMode
	Snapshot() types.Snapshot
	Subscribe(o player.Observer)
}

// Sessions is the sync session surface exposed to clients
type Sessions interface {
	SendInvite(targets []string, snap types.Snapshot) (string, error)
	Accept(sessionID string) error
	Reject(sessionID string) error
	Leave(sessionID string)
	SessionID() string
	Participants() []types.Participant
	PendingInvites() []types.Invite
	Subscribe(fn func(session.Event))
}

// Volume controls the output level
type Volume interface {
	SetVolume(v float64) error
	Volume() float64
}

type client struct {
	conn net.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Server handles IPC communication with clients
type Server struct {
	player.NopObserver

	socketPath string
	player     Player
	sessions   Sessions
	volume     Volume
	log        *zap.Logger

	listener net.Listener
	mu       sync.Mutex
	clients  map[*client]struct{}

	lyricsMu    sync.Mutex
	lyricsTrack string
	lyrics      *lyrics.Lyrics
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log.Named("ipc") }
}

// WithSessions enables the session commands and pushes
func WithSessions(sessions Sessions) Option {
	return func(s *Server) { s.sessions = sessions }
}

// WithVolume enables the volume command
func WithVolume(v Volume) Option {
	return func(s *Server) { s.volume = v }
}

// NewServer creates a new IPC server and subscribes it to p and the sessions
func NewServer(socketPath string, p Player, opts ...Option) *Server {
	s := &Server{
		socketPath: socketPath,
		player:     p,
		log:        zap.NewNop(),
		clients:    make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	p.Subscribe(s)
	if s.sessions != nil {
		s.sessions.Subscribe(s.onSessionEvent)
	}
	return s
}

// Listen creates the unix socket
func (s *Server) Listen() error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// user-only
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	s.log.Info("listening", zap.String("socket", s.socketPath))
	return nil
}

// Serve accepts clients until ctx is done. Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	go s.acceptLoop(ctx)

	<-ctx.Done()

	s.mu.Lock()
	clientCount := len(s.clients)
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	s.listener.Close()
	os.RemoveAll(s.socketPath)

	s.log.Info("stopped", zap.Int("clients", clientCount))
	return nil
}

// Start listens and serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}

		c := &client{conn: conn, out: make(chan []byte, clientBuffer), done: make(chan struct{})}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		clientCount := len(s.clients)
		s.mu.Unlock()

		s.log.Debug("client connected", zap.Int("clients", clientCount))

		go s.writeLoop(c)
		go s.handleConnection(ctx, c)
	}
}

func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if _, err := c.conn.Write(msg); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer func() {
		c.close()
		s.mu.Lock()
		delete(s.clients, c)
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.log.Debug("client disconnected", zap.Int("clients", clientCount))
	}()

	reader := bufio.NewReader(c.conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// newline-delimited JSON
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("read failed", zap.Error(err))
			}
			return
		}

		var resp *Response
		req, err := DecodeRequest(line)
		if err != nil {
			resp = NewErrorResponse("invalid request format")
		} else {
			start := time.Now()
			resp = s.handleRequest(req)
			logExchange(s.log, req, resp, time.Since(start))
		}

		data, err := EncodeResponse(resp)
		if err != nil {
			s.log.Error("encode response failed", zap.Error(err))
			continue
		}
		select {
		case c.out <- append(data, '\n'):
		case <-c.done:
			return
		}
	}
}

func decodeData(req *Request, v any) error {
	if len(req.Data) == 0 {
		return fmt.Errorf("%s: missing data", req.Cmd)
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return fmt.Errorf("invalid %s request: %w", req.Cmd, err)
	}
	return nil
}

func reply(data any, err error) *Response {
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func startAt(pos *float64) []player.PlayOption {
	if pos == nil {
		return nil
	}
	return []player.PlayOption{player.StartAt(*pos)}
}

func (s *Server) handleRequest(req *Request) *Response {
	switch req.Cmd {
	case CmdStatus:
		return reply(s.status(), nil)

	case CmdPlayTrack:
		var r PlayTrackRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		if r.Track.ID == "" {
			return NewErrorResponse("track id is required")
		}
		return reply(nil, s.player.PlayTrack(r.Track, startAt(r.Position)...))

	case CmdPlayList:
		var r PlayListRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		if r.Index < 0 || r.Index >= len(r.Tracks) {
			return NewErrorResponse("index out of range")
		}
		return reply(nil, s.player.PlayTrackList(r.Tracks, r.Index, startAt(r.Position)...))

	case CmdPause:
		return reply(nil, s.player.Pause())
	case CmdResume:
		return reply(nil, s.player.Resume())
	case CmdToggle:
		return reply(nil, s.player.Toggle())
	case CmdStop:
		return reply(nil, s.player.Stop())
	case CmdNext:
		return reply(nil, s.player.Next())
	case CmdPrev:
		return reply(nil, s.player.Previous())

	case CmdSeek:
		var r SeekRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		return reply(nil, s.player.Seek(r.Position))

	case CmdVolume:
		return s.handleVolume(req)

	case CmdSetRate:
		var r RateRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		return reply(nil, s.player.SetRate(r.Rate))

	case CmdSetPolicy:
		var r PolicyRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		policy, err := types.ParsePolicy(r.Policy)
		if err != nil {
			return reply(nil, err)
		}
		s.player.SetPolicy(policy)
		return reply(nil, nil)

	case CmdSetMode:
		var r ModeRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		mode, err := types.ParseListeningMode(r.Mode)
		if err != nil {
			return reply(nil, err)
		}
		return reply(nil, s.player.SwitchMode(mode))

	case CmdSetSleepTimer:
		var r SleepTimerRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		if r.Minutes < 0 {
			return NewErrorResponse("minutes must not be negative")
		}
		s.player.SetSleepTimer(r.Minutes)
		return reply(nil, nil)

	case CmdSetSkipIntro, CmdSetSkipOutro:
		var r SkipRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		if req.Cmd == CmdSetSkipIntro {
			return reply(nil, s.player.SetSkipIntro(r.Seconds))
		}
		return reply(nil, s.player.SetSkipOutro(r.Seconds))

	case CmdGetQueue:
		items, index := s.player.Queue()
		return reply(GetQueueResponse{Items: items, Index: index, Policy: s.player.Policy()}, nil)

	case CmdQueueAppend:
		var r QueueAppendRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		s.player.Append(r.Tracks)
		return reply(nil, nil)

	case CmdQueueRemove:
		var r QueueRemoveRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		if !s.player.Remove(r.Index) {
			return NewErrorResponse("index out of range")
		}
		return reply(nil, nil)

	case CmdQueueMove:
		var r QueueMoveRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		if !s.player.Move(r.FromIndex, r.ToIndex) {
			return NewErrorResponse("index out of range")
		}
		return reply(nil, nil)

	case CmdQueueJump:
		var r QueueJumpRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		return reply(nil, s.player.Jump(r.Index))

	case CmdInvite, CmdAcceptInvite, CmdRejectInvite, CmdLeave, CmdGetSession:
		return s.handleSession(req)

	default:
		return NewErrorResponse("unknown command")
	}
}

func (s *Server) handleVolume(req *Request) *Response {
	if s.volume == nil {
		return NewErrorResponse("volume unavailable")
	}
	var r VolumeRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &r); err != nil {
			return NewErrorResponse("invalid volume request")
		}
	}
	if r.Level != nil {
		if err := s.volume.SetVolume(*r.Level); err != nil {
			return reply(nil, err)
		}
	}
	return reply(VolumeResponse{Level: s.volume.Volume()}, nil)
}

func (s *Server) handleSession(req *Request) *Response {
	if s.sessions == nil {
		return reply(nil, ErrNoSync)
	}

	switch req.Cmd {
	case CmdInvite:
		var r InviteRequest
		if err := decodeData(req, &r); err != nil {
			return reply(nil, err)
		}
		sessionID, err := s.sessions.SendInvite(r.Targets, s.player.Snapshot())
		return reply(SessionResponse{SessionID: sessionID}, err)

	case CmdGetSession:
		return reply(SessionResponse{
			SessionID:    s.sessions.SessionID(),
			Participants: s.sessions.Participants(),
			Pending:      s.sessions.PendingInvites(),
		}, nil)
	}

	var r SessionRequest
	if err := decodeData(req, &r); err != nil {
		return reply(nil, err)
	}
	if r.SessionID == "" {
		return NewErrorResponse("sessionId is required")
	}
	switch req.Cmd {
	case CmdAcceptInvite:
		return reply(nil, s.sessions.Accept(r.SessionID))
	case CmdRejectInvite:
		return reply(nil, s.sessions.Reject(r.SessionID))
	default:
		s.sessions.Leave(r.SessionID)
		return reply(nil, nil)
	}
}

func (s *Server) status() StatusResponse {
	items, index := s.player.Queue()
	intro, outro := s.player.SkipDurations()
	st := StatusResponse{
		State:          string(s.player.Status()),
		Mode:           s.player.Mode(),
		Track:          s.player.Current(),
		Position:       s.player.Position(),
		Duration:       s.player.Duration(),
		Rate:           s.player.Rate(),
		Policy:         s.player.Policy(),
		QueueIndex:     index,
		QueueSize:      len(items),
		SleepRemaining: s.player.SleepRemaining().Seconds(),
		SkipIntro:      intro,
		SkipOutro:      outro,
	}
	if s.volume != nil {
		st.Volume = s.volume.Volume()
	}
	if st.Track != nil {
		if line, ok := s.lyricAt(*st.Track, st.Position); ok {
			st.Lyric = &line
		}
	}
	if s.sessions != nil {
		st.SessionID = s.sessions.SessionID()
	}
	return st
}

// lyricAt returns the lyric line active at position, parsing once per track
func (s *Server) lyricAt(track types.Track, position float64) (lyrics.Line, bool) {
	if track.Lyrics == "" {
		return lyrics.Line{}, false
	}
	s.lyricsMu.Lock()
	defer s.lyricsMu.Unlock()
	if s.lyricsTrack != track.ID || s.lyrics == nil {
		s.lyrics = lyrics.Parse(track.Lyrics)
		s.lyricsTrack = track.ID
	}
	return s.lyrics.LineAt(position)
}

// broadcast queues msg for every client, dropping it for clients that are behind
func (s *Server) broadcast(msgType string, data any) {
	msg, err := NewPushMessage(msgType, data)
	if err != nil {
		s.log.Error("encode push failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	msg = append(msg, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- msg:
		default:
			s.log.Debug("push dropped", zap.String("type", msgType))
		}
	}
}

func pushType(kind session.EventKind) string {
	if kind == session.EventSessionJoined {
		return "session_started"
	}
	return string(kind)
}

func (s *Server) onSessionEvent(ev session.Event) {
	s.broadcast(pushType(ev.Kind), ev)
}

// TrackChanged implements player.Observer
func (s *Server) TrackChanged(track *types.Track) {
	s.broadcast(PushTrackChanged, track)
}

// PlayStateChanged implements player.Observer
func (s *Server) PlayStateChanged(playing bool, position float64) {
	s.broadcast(PushPlayState, map[string]any{"playing": playing, "position": position})
}

// QueueChanged implements player.Observer
func (s *Server) QueueChanged(queue []types.Track) {
	s.broadcast(PushQueueChanged, queue)
}
