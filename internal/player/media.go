package player

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/media"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

// MediaBridge mirrors machine state into an OS media session and routes
// the session's commands back into the machine
type MediaBridge struct {
	machine *Machine
	session media.Session
	log     *zap.Logger
}

// NewMediaBridge connects session to machine in both directions
func NewMediaBridge(m *Machine, session media.Session, log *zap.Logger) *MediaBridge {
	b := &MediaBridge{machine: m, session: session, log: log.Named("media")}
	session.SetCommandHandler(b)
	m.Subscribe(b)
	return b
}

func seconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// PlayStateChanged implements Observer
func (b *MediaBridge) PlayStateChanged(playing bool, position float64) {
	state := media.StatePaused
	if playing {
		state = media.StatePlaying
	} else if b.machine.Status() == StatusIdle {
		state = media.StateStopped
	}
	if err := b.session.UpdatePlaybackState(state, seconds(position)); err != nil {
		b.log.Debug("update playback state failed", zap.Error(err))
	}
}

// Seeked implements Observer
func (b *MediaBridge) Seeked(position float64) {
	state := media.StatePaused
	if b.machine.Status() == StatusPlaying {
		state = media.StatePlaying
	}
	b.session.UpdatePlaybackState(state, seconds(position))
}

// TrackChanged implements Observer
func (b *MediaBridge) TrackChanged(track *types.Track) {
	if track == nil {
		b.session.UpdateMetadata(media.Metadata{})
		return
	}
	err := b.session.UpdateMetadata(media.Metadata{
		TrackID:  track.ID,
		Title:    track.Title,
		Artist:   track.Artist,
		Album:    track.Album,
		Duration: seconds(track.Duration),
		ArtURL:   track.Artwork,
	})
	if err != nil {
		b.log.Debug("update metadata failed", zap.Error(err))
	}
}

// QueueChanged implements Observer
func (b *MediaBridge) QueueChanged([]types.Track) {}

// SettingsChanged implements Observer
func (b *MediaBridge) SettingsChanged(policy types.Policy, rate float64) {
	b.session.UpdateShuffle(policy == types.PolicyShuffle)
	b.session.UpdateLoopStatus(LoopStatusFor(policy))
	b.session.UpdateRate(rate)
}

// LoopStatusFor maps an advancement policy to the OS loop status
func LoopStatusFor(policy types.Policy) media.LoopStatus {
	switch policy {
	case types.PolicyLoopSingle:
		return media.LoopTrack
	case types.PolicyLoopList:
		return media.LoopPlaylist
	default:
		return media.LoopNone
	}
}

// PolicyForLoop maps an OS loop status to an advancement policy
func PolicyForLoop(status media.LoopStatus) types.Policy {
	switch status {
	case media.LoopTrack:
		return types.PolicyLoopSingle
	case media.LoopPlaylist:
		return types.PolicyLoopList
	default:
		return types.PolicySequence
	}
}

// OnCommand implements media.CommandHandler
func (b *MediaBridge) OnCommand(cmd media.Command, data any) error {
	b.log.Debug("media command", zap.String("cmd", cmd.String()))
	m := b.machine

	switch cmd {
	case media.CmdPlay:
		return m.Resume()
	case media.CmdPause:
		return m.Pause()
	case media.CmdPlayPause:
		return m.Toggle()
	case media.CmdStop:
		return m.Stop()
	case media.CmdNext:
		return m.Next()
	case media.CmdPrevious:
		return m.Previous()
	case media.CmdSeek:
		pos, ok := data.(time.Duration)
		if !ok {
			return fmt.Errorf("seek: unexpected payload %T", data)
		}
		return m.Seek(pos.Seconds())
	case media.CmdSetShuffle:
		enabled, ok := data.(bool)
		if !ok {
			return fmt.Errorf("shuffle: unexpected payload %T", data)
		}
		if enabled {
			m.SetPolicy(types.PolicyShuffle)
		} else {
			m.SetPolicy(types.PolicySequence)
		}
		return nil
	case media.CmdSetLoopStatus:
		status, ok := data.(media.LoopStatus)
		if !ok {
			return fmt.Errorf("loop status: unexpected payload %T", data)
		}
		m.SetPolicy(PolicyForLoop(status))
		return nil
	case media.CmdSetRate:
		rate, ok := data.(float64)
		if !ok {
			return fmt.Errorf("rate: unexpected payload %T", data)
		}
		return m.SetRate(rate)
	}
	return nil
}
