package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/audio"
	"github.com/austinkregel/local-media/tandem/internal/cache"
	"github.com/austinkregel/local-media/tandem/internal/config"
	"github.com/austinkregel/local-media/tandem/internal/history"
	"github.com/austinkregel/local-media/tandem/internal/ipc"
	"github.com/austinkregel/local-media/tandem/internal/media"
	"github.com/austinkregel/local-media/tandem/internal/player"
	"github.com/austinkregel/local-media/tandem/internal/relay"
	"github.com/austinkregel/local-media/tandem/internal/session"
	"github.com/austinkregel/local-media/tandem/internal/socket"
	"github.com/austinkregel/local-media/tandem/internal/store"
)

const reconnectEvery = 5 * time.Second

type RunParams struct {
	Config  string `short:"c" optional:"true" help:"Configuration directory (default: ~/.config/tandemd)"`
	Socket  string `short:"s" optional:"true" help:"IPC socket path (default: /tmp/tandemd-<uid>.sock)"`
	Offline bool   `optional:"true" help:"Do not connect to the sync relay"`
	Verbose bool   `short:"v" optional:"true" help:"Enable debug logging"`
}

func RunCmd() *cobra.Command {
	return boa.CmdT[RunParams]{
		Use:         "run",
		Short:       "Run the playback daemon",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *RunParams, cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := runDaemon(ctx, params); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "run: %v\n", err)
				os.Exit(1)
			}
		},
	}.ToCobra()
}

func (p *RunParams) withDefaults() error {
	if p.Config == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		p.Config = filepath.Join(home, ".config", "tandemd")
	}
	if p.Socket == "" {
		p.Socket = fmt.Sprintf("/tmp/tandemd-%d.sock", os.Getuid())
	}
	return nil
}

// socketURL adds the local identity to the relay URL
func socketURL(cfg config.Config) (string, error) {
	u, err := url.Parse(cfg.Server.SocketURL)
	if err != nil {
		return "", fmt.Errorf("invalid socket url: %w", err)
	}
	q := u.Query()
	q.Set("userId", cfg.Identity.UserID)
	if cfg.Identity.Username != "" {
		q.Set("username", cfg.Identity.Username)
	}
	if cfg.Identity.DeviceName != "" {
		q.Set("deviceName", cfg.Identity.DeviceName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func runDaemon(ctx context.Context, params *RunParams) error {
	if err := params.withDefaults(); err != nil {
		return err
	}

	log, err := newLogger(params.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	configMgr := config.NewManager(params.Config, log)
	if err := configMgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	st, err := store.Open(cfg.Store.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	resolver, err := cache.NewResolver(filepath.Join(cfg.DataDir, "cache"), 0)
	if err != nil {
		return fmt.Errorf("failed to create cache resolver: %w", err)
	}

	engine, err := audio.NewEngine(cfg.Audio.SampleRate, audio.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer engine.Close()
	if err := engine.SetVolume(cfg.Audio.DefaultVolume); err != nil {
		return err
	}

	machineOpts := []player.Option{
		player.WithLogger(log),
		player.WithResolver(resolver),
		player.WithAutosaveInterval(cfg.AutosaveInterval()),
		player.WithSleepCheckInterval(cfg.SleepCheckInterval()),
		player.WithHistoryInterval(cfg.HistoryInterval()),
		player.WithOutroEpsilon(cfg.Playback.OutroEpsilonSeconds),
		player.WithDefaultRate(cfg.Playback.DefaultRate),
	}
	if cfg.History.Enabled {
		machineOpts = append(machineOpts, player.WithReporter(history.NewReporter(
			cfg.Server.APIBaseURL,
			cfg.Server.Token,
			history.WithLogger(log),
			history.WithDeviceName(cfg.Identity.DeviceName),
		)))
	}
	machine := player.New(engine, st, machineOpts...)
	if err := machine.Restore(); err != nil {
		log.Warn("restore failed", zap.Error(err))
	}

	mediaSession, err := media.NewSession()
	if err != nil {
		log.Warn("media session unavailable, continuing without OS integration", zap.Error(err))
		mediaSession = media.NewNoOpSession()
	}
	defer mediaSession.Close()
	player.NewMediaBridge(machine, mediaSession, log)

	ipcOpts := []ipc.Option{ipc.WithLogger(log), ipc.WithVolume(engine)}

	var rejectUnsolicited atomic.Bool
	rejectUnsolicited.Store(cfg.Sync.RejectUnsolicited)

	var workers []func(context.Context)

	if !params.Offline && cfg.Identity.UserID != "" {
		wsURL, err := socketURL(cfg)
		if err != nil {
			return err
		}
		header := http.Header{}
		if cfg.Server.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Server.Token)
		}
		client := socket.NewClient(wsURL, socket.WithLogger(log), socket.WithHeader(header))

		neg := session.New(client, session.Identity{
			UserID:     cfg.Identity.UserID,
			Username:   cfg.Identity.Username,
			DeviceName: cfg.Identity.DeviceName,
		},
			session.WithLogger(log),
			session.WithInviteTimeout(cfg.InviteTimeout()),
			session.WithRejectUnsolicited(rejectUnsolicited.Load),
		)
		neg.Start()
		relay.New(client, neg, machine, cfg.Identity.UserID,
			relay.WithLogger(log),
			relay.WithGuard(cfg.Guard()),
			relay.WithHandshakeDelay(cfg.HandshakeDelay()),
		).Start()
		ipcOpts = append(ipcOpts, ipc.WithSessions(neg))

		workers = append(workers, func(ctx context.Context) {
			keepConnected(ctx, client, log)
		})
		defer client.Disconnect()
	} else {
		log.Info("running without sync", zap.Bool("offline", params.Offline))
	}

	workers = append(workers, machine.Run, func(ctx context.Context) {
		err := configMgr.Watch(ctx, func(c config.Config) {
			rejectUnsolicited.Store(c.Sync.RejectUnsolicited)
		})
		if err != nil {
			log.Warn("config watch stopped", zap.Error(err))
		}
	})

	server := ipc.NewServer(params.Socket, machine, ipcOpts...)
	err = supervise(ctx, server.Start, workers...)
	if err != nil {
		log.Error("ipc server stopped", zap.Error(err))
	}
	machine.Persist()
	return err
}

// supervise runs workers until serve returns, then cancels them and waits
// for all of them to exit
func supervise(ctx context.Context, serve func(context.Context) error, workers ...func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, work := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			work(ctx)
		}()
	}

	err := serve(ctx)
	cancel()
	wg.Wait()
	return err
}

// keepConnected dials the relay and redials whenever the connection drops
func keepConnected(ctx context.Context, client *socket.Client, log *zap.Logger) {
	ticker := time.NewTicker(reconnectEvery)
	defer ticker.Stop()

	for {
		if !client.Connected() {
			dialCtx, cancel := context.WithTimeout(ctx, reconnectEvery)
			if err := client.Connect(dialCtx); err != nil && ctx.Err() == nil {
				log.Warn("relay connect failed", zap.Error(err))
			}
			cancel()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
