package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/hub"
)

type HubParams struct {
	Addr    string `short:"a" help:"Address to listen on." default:":7300"`
	Verbose bool   `short:"v" optional:"true" help:"Enable debug logging"`
}

func HubCmd() *cobra.Command {
	return boa.CmdT[HubParams]{
		Use:         "hub",
		Short:       "Run a development relay for sync sessions",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *HubParams, cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := runHub(ctx, params); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "hub: %v\n", err)
				os.Exit(1)
			}
		},
	}.ToCobra()
}

func runHub(ctx context.Context, params *HubParams) error {
	log, err := newLogger(params.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	h := hub.New(hub.WithLogger(log))
	srv := &http.Server{
		Addr:              params.Addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("hub listening", zap.String("addr", params.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
