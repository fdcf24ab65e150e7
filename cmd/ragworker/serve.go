package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"ragworker/internal/api"
	applog "ragworker/internal/platform/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synchronous search / answer HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	d, err := setup()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signalContext()
	defer stop()

	answerer, err := d.answerer(ctx)
	if err != nil {
		return err
	}

	srvCfg := api.DefaultServerConfig()
	srvCfg.Host = d.cfg.Server.Host
	srvCfg.Port = d.cfg.Server.Port
	srvCfg.ReadTimeout = time.Duration(d.cfg.Server.ReadTimeoutSeconds) * time.Second
	srvCfg.WriteTimeout = time.Duration(d.cfg.Server.WriteTimeoutSeconds) * time.Second
	srvCfg.JWTSecret = d.cfg.Auth.JWTSecret
	srvCfg.JWTIssuer = d.cfg.Auth.JWTIssuer
	server := api.NewServer(srvCfg, answerer)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	applog.Info("🛑 Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
