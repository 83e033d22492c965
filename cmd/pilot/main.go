// Package main runs the pilot automation server on stdio.
//
// pilot speaks MCP on stdin/stdout and drives web browsers through
// Playwright and Electron applications through the Chrome DevTools Protocol.
// Logs go to a file under the log directory, never to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/dispatch"
	"github.com/entrhq/pilot/pkg/driver"
	"github.com/entrhq/pilot/pkg/engine/pwengine"
	"github.com/entrhq/pilot/pkg/engine/rodengine"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/metrics"
	"github.com/entrhq/pilot/pkg/session"
	"github.com/entrhq/pilot/pkg/transport"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 30 * time.Second
)

var (
	configPath  string
	serverName  string
	verbose     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "Browser and Electron automation over MCP",
	Long: `pilot is an automation server for web browsers and Electron applications.

It serves tool calls on stdin/stdout. Each launch creates a session; later
calls address the session by id. All sessions are closed when the client
disconnects or the process receives SIGINT or SIGTERM.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (default ~/.pilot/config.yaml)")
	rootCmd.Flags().StringVar(&serverName, "name", "", "Server name announced to clients")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pilot:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serverName != "" {
		cfg.Server.Name = serverName
	}
	if metricsAddr != "" {
		cfg.Server.MetricsAddr = metricsAddr
	}

	logging.SetDirectory(cfg.Logging.Dir)
	levelName := cfg.Logging.Level
	if verbose {
		levelName = "debug"
	}
	if err := logging.SetLevel(levelName); err != nil {
		return err
	}
	log, err := logging.NewLogger("server")
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Close()
	log.Infof("Starting %s %s (log: %s)", cfg.Server.Name, version, log.LogPath())

	browsers := pwengine.NewLauncher(cfg.Web.Install)
	defer func() {
		if err := browsers.Shutdown(); err != nil {
			log.Warnf("Stopping playwright: %v", err)
		}
	}()

	opts := []dispatch.Option{dispatch.WithLogger(log.Named("dispatch"))}
	if cfg.Server.MetricsAddr != "" {
		rec := metrics.NewRecorder()
		opts = append(opts, dispatch.WithObserver(rec))
		go func() {
			if err := rec.Serve(ctx, cfg.Server.MetricsAddr); err != nil {
				log.Errorf("Metrics listener on %s: %v", cfg.Server.MetricsAddr, err)
			}
		}()
		log.Infof("Serving metrics on %s/metrics", cfg.Server.MetricsAddr)
	}

	srv := dispatch.New(cfg, session.NewRegistry(), []driver.Driver{
		driver.NewWeb(browsers, cfg, log.Named("web")),
		driver.NewElectron(rodengine.NewLauncher(), cfg, log.Named("electron")),
	}, opts...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.CloseAll(closeCtx); err != nil {
			log.Warnf("Shutdown cleanup: %v", err)
		}
	}()

	t := transport.New(srv,
		transport.WithName(cfg.Server.Name),
		transport.WithVersion(version),
		transport.WithLogger(log.Named("transport")),
	)
	err = t.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("transport: %w", err)
	}
	log.Infof("Client disconnected, shutting down")
	return nil
}
