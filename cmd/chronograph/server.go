package chronograph

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Chronograph HTTP server",
	Long: `Start the Chronograph HTTP server to provide REST access to the knowledge graph.

The server provides endpoints for:
- Ingesting episodes, one at a time or in bulk
- Searching the graph, optionally as of a past instant or over a range
- Building and listing communities
- Health, readiness and Prometheus metrics

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "release", "Server mode (debug, release, test)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideServerFlags(cmd, cfg)

	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newAppFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize chronograph: %w", err)
	}
	defer a.Close()

	srv := server.New(cfg, a.client, a.logger)
	if a.metrics != nil {
		srv.SetGatherer(a.metrics.Registry())
	}
	srv.Setup()

	ctx, stop := signalContext(cmd)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	a.logger.Info("server stopped gracefully")
	return nil
}

func overrideServerFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "memory" && cfg.Database.URI == "" {
		return fmt.Errorf("database URI is required")
	}
	return nil
}

// signalContext cancels on interrupt for the one-shot commands.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
