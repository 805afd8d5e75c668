package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Suhaibinator/CraftRouter/internal/config"
	"github.com/Suhaibinator/CraftRouter/server"
)

var (
	configFile string
	logLevel   string
	version    = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "craftrouter",
		Short: "CraftRouter - hostname routing proxy for Minecraft",
		Long: `CraftRouter reads the handshake of each Minecraft connection, looks the
requested hostname up in its routing table and relays the connection to
the registered backend. Backends register themselves over HTTP.`,
		SilenceUsage: true,
		RunE:         run,
	}

	defaultConfig := "config.json"
	if env := os.Getenv("CRAFTROUTER_CONFIG"); env != "" {
		defaultConfig = env
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", defaultConfig, "Path to configuration file (created on shutdown if missing)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the log level from the configuration file")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of CraftRouter",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("CraftRouter version:", version)
		},
	})
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("error loading config file %q: %w", configFile, err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return server.Run(cmd.Context(), cfg)
}
