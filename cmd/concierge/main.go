// Package main is the entry point for the Concierge CLI.
// Concierge routes each message to a specialist agent, runs its tools and
// answers in one unified voice.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/concierge/internal/config"
	"github.com/normanking/concierge/internal/logging"
)

var (
	version   = "0.1.0"
	cfgPath   string
	verbose   bool
	logCloser io.Closer
	loaded    *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "concierge",
		Short: "Concierge - multi-agent assistant orchestrator",
		Long: `Concierge routes each message to a specialist agent, runs its tools and
answers in one unified voice.

Start the API server:   concierge serve
One-shot question:      concierge ask "turn on the living room light"
Inspect routing:        concierge route "what's the weather tomorrow"`,
		SilenceUsage:       true,
		PersistentPreRunE:  initLogging,
		PersistentPostRunE: closeLogging,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.concierge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Concierge v%s\n", version)
		},
	})

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initLogging configures zerolog from the config file. The console writer is
// only attached for serve and --verbose so one-shot output stays clean.
func initLogging(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" || cmd.Name() == "keygen" {
		return nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loaded = cfg

	logCloser, err = logging.Setup(logging.Options{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: verbose || cmd.Name() == "serve",
		Verbose: verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	log.Debug().Str("config", configPath()).Str("command", cmd.Name()).Msg("concierge started")
	return nil
}

func closeLogging(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// loadConfig reads --config or the default location, once per process.
func loadConfig() (*config.Config, error) {
	if loaded != nil {
		return loaded, nil
	}
	var (
		cfg *config.Config
		err error
	)
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return "~/.concierge/config.yaml"
}
