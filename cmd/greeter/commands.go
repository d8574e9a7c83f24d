package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tcmartin/greeter/pkg/api"
	"github.com/tcmartin/greeter/pkg/config"
	"github.com/tcmartin/greeter/pkg/logging"
	"github.com/tcmartin/greeter/pkg/utils"
)

// serveOptions holds the flags of the serve command
type serveOptions struct {
	configPath string
	host       string
	port       int
	message    string
	logLevel   string
}

// configLocations are searched in order when no --config is given
var configLocations = []string{
	"./config.json",
	"./config.yaml",
	"./configs/config.json",
	"./configs/config.yaml",
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	rootCmd := &cobra.Command{
		Use:           AppName,
		Short:         "Greeting HTTP server",
		Long:          "Serves a fixed greeting on GET / and logs every access",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	addServeFlags(rootCmd, opts)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the greeting server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	addServeFlags(serveCmd, opts)

	rootCmd.AddCommand(serveCmd, newProbeCmd(), newConfigCmd(), newVersionCmd())
	return rootCmd
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to config file (JSON or YAML)")
	cmd.Flags().StringVar(&opts.host, "host", "", "Host to bind to")
	cmd.Flags().IntVar(&opts.port, "port", config.DefaultPort, "Port to listen on")
	cmd.Flags().StringVar(&opts.message, "message", config.DefaultMessage, "Greeting returned by GET /")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// resolveConfig builds the effective configuration. Later sources win:
// defaults, config file, environment, flags.
func resolveConfig(cmd *cobra.Command, opts *serveOptions) (*config.Config, error) {
	var cfg *config.Config

	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", opts.configPath, err)
		}
		cfg = loaded
	} else {
		for _, path := range configLocations {
			if loaded, err := config.LoadConfig(path); err == nil {
				cfg = loaded
				break
			}
		}
		if cfg == nil {
			cfg = config.DefaultConfig()
		}
	}

	config.ApplyEnv(cfg)

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("message") {
		cfg.Greeting.Message = opts.message
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(logging.LogConfig{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		Output:           cfg.Logging.Output,
		IncludeTimestamp: true,
	})
	if err != nil {
		return err
	}

	// Failures are returned to main, which reports them on stderr. Stdout
	// carries only the startup line and access notices at info level.
	server := api.NewServer(cfg, logger)
	if err := server.Listen(); err != nil {
		return err
	}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve()
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Debug("Shutting down gracefully...", logging.F("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		return <-errCh
	}
}

func newProbeCmd() *cobra.Command {
	var serverURL string
	var timeout time.Duration
	var verbose bool

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Fetch the greeting from a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := utils.NewHTTPClient()
			client.SetTimeout(timeout)

			resp, err := client.FetchGreeting(cmd.Context(), serverURL)
			if err != nil {
				return err
			}
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "status=%d duration=%s\n", resp.StatusCode, resp.Duration)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Body)
			return nil
		},
	}

	probeCmd.Flags().StringVar(&serverURL, "server", fmt.Sprintf("http://localhost:%d", config.DefaultPort), "Server URL")
	probeCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	probeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print status and request duration to stderr")
	return probeCmd
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(".", "config.json")
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created default configuration at %s\n", path)
			return nil
		},
	}

	configCmd.AddCommand(initCmd)
	return configCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", AppName, AppVersion)
		},
	}
}
