package cmd

import (
	"io"
	"log/slog"
	"strings"

	"github.com/GoCodeAlone/servicetree/app"
	"github.com/GoCodeAlone/servicetree/config"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the service tree and serve it over HTTP",
		Long: `Serve loads the configuration (defaults, then the optional config file,
then SERVICETREE_* environment variables), mounts the query service under
the Prediction API root and serves until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			logger := NewLogger(cmd.ErrOrStderr(), cfg.Log)
			logger.Info("Configuration loaded", "config", configPath, "addr", cfg.Server.Addr)

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a yaml or toml config file")
	return cmd
}

// NewLogger builds a slog logger from the log section of the config.
func NewLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
