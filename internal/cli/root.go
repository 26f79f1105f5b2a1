// Package cli holds the cobra commands behind cmd/server.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aixiaozi/go-kids-chat/internal/config"
	"github.com/aixiaozi/go-kids-chat/internal/sysutil"
)

// version can be overridden at build time via:
// go build -ldflags "-X github.com/aixiaozi/go-kids-chat/internal/cli.version=1.2.3"
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "AI小子 kids chat backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println(appVersion())
	},
}

func appVersion() string {
	return sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
}

// loadConfig reads .env, then the environment, and sets up the global logger.
func loadConfig() (config.Config, error) {
	if err := config.LoadDotenv(envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
			NoColor:    sysutil.IsTruthy(os.Getenv("NO_COLOR")),
		})
	}
	if _, ok := sysutil.SetLogLevel(cfg.LogLevel); !ok {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
	}
	return cfg, nil
}
