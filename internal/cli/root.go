package cli

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radresearch/caseagent/internal/config"
	"github.com/radresearch/caseagent/internal/logger"
	"github.com/radresearch/caseagent/internal/metrics"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "caseagent",
	Short: "Caseagent - LLM research agent over a clinical case database",
	Long: `Caseagent runs an LLM-driven research agent over a radiology case
database. The agent plans its research, searches and reads cases through
shell tools, and terminates by submitting a structured final answer. Every
step is recorded in a resumable session shared across processes.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.caseagent/agent.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the configuration honoring the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging config
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
}

// newQuietLogger builds a file-only logger. Commands the agent shells out to
// use it: their stderr is what the agent reads as the tool error, so console
// logging must stay off no matter what the config says.
func newQuietLogger(cfg *config.Config) (*logger.Logger, error) {
	quiet := *cfg
	quiet.Logging.Console = false
	return newLogger(&quiet)
}

// serveMetrics exposes the Prometheus registry over HTTP until the process
// exits
func serveMetrics(listen string, m *metrics.Metrics, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	logger.Info().Str("listen", listen).Msg("Serving Prometheus metrics")
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Warn().Err(err).Msg("Metrics server stopped")
	}
}
