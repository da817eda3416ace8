package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind string
	port int

	maxSessions  int
	tickRate     int
	queueTimeout time.Duration
	gracePeriod  time.Duration

	postgresDSN   string
	tournamentURL string

	logDir     string
	debugLevel string
	version    bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.tickRate < 1 || c.tickRate > 240 {
		return fmt.Errorf("invalid tick rate (must be between 1-240 inclusive): %d", c.tickRate)
	}
	if c.maxSessions < 0 {
		return errors.New("--max-sessions must not be negative")
	}
	return nil
}

func (c *Config) listenAddr() string {
	return fmt.Sprintf("%s:%d", c.bind, c.port)
}

func (c *Config) tickInterval() time.Duration {
	return time.Second / time.Duration(c.tickRate)
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PONGARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "pongarena",
		Short:         "Server-authoritative pong match server with matchmaking.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: PONGARENA_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PONGARENA_PORT)")
	fs.IntVar(&cfg.maxSessions, "max-sessions", 0, "cap on concurrent sessions, 0 for unlimited (env: PONGARENA_MAX_SESSIONS)")
	fs.IntVar(&cfg.tickRate, "tick-rate", 60, "simulation ticks per second (env: PONGARENA_TICK_RATE)")
	fs.DurationVar(&cfg.queueTimeout, "queue-timeout", 2*time.Minute, "time before unpaired lobby tickets are evicted (env: PONGARENA_QUEUE_TIMEOUT)")
	fs.DurationVar(&cfg.gracePeriod, "grace-period", 30*time.Second, "time without tick progress before a session is reaped (env: PONGARENA_GRACE_PERIOD)")
	fs.StringVar(&cfg.postgresDSN, "postgres-dsn", "", "postgres connection string for match results, empty for in-memory (env: PONGARENA_POSTGRES_DSN)")
	fs.StringVar(&cfg.tournamentURL, "tournament-url", "", "base URL of the tournament bracket service (env: PONGARENA_TOURNAMENT_URL)")
	fs.StringVar(&cfg.logDir, "log-dir", "", "directory for log files, empty for stderr only (env: PONGARENA_LOG_DIR)")
	fs.StringVar(&cfg.debugLevel, "debug-level", "info", "log verbosity (env: PONGARENA_DEBUG_LEVEL)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PONGARENA_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("pongarena v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
