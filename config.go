package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/relaydraw/games/relay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

type Config struct {
	bind             string
	chatBurst        int
	chatRate         float64
	configFile       string
	dropDisabledChat bool
	gracePeriod      time.Duration
	maxMessageSize   int64
	maxRounds        int
	port             int
	prefix           string
	profile          bool
	roundCount       int
	sessionTimeout   time.Duration
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.gracePeriod <= 0 {
		return fmt.Errorf("invalid grace period (must be positive): %s", c.gracePeriod)
	}
	if c.maxRounds < 1 {
		return fmt.Errorf("invalid max rounds (must be at least 1): %d", c.maxRounds)
	}
	if c.roundCount < 1 || c.roundCount > c.maxRounds {
		return fmt.Errorf("invalid round count (must be between 1-%d inclusive): %d", c.maxRounds, c.roundCount)
	}
	if c.maxMessageSize < 1024 {
		return fmt.Errorf("invalid max message size (must be at least 1024 bytes): %d", c.maxMessageSize)
	}
	if c.chatRate < 0 {
		return fmt.Errorf("invalid chat rate (must not be negative): %g", c.chatRate)
	}
	if c.chatBurst < 1 {
		return fmt.Errorf("invalid chat burst (must be at least 1): %d", c.chatBurst)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// relayOptions translates the command line into game server options.
// A chat rate of zero disables throttling.
func (c *Config) relayOptions() relay.Options {
	limit := rate.Inf
	if c.chatRate > 0 {
		limit = rate.Limit(c.chatRate)
	}

	return relay.Options{
		GracePeriod:      c.gracePeriod,
		DefaultRounds:    c.roundCount,
		MaxRounds:        c.maxRounds,
		ChatRate:         limit,
		ChatBurst:        c.chatBurst,
		DropDisabledChat: c.dropDisabledChat,
		Logger:           log.Logger,
	}
}

// applyViper copies every value viper knows about onto flags the user did not
// set explicitly.
func applyViper(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func loadConfigFile(v *viper.Viper, fs *pflag.FlagSet, path string) error {
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	applyViper(v, fs)

	log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config file")

	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RELAYDRAW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "relaydraw",
		Short:         "A relay drawing game server: prompts become drawings become captions.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfigFile(v, cmd.Flags(), cfg.configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			if cfg.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: RELAYDRAW_BIND)")
	fs.IntVar(&cfg.chatBurst, "chat-burst", 5, "chat messages a player may send back to back (env: RELAYDRAW_CHAT_BURST)")
	fs.Float64Var(&cfg.chatRate, "chat-rate", 1, "sustained chat messages per second per player, 0 to disable (env: RELAYDRAW_CHAT_RATE)")
	fs.StringVarP(&cfg.configFile, "config", "c", "", "path to a yaml config file (env: RELAYDRAW_CONFIG)")
	fs.BoolVar(&cfg.dropDisabledChat, "drop-disabled-chat", false, "silently drop chat in rooms without chat instead of replying with an error (env: RELAYDRAW_DROP_DISABLED_CHAT)")
	fs.DurationVar(&cfg.gracePeriod, "grace-period", relay.DefaultGracePeriod, "time a dropped player keeps their seat (env: RELAYDRAW_GRACE_PERIOD)")
	fs.Int64Var(&cfg.maxMessageSize, "max-message-size", 4<<20, "largest websocket message accepted, in bytes (env: RELAYDRAW_MAX_MESSAGE_SIZE)")
	fs.IntVar(&cfg.maxRounds, "max-rounds", relay.DefaultMaxRounds, "most rounds a host may ask for (env: RELAYDRAW_MAX_ROUNDS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: RELAYDRAW_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: RELAYDRAW_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: RELAYDRAW_PROFILE)")
	fs.IntVar(&cfg.roundCount, "round-count", relay.DefaultRounds, "rounds played when the host does not choose (env: RELAYDRAW_ROUND_COUNT)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are closed, 0 to never close (env: RELAYDRAW_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: RELAYDRAW_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: RELAYDRAW_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: RELAYDRAW_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: RELAYDRAW_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
	})
	applyViper(v, fs)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("relaydraw v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
