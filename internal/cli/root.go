package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"quiz-squad/internal/config"
)

// rootFlags are shared by every subcommand. Each can also be set through a
// QUIZSQUAD_* environment variable.
type rootFlags struct {
	configPath  string
	addr        string
	logLevel    string
	broker      string
	redisAddr   string
	postgresURL string
	amqpURL     string
	authSecret  string
	genaiKey    string
}

// Execute runs the CLI.
func Execute() error {
	// a missing .env is normal outside development
	_ = godotenv.Load()
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	v := viper.New()
	v.SetEnvPrefix("QUIZSQUAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quiz-squad",
		Short:         "Realtime relay and headless client for Quiz Squad rooms",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVar(&flags.configPath, "config", "config/config.yaml", "path to YAML config (env: QUIZSQUAD_CONFIG)")
	fs.StringVar(&flags.addr, "addr", "", "listen address, overrides server.addr (env: QUIZSQUAD_ADDR)")
	fs.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (env: QUIZSQUAD_LOG_LEVEL)")
	fs.StringVar(&flags.broker, "broker", "", "channel broker: memory, redis or amqp (env: QUIZSQUAD_BROKER)")
	fs.StringVar(&flags.redisAddr, "redis-addr", "", "redis address (env: QUIZSQUAD_REDIS_ADDR)")
	fs.StringVar(&flags.postgresURL, "postgres-url", "", "postgres connection url (env: QUIZSQUAD_POSTGRES_URL)")
	fs.StringVar(&flags.amqpURL, "amqp-url", "", "rabbitmq url (env: QUIZSQUAD_AMQP_URL)")
	fs.StringVar(&flags.authSecret, "auth-secret", "", "token signing secret (env: QUIZSQUAD_AUTH_SECRET)")
	fs.StringVar(&flags.genaiKey, "genai-api-key", "", "Gemini API key (env: QUIZSQUAD_GENAI_API_KEY)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(NewStartCmd(flags))
	cmd.AddCommand(NewMigrateCmd(flags))
	cmd.AddCommand(NewSeedCmd(flags))
	cmd.AddCommand(NewBotCmd(flags))
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

// load reads the YAML file and applies flag and env overrides on top.
func (f *rootFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}
	override := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	override(&cfg.Server.Addr, f.addr)
	override(&cfg.Log.Level, f.logLevel)
	override(&cfg.Broker.Backend, f.broker)
	override(&cfg.Redis.Addr, f.redisAddr)
	override(&cfg.Postgres.URL, f.postgresURL)
	override(&cfg.AMQP.URL, f.amqpURL)
	override(&cfg.Auth.Secret, f.authSecret)
	override(&cfg.GenAI.APIKey, f.genaiKey)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
	return logger
}
