package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/BTreeMap/NutriNest/internal/api"
	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/BTreeMap/NutriNest/internal/messaging"
	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/rules"
	"github.com/BTreeMap/NutriNest/internal/store"
	"github.com/BTreeMap/NutriNest/internal/twiliowhatsapp"
	"github.com/BTreeMap/NutriNest/internal/util"
	"github.com/BTreeMap/NutriNest/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for NutriNest state data
	DefaultStateDir = "/var/lib/nutrinest"
	// DefaultAppDBFileName is the default SQLite database for profiles and sessions
	DefaultAppDBFileName = "nutrinest.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the WhatsApp session
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultRateLimit is the default number of inbound messages per phone per minute
	DefaultRateLimit = 20
	// DefaultChatPhone identifies the local chat user
	DefaultChatPhone = "10000000000"
)

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	RedisURL         string
	WhatsAppDSN      string
	OpenAIKey        string
	OpenAIBaseURL    string
	OpenAIModel      string
	APIAddr          string
	FoodRulesPath    string
	Provider         string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string
	RateLimit        int
	NumericCode      bool
	LogLevel         string
	LogFormat        string
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("loadEnvironmentConfig: no .env file loaded", "error", err)
	}

	config := Config{
		StateDir:         util.GetEnv("NUTRINEST_STATE_DIR", DefaultStateDir),
		DatabaseURL:      util.GetEnv("DATABASE_URL", ""),
		RedisURL:         util.GetEnv("REDIS_URL", ""),
		WhatsAppDSN:      util.GetEnv("WHATSAPP_DB_DSN", ""),
		OpenAIKey:        util.GetEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    util.GetEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:      util.GetEnv("OPENAI_MODEL", genai.DefaultModel),
		APIAddr:          util.GetEnv("API_ADDR", api.DefaultAddr),
		FoodRulesPath:    util.GetEnv("FOOD_RULES_PATH", ""),
		Provider:         strings.ToLower(util.GetEnv("MESSAGING_PROVIDER", api.ProviderNone)),
		TwilioAccountSID: util.GetEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  util.GetEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:       util.GetEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWebhookURL: util.GetEnv("TWILIO_WEBHOOK_URL", ""),
		RateLimit:        util.ParseIntEnv("RATE_LIMIT_PER_MINUTE", DefaultRateLimit),
		NumericCode:      util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		LogLevel:         util.GetEnv("NUTRINEST_LOG_LEVEL", "info"),
		LogFormat:        util.GetEnv("NUTRINEST_LOG_FORMAT", "text"),
	}
	config.resolveDSNs()
	return config
}

// resolveDSNs fills database defaults under the state directory.
func (c *Config) resolveDSNs() {
	if c.DatabaseURL == "" && c.RedisURL != "" {
		c.DatabaseURL = c.RedisURL
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultAppDBFileName)
	}
	if c.WhatsAppDSN == "" {
		c.WhatsAppDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// initializeLogger installs the default slog handler.
func initializeLogger(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q (use text or json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// ensureDirectoriesExist creates the state directory and the parent of a file-based DSN.
func ensureDirectoriesExist(config Config) error {
	dirs := []string{config.StateDir}
	if store.DetectDSNType(config.DatabaseURL) == store.DSNTypeSQLite {
		dirs = append(dirs, filepath.Dir(config.DatabaseURL))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config, qrOutput string) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDSN)}
	if qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(qrOutput))
	}
	if config.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(config.TwilioFrom),
	}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(config Config) []store.Option {
	switch store.DetectDSNType(config.DatabaseURL) {
	case store.DSNTypePostgres:
		slog.Debug("buildStoreOptions: using PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(config.DatabaseURL)}
	case store.DSNTypeRedis:
		slog.Debug("buildStoreOptions: using Redis store")
		return []store.Option{store.WithRedisURL(config.DatabaseURL)}
	default:
		slog.Debug("buildStoreOptions: using SQLite store", "path", config.DatabaseURL)
		return []store.Option{store.WithSQLiteDSN(config.DatabaseURL)}
	}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	var genaiOpts []genai.Option
	if config.OpenAIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(config.OpenAIKey))
	}
	if config.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	if config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.OpenAIModel))
	}
	return genaiOpts
}

// buildRulesOptions constructs rule engine options
func buildRulesOptions(config Config) []rules.Option {
	if config.FoodRulesPath == "" {
		return nil
	}
	return []rules.Option{rules.WithRulesPath(config.FoodRulesPath)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config) []api.Option {
	apiOpts := []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithMessagingProvider(config.Provider),
		api.WithRateLimit(config.RateLimit),
		api.WithStateDir(config.StateDir),
	}
	if config.TwilioAuthToken != "" && config.TwilioWebhookURL != "" {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(config.TwilioAuthToken, config.TwilioWebhookURL))
	}
	return apiOpts
}

// buildModules collects every module's options.
func buildModules(config Config, qrOutput string) api.Modules {
	return api.Modules{
		WhatsApp: buildWhatsAppOptions(config, qrOutput),
		Twilio:   buildTwilioOptions(config),
		Store:    buildStoreOptions(config),
		GenAI:    buildGenAIOptions(config),
		Rules:    buildRulesOptions(config),
		API:      buildAPIOptions(config),
	}
}

// newRootCmd builds the command tree over config; flags override it.
func newRootCmd(config *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "nutrinest",
		Short:         "NutriNest - WhatsApp baby nutrition assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("state-dir") {
				// Derived defaults follow an overridden state directory.
				env := loadEnvironmentConfigWithStateDir(config.StateDir)
				if !cmd.Flags().Changed("db-dsn") {
					config.DatabaseURL = env.DatabaseURL
				}
				config.WhatsAppDSN = env.WhatsAppDSN
			}
			return initializeLogger(cmd.ErrOrStderr(), config.LogLevel, config.LogFormat)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for NutriNest data (overrides $NUTRINEST_STATE_DIR)")
	pf.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "SQLite path, Postgres DSN or Redis URL (overrides $DATABASE_URL / $REDIS_URL)")
	pf.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	pf.StringVar(&config.OpenAIModel, "openai-model", config.OpenAIModel, "chat model (overrides $OPENAI_MODEL)")
	pf.StringVar(&config.FoodRulesPath, "rules", config.FoodRulesPath, "food rules YAML (overrides $FOOD_RULES_PATH)")
	pf.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error (overrides $NUTRINEST_LOG_LEVEL)")
	pf.StringVar(&config.LogFormat, "log-format", config.LogFormat, "text or json (overrides $NUTRINEST_LOG_FORMAT)")

	root.AddCommand(newServeCmd(config), newChatCmd(config), newRulesCmd(config))
	return root
}

// loadEnvironmentConfigWithStateDir recomputes derived DSNs for stateDir.
func loadEnvironmentConfigWithStateDir(stateDir string) Config {
	c := Config{
		StateDir:    stateDir,
		DatabaseURL: util.GetEnv("DATABASE_URL", util.GetEnv("REDIS_URL", "")),
		WhatsAppDSN: util.GetEnv("WHATSAPP_DB_DSN", ""),
	}
	c.resolveDSNs()
	return c
}

func newServeCmd(config *Config) *cobra.Command {
	var qrOutput string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured WhatsApp transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureDirectoriesExist(*config); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			slog.Info("serve: bootstrapping NutriNest", "provider", config.Provider, "api_addr", config.APIAddr, "state_dir", config.StateDir)
			return api.Run(ctx, buildModules(*config, qrOutput))
		},
	}
	f := cmd.Flags()
	f.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	f.StringVar(&config.Provider, "provider", config.Provider, "messaging provider: whatsapp, twilio or none (overrides $MESSAGING_PROVIDER)")
	f.IntVar(&config.RateLimit, "rate-limit", config.RateLimit, "inbound messages per phone per minute, 0 disables (overrides $RATE_LIMIT_PER_MINUTE)")
	f.StringVar(&qrOutput, "qr-output", "", "path to write the WhatsApp login QR code")
	f.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "use a numeric WhatsApp login code instead of a QR code")
	return cmd
}

func newChatCmd(config *Config) *cobra.Command {
	var phone, message string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to NutriNest from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureDirectoriesExist(*config); err != nil {
				return err
			}
			app, err := api.NewApp(buildModules(*config, ""), nil)
			if err != nil {
				return err
			}
			defer app.Close()
			rh := messaging.NewResponseHandler(nil, app.Router)
			if message != "" {
				return chatOnce(cmd.Context(), rh, phone, message, cmd.OutOrStdout())
			}
			return chatREPL(cmd.Context(), rh, phone, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&phone, "phone", DefaultChatPhone, "phone number the messages come from")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	return cmd
}

func chatOnce(ctx context.Context, rh *messaging.ResponseHandler, phone, text string, out io.Writer) error {
	reply, err := rh.Reply(ctx, models.Response{From: phone, Body: text})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, reply)
	return nil
}

// chatREPL reads one message per line until EOF or "exit".
func chatREPL(ctx context.Context, rh *messaging.ResponseHandler, phone string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "NutriNest chat. Type HELP for commands, exit to quit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := chatOnce(ctx, rh, phone, line, out); err != nil {
			return err
		}
	}
}

func newRulesCmd(config *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the food rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective food rules as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := rules.NewEngine(buildRulesOptions(*config)...)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(engine.Config())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "textures AGE_MONTHS",
		Short: "Print the age bucket and allowed textures for an age",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := strconv.Atoi(args[0])
			if err != nil || age < 0 {
				return fmt.Errorf("age must be a non-negative number of months, got %q", args[0])
			}
			engine, err := rules.NewEngine(buildRulesOptions(*config)...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bucket: %s\ntextures: %s\n", engine.AgeBucket(age), strings.Join(engine.AllowedTextures(age), ", "))
			return nil
		},
	})
	return cmd
}

func main() {
	config := loadEnvironmentConfig()
	if err := newRootCmd(&config).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nutrinest:", err)
		os.Exit(1)
	}
}
