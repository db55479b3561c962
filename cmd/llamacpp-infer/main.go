// llamacpp-infer runs prompts through a llama.cpp server and prints one JSON line
// per prompt. Prompts are taken from the arguments, or from stdin one per line.
//
// Every flag can also be set through the environment with the LLAMACPP_ prefix
// (for example LLAMACPP_API_BASE for --api-base). A .env file is loaded first
// when present.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mozilla-ai/langextract-llamacpp/inference"
	_ "github.com/mozilla-ai/langextract-llamacpp/providers/llamacpp"
)

const (
	appName         = "llamacpp-infer"
	envPrefix       = "LLAMACPP"
	defaultProvider = "llamacpp"
)

// Flag names, also the viper keys.
const (
	flagAPIBase      = "api-base"
	flagAPIKey       = "api-key"
	flagEnvFile      = "env-file"
	flagLogFormat    = "log-format"
	flagLogLevel     = "log-level"
	flagMaxTokens    = "max-tokens"
	flagModel        = "model"
	flagProvider     = "provider"
	flagSchema       = "schema"
	flagSystemPrompt = "system-prompt"
	flagTemperature  = "temperature"
	flagTimeout      = "timeout"
	flagTopP         = "top-p"
)

var (
	errNoPrompts       = stderrors.New("no prompts given")
	errNoSchemaSupport = stderrors.New("model does not support structured output")
)

// result is one output line.
type result struct {
	Index   int                      `json:"index"`
	Prompt  string                   `json:"prompt"`
	Outputs []inference.ScoredOutput `json:"outputs"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !stderrors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	flags := newFlagSet(stderr)
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := loadEnvFile(flags); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	logger, err := newLogger(v.GetString(flagLogLevel), v.GetString(flagLogFormat), stderr)
	if err != nil {
		return err
	}
	ctx = logger.WithContext(ctx)

	prompts, err := readPrompts(flags.Args(), stdin)
	if err != nil {
		return err
	}

	cfg := modelConfig(v)
	logger.Debug().Str("model", cfg.ModelID).Str("provider", cfg.Provider).Int("prompts", len(prompts)).Msg("creating model")

	model, err := inference.CreateModel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating model: %w", err)
	}

	if path := v.GetString(flagSchema); path != "" {
		if err := applySchema(model, path); err != nil {
			return err
		}
	}

	var opts []inference.InferOption
	if v.IsSet(flagTopP) {
		opts = append(opts, inference.WithTopP(v.GetFloat64(flagTopP)))
	}

	enc := json.NewEncoder(stdout)
	i := 0
	for outputs, err := range model.Infer(ctx, prompts, opts...) {
		if err != nil {
			return fmt.Errorf("prompt %d: %w", i, err)
		}
		if err := enc.Encode(result{Index: i, Prompt: prompts[i], Outputs: outputs}); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
		i++
	}

	logger.Info().Int("prompts", len(prompts)).Msg("inference finished")
	return nil
}

func newFlagSet(output io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	flags.SetOutput(output)
	flags.Usage = func() {
		fmt.Fprintf(output, "Usage: %s [flags] [prompt...]\n\n", appName)
		flags.PrintDefaults()
	}

	flags.String(flagAPIBase, "", "llama.cpp server base URL (default http://127.0.0.1:8080/v1)")
	flags.String(flagAPIKey, "", "API key, if the server was started with --api-key")
	flags.String(flagEnvFile, ".env", "dotenv file loaded before reading the environment")
	flags.String(flagLogFormat, "console", "log format: console or json")
	flags.String(flagLogLevel, "info", "log level")
	flags.Int(flagMaxTokens, 32768, "maximum number of generated tokens")
	flags.String(flagModel, "", "model ID; the first model served is used when empty")
	flags.String(flagProvider, "", "registered provider name; resolved from --model when empty")
	flags.String(flagSchema, "", "path to a JSON schema constraining the output")
	flags.String(flagSystemPrompt, "", "system message sent before every prompt")
	flags.Float64(flagTemperature, 0.6, "sampling temperature")
	flags.Duration(flagTimeout, 0, "HTTP timeout per request; 0 means no timeout")
	flags.Float64(flagTopP, 0, "nucleus sampling threshold; sent only when set")

	return flags
}

// loadEnvFile loads the dotenv file named by --env-file. A missing file is ignored.
func loadEnvFile(flags *pflag.FlagSet) error {
	path, err := flags.GetString(flagEnvFile)
	if err != nil || path == "" {
		return err
	}

	if err := godotenv.Load(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func newLogger(level string, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format %q", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Str("app", appName).Logger(), nil
}

// readPrompts returns args, or the non-blank lines of stdin when args is empty.
func readPrompts(args []string, stdin io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}

	var prompts []string
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading prompts: %w", err)
	}
	if len(prompts) == 0 {
		return nil, errNoPrompts
	}
	return prompts, nil
}

// modelConfig maps the resolved settings to registry kwargs.
func modelConfig(v *viper.Viper) inference.ModelConfig {
	cfg := inference.ModelConfig{
		ModelID:  v.GetString(flagModel),
		Provider: v.GetString(flagProvider),
		ProviderKwargs: map[string]any{
			"max_tokens":  v.GetInt(flagMaxTokens),
			"temperature": v.GetFloat64(flagTemperature),
			"timeout":     v.GetDuration(flagTimeout),
		},
	}
	if cfg.ModelID == "" && cfg.Provider == "" {
		cfg.Provider = defaultProvider
	}

	optional := map[string]string{
		"api_base":      flagAPIBase,
		"api_key":       flagAPIKey,
		"system_prompt": flagSystemPrompt,
	}
	for key, flag := range optional {
		if s := v.GetString(flag); s != "" {
			cfg.ProviderKwargs[key] = s
		}
	}

	return cfg
}

// applySchema reads a JSON schema file and applies it to model.
func applySchema(model inference.LanguageModel, path string) error {
	applier, ok := model.(inference.SchemaApplier)
	if !ok {
		return errNoSchemaSupport
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	var definition map[string]any
	if err := json.Unmarshal(data, &definition); err != nil {
		return fmt.Errorf("parsing schema %s: %w", path, err)
	}

	schema, err := applier.SchemaFactory()(definition)
	if err != nil {
		return fmt.Errorf("invalid schema %s: %w", path, err)
	}
	applier.ApplySchema(schema)
	return nil
}
