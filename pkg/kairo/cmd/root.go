package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/kairo-dev/kairo/pkg/kairo/auth"
	"github.com/kairo-dev/kairo/pkg/kairo/client"
	"github.com/kairo-dev/kairo/pkg/kairo/config"
	"github.com/kairo-dev/kairo/pkg/kairo/output"
	"github.com/kairo-dev/kairo/pkg/system"
)

type Config struct {
	ConfigPath   string
	TokenPath    string
	OutputWriter io.Writer
	ErrorWriter  io.Writer
	Input        io.Reader
}

type runtimeState struct {
	configPath           string
	tokenPath            string
	cfg                  *config.Config
	outputFormat         string
	tokenStorageOverride string
	nonInteractive       bool
	verbose              bool
	writer               io.Writer
	errWriter            io.Writer
	input                io.Reader
	in                   *bufio.Reader
	log                  *zap.SugaredLogger
	client               *client.Client

	// Seams replaced in tests.
	interactive func() bool
	openBrowser func(url string) error
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		TokenPath:    config.DefaultTokenPath(),
		OutputWriter: os.Stdout,
		ErrorWriter:  os.Stderr,
		Input:        os.Stdin,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		tokenPath:  cfg.TokenPath,
		writer:     cfg.OutputWriter,
		errWriter:  cfg.ErrorWriter,
		input:      cfg.Input,
	}

	root := &cobra.Command{
		Use:           "kairo",
		Short:         "Kairo CLI",
		Long:          "Kairo CLI authenticates against a Kairo auth server using the OAuth 2.0 device authorization grant.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.tokenPath == "" {
				rt.tokenPath = config.DefaultTokenPath()
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("KAIRO_OUTPUT")
			}
			if rt.tokenStorageOverride == "" {
				rt.tokenStorageOverride = os.Getenv("KAIRO_TOKEN_STORAGE")
			}
			if !rt.nonInteractive {
				rt.nonInteractive = strings.EqualFold(os.Getenv("KAIRO_NON_INTERACTIVE"), "true")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("KAIRO_VERBOSE"), "true")
			}
			if rt.log == nil {
				logger, err := system.NewLogger(rt.verbose)
				if err != nil {
					return fmt.Errorf("failed to set up logger: %w", err)
				}
				rt.log = logger.Sugar()
			}

			// Skip config loading for commands that don't need it
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.EnsureConfigLoaded()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: file or keychain")
	root.PersistentFlags().BoolVar(&rt.nonInteractive, "non-interactive", false, "Never prompt; take the non-interactive default")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging on stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newWhoamiCommand(),
		newStatusCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

// ExecuteContext runs root under ctx, keeping the runtime attached by
// NewRootCommand. Failures are reported on the error writer with a hint.
func ExecuteContext(ctx context.Context, root *cobra.Command) error {
	rt, ok := root.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok {
		return errors.New("runtime not initialized")
	}
	err := root.ExecuteContext(context.WithValue(ctx, runtimeKey{}, rt))
	if err != nil {
		_, _ = fmt.Fprintf(rt.ErrWriter(), "Error: %v\n", err)
		if hint := auth.Hint(err); hint != "" {
			_, _ = fmt.Fprintln(rt.ErrWriter(), hint)
		}
	}
	if rt.log != nil {
		_ = rt.log.Sync()
	}
	return err
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.LoadOrDefault(rt.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", rt.configPath, err)
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	if rt.log != nil {
		return rt.log
	}
	return zap.NewNop().Sugar()
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	if rt.outputFormat != "" {
		return output.ParseFormat(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.ParseFormat(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable, nil
}

func (rt *runtimeState) TokenStorage() string {
	if rt.tokenStorageOverride != "" {
		return rt.tokenStorageOverride
	}
	if rt.cfg != nil && rt.cfg.Settings.TokenStorage != "" {
		return rt.cfg.Settings.TokenStorage
	}
	return ""
}

func (rt *runtimeState) TokenStore() (*auth.TokenStore, error) {
	mode, err := auth.ParseStorageMode(rt.TokenStorage())
	if err != nil {
		return nil, err
	}
	return &auth.TokenStore{
		Path: rt.tokenPath,
		Mode: mode,
		Log:  rt.Logger(),
		Now:  rt.now,
	}, nil
}

// Client returns the process-wide HTTP client, building it on first use.
func (rt *runtimeState) Client(resolved config.Resolved) (*client.Client, error) {
	if rt.client != nil {
		return rt.client, nil
	}
	if err := resolved.ValidateServer(); err != nil {
		return nil, err
	}
	c, err := client.New(
		client.WithServer(resolved.ServerURL),
		client.WithBasePath(resolved.BasePath),
		client.WithTLSConfig(resolved.CAFile, resolved.InsecureSkipTLSVerify),
		client.WithLogger(rt.Logger()),
	)
	if err != nil {
		return nil, err
	}
	rt.client = c
	return c, nil
}

// Interactive reports whether prompts can be shown.
func (rt *runtimeState) Interactive() bool {
	if rt.nonInteractive || (rt.cfg != nil && rt.cfg.Settings.NonInteractive) {
		return false
	}
	if rt.interactive != nil {
		return rt.interactive()
	}
	f, ok := rt.input.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (rt *runtimeState) currentTime() time.Time {
	if rt.now != nil {
		return rt.now()
	}
	return time.Now()
}
