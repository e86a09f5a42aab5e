package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/compiler"
	"github.com/pendergraft/contradeploy/internal/config"
	"github.com/pendergraft/contradeploy/internal/explorer"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/pipeline"
	"github.com/pendergraft/contradeploy/internal/plan"
	"github.com/pendergraft/contradeploy/internal/storage"
	"github.com/pendergraft/contradeploy/internal/suite"
	"github.com/pendergraft/contradeploy/internal/verification"
)

// ErrNoPrivateKey is returned when PRIVATE_KEY is unset and there is no
// terminal to prompt on.
var ErrNoPrivateKey = errors.New("PRIVATE_KEY is not set")

// stdin is where the private key prompt reads from.
var stdin = os.Stdin

// env is what every command needs before it can do any work.
type env struct {
	cfg      *config.Config
	plan     *config.Plan
	planPath string
	table    plan.Table
	logger   *slog.Logger
}

func loadEnv(stderr io.Writer) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg, stderr)
	metrics.Init(cfg.Metrics.Enabled, "contradeploy")

	e := &env{cfg: cfg, logger: logger}
	if e.planPath, err = config.FindPlan(".", planFile); err != nil {
		return nil, err
	}
	if e.plan, err = config.LoadPlan(e.planPath); err != nil {
		return nil, err
	}
	if e.table, err = e.plan.Table(); err != nil {
		return nil, err
	}
	logger.Debug("plan loaded", "path", e.planPath, "network", e.plan.Network, "contracts", len(e.table))
	return e, nil
}

func setupLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// privateKey returns PRIVATE_KEY, prompting for it without echo when stdin
// is a terminal.
func privateKey(cfg *config.Config, in *os.File, out io.Writer) (string, error) {
	if cfg.Chain.PrivateKey != "" {
		return cfg.Chain.PrivateKey, nil
	}

	stdinFd := int(in.Fd())
	if !term.IsTerminal(stdinFd) {
		return "", ErrNoPrivateKey
	}
	fmt.Fprint(out, "Enter deployer private key: ")
	byteKey, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read private key: %w", err)
	}
	key := strings.TrimSpace(string(byteKey))
	if key == "" {
		return "", ErrNoPrivateKey
	}
	return key, nil
}

// openHistory opens the run history store. It returns nil when storage is
// disabled.
func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage.Type == "none" {
		return nil, nil
	}
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func (e *env) explorer() *explorer.Client {
	url := e.cfg.Explorer.URL
	if url == "" {
		url = explorer.BaseURL(e.plan.Network)
	}
	return explorer.New(url, e.cfg.Explorer.APIKey, explorer.WithRateLimit(e.cfg.Explorer.RequestsPerSecond))
}

func (e *env) compiler() *compiler.Compiler {
	return compiler.New(compiler.Solc{Path: e.cfg.Compiler.SolcPath}, compiler.Settings{OptimizerRuns: e.plan.OptimizerRuns}, e.logger)
}

func (e *env) pipelineOptions() pipeline.Options {
	return pipeline.Options{
		LibraryRoot:     e.plan.LibraryRoot,
		ContractRoot:    e.plan.ContractRoot,
		StripWhitespace: e.plan.StripExcessWhitespace,
		SaveFlattened:   e.plan.SaveFlattenedContracts,
		FlattenedFolder: e.plan.FlattenedContractsFolder,
		Libraries:       e.plan.Libraries,
		Network:         e.plan.Network,
		Verify: verification.Options{
			Enabled:           e.plan.VerifyContracts,
			Exempt:            e.plan.SkipVerification,
			NoConstructorArgs: suite.NoConstructorArgs,
			CompilerVersion:   chains.EVMCompiler{Version: e.plan.CompilerVersion}.ExplorerVersion(),
			OptimizerRuns:     e.plan.OptimizerRuns,
			PollInterval:      e.cfg.Verify.PollInterval,
			MaxPolls:          e.cfg.Verify.MaxPolls,
		},
	}
}
