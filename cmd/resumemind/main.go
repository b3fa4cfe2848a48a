package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/resumemind/internal/command"
	"github.com/nidhogg/resumemind/internal/config"
	"github.com/nidhogg/resumemind/internal/graph"
	"github.com/nidhogg/resumemind/internal/store"
	"github.com/nidhogg/resumemind/internal/ui"
	"github.com/nidhogg/resumemind/internal/vectorstore"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z".
var Version = "0.0.0-dev"

var (
	configPath string
	dataDir    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "resumemind",
	Short: "Build knowledge graphs from resumes with LLM agents",
	Long: `ResumeMind parses resumes, cleans and structures them with a team of LLM
agents, lets you review the extracted relationships and writes them to a
knowledge graph you can question.

Config: ~/.resumemind/config.json
Data:   ~/.resumemind/resumemind.db
Logs:   ~/.resumemind/logs/resumemind.log`,
	Version:       Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (default $RESUMEMIND_CONFIG or ~/.resumemind/config.json)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory holding the database and logs")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("starting resumemind", zap.String("version", Version), zap.String("data_dir", cfg.DataDir))

	cipher, err := store.CipherFromEnv(store.EncryptKeyEnv)
	if err != nil {
		return err
	}
	st, err := store.Shared(cfg.DBPath(), store.WithLogger(logger), store.WithCipher(cipher))
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath(), err)
	}
	defer st.Close()

	con := ui.Stdio()
	g := openGraph(ctx, cfg, logger, con)
	if g != nil {
		defer g.Close(context.WithoutCancel(ctx))
	}

	var index vectorstore.Index
	if cfg.Qdrant.Host != "" {
		qc, err := vectorstore.NewClient(cfg.Qdrant)
		if err != nil {
			con.Warn("Qdrant unavailable (%v). Questions will use graph similarity.", err)
			logger.Warn("qdrant unavailable", zap.Error(err))
		} else {
			defer qc.Close()
			index = qc
		}
	}

	app := command.New(command.Deps{
		Store:   st,
		Console: con,
		Config:  cfg,
		Graph:   g,
		Index:   index,
		Logger:  logger,
		Version: Version,
	})
	return app.Run(ctx)
}

// openGraph connects to the configured graph backend. A backend that cannot
// be reached leaves the session running without graph writes.
func openGraph(ctx context.Context, cfg *config.Config, logger *zap.Logger, con *ui.Console) graph.Store {
	g, err := graph.Open(cfg.Graph, logger)
	if errors.Is(err, graph.ErrDisabled) {
		return nil
	}
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err = g.Ping(pctx); err == nil {
			err = g.EnsureIndexes(pctx)
		}
		if err != nil {
			g.Close(context.WithoutCancel(ctx))
		}
	}
	if err != nil {
		con.Warn("Graph backend %s unavailable (%v). Resumes will not be written to a graph.", cfg.Graph.Backend, err)
		logger.Warn("graph backend unavailable", zap.String("backend", cfg.Graph.Backend), zap.Error(err))
		return nil
	}
	return g
}

// newLogger writes JSON logs to a file so the terminal stays readable.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath()), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{cfg.LogPath()}
	zc.ErrorOutputPaths = []string{cfg.LogPath()}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
