// Package main is the Nyaya CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/nyaya/internal/cli"
	"github.com/hyperjump/nyaya/internal/config"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/server"
	"github.com/hyperjump/nyaya/internal/telemetry"
	"github.com/hyperjump/nyaya/internal/translate"
	"github.com/hyperjump/nyaya/internal/watcher"
	"github.com/hyperjump/nyaya/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/nyaya/config.yaml"

var (
	configPath string
	debugFlag  bool

	askServer   string
	askLanguage string
	askSession  string
	askJSON     bool

	rootCmd = &cobra.Command{
		Use:   "nyaya",
		Short: "Grounded answers to questions about labour law",
		Long: `Nyaya answers questions about labour statutes from an indexed corpus of acts,
citing the sections every answer is drawn from.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is normal outside development.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "warning: .env not loaded: %v\n", err)
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and print the grounded answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}

	loadCmd = &cobra.Command{
		Use:   "load [file or directory...]",
		Short: "Load statute sources into the passage index",
		Long:  "Load statute sources into the passage index. Without arguments the configured corpus paths are loaded.",
		RunE:  runLoad,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nyaya %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	askCmd.Flags().StringVar(&askServer, "server", "", "ask a running server at this URL instead of loading the index locally")
	askCmd.Flags().StringVarP(&askLanguage, "language", "l", "", "language of the question (detected when empty)")
	askCmd.Flags().StringVar(&askSession, "session", "", "session id to continue")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the response as JSON")

	rootCmd.AddCommand(serveCmd, askCmd, loadCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory is preferred if it exists, so running from the project dir uses the project's config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewLoggerWithFile(debug, utils.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", zap.Error(err))
		}
	}()

	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	loadCorpus(ctx, c.Index, cfg.Corpus.Paths, logger)
	saveVectors(c.Index, cfg.Storage.VectorIndexPath, logger)

	if cfg.Corpus.Watch && len(cfg.Corpus.Paths) > 0 {
		w := corpusWatcher(ctx, c.Index, cfg, logger)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start corpus watcher: %w", err)
		}
		defer w.Stop()
	}
	if cfg.Translate.WatchGlossary && cfg.Translate.GlossaryPath != "" {
		w := glossaryWatcher(c, cfg.Translate.GlossaryPath, logger)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start glossary watcher: %w", err)
		}
		defer w.Stop()
	}

	go func() {
		if err := c.Engine.Run(ctx); err != nil {
			logger.Error("engine background tasks stopped", zap.Error(err))
		}
	}()

	srv := server.NewServer(c.Engine, c.Metrics.Handler(), &cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	logger.Info("shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		logger.Warn("server stop failed", zap.Error(err))
	}
	cancel()
	saveVectors(c.Index, cfg.Storage.VectorIndexPath, logger)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := buildQuestion(args)
	format := outputFormat(askJSON)

	if askServer != "" {
		resp, err := answerViaHTTP(cmd.Context(), askServer, question, askLanguage, askSession)
		if err != nil {
			return err
		}
		return cli.WriteResponse(cmd.OutOrStdout(), resp, format)
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	if n, _ := c.Index.Hybrid.Count(ctx); n == 0 {
		loadCorpus(ctx, c.Index, cfg.Corpus.Paths, logger)
		saveVectors(c.Index, cfg.Storage.VectorIndexPath, logger)
	}

	resp := c.Engine.Answer(ctx, models.NewQuery(question, askLanguage, askSession))
	return cli.WriteResponse(cmd.OutOrStdout(), &resp, format)
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	paths := cfg.Corpus.Paths
	if len(args) > 0 {
		paths = absPaths(args)
	}
	if len(paths) == 0 {
		return errors.New("no corpus paths given and none configured")
	}

	idx, err := initializeIndex(cfg, logger)
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx := context.Background()
	n, loadErr := idx.Indexer.Load(ctx, paths)
	saveVectors(idx, cfg.Storage.VectorIndexPath, logger)
	total, _ := idx.Hybrid.Count(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d passages from %d source(s); index holds %d passages\n",
		n, len(idx.Indexer.Loaded()), total)
	return loadErr
}

func loadCorpus(ctx context.Context, idx *Index, paths []string, logger *zap.Logger) {
	if len(paths) == 0 {
		logger.Warn("no corpus paths configured; answers will only come from an existing index")
		return
	}
	n, err := idx.Indexer.Load(ctx, paths)
	if err != nil {
		logger.Warn("corpus load had errors", zap.Error(err))
	}
	logger.Info("corpus loaded", zap.Int("passages", n), zap.Int("sources", len(idx.Indexer.Loaded())))
}

func saveVectors(idx *Index, path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := idx.Hybrid.SaveVectors(path); err != nil {
		logger.Warn("vector index save failed", zap.String("path", path), zap.Error(err))
	}
}

func corpusWatcher(ctx context.Context, idx *Index, cfg *config.Config, logger *zap.Logger) *watcher.Watcher {
	w := watcher.New(
		func(path string) {
			if _, err := idx.Indexer.LoadFile(ctx, path); err != nil {
				logger.Warn("reload failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
		watcher.WithExtensions(cfg.Corpus.Extensions...),
		watcher.OnRemove(func(path string) {
			if err := idx.Indexer.RemoveFile(ctx, path); err != nil {
				logger.Warn("remove failed", zap.String("path", path), zap.Error(err))
			}
		}),
	)
	for _, p := range cfg.Corpus.Paths {
		info, err := os.Stat(p)
		if err != nil {
			logger.Warn("corpus path not watched", zap.String("path", p), zap.Error(err))
			continue
		}
		if info.IsDir() {
			err = w.AddDirectory(p)
		} else {
			err = w.AddFile(p)
		}
		if err != nil {
			logger.Warn("corpus path not watched", zap.String("path", p), zap.Error(err))
		}
	}
	return w
}

func glossaryWatcher(c *Components, path string, logger *zap.Logger) *watcher.Watcher {
	w := watcher.New(func(p string) {
		g, err := translate.LoadGlossary(p)
		if err != nil {
			logger.Warn("glossary reload failed, keeping previous glossary", zap.String("path", p), zap.Error(err))
			return
		}
		c.applyGlossary(g)
		logger.Info("glossary reloaded", zap.String("path", p))
	}, watcher.WithLogger(logger))
	if err := w.AddFile(path); err != nil {
		logger.Warn("glossary not watched", zap.String("path", path), zap.Error(err))
	}
	return w
}

// buildQuestion joins positional args so quoting the question is optional.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func outputFormat(asJSON bool) cli.OutputFormat {
	if asJSON {
		return cli.OutputJSON
	}
	return cli.OutputText
}

func absPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		out = append(out, p)
	}
	return out
}

type answerBody struct {
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// answerViaHTTP posts the question to a running server. Busy and unavailable replies carry a
// response body and are returned as responses, not errors.
func answerViaHTTP(ctx context.Context, serverURL, text, language, sessionID string) (*models.LegalResponse, error) {
	body, err := json.Marshal(answerBody{Text: text, Language: language, SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(serverURL, "/")+"/api/v1/answer", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusTooManyRequests, http.StatusServiceUnavailable:
	default:
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out models.LegalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
