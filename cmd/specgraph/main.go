// Command specgraph indexes API specifications into a graph and serves
// dependency queries over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/specgraph/engine/graph"
	"github.com/WessleyAI/specgraph/engine/indexer"
	"github.com/WessleyAI/specgraph/engine/loader"
	"github.com/WessleyAI/specgraph/pkg/fn"
	"github.com/WessleyAI/specgraph/pkg/mid"
	"github.com/WessleyAI/specgraph/pkg/resilience"
)

// Config holds all environment-based configuration. Command-line flags
// override the environment.
type Config struct {
	Port           string
	SpecPath       string
	Watch          bool
	WatchDebounce  time.Duration
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPass      string
	Neo4jDatabase  string
	ConnectTimeout time.Duration
	BreakerFails   int
	BreakerTimeout time.Duration
	NATSURL        string
	SubjectPrefix  string
	CORSOrigin     string
	RateLimitRPS   float64
	RateLimitBurst int
	LogLevel       slog.Level
}

func loadConfig() Config {
	cfg := Config{
		Port:           envOr("PORT", "8080"),
		SpecPath:       envOr("SPEC_PATH", "./specs"),
		Watch:          envBool("SPEC_WATCH"),
		WatchDebounce:  envDuration("SPEC_WATCH_DEBOUNCE", loader.DefaultDebounce),
		Neo4jURL:       os.Getenv("NEO4J_URL"),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", "password"),
		Neo4jDatabase:  os.Getenv("NEO4J_DATABASE"),
		ConnectTimeout: envDuration("NEO4J_CONNECT_TIMEOUT", 5*time.Second),
		BreakerFails:   envInt("NEO4J_BREAKER_THRESHOLD", 5),
		BreakerTimeout: envDuration("NEO4J_BREAKER_TIMEOUT", 30*time.Second),
		NATSURL:        os.Getenv("NATS_URL"),
		SubjectPrefix:  envOr("NATS_SUBJECT_PREFIX", "specgraph"),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 40),
		LogLevel:       slog.LevelInfo,
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			cfg.LogLevel = lvl
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

// levelFlag adapts slog.Level to pflag.Value.
type levelFlag struct{ l *slog.Level }

func (f levelFlag) String() string     { return f.l.String() }
func (f levelFlag) Set(s string) error { return f.l.UnmarshalText([]byte(s)) }
func (f levelFlag) Type() string       { return "level" }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(loadConfig()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg Config) *cobra.Command {
	serveRun := func(cmd *cobra.Command, _ []string) error {
		logger := newLogger(cfg, os.Stdout)
		if err := serve(cmd.Context(), cfg, logger); err != nil {
			logger.Error("server exited with error", "err", err)
			return err
		}
		return nil
	}

	root := &cobra.Command{
		Use:           "specgraph",
		Short:         "Index API specifications into a dependency graph",
		Long:          "specgraph loads OpenAPI 3 and Swagger 2 documents, indexes them into Neo4j (or memory) and serves dependency queries.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveRun,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&cfg.SpecPath, "specs", cfg.SpecPath, "specification file or directory")
	pf.StringVar(&cfg.Neo4jURL, "neo4j-url", cfg.Neo4jURL, "Neo4j URI; empty uses the in-memory store")
	pf.StringVar(&cfg.Neo4jDatabase, "neo4j-database", cfg.Neo4jDatabase, "Neo4j database name")
	pf.Var(levelFlag{&cfg.LogLevel}, "log-level", "debug, info, warn or error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Index the specifications and serve the query API",
		Args:  cobra.NoArgs,
		RunE:  serveRun,
	}
	for _, c := range []*cobra.Command{root, serveCmd} {
		c.Flags().StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
		c.Flags().BoolVar(&cfg.Watch, "watch", cfg.Watch, "reindex when specification files change")
		c.Flags().StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server for events and query responders")
	}

	indexCmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index specifications once and print the result as JSON",
		Long:  "index loads and indexes the specifications, writes the run result to stdout and exits non-zero if any item failed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.SpecPath = args[0]
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			err := indexOnce(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			if err != nil {
				logger.Error("indexing failed", "spec_path", cfg.SpecPath, "err", err)
			}
			return err
		},
	}

	root.AddCommand(serveCmd, indexCmd)
	return root
}

func newLogger(cfg Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return logger
}

// openStore connects to Neo4j, or falls back to memory on any connection
// failure.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) graph.Store {
	return graph.Open(ctx, graph.Config{
		URI:            cfg.Neo4jURL,
		Username:       cfg.Neo4jUser,
		Password:       cfg.Neo4jPass,
		Database:       cfg.Neo4jDatabase,
		ConnectTimeout: cfg.ConnectTimeout,
		Breaker: resilience.BreakerOpts{
			FailThreshold: cfg.BreakerFails,
			Timeout:       cfg.BreakerTimeout,
		},
	}, logger)
}

func newIndexer(store graph.Store, logger *slog.Logger) *indexer.Indexer {
	return indexer.New(store,
		indexer.WithLogger(logger),
		indexer.WithLoader(loader.New(logger)),
	)
}

// indexOnce runs a single pass and writes its result to out.
func indexOnce(ctx context.Context, cfg Config, logger *slog.Logger, out io.Writer) error {
	store := openStore(ctx, cfg, logger)
	defer store.Close(context.Background())

	res, err := newIndexer(store, logger).LoadAndIndex(ctx, cfg.SpecPath, nil)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%d item(s) failed to index", len(res.Errors))
	}
	return nil
}

func serve(ctx context.Context, cfg Config, logger *slog.Logger) error {
	store := openStore(ctx, cfg, logger)
	defer store.Close(context.Background())

	ix := newIndexer(store, logger)
	srv := newServer(ix, cfg.SpecPath, logger)

	// --- Optional NATS events and query responders ---
	if cfg.NATSURL != "" {
		nc, err := connectNATS(ctx, cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		srv.events = indexer.NewEvents(nc, cfg.SubjectPrefix, logger)
		subs, err := registerResponders(nc, cfg.SubjectPrefix, ix)
		if err != nil {
			return fmt.Errorf("nats responders: %w", err)
		}
		for _, s := range subs {
			defer s.Unsubscribe()
		}
	}

	// --- Initial indexing pass ---
	if _, err := srv.reindex(ctx); err != nil {
		logger.Warn("initial indexing failed; queries return 409 until POST /api/index succeeds",
			"spec_path", cfg.SpecPath, "err", err)
	}

	// --- HTTP server ---
	handler := mid.Chain(srv.routes(),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.OTel("specgraph"),
		srv.metrics.Middleware(),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, "/api/health", "/metrics"),
	)
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("specgraph server starting", "port", cfg.Port, "persistent", store.Persistent())
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	})
	if cfg.Watch {
		w := loader.NewWatcher(cfg.SpecPath, cfg.WatchDebounce, logger)
		g.Go(func() error {
			return w.Watch(gctx, srv.specsChanged)
		})
	}
	return g.Wait()
}

// connectNATS dials url, retrying with backoff.
func connectNATS(ctx context.Context, url string, logger *slog.Logger) (*nats.Conn, error) {
	return fn.Retry(ctx, fn.DefaultRetry, func(context.Context) fn.Result[*nats.Conn] {
		nc, err := nats.Connect(url, nats.Name("specgraph"))
		if err != nil {
			logger.Warn("nats connect attempt failed", "url", url, "err", err)
		}
		return fn.FromPair(nc, err)
	}).Unwrap()
}
