package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"docmerge/api/internal/app"
	"docmerge/api/internal/blob"
	"docmerge/api/internal/cache"
	"docmerge/api/internal/config"
	"docmerge/api/internal/email"
	"docmerge/api/internal/export"
	"docmerge/api/internal/logger"
	"docmerge/api/internal/mcpserver"
	"docmerge/api/internal/metrics"
	"docmerge/api/internal/revisions"
	"docmerge/api/internal/search"
	"docmerge/api/internal/store"
)

func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg := config.Load()
	if path := strings.TrimSpace(cmd.String("config")); path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runtime holds everything opened for a command; close releases it in
// reverse order.
type runtime struct {
	cfg     config.Config
	log     zerolog.Logger
	service *app.Service
	pgIndex *search.PgSearch
	search  *search.Service
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func setup(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg}
	// The MCP command speaks on stdout, so logs go to stderr there.
	output := os.Stdout
	if cmd.Name == "mcp" {
		output = os.Stderr
	}
	rt.log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: output})

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.closers = append(rt.closers, func() { db.Close() })
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		rt.close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		rt.close()
		return nil, fmt.Errorf("create repos dir: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	pandoc := export.NewPandocConverter(cfg.PandocPath, cfg.TempDir)
	converters := map[export.Format]export.Converter{
		export.FormatDOCX: pandoc,
		export.FormatPDF:  export.NewChromeConverter(cfg.ItemTimeout),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = redisCache.Close() })
		for format, converter := range converters {
			converters[format] = export.NewCachedConverter(converter, redisCache, string(format), cfg.CacheTTL, m.CacheLookup)
		}
		rt.log.Info().Msg("conversion cache enabled")
	}
	exporter := export.NewService(converters, export.Options{
		TempDir:           cfg.TempDir,
		Concurrency:       cfg.BatchConcurrency,
		ItemTimeout:       cfg.ItemTimeout,
		ObserveConversion: m.Conversion,
	})

	rt.pgIndex = search.NewPgSearch(db)
	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Component(rt.log, "meili"))
		rt.closers = append(rt.closers, meili.Close)
		engine = meili
	}
	rt.search = search.NewService(engine, rt.pgIndex, logger.Component(rt.log, "search"))

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{
		Store:     dataStore,
		Revisions: revisions.New(cfg.ReposDir),
		Search:    rt.search,
		Exporter:  exporter,
		Importer:  pandoc,
		Metrics:   m,
		Log:       logger.Component(rt.log, "app"),
	}
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		blobs, err := blob.New(ctx, blob.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("object storage unavailable: %w", err)
		}
		deps.Blobs = blobs
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		Timeout:  cfg.SMTPTimeout,
	})
	if mailer.IsConfigured() {
		deps.Notifier = mailer
	}

	rt.service = app.New(cfg, deps)
	return rt, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	httpServer := app.NewHTTPServer(rt.service, rt.cfg.CORSOrigin)
	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.log.Info().Str("addr", rt.cfg.Addr).Msg("docmerge API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rt.search.ReindexFromPG(gctx, rt.pgIndex)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		rt.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	userID := strings.TrimSpace(rt.cfg.MCPUserID)
	if userID == "" {
		return errors.New("DOCMERGE_MCP_USER_ID is required for the mcp command")
	}
	session := app.Session{UserID: userID, UserName: userID, Role: cmd.String("role")}
	return mcpserver.New(rt.service, session).ServeStdio()
}

func issueToken(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	user := strings.TrimSpace(cmd.String("user"))
	if user == "" {
		return errors.New("--user is required")
	}
	service := app.New(cfg, app.Deps{})
	token, err := service.IssueToken(user, cmd.String("name"), cmd.String("role"), cmd.String("project"), cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "docmerge",
		Usage:  "Document templates with synchronized highlights, generation and export",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config overlay",
				Sources: cli.EnvVars("DOCMERGE_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and exit",
				Action: migrate,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: serveMCP,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "role", Value: "editor", Usage: "Role the MCP session acts with"},
				},
			},
			{
				Name:   "token",
				Usage:  "Issue a session token",
				Action: issueToken,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "User id (token subject)"},
					&cli.StringFlag{Name: "name", Usage: "Display name"},
					&cli.StringFlag{Name: "role", Value: "editor", Usage: "viewer, editor or admin"},
					&cli.StringFlag{Name: "project", Usage: "Default project id"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "Token lifetime"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "docmerge: %v\n", err)
		os.Exit(1)
	}
}
