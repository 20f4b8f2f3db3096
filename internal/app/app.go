// Package app はコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/shelfman/internal/auth"
	"github.com/hitoshi/shelfman/internal/collection"
	"github.com/hitoshi/shelfman/internal/config"
	"github.com/hitoshi/shelfman/internal/database"
	"github.com/hitoshi/shelfman/internal/handler"
	"github.com/hitoshi/shelfman/internal/importer"
	"github.com/hitoshi/shelfman/internal/item"
	"github.com/hitoshi/shelfman/internal/logger"
	"github.com/hitoshi/shelfman/internal/metrics"
	"github.com/hitoshi/shelfman/internal/middleware"
	"github.com/hitoshi/shelfman/internal/repository"
	"github.com/hitoshi/shelfman/internal/security"
	"github.com/hitoshi/shelfman/internal/user"
	"github.com/hitoshi/shelfman/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数（と.env）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込みの失敗もJSONで記録できるよう、先にINFOレベルで初期化する
	logger.SetupDefault(w, "")

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("auth_mode", cfg.AuthMode),
		slog.String("session_store", cfg.SessionStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateAction(args))
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// openSessionRepo はSESSION_STOREに応じたセッションリポジトリを返す。
// 返されたclose関数は終了時に必ず呼び出すこと。
func openSessionRepo(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SessionRepository, func() error, error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return repository.NewPostgresSessionRepo(db), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis session store connected", slog.String("addr", cfg.RedisAddr))
	return repository.NewRedisSessionRepo(client), client.Close, nil
}

// server はHTTPハンドラーと、終了時に停止が必要なリソースをまとめたもの。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// buildServer は全依存関係をワイヤリングしてルーターを構築する。
func buildServer(cfg *config.Config, db *sql.DB, sessionRepo repository.SessionRepository, reg *prometheus.Registry) *server {
	// 1. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	collRepo := repository.NewPostgresCollectionRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)

	// 2. メトリクス
	collector := metrics.NewCollector(reg)

	// 3. ドメインサービス
	directory := user.NewDirectory(userRepo, identRepo)

	var oauth auth.OAuthProvider
	if cfg.AuthMode == config.AuthModeGoogle {
		oauth = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}
	authService := auth.NewService(oauth, directory, sessionRepo, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})

	collectionService := collection.NewService(collRepo, itemRepo, directory, collector)
	itemService := item.NewItemService(itemRepo, collRepo, collector)
	feedImporter := importer.NewImporter(
		security.NewGuard(),
		security.NewTextSanitizer(),
		collRepo,
		itemService,
		collector,
		importer.Config{
			Timeout:     cfg.ImportTimeout,
			MaxBodySize: cfg.ImportMaxSize,
			MaxItems:    cfg.ImportMaxItems,
		},
	)

	// 4. ミドルウェア
	generalRate, generalBurst := middleware.PerMinute(cfg.RateLimitGeneral)
	importRate, importBurst := middleware.PerMinute(cfg.RateLimitImport)
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:  generalRate,
		GeneralBurst: generalBurst,
		ImportRate:   importRate,
		ImportBurst:  importBurst,
	})

	deps := &handler.RouterDeps{
		Logger:             slog.Default(),
		Metrics:            collector,
		MetricsHandler:     metrics.Handler(reg),
		DB:                 db,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		CollectionService: collectionService,
		ItemService:       itemService,
		Importer:          feedImporter,
	}

	switch cfg.AuthMode {
	case config.AuthModeProxy:
		deps.Authenticate = middleware.NewProxyIdentityMiddleware(authService)
	default:
		deps.Authenticate = middleware.NewSessionMiddleware(authService)
		deps.AuthService = authService
	}

	return &server{handler: handler.NewRouter(deps), rateLimiter: rateLimiter}
}

// newRegistry はGoランタイムとプロセスのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessionRepo, closeSessions, err := openSessionRepo(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	srv := buildServer(cfg, db, sessionRepo, newRegistry())
	defer srv.rateLimiter.Stop()

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// インポートはフィード取得を含むため、取得タイムアウトより長くする
		WriteTimeout: cfg.ImportTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// PostgreSQLセッションストアの期限切れセッションを定期的に削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.SessionStore == config.SessionStoreRedis {
		slog.Info("redis sessions expire by TTL; worker has nothing to clean up")
		<-ctx.Done()
		return nil
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	cleanup.NewCleanupJob(db, slog.Default()).Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
