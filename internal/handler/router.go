package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/shelfman/internal/metrics"
	"github.com/hitoshi/shelfman/internal/middleware"
	"github.com/hitoshi/shelfman/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector
	// MetricsHandler はPrometheusのスクレイプ用ハンドラー。nilの場合は/metricsを公開しない。
	MetricsHandler http.Handler
	DB             Pinger

	// Authenticate は呼び出し元を解決する認証ミドルウェア（セッションまたは認証プロキシ）。
	Authenticate func(http.Handler) http.Handler
	// AuthService はGoogle OAuthのフローを提供する。nilの場合はOAuthルートを公開しない（認証プロキシ運用）。
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	CORSAllowedOrigins []string
	CSRFConfig         middleware.CSRFConfig
	RateLimiter        *middleware.RateLimiter

	CollectionService CollectionServiceInterface
	ItemService       ItemServiceInterface
	Importer          ImporterInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → CORS → Metrics
//	認証が必要なルート: Authenticate → CSRF → RateLimit(General)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewMetricsMiddleware(mc))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, model.NewNotFoundError("リソース", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, &model.APIError{
			Code:     "METHOD_NOT_ALLOWED",
			Message:  "このメソッドは使用できません。",
			Category: "system",
			Action:   "APIの仕様を確認してください。",
		})
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	collectionHandler := NewCollectionHandler(deps.CollectionService)
	itemHandler := NewItemHandler(deps.ItemService)
	importHandler := NewImportHandler(deps.Importer)

	// --- 認証不要のルート ---

	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		if deps.AuthService != nil {
			r.Get("/google/login", authHandler.Login)
			r.Get("/google/callback", authHandler.Callback)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			return
		}
		r.With(deps.Authenticate).Get("/me", authHandler.Me)
	})

	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
	r.Get("/api/options", Options)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.Authenticate)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/collections", func(r chi.Router) {
			r.Get("/", collectionHandler.List)
			r.Post("/", collectionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", collectionHandler.Get)
				r.Patch("/", collectionHandler.Update)
				r.Delete("/", collectionHandler.Delete)

				r.Post("/items", itemHandler.Create)
				r.With(deps.RateLimiter.ImportMiddleware()).Post("/import", importHandler.Import)
			})
		})

		r.Route("/api/items/{id}", func(r chi.Router) {
			r.Get("/", itemHandler.Get)
			r.Patch("/", itemHandler.Update)
			r.Delete("/", itemHandler.Delete)
		})
	})

	return r
}
