package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ruralink/kaaryasetu/internal/metrics"
	"github.com/ruralink/kaaryasetu/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.SessionAuthenticator
	CORSAllowedOrigin string // カンマ区切りで複数指定可
	HSTS              bool
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsGatherer   prometheus.Gatherer // nilの場合 /metrics を公開しない
	HealthChecker     HealthChecker

	// 認証
	IdentityService IdentityServiceInterface
	AuthConfig      AuthHandlerConfig

	// ドメイン
	ProfileService     ProfileServiceInterface
	JobService         JobServiceInterface
	ApplicationService ApplicationServiceInterface
	StatsService       StatsServiceInterface
	Changes            ChangeSubscriber
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Metrics
//	  認証が必要なルート: → Session → RateLimit(General) → CSRF
//
// サインイン前に呼ばれる認証ルート（OTP送信・検証、ログイン、登録）はSessionの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.HSTS}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))

	authHandler := NewAuthHandler(deps.IdentityService, deps.ProfileService, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService)
	jobHandler := NewJobHandler(deps.JobService)
	appHandler := NewApplicationHandler(deps.ApplicationService)
	statsHandler := NewStatsHandler(deps.StatsService, deps.Changes)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		// 未認証の入口はIPアドレス単位で制限する（OTP送信は別枠）
		r.With(deps.RateLimiter.OTPMiddleware()).Post("/otp/send", authHandler.SendOTP)
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.CredentialMiddleware())
			r.Post("/otp/verify", authHandler.VerifyOTP)
			r.Post("/login", authHandler.Login)
			r.Post("/register", authHandler.Register)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Authenticator))
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// プロフィール
		r.Route("/api/profiles", func(r chi.Router) {
			r.Post("/", profileHandler.CreateProfile)
			r.Get("/{accountID}", profileHandler.GetProfile)
		})

		// 求人
		r.Route("/api/jobs", func(r chi.Router) {
			r.Get("/", jobHandler.ListJobs)
			r.Post("/", jobHandler.CreateJob)
			r.Get("/mine", jobHandler.ListMyJobs)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", jobHandler.DeleteJob)
				r.Post("/close", jobHandler.CloseJob)

				// 応募
				r.Post("/applications", appHandler.Apply)
				r.Get("/applications", appHandler.ListForJob)
			})
		})

		r.Route("/api/applications", func(r chi.Router) {
			r.Get("/mine", appHandler.ListMine)
			r.Patch("/{id}", appHandler.UpdateStatus)
		})

		// 統計
		r.Get("/api/stats", statsHandler.GetStats)
		r.Get("/api/stats/stream", statsHandler.Stream)
	})

	return r
}
