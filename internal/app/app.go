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
	"golang.org/x/time/rate"

	"github.com/ruralink/kaaryasetu/internal/application"
	"github.com/ruralink/kaaryasetu/internal/config"
	"github.com/ruralink/kaaryasetu/internal/database"
	"github.com/ruralink/kaaryasetu/internal/handler"
	"github.com/ruralink/kaaryasetu/internal/identity"
	"github.com/ruralink/kaaryasetu/internal/job"
	"github.com/ruralink/kaaryasetu/internal/logger"
	"github.com/ruralink/kaaryasetu/internal/metrics"
	"github.com/ruralink/kaaryasetu/internal/middleware"
	"github.com/ruralink/kaaryasetu/internal/profile"
	"github.com/ruralink/kaaryasetu/internal/realtime"
	"github.com/ruralink/kaaryasetu/internal/repository"
	"github.com/ruralink/kaaryasetu/internal/security"
	"github.com/ruralink/kaaryasetu/internal/stats"
	"github.com/ruralink/kaaryasetu/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数（と.env.local、KAARYASETU_CONFIG）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

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
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandCleanup:
		return runCleanupOnce(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// rateLimiterConfig は設定値（req/min、回数/10min）をレートリミッターの設定（req/sec）に変換する。
// 信頼済みプロキシの範囲もそのまま渡す。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitOTP > 0 {
		rl.OTPRate = rate.Limit(float64(cfg.RateLimitOTP) / 600.0)
		rl.OTPBurst = cfg.RateLimitOTP
	}
	if cfg.RateLimitAuth > 0 {
		rl.CredentialRate = rate.Limit(float64(cfg.RateLimitAuth) / 600.0)
		rl.CredentialBurst = cfg.RateLimitAuth
	}
	rl.TrustedProxies = cfg.TrustedProxies
	return rl
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと変更通知の受信を起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	challengeRepo := repository.NewPostgresChallengeRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	jobRepo := repository.NewPostgresJobRepo(db)
	applicationRepo := repository.NewPostgresApplicationRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db)

	// 3. メトリクスとセキュリティ
	registry := newRegistry()
	collector := metrics.NewCollector(registry)
	sanitizer := security.NewTextSanitizer()

	tokens, err := identity.NewTokenIssuer(cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	// 4. ドメインサービスの初期化
	identityService := identity.NewService(
		accountRepo, challengeRepo, sessionRepo,
		identity.LogSMSSender{Logger: slog.Default()},
		tokens, collector,
		identity.ServiceConfig{
			ChallengeTTL: cfg.OTPTTL,
			MaxAttempts:  cfg.OTPMaxAttempts,
			SessionTTL:   time.Duration(cfg.SessionMaxAge) * time.Second,
		},
	)
	profileService := profile.NewService(profileRepo, sanitizer)
	jobService := job.NewService(jobRepo, profileRepo, sanitizer, collector, job.ServiceConfig{
		RadiusKm:   cfg.SearchRadiusKm,
		ListLimit:  cfg.JobListLimit,
		Categories: cfg.JobCategories,
	})
	applicationService := application.NewService(applicationRepo, jobRepo, profileRepo, sanitizer, collector)
	statsService := stats.NewService(statsRepo)

	// 5. 変更通知の受信（ダッシュボードのリアルタイム更新用）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := realtime.NewHub(0)
	defer hub.Close()

	listener := realtime.NewListener(cfg.DatabaseURL, hub, slog.Default())
	go func() {
		if err := listener.Run(ctx); err != nil {
			slog.Error("change listener stopped", slog.String("error", err.Error()))
		}
	}()

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Authenticator:     identityService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HSTS:              cfg.CookieSecure,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:          slog.Default(),
		Metrics:         collector,
		MetricsGatherer: registry,
		HealthChecker:   db,

		IdentityService: identityService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ProfileService:     profileService,
		JobService:         jobService,
		ApplicationService: applicationService,
		StatsService:       statsService,
		Changes:            hub,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	// SSEストリームはハンドラー側で書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	// SSE購読を先に終了させ、Shutdownが接続の終了を待てるようにする
	cancel()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newRegistry はランタイムとプロセスのコレクターを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// newCleanupJob はクリーンアップジョブを構築する。
func newCleanupJob(db *sql.DB, collector metrics.MetricsCollector) *cleanup.CleanupJob {
	return cleanup.NewCleanupJob(
		repository.NewPostgresChallengeRepo(db),
		repository.NewPostgresSessionRepo(db),
		collector,
		slog.Default(),
	)
}

// runWorker はワーカーモードで起動する。
// 期限切れのOTPチャレンジとセッションをCleanupInterval間隔で削除し、
// ServerPortで/metricsと/healthを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     metrics.WorkerHandler(registry, db),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.String("addr", server.Addr),
	)

	newCleanupJob(db, collector).Start(ctx, cfg.CleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker server shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runCleanupOnce はクリーンアップジョブを1回だけ実行する。
// cronなど外部スケジューラから起動する場合に使用する。
func runCleanupOnce(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	return newCleanupJob(db, metrics.Nop{}).Run(ctx)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration status unavailable: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
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
// 解析できないURLは全体をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
