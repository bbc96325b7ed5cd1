package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/seoman/internal/analyzer"
	"github.com/hitoshi/seoman/internal/auth"
	"github.com/hitoshi/seoman/internal/config"
	"github.com/hitoshi/seoman/internal/database"
	"github.com/hitoshi/seoman/internal/handler"
	"github.com/hitoshi/seoman/internal/logger"
	"github.com/hitoshi/seoman/internal/metrics"
	"github.com/hitoshi/seoman/internal/middleware"
	"github.com/hitoshi/seoman/internal/project"
	"github.com/hitoshi/seoman/internal/realtime"
	"github.com/hitoshi/seoman/internal/repository"
	"github.com/hitoshi/seoman/internal/security"
	"github.com/hitoshi/seoman/internal/user"
	"github.com/hitoshi/seoman/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	dbConnectTimeout = 10 * time.Second
	sweepInterval    = time.Minute
	shutdownTimeout  = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck と analyze は軽量サブコマンドのため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		return runHealthcheck(getenv("SERVER_PORT", "8080"))
	case CommandAnalyze:
		return runAnalyze(w, args[1:])
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続と変更通知を開き、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig(), dbConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	projectRepo := repository.NewPostgresProjectRepo(db)

	// 4. 変更通知とプロジェクトミラー
	mode, err := project.ParseMatchMode(cfg.DuplicateMatchMode)
	if err != nil {
		return err
	}

	changeFeed := realtime.NewPostgresChangeFeed(cfg.DatabaseURL, collector, slog.Default())
	if err := changeFeed.Start(ctx); err != nil {
		return fmt.Errorf("failed to start change feed: %w", err)
	}
	defer changeFeed.Close()

	mirrors := project.NewRegistry(func() *project.Repository {
		return project.NewRepository(projectRepo, changeFeed, mode, collector, slog.Default())
	}, collector, slog.Default())
	defer mirrors.Close()
	go mirrors.RunSweeper(ctx, sweepInterval, cfg.MirrorIdleTTL)

	// 5. Webサイト解析
	analyzerService, closeAnalyzer, err := newAnalyzerService(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer closeAnalyzer()

	// 6. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: time.Duration(cfg.SessionMaxAge) * time.Second},
		slog.Default(),
	)
	userService := user.NewService(userRepo, sessionRepo, projectRepo, mirrors, slog.Default())

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAnalyze),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
			StateSecret:   cfg.SessionSecret,
		},

		Mirrors:     handler.NewRegistryAdapter(mirrors),
		Analyzer:    analyzerService,
		UserService: userService,

		HealthPinger:   db,
		MetricsHandler: metrics.Handler(registry),
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 解析のタイムアウトより長くする。SSEはハンドラー側で期限を外す
		WriteTimeout: cfg.AnalyzeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
		// シャットダウン時にSSEのストリームを終わらせる
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newAnalyzerService はWebサイト解析サービスを組み立てる。
// REDIS_URLが未設定、または接続できない場合はキャッシュなしで動作する。
func newAnalyzerService(ctx context.Context, cfg *config.Config, collector metrics.MetricsCollector) (*analyzer.Service, func(), error) {
	llm, err := analyzer.NewOpenAIModel(analyzer.LLMConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	guard := security.NewSSRFGuard()
	probe := analyzer.NewSiteProbe(
		guard.NewSafeClient(cfg.ProbeTimeout, cfg.ProbeMaxSize),
		security.NewTextSanitizer(300),
		cfg.ProbeMaxSize,
		slog.Default(),
	)

	closeFn := func() {}
	var cache analyzer.Cache
	if cfg.RedisURL != "" {
		client, err := analyzer.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("analysis cache disabled", slog.String("error", err.Error()))
		} else {
			cache = analyzer.NewRedisCache(client)
			closeFn = func() { client.Close() }
			slog.Info("analysis cache enabled", slog.Duration("ttl", cfg.AnalysisCacheTTL))
		}
	}

	svc := analyzer.NewService(llm, guard, probe, cache, analyzer.ServiceConfig{
		Timeout:  cfg.AnalyzeTimeout,
		CacheTTL: cfg.AnalysisCacheTTL,
		Metrics:  collector,
		Logger:   slog.Default(),
	})
	return svc, closeFn, nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除をctxがキャンセルされるまで定期実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 2}, dbConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewSessionCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default())
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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

// runAnalyze は起動中のサーバーの /analyze-website を呼び出し、結果のJSONをwに書き出す。
// 認証済みルートのため SEOMAN_SESSION_ID にセッションIDを指定する。
func runAnalyze(w io.Writer, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return errors.New("usage: seoman analyze <url>")
	}

	endpoint := getenv("ANALYZER_ENDPOINT",
		fmt.Sprintf("http://localhost:%s/analyze-website", getenv("SERVER_PORT", "8080")))
	client := analyzer.NewClient(
		&http.Client{Timeout: 60 * time.Second},
		endpoint,
		logger.Setup(os.Stderr, slog.LevelWarn),
	).WithSession(os.Getenv("SEOMAN_SESSION_ID"))

	result, err := client.Analyze(context.Background(), args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
