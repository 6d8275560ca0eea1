// Package app はCLIのエントリーポイントと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/homechef/internal/config"
	"github.com/hitoshi/homechef/internal/database"
	"github.com/hitoshi/homechef/internal/fakeapi"
	"github.com/hitoshi/homechef/internal/logger"
	"github.com/hitoshi/homechef/internal/metrics"
	"github.com/hitoshi/homechef/internal/middleware"
	"github.com/hitoshi/homechef/internal/worker/syncer"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	if err := config.LoadDotEnv(""); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再初期化する
	logger.SetupDefaultWithLevel(w, cfg.LogLevel)
	return cfg, nil
}

// Run はCLIのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応する処理を実行する。
// outにはコマンドの結果、logwには構造化ログを出力する。argsにはos.Args[1:]を渡す。
func Run(out, logw io.Writer, args []string) error {
	cmd, rest := ParseCommand(args)

	// 設定を必要としないコマンドはフル初期化をスキップする
	switch cmd {
	case CommandHelp:
		fmt.Fprint(out, usage)
		return nil
	case CommandHealthcheck:
		return runHealthcheck(healthcheckURL())
	case CommandMockAPI:
		return runMockAPI(logw)
	}

	cfg, err := Init(logw)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Debug("starting command",
		slog.String("command", string(cmd)),
		slog.String("api_base_url", cfg.APIBaseURL),
		slog.String("state_backend", cfg.StateBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSync:
		return runSync(ctx, cfg)
	}

	client, err := NewClient(ctx, cfg, nil, slog.Default())
	if err != nil {
		return err
	}
	defer client.Close()

	return runClientCommand(ctx, client, cmd, rest, out)
}

// runSync はカートと住所のバックグラウンド同期を常駐実行する。
// /metricsでPrometheusメトリクスを公開し、SIGINTまたはSIGTERMで停止する。
func runSync(ctx context.Context, cfg *config.Config) error {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	client, err := NewClient(ctx, cfg, collector, slog.Default())
	if err != nil {
		return err
	}
	defer client.Close()

	if !client.Session.IsLoggedIn() {
		return errors.New("not logged in: run `homechef login <phone>` first")
	}

	scheduler := syncer.NewScheduler(client.Session, []syncer.Target{
		{Name: "cart", Sync: client.Cart.FetchFromServer},
		{Name: "address", Sync: client.Addresses.FetchAddresses},
	}, slog.Default())

	server := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	slog.Info("sync stopped gracefully")
	return nil
}

// runMockAPI は開発用バックエンドを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runMockAPI(logw io.Writer) error {
	logger.SetupDefault(logw)
	if err := config.LoadDotEnv(""); err != nil {
		return err
	}
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefaultWithLevel(logw, cfg.LogLevel)

	limiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitPerMin > 0 {
		limiterCfg.Rate = rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
		limiterCfg.Burst = cfg.RateLimitPerMin
	}
	limiter := middleware.NewRateLimiter(limiterCfg, slog.Default())
	defer limiter.Stop()

	backend := fakeapi.NewBackend(fakeapi.Options{Secret: cfg.Secret, TokenTTL: cfg.TokenTTL})
	router := fakeapi.NewRouter(&fakeapi.RouterDeps{
		Backend:           backend,
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mock API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down mock API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("mock API server stopped gracefully")
	return nil
}

// runMigrate は状態保存用データベースのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// healthcheckURL はヘルスチェック先のURLを環境変数から決める。
// API_BASE_URLが未設定の場合はローカルの開発用バックエンドを対象にする。
func healthcheckURL() string {
	base := strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if base == "" {
		port := os.Getenv("MOCK_API_PORT")
		if port == "" {
			port = "8080"
		}
		base = "http://localhost:" + port + fakeapi.APIPrefix
	}
	return base + "/healthz"
}

// runHealthcheck はヘルスチェックを実行する。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
