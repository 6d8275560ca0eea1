package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/homechef/internal/address"
	"github.com/hitoshi/homechef/internal/apiclient"
	"github.com/hitoshi/homechef/internal/cart"
	"github.com/hitoshi/homechef/internal/config"
	"github.com/hitoshi/homechef/internal/database"
	"github.com/hitoshi/homechef/internal/geocode"
	"github.com/hitoshi/homechef/internal/metrics"
	"github.com/hitoshi/homechef/internal/repository"
	"github.com/hitoshi/homechef/internal/security"
	"github.com/hitoshi/homechef/internal/session"
)

// geocodeTimeout は逆ジオコーディング1回あたりのタイムアウト。
const geocodeTimeout = 5 * time.Second

// Client はクライアント側のストア一式を束ねる。
type Client struct {
	API       *apiclient.Client
	Session   *session.Store
	Cart      *cart.Store
	Addresses *address.Store

	closers []func() error
}

// Close は永続化先の接続を閉じる。
func (c *Client) Close() {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			slog.Warn("failed to close state repository", slog.String("error", err.Error()))
		}
	}
}

// NewClient は設定から依存関係をワイヤリングし、永続化された状態を読み込んだClientを返す。
// ネットワークには接続しない。
func NewClient(ctx context.Context, cfg *config.Config, recorder metrics.Recorder, logger *slog.Logger) (*Client, error) {
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	c := &Client{}
	repo, err := openRepository(ctx, cfg, c)
	if err != nil {
		return nil, err
	}

	// セッションとAPIクライアントは相互に参照するため、認証情報は遅延して読む
	var sessions *session.Store
	api, err := apiclient.New(apiclient.Options{
		BaseURL:      cfg.APIBaseURL,
		AssetBaseURL: cfg.AssetBaseURL,
		Timeout:      cfg.HTTPTimeout,
		RateLimit:    cfg.APIRateLimit,
		RateBurst:    cfg.APIRateBurst,
		Metrics:      recorder,
	}, apiclient.CredentialFunc(func() string { return sessions.Authorization() }), logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	sessions = session.NewStore(repo, api, logger)

	geocoder, err := newGeocoder(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	sanitizer := security.NewTextSanitizer()
	c.API = api
	c.Session = sessions
	c.Cart = cart.NewStore(api, sessions, repo, sanitizer, recorder, logger)
	c.Addresses = address.NewStore(api, sessions, geocoder, repo, sanitizer, recorder, logger)

	sessions.AddListener(c.Cart)
	sessions.AddListener(c.Addresses)

	// ネットワークより先にローカルの状態を読み込む
	sessions.Restore(ctx)
	c.Cart.LoadLocal(ctx)
	c.Addresses.LoadLocal(ctx)

	return c, nil
}

// openRepository はSTATE_BACKENDに応じた永続化先を開く。
func openRepository(ctx context.Context, cfg *config.Config, c *Client) (repository.StateRepository, error) {
	switch cfg.StateBackend {
	case config.StateBackendMemory:
		return repository.NewMemoryStateRepo(), nil

	case config.StateBackendPostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		return repository.NewPostgresStateRepo(db, cfg.StateNamespace), nil

	case config.StateBackendRedis:
		repo, err := repository.NewRedisStateRepo(ctx, cfg.RedisURL, cfg.StateNamespace)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, repo.Close)
		return repo, nil

	default:
		repo, err := repository.NewFileStateRepo(cfg.StateDir)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
}

// newGeocoder はAPIキーが設定されている場合のみ逆ジオコーダーを生成する。
// 外部サービスへの通信は内部ネットワーク宛てを拒否するクライアントで行う。
func newGeocoder(cfg *config.Config, logger *slog.Logger) (address.Geocoder, error) {
	if cfg.GeocodeAPIKey == "" {
		return nil, nil
	}
	guard := security.NewOutboundGuard()
	if err := guard.ValidateURL(cfg.GeocodeEndpoint); err != nil {
		return nil, fmt.Errorf("invalid GEOCODE_ENDPOINT: %w", err)
	}
	return geocode.NewClient(guard.NewSafeClient(geocodeTimeout), cfg.GeocodeEndpoint, cfg.GeocodeAPIKey, logger), nil
}
