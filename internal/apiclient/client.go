// Package apiclient はホームシェフ注文バックエンドのREST APIクライアントを提供する。
// 認証ヘッダーの付与、送信レート制限、リクエストIDの付与、エラー分類を担う。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/hitoshi/homechef/internal/metrics"
	"github.com/hitoshi/homechef/internal/model"
)

const (
	// DefaultTimeout はHTTPリクエストのデフォルトタイムアウト。
	DefaultTimeout = 10 * time.Second
	// maxResponseBytes はレスポンスボディの最大読み取りサイズ。
	maxResponseBytes = 4 << 20
	userAgent        = "HomeChef/1.0 Go client"
	// RequestIDHeader は全リクエストに付与する相関IDヘッダー名。
	RequestIDHeader = "X-Request-ID"
)

// CredentialSource は認証ヘッダー値を提供するインターフェース。
// 未ログインの場合は空文字列を返す。
type CredentialSource interface {
	Authorization() string
}

// CredentialFunc は関数をCredentialSourceとして扱うアダプター。
type CredentialFunc func() string

// Authorization はCredentialSourceを実装する。
func (f CredentialFunc) Authorization() string {
	if f == nil {
		return ""
	}
	return f()
}

// Options はClientの生成パラメータ。
type Options struct {
	BaseURL      string
	AssetBaseURL string        // 空の場合はBaseURLのオリジンを使用
	Timeout      time.Duration // 0の場合はDefaultTimeout
	RateLimit    float64       // 1秒あたりのリクエスト数。0以下で無制限
	RateBurst    int
	HTTPClient   *http.Client // テスト用に差し替え可能
	Metrics      metrics.Recorder
}

// Client はバックエンドAPIのクライアント。
// 認証情報はリクエストごとにCredentialSourceから読み取る。
type Client struct {
	baseURL     string
	assetBase   *url.URL
	httpClient  *http.Client
	credentials CredentialSource
	limiter     *rate.Limiter
	metrics     metrics.Recorder
	logger      *slog.Logger
}

// New は新しいClientを生成する。
func New(opts Options, credentials CredentialSource, logger *slog.Logger) (*Client, error) {
	base, err := parseBaseURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	assetBase := &url.URL{Scheme: base.Scheme, Host: base.Host}
	if opts.AssetBaseURL != "" {
		assetBase, err = parseBaseURL(opts.AssetBaseURL)
		if err != nil {
			return nil, fmt.Errorf("アセットURLが不正です: %w", err)
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("cookie jarの作成に失敗しました: %w", err)
		}
		httpClient = &http.Client{Timeout: timeout, Jar: jar}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if credentials == nil {
		credentials = CredentialFunc(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(base.String(), "/"),
		assetBase:   assetBase,
		httpClient:  httpClient,
		credentials: credentials,
		limiter:     limiter,
		metrics:     recorder,
		logger:      logger,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("ベースURLが指定されていません")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("ベースURLのパースに失敗しました: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("ベースURLはhttpまたはhttpsの絶対URLである必要があります: %s", raw)
	}
	return u, nil
}

// ResolveAssetURL はバックエンドが返す相対パスを絶対URLに解決する。
// 既に絶対URLの場合と空文字列の場合はそのまま返す。
func (c *Client) ResolveAssetURL(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	if ref.IsAbs() {
		return path
	}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	return c.assetBase.ResolveReference(ref).String()
}

// envelope はバックエンドの共通レスポンス形式。
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

func (e envelope) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	default:
		return e.Detail
	}
}

// request は1回のAPI呼び出しの内容。
type request struct {
	endpoint string // メトリクスとログ用の論理名
	method   string
	path     string
	body     any
	auth     bool
}

// do はリクエストを送信し、成功時はレスポンスをoutにデコードする。
// 失敗は全て*model.APIErrorとして返す。
func (c *Client) do(ctx context.Context, r request, out any) error {
	if r.auth && c.credentials.Authorization() == "" {
		return model.NewNotLoggedInError()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(r.endpoint, model.NewNetworkError(err.Error()))
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// ログイン直後・ログアウト直後の状態を反映するため毎回読み取る
	if auth := c.credentials.Authorization(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAPIRequest(r.endpoint, 0, time.Since(start))
		c.logger.Warn("APIの呼び出しに失敗しました",
			slog.String("endpoint", r.endpoint),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return c.fail(r.endpoint, model.NewNetworkError(err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordAPIRequest(r.endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return c.fail(r.endpoint, model.NewNetworkError(err.Error()))
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return c.fail(r.endpoint, model.NewSessionExpiredError())
	case resp.StatusCode >= 500:
		c.logger.Error("APIがサーバーエラーを返しました",
			slog.String("endpoint", r.endpoint),
			slog.String("request_id", requestID),
			slog.Int("http_status", resp.StatusCode),
		)
		return c.fail(r.endpoint, model.NewServerError(resp.StatusCode))
	case resp.StatusCode >= 400:
		return c.fail(r.endpoint, model.NewRejectedError(resp.StatusCode, env.text()))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return c.fail(r.endpoint, model.NewInvalidResponseError(fmt.Sprintf("unexpected status %d", resp.StatusCode)))
	}

	// 2xxでもstatusが失敗を示す場合は業務エラーとして扱う
	if env.Status != "" && !strings.EqualFold(env.Status, "success") {
		return c.fail(r.endpoint, model.NewRejectedError(resp.StatusCode, env.text()))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Error("APIレスポンスのパースに失敗しました",
			slog.String("endpoint", r.endpoint),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return c.fail(r.endpoint, model.NewInvalidResponseError(err.Error()))
	}
	return nil
}

func (c *Client) fail(endpoint string, apiErr *model.APIError) error {
	c.metrics.RecordAPIError(endpoint, apiErr.Category)
	return apiErr
}
