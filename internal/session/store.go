// Package session はログイン状態と認証情報を管理するSessionStoreを提供する。
// APIクライアントの認証情報の提供元であり、ログイン・ログアウトを依存ストアへ通知する。
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/homechef/internal/apiclient"
	"github.com/hitoshi/homechef/internal/model"
	"github.com/hitoshi/homechef/internal/repository"
)

// Listener はセッションの変化を受け取るインターフェース。
// カートと住所のストアが実装し、ログイン時に再同期、ログアウト時に消去する。
type Listener interface {
	OnLogin(ctx context.Context, session model.Session)
	OnLogout(ctx context.Context)
}

// Authenticator は電話番号ログインを行うインターフェース。
type Authenticator interface {
	Login(ctx context.Context, phone string) (*apiclient.LoginResult, error)
}

// Store はセッション状態の唯一の保持者。
// 状態の変更はこのストアのメソッド経由でのみ行う。
type Store struct {
	repo   repository.StateRepository
	auth   Authenticator
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	session    model.Session
	generation uint64
	listeners  []Listener
}

// NewStore は新しいStoreを生成する。authはLoginWithPhoneを使わない場合nilでもよい。
func NewStore(repo repository.StateRepository, auth Authenticator, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		auth:   auth,
		logger: logger,
		now:    time.Now,
	}
}

// AddListener はセッション変化の通知先を登録する。
func (s *Store) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Login は認証情報を設定し、永続化して、依存ストアに通知する。
// 永続化の失敗はログに記録するだけで、現在のプロセスではセッションを利用できる。
func (s *Store) Login(ctx context.Context, creds model.Credentials) {
	tokenType := strings.TrimSpace(creds.TokenType)
	if tokenType == "" {
		tokenType = model.DefaultTokenType
	}
	next := model.Session{
		Token:     creds.Token,
		TokenType: tokenType,
		Phone:     creds.Phone,
		User:      cloneRaw(creds.User),
		ExpiresAt: tokenExpiry(creds.Token),
	}

	// 認証情報はロック内で差し替え、以降のリクエストに即座に反映させる
	s.mu.Lock()
	s.session = next
	s.generation++
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if err := repository.SaveJSON(ctx, s.repo, repository.KeySession, next); err != nil {
		s.logger.Warn("セッションの保存に失敗しました", slog.String("error", err.Error()))
	}

	s.logger.Info("logged in", slog.String("phone", maskPhone(next.Phone)))

	for _, l := range listeners {
		l.OnLogin(ctx, next)
	}
}

// LoginWithPhone はログインAPIを呼び出し、成功した場合にLoginを行う。
func (s *Store) LoginWithPhone(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return model.NewRejectedError(0, "Phone number is required.")
	}
	if s.auth == nil {
		return model.NewNotLoggedInError()
	}
	res, err := s.auth.Login(ctx, phone)
	if err != nil {
		return err
	}
	s.Login(ctx, model.Credentials{
		Token:     res.AccessToken,
		TokenType: res.TokenType,
		Phone:     phone,
		User:      res.User,
	})
	return nil
}

// Logout はセッションを消去し、永続化レコードを削除して、依存ストアに通知する。
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.session = model.Session{}
	s.generation++
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, repository.KeySession); err != nil {
		s.logger.Warn("セッションの削除に失敗しました", slog.String("error", err.Error()))
	}

	s.logger.Info("logged out")

	for _, l := range listeners {
		l.OnLogout(ctx)
	}
}

// Restore は永続化されたセッションを読み込む。起動時に依存ストアの初回取得より前に呼ぶ。
// 読み込みに失敗した場合と期限切れのJWTの場合は未ログインのままにする。
// 期限切れの場合はLogoutと同様に依存ストアへ通知し、それらの永続化データも消去させる。
func (s *Store) Restore(ctx context.Context) bool {
	var saved model.Session
	found, err := repository.LoadJSON(ctx, s.repo, repository.KeySession, &saved)
	if err != nil {
		s.logger.Warn("セッションの読み込みに失敗しました", slog.String("error", err.Error()))
		return false
	}
	if !found || !saved.IsLoggedIn() {
		return false
	}

	saved.ExpiresAt = tokenExpiry(saved.Token)
	if saved.ExpiresAt != nil && !s.now().Before(*saved.ExpiresAt) {
		s.logger.Info("保存されたトークンは期限切れのため破棄します",
			slog.Time("expires_at", *saved.ExpiresAt),
		)
		// 前のユーザーのカートと住所も残さないよう、ログアウトとして通知する
		s.Logout(ctx)
		return false
	}
	if saved.TokenType == "" {
		saved.TokenType = model.DefaultTokenType
	}

	s.mu.Lock()
	s.session = saved
	s.generation++
	s.mu.Unlock()
	return true
}

// Current は現在のセッションのコピーを返す。
func (s *Store) Current() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current := s.session
	current.User = cloneRaw(s.session.User)
	return current
}

// IsLoggedIn はトークンを保持しているかを返す。
func (s *Store) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.IsLoggedIn()
}

// Authorization はAuthorizationヘッダー値を返す。apiclient.CredentialSourceを実装する。
func (s *Store) Authorization() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AuthorizationHeader()
}

// Generation はログイン・ログアウトのたびに増加するカウンタを返す。
// 依存ストアは操作開始時の値と比較して、古い応答の書き込みを防ぐ。
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Expired はトークンの有効期限が過ぎているかを返す。期限を持たないトークンは常にfalse。
func (s *Store) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.ExpiresAt != nil && !s.now().Before(*s.session.ExpiresAt)
}

// tokenExpiry はJWTのexpクレームを取り出す。JWTでないトークンやexpがない場合はnil。
// 署名はサーバーが検証するため、ここでは検証しない。
func tokenExpiry(token string) *time.Time {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// maskPhone はログ出力用に電話番号の末尾4桁以外を伏せる。
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

var _ apiclient.CredentialSource = (*Store)(nil)
