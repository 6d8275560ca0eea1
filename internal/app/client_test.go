package app

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/homechef/internal/config"
	"github.com/hitoshi/homechef/internal/model"
	"github.com/hitoshi/homechef/internal/repository"
)

func tokenExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "U1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("client-test-secret"))
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return token
}

// seedState は前回終了時の状態をファイルに書き込む。
func seedState(t *testing.T, dir, token string) *repository.FileStateRepo {
	t.Helper()
	ctx := context.Background()
	repo, err := repository.NewFileStateRepo(dir)
	if err != nil {
		t.Fatalf("NewFileStateRepo: %v", err)
	}
	home := model.Address{ID: "A1", Label: "Home", FlatNo: "12A", Landmark: "Park", Area: "HSR"}
	repository.SaveJSON(ctx, repo, repository.KeySession, model.Session{Token: token, TokenType: "Bearer", Phone: "9876543210"})
	repository.SaveJSON(ctx, repo, repository.KeyCart, model.Cart{Lines: []model.CartLine{
		{Key: "F1-V1", FoodID: "F1", VendorID: "V1", Name: "Lemon Rice", UnitPrice: 100, Quantity: 2},
	}})
	repository.SaveJSON(ctx, repo, repository.KeyAddresses, []model.Address{home})
	repository.SaveJSON(ctx, repo, repository.KeySelectedAddress, home)
	return repo
}

func fileConfig(dir string) *config.Config {
	return &config.Config{
		APIBaseURL:   "http://127.0.0.1:1/api",
		HTTPTimeout:  time.Second,
		StateBackend: config.StateBackendFile,
		StateDir:     dir,
	}
}

func TestNewClient_ExpiredTokenClearsPreviousUserState(t *testing.T) {
	dir := t.TempDir()
	repo := seedState(t, dir, tokenExpiringAt(t, time.Now().Add(-time.Hour)))

	var logs bytes.Buffer
	c, err := NewClient(context.Background(), fileConfig(dir), nil, slog.New(slog.NewJSONHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("NewClient がエラーを返した: %v", err)
	}
	defer c.Close()

	if c.Session.IsLoggedIn() {
		t.Fatal("期限切れトークンでログイン状態になった")
	}
	if lines := c.Cart.Lines(); len(lines) != 0 {
		t.Errorf("未ログインなのにカートが残っている: %+v", lines)
	}
	if len(c.Addresses.Addresses()) != 0 || c.Addresses.Selected() != nil {
		t.Error("未ログインなのに住所が残っている")
	}
	for _, key := range []string{repository.KeySession, repository.KeyCart, repository.KeyAddresses, repository.KeySelectedAddress} {
		if data, _ := repo.Get(context.Background(), key); data != nil {
			t.Errorf("%s が削除されていない", key)
		}
	}
}

func TestNewClient_ValidTokenRestoresLocalState(t *testing.T) {
	dir := t.TempDir()
	seedState(t, dir, tokenExpiringAt(t, time.Now().Add(time.Hour)))

	var logs bytes.Buffer
	c, err := NewClient(context.Background(), fileConfig(dir), nil, slog.New(slog.NewJSONHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("NewClient がエラーを返した: %v", err)
	}
	defer c.Close()

	if !c.Session.IsLoggedIn() {
		t.Fatal("有効なトークンは復元されるべき")
	}
	if lines := c.Cart.Lines(); len(lines) != 1 || lines[0].Quantity != 2 {
		t.Errorf("カート = %+v, want 1 line x2", lines)
	}
	if sel := c.Addresses.Selected(); sel == nil || sel.ID != "A1" {
		t.Errorf("選択中の住所 = %+v, want A1", sel)
	}
}
