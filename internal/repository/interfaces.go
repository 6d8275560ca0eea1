// Package repository はクライアント状態の永続化インターフェースと実装を提供する。
// セッション、カート、住所のスナップショットを名前空間付きのキーで保存する。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
)

// 永続化キー。ストアごとに名前空間を分け、ユーザーごとには分割しない。
// ログアウト時に各ストアが自分のキーを削除する。
const (
	KeySession         = "session"
	KeyCart            = "cart"
	KeyAddresses       = "addresses"
	KeySelectedAddress = "selected_address"
)

// StateRepository はクライアント状態の永続化インターフェース。
type StateRepository interface {
	// Get は指定キーの値を取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set は指定キーに値を保存する。既存の値は上書きされる。
	Set(ctx context.Context, key string, value []byte) error

	// Delete は指定キーの値を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
}

// LoadJSON は指定キーの値をJSONとしてdstにデコードする。
// 値が存在しない場合はfalseを返し、dstは変更しない。
func LoadJSON(ctx context.Context, repo StateRepository, key string, dst any) (bool, error) {
	data, err := repo.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode state %q: %w", key, err)
	}
	return true, nil
}

// SaveJSON はvをJSONにエンコードして指定キーに保存する。
func SaveJSON(ctx context.Context, repo StateRepository, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode state %q: %w", key, err)
	}
	return repo.Set(ctx, key, data)
}
