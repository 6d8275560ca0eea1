// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// DefaultTokenType はトークン種別が指定されなかった場合に使用する値。
const DefaultTokenType = "Bearer"

// Session はログイン中のユーザーの認証情報を表す。
// Tokenが空の場合は未ログイン状態とみなす。
type Session struct {
	Token     string          `json:"token"`
	TokenType string          `json:"token_type"`
	Phone     string          `json:"phone,omitempty"`
	User      json.RawMessage `json:"user,omitempty"` // サーバーが返すプロフィール（内容は解釈しない）

	// ExpiresAt はトークンがJWTの場合にexpクレームから導出する。永続化しない。
	ExpiresAt *time.Time `json:"-"`
}

// IsLoggedIn はトークンを保持しているかを返す。
func (s Session) IsLoggedIn() bool {
	return s.Token != ""
}

// AuthorizationHeader は "{tokenType} {token}" 形式のAuthorizationヘッダー値を返す。
// 未ログインの場合は空文字列を返す。
func (s Session) AuthorizationHeader() string {
	if !s.IsLoggedIn() {
		return ""
	}
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return tokenType + " " + s.Token
}

// Credentials はログインAPIの結果としてSessionStoreに渡される認証情報の束。
type Credentials struct {
	Token     string
	TokenType string
	Phone     string
	User      json.RawMessage
}
