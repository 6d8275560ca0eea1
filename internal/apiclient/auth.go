package apiclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/homechef/internal/model"
)

// LoginResult はログインAPIのレスポンス。
type LoginResult struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	User        json.RawMessage `json:"user,omitempty"`
}

// Login は電話番号でログインし、アクセストークンを取得する。
func (c *Client) Login(ctx context.Context, phone string) (*LoginResult, error) {
	var result LoginResult
	err := c.do(ctx, request{
		endpoint: "auth.login",
		method:   http.MethodPost,
		path:     "/login",
		body:     map[string]string{"phone_number": phone},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, c.fail("auth.login", model.NewInvalidResponseError("access_token is missing"))
	}
	if result.TokenType == "" {
		result.TokenType = model.DefaultTokenType
	}
	return &result, nil
}
