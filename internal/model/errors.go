// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: network, auth, validation, business, system
	Action   string // ユーザー向け対処方法
	Status   int    // HTTPステータス（サーバー応答由来でない場合は0）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryNetwork    = "network"
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryBusiness   = "business"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeNetwork            = "NETWORK_ERROR"
	ErrCodeServerError        = "SERVER_ERROR"
	ErrCodeInvalidResponse    = "INVALID_RESPONSE"
	ErrCodeSessionExpired     = "SESSION_EXPIRED"
	ErrCodeNotLoggedIn        = "NOT_LOGGED_IN"
	ErrCodeRejected           = "REQUEST_REJECTED"
	ErrCodeIncompleteAddress  = "INCOMPLETE_ADDRESS"
	ErrCodeAddressNotFound    = "ADDRESS_NOT_FOUND"
	ErrCodeAddressRequired    = "ADDRESS_REQUIRED"
	ErrCodeCartEmpty          = "CART_EMPTY"
	ErrCodeCartLineNotFound   = "CART_LINE_NOT_FOUND"
	ErrCodeInvalidQuantity    = "INVALID_QUANTITY"
	ErrCodePaymentNotVerified = "PAYMENT_NOT_VERIFIED"
	ErrCodeGeocodeFailed      = "GEOCODE_FAILED"
)

// NewNetworkError は通信失敗エラーを生成する。
func NewNetworkError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNetwork,
		Message:  fmt.Sprintf("Could not reach the server: %s", reason),
		Category: CategoryNetwork,
		Action:   "Check your connection and try again.",
	}
}

// NewServerError はサーバー内部エラー（5xx）を生成する。
func NewServerError(status int) *APIError {
	return &APIError{
		Code:     ErrCodeServerError,
		Message:  fmt.Sprintf("The server returned status %d.", status),
		Category: CategoryNetwork,
		Action:   "Please wait a moment and try again.",
		Status:   status,
	}
}

// NewInvalidResponseError はサーバー応答の解析に失敗した場合のエラーを生成する。
func NewInvalidResponseError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidResponse,
		Message:  fmt.Sprintf("Unexpected response from the server: %s", reason),
		Category: CategorySystem,
		Action:   "Please try again later.",
	}
}

// NewSessionExpiredError は認証切れ（401）エラーを生成する。
// トークンの自動更新は行わないため、再ログインを促す。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "Your session has expired.",
		Category: CategoryAuth,
		Action:   "Please log in again.",
		Status:   401,
	}
}

// NewNotLoggedInError はログインが必要な操作を未ログインで実行した場合のエラーを生成する。
func NewNotLoggedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotLoggedIn,
		Message:  "You are not logged in.",
		Category: CategoryAuth,
		Action:   "Please log in to continue.",
	}
}

// NewRejectedError はサーバーが業務ルールにより要求を拒否した場合のエラーを生成する。
// サーバーのメッセージをそのままユーザーに提示する。
func NewRejectedError(status int, message string) *APIError {
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("The request was rejected (status %d).", status)
	}
	return &APIError{
		Code:     ErrCodeRejected,
		Message:  message,
		Category: CategoryBusiness,
		Action:   "Review your request and try again.",
		Status:   status,
	}
}

// NewIncompleteAddressError は住所フォームの必須項目不足エラーを生成する。
func NewIncompleteAddressError(missing []string) *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteAddress,
		Message:  fmt.Sprintf("Address is incomplete: missing %s", strings.Join(missing, ", ")),
		Category: CategoryValidation,
		Action:   "Please fill all fields and fetch your location.",
	}
}

// NewAddressNotFoundError は指定IDの住所が一覧に存在しない場合のエラーを生成する。
func NewAddressNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAddressNotFound,
		Message:  fmt.Sprintf("Address not found: %s", id),
		Category: CategoryValidation,
		Action:   "Refresh your address list and select again.",
	}
}

// NewAddressRequiredError は配送先未選択のまま注文しようとした場合のエラーを生成する。
func NewAddressRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAddressRequired,
		Message:  "No delivery address selected.",
		Category: CategoryValidation,
		Action:   "Please select a delivery address first.",
	}
}

// NewCartEmptyError は空のカートで注文しようとした場合のエラーを生成する。
func NewCartEmptyError() *APIError {
	return &APIError{
		Code:     ErrCodeCartEmpty,
		Message:  "Your cart is empty.",
		Category: CategoryValidation,
		Action:   "Add some dishes before placing an order.",
	}
}

// NewCartLineNotFoundError はカートに指定キーの明細が存在しない場合のエラーを生成する。
func NewCartLineNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeCartLineNotFound,
		Message:  fmt.Sprintf("Item is not in the cart: %s", key),
		Category: CategoryValidation,
		Action:   "Refresh your cart and try again.",
	}
}

// NewInvalidQuantityError は数量が正でない場合のエラーを生成する。
func NewInvalidQuantityError(quantity int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuantity,
		Message:  fmt.Sprintf("Invalid quantity: %d", quantity),
		Category: CategoryValidation,
		Action:   "Quantity must be at least 1.",
	}
}

// NewPaymentNotVerifiedError は決済検証に失敗した場合のエラーを生成する。
func NewPaymentNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentNotVerified,
		Message:  "Payment verification failed.",
		Category: CategoryBusiness,
		Action:   "Your cart has been kept. Please try the payment again.",
	}
}

// NewGeocodeFailedError は座標から住所を解決できなかった場合のエラーを生成する。
func NewGeocodeFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeGeocodeFailed,
		Message:  fmt.Sprintf("Could not resolve the location: %s", reason),
		Category: CategoryValidation,
		Action:   "Enter the address details manually.",
	}
}

// AsAPIError はerrorチェーンからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsAuthError はエラーが認証カテゴリかを返す。
func IsAuthError(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Category == CategoryAuth
}
