// Package model はドメインモデルを定義する。
package model

import "encoding/json"

// PaymentMethod は支払い方法を表す。
type PaymentMethod string

const (
	// PaymentMethodCOD は代金引換。
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodRazorpay はオンライン決済。
	PaymentMethodRazorpay PaymentMethod = "RAZORPAY"
	// PaymentMethodOther はその他の支払い方法。
	PaymentMethodOther PaymentMethod = "OTHER"
)

// ParsePaymentMethod は文字列をPaymentMethodに変換する。
// 未知の値はPaymentMethodOtherとして扱う。
func ParsePaymentMethod(s string) PaymentMethod {
	switch PaymentMethod(s) {
	case PaymentMethodCOD, PaymentMethodRazorpay:
		return PaymentMethod(s)
	default:
		return PaymentMethodOther
	}
}

// OrderItem は注文明細（料理IDと数量）を表す。
// 同じ料理を複数の出品者から注文する場合に区別するため出品者IDを添える。
type OrderItem struct {
	FoodID   string `json:"food_id"`
	VendorID string `json:"vendor_id,omitempty"`
	Quantity int    `json:"quantity"`
}

// Order はサーバーが作成した注文を表す。
// 既知のフィールド以外はRawに保持し、確認画面にそのまま渡す。
type Order struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	AddressID     string          `json:"address_id"`
	Items         []OrderItem     `json:"items"`
	Total         float64         `json:"total"`
	Raw           json.RawMessage `json:"-"`
}

// PaymentOrder はオンライン決済の開始時にサーバーが返す決済注文を表す。
type PaymentOrder struct {
	Key             string          `json:"key"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	ProviderOrderID string          `json:"razorpay_order_id"`
	User            json.RawMessage `json:"user,omitempty"`
}

// PaymentVerification は決済プロバイダーから受け取った検証用データを表す。
type PaymentVerification struct {
	ProviderOrderID   string `json:"razorpay_order_id"`
	ProviderPaymentID string `json:"razorpay_payment_id"`
	Signature         string `json:"razorpay_signature"`
}
