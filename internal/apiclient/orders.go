package apiclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/homechef/internal/model"
)

// CreateOrderRequest は注文作成APIのリクエスト。
type CreateOrderRequest struct {
	AddressID     string              `json:"address_id"`
	PaymentMethod model.PaymentMethod `json:"payment_method"`
	Items         []model.OrderItem   `json:"items"`
}

type orderResponse struct {
	Order json.RawMessage `json:"order"`
}

// CreateOrder は注文を作成する。
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	var resp orderResponse
	err := c.do(ctx, request{
		endpoint: "orders.create",
		method:   http.MethodPost,
		path:     "/orders/create",
		body:     req,
		auth:     true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.decodeOrder("orders.create", resp.Order)
}

// CreatePaymentOrder はオンライン決済用の決済注文を作成する。
// 決済対象はサーバー側のカート内容で決まるため、リクエストボディは送らない。
func (c *Client) CreatePaymentOrder(ctx context.Context) (*model.PaymentOrder, error) {
	var order model.PaymentOrder
	err := c.do(ctx, request{
		endpoint: "orders.create_payment",
		method:   http.MethodPost,
		path:     "/orders/create-payment-order",
		auth:     true,
	}, &order)
	if err != nil {
		return nil, err
	}
	if order.ProviderOrderID == "" {
		return nil, c.fail("orders.create_payment", model.NewInvalidResponseError("razorpay_order_id is missing"))
	}
	return &order, nil
}

// VerifyPayment は決済プロバイダーの結果をサーバーで検証する。
// statusがsuccess以外の場合は決済未確認エラーを返す。
func (c *Client) VerifyPayment(ctx context.Context, v model.PaymentVerification) (*model.Order, error) {
	var resp orderResponse
	err := c.do(ctx, request{
		endpoint: "orders.verify_payment",
		method:   http.MethodPost,
		path:     "/orders/verify-payment",
		body:     v,
		auth:     true,
	}, &resp)
	if err != nil {
		if apiErr, ok := model.AsAPIError(err); ok && apiErr.Category == model.CategoryBusiness {
			return nil, model.NewPaymentNotVerifiedError()
		}
		return nil, err
	}
	return c.decodeOrder("orders.verify_payment", resp.Order)
}

// decodeOrder は注文オブジェクトをデコードし、元のJSONをRawに保持する。
func (c *Client) decodeOrder(endpoint string, raw json.RawMessage) (*model.Order, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, c.fail(endpoint, model.NewInvalidResponseError("order is missing"))
	}
	var order model.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, c.fail(endpoint, model.NewInvalidResponseError(err.Error()))
	}
	order.Raw = raw
	return &order, nil
}
