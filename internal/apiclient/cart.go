package apiclient

import (
	"context"
	"net/http"

	"github.com/hitoshi/homechef/internal/model"
)

// ChefDetails はカート明細に付随する出品者（シェフ）の情報。
type ChefDetails struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	NativePlace string `json:"native_place"`
	PhotoURL    string `json:"photo_url"`
}

// CartItem はサーバーが返すカート明細。
// 画像パスは相対パスのまま返るため、利用側でResolveAssetURLを通す。
type CartItem struct {
	FoodID      string       `json:"food_id"`
	FoodName    string       `json:"food_name"`
	Price       float64      `json:"price"`
	Quantity    int          `json:"quantity"`
	PhotoURL    string       `json:"photo_url"`
	VendorID    string       `json:"vendor_id"`
	ChefDetails *ChefDetails `json:"chef_details"`
}

// Vendor は明細の出品者IDを返す。vendor_idが無い場合はchef_detailsから補完する。
func (i CartItem) Vendor() string {
	if i.VendorID != "" {
		return i.VendorID
	}
	if i.ChefDetails != nil {
		return i.ChefDetails.ID
	}
	return ""
}

// ServerCart はGET /cart/meのcart部分。
type ServerCart struct {
	Items          []CartItem            `json:"items"`
	BillingSummary *model.BillingSummary `json:"billing_summary"`
}

type cartResponse struct {
	Cart *ServerCart `json:"cart"`
}

type cartMutation struct {
	FoodID   string `json:"food_id"`
	VendorID string `json:"vendor_id,omitempty"`
	Quantity int    `json:"quantity"`
}

// GetCart はログイン中ユーザーのカートを取得する。
// cartが返らない場合は空のカートとして扱う。
func (c *Client) GetCart(ctx context.Context) (*ServerCart, error) {
	var resp cartResponse
	err := c.do(ctx, request{
		endpoint: "cart.get",
		method:   http.MethodGet,
		path:     "/cart/me",
		auth:     true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Cart == nil {
		return &ServerCart{}, nil
	}
	return resp.Cart, nil
}

// AddToCart はカートに料理を追加する。
func (c *Client) AddToCart(ctx context.Context, foodID, vendorID string, quantity int) error {
	return c.do(ctx, request{
		endpoint: "cart.add",
		method:   http.MethodPost,
		path:     "/cart/add",
		body:     cartMutation{FoodID: foodID, VendorID: vendorID, Quantity: quantity},
		auth:     true,
	}, nil)
}

// RemoveFromCart はカートから料理を指定数量だけ取り除く。
func (c *Client) RemoveFromCart(ctx context.Context, foodID, vendorID string, quantity int) error {
	return c.do(ctx, request{
		endpoint: "cart.remove",
		method:   http.MethodPost,
		path:     "/cart/remove",
		body:     cartMutation{FoodID: foodID, VendorID: vendorID, Quantity: quantity},
		auth:     true,
	}, nil)
}
