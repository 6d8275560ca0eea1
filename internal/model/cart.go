// Package model はドメインモデルを定義する。
package model

// CartLine はカート内の1明細を表す。
// Keyは料理IDと出品者IDから成る複合キーで、カート内で一意。
type CartLine struct {
	Key            string  `json:"key"`
	FoodID         string  `json:"food_id"`
	VendorID       string  `json:"vendor_id,omitempty"`
	Name           string  `json:"name"`
	UnitPrice      float64 `json:"unit_price"`
	Quantity       int     `json:"quantity"`
	ImageURL       string  `json:"image_url,omitempty"`
	VendorName     string  `json:"vendor_name,omitempty"`
	VendorPhotoURL string  `json:"vendor_photo_url,omitempty"`
}

// LineTotal は単価×数量を返す。
func (l CartLine) LineTotal() float64 {
	return l.UnitPrice * float64(l.Quantity)
}

// CartKey は料理IDと出品者IDから複合キーを生成する。
// 出品者IDが空の場合は料理IDのみをキーとする。
func CartKey(foodID, vendorID string) string {
	if vendorID == "" {
		return foodID
	}
	return foodID + "-" + vendorID
}

// BillingSummary はサーバーが算出した請求内訳を表す。
type BillingSummary struct {
	Subtotal    float64 `json:"subtotal"`
	PlatformFee float64 `json:"platform_fee"`
	GST         float64 `json:"gst"`
	DeliveryFee float64 `json:"delivery_fee"`
	GrandTotal  float64 `json:"grand_total"`

	// Estimated はサーバー応答前のクライアント側見積もりであることを示す。
	// 見積もりは表示用であり、支払額として扱ってはならない。
	Estimated bool `json:"estimated,omitempty"`
}

// Cart はカートのスナップショットを表す。
type Cart struct {
	Lines   []CartLine      `json:"lines"`
	Summary *BillingSummary `json:"summary,omitempty"`
}

// CartState はカートストアの同期状態を表す。
type CartState string

const (
	// CartStateUninitialized はまだ一度も読み込んでいない状態。
	CartStateUninitialized CartState = "uninitialized"
	// CartStateLoading はサーバーから取得中の状態。
	CartStateLoading CartState = "loading"
	// CartStateReady は最後の取得または更新が完了した状態。
	CartStateReady CartState = "ready"
)

// FoodItem はカートに追加する料理を表す。
// 一覧画面などで表示している料理情報からそのまま組み立てる。
type FoodItem struct {
	FoodID         string
	VendorID       string
	Name           string
	Price          float64
	ImageURL       string
	VendorName     string
	VendorPhotoURL string
}

// Key はFoodItemの複合キーを返す。
func (f FoodItem) Key() string {
	return CartKey(f.FoodID, f.VendorID)
}
