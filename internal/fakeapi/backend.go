// Package fakeapi はクライアントの開発・テスト用にバックエンドAPIをメモリ上で再現する。
package fakeapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// 料金計算の定数。
const (
	PlatformFee = 5.0
	DeliveryFee = 30.0
	GSTRate     = 0.05

	// MaxLineQuantity は1明細あたりの数量上限。
	MaxLineQuantity = 20

	// PaymentKey は決済プロバイダーの公開キー（テスト用）。
	PaymentKey = "rzp_test_homechef"
)

// rejection は業務ルールによる拒否を表す。messageはそのままクライアントに返す。
type rejection struct {
	status  int
	message string
}

func (r *rejection) Error() string { return r.message }

func reject(status int, format string, args ...any) error {
	return &rejection{status: status, message: fmt.Sprintf(format, args...)}
}

// User はログインしたユーザーを表す。
type User struct {
	ID          string `json:"_id"`
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name"`
}

// Address はユーザーが登録した配送先を表す。
type Address struct {
	ID          string     `json:"_id"`
	Label       string     `json:"label"`
	FlatNo      string     `json:"flat_no"`
	Landmark    string     `json:"landmark"`
	Area        string     `json:"area"`
	Coordinates [2]float64 `json:"coordinates"`
	IsDefault   bool       `json:"is_default"`
}

// CartItem はカート明細のレスポンス表現。
type CartItem struct {
	FoodID      string  `json:"food_id"`
	VendorID    string  `json:"vendor_id"`
	FoodName    string  `json:"food_name"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	PhotoURL    string  `json:"photo_url"`
	ChefDetails *Chef   `json:"chef_details,omitempty"`
}

// BillingSummary はカートの請求内訳。
type BillingSummary struct {
	Subtotal    float64 `json:"subtotal"`
	PlatformFee float64 `json:"platform_fee"`
	GST         float64 `json:"gst"`
	DeliveryFee float64 `json:"delivery_fee"`
	GrandTotal  float64 `json:"grand_total"`
}

// Cart はカートのレスポンス表現。空のカートでは請求内訳を返さない。
type Cart struct {
	Items          []CartItem      `json:"items"`
	BillingSummary *BillingSummary `json:"billing_summary"`
}

// OrderItem は注文明細。
type OrderItem struct {
	FoodID   string  `json:"food_id"`
	VendorID string  `json:"vendor_id,omitempty"`
	Name     string  `json:"food_name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Order は作成済みの注文。
type Order struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	PaymentMethod string      `json:"payment_method"`
	AddressID     string      `json:"address_id"`
	Items         []OrderItem `json:"items"`
	Total         float64     `json:"total"`
	CreatedAt     time.Time   `json:"created_at"`
}

// PaymentOrder はオンライン決済の開始時に返す決済注文。
type PaymentOrder struct {
	Key             string  `json:"key"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	ProviderOrderID string  `json:"razorpay_order_id"`
	User            *User   `json:"user"`
	total           float64 // 検証成功時の注文金額
	userID          string
}

type lineKey struct {
	foodID   string
	vendorID string
}

type cartLine struct {
	dish     Dish
	quantity int
}

type userCart struct {
	order []lineKey
	lines map[lineKey]*cartLine
}

// Options は開発用バックエンドの設定。
type Options struct {
	// Secret はアクセストークンと決済署名の鍵。
	Secret string
	// TokenTTL はアクセストークンの有効期間。0以下の場合は24時間。
	TokenTTL time.Duration
	// Catalog は販売するメニュー。空の場合はDefaultCatalogを使う。
	Catalog *Catalog
}

// Backend は開発用バックエンドの状態を保持する。全操作はゴルーチンセーフ。
type Backend struct {
	secret   []byte
	tokenTTL time.Duration
	catalog  Catalog
	now      func() time.Time

	mu        sync.Mutex
	users     map[string]*User // phone_number → user
	usersByID map[string]*User
	carts     map[string]*userCart
	addresses map[string][]Address
	orders    map[string][]Order
	payments  map[string]*PaymentOrder
}

// NewBackend は空のBackendを生成する。
func NewBackend(opts Options) *Backend {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Secret == "" {
		opts.Secret = "homechef-dev-secret"
	}
	catalog := DefaultCatalog()
	if opts.Catalog != nil {
		catalog = *opts.Catalog
	}
	return &Backend{
		secret:    []byte(opts.Secret),
		tokenTTL:  opts.TokenTTL,
		catalog:   catalog,
		now:       time.Now,
		users:     make(map[string]*User),
		usersByID: make(map[string]*User),
		carts:     make(map[string]*userCart),
		addresses: make(map[string][]Address),
		orders:    make(map[string][]Order),
		payments:  make(map[string]*PaymentOrder),
	}
}

// Login は電話番号でユーザーを検索または作成し、アクセストークンを発行する。
func (b *Backend) Login(phone string) (*User, string, error) {
	phone = strings.TrimSpace(phone)
	if !validPhone(phone) {
		return nil, "", reject(http.StatusBadRequest, "Please enter a valid phone number")
	}

	b.mu.Lock()
	u, ok := b.users[phone]
	if !ok {
		u = &User{ID: uuid.NewString(), PhoneNumber: phone, Name: "Guest " + phone[len(phone)-4:]}
		b.users[phone] = u
		b.usersByID[u.ID] = u
	}
	user := *u
	b.mu.Unlock()

	now := b.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(b.tokenTTL)),
	})
	signed, err := token.SignedString(b.secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return &user, signed, nil
}

func validPhone(phone string) bool {
	if len(phone) < 10 || len(phone) > 15 {
		return false
	}
	for i, r := range phone {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// UserIDForToken はアクセストークンを検証し、ユーザーIDを返す。
func (b *Backend) UserIDForToken(token string) (string, bool) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.now))
	if err != nil {
		return "", false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.usersByID[claims.Subject]; !ok {
		return "", false
	}
	return claims.Subject, true
}

// --- カート ---

// Cart はユーザーのカートを返す。
func (b *Backend) Cart(userID string) Cart {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cartLocked(userID)
}

// AddToCart はカートに料理を追加する。
func (b *Backend) AddToCart(userID, foodID, vendorID string, quantity int) (Cart, error) {
	if foodID == "" {
		return Cart{}, reject(http.StatusBadRequest, "food_id is required")
	}
	if quantity <= 0 {
		return Cart{}, reject(http.StatusBadRequest, "Quantity must be at least 1")
	}
	dish, ok := b.catalog.dish(foodID, vendorID)
	if !ok {
		return Cart{}, reject(http.StatusNotFound, "Food item not found")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.userCartLocked(userID)
	key := lineKey{foodID: dish.FoodID, vendorID: dish.VendorID}
	line, exists := c.lines[key]
	if !exists {
		line = &cartLine{dish: dish}
	}
	if line.quantity+quantity > MaxLineQuantity {
		return Cart{}, reject(http.StatusBadRequest, "You can order at most %d of %s", MaxLineQuantity, dish.Name)
	}
	line.quantity += quantity
	if !exists {
		c.lines[key] = line
		c.order = append(c.order, key)
	}
	return b.cartLocked(userID), nil
}

// RemoveFromCart はカートから料理を減らす。数量が0以下になった明細は削除する。
func (b *Backend) RemoveFromCart(userID, foodID, vendorID string, quantity int) (Cart, error) {
	if quantity <= 0 {
		return Cart{}, reject(http.StatusBadRequest, "Quantity must be at least 1")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.userCartLocked(userID)
	key, ok := c.find(foodID, vendorID)
	if !ok {
		return Cart{}, reject(http.StatusNotFound, "Item not found in cart")
	}
	line := c.lines[key]
	line.quantity -= quantity
	if line.quantity <= 0 {
		c.remove(key)
	}
	return b.cartLocked(userID), nil
}

func (c *userCart) find(foodID, vendorID string) (lineKey, bool) {
	for _, k := range c.order {
		if k.foodID == foodID && (vendorID == "" || k.vendorID == vendorID) {
			return k, true
		}
	}
	return lineKey{}, false
}

func (c *userCart) remove(key lineKey) {
	delete(c.lines, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (b *Backend) userCartLocked(userID string) *userCart {
	c, ok := b.carts[userID]
	if !ok {
		c = &userCart{lines: make(map[lineKey]*cartLine)}
		b.carts[userID] = c
	}
	return c
}

func (b *Backend) cartLocked(userID string) Cart {
	out := Cart{Items: []CartItem{}}
	c, ok := b.carts[userID]
	if !ok || len(c.order) == 0 {
		return out
	}
	var subtotal float64
	for _, k := range c.order {
		line := c.lines[k]
		out.Items = append(out.Items, CartItem{
			FoodID:      line.dish.FoodID,
			VendorID:    line.dish.VendorID,
			FoodName:    line.dish.Name,
			Price:       line.dish.Price,
			Quantity:    line.quantity,
			PhotoURL:    line.dish.PhotoURL,
			ChefDetails: b.catalog.chef(line.dish.VendorID),
		})
		subtotal += line.dish.Price * float64(line.quantity)
	}
	summary := bill(subtotal)
	out.BillingSummary = &summary
	return out
}

// bill は小計から請求内訳を計算する。
func bill(subtotal float64) BillingSummary {
	gst := math.Round(subtotal*GSTRate*100) / 100
	return BillingSummary{
		Subtotal:    subtotal,
		PlatformFee: PlatformFee,
		GST:         gst,
		DeliveryFee: DeliveryFee,
		GrandTotal:  subtotal + PlatformFee + gst + DeliveryFee,
	}
}

// --- 住所 ---

// AddressInput は住所の登録・更新リクエスト。
type AddressInput struct {
	Label       string     `json:"label"`
	FlatNo      string     `json:"flat_no"`
	Landmark    string     `json:"landmark"`
	Area        string     `json:"area"`
	Coordinates [2]float64 `json:"coordinates"`
	IsDefault   bool       `json:"is_default"`
}

func (in AddressInput) validate() error {
	var missing []string
	if strings.TrimSpace(in.Label) == "" {
		missing = append(missing, "label")
	}
	if strings.TrimSpace(in.FlatNo) == "" {
		missing = append(missing, "flat_no")
	}
	if strings.TrimSpace(in.Landmark) == "" {
		missing = append(missing, "landmark")
	}
	if strings.TrimSpace(in.Area) == "" {
		missing = append(missing, "area")
	}
	if in.Coordinates[0] == 0 && in.Coordinates[1] == 0 {
		missing = append(missing, "coordinates")
	}
	if len(missing) > 0 {
		return reject(http.StatusBadRequest, "Missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Addresses はユーザーの住所一覧を返す。
func (b *Backend) Addresses(userID string) []Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Address{}, b.addresses[userID]...)
}

// CreateAddress は住所を登録する。最初の住所は既定の住所になる。
func (b *Backend) CreateAddress(userID string, in AddressInput) (Address, error) {
	if err := in.validate(); err != nil {
		return Address{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.addresses[userID]
	addr := Address{
		ID:          uuid.NewString(),
		Label:       in.Label,
		FlatNo:      in.FlatNo,
		Landmark:    in.Landmark,
		Area:        in.Area,
		Coordinates: in.Coordinates,
		IsDefault:   in.IsDefault || len(list) == 0,
	}
	if addr.IsDefault {
		clearDefault(list)
	}
	b.addresses[userID] = append(list, addr)
	return addr, nil
}

// UpdateAddress は住所を更新する。
func (b *Backend) UpdateAddress(userID, id string, in AddressInput) (Address, error) {
	if err := in.validate(); err != nil {
		return Address{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.addresses[userID]
	for i := range list {
		if list[i].ID != id {
			continue
		}
		if in.IsDefault {
			clearDefault(list)
		}
		list[i].Label = in.Label
		list[i].FlatNo = in.FlatNo
		list[i].Landmark = in.Landmark
		list[i].Area = in.Area
		list[i].Coordinates = in.Coordinates
		list[i].IsDefault = in.IsDefault || list[i].IsDefault
		return list[i], nil
	}
	return Address{}, reject(http.StatusNotFound, "Address not found")
}

// DeleteAddress は住所を削除する。
func (b *Backend) DeleteAddress(userID, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.addresses[userID]
	for i := range list {
		if list[i].ID == id {
			b.addresses[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return reject(http.StatusNotFound, "Address not found")
}

func clearDefault(list []Address) {
	for i := range list {
		list[i].IsDefault = false
	}
}

func (b *Backend) hasAddressLocked(userID, id string) bool {
	for _, a := range b.addresses[userID] {
		if a.ID == id {
			return true
		}
	}
	return false
}

// --- 注文 ---

// OrderInput は注文作成リクエスト。
type OrderInput struct {
	AddressID     string `json:"address_id"`
	PaymentMethod string `json:"payment_method"`
	Items         []struct {
		FoodID   string `json:"food_id"`
		VendorID string `json:"vendor_id"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
}

// CreateOrder は注文を作成し、サーバー側のカートを空にする。
func (b *Backend) CreateOrder(userID string, in OrderInput) (Order, error) {
	if in.AddressID == "" {
		return Order{}, reject(http.StatusBadRequest, "Delivery address is required")
	}
	if len(in.Items) == 0 {
		return Order{}, reject(http.StatusBadRequest, "Order must contain at least one item")
	}
	method := strings.ToUpper(strings.TrimSpace(in.PaymentMethod))
	if method == "" {
		return Order{}, reject(http.StatusBadRequest, "Payment method is required")
	}

	items := make([]OrderItem, 0, len(in.Items))
	var subtotal float64
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return Order{}, reject(http.StatusBadRequest, "Invalid quantity for %s", it.FoodID)
		}
		dish, ok := b.catalog.dish(it.FoodID, it.VendorID)
		if !ok {
			return Order{}, reject(http.StatusBadRequest, "Food item %s is no longer available", it.FoodID)
		}
		items = append(items, OrderItem{
			FoodID:   dish.FoodID,
			VendorID: dish.VendorID,
			Name:     dish.Name,
			Price:    dish.Price,
			Quantity: it.Quantity,
		})
		subtotal += dish.Price * float64(it.Quantity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasAddressLocked(userID, in.AddressID) {
		return Order{}, reject(http.StatusBadRequest, "Invalid delivery address")
	}

	order := Order{
		ID:            uuid.NewString(),
		Status:        "placed",
		PaymentMethod: method,
		AddressID:     in.AddressID,
		Items:         items,
		Total:         bill(subtotal).GrandTotal,
		CreatedAt:     b.now().UTC(),
	}
	b.orders[userID] = append(b.orders[userID], order)
	delete(b.carts, userID)
	return order, nil
}

// Orders はユーザーの注文履歴を新しい順に返す。
func (b *Backend) Orders(userID string) []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]Order{}, b.orders[userID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CreatePaymentOrder はサーバー側のカート内容からオンライン決済の注文を作成する。
func (b *Backend) CreatePaymentOrder(userID string) (*PaymentOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cart := b.cartLocked(userID)
	if len(cart.Items) == 0 {
		return nil, reject(http.StatusBadRequest, "Your cart is empty")
	}
	user := *b.usersByID[userID]
	po := &PaymentOrder{
		Key:             PaymentKey,
		Amount:          int64(math.Round(cart.BillingSummary.GrandTotal * 100)),
		Currency:        "INR",
		ProviderOrderID: "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		User:            &user,
		total:           cart.BillingSummary.GrandTotal,
		userID:          userID,
	}
	b.payments[po.ProviderOrderID] = po
	return po, nil
}

// PaymentInput は決済検証リクエスト。
type PaymentInput struct {
	ProviderOrderID   string `json:"razorpay_order_id"`
	ProviderPaymentID string `json:"razorpay_payment_id"`
	Signature         string `json:"razorpay_signature"`
}

// SignPayment は決済プロバイダーと同じ方式で署名を計算する。
// HMAC-SHA256("{order_id}|{payment_id}") の16進表現。
func (b *Backend) SignPayment(providerOrderID, providerPaymentID string) string {
	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(providerOrderID + "|" + providerPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayment は決済署名を検証し、成功した場合は注文を確定してカートを空にする。
func (b *Backend) VerifyPayment(userID string, in PaymentInput) (Order, error) {
	expected := b.SignPayment(in.ProviderOrderID, in.ProviderPaymentID)

	b.mu.Lock()
	defer b.mu.Unlock()

	po, ok := b.payments[in.ProviderOrderID]
	if !ok || po.userID != userID {
		return Order{}, reject(http.StatusBadRequest, "Unknown payment order")
	}
	if !hmac.Equal([]byte(expected), []byte(in.Signature)) {
		return Order{}, reject(http.StatusBadRequest, "Payment verification failed")
	}

	cart := b.cartLocked(userID)
	items := make([]OrderItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, OrderItem{
			FoodID:   it.FoodID,
			VendorID: it.VendorID,
			Name:     it.FoodName,
			Price:    it.Price,
			Quantity: it.Quantity,
		})
	}
	order := Order{
		ID:            uuid.NewString(),
		Status:        "paid",
		PaymentMethod: "RAZORPAY",
		Items:         items,
		Total:         po.total,
		CreatedAt:     b.now().UTC(),
	}
	b.orders[userID] = append(b.orders[userID], order)
	delete(b.payments, in.ProviderOrderID)
	delete(b.carts, userID)
	return order, nil
}
