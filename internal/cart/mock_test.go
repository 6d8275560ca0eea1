package cart

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/hitoshi/homechef/internal/apiclient"
	"github.com/hitoshi/homechef/internal/model"
)

// fakeSession はSessionのテスト用実装。
type fakeSession struct {
	mu       sync.Mutex
	loggedIn bool
	gen      uint64
}

func (f *fakeSession) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeSession) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func (f *fakeSession) switchUser(loggedIn bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedIn = loggedIn
	f.gen++
}

// fakeAPI はサーバー側のカートをメモリ上で再現するAPIのテスト用実装。
// 各フィールドに関数を設定すると、その呼び出しの挙動を差し替えられる。
type fakeAPI struct {
	mu        sync.Mutex
	items     map[string]apiclient.CartItem
	fee       float64
	getCalls  int
	removeQty []int
	orders    []apiclient.CreateOrderRequest

	getCartFn     func() error
	addFn         func() error
	removeFn      func() error
	createOrderFn func(req apiclient.CreateOrderRequest) (*model.Order, error)
	verifyFn      func(v model.PaymentVerification) (*model.Order, error)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: make(map[string]apiclient.CartItem), fee: 30}
}

// seed はサーバー側のカートに明細を直接追加する。
func (f *fakeAPI) seed(item apiclient.CartItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[model.CartKey(item.FoodID, item.VendorID)] = item
}

func (f *fakeAPI) GetCart(ctx context.Context) (*apiclient.ServerCart, error) {
	f.mu.Lock()
	hook := f.getCartFn
	f.getCalls++
	f.mu.Unlock()
	if hook != nil {
		if err := hook(); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cart := &apiclient.ServerCart{}
	subtotal := 0.0
	for _, k := range keys {
		item := f.items[k]
		cart.Items = append(cart.Items, item)
		subtotal += item.Price * float64(item.Quantity)
	}
	if len(cart.Items) > 0 {
		cart.BillingSummary = &model.BillingSummary{
			Subtotal:    subtotal,
			PlatformFee: 5,
			GST:         subtotal * 0.05,
			DeliveryFee: f.fee,
			GrandTotal:  subtotal + 5 + subtotal*0.05 + f.fee,
		}
	}
	return cart, nil
}

func (f *fakeAPI) AddToCart(ctx context.Context, foodID, vendorID string, quantity int) error {
	if f.addFn != nil {
		if err := f.addFn(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.CartKey(foodID, vendorID)
	item, ok := f.items[key]
	if !ok {
		item = apiclient.CartItem{FoodID: foodID, VendorID: vendorID, FoodName: "Dish " + foodID, Price: 100}
	}
	item.Quantity += quantity
	f.items[key] = item
	return nil
}

func (f *fakeAPI) RemoveFromCart(ctx context.Context, foodID, vendorID string, quantity int) error {
	if f.removeFn != nil {
		if err := f.removeFn(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeQty = append(f.removeQty, quantity)
	key := model.CartKey(foodID, vendorID)
	item, ok := f.items[key]
	if !ok {
		return model.NewRejectedError(404, "Item not in cart")
	}
	item.Quantity -= quantity
	if item.Quantity <= 0 {
		delete(f.items, key)
	} else {
		f.items[key] = item
	}
	return nil
}

func (f *fakeAPI) CreateOrder(ctx context.Context, req apiclient.CreateOrderRequest) (*model.Order, error) {
	f.mu.Lock()
	f.orders = append(f.orders, req)
	f.mu.Unlock()
	if f.createOrderFn != nil {
		return f.createOrderFn(req)
	}
	f.mu.Lock()
	f.items = make(map[string]apiclient.CartItem)
	f.mu.Unlock()
	return &model.Order{ID: "O1", Status: "placed", PaymentMethod: req.PaymentMethod, AddressID: req.AddressID, Items: req.Items}, nil
}

func (f *fakeAPI) CreatePaymentOrder(ctx context.Context) (*model.PaymentOrder, error) {
	return &model.PaymentOrder{Key: "rzp_test", Amount: 24500, Currency: "INR", ProviderOrderID: "order_1"}, nil
}

func (f *fakeAPI) VerifyPayment(ctx context.Context, v model.PaymentVerification) (*model.Order, error) {
	if f.verifyFn != nil {
		return f.verifyFn(v)
	}
	return &model.Order{ID: "O2", Status: "paid", PaymentMethod: model.PaymentMethodRazorpay}, nil
}

func (f *fakeAPI) ResolveAssetURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http") {
		return path
	}
	return "http://assets.test" + path
}

var errBoom = errors.New("boom")
