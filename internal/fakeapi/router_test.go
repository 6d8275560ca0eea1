package fakeapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/homechef/internal/middleware"
)

func newTestServer(t *testing.T) (*httptest.Server, *Backend) {
	t.Helper()
	backend := NewBackend(Options{Secret: "test-secret"})
	server := httptest.NewServer(NewRouter(&RouterDeps{Backend: backend}))
	t.Cleanup(server.Close)
	return server, backend
}

func doJSON(t *testing.T, method, url, auth string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp, out
}

func login(t *testing.T, server *httptest.Server, phone string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/login", "", map[string]string{"phone_number": phone})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body = %v", resp.StatusCode, body)
	}
	return body["token_type"].(string) + " " + body["access_token"].(string)
}

func TestLogin_IssuesToken(t *testing.T) {
	server, backend := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/login", "", map[string]string{"phone_number": "9876543210"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "success" {
		t.Errorf("status field = %v, want success", body["status"])
	}
	if body["token_type"] != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", body["token_type"])
	}
	token, _ := body["access_token"].(string)
	if _, ok := backend.UserIDForToken(token); !ok {
		t.Error("issued token should resolve to a user")
	}
}

func TestLogin_SamePhoneSameUser(t *testing.T) {
	backend := NewBackend(Options{Secret: "s"})

	u1, _, err := backend.Login("9876543210")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	u2, _, err := backend.Login("9876543210")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if u1.ID != u2.ID {
		t.Errorf("user IDs differ: %q vs %q", u1.ID, u2.ID)
	}
}

func TestLogin_InvalidPhone(t *testing.T) {
	server, _ := newTestServer(t)

	for _, phone := range []string{"", "123", "98765abcde"} {
		resp, body := doJSON(t, http.MethodPost, server.URL+"/api/login", "", map[string]string{"phone_number": phone})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("phone %q: status = %d, want 400", phone, resp.StatusCode)
		}
		if body["message"] == "" {
			t.Errorf("phone %q: message should not be empty", phone)
		}
	}
}

func TestUserIDForToken_RejectsForeignAndExpiredTokens(t *testing.T) {
	backend := NewBackend(Options{Secret: "secret-a", TokenTTL: time.Hour})
	other := NewBackend(Options{Secret: "secret-b"})

	_, foreign, err := other.Login("9876543210")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, ok := backend.UserIDForToken(foreign); ok {
		t.Error("token signed with another secret should be rejected")
	}

	_, token, err := backend.Login("9876543210")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	backend.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, ok := backend.UserIDForToken(token); ok {
		t.Error("expired token should be rejected")
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/cart/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["status"] != "error" {
		t.Errorf("status field = %v, want error", body["status"])
	}
}

func TestCart_AddRemoveAndBilling(t *testing.T) {
	server, _ := newTestServer(t)
	auth := login(t, server, "9876543210")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/cart/add", auth,
		map[string]any{"food_id": "F1", "vendor_id": "V1", "quantity": 2})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d", resp.StatusCode)
	}

	_, body := doJSON(t, http.MethodGet, server.URL+"/api/cart/me", auth, nil)
	cart := body["cart"].(map[string]any)
	items := cart["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	item := items[0].(map[string]any)
	if item["quantity"].(float64) != 2 {
		t.Errorf("quantity = %v, want 2", item["quantity"])
	}
	if item["chef_details"].(map[string]any)["_id"] != "V1" {
		t.Errorf("chef_details._id = %v, want V1", item["chef_details"])
	}
	summary := cart["billing_summary"].(map[string]any)
	if summary["subtotal"].(float64) != 200 {
		t.Errorf("subtotal = %v, want 200", summary["subtotal"])
	}
	if summary["grand_total"].(float64) != 200+PlatformFee+10+DeliveryFee {
		t.Errorf("grand_total = %v", summary["grand_total"])
	}

	doJSON(t, http.MethodPost, server.URL+"/api/cart/remove", auth,
		map[string]any{"food_id": "F1", "vendor_id": "V1", "quantity": 2})

	_, body = doJSON(t, http.MethodGet, server.URL+"/api/cart/me", auth, nil)
	cart = body["cart"].(map[string]any)
	if len(cart["items"].([]any)) != 0 {
		t.Errorf("items = %v, want empty", cart["items"])
	}
	if cart["billing_summary"] != nil {
		t.Errorf("billing_summary = %v, want null for an empty cart", cart["billing_summary"])
	}
}

func TestCart_SameFoodDifferentVendorsAreSeparateLines(t *testing.T) {
	backend := NewBackend(Options{})
	user, _, _ := backend.Login("9876543210")

	if _, err := backend.AddToCart(user.ID, "F1", "V1", 1); err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	cart, err := backend.AddToCart(user.ID, "F1", "V2", 1)
	if err != nil {
		t.Fatalf("AddToCart() error = %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(cart.Items))
	}
	if cart.BillingSummary.Subtotal != 220 {
		t.Errorf("subtotal = %v, want 220", cart.BillingSummary.Subtotal)
	}
}

func TestCart_Rejections(t *testing.T) {
	server, _ := newTestServer(t)
	auth := login(t, server, "9876543210")

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"unknown food", "/api/cart/add", map[string]any{"food_id": "NOPE", "quantity": 1}, http.StatusNotFound},
		{"zero quantity", "/api/cart/add", map[string]any{"food_id": "F1", "quantity": 0}, http.StatusBadRequest},
		{"over limit", "/api/cart/add", map[string]any{"food_id": "F1", "vendor_id": "V1", "quantity": MaxLineQuantity + 1}, http.StatusBadRequest},
		{"remove missing line", "/api/cart/remove", map[string]any{"food_id": "F2", "quantity": 1}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, server.URL+tt.path, auth, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if msg, _ := body["message"].(string); msg == "" {
				t.Error("message should carry the rejection reason")
			}
		})
	}
}

func TestAddresses_CRUD(t *testing.T) {
	server, _ := newTestServer(t)
	auth := login(t, server, "9876543210")

	input := map[string]any{
		"label": "Home", "flat_no": "12A", "landmark": "Near Park", "area": "HSR",
		"coordinates": []float64{77.64, 12.91},
	}
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/user/address", auth, input)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body = %v", resp.StatusCode, body)
	}
	created := body["address"].(map[string]any)
	id := created["_id"].(string)
	if created["is_default"] != true {
		t.Error("first address should become the default")
	}

	input["landmark"] = "Opposite Temple"
	resp, body = doJSON(t, http.MethodPut, server.URL+"/api/user/address/"+id, auth, input)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	if body["address"].(map[string]any)["landmark"] != "Opposite Temple" {
		t.Errorf("landmark = %v", body["address"])
	}

	_, body = doJSON(t, http.MethodGet, server.URL+"/api/user/address", auth, nil)
	if n := len(body["address"].([]any)); n != 1 {
		t.Fatalf("addresses = %d, want 1", n)
	}

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/user/address/"+id, auth, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/user/address/"+id, auth, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestAddresses_MissingFieldsRejected(t *testing.T) {
	server, _ := newTestServer(t)
	auth := login(t, server, "9876543210")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/user/address", auth,
		map[string]any{"label": "Home"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["status"] != "error" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestAddresses_IsolatedPerUser(t *testing.T) {
	backend := NewBackend(Options{})
	a, _, _ := backend.Login("9000000001")
	b, _, _ := backend.Login("9000000002")

	addr, err := backend.CreateAddress(a.ID, AddressInput{
		Label: "Home", FlatNo: "1", Landmark: "L", Area: "A", Coordinates: [2]float64{77, 12},
	})
	if err != nil {
		t.Fatalf("CreateAddress() error = %v", err)
	}
	if got := backend.Addresses(b.ID); len(got) != 0 {
		t.Errorf("other user sees %d addresses, want 0", len(got))
	}
	if err := backend.DeleteAddress(b.ID, addr.ID); err == nil {
		t.Error("other user should not delete the address")
	}
}

func TestOrders_CreateClearsServerCart(t *testing.T) {
	backend := NewBackend(Options{})
	user, _, _ := backend.Login("9876543210")
	addr, _ := backend.CreateAddress(user.ID, AddressInput{
		Label: "Home", FlatNo: "1", Landmark: "L", Area: "A", Coordinates: [2]float64{77, 12},
	})
	backend.AddToCart(user.ID, "F1", "V1", 1)

	in := OrderInput{AddressID: addr.ID, PaymentMethod: "cod"}
	in.Items = append(in.Items, struct {
		FoodID   string `json:"food_id"`
		VendorID string `json:"vendor_id"`
		Quantity int    `json:"quantity"`
	}{FoodID: "F1", VendorID: "V1", Quantity: 1})

	order, err := backend.CreateOrder(user.ID, in)
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if order.PaymentMethod != "COD" {
		t.Errorf("payment_method = %q, want COD", order.PaymentMethod)
	}
	if len(backend.Cart(user.ID).Items) != 0 {
		t.Error("server cart should be empty after order")
	}
	if len(backend.Orders(user.ID)) != 1 {
		t.Error("order should be recorded")
	}

	in.AddressID = "unknown"
	if _, err := backend.CreateOrder(user.ID, in); err == nil {
		t.Error("order with an unknown address should be rejected")
	}
}

func TestPayment_VerifySignature(t *testing.T) {
	server, backend := newTestServer(t)
	auth := login(t, server, "9876543210")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/orders/create-payment-order", auth, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty cart: status = %d, want 400", resp.StatusCode)
	}

	doJSON(t, http.MethodPost, server.URL+"/api/cart/add", auth, map[string]any{"food_id": "F3", "quantity": 1})

	resp, po := doJSON(t, http.MethodPost, server.URL+"/api/orders/create-payment-order", auth, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create-payment-order status = %d", resp.StatusCode)
	}
	orderID := po["razorpay_order_id"].(string)
	// 280 + 5 + 14 + 30 = 329
	if po["amount"].(float64) != 32900 {
		t.Errorf("amount = %v, want 32900", po["amount"])
	}

	_, body := doJSON(t, http.MethodPost, server.URL+"/api/orders/verify-payment", auth, map[string]string{
		"razorpay_order_id": orderID, "razorpay_payment_id": "pay_1", "razorpay_signature": "bogus",
	})
	if body["status"] != "failure" {
		t.Errorf("bad signature: status = %v, want failure", body["status"])
	}

	_, body = doJSON(t, http.MethodPost, server.URL+"/api/orders/verify-payment", auth, map[string]string{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  backend.SignPayment(orderID, "pay_1"),
	})
	if body["status"] != "success" {
		t.Fatalf("status = %v, want success (body %v)", body["status"], body)
	}
	if body["order"].(map[string]any)["status"] != "paid" {
		t.Errorf("order = %v", body["order"])
	}

	_, body = doJSON(t, http.MethodGet, server.URL+"/api/cart/me", auth, nil)
	if n := len(body["cart"].(map[string]any)["items"].([]any)); n != 0 {
		t.Errorf("cart items after payment = %d, want 0", n)
	}
}

func TestRouter_RateLimitsLogin(t *testing.T) {
	backend := NewBackend(Options{})
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Minute}, nil)
	defer limiter.Stop()
	server := httptest.NewServer(NewRouter(&RouterDeps{Backend: backend, RateLimiter: limiter}))
	defer server.Close()

	body := map[string]string{"phone_number": "9876543210"}
	doJSON(t, http.MethodPost, server.URL+"/api/login", "", body)
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/login", "", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "success" {
		t.Errorf("status = %d, body = %v", resp.StatusCode, body)
	}
}
