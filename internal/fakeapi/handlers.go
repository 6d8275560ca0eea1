package fakeapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/homechef/internal/middleware"
	"github.com/hitoshi/homechef/internal/model"
)

// maxRequestBytes はリクエストボディの上限。
const maxRequestBytes = 64 << 10

// Handler は開発用バックエンドのHTTPハンドラー。
type Handler struct {
	backend *Backend
	logger  *slog.Logger
}

// NewHandler はHandlerを生成する。
func NewHandler(backend *Backend, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{backend: backend, logger: logger}
}

type loginRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type cartMutationRequest struct {
	FoodID   string `json:"food_id"`
	VendorID string `json:"vendor_id"`
	Quantity int    `json:"quantity"`
}

// Login はアクセストークンを発行する。
// POST /login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, token, err := h.backend.Login(req.PhoneNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("user logged in", slog.String("user_id", user.ID))
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"access_token": token,
		"token_type":   model.DefaultTokenType,
		"user":         user,
	})
}

// GetCart はカートを返す。
// GET /cart/me
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"cart":   h.backend.Cart(userID),
	})
}

// AddToCart はカートに料理を追加する。
// POST /cart/add
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req cartMutationRequest
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.backend.AddToCart(userID, req.FoodID, req.VendorID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Item added to cart",
		"cart":    cart,
	})
}

// RemoveFromCart はカートから料理を減らす。
// POST /cart/remove
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req cartMutationRequest
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.backend.RemoveFromCart(userID, req.FoodID, req.VendorID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Item removed from cart",
		"cart":    cart,
	})
}

// ListAddresses は住所一覧を返す。
// GET /user/address
func (h *Handler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"address": h.backend.Addresses(userID),
	})
}

// CreateAddress は住所を登録する。
// POST /user/address
func (h *Handler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var in AddressInput
	if !h.decode(w, r, &in) {
		return
	}

	addr, err := h.backend.CreateAddress(userID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]any{
		"status":  "success",
		"address": addr,
	})
}

// UpdateAddress は住所を更新する。
// PUT /user/address/{id}
func (h *Handler) UpdateAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var in AddressInput
	if !h.decode(w, r, &in) {
		return
	}

	addr, err := h.backend.UpdateAddress(userID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"address": addr,
	})
}

// DeleteAddress は住所を削除する。
// DELETE /user/address/{id}
func (h *Handler) DeleteAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.backend.DeleteAddress(userID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Address deleted",
	})
}

// CreateOrder は注文を作成する。
// POST /orders/create
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var in OrderInput
	if !h.decode(w, r, &in) {
		return
	}

	order, err := h.backend.CreateOrder(userID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("order created",
		slog.String("user_id", userID),
		slog.String("order_id", order.ID),
		slog.Int("items", len(order.Items)),
	)
	middleware.WriteJSON(w, http.StatusCreated, map[string]any{
		"status": "success",
		"order":  order,
	})
}

// ListOrders は注文履歴を返す。
// GET /orders/me
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"orders": h.backend.Orders(userID),
	})
}

// CreatePaymentOrder はオンライン決済用の注文を作成する。
// POST /orders/create-payment-order
func (h *Handler) CreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	po, err := h.backend.CreatePaymentOrder(userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, po)
}

// VerifyPayment は決済署名を検証して注文を確定する。
// POST /orders/verify-payment
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var in PaymentInput
	if !h.decode(w, r, &in) {
		return
	}

	order, err := h.backend.VerifyPayment(userID, in)
	if err != nil {
		var rej *rejection
		if errors.As(err, &rej) {
			// 決済検証の失敗は200でstatus=failureを返す
			middleware.WriteJSON(w, http.StatusOK, map[string]any{
				"status":  "failure",
				"message": rej.message,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"order":  order,
	})
}

// Health は稼働確認用のエンドポイント。
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// userID は認証ミドルウェアが注入したユーザーIDを取り出す。
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredError())
		return "", false
	}
	return userID, true
}

// decode はJSONボディを読み込む。失敗した場合は400を書き込んでfalseを返す。
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteRejected(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeError はバックエンドのエラーをHTTPレスポンスに変換する。
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *rejection
	if errors.As(err, &rej) {
		middleware.WriteRejected(w, rej.status, rej.message)
		return
	}
	h.logger.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}
