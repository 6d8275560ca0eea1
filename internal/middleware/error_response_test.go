package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/homechef/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewIncompleteAddressError([]string{"area"}))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	if body.Status != "error" {
		t.Errorf("status field = %q, want %q", body.Status, "error")
	}
	if body.Code != model.ErrCodeIncompleteAddress {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeIncompleteAddress)
	}
	if body.Category != model.CategoryValidation {
		t.Errorf("category = %q, want %q", body.Category, model.CategoryValidation)
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

func TestWriteRejected_KeepsServerMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteRejected(w, http.StatusConflict, "Item from another chef already in cart")

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Message != "Item from another chef already in cart" {
		t.Errorf("message = %q", body.Message)
	}
	if body.Category != model.CategoryBusiness {
		t.Errorf("category = %q, want %q", body.Category, model.CategoryBusiness)
	}
}

// TestWriteInternalServerError_HidesDetails は500応答が内部詳細を含まないことを検証する。
func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" || body.Category != model.CategorySystem {
		t.Errorf("body = %+v", body)
	}
}

func TestRecoveryMiddleware_ReturnsJSON500(t *testing.T) {
	handler := NewRecoveryMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Status != "error" {
		t.Errorf("status field = %q, want %q", body.Status, "error")
	}
}
