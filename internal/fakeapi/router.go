package fakeapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/homechef/internal/middleware"
)

// APIPrefix は全エンドポイントの共通プレフィックス。
const APIPrefix = "/api"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Backend           *Backend
	Logger            *slog.Logger
	CORSAllowedOrigin string
	// RateLimiter がnilの場合はレート制限を行わない。
	RateLimiter *middleware.RateLimiter
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → APIHeaders → (BearerAuth) → RateLimit
//
// /api/login と /api/healthz は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(deps.Backend, logger)

	limit := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		limit = deps.RateLimiter.Middleware()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewAPIHeadersMiddleware())

	r.Route(APIPrefix, func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Get("/healthz", h.Health)
		r.With(limit).Post("/login", h.Login)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewBearerAuthMiddleware(deps.Backend))
			r.Use(limit)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/me", h.GetCart)
				r.Post("/add", h.AddToCart)
				r.Post("/remove", h.RemoveFromCart)
			})

			r.Route("/user/address", func(r chi.Router) {
				r.Get("/", h.ListAddresses)
				r.Post("/", h.CreateAddress)
				r.Put("/{id}", h.UpdateAddress)
				r.Delete("/{id}", h.DeleteAddress)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/me", h.ListOrders)
				r.Post("/create", h.CreateOrder)
				r.Post("/create-payment-order", h.CreatePaymentOrder)
				r.Post("/verify-payment", h.VerifyPayment)
			})
		})
	})

	return r
}
