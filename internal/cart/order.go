package cart

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/homechef/internal/apiclient"
	"github.com/hitoshi/homechef/internal/model"
)

// CreateOrder は現在のカートで注文を作成する。
// 成功した場合のみカートを空にする。失敗した場合はカートを残したままエラーを返す。
func (s *Store) CreateOrder(ctx context.Context, addressID string, method model.PaymentMethod) (*model.Order, error) {
	if !s.session.IsLoggedIn() {
		return nil, model.NewNotLoggedInError()
	}
	if strings.TrimSpace(addressID) == "" {
		return nil, model.NewAddressRequiredError()
	}
	items := s.orderItems()
	if len(items) == 0 {
		return nil, model.NewCartEmptyError()
	}

	order, err := s.api.CreateOrder(ctx, apiclient.CreateOrderRequest{
		AddressID:     addressID,
		PaymentMethod: method,
		Items:         items,
	})
	if err != nil {
		s.logger.Warn("注文の作成に失敗しました",
			slog.String("payment_method", string(method)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("order created",
		slog.String("order_id", order.ID),
		slog.Int("item_count", len(items)),
	)
	s.ClearCart(ctx)
	return order, nil
}

// StartOnlinePayment はオンライン決済の決済注文を作成する。
// カートは決済の検証が完了するまで残す。
func (s *Store) StartOnlinePayment(ctx context.Context) (*model.PaymentOrder, error) {
	if !s.session.IsLoggedIn() {
		return nil, model.NewNotLoggedInError()
	}
	if len(s.orderItems()) == 0 {
		return nil, model.NewCartEmptyError()
	}

	po, err := s.api.CreatePaymentOrder(ctx)
	if err != nil {
		s.logger.Warn("決済注文の作成に失敗しました", slog.String("error", err.Error()))
		return nil, err
	}
	return po, nil
}

// ConfirmOnlinePayment は決済結果をサーバーで検証し、成功した場合にカートを空にする。
func (s *Store) ConfirmOnlinePayment(ctx context.Context, v model.PaymentVerification) (*model.Order, error) {
	if !s.session.IsLoggedIn() {
		return nil, model.NewNotLoggedInError()
	}

	order, err := s.api.VerifyPayment(ctx, v)
	if err != nil {
		s.logger.Warn("決済の検証に失敗しました",
			slog.String("provider_order_id", v.ProviderOrderID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("payment verified", slog.String("order_id", order.ID))
	s.ClearCart(ctx)
	return order, nil
}

func (s *Store) orderItems() []model.OrderItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]model.OrderItem, 0, len(s.lines))
	for _, l := range s.lines {
		items = append(items, model.OrderItem{
			FoodID:   l.FoodID,
			VendorID: l.VendorID,
			Quantity: l.Quantity,
		})
	}
	return items
}
