// Package cart はサーバーと同期するカートストアを提供する。
// 変更はサーバーが受け付けた後にローカルへ反映し、直後にサーバーから全体を再取得して整合させる。
package cart

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/homechef/internal/apiclient"
	"github.com/hitoshi/homechef/internal/metrics"
	"github.com/hitoshi/homechef/internal/model"
	"github.com/hitoshi/homechef/internal/repository"
	"github.com/hitoshi/homechef/internal/security"
)

const storeName = "cart"

// API はカートストアが利用するバックエンドAPIのインターフェース。
type API interface {
	GetCart(ctx context.Context) (*apiclient.ServerCart, error)
	AddToCart(ctx context.Context, foodID, vendorID string, quantity int) error
	RemoveFromCart(ctx context.Context, foodID, vendorID string, quantity int) error
	CreateOrder(ctx context.Context, req apiclient.CreateOrderRequest) (*model.Order, error)
	CreatePaymentOrder(ctx context.Context) (*model.PaymentOrder, error)
	VerifyPayment(ctx context.Context, v model.PaymentVerification) (*model.Order, error)
	ResolveAssetURL(path string) string
}

// Session はカートストアが参照するセッションのインターフェース。
type Session interface {
	IsLoggedIn() bool
	Generation() uint64
}

// Store はカートの状態を保持する。
// ネットワークと永続化の呼び出しはロックの外で行う。
type Store struct {
	api       API
	session   Session
	repo      repository.StateRepository
	sanitizer security.TextSanitizer
	metrics   metrics.Recorder
	logger    *slog.Logger

	mu         sync.RWMutex
	lines      []model.CartLine
	summary    *model.BillingSummary
	state      model.CartState
	generation uint64 // 変更操作のたびに増加し、古い取得結果の反映を防ぐ

	// persistMu は永続化の書き込みと削除を直列化する。
	// セッション世代の確認と書き込みはこのロック内で行う。
	persistMu sync.Mutex
}

// NewStore は新しいStoreを生成する。
func NewStore(
	api API,
	session Session,
	repo repository.StateRepository,
	sanitizer security.TextSanitizer,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Store {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:       api,
		session:   session,
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   recorder,
		logger:    logger.With(slog.String("store", storeName)),
		state:     model.CartStateUninitialized,
	}
}

// LoadLocal は永続化されたカートを読み込む。ネットワークは使わない。
// 読み込みに失敗した場合は空のカートとして扱う。
func (s *Store) LoadLocal(ctx context.Context) {
	var snapshot model.Cart
	found, err := repository.LoadJSON(ctx, s.repo, repository.KeyCart, &snapshot)
	if err != nil {
		s.logger.Warn("カートの読み込みに失敗しました", slog.String("error", err.Error()))
		found = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if found {
		s.lines = sanitizeSnapshot(snapshot.Lines)
		s.summary = snapshot.Summary
	} else {
		s.lines = nil
		s.summary = nil
	}
	s.state = model.CartStateReady
	s.metrics.SetCartLines(len(s.lines))
}

// FetchFromServer はサーバーのカートで明細と請求内訳を置き換える。
// 失敗した場合は現在の状態を維持し、エラーを返す。
// 取得中に変更操作やセッションの切り替えがあった場合、結果は破棄する。
func (s *Store) FetchFromServer(ctx context.Context) error {
	if !s.session.IsLoggedIn() {
		return model.NewNotLoggedInError()
	}
	sessionGen := s.session.Generation()

	s.mu.Lock()
	gen := s.generation
	prevState := s.state
	s.state = model.CartStateLoading
	s.mu.Unlock()

	serverCart, err := s.api.GetCart(ctx)
	if err != nil {
		s.mu.Lock()
		if s.generation == gen && s.state == model.CartStateLoading {
			s.state = prevState
		}
		s.mu.Unlock()
		s.metrics.RecordSync(storeName, false)
		s.logger.Warn("カートの取得に失敗しました", slog.String("error", err.Error()))
		return err
	}

	lines := s.normalize(serverCart.Items)
	var summary *model.BillingSummary
	if len(lines) > 0 && serverCart.BillingSummary != nil {
		copied := *serverCart.BillingSummary
		copied.Estimated = false
		summary = &copied
	}

	s.mu.Lock()
	if s.generation != gen || s.session.Generation() != sessionGen {
		if s.state == model.CartStateLoading {
			s.state = model.CartStateReady
		}
		s.mu.Unlock()
		s.metrics.RecordStaleDiscarded(storeName)
		s.logger.Debug("古いカート取得結果を破棄しました")
		return nil
	}
	s.lines = lines
	s.summary = summary
	s.state = model.CartStateReady
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, sessionGen, snapshot)
	s.metrics.RecordSync(storeName, true)
	s.metrics.SetCartLines(len(lines))
	return nil
}

// AddItem はカートに料理を追加する。
// サーバーが受け付けた後にローカルへ反映し、続けてサーバーから再取得する。
func (s *Store) AddItem(ctx context.Context, item model.FoodItem, delta int) error {
	if delta <= 0 {
		return model.NewInvalidQuantityError(delta)
	}
	if !s.session.IsLoggedIn() {
		return model.NewNotLoggedInError()
	}
	sessionGen := s.session.Generation()
	s.bump()

	if err := s.api.AddToCart(ctx, item.FoodID, item.VendorID, delta); err != nil {
		s.logger.Warn("カートへの追加に失敗しました",
			slog.String("food_id", item.FoodID),
			slog.String("error", err.Error()),
		)
		return err
	}

	key := item.Key()
	applied := s.apply(ctx, sessionGen, func() {
		for i := range s.lines {
			if s.lines[i].Key == key {
				s.lines[i].Quantity += delta
				return
			}
		}
		s.lines = append(s.lines, s.lineFromItem(item, delta))
	})
	if !applied {
		return nil
	}

	s.reconcile(ctx)
	return nil
}

// RemoveItem はカートから料理を1つ、またはremoveAllの場合は全数量を取り除く。
func (s *Store) RemoveItem(ctx context.Context, item model.FoodItem, removeAll bool) error {
	if !s.session.IsLoggedIn() {
		return model.NewNotLoggedInError()
	}
	key := item.Key()
	line, ok := s.line(key)
	if !ok {
		return model.NewCartLineNotFoundError(key)
	}
	quantity := 1
	if removeAll {
		quantity = line.Quantity
	}

	sessionGen := s.session.Generation()
	s.bump()

	if err := s.api.RemoveFromCart(ctx, item.FoodID, item.VendorID, quantity); err != nil {
		s.logger.Warn("カートからの削除に失敗しました",
			slog.String("food_id", item.FoodID),
			slog.String("error", err.Error()),
		)
		return err
	}

	applied := s.apply(ctx, sessionGen, func() {
		kept := s.lines[:0]
		for _, l := range s.lines {
			if l.Key == key {
				l.Quantity -= quantity
			}
			if l.Quantity > 0 {
				kept = append(kept, l)
			}
		}
		s.lines = kept
	})
	if !applied {
		return nil
	}

	s.reconcile(ctx)
	return nil
}

// IncreaseItem は指定キーの明細を1つ増やす。
func (s *Store) IncreaseItem(ctx context.Context, key string) error {
	line, ok := s.line(key)
	if !ok {
		return model.NewCartLineNotFoundError(key)
	}
	return s.AddItem(ctx, itemFromLine(line), 1)
}

// DecreaseItem は指定キーの明細を1つ減らす。数量が1の場合は明細ごと取り除く。
func (s *Store) DecreaseItem(ctx context.Context, key string) error {
	line, ok := s.line(key)
	if !ok {
		return model.NewCartLineNotFoundError(key)
	}
	return s.RemoveItem(ctx, itemFromLine(line), line.Quantity == 1)
}

// ClearCart は明細と請求内訳を空にし、永続化されたカートを削除する。
func (s *Store) ClearCart(ctx context.Context) {
	s.mu.Lock()
	s.lines = nil
	s.summary = nil
	s.generation++
	if s.state == model.CartStateUninitialized {
		s.state = model.CartStateReady
	}
	s.mu.Unlock()

	s.metrics.SetCartLines(0)
	s.deleteLocal(ctx)
}

// OnLogin はログイン時に前のユーザーのカートを破棄し、サーバーから取得し直す。
func (s *Store) OnLogin(ctx context.Context, _ model.Session) {
	s.reset()
	if err := s.FetchFromServer(ctx); err != nil {
		s.logger.Warn("ログイン後のカート同期に失敗しました", slog.String("error", err.Error()))
	}
}

// OnLogout はメモリ上と永続化されたカートを消去する。
func (s *Store) OnLogout(ctx context.Context) {
	s.reset()
	s.deleteLocal(ctx)
}

// Lines は明細のコピーを返す。
func (s *Store) Lines() []model.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CartLine(nil), s.lines...)
}

// Summary は請求内訳のコピーを返す。未取得の場合はnil。
func (s *Store) Summary() *model.BillingSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return nil
	}
	copied := *s.summary
	return &copied
}

// State は同期状態を返す。
func (s *Store) State() model.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ItemCount は全明細の数量の合計を返す。
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, l := range s.lines {
		total += l.Quantity
	}
	return total
}

// EstimateSummary は現在の明細から請求内訳を見積もる。
// 手数料は直近のサーバー内訳の値を流用する。表示専用で支払額には使わない。
func (s *Store) EstimateSummary() *model.BillingSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.estimateLocked()
}

func (s *Store) estimateLocked() *model.BillingSummary {
	if len(s.lines) == 0 {
		return nil
	}
	est := &model.BillingSummary{Estimated: true}
	for _, l := range s.lines {
		est.Subtotal += l.LineTotal()
	}
	if s.summary != nil {
		est.PlatformFee = s.summary.PlatformFee
		est.GST = s.summary.GST
		est.DeliveryFee = s.summary.DeliveryFee
	}
	est.GrandTotal = est.Subtotal + est.PlatformFee + est.GST + est.DeliveryFee
	return est
}

// apply はセッションが変わっていなければ変更を適用して永続化する。
// 変更後は請求内訳をサーバーの再取得まで見積もり値にする。
func (s *Store) apply(ctx context.Context, sessionGen uint64, mutate func()) bool {
	s.mu.Lock()
	if s.session.Generation() != sessionGen {
		s.mu.Unlock()
		s.metrics.RecordStaleDiscarded(storeName)
		return false
	}
	mutate()
	s.summary = s.estimateLocked()
	s.state = model.CartStateReady
	snapshot := s.snapshotLocked()
	count := len(s.lines)
	s.mu.Unlock()

	s.metrics.SetCartLines(count)
	s.persist(ctx, sessionGen, snapshot)
	return true
}

// reconcile はサーバーから再取得する。失敗しても変更自体は成功しているため、ログに残すだけにする。
func (s *Store) reconcile(ctx context.Context) {
	if err := s.FetchFromServer(ctx); err != nil {
		s.logger.Warn("変更後のカート再取得に失敗しました", slog.String("error", err.Error()))
	}
}

func (s *Store) persist(ctx context.Context, sessionGen uint64, snapshot model.Cart) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	// ログアウト後に前のユーザーのカートを書き戻さない
	if s.session.Generation() != sessionGen {
		s.metrics.RecordStaleDiscarded(storeName)
		return
	}
	if err := repository.SaveJSON(ctx, s.repo, repository.KeyCart, snapshot); err != nil {
		s.logger.Warn("カートの保存に失敗しました", slog.String("error", err.Error()))
	}
}

func (s *Store) deleteLocal(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.repo.Delete(ctx, repository.KeyCart); err != nil {
		s.logger.Warn("カートの削除に失敗しました", slog.String("error", err.Error()))
	}
}

func (s *Store) snapshotLocked() model.Cart {
	snapshot := model.Cart{Lines: append([]model.CartLine(nil), s.lines...)}
	if s.summary != nil && !s.summary.Estimated {
		copied := *s.summary
		snapshot.Summary = &copied
	}
	return snapshot
}

func (s *Store) bump() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

func (s *Store) reset() {
	s.mu.Lock()
	s.lines = nil
	s.summary = nil
	s.generation++
	s.state = model.CartStateUninitialized
	s.mu.Unlock()
	s.metrics.SetCartLines(0)
}

func (s *Store) line(key string) (model.CartLine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lines {
		if l.Key == key {
			return l, true
		}
	}
	return model.CartLine{}, false
}

// normalize はサーバーの明細をCartLineに変換する。
// 同じ複合キーの明細は数量を合算し、数量が0以下の明細は除外する。
func (s *Store) normalize(items []apiclient.CartItem) []model.CartLine {
	lines := make([]model.CartLine, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.FoodID == "" || item.Quantity <= 0 {
			continue
		}
		vendorID := item.Vendor()
		key := model.CartKey(item.FoodID, vendorID)
		if i, ok := index[key]; ok {
			lines[i].Quantity += item.Quantity
			continue
		}

		line := model.CartLine{
			Key:       key,
			FoodID:    item.FoodID,
			VendorID:  vendorID,
			Name:      s.sanitizer.Clean(item.FoodName),
			UnitPrice: nonNegative(item.Price),
			Quantity:  item.Quantity,
			ImageURL:  s.api.ResolveAssetURL(item.PhotoURL),
		}
		if item.ChefDetails != nil {
			line.VendorName = s.sanitizer.Clean(item.ChefDetails.Name)
			line.VendorPhotoURL = s.api.ResolveAssetURL(item.ChefDetails.PhotoURL)
		}
		index[key] = len(lines)
		lines = append(lines, line)
	}
	return lines
}

func (s *Store) lineFromItem(item model.FoodItem, quantity int) model.CartLine {
	return model.CartLine{
		Key:            item.Key(),
		FoodID:         item.FoodID,
		VendorID:       item.VendorID,
		Name:           s.sanitizer.Clean(item.Name),
		UnitPrice:      nonNegative(item.Price),
		Quantity:       quantity,
		ImageURL:       s.api.ResolveAssetURL(item.ImageURL),
		VendorName:     s.sanitizer.Clean(item.VendorName),
		VendorPhotoURL: s.api.ResolveAssetURL(item.VendorPhotoURL),
	}
}

// sanitizeSnapshot は永続化データから不正な明細を取り除く。
func sanitizeSnapshot(lines []model.CartLine) []model.CartLine {
	out := make([]model.CartLine, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 || strings.TrimSpace(l.FoodID) == "" {
			continue
		}
		if l.Key == "" {
			l.Key = model.CartKey(l.FoodID, l.VendorID)
		}
		out = append(out, l)
	}
	return out
}

func itemFromLine(l model.CartLine) model.FoodItem {
	return model.FoodItem{
		FoodID:         l.FoodID,
		VendorID:       l.VendorID,
		Name:           l.Name,
		Price:          l.UnitPrice,
		ImageURL:       l.ImageURL,
		VendorName:     l.VendorName,
		VendorPhotoURL: l.VendorPhotoURL,
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
