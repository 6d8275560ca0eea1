package cart

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/hitoshi/homechef/internal/apiclient"
	"github.com/hitoshi/homechef/internal/model"
	"github.com/hitoshi/homechef/internal/repository"
)

type fixture struct {
	store   *Store
	api     *fakeAPI
	session *fakeSession
	repo    *repository.MemoryStateRepo
	logs    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var buf bytes.Buffer
	f := &fixture{
		api:     newFakeAPI(),
		session: &fakeSession{loggedIn: true, gen: 1},
		repo:    repository.NewMemoryStateRepo(),
		logs:    &buf,
	}
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.store = NewStore(f.api, f.session, f.repo, nil, nil, logger)
	return f
}

var dosa = model.FoodItem{FoodID: "F1", VendorID: "V1", Name: "Masala Dosa", Price: 100}

func quantityOf(s *Store, key string) int {
	for _, l := range s.Lines() {
		if l.Key == key {
			return l.Quantity
		}
	}
	return 0
}

func TestAddRemove_EndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.AddItem(ctx, dosa, 1); err != nil {
		t.Fatalf("AddItem がエラーを返した: %v", err)
	}
	lines := f.store.Lines()
	if len(lines) != 1 || lines[0].Key != "F1-V1" || lines[0].Quantity != 1 || lines[0].UnitPrice != 100 {
		t.Fatalf("1回目の追加後 = %+v", lines)
	}

	f.store.AddItem(ctx, dosa, 1)
	if q := quantityOf(f.store, "F1-V1"); q != 2 {
		t.Errorf("2回目の追加後の数量 = %d, want 2", q)
	}

	f.store.RemoveItem(ctx, dosa, false)
	if q := quantityOf(f.store, "F1-V1"); q != 1 {
		t.Errorf("1回目の削除後の数量 = %d, want 1", q)
	}

	f.store.RemoveItem(ctx, dosa, false)
	if len(f.store.Lines()) != 0 {
		t.Errorf("2回目の削除後はカートが空になるべき: %+v", f.store.Lines())
	}
	if f.store.Summary() != nil {
		t.Error("空のカートの請求内訳はnilであるべき")
	}
}

func TestAddRemove_QuantityEqualsSumOfDeltas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := model.FoodItem{FoodID: "F2", Price: 50}

	steps := []struct {
		item      model.FoodItem
		add       int
		remove    bool
		removeAll bool
	}{
		{item: dosa, add: 3},
		{item: other, add: 1},
		{item: dosa, remove: true},
		{item: other, add: 2},
		{item: dosa, add: 1},
		{item: other, remove: true, removeAll: true},
		{item: dosa, remove: true},
	}
	want := map[string]int{}
	for _, st := range steps {
		key := st.item.Key()
		if st.remove {
			if err := f.store.RemoveItem(ctx, st.item, st.removeAll); err != nil {
				t.Fatalf("RemoveItem がエラーを返した: %v", err)
			}
			if st.removeAll {
				want[key] = 0
			} else {
				want[key]--
			}
		} else {
			if err := f.store.AddItem(ctx, st.item, st.add); err != nil {
				t.Fatalf("AddItem がエラーを返した: %v", err)
			}
			want[key] += st.add
		}
		for k, q := range want {
			if got := quantityOf(f.store, k); got != q {
				t.Errorf("%s の数量 = %d, want %d", k, got, q)
			}
		}
	}
	for _, l := range f.store.Lines() {
		if l.Quantity <= 0 {
			t.Errorf("数量0以下の明細が残っている: %+v", l)
		}
	}
}

func TestCompositeKey_DistinguishesVendors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.AddItem(ctx, model.FoodItem{FoodID: "F1", VendorID: "V1", Price: 100}, 1)
	f.store.AddItem(ctx, model.FoodItem{FoodID: "F1", VendorID: "V2", Price: 120}, 1)

	if n := len(f.store.Lines()); n != 2 {
		t.Errorf("出品者が異なる同じ料理は別明細になるべき: 明細数 = %d", n)
	}
}

func TestFetchFromServer_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.seed(apiclient.CartItem{FoodID: "F1", VendorID: "V1", FoodName: "Dosa", Price: 100, Quantity: 2})
	f.api.seed(apiclient.CartItem{FoodID: "F2", FoodName: "Idli", Price: 40, Quantity: 1})

	if err := f.store.FetchFromServer(ctx); err != nil {
		t.Fatalf("FetchFromServer がエラーを返した: %v", err)
	}
	firstLines, firstSummary := f.store.Lines(), f.store.Summary()

	if err := f.store.FetchFromServer(ctx); err != nil {
		t.Fatalf("FetchFromServer がエラーを返した: %v", err)
	}
	secondLines, secondSummary := f.store.Lines(), f.store.Summary()

	if len(firstLines) != len(secondLines) {
		t.Fatalf("明細数が変化した: %d -> %d", len(firstLines), len(secondLines))
	}
	for i := range firstLines {
		if firstLines[i] != secondLines[i] {
			t.Errorf("明細[%d]が変化した: %+v -> %+v", i, firstLines[i], secondLines[i])
		}
	}
	if *firstSummary != *secondSummary {
		t.Errorf("請求内訳が変化した: %+v -> %+v", firstSummary, secondSummary)
	}
	if f.store.State() != model.CartStateReady {
		t.Errorf("State = %s, want ready", f.store.State())
	}
}

func TestFetchFromServer_Normalizes(t *testing.T) {
	f := newFixture(t)
	f.api.seed(apiclient.CartItem{
		FoodID: "F1", FoodName: "<b>Pesarattu</b>", Price: 90, Quantity: 1, PhotoURL: "/uploads/p.png",
		ChefDetails: &apiclient.ChefDetails{ID: "V7", Name: "Lakshmi &amp; Co", PhotoURL: "/chefs/l.png"},
	})

	if err := f.store.FetchFromServer(context.Background()); err != nil {
		t.Fatalf("FetchFromServer がエラーを返した: %v", err)
	}
	line := f.store.Lines()[0]
	if line.Key != "F1-V7" {
		t.Errorf("Key = %q, want F1-V7 (chef_detailsから出品者IDを補完)", line.Key)
	}
	if line.Name != "Pesarattu" {
		t.Errorf("Name = %q", line.Name)
	}
	if line.VendorName != "Lakshmi & Co" {
		t.Errorf("VendorName = %q", line.VendorName)
	}
	if line.ImageURL != "http://assets.test/uploads/p.png" || line.VendorPhotoURL != "http://assets.test/chefs/l.png" {
		t.Errorf("画像URLが絶対URLに解決されていない: %q %q", line.ImageURL, line.VendorPhotoURL)
	}
}

func TestFetchFromServer_FailureKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 2)
	before := f.store.Lines()

	f.api.getCartFn = func() error { return model.NewNetworkError("timeout") }
	if err := f.store.FetchFromServer(ctx); err == nil {
		t.Fatal("取得失敗時はエラーを返すべき")
	}
	after := f.store.Lines()
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("取得失敗で状態が変化した: %+v -> %+v", before, after)
	}
	if f.store.State() != model.CartStateReady {
		t.Errorf("State = %s, want ready", f.store.State())
	}
}

func TestClearThenFetchEmptyServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 1)

	f.store.ClearCart(ctx)
	f.api.mu.Lock()
	f.api.items = map[string]apiclient.CartItem{}
	f.api.mu.Unlock()
	if err := f.store.FetchFromServer(ctx); err != nil {
		t.Fatalf("FetchFromServer がエラーを返した: %v", err)
	}

	if len(f.store.Lines()) != 0 {
		t.Errorf("明細 = %+v, want empty", f.store.Lines())
	}
	if f.store.Summary() != nil {
		t.Errorf("Summary = %+v, want nil", f.store.Summary())
	}
}

func TestClearCart_RemovesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 1)

	f.store.ClearCart(ctx)

	if data, _ := f.repo.Get(ctx, repository.KeyCart); data != nil {
		t.Error("ClearCart後は永続化されたカートが削除されるべき")
	}
	if f.api.getCalls != 1 {
		t.Errorf("ClearCartはネットワークを使わない: GetCart呼び出し回数 = %d", f.api.getCalls)
	}
}

func TestAddItem_FailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 1)

	f.api.addFn = func() error { return model.NewRejectedError(400, "Chef is offline") }
	err := f.store.AddItem(ctx, dosa, 1)

	apiErr, ok := model.AsAPIError(err)
	if !ok || apiErr.Message != "Chef is offline" {
		t.Fatalf("err = %v", err)
	}
	if q := quantityOf(f.store, "F1-V1"); q != 1 {
		t.Errorf("失敗時は数量が変わらないべき: %d", q)
	}
}

func TestRemoveItem_FailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 2)

	f.api.removeFn = func() error { return errBoom }
	if err := f.store.RemoveItem(ctx, dosa, false); err == nil {
		t.Fatal("エラーが返るべき")
	}
	if q := quantityOf(f.store, "F1-V1"); q != 2 {
		t.Errorf("失敗時は数量が変わらないべき: %d", q)
	}
}

func TestRemoveItem_RemoveAllSendsCurrentQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 3)

	if err := f.store.RemoveItem(ctx, dosa, true); err != nil {
		t.Fatalf("RemoveItem がエラーを返した: %v", err)
	}
	if len(f.api.removeQty) != 1 || f.api.removeQty[0] != 3 {
		t.Errorf("送信した数量 = %v, want [3]", f.api.removeQty)
	}
	if len(f.store.Lines()) != 0 {
		t.Error("removeAllで明細が消えるべき")
	}
}

func TestIncreaseDecrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 1)

	if err := f.store.IncreaseItem(ctx, "F1-V1"); err != nil {
		t.Fatalf("IncreaseItem がエラーを返した: %v", err)
	}
	if q := quantityOf(f.store, "F1-V1"); q != 2 {
		t.Errorf("数量 = %d, want 2", q)
	}

	f.store.DecreaseItem(ctx, "F1-V1")
	f.store.DecreaseItem(ctx, "F1-V1")
	if len(f.store.Lines()) != 0 {
		t.Errorf("数量1から減らすと明細が消えるべき: %+v", f.store.Lines())
	}

	err := f.store.DecreaseItem(ctx, "F1-V1")
	if apiErr, ok := model.AsAPIError(err); !ok || apiErr.Code != model.ErrCodeCartLineNotFound {
		t.Errorf("err = %v, want CART_LINE_NOT_FOUND", err)
	}
}

func TestMutations_RequireSession(t *testing.T) {
	f := newFixture(t)
	f.session.switchUser(false)
	ctx := context.Background()

	checks := map[string]error{
		"AddItem":         f.store.AddItem(ctx, dosa, 1),
		"FetchFromServer": f.store.FetchFromServer(ctx),
	}
	_, err := f.store.CreateOrder(ctx, "A1", model.PaymentMethodCOD)
	checks["CreateOrder"] = err

	for name, err := range checks {
		if apiErr, ok := model.AsAPIError(err); !ok || apiErr.Code != model.ErrCodeNotLoggedIn {
			t.Errorf("%s: err = %v, want NOT_LOGGED_IN", name, err)
		}
	}
	if f.api.getCalls != 0 {
		t.Error("未ログイン時はリクエストを送信しない")
	}
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	f := newFixture(t)
	err := f.store.AddItem(context.Background(), dosa, 0)
	if apiErr, ok := model.AsAPIError(err); !ok || apiErr.Code != model.ErrCodeInvalidQuantity {
		t.Errorf("err = %v, want INVALID_QUANTITY", err)
	}
}

func TestFetchFromServer_DiscardsStaleResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.seed(apiclient.CartItem{FoodID: "F1", VendorID: "V1", Price: 100, Quantity: 4})

	started := make(chan struct{})
	release := make(chan struct{})
	first := true
	f.api.getCartFn = func() error {
		if first {
			first = false
			close(started)
			<-release
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- f.store.FetchFromServer(ctx) }()
	<-started
	// 取得中に新しい変更が始まった
	f.store.ClearCart(ctx)
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("FetchFromServer がエラーを返した: %v", err)
	}

	if len(f.store.Lines()) != 0 {
		t.Errorf("古い取得結果が反映された: %+v", f.store.Lines())
	}
	if data, _ := f.repo.Get(ctx, repository.KeyCart); data != nil {
		t.Error("古い取得結果が永続化された")
	}
}

func TestFetchFromServer_DiscardsResponseAcrossLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.seed(apiclient.CartItem{FoodID: "F1", Price: 100, Quantity: 1})

	f.api.getCartFn = func() error {
		// 応答待ちの間にユーザーが切り替わった
		f.session.switchUser(true)
		return nil
	}
	if err := f.store.FetchFromServer(ctx); err != nil {
		t.Fatalf("FetchFromServer がエラーを返した: %v", err)
	}
	if len(f.store.Lines()) != 0 {
		t.Error("セッション切り替え前の取得結果は破棄されるべき")
	}
}

func TestOnLogout_ClearsMemoryAndSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 2)

	f.session.switchUser(false)
	f.store.OnLogout(ctx)

	if len(f.store.Lines()) != 0 || f.store.Summary() != nil {
		t.Error("ログアウト後はカートが空になるべき")
	}
	if f.store.State() != model.CartStateUninitialized {
		t.Errorf("State = %s, want uninitialized", f.store.State())
	}
	if data, _ := f.repo.Get(ctx, repository.KeyCart); data != nil {
		t.Error("ログアウト後は永続化されたカートが削除されるべき")
	}
}

func TestOnLogin_ReplacesPreviousUsersCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 2)

	// 別ユーザーのサーバー側カート
	f.api.mu.Lock()
	f.api.items = map[string]apiclient.CartItem{"F9": {FoodID: "F9", Price: 10, Quantity: 1}}
	f.api.mu.Unlock()
	f.session.switchUser(true)
	f.store.OnLogin(ctx, model.Session{Token: "other"})

	lines := f.store.Lines()
	if len(lines) != 1 || lines[0].FoodID != "F9" {
		t.Errorf("ログイン後は新しいユーザーのカートのみを保持すべき: %+v", lines)
	}
}

func TestLoadLocal_RestoresSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 2)

	reloaded := NewStore(f.api, f.session, f.repo, nil, nil, nil)
	reloaded.LoadLocal(ctx)

	if q := quantityOf(reloaded, "F1-V1"); q != 2 {
		t.Errorf("復元後の数量 = %d, want 2", q)
	}
	if s := reloaded.Summary(); s == nil || s.Estimated {
		t.Errorf("復元後の請求内訳はサーバー値であるべき: %+v", s)
	}
	if reloaded.State() != model.CartStateReady {
		t.Errorf("State = %s, want ready", reloaded.State())
	}
}

func TestLoadLocal_CorruptSnapshotIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.Set(ctx, repository.KeyCart, []byte("{not json"))

	f.store.LoadLocal(ctx)

	if len(f.store.Lines()) != 0 {
		t.Error("壊れたスナップショットは空として扱うべき")
	}
}

func TestEstimateSummary_IsAdvisory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 2)

	est := f.store.EstimateSummary()
	if est == nil || !est.Estimated {
		t.Fatalf("見積もりにはEstimatedフラグが立つべき: %+v", est)
	}
	if est.Subtotal != 200 {
		t.Errorf("Subtotal = %v, want 200", est.Subtotal)
	}
	if est.DeliveryFee != 30 || est.GrandTotal != 200+5+10+30 {
		t.Errorf("手数料は直近のサーバー値を流用すべき: %+v", est)
	}
	if f.store.Summary().Estimated {
		t.Error("再取得後の請求内訳はサーバー値であるべき")
	}
}

func TestItemCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddItem(ctx, dosa, 2)
	f.store.AddItem(ctx, model.FoodItem{FoodID: "F2", Price: 10}, 3)

	if got := f.store.ItemCount(); got != 5 {
		t.Errorf("ItemCount = %d, want 5", got)
	}
}

// blockingRepo は指定キーへの最初の書き込みを release が閉じられるまで止める。
type blockingRepo struct {
	*repository.MemoryStateRepo
	key     string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingRepo(key string) *blockingRepo {
	return &blockingRepo{
		MemoryStateRepo: repository.NewMemoryStateRepo(),
		key:             key,
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
}

func (r *blockingRepo) Set(ctx context.Context, key string, value []byte) error {
	if key == r.key {
		first := false
		r.once.Do(func() { first = true })
		if first {
			close(r.entered)
			<-r.release
		}
	}
	return r.MemoryStateRepo.Set(ctx, key, value)
}

func TestPersist_DoesNotResurrectCartAfterLogout(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	sess := &fakeSession{loggedIn: true, gen: 1}
	repo := newBlockingRepo(repository.KeyCart)
	s := NewStore(api, sess, repo, nil, nil, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))

	added := make(chan struct{})
	go func() {
		s.AddItem(ctx, dosa, 3)
		close(added)
	}()
	<-repo.entered

	// 書き込みが止まっている間にログアウトする
	sess.switchUser(false)
	loggedOut := make(chan struct{})
	go func() {
		s.OnLogout(ctx)
		close(loggedOut)
	}()
	close(repo.release)
	<-added
	<-loggedOut

	if data, _ := repo.Get(ctx, repository.KeyCart); data != nil {
		t.Errorf("ログアウト後に前のユーザーのカートが保存されている: %s", data)
	}
	if len(s.Lines()) != 0 {
		t.Errorf("ログアウト後の明細 = %+v, want empty", s.Lines())
	}
}

func TestPersist_SkipsWriteAfterSessionChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gen := f.session.Generation()
	f.session.switchUser(false)
	f.store.persist(ctx, gen, model.Cart{Lines: []model.CartLine{{Key: "F1-V1", FoodID: "F1", VendorID: "V1", Quantity: 1}}})

	if data, _ := f.repo.Get(ctx, repository.KeyCart); data != nil {
		t.Error("セッション切り替え後の書き込みはスキップされるべき")
	}
}
