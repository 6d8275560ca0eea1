// Package address は配送先住所の一覧と選択状態を管理するストアを提供する。
package address

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/homechef/internal/geocode"
	"github.com/hitoshi/homechef/internal/metrics"
	"github.com/hitoshi/homechef/internal/model"
	"github.com/hitoshi/homechef/internal/repository"
	"github.com/hitoshi/homechef/internal/security"
)

const storeName = "address"

// API は住所ストアが利用するバックエンドAPIのインターフェース。
type API interface {
	ListAddresses(ctx context.Context) ([]model.Address, error)
	CreateAddress(ctx context.Context, draft model.AddressDraft) (*model.Address, error)
	UpdateAddress(ctx context.Context, addr model.Address) (*model.Address, error)
	DeleteAddress(ctx context.Context, id string) error
}

// Geocoder は座標から住所を求めるインターフェース。
type Geocoder interface {
	Reverse(ctx context.Context, coords model.Coordinates) (*geocode.Place, error)
}

// Session は住所ストアが参照するセッションのインターフェース。
type Session interface {
	IsLoggedIn() bool
	Generation() uint64
}

// Store は住所一覧と選択中の住所を保持する。
// 選択はIDで保持し、常に一覧内の住所を指すか未選択のいずれかになる。
type Store struct {
	api       API
	session   Session
	geocoder  Geocoder
	repo      repository.StateRepository
	sanitizer security.TextSanitizer
	metrics   metrics.Recorder
	logger    *slog.Logger

	mu         sync.RWMutex
	addresses  []model.Address
	selectedID string
	generation uint64

	// persistMu は永続化の書き込みと削除を直列化する。
	persistMu sync.Mutex
}

// NewStore は新しいStoreを生成する。geocoderはAddFromCoordinatesを使わない場合nilでもよい。
func NewStore(
	api API,
	session Session,
	geocoder Geocoder,
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
		geocoder:  geocoder,
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   recorder,
		logger:    logger.With(slog.String("store", storeName)),
	}
}

// LoadLocal は永続化された住所一覧と選択を読み込む。
// 選択が一覧に存在しない場合は未選択にする。
func (s *Store) LoadLocal(ctx context.Context) {
	var list []model.Address
	if _, err := repository.LoadJSON(ctx, s.repo, repository.KeyAddresses, &list); err != nil {
		s.logger.Warn("住所一覧の読み込みに失敗しました", slog.String("error", err.Error()))
		list = nil
	}
	var selected *model.Address
	if _, err := repository.LoadJSON(ctx, s.repo, repository.KeySelectedAddress, &selected); err != nil {
		s.logger.Warn("選択中の住所の読み込みに失敗しました", slog.String("error", err.Error()))
		selected = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses = list
	s.selectedID = ""
	if selected != nil && indexOf(list, selected.ID) >= 0 {
		s.selectedID = selected.ID
	}
}

// FetchAddresses はサーバーの住所一覧で置き換える。
// 未選択の場合は既定の住所、なければ先頭を選択する。既存の選択は上書きしない。
func (s *Store) FetchAddresses(ctx context.Context) error {
	if !s.session.IsLoggedIn() {
		return model.NewNotLoggedInError()
	}
	sessionGen := s.session.Generation()
	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()

	list, err := s.api.ListAddresses(ctx)
	if err != nil {
		s.metrics.RecordSync(storeName, false)
		s.logger.Warn("住所一覧の取得に失敗しました", slog.String("error", err.Error()))
		return err
	}
	list = s.sanitizeAll(list)

	s.mu.Lock()
	if s.generation != gen || s.session.Generation() != sessionGen {
		s.mu.Unlock()
		s.metrics.RecordStaleDiscarded(storeName)
		s.logger.Debug("古い住所一覧の取得結果を破棄しました")
		return nil
	}
	s.addresses = list
	if s.selectedID != "" && indexOf(list, s.selectedID) < 0 {
		s.selectedID = ""
	}
	if s.selectedID == "" && len(list) > 0 {
		s.selectedID = list[defaultIndex(list)].ID
	}
	snapshot, selected := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, sessionGen, snapshot, selected)
	s.metrics.RecordSync(storeName, true)
	return nil
}

// AddAddress は住所を登録し、一覧に追加して選択する。
func (s *Store) AddAddress(ctx context.Context, draft model.AddressDraft) (*model.Address, error) {
	if !s.session.IsLoggedIn() {
		return nil, model.NewNotLoggedInError()
	}
	draft = trimDraft(draft)
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	sessionGen := s.session.Generation()
	s.bump()

	created, err := s.api.CreateAddress(ctx, draft)
	if err != nil {
		s.logger.Warn("住所の登録に失敗しました", slog.String("error", err.Error()))
		return nil, err
	}
	addr := s.sanitize(*created)

	if !s.apply(ctx, sessionGen, func() {
		if i := indexOf(s.addresses, addr.ID); i >= 0 {
			s.addresses[i] = addr
		} else {
			s.addresses = append(s.addresses, addr)
		}
		s.selectedID = addr.ID
	}) {
		return nil, model.NewNotLoggedInError()
	}

	s.logger.Info("address added", slog.String("address_id", addr.ID))
	return &addr, nil
}

// AddFromCoordinates は座標のみから住所を登録する。
// 地域名と目印を逆ジオコーディングで補い、部屋番号が空の場合は整形済み住所の先頭部分を使う。
func (s *Store) AddFromCoordinates(ctx context.Context, label, flatNo string, coords model.Coordinates) (*model.Address, error) {
	if !s.session.IsLoggedIn() {
		return nil, model.NewNotLoggedInError()
	}
	if s.geocoder == nil {
		return nil, model.NewGeocodeFailedError("geocoding is not configured")
	}
	if !coords.Valid() {
		return nil, model.NewIncompleteAddressError([]string{"coordinates"})
	}

	place, err := s.geocoder.Reverse(ctx, coords)
	if err != nil {
		return nil, err
	}

	landmark := place.Landmark
	if landmark == "" {
		landmark = place.Area
	}
	if strings.TrimSpace(flatNo) == "" {
		flatNo = strings.TrimSpace(strings.SplitN(place.FormattedAddress, ",", 2)[0])
	}
	if strings.TrimSpace(label) == "" {
		label = model.AddressLabelOther
	}

	return s.AddAddress(ctx, model.AddressDraft{
		Label:       label,
		FlatNo:      flatNo,
		Landmark:    landmark,
		Area:        place.Area,
		Coordinates: coords,
	})
}

// EditAddress は一覧内の住所を更新する。選択中の住所の場合は選択も更新後の内容を指す。
func (s *Store) EditAddress(ctx context.Context, addr model.Address) (*model.Address, error) {
	if !s.session.IsLoggedIn() {
		return nil, model.NewNotLoggedInError()
	}
	draft := trimDraft(model.AddressDraft{
		Label:       addr.Label,
		FlatNo:      addr.FlatNo,
		Landmark:    addr.Landmark,
		Area:        addr.Area,
		Coordinates: addr.Coordinates,
		IsDefault:   addr.IsDefault,
	})
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if !s.contains(addr.ID) {
		return nil, model.NewAddressNotFoundError(addr.ID)
	}
	addr.Label, addr.FlatNo, addr.Landmark, addr.Area = draft.Label, draft.FlatNo, draft.Landmark, draft.Area

	sessionGen := s.session.Generation()
	s.bump()

	updated, err := s.api.UpdateAddress(ctx, addr)
	if err != nil {
		s.logger.Warn("住所の更新に失敗しました",
			slog.String("address_id", addr.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	result := s.sanitize(*updated)
	if result.ID == "" {
		result.ID = addr.ID
	}

	if !s.apply(ctx, sessionGen, func() {
		if i := indexOf(s.addresses, result.ID); i >= 0 {
			s.addresses[i] = result
		}
	}) {
		return nil, model.NewNotLoggedInError()
	}
	return &result, nil
}

// DeleteAddress は住所を削除する。選択中の住所だった場合は未選択にし、別の住所を自動選択しない。
func (s *Store) DeleteAddress(ctx context.Context, id string) error {
	if !s.session.IsLoggedIn() {
		return model.NewNotLoggedInError()
	}
	if !s.contains(id) {
		return model.NewAddressNotFoundError(id)
	}
	sessionGen := s.session.Generation()
	s.bump()

	if err := s.api.DeleteAddress(ctx, id); err != nil {
		s.logger.Warn("住所の削除に失敗しました",
			slog.String("address_id", id),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.apply(ctx, sessionGen, func() {
		if i := indexOf(s.addresses, id); i >= 0 {
			s.addresses = append(s.addresses[:i:i], s.addresses[i+1:]...)
		}
		if s.selectedID == id {
			s.selectedID = ""
		}
	})
	s.logger.Info("address deleted", slog.String("address_id", id))
	return nil
}

// SelectAddress は一覧内の住所を選択する。ネットワークは使わない。
func (s *Store) SelectAddress(ctx context.Context, addr model.Address) error {
	sessionGen := s.session.Generation()
	s.mu.Lock()
	if indexOf(s.addresses, addr.ID) < 0 {
		s.mu.Unlock()
		return model.NewAddressNotFoundError(addr.ID)
	}
	s.selectedID = addr.ID
	_, selected := s.snapshotLocked()
	s.mu.Unlock()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if s.session.Generation() != sessionGen {
		return nil
	}
	if err := repository.SaveJSON(ctx, s.repo, repository.KeySelectedAddress, selected); err != nil {
		s.logger.Warn("選択中の住所の保存に失敗しました", slog.String("error", err.Error()))
	}
	return nil
}

// OnLogin はログイン時に前のユーザーの住所を破棄し、サーバーから取得し直す。
func (s *Store) OnLogin(ctx context.Context, _ model.Session) {
	s.reset()
	if err := s.FetchAddresses(ctx); err != nil {
		s.logger.Warn("ログイン後の住所同期に失敗しました", slog.String("error", err.Error()))
	}
}

// OnLogout はメモリ上と永続化された住所を消去する。
func (s *Store) OnLogout(ctx context.Context) {
	s.reset()
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	for _, key := range []string{repository.KeyAddresses, repository.KeySelectedAddress} {
		if err := s.repo.Delete(ctx, key); err != nil {
			s.logger.Warn("住所の削除に失敗しました", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}

// Addresses は住所一覧のコピーを返す。
func (s *Store) Addresses() []model.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Address(nil), s.addresses...)
}

// Selected は選択中の住所を返す。未選択の場合はnil。
func (s *Store) Selected() *model.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, selected := s.snapshotLocked()
	return selected
}

func (s *Store) apply(ctx context.Context, sessionGen uint64, mutate func()) bool {
	s.mu.Lock()
	if s.session.Generation() != sessionGen {
		s.mu.Unlock()
		s.metrics.RecordStaleDiscarded(storeName)
		return false
	}
	mutate()
	snapshot, selected := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, sessionGen, snapshot, selected)
	return true
}

func (s *Store) persist(ctx context.Context, sessionGen uint64, list []model.Address, selected *model.Address) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	// ログアウト後に前のユーザーの住所を書き戻さない
	if s.session.Generation() != sessionGen {
		s.metrics.RecordStaleDiscarded(storeName)
		return
	}
	if err := repository.SaveJSON(ctx, s.repo, repository.KeyAddresses, list); err != nil {
		s.logger.Warn("住所一覧の保存に失敗しました", slog.String("error", err.Error()))
	}
	if err := repository.SaveJSON(ctx, s.repo, repository.KeySelectedAddress, selected); err != nil {
		s.logger.Warn("選択中の住所の保存に失敗しました", slog.String("error", err.Error()))
	}
}

func (s *Store) snapshotLocked() ([]model.Address, *model.Address) {
	list := append([]model.Address(nil), s.addresses...)
	if i := indexOf(s.addresses, s.selectedID); s.selectedID != "" && i >= 0 {
		selected := s.addresses[i]
		return list, &selected
	}
	return list, nil
}

func (s *Store) bump() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

func (s *Store) reset() {
	s.mu.Lock()
	s.addresses = nil
	s.selectedID = ""
	s.generation++
	s.mu.Unlock()
}

func (s *Store) contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.addresses, id) >= 0
}

func (s *Store) sanitize(a model.Address) model.Address {
	a.Label = s.sanitizer.Clean(a.Label)
	a.FlatNo = s.sanitizer.Clean(a.FlatNo)
	a.Landmark = s.sanitizer.Clean(a.Landmark)
	a.Area = s.sanitizer.Clean(a.Area)
	return a
}

// sanitizeAll は表示用文字列を整え、IDのない住所を除外する。
func (s *Store) sanitizeAll(list []model.Address) []model.Address {
	out := make([]model.Address, 0, len(list))
	for _, a := range list {
		if a.ID == "" {
			continue
		}
		out = append(out, s.sanitize(a))
	}
	return out
}

func trimDraft(d model.AddressDraft) model.AddressDraft {
	d.Label = strings.TrimSpace(d.Label)
	d.FlatNo = strings.TrimSpace(d.FlatNo)
	d.Landmark = strings.TrimSpace(d.Landmark)
	d.Area = strings.TrimSpace(d.Area)
	return d
}

func indexOf(list []model.Address, id string) int {
	for i, a := range list {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// defaultIndex は既定フラグの立った最初の住所の位置を返す。なければ0。
func defaultIndex(list []model.Address) int {
	for i, a := range list {
		if a.IsDefault {
			return i
		}
	}
	return 0
}
