package apiclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/homechef/internal/model"
)

// addressPayload はサーバーとやり取りする住所の形式。
// 環境によってIDが_idで返るため両方を受け付ける。
type addressPayload struct {
	ID          string            `json:"id,omitempty"`
	MongoID     string            `json:"_id,omitempty"`
	Label       string            `json:"label"`
	FlatNo      string            `json:"flat_no"`
	Landmark    string            `json:"landmark"`
	Area        string            `json:"area"`
	Coordinates model.Coordinates `json:"coordinates"`
	IsDefault   bool              `json:"is_default"`
}

func (p addressPayload) toModel() model.Address {
	id := p.ID
	if id == "" {
		id = p.MongoID
	}
	return model.Address{
		ID:          id,
		Label:       p.Label,
		FlatNo:      p.FlatNo,
		Landmark:    p.Landmark,
		Area:        p.Area,
		Coordinates: p.Coordinates,
		IsDefault:   p.IsDefault,
	}
}

func payloadFromDraft(d model.AddressDraft) addressPayload {
	return addressPayload{
		Label:       d.Label,
		FlatNo:      d.FlatNo,
		Landmark:    d.Landmark,
		Area:        d.Area,
		Coordinates: d.Coordinates,
		IsDefault:   d.IsDefault,
	}
}

type addressListResponse struct {
	Address []addressPayload `json:"address"`
}

type addressResponse struct {
	Address *addressPayload `json:"address"`
}

// ListAddresses は保存済みの住所一覧を取得する。
func (c *Client) ListAddresses(ctx context.Context) ([]model.Address, error) {
	var resp addressListResponse
	err := c.do(ctx, request{
		endpoint: "address.list",
		method:   http.MethodGet,
		path:     "/user/address",
		auth:     true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	addresses := make([]model.Address, 0, len(resp.Address))
	for _, p := range resp.Address {
		addresses = append(addresses, p.toModel())
	}
	return addresses, nil
}

// CreateAddress は住所を登録し、サーバーが確定した住所を返す。
func (c *Client) CreateAddress(ctx context.Context, draft model.AddressDraft) (*model.Address, error) {
	var resp addressResponse
	err := c.do(ctx, request{
		endpoint: "address.create",
		method:   http.MethodPost,
		path:     "/user/address",
		body:     payloadFromDraft(draft),
		auth:     true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.decodeAddress("address.create", resp, LocalAddressID(time.Now()))
}

// UpdateAddress は既存の住所を更新する。
func (c *Client) UpdateAddress(ctx context.Context, addr model.Address) (*model.Address, error) {
	payload := addressPayload{
		ID:          addr.ID,
		Label:       addr.Label,
		FlatNo:      addr.FlatNo,
		Landmark:    addr.Landmark,
		Area:        addr.Area,
		Coordinates: addr.Coordinates,
		IsDefault:   addr.IsDefault,
	}
	var resp addressResponse
	err := c.do(ctx, request{
		endpoint: "address.update",
		method:   http.MethodPut,
		path:     "/user/address/" + url.PathEscape(addr.ID),
		body:     payload,
		auth:     true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	// 更新後の住所を返さない実装もあるため送信内容で補う
	if resp.Address == nil {
		updated := addr
		return &updated, nil
	}
	return c.decodeAddress("address.update", resp, addr.ID)
}

// DeleteAddress は指定IDの住所を削除する。
func (c *Client) DeleteAddress(ctx context.Context, id string) error {
	return c.do(ctx, request{
		endpoint: "address.delete",
		method:   http.MethodDelete,
		path:     "/user/address/" + url.PathEscape(id),
		auth:     true,
	}, nil)
}

// localAddressPrefix はサーバーがIDを返さなかった住所に付けるIDの接頭辞。
const localAddressPrefix = "local-"

// LocalAddressID は作成時刻から仮の住所IDを生成する。次回の一覧取得でサーバーのIDに置き換わる。
func LocalAddressID(now time.Time) string {
	return localAddressPrefix + strconv.FormatInt(now.UnixMilli(), 10)
}

// decodeAddress は応答の住所を取り出す。
// サーバーは保存済みのため、IDがない場合もエラーにせずfallbackIDを使う。
func (c *Client) decodeAddress(endpoint string, resp addressResponse, fallbackID string) (*model.Address, error) {
	if resp.Address == nil {
		return nil, c.fail(endpoint, model.NewInvalidResponseError("address is missing"))
	}
	addr := resp.Address.toModel()
	if addr.ID == "" {
		c.logger.Warn("住所IDが返されなかったため仮のIDを使用します",
			slog.String("endpoint", endpoint),
			slog.String("id", fallbackID),
		)
		addr.ID = fallbackID
	}
	return &addr, nil
}
