// Package geocode は座標から住所を求める逆ジオコーディングクライアントを提供する。
// 座標のみで住所を登録する場合に、地域名と目印を補完するために使用する。
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/homechef/internal/model"
)

// DefaultEndpoint はGoogle Geocoding APIのエンドポイント。
const DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

const maxResponseBytes = 1 << 20

// Place は逆ジオコーディングの結果。
type Place struct {
	FormattedAddress string
	Area             string // 地域名（sublocality、なければlocality）
	Landmark         string // 目印（施設名や通り名）。見つからない場合は空
}

// Client は逆ジオコーディングAPIのクライアント。
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	logger     *slog.Logger
}

// NewClient は新しいClientを生成する。
// httpClientには外部通信用のSSRF対策済みクライアントを渡す。
func NewClient(httpClient *http.Client, endpoint, apiKey string, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		apiKey:     apiKey,
		logger:     logger,
	}
}

type addressComponent struct {
	LongName string   `json:"long_name"`
	Types    []string `json:"types"`
}

type geocodeResult struct {
	FormattedAddress  string             `json:"formatted_address"`
	AddressComponents []addressComponent `json:"address_components"`
}

type geocodeResponse struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message"`
	Results      []geocodeResult `json:"results"`
}

// Reverse は座標に対応する住所を返す。
// 結果が得られない場合はGEOCODE_FAILEDエラーを返す。
func (c *Client) Reverse(ctx context.Context, coords model.Coordinates) (*Place, error) {
	if !coords.Valid() {
		return nil, model.NewGeocodeFailedError("coordinates are out of range")
	}

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("latlng", strconv.FormatFloat(coords.Latitude(), 'f', -1, 64)+","+strconv.FormatFloat(coords.Longitude(), 'f', -1, 64))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("逆ジオコーディングAPIの呼び出しに失敗しました", slog.String("error", err.Error()))
		return nil, model.NewGeocodeFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("逆ジオコーディングAPIがエラーステータスを返しました", slog.Int("http_status", resp.StatusCode))
		return nil, model.NewGeocodeFailedError(fmt.Sprintf("status %d", resp.StatusCode))
	}

	var body geocodeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, model.NewGeocodeFailedError("invalid response")
	}
	if body.Status != "OK" || len(body.Results) == 0 {
		reason := body.Status
		if body.ErrorMessage != "" {
			reason += ": " + body.ErrorMessage
		}
		return nil, model.NewGeocodeFailedError(reason)
	}

	return toPlace(body.Results[0]), nil
}

// toPlace は先頭の結果から地域名と目印を取り出す。
func toPlace(r geocodeResult) *Place {
	place := &Place{FormattedAddress: r.FormattedAddress}
	place.Area = firstOfType(r.AddressComponents, "sublocality_level_1", "sublocality", "neighborhood", "locality")
	place.Landmark = firstOfType(r.AddressComponents, "point_of_interest", "establishment", "premise", "route")
	if place.Area == "" {
		place.Area = r.FormattedAddress
	}
	return place
}

// firstOfType は優先順に型を探し、最初に見つかった構成要素の名前を返す。
func firstOfType(components []addressComponent, types ...string) string {
	for _, want := range types {
		for _, comp := range components {
			for _, t := range comp.Types {
				if t == want {
					return comp.LongName
				}
			}
		}
	}
	return ""
}
