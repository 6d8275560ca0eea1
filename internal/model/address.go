// Package model はドメインモデルを定義する。
package model

import "strings"

// 住所ラベルの定義済み値。
const (
	AddressLabelHome  = "Home"
	AddressLabelWork  = "Work"
	AddressLabelOther = "Other"
)

// Coordinates は経度・緯度の組を表す。
// JSON表現はGeoJSONと同じ [longitude, latitude] の配列。
type Coordinates [2]float64

// NewCoordinates は緯度・経度からCoordinatesを生成する。
func NewCoordinates(latitude, longitude float64) Coordinates {
	return Coordinates{longitude, latitude}
}

// Longitude は経度を返す。
func (c Coordinates) Longitude() float64 { return c[0] }

// Latitude は緯度を返す。
func (c Coordinates) Latitude() float64 { return c[1] }

// IsZero は座標が未設定かを返す。
func (c Coordinates) IsZero() bool {
	return c[0] == 0 && c[1] == 0
}

// Valid は経度・緯度が有効範囲内かを返す。
func (c Coordinates) Valid() bool {
	return !c.IsZero() &&
		c.Longitude() >= -180 && c.Longitude() <= 180 &&
		c.Latitude() >= -90 && c.Latitude() <= 90
}

// Address は配送先住所を表す。
type Address struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	FlatNo      string      `json:"flat_no"`
	Landmark    string      `json:"landmark"`
	Area        string      `json:"area"`
	Coordinates Coordinates `json:"coordinates"`
	IsDefault   bool        `json:"is_default"`
}

// AddressDraft は住所登録フォームの入力値を表す。
type AddressDraft struct {
	Label       string
	FlatNo      string
	Landmark    string
	Area        string
	Coordinates Coordinates
	IsDefault   bool
}

// Validate は送信前にフォームの必須項目を検証する。
// 不足している項目がある場合はバリデーションエラーを返す。
func (d AddressDraft) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Label) == "" {
		missing = append(missing, "label")
	}
	if strings.TrimSpace(d.FlatNo) == "" {
		missing = append(missing, "flat_no")
	}
	if strings.TrimSpace(d.Landmark) == "" {
		missing = append(missing, "landmark")
	}
	if strings.TrimSpace(d.Area) == "" {
		missing = append(missing, "area")
	}
	if !d.Coordinates.Valid() {
		missing = append(missing, "coordinates")
	}
	if len(missing) > 0 {
		return NewIncompleteAddressError(missing)
	}
	return nil
}
