package fakeapi

// Chef は料理の出品者を表す。
type Chef struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	NativePlace string `json:"native_place"`
	PhotoURL    string `json:"photo_url"`
}

// Dish はメニュー上の1品を表す。同じ料理IDでも出品者ごとに別の品として扱う。
type Dish struct {
	FoodID   string  `json:"food_id"`
	VendorID string  `json:"vendor_id"`
	Name     string  `json:"food_name"`
	Price    float64 `json:"price"`
	PhotoURL string  `json:"photo_url"`
}

// Catalog は開発用バックエンドのメニュー。
type Catalog struct {
	Chefs  []Chef
	Dishes []Dish
}

// DefaultCatalog は開発用の既定メニューを返す。
// 画像パスは実バックエンドと同様にオリジン相対で返す。
func DefaultCatalog() Catalog {
	return Catalog{
		Chefs: []Chef{
			{ID: "V1", Name: "Lakshmi Amma", NativePlace: "Madurai", PhotoURL: "/uploads/chefs/v1.jpg"},
			{ID: "V2", Name: "Farida Begum", NativePlace: "Hyderabad", PhotoURL: "/uploads/chefs/v2.jpg"},
			{ID: "V3", Name: "Gurpreet Kaur", NativePlace: "Amritsar", PhotoURL: "/uploads/chefs/v3.jpg"},
		},
		Dishes: []Dish{
			{FoodID: "F1", VendorID: "V1", Name: "Lemon Rice", Price: 100, PhotoURL: "/uploads/foods/f1-v1.jpg"},
			{FoodID: "F1", VendorID: "V2", Name: "Lemon Rice", Price: 120, PhotoURL: "/uploads/foods/f1-v2.jpg"},
			{FoodID: "F2", VendorID: "V1", Name: "Kara Kuzhambu", Price: 150, PhotoURL: "/uploads/foods/f2.jpg"},
			{FoodID: "F3", VendorID: "V2", Name: "Mutton Biryani", Price: 280, PhotoURL: "/uploads/foods/f3.jpg"},
			{FoodID: "F4", VendorID: "V3", Name: "Sarson da Saag", Price: 180, PhotoURL: "/uploads/foods/f4.jpg"},
		},
	}
}

func (c Catalog) chef(id string) *Chef {
	for i := range c.Chefs {
		if c.Chefs[i].ID == id {
			return &c.Chefs[i]
		}
	}
	return nil
}

// dish は料理IDと出品者IDで品を探す。出品者IDが空の場合は最初に見つかった品を返す。
func (c Catalog) dish(foodID, vendorID string) (Dish, bool) {
	for _, d := range c.Dishes {
		if d.FoodID != foodID {
			continue
		}
		if vendorID == "" || d.VendorID == vendorID {
			return d, true
		}
	}
	return Dish{}, false
}
