package model

import "time"

// JobStatus は求人の募集状態を表す。
type JobStatus string

const (
	JobStatusOpen   JobStatus = "open"
	JobStatusClosed JobStatus = "closed"
)

// JobCategories は求人カテゴリの閉じた集合。
var JobCategories = []string{
	"Painter", "Cleaner", "Helper", "Gardener", "Cook",
	"Driver", "Electrician", "Plumber", "Carpenter", "Security Guard",
}

// IsJobCategory はcategoryが既知のカテゴリかどうかを返す。
func IsJobCategory(category string) bool {
	for _, c := range JobCategories {
		if c == category {
			return true
		}
	}
	return false
}

// JobPosting は雇用主が掲載する求人を表す。
// 座標は任意で、座標がない求人も一覧からは除外しない。
type JobPosting struct {
	ID          string
	EmployerID  string
	Title       string
	Category    string
	Description string
	Location    string
	Lat         *float64
	Lng         *float64
	Date        time.Time // 日付のみ使用する
	Time        string    // "09:00 - 17:00" 形式
	Pay         string    // 通貨記号付きの自由文字列
	Urgent      bool
	Status      JobStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Coordinate は求人の座標を返す。緯度・経度の両方がある場合のみokがtrueになる。
func (j *JobPosting) Coordinate() (GeoPoint, bool) {
	if j.Lat == nil || j.Lng == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Lat: *j.Lat, Lng: *j.Lng}, true
}

// JobFields は求人作成時の入力値。
type JobFields struct {
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	Date        string   `json:"date"` // YYYY-MM-DD
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Pay         string   `json:"pay"`
	Urgent      bool     `json:"urgent"`
}

// GeoPoint は緯度・経度と解決済み住所の組を表す。
// クライアント側でのみ保持する。
type GeoPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}
