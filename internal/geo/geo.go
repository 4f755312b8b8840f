// Package geo は位置情報による求人の絞り込みと並べ替えを提供する。
package geo

import (
	"math"
	"sort"

	"github.com/ruralink/kaaryasetu/internal/model"
)

const (
	// EarthRadiusKm は地球の平均半径（km）。
	EarthRadiusKm = 6371.0
	// DefaultRadiusKm は検索半径の既定値（km）。
	DefaultRadiusKm = 15.0
)

// RankedJob は距離を付与した求人。
// 座標のない求人はDistanceKmがnilになる。
type RankedJob struct {
	Job        model.JobPosting
	DistanceKm *float64
}

// DistanceKm はハバーサイン公式で2点間の大圏距離（km）を返す。
func DistanceKm(a, b model.GeoPoint) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	// 対蹠点付近では丸め誤差でhが1をわずかに超える
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// FilterAndRank はoriginから半径radiusKm以内の求人を近い順に並べて返す。
//
//   - 座標のない求人は常に含め、距離はnilとする
//   - 座標のある求人は distance <= radiusKm の場合のみ含める（境界を含む）
//   - 距離が有限値にならない求人（originがNaNなど）は除外する
//   - 距離の昇順に並べ、距離nilの求人は末尾に入力順のまま置く
//
// 入力スライスは変更しない。
func FilterAndRank(jobs []model.JobPosting, origin model.GeoPoint, radiusKm float64) []RankedJob {
	ranked := make([]RankedJob, 0, len(jobs))

	for _, job := range jobs {
		point, ok := job.Coordinate()
		if !ok {
			ranked = append(ranked, RankedJob{Job: job})
			continue
		}

		d := DistanceKm(origin, point)
		if math.IsNaN(d) || math.IsInf(d, 0) || d > radiusKm {
			continue
		}
		ranked = append(ranked, RankedJob{Job: job, DistanceKm: &d})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		di, dj := ranked[i].DistanceKm, ranked[j].DistanceKm
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return *di < *dj
		}
	})

	return ranked
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
