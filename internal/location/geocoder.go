package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ruralink/kaaryasetu/internal/model"
)

const (
	// DefaultGeocodeEndpoint はBigDataCloudの逆ジオコーディングAPIのエンドポイント。
	DefaultGeocodeEndpoint = "https://api.bigdatacloud.net/data/reverse-geocode-client"

	maxResponseBytes = 1 << 20
)

// Geocoder は座標から表示用の住所を解決する。
// 失敗時はエラーにせず座標文字列で代替する。
type Geocoder struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewGeocoder はGeocoderの新しいインスタンスを生成する。
// endpointが空の場合はDefaultGeocodeEndpointを使用する。
func NewGeocoder(httpClient *http.Client, logger *slog.Logger, endpoint string) *Geocoder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if endpoint == "" {
		endpoint = DefaultGeocodeEndpoint
	}
	return &Geocoder{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

type reverseGeocodeResponse struct {
	Locality             string `json:"locality"`
	PrincipalSubdivision string `json:"principalSubdivision"`
	CountryName          string `json:"countryName"`
}

// Reverse は座標を"<地域>, <州>, <国>"形式の住所付きGeoPointに変換する。
// 取得に失敗した場合や地域名が返らない場合は"緯度, 経度"を小数点以下4桁で返す。
func (g *Geocoder) Reverse(ctx context.Context, lat, lng float64) model.GeoPoint {
	point := model.GeoPoint{Lat: lat, Lng: lng}

	address, err := g.lookup(ctx, lat, lng)
	if err != nil {
		g.logger.Warn("逆ジオコーディングに失敗しました。座標で代替します",
			slog.String("error", err.Error()),
		)
	}
	if address == "" {
		address = FormatCoordinates(lat, lng)
	}
	point.Address = address
	return point
}

// FormatCoordinates は座標を小数点以下4桁の文字列にする。
func FormatCoordinates(lat, lng float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lng)
}

func (g *Geocoder) lookup(ctx context.Context, lat, lng float64) (string, error) {
	reqURL, err := url.Parse(g.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint: %w", err)
	}
	q := reqURL.Query()
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("localityLanguage", "en")
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "KaaryaSetu/1.0")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var result reverseGeocodeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Locality == "" {
		return "", nil
	}
	return fmt.Sprintf("%s, %s, %s", result.Locality, result.PrincipalSubdivision, result.CountryName), nil
}
