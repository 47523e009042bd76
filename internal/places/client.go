// 包 places：外部地点检索（Google Places Text Search）与结果缓存
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"product-finder/internal/geo"
	"product-finder/internal/logger"
	"product-finder/internal/metrics"
)

// 默认检索地址与偏置半径（米）
const (
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/place/textsearch/json"
	DefaultRadiusM = 5000
)

var (
	// ErrPlaceSearchFailed：地点检索非 OK 或传输失败；ZERO_RESULTS 不属于失败
	ErrPlaceSearchFailed = errors.New("place search failed")
	ErrMissingKey        = errors.New("missing places api key")
)

// Place：一条地点检索结果
type Place struct {
	ID      string         `json:"place_id"`
	Name    string         `json:"name"`
	Address string         `json:"address"`
	Rating  float64        `json:"rating,omitempty"`
	Coord   geo.Coordinate `json:"coord"`
}

// Query：检索参数；Bias 为空时不带位置偏置
type Query struct {
	Text    string
	Bias    *geo.Coordinate
	RadiusM int
}

// Searcher：地点检索契约，Client 与 CachedSearcher 均实现
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Place, error)
}

type textSearchResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		PlaceID          string  `json:"place_id"`
		Name             string  `json:"name"`
		FormattedAddress string  `json:"formatted_address"`
		Rating           float64 `json:"rating"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Client：Places Text Search REST 客户端
type Client struct {
	BaseURL string
	key     string
	http    *http.Client
}

// NewClient：client 为空时使用 5s 超时的默认客户端
func NewClient(key string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{BaseURL: DefaultBaseURL, key: key, http: client}
}

// 文档注释：按文本检索地点
// 参数：q.Text 必填；q.Bias 非空时附带 location=lat,lng 与 radius（默认 5000 米）。
// 返回：status 为 OK 或 ZERO_RESULTS 时返回结果（可能为空）；其余状态、非 2xx、解码失败均包装 ErrPlaceSearchFailed。
// 约束：不做重试，由上层决定是否再次发起。
func (c *Client) Search(ctx context.Context, q Query) ([]Place, error) {
	if c.key == "" {
		return nil, fmt.Errorf("%w: %w", ErrPlaceSearchFailed, ErrMissingKey)
	}
	v := url.Values{}
	v.Set("query", strings.TrimSpace(q.Text))
	v.Set("key", c.key)
	if q.Bias != nil {
		radius := q.RadiusM
		if radius <= 0 {
			radius = DefaultRadiusM
		}
		v.Set("location", strconv.FormatFloat(q.Bias.Lat, 'f', -1, 64)+","+strconv.FormatFloat(q.Bias.Lon, 'f', -1, 64))
		v.Set("radius", strconv.Itoa(radius))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+v.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlaceSearchFailed, err)
	}
	t0 := time.Now()
	metrics.PlaceRequestsTotal.Inc()
	logger.L().Debug("place_search_req", "query", q.Text, "biased", q.Bias != nil)
	resp, err := c.http.Do(req)
	if err != nil {
		logger.L().Error("place_search_error", "err", err)
		metrics.PlaceFailTotal.Inc()
		return nil, fmt.Errorf("%w: %w", ErrPlaceSearchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.L().Error("place_search_status", "status", resp.StatusCode)
		metrics.PlaceFailTotal.Inc()
		return nil, fmt.Errorf("%w: http %d", ErrPlaceSearchFailed, resp.StatusCode)
	}
	var r textSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		logger.L().Error("place_search_decode_error", "err", err)
		metrics.PlaceFailTotal.Inc()
		return nil, fmt.Errorf("%w: %w", ErrPlaceSearchFailed, err)
	}
	dur := time.Since(t0).Milliseconds()
	metrics.PlaceDurationMs.Observe(float64(dur))
	logger.L().Debug("place_search_resp", "query", q.Text, "status", r.Status, "results", len(r.Results), "duration_ms", dur)
	switch r.Status {
	case "OK", "ZERO_RESULTS":
	default:
		metrics.PlaceFailTotal.Inc()
		logger.L().Warn("place_search_rejected", "status", r.Status, "message", r.ErrorMessage)
		return nil, fmt.Errorf("%w: status %s", ErrPlaceSearchFailed, r.Status)
	}
	metrics.PlaceSuccessTotal.Inc()
	out := make([]Place, 0, len(r.Results))
	for _, it := range r.Results {
		out = append(out, Place{
			ID:      it.PlaceID,
			Name:    it.Name,
			Address: it.FormattedAddress,
			Rating:  it.Rating,
			Coord:   geo.Coordinate{Lat: it.Geometry.Location.Lat, Lon: it.Geometry.Location.Lng},
		})
	}
	return out, nil
}
