// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"product-finder/internal/catalog"
	"product-finder/internal/geo"
	"product-finder/internal/health"
	"product-finder/internal/location"
	"product-finder/internal/logger"
	"product-finder/internal/pipeline"
	"product-finder/internal/places"
	"product-finder/internal/recognition"
)

// 图片请求体上限（base64 膨胀约 4/3）
const maxImageBody = 15 << 20

// Deps：路由依赖；Classifier 用于就绪探测，GeoIP 为空时不做 IP 粗定位
type Deps struct {
	Discovery  *pipeline.Discovery
	Classifier recognition.Recognizer
	GeoIP      *location.GeoIPLocator
	Monitor    *health.Monitor
	FixTimeout time.Duration
}

type handler struct {
	deps Deps
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type imageRequest struct {
	ImageData string   `json:"image_data"`
	ImageURL  string   `json:"image_url"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// 文档注释：错误到 HTTP 状态的映射
// 背景：图片地址被拒为 400；分类服务未就绪为 503，识别与地点检索的传输失败为 502，二者均标记 retryable 由用户决定是否重试；服务端不自动重试。
// 约束：会话已放弃时不写响应体。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrAbandoned):
		logger.L().Debug("api_abandoned", "path", r.URL.Path)
	case errors.Is(err, recognition.ErrImageURLRejected):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: recognition.ErrImageURLRejected.Error()})
	case errors.Is(err, recognition.ErrServiceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Retryable: true})
	case errors.Is(err, recognition.ErrRecognitionFailed), errors.Is(err, places.ErrPlaceSearchFailed):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Retryable: true})
	case errors.Is(err, recognition.ErrEmptyImage):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, pipeline.ErrNoRecognizer), errors.Is(err, pipeline.ErrNoStoreResolver):
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: err.Error()})
	default:
		logger.L().Error("api_error", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decodeImageData：接受 data URI 或裸 base64
func decodeImageData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	h := &handler{deps: d}
	mux := http.NewServeMux()
	mux.HandleFunc("/search", h.searchText)
	mux.HandleFunc("/search/image", h.searchImage)
	mux.HandleFunc("/stores/resolve", h.resolveStore)
	mux.HandleFunc("/health/classifier", h.classifierHealth)
	mux.HandleFunc("/health", h.dependencies)
	return mux
}

func (h *handler) searchText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing q"})
		return
	}
	user, ok := coordFromQuery(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lat/lon"})
		return
	}
	res, err := h.deps.Discovery.SearchText(r.Context(), h.session(r, user), q)
	if err != nil && !errors.Is(err, catalog.ErrNoMatchFound) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) searchImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req imageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImageBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	var img recognition.Image
	switch {
	case req.ImageData != "":
		b, err := decodeImageData(req.ImageData)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid image_data"})
			return
		}
		img = recognition.FromBytes(b)
	case req.ImageURL != "":
		if err := recognition.CheckImageURL(req.ImageURL); err != nil {
			logger.L().Info("api_image_url_rejected", "url", req.ImageURL)
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		img = recognition.FromURL(req.ImageURL)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "image_data or image_url required"})
		return
	}
	user, ok := coordFromQuery(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lat/lon"})
		return
	}
	if req.Lat != nil && req.Lon != nil {
		user = &geo.Coordinate{Lat: *req.Lat, Lon: *req.Lon}
		if !user.Valid() {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lat/lon"})
			return
		}
	}
	res, err := h.deps.Discovery.SearchImage(r.Context(), h.session(r, user), img)
	if err != nil && !errors.Is(err, catalog.ErrNoMatchFound) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) resolveStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	hint, ok := coordFromQuery(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lat/lon"})
		return
	}
	if q == "" && hint == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing q or lat/lon"})
		return
	}
	res, err := h.deps.Discovery.ResolveStore(r.Context(), h.session(r, hint), q, hint)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) classifierHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Classifier == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	if !h.deps.Classifier.HealthCheck(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// dependencies：依赖心跳快照；未配置监控器时只报告进程存活
func (h *handler) dependencies(w http.ResponseWriter, r *http.Request) {
	if h.deps.Monitor == nil {
		writeJSON(w, http.StatusOK, map[string]any{"healthy": true})
		return
	}
	status := http.StatusOK
	healthy := h.deps.Monitor.Healthy()
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "dependencies": h.deps.Monitor.Statuses()})
}
