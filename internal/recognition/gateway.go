// 包 recognition：外部图像分类服务的就绪探测与识别调用
package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"product-finder/internal/logger"
	"product-finder/internal/metrics"
)

// 单张图片最大读取字节数
const maxImageBytes = 10 << 20

// Result：一条识别结果
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Query：把分类标签转换为目录检索词（如 Prima_noodles → Prima noodles）
func (r Result) Query() string {
	return strings.Join(strings.Fields(strings.ReplaceAll(r.Label, "_", " ")), " ")
}

// Image：待识别图片，二选一：原始字节或远程 URL
type Image struct {
	Data []byte
	URL  string
}

func FromBytes(b []byte) Image { return Image{Data: b} }
func FromURL(u string) Image   { return Image{URL: u} }

// Recognizer：识别网关契约，Gate 与流水线依赖此接口
type Recognizer interface {
	HealthCheck(ctx context.Context) bool
	Recognize(ctx context.Context, img Image) ([]Result, error)
}

// 文档注释：图像分类网关
// 背景：对接外部 /predict 服务；HEAD 作为轻量就绪探测，POST 提交 base64 图片获取按置信度降序的预测列表。
// 约束：信任服务端排序不再重排；空预测视为独立失败；URL 输入只解引用一层。
type Gateway struct {
	base   string
	client *http.Client

	// 图片 URL 抓取专用，与分类服务客户端分开
	fetcher    *http.Client
	fetchHosts map[string]struct{}
}

func NewGateway(baseURL string, client *http.Client, opts ...GatewayOption) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	g := &Gateway{base: strings.TrimRight(baseURL, "/"), client: client}
	for _, o := range opts {
		o(g)
	}
	if g.fetcher == nil {
		g.fetcher = NewFetchClient(client.Timeout)
	}
	return g
}

func (g *Gateway) endpoint() string { return g.base + "/predict" }

// 文档注释：就绪探测
// 背景：HEAD /predict，状态码 < 500 视为可用；网络错误视为不可用。
func (g *Gateway) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.endpoint(), nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		logger.L().Debug("classifier_health_fail", "err", err)
		metrics.ClassifierHealthTotal.WithLabelValues("fail").Inc()
		return false
	}
	resp.Body.Close()
	ok := resp.StatusCode < 500
	if ok {
		metrics.ClassifierHealthTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.ClassifierHealthTotal.WithLabelValues("fail").Inc()
	}
	logger.L().Debug("classifier_health", "status", resp.StatusCode, "ready", ok)
	return ok
}

// 文档注释：识别图片
// 背景：URL 输入先下载一次字节，再以字节载荷识别；字节载荷不会再被当作 URL 解析。
// 返回：服务端给出的预测列表（原顺序）；失败时返回 *RecognitionError。
func (g *Gateway) Recognize(ctx context.Context, img Image) ([]Result, error) {
	if img.URL != "" && len(img.Data) == 0 {
		data, err := g.fetch(ctx, img.URL)
		if err != nil {
			return nil, err
		}
		return g.predict(ctx, data)
	}
	return g.predict(ctx, img.Data)
}

// 文档注释：下载图片字节
// 约束：仅 http/https 且主机在允许列表内；Content-Length 或实际读取超过 maxImageBytes 视为失败，不截断后继续识别。
func (g *Gateway) fetch(ctx context.Context, raw string) ([]byte, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || !g.hostAllowed(u) {
		logger.L().Info("image_fetch_rejected", "url", raw)
		return nil, failure(ErrImageFetch, 0, ErrImageURLRejected)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, failure(ErrImageFetch, 0, err)
	}
	resp, err := g.fetcher.Do(req)
	if err != nil {
		logger.L().Error("image_fetch_error", "url", raw, "err", err)
		return nil, failure(ErrImageFetch, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failure(ErrImageFetch, resp.StatusCode, nil)
	}
	if resp.ContentLength > maxImageBytes {
		logger.L().Info("image_fetch_too_large", "url", raw, "content_length", resp.ContentLength)
		return nil, failure(ErrImageFetch, resp.StatusCode, errImageTooLarge)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, failure(ErrImageFetch, resp.StatusCode, err)
	}
	if len(b) > maxImageBytes {
		logger.L().Info("image_fetch_too_large", "url", raw, "bytes_read", len(b))
		return nil, failure(ErrImageFetch, resp.StatusCode, errImageTooLarge)
	}
	logger.L().Debug("image_fetch_ok", "url", raw, "bytes", len(b))
	return b, nil
}

// EncodeImage：编码为 data URI（可识别的图片类型）或纯 base64
func EncodeImage(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return "data:" + ct + ";base64," + enc
	}
	return enc
}

type predictRequest struct {
	ImageData string `json:"image_data"`
}

type prediction struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
}

type predictResponse struct {
	Predictions *[]prediction `json:"predictions"`
}

func (g *Gateway) predict(ctx context.Context, data []byte) ([]Result, error) {
	if len(data) == 0 {
		return nil, failure(ErrEmptyImage, 0, nil)
	}
	body, err := json.Marshal(predictRequest{ImageData: EncodeImage(data)})
	if err != nil {
		return nil, failure(ErrTransport, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, failure(ErrTransport, 0, err)
	}
	req.Header.Set("content-type", "application/json")
	t0 := time.Now()
	metrics.ClassifierRequestsTotal.Inc()
	resp, err := g.client.Do(req)
	if err != nil {
		logger.L().Error("classifier_http_error", "err", err)
		metrics.ClassifierFailTotal.WithLabelValues("transport").Inc()
		return nil, failure(ErrTransport, 0, err)
	}
	defer resp.Body.Close()
	metrics.ClassifierDurationMs.Observe(float64(time.Since(t0).Milliseconds()))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ClassifierFailTotal.WithLabelValues("status").Inc()
		logger.L().Error("classifier_bad_status", "status", resp.StatusCode)
		return nil, failure(ErrBadStatus, resp.StatusCode, nil)
	}
	mt, _, err := mime.ParseMediaType(resp.Header.Get("content-type"))
	if err != nil || mt != "application/json" {
		metrics.ClassifierFailTotal.WithLabelValues("content_type").Inc()
		logger.L().Error("classifier_not_json", "content_type", resp.Header.Get("content-type"))
		return nil, failure(ErrNotJSON, resp.StatusCode, nil)
	}
	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		metrics.ClassifierFailTotal.WithLabelValues("decode").Inc()
		logger.L().Error("classifier_decode_error", "err", err)
		return nil, failure(ErrNotJSON, resp.StatusCode, err)
	}
	if pr.Predictions == nil {
		metrics.ClassifierFailTotal.WithLabelValues("missing").Inc()
		return nil, failure(ErrMissingPredictions, resp.StatusCode, nil)
	}
	if len(*pr.Predictions) == 0 {
		metrics.ClassifierFailTotal.WithLabelValues("empty").Inc()
		return nil, failure(ErrEmptyPredictions, resp.StatusCode, nil)
	}
	out := make([]Result, 0, len(*pr.Predictions))
	for _, p := range *pr.Predictions {
		out = append(out, Result{Label: p.Class, Confidence: clamp01(p.Probability)})
	}
	metrics.ClassifierSuccessTotal.Inc()
	logger.L().Debug("classifier_resp", "top", out[0].Label, "confidence", out[0].Confidence, "count", len(out))
	return out, nil
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// 文档注释：就绪门控后识别
// 背景：调用方不得绕过就绪探测；探测失败直接返回 ErrServiceUnavailable，不发出识别请求。
func Gate(ctx context.Context, r Recognizer, img Image) ([]Result, error) {
	if !r.HealthCheck(ctx) {
		logger.L().Info("classifier_gate_blocked")
		return nil, ErrServiceUnavailable
	}
	return r.Recognize(ctx, img)
}

// Gate：Gateway 自身的门控入口
func (g *Gateway) Gate(ctx context.Context, img Image) ([]Result, error) { return Gate(ctx, g, img) }
