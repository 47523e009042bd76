// 包 pipeline：发现流水线，串联识别网关、目录检索、定位快照与距离标注
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"product-finder/internal/catalog"
	"product-finder/internal/geo"
	"product-finder/internal/location"
	"product-finder/internal/metrics"
	"product-finder/internal/recognition"
	"product-finder/internal/stores"
)

var (
	// ErrAbandoned：发起方已离开，结果不再提交
	ErrAbandoned       = errors.New("discovery abandoned")
	ErrMatcherRequired = errors.New("catalog matcher required")
	ErrNoRecognizer    = errors.New("recognizer not configured")
	ErrNoStoreResolver = errors.New("store resolver not configured")
)

// Position：定位快照来源，location.Tracker 实现
type Position interface {
	Snapshot() (location.Sample, bool)
	State() location.State
}

// Session：一次界面会话的上下文
// Distances 为空时每次调用新建解析器；Alive 为空视为始终存活。
type Session struct {
	Position  Position
	Distances *geo.Resolver
	Alive     func() bool
}

// Hit：带距离标注的目录条目
type Hit struct {
	catalog.Item
	Distance string `json:"distance"`
}

// Result：一次发现的输出
type Result struct {
	Query      string   `json:"query"`
	Label      string   `json:"label,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Tier       string   `json:"tier"`
	Fallback   bool     `json:"fallback"`
	Message    string   `json:"message,omitempty"`
	Located    bool     `json:"located"`
	NoMatch    bool     `json:"no_match"`
	Items      []Hit    `json:"items"`
}

// StoreResult：门店解析输出；Store 为空表示未找到
type StoreResult struct {
	Query      string         `json:"query"`
	Store      *stores.Record `json:"store"`
	DistanceKm *float64       `json:"distance_km"`
	Distance   string         `json:"distance"`
}

// Discovery：无状态流水线，可被多个会话复用
type Discovery struct {
	matcher    *catalog.Matcher
	recognizer recognition.Recognizer
	stores     *stores.Resolver
	logger     *slog.Logger
}

type Option func(*Discovery)

func WithRecognizer(r recognition.Recognizer) Option {
	return func(d *Discovery) { d.recognizer = r }
}

func WithStoreResolver(s *stores.Resolver) Option {
	return func(d *Discovery) { d.stores = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Discovery) {
		if l != nil {
			d.logger = l
		}
	}
}

func New(m *catalog.Matcher, opts ...Option) (*Discovery, error) {
	if m == nil {
		return nil, ErrMatcherRequired
	}
	d := &Discovery{matcher: m, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// fix：在计算开始时读取一次定位快照
type fix struct {
	user    *geo.Coordinate
	pending bool
}

func (s Session) snapshot() fix {
	if s.Position == nil {
		return fix{}
	}
	if sample, ok := s.Position.Snapshot(); ok {
		c := sample.Coord
		return fix{user: &c}
	}
	return fix{pending: s.Position.State() == location.StateAcquiring}
}

func (s Session) alive() bool { return s.Alive == nil || s.Alive() }

func (s Session) resolver() *geo.Resolver {
	if s.Distances != nil {
		return s.Distances
	}
	return geo.NewResolver()
}

// 文档注释：文本发现
// 背景：快照一次定位 → 分层检索 → 存活检查 → 逐条标注距离。
// 返回：无任何匹配时返回空结果与 catalog.ErrNoMatchFound；会话已放弃返回 ErrAbandoned；定位缺失不报错，距离标注为 Unknown。
func (d *Discovery) SearchText(ctx context.Context, sess Session, query string) (*Result, error) {
	t0 := time.Now()
	metrics.SearchRequestsTotal.WithLabelValues("text").Inc()
	defer func() {
		metrics.SearchDurationMs.WithLabelValues("text").Observe(float64(time.Since(t0).Milliseconds()))
	}()
	return d.search(ctx, sess, sess.snapshot(), query, nil)
}

// 文档注释：图片发现
// 背景：就绪门控 → 识别 → 取置信度最高的标签作为检索词 → 同文本发现。
// 约束：分类服务未就绪时不发出识别请求，返回 recognition.ErrServiceUnavailable；识别失败原样返回，不自动重试。
func (d *Discovery) SearchImage(ctx context.Context, sess Session, img recognition.Image) (*Result, error) {
	t0 := time.Now()
	metrics.SearchRequestsTotal.WithLabelValues("image").Inc()
	defer func() {
		metrics.SearchDurationMs.WithLabelValues("image").Observe(float64(time.Since(t0).Milliseconds()))
	}()
	if d.recognizer == nil {
		return nil, ErrNoRecognizer
	}
	f := sess.snapshot()
	preds, err := recognition.Gate(ctx, d.recognizer, img)
	if err != nil {
		d.logger.Info("discovery_recognition_error", "err", err)
		return nil, err
	}
	top := preds[0]
	if !sess.alive() {
		return nil, ErrAbandoned
	}
	d.logger.Debug("discovery_label", "label", top.Label, "confidence", top.Confidence)
	return d.search(ctx, sess, f, top.Query(), &top)
}

func (d *Discovery) search(ctx context.Context, sess Session, f fix, query string, top *recognition.Result) (*Result, error) {
	res, err := d.matcher.Search(ctx, query)
	if err != nil && !errors.Is(err, catalog.ErrNoMatchFound) {
		return nil, err
	}
	if !sess.alive() {
		d.logger.Debug("discovery_abandoned", "query", query)
		return nil, ErrAbandoned
	}
	out := &Result{Query: query, Located: f.user != nil, NoMatch: err != nil, Items: []Hit{}}
	if top != nil {
		conf := top.Confidence
		out.Label = top.Label
		out.Confidence = &conf
	}
	if res != nil {
		out.Query = res.Query
		out.Tier = res.Tier.String()
		out.Fallback = res.Fallback
		out.Message = res.Message
		out.Items = annotate(sess.resolver(), f, res.Items)
	}
	return out, err
}

// annotate：按同一份快照标注全部条目
func annotate(r *geo.Resolver, f fix, items []catalog.Item) []Hit {
	if f.user != nil {
		r.Observe(*f.user)
	}
	h0, m0 := r.Stats()
	out := make([]Hit, 0, len(items))
	for _, it := range items {
		it.DistanceKm = r.Between(f.user, it.StoreCoord)
		d := geo.Distance{Km: it.DistanceKm, Pending: f.pending && it.StoreCoord != nil}
		out = append(out, Hit{Item: it, Distance: d.String()})
	}
	h1, m1 := r.Stats()
	metrics.DistanceCacheHitsTotal.Add(float64(h1 - h0))
	metrics.DistanceCacheMissesTotal.Add(float64(m1 - m0))
	return out
}

// 文档注释：门店解析
// 背景：以会话定位快照作为坐标提示，未定位时仅按名称解析；命中门店后标注距离。
// 返回：未找到时 Store 为空且无错误；外部检索失败返回 places.ErrPlaceSearchFailed。
func (d *Discovery) ResolveStore(ctx context.Context, sess Session, query string, hint *geo.Coordinate) (*StoreResult, error) {
	if d.stores == nil {
		return nil, ErrNoStoreResolver
	}
	f := sess.snapshot()
	if hint == nil {
		hint = f.user
	}
	rec, err := d.stores.Resolve(ctx, query, hint)
	if err != nil {
		return nil, err
	}
	if !sess.alive() {
		return nil, ErrAbandoned
	}
	out := &StoreResult{Query: query, Store: rec, Distance: geo.Unknown}
	if rec != nil {
		r := sess.resolver()
		if f.user != nil {
			r.Observe(*f.user)
		}
		out.DistanceKm = r.Between(f.user, rec.Coord)
		out.Distance = geo.Distance{Km: out.DistanceKm, Pending: f.pending && rec.Coord != nil}.String()
	}
	return out, nil
}
