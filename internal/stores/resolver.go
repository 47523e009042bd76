package stores

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	"product-finder/internal/geo"
	"product-finder/internal/metrics"
	"product-finder/internal/places"
)

// DefaultLocalRadiusKm：邻近门店的接受半径（严格小于）
const DefaultLocalRadiusKm = 1.0

// PlaceIDPrefix：外部地点映射为门店记录时的 ID 前缀
const PlaceIDPrefix = "place:"

var ErrDirectoryRequired = errors.New("store directory required")

// Step：解析命中的步骤
type Step string

const (
	StepExact     Step = "exact"
	StepNearest   Step = "nearest"
	StepSubstring Step = "substring"
	StepPlace     Step = "place"
	StepNone      Step = "none"
)

// Resolver：门店解析器
type Resolver struct {
	dir      Directory
	search   places.Searcher
	radiusKm float64
	radiusM  int
	logger   *slog.Logger
}

type ResolverOption func(*Resolver)

// WithLocalRadius：邻近层接受半径（千米），非正值保持默认
func WithLocalRadius(km float64) ResolverOption {
	return func(r *Resolver) {
		if km > 0 {
			r.radiusKm = km
		}
	}
}

// WithPlaceSearch：外部地点检索兜底；未设置时第四步直接返回空结果
func WithPlaceSearch(s places.Searcher, radiusM int) ResolverOption {
	return func(r *Resolver) {
		r.search = s
		if radiusM > 0 {
			r.radiusM = radiusM
		}
	}
}

func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewResolver(dir Directory, opts ...ResolverOption) (*Resolver, error) {
	if dir == nil {
		return nil, ErrDirectoryRequired
	}
	r := &Resolver{dir: dir, radiusKm: DefaultLocalRadiusKm, radiusM: places.DefaultRadiusM, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// 文档注释：将名称/坐标查询解析为门店记录
// 背景：
// 1. 有坐标提示时先找坐标完全相同的门店；
// 2. 否则在有坐标的门店中取距离最小者（严格数值最小，并列取先出现者），小于本地半径才接受；
// 3. 无提示或无本地命中时按名称大小写不敏感子串匹配，并列保持目录原始顺序；
// 4. 仍无结果时调用外部地点检索，取首条结果映射为门店记录。
// 返回：未找到时返回 (nil, nil)，属于合法结果；外部检索失败返回 places.ErrPlaceSearchFailed。
func (r *Resolver) Resolve(ctx context.Context, query string, hint *geo.Coordinate) (*Record, error) {
	rec, step, err := r.resolve(ctx, strings.TrimSpace(query), hint)
	if err != nil {
		metrics.StoreResolveTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.StoreResolveTotal.WithLabelValues(string(step)).Inc()
	r.logger.Debug("store_resolve", "query", query, "step", string(step), "found", rec != nil)
	return rec, nil
}

func (r *Resolver) resolve(ctx context.Context, query string, hint *geo.Coordinate) (*Record, Step, error) {
	all, err := r.dir.All(ctx)
	if err != nil {
		return nil, StepNone, err
	}
	if hint != nil {
		if rec := exactMatch(all, *hint); rec != nil {
			return rec, StepExact, nil
		}
		if rec, d := nearest(all, *hint); rec != nil && d < r.radiusKm {
			return rec, StepNearest, nil
		}
	}
	if query != "" {
		if rec := substringMatch(all, query); rec != nil {
			return rec, StepSubstring, nil
		}
	}
	if r.search == nil || query == "" {
		return nil, StepNone, nil
	}
	found, err := r.search.Search(ctx, places.Query{Text: query, Bias: hint, RadiusM: r.radiusM})
	if err != nil {
		r.logger.Warn("store_place_search_error", "query", query, "err", err)
		return nil, StepNone, err
	}
	if len(found) == 0 {
		return nil, StepNone, nil
	}
	p := found[0]
	coord := p.Coord
	return &Record{ID: PlaceIDPrefix + p.ID, Name: p.Name, Address: p.Address, Coord: &coord}, StepPlace, nil
}

func exactMatch(all []Record, hint geo.Coordinate) *Record {
	for i := range all {
		c := all[i].Coord
		if c != nil && c.Lat == hint.Lat && c.Lon == hint.Lon {
			rec := all[i]
			return &rec
		}
	}
	return nil
}

func nearest(all []Record, hint geo.Coordinate) (*Record, float64) {
	best := -1
	bestD := math.Inf(1)
	for i := range all {
		if all[i].Coord == nil {
			continue
		}
		if d := geo.Haversine(hint, *all[i].Coord); d < bestD {
			best, bestD = i, d
		}
	}
	if best < 0 {
		return nil, bestD
	}
	rec := all[best]
	return &rec, bestD
}

func substringMatch(all []Record, query string) *Record {
	q := strings.ToLower(query)
	for i := range all {
		if strings.Contains(strings.ToLower(all[i].Name), q) {
			rec := all[i]
			return &rec
		}
	}
	return nil
}
