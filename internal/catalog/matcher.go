package catalog

import (
	"context"
	"log/slog"
	"strings"

	"product-finder/internal/metrics"
)

// Tier：命中层级
type Tier int

const (
	TierNone Tier = iota
	TierSubstring
	TierKeyword
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierSubstring:
		return "substring"
	case TierKeyword:
		return "keyword"
	case TierFallback:
		return "fallback"
	}
	return "none"
}

// 默认各层上限
const (
	DefaultSubstringLimit = 10
	DefaultKeywordLimit   = 15
	DefaultFallbackLimit  = 8
)

// FallbackMessage：兜底层对展示层的提示
const FallbackMessage = "No exact match found, showing alternatives"

// Result：一次检索的输出
type Result struct {
	Query    string `json:"query"`
	Tier     Tier   `json:"-"`
	Fallback bool   `json:"fallback"`
	Message  string `json:"message,omitempty"`
	Items    []Item `json:"items"`
}

// Matcher：分层检索器
type Matcher struct {
	source         Source
	substringLimit int
	keywordLimit   int
	fallbackLimit  int
	notify         func(query string)
	logger         *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// WithLimits overrides the per-tier row limits. Non-positive values keep the default.
func WithLimits(substring, keyword, fallback int) Option {
	return func(m *Matcher) error {
		if substring > 0 {
			m.substringLimit = substring
		}
		if keyword > 0 {
			m.keywordLimit = keyword
		}
		if fallback > 0 {
			m.fallbackLimit = fallback
		}
		return nil
	}
}

// WithFallbackNotifier registers the observer of the "showing alternatives" signal.
func WithFallbackNotifier(fn func(query string)) Option {
	return func(m *Matcher) error {
		m.notify = fn
		return nil
	}
}

func NewMatcher(source Source, opts ...Option) (*Matcher, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	m := &Matcher{
		source:         source,
		substringLimit: DefaultSubstringLimit,
		keywordLimit:   DefaultKeywordLimit,
		fallbackLimit:  DefaultFallbackLimit,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// 文档注释：分层检索
// 背景：
// 1. 子串层：整串大小写不敏感子串匹配，上限 10；
// 2. 关键词层：小写切词并丢弃长度 ≤2 的词，任一词命中即可，上限 15；无可用词时直接进入兜底；
// 3. 兜底层：返回限量样本并恰好发出一次“无精确匹配，展示替代项”信号。
// 约束：后一层仅在前面各层均为 0 行时执行；单层查询出错记录日志并视为 0 行，全部层级出错时返回最后一个错误。
// 返回：命中结果（已补全门店名、距离待标注）；全部为空返回 ErrNoMatchFound。
func (m *Matcher) Search(ctx context.Context, query string) (*Result, error) {
	q := normalizeQuery(query)
	res := &Result{Query: q}
	var lastErr error
	attempted, failed := 0, 0

	if q != "" {
		attempted++
		items, err := m.source.SearchSubstring(ctx, q, m.substringLimit)
		if err != nil {
			m.logger.Warn("catalog_tier_error", "tier", TierSubstring.String(), "err", err)
			lastErr = err
			failed++
		}
		if len(items) > 0 {
			return m.finish(res, TierSubstring, items, m.substringLimit), nil
		}
	}

	if tokens := tokenize(q); len(tokens) > 0 {
		attempted++
		items, err := m.source.SearchAny(ctx, tokens, m.keywordLimit)
		if err != nil {
			m.logger.Warn("catalog_tier_error", "tier", TierKeyword.String(), "err", err)
			lastErr = err
			failed++
		}
		if len(items) > 0 {
			return m.finish(res, TierKeyword, items, m.keywordLimit), nil
		}
		m.logger.Debug("catalog_keyword_miss", "tokens", strings.Join(tokens, ","))
	} else {
		m.logger.Debug("catalog_keyword_skip", "query", q)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	attempted++
	items, err := m.source.Sample(ctx, m.fallbackLimit)
	if err != nil {
		m.logger.Warn("catalog_tier_error", "tier", TierFallback.String(), "err", err)
		lastErr = err
		failed++
	}
	if len(items) > 0 {
		res.Fallback = true
		res.Message = FallbackMessage
		metrics.CatalogFallbackTotal.Inc()
		if m.notify != nil {
			m.notify(q)
		}
		return m.finish(res, TierFallback, items, m.fallbackLimit), nil
	}

	metrics.CatalogTierTotal.WithLabelValues(TierNone.String()).Inc()
	if failed > 0 && failed == attempted {
		return nil, lastErr
	}
	m.logger.Info("catalog_no_match", "query", q)
	return res, ErrNoMatchFound
}

func (m *Matcher) finish(res *Result, tier Tier, items []Item, limit int) *Result {
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]Item, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.StoreName) == "" {
			it.StoreName = UnknownStore
		}
		it.DistanceKm = nil
		out[i] = it
	}
	res.Tier = tier
	res.Items = out
	metrics.CatalogTierTotal.WithLabelValues(tier.String()).Inc()
	m.logger.Debug("catalog_tier_hit", "query", res.Query, "tier", tier.String(), "count", len(out))
	return res
}
