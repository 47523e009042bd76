// 包 catalog：库存目录的分层文本检索（子串 → 关键词 → 通用兜底）
package catalog

import (
	"context"
	"errors"

	"product-finder/internal/geo"
)

// 门店关联缺失时的展示名
const UnknownStore = "Unknown Store"

var (
	// ErrNoMatchFound：所有层级均无结果，属于合法的空终态，不是传输失败
	ErrNoMatchFound      = errors.New("no matching items found")
	ErrSourceRequired    = errors.New("catalog source required")
)

// Item：库存条目；DistanceKm 为 nil 表示尚未解析或无法解析，绝不用 0 代替
type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       float64         `json:"price"`
	StockStatus string          `json:"stock_status"`
	ImageRef    string          `json:"image_ref,omitempty"`
	StoreRef    string          `json:"store_ref,omitempty"`
	StoreName   string          `json:"store_name"`
	StoreCoord  *geo.Coordinate `json:"store_coord,omitempty"`
	DistanceKm  *float64        `json:"distance_km"`
}

// 文档注释：目录数据源契约
// 背景：检索层只依赖三类查询：全串子串匹配、多关键词 OR 匹配、限量样本；均为大小写不敏感，结果已关联门店。
// 约束：返回顺序即数据源原始顺序，检索层不再重排。
type Source interface {
	SearchSubstring(ctx context.Context, query string, limit int) ([]Item, error)
	SearchAny(ctx context.Context, tokens []string, limit int) ([]Item, error)
	Sample(ctx context.Context, limit int) ([]Item, error)
}
