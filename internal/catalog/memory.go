package catalog

import (
	"context"
	"strings"
	"sync"

	"product-finder/internal/geo"
)

// StoreInfo：内存数据源中用于关联门店的字段
type StoreInfo struct {
	Name  string
	Coord *geo.Coordinate
}

// MemorySource：基于切片的目录数据源，顺序即插入顺序
type MemorySource struct {
	mu     sync.RWMutex
	items  []Item
	stores map[string]StoreInfo
	calls  map[string]int
}

func NewMemorySource(items []Item, stores map[string]StoreInfo) *MemorySource {
	if stores == nil {
		stores = map[string]StoreInfo{}
	}
	return &MemorySource{items: append([]Item(nil), items...), stores: stores, calls: map[string]int{}}
}

// Calls：各查询方法被调用次数
func (s *MemorySource) Calls(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[method]
}

func (s *MemorySource) join(it Item) Item {
	if st, ok := s.stores[it.StoreRef]; ok {
		it.StoreName = st.Name
		it.StoreCoord = st.Coord
	}
	return it
}

func (s *MemorySource) collect(method string, limit int, match func(name string) bool) []Item {
	s.mu.Lock()
	s.calls[method]++
	s.mu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, it := range s.items {
		if limit > 0 && len(out) >= limit {
			break
		}
		if match(strings.ToLower(it.Name)) {
			out = append(out, s.join(it))
		}
	}
	return out
}

func (s *MemorySource) SearchSubstring(ctx context.Context, query string, limit int) ([]Item, error) {
	q := strings.ToLower(query)
	return s.collect("substring", limit, func(name string) bool { return strings.Contains(name, q) }), ctx.Err()
}

func (s *MemorySource) SearchAny(ctx context.Context, tokens []string, limit int) ([]Item, error) {
	return s.collect("any", limit, func(name string) bool {
		for _, t := range tokens {
			if strings.Contains(name, strings.ToLower(t)) {
				return true
			}
		}
		return false
	}), ctx.Err()
}

func (s *MemorySource) Sample(ctx context.Context, limit int) ([]Item, error) {
	return s.collect("sample", limit, func(string) bool { return true }), ctx.Err()
}
