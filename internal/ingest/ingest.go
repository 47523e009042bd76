package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"product-finder/internal/catalog"
	"product-finder/internal/geo"
	"product-finder/internal/logger"
	"product-finder/internal/stores"
)

var ErrStoreWriterRequired = errors.New("store writer required")

// StoreWriter：门店写入端，stores.SQLDirectory 实现
type StoreWriter interface {
	Upsert(ctx context.Context, r stores.Record, placeID string) error
}

// ItemWriter：库存写入端，catalog.SQLSource 实现
type ItemWriter interface {
	UpsertItem(ctx context.Context, it catalog.Item) error
}

// Locator：坐标解析端，stores.Resolver 实现
type Locator interface {
	Resolve(ctx context.Context, query string, hint *geo.Coordinate) (*stores.Record, error)
}

// Report：导入统计
type Report struct {
	Stores     int64 `json:"stores"`
	Resolved   int64 `json:"resolved"`
	Unresolved int64 `json:"unresolved"`
	Items      int64 `json:"items"`
	Failed     int64 `json:"failed"`
}

// Runner：门店与库存导入器
type Runner struct {
	Stores     StoreWriter
	Items      ItemWriter
	Locator    Locator
	Workers    int
	RatePerMin int
}

// 文档注释：执行一次导入
// 背景：
// 1. 门店行在协程池中并发处理：缺少 ID 时生成 UUID；缺少坐标时经限流后交给门店解析补全，place: 前缀的结果记录 place_id；
// 2. 门店全部完成后顺序写入库存，保证外键引用的门店已存在。
// 约束：单行失败只计数与记录日志，不中断整体导入；ctx 取消时返回 ctx 错误。
func (r *Runner) Run(ctx context.Context, wb *Workbook) (Report, error) {
	var rep Report
	if r.Stores == nil {
		return rep, ErrStoreWriterRequired
	}
	workers := r.Workers
	if workers <= 0 {
		workers = 4
	}
	rate := r.RatePerMin
	if rate <= 0 {
		rate = 120
	}
	limiter := newMinuteLimiter(rate)
	pool, err := ants.NewPool(workers)
	if err != nil {
		return rep, err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, row := range wb.Stores {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			r.importStore(ctx, limiter, row, &rep)
		})
		if err != nil {
			wg.Done()
			atomic.AddInt64(&rep.Failed, 1)
			logger.L().Error("ingest_submit_error", "row", row.Row, "err", err)
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	if r.Items != nil {
		for _, row := range wb.Items {
			it := row.Item
			if it.ID == "" {
				it.ID = uuid.NewString()
			}
			if err := r.Items.UpsertItem(ctx, it); err != nil {
				rep.Failed++
				logger.L().Error("ingest_item_error", "row", row.Row, "name", it.Name, "err", err)
				continue
			}
			rep.Items++
		}
	}
	logger.L().Info("ingest_done", "stores", rep.Stores, "resolved", rep.Resolved, "unresolved", rep.Unresolved, "items", rep.Items, "failed", rep.Failed)
	return rep, ctx.Err()
}

func (r *Runner) importStore(ctx context.Context, limiter *minuteLimiter, row StoreRow, rep *Report) {
	if ctx.Err() != nil {
		return
	}
	rec := row.Record
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	placeID := ""
	if rec.Coord == nil && r.Locator != nil {
		if err := limiter.wait(ctx); err != nil {
			return
		}
		query := strings.TrimSpace(rec.Name + " " + rec.Address)
		found, err := r.Locator.Resolve(ctx, query, nil)
		switch {
		case err != nil:
			logger.L().Warn("ingest_resolve_error", "row", row.Row, "name", rec.Name, "err", err)
		case found != nil && found.Coord != nil:
			c := *found.Coord
			rec.Coord = &c
			if rec.Address == "" {
				rec.Address = found.Address
			}
			if strings.HasPrefix(found.ID, stores.PlaceIDPrefix) {
				placeID = strings.TrimPrefix(found.ID, stores.PlaceIDPrefix)
			}
			atomic.AddInt64(&rep.Resolved, 1)
		}
		if rec.Coord == nil {
			atomic.AddInt64(&rep.Unresolved, 1)
		}
	}
	if err := r.Stores.Upsert(ctx, rec, placeID); err != nil {
		atomic.AddInt64(&rep.Failed, 1)
		logger.L().Error("ingest_store_error", "row", row.Row, "name", rec.Name, "err", err)
		return
	}
	atomic.AddInt64(&rep.Stores, 1)
	logger.L().Debug("ingest_store_ok", "row", row.Row, "id", rec.ID, "located", rec.Coord != nil)
}
