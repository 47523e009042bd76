// 包 stores：门店目录与门店解析（坐标精确 → 邻近 → 名称子串 → 外部地点检索）
package stores

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"product-finder/internal/geo"
	"product-finder/internal/logger"
)

// Record：规范化的门店记录；Coord 为空表示坐标未知，距离一律视为 Unknown
type Record struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Address string          `json:"address"`
	Coord   *geo.Coordinate `json:"coord,omitempty"`
}

// Directory：门店目录；All 返回顺序即数据源原始顺序
type Directory interface {
	All(ctx context.Context) ([]Record, error)
}

// MemoryDirectory：内存门店目录，测试与演示使用
type MemoryDirectory struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryDirectory(records ...Record) *MemoryDirectory {
	return &MemoryDirectory{records: append([]Record(nil), records...)}
}

func (d *MemoryDirectory) All(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Record(nil), d.records...), nil
}

// Upsert：按 ID 覆盖或追加
func (d *MemoryDirectory) Upsert(ctx context.Context, r Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.records {
		if d.records[i].ID == r.ID {
			d.records[i] = r
			return nil
		}
	}
	d.records = append(d.records, r)
	return nil
}

type storeRow struct {
	ID      string          `db:"id"`
	Name    string          `db:"name"`
	Address string          `db:"address"`
	Lat     sql.NullFloat64 `db:"lat"`
	Lon     sql.NullFloat64 `db:"lon"`
	PlaceID sql.NullString  `db:"place_id"`
}

// 文档注释：stores 表上的门店目录
// 约束：按 id 排序作为“原始顺序”，保证名称子串层的并列结果稳定。
type SQLDirectory struct {
	db *sqlx.DB
}

func NewSQLDirectory(db *sqlx.DB) *SQLDirectory { return &SQLDirectory{db: db} }

func (d *SQLDirectory) All(ctx context.Context) ([]Record, error) {
	var rows []storeRow
	if err := d.db.SelectContext(ctx, &rows, `SELECT id, name, address, lat, lon, place_id FROM stores ORDER BY id`); err != nil {
		logger.L().Error("store_directory_error", "err", err)
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec := Record{ID: r.ID, Name: r.Name, Address: r.Address}
		if r.Lat.Valid && r.Lon.Valid {
			rec.Coord = &geo.Coordinate{Lat: r.Lat.Float64, Lon: r.Lon.Float64}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Upsert：写入或更新门店；placeID 可为空
func (d *SQLDirectory) Upsert(ctx context.Context, r Record, placeID string) error {
	var lat, lon, pid any
	if r.Coord != nil {
		lat, lon = r.Coord.Lat, r.Coord.Lon
	}
	if placeID != "" {
		pid = placeID
	}
	_, err := d.db.ExecContext(ctx, d.db.Rebind(`INSERT INTO stores(id, name, address, lat, lon, place_id, updated_at)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, address=EXCLUDED.address, lat=EXCLUDED.lat,
            lon=EXCLUDED.lon, place_id=EXCLUDED.place_id, updated_at=EXCLUDED.updated_at`),
		r.ID, r.Name, r.Address, lat, lon, pid, time.Now().UTC())
	if err != nil {
		logger.L().Error("store_upsert_error", "id", r.ID, "err", err)
	}
	return err
}
