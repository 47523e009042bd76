package migrate

import (
	"context"

	"github.com/jmoiron/sqlx"

	"product-finder/internal/logger"
)

// 背景：首次运行自动创建门店与库存表及索引，保障检索与门店解析
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；语句同时兼容 PostgreSQL 与 SQLite
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stores (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            address TEXT NOT NULL DEFAULT '',
            lat DOUBLE PRECISION,
            lon DOUBLE PRECISION,
            place_id TEXT,
            updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE INDEX IF NOT EXISTS idx_stores_name_lower ON stores (LOWER(name))`,
		`CREATE INDEX IF NOT EXISTS idx_stores_coord ON stores (lat, lon)`,
		`CREATE TABLE IF NOT EXISTS inventory (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            price DOUBLE PRECISION NOT NULL DEFAULT 0,
            stock_status TEXT NOT NULL DEFAULT 'in_stock',
            image_ref TEXT,
            store_id TEXT REFERENCES stores(id)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_name_lower ON inventory (LOWER(name))`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_store ON inventory (store_id)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
