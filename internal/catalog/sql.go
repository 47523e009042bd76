package catalog

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"product-finder/internal/geo"
	"product-finder/internal/logger"
)

const selectItems = `SELECT i.id, i.name, i.price, i.stock_status, i.image_ref, i.store_id,
       s.name AS store_name, s.lat, s.lon
FROM inventory i
LEFT JOIN stores s ON s.id = i.store_id`

type itemRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Price       float64         `db:"price"`
	StockStatus string          `db:"stock_status"`
	ImageRef    sql.NullString  `db:"image_ref"`
	StoreID     sql.NullString  `db:"store_id"`
	StoreName   sql.NullString  `db:"store_name"`
	Lat         sql.NullFloat64 `db:"lat"`
	Lon         sql.NullFloat64 `db:"lon"`
}

func (r itemRow) item() Item {
	it := Item{
		ID:          r.ID,
		Name:        r.Name,
		Price:       r.Price,
		StockStatus: r.StockStatus,
		ImageRef:    r.ImageRef.String,
		StoreRef:    r.StoreID.String,
		StoreName:   r.StoreName.String,
	}
	if r.Lat.Valid && r.Lon.Valid {
		it.StoreCoord = &geo.Coordinate{Lat: r.Lat.Float64, Lon: r.Lon.Float64}
	}
	return it
}

// 文档注释：库存表 + 门店表的 SQL 数据源
// 背景：LEFT JOIN 门店以补全名称与坐标；LOWER(name) LIKE 实现大小写不敏感子串，兼容 PostgreSQL 与 SQLite。
// 约束：按 i.id 排序保证同层结果稳定；LIKE 通配符在参数侧转义。
type SQLSource struct {
	db *sqlx.DB
}

func NewSQLSource(db *sqlx.DB) *SQLSource { return &SQLSource{db: db} }

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func (s *SQLSource) query(ctx context.Context, q string, args ...any) ([]Item, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		logger.L().Error("catalog_query_error", "err", err)
		return nil, err
	}
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.item())
	}
	return out, nil
}

func (s *SQLSource) SearchSubstring(ctx context.Context, query string, limit int) ([]Item, error) {
	q := selectItems + ` WHERE LOWER(i.name) LIKE ? ESCAPE '\' ORDER BY i.id LIMIT ?`
	return s.query(ctx, q, likePattern(query), limit)
}

func (s *SQLSource) SearchAny(ctx context.Context, tokens []string, limit int) ([]Item, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	conds := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for _, t := range tokens {
		conds = append(conds, `LOWER(i.name) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(t))
	}
	args = append(args, limit)
	q := selectItems + ` WHERE (` + strings.Join(conds, " OR ") + `) ORDER BY i.id LIMIT ?`
	return s.query(ctx, q, args...)
}

func (s *SQLSource) Sample(ctx context.Context, limit int) ([]Item, error) {
	return s.query(ctx, selectItems+` ORDER BY i.id LIMIT ?`, limit)
}

// UpsertItem：写入或更新一条库存（种子数据与测试使用）
func (s *SQLSource) UpsertItem(ctx context.Context, it Item) error {
	var img, store any
	if it.ImageRef != "" {
		img = it.ImageRef
	}
	if it.StoreRef != "" {
		store = it.StoreRef
	}
	status := it.StockStatus
	if status == "" {
		status = "in_stock"
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO inventory(id, name, price, stock_status, image_ref, store_id)
        VALUES(?,?,?,?,?,?)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, price=EXCLUDED.price, stock_status=EXCLUDED.stock_status,
            image_ref=EXCLUDED.image_ref, store_id=EXCLUDED.store_id`),
		it.ID, it.Name, it.Price, status, img, store)
	return err
}
