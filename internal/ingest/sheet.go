// 包 ingest：门店/库存表格导入，作为目录数据的离线通道
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"product-finder/internal/catalog"
	"product-finder/internal/geo"
	"product-finder/internal/logger"
	"product-finder/internal/stores"
)

// 默认工作表名
const (
	DefaultStoresSheet    = "stores"
	DefaultInventorySheet = "inventory"
)

var ErrMissingColumn = errors.New("missing required column")

// StoreRow：门店表中的一行；Coord 为空表示需要解析坐标
type StoreRow struct {
	Row    int
	Record stores.Record
}

// ItemRow：库存表中的一行
type ItemRow struct {
	Row  int
	Item catalog.Item
}

// Workbook：一次导入的全部行
type Workbook struct {
	Stores []StoreRow
	Items  []ItemRow
}

// parseCoord：兼容逗号小数点的本地化写法
func parseCoord(val string) (float64, error) {
	val = strings.TrimSpace(strings.ReplaceAll(val, ",", "."))
	if val == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.ParseFloat(val, 64)
}

// header：按表头名（小写、去空白）定位列
type header map[string]int

func newHeader(row []string) header {
	h := header{}
	for i, c := range row {
		k := strings.ToLower(strings.TrimSpace(c))
		if _, dup := h[k]; k != "" && !dup {
			h[k] = i
		}
	}
	return h
}

func (h header) require(cols ...string) error {
	for _, c := range cols {
		if _, ok := h[c]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	return nil
}

func (h header) get(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// 文档注释：读取导入工作簿
// 背景：stores 表需要 name 列，可选 id/address/lat/lon；inventory 表需要 name 列，可选 id/price/stock_status/image_ref/store_id。
// 约束：表头为第一行；坐标任一缺失或非法时视为未知坐标，交由导入阶段解析；库存表缺失时只导入门店。
func ReadWorkbook(path, storesSheet, inventorySheet string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	wb := &Workbook{}
	if wb.Stores, err = readStores(f, storesSheet); err != nil {
		return nil, err
	}
	if idx, _ := f.GetSheetIndex(inventorySheet); idx < 0 {
		logger.L().Info("ingest_inventory_sheet_missing", "sheet", inventorySheet)
		return wb, nil
	}
	if wb.Items, err = readItems(f, inventorySheet); err != nil {
		return nil, err
	}
	return wb, nil
}

func readStores(f *excelize.File, sheet string) ([]StoreRow, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	h := newHeader(rows[0])
	if err := h.require("name"); err != nil {
		return nil, err
	}
	var out []StoreRow
	for i, row := range rows[1:] {
		name := h.get(row, "name")
		if name == "" {
			continue
		}
		rec := stores.Record{ID: h.get(row, "id"), Name: name, Address: h.get(row, "address")}
		lat, e1 := parseCoord(h.get(row, "lat"))
		lon, e2 := parseCoord(h.get(row, "lon"))
		if e1 == nil && e2 == nil {
			if c := (geo.Coordinate{Lat: lat, Lon: lon}); c.Valid() {
				rec.Coord = &c
			}
		}
		out = append(out, StoreRow{Row: i + 2, Record: rec})
	}
	return out, nil
}

func readItems(f *excelize.File, sheet string) ([]ItemRow, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	h := newHeader(rows[0])
	if err := h.require("name"); err != nil {
		return nil, err
	}
	var out []ItemRow
	for i, row := range rows[1:] {
		name := h.get(row, "name")
		if name == "" {
			continue
		}
		it := catalog.Item{
			ID:          h.get(row, "id"),
			Name:        name,
			StockStatus: h.get(row, "stock_status"),
			ImageRef:    h.get(row, "image_ref"),
			StoreRef:    h.get(row, "store_id"),
		}
		if p, err := parseCoord(h.get(row, "price")); err == nil && p >= 0 {
			it.Price = p
		}
		out = append(out, ItemRow{Row: i + 2, Item: it})
	}
	return out, nil
}
