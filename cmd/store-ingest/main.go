// 门店导入工具：读取 .xlsx 门店/库存表，补全缺失坐标后写入目录库
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"product-finder/internal/catalog"
	"product-finder/internal/ingest"
	"product-finder/internal/logger"
	"product-finder/internal/migrate"
	"product-finder/internal/places"
	"product-finder/internal/stores"
	"product-finder/internal/utils"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	app := &cli.App{
		Name:  "store-ingest",
		Usage: "Import stores and inventory from a spreadsheet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the .xlsx workbook",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "stores-sheet",
				Usage: "Sheet holding store rows",
				Value: ingest.DefaultStoresSheet,
			},
			&cli.StringFlag{
				Name:  "inventory-sheet",
				Usage: "Sheet holding inventory rows (optional)",
				Value: ingest.DefaultInventorySheet,
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Concurrent store resolutions",
				EnvVars: []string{"INGEST_WORKERS"},
				Value:   4,
			},
			&cli.IntFlag{
				Name:    "rate-per-min",
				Usage:   "Place search requests per minute",
				EnvVars: []string{"INGEST_RATE_LIMIT_PER_MIN"},
				Value:   120,
			},
			&cli.BoolFlag{
				Name:  "places-only",
				Usage: "Resolve missing coordinates through place search only, ignoring stores already in the directory",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall import timeout",
				Value: 30 * time.Minute,
			},
		},
		Before: setupLogger,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logger.L().Error("store_ingest_error", "err", err)
		os.Exit(1)
	}
}

func setupLogger(c *cli.Context) error {
	_ = os.Setenv("LOG_LEVEL", c.String("log-level"))
	logger.Setup()
	return nil
}

func run(c *cli.Context) error {
	l := logger.L()
	l.Info("store_ingest_start", "file", c.String("file"))
	wb, err := ingest.ReadWorkbook(c.String("file"), c.String("stores-sheet"), c.String("inventory-sheet"))
	if err != nil {
		return err
	}
	l.Info("store_ingest_read", "stores", len(wb.Stores), "items", len(wb.Items))

	db, err := utils.OpenDBFromEnv()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		return err
	}
	dir := stores.NewSQLDirectory(db)
	runner := &ingest.Runner{
		Stores:     dir,
		Items:      catalog.NewSQLSource(db),
		Workers:    c.Int("workers"),
		RatePerMin: c.Int("rate-per-min"),
	}

	// 文档注释：坐标解析端
	// 背景：默认先在已有目录中按名称复用坐标，未命中再走地点检索；--places-only 时以空目录构造解析器，直接走地点检索。
	if key := os.Getenv("PLACES_API_KEY"); key != "" {
		rc := utils.OpenRedisFromEnv()
		if rc != nil {
			defer rc.Close()
			if err := rc.Ping(ctx).Err(); err != nil {
				l.Warn("redis_ping_error", "err", err)
				rc = nil
			}
		}
		ttl := time.Duration(utils.EnvInt("PLACES_CACHE_TTL_S", 86400)) * time.Second
		searcher := places.NewCachedSearcher(places.NewClient(key, &http.Client{Timeout: 5 * time.Second}), rc, ttl)
		var lookup stores.Directory = dir
		if c.Bool("places-only") {
			lookup = stores.NewMemoryDirectory()
		}
		resolver, err := stores.NewResolver(lookup, stores.WithPlaceSearch(searcher, places.DefaultRadiusM))
		if err != nil {
			return err
		}
		runner.Locator = resolver
	} else {
		l.Info("places_disabled", "reason", "missing_key")
	}

	rep, err := runner.Run(ctx, wb)
	l.Info("store_ingest_done", "stores", rep.Stores, "resolved", rep.Resolved, "unresolved", rep.Unresolved, "items", rep.Items, "failed", rep.Failed)
	return err
}
