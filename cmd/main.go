// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"product-finder/internal/api"
	"product-finder/internal/catalog"
	"product-finder/internal/health"
	"product-finder/internal/ingest"
	"product-finder/internal/location"
	"product-finder/internal/logger"
	"product-finder/internal/metrics"
	"product-finder/internal/middleware"
	"product-finder/internal/migrate"
	"product-finder/internal/pipeline"
	"product-finder/internal/places"
	"product-finder/internal/recognition"
	"product-finder/internal/stores"
	"product-finder/internal/utils"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := utils.EnvString("API_BASE", "/api")
	l.Debug("config_api_base", "base", apiBase)

	db, err := utils.OpenDBFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		l.Error("db_ping_error", "err", err)
	} else {
		l.Info("db_ping_ok")
	}
	ctx := context.Background()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(ctx).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
		rc = nil
	} else {
		l.Info("redis_ping_ok")
	}

	matcher, err := catalog.NewMatcher(catalog.NewSQLSource(db),
		catalog.WithLogger(l),
		catalog.WithFallbackNotifier(func(q string) { l.Info("catalog_fallback", "query", q) }),
	)
	if err != nil {
		l.Error("matcher_init_error", "err", err)
		os.Exit(1)
	}

	// 文档注释：门店解析依赖
	// 背景：地点检索需要服务端密钥；未配置时门店解析止步于本地目录。
	resolverOpts := []stores.ResolverOption{
		stores.WithLocalRadius(utils.EnvFloat("STORE_LOCAL_RADIUS_KM", stores.DefaultLocalRadiusKm)),
		stores.WithResolverLogger(l),
	}
	if key := os.Getenv("PLACES_API_KEY"); key != "" {
		client := places.NewClient(key, &http.Client{Timeout: 5 * time.Second})
		ttl := time.Duration(utils.EnvInt("PLACES_CACHE_TTL_S", 86400)) * time.Second
		resolverOpts = append(resolverOpts, stores.WithPlaceSearch(places.NewCachedSearcher(client, rc, ttl), places.DefaultRadiusM))
		l.Info("places_enabled")
	} else {
		l.Info("places_disabled", "reason", "missing_key")
	}
	storeResolver, err := stores.NewResolver(stores.NewSQLDirectory(db), resolverOpts...)
	if err != nil {
		l.Error("store_resolver_init_error", "err", err)
		os.Exit(1)
	}

	// 文档注释：门店表定期导入（可选）
	// 背景：INGEST_SHEET_PATH 指向运营维护的门店表时，每周一 INGEST_HOUR 点重新导入并补全坐标。
	if sheet := os.Getenv("INGEST_SHEET_PATH"); sheet != "" {
		tz, err := time.LoadLocation(utils.EnvString("INGEST_TZ", "Local"))
		if err != nil {
			l.Warn("ingest_tz_invalid", "err", err)
			tz = time.Local
		}
		runner := &ingest.Runner{
			Stores:     stores.NewSQLDirectory(db),
			Items:      catalog.NewSQLSource(db),
			Locator:    storeResolver,
			Workers:    utils.EnvInt("INGEST_WORKERS", 4),
			RatePerMin: utils.EnvInt("INGEST_RATE_LIMIT_PER_MIN", 120),
		}
		ingest.StartWeekly(ctx, tz, utils.EnvInt("INGEST_HOUR", 3), func(ctx context.Context) error {
			wb, err := ingest.ReadWorkbook(sheet, ingest.DefaultStoresSheet, ingest.DefaultInventorySheet)
			if err != nil {
				return err
			}
			_, err = runner.Run(ctx, wb)
			return err
		})
		l.Info("ingest_scheduled", "path", sheet, "tz", tz.String())
	}

	classifierURL := utils.EnvString("CLASSIFIER_URL", "http://localhost:5000")
	classifierTimeout := time.Duration(utils.EnvInt("CLASSIFIER_TIMEOUT_S", 15)) * time.Second
	// IMAGE_FETCH_HOSTS：逗号分隔的图片主机白名单，为空不限主机（内网地址始终拦截）
	fetchHosts := strings.Split(os.Getenv("IMAGE_FETCH_HOSTS"), ",")
	gw := recognition.NewGateway(classifierURL, &http.Client{Timeout: classifierTimeout},
		recognition.WithFetchClient(recognition.NewFetchClient(classifierTimeout)),
		recognition.WithFetchHosts(fetchHosts...),
	)
	l.Debug("config_classifier", "url", classifierURL, "fetch_hosts", os.Getenv("IMAGE_FETCH_HOSTS"))
	discovery, err := pipeline.New(matcher,
		pipeline.WithRecognizer(gw),
		pipeline.WithStoreResolver(storeResolver),
		pipeline.WithLogger(l),
	)
	if err != nil {
		l.Error("pipeline_init_error", "err", err)
		os.Exit(1)
	}

	mon := health.NewMonitor(time.Duration(utils.EnvInt("HEALTH_INTERVAL_S", 10)) * time.Second)
	mon.Register(health.Check("classifier", func(ctx context.Context) error {
		if !gw.HealthCheck(ctx) {
			return recognition.ErrServiceUnavailable
		}
		return nil
	}))
	mon.Register(health.Check("db", db.PingContext))
	if rc != nil {
		mon.Register(health.Check("redis", func(ctx context.Context) error { return rc.Ping(ctx).Err() }))
	}
	mon.Start(ctx)

	deps := api.Deps{
		Monitor:    mon,
		Discovery:  discovery,
		Classifier: gw,
		FixTimeout: time.Duration(utils.EnvInt("LOCATION_TIMEOUT_S", 10)) * time.Second,
	}
	geoipPath := utils.EnvString("GEOIP_PATH", filepath.Join("data", "geoip", "GeoLite2-City.mmdb"))
	if loc, err := location.OpenGeoIP(geoipPath); err == nil {
		defer loc.Close()
		deps.GeoIP = loc
		l.Info("geoip_ready", "path", geoipPath)
	} else {
		l.Info("geoip_skipped", "path", geoipPath, "err", err)
	}

	mux := http.NewServeMux()
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, api.BuildRoutes(deps)))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	addr := utils.EnvString("ADDR", ":8080")
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	if os.Getenv("TLS_ENABLE") == "true" {
		certPath := utils.EnvString("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt"))
		keyPath := utils.EnvString("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key"))
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "product-finder.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		_ = s.ListenAndServeTLS(certPath, keyPath)
		return
	}
	l.Info("listening", "addr", addr)
	_ = s.ListenAndServe()
}
