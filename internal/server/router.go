package server

import (
	"database/sql"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/indexpilot/indexpilot/internal/api/handler"
	"github.com/indexpilot/indexpilot/internal/baseline"
	"github.com/indexpilot/indexpilot/internal/config"
	"github.com/indexpilot/indexpilot/internal/events"
	"github.com/indexpilot/indexpilot/internal/logger"
	"github.com/indexpilot/indexpilot/internal/rebuild"
	"github.com/indexpilot/indexpilot/internal/scanner"
	"github.com/indexpilot/indexpilot/internal/server/middleware"
	"github.com/indexpilot/indexpilot/internal/targetdb"
	"github.com/indexpilot/indexpilot/pkg/migrator"
	"github.com/indexpilot/indexpilot/pkg/util"
)

// DBConfig describes the control store connection.
type DBConfig struct {
	Driver      string
	DSN         string
	TablePrefix string
}

// Deps are the wired services shared between the router and the daemon.
type Deps struct {
	Targets   *targetdb.Repo
	Connector *targetdb.Connector
	Scanner   *scanner.Service
	Migrator  *migrator.Migrator
}

// New builds the HTTP API over the control store.
func New(db *sql.DB, cfg DBConfig, deps Deps) huma.API {
	r := chi.NewRouter()

	allowed := os.Getenv("IDXP_ALLOWED_ORIGINS")
	if allowed == "" {
		allowed = "http://localhost:5173"
	}
	origins := strings.Split(allowed, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	dialect := util.DialectFromDriver(cfg.Driver)

	api := humachi.New(r, huma.DefaultConfig("IndexPilot API", "1.0.0"))
	api.UseMiddleware(middleware.MetricsMW)

	evlog := logger.With("component", "events")
	evtConf, err := events.LoadConfig(os.Getenv("IDXP_EVENTS_CONFIG"))
	if err != nil {
		evlog.Error("load events configuration", "err", err)
		os.Exit(1)
	}
	var sinks []events.Sink
	if wh := events.NewWebhookSink(evtConf.Sinks.Webhook); wh != nil {
		sinks = append(sinks, wh)
	}
	if rs, err := events.NewRedisSink(evtConf.Sinks.Redis); err == nil && rs != nil {
		sinks = append(sinks, rs)
	} else if err != nil {
		evlog.Error("redis sink", "err", err)
	}
	if ks, err := events.NewKafkaSink(evtConf.Sinks.Kafka); err == nil && ks != nil {
		sinks = append(sinks, ks)
	} else if err != nil {
		evlog.Error("kafka sink", "err", err)
	}
	events.Default = events.NewDispatcher(evtConf,
		&events.SQLDLQ{DB: db, Driver: cfg.Driver, TablePrefix: cfg.TablePrefix}, sinks...)

	obs := &baseline.Repo{DB: db, Dialect: dialect, Driver: cfg.Driver, TablePrefix: cfg.TablePrefix}
	est := &baseline.Estimator{Obs: obs}
	history := &rebuild.HistoryRepo{DB: db, Dialect: dialect, Driver: cfg.Driver, TablePrefix: cfg.TablePrefix}
	markers := &rebuild.MarkerRepo{DB: db, Dialect: dialect, Driver: cfg.Driver, TablePrefix: cfg.TablePrefix}
	params := &config.ParamRepo{DB: db, Dialect: dialect, Driver: cfg.Driver, TablePrefix: cfg.TablePrefix}

	handler.RegisterTargets(api, &handler.TargetHandler{Repo: deps.Targets, Connector: deps.Connector, Markers: markers})
	handler.RegisterIndexes(api, &handler.IndexHandler{
		Targets:      deps.Targets,
		Connector:    deps.Connector,
		Observations: obs,
		Estimator:    est,
		History:      history,
		Markers:      markers,
	})
	handler.RegisterConfig(api, &handler.ConfigHandler{Params: params})
	handler.RegisterCycle(api, &handler.CycleHandler{Scanner: deps.Scanner})
	handler.RegisterAdmin(api, &handler.AdminHandler{
		DB:        db,
		Targets:   deps.Targets,
		Connector: deps.Connector,
		Migrator:  deps.Migrator,
	})
	return api
}
