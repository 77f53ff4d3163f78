package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/indexpilot/indexpilot/internal/apperr"
	"github.com/indexpilot/indexpilot/internal/baseline"
	"github.com/indexpilot/indexpilot/internal/config"
	"github.com/indexpilot/indexpilot/internal/logger"
	"github.com/indexpilot/indexpilot/internal/rebuild"
	"github.com/indexpilot/indexpilot/internal/scanner"
	"github.com/indexpilot/indexpilot/internal/secaudit"
	"github.com/indexpilot/indexpilot/internal/server"
	"github.com/indexpilot/indexpilot/internal/targetdb"
	"github.com/indexpilot/indexpilot/pkg/crypto"
	"github.com/indexpilot/indexpilot/pkg/migrator"
	"github.com/indexpilot/indexpilot/pkg/util"
)

func main() {
	dsn := flag.String("dsn", util.GetEnv("IDXP_DSN", ""), "control store DSN")
	driver := flag.String("driver", "postgres", "control store driver")
	tblPrefix := flag.String("table-prefix", util.GetEnv("IDXP_TABLE_PREFIX", "idxp_"), "control table prefix (default idxp_)")
	addr := flag.String("addr", ":8080", "listen address")
	cronExpr := flag.String("cycle-cron", util.GetEnv("IDXP_CYCLE_CRON", "0 3 * * *"), "cron expression for the maintenance cycle")
	migrate := flag.Bool("migrate", false, "apply pending control store migrations and continue")
	openapi := flag.String("openapi", "", "write OpenAPI JSON and exit")
	flag.Parse()

	logger.Set(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	driverProvided := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "driver" {
			driverProvided = true
		}
	})
	if *dsn == "" {
		logger.L.Error("control store DSN is required")
		os.Exit(1)
	}
	if detected, err := util.DetectDriver(*dsn); err != nil {
		if !driverProvided || *driver == "" {
			logger.L.Error("detect driver", "dsn", *dsn, "err", err)
			os.Exit(1)
		}
	} else {
		if !driverProvided || *driver == "" {
			*driver = detected
		} else if detected != "" && *driver != detected {
			logger.L.Error("driver mismatch", "driver", *driver, "dsn", *dsn, "expected", detected)
			os.Exit(1)
		}
	}

	if err := crypto.CheckEnv(); err != nil {
		logger.L.Error("crypto key", "err", err)
		os.Exit(1)
	}

	db, err := sql.Open(*driver, *dsn)
	if err != nil {
		logger.L.Error("db open", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	mig := migrator.New(*driver, *tblPrefix)
	if *migrate {
		if err := mig.Up(ctx, db, mig.Latest()); err != nil {
			logger.L.Error("migrate control store", "err", err)
			os.Exit(1)
		}
	}
	if err := mig.Verify(ctx, db); err != nil {
		if errors.Is(err, migrator.ErrNoVersionTable) || errors.Is(err, migrator.ErrVersionMismatch) {
			logger.L.Error("control store not installed or at wrong version, run with -migrate", "err", apperr.Install(err))
		} else {
			logger.L.Error("verify control store", "err", err)
		}
		os.Exit(1)
	}

	dialect := util.DialectFromDriver(*driver)
	if err := config.CheckPrefix(ctx, db, dialect, *tblPrefix); err != nil {
		logger.L.Error("prefix check", "err", err)
		os.Exit(1)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		logger.L.Error("zap init", "err", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	sugar := zl.Sugar()

	targets := &targetdb.Repo{DB: db, Dialect: dialect, Driver: *driver, TablePrefix: *tblPrefix}
	connector := &targetdb.Connector{Repo: targets}
	obs := &baseline.Repo{DB: db, Dialect: dialect, Driver: *driver, TablePrefix: *tblPrefix}
	est := &baseline.Estimator{Obs: obs}
	history := &rebuild.HistoryRepo{DB: db, Dialect: dialect, Driver: *driver, TablePrefix: *tblPrefix}
	markers := &rebuild.MarkerRepo{DB: db, Dialect: dialect, Driver: *driver, TablePrefix: *tblPrefix}
	params := &config.ParamRepo{DB: db, Dialect: dialect, Driver: *driver, TablePrefix: *tblPrefix}
	if all, err := params.All(ctx); err == nil {
		vals := make(map[string]string, len(all))
		for _, p := range all {
			vals[p.Name] = p.Value
		}
		// Catches credential-shaped values written around the API.
		if err := secaudit.AuditParams(vals); err != nil {
			logger.L.Warn("stored configuration failed audit", "err", err)
		}
	}
	orch := rebuild.NewOrchestrator(history, markers, sugar)
	svc := &scanner.Service{
		Targets:      targets,
		Connector:    connector,
		Observations: obs,
		Estimator:    est,
		Params:       params,
		Orchestrator: orch,
		Logger:       sugar,
	}

	dbCfg := server.DBConfig{Driver: *driver, DSN: *dsn, TablePrefix: *tblPrefix}
	api := server.New(db, dbCfg, server.Deps{
		Targets:   targets,
		Connector: connector,
		Scanner:   svc,
		Migrator:  mig,
	})

	s := gocron.NewScheduler(time.UTC)
	if _, err := s.Cron(*cronExpr).Do(func() {
		if _, err := svc.RunCycle(context.Background(), false); err != nil {
			logger.L.Error("maintenance cycle", "err", err)
		}
	}); err != nil {
		logger.L.Error("schedule maintenance cycle", "err", err)
	}
	s.StartAsync()

	if *openapi != "" {
		data, err := json.MarshalIndent(api.OpenAPI(), "", "  ")
		if err != nil {
			logger.L.Error("marshal openapi", "err", err)
			os.Exit(1)
		}
		p := filepath.Clean(*openapi)
		if err := os.WriteFile(p, data, 0o600); err != nil {
			logger.L.Error("write openapi", "err", err)
			os.Exit(1)
		}
		return
	}

	logger.L.Info("listening", "addr", *addr, "tablePrefix", *tblPrefix)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.Adapter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.L.Error("server error", "err", err)
		os.Exit(1)
	}
}
