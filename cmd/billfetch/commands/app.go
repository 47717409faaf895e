package commands

import (
	"database/sql"
	"fmt"
	"time"

	"billfetch/internal/attempts"
	attemptsdb "billfetch/internal/attempts/db"
	"billfetch/internal/billcache"
	"billfetch/internal/bills"
	"billfetch/internal/components/chrono"
	"billfetch/internal/components/telemetry"
	"billfetch/internal/portal"
	"billfetch/lib/restyutil"
)

// app is everything a command needs, built from the config file.
type app struct {
	cfg     Config
	tel     telemetry.API
	time    chrono.TimeAPI
	db      *sql.DB
	journal attempts.Store
	service bills.Service
}

func newApp() (app, error) {
	cfg, err := readConfig(configPath)
	if err != nil {
		return app{}, fmt.Errorf("read config: %w", err)
	}
	tel := telemetry.SlogAPI{}

	timeAPI, err := chrono.NewStandardTime(cfg.Location)
	if err != nil {
		return app{}, fmt.Errorf("load location: %w", err)
	}

	db, err := cfg.Database.OpenAndMigrateDB(attemptsdb.Schema)
	if err != nil {
		return app{}, err
	}
	journal := attempts.NewStore(db, tel)

	cache, err := billcache.New(cfg.CacheDir, tel)
	if err != nil {
		db.Close()
		return app{}, err
	}

	detector, err := portal.NewDetector(
		cfg.Portal.Detector,
		seconds(cfg.Portal.PollIntervalSeconds),
		seconds(cfg.Portal.PollCeilingSeconds),
	)
	if err != nil {
		db.Close()
		return app{}, err
	}

	var prober portal.Prober
	if !cfg.Portal.SkipProbe {
		httpProber, err := portal.NewHttpProber(cfg.Portal.Url, cfg.Browser.UserAgent, time.Second*30, tel)
		if err != nil {
			db.Close()
			return app{}, err
		}
		if verbose {
			output, err := restyutil.NewFilesystemOutput(".dev/resty/probe")
			if err != nil {
				db.Close()
				return app{}, err
			}
			httpProber.Instrument(output)
		}
		prober = httpProber
	}

	engine := portal.NewEngine(
		cfg.engineConfig(),
		portal.NewChromeSession,
		detector,
		prober,
		cache,
		tel,
	)

	return app{
		cfg:     cfg,
		tel:     tel,
		time:    timeAPI,
		db:      db,
		journal: journal,
		service: bills.NewService(cache, engine, journal, timeAPI, tel),
	}, nil
}

func (a app) Close() error {
	return a.db.Close()
}
