package main

import (
	"io"
	"log/slog"

	"depverify/internal/adapters/fssearch"
	"depverify/internal/adapters/otlptrace"
	"depverify/internal/adapters/scipindex"
	"depverify/internal/adapters/specdiff"
	"depverify/internal/adapters/sqlitedb"
	"depverify/internal/config"
	"depverify/internal/gateway"
	"depverify/internal/metrics"
	"depverify/internal/verify"
)

// engine bundles the gateway and orchestrator built from one config.
type engine struct {
	gateway      *gateway.Gateway
	orchestrator *verify.Orchestrator
	metrics      *metrics.Metrics
	closers      []io.Closer
}

// buildAdapters creates every enabled adapter. Paths are resolved against
// the repository root.
func buildAdapters(cfg *config.Config) ([]gateway.Adapter, []io.Closer) {
	var (
		adapters []gateway.Adapter
		closers  []io.Closer
	)
	a := cfg.Adapters

	if a.Search.Enabled {
		opts := []fssearch.Option{
			fssearch.WithMaxFileSize(a.Search.MaxFileSizeBytes),
			fssearch.WithMaxHits(a.Search.MaxHits),
		}
		if len(a.Search.SkipDirs) > 0 {
			opts = append(opts, fssearch.WithSkipDirs(a.Search.SkipDirs...))
		}
		adapters = append(adapters, fssearch.New(cfg.Resolve(a.Search.Root), opts...))
	}
	if a.Scip.Enabled {
		adapters = append(adapters, scipindex.New(cfg.Resolve(a.Scip.IndexPath), a.Scip.MaxHits))
	}
	if a.Sqlite.Enabled {
		attach := make(map[string]string, len(a.Sqlite.Attach))
		for alias, path := range a.Sqlite.Attach {
			attach[alias] = cfg.Resolve(path)
		}
		db := sqlitedb.New(cfg.Resolve(a.Sqlite.Path), attach)
		adapters = append(adapters, db)
		closers = append(closers, db)
	}
	if a.SpecDiff.Enabled {
		adapters = append(adapters, specdiff.New(cfg.Resolve(a.SpecDiff.Path), 0))
	}
	if a.Trace.Enabled {
		adapters = append(adapters, otlptrace.New(cfg.Resolve(a.Trace.Path), a.Trace.MaxHits))
	}
	return adapters, closers
}

func newEngine(cfg *config.Config, logger *slog.Logger) (*engine, error) {
	settings := cfg.Settings()
	adapters, closers := buildAdapters(cfg)
	m := metrics.New()

	gw, err := gateway.New(settings.Policy, adapters,
		gateway.WithLogger(logger),
		gateway.WithRecorder(m),
	)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	o, err := verify.NewOrchestrator(gw, settings.Verify,
		verify.WithLogger(logger),
		verify.WithRecorder(m),
	)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	return &engine{gateway: gw, orchestrator: o, metrics: m, closers: closers}, nil
}

func (e *engine) Close() {
	closeAll(e.closers)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}
