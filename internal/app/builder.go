package app

import (
	"context"
	"fmt"
	"time"

	"tradeflow/internal/analysis"
	"tradeflow/internal/config"
	"tradeflow/internal/engine"
	"tradeflow/internal/fill"
	"tradeflow/internal/gate"
	"tradeflow/internal/logger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/pkg/circuit"
	"tradeflow/internal/session"
	"tradeflow/internal/store"
	"tradeflow/internal/store/journal"
	"tradeflow/internal/store/sqlite"
	"tradeflow/internal/strategy"
	toolshttp "tradeflow/internal/transport/http/tools"
	"tradeflow/internal/venue"
	"tradeflow/internal/venue/paper"
)

type AppBuilder struct {
	cfg     *config.Config
	cfgPath string

	openStoreFn func(config.StoreConfig) (store.AuditStore, error)
	venueFn     func(config.VenueConfig) *paper.Venue
	pricer      strategy.Pricer
	withHTTP    bool
}

type AppBuilderOption func(*AppBuilder)

// WithAuditStore 替换 store.driver 选出的存储。
func WithAuditStore(s store.AuditStore) AppBuilderOption {
	return func(b *AppBuilder) {
		b.openStoreFn = func(config.StoreConfig) (store.AuditStore, error) { return s, nil }
	}
}

func WithPaperVenue(v *paper.Venue) AppBuilderOption {
	return func(b *AppBuilder) {
		b.venueFn = func(config.VenueConfig) *paper.Venue { return v }
	}
}

func WithPricer(p strategy.Pricer) AppBuilderOption {
	return func(b *AppBuilder) { b.pricer = p }
}

// WithoutHTTP 不创建 HTTP 服务，engine 仍会构建。
func WithoutHTTP() AppBuilderOption {
	return func(b *AppBuilder) { b.withHTTP = false }
}

func NewAppBuilder(cfg *config.Config, cfgPath string, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		cfgPath:     cfgPath,
		openStoreFn: openAuditStore,
		venueFn:     buildPaperVenue,
		withHTTP:    true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openAuditStore(cfg config.StoreConfig) (store.AuditStore, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		s, err := sqlite.NewAuditStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Infof("[store] audit log in sqlite %s", cfg.Path)
		return s, nil
	case config.StoreJSONL:
		j, err := journal.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Infof("[store] audit log in journal %s", cfg.Path)
		return j, nil
	case config.StoreNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func buildPaperVenue(cfg config.VenueConfig) *paper.Venue {
	return paper.New(cfg.Paper.VenueConfig())
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	auditStore, err := b.openStoreFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	registry := session.NewRegistry(
		session.WithAuditSink(newAuditSink(auditStore)),
		session.WithAuditExcerpt(cfg.Session.AuditExcerpt),
		session.WithTransitionHook(func(_ string, from, to session.Phase) {
			metrics.SessionTransition(string(from), string(to))
		}),
	)
	cache := strategy.NewCache(
		strategy.WithTTL(cfg.Strategy.TTL()),
		strategy.WithEvictHook(metrics.StrategyEvicted),
	)

	schemas, err := analysis.LoadSchemas(cfg.Analysis.SchemasPath)
	if err != nil {
		closeStore(auditStore)
		return nil, err
	}
	pipeline, err := analysis.NewWithSchemas(cfg.Analysis.Steps, schemas)
	if err != nil {
		closeStore(auditStore)
		return nil, err
	}

	paperVenue := b.venueFn(cfg.Venue)
	breaker := circuit.New("venue", cfg.Venue.FailureThreshold, cfg.Venue.Cooldown())
	breaker.SetStateChangeHandler(func(_ string, _, to circuit.State) {
		metrics.VenueCircuit(int(to))
	})
	guarded := venue.NewGuarded(paperVenue, breaker, func(op string, err error, elapsed time.Duration) {
		metrics.VenueCall(op, err, elapsed, venue.ErrRejected, venue.ErrUnavailable)
	})

	execGate := gate.New(cfg.Gate.Rules(), func(symbol, note string, fields map[string]any) {
		if _, err := registry.Note(symbol, note, fields); err != nil {
			logger.Debugf("[gate] audit note for %s dropped: %v", symbol, err)
		}
	})
	verifier := fill.NewVerifier(guarded,
		fill.WithTimeout(cfg.Fill.Timeout()),
		fill.WithResultHook(func(r fill.Result) {
			metrics.FillResult(string(r.State), r.Elapsed)
		}),
	)

	eng, err := engine.New(engine.Deps{
		Sessions: registry,
		Cache:    cache,
		Pipeline: pipeline,
		Pricer:   b.pricer,
		Venue:    guarded,
		Gate:     execGate,
		Verifier: verifier,
		Policy:   cfg.Risk.Policy(),
	})
	if err != nil {
		paperVenue.Close()
		closeStore(auditStore)
		return nil, err
	}

	var watcher *config.PolicyWatcher
	if b.cfgPath != "" {
		watcher, err = config.NewPolicyWatcher(b.cfgPath, cfg)
		if err != nil {
			paperVenue.Close()
			closeStore(auditStore)
			return nil, err
		}
		watcher.Subscribe(func(s config.PolicySnapshot) {
			applyPolicy(eng, s)
		})
	}

	var server *toolshttp.Server
	if b.withHTTP {
		server, err = toolshttp.NewServer(toolshttp.ServerConfig{
			Addr:  cfg.App.HTTPAddr,
			Tools: eng,
			Audit: auditStore,
		})
		if err != nil {
			paperVenue.Close()
			closeStore(auditStore)
			return nil, err
		}
	}

	return &App{
		cfg:     cfg,
		engine:  eng,
		http:    server,
		cache:   cache,
		watcher: watcher,
		paper:   paperVenue,
		audit:   auditStore,
		Summary: newStartupSummary(cfg, pipeline.Steps()),
	}, nil
}

func applyPolicy(eng *engine.Engine, s config.PolicySnapshot) {
	if err := eng.UpdatePolicy(s.Risk); err != nil {
		logger.Errorf("[config] rejected risk policy v%d: %v", s.Version, err)
	}
	if err := eng.UpdateGateRules(s.Gate); err != nil {
		logger.Errorf("[config] rejected gate rules v%d: %v", s.Version, err)
	}
}

func closeStore(s store.AuditStore) {
	if s != nil {
		_ = s.Close()
	}
}
