package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/bus"
	"github.com/normanking/concierge/internal/cache"
	"github.com/normanking/concierge/internal/config"
	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/enrich"
	"github.com/normanking/concierge/internal/llm"
	"github.com/normanking/concierge/internal/memory"
	"github.com/normanking/concierge/internal/metrics"
	"github.com/normanking/concierge/internal/models"
	"github.com/normanking/concierge/internal/orchestrator"
	"github.com/normanking/concierge/internal/persona"
	"github.com/normanking/concierge/internal/quality"
	"github.com/normanking/concierge/internal/router"
	"github.com/normanking/concierge/internal/tools"
	"github.com/normanking/concierge/internal/tools/builtin"
	"github.com/normanking/concierge/internal/topic"
)

const weatherTimeout = 10 * time.Second

// app holds every collaborator built from the config.
type app struct {
	cfg       *config.Config
	store     *data.Store
	cache     cache.Cache
	bus       *bus.Bus
	resolver  *models.Resolver
	factory   llm.Factory
	router    *router.Router
	topics    *topic.Tracker
	executor  *tools.Executor
	quality   *quality.Tracker
	registry  *prometheus.Registry
	recorder  *metrics.Recorder
	collector *metrics.Collector
	coord     *orchestrator.Coordinator
}

// newApp wires the coordinator and its collaborators.
func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := data.Open(cfg.Data.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	a := &app{
		cfg:      cfg,
		store:    store,
		cache:    c,
		bus:      bus.NewBus(),
		resolver: models.NewResolver(cfg, models.WithEnv(os.LookupEnv)),
		registry: prometheus.NewRegistry(),
		quality:  quality.NewTracker(quality.WithWindow(cfg.Quality.TrendWindow)),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.recorder = metrics.NewRecorder(a.registry, store)
	a.collector = metrics.NewCollector(a.bus, a.recorder)

	a.factory = llm.WithRateLimit(
		llm.NewFactory(
			llm.WithTimeout(cfg.LLM.Timeout),
			llm.WithDefaults(cfg.LLM.MaxTokens, cfg.LLM.Temperature),
		),
		llm.NewRateLimiter(),
	)

	// Enrichment and tools
	weather := enrich.NewWeatherClient(enrich.WeatherConfig{
		BaseURL: cfg.Enrich.WeatherURL,
		TTL:     cfg.Enrich.WeatherTTL,
		Timeout: weatherTimeout,
	}, c)
	enricher := enrich.New(cfg.Enrich,
		enrich.WithWeather(weather),
		enrich.WithMemories(store, cfg.Orchestrator.MemoryLimit),
		enrich.WithDocuments(store, cfg.Orchestrator.DocumentLimit),
	)

	reg := tools.NewRegistry()
	if err := builtin.Register(reg, builtin.Deps{
		Weather:   weather,
		Latitude:  cfg.Enrich.Latitude,
		Longitude: cfg.Enrich.Longitude,
		Memories:  store,
		Documents: store,
		Devices:   builtin.NewMemoryHome(cfg.Tools.Devices...),
	}); err != nil {
		a.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}
	a.executor = tools.NewExecutor(reg,
		tools.WithTimeouts(tools.NewTimeoutTable(cfg.Tools.Timeouts, cfg.Tools.DefaultTimeout)),
		tools.WithMaxParallel(cfg.Tools.MaxParallel),
	)

	// Routing
	routerOpts := []router.Option{
		router.WithSwitchPhrases(cfg.Routing.SwitchPhrases),
		router.WithContinuityThreshold(cfg.Routing.ContinuityThreshold),
	}
	if cfg.Routing.LLMClassifier {
		if client, ok := a.defaultClient(); ok {
			routerOpts = append(routerOpts, router.WithClassifier(router.NewLLMClassifier(client, 0)))
		} else {
			log.Warn().Msg("llm classifier enabled but the personality agent has no credential")
		}
	}
	a.router = router.New(routerOpts...)
	a.topics = topic.NewTracker(store,
		topic.WithSwitchPhrases(cfg.Routing.SwitchPhrases),
		topic.WithContinuityThreshold(cfg.Routing.ContinuityThreshold),
		topic.WithSwitchBackWindow(cfg.Topic.SwitchBackWindow),
		topic.WithMinInterruptedTurns(cfg.Topic.MinInterruptedTurns),
	)

	// Voice and memory
	p, err := persona.LoadFromFile(cfg.Persona.File)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load persona: %w", err)
	}
	wrapper := persona.NewWrapper(p, a.resolver, a.factory, persona.WithMinLength(cfg.Orchestrator.MinWrapLength))

	extractors := []memory.Extractor{memory.NewHeuristicExtractor()}
	if cfg.Orchestrator.LLMMemoryExtraction {
		if client, ok := a.defaultClient(); ok {
			extractors = append(extractors, memory.NewLLMExtractor(client, a.resolver.Resolve(agents.Default).Model))
		}
	}

	a.coord, err = orchestrator.New(orchestrator.Deps{
		Store:   store,
		Router:  a.router,
		Topics:  a.topics,
		Models:  a.resolver,
		LLM:     a.factory,
		Tools:   a.executor,
		Context: enricher,
		Wrapper: wrapper,
		Quality: a.quality,
		Memory:  memory.NewService(store, extractors...),
		Metrics: a.recorder,
		Bus:     a.bus,
	}, orchestrator.ConfigFrom(cfg))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.collector.Start()
	return a, nil
}

// defaultClient builds a client for the default agent's resolved model.
func (a *app) defaultClient() (llm.Client, bool) {
	mc := a.resolver.Resolve(agents.Default)
	if !mc.HasCredential() {
		return nil, false
	}
	return a.factory(mc), true
}

// Close waits for background work and releases resources.
func (a *app) Close() {
	if a.coord != nil {
		a.coord.Wait()
	}
	if a.collector != nil {
		a.collector.Stop()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if closer, ok := a.cache.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Debug().Err(err).Msg("cache close failed")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}
}
