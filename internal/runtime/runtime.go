// Package runtime wires every subsystem's dependency-injected constructor
// together into one process: store, bus, provider registry, embedding
// engine, retrieval, mission runner, automation engine, ingestion server.
// A Runtime is built once by cmd/wardend and holds no package-level state.
package runtime

import (
	"context"
	"errors"
	"fmt"

	"warden/internal/automation"
	"warden/internal/bus"
	"warden/internal/chatloop"
	"warden/internal/config"
	"warden/internal/embedding"
	"warden/internal/ingest"
	"warden/internal/logging"
	"warden/internal/mission"
	"warden/internal/provider"
	"warden/internal/provider/anthropic"
	"warden/internal/provider/genai"
	"warden/internal/provider/openai"
	"warden/internal/retrieval"
	"warden/internal/secretstore"
	"warden/internal/store"
	"warden/internal/tools"
	"warden/internal/tools/gmail"
	"warden/internal/tools/gtasks"
	"warden/internal/tools/kb"
	"warden/internal/tools/register"
)

// Runtime owns the process's shared, long-lived state: one of each
// subsystem, constructed here and passed down to whatever needs it. Nothing
// in this package is a package-level var; everything flows through the
// Runtime value built by New.
type Runtime struct {
	Config *config.Config

	Logging *logging.Registry
	Store   *store.Store
	Bus     *bus.Bus

	Providers *provider.Registry

	Embedding        embedding.EmbeddingEngine
	EmbeddingManager *embedding.Manager
	Context          *retrieval.ContextBuilder

	Parsers *mission.ParserRegistry
	Mission *mission.Runner

	Automation *automation.Engine

	Ingest *ingest.Server

	Secrets secretstore.SecretStore

	// Caps is the process-wide capability cache shared by every chat loop a
	// domain conversation spins up; capability probing is expensive enough
	// per provider/model pair that it is worth remembering across domains.
	Caps *chatloop.CapabilityCache

	log *logging.Logger
}

// New constructs every subsystem from cfg but starts nothing: no goroutines,
// no listeners, no background jobs. Call Init then Start to bring the
// process up.
func New(cfg *config.Config) (*Runtime, error) {
	logReg, err := logging.NewRegistry(cfg.LogDir(), cfg.Logging.ToLoggingConfig())
	if err != nil {
		return nil, fmt.Errorf("runtime: logging: %w", err)
	}
	bootLog := logReg.Get(logging.CategoryBoot)

	st, err := store.New(cfg.StorePath(), logReg.Get(logging.CategoryStore))
	if err != nil {
		return nil, fmt.Errorf("runtime: store: %w", err)
	}

	eventBus := bus.New()

	providers, err := buildProviderRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: providers: %w", err)
	}

	embEngine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       cfg.Embedding.TaskType,
	}, logReg.Get(logging.CategoryEmbedding))
	if err != nil {
		return nil, fmt.Errorf("runtime: embedding engine: %w", err)
	}

	contextBuilder := retrieval.NewContextBuilder(st, embEngine, logReg.Get(logging.CategoryRetrieval))
	// BuildContext reads store.ChunkEmbedding rows fresh on every call, so
	// there is no cache for a completed indexing pass to invalidate.
	embManager := embedding.NewManager(st, embEngine, nil, logReg.Get(logging.CategoryEmbedding))

	parsers := mission.NewParserRegistry()

	notifier := &busNotifier{bus: eventBus}

	missionRunner := mission.New(
		st, eventBus, providers, parsers,
		nil, // DigestProvider: none wired, so mission runs assemble no KB digests
		nil, // HealthProvider: none wired yet
		embManager,
		nil, // GTaskClient: connected only once an OAuth-backed client exists
		nil, // GmailComposer: connected only once an OAuth-backed client exists
		nil, // Hooks: per-mission hooks are registered by callers that need them
		logReg.Get(logging.CategoryMission),
	)

	automationEngine := automation.New(
		st, eventBus, providers, cfg.Limits, cfg.ProviderTimeouts.PerCallTimeout,
		logReg.Get(logging.CategoryAutomation),
		notifier,
		nil, // GTaskClient: see mission.New above
		nil, // GmailComposer: see mission.New above
	)

	ingestServer := ingest.New(cfg.Ingest, cfg.Limits, st, eventBus, logReg.Get(logging.CategoryIngest))

	secrets, err := secretstore.NewMemoryStore()
	if err != nil {
		return nil, fmt.Errorf("runtime: secretstore: %w", err)
	}

	rt := &Runtime{
		Config:           cfg,
		Logging:          logReg,
		Store:            st,
		Bus:              eventBus,
		Providers:        providers,
		Embedding:        embEngine,
		EmbeddingManager: embManager,
		Context:          contextBuilder,
		Parsers:          parsers,
		Mission:          missionRunner,
		Automation:       automationEngine,
		Ingest:           ingestServer,
		Secrets:          secrets,
		Caps:             chatloop.NewCapabilityCache(),
		log:              bootLog,
	}
	return rt, nil
}

// Init runs one-time setup that must happen before Start: registering the
// built-in mission parsers. There is no seed-data bootstrap step here —
// automation.Engine.Start runs its own crash-recovery, retention-cleanup,
// and catch-up passes the first time it starts, which is the runtime's
// actual "first boot" hook.
func (rt *Runtime) Init(ctx context.Context) error {
	mission.RegisterMissionParsers(rt.Parsers)
	return nil
}

// Start brings the background subsystems up: the automation engine's cron
// and retention loops, and the loopback ingestion server. Both run until ctx
// is cancelled or Stop is called.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.Automation.Start(ctx); err != nil {
		return fmt.Errorf("runtime: automation: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.Ingest.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("runtime: ingest: %w", err)
		}
	case <-ctx.Done():
	}
	return nil
}

// Stop shuts down the automation engine and closes the store. The ingest
// server shuts itself down when ctx passed to Start is cancelled.
func (rt *Runtime) Stop() {
	rt.Automation.Stop()
	rt.EmbeddingManager.CancelAll()
	if err := rt.Store.Close(); err != nil {
		rt.log.Error("store close: %v", err)
	}
}

// NewDomainToolRegistry builds a fresh per-domain tool registry backed by
// this runtime's KB context builder, and whatever Gmail/GTasks clients the
// caller already has connected for domainID. Gmail and GTasks connections
// live outside this module's scope (spec: OAuth flows are the host
// application's concern), so callers pass whatever they have; either may be
// nil.
func (rt *Runtime) NewDomainToolRegistry(domainID string, gmailClient gmail.Client, gtasksClient gtasks.Client) (*tools.Registry, error) {
	registry := tools.NewRegistry(rt.Logging.Get(logging.CategoryTools))
	clients := register.Clients{
		Gmail:  gmailClient,
		GTasks: gtasksClient,
		KB:     &kbSearchAdapter{runtime: rt},
	}
	if err := register.ForDomain(registry, domainID, clients); err != nil {
		return nil, fmt.Errorf("runtime: tool registry for domain %s: %w", domainID, err)
	}
	return registry, nil
}

// NewChatLoop builds a chat tool-loop for one conversation against
// providerName/model, reusing this runtime's process-wide capability cache.
func (rt *Runtime) NewChatLoop(providerName, model, baseURL string, registry *tools.Registry) (*chatloop.Loop, error) {
	p, err := rt.Providers.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("runtime: chat loop provider: %w", err)
	}
	return chatloop.New(p, providerName, model, baseURL, registry, rt.Caps, rt.Logging.Get(logging.CategoryChatLoop)), nil
}

// kbSearchAdapter satisfies tools/kb.Searcher over this runtime's MMR-lite
// vector context builder, falling back to the string-based KB context when
// no embedding client is available. Mission prompt assembly does not use it.
type kbSearchAdapter struct {
	runtime *Runtime
}

func (a *kbSearchAdapter) Search(ctx context.Context, domainID, query string, limit int) ([]kb.Result, error) {
	domain, err := a.runtime.Store.GetDomain(domainID)
	if err != nil {
		return nil, fmt.Errorf("kb search: %w", err)
	}

	modelName := ""
	if a.runtime.Embedding != nil {
		modelName = a.runtime.Embedding.Name()
	}

	sections, err := a.runtime.Context.BuildContext(ctx, domain, modelName, query, limit, 0)
	if errors.Is(err, retrieval.ErrNoEmbeddingClient) || errors.Is(err, retrieval.ErrNoEmbeddings) {
		profile := retrieval.FallbackProfile(a.runtime.Config.Retrieval.FallbackProfile)
		sections, err = a.runtime.Context.BuildFallbackContext(domain, profile)
	}
	if err != nil {
		return nil, err
	}
	if len(sections) > limit && limit > 0 {
		sections = sections[:limit]
	}

	results := make([]kb.Result, 0, len(sections))
	for _, s := range sections {
		results = append(results, kb.Result{
			Path:    s.FilePath,
			Content: s.Text,
			Score:   s.Score,
		})
	}
	return results, nil
}

// busNotifier satisfies automation.NotificationSink by emitting a
// bus.EventNotification, the same synchronous fan-out every other
// domain-scoped event in this process uses; the UI layer subscribes to it
// rather than polling for new notifications.
type busNotifier struct {
	bus *bus.Bus
}

func (n *busNotifier) Notify(ctx context.Context, domainID, title, body string) error {
	n.bus.Emit(bus.Event{
		Type: bus.EventNotification,
		Data: bus.EventData{
			DomainID: domainID,
			Metadata: map[string]any{"title": title, "body": body},
		},
	})
	return nil
}

// buildProviderRegistry registers the configured default provider's adapter
// under its own name. Only one adapter is constructed at startup; a domain
// that wants a different provider/model pair supplies it directly to
// NewChatLoop by name, and Get returns an error until that name is
// registered too.
func buildProviderRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry(cfg.Provider.Provider)

	maxTokens := 4096
	switch cfg.Provider.Provider {
	case "anthropic":
		c, err := anthropic.NewFromAPIKey(cfg.Provider.APIKey, cfg.Provider.Model, maxTokens)
		if err != nil {
			return nil, fmt.Errorf("anthropic adapter: %w", err)
		}
		registry.Register("anthropic", c)
	case "openai":
		c, err := openai.NewFromAPIKey(cfg.Provider.APIKey, cfg.Provider.Model, maxTokens)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		registry.Register("openai", c)
	case "genai":
		c, err := genai.New(cfg.Provider.APIKey, cfg.Provider.Model, genai.Options{
			EnableThinking: cfg.Gemini.EnableThinking,
			ThinkingLevel:  cfg.Gemini.ThinkingLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("genai adapter: %w", err)
		}
		registry.Register("genai", c)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Provider)
	}

	return registry, nil
}
