// Package command wires the interactive menus of the application to the
// provider store, the ingestion pipeline and resume Q&A.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/agent"
	"github.com/nidhogg/resumemind/internal/config"
	"github.com/nidhogg/resumemind/internal/document"
	"github.com/nidhogg/resumemind/internal/embedding"
	"github.com/nidhogg/resumemind/internal/graph"
	"github.com/nidhogg/resumemind/internal/ingest"
	"github.com/nidhogg/resumemind/internal/provider"
	"github.com/nidhogg/resumemind/internal/rag"
	"github.com/nidhogg/resumemind/internal/store"
	"github.com/nidhogg/resumemind/internal/ui"
	"github.com/nidhogg/resumemind/internal/vectorstore"
	"github.com/nidhogg/resumemind/internal/window"
)

// ChatFactory builds a chat client for a stored provider.
type ChatFactory func(ctx context.Context, cfg *provider.ProviderConfig, logger *zap.Logger) (provider.Provider, error)

// EmbedderFactory builds an embedding client.
type EmbedderFactory func(ctx context.Context, params provider.ModelParams, logger *zap.Logger) (embedding.Provider, error)

// Deps are the collaborators of an App. Graph and Index may be nil.
type Deps struct {
	Store       *store.Store
	Console     *ui.Console
	Config      *config.Config
	Graph       graph.Store
	Index       vectorstore.Index
	Parser      ingest.Parser
	NewChat     ChatFactory
	NewEmbedder EmbedderFactory
	Logger      *zap.Logger
	Version     string
}

// App is the interactive session.
type App struct {
	store       *store.Store
	con         *ui.Console
	cfg         *config.Config
	graph       graph.Store
	index       vectorstore.Index
	parser      ingest.Parser
	router      *provider.Router
	engine      *agent.Engine
	newChat     ChatFactory
	newEmbedder EmbedderFactory
	logger      *zap.Logger
	version     string

	current  *provider.ProviderConfig
	embedder embedding.Provider
	orch     *rag.Orchestrator
	qa       *rag.QA
	pipeline *ingest.Pipeline
}

// New creates an App. Missing factories default to the real clients.
func New(d Deps) *App {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.NewChat == nil {
		d.NewChat = provider.New
	}
	if d.NewEmbedder == nil {
		d.NewEmbedder = embedding.New
	}
	if d.Parser == nil {
		d.Parser = document.NewConverter(d.Logger, document.WithMaxPages(d.Config.Ingest.MaxPDFPages))
	}
	router := provider.NewRouter(d.Logger)
	engine := agent.NewEngine(router, d.Logger)
	if d.Config.PromptsDir != "" {
		engine.SetPromptsDir(d.Config.PromptsDir)
	}
	return &App{
		store:       d.Store,
		con:         d.Console,
		cfg:         d.Config,
		graph:       d.Graph,
		index:       d.Index,
		parser:      d.Parser,
		router:      router,
		engine:      engine,
		newChat:     d.NewChat,
		newEmbedder: d.NewEmbedder,
		logger:      d.Logger,
		version:     d.Version,
	}
}

// Run starts the session: the add-provider flow on first run, otherwise the
// active provider is loaded, then the main menu runs until the user exits.
// Only storage failures and closed input end it with an error.
func (a *App) Run(ctx context.Context) error {
	a.con.Header("ResumeMind", "Resume knowledge graphs from your terminal "+a.version)

	ready, err := a.startup(ctx)
	if err != nil || !ready {
		return quiet(err)
	}
	return quiet(a.loop(ctx, "Main menu", a.mainMenu()))
}

func (a *App) startup(ctx context.Context) (bool, error) {
	has, err := a.store.HasProviders(ctx)
	if err != nil {
		return false, err
	}
	if !has {
		a.con.Info("No LLM provider is configured yet. Let's add one.")
		cfg, err := a.addProvider(ctx)
		if err != nil {
			return false, err
		}
		if err := a.store.SetDefault(ctx, cfg.ID); err != nil {
			return false, err
		}
		return a.use(ctx, cfg)
	}

	def, err := a.store.GetDefault(ctx)
	if err != nil {
		return false, err
	}
	if def != nil {
		a.registerDefault(ctx, def)
	}

	active, err := a.store.GetActive(ctx)
	if err != nil {
		return false, err
	}
	if active == nil {
		a.con.Warn("No active provider is set.")
		return a.chooseProvider(ctx, "Exit")
	}
	a.con.Info("Loading active provider %q (%s)", active.Name, active.Model)
	return a.use(ctx, active)
}

// use activates cfg, falling back to the provider menu when its client
// cannot be built.
func (a *App) use(ctx context.Context, cfg *provider.ProviderConfig) (bool, error) {
	if err := a.activate(ctx, cfg); err != nil {
		if fatal(err) {
			return false, err
		}
		a.report(err)
		return a.chooseProvider(ctx, "Exit")
	}
	return true, nil
}

// loop shows a registry as a numbered menu until a command exits it.
func (a *App) loop(ctx context.Context, title string, reg *Registry) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmds := reg.List()
		items := make([]string, len(cmds))
		for i, c := range cmds {
			items[i] = c.Description
		}
		a.con.Menu(title, items)
		n, err := a.con.Choose("Select an option", len(cmds), 0)
		if err != nil {
			return err
		}
		res, err := reg.Dispatch(ctx, strconv.Itoa(n))
		if err != nil {
			if fatal(err) {
				return err
			}
			a.report(err)
			continue
		}
		if res.Content != "" {
			a.con.Println(res.Content)
		}
		if res.Exit {
			return nil
		}
	}
}

func (a *App) mainMenu() *Registry {
	reg := NewRegistry()
	reg.Register(&Command{Name: "ingest", Description: "Ingest a resume", Handler: a.ingestCommand})
	reg.Register(&Command{Name: "ask", Description: "Ask questions about resumes", Handler: a.askCommand})
	reg.Register(&Command{Name: "resumes", Description: "List ingested resumes", Handler: a.listResumesCommand})
	reg.Register(&Command{Name: "explore", Description: "Explore the knowledge graph", Handler: a.exploreCommand})
	reg.Register(&Command{Name: "delete", Description: "Delete a resume", Handler: a.deleteResumeCommand})
	reg.Register(&Command{Name: "provider", Description: "Change provider", Handler: a.changeProviderCommand})
	reg.Register(&Command{Name: "exit", Description: "Exit", Handler: func(context.Context) (*CommandResult, error) {
		return &CommandResult{Content: "Goodbye!", Exit: true}, nil
	}})
	return reg
}

// activate makes cfg the provider serving every LLM call and rebuilds what
// depends on it.
func (a *App) activate(ctx context.Context, cfg *provider.ProviderConfig) error {
	p, err := a.newChat(ctx, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("provider %q: %w", cfg.Name, err)
	}
	a.router.Register(p)
	a.router.SetActive(p.ID())
	if err := a.store.SetActive(ctx, cfg.ID); err != nil {
		return err
	}
	a.current = cfg

	a.embedder = nil
	params := provider.ResolveEmbedding(cfg)
	emb, err := a.newEmbedder(ctx, params, a.logger)
	if err != nil {
		a.con.Warn("Embeddings unavailable (%v). Resumes will be ingested without vectors.", err)
		a.logger.Warn("embedding client", zap.String("model", params.Model), zap.Error(err))
	} else {
		a.embedder = emb
	}

	a.orch = rag.NewOrchestrator(a.embedder, a.index, a.graph, a.collection(), a.logger)
	a.qa = rag.NewQA(a.orch, a.engine, a.store, a.logger)
	a.qa.SetWindow(window.Config{MaxTokens: a.cfg.QA.ContextTokens})
	if a.cfg.QA.HistoryTurns > 0 {
		a.qa.Turns = a.cfg.QA.HistoryTurns
	}
	a.pipeline = a.newPipeline()
	a.con.Success("Using %s (%s)", cfg.Name, cfg.Model)
	return nil
}

func (a *App) newPipeline() *ingest.Pipeline {
	d := ingest.Deps{
		Parser:   a.parser,
		Records:  a.store,
		Engine:   a.engine,
		Reviewer: &consoleReviewer{con: a.con},
		Observer: &consoleObserver{con: a.con, logger: a.logger},
	}
	// Interface fields stay nil when the backing client is absent.
	if a.embedder != nil {
		d.Embedder = a.embedder
	}
	if a.graph != nil {
		d.Graph = a.graph
	}
	if a.index != nil && a.embedder != nil {
		d.Index = a.orch
	}
	return ingest.New(d, a.cfg.Ingest, a.logger)
}

func (a *App) collection() string {
	if a.cfg.Qdrant.Collection != "" {
		return a.cfg.Qdrant.Collection
	}
	return rag.DefaultCollection
}

// registerDefault makes the default provider the router fallback.
func (a *App) registerDefault(ctx context.Context, cfg *provider.ProviderConfig) {
	p, err := a.newChat(ctx, cfg, a.logger)
	if err != nil {
		a.logger.Warn("default provider unavailable", zap.String("name", cfg.Name), zap.Error(err))
		return
	}
	a.router.Register(p)
	a.router.SetDefault(p.ID())
}

// report prints a recoverable error.
func (a *App) report(err error) {
	a.logger.Warn("command failed", zap.Error(err))
	switch {
	case store.IsValidation(err):
		a.con.Error("Invalid input: %v", err)
	case errors.Is(err, store.ErrNotFound):
		a.con.Error("Not found: %v", err)
	case errors.Is(err, provider.ErrNoProvider):
		a.con.Error("No provider is active. Choose one under \"Change provider\".")
	default:
		a.con.Error("%v", err)
	}
}

// fatal reports whether err must end the session.
func fatal(err error) bool {
	return store.IsStorage(err) ||
		errors.Is(err, ui.ErrInputClosed) ||
		errors.Is(err, context.Canceled)
}

// quiet turns the ways a user leaves the session into a clean exit.
func quiet(err error) error {
	if errors.Is(err, ui.ErrInputClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
