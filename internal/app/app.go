// Package app wires the session registry, the MCP tool host, and the turn
// orchestrator into a running daemon.
//
// The App struct owns the full lifecycle: New connects all subsystems, Run
// executes the idle-session sweep until cancelled, and Shutdown tears
// everything down in order and persists conversation histories.
//
// Wire framing (how bytes reach a transport) is deliberately not this
// package's concern — transports call the four HandleX methods and
// SetPolicyForSession below and
// implement [turn.Transport] to receive output.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/health"
	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/internal/mcp/mcphost"
	"github.com/MrWong99/glyphoxa/internal/observe"
	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/internal/transcript"
	"github.com/MrWong99/glyphoxa/internal/transcript/llmcorrect"
	"github.com/MrWong99/glyphoxa/internal/transcript/phonetic"
	"github.com/MrWong99/glyphoxa/internal/turn"
	"github.com/MrWong99/glyphoxa/pkg/audio"
	"github.com/MrWong99/glyphoxa/pkg/provider/embeddings"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/provider/s2s"
	"github.com/MrWong99/glyphoxa/pkg/provider/stt"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
	"github.com/MrWong99/glyphoxa/pkg/provider/vad"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// Providers holds the provider instances main.go built from config via the
// [config.Registry]. LLM is the only slot the core orchestrator consumes
// directly; the rest (ASR, TTS, speech-to-speech, embeddings, VAD, and the
// audio backend) are out-of-scope external collaborators that a transport
// implementation wires up on its own.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	S2S        s2s.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
	Audio      audio.Platform
}

// App owns the session registry, the MCP host, and the turn orchestrator,
// and exposes the external interface transports drive.
type App struct {
	cfg       *config.Config
	providers *Providers
	registry  *config.Registry
	apiKeys   map[string]string

	sessions    *session.Registry
	mcpHost     mcp.Host
	metrics     *observe.Metrics
	orch        *turn.Orchestrator
	health      *health.Handler
	transcripts transcript.Pipeline

	sweepInterval time.Duration

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once

	llmCacheMu sync.Mutex
	llmCache   map[string]llm.Provider
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMCPHost injects an MCP host instead of creating one from config.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithSessionRegistry injects a session registry instead of creating one
// sized from cfg.Session.MaxSessions.
func WithSessionRegistry(r *session.Registry) Option {
	return func(a *App) { a.sessions = r }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithAPIKeys injects the process-wide cloud API key map (e.g. sourced from
// environment variables by main.go), preferred over config-embedded keys by
// the policy resolver.
func WithAPIKeys(keys map[string]string) Option {
	return func(a *App) { a.apiKeys = keys }
}

// WithTranscriptPipeline injects a transcript correction pipeline instead of
// the default one New builds from providers.LLM.
func WithTranscriptPipeline(p transcript.Pipeline) Option {
	return func(a *App) { a.transcripts = p }
}

// New wires an App from cfg and providers. The provider registry is used
// lazily, at turn time, to construct the LLM provider for each turn's
// resolved policy; providers.LLM is used as-is only when the resolved policy
// is LOCAL and providers.llm.name is unset.
func New(ctx context.Context, cfg *config.Config, providers *Providers, registry *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		registry:  registry,
		llmCache:  make(map[string]llm.Provider),
	}
	for _, o := range opts {
		o(a)
	}

	if a.sessions == nil {
		maxSessions := cfg.Session.MaxSessions
		if maxSessions <= 0 {
			maxSessions = 8
		}
		a.sessions = session.NewRegistry(maxSessions)
	}

	if err := a.initMCP(ctx); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	localPrompt := cfg.Session.LocalSystemPrompt
	if localPrompt != "" {
		a.sessions.GetLocal().InitWithSystemPrompt(localPrompt)
	}

	a.sweepInterval = time.Duration(cfg.Session.SessionTimeoutSec) * time.Second
	if a.sweepInterval <= 0 {
		a.sweepInterval = 30 * time.Minute
	}

	a.orch = &turn.Orchestrator{
		Host:        a.mcpHost,
		Metrics:     a.metrics,
		Config:      cfg.Session,
		APIKeys:     a.apiKeys,
		ProviderFor: a.resolveProvider,
		Tier:        types.BudgetStandard,
	}

	a.health = health.New(
		health.Checker{Name: "sessions", Check: a.checkSessionCapacity},
		health.Checker{Name: "mcp", Check: a.checkMCPHost},
	)

	if a.transcripts == nil {
		a.transcripts = a.defaultTranscriptPipeline()
	}

	return a, nil
}

// defaultTranscriptPipeline builds the transcript correction pipeline used by
// [App.CorrectTranscript]. The phonetic stage is always on (it's pure
// in-process string matching); the LLM stage only activates when a static LLM
// provider was supplied, since it costs a real completion call per low
// confidence span.
func (a *App) defaultTranscriptPipeline() transcript.Pipeline {
	opts := []transcript.PipelineOption{transcript.WithPhoneticMatcher(phonetic.New())}
	if a.providers != nil && a.providers.LLM != nil {
		opts = append(opts, transcript.WithLLMCorrector(llmcorrect.New(a.providers.LLM)))
	}
	return transcript.NewPipeline(opts...)
}

// CorrectTranscript runs the configured transcript correction pipeline over a
// raw STT result against vocabulary (contact names, place names, or custom
// command phrases known for the calling session). Transports that front an
// STT provider call this before handing the corrected text to
// [App.HandleUserText]; it has no effect on sessions that receive text
// directly (Web, LegacyNetwork).
func (a *App) CorrectTranscript(ctx context.Context, t stt.Transcript, vocabulary []string) (*transcript.CorrectedTranscript, error) {
	if a.transcripts == nil {
		return &transcript.CorrectedTranscript{Original: t, Corrected: t.Text, Corrections: []transcript.Correction{}}, nil
	}
	return a.transcripts.Correct(ctx, t, vocabulary)
}

// checkSessionCapacity fails readiness once the registry is fully saturated,
// since a saturated registry can no longer accept new connect attempts.
func (a *App) checkSessionCapacity(context.Context) error {
	if a.sessions.Count() >= a.cfg.Session.MaxSessions && a.cfg.Session.MaxSessions > 0 {
		return fmt.Errorf("session registry at capacity (%d)", a.sessions.Count())
	}
	return nil
}

// checkMCPHost fails readiness when MCP servers are configured but no tool is
// available at any budget tier, which usually indicates every registered MCP
// server is down.
func (a *App) checkMCPHost(context.Context) error {
	if a.mcpHost == nil {
		return nil
	}
	if len(a.cfg.MCP.Servers) > 0 && len(a.mcpHost.AvailableTools(types.BudgetDeep)) == 0 {
		return fmt.Errorf("no MCP tools available")
	}
	return nil
}

// initMCP sets up the MCP host, registers configured servers, and calibrates
// tool latency tiers.
func (a *App) initMCP(ctx context.Context) error {
	if a.mcpHost == nil {
		a.mcpHost = mcphost.New()
	}
	a.closers = append(a.closers, a.mcpHost.Close)

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := a.mcpHost.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	if err := a.mcpHost.Calibrate(ctx); err != nil {
		slog.Warn("MCP calibration failed, using declared latencies", "err", err)
	}

	return nil
}

// llmProviderName maps a resolved policy to the name a provider factory is
// registered under in the [config.Registry]. For LOCAL policies this defers
// entirely to whatever the operator configured under providers.llm — the
// daemon does not itself decide which local inference backend is in use.
func (a *App) llmProviderName(resolved turn.ResolvedPolicy) string {
	if resolved.Kind == session.PolicyCloud {
		switch resolved.CloudProvider {
		case session.ProviderOpenAI:
			return "openai"
		case session.ProviderClaude:
			return "anthropic"
		}
	}
	return a.cfg.Providers.LLM.Name
}

// resolveProvider implements [turn.Orchestrator.ProviderFor]. It builds (and
// caches, keyed by the resolved policy's identifying fields) a concrete
// [llm.Provider] for a turn's resolved policy. The statically configured
// providers.LLM instance is returned as-is only when the policy is LOCAL and
// providers.llm.name is unset.
func (a *App) resolveProvider(resolved turn.ResolvedPolicy) (llm.Provider, error) {
	name := a.llmProviderName(resolved)
	if name == "" {
		if a.providers != nil && a.providers.LLM != nil {
			return a.providers.LLM, nil
		}
		return nil, fmt.Errorf("app: no llm provider configured for policy %s", resolved.Kind)
	}

	cacheKey := fmt.Sprintf("%s|%s|%s|%s", name, resolved.Model, resolved.Endpoint, resolved.APIKey)

	a.llmCacheMu.Lock()
	defer a.llmCacheMu.Unlock()
	if p, ok := a.llmCache[cacheKey]; ok {
		return p, nil
	}

	if a.registry == nil {
		return nil, fmt.Errorf("app: no provider registry configured, cannot construct %q", name)
	}

	entry := config.ProviderEntry{
		Name:    name,
		APIKey:  resolved.APIKey,
		BaseURL: resolved.Endpoint,
		Model:   resolved.Model,
	}
	p, err := a.registry.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", name, err)
	}

	wrapped := resilience.NewLLMFallback(p, name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 3},
	})
	a.llmCache[cacheKey] = wrapped
	return wrapped, nil
}

// ─── External interface (from transports, into the core) ───────────────────

// HandleConnect registers a new client session of the given kind. identity
// is required for Satellite (a [session.SatelliteIdentity]) and LegacyNetwork
// (a [session.LegacyNetIdentity]) and ignored for the other kinds.
func (a *App) HandleConnect(kind session.Kind, transport any, identity session.Identity, caps session.Capabilities) (*session.Session, error) {
	var sess *session.Session
	var err error

	switch kind {
	case session.Satellite:
		satIdentity, ok := identity.(session.SatelliteIdentity)
		if !ok {
			return nil, fmt.Errorf("app: satellite connect requires a SatelliteIdentity")
		}
		sess, err = a.sessions.CreateSatellite(transport, satIdentity, caps)
	case session.LegacyNetwork:
		legacyIdentity, ok := identity.(session.LegacyNetIdentity)
		if !ok {
			return nil, fmt.Errorf("app: legacy network connect requires a LegacyNetIdentity")
		}
		sess, err = a.sessions.GetOrCreateLegacy(transport, legacyIdentity.IP, caps)
	default:
		sess, err = a.sessions.Create(kind, transport, caps)
	}
	if err != nil {
		return nil, err
	}

	if _, ok := sess.SystemPrompt(); !ok {
		prompt := a.cfg.Session.RemoteSystemPrompt
		if kind == session.Local {
			prompt = a.cfg.Session.LocalSystemPrompt
		}
		if prompt != "" {
			sess.InitWithSystemPrompt(prompt)
		}
	}

	if a.metrics != nil {
		a.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	return sess, nil
}

// HandleReconnect rebinds an existing session (looked up by id, even if it is
// disconnected) to a new transport handle. The disconnected flag is left
// unchanged.
func (a *App) HandleReconnect(id int, transport any) (*session.Session, error) {
	sess, err := a.sessions.GetForReconnect(id)
	if err != nil {
		return nil, err
	}
	sess.RebindTransport(transport)
	return sess, nil
}

// HandleUserText drives one full turn for sess: it is the entry point
// transports call once a user utterance (and optional image) is ready.
func (a *App) HandleUserText(ctx context.Context, sess *session.Session, transport turn.Transport, text string, image []byte) (string, error) {
	return a.orch.RunTurn(ctx, sess, transport, text, image)
}

// HandleDisconnect tears sess down via the two-phase destruction protocol.
func (a *App) HandleDisconnect(sess *session.Session) error {
	if a.metrics != nil {
		a.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	return a.sessions.Destroy(sess.ID)
}

// SetPolicyForSession installs override as sess's LLM policy, validating
// that a cloud override names a provider with a configured API key.
func (a *App) SetPolicyForSession(sess *session.Session, override *session.PolicyOverride) error {
	return sess.SetPolicy(override, func(o *session.PolicyOverride) error {
		if o == nil || o.Kind != session.PolicyCloud {
			return nil
		}
		if _, err := turn.Resolve(o, a.cfg.Session.LLMDefaults, a.apiKeys); err != nil {
			return err
		}
		return nil
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session registry.
func (a *App) Sessions() *session.Registry { return a.sessions }

// MCPHost returns the MCP host.
func (a *App) MCPHost() mcp.Host { return a.mcpHost }

// Orchestrator returns the turn orchestrator.
func (a *App) Orchestrator() *turn.Orchestrator { return a.orch }

// Health returns the liveness/readiness HTTP handler.
func (a *App) Health() *health.Handler { return a.health }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the idle-session sweep and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.sweepInterval / 4)
	defer ticker.Stop()

	slog.Info("app running", "session_timeout", a.sweepInterval, "sessions", a.sessions.Count())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n := a.sessions.SweepExpired(ctx, a.sweepInterval)
			if n > 0 {
				slog.Info("swept expired sessions", "count", n)
				if a.metrics != nil {
					a.metrics.ActiveSessions.Add(ctx, -int64(n))
				}
			}
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown persists every session's conversation history, then tears down
// all subsystems in reverse-init order. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		dir := a.cfg.Session.HistoryArtifactDir
		if dir == "" {
			dir = "."
		}
		if err := a.sessions.SaveAllHistories(dir); err != nil {
			slog.Warn("failed to persist session histories", "err", err)
		}

		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("session registry shutdown error", "err", err)
		}

		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
