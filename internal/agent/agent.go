// Package agent coordinates one conversational turn: retrieval, context
// assembly, model invocation, and session persistence.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hunterwarburton/sage/internal/core"
	"github.com/hunterwarburton/sage/internal/llm"
	"github.com/hunterwarburton/sage/internal/logger"
)

// State tracks where a turn is in the pipeline.
type State int

// Pipeline states. Failed is terminal and reachable from any non-terminal
// state.
const (
	StateReceived State = iota
	StateRetrieving
	StateAssembling
	StateGenerating
	StatePersisting
	StateComplete
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateRetrieving:
		return "RETRIEVING"
	case StateAssembling:
		return "ASSEMBLING"
	case StateGenerating:
		return "GENERATING"
	case StatePersisting:
		return "PERSISTING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// DefaultHistoryRuns is how many query+response pairs of history are
// replayed to the model.
const DefaultHistoryRuns = 3

// DefaultSearchK bounds how many chunks retrieval returns.
const DefaultSearchK = 5

// Response is the outcome of one turn.
type Response struct {
	Content string
	State   State

	// Degraded is set when retrieval or history could not be served and
	// the turn proceeded with reduced context.
	Degraded bool

	// DegradedEmbedding is set when the query was embedded with the
	// fallback embedder because the primary was unavailable.
	DegradedEmbedding bool

	// Persisted reports whether the turn reached the session store. When
	// false, PersistErr carries the cause; the answer itself is intact.
	Persisted  bool
	PersistErr error

	// Sources are the retrieval results that informed the answer.
	Sources []core.SearchResult
}

// Agent is the per-turn orchestrator.
type Agent struct {
	index    core.VectorIndex
	store    core.SessionStore
	model    core.ChatModel
	primary  core.Embedder
	fallback core.Embedder
	prompts  *llm.PromptGenerator

	searchK       int
	historyRuns   int
	limits        Limits
	forceFallback bool
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithSearchK bounds retrieval result count.
func WithSearchK(k int) AgentOption {
	return func(a *Agent) {
		if k > 0 {
			a.searchK = k
		}
	}
}

// WithHistoryRuns sets how many query+response pairs are replayed.
func WithHistoryRuns(runs int) AgentOption {
	return func(a *Agent) {
		if runs > 0 {
			a.historyRuns = runs
		}
	}
}

// WithLimits overrides the context assembly budgets.
func WithLimits(limits Limits) AgentOption {
	return func(a *Agent) {
		a.limits = limits
	}
}

// WithPromptGenerator overrides the default prompt generator.
func WithPromptGenerator(pg *llm.PromptGenerator) AgentOption {
	return func(a *Agent) {
		if pg != nil {
			a.prompts = pg
		}
	}
}

// WithFallbackEmbedderOnly makes the agent embed queries with the
// fallback embedder directly, matching an index ingested the same way.
func WithFallbackEmbedderOnly(on bool) AgentOption {
	return func(a *Agent) {
		a.forceFallback = on
	}
}

// New wires an agent.
func New(idx core.VectorIndex, store core.SessionStore, model core.ChatModel, primary, fallback core.Embedder, opts ...AgentOption) *Agent {
	a := &Agent{
		index:       idx,
		store:       store,
		model:       model,
		primary:     primary,
		fallback:    fallback,
		prompts:     llm.NewPromptGenerator(),
		searchK:     DefaultSearchK,
		historyRuns: DefaultHistoryRuns,
		limits:      DefaultLimits,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes one turn. Retrieval and history fetch run concurrently;
// both degrade gracefully. Generation failure fails the turn and nothing
// is persisted; persistence failure is reported on the response without
// failing the turn. Cancelling ctx aborts before any session write.
func (a *Agent) Run(ctx context.Context, sessionID, query string, onDelta func(string)) (*Response, error) {
	resp := &Response{State: StateReceived}

	resp.State = StateRetrieving
	var (
		results       []core.SearchResult
		history       []core.Turn
		retrievalDown bool
		embedDown     bool
		historyDown   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, retrievalDown, embedDown = a.retrieve(gctx, query)
		return nil
	})
	g.Go(func() error {
		turns, err := a.store.Recent(gctx, sessionID, a.historyRuns*2)
		if err != nil {
			logger.Warn("History fetch failed for session %s, continuing without history: %v", sessionID, err)
			historyDown = true
			return nil
		}
		history = turns
		return nil
	})
	// Degradation is handled inside the goroutines; Wait only propagates
	// context cancellation.
	if err := g.Wait(); err != nil {
		resp.State = StateFailed
		return nil, err
	}
	resp.Degraded = retrievalDown || historyDown
	resp.DegradedEmbedding = embedDown
	if err := ctx.Err(); err != nil {
		resp.State = StateFailed
		return nil, err
	}

	resp.State = StateAssembling
	bundle := Assemble(results, history, a.limits)
	resp.Sources = bundle.Chunks

	resp.State = StateGenerating
	messages := a.prompts.BuildMessages(bundle, query)
	content, err := a.model.Complete(ctx, messages, onDelta)
	if err != nil {
		resp.State = StateFailed
		if !errors.Is(err, core.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %v", core.ErrGenerationFailed, err)
		}
		return nil, err
	}
	resp.Content = content

	if err := ctx.Err(); err != nil {
		// Cancelled after generation: hand nothing to the store so a
		// partial turn is never persisted.
		resp.State = StateFailed
		return nil, err
	}

	resp.State = StatePersisting
	resp.Persisted = true
	now := time.Now()
	userTurn := core.Turn{SessionID: sessionID, Role: core.RoleUser, Content: query, CreatedAt: now}
	assistantTurn := core.Turn{SessionID: sessionID, Role: core.RoleAssistant, Content: content, CreatedAt: now}

	if err := a.store.Append(ctx, userTurn); err != nil {
		resp.Persisted = false
		resp.PersistErr = fmt.Errorf("%w: %v", core.ErrPersistenceFailed, err)
	} else if err := a.store.Append(ctx, assistantTurn); err != nil {
		resp.Persisted = false
		resp.PersistErr = fmt.Errorf("%w: %v", core.ErrPersistenceFailed, err)
	}
	if resp.PersistErr != nil {
		logger.Warn("Session write failed for %s, returning unpersisted response: %v", sessionID, resp.PersistErr)
	}

	resp.State = StateComplete
	return resp, nil
}

// retrieve embeds the query and searches the index. Every failure path
// degrades to an empty result set with a warning; knowledge augmentation
// is best-effort, the turn is not.
func (a *Agent) retrieve(ctx context.Context, query string) (results []core.SearchResult, degraded, embedDegraded bool) {
	vector, embedDegraded, err := a.embedQuery(ctx, query)
	if err != nil {
		logger.Warn("Query embedding failed, searching by keywords only: %v", err)
		degraded = true
		vector = nil
	}

	results, err = a.index.Search(ctx, vector, query, a.searchK)
	if err != nil {
		logger.Warn("Vector search failed, continuing without retrieval: %v",
			fmt.Errorf("%w: %v", core.ErrIndexUnavailable, err))
		return nil, true, embedDegraded
	}
	return results, degraded, embedDegraded
}

// embedQuery tries the primary embedder and falls back on
// core.ErrEmbeddingUnavailable. The degraded flag reports that the
// fallback stood in for the primary.
func (a *Agent) embedQuery(ctx context.Context, query string) ([]float32, bool, error) {
	if a.forceFallback || a.primary == nil {
		vector, err := a.fallback.Embed(ctx, query)
		return vector, false, err
	}

	vector, err := a.primary.Embed(ctx, query)
	if err == nil {
		return vector, false, nil
	}
	if !errors.Is(err, core.ErrEmbeddingUnavailable) {
		return nil, false, err
	}

	logger.Warn("Primary embedder unavailable for query, using fallback: %v", err)
	vector, err = a.fallback.Embed(ctx, query)
	return vector, true, err
}
