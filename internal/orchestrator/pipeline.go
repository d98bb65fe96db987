package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/bus"
	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/enrich"
	"github.com/normanking/concierge/internal/llm"
	"github.com/normanking/concierge/internal/logging"
	"github.com/normanking/concierge/internal/metrics"
	"github.com/normanking/concierge/internal/models"
	"github.com/normanking/concierge/internal/persona"
	"github.com/normanking/concierge/internal/quality"
	"github.com/normanking/concierge/internal/router"
	"github.com/normanking/concierge/internal/tools"
	"github.com/normanking/concierge/internal/topic"
)

// DefaultUserID owns threads created without a user.
const DefaultUserID = "default"

// turn is the working state of one request.
type turn struct {
	id        string
	req       *Request
	emit      func(Event)
	start     time.Time
	logger    zerolog.Logger
	userID    string
	showTools bool

	res        *Result
	enrichment *enrich.Context
	routing    *topic.RoutingContext
	history    []*data.Message
	model      models.ModelConfig
	messages   []llm.Message
	tools      []llm.ToolDefinition
	toolUses   []metrics.ToolUse

	filter   persona.MarkerFilter
	streamed bool
}

func (t *turn) streaming() bool { return t.emit != nil }

func (t *turn) send(ev Event) {
	if t.emit != nil {
		t.emit(ev)
	}
}

func (t *turn) enter(s State) {
	t.res.States = append(t.res.States, s)
	t.logger.Debug().Str("state", s.String()).Msg("pipeline state")
}

// onDelta forwards provider deltas with hand-off markers held back.
func (t *turn) onDelta(delta string) {
	if visible := t.filter.Write(delta); visible != "" {
		t.streamed = true
		t.send(Event{Type: EventContent, Content: visible})
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// PIPELINE
// ═══════════════════════════════════════════════════════════════════════════════

// run drives one request through every state. emit is nil for blocking
// callers. The terminal done or error event is always emitted.
func (c *Coordinator) run(ctx context.Context, req *Request, emit func(Event)) (*Result, error) {
	t := &turn{
		id:     uuid.NewString(),
		req:    req,
		emit:   emit,
		start:  c.now(),
		res:    &Result{},
		logger: logging.From(ctx).With().Logger(),
	}
	t.enter(StateReceived)

	res, err := c.pipeline(ctx, t)
	if err != nil {
		return nil, c.fail(ctx, t, err)
	}
	return res, nil
}

func (c *Coordinator) pipeline(ctx context.Context, t *turn) (*Result, error) {
	req := t.req
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return nil, &Error{Code: CodeInvalidRequest, Message: "message cannot be empty"}
	}
	if req.ForceAgent != "" && !req.ForceAgent.Valid() {
		return nil, &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("unknown agent %q", req.ForceAgent)}
	}
	t.showTools = c.cfg.ShowTools
	if req.ShowTools != nil {
		t.showTools = *req.ShowTools
	}

	// 1. Thread
	if err := c.resolveThread(ctx, t); err != nil {
		return nil, err
	}
	t.logger = t.logger.With().Str("request_id", t.id).Str("thread_id", t.res.ThreadID).Logger()
	ctx = t.logger.WithContext(ctx)
	t.enter(StateThreadResolved)

	received := bus.NewEvent(bus.EventRequestReceived)
	received.RequestID = t.id
	received.ThreadID = t.res.ThreadID
	received.UserID = t.userID
	received.Content = truncate(req.Message, 200)
	c.publish(received)

	// 2. Context
	c.buildContext(ctx, t)
	t.enter(StateContextBuilt)

	// 3. Routing
	c.route(ctx, t)
	t.enter(StateRouted)
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	// 4. Model
	agent := t.res.Agent
	t.model = c.deps.Models.Resolve(agent)
	if !t.model.HasCredential() {
		err := models.MissingCredentialError(agent, t.model)
		return nil, &Error{Code: CodeMissingCredential, Message: err.Error(), Err: err}
	}
	t.enter(StateModelResolved)
	t.send(Event{Type: EventAgentStart, Agent: agent})

	started := bus.NewEvent(bus.EventAgentStarted)
	started.RequestID = t.id
	started.ThreadID = t.res.ThreadID
	started.Agent = agent.String()
	started.Model = t.model.Model
	started.Provider = t.model.Provider
	c.publish(started)

	// 5. Prompt
	c.buildPrompt(t)
	t.enter(StatePromptBuilt)

	// 6. Provider call and tool round
	raw, err := c.answer(ctx, t)
	if err != nil {
		return nil, err
	}

	// 7. Finalize
	c.finalize(ctx, t, raw)
	t.enter(StateResponseFinalized)

	// 8. Persist
	c.persist(ctx, t)
	t.enter(StatePersisted)

	// 9. Telemetry
	c.recordTelemetry(ctx, t, true)
	t.enter(StateTelemetryLogged)

	// 10. Topic
	if _, err := c.deps.Topics.Update(ctx, t.res.ThreadID, agent, t.res.Routing.Input, t.routing.Context); err != nil {
		t.logger.Warn().Err(err).Msg("topic update failed")
	}
	t.enter(StateTopicUpdated)

	t.res.Duration = c.now().Sub(t.start)
	t.enter(StateDone)

	completed := bus.NewEvent(bus.EventResponseCompleted)
	completed.RequestID = t.id
	completed.ThreadID = t.res.ThreadID
	completed.Agent = agent.String()
	completed.Success = true
	completed.DurationMs = t.res.Duration.Milliseconds()
	completed.Model = t.model.Model
	completed.Provider = t.model.Provider
	completed.Count = len(t.res.ToolCalls)
	c.publish(completed)

	t.send(Event{
		Type:       EventDone,
		Content:    t.res.Content,
		Agent:      agent,
		ThreadID:   t.res.ThreadID,
		Suggestion: t.res.Suggestion,
	})

	c.startBackground(ctx, t)

	t.logger.Info().
		Str("agent", agent.String()).
		Str("source", t.res.Routing.Source.String()).
		Str("model", t.model.String()).
		Int("tools", len(t.res.ToolCalls)).
		Bool("wrapped", t.res.Wrapped).
		Dur("duration", t.res.Duration).
		Msg("request completed")

	return t.res, nil
}

// fail converts err to an *Error, emits the error event and records the
// failure. It returns the *Error.
func (c *Coordinator) fail(ctx context.Context, t *turn, err error) *Error {
	e := AsError(err)
	if ctx.Err() != nil && e.Code == CodeProviderError {
		e = cancelled(ctx.Err())
	}
	t.enter(StateError)
	t.logger.Warn().Err(e).Str("code", string(e.Code)).Bool("recoverable", e.Recoverable).Msg("request failed")

	t.send(Event{Type: EventError, Message: e.Message, Recoverable: e.Recoverable})

	ev := bus.NewEvent(bus.EventRequestFailed)
	ev.RequestID = t.id
	ev.ThreadID = t.res.ThreadID
	ev.Agent = t.res.Agent.String()
	ev.Error = e.Message
	ev.Details = string(e.Code)
	ev.DurationMs = c.now().Sub(t.start).Milliseconds()
	c.publish(ev)

	if t.res.Routing != nil {
		c.recordTelemetry(ctx, t, false)
	}
	return e
}

func cancelled(err error) *Error {
	return &Error{Code: CodeCancelled, Message: "request cancelled", Recoverable: true, Err: err}
}

// ═══════════════════════════════════════════════════════════════════════════════
// THREAD AND CONTEXT
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Coordinator) resolveThread(ctx context.Context, t *turn) error {
	userID := t.req.UserID
	if userID == "" {
		userID = DefaultUserID
	}

	thread, created, err := c.deps.Store.EnsureThread(ctx, t.req.ThreadID, userID)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return &Error{Code: CodePersistenceError, Message: "could not resolve thread", Recoverable: true, Err: err}
	}
	// A caller without an identity continues the thread as its owner. A
	// caller naming another user may not read the owner's memories.
	if t.req.UserID != "" && thread.UserID != "" && thread.UserID != t.req.UserID {
		t.logger.Warn().
			Str("thread_id", thread.ID).
			Str("user_id", t.req.UserID).
			Str("owner", thread.UserID).
			Msg("thread belongs to another user")
		return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("thread %s belongs to another user", thread.ID)}
	}
	t.res.ThreadID = thread.ID
	t.res.ThreadCreated = created
	t.userID = userID
	if thread.UserID != "" {
		t.userID = thread.UserID
	}

	if created {
		t.send(Event{Type: EventThreadCreated, ThreadID: thread.ID})
		ev := bus.NewEvent(bus.EventThreadCreated)
		ev.RequestID = t.id
		ev.ThreadID = thread.ID
		ev.UserID = t.userID
		c.publish(ev)
	}
	return nil
}

// buildContext gathers enrichment, topic state and history concurrently.
// Each part degrades to empty on failure. Implicit feedback on the previous
// answer is detected here too since it needs the same look-ups.
func (c *Coordinator) buildContext(ctx context.Context, t *turn) {
	var g errgroup.Group
	threadID := t.res.ThreadID

	if c.deps.Context != nil {
		g.Go(func() error {
			t.enrichment = c.deps.Context.Build(ctx, t.userID, t.req.Message)
			return nil
		})
	}

	g.Go(func() error {
		rc, err := c.deps.Topics.GetRoutingContext(ctx, threadID, t.req.Message)
		if err != nil {
			t.logger.Warn().Err(err).Msg("topic context unavailable")
			rc = &topic.RoutingContext{Context: &topic.Context{}}
		}
		t.routing = rc
		return nil
	})

	if !t.res.ThreadCreated {
		g.Go(func() error {
			msgs, err := c.deps.Store.RecentMessages(ctx, threadID, c.cfg.HistoryLimit)
			if err != nil {
				t.logger.Warn().Err(err).Msg("history unavailable")
				return nil
			}
			t.history = msgs
			return nil
		})

		if c.deps.Quality != nil {
			g.Go(func() error {
				c.detectFeedback(ctx, t)
				return nil
			})
		}
	}

	_ = g.Wait()
}

// detectFeedback reads the last answer on the thread and scores how the new
// message reacts to it.
func (c *Coordinator) detectFeedback(ctx context.Context, t *turn) {
	prev, err := c.deps.Store.LastAssistantMessage(ctx, t.res.ThreadID)
	if err != nil {
		if !errors.Is(err, data.ErrNotFound) {
			t.logger.Debug().Err(err).Msg("previous answer unavailable for feedback")
		}
		return
	}
	agent, ok := agents.Parse(prev.Agent)
	if !ok {
		return
	}

	signal := quality.DetectImplicitFeedback(t.req.Message, prev.Content, c.now().Sub(prev.CreatedAt), c.cfg.FollowupWindow)
	if signal == nil {
		return
	}
	signal.Timestamp = c.now()
	applied := c.deps.Quality.ApplyFeedback(agent, signal)
	t.logger.Debug().
		Str("agent", agent.String()).
		Str("signal", string(signal.Signal)).
		Str("source", string(signal.Source)).
		Float64("strength", signal.Strength).
		Bool("applied", applied).
		Msg("implicit feedback detected")

	ev := bus.NewEvent(bus.EventFeedbackApplied)
	ev.RequestID = t.id
	ev.ThreadID = t.res.ThreadID
	ev.Agent = agent.String()
	ev.Score = signal.Direction()
	ev.Details = string(signal.Source)
	ev.Content = signal.Evidence
	ev.Success = applied
	c.publish(ev)
}

// ═══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Coordinator) route(ctx context.Context, t *turn) {
	d := c.deps.Router.Route(ctx, t.req.Message, router.Options{
		Topic:      t.routing.Context,
		ForceAgent: t.req.ForceAgent,
	})
	if strings.TrimSpace(d.Input) == "" {
		d.Input = t.req.Message
	}
	t.res.Routing = d
	t.res.Agent = d.Agent
	t.logger = t.logger.With().Str("agent", d.Agent.String()).Logger()

	t.send(Event{Type: EventRouting, Decision: d})

	ev := bus.NewEvent(bus.EventRouted)
	ev.RequestID = t.id
	ev.ThreadID = t.res.ThreadID
	ev.Agent = d.Agent.String()
	ev.Source = d.Source.String()
	ev.Confidence = d.Confidence
	ev.Details = d.Rationale
	ev.DurationMs = d.Duration.Milliseconds()
	c.publish(ev)
}

// ═══════════════════════════════════════════════════════════════════════════════
// PROVIDER CALLS
// ═══════════════════════════════════════════════════════════════════════════════

// answer runs the completion and, when the model asks for tools, the tool
// round and the follow-up completion. It returns the raw answer text.
func (c *Coordinator) answer(ctx context.Context, t *turn) (string, error) {
	req := &llm.Request{
		Messages:    t.messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: llm.Temperature(c.cfg.Temperature),
	}
	if len(t.tools) > 0 {
		req.Tools = t.tools
		req.ToolChoice = llm.ToolChoiceAuto
	}

	resp, err := c.complete(ctx, t, req)
	if err != nil {
		return "", err
	}
	if !resp.HasToolCalls() || c.deps.Tools == nil {
		return resp.Content, nil
	}

	t.enter(StateToolLoop)
	followup := append(append([]llm.Message(nil), t.messages...), llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	followup = append(followup, c.runTools(ctx, t, resp.ToolCalls)...)

	final, err := c.complete(ctx, t, &llm.Request{
		Messages:    followup,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: llm.Temperature(c.cfg.Temperature),
	})
	if err != nil {
		return "", err
	}
	return final.Content, nil
}

// complete makes one provider call. A recoverable failure moves on to the
// agent's next available model, as long as nothing has been streamed yet.
func (c *Coordinator) complete(ctx context.Context, t *turn, req *llm.Request) (*llm.Response, error) {
	candidates := c.candidates(t)

	var lastErr error
	for i, mc := range candidates {
		req.Model = mc.Model
		client := c.deps.LLM(mc)

		var resp *llm.Response
		var err error
		if t.streaming() {
			resp, err = client.Stream(ctx, req, t.onDelta)
		} else {
			resp, err = client.Complete(ctx, req)
		}
		if err == nil {
			if i > 0 {
				t.model = mc
				t.res.FallbackUsed = true
			}
			t.res.Provider = mc.Provider
			t.res.Model = mc.Model
			return resp, nil
		}

		lastErr = err
		code := tools.Classify(err)
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		if t.streamed || !code.Recoverable() || i == len(candidates)-1 {
			break
		}

		next := candidates[i+1]
		t.logger.Warn().
			Err(err).
			Str("model", mc.String()).
			Str("next", next.String()).
			Str("code", string(code)).
			Msg("provider call failed, trying next model")

		ev := bus.NewEvent(bus.EventModelFallback)
		ev.RequestID = t.id
		ev.ThreadID = t.res.ThreadID
		ev.Agent = t.res.Agent.String()
		ev.Model = next.Model
		ev.Provider = next.Provider
		ev.Error = err.Error()
		ev.Details = mc.String()
		c.publish(ev)
	}

	code := tools.Classify(lastErr)
	return nil, &Error{
		Code:        CodeProviderError,
		Message:     fmt.Sprintf("the %s model could not answer: %v", t.res.Agent, lastErr),
		Recoverable: code.Recoverable(),
		Err:         lastErr,
	}
}

// candidates lists the resolved model followed by the rest of the agent's
// available chain.
func (c *Coordinator) candidates(t *turn) []models.ModelConfig {
	out := []models.ModelConfig{t.model}
	for _, mc := range c.deps.Models.AvailableModels(t.res.Agent) {
		if mc.Provider == t.model.Provider && mc.Model == t.model.Model {
			continue
		}
		out = append(out, mc)
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════
// TOOLS
// ═══════════════════════════════════════════════════════════════════════════════

// runTools executes the requested calls concurrently and returns the tool
// messages in call order.
func (c *Coordinator) runTools(ctx context.Context, t *turn, calls []llm.ToolCall) []llm.Message {
	agent := t.res.Agent
	results := make([]*tools.Result, len(calls))
	args := make([]map[string]any, len(calls))

	var exec []tools.Call
	var execIdx []int
	for i, tc := range calls {
		if tc.ID == "" {
			calls[i].ID = uuid.NewString()
			tc.ID = calls[i].ID
		}
		a, err := tc.Args()
		if err != nil {
			args[i] = map[string]any{}
			results[i] = &tools.Result{
				Message: fmt.Sprintf("%s was not run: %v", tc.Name, err),
				Error:   &tools.ErrorInfo{Code: tools.ErrValidation, Details: err.Error()},
				Meta:    tools.Meta{Source: agent.String()},
			}
		} else {
			args[i] = a
			exec = append(exec, tools.Call{ID: tc.ID, Name: tc.Name, Args: a})
			execIdx = append(execIdx, i)
		}
		if t.showTools {
			t.send(Event{Type: EventToolStart, Tool: tc.Name, ToolID: tc.ID, Args: args[i]})
		}
	}

	started := c.now()
	for j, r := range c.deps.Tools.ExecuteAll(ctx, agent, exec, t.userID) {
		results[execIdx[j]] = r
	}

	msgs := make([]llm.Message, 0, len(calls))
	for i, tc := range calls {
		r := results[i]
		dur := time.Duration(r.Meta.DurationMs) * time.Millisecond

		t.res.ToolCalls = append(t.res.ToolCalls, ToolCall{
			ID:        tc.ID,
			Tool:      tc.Name,
			Args:      args[i],
			Result:    r,
			Success:   r.Success,
			Duration:  dur,
			Timestamp: started,
		})
		t.toolUses = append(t.toolUses, metrics.ToolUse{Name: tc.Name, Success: r.Success, Duration: dur})

		if t.showTools {
			t.send(Event{Type: EventToolEnd, Tool: tc.Name, ToolID: tc.ID, Success: r.Success, Result: r, Duration: dur})
		}

		ev := bus.NewEvent(bus.EventToolExecuted)
		ev.RequestID = t.id
		ev.ThreadID = t.res.ThreadID
		ev.Agent = agent.String()
		ev.Tool = tc.Name
		ev.Success = r.Success
		ev.DurationMs = r.Meta.DurationMs
		if r.Error != nil {
			ev.Error = r.Error.Details
			ev.Details = string(r.Error.Code)
		}
		c.publish(ev)

		msgs = append(msgs, llm.Message{
			Role:       llm.RoleTool,
			Content:    r.ModelContent(),
			ToolCallID: tc.ID,
			Name:       tc.Name,
		})
	}
	return msgs
}

// ═══════════════════════════════════════════════════════════════════════════════
// FINALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

// finalize strips hand-off markers, applies the unified voice and appends
// any switch-back suggestion.
func (c *Coordinator) finalize(ctx context.Context, t *turn, raw string) {
	agent := t.res.Agent

	if t.streaming() {
		if rest := t.filter.Flush(); rest != "" {
			t.send(Event{Type: EventContent, Content: rest})
		}
	}

	handoff, content := persona.DetectHandoff(raw)
	if handoff != nil {
		handoff.From = agent
		t.res.Handoff = handoff
		t.send(Event{Type: EventHandoff, Handoff: handoff})

		ev := bus.NewEvent(bus.EventHandoff)
		ev.RequestID = t.id
		ev.ThreadID = t.res.ThreadID
		ev.FromAgent = agent.String()
		ev.Agent = handoff.To.String()
		ev.Details = handoff.Reason
		c.publish(ev)

		if content == "" {
			content = fmt.Sprintf("This is better handled by the %s agent.", handoff.To)
		}
	}

	if c.cfg.VoiceWrapping && c.deps.Wrapper != nil {
		wrapped := c.deps.Wrapper.Wrap(ctx, agent, content)
		t.res.Wrapped = wrapped != content
		content = wrapped
	}

	t.res.Suggestion = c.switchBack(t)
	if s := t.res.Suggestion; s != nil {
		content = strings.TrimRight(content, "\n") + "\n\n" + s.Message
		if t.streaming() {
			t.send(Event{Type: EventContent, Content: "\n\n" + s.Message})
		}
	}
	t.res.Content = content
}

// switchBack decides whether to offer a return to an interrupted task. No
// suggestion is made while the conversation is moving between specialists or
// when it is already back on the interrupted one.
func (c *Coordinator) switchBack(t *turn) *topic.Suggestion {
	rc := t.routing
	tc := rc.Context
	agent := t.res.Agent

	switching := rc.Switch.Switched || (!tc.IsEmpty() && topic.IsAgentSwitch(tc.LastAgent, agent))
	s := c.deps.Topics.CheckSwitchBackSuggestion(tc, switching)
	if s == nil || s.Agent == agent {
		return nil
	}
	return s
}

// ═══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE AND TELEMETRY
// ═══════════════════════════════════════════════════════════════════════════════

// persist stores both sides of the turn. The reply has already been produced,
// so failures are logged rather than returned.
func (c *Coordinator) persist(ctx context.Context, t *turn) {
	ctx = logging.DetachContext(ctx)

	user := &data.Message{ThreadID: t.res.ThreadID, Role: data.RoleUser, Content: t.req.Message}
	if err := c.deps.Store.AppendMessage(ctx, user); err != nil {
		t.logger.Error().Err(err).Msg("failed to persist user message")
		return
	}
	reply := &data.Message{
		ThreadID: t.res.ThreadID,
		Role:     data.RoleAssistant,
		Content:  t.res.Content,
		Agent:    t.res.Agent.String(),
	}
	if err := c.deps.Store.AppendMessage(ctx, reply); err != nil {
		t.logger.Error().Err(err).Msg("failed to persist assistant message")
	}
}

func (c *Coordinator) recordTelemetry(ctx context.Context, t *turn, success bool) {
	if c.deps.Metrics == nil {
		return
	}
	d := t.res.Routing
	err := c.deps.Metrics.Record(logging.DetachContext(ctx), metrics.Turn{
		ThreadID:     t.res.ThreadID,
		Agent:        d.Agent.String(),
		Source:       d.Source.String(),
		Confidence:   d.Confidence,
		Latency:      c.now().Sub(t.start),
		Tools:        t.toolUses,
		FallbackUsed: t.res.FallbackUsed,
		Provider:     t.model.Provider,
		Model:        t.model.Model,
		Success:      success,
	})
	if err != nil {
		t.logger.Warn().Err(err).Msg("telemetry not recorded")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
