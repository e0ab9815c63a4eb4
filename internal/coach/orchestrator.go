package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/runcoach/internal/llm"
	"github.com/ent0n29/runcoach/internal/logging"
	"github.com/ent0n29/runcoach/internal/memory"
	"github.com/ent0n29/runcoach/internal/observability"
	"github.com/ent0n29/runcoach/internal/plan"
	"github.com/ent0n29/runcoach/internal/policy"
	"github.com/ent0n29/runcoach/internal/reliability"
	"github.com/ent0n29/runcoach/internal/store"
	"github.com/ent0n29/runcoach/internal/versioning"
)

const (
	DefaultTimeout     = 90 * time.Second
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.3

	// FallbackReply is used when a plan arrives without any explanation.
	FallbackReply = "I've updated your training plan."

	logPreviewRunes = 160
)

// ErrEmptyMessage rejects a turn with no user text.
var ErrEmptyMessage = errors.New("message is required")

// Config tunes a turn. Zero values fall back to the defaults.
type Config struct {
	SystemPrompt string
	HistoryLimit int
	Timeout      time.Duration
	MaxTokens    int
	// Temperature is nil for DefaultTemperature. Zero is a valid setting.
	Temperature  *float64
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = memory.DefaultContextLimit
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	return c
}

// TurnResult is what the caller shows the user after a turn.
type TurnResult struct {
	Reply       string         `json:"reply"`
	PlanUpdated bool           `json:"plan_updated"`
	Plan        *plan.Document `json:"plan,omitempty"`
	Version     int            `json:"version,omitempty"`
}

// Orchestrator runs one conversational turn end to end.
type Orchestrator struct {
	messages  store.MessageStore
	versions  *versioning.Manager
	filter    *memory.Filter
	generator llm.Generator
	metrics   *observability.Metrics
	cfg       Config
	log       zerolog.Logger
}

func NewOrchestrator(
	messages store.MessageStore,
	versions *versioning.Manager,
	filter *memory.Filter,
	generator llm.Generator,
	metrics *observability.Metrics,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		messages:  messages,
		versions:  versions,
		filter:    filter,
		generator: generator,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		log:       logging.Component("coach"),
	}
}

// HandleTurn processes one user message. Generation, parsing, validation and
// commit failures are reported through a friendly reply with
// PlanUpdated=false; only storage failures and cancellation of ctx return an
// error.
func (o *Orchestrator) HandleTurn(ctx context.Context, clientID, userText string) (TurnResult, error) {
	return o.HandleTurnStream(ctx, clientID, userText, nil)
}

// HandleTurnStream is HandleTurn with the explanation part of the reply
// streamed to onReplyDelta as it is generated. Plan JSON is never streamed.
func (o *Orchestrator) HandleTurnStream(ctx context.Context, clientID, userText string, onReplyDelta llm.DeltaHandler) (TurnResult, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return TurnResult{}, errors.New("client id is required")
	}
	if strings.TrimSpace(userText) == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	turnStart := time.Now()
	log := o.log.With().Str("client_id", clientID).Logger()

	stageStart := time.Now()
	if _, err := o.messages.AppendMessage(ctx, clientID, store.RoleUser, userText); err != nil {
		return TurnResult{}, fmt.Errorf("append user message: %w", err)
	}
	o.metrics.ObserveTurnStage(observability.StageUserAppend, time.Since(stageStart))

	stageStart = time.Now()
	current, hasPlan, err := o.versions.GetCurrent(ctx, clientID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load current plan: %w", err)
	}
	o.metrics.ObserveTurnStage(observability.StagePlanContext, time.Since(stageStart))

	stageStart = time.Now()
	history, err := o.filter.Select(ctx, clientID, o.cfg.HistoryLimit+1)
	if err != nil {
		return TurnResult{}, fmt.Errorf("select history: %w", err)
	}
	history = dropTrailingUser(history, userText)
	if len(history) > o.cfg.HistoryLimit {
		history = history[len(history)-o.cfg.HistoryLimit:]
	}
	o.metrics.ObserveTurnStage(observability.StageHistory, time.Since(stageStart))

	req := o.buildRequest(current, hasPlan, history, userText)
	log.Debug().
		Int("context_messages", len(req.Messages)).
		Int("history", len(history)).
		Bool("plan_context", hasPlan).
		Msg("generating reply")

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	var gate *replyGate
	var onDelta llm.DeltaHandler
	if onReplyDelta != nil {
		gate = &replyGate{out: onReplyDelta}
		onDelta = gate.Write
	}
	stageStart = time.Now()
	resp, genErr := o.generator.Generate(genCtx, req, onDelta)
	cancel()
	o.metrics.ObserveGeneration(time.Since(stageStart))
	o.metrics.ObserveTurnStage(observability.StageGenerate, time.Since(stageStart))
	if genErr == nil && gate != nil {
		genErr = gate.Flush()
	}

	if ctx.Err() != nil {
		// The caller gave up; the user message stays, nothing is committed.
		o.metrics.ObserveTurn("cancelled")
		return TurnResult{}, ctx.Err()
	}
	if genErr != nil {
		return o.fail(ctx, log, clientID, genErr, turnStart)
	}

	ex := plan.Extract(resp.Text)
	if ex.Payload == nil {
		if ex.Expected {
			return o.fail(ctx, log, clientID, fmt.Errorf("%w: reply announced a plan without a payload", plan.ErrMalformedPayload), turnStart)
		}
		if err := o.appendReply(ctx, clientID, resp.Text); err != nil {
			return TurnResult{}, err
		}
		o.finish("conversational", turnStart)
		log.Info().Str("reply_preview", preview(resp.Text)).Msg("conversational turn")
		return TurnResult{Reply: resp.Text}, nil
	}

	doc, err := plan.Parse(ex.Payload)
	if err != nil {
		log.Warn().Err(err).Str("payload_preview", preview(string(ex.Payload))).Msg("plan payload rejected")
		return o.fail(ctx, log, clientID, err, turnStart)
	}

	var prev *plan.Document
	if hasPlan {
		prev = &current.Plan
	}
	changes := plan.Compare(prev, &doc)

	stageStart = time.Now()
	committed, err := o.versions.Commit(ctx, clientID, doc)
	if err != nil {
		if ctx.Err() != nil {
			o.metrics.ObserveTurn("cancelled")
			return TurnResult{}, ctx.Err()
		}
		return o.fail(ctx, log, clientID, err, turnStart)
	}
	o.metrics.ObserveTurnStage(observability.StageCommit, time.Since(stageStart))
	log.Info().
		Int("version", committed.Version).
		Strs("changes", changes.Summary).
		Str("plan", plan.Summary(&committed.Plan)).
		Msg("plan committed")

	reply := strings.TrimSpace(ex.Reply)
	if reply == "" {
		reply = FallbackReply
	}
	stored := resp.Text
	if strings.TrimSpace(ex.Reply) == "" {
		stored = reply + "\n\n" + resp.Text
	}
	if err := o.appendReply(ctx, clientID, stored); err != nil {
		return TurnResult{}, err
	}
	o.finish("plan_updated", turnStart)

	return TurnResult{
		Reply:       reply,
		PlanUpdated: true,
		Plan:        &committed.Plan,
		Version:     committed.Version,
	}, nil
}

func (o *Orchestrator) buildRequest(current store.PlanVersion, hasPlan bool, history []store.Message, userText string) llm.Request {
	msgs := make([]llm.Message, 0, len(history)+3)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: o.cfg.SystemPrompt})
	if hasPlan {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: planContext(current)})
	}
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == store.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
	return llm.Request{
		Messages:    msgs,
		Temperature: *o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}
}

// fail stores the friendly failure reply for err and reports the turn as not
// updating the plan.
func (o *Orchestrator) fail(ctx context.Context, log zerolog.Logger, clientID string, cause error, turnStart time.Time) (TurnResult, error) {
	kind := reliability.Classify(cause)
	log.Warn().Err(cause).Str("failure", string(kind)).Msg("turn failed")

	reply := reliability.FriendlyReply(kind)
	if err := o.appendReply(ctx, clientID, reply); err != nil {
		return TurnResult{}, err
	}
	o.metrics.ObserveTurnIndicator("failed_" + string(kind))
	o.finish("failed", turnStart)
	return TurnResult{Reply: reply}, nil
}

func (o *Orchestrator) appendReply(ctx context.Context, clientID, content string) error {
	stageStart := time.Now()
	if _, err := o.messages.AppendMessage(ctx, clientID, store.RoleAssistant, content); err != nil {
		return fmt.Errorf("append assistant reply: %w", err)
	}
	o.metrics.ObserveTurnStage(observability.StageReplyAppend, time.Since(stageStart))
	return nil
}

func (o *Orchestrator) finish(outcome string, turnStart time.Time) {
	o.metrics.ObserveTurn(outcome)
	o.metrics.ObserveTurnIndicator(outcome)
	o.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(turnStart))
}

// dropTrailingUser removes the message appended at the start of this turn so
// it is sent once, as the final request message.
func dropTrailingUser(history []store.Message, userText string) []store.Message {
	n := len(history)
	if n == 0 {
		return history
	}
	last := history[n-1]
	if last.Role == store.RoleUser && last.Content == userText {
		return history[:n-1]
	}
	return history
}

func preview(s string) string {
	s, _ = policy.RedactPII(strings.TrimSpace(s))
	r := []rune(s)
	if len(r) <= logPreviewRunes {
		return s
	}
	return string(r[:logPreviewRunes]) + "..."
}
