package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bazaar-it/bazaar-sub000/internal/client"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
)

// Planner maps a user request and its context to operations, executed in
// the returned order. A request whose scope cannot be resolved yields a
// *model.AmbiguousRequestError.
type Planner interface {
	Plan(ctx context.Context, gc *GenerationContext) ([]model.Operation, error)
}

// CachingPlanner returns the cached plan for identical planning input so a
// non-deterministic model cannot give two answers to the same question.
type CachingPlanner struct {
	next   Planner
	cache  *store.PlanCache
	logger *slog.Logger
}

// NewCachingPlanner creates a new CachingPlanner
func NewCachingPlanner(next Planner, cache *store.PlanCache, logger *slog.Logger) *CachingPlanner {
	return &CachingPlanner{next: next, cache: cache, logger: logger}
}

// Plan implements Planner.
func (p *CachingPlanner) Plan(ctx context.Context, gc *GenerationContext) ([]model.Operation, error) {
	fp := gc.Fingerprint()
	if ops, ok, err := p.cache.Get(ctx, gc.ProjectID, fp); err != nil {
		p.logger.Warn("plan cache read failed", "project_id", gc.ProjectID, "error", err)
	} else if ok {
		return ops, nil
	}

	ops, err := p.next.Plan(ctx, gc)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Put(ctx, gc.ProjectID, fp, ops); err != nil {
		p.logger.Warn("plan cache write failed", "project_id", gc.ProjectID, "error", err)
	}
	return ops, nil
}

// FallbackPlanner asks the model first and falls back to the rule planner
// when the model is unavailable or its output does not validate.
// Clarification requests from the model are passed through.
type FallbackPlanner struct {
	primary  Planner
	fallback Planner
	logger   *slog.Logger
}

// NewFallbackPlanner creates a new FallbackPlanner
func NewFallbackPlanner(primary, fallback Planner, logger *slog.Logger) *FallbackPlanner {
	return &FallbackPlanner{primary: primary, fallback: fallback, logger: logger}
}

// Plan implements Planner.
func (p *FallbackPlanner) Plan(ctx context.Context, gc *GenerationContext) ([]model.Operation, error) {
	ops, err := p.primary.Plan(ctx, gc)
	if err == nil || errors.Is(err, model.ErrAmbiguousRequest) {
		return ops, err
	}
	if !errors.Is(err, client.ErrNotConfigured) {
		p.logger.Warn("model planner failed, using rules", "project_id", gc.ProjectID, "error", err)
	}
	return p.fallback.Plan(ctx, gc)
}

const plannerSystemPrompt = `You plan edits to an ordered list of video scenes.
Reply with one JSON object and nothing else:
{"operations": [Operation, ...], "clarification": ""}

Operation: {"type": T, "target": Filter, "params": Params}
T is one of: add, edit, delete, paste, adjust_duration, reorder, rename, batch.
Filter is one of:
  {"kind": "id", "sceneId": "<id from the scene list>"}
  {"kind": "nth", "index": <zero-based, -1 for last>}
  {"kind": "all"}
  {"kind": "range", "from": <zero-based>, "to": <zero-based>}
  {"kind": "contains_text", "text": "..."}
  {"kind": "duration", "comparator": "gt|gte|lt|lte|eq", "duration": <frames>}
  {"kind": "color", "color": "#rrggbb"}
Params: {"prompt": "...", "name": "...", "duration": <frames>, "position": <zero-based>, "action": "edit|delete|adjust_duration|rename"}

Rules:
- Durations are frames at %d fps. 5 seconds is %d frames.
- add takes no target; it needs params.prompt, and params.position places it (omit to append).
- edit needs a single-scene target and params.prompt.
- delete, paste, adjust_duration, reorder, rename need a single-scene target (id or nth).
- A request about several scenes ("all scenes", "scenes longer than ...") is ONE batch operation
  with params.action and a filter target. Never list scenes one by one.
- If the request refers to a scene you cannot identify, return no operations and put a short
  question in "clarification".`

type plannerResponse struct {
	Operations    []model.Operation `json:"operations" validate:"dive"`
	Clarification string            `json:"clarification"`
}

// LLMPlanner plans with a chat-completion model. Every emitted operation is
// validated before it is accepted.
type LLMPlanner struct {
	chat     client.ChatClient
	validate *validator.Validate
	fps      int
}

// NewLLMPlanner creates a new LLMPlanner
func NewLLMPlanner(chat client.ChatClient, validate *validator.Validate, fps int) *LLMPlanner {
	if fps <= 0 {
		fps = model.FramesPerSecond
	}
	return &LLMPlanner{chat: chat, validate: validate, fps: fps}
}

// Plan implements Planner.
func (p *LLMPlanner) Plan(ctx context.Context, gc *GenerationContext) ([]model.Operation, error) {
	if p.chat == nil || !p.chat.IsConfigured() {
		return nil, client.ErrNotConfigured
	}

	system := fmt.Sprintf(plannerSystemPrompt, p.fps, 5*p.fps)
	raw, err := p.chat.ChatCompletion(ctx, system, renderPlanningInput(gc),
		client.WithTemperature(0), client.WithJSONResponse())
	if err != nil {
		return nil, fmt.Errorf("planner completion: %w", err)
	}
	return p.parse(raw, gc)
}

func (p *LLMPlanner) parse(raw string, gc *GenerationContext) ([]model.Operation, error) {
	var resp plannerResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("invalid planner JSON: %w", err)
	}
	if q := strings.TrimSpace(resp.Clarification); q != "" && len(resp.Operations) == 0 {
		return nil, &model.AmbiguousRequestError{Question: q}
	}
	if len(resp.Operations) == 0 {
		return nil, fmt.Errorf("planner returned no operations")
	}
	if err := p.validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("planner output failed validation: %w", err)
	}
	for i := range resp.Operations {
		op := &resp.Operations[i]
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		switch {
		case op.Type == model.OpAdd:
			op.Target = model.SceneFilter{}
		case op.Target.Kind == model.FilterID && model.FindScene(gc.Scenes, op.Target.SceneID) < 0:
			return nil, fmt.Errorf("operation %d targets unknown scene %s", i, op.Target.SceneID)
		case op.Target.Kind == model.FilterNth:
			target, err := pinPosition(gc.Scenes, *op.Target.Index)
			if err != nil {
				return nil, err
			}
			op.Target = target
		}
	}
	return resp.Operations, nil
}

// pinPosition turns a position into the id of the scene it names in the
// planning snapshot, so later steps of the plan cannot shift it.
func pinPosition(scenes []model.Scene, index int) (model.SceneFilter, error) {
	i := index
	if i < 0 {
		i += len(scenes)
	}
	if i < 0 || i >= len(scenes) {
		return model.SceneFilter{}, &model.AmbiguousRequestError{
			Question: fmt.Sprintf("The project has %d scenes. Which one do you mean?", len(scenes)),
		}
	}
	return model.SceneByID(scenes[i].ID), nil
}

func renderPlanningInput(gc *GenerationContext) string {
	var b strings.Builder
	if len(gc.Scenes) == 0 {
		b.WriteString("The project has no scenes.\n")
	} else {
		b.WriteString("Scenes in order:\n")
		for _, s := range gc.Scenes {
			fmt.Fprintf(&b, "%d. id=%s name=%q duration=%d\n", s.OrderIndex, s.ID, s.Name, s.EffectiveDuration())
		}
	}
	if sel, ok := gc.SelectedScene(); ok {
		fmt.Fprintf(&b, "Selected scene: id=%s (position %d)\n", sel.ID, sel.OrderIndex)
	}
	if gc.Style != nil && len(gc.Style.Palette) > 0 {
		b.WriteString("Palette: " + strings.Join(gc.Style.Palette, ", ") + "\n")
	}
	b.WriteString("Request: " + gc.Trigger.Text)
	return b.String()
}

var jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(s string) string {
	if m := jsonBlockPattern.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	// Find the first { and last }
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}
