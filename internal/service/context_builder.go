package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
)

// Trigger is the user input that starts a turn.
type Trigger struct {
	Text            string
	SelectedSceneID string
}

// StyleSummary is derived from one project's own scenes.
type StyleSummary struct {
	Palette         []string `json:"palette"`
	Fonts           []string `json:"fonts"`
	AverageDuration int      `json:"averageDuration"`
	SceneCount      int      `json:"sceneCount"`
}

// GenerationContext is the bounded input handed to the planner.
//
// Scenes is the project's full ordered list so targets resolve against real
// positions; only the last RecentLimit scenes contribute content to prompts.
// Style is nil when the project has no scenes.
type GenerationContext struct {
	ProjectID   string
	Scenes      []model.Scene
	Style       *StyleSummary
	Trigger     Trigger
	RecentLimit int
}

// Recent returns the scenes whose content may be shown to a model.
func (c *GenerationContext) Recent() []model.Scene {
	if c.RecentLimit <= 0 || len(c.Scenes) <= c.RecentLimit {
		return c.Scenes
	}
	return c.Scenes[len(c.Scenes)-c.RecentLimit:]
}

// SelectedScene returns the selected scene when it belongs to the project.
func (c *GenerationContext) SelectedScene() (model.Scene, bool) {
	if c.Trigger.SelectedSceneID == "" {
		return model.Scene{}, false
	}
	i := model.FindScene(c.Scenes, c.Trigger.SelectedSceneID)
	if i < 0 {
		return model.Scene{}, false
	}
	return c.Scenes[i], true
}

// Fingerprint identifies the planning input: identical text, selection and
// scene state give the same fingerprint.
func (c *GenerationContext) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", strings.ToLower(strings.TrimSpace(c.Trigger.Text)), c.Trigger.SelectedSceneID)
	for _, s := range c.Scenes {
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s\x00%s\x00", s.ID, s.OrderIndex, s.EffectiveDuration(), s.Name, s.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ContextBuilder assembles a GenerationContext from the scene store. It holds
// no per-project state; every Build reads the store afresh.
type ContextBuilder struct {
	scenes store.SceneStore
	limit  int
}

// NewContextBuilder creates a new ContextBuilder. limit bounds how many
// recent scenes contribute content.
func NewContextBuilder(scenes store.SceneStore, limit int) *ContextBuilder {
	return &ContextBuilder{scenes: scenes, limit: limit}
}

// Build returns the context for one turn. A store failure yields
// model.ErrContextUnavailable and no partial context.
func (b *ContextBuilder) Build(ctx context.Context, projectID string, trigger Trigger) (*GenerationContext, error) {
	scenes, err := b.scenes.FetchScenes(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrContextUnavailable, err)
	}

	gc := &GenerationContext{
		ProjectID:   projectID,
		Scenes:      scenes,
		Trigger:     trigger,
		RecentLimit: b.limit,
	}
	if gc.Scenes == nil {
		gc.Scenes = []model.Scene{}
	}
	if _, ok := gc.SelectedScene(); !ok {
		// a selection from another project or a deleted scene is dropped
		gc.Trigger.SelectedSceneID = ""
	}
	if len(scenes) > 0 {
		gc.Style = summarizeStyle(gc.Recent())
	}
	return gc, nil
}

var fontPattern = regexp.MustCompile(`(?i)font-?family\s*[:=]\s*["'{]*\s*["']?([A-Za-z][A-Za-z0-9 \-]*)`)

func summarizeStyle(scenes []model.Scene) *StyleSummary {
	colorCount := make(map[string]int)
	fontCount := make(map[string]int)
	total := 0
	for _, s := range scenes {
		for _, c := range model.ExtractColors(s.Content) {
			colorCount[c]++
		}
		for _, m := range fontPattern.FindAllStringSubmatch(s.Content, -1) {
			fontCount[strings.TrimSpace(m[1])]++
		}
		total += s.EffectiveDuration()
	}
	return &StyleSummary{
		Palette:         topKeys(colorCount, 5),
		Fonts:           topKeys(fontCount, 3),
		AverageDuration: total / len(scenes),
		SceneCount:      len(scenes),
	}
}

// topKeys returns up to n keys by descending count, ties broken by key.
func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
