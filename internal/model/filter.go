package model

import (
	"fmt"
	"strings"
)

// FilterKind selects how a SceneFilter matches scenes.
type FilterKind string

const (
	FilterAll          FilterKind = "all"
	FilterID           FilterKind = "id"
	FilterNth          FilterKind = "nth"
	FilterRange        FilterKind = "range"
	FilterContainsText FilterKind = "contains_text"
	FilterDuration     FilterKind = "duration"
	FilterColor        FilterKind = "color"
)

// Comparator is used by duration filters.
type Comparator string

const (
	CompareGT  Comparator = "gt"
	CompareGTE Comparator = "gte"
	CompareLT  Comparator = "lt"
	CompareLTE Comparator = "lte"
	CompareEQ  Comparator = "eq"
)

// SceneFilter is a declarative predicate over a project's scenes. It is
// evaluated against a store snapshot at execution time, never at planning time.
//
// Index, From and To are zero-based; a negative Index counts from the end
// (-1 is the last scene).
type SceneFilter struct {
	Kind       FilterKind `json:"kind" validate:"required,oneof=all id nth range contains_text duration color"`
	SceneID    string     `json:"sceneId,omitempty"`
	Index      *int       `json:"index,omitempty"`
	From       *int       `json:"from,omitempty"`
	To         *int       `json:"to,omitempty"`
	Text       string     `json:"text,omitempty"`
	Comparator Comparator `json:"comparator,omitempty" validate:"omitempty,oneof=gt gte lt lte eq"`
	Duration   int        `json:"duration,omitempty" validate:"gte=0"`
	Color      string     `json:"color,omitempty"`
}

// AllScenes matches every scene.
func AllScenes() SceneFilter { return SceneFilter{Kind: FilterAll} }

// SceneByID matches exactly one scene by id.
func SceneByID(id string) SceneFilter { return SceneFilter{Kind: FilterID, SceneID: id} }

// NthScene matches the scene at a zero-based position.
func NthScene(i int) SceneFilter { return SceneFilter{Kind: FilterNth, Index: &i} }

// SceneRange matches scenes between two zero-based positions, inclusive.
func SceneRange(from, to int) SceneFilter {
	return SceneFilter{Kind: FilterRange, From: &from, To: &to}
}

// ScenesContaining matches scenes whose content or name contains text.
func ScenesContaining(text string) SceneFilter {
	return SceneFilter{Kind: FilterContainsText, Text: text}
}

// ScenesWithDuration matches scenes whose duration compares to d.
func ScenesWithDuration(cmp Comparator, d int) SceneFilter {
	return SceneFilter{Kind: FilterDuration, Comparator: cmp, Duration: d}
}

// ScenesWithColor matches scenes whose content references a hex color.
func ScenesWithColor(hex string) SceneFilter {
	return SceneFilter{Kind: FilterColor, Color: hex}
}

// Single reports whether the filter can only ever resolve to one scene.
func (f SceneFilter) Single() bool {
	return f.Kind == FilterID || f.Kind == FilterNth
}

// Validate checks that the fields required by Kind are present.
func (f SceneFilter) Validate() error {
	switch f.Kind {
	case FilterAll:
		return nil
	case FilterID:
		if f.SceneID == "" {
			return fmt.Errorf("filter %s: sceneId is required", f.Kind)
		}
	case FilterNth:
		if f.Index == nil {
			return fmt.Errorf("filter %s: index is required", f.Kind)
		}
	case FilterRange:
		if f.From == nil || f.To == nil {
			return fmt.Errorf("filter %s: from and to are required", f.Kind)
		}
		if *f.From < 0 || *f.To < *f.From {
			return fmt.Errorf("filter %s: invalid bounds %d..%d", f.Kind, *f.From, *f.To)
		}
	case FilterContainsText:
		if strings.TrimSpace(f.Text) == "" {
			return fmt.Errorf("filter %s: text is required", f.Kind)
		}
	case FilterDuration:
		switch f.Comparator {
		case CompareGT, CompareGTE, CompareLT, CompareLTE, CompareEQ:
		default:
			return fmt.Errorf("filter %s: unknown comparator %q", f.Kind, f.Comparator)
		}
	case FilterColor:
		if normalizeHex(f.Color) == "" {
			return fmt.Errorf("filter %s: invalid color %q", f.Kind, f.Color)
		}
	default:
		return fmt.Errorf("unknown filter kind %q", f.Kind)
	}
	return nil
}

// Evaluate returns the matching scenes in enumeration (order_index) order.
// scenes must already be ordered.
func (f SceneFilter) Evaluate(scenes []Scene) []Scene {
	var out []Scene
	switch f.Kind {
	case FilterAll:
		out = append(out, scenes...)
	case FilterID:
		if i := FindScene(scenes, f.SceneID); i >= 0 {
			out = append(out, scenes[i])
		}
	case FilterNth:
		if f.Index == nil {
			return nil
		}
		i := *f.Index
		if i < 0 {
			i = len(scenes) + i
		}
		if i >= 0 && i < len(scenes) {
			out = append(out, scenes[i])
		}
	case FilterRange:
		if f.From == nil || f.To == nil {
			return nil
		}
		for i := *f.From; i <= *f.To && i < len(scenes); i++ {
			if i >= 0 {
				out = append(out, scenes[i])
			}
		}
	case FilterContainsText:
		needle := strings.ToLower(f.Text)
		for _, s := range scenes {
			if strings.Contains(strings.ToLower(s.Content), needle) ||
				strings.Contains(strings.ToLower(s.Name), needle) {
				out = append(out, s)
			}
		}
	case FilterDuration:
		for _, s := range scenes {
			if compare(s.EffectiveDuration(), f.Comparator, f.Duration) {
				out = append(out, s)
			}
		}
	case FilterColor:
		want := normalizeHex(f.Color)
		if want == "" {
			return nil
		}
		for _, s := range scenes {
			for _, c := range ExtractColors(s.Content) {
				if c == want {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

func compare(v int, cmp Comparator, ref int) bool {
	switch cmp {
	case CompareGT:
		return v > ref
	case CompareGTE:
		return v >= ref
	case CompareLT:
		return v < ref
	case CompareLTE:
		return v <= ref
	case CompareEQ:
		return v == ref
	}
	return false
}

// Describe renders the filter for user-facing summaries.
func (f SceneFilter) Describe() string {
	switch f.Kind {
	case FilterAll:
		return "all scenes"
	case FilterID:
		return "scene " + f.SceneID
	case FilterNth:
		if f.Index != nil {
			if *f.Index < 0 {
				return "the last scene"
			}
			return fmt.Sprintf("scene %d", *f.Index+1)
		}
	case FilterRange:
		if f.From != nil && f.To != nil {
			return fmt.Sprintf("scenes %d-%d", *f.From+1, *f.To+1)
		}
	case FilterContainsText:
		return fmt.Sprintf("scenes containing %q", f.Text)
	case FilterDuration:
		return fmt.Sprintf("scenes with duration %s %d", f.Comparator, f.Duration)
	case FilterColor:
		return "scenes using " + normalizeHex(f.Color)
	}
	return string(f.Kind)
}
