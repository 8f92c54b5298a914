package service

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

// RulePlanner is the deterministic planner used when no model is configured
// and as the fallback for invalid model output. It understands a small
// command grammar: one clause per operation, clauses joined by "then" or ";".
type RulePlanner struct {
	fps int
}

// NewRulePlanner creates a new RulePlanner
func NewRulePlanner(fps int) *RulePlanner {
	if fps <= 0 {
		fps = model.FramesPerSecond
	}
	return &RulePlanner{fps: fps}
}

const durationExpr = `(\d+(?:\.\d+)?)\s*(seconds?|secs?|s|frames?|f)?\b`

var (
	clauseSep = regexp.MustCompile(`(?i)\s*(?:;|\band then\b|\bthen\b)\s*`)

	// collective scopes, checked in this order
	colorScope    = regexp.MustCompile(`\b(?:all |every |each )?scenes? (?:that use|using|with)(?: the)?(?: colou?r)? (#[0-9a-f]{3}(?:[0-9a-f]{3})?)\b`)
	textScope     = regexp.MustCompile(`\b(?:all |every |each )?scenes? (?:containing|that contain|that says?|mentioning|with(?: the)? text)\s+(?:["“']([^"”']+)["”']|(\S+))`)
	durationScope = regexp.MustCompile(`\b(?:all |every |each )?scenes? (?:that are |which are )?(longer than|more than|over|shorter than|less than|under|at least|at most)\s+` + durationExpr)
	rangeScope    = regexp.MustCompile(`\bscenes (\d+)\s*(?:-|to|through)\s*(\d+)\b`)
	allScope      = regexp.MustCompile(`\b(?:all(?: the)?|every|each)(?: of the)? scenes?\b`)

	deleteVerb    = regexp.MustCompile(`\b(?:delete|remove|drop|get rid of)\b`)
	renameVerb    = regexp.MustCompile(`\b(?:rename|call it|name it)\b`)
	duplicateVerb = regexp.MustCompile(`\b(?:duplicate|copy|clone|paste)\b`)
	moveVerb      = regexp.MustCompile(`\b(?:move|reorder)\b`)
	addVerb       = regexp.MustCompile(`\b(?:add|create|insert|generate)\b|\bnew scene\b|\bmake (?:an?|another)\b`)
	durationWord  = regexp.MustCompile(`\b(?:duration|long|length|last|lasts|shorten|lengthen)\b`)

	durationTo   = regexp.MustCompile(`\bto\s+` + durationExpr)
	durationUnit = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(seconds?|secs?|s|frames?|f)\b`)
	renameTo     = regexp.MustCompile(`(?i)(?:\bto\b|\bcall it\b|\bname it\b)\s+["“']?([^"”']+?)["”']?\s*$`)

	sceneNumber  = regexp.MustCompile(`\bscene (?:#|number )?(\d+)\b`)
	ordinalScene = regexp.MustCompile(`\b(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|last|final) (?:scene|one)\b`)
	pronounRef   = regexp.MustCompile(`\b(?:it|this|that|this scene|that scene|current scene|selected scene)\b`)

	toStart    = regexp.MustCompile(`\b(?:to|at) the (?:start|beginning|front)\b|\bto first\b|\bfirst position\b`)
	toEnd      = regexp.MustCompile(`\b(?:to|at) the end\b|\bto last\b|\blast position\b`)
	toPosition = regexp.MustCompile(`\bposition (\d+)\b`)
	afterScene = regexp.MustCompile(`\bafter scene (\d+)\b`)
	beforeSc   = regexp.MustCompile(`\bbefore scene (\d+)\b`)

	nameKeywords = []string{"intro", "outro", "opening", "ending", "title", "credits", "cta"}
)

var ordinals = map[string]int{
	"first": 0, "second": 1, "third": 2, "fourth": 3, "fifth": 4,
	"sixth": 5, "seventh": 6, "eighth": 7, "ninth": 8, "tenth": 9,
	"last": -1, "final": -1,
}

// Plan implements Planner.
func (p *RulePlanner) Plan(_ context.Context, gc *GenerationContext) ([]model.Operation, error) {
	var ops []model.Operation
	for _, clause := range clauseSep.Split(strings.TrimSpace(gc.Trigger.Text), -1) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		op, ok, err := p.planClause(clause, gc)
		if err != nil {
			return nil, err
		}
		if ok {
			ops = append(ops, op)
		}
	}
	for i := range ops {
		if err := ops[i].Validate(); err != nil {
			return nil, fmt.Errorf("rule planner produced invalid operation: %w", err)
		}
	}
	return ops, nil
}

func (p *RulePlanner) planClause(clause string, gc *GenerationContext) (model.Operation, bool, error) {
	lower := strings.ToLower(clause)

	if filter, loc, ok := p.collectiveScope(lower); ok {
		rest, restOrig := without(lower, loc), without(lower, loc)
		if len(clause) == len(lower) {
			restOrig = without(clause, loc)
		}
		op, err := p.batch(clause, rest, restOrig, filter)
		return op, err == nil, err
	}

	switch {
	case deleteVerb.MatchString(lower):
		return p.single(model.OpDelete, clause, lower, gc, model.OperationParams{})

	case renameVerb.MatchString(lower):
		m := renameTo.FindStringSubmatch(clause)
		if m == nil {
			return model.Operation{}, false, &model.AmbiguousRequestError{Question: "What should the scene be called?"}
		}
		return p.single(model.OpRename, clause, lower, gc, model.OperationParams{Name: strings.TrimSpace(m[1])})

	case duplicateVerb.MatchString(lower):
		return p.single(model.OpPaste, clause, lower, gc, model.OperationParams{})

	case moveVerb.MatchString(lower):
		target, err := p.resolveTarget(lower, gc)
		if err != nil || target == nil {
			return model.Operation{}, false, err
		}
		pos, ok := p.destination(lower, gc, *target)
		if !ok {
			return model.Operation{}, false, &model.AmbiguousRequestError{Question: "Where should the scene go?"}
		}
		return model.Operation{
			Type:   model.OpReorder,
			Target: model.SceneByID(target.ID),
			Params: model.OperationParams{Position: &pos},
		}, true, nil

	case addVerb.MatchString(lower) || len(gc.Scenes) == 0:
		return p.add(clause, lower, gc), true, nil

	case durationWord.MatchString(lower):
		d, ok := p.targetDuration(lower)
		if !ok {
			return model.Operation{}, false, &model.AmbiguousRequestError{Question: "How long should the scene be?"}
		}
		return p.single(model.OpAdjustDuration, clause, lower, gc, model.OperationParams{Duration: d})
	}

	return p.single(model.OpEdit, clause, lower, gc, model.OperationParams{Prompt: clause})
}

// collectiveScope returns the filter named by the clause and the byte range
// of the phrase that named it, so the phrase cannot be mistaken for a verb.
func (p *RulePlanner) collectiveScope(lower string) (model.SceneFilter, []int, bool) {
	if loc := colorScope.FindStringSubmatchIndex(lower); loc != nil {
		return model.ScenesWithColor(lower[loc[2]:loc[3]]), loc[:2], true
	}
	if loc := textScope.FindStringSubmatchIndex(lower); loc != nil {
		var text string
		if loc[2] >= 0 {
			text = lower[loc[2]:loc[3]]
		} else {
			text = strings.Trim(lower[loc[4]:loc[5]], ".,!?")
		}
		return model.ScenesContaining(text), loc[:2], true
	}
	if loc := durationScope.FindStringSubmatchIndex(lower); loc != nil {
		var cmp model.Comparator
		switch lower[loc[2]:loc[3]] {
		case "longer than", "more than", "over":
			cmp = model.CompareGT
		case "shorter than", "less than", "under":
			cmp = model.CompareLT
		case "at least":
			cmp = model.CompareGTE
		case "at most":
			cmp = model.CompareLTE
		}
		unit := ""
		if loc[6] >= 0 {
			unit = lower[loc[6]:loc[7]]
		}
		return model.ScenesWithDuration(cmp, p.frames(lower[loc[4]:loc[5]], unit)), loc[:2], true
	}
	if m := rangeScope.FindStringSubmatchIndex(lower); m != nil {
		from, _ := strconv.Atoi(lower[m[2]:m[3]])
		to, _ := strconv.Atoi(lower[m[4]:m[5]])
		if from >= 1 && to >= from {
			return model.SceneRange(from-1, to-1), m[:2], true
		}
	}
	if loc := allScope.FindStringIndex(lower); loc != nil {
		return model.AllScenes(), loc, true
	}
	return model.SceneFilter{}, nil, false
}

// without cuts the byte range loc out of s.
func without(s string, loc []int) string {
	return s[:loc[0]] + " " + s[loc[1]:]
}

func (p *RulePlanner) batch(clause, rest, restOrig string, filter model.SceneFilter) (model.Operation, error) {
	op := model.Operation{Type: model.OpBatch, Target: filter}
	switch {
	case deleteVerb.MatchString(rest):
		op.Params.Action = model.OpDelete
	case renameVerb.MatchString(rest):
		m := renameTo.FindStringSubmatch(restOrig)
		if m == nil {
			return op, &model.AmbiguousRequestError{Question: "What should the scenes be called?"}
		}
		op.Params.Action = model.OpRename
		op.Params.Name = strings.TrimSpace(m[1])
	case durationWord.MatchString(rest) || durationUnit.MatchString(rest):
		d, ok := p.targetDuration(rest)
		if !ok {
			return op, &model.AmbiguousRequestError{Question: "How long should the scenes be?"}
		}
		op.Params.Action = model.OpAdjustDuration
		op.Params.Duration = d
	default:
		op.Params.Action = model.OpEdit
		op.Params.Prompt = clause
	}
	return op, nil
}

func (p *RulePlanner) single(t model.OperationType, clause, lower string, gc *GenerationContext, params model.OperationParams) (model.Operation, bool, error) {
	target, err := p.resolveTarget(lower, gc)
	if err != nil || target == nil {
		return model.Operation{}, false, err
	}
	if t == model.OpEdit {
		params.Prompt = clause
	}
	return model.Operation{Type: t, Target: model.SceneByID(target.ID), Params: params}, true, nil
}

// resolveTarget returns nil without error when the project has no scenes.
// Explicit references win over the selection; without either, a project
// with exactly one scene targets that scene.
func (p *RulePlanner) resolveTarget(lower string, gc *GenerationContext) (*model.Scene, error) {
	n := len(gc.Scenes)
	if n == 0 {
		return nil, nil
	}

	if m := sceneNumber.FindStringSubmatch(lower); m != nil {
		k, _ := strconv.Atoi(m[1])
		if k < 1 || k > n {
			return nil, &model.AmbiguousRequestError{
				Question: fmt.Sprintf("There is no scene %d; the project has %d %s. Which one do you mean?", k, n, plural(n, "scene")),
			}
		}
		return &gc.Scenes[k-1], nil
	}
	if m := ordinalScene.FindStringSubmatch(lower); m != nil {
		k := ordinals[m[1]]
		if k < 0 {
			k = n + k
		}
		if k < 0 || k >= n {
			return nil, &model.AmbiguousRequestError{
				Question: fmt.Sprintf("The project only has %d %s. Which one do you mean?", n, plural(n, "scene")),
			}
		}
		return &gc.Scenes[k], nil
	}
	for i := range gc.Scenes {
		name := strings.ToLower(strings.TrimSpace(gc.Scenes[i].Name))
		if len(name) >= 3 && containsWord(lower, name) {
			return &gc.Scenes[i], nil
		}
	}

	if sel, ok := gc.SelectedScene(); ok {
		i := model.FindScene(gc.Scenes, sel.ID)
		return &gc.Scenes[i], nil
	}
	if n == 1 {
		return &gc.Scenes[0], nil
	}
	if pronounRef.MatchString(lower) {
		return nil, &model.AmbiguousRequestError{Question: "Which scene do you mean? Select a scene or name it by number."}
	}
	return nil, &model.AmbiguousRequestError{
		Question: fmt.Sprintf("The project has %d scenes. Which one should I change?", n),
	}
}

// destination computes the final zero-based index of a moved scene.
func (p *RulePlanner) destination(lower string, gc *GenerationContext, target model.Scene) (int, bool) {
	n := len(gc.Scenes)
	from := model.FindScene(gc.Scenes, target.ID)
	switch {
	case toStart.MatchString(lower):
		return 0, true
	case toEnd.MatchString(lower):
		return n - 1, true
	}
	if m := afterScene.FindStringSubmatch(lower); m != nil {
		k, _ := strconv.Atoi(m[1])
		if k < 1 || k > n {
			return 0, false
		}
		if from < k-1 {
			return k - 1, true
		}
		return k, true
	}
	if m := beforeSc.FindStringSubmatch(lower); m != nil {
		k, _ := strconv.Atoi(m[1])
		if k < 1 || k > n {
			return 0, false
		}
		if from < k-1 {
			return k - 2, true
		}
		return k - 1, true
	}
	if m := toPosition.FindStringSubmatch(lower); m != nil {
		k, _ := strconv.Atoi(m[1])
		if k < 1 || k > n {
			return 0, false
		}
		return k - 1, true
	}
	return 0, false
}

func (p *RulePlanner) add(clause, lower string, gc *GenerationContext) model.Operation {
	op := model.Operation{Type: model.OpAdd, Params: model.OperationParams{Prompt: clause}}
	n := len(gc.Scenes)
	switch {
	case n == 0:
	case toStart.MatchString(lower):
		pos := 0
		op.Params.Position = &pos
	default:
		if m := afterScene.FindStringSubmatch(lower); m != nil {
			if k, _ := strconv.Atoi(m[1]); k >= 1 && k <= n {
				op.Params.Position = &k
			}
		} else if m := beforeSc.FindStringSubmatch(lower); m != nil {
			if k, _ := strconv.Atoi(m[1]); k >= 1 && k <= n {
				pos := k - 1
				op.Params.Position = &pos
			}
		}
	}
	for _, kw := range nameKeywords {
		if containsWord(lower, kw) {
			op.Params.Name = strings.ToUpper(kw[:1]) + kw[1:]
			break
		}
	}
	if m := durationUnit.FindStringSubmatch(lower); m != nil {
		op.Params.Duration = p.frames(m[1], m[2])
	}
	return op
}

// targetDuration reads "to 5s" first, then any number carrying a unit.
// Bare numbers are frames.
func (p *RulePlanner) targetDuration(lower string) (int, bool) {
	if m := durationTo.FindStringSubmatch(lower); m != nil {
		if d := p.frames(m[1], m[2]); d > 0 {
			return d, true
		}
	}
	if m := durationUnit.FindStringSubmatch(lower); m != nil {
		if d := p.frames(m[1], m[2]); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func (p *RulePlanner) frames(value, unit string) int {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	if strings.HasPrefix(unit, "s") {
		return int(math.Round(v * float64(p.fps)))
	}
	return int(math.Round(v))
}

func containsWord(s, word string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(word) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
