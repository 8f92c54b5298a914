package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

func threeScenes() []model.Scene {
	return []model.Scene{
		{ID: "a", Name: "Intro", Duration: 90, Content: `<div style={{background: "#ff0000"}} />`},
		{ID: "b", Name: "Product", Duration: 150},
		{ID: "c", Name: "Outro", Duration: 300},
	}
}

func planRules(t *testing.T, text, selected string, scenes ...model.Scene) []model.Operation {
	t.Helper()
	ops, err := NewRulePlanner(30).Plan(context.Background(), planningContext(text, selected, scenes...))
	require.NoError(t, err)
	return ops
}

func intPtr(i int) *int { return &i }

func TestRulePlanner_SingleTargets(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		selected string
		want     model.Operation
	}{
		{
			name: "delete by number",
			text: "delete scene 2",
			want: model.Operation{Type: model.OpDelete, Target: model.SceneByID("b")},
		},
		{
			name: "duration by scene name",
			text: "set the outro duration to 4 seconds",
			want: model.Operation{Type: model.OpAdjustDuration, Target: model.SceneByID("c"), Params: model.OperationParams{Duration: 120}},
		},
		{
			name: "rename by ordinal keeps case",
			text: "rename the second scene to Product Shot",
			want: model.Operation{Type: model.OpRename, Target: model.SceneByID("b"), Params: model.OperationParams{Name: "Product Shot"}},
		},
		{
			name:     "edit the selection",
			text:     "make it blue",
			selected: "c",
			want:     model.Operation{Type: model.OpEdit, Target: model.SceneByID("c"), Params: model.OperationParams{Prompt: "make it blue"}},
		},
		{
			name: "move to the start",
			text: "move scene 3 to the start",
			want: model.Operation{Type: model.OpReorder, Target: model.SceneByID("c"), Params: model.OperationParams{Position: intPtr(0)}},
		},
		{
			name: "move after a later scene",
			text: "move scene 1 after scene 2",
			want: model.Operation{Type: model.OpReorder, Target: model.SceneByID("a"), Params: model.OperationParams{Position: intPtr(1)}},
		},
		{
			name: "add after a scene",
			text: "add an outro after scene 1 lasting 3 seconds",
			want: model.Operation{Type: model.OpAdd, Params: model.OperationParams{
				Prompt: "add an outro after scene 1 lasting 3 seconds", Name: "Outro", Duration: 90, Position: intPtr(1),
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := planRules(t, tt.text, tt.selected, threeScenes()...)
			require.Len(t, ops, 1)
			assert.Equal(t, tt.want, ops[0])
		})
	}
}

func TestRulePlanner_CollectiveScopesBecomeOneBatch(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.Operation
	}{
		{
			name: "duration filter",
			text: "delete all scenes longer than 5 seconds",
			want: model.Operation{Type: model.OpBatch, Target: model.ScenesWithDuration(model.CompareGT, 150), Params: model.OperationParams{Action: model.OpDelete}},
		},
		{
			name: "color filter",
			text: "delete every scene using #FF0000",
			want: model.Operation{Type: model.OpBatch, Target: model.ScenesWithColor("#ff0000"), Params: model.OperationParams{Action: model.OpDelete}},
		},
		{
			name: "all scenes edit",
			text: "make all scenes more energetic",
			want: model.Operation{Type: model.OpBatch, Target: model.AllScenes(), Params: model.OperationParams{Action: model.OpEdit, Prompt: "make all scenes more energetic"}},
		},
		{
			name: "range duration",
			text: "scenes 1-2 should be 2 seconds",
			want: model.Operation{Type: model.OpBatch, Target: model.SceneRange(0, 1), Params: model.OperationParams{Action: model.OpAdjustDuration, Duration: 60}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := planRules(t, tt.text, "", threeScenes()...)
			require.Len(t, ops, 1)
			assert.Equal(t, tt.want, ops[0])
		})
	}
}

func TestRulePlanner_MultiStepKeepsOrder(t *testing.T) {
	ops := planRules(t, "duplicate the intro then move it to the end", "b", threeScenes()...)

	require.Len(t, ops, 2)
	assert.Equal(t, model.Operation{Type: model.OpPaste, Target: model.SceneByID("a")}, ops[0])
	assert.Equal(t, model.Operation{Type: model.OpReorder, Target: model.SceneByID("b"), Params: model.OperationParams{Position: intPtr(2)}}, ops[1])
}

func TestRulePlanner_EmptyProjectAdds(t *testing.T) {
	ops := planRules(t, "a neon title card", "")

	require.Len(t, ops, 1)
	assert.Equal(t, model.OpAdd, ops[0].Type)
	assert.Equal(t, "Title", ops[0].Params.Name)
	assert.Nil(t, ops[0].Params.Position)
}

func TestRulePlanner_SingleSceneProjectNeedsNoReference(t *testing.T) {
	ops := planRules(t, "make it blue", "", threeScenes()[0])

	require.Len(t, ops, 1)
	assert.Equal(t, model.SceneByID("a"), ops[0].Target)
}

func TestRulePlanner_Ambiguous(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"pronoun without selection", "make it blue"},
		{"scene out of range", "delete scene 9"},
		{"rename without a name", "rename scene 1"},
		{"move without destination", "move scene 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRulePlanner(30).Plan(context.Background(), planningContext(tt.text, "", threeScenes()...))
			var ambiguous *model.AmbiguousRequestError
			require.ErrorAs(t, err, &ambiguous)
			assert.NotEmpty(t, ambiguous.Question)
			assert.ErrorIs(t, err, model.ErrAmbiguousRequest)
		})
	}
}

func TestRulePlanner_Deterministic(t *testing.T) {
	gc := planningContext("delete scene 2; make all scenes more energetic", "", threeScenes()...)
	p := NewRulePlanner(30)

	first, err := p.Plan(context.Background(), gc)
	require.NoError(t, err)
	second, err := p.Plan(context.Background(), gc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}
