package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(i int) *int { return &i }

func TestOperation_Restorable(t *testing.T) {
	tests := []struct {
		op   Operation
		want bool
	}{
		{Operation{Type: OpAdd}, true},
		{Operation{Type: OpEdit}, true},
		{Operation{Type: OpDelete}, true},
		{Operation{Type: OpPaste}, true},
		{Operation{Type: OpAdjustDuration}, false},
		{Operation{Type: OpReorder}, false},
		{Operation{Type: OpRename}, false},
		{Operation{Type: OpBatch, Params: OperationParams{Action: OpEdit}}, true},
		{Operation{Type: OpBatch, Params: OperationParams{Action: OpDelete}}, true},
		{Operation{Type: OpBatch, Params: OperationParams{Action: OpAdjustDuration}}, false},
		{Operation{Type: OpBatch, Params: OperationParams{Action: OpRename}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.op.ToolName(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Restorable())
		})
	}
}

func TestOperation_Validate(t *testing.T) {
	valid := []Operation{
		{Type: OpAdd, Params: OperationParams{Prompt: "a title card"}},
		{Type: OpEdit, Target: NthScene(0), Params: OperationParams{Prompt: "make it blue"}},
		{Type: OpDelete, Target: SceneByID("a")},
		{Type: OpPaste, Target: NthScene(-1)},
		{Type: OpAdjustDuration, Target: SceneByID("a"), Params: OperationParams{Duration: 90}},
		{Type: OpReorder, Target: SceneByID("a"), Params: OperationParams{Position: intPtr(0)}},
		{Type: OpRename, Target: SceneByID("a"), Params: OperationParams{Name: "Intro"}},
		{Type: OpBatch, Target: AllScenes(), Params: OperationParams{Action: OpDelete}},
		{Type: OpBatch, Target: ScenesWithDuration(CompareGT, 100), Params: OperationParams{Action: OpAdjustDuration, Duration: 60}},
	}
	for _, op := range valid {
		assert.NoError(t, op.Validate(), op.Describe())
	}

	invalid := []Operation{
		{Type: "explode", Target: AllScenes()},
		{Type: OpAdd},
		{Type: OpEdit, Target: AllScenes(), Params: OperationParams{Prompt: "x"}},
		{Type: OpEdit, Target: SceneByID("a")},
		{Type: OpDelete, Target: SceneRange(0, 2)},
		{Type: OpAdjustDuration, Target: SceneByID("a")},
		{Type: OpReorder, Target: SceneByID("a")},
		{Type: OpRename, Target: SceneByID("a"), Params: OperationParams{Name: " "}},
		{Type: OpBatch, Target: AllScenes(), Params: OperationParams{Action: OpReorder}},
		{Type: OpBatch, Target: AllScenes(), Params: OperationParams{Action: OpEdit}},
		{Type: OpBatch, Target: SceneFilter{Kind: FilterID}, Params: OperationParams{Action: OpDelete}},
	}
	for _, op := range invalid {
		assert.Error(t, op.Validate(), op.Describe())
	}
}

func TestOperation_ItemOperation(t *testing.T) {
	op := Operation{
		ID:     "op-1",
		Type:   OpBatch,
		Target: AllScenes(),
		Params: OperationParams{Action: OpEdit, Prompt: "make it pop", Position: intPtr(3)},
	}
	item := op.ItemOperation("s2")

	assert.Equal(t, OpEdit, item.Type)
	assert.Equal(t, SceneByID("s2"), item.Target)
	assert.Equal(t, "make it pop", item.Params.Prompt)
	assert.Nil(t, item.Params.Position)
	assert.Equal(t, "batch:edit", op.ToolName())
}

func TestOperationResult_Summary(t *testing.T) {
	assert.Equal(t, "No scenes matched", (&OperationResult{}).Summary())
	assert.Equal(t, "1 scene updated", (&OperationResult{Matched: 1, Committed: []string{"a"}}).Summary())
	assert.Equal(t, "3 scenes updated", (&OperationResult{Matched: 3, Committed: []string{"a", "b", "c"}}).Summary())

	partial := &OperationResult{
		Matched:   5,
		Committed: []string{"s1", "s2", "s4", "s5"},
		Failed:    []SceneFailure{{SceneID: "s3", Error: "timed out"}},
	}
	assert.False(t, partial.Success())
	assert.Equal(t, "4 of 5 scenes updated; failed: s3", partial.Summary())
}

func TestOperationResult_EmptyBatchSucceeds(t *testing.T) {
	r := &OperationResult{Type: OpBatch, Matched: 0, Committed: []string{}}
	assert.True(t, r.Success())
}
