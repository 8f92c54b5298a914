package model

import (
	"fmt"
	"strings"
	"time"
)

// OperationType is the closed set of mutations the planner may emit.
type OperationType string

const (
	OpAdd            OperationType = "add"
	OpEdit           OperationType = "edit"
	OpDelete         OperationType = "delete"
	OpPaste          OperationType = "paste"
	OpAdjustDuration OperationType = "adjust_duration"
	OpReorder        OperationType = "reorder"
	OpRename         OperationType = "rename"
	OpBatch          OperationType = "batch"
)

// OperationTypes lists every known operation type.
var OperationTypes = []OperationType{
	OpAdd, OpEdit, OpDelete, OpPaste, OpAdjustDuration, OpReorder, OpRename, OpBatch,
}

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	switch t {
	case OpAdd, OpEdit, OpDelete, OpPaste, OpAdjustDuration, OpReorder, OpRename, OpBatch:
		return true
	}
	return false
}

// Restorable reports whether operations of this type keep a pre-mutation
// snapshot. Content-mutating types do; metadata-only types do not.
// A batch is restorable only through its action, see Operation.Restorable.
func (t OperationType) Restorable() bool {
	switch t {
	case OpAdd, OpEdit, OpDelete, OpPaste:
		return true
	case OpAdjustDuration, OpReorder, OpRename, OpBatch:
		return false
	}
	return false
}

// batchActions are the operation types a batch may fan out.
var batchActions = map[OperationType]bool{
	OpEdit:           true,
	OpDelete:         true,
	OpAdjustDuration: true,
	OpRename:         true,
}

// OperationParams holds every parameter an operation type can take. Which
// fields are required depends on the type; see Operation.Validate.
//
// Prompt feeds the content generator (add, edit). Name is the scene name
// (add, rename). Duration is in frames (add, adjust_duration). Position is the
// zero-based destination index (add, paste, reorder). Action is the per-scene
// operation a batch applies.
type OperationParams struct {
	Prompt   string        `json:"prompt,omitempty" validate:"max=4000"`
	Name     string        `json:"name,omitempty" validate:"max=200"`
	Duration int           `json:"duration,omitempty" validate:"gte=0,lte=108000"`
	Position *int          `json:"position,omitempty" validate:"omitempty,gte=0"`
	Action   OperationType `json:"action,omitempty" validate:"omitempty,oneof=edit delete adjust_duration rename"`
}

// Operation is one typed, plannable mutation request.
type Operation struct {
	ID     string          `json:"id"`
	Type   OperationType   `json:"type" validate:"required,oneof=add edit delete paste adjust_duration reorder rename batch"`
	Target SceneFilter     `json:"target" validate:"-"`
	Params OperationParams `json:"params"`
}

// Restorable is derived from the type only.
func (o Operation) Restorable() bool {
	if o.Type == OpBatch {
		return batchActions[o.Params.Action] && o.Params.Action.Restorable()
	}
	return o.Type.Restorable()
}

// ToolName is the name the operation is announced under in the event stream.
func (o Operation) ToolName() string {
	if o.Type == OpBatch {
		return string(OpBatch) + ":" + string(o.Params.Action)
	}
	return string(o.Type)
}

// Validate checks the parameters required by the operation type.
func (o Operation) Validate() error {
	if !o.Type.Valid() {
		return fmt.Errorf("unknown operation type %q", o.Type)
	}
	needsTarget := o.Type != OpAdd
	if needsTarget {
		if err := o.Target.Validate(); err != nil {
			return fmt.Errorf("%s: %w", o.Type, err)
		}
	}

	switch o.Type {
	case OpAdd:
		if strings.TrimSpace(o.Params.Prompt) == "" {
			return fmt.Errorf("%s: prompt is required", o.Type)
		}
	case OpEdit:
		if strings.TrimSpace(o.Params.Prompt) == "" {
			return fmt.Errorf("%s: prompt is required", o.Type)
		}
		if !o.Target.Single() {
			return fmt.Errorf("%s: target must select a single scene, use batch", o.Type)
		}
	case OpDelete, OpPaste:
		if !o.Target.Single() {
			return fmt.Errorf("%s: target must select a single scene, use batch", o.Type)
		}
	case OpAdjustDuration:
		if o.Params.Duration <= 0 {
			return fmt.Errorf("%s: duration must be positive", o.Type)
		}
		if !o.Target.Single() {
			return fmt.Errorf("%s: target must select a single scene, use batch", o.Type)
		}
	case OpReorder:
		if o.Params.Position == nil {
			return fmt.Errorf("%s: position is required", o.Type)
		}
		if !o.Target.Single() {
			return fmt.Errorf("%s: target must select a single scene", o.Type)
		}
	case OpRename:
		if strings.TrimSpace(o.Params.Name) == "" {
			return fmt.Errorf("%s: name is required", o.Type)
		}
		if !o.Target.Single() {
			return fmt.Errorf("%s: target must select a single scene, use batch", o.Type)
		}
	case OpBatch:
		if !batchActions[o.Params.Action] {
			return fmt.Errorf("%s: unsupported action %q", o.Type, o.Params.Action)
		}
		item := o.ItemOperation("")
		item.Target = SceneByID("placeholder")
		if err := item.Validate(); err != nil {
			return fmt.Errorf("%s: %w", o.Type, err)
		}
	}
	return nil
}

// ItemOperation returns the single-scene operation a batch applies to sceneID.
func (o Operation) ItemOperation(sceneID string) Operation {
	return Operation{
		ID:     o.ID,
		Type:   o.Params.Action,
		Target: SceneByID(sceneID),
		Params: OperationParams{
			Prompt:   o.Params.Prompt,
			Name:     o.Params.Name,
			Duration: o.Params.Duration,
		},
	}
}

// Describe renders the operation for user-facing text.
func (o Operation) Describe() string {
	switch o.Type {
	case OpAdd:
		return "add a scene"
	case OpEdit:
		return "edit " + o.Target.Describe()
	case OpDelete:
		return "delete " + o.Target.Describe()
	case OpPaste:
		return "duplicate " + o.Target.Describe()
	case OpAdjustDuration:
		return fmt.Sprintf("set %s to %d frames", o.Target.Describe(), o.Params.Duration)
	case OpReorder:
		pos := 0
		if o.Params.Position != nil {
			pos = *o.Params.Position
		}
		return fmt.Sprintf("move %s to position %d", o.Target.Describe(), pos+1)
	case OpRename:
		return fmt.Sprintf("rename %s to %q", o.Target.Describe(), o.Params.Name)
	case OpBatch:
		return fmt.Sprintf("%s on %s", o.Params.Action, o.Target.Describe())
	}
	return string(o.Type)
}

// SceneSnapshot is the pre-mutation state of one scene. Before is nil when the
// scene did not exist before the operation (add, paste).
type SceneSnapshot struct {
	SceneID string `json:"sceneId"`
	Index   int    `json:"index"`
	Before  *Scene `json:"before,omitempty"`
}

// SceneFailure records one scene that could not be mutated.
type SceneFailure struct {
	SceneID string `json:"sceneId"`
	Error   string `json:"error"`
}

// OperationResult is the outcome of executing one operation.
type OperationResult struct {
	OperationID string          `json:"operationId"`
	ProjectID   string          `json:"projectId"`
	SessionID   string          `json:"sessionId,omitempty"`
	Type        OperationType   `json:"type"`
	Action      OperationType   `json:"action,omitempty"`
	Restorable  bool            `json:"restorable"`
	Matched     int             `json:"matched"`
	Committed   []string        `json:"committed"`
	Failed      []SceneFailure  `json:"failed,omitempty"`
	Snapshots   []SceneSnapshot `json:"snapshots,omitempty"`
	Scenes      []Scene         `json:"scenes,omitempty"`
	DeletedIDs  []string        `json:"deletedIds,omitempty"`
	Restored    bool            `json:"restored"`
	CompletedAt time.Time       `json:"completedAt"`
}

// Success reports whether every matched scene was committed. A batch that
// matched nothing succeeds as a no-op.
func (r *OperationResult) Success() bool {
	return len(r.Failed) == 0
}

// FailedIDs lists the ids of the failed scenes.
func (r *OperationResult) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		ids = append(ids, f.SceneID)
	}
	return ids
}

// Summary is the human-readable outcome. Partial failures are spelled out
// as "N of M scenes updated; failed: ...".
func (r *OperationResult) Summary() string {
	if r.Matched == 0 {
		return "No scenes matched"
	}
	if len(r.Failed) == 0 {
		if r.Matched == 1 {
			return "1 scene updated"
		}
		return fmt.Sprintf("%d scenes updated", len(r.Committed))
	}
	return fmt.Sprintf("%d of %d scenes updated; failed: %s",
		len(r.Committed), r.Matched, strings.Join(r.FailedIDs(), ", "))
}
