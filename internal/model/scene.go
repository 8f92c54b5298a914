package model

import "time"

// DefaultSceneDuration is used when a scene has no explicit duration (frames at 30fps).
const DefaultSceneDuration = 150

// FramesPerSecond converts user-facing seconds into scene duration units.
const FramesPerSecond = 30

// Scene is one ordered, timed unit of a project's content.
// Start is derived from the durations of the preceding scenes and is never stored.
type Scene struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	OrderIndex int       `json:"orderIndex"`
	Start      int       `json:"start"`
	Duration   int       `json:"duration"`
	Content    string    `json:"content"`
	Name       string    `json:"name"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// EffectiveDuration returns the scene duration, falling back to the default.
func (s Scene) EffectiveDuration() int {
	if s.Duration <= 0 {
		return DefaultSceneDuration
	}
	return s.Duration
}

// SameState reports whether two scenes hold the same authoritative state.
// UpdatedAt is ignored.
func (s Scene) SameState(o Scene) bool {
	return s.ID == o.ID &&
		s.ProjectID == o.ProjectID &&
		s.OrderIndex == o.OrderIndex &&
		s.Start == o.Start &&
		s.EffectiveDuration() == o.EffectiveDuration() &&
		s.Content == o.Content &&
		s.Name == o.Name
}

// Normalize renumbers scenes contiguously in their current slice order and
// recomputes Start from the durations. It returns a new slice.
func Normalize(scenes []Scene) []Scene {
	out := make([]Scene, len(scenes))
	start := 0
	for i, s := range scenes {
		s.OrderIndex = i
		s.Start = start
		s.Duration = s.EffectiveDuration()
		start += s.Duration
		out[i] = s
	}
	return out
}

// TotalDuration sums the effective duration of all scenes.
func TotalDuration(scenes []Scene) int {
	total := 0
	for _, s := range scenes {
		total += s.EffectiveDuration()
	}
	return total
}

// FindScene returns the index of the scene with the given id, or -1.
func FindScene(scenes []Scene, id string) int {
	for i := range scenes {
		if scenes[i].ID == id {
			return i
		}
	}
	return -1
}

// SecondsToFrames converts seconds into duration units.
func SecondsToFrames(seconds float64) int {
	return int(seconds*FramesPerSecond + 0.5)
}
