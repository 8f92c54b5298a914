// Package reconcile keeps a client-held mirror of a project's scenes
// consistent with the authoritative scene store while a generation session
// streams its events.
package reconcile

import (
	"sort"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

// ClientSceneCache is one client's mirror of a project's scenes plus the
// selected scene. It is owned by a single reconciler and is never merged
// field by field with server data: a resync replaces it wholesale.
type ClientSceneCache struct {
	projectID   string
	scenes      []model.Scene
	provisional map[string]bool
	selected    string
}

// CacheState is the serializable form of a ClientSceneCache.
type CacheState struct {
	ProjectID       string        `json:"projectId"`
	Scenes          []model.Scene `json:"scenes"`
	Provisional     []string      `json:"provisional,omitempty"`
	SelectedSceneID string        `json:"selectedSceneId,omitempty"`
}

// NewClientSceneCache creates an empty cache for a project.
func NewClientSceneCache(projectID string) *ClientSceneCache {
	return &ClientSceneCache{projectID: projectID, provisional: make(map[string]bool)}
}

// CacheFromState rebuilds a cache from its serialized form.
func CacheFromState(st CacheState) *ClientSceneCache {
	c := NewClientSceneCache(st.ProjectID)
	c.scenes = model.Normalize(st.Scenes)
	for _, id := range st.Provisional {
		c.provisional[id] = true
	}
	c.selected = st.SelectedSceneID
	c.dropStaleSelection()
	return c
}

// State returns the serializable form.
func (c *ClientSceneCache) State() CacheState {
	st := CacheState{
		ProjectID:       c.projectID,
		Scenes:          c.Scenes(),
		SelectedSceneID: c.selected,
	}
	for id := range c.provisional {
		st.Provisional = append(st.Provisional, id)
	}
	sort.Strings(st.Provisional)
	return st
}

func (c *ClientSceneCache) ProjectID() string { return c.projectID }

// Scenes returns a copy of the cached scenes in order.
func (c *ClientSceneCache) Scenes() []model.Scene {
	out := make([]model.Scene, len(c.scenes))
	copy(out, c.scenes)
	return out
}

// Scene returns one cached scene.
func (c *ClientSceneCache) Scene(id string) (model.Scene, bool) {
	i := model.FindScene(c.scenes, id)
	if i < 0 {
		return model.Scene{}, false
	}
	return c.scenes[i], true
}

// Provisional reports whether a scene was written optimistically and not yet
// confirmed by the store.
func (c *ClientSceneCache) Provisional(id string) bool {
	return c.provisional[id]
}

// Selected returns the selected scene id, empty when nothing is selected.
func (c *ClientSceneCache) Selected() string { return c.selected }

// Select marks a scene as selected. Unknown ids clear the selection.
func (c *ClientSceneCache) Select(id string) {
	c.selected = id
	c.dropStaleSelection()
}

// Replace swaps in an authoritative snapshot. The selection survives when its
// scene still exists.
func (c *ClientSceneCache) Replace(scenes []model.Scene) {
	c.scenes = model.Normalize(scenes)
	c.provisional = make(map[string]bool)
	c.dropStaleSelection()
}

// upsert writes a scene optimistically at its order index. It reports whether
// the scene was new to the cache.
func (c *ClientSceneCache) upsert(scene model.Scene) bool {
	c.provisional[scene.ID] = true
	if i := model.FindScene(c.scenes, scene.ID); i >= 0 {
		if i == scene.OrderIndex || scene.OrderIndex < 0 {
			c.scenes[i] = scene
			c.scenes = model.Normalize(c.scenes)
			return false
		}
		c.scenes = append(c.scenes[:i], c.scenes[i+1:]...)
		c.insert(scene)
		return false
	}
	c.insert(scene)
	return true
}

func (c *ClientSceneCache) insert(scene model.Scene) {
	pos := scene.OrderIndex
	if pos < 0 || pos > len(c.scenes) {
		pos = len(c.scenes)
	}
	c.scenes = append(c.scenes, model.Scene{})
	copy(c.scenes[pos+1:], c.scenes[pos:])
	c.scenes[pos] = scene
	c.scenes = model.Normalize(c.scenes)
}

// remove deletes a scene optimistically.
func (c *ClientSceneCache) remove(id string) {
	if i := model.FindScene(c.scenes, id); i >= 0 {
		c.scenes = model.Normalize(append(c.scenes[:i], c.scenes[i+1:]...))
	}
	delete(c.provisional, id)
	c.dropStaleSelection()
}

// confirm clears the provisional mark of scenes the store is known to hold.
func (c *ClientSceneCache) confirm(ids []string) {
	for _, id := range ids {
		delete(c.provisional, id)
	}
}

func (c *ClientSceneCache) dropStaleSelection() {
	if c.selected != "" && model.FindScene(c.scenes, c.selected) < 0 {
		c.selected = ""
	}
}

// sameScenes reports whether two ordered scene lists hold the same state.
func sameScenes(a, b []model.Scene) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].SameState(b[i]) {
			return false
		}
	}
	return true
}
