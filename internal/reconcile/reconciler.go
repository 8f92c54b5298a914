package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bazaar-it/bazaar-sub000/internal/metrics"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

var (
	ErrNoSession      = errors.New("no session is being reconciled")
	ErrForeignSession = errors.New("event belongs to another session")
)

// SceneSource is the authoritative scene list a resync reads from.
type SceneSource interface {
	FetchScenes(ctx context.Context, projectID string) ([]model.Scene, error)
}

// ToolState is what the client shows for one named tool of the turn.
type ToolState struct {
	Name      string
	Running   bool
	Succeeded int
	Failed    int
}

// Reconciler applies one session's events to a ClientSceneCache.
//
// Mutations carried by tool_result events are applied optimistically. On
// finalized the cache is resynchronized exactly once, and the fetch is
// skipped when every touched scene is already present and identical. The
// notify callback fires at most once per session, after finalized, and only
// when the cache changed.
type Reconciler struct {
	mu      sync.Mutex
	cache   *ClientSceneCache
	source  SceneSource
	notify  func([]model.Scene)
	metrics *metrics.Metrics
	logger  *slog.Logger

	sessionID  string
	message    *model.Message
	tools      []*ToolState
	seen       map[string]bool
	upserted   map[string]model.Scene
	deleted    map[string]bool
	unverified bool
	before     []model.Scene
	finalized  bool
}

// New creates a reconciler over cache. notify may be nil.
func New(cache *ClientSceneCache, source SceneSource, notify func([]model.Scene), m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if notify == nil {
		notify = func([]model.Scene) {}
	}
	return &Reconciler{cache: cache, source: source, notify: notify, metrics: m, logger: logger}
}

// Cache returns the owned cache. Callers must not mutate it while a session
// is being applied.
func (r *Reconciler) Cache() *ClientSceneCache { return r.cache }

// Begin starts consuming a session. messageID is the assistant message the
// session reports into; it starts pending.
func (r *Reconciler) Begin(sessionID, messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = sessionID
	r.message = &model.Message{
		ID:        messageID,
		ProjectID: r.cache.ProjectID(),
		SessionID: sessionID,
		Role:      model.RoleAssistant,
		Status:    model.MessagePending,
		Kind:      model.KindText,
	}
	r.tools = nil
	r.seen = make(map[string]bool)
	r.upserted = make(map[string]model.Scene)
	r.deleted = make(map[string]bool)
	r.unverified = false
	r.before = r.cache.Scenes()
	r.finalized = false
}

// Streaming reports whether a session is being consumed and not finalized.
func (r *Reconciler) Streaming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID != "" && !r.finalized
}

// Message returns a copy of the active assistant message.
func (r *Reconciler) Message() model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.message == nil {
		return model.Message{}
	}
	return *r.message
}

// Tools returns the tools of the turn in the order they started.
func (r *Reconciler) Tools() []ToolState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ToolState, len(r.tools))
	for i, t := range r.tools {
		out[i] = *t
	}
	return out
}

// Apply consumes one event. Delivering the same event twice has the same
// effect as delivering it once.
func (r *Reconciler) Apply(ctx context.Context, ev model.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionID == "" {
		return ErrNoSession
	}
	if ev.SessionID != r.sessionID {
		return fmt.Errorf("%w: %s", ErrForeignSession, ev.SessionID)
	}
	if r.finalized {
		return nil
	}
	key, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if r.seen[string(key)] {
		return nil
	}
	r.seen[string(key)] = true

	switch ev.Type {
	case model.EventStatus:
		if !r.message.Status.Terminal() {
			if ev.Status == model.PhaseThinking {
				r.message.Status = model.MessageThinking
			} else {
				r.message.Status = model.MessageToolCalling
			}
		}
	case model.EventDelta:
		r.message.Content += ev.Content
	case model.EventToolStart:
		r.tool(ev.Name).Running = true
	case model.EventToolResult:
		r.applyToolResult(ev)
	case model.EventComplete:
		r.message.Status = model.MessageSuccess
		r.message.Kind = model.KindText
		r.message.Content = ev.FinalContent
	case model.EventError:
		r.message.Status = model.MessageError
		r.message.Kind = model.KindError
		if ev.FinalContent != "" {
			r.message.Content = ev.FinalContent
		} else {
			r.message.Content = "Error: " + ev.Error
		}
	case model.EventFinalized:
		return r.finalize(ctx)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func (r *Reconciler) tool(name string) *ToolState {
	for _, t := range r.tools {
		if t.Name == name {
			return t
		}
	}
	t := &ToolState{Name: name}
	r.tools = append(r.tools, t)
	return t
}

func (r *Reconciler) applyToolResult(ev model.StreamEvent) {
	t := r.tool(ev.Name)
	t.Running = false
	if !ev.Succeeded() {
		t.Failed++
		return
	}
	t.Succeeded++
	if ev.FinalContent == "" {
		// no-op result
		return
	}
	if ev.Mutation.Empty() {
		// the store changed in a way the event does not describe
		r.unverified = true
		return
	}
	if ev.Mutation.Reordered {
		r.unverified = true
	}
	for _, id := range ev.Mutation.Deleted {
		r.cache.remove(id)
		r.deleted[id] = true
		delete(r.upserted, id)
	}
	for _, s := range ev.Mutation.Upserted {
		if r.cache.upsert(s) {
			r.cache.Select(s.ID)
		}
		r.upserted[s.ID] = s
		delete(r.deleted, s.ID)
	}
}

// finalize performs the single resync of the session and the single
// notification.
func (r *Reconciler) finalize(ctx context.Context) error {
	r.finalized = true
	if r.message != nil && !r.message.Status.Terminal() {
		r.message.Status = model.MessageError
		r.message.Kind = model.KindError
		r.message.Content = "Error: session ended without a result"
	}

	touched := len(r.upserted) > 0 || len(r.deleted) > 0
	if r.unverified || (touched && !r.verified()) {
		scenes, err := r.source.FetchScenes(ctx, r.cache.ProjectID())
		if err != nil {
			r.logger.Warn("resync failed, keeping optimistic cache", "project_id", r.cache.ProjectID(), "error", err)
			r.notifyIfChanged()
			return fmt.Errorf("resync: %w", err)
		}
		r.cache.Replace(scenes)
		r.metrics.Resync(false)
	} else {
		ids := make([]string, 0, len(r.upserted))
		for id := range r.upserted {
			ids = append(ids, id)
		}
		r.cache.confirm(ids)
		r.metrics.Resync(true)
	}
	r.notifyIfChanged()
	return nil
}

// verified reports whether every scene the session touched is already in
// the cache exactly as the store committed it.
func (r *Reconciler) verified() bool {
	for id, committed := range r.upserted {
		cached, ok := r.cache.Scene(id)
		if !ok || cached.Content != committed.Content || cached.Name != committed.Name ||
			cached.EffectiveDuration() != committed.EffectiveDuration() || cached.OrderIndex != committed.OrderIndex {
			return false
		}
	}
	for id := range r.deleted {
		if _, ok := r.cache.Scene(id); ok {
			return false
		}
	}
	return true
}

func (r *Reconciler) notifyIfChanged() {
	current := r.cache.Scenes()
	if sameScenes(r.before, current) {
		return
	}
	r.before = current
	r.notify(current)
}
