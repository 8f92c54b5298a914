package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bazaar-it/bazaar-sub000/internal/client"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

// ContentRequest is the input of one content generation call.
type ContentRequest struct {
	ProjectID string
	Prompt    string
	Name      string
	Duration  int
	// Current is the scene being edited, nil for new scenes.
	Current *model.Scene
	Style   *StyleSummary
}

// ContentGenerator produces scene content. It is a black box to the
// executor: it either returns content or fails.
type ContentGenerator interface {
	Generate(ctx context.Context, req ContentRequest) (string, error)
}

const sceneSystemPrompt = `You write a single self-contained React component for one scene of a motion video.
Rules:
- Export default a function component named Scene.
- Use only inline styles; no imports besides React.
- Use absolute frame timing relative to the scene start; the scene lasts %d frames at %d fps.
- Reply with code only, no markdown fences, no commentary.`

// LLMContentGenerator generates scene code with a chat-completion model and
// falls back to a template when the model is not configured.
type LLMContentGenerator struct {
	chat     client.ChatClient
	fallback ContentGenerator
	fps      int
	logger   *slog.Logger
}

// NewLLMContentGenerator creates a new LLMContentGenerator
func NewLLMContentGenerator(chat client.ChatClient, fps int, logger *slog.Logger) *LLMContentGenerator {
	if fps <= 0 {
		fps = model.FramesPerSecond
	}
	return &LLMContentGenerator{
		chat:     chat,
		fallback: TemplateGenerator{},
		fps:      fps,
		logger:   logger,
	}
}

// Generate implements ContentGenerator.
func (g *LLMContentGenerator) Generate(ctx context.Context, req ContentRequest) (string, error) {
	if g.chat == nil || !g.chat.IsConfigured() {
		return g.fallback.Generate(ctx, req)
	}

	duration := req.Duration
	if duration <= 0 {
		duration = model.DefaultSceneDuration
	}
	system := fmt.Sprintf(sceneSystemPrompt, duration, g.fps)

	var user strings.Builder
	user.WriteString("Request: " + req.Prompt + "\n")
	if req.Style != nil {
		if len(req.Style.Palette) > 0 {
			user.WriteString("Project palette: " + strings.Join(req.Style.Palette, ", ") + "\n")
		}
		if len(req.Style.Fonts) > 0 {
			user.WriteString("Project fonts: " + strings.Join(req.Style.Fonts, ", ") + "\n")
		}
	}
	if req.Current != nil {
		user.WriteString("Current scene code to modify:\n" + req.Current.Content + "\n")
	}

	content, err := g.chat.ChatCompletion(ctx, system, user.String(), client.WithMaxTokens(4096), client.WithTemperature(0.4))
	if err != nil {
		g.logger.Warn("content generation failed", "project_id", req.ProjectID, "error", err)
		return "", fmt.Errorf("generate scene content: %w", err)
	}
	content = stripCodeFence(content)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("generate scene content: empty response")
	}
	return content, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// TemplateGenerator renders deterministic scene code without a model.
type TemplateGenerator struct{}

const sceneTemplate = `export default function Scene() {
  // %s
  return (
    <div style={{ width: "100%%", height: "100%%", background: "%s", display: "flex", alignItems: "center", justifyContent: "center" }}>
      <h1 style={{ color: "%s", fontFamily: "%s" }}>%s</h1>
    </div>
  );
}`

// Generate implements ContentGenerator.
func (TemplateGenerator) Generate(_ context.Context, req ContentRequest) (string, error) {
	background, foreground, font := "#0f172a", "#f8fafc", "Inter"
	if req.Style != nil {
		if len(req.Style.Palette) > 0 {
			background = req.Style.Palette[0]
		}
		if len(req.Style.Palette) > 1 {
			foreground = req.Style.Palette[1]
		}
		if len(req.Style.Fonts) > 0 {
			font = req.Style.Fonts[0]
		}
	}
	title := req.Name
	if title == "" {
		title = "Scene"
	}
	prompt := strings.ReplaceAll(req.Prompt, "\n", " ")
	if req.Current != nil {
		prompt = "revision: " + prompt
	}
	return fmt.Sprintf(sceneTemplate, prompt, background, foreground, font, title), nil
}
