package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bazaar-it/bazaar-sub000/internal/auth"
	"github.com/bazaar-it/bazaar-sub000/internal/client"
	"github.com/bazaar-it/bazaar-sub000/internal/config"
	"github.com/bazaar-it/bazaar-sub000/internal/handler"
	"github.com/bazaar-it/bazaar-sub000/internal/lock"
	"github.com/bazaar-it/bazaar-sub000/internal/metrics"
	"github.com/bazaar-it/bazaar-sub000/internal/middleware"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/service"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
	ws "github.com/bazaar-it/bazaar-sub000/internal/websocket"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testProject   = "project-1"
)

// heldDispatcher keeps accepted sessions until the test runs them, so a
// session can be observed while it still holds the project lock.
type heldDispatcher struct {
	mu       sync.Mutex
	payloads []model.GenerationPayload
}

func (d *heldDispatcher) Dispatch(_ context.Context, p model.GenerationPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, p)
	return nil
}

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	scenes     store.SceneStore
	runner     *service.SessionRunner
	dispatcher *heldDispatcher
}

// setupApp creates a Fiber app wired like cmd/server but on miniredis, with
// an unconfigured model client so planning and generation use the
// deterministic fallbacks.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	validate := validator.New()
	m := metrics.New()

	// External clients stay unconfigured so services use fallbacks
	groqClient := client.NewGroqClient(&config.GroqConfig{})

	scenes := store.NewRedisSceneStore(redisClient)
	ledger := store.NewRedisLedger(redisClient, time.Hour)
	sessions := store.NewSessionStore(redisClient, time.Minute)
	messages := store.NewMessageStore(redisClient)
	projectLock := lock.New(redisClient, time.Minute)
	hub := ws.NewHub(log, time.Minute)

	builder := service.NewContextBuilder(scenes, 10)
	planner := service.NewFallbackPlanner(
		service.NewLLMPlanner(groqClient, validate, model.FramesPerSecond),
		service.NewRulePlanner(model.FramesPerSecond),
		log,
	)
	executor := service.NewExecutor(scenes, service.NewLLMContentGenerator(groqClient, model.FramesPerSecond, log),
		service.ExecutorConfig{OperationTimeout: 10 * time.Second, BatchConcurrency: 2}, m, log)
	runner := service.NewSessionRunner(service.RunnerDeps{
		Sessions: sessions,
		Messages: messages,
		Lock:     projectLock,
		Builder:  builder,
		Planner:  planner,
		Executor: executor,
		Ledger:   ledger,
		Sink:     hub,
		Metrics:  m,
		Logger:   log,
	})
	dispatcher := &heldDispatcher{}

	generationService := service.NewGenerationService(builder, projectLock, sessions, messages, hub, dispatcher, m, log)
	sceneService := service.NewSceneService(scenes)
	restoreService := service.NewRestoreService(ledger, scenes, projectLock, log)

	verifier := auth.NewHMACVerifier(testJWTSecret)

	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	router := &handler.Router{
		Generation:  handler.NewGenerationHandler(generationService, validate),
		Scenes:      handler.NewSceneHandler(sceneService, restoreService),
		Auth:        handler.NewAuthHandler(verifier),
		Hub:         hub,
		Metrics:     m,
		RateLimiter: middleware.NewRateLimiter(redisClient, log),
		APIAuth:     middleware.Authenticate(verifier),
		// Use very high rate limits so tests don't get blocked
		Limits: handler.Limits{GeneratePerMin: 10000, RestorePerMin: 10000},
		Health: func() fiber.Map {
			return fiber.Map{"redis": true, "groq": false, "r2": false}
		},
	}
	router.Register(app)

	return &testApp{app: app, scenes: scenes, runner: runner, dispatcher: dispatcher}
}

// seedScenes stores scenes for testProject in the given order.
func (ta *testApp) seedScenes(t *testing.T, scenes ...model.Scene) {
	t.Helper()
	for i, s := range scenes {
		s.ProjectID = testProject
		s.OrderIndex = i
		if _, err := ta.scenes.CommitScene(context.Background(), s); err != nil {
			t.Fatalf("failed to seed scene %s: %v", s.ID, err)
		}
	}
}

// runSessions runs every accepted session to the end.
func (ta *testApp) runSessions(t *testing.T) {
	t.Helper()
	ta.dispatcher.mu.Lock()
	payloads := ta.dispatcher.payloads
	ta.dispatcher.payloads = nil
	ta.dispatcher.mu.Unlock()
	for _, p := range payloads {
		if err := ta.runner.Run(context.Background(), p); err != nil {
			t.Fatalf("session %s failed: %v", p.SessionID, err)
		}
	}
}

func defaultScenes() []model.Scene {
	return []model.Scene{
		{ID: "intro", Name: "Intro", Duration: 90, Content: "intro"},
		{ID: "product", Name: "Product", Duration: 150, Content: "product"},
		{ID: "outro", Name: "Outro", Duration: 120, Content: "outro"},
	}
}

// generateToken creates an HMAC session token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.NewHMACVerifier(testJWTSecret).Mint("test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// assertErrorCode checks the code of an error envelope.
func assertErrorCode(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	body := parseJSON(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'error' object in response, got %v", body)
	}
	if errObj["code"] != expected {
		t.Errorf("expected error code %s, got %v", expected, errObj["code"])
	}
}

func projectPath(suffix string) string {
	return "/api/projects/" + testProject + suffix
}
