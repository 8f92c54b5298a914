// Package apiclient talks to the scene generation API over HTTP and follows
// session streams over WebSocket.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/pkg/response"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx answer of the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client is an authenticated API client.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: defaultTimeout,
	}
}

func (c *Client) projectURL(projectID, path string) string {
	return fmt.Sprintf("%s/api/projects/%s%s", c.baseURL, url.PathEscape(projectID), path)
}

// send executes a prepared agent and decodes a 2xx body into out.
func (c *Client) send(ctx context.Context, a *fiber.Agent, out interface{}) error {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	a.Timeout(timeout)

	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("request failed: %w", errors.Join(errs...))
	}
	if status < 200 || status >= 300 {
		apiErr := &APIError{Status: status}
		var envelope response.ErrorResponse
		if json.Unmarshal(body, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Generate starts a turn.
func (c *Client) Generate(ctx context.Context, projectID string, req model.GenerateRequest) (*model.GenerateResponse, error) {
	var out model.GenerateResponse
	if err := c.send(ctx, fiber.Post(c.projectURL(projectID, "/generate")).JSON(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scenes returns the authoritative scene list.
func (c *Client) Scenes(ctx context.Context, projectID string) (*model.ScenesResponse, error) {
	var out model.ScenesResponse
	if err := c.send(ctx, fiber.Get(c.projectURL(projectID, "/scenes")), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchScenes implements reconcile.SceneSource.
func (c *Client) FetchScenes(ctx context.Context, projectID string) ([]model.Scene, error) {
	out, err := c.Scenes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return out.Scenes, nil
}

func (c *Client) Restore(ctx context.Context, projectID, operationID string) (*model.RestoreResponse, error) {
	var out model.RestoreResponse
	path := "/operations/" + url.PathEscape(operationID) + "/restore"
	if err := c.send(ctx, fiber.Post(c.projectURL(projectID, path)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Cancel(ctx context.Context, projectID string) (*model.CancelResponse, error) {
	var out model.CancelResponse
	if err := c.send(ctx, fiber.Post(c.projectURL(projectID, "/cancel")), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Messages(ctx context.Context, projectID string, limit int) (*model.MessagesResponse, error) {
	var out model.MessagesResponse
	a := fiber.Get(c.projectURL(projectID, "/messages")).QueryString(fmt.Sprintf("limit=%d", limit))
	if err := c.send(ctx, a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamURL turns the stream path of a GenerateResponse into a ws:// URL.
func (c *Client) StreamURL(path string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

// Follow reads a session stream and hands every event to fn, in order, until
// finalized is delivered, fn fails or ctx ends.
func (c *Client) Follow(ctx context.Context, streamPath string, fn func(model.StreamEvent) error) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.StreamURL(streamPath), header)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream closed before finalized: %w", err)
		}
		ev, err := decodeFrame(data)
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		if err := fn(*ev); err != nil {
			return err
		}
		if ev.Type == model.EventFinalized {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// decodeFrame returns the stream event of a frame, nil for control frames.
func decodeFrame(data []byte) (*model.StreamEvent, error) {
	var head model.WSMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed stream frame: %w", err)
	}
	switch head.Type {
	case model.WSMessageTypePong, model.WSMessageTypePing:
		return nil, nil
	case model.WSMessageTypeError:
		var msg model.WSErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed stream error: %w", err)
		}
		return nil, &APIError{Code: msg.Error.Code, Message: msg.Error.Message}
	}
	var ev model.StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed stream event: %w", err)
	}
	return &ev, nil
}
