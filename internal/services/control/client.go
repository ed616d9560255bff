package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// baseURL is a placeholder host, requests always go to the socket.
const baseURL = "http://gorsync"

// Client talks to a running daemon.
type Client struct {
	socket     string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewClient creates a client for the daemon listening on socket.
func NewClient(socket string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socket)
	}
	return &Client{
		socket: socket,
		httpClient: &http.Client{
			Transport: &http.Transport{DialContext: dial},
			Timeout:   30 * time.Second,
		},
		dialer: &websocket.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Submit enqueues a task.
func (c *Client) Submit(ctx context.Context, kind models.TaskKind, args models.TaskArgs) (models.Task, error) {
	var task models.Task
	err := c.do(ctx, http.MethodPost, "/tasks", SubmitRequest{Kind: kind, Args: args}, &task)
	return task, err
}

// Task returns one task including its log.
func (c *Client) Task(ctx context.Context, id string) (models.Task, error) {
	var task models.Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &task)
	return task, err
}

// Tasks lists all retained tasks.
func (c *Client) Tasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := c.do(ctx, http.MethodGet, "/tasks", nil, &tasks)
	return tasks, err
}

// Cancel cancels a queued task.
func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	var resp CancelResponse
	err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, &resp)
	return resp.Cancelled, err
}

// Clear drops finished tasks.
func (c *Client) Clear(ctx context.Context) (int, error) {
	var resp ClearResponse
	err := c.do(ctx, http.MethodPost, "/tasks/clear", nil, &resp)
	return resp.Removed, err
}

// Generations lists the generations at the daemon's target.
func (c *Client) Generations(ctx context.Context) ([]models.Generation, error) {
	var gens []models.Generation
	err := c.do(ctx, http.MethodGet, "/generations", nil, &gens)
	return gens, err
}

// Generation looks up a generation by name or alias.
func (c *Client) Generation(ctx context.Context, name string) (models.Generation, error) {
	var gen models.Generation
	err := c.do(ctx, http.MethodGet, "/generations/"+url.PathEscape(name), nil, &gen)
	return gen, err
}

// Follow calls onLine for every log line of a task until it finishes or ctx is done.
func (c *Client) Follow(ctx context.Context, id string, onLine func(string)) error {
	conn, resp, err := c.dialer.DialContext(ctx, "ws://gorsync/tasks/"+url.PathEscape(id)+"/follow", nil)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			return decodeError(resp)
		}
		return c.unreachable(err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("following task %s: %w", id, err)
		}
		onLine(string(msg))
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.unreachable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) unreachable(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.TransferError(fmt.Sprintf("daemon not reachable on %s, is it running?", c.socket), err)
	}
	return err
}

// decodeError turns an error response back into a classified error.
func decodeError(resp *http.Response) error {
	var e ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if e.Kind == "" {
		return errors.New(e.Message)
	}
	return &models.Error{Kind: e.Kind, Msg: e.Message}
}
