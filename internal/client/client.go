// Package client provides an HTTP and websocket client for the convel server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbakker/convel-go/internal/kb"
	"github.com/mbakker/convel-go/internal/metrics"
	"github.com/mbakker/convel-go/internal/models"
)

// Client talks to a running convel server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses the CONVEL_SERVER_URL env var or defaults to
// localhost:8475. Timeout can be configured via CONVEL_CLIENT_TIMEOUT.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CONVEL_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8475"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := 2 * time.Minute // annotation waits on model inference
	if t := os.Getenv("CONVEL_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type annotateResponse struct {
	Conversation []models.AnnotatedTurn `json:"conversation"`
}

// Annotate submits a whole conversation for annotation.
func (c *Client) Annotate(ctx context.Context, conv []models.Turn) ([]models.AnnotatedTurn, error) {
	reqBody, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}

	var resp annotateResponse
	if err := c.post(ctx, "/annotate", reqBody, &resp); err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

// Stats mirrors the server's /stats payload.
type Stats struct {
	Pipeline      metrics.Snapshot `json:"pipeline"`
	KnowledgeBase *kb.Stats        `json:"knowledge_base,omitempty"`
}

// Stats fetches pipeline timing and knowledge-base counts.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/stats", &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Healthy reports whether the server answers its health check.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, path string, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("server error: %s", errResp.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(body))
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Session is an incremental annotation session over a websocket. Turns are
// sent one at a time; each reply carries the whole re-annotated conversation.
type Session struct {
	conn *websocket.Conn
	id   string
}

type sessionTurn struct {
	Speaker   string `json:"speaker"`
	Utterance string `json:"utterance"`
}

type sessionResponse struct {
	Session      string                 `json:"session"`
	Conversation []models.AnnotatedTurn `json:"conversation,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// OpenSession dials the server's conversation endpoint.
func (c *Client) OpenSession(ctx context.Context) (*Session, error) {
	wsURL := c.baseURL + "/conversations/ws"
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return &Session{conn: conn}, nil
}

// ID returns the server-assigned session identifier, known after the first
// Send.
func (s *Session) ID() string {
	return s.id
}

// Send submits one turn and returns the re-annotated conversation so far.
// A server-side error for this turn is returned as an error; the session
// stays usable.
func (s *Session) Send(speaker, utterance string) ([]models.AnnotatedTurn, error) {
	if err := s.conn.WriteJSON(sessionTurn{Speaker: speaker, Utterance: utterance}); err != nil {
		return nil, fmt.Errorf("send turn: %w", err)
	}

	var resp sessionResponse
	if err := s.conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	s.id = resp.Session
	if resp.Error != "" {
		return nil, fmt.Errorf("annotate turn: %s", resp.Error)
	}
	return resp.Conversation, nil
}

// Close shuts the session down.
func (s *Session) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
