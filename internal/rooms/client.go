// Package rooms is a client for the external room REST service: room
// creation, the existence check used to join, and message history.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/log"
	"github.com/omochice/roomchat/pkg/protocol"
)

const (
	basePath = "/api/v1/rooms"

	headerRequestID = "X-Request-ID"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 1 << 10
)

var (
	ErrAlreadyExists = errors.New("room already exists")
	ErrNotFound      = errors.New("room not found")
	ErrInvalidRoomID = errors.New("room id is empty")
)

// ServerError is returned for responses that are neither success nor one of
// the distinct room errors.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("room service error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("room service error: status %d: %s", e.StatusCode, e.Body)
}

// Room is the client-side view of a room: only its id.
type Room struct {
	ID string `json:"roomId"`
}

// Client talks to the room service.
type Client struct {
	baseURL     string
	historyPath string
	http        *http.Client
	logger      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithHistoryPath sets the last path segment of the history endpoint.
func WithHistoryPath(p string) Option {
	return func(c *Client) {
		if p = strings.Trim(p, "/"); p != "" {
			c.historyPath = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		historyPath: "messages",
		http:        &http.Client{Timeout: 10 * time.Second},
		logger:      log.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str(log.FieldComponent, "rooms").Logger()
	return c
}

// CreateRoom registers a new room.
func (c *Client) CreateRoom(ctx context.Context, roomID string) (Room, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return Room{}, ErrInvalidRoomID
	}

	resp, err := c.do(ctx, http.MethodPost, basePath+"/", strings.NewReader(roomID), "text/plain")
	if err != nil {
		return Room{}, fmt.Errorf("failed to create room %q: %w", roomID, err)
	}
	defer resp.Body.Close()

	switch {
	case isSuccess(resp.StatusCode):
		return decodeRoom(resp.Body, roomID)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusConflict:
		drain(resp.Body)
		return Room{}, fmt.Errorf("%w: %s", ErrAlreadyExists, roomID)
	default:
		return Room{}, serverError(resp)
	}
}

// JoinRoom checks that the room exists.
func (c *Client) JoinRoom(ctx context.Context, roomID string) (Room, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return Room{}, ErrInvalidRoomID
	}

	resp, err := c.do(ctx, http.MethodGet, roomPath(roomID), nil, "")
	if err != nil {
		return Room{}, fmt.Errorf("failed to join room %q: %w", roomID, err)
	}
	defer resp.Body.Close()

	switch {
	case isSuccess(resp.StatusCode):
		return decodeRoom(resp.Body, roomID)
	case isMissing(resp.StatusCode):
		drain(resp.Body)
		return Room{}, fmt.Errorf("%w: %s", ErrNotFound, roomID)
	default:
		return Room{}, serverError(resp)
	}
}

// FetchHistory returns the stored messages of a room in server order.
func (c *Client) FetchHistory(ctx context.Context, roomID string) ([]protocol.Message, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrInvalidRoomID
	}

	resp, err := c.do(ctx, http.MethodGet, roomPath(roomID)+"/"+c.historyPath, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history of %q: %w", roomID, err)
	}
	defer resp.Body.Close()

	switch {
	case isSuccess(resp.StatusCode):
	case isMissing(resp.StatusCode):
		drain(resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, roomID)
	default:
		return nil, serverError(resp)
	}

	var msgs []protocol.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode history of %q: %w", roomID, err)
	}
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	return msgs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	req.Header.Set(headerRequestID, reqID)

	start := time.Now()
	resp, err := c.http.Do(req)

	ev := c.logger.Debug().
		Str(log.FieldRequestID, reqID).
		Str(log.FieldMethod, method).
		Str(log.FieldPath, path).
		Float64(log.FieldLatency, float64(time.Since(start).Milliseconds()))
	if err != nil {
		ev.Err(err).Msg("room service request failed")
		return nil, err
	}
	ev.Int(log.FieldStatus, resp.StatusCode).Msg("room service request completed")
	return resp, nil
}

func roomPath(roomID string) string {
	return basePath + "/" + url.PathEscape(roomID)
}

func decodeRoom(r io.Reader, fallbackID string) (Room, error) {
	var room Room
	if err := json.NewDecoder(r).Decode(&room); err != nil && !errors.Is(err, io.EOF) {
		return Room{}, fmt.Errorf("failed to decode room: %w", err)
	}
	if room.ID == "" {
		room.ID = fallbackID
	}
	return room, nil
}

func serverError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxErrorBody))
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func isMissing(code int) bool {
	return code == http.StatusBadRequest || code == http.StatusNotFound
}
