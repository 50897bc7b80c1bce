package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"marketchat/pkg/protocol"
)

// Collaborator is the REST surface the conversation engine depends on.
type Collaborator interface {
	GetAdDetail(ctx context.Context, adID string) (protocol.AdDetail, error)
	GetOrCreateRoom(ctx context.Context, otherUserID string) (protocol.ChatRoom, error)
	GetRoomMessages(ctx context.Context, roomID string) ([]protocol.Message, error)
	MarkAsRead(ctx context.Context, roomID string) error
	ListRooms(ctx context.Context) ([]protocol.RoomSummary, error)
}

var ErrRequestFailed = errors.New("api: request failed")

// Client talks to the marketchat REST API on behalf of one user.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

func NewClient(baseURL, userID string) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// envelope mirrors response.APIResponse with the payload left raw so each
// call can decode its own data shape.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *Client) GetAdDetail(ctx context.Context, adID string) (protocol.AdDetail, error) {
	var out protocol.AdDetail
	err := c.do(ctx, http.MethodGet, "/ads/"+url.PathEscape(adID), nil, &out)
	return out, err
}

func (c *Client) GetOrCreateRoom(ctx context.Context, otherUserID string) (protocol.ChatRoom, error) {
	body := map[string]string{"user_id": c.userID, "other_user_id": otherUserID}
	var out protocol.ChatRoom
	err := c.do(ctx, http.MethodPost, "/chat/rooms", body, &out)
	return out, err
}

func (c *Client) GetRoomMessages(ctx context.Context, roomID string) ([]protocol.Message, error) {
	var out []protocol.Message
	err := c.do(ctx, http.MethodGet, "/chat/rooms/"+url.PathEscape(roomID)+"/messages?user_id="+url.QueryEscape(c.userID), nil, &out)
	return out, err
}

func (c *Client) MarkAsRead(ctx context.Context, roomID string) error {
	body := map[string]string{"user_id": c.userID}
	return c.do(ctx, http.MethodPost, "/chat/rooms/"+url.PathEscape(roomID)+"/read", body, nil)
}

func (c *Client) ListRooms(ctx context.Context) ([]protocol.RoomSummary, error) {
	var out []protocol.RoomSummary
	err := c.do(ctx, http.MethodGet, "/chat/rooms?user_id="+url.QueryEscape(c.userID), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%w: %s", ErrRequestFailed, msg)
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrRequestFailed)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
