// Package platform talks to the chat platform: a REST client for room
// operations and a websocket gateway for voice-state events.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// AuditReasonHeader carries the human-readable reason shown in the platform's audit log.
const AuditReasonHeader = "X-Audit-Log-Reason"

type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// APIError is a non-2xx platform response.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: platform returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: platform returned %d: %s", e.Op, e.Status, e.Message)
}

type errorBody struct {
	Message string `json:"message"`
}

// Client implements core.Platform over the platform REST API.
// Requests are not retried: a duplicated clone would leave an unmanaged room.
type Client struct {
	http *resty.Client
}

var _ core.Platform = (*Client)(nil)

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &Client{http: c}
}

func (c *Client) FetchRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("room", string(id)).
		SetResult(&room).
		SetError(&eb).
		Get("/rooms/{room}")
	if err := check("fetch room", resp, err, &eb); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) CloneRoom(ctx context.Context, master domain.RoomID, o domain.RoomOverrides) (*domain.Room, error) {
	var room domain.Room
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("room", string(master)).
		SetBody(o).
		SetResult(&room).
		SetError(&eb).
		Post("/rooms/{room}/clone")
	if err := check("clone room", resp, err, &eb); err != nil {
		return nil, err
	}
	log.Debug().Str("module", "platform").Str("master", string(master)).Str("room", string(room.ID)).Msg("room cloned")
	return &room, nil
}

func (c *Client) SetRoomPermissionOverride(ctx context.Context, room domain.RoomID, member domain.MemberID, caps []domain.Capability) error {
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"room": string(room), "member": string(member)}).
		SetBody(map[string]any{"allow": caps}).
		SetError(&eb).
		Put("/rooms/{room}/permissions/{member}")
	return check("set permission override", resp, err, &eb)
}

func (c *Client) MoveMember(ctx context.Context, community domain.CommunityID, member domain.MemberID, room domain.RoomID) error {
	return c.setVoiceRoom(ctx, "move member", community, member, map[string]any{"room_id": room})
}

// DisconnectMember clears the member's voice room.
func (c *Client) DisconnectMember(ctx context.Context, community domain.CommunityID, member domain.MemberID) error {
	return c.setVoiceRoom(ctx, "disconnect member", community, member, map[string]any{"room_id": nil})
}

func (c *Client) setVoiceRoom(ctx context.Context, op string, community domain.CommunityID, member domain.MemberID, body map[string]any) error {
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"community": string(community), "member": string(member)}).
		SetBody(body).
		SetError(&eb).
		Patch("/communities/{community}/members/{member}/voice")
	return check(op, resp, err, &eb)
}

func (c *Client) DeleteRoom(ctx context.Context, room domain.RoomID, reason string) error {
	var eb errorBody
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("room", string(room)).
		SetError(&eb)
	if reason != "" {
		req.SetHeader(AuditReasonHeader, reason)
	}
	resp, err := req.Delete("/rooms/{room}")
	err = check("delete room", resp, err, &eb)
	if errors.Is(err, core.ErrRoomNotFound) {
		log.Debug().Str("module", "platform").Str("room", string(room)).Msg("room already deleted")
		return nil
	}
	return err
}

func check(op string, resp *resty.Response, err error, eb *errorBody) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, core.ErrRoomNotFound)
	}
	if resp.IsError() {
		return &APIError{Op: op, Status: resp.StatusCode(), Message: eb.Message}
	}
	return nil
}
