// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/streamguard/internal/collab"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config selects the OBS endpoint and the two scenes.
type Config struct {
	URL           string // ws://127.0.0.1:4455
	Password      string
	LiveScene     string
	FallbackScene string
	Timeout       time.Duration // dial plus one request; default 10s
}

// Controller is a StreamController. It keeps one connection and redials after
// any failure. Requests are serialized.
type Controller struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ collab.StreamController = (*Controller)(nil)

// New creates a Controller. No connection is made until the first request.
func New(cfg Config) *Controller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Controller{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.Timeout, Proxy: http.ProxyFromEnvironment},
		logger: xglog.WithComponent("obs"),
	}
}

// SwitchToFallback makes the fallback scene the program scene.
func (c *Controller) SwitchToFallback(ctx context.Context, reason string) error {
	if err := c.setScene(ctx, c.cfg.FallbackScene); err != nil {
		return collab.CallError("obs", "switch to fallback", err)
	}
	logger := xglog.WithContext(ctx, c.logger)
	logger.Warn().
		Str(xglog.FieldEvent, "obs.fallback").
		Str(xglog.FieldReason, reason).
		Str("scene", c.cfg.FallbackScene).
		Msg("switched program to fallback scene")
	return nil
}

// SwitchToLive makes the live scene the program scene.
func (c *Controller) SwitchToLive(ctx context.Context) error {
	if err := c.setScene(ctx, c.cfg.LiveScene); err != nil {
		return collab.CallError("obs", "switch to live", err)
	}
	logger := xglog.WithContext(ctx, c.logger)
	logger.Info().
		Str(xglog.FieldEvent, "obs.live").
		Str("scene", c.cfg.LiveScene).
		Msg("switched program to live scene")
	return nil
}

// IsOnFallback reports whether the program scene is the fallback scene.
func (c *Controller) IsOnFallback(ctx context.Context) (bool, error) {
	raw, err := c.call(ctx, "GetCurrentProgramScene", nil)
	if err != nil {
		return false, collab.CallError("obs", "get program scene", err)
	}
	var data struct {
		SceneName               string `json:"sceneName"`
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return false, collab.CallError("obs", "get program scene", err)
	}
	name := data.SceneName
	if name == "" {
		name = data.CurrentProgramSceneName
	}
	return name == c.cfg.FallbackScene, nil
}

// Close drops the connection.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

func (c *Controller) setScene(ctx context.Context, scene string) error {
	if scene == "" {
		return errors.New("scene name not configured")
	}
	_, err := c.call(ctx, "SetCurrentProgramScene", map[string]string{"sceneName": scene})
	return err
}

func (c *Controller) call(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if c.conn == nil {
		if err := c.connectLocked(ctx, deadline); err != nil {
			return nil, err
		}
	}

	resp, err := c.roundTripLocked(requestType, data, deadline)
	if err != nil {
		_ = c.dropLocked()
		return nil, err
	}
	if !resp.RequestStatus.Result {
		return nil, fmt.Errorf("%s rejected: code %d %s", requestType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
	}
	return resp.ResponseData, nil
}

func (c *Controller) connectLocked(ctx context.Context, deadline time.Time) error {
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.Close()
		return fmt.Errorf("read hello: %w", err)
	}
	if msg.Op != opHello {
		_ = conn.Close()
		return fmt.Errorf("expected hello, got op %d", msg.Op)
	}
	var h hello
	if err := json.Unmarshal(msg.D, &h); err != nil {
		_ = conn.Close()
		return fmt.Errorf("decode hello: %w", err)
	}

	id := identify{RPCVersion: rpcVersion}
	if h.Authentication != nil {
		if c.cfg.Password == "" {
			_ = conn.Close()
			return errors.New("server requires authentication but no password is configured")
		}
		id.Authentication = authResponse(c.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := writeOp(conn, opIdentify, id); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send identify: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.Close()
		return fmt.Errorf("read identified: %w", err)
	}
	if msg.Op != opIdentified {
		_ = conn.Close()
		return fmt.Errorf("expected identified, got op %d", msg.Op)
	}
	var ack identified
	_ = json.Unmarshal(msg.D, &ack)

	c.logger.Debug().
		Str(xglog.FieldEvent, "obs.connected").
		Str("server_version", h.OBSWebSocketVersion).
		Int("rpc_version", ack.NegotiatedRPCVersion).
		Msg("connected to OBS websocket")
	c.conn = conn
	return nil
}

func (c *Controller) roundTripLocked(requestType string, data any, deadline time.Time) (*requestResponse, error) {
	_ = c.conn.SetReadDeadline(deadline)
	_ = c.conn.SetWriteDeadline(deadline)

	req := request{RequestType: requestType, RequestID: uuid.NewString(), RequestData: data}
	if err := writeOp(c.conn, opRequest, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", requestType, err)
	}

	// Skip events and responses to abandoned requests.
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("read %s response: %w", requestType, err)
		}
		if msg.Op != opRequestResponse {
			continue
		}
		var resp requestResponse
		if err := json.Unmarshal(msg.D, &resp); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", requestType, err)
		}
		if resp.RequestID == req.RequestID {
			return &resp, nil
		}
	}
}

func (c *Controller) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func writeOp(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return conn.WriteJSON(message{Op: op, D: raw})
}
