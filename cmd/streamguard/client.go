// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/streamguard/internal/config"
)

// apiClient talks to a running daemon. Manual emergency control goes through
// the daemon so the controller stays the only writer of its state.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(cfg config.Config, override string, timeout time.Duration) *apiClient {
	base := override
	if base == "" {
		base = "http://" + cfg.API.ListenAddr
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: cfg.API.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// do sends body as JSON and decodes a 2xx answer into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ae)
		msg := ae.Error
		if ae.Detail != "" {
			msg += ": " + ae.Detail
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s (HTTP %d)", method, path, msg, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
