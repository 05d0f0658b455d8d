// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline queries the content generator for its buffer depth.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/streamguard/internal/collab"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 64 << 10
)

// Client is a collab.ContentPipeline backed by an HTTP JSON endpoint that
// returns {"buffer_depth_seconds": N}.
type Client struct {
	url        string
	httpClient *http.Client
}

var _ collab.ContentPipeline = (*Client)(nil)

// NewClient creates a client for the buffer endpoint at url.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &Client{
		url: strings.TrimSpace(url),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
	}
}

type bufferResponse struct {
	BufferDepthSeconds *int `json:"buffer_depth_seconds"`
}

// BufferDepthSeconds fetches the current buffer depth.
func (c *Client) BufferDepthSeconds(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, collab.CallError("pipeline", "buffer depth", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, collab.CallError("pipeline", "buffer depth", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return 0, collab.CallError("pipeline", "buffer depth", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var body bufferResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return 0, collab.CallError("pipeline", "buffer depth", fmt.Errorf("decode: %w", err))
	}
	if body.BufferDepthSeconds == nil {
		return 0, collab.CallError("pipeline", "buffer depth", fmt.Errorf("response lacks buffer_depth_seconds"))
	}
	if *body.BufferDepthSeconds < 0 {
		return 0, collab.CallError("pipeline", "buffer depth", fmt.Errorf("negative depth %d", *body.BufferDepthSeconds))
	}
	return *body.BufferDepthSeconds, nil
}
