// Package vision proxies the Python computer-vision microservice. The
// service itself (YOLO detection + OCR) is an external collaborator; this
// client only forwards images and relays its JSON verbatim.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eleni-ai/shepherd/internal/fault"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Detect, OCR, Navigate and Analyze mirror the microservice routes. Each
// takes raw image bytes and returns the provider's decoded JSON object.

func (c *Client) Detect(ctx context.Context, image []byte) (map[string]any, error) {
	return c.post(ctx, "/detect", image)
}

func (c *Client) OCR(ctx context.Context, image []byte) (map[string]any, error) {
	return c.post(ctx, "/ocr", image)
}

func (c *Client) Navigate(ctx context.Context, image []byte) (map[string]any, error) {
	return c.post(ctx, "/navigate", image)
}

func (c *Client) Analyze(ctx context.Context, image []byte) (map[string]any, error) {
	return c.post(ctx, "/analyze", image)
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fault.Internal(err, "create request")
	}
	res, err := c.client.Do(req)
	if err != nil {
		return fault.Upstream(err, "vision service unreachable")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fault.Upstream(fmt.Errorf("status %d", res.StatusCode), "vision service unhealthy")
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, image []byte) (map[string]any, error) {
	if len(image) == 0 {
		return nil, fault.InvalidInput("image is required")
	}

	payload, err := json.Marshal(map[string]string{
		"imageBase64": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, fault.Internal(err, "marshal vision request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Internal(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Upstream(err, "vision request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fault.Upstream(fmt.Errorf("status %d: %s", res.StatusCode, string(detail)), "vision service error")
	}

	var parsed map[string]any
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fault.Upstream(err, "decode vision response")
	}
	return parsed, nil
}
