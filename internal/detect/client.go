// Package detect runs an open-vocabulary object detector over video frames.
package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

const DefaultModel = "yolo_world/l"

// Prediction is one raw detector hit, center-based as returned by the server.
type Prediction struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
}

// Frame is the detector output for one image
type Frame struct {
	Width       float64
	Height      float64
	Predictions []Prediction
}

// Detector infers open-vocabulary detections for one image.
type Detector interface {
	Infer(ctx context.Context, image []byte, classes []string) (Frame, error)
}

// Client talks to an inference server hosting a YOLO-World model.
type Client struct {
	baseURL    string
	model      string
	confidence float64
	http       *http.Client
}

func NewClient(baseURL, model string, confidence float64, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:      model,
		confidence: confidence,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type inferImage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type inferRequest struct {
	Image      inferImage `json:"image"`
	Text       []string   `json:"text"`
	Confidence float64    `json:"confidence"`
	Version    string     `json:"yolo_world_version_id"`
}

type inferResponse struct {
	Image struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"image"`
	Predictions []Prediction `json:"predictions"`
}

func (c *Client) Infer(ctx context.Context, image []byte, classes []string) (Frame, error) {
	if c.baseURL == "" {
		return Frame{}, fmt.Errorf("detector URL is not configured")
	}
	payload, err := json.Marshal(inferRequest{
		Image:      inferImage{Type: "base64", Value: base64.StdEncoding.EncodeToString(image)},
		Text:       classes,
		Confidence: c.confidence,
		Version:    versionOf(c.model),
	})
	if err != nil {
		return Frame{}, fmt.Errorf("marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/yolo_world/infer", bytes.NewReader(payload))
	if err != nil {
		return Frame{}, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(request)
	if err != nil {
		return Frame{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Frame{}, fmt.Errorf("detector status %s", resp.Status)
	}

	var decoded inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Frame{}, fmt.Errorf("decode response: %w", err)
	}
	return Frame{
		Width:       decoded.Image.Width,
		Height:      decoded.Image.Height,
		Predictions: decoded.Predictions,
	}, nil
}

// versionOf maps "yolo_world/l" to the server's version id "l".
func versionOf(model string) string {
	if _, v, ok := strings.Cut(model, "/"); ok {
		return v
	}
	return model
}
