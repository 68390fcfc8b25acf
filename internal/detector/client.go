package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Detection is one classified object in a submitted frame.
type Detection struct {
	ClassID    int       `json:"classId"`
	ClassName  string    `json:"className"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

// Result is the detector service response for one frame.
type Result struct {
	Model      string      `json:"model"`
	Detections []Detection `json:"detections"`
}

// Best returns the highest-confidence detection, optionally filtered by a
// case-insensitive class-name match. Nil when nothing qualifies.
func (r *Result) Best(label string) *Detection {
	var best *Detection
	for i := range r.Detections {
		d := &r.Detections[i]
		if label != "" && !strings.EqualFold(d.ClassName, label) {
			continue
		}
		if best == nil || d.Confidence > best.Confidence {
			best = d
		}
	}
	return best
}

// Client calls the external image-detection microservice.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with a bounded timeout. With skip set the client
// returns a canned detection, which keeps dev setups working without the
// service.
func New(baseURL, apiKey string, skip bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Detect submits an image with the confidence threshold as a query
// parameter. A transport failure or non-2xx response is an error; the caller
// must treat it as a service fault, never as "no detection".
func (c *Client) Detect(ctx context.Context, image []byte, filename string, confidence float64) (*Result, error) {
	if c.Skip {
		return &Result{
			Model:      "mock",
			Detections: []Detection{{ClassID: 0, ClassName: "person", Confidence: 0.95, Box: []float64{0, 0, 1, 1}}},
		}, nil
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image required")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := c.BaseURL + "/detect?confidence=" + strconv.FormatFloat(confidence, 'f', -1, 64)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detector error %s: %s", resp.Status, string(bodyBytes))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Health checks if the detector service is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("detector unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("detector unhealthy: %s", resp.Status)
	}
	return nil
}
