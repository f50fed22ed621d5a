package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/petpixie/pixie/pkg/generation"
	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/sse"
)

// ErrJobNotFound is returned by Poll for IDs the server does not know
var ErrJobNotFound = errors.New("job not found")

// Stream is an open push subscription. Next returns the data of the next
// event and an error once the stream has ended.
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// Transport is how a Manager talks to the server
type Transport interface {
	Start(ctx context.Context, req generation.StartRequest) (generation.StartResult, error)
	Open(ctx context.Context, id string) (Stream, error)
	Poll(ctx context.Context, id string) (models.SnapshotPatch, error)
}

// HTTPTransport speaks to the pixie HTTP API
type HTTPTransport struct {
	baseURL        string
	client         *http.Client
	requestTimeout time.Duration
}

// NewHTTPTransport creates a transport for the server at baseURL. client
// must not carry a Timeout since streams are long-lived; nil uses a default.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         client,
		requestTimeout: 30 * time.Second,
	}
}

type startBody struct {
	ImageURL   string `json:"imageUrl"`
	Prompt     string `json:"prompt,omitempty"`
	NumOutputs int    `json:"numOutputs,omitempty"`
}

type startResponse struct {
	ID     *string          `json:"id"`
	Status models.JobStatus `json:"status"`
	Detail string           `json:"detail"`
	Error  string           `json:"error"`
}

// Start calls POST /api/generate. A rejected job is a failed result, not an
// error; errors are reserved for transport failures.
func (t *HTTPTransport) Start(ctx context.Context, req generation.StartRequest) (generation.StartResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	body, err := json.Marshal(startBody{ImageURL: req.ImageURL, Prompt: req.Prompt, NumOutputs: req.NumOutputs})
	if err != nil {
		return generation.StartResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return generation.StartResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return generation.StartResult{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var out startResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode != http.StatusOK {
		detail := out.Detail
		if detail == "" {
			detail = out.Error
		}
		if detail == "" {
			detail = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return generation.StartResult{Status: models.JobStatusFailed, Detail: detail}, nil
	}
	if decodeErr != nil {
		return generation.StartResult{}, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if out.ID == nil || *out.ID == "" {
		return generation.StartResult{}, errors.New("server returned no job id")
	}
	return generation.StartResult{ID: *out.ID, Status: out.Status}, nil
}

// Open subscribes to GET /api/events. The stream lives as long as ctx.
func (t *HTTPTransport) Open(ctx context.Context, id string) (Stream, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/api/events?id="+url.QueryEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream rejected with status %d", resp.StatusCode)
	}
	return &httpStream{body: resp.Body, reader: sse.NewReader(resp.Body)}, nil
}

// Poll calls GET /api/status
func (t *HTTPTransport) Poll(ctx context.Context, id string) (models.SnapshotPatch, error) {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/api/status?id="+url.QueryEscape(id), nil)
	if err != nil {
		return models.SnapshotPatch{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return models.SnapshotPatch{}, fmt.Errorf("failed to poll status: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return models.SnapshotPatch{}, ErrJobNotFound
	default:
		io.Copy(io.Discard, resp.Body)
		return models.SnapshotPatch{}, fmt.Errorf("status poll returned %d", resp.StatusCode)
	}

	var patch models.SnapshotPatch
	if err := json.NewDecoder(resp.Body).Decode(&patch); err != nil {
		return models.SnapshotPatch{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return patch, nil
}

type httpStream struct {
	body   io.ReadCloser
	reader *sse.Reader
}

func (s *httpStream) Next() ([]byte, error) {
	ev, err := s.reader.Next()
	if err != nil {
		return nil, err
	}
	return ev.Data, nil
}

func (s *httpStream) Close() error {
	return s.body.Close()
}
