package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/retry"
	"github.com/petpixie/pixie/pkg/tracing"
)

const (
	DefaultBaseURL         = "https://api.replicate.com"
	DefaultModelVersion    = "8beff3369e81422112d93b89ca01426147de542cd4684c244b673b105188fe5f"
	DefaultPrompt          = "fantasy character, digital art, high quality, detailed"
	DefaultNumOutputs      = 4
	DefaultAverageDuration = 60 * time.Second

	maxBodyBytes = 1 << 20
)

var (
	ErrMissingToken   = errors.New("replicate: api token is required")
	ErrMissingVersion = errors.New("replicate: model version is required")
)

// Recorder receives upstream call outcomes. pkg/metrics implements it.
type Recorder interface {
	UpstreamRequest(op, outcome string)
	UpstreamRetry(op string)
}

// Options configures the Replicate client
type Options struct {
	Token           string
	ModelVersion    string
	BaseURL         string
	HTTPClient      *http.Client
	RequestTimeout  time.Duration
	Retry           *retry.Config
	AverageDuration time.Duration
	Logger          *zerolog.Logger
	Tracer          trace.Tracer
	Recorder        Recorder
}

// Client talks to the Replicate predictions API
type Client struct {
	token           string
	version         string
	baseURL         string
	httpClient      *http.Client
	retry           retry.Config
	averageDuration time.Duration
	logger          zerolog.Logger
	tracer          trace.Tracer
	recorder        Recorder
}

// NewClient constructs a client with defaults for everything but credentials
func NewClient(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	version := strings.TrimSpace(opts.ModelVersion)
	if version == "" {
		return nil, ErrMissingVersion
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	retryCfg := retry.DefaultConfig()
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}
	avg := opts.AverageDuration
	if avg <= 0 {
		avg = DefaultAverageDuration
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/petpixie/pixie/pkg/replicate")
	}

	return &Client{
		token:           token,
		version:         version,
		baseURL:         baseURL,
		httpClient:      httpClient,
		retry:           retryCfg,
		averageDuration: avg,
		logger:          logger,
		tracer:          tracer,
		recorder:        opts.Recorder,
	}, nil
}

// ModelVersion returns the configured model version
func (c *Client) ModelVersion() string {
	return c.version
}

// AverageDuration returns the assumed total prediction time
func (c *Client) AverageDuration() time.Duration {
	return c.averageDuration
}

// Start creates a new prediction. It never returns an error: failures are
// folded into a failed StartResult carrying the provider's detail.
func (c *Client) Start(ctx context.Context, req StartRequest) StartResult {
	ctx, span := c.tracer.Start(ctx, "replicate.start")
	defer span.End()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}
	numOutputs := req.NumOutputs
	if numOutputs <= 0 {
		numOutputs = DefaultNumOutputs
	}

	payload, err := json.Marshal(predictionRequest{
		Version: c.version,
		Input: predictionInput{
			Image:             req.ImageURL,
			Prompt:            prompt,
			NumOutputs:        numOutputs,
			GuidanceScale:     7.5,
			NumInferenceSteps: 50,
			Scheduler:         "K_EULER",
		},
	})
	if err != nil {
		return c.startFailed(span, err.Error())
	}

	body, err := c.do(ctx, "start", http.MethodPost, "/v1/predictions", payload)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			c.logger.Error().Int("status", se.Code).Str("detail", se.Error()).Msg("replicate rejected prediction")
			return c.startFailed(span, se.Error())
		}
		c.logger.Error().Err(err).Msg("network error calling replicate")
		return c.startFailed(span, err.Error())
	}

	var p Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		c.logger.Error().Err(err).Msg("malformed prediction response")
		return c.startFailed(span, "Malformed response from generation provider")
	}

	span.SetAttributes(attribute.String("prediction.id", p.ID), attribute.String("prediction.status", p.Status))
	return StartResult{ID: p.ID, Status: p.JobStatus()}
}

func (c *Client) startFailed(span trace.Span, detail string) StartResult {
	span.SetStatus(codes.Error, detail)
	return StartResult{Status: models.JobStatusFailed, Detail: detail}
}

// Fetch returns the current state of a prediction, or nil on any failure.
// Callers treat nil as "unknown, retry later".
func (c *Client) Fetch(ctx context.Context, id string) *Prediction {
	ctx, span := c.tracer.Start(ctx, "replicate.fetch", trace.WithAttributes(attribute.String("prediction.id", id)))
	defer span.End()

	body, err := c.do(ctx, "fetch", http.MethodGet, "/v1/predictions/"+url.PathEscape(id), nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn().Err(err).Str("job_id", id).Msg("failed to fetch prediction")
		return nil
	}

	var p Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn().Err(err).Str("job_id", id).Msg("malformed prediction response")
		return nil
	}
	span.SetAttributes(attribute.String("prediction.status", p.Status))
	return &p
}

// do performs one API call with retries. 429s are retried honoring
// Retry-After; network errors back off exponentially; any other status is
// returned as a StatusError without retrying.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	cfg := c.retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		if c.recorder != nil {
			c.recorder.UpstreamRetry(op)
		}
		c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying replicate call")
	}

	var body []byte
	err := retry.Do(ctx, cfg, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Token "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		tracing.InjectHTTPHeaders(ctx, req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.record(op, "network_error")
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			c.record(op, "network_error")
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.record(op, "rate_limited")
			return &retry.RetryAfterError{
				Delay: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
				Err:   statusError(resp, data),
			}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.record(op, "http_error")
			return retry.Permanent(statusError(resp, data))
		}

		c.record(op, "ok")
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) record(op, outcome string) {
	if c.recorder != nil {
		c.recorder.UpstreamRequest(op, outcome)
	}
}

func statusError(resp *http.Response, data []byte) *StatusError {
	se := &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil {
		se.Detail = eb.Detail
	}
	return se
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Zero means no hint.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// String helps when logging the client
func (c *Client) String() string {
	return fmt.Sprintf("replicate(%s, version=%s)", c.baseURL, c.version)
}
