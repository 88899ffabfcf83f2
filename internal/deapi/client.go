package deapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"deapi-mcp/internal/config"
	"deapi-mcp/pkg/logging"
)

// maxResponseBytes caps how much of an upstream response is read into
// memory. Results are delivered as URLs, so bodies stay small.
const maxResponseBytes = 16 << 20

// Client talks to the deAPI REST API on behalf of one credential. Transport
// failures (timeouts, connection resets) are retried with backoff; any HTTP
// response, including errors, is treated as definitive.
type Client struct {
	baseURL    string
	apiPath    string
	credential string
	http       *retryablehttp.Client
}

// New creates a client bound to the given upstream credential.
func New(cfg config.APIConfig, credential string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 4 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout.Duration()
	rc.Logger = nil
	rc.CheckRetry = retryNetworkErrorsOnly

	return &Client{
		baseURL:    cfg.BaseURL,
		apiPath:    "/api/" + cfg.Version + "/client/",
		credential: credential,
		http:       rc,
	}
}

// retryNetworkErrorsOnly retries requests that never produced a response.
// The upstream's HTTP answers, error statuses included, are final.
func retryNetworkErrorsOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil, nil
}

// SubmitJob posts a JSON payload to an inference endpoint and returns the
// accepted job.
func (c *Client) SubmitJob(ctx context.Context, endpoint string, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", endpoint, err)
	}
	data, err := c.do(ctx, http.MethodPost, endpoint, "application/json", body)
	if err != nil {
		return nil, err
	}
	return decodeJob(endpoint, data)
}

// SubmitJobForm posts a multipart form, used by endpoints that accept media
// uploads. Field values go in as plain form fields, files as file parts.
func (c *Client) SubmitJobForm(ctx context.Context, endpoint string, fields map[string]string, files []FormFile) (*Job, error) {
	contentType, body, err := encodeMultipart(fields, files)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s form: %w", endpoint, err)
	}
	data, err := c.do(ctx, http.MethodPost, endpoint, contentType, body)
	if err != nil {
		return nil, err
	}
	return decodeJob(endpoint, data)
}

func encodeMultipart(fields map[string]string, files []FormFile) (string, []byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", nil, err
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.Field, file.Name)
		if err != nil {
			return "", nil, err
		}
		if _, err := part.Write(file.Data); err != nil {
			return "", nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return "", nil, err
	}
	return writer.FormDataContentType(), buf.Bytes(), nil
}

// JobStatus fetches the current state of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*Job, error) {
	data, err := c.do(ctx, http.MethodGet, "request-status/"+url.PathEscape(jobID), "", nil)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode request-status response: %w", err)
	}
	if job.RequestID == "" {
		job.RequestID = jobID
	}
	return &job, nil
}

// Balance fetches the account balance document.
func (c *Client) Balance(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "balance", "", nil)
}

// Models fetches the model catalog.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	data, err := c.do(ctx, http.MethodGet, "models", "", nil)
	if err != nil {
		return nil, err
	}
	var models []Model
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to decode model catalog: %w", err)
	}
	return models, nil
}

// CalculatePrice asks the upstream what a job with the given parameters
// would cost, without submitting it.
func (c *Client) CalculatePrice(ctx context.Context, endpoint string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s price request: %w", endpoint, err)
	}
	return c.do(ctx, http.MethodPost, endpoint+"/price-calculation", "application/json", body)
}

// CalculatePriceForm is CalculatePrice for endpoints whose parameters travel
// as a multipart form, media included.
func (c *Client) CalculatePriceForm(ctx context.Context, endpoint string, fields map[string]string, files []FormFile) (json.RawMessage, error) {
	contentType, body, err := encodeMultipart(fields, files)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s price form: %w", endpoint, err)
	}
	return c.do(ctx, http.MethodPost, endpoint+"/price-calculation", contentType, body)
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body []byte) (json.RawMessage, error) {
	requestURL := c.baseURL + c.apiPath + endpoint

	var rawBody interface{}
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, requestURL, rawBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := newAPIError(resp.StatusCode, raw)
		logging.Debug("DeAPI", "%s %s rejected: %v", method, endpoint, apiErr)
		return nil, apiErr
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	if env.Data != nil {
		return env.Data, nil
	}
	return raw, nil
}

func decodeJob(endpoint string, data json.RawMessage) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	if job.RequestID == "" {
		return nil, fmt.Errorf("%s response carried no request_id", endpoint)
	}
	return &job, nil
}
