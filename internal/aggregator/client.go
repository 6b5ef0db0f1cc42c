package aggregator

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

	"go.uber.org/zap"
)

const (
	launchGamePath     = "/game/launch-game"
	traceIDQueryParam  = "trace_id"
	contentTypeHeader  = "Content-Type"
	contentTypeJSON    = "application/json"
	defaultTimeout     = 30 * time.Second
	maxResponseBytes   = 1 << 20
	responseRawField   = "raw"
	responseErrorField = "error"
)

// ErrInvalidClientConfig reports a client that cannot be built.
var ErrInvalidClientConfig = errors.New("invalid aggregator client config")

// Response is the aggregator's reply. Body is always a JSON object: the decoded
// response, {"raw": text} for non-JSON replies or {"error": message} for transport failures.
type Response struct {
	Status int
	Body   map[string]any
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithLogger sets the logger for request outcomes.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// Client signs requests with the agent key and posts them to the aggregator.
type Client struct {
	baseURL    string
	signer     Signer
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client for baseURL. A zero timeout falls back to 30s.
func NewClient(baseURL string, signer Signer, timeout time.Duration, options ...ClientOption) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidClientConfig, baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		baseURL:    trimmed,
		signer:     signer,
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// Signer returns the signer used for outgoing requests.
func (client *Client) Signer() Signer {
	return client.signer
}

// LaunchGame signs request in place and posts it to the launch endpoint.
func (client *Client) LaunchGame(ctx context.Context, traceID string, request map[string]any) (Response, error) {
	signature, err := client.signer.Sign(request)
	if err != nil {
		return Response{}, err
	}
	request[SignField] = signature
	return client.Post(ctx, launchGamePath, traceID, request)
}

// Post sends body as JSON to path with the trace id as a query parameter. Transport
// failures are returned as an error and also folded into a status 0 Response.
func (client *Client) Post(ctx context.Context, path string, traceID string, body map[string]any) (Response, error) {
	endpoint := client.baseURL + path
	if traceID != "" {
		endpoint += "?" + url.Values{traceIDQueryParam: []string{traceID}}.Encode()
	}
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(body); err != nil {
		return Response{}, fmt.Errorf("encode aggregator request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buffer)
	if err != nil {
		return Response{}, fmt.Errorf("build aggregator request: %w", err)
	}
	request.Header.Set(contentTypeHeader, contentTypeJSON)

	httpResponse, err := client.httpClient.Do(request)
	if err != nil {
		client.logger.Warn("aggregator request failed", zap.String("path", path), zap.String("trace_id", traceID), zap.Error(err))
		return Response{Body: map[string]any{responseErrorField: err.Error()}}, err
	}
	defer httpResponse.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if err != nil {
		return Response{Status: httpResponse.StatusCode, Body: map[string]any{responseErrorField: err.Error()}}, err
	}
	client.logger.Info("aggregator responded", zap.String("path", path), zap.String("trace_id", traceID), zap.Int("status", httpResponse.StatusCode))
	return Response{Status: httpResponse.StatusCode, Body: decodeResponse(raw)}, nil
}

func decodeResponse(raw []byte) map[string]any {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded == nil {
		return map[string]any{responseRawField: string(raw)}
	}
	return decoded
}
