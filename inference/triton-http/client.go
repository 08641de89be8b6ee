// Package tritonhttp is a KServe v2 HTTP inference client speaking Triton's
// binary tensor data extension.
package tritonhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/K3das/parakeet/inference"
	"github.com/K3das/parakeet/tensor"
	"github.com/K3das/parakeet/utils"
)

var ErrMalformedResponse = fmt.Errorf("malformed inference response")

// ServerError is an error reported by the server in an {"error": ...} body.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inference server error [%d]: %s", e.StatusCode, e.Message)
	}
	return "inference server error: " + e.Message
}

type ClientOptions struct {
	URL         string        `env:"TRITON_URL" envDefault:"http://localhost:8000"`
	ConnLimit   int           `env:"CONN_LIMIT" envDefault:"10"`
	ConnTimeout time.Duration `env:"CONN_TIMEOUT" envDefault:"1800s"`
	// MaxResponseBytes bounds a single inference response.
	MaxResponseBytes int `env:"MAX_RESPONSE_BYTES" envDefault:"1073741824"`
}

type Client struct {
	base        string
	maxResponse int

	http *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the pooled client built from ClientOptions.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.http = c
	}
}

// NewClient builds the one client a program uses. At most ConnLimit
// connections are opened to the server and every request, connection
// included, is bounded by ConnTimeout.
func NewClient(options ClientOptions, opts ...Option) (*Client, error) {
	base := strings.TrimRight(options.URL, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: options.ConnTimeout}).DialContext
	if options.ConnLimit > 0 {
		transport.MaxConnsPerHost = options.ConnLimit
		transport.MaxIdleConnsPerHost = options.ConnLimit
	}

	c := &Client{
		base:        base,
		maxResponse: options.MaxResponseBytes,
		http: &http.Client{
			Transport: transport,
			Timeout:   options.ConnTimeout,
		},
	}
	if c.maxResponse <= 0 {
		c.maxResponse = 1 << 30
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Infer(ctx context.Context, model string, inputs []*tensor.Tensor, outputs []string) (*inference.Result, error) {
	body, headerLength, err := encodeRequest(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v2/models/"+url.PathEscape(model)+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderContentLength, strconv.Itoa(headerLength))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := utils.ReadAllLimit(resp.Body, c.maxResponse)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, resp.Status, data)
	}

	responseHeaderLength, err := parseHeaderLength(resp.Header.Get(HeaderContentLength))
	if err != nil {
		return nil, err
	}
	result, err := decodeResponse(data, responseHeaderLength)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

// statusError prefers the server's {"error": ...} message over the status.
func statusError(code int, status string, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return &ServerError{StatusCode: code, Message: e.Error}
	}
	return fmt.Errorf("non-ok http response: [%d] %s", code, status)
}

// ServerReady reports whether the server is ready for inference.
func (c *Client) ServerReady(ctx context.Context) (bool, error) {
	return c.ready(ctx, c.base+"/v2/health/ready")
}

// ModelReady reports whether model is loaded and ready.
func (c *Client) ModelReady(ctx context.Context, model string) (bool, error) {
	return c.ready(ctx, c.base+"/v2/models/"+url.PathEscape(model)+"/ready")
}

func (c *Client) ready(ctx context.Context, endpoint string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

var _ inference.InferenceAPI = (*Client)(nil)
