package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/K3das/parakeet/utils"
)

// error bodies are only read for the message
const maxErrorBody = 4 << 10

type HubOptions struct {
	URL      string `env:"URL" envDefault:"https://huggingface.co"`
	Revision string `env:"REVISION" envDefault:"main"`
	Token    string `env:"TOKEN"`
	// MaxBytes bounds a single file download.
	MaxBytes int64 `env:"MAX_BYTES" envDefault:"8589934592"`
}

// Hub downloads files from a model hub that serves
// {base}/{repo}/resolve/{revision}/{name}.
type Hub struct {
	base     string
	repo     string
	revision string
	token    string
	maxBytes int64

	http *http.Client
}

func NewHub(options HubOptions, repo string) *Hub {
	revision := options.Revision
	if revision == "" {
		revision = "main"
	}
	return &Hub{
		base:     strings.TrimRight(options.URL, "/"),
		repo:     strings.Trim(repo, "/"),
		revision: revision,
		token:    options.Token,
		maxBytes: options.MaxBytes,
		http:     http.DefaultClient,
	}
}

// WithHTTPClient replaces the client used for downloads.
func (h *Hub) WithHTTPClient(c *http.Client) *Hub {
	h.http = c
	return h
}

func (h *Hub) fileURL(name string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", h.base, h.repo, url.PathEscape(h.revision), name)
}

func (h *Hub) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, fmt.Errorf("opening %q: invalid file name", name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.fileURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: %w", name, os.ErrNotExist)
	case resp.StatusCode != http.StatusOK:
		defer resp.Body.Close()
		body, _ := utils.ReadAllLimit(resp.Body, maxErrorBody)
		return nil, fmt.Errorf("fetching %s: non-ok http response: [%d] %s: %s", name, resp.StatusCode, resp.Status, strings.TrimSpace(string(body)))
	}

	if h.maxBytes > 0 && resp.ContentLength > h.maxBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: %d bytes: %w", name, resp.ContentLength, utils.ErrIOLimitReached)
	}
	if h.maxBytes > 0 {
		return &limitedBody{r: resp.Body, remaining: h.maxBytes}, nil
	}
	return resp.Body, nil
}

// limitedBody fails with ErrIOLimitReached once more than remaining bytes
// have been read, for responses without a Content-Length.
type limitedBody struct {
	r         io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	if int64(n) > l.remaining {
		l.remaining = 0
		return n - 1, utils.ErrIOLimitReached
	}
	l.remaining -= int64(n)
	return n, err
}

func (l *limitedBody) Close() error {
	return l.r.Close()
}
