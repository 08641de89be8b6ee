package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/K3das/parakeet/messages"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		raw     string
		id      string
		token   string
		wantErr bool
	}{
		{raw: "https://discord.com/api/webhooks/123/abc", id: "123", token: "abc"},
		{raw: "https://discord.com/api/webhooks/123/abc/", id: "123", token: "abc"},
		{raw: "https://discord.com/api/v10/webhooks/123/abc", id: "123", token: "abc"},
		{raw: "https://discord.com/api/webhooks/123", wantErr: true},
		{raw: "https://discord.com/api/webhooks/123/abc/slack", wantErr: true},
		{raw: "https://discord.com/channels/1/2", wantErr: true},
		{raw: "ftp://discord.com/api/webhooks/123/abc", wantErr: true},
		{raw: "://nope", wantErr: true},
	}
	for _, tt := range tests {
		w, err := ParseWebhookURL(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidWebhookURL) {
				t.Errorf("%s: err = %v, want ErrInvalidWebhookURL", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.raw, err)
			continue
		}
		if w.ID != tt.id || w.Token != tt.token {
			t.Errorf("%s: got %+v", tt.raw, w)
		}
	}
}

func TestNewWithoutURL(t *testing.T) {
	n, err := New(zap.NewNop(), "")
	if err != nil || n != nil {
		t.Fatalf("New(\"\") = %v, %v", n, err)
	}
	// a nil notifier is a no-op
	n.Send(context.Background(), &messages.Output{Content: "x"})
}

// redirect sends every request to the test server, keeping the path.
type redirect struct {
	target *url.URL
}

func (r redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

type captured struct {
	mu     sync.Mutex
	path   string
	params discordgo.WebhookParams
	calls  int
}

func newServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.calls++
		c.path = r.URL.Path
		_ = json.Unmarshal(body, &c.params)
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"1","content":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestSend(t *testing.T) {
	srv, c := newServer(t, http.StatusOK)
	target, _ := url.Parse(srv.URL)

	n, err := New(zap.NewNop(), "https://discord.com/api/webhooks/42/secret",
		WithHTTPClient(&http.Client{Transport: redirect{target: target}}))
	if err != nil {
		t.Fatal(err)
	}

	out := &messages.Output{
		Content: "summary",
		Embeds:  []*discordgo.MessageEmbed{{Title: "bench", Color: 0x57F287}},
	}
	if err := n.send(context.Background(), out); err != nil {
		t.Fatalf("send: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !strings.HasSuffix(c.path, "/webhooks/42/secret") {
		t.Errorf("path = %q", c.path)
	}
	if c.params.Content != "summary" || len(c.params.Embeds) != 1 || c.params.Embeds[0].Title != "bench" {
		t.Errorf("params = %+v", c.params)
	}
}

func TestSendSkipsEmptyOutput(t *testing.T) {
	srv, c := newServer(t, http.StatusOK)
	target, _ := url.Parse(srv.URL)

	n, err := New(zap.NewNop(), "https://discord.com/api/webhooks/42/secret",
		WithHTTPClient(&http.Client{Transport: redirect{target: target}}))
	if err != nil {
		t.Fatal(err)
	}
	n.Send(context.Background(), &messages.Output{})
	n.Send(context.Background(), nil)

	if c.calls != 0 {
		t.Fatalf("%d requests for empty output", c.calls)
	}
}

func TestSendFailureIsNotFatal(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest)
	target, _ := url.Parse(srv.URL)

	n, err := New(zap.NewNop(), "https://discord.com/api/webhooks/42/secret",
		WithHTTPClient(&http.Client{Transport: redirect{target: target}}))
	if err != nil {
		t.Fatal(err)
	}

	if err := n.send(context.Background(), &messages.Output{Content: "x"}); err == nil {
		t.Fatal("expected an error for a rejected webhook")
	}
	n.Send(context.Background(), &messages.Output{Content: "x"})
}
