// Package notify posts rendered messages to a Discord webhook.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/K3das/parakeet/messages"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var ErrInvalidWebhookURL = fmt.Errorf("invalid discord webhook url")

var DefaultAllowedMentions = &discordgo.MessageAllowedMentions{
	Parse: []discordgo.AllowedMentionType{},
}

// Webhook identifies one Discord webhook.
type Webhook struct {
	ID    string
	Token string
}

// ParseWebhookURL accepts https://discord.com/api/webhooks/{id}/{token},
// optionally with an API version segment.
func ParseWebhookURL(raw string) (*Webhook, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWebhookURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidWebhookURL, u.Scheme)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "api" && strings.HasPrefix(parts[1], "v") {
		parts = append(parts[:1], parts[2:]...)
	}
	if len(parts) != 4 || parts[0] != "api" || parts[1] != "webhooks" || parts[2] == "" || parts[3] == "" {
		return nil, fmt.Errorf("%w: path %q", ErrInvalidWebhookURL, u.Path)
	}

	return &Webhook{ID: parts[2], Token: parts[3]}, nil
}

type Notifier struct {
	log     *zap.Logger
	discord *discordgo.Session
	webhook *Webhook
}

type NotifierOption func(*Notifier)

func WithHTTPClient(client *http.Client) NotifierOption {
	return func(n *Notifier) {
		n.discord.Client = client
	}
}

// New returns nil when webhookURL is empty, and a nil *Notifier ignores every
// Send.
func New(parentLogger *zap.Logger, webhookURL string, opts ...NotifierOption) (*Notifier, error) {
	if webhookURL == "" {
		return nil, nil
	}

	webhook, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}

	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.MaxRestRetries = 1

	n := &Notifier{
		log:     parentLogger.Named("notify"),
		discord: session,
		webhook: webhook,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Send delivers out and logs, rather than returns, any failure.
func (n *Notifier) Send(ctx context.Context, out *messages.Output) {
	if n == nil || out == nil {
		return
	}
	if err := n.send(ctx, out); err != nil {
		n.log.Warn("failed to send notification", zap.Error(err))
	}
}

func (n *Notifier) send(ctx context.Context, out *messages.Output) error {
	if out.Content == "" && len(out.Embeds) == 0 {
		return nil
	}

	_, err := n.discord.WebhookExecute(n.webhook.ID, n.webhook.Token, true, &discordgo.WebhookParams{
		Content:         out.Content,
		Embeds:          out.Embeds,
		AllowedMentions: DefaultAllowedMentions,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("executing webhook: %w", err)
	}
	return nil
}
