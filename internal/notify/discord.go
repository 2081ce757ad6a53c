package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embed sidebar colors per event.
const (
	discordGreen  = 0x2ecc71
	discordYellow = 0xf1c40f
	discordRed    = 0xe74c3c
	discordGrey   = 0x95a5a6
)

var eventColor = map[Event]int{
	EventTradeExecuted: discordGreen,
	EventSignalQueued:  discordYellow,
	EventKillSwitch:    discordRed,
	EventError:         discordRed,
	EventLifecycle:     discordGrey,
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordSender delivers alerts to a Discord channel through a webhook,
// rendered as an embed with a per-event sidebar color.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert to the webhook.
func (d *DiscordSender) Send(ctx context.Context, n Notification) error {
	color, ok := eventColor[n.Event]
	if !ok {
		color = discordGrey
	}
	embed := discordEmbed{
		Title:       n.Title,
		Description: n.Message,
		Color:       color,
	}
	if !n.At.IsZero() {
		embed.Timestamp = n.At.Format(time.RFC3339)
	}

	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
