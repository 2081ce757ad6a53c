package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTelegramSendRendersEvent(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("path = %s, want sendMessage", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("token", "chat-42")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), Notification{
		Event:   EventKillSwitch,
		Title:   "Kill switch active",
		Message: "drawdown 12.5%",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.ChatID != "chat-42" {
		t.Errorf("chat_id = %q, want chat-42", got.ChatID)
	}
	if !strings.Contains(got.Text, "*Kill switch active*") {
		t.Errorf("text = %q, want bold title", got.Text)
	}
	if !strings.HasPrefix(got.Text, eventEmoji[EventKillSwitch]) {
		t.Errorf("text = %q, want the kill-switch emoji in front", got.Text)
	}
}

func TestTelegramSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("token", "chat")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), Notification{Event: EventError, Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("Send() error = %v, want status surfaced", err)
	}
}

func TestDiscordSendBuildsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	err := s.Send(context.Background(), Notification{
		Event:   EventTradeExecuted,
		Title:   "Trade executed",
		Message: "BUY 0.5 BTCUSDT @ 65000",
		At:      at,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(got.Embeds))
	}
	embed := got.Embeds[0]
	if embed.Title != "Trade executed" || embed.Description != "BUY 0.5 BTCUSDT @ 65000" {
		t.Errorf("embed = %+v, want title and description from the alert", embed)
	}
	if embed.Color != discordGreen {
		t.Errorf("color = %#x, want green for executed trades", embed.Color)
	}
	if embed.Timestamp != at.Format(time.RFC3339) {
		t.Errorf("timestamp = %q, want the alert time", embed.Timestamp)
	}
}

func TestDiscordUnknownEventFallsBackToGrey(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), Notification{Event: "custom", Title: "t"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Embeds[0].Color != discordGrey {
		t.Errorf("color = %#x, want grey for unknown events", got.Embeds[0].Color)
	}
}
