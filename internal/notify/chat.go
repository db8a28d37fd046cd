package notify

import (
	"context"
	"fmt"
	"html"
	"time"
)

// Slack posts an attachment colored like the alert.
type Slack struct {
	WebhookURL string
}

func (s *Slack) Name() string { return "Slack" }
func (s *Slack) Send(ctx context.Context, t Toast) error {
	payload := map[string]any{
		"text": fmt.Sprintf("*%s*", t.Title),
		"attachments": []map[string]any{{
			"color": "#" + t.ColorHex(),
			"text":  t.Text(),
			"ts":    t.At.Unix(),
		}},
	}
	return postJSON(ctx, s.WebhookURL, payload, nil)
}

// Discord posts an embed colored like the alert.
type Discord struct {
	WebhookURL string
}

func (d *Discord) Name() string { return "Discord" }
func (d *Discord) Send(ctx context.Context, t Toast) error {
	embed := map[string]any{
		"title":       t.Title,
		"description": t.Body,
		"color":       t.ColorInt(),
		"timestamp":   t.At.UTC().Format(time.RFC3339),
	}
	if t.GuestID != "" {
		embed["footer"] = map[string]string{"text": "Guest " + t.GuestID}
	}
	payload := map[string]any{
		"username": "deskwatch",
		"embeds":   []map[string]any{embed},
	}
	return postJSON(ctx, d.WebhookURL, payload, nil)
}

// Teams posts a MessageCard.
type Teams struct{ WebhookURL string }

func (tm *Teams) Name() string { return "Teams" }
func (tm *Teams) Send(ctx context.Context, t Toast) error {
	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": t.ColorHex(),
		"summary":    t.Title,
		"sections":   []map[string]string{{"activityTitle": t.Title, "activityText": t.Text()}},
	}
	return postJSON(ctx, tm.WebhookURL, payload, nil)
}

var telegramAPIBase = "https://api.telegram.org"

// Telegram sends an HTML-formatted bot message.
type Telegram struct{ BotToken, ChatID string }

func (tg *Telegram) Name() string { return "Telegram" }
func (tg *Telegram) Send(ctx context.Context, t Toast) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, tg.BotToken)
	payload := map[string]string{
		"chat_id":    tg.ChatID,
		"text":       fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(t.Title), html.EscapeString(t.Text())),
		"parse_mode": "HTML",
	}
	return postJSON(ctx, apiURL, payload, nil)
}
