package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Gotify (self-hosted push)
type Gotify struct{ ServerURL, Token string }

func (g *Gotify) Name() string { return "Gotify" }
func (g *Gotify) Send(ctx context.Context, t Toast) error {
	url := fmt.Sprintf("%s/message", strings.TrimRight(g.ServerURL, "/"))
	payload := map[string]any{"title": t.Title, "message": t.Text(), "priority": 5}
	return postJSON(ctx, url, payload, map[string]string{"X-Gotify-Key": g.Token})
}

var pushoverAPIURL = "https://api.pushover.net/1/messages.json"

// Pushover (mobile push)
type Pushover struct{ UserKey, APIToken string }

func (p *Pushover) Name() string { return "Pushover" }
func (p *Pushover) Send(ctx context.Context, t Toast) error {
	payload := map[string]string{
		"token":     p.APIToken,
		"user":      p.UserKey,
		"title":     t.Title,
		"message":   t.Text(),
		"timestamp": fmt.Sprint(t.At.Unix()),
	}
	return postJSON(ctx, pushoverAPIURL, payload, nil)
}

// Apprise gateway
type Apprise struct{ APIURL string }

func (a *Apprise) Name() string { return "Apprise" }
func (a *Apprise) Send(ctx context.Context, t Toast) error {
	payload := map[string]string{"title": t.Title, "body": t.Text(), "format": "text", "type": "info"}
	return postJSON(ctx, a.APIURL, payload, nil)
}

// Generic webhook: posts the toast fields as a flat JSON object
type Generic struct{ WebhookURL string }

func (g *Generic) Name() string { return "GenericWebhook" }
func (g *Generic) Send(ctx context.Context, t Toast) error {
	payload := map[string]string{
		"title":    t.Title,
		"message":  t.Body,
		"guest_id": t.GuestID,
		"color":    "#" + t.ColorHex(),
		"at":       t.At.UTC().Format(time.RFC3339),
		"agent":    "deskwatch",
	}
	return postJSON(ctx, g.WebhookURL, payload, nil)
}
