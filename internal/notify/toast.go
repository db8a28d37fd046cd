// Package notify delivers alert toasts to chat, push and email providers.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deskwatch/deskwatch/internal/logging"
	"github.com/deskwatch/deskwatch/internal/realtime"
)

// DefaultColor is used when an alert carries no display color.
const DefaultColor = "#3498db"

const defaultTitle = "New alert"

// Toast is one rendered alert notification.
type Toast struct {
	Title   string
	Body    string
	Color   string
	GuestID string
	At      time.Time
}

// ToastFromAlert renders an alert the way the dashboard toast shows it:
// the display label as the title, the content as the body.
func ToastFromAlert(a realtime.Alert, at time.Time) Toast {
	t := Toast{Title: defaultTitle, Body: a.Content, Color: DefaultColor, GuestID: a.GuestID, At: at}
	if a.Notification != nil {
		if l := strings.TrimSpace(a.Notification.Label); l != "" {
			t.Title = l
		}
		if _, ok := parseHexColor(a.Notification.Color); ok {
			t.Color = a.Notification.Color
		}
	}
	return t
}

// Text returns the body plus the guest reference, for plain-text providers.
func (t Toast) Text() string {
	if t.GuestID == "" {
		return t.Body
	}
	return fmt.Sprintf("%s\nGuest: %s", t.Body, t.GuestID)
}

// ColorInt returns the toast color as 0xRRGGBB.
func (t Toast) ColorInt() int {
	if v, ok := parseHexColor(t.Color); ok {
		return v
	}
	v, _ := parseHexColor(DefaultColor)
	return v
}

// ColorHex returns the toast color as six hex digits without '#'.
func (t Toast) ColorHex() string {
	return fmt.Sprintf("%06X", t.ColorInt())
}

// parseHexColor accepts #rgb and #rrggbb.
func parseHexColor(s string) (int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// Toaster is the alert surface: every alert becomes a toast fanned out to the notifier.
type Toaster struct {
	notifier *MultiNotifier
	dryRun   bool
	now      func() time.Time
}

// NewToaster wraps m. With dryRun set toasts are only logged.
func NewToaster(m *MultiNotifier, dryRun bool) *Toaster {
	return &Toaster{notifier: m, dryRun: dryRun, now: time.Now}
}

// ShowAlert satisfies realtime.AlertSink. Delivery is asynchronous.
func (t *Toaster) ShowAlert(a realtime.Alert) {
	toast := ToastFromAlert(a, t.now())
	if t.dryRun || t.notifier == nil || t.notifier.Len() == 0 {
		logging.Get().Info().Str("title", toast.Title).Str("guest", toast.GuestID).Str("body", toast.Body).Bool("dry_run", t.dryRun).Msg("alert")
		return
	}
	t.notifier.Send(context.Background(), toast)
}
