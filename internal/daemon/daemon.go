package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/deskwatch/deskwatch/internal/backend"
	"github.com/deskwatch/deskwatch/internal/bridge"
	"github.com/deskwatch/deskwatch/internal/config"
	"github.com/deskwatch/deskwatch/internal/logging"
	"github.com/deskwatch/deskwatch/internal/notify"
	"github.com/deskwatch/deskwatch/internal/realtime"
	"github.com/deskwatch/deskwatch/internal/session"
	"github.com/deskwatch/deskwatch/internal/state"
)

// connectBridge dials NATS; tests replace it.
var connectBridge = func(url, prefix string) (*bridge.NATSBridge, error) {
	return bridge.Connect(url, prefix)
}

// Daemon wires the session, the realtime channel and everything that
// consumes its frames.
type Daemon struct {
	cfg      *config.Config
	client   *backend.Client
	session  *session.Manager
	channel  *realtime.Channel
	notifier *notify.MultiNotifier
	toaster  *notify.Toaster
	inbox    *state.Inbox
	bridge   *bridge.NATSBridge
	detach   []func()

	// ackMu orders inbox writes against acknowledgements
	ackMu sync.Mutex

	mu       sync.Mutex
	stopping bool
	relogin  *time.Timer
	quit     chan struct{}
	wg       sync.WaitGroup // tracks background re-login attempts
}

// New builds a daemon from cfg. Nothing touches the network until Start.
func New(cfg *config.Config) *Daemon {
	d := &Daemon{cfg: cfg, quit: make(chan struct{})}

	d.initNotifiers()
	d.toaster = notify.NewToaster(d.notifier, cfg.DryRun)
	d.inbox = state.Open(cfg.StateDir, cfg.InboxSize)

	d.client = backend.NewClient(cfg.APIBaseURL, nil)
	d.session = session.NewManager(d.client, session.Options{
		Username:    cfg.Username,
		Password:    cfg.Password,
		RefreshLead: cfg.RefreshLead,
	})
	d.client.OnRefresh(d.session.TokensRefreshed)

	d.channel = realtime.New(realtime.Options{
		URL:              cfg.WebSocketURL,
		ReconnectDelay:   cfg.ReconnectDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
		TokenQueryParam:  cfg.TokenQueryParam,
		Logger:           logging.For("realtime"),
	}, d.session, d.toaster)
	d.detach = append(d.detach, realtime.On(d.channel, realtime.AlertMessage, d.recordAlert))

	// the channel must hear about the session before the daemon's own observer
	d.session.AddObserver(d.channel)
	d.session.AddObserver(d)

	// Log config validation warnings
	for _, w := range cfg.Validate() {
		logging.Get().Warn().Str("warning", w).Msg("config validation")
	}

	return d
}

// initNotifiers initializes all configured toast providers
func (d *Daemon) initNotifiers() {
	d.notifier = notify.NewMultiNotifier()
	d.notifier.SetCooldown(d.cfg.NotifyCooldown)
	cfg := d.cfg
	entries := []struct {
		enabled bool
		add     func()
	}{
		{cfg.DiscordWebhook != "", func() { d.notifier.Add(&notify.Discord{WebhookURL: cfg.DiscordWebhook}) }},
		{cfg.SlackWebhook != "", func() { d.notifier.Add(&notify.Slack{WebhookURL: cfg.SlackWebhook}) }},
		{cfg.TeamsWebhook != "", func() { d.notifier.Add(&notify.Teams{WebhookURL: cfg.TeamsWebhook}) }},
		{cfg.TelegramToken != "" && cfg.TelegramChatID != "", func() { d.notifier.Add(&notify.Telegram{BotToken: cfg.TelegramToken, ChatID: cfg.TelegramChatID}) }},
		{cfg.EmailHost != "" && len(cfg.EmailTo) > 0, func() {
			d.notifier.Add(&notify.Email{Host: cfg.EmailHost, Port: cfg.EmailPort, User: cfg.EmailUser, Pass: cfg.EmailPass, To: cfg.EmailTo})
		}},
		{cfg.GenericWebhookURL != "", func() { d.notifier.Add(&notify.Generic{WebhookURL: cfg.GenericWebhookURL}) }},
		{cfg.GotifyURL != "" && cfg.GotifyToken != "", func() { d.notifier.Add(&notify.Gotify{ServerURL: cfg.GotifyURL, Token: cfg.GotifyToken}) }},
		{cfg.PushoverUser != "" && cfg.PushoverToken != "", func() { d.notifier.Add(&notify.Pushover{UserKey: cfg.PushoverUser, APIToken: cfg.PushoverToken}) }},
		{cfg.AppriseURL != "", func() { d.notifier.Add(&notify.Apprise{APIURL: cfg.AppriseURL}) }},
	}
	for _, e := range entries {
		if e.enabled {
			e.add()
		}
	}
}

// Channel exposes the realtime channel so callers can register handlers.
func (d *Daemon) Channel() *realtime.Channel { return d.channel }

// Start seeds the alert flag from the inbox, attaches the NATS bridge and
// logs in. The channel connects as part of the login.
func (d *Daemon) Start(ctx context.Context) error {
	logging.Get().Info().
		Str("api", d.cfg.APIBaseURL).
		Str("socket", d.cfg.WebSocketURL).
		Strs("notifiers", d.notifier.Names()).
		Bool("dry_run", d.cfg.DryRun).
		Msg("starting deskwatch daemon")

	if unseen, err := d.inbox.HasUnseen(); err != nil {
		logging.Get().Warn().Err(err).Str("path", d.inbox.Path()).Msg("failed reading alert inbox")
	} else {
		d.channel.SetHasNewAlerts(unseen)
	}

	if d.cfg.NATSURL != "" && len(d.cfg.NATSForwardTypes) > 0 {
		b, err := connectBridge(d.cfg.NATSURL, d.cfg.NATSSubjectPrefix)
		if err != nil {
			logging.Get().Warn().Err(err).Str("url", d.cfg.NATSURL).Msg("nats unavailable; frames will not be republished")
		} else {
			d.bridge = b
			b.Attach(d.channel, d.cfg.NATSForwardTypes)
		}
	}

	return d.session.Start(ctx)
}

// recordAlert persists every alert frame to the inbox and raises the
// channel flag again, so an acknowledgement that ran between the channel
// raising it and this write cannot leave the two flags disagreeing.
func (d *Daemon) recordAlert(a realtime.Alert) error {
	d.ackMu.Lock()
	defer d.ackMu.Unlock()
	if err := d.inbox.Record(a); err != nil {
		return err
	}
	d.channel.SetHasNewAlerts(true)
	return nil
}

// SessionStarted satisfies session.Observer.
func (d *Daemon) SessionStarted(context.Context) {}

// SessionEnded satisfies session.Observer. A session lost while the daemon
// is running (for example a rejected refresh) is re-established after the
// reconnect delay.
func (d *Daemon) SessionEnded() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping || d.relogin != nil {
		return
	}
	delay := d.cfg.ReconnectDelay
	if delay <= 0 {
		delay = realtime.DefaultReconnectDelay
	}
	logging.Get().Warn().Dur("delay", delay).Msg("session lost; logging in again")
	d.wg.Add(1)
	d.relogin = time.AfterFunc(delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		d.relogin = nil
		stopping := d.stopping
		d.mu.Unlock()
		if stopping {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-d.quit:
				cancel()
			case <-ctx.Done():
			}
		}()
		if err := d.session.Start(ctx); err != nil {
			logging.Get().Error().Err(err).Msg("re-login failed")
			d.SessionEnded()
			return
		}
		d.mu.Lock()
		stopping = d.stopping
		d.mu.Unlock()
		if stopping {
			_ = d.session.Stop(context.Background())
		}
	})
}

// Acknowledge clears the new-alerts flag in the channel and the inbox.
func (d *Daemon) Acknowledge() error {
	d.ackMu.Lock()
	defer d.ackMu.Unlock()
	d.channel.AcknowledgeAlerts()
	return d.inbox.MarkSeen()
}

// AckHandler serves POST /alerts/ack.
func (d *Daemon) AckHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := d.Acknowledge(); err != nil {
			logging.Get().Error().Err(err).Msg("failed to mark inbox seen")
			http.Error(w, "failed to persist acknowledgement", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// RecentHandler serves the alert inbox as JSON, newest first.
func (d *Daemon) RecentHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.inbox.Recent()
		if err != nil {
			logging.Get().Error().Err(err).Msg("failed to read inbox")
			http.Error(w, "failed to read inbox", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			HasNewAlerts bool          `json:"has_new_alerts"`
			Connected    bool          `json:"connected"`
			Alerts       []state.Entry `json:"alerts"`
		}{d.channel.HasNewAlerts(), d.channel.Connected(), entries})
	})
}

// Stop ends the session (closing the socket without a reconnect), detaches
// the bridge and waits for pending toasts.
func (d *Daemon) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return
	}
	d.stopping = true
	if d.relogin != nil && d.relogin.Stop() {
		d.wg.Done()
	}
	d.relogin = nil
	close(d.quit)
	d.mu.Unlock()

	// Manager.Stop logs a failed logout itself
	_ = d.session.Stop(ctx)
	for _, fn := range d.detach {
		fn()
	}
	if d.bridge != nil {
		d.bridge.Close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Get().Warn().Msg("shutdown timeout exceeded, some operations may be incomplete")
	}

	// Allow some time for pending toasts to finish (best-effort)
	if err := d.notifier.Wait(ctx); err != nil {
		logging.Get().Warn().Err(err).Msg("timed out waiting for notifiers to finish")
	}
	logging.Get().Info().Msg("daemon stopped")
}
