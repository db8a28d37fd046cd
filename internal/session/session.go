// Package session owns the authenticated session: it logs in, keeps the
// access token fresh and tells observers when the session starts and ends.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/deskwatch/deskwatch/internal/backend"
	"github.com/deskwatch/deskwatch/internal/logging"
)

// DefaultRefreshLead is how long before expiry the access token is refreshed.
const DefaultRefreshLead = time.Minute

// minRefreshWait keeps an already-expiring token from spinning the refresh loop.
var minRefreshWait = time.Second

// Observer is told about session transitions, in registration order.
type Observer interface {
	SessionStarted(ctx context.Context)
	SessionEnded()
}

// Authenticator is the slice of the backend client the manager drives.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (backend.Tokens, error)
	Refresh(ctx context.Context) (backend.Tokens, error)
	Logout(ctx context.Context) error
	AccessToken() string
}

// Options configures a Manager.
type Options struct {
	Username    string
	Password    string
	RefreshLead time.Duration
	Logger      *zerolog.Logger
}

// Manager tracks one login at a time.
type Manager struct {
	auth Authenticator
	opts Options
	log  zerolog.Logger

	mu            sync.Mutex
	observers     []Observer
	authenticated bool
	cancelRefresh context.CancelFunc
	refreshNow    chan struct{}

	now func() time.Time
}

// NewManager returns a manager that is not yet authenticated.
func NewManager(auth Authenticator, opts Options) *Manager {
	if opts.RefreshLead <= 0 {
		opts.RefreshLead = DefaultRefreshLead
	}
	log := logging.For("session")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Manager{auth: auth, opts: opts, log: log, now: time.Now}
}

// AddObserver appends o. Observers added while a session is active are not
// replayed the start event.
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Authenticated reports whether a session is active.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// AccessToken returns the bearer credential of the active session.
func (m *Manager) AccessToken() string {
	if !m.Authenticated() {
		return ""
	}
	return m.auth.AccessToken()
}

// AuthHeader returns the Authorization header for the active session, or an
// empty header when logged out.
func (m *Manager) AuthHeader() http.Header {
	h := http.Header{}
	if tok := m.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

// Start logs in and notifies observers. Starting an active session is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	if m.Authenticated() {
		return nil
	}
	if _, err := m.auth.Login(ctx, m.opts.Username, m.opts.Password); err != nil {
		return err
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.authenticated = true
	m.cancelRefresh = cancel
	m.refreshNow = make(chan struct{}, 1)
	kick := m.refreshNow
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	m.log.Info().Str("user", m.opts.Username).Msg("session started")
	for _, o := range observers {
		o.SessionStarted(ctx)
	}
	go m.refreshLoop(refreshCtx, kick)
	return nil
}

// Stop ends the session. The manager reports unauthenticated before observers
// are told, so sockets closed by them are not retried. Logout is best effort.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.end() {
		return nil
	}
	if err := m.auth.Logout(ctx); err != nil {
		m.log.Warn().Err(err).Msg("logout request failed")
		return err
	}
	return nil
}

// end flips the session off and notifies observers. It reports whether a session was active.
func (m *Manager) end() bool {
	m.mu.Lock()
	if !m.authenticated {
		m.mu.Unlock()
		return false
	}
	m.authenticated = false
	if m.cancelRefresh != nil {
		m.cancelRefresh()
		m.cancelRefresh = nil
	}
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	m.log.Info().Msg("session ended")
	for _, o := range observers {
		o.SessionEnded()
	}
	return true
}

// TokensRefreshed tells the refresh loop to recompute its deadline. It is
// wired to the backend client so 401-triggered refreshes count too.
func (m *Manager) TokensRefreshed(backend.Tokens) {
	m.mu.Lock()
	kick := m.refreshNow
	m.mu.Unlock()
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

func (m *Manager) refreshLoop(ctx context.Context, kick <-chan struct{}) {
	for {
		wait, ok := m.nextRefresh(m.auth.AccessToken())
		var timer <-chan time.Time
		var t *time.Timer
		if ok {
			t = time.NewTimer(wait)
			timer = t.C
		}
		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return
		case <-kick:
			if t != nil {
				t.Stop()
			}
			continue
		case <-timer:
		}

		if _, err := m.auth.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Error().Err(err).Msg("token refresh failed; ending session")
			m.end()
			return
		}
		m.log.Debug().Msg("access token refreshed")
		// the client callback may have queued a kick for this refresh
		select {
		case <-kick:
		default:
		}
	}
}

// nextRefresh returns how long to wait before refreshing token. Tokens that
// are not JWTs or carry no exp claim are never refreshed proactively.
func (m *Manager) nextRefresh(token string) (time.Duration, bool) {
	exp, err := expiry(token)
	if err != nil {
		return 0, false
	}
	wait := exp.Sub(m.now()) - m.opts.RefreshLead
	if wait < minRefreshWait {
		wait = minRefreshWait
	}
	return wait, true
}

var errNoExpiry = errors.New("token has no exp claim")

// expiry reads the exp claim without verifying the signature; the token is
// only ever checked by the server that issued it.
func expiry(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, errNoExpiry
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}
