package notify

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/deskwatch/deskwatch/internal/logging"
	"github.com/deskwatch/deskwatch/internal/metrics"
)

// DefaultNotifierCooldown is the default window in which an identical toast
// to the same service is suppressed. Zero delivers every toast.
var DefaultNotifierCooldown time.Duration

// Retry settings (can be tuned in tests)
var notifierMaxRetries = 3
var notifierBaseBackoff = 100 * time.Millisecond

// notifierBackoffJitter adds up to this random duration to backoff
var notifierBackoffJitter = 0 * time.Millisecond

// sleepHook replaces the backoff timer in tests when set
var sleepHook func(time.Duration)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// Service is the interface all toast providers implement
type Service interface {
	Send(ctx context.Context, t Toast) error
	Name() string
}

// MultiNotifier fans a toast out to every configured service
type MultiNotifier struct {
	services []Service
	// lastSent tracks the last successful toast per service name
	lastSent          map[string]sentToast
	cooldown          time.Duration
	providerCooldowns map[string]time.Duration
	mu                sync.Mutex
	wg                sync.WaitGroup
}

type sentToast struct {
	key string
	at  time.Time
}

// toastKey identifies a toast for duplicate suppression.
func toastKey(t Toast) string {
	return t.Title + "\x00" + t.Body + "\x00" + t.GuestID
}

func NewMultiNotifier() *MultiNotifier {
	return &MultiNotifier{
		services:          make([]Service, 0),
		lastSent:          make(map[string]sentToast),
		cooldown:          DefaultNotifierCooldown,
		providerCooldowns: make(map[string]time.Duration),
	}
}

func (m *MultiNotifier) Add(s Service) {
	if s != nil {
		m.services = append(m.services, s)
	}
}

func (m *MultiNotifier) Len() int {
	return len(m.services)
}

// Names lists the configured services in registration order.
func (m *MultiNotifier) Names() []string {
	out := make([]string, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s.Name())
	}
	return out
}

// SetCooldown adjusts the cooldown applied to every service without an override
func (m *MultiNotifier) SetCooldown(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldown = d
}

// SetProviderCooldown sets a cooldown for a named provider (by Service.Name())
func (m *MultiNotifier) SetProviderCooldown(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerCooldowns[name] = d
}

// Wait waits for pending sends to complete or until ctx is cancelled.
func (m *MultiNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers t to every service in the background, with per-service
// retries. A toast identical to the last one a service accepted within its
// cooldown is suppressed; distinct toasts are always delivered.
func (m *MultiNotifier) Send(ctx context.Context, t Toast) {
	now := time.Now()
	key := toastKey(t)
	for _, s := range m.services {
		m.wg.Add(1)
		go func(svc Service) {
			defer m.wg.Done()
			name := svc.Name()
			if m.inCooldown(name, key, now) {
				metrics.IncToastSuppressed()
				logging.Get().Warn().Str("service", name).Str("title", t.Title).Msg("suppressing repeated toast")
				return
			}
			if err := m.sendWithRetries(ctx, svc, t, key); err != nil {
				metrics.IncToastFailed()
				logging.Get().Error().Err(err).Str("service", name).Msg("all toast retries failed")
				return
			}
			metrics.IncToastSent()
		}(s)
	}
}

func (m *MultiNotifier) inCooldown(name, key string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastSent[name]
	if !ok || last.key != key {
		return false
	}
	cd := m.cooldown
	if v, ok := m.providerCooldowns[name]; ok {
		cd = v
	}
	return now.Sub(last.at) < cd
}

func (m *MultiNotifier) sendWithRetries(ctx context.Context, s Service, t Toast, key string) error {
	var lastErr error
	for attempt := 1; attempt <= notifierMaxRetries; attempt++ {
		err := s.Send(ctx, t)
		if err == nil {
			m.mu.Lock()
			m.lastSent[s.Name()] = sentToast{key: key, at: time.Now()}
			m.mu.Unlock()
			logging.Get().Debug().Str("service", s.Name()).Msg("toast sent")
			return nil
		}
		lastErr = err
		logging.Get().Warn().Err(err).Str("service", s.Name()).Int("attempt", attempt).Msg("toast attempt failed")
		if attempt == notifierMaxRetries {
			break
		}
		if err := sleepCtx(ctx, backoffDuration(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// sleepCtx waits d but returns early when ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if sleep := sleepHook; sleep != nil {
		slept := make(chan struct{})
		go func() {
			sleep(d)
			close(slept)
		}()
		select {
		case <-slept:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoffDuration doubles the base per attempt and adds optional jitter
func backoffDuration(attempt int) time.Duration {
	d := notifierBaseBackoff * time.Duration(1<<uint(attempt-1))
	if notifierBackoffJitter > 0 {
		max := big.NewInt(int64(notifierBackoffJitter))
		if n, err := crand.Int(crand.Reader, max); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}

// postJSON is a shared helper used by providers
func postJSON(ctx context.Context, url string, data any, headers map[string]string) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	return nil
}
