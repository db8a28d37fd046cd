package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deskwatch/deskwatch/internal/logging"
)

// StartInfluxPusher starts a background loop to push metrics to InfluxDB
func StartInfluxPusher(ctx context.Context, baseURL, token, org, bucket string, interval time.Duration) {
	if baseURL == "" || bucket == "" {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	logging.Get().Info().Str("url", baseURL).Dur("interval", interval).Msg("starting influxdb pusher")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	q := url.Values{"org": {org}, "bucket": {bucket}, "precision": {"s"}}
	writeURL := fmt.Sprintf("%s/api/v2/write?%s", strings.TrimRight(baseURL, "/"), q.Encode())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pushToInflux(ctx, client, writeURL, token)
		}
	}
}

// lineProtocol renders a snapshot as one Influx line:
// deskwatch connected=1i,frames=10i,... <unix seconds>
func lineProtocol(s StatsSnapshot, at time.Time) string {
	return fmt.Sprintf(
		"deskwatch connected=%di,has_new_alerts=%di,frames=%di,frames_dropped=%di,alerts=%di,handler_failures=%di,reconnects=%di,toasts_failed=%di %d",
		boolToInt(s.Connected), boolToInt(s.HasNewAlerts), s.FramesReceived, s.FramesDropped, s.AlertsReceived,
		s.HandlerFailures, s.ReconnectsPlanned, s.ToastsFailed, at.Unix(),
	)
}

func pushToInflux(ctx context.Context, client *http.Client, writeURL, token string) {
	body := lineProtocol(GetSnapshot(), time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, writeURL, bytes.NewReader([]byte(body)))
	if err != nil {
		logging.Get().Error().Err(err).Msg("influxdb request creation failed")
		return
	}
	req.Header.Set("Authorization", "Token "+token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := client.Do(req)
	if err != nil {
		logging.Get().Error().Err(err).Msg("influxdb push failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logging.Get().Warn().Int("status", resp.StatusCode).Msg("influxdb rejected metrics")
	}
}
