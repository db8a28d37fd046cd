package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeService struct {
	name  string
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeService) Send(ctx context.Context, t Toast) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, t.Title+"|"+t.Body)
	if f.fail {
		return errors.New("fail")
	}
	return nil
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const (
	invalidPayloadMsg    = "invalid payload: %v"
	unexpectedPayloadMsg = "unexpected payload: %v"
)

var testToast = Toast{Title: "System", Body: "Hi", Color: "#fff", GuestID: "42", At: time.Unix(1700000000, 0)}

func noSleep(t *testing.T) {
	t.Helper()
	old := sleepHook
	sleepHook = func(time.Duration) {}
	t.Cleanup(func() { sleepHook = old })
}

func waitSends(t *testing.T, m *MultiNotifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
}

func TestMultiNotifierSend(t *testing.T) {
	noSleep(t)
	m := NewMultiNotifier()
	s1 := &fakeService{name: "s1"}
	s2 := &fakeService{name: "s2", fail: true}
	m.Add(s1)
	m.Add(s2)
	m.Add(nil)
	m.Send(context.Background(), testToast)
	waitSends(t, m)

	if s1.count() != 1 {
		t.Fatalf("expected s1 to be called once, got %v", s1.calls)
	}
	if s2.count() != notifierMaxRetries {
		t.Fatalf("expected s2 to be retried %d times, got %v", notifierMaxRetries, s2.calls)
	}
	if got := m.Names(); len(got) != 2 || got[0] != "s1" {
		t.Fatalf("unexpected names: %v", got)
	}
}

func decodeBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		t.Errorf(invalidPayloadMsg, err)
	}
}

func TestSlackPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Text        string `json:"text"`
			Attachments []struct {
				Color string `json:"color"`
				Text  string `json:"text"`
			} `json:"attachments"`
		}
		decodeBody(t, r, &payload)
		if payload.Text != "*System*" || len(payload.Attachments) != 1 {
			t.Errorf(unexpectedPayloadMsg, payload)
		} else if payload.Attachments[0].Color != "#FFFFFF" || payload.Attachments[0].Text != "Hi\nGuest: 42" {
			t.Errorf("unexpected attachment: %+v", payload.Attachments[0])
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	s := &Slack{WebhookURL: server.URL}
	if err := s.Send(context.Background(), testToast); err != nil {
		t.Fatalf("slack send failed: %v", err)
	}
}

func TestDiscordPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		decodeBody(t, r, &payload)
		embeds, ok := payload["embeds"].([]any)
		if !ok || len(embeds) == 0 {
			t.Errorf("expected embeds array in payload: %v", payload)
			return
		}
		first := embeds[0].(map[string]any)
		if first["title"] != "System" || first["description"] != "Hi" || first["color"] != float64(0xFFFFFF) {
			t.Errorf("unexpected embed content: %v", first)
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	d := &Discord{WebhookURL: server.URL}
	if err := d.Send(context.Background(), testToast); err != nil {
		t.Fatalf("discord send failed: %v", err)
	}
}

func TestTeamsPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		decodeBody(t, r, &payload)
		if payload["@type"] != "MessageCard" || payload["themeColor"] != "FFFFFF" {
			t.Errorf(unexpectedPayloadMsg, payload)
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	svc := &Teams{WebhookURL: server.URL}
	if err := svc.Send(context.Background(), testToast); err != nil {
		t.Fatalf("teams send failed: %v", err)
	}
}

func TestTelegramEscapesHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottok/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]string
		decodeBody(t, r, &payload)
		if payload["chat_id"] != "123" || !strings.Contains(payload["text"], "&lt;b&gt;") {
			t.Errorf(unexpectedPayloadMsg, payload)
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	old := telegramAPIBase
	telegramAPIBase = server.URL
	defer func() { telegramAPIBase = old }()

	toast := testToast
	toast.Body = "<b>guest wrote</b>"
	g := &Telegram{BotToken: "tok", ChatID: "123"}
	if err := g.Send(context.Background(), toast); err != nil {
		t.Fatalf("telegram send failed: %v", err)
	}
}

func TestGotifySend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message" || r.Header.Get("X-Gotify-Key") != "tok" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	g := &Gotify{ServerURL: server.URL + "/", Token: "tok"}
	if err := g.Send(context.Background(), testToast); err != nil {
		t.Fatalf("gotify send failed: %v", err)
	}
}

func TestPushoverSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		decodeBody(t, r, &payload)
		if payload["token"] != "tok" || payload["user"] != "u" || payload["timestamp"] != "1700000000" {
			t.Errorf(unexpectedPayloadMsg, payload)
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	old := pushoverAPIURL
	pushoverAPIURL = server.URL
	defer func() { pushoverAPIURL = old }()

	p := &Pushover{UserKey: "u", APIToken: "tok"}
	if err := p.Send(context.Background(), testToast); err != nil {
		t.Fatalf("pushover send failed: %v", err)
	}
}

func TestGenericAndApprise(t *testing.T) {
	var got []map[string]string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		decodeBody(t, r, &payload)
		mu.Lock()
		got = append(got, payload)
		mu.Unlock()
		w.WriteHeader(200)
	}))
	defer server.Close()

	if err := (&Generic{WebhookURL: server.URL}).Send(context.Background(), testToast); err != nil {
		t.Fatalf("generic send failed: %v", err)
	}
	if err := (&Apprise{APIURL: server.URL}).Send(context.Background(), testToast); err != nil {
		t.Fatalf("apprise send failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two posts, got %d", len(got))
	}
	if got[0]["guest_id"] != "42" || got[0]["agent"] != "deskwatch" {
		t.Fatalf("unexpected generic payload: %v", got[0])
	}
	if got[1]["title"] != "System" || got[1]["body"] != "Hi\nGuest: 42" {
		t.Fatalf("unexpected apprise payload: %v", got[1])
	}
}

func TestPostJSONRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if err := (&Slack{WebhookURL: server.URL}).Send(context.Background(), testToast); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestEmailSend(t *testing.T) {
	var sentAddr, sentFrom, sentBody string
	var sentTo []string
	old := sendMailHook
	sendMailHook = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sentAddr, sentFrom, sentTo, sentBody = addr, from, to, string(msg)
		return nil
	}
	defer func() { sendMailHook = old }()

	e := &Email{Host: "mail.test", Port: 25, User: "u", Pass: "p", To: []string{"a@b"}}
	if err := e.Send(context.Background(), testToast); err != nil {
		t.Fatalf("email send failed: %v", err)
	}
	if sentAddr != "mail.test:25" || sentFrom != "u" || len(sentTo) != 1 {
		t.Fatalf("unexpected send args: %v %v %v", sentAddr, sentFrom, sentTo)
	}
	if !strings.Contains(sentBody, "Subject: [deskwatch] System") || !strings.HasSuffix(sentBody, "Guest: 42") {
		t.Fatalf("unexpected mail body: %q", sentBody)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Send(ctx, testToast); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
