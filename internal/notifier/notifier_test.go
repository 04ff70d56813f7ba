package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"toastd/internal/eventbus"
	logx "toastd/pkg/logx"
)

func TestServiceDispatchPublishesAndRecords(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	var got []Toast
	d := DispatcherFunc(func(ctx context.Context, t Toast) error {
		got = append(got, t)
		return nil
	})
	s := New(Config{RatePerSec: 100}, d, logx.Nop(), bus, nil)

	err := s.Dispatch(context.Background(), Toast{TenantID: "t1", Title: "Reminder", Body: "Class ends in 5 minutes"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Reminder" {
		t.Fatalf("dispatched = %+v", got)
	}
	if ev := <-events; ev.Type != eventbus.ToastDispatched {
		t.Fatalf("event = %+v", ev)
	}
	if h := s.History(); len(h) != 1 || h[0].Error != "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestServiceDispatchFailure(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	boom := errors.New("endpoint down")
	s := New(Config{}, DispatcherFunc(func(context.Context, Toast) error { return boom }), logx.Nop(), bus, nil)

	if err := s.Dispatch(context.Background(), Toast{TenantID: "t1", Title: "x"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	ev := <-events
	if ev.Type != eventbus.ToastDispatchFailed {
		t.Fatalf("event = %+v", ev)
	}
	if d := ev.Data.(eventbus.ToastData); d.Reason != "endpoint down" {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestServiceTimeout(t *testing.T) {
	t.Parallel()

	slow := DispatcherFunc(func(ctx context.Context, _ Toast) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s := New(Config{Timeout: 20 * time.Millisecond}, slow, logx.Nop(), nil, nil)
	if err := s.Dispatch(context.Background(), Toast{TenantID: "t", Title: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestServiceRejectsEmptyToast(t *testing.T) {
	t.Parallel()

	s := New(Config{}, NewLogDispatcher(logx.Nop()), logx.Nop(), nil, nil)
	if err := s.Dispatch(context.Background(), Toast{TenantID: "t"}); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()

	s := New(Config{RatePerSec: 1000, HistorySize: 3}, NewLogDispatcher(logx.Nop()), logx.Nop(), nil, nil)
	for i := 0; i < 5; i++ {
		if err := s.Dispatch(context.Background(), Toast{TenantID: "t", Title: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(s.History()); n != 3 {
		t.Fatalf("history len = %d", n)
	}
}

func TestWebhookDispatcher(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		payload map[string]any
		sig     string
		body    []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		sig = r.Header.Get("X-Toastd-Signature")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d, err := NewWebhookDispatcher(srv.URL, "s3cret", srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(context.Background(), Toast{TenantID: "t1", Title: "Reminder", Body: "soon", JobID: "j1"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if payload["tenant_id"] != "t1" || payload["title"] != "Reminder" || payload["text"] != "soon" || payload["event"] != "toast" {
		t.Fatalf("payload = %v", payload)
	}
	if !VerifySignature("s3cret", body, sig) {
		t.Fatalf("signature mismatch")
	}
}

func TestWebhookDispatcherNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, err := NewWebhookDispatcher(srv.URL, "", srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(context.Background(), Toast{TenantID: "t1", Title: "x"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

type fakeBot struct {
	mu   sync.Mutex
	to   []int64
	text []string
	opts []*tele.SendOptions
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := to.(*tele.Chat)
	f.to = append(f.to, c.ID)
	f.text = append(f.text, what.(string))
	if len(opts) > 0 {
		f.opts = append(f.opts, opts[0].(*tele.SendOptions))
	}
	return &tele.Message{ID: len(f.to)}, nil
}

func TestTelegramDispatcherRoutesByTenant(t *testing.T) {
	t.Parallel()

	routes, err := parseRoutes(map[string]string{"t1": "-100123/7"})
	if err != nil {
		t.Fatal(err)
	}
	bot := &fakeBot{}
	d := newTelegramDispatcherWith(bot, routes)

	if err := d.Dispatch(context.Background(), Toast{TenantID: "t1", Title: "A<b>", Body: "x & y"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), Toast{TenantID: "nope", Title: "x"}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("err = %v", err)
	}

	bot.mu.Lock()
	defer bot.mu.Unlock()
	if len(bot.to) != 1 || bot.to[0] != -100123 {
		t.Fatalf("sent to %v", bot.to)
	}
	if bot.text[0] != "<b>A&lt;b&gt;</b>\nx &amp; y" {
		t.Fatalf("text = %q", bot.text[0])
	}
	if bot.opts[0].ThreadID != 7 || bot.opts[0].ParseMode != tele.ModeHTML {
		t.Fatalf("opts = %+v", bot.opts[0])
	}
}

func TestParseChatTarget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    ChatTarget
		wantErr bool
	}{
		{"-100123", ChatTarget{ChatID: -100123}, false},
		{" 42/9 ", ChatTarget{ChatID: 42, ThreadID: 9}, false},
		{"abc", ChatTarget{}, true},
		{"0", ChatTarget{}, true},
		{"1/x", ChatTarget{}, true},
	}
	for _, tc := range cases {
		got, err := ParseChatTarget(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseChatTarget(%q) = %+v, %v", tc.in, got, err)
		}
	}
}
