package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ChatTarget is a Telegram chat, optionally a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// ParseChatTarget parses "<chat_id>" or "<chat_id>/<thread_id>".
func ParseChatTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	chat, thread, hasThread := strings.Cut(s, "/")
	id, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, fmt.Errorf("invalid chat id %q", s)
	}
	t := ChatTarget{ChatID: id}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || tid <= 0 {
			return ChatTarget{}, fmt.Errorf("invalid thread id %q", s)
		}
		t.ThreadID = tid
	}
	return t, nil
}

// telegramSender is the subset of *tele.Bot we use.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramDispatcher posts each toast to the Telegram chat mapped to the tenant.
type TelegramDispatcher struct {
	bot    telegramSender
	routes map[string]ChatTarget
}

// NewTelegramDispatcher creates a send-only bot (no polling) and validates the
// tenant routes.
func NewTelegramDispatcher(token string, routes map[string]string) (*TelegramDispatcher, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	parsed, err := parseRoutes(routes)
	if err != nil {
		return nil, err
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramDispatcher{bot: b, routes: parsed}, nil
}

func newTelegramDispatcherWith(bot telegramSender, routes map[string]ChatTarget) *TelegramDispatcher {
	return &TelegramDispatcher{bot: bot, routes: routes}
}

func parseRoutes(routes map[string]string) (map[string]ChatTarget, error) {
	out := make(map[string]ChatTarget, len(routes))
	for tenant, raw := range routes {
		t, err := ParseChatTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("telegram route %q: %w", tenant, err)
		}
		out[tenant] = t
	}
	return out, nil
}

func (d *TelegramDispatcher) Name() string { return "telegram" }

func (d *TelegramDispatcher) Dispatch(ctx context.Context, t Toast) error {
	to, ok := d.routes[t.TenantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, t.TenantID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text := formatTelegramToast(t)
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              to.ThreadID,
	}

	// telebot has no context support; run the call so ctx can bound the wait.
	done := make(chan error, 1)
	go func() {
		_, err := d.bot.Send(&tele.Chat{ID: to.ChatID}, text, opts)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatTelegramToast(t Toast) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(t.Title))
	b.WriteString("</b>")
	if t.Body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(t.Body))
	}
	return b.String()
}
