package systemd

import (
	"context"
	"testing"
	"time"
)

func TestNoopOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	if sent, err := Ready(); sent || err != nil {
		t.Fatalf("ready sent=%v err=%v", sent, err)
	}
	if sent, err := Stopping(); sent || err != nil {
		t.Fatalf("stopping sent=%v err=%v", sent, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := Watchdog(ctx); err != nil {
		t.Fatalf("watchdog: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("watchdog blocked without WATCHDOG_USEC")
	}
}
