package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "toastd/pkg/logx"
)

// descriptorParser accepts standard 5-field specs and @descriptors.
var descriptorParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Timer arms calendar triggers. Implementations run fn on every activation
// of spec until the entry is disarmed.
type Timer interface {
	Arm(spec string, fn func()) (cron.EntryID, error)
	Disarm(id cron.EntryID)
	// Next is the entry's next activation (zero if unknown or not armed).
	Next(id cron.EntryID) time.Time
	Len() int
	Start()
	// Stop halts new activations; the context is done once running jobs return.
	Stop() context.Context
}

// cronTimer is the production Timer: one robfig/cron instance in the
// canonical zone. Each activation runs in its own goroutine.
type cronTimer struct {
	c *cron.Cron
}

func NewCronTimer(loc *time.Location, log logx.Logger) Timer {
	cl := cronLogger{log: log.With(logx.String("comp", "cron"))}
	c := cron.New(
		cron.WithParser(descriptorParser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return &cronTimer{c: c}
}

func (t *cronTimer) Arm(spec string, fn func()) (cron.EntryID, error) {
	return t.c.AddFunc(spec, fn)
}

func (t *cronTimer) Disarm(id cron.EntryID) { t.c.Remove(id) }

func (t *cronTimer) Next(id cron.EntryID) time.Time { return t.c.Entry(id).Next }

func (t *cronTimer) Len() int { return len(t.c.Entries()) }

func (t *cronTimer) Start() { t.c.Start() }

func (t *cronTimer) Stop() context.Context { return t.c.Stop() }

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
