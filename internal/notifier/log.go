package notifier

import (
	"context"

	logx "toastd/pkg/logx"
)

// LogDispatcher writes toasts to the log. Useful for development and dry runs.
type LogDispatcher struct {
	log logx.Logger
}

func NewLogDispatcher(log logx.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Name() string { return "log" }

func (d *LogDispatcher) Dispatch(ctx context.Context, t Toast) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Info("toast",
		logx.String("tenant_id", t.TenantID),
		logx.String("job_id", t.JobID),
		logx.String("title", t.Title),
		logx.String("text", t.Body),
	)
	return nil
}
