package eventbus

// Toast lifecycle event types.
const (
	ToastScheduled      = "toast.scheduled"
	ToastFired          = "toast.fired"
	ToastCancelled      = "toast.cancelled"
	ToastMissed         = "toast.missed"
	ToastRearmed        = "toast.rearmed"
	ToastDispatched     = "toast.dispatched"
	ToastDispatchFailed = "toast.dispatch_failed"
	ConfigReloaded      = "config.reloaded"
)

// ToastData is the payload of toast.* events.
type ToastData struct {
	TenantID string `json:"tenant_id"`
	AuthorID string `json:"author_id,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Nop discards every event.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
