package notify

import (
	"log/slog"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/ports"
)

// Bus fans an event out to every configured sink. A panicking or slow
// sink never takes down the others — each Notify call is isolated with a
// recover, and sinks are expected to be non-blocking themselves.
type Bus struct {
	sinks []ports.EventSink
}

func NewBus(sinks ...ports.EventSink) *Bus {
	return &Bus{sinks: sinks}
}

func (b *Bus) Notify(e domain.Event) {
	for _, sink := range b.sinks {
		b.notifyOne(sink, e)
	}
}

func (b *Bus) notifyOne(sink ports.EventSink, e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("notify: sink panicked", "kind", e.Kind, "recovered", r)
		}
	}()
	sink.Notify(e)
}
