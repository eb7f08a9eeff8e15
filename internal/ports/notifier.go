package ports

import (
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// EventSink is a best-effort observer of engine events. The bundled
// implementation is notify.Console; an external REST/event API
// collaborator would subscribe through the same interface.
type EventSink interface {
	Notify(e domain.Event)
}

// Clock is the monotonic "now" shared by every component so paper, live
// and tests agree on time.
type Clock interface {
	Now() time.Time
}
