package notify

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

func TestConsole_NotifyWritesLineForGenericEvent(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)
	c.Notify(domain.NewEvent(domain.EventScanComplete, map[string]any{"symbols": 5}))
	assert.Contains(t, buf.String(), "scan_complete")
	assert.Contains(t, buf.String(), "symbols=5")
}

func TestConsole_NotifyRendersTradeTable(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)
	c.Notify(domain.NewEvent(domain.EventTradeExecuted, map[string]any{
		"symbol": "BTCUSD", "side": "BUY", "qty": "0.50000000", "price": "100.00000000",
	}))
	assert.Contains(t, buf.String(), "BTCUSD")
}

type recordingSink struct{ n int }

func (r *recordingSink) Notify(domain.Event) { r.n++ }

type panickingSink struct{}

func (panickingSink) Notify(domain.Event) { panic("boom") }

func TestBus_NotifyIsolatesPanickingSink(t *testing.T) {
	r := &recordingSink{}
	bus := NewBus(panickingSink{}, r)
	assert.NotPanics(t, func() {
		bus.Notify(domain.NewEvent(domain.EventSystemError, nil))
	})
	assert.Equal(t, 1, r.n)
}
