package realtime_test

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/leadscout/leadscout/internal/realtime"
)

func TestEmitter_OrderPreserved(t *testing.T) {
	e := realtime.NewEmitter(slog.Default())

	var order []int
	e.On(realtime.EventJobProgress, func(json.RawMessage) { order = append(order, 1) })
	e.On(realtime.EventJobProgress, func(json.RawMessage) { order = append(order, 2) })
	e.On(realtime.EventJobProgress, func(json.RawMessage) { order = append(order, 3) })

	e.Emit(realtime.EventJobProgress, nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("listeners ran out of registration order: %v", order)
	}
}

func TestEmitter_PanicDoesNotStopDelivery(t *testing.T) {
	e := realtime.NewEmitter(slog.Default())

	delivered := false
	e.On(realtime.EventJobFailed, func(json.RawMessage) { panic("listener bug") })
	e.On(realtime.EventJobFailed, func(json.RawMessage) { delivered = true })

	e.Emit(realtime.EventJobFailed, nil)

	if !delivered {
		t.Fatal("panicking listener prevented delivery to the next one")
	}
}

func TestEmitter_DisposerRemovesOnlyItsRegistration(t *testing.T) {
	e := realtime.NewEmitter(slog.Default())

	first, second := 0, 0
	dispose := e.On(realtime.EventResultUpdate, func(json.RawMessage) { first++ })
	e.On(realtime.EventResultUpdate, func(json.RawMessage) { second++ })

	e.Emit(realtime.EventResultUpdate, nil)
	dispose()
	dispose() // double dispose is a no-op
	e.Emit(realtime.EventResultUpdate, nil)

	if first != 1 {
		t.Fatalf("disposed listener invoked %d times, want 1", first)
	}
	if second != 2 {
		t.Fatalf("surviving listener invoked %d times, want 2", second)
	}
}

func TestEmitter_EventsAreIsolated(t *testing.T) {
	e := realtime.NewEmitter(slog.Default())

	var got realtime.Event
	e.On(realtime.EventJobCompleted, func(json.RawMessage) { got = realtime.EventJobCompleted })

	e.Emit(realtime.EventJobProgress, nil)
	if got != "" {
		t.Fatal("listener fired for a different event")
	}
}
