package emit

import "context"

// Emitter receives crawl progress and diagnostic events. Implementations
// must not block the coordinator's loop for long and must never panic;
// a broken observability backend must not abort a crawl.
type Emitter interface {
	// Emit sends a single event. Must not panic.
	Emit(event Event)

	// EmitBatch sends multiple events, preserving order. Returns an error
	// only on catastrophic, configuration-level failures; per-event
	// delivery failures should be swallowed internally.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any buffered events have been delivered, or ctx
	// is done. Safe to call multiple times.
	Flush(ctx context.Context) error
}

// Multi fans a single Emit/EmitBatch/Flush call out to every emitter in
// the list. Used when a crawl wants both structured logs and tracing.
type Multi []Emitter

func (m Multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}

func (m Multi) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range m {
		if err := e.EmitBatch(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Flush(ctx context.Context) error {
	for _, e := range m {
		if err := e.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
