package emit

import "context"

// NullEmitter discards every event. Useful as the default when a caller
// doesn't configure an Emitter via crawl.WithEmitter.
type NullEmitter struct{}

func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (n *NullEmitter) Flush(context.Context) error { return nil }
