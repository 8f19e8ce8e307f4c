// Package plugin implements the ordered, stage-keyed plugin manager shared
// by the node lifecycle (ON_NODE_CREATED/ON_BEFORE_SCAN/ON_HTML_PARSED/
// ON_AFTER_SCAN) and the transport's per-request lifecycle. It is generic
// over the context value threaded through a stage's plugins so both
// universes (crawl.PluginContext and transport.RequestContext) share
// one implementation.
package plugin

import (
	"context"
	"fmt"
	"sync"
)

// Stage names a point in a lifecycle at which plugins run. Node stages and
// driver (transport) stages share this type but are disjoint string spaces
// owned by the crawl and transport packages respectively.
type Stage string

// Plugin runs at one or more stages, receiving and returning the threaded
// context value. An error return skips this plugin for this invocation;
// it never aborts the stage or the crawl.
type Plugin[T any] interface {
	Name() string
	OnStage(ctx context.Context, stage Stage, value T) (T, error)
}

// Closer is an optional capability: plugins that hold resources implement
// it to release them when the Manager tears down.
type Closer interface {
	Close() error
}

// ErrorHook is called whenever a plugin errors or panics during OnStage.
// It must not itself panic or block for long; it is typically wired to an
// emit.Emitter and a metrics.Crawl counter.
type ErrorHook func(stage Stage, pluginName string, err error)

// Manager holds an ordered list of plugins per stage and threads a context
// value through them, catching and logging failures so one broken plugin
// never terminates the crawl.
type Manager[T any] struct {
	mu       sync.RWMutex
	byStage  map[Stage][]Plugin[T]
	seenName map[string]Plugin[T]
	order    []Plugin[T]
	onError  ErrorHook
}

func NewManager[T any](onError ErrorHook) *Manager[T] {
	return &Manager[T]{
		byStage:  make(map[Stage][]Plugin[T]),
		seenName: make(map[string]Plugin[T]),
		onError:  onError,
	}
}

// Register appends p to the plugin list for stage, in call order. A plugin
// may be registered for more than one stage; it is only torn down once.
func (m *Manager[T]) Register(stage Stage, p Plugin[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byStage[stage] = append(m.byStage[stage], p)
	if _, ok := m.seenName[p.Name()]; !ok {
		m.seenName[p.Name()] = p
		m.order = append(m.order, p)
	}
}

// Execute runs every plugin registered for stage, in registration order,
// threading value through each. A plugin that errors or panics is skipped:
// the value it would have returned is discarded and the next plugin
// receives the value as it stood before that plugin ran.
func (m *Manager[T]) Execute(ctx context.Context, stage Stage, value T) T {
	m.mu.RLock()
	plugins := make([]Plugin[T], len(m.byStage[stage]))
	copy(plugins, m.byStage[stage])
	m.mu.RUnlock()

	for _, p := range plugins {
		result, err := m.runOne(ctx, stage, p, value)
		if err != nil {
			if m.onError != nil {
				m.onError(stage, p.Name(), err)
			}
			continue
		}
		value = result
	}
	return value
}

func (m *Manager[T]) runOne(ctx context.Context, stage Stage, p Plugin[T], value T) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %q panicked at stage %s: %v", p.Name(), stage, r)
		}
	}()
	return p.OnStage(ctx, stage, value)
}

// Teardown calls Close on every registered plugin that implements Closer,
// once each, regardless of how many stages it was registered for.
func (m *Manager[T]) Teardown() {
	m.mu.RLock()
	plugins := make([]Plugin[T], len(m.order))
	copy(plugins, m.order)
	m.mu.RUnlock()

	for _, p := range plugins {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil && m.onError != nil {
				m.onError("teardown", p.Name(), err)
			}
		}
	}
}
