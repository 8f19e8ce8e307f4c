package emit

import "github.com/crawlgraph/crawlgraph/crawl"

// CoordinatorAdapter lets any Emitter back a crawl.Coordinator or
// distributed.Dispatcher, whose Emitter interfaces are declared locally
// against CoordinatorEvent/Event's identical shape to avoid an import
// cycle. Wrap with NewCoordinatorAdapter and pass to crawl.WithEmitter or
// distributed.WithDispatcherEmitter.
type CoordinatorAdapter struct {
	emitter Emitter
}

func NewCoordinatorAdapter(e Emitter) *CoordinatorAdapter {
	return &CoordinatorAdapter{emitter: e}
}

func (a *CoordinatorAdapter) Emit(event crawl.CoordinatorEvent) {
	a.emitter.Emit(Event{
		CrawlID: event.CrawlID,
		Seq:     event.Seq,
		URL:     event.URL,
		Msg:     event.Msg,
		Meta:    event.Meta,
	})
}
