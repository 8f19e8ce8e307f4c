package crawl

import (
	"context"

	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// EdgeStrategyKind selects how the link processor decides whether to
// create an edge to an already-resolved child node.
type EdgeStrategyKind string

const (
	EdgeAll                EdgeStrategyKind = "ALL"
	EdgeNewOnly            EdgeStrategyKind = "NEW_ONLY"
	EdgeMaxInDegree        EdgeStrategyKind = "MAX_IN_DEGREE"
	EdgeSameDepthOnly      EdgeStrategyKind = "SAME_DEPTH_ONLY"
	EdgeDeeperOnly         EdgeStrategyKind = "DEEPER_ONLY"
	EdgeFirstEncounterOnly EdgeStrategyKind = "FIRST_ENCOUNTER_ONLY"
)

type EdgeStrategy struct {
	Kind        EdgeStrategyKind
	MaxInDegree int // consulted only when Kind == EdgeMaxInDegree
}

// LinkProcessor admits a parent node's extracted links into the Graph
// and Scheduler, applying filters, URL/edge rules, and the configured
// edge-creation strategy.
type LinkProcessor struct {
	graph        *Graph
	scheduler    *Scheduler
	domainFilter *DomainFilter
	pathFilter   *PathFilter
	urlRules     []*URLRule
	edgeRules    []*EdgeRule
	edgeStrategy EdgeStrategy
	batchSize    int
	plugins      *NodePluginManager
}

type LinkProcessorOption func(*LinkProcessor)

func WithDomainFilter(f *DomainFilter) LinkProcessorOption {
	return func(lp *LinkProcessor) { lp.domainFilter = f }
}

func WithPathFilter(f *PathFilter) LinkProcessorOption {
	return func(lp *LinkProcessor) { lp.pathFilter = f }
}

func WithURLRules(rules []*URLRule) LinkProcessorOption {
	return func(lp *LinkProcessor) { lp.urlRules = rules }
}

func WithEdgeRules(rules []*EdgeRule) LinkProcessorOption {
	return func(lp *LinkProcessor) { lp.edgeRules = rules }
}

func WithEdgeStrategy(s EdgeStrategy) LinkProcessorOption {
	return func(lp *LinkProcessor) { lp.edgeStrategy = s }
}

func WithLinkBatchSize(n int) LinkProcessorOption {
	return func(lp *LinkProcessor) { lp.batchSize = n }
}

func WithLinkProcessorPlugins(m *NodePluginManager) LinkProcessorOption {
	return func(lp *LinkProcessor) { lp.plugins = m }
}

func NewLinkProcessor(graph *Graph, scheduler *Scheduler, opts ...LinkProcessorOption) *LinkProcessor {
	lp := &LinkProcessor{
		graph:        graph,
		scheduler:    scheduler,
		edgeStrategy: EdgeStrategy{Kind: EdgeAll},
		batchSize:    50,
	}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

func asStringBoolMap(v interface{}) map[string]bool {
	switch m := v.(type) {
	case map[string]bool:
		return m
	case map[string]interface{}:
		out := make(map[string]bool, len(m))
		for k, val := range m {
			if b, ok := val.(bool); ok {
				out[k] = b
			}
		}
		return out
	default:
		return nil
	}
}

func asStringIntMap(v interface{}) map[string]int {
	switch m := v.(type) {
	case map[string]int:
		return m
	case map[string]interface{}:
		out := make(map[string]int, len(m))
		for k, val := range m {
			switch n := val.(type) {
			case int:
				out[k] = n
			case float64:
				out[k] = int(n)
			}
		}
		return out
	default:
		return nil
	}
}

// ProcessLinks runs the per-link admission algorithm synchronously,
// returning the count of newly admitted child nodes.
func (lp *LinkProcessor) ProcessLinks(ctx context.Context, parent *Node, links []string) int {
	if !parent.CanCreateEdges() {
		return 0
	}

	explicit := asStringBoolMap(parent.UserData()["explicit_scan_decisions"])
	childPriorities := asStringIntMap(parent.UserData()["child_priorities"])

	admitted := 0
	for _, raw := range links {
		admitted += lp.processOne(ctx, parent, raw, explicit, childPriorities)
	}
	return admitted
}

// ProcessLinksBatched processes links in chunks of batchSize (0 means
// use the processor's configured default), checking ctx between chunks
// so callers can interleave with other coordinator work and honor
// cancellation.
func (lp *LinkProcessor) ProcessLinksBatched(ctx context.Context, parent *Node, links []string, batchSize int) int {
	if batchSize <= 0 {
		batchSize = lp.batchSize
	}
	if !parent.CanCreateEdges() {
		return 0
	}

	explicit := asStringBoolMap(parent.UserData()["explicit_scan_decisions"])
	childPriorities := asStringIntMap(parent.UserData()["child_priorities"])

	admitted := 0
	for start := 0; start < len(links); start += batchSize {
		if ctx.Err() != nil {
			return admitted
		}
		end := start + batchSize
		if end > len(links) {
			end = len(links)
		}
		for _, raw := range links[start:end] {
			admitted += lp.processOne(ctx, parent, raw, explicit, childPriorities)
		}
	}
	return admitted
}

func (lp *LinkProcessor) processOne(ctx context.Context, parent *Node, raw string, explicit map[string]bool, childPriorities map[string]int) int {
	abs, err := urlutil.MakeAbsolute(parent.URL(), raw)
	if err != nil {
		return 0
	}
	abs = urlutil.Normalize(abs)
	if !urlutil.IsValid(abs) {
		return 0
	}

	matched := matchFirstRule(lp.urlRules, abs)
	shouldScan := lp.resolveShouldScan(abs, matched, explicit)

	existing, exists := lp.graph.GetNodeByURL(abs)

	if !shouldScan {
		if matched != nil && matched.CreateEdge == True && exists {
			lp.graph.AddEdge(NewEdge(parent.ID(), existing.ID(), nil))
		}
		return 0
	}

	var child *Node
	isNew := !exists
	if exists {
		child = existing
	} else {
		depth := parent.Depth() + 1
		opts := []NodeOption{}
		if p, ok := childPriorities[abs]; ok {
			opts = append(opts, WithPriority(p))
		}
		if lp.plugins != nil {
			opts = append(opts, WithNodePlugins(lp.plugins))
		}
		child = NewNode(ctx, abs, depth, opts...)
		child.SetShouldScan(true)
		applyCanCreateEdges(matched, child)
		lp.graph.AddNode(child, false)
	}

	if lp.decideEdgeCreation(matched, parent, child, isNew) {
		lp.graph.AddEdge(NewEdge(parent.ID(), child.ID(), nil))
	}

	if isNew {
		lp.scheduler.AddNode(child)
		return 1
	}
	return 0
}

// resolveShouldScan decides admission for one link: explicit per-link
// decisions override rules, which override filters.
func (lp *LinkProcessor) resolveShouldScan(abs string, matched *URLRule, explicit map[string]bool) bool {
	if explicit != nil {
		if v, ok := explicit[abs]; ok {
			return v
		}
	}
	if matched != nil && matched.ShouldScan != Unset {
		return matched.ShouldScan == True
	}
	if lp.domainFilter != nil && !lp.domainFilter.IsAllowed(abs) {
		return false
	}
	if lp.pathFilter != nil && !lp.pathFilter.IsAllowed(abs) {
		return false
	}
	return true
}

func applyCanCreateEdges(r *URLRule, n *Node) {
	if r != nil && r.ShouldFollowLinks != Unset {
		n.SetCanCreateEdges(r.ShouldFollowLinks == True)
	}
}

// decideEdgeCreation decides whether an edge is created: a matched URL
// rule's create_edge tri-state overrides everything; otherwise a
// matching EdgeRule decides; otherwise the configured strategy applies.
func (lp *LinkProcessor) decideEdgeCreation(matched *URLRule, parent, child *Node, isNew bool) bool {
	if matched != nil && matched.CreateEdge != Unset {
		return matched.CreateEdge == True
	}

	depthDiff := child.Depth() - parent.Depth()
	if er := matchFirstEdgeRule(lp.edgeRules, parent.URL(), child.URL(), depthDiff); er != nil {
		return er.Action == EdgeActionAllow
	}

	switch lp.edgeStrategy.Kind {
	case EdgeNewOnly:
		return isNew
	case EdgeMaxInDegree:
		return lp.graph.InDegree(child.ID()) < lp.edgeStrategy.MaxInDegree
	case EdgeSameDepthOnly:
		return parent.Depth() == child.Depth()
	case EdgeDeeperOnly:
		return parent.Depth() < child.Depth()
	case EdgeFirstEncounterOnly:
		return lp.graph.InDegree(child.ID()) == 0
	default: // EdgeAll
		return true
	}
}
