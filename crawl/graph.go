package crawl

import "sync"

// MergeStrategy resolves node collisions during Graph union/intersection.
type MergeStrategy string

const (
	MergeFirst  MergeStrategy = "first"
	MergeLast   MergeStrategy = "last"
	MergeMerge  MergeStrategy = "merge"
	MergeNewest MergeStrategy = "newest"
)

// Graph is the collection of Nodes keyed by URL plus an ordered list of
// Edges. Nodes iterate in insertion order. The coordinator
// owns one Graph per crawl and mutates it from a single goroutine, so no
// internal locking is required for that path; the mutex exists only to
// make Graph safe for the distributed executor's merge step, which runs
// concurrently with worker dispatch.
type Graph struct {
	mu        sync.RWMutex
	byURL     map[string]*Node
	byID      map[string]*Node
	order     []string // node ids, insertion order
	edges     []*Edge
	edgeIndex map[string]struct{}
}

func NewGraph() *Graph {
	return &Graph{
		byURL:     make(map[string]*Node),
		byID:      make(map[string]*Node),
		edgeIndex: make(map[string]struct{}),
	}
}

func edgeKey(sourceID, targetID string) string { return sourceID + "->" + targetID }

// AddNode admits n, returning the existing node on URL collision unless
// overwrite is true, in which case n replaces it.
func (g *Graph) AddNode(n *Node, overwrite bool) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.byURL[n.URL()]
	if ok && !overwrite {
		return existing
	}
	if ok && existing.ID() != n.ID() {
		delete(g.byID, existing.ID())
		for i, id := range g.order {
			if id == existing.ID() {
				g.order[i] = n.ID()
				break
			}
		}
	} else if !ok {
		g.order = append(g.order, n.ID())
	}
	g.byURL[n.URL()] = n
	g.byID[n.ID()] = n
	return n
}

func (g *Graph) insertNode(n *Node) {
	if _, ok := g.byID[n.ID()]; ok {
		g.byURL[n.URL()] = n
		g.byID[n.ID()] = n
		return
	}
	g.byURL[n.URL()] = n
	g.byID[n.ID()] = n
	g.order = append(g.order, n.ID())
}

// AddEdge admits e if both endpoints resolve to nodes in the Graph and no
// edge with the same (source, target) already exists; deduplication is
// a global invariant across all edge strategies.
func (g *Graph) AddEdge(e *Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(e)
}

func (g *Graph) addEdgeLocked(e *Edge) bool {
	if _, ok := g.byID[e.sourceID]; !ok {
		return false
	}
	if _, ok := g.byID[e.targetID]; !ok {
		return false
	}
	key := edgeKey(e.sourceID, e.targetID)
	if _, dup := g.edgeIndex[key]; dup {
		return false
	}
	g.edgeIndex[key] = struct{}{}
	g.edges = append(g.edges, e)
	return true
}

func (g *Graph) hasEdge(sourceID, targetID string) bool {
	_, ok := g.edgeIndex[edgeKey(sourceID, targetID)]
	return ok
}

func (g *Graph) GetNodeByURL(url string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.byURL[url]
	return n, ok
}

func (g *Graph) GetNodeByID(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.byID[id]
	return n, ok
}

// RemoveNode removes the node and every incident edge.
func (g *Graph) RemoveNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.byID[id]
	if !ok {
		return false
	}
	delete(g.byID, id)
	delete(g.byURL, n.URL())
	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	kept := g.edges[:0:0]
	for _, e := range g.edges {
		if e.sourceID == id || e.targetID == id {
			delete(g.edgeIndex, edgeKey(e.sourceID, e.targetID))
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept
	return true
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, len(g.order))
	for i, id := range g.order {
		out[i] = g.byID[id]
	}
	return out
}

func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// InDegree counts edges targeting nodeID, used by the link processor's
// MAX_IN_DEGREE and FIRST_ENCOUNTER_ONLY edge strategies.
func (g *Graph) InDegree(nodeID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, e := range g.edges {
		if e.targetID == nodeID {
			n++
		}
	}
	return n
}

func (g *Graph) Stats() GraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := GraphStats{TotalNodes: len(g.byID), TotalEdges: len(g.edges)}
	if len(g.byID) == 0 {
		return stats
	}
	depthSum := 0
	for _, n := range g.byID {
		if n.Scanned() {
			stats.ScannedNodes++
		}
		d := n.Depth()
		depthSum += d
		if d > stats.MaxDepth {
			stats.MaxDepth = d
		}
	}
	stats.UnscannedNodes = stats.TotalNodes - stats.ScannedNodes
	stats.AvgDepth = float64(depthSum) / float64(stats.TotalNodes)
	return stats
}

func mergeNodes(left, right *Node, strategy MergeStrategy) *Node {
	switch strategy {
	case MergeLast:
		return right
	case MergeNewest:
		left.mu.RLock()
		lt := left.createdAt
		left.mu.RUnlock()
		right.mu.RLock()
		rt := right.createdAt
		right.mu.RUnlock()
		if rt.After(lt) {
			return right
		}
		return left
	case MergeMerge:
		return mergeFields(left, right)
	default: // MergeFirst and unspecified default to first
		return left
	}
}

func mergeFields(left, right *Node) *Node {
	left.mu.RLock()
	right.mu.RLock()
	merged := &Node{
		id:             left.id,
		url:            left.url,
		depth:          left.depth,
		shouldScan:     left.shouldScan,
		canCreateEdges: left.canCreateEdges,
		scanned:        left.scanned || right.scanned,
		responseStatus: left.responseStatus,
		priority:       left.priority,
		createdAt:      left.createdAt,
		lifecycleStage: left.lifecycleStage,
		metadata:       mergeAnyMaps(left.metadata, right.metadata),
		userData:       mergeAnyMaps(left.userData, right.userData),
		contentHash:    left.contentHash,
		hasher:         left.hasher,
		parser:         left.parser,
		plugins:        left.plugins,
		hashVerified:   left.hashVerified,
	}
	if right.responseStatus != 0 {
		merged.responseStatus = right.responseStatus
	}
	if right.lifecycleStage == HTMLStage {
		merged.lifecycleStage = HTMLStage
		merged.contentHash = right.contentHash
		merged.hashVerified = right.hashVerified
	}
	right.mu.RUnlock()
	left.mu.RUnlock()
	return merged
}

func mergeAnyMaps(left, right map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(left)+len(right))
	for k, v := range left {
		out[k] = v
	}
	for k, v := range right {
		out[k] = v
	}
	return out
}

// Union returns a new Graph containing every node and edge of g and
// other, resolving URL collisions under strategy. The dispatcher uses
// this to fold a worker's partial graph into the master graph.
func (g *Graph) Union(other *Graph, strategy MergeStrategy) *Graph {
	g.mu.RLock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	defer g.mu.RUnlock()

	result := NewGraph()
	idRemap := make(map[string]string)

	for _, id := range g.order {
		result.insertNode(g.byID[id])
	}

	for _, id := range other.order {
		n := other.byID[id]
		existing, ok := result.byURL[n.URL()]
		if !ok {
			result.insertNode(n)
			continue
		}
		winner := mergeNodes(existing, n, strategy)
		if winner.ID() != existing.ID() {
			delete(result.byID, existing.ID())
			idRemap[existing.ID()] = winner.ID()
		}
		if n.ID() != winner.ID() {
			idRemap[n.ID()] = winner.ID()
		}
		result.byURL[winner.URL()] = winner
		result.byID[winner.ID()] = winner
		for i, oid := range result.order {
			if oid == existing.ID() {
				result.order[i] = winner.ID()
				break
			}
		}
	}

	remap := func(id string) string {
		if mapped, ok := idRemap[id]; ok {
			return mapped
		}
		return id
	}
	addAll := func(edges []*Edge) {
		for _, e := range edges {
			src, tgt := remap(e.sourceID), remap(e.targetID)
			result.addEdgeLocked(&Edge{id: e.id, sourceID: src, targetID: tgt, metadata: e.metadata, createdAt: e.createdAt})
		}
	}
	addAll(g.edges)
	addAll(other.edges)

	return result
}

// Difference returns nodes and edges present in g but not in other, keyed
// by node id.
func (g *Graph) Difference(other *Graph) *Graph {
	g.mu.RLock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	defer g.mu.RUnlock()

	result := NewGraph()
	for _, id := range g.order {
		if _, ok := other.byID[id]; !ok {
			result.insertNode(g.byID[id])
		}
	}
	for _, e := range g.edges {
		result.addEdgeLocked(e)
	}
	return result
}

// Intersection returns nodes and edges present in both g and other, keyed
// by node id, resolving field conflicts under strategy.
func (g *Graph) Intersection(other *Graph, strategy MergeStrategy) *Graph {
	g.mu.RLock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	defer g.mu.RUnlock()

	result := NewGraph()
	for _, id := range g.order {
		if on, ok := other.byID[id]; ok {
			result.insertNode(mergeNodes(g.byID[id], on, strategy))
		}
	}
	for _, e := range g.edges {
		if result.hasEdge(e.sourceID, e.targetID) {
			continue
		}
		if _, ok := result.byID[e.sourceID]; !ok {
			continue
		}
		if _, ok := result.byID[e.targetID]; !ok {
			continue
		}
		if !other.hasEdge(e.sourceID, e.targetID) {
			continue
		}
		result.addEdgeLocked(e)
	}
	return result
}

// ToDTO serializes the graph; node records are emitted in stable
// (insertion) order so file diffs are meaningful.
func (g *Graph) ToDTO() GraphDTO {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dto := GraphDTO{
		Nodes: make([]NodeDTO, len(g.order)),
		Edges: make([]EdgeDTO, len(g.edges)),
	}
	for i, id := range g.order {
		dto.Nodes[i] = g.byID[id].ToDTO()
	}
	for i, e := range g.edges {
		dto.Edges[i] = e.ToDTO()
	}
	dto.Stats = g.statsLocked()
	return dto
}

func (g *Graph) statsLocked() GraphStats {
	stats := GraphStats{TotalNodes: len(g.byID), TotalEdges: len(g.edges)}
	if len(g.byID) == 0 {
		return stats
	}
	depthSum := 0
	for _, n := range g.byID {
		if n.Scanned() {
			stats.ScannedNodes++
		}
		d := n.Depth()
		depthSum += d
		if d > stats.MaxDepth {
			stats.MaxDepth = d
		}
	}
	stats.UnscannedNodes = stats.TotalNodes - stats.ScannedNodes
	stats.AvgDepth = float64(depthSum) / float64(stats.TotalNodes)
	return stats
}

// GraphFromDTO reconstructs a Graph from its serialized form. Nodes lose
// their plugin/parser/hasher references; call Node.RestoreDependencies on
// any node that needs processHTML to work again.
func GraphFromDTO(dto GraphDTO) *Graph {
	g := NewGraph()
	for _, ndto := range dto.Nodes {
		g.insertNode(NodeFromDTO(ndto))
	}
	for _, edto := range dto.Edges {
		g.addEdgeLocked(EdgeFromDTO(edto))
	}
	return g
}
