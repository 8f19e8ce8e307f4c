package crawl

import "time"

// GraphDTO is the serialization-only mirror of a Graph used by storage and
// cross-process transport. It never carries live references
// (plugin manager, parser, hash strategy).
type GraphDTO struct {
	Nodes []NodeDTO  `json:"nodes"`
	Edges []EdgeDTO  `json:"edges"`
	Stats GraphStats `json:"stats"`
}

type GraphStats struct {
	TotalNodes    int     `json:"total_nodes"`
	ScannedNodes  int     `json:"scanned_nodes"`
	UnscannedNodes int    `json:"unscanned_nodes"`
	TotalEdges    int     `json:"total_edges"`
	AvgDepth      float64 `json:"avg_depth"`
	MaxDepth      int     `json:"max_depth"`
}

type NodeDTO struct {
	NodeID         string                 `json:"node_id"`
	URL            string                 `json:"url"`
	Depth          int                    `json:"depth"`
	ShouldScan     bool                   `json:"should_scan"`
	CanCreateEdges bool                   `json:"can_create_edges"`
	Scanned        bool                   `json:"scanned"`
	ResponseStatus *int                   `json:"response_status"`
	Metadata       map[string]interface{} `json:"metadata"`
	UserData       map[string]interface{} `json:"user_data"`
	ContentHash    string                 `json:"content_hash"`
	Priority       int                    `json:"priority"`
	CreatedAt      time.Time              `json:"created_at"`
	LifecycleStage string                 `json:"lifecycle_stage"`
}

type EdgeDTO struct {
	EdgeID       string                 `json:"edge_id"`
	SourceNodeID string                 `json:"source_node_id"`
	TargetNodeID string                 `json:"target_node_id"`
	Metadata     map[string]interface{} `json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ToDTO converts a Node into its serialization form.
func (n *Node) ToDTO() NodeDTO {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var status *int
	if n.responseStatus != 0 {
		s := n.responseStatus
		status = &s
	}
	return NodeDTO{
		NodeID:         n.id,
		URL:            n.url,
		Depth:          n.depth,
		ShouldScan:     n.shouldScan,
		CanCreateEdges: n.canCreateEdges,
		Scanned:        n.scanned,
		ResponseStatus: status,
		Metadata:       copyAnyMap(n.metadata),
		UserData:       copyAnyMap(n.userData),
		ContentHash:    n.contentHash,
		Priority:       n.priority,
		CreatedAt:      n.createdAt,
		LifecycleStage: string(n.lifecycleStage),
	}
}

// NodeFromDTO reconstructs a Node from its serialized form. The returned
// node has no plugin manager, parser, or hash strategy attached; callers
// that need processHTML to work again must attach those via
// RestoreDependencies.
func NodeFromDTO(dto NodeDTO) *Node {
	n := &Node{
		id:             dto.NodeID,
		url:            dto.URL,
		depth:          dto.Depth,
		shouldScan:     dto.ShouldScan,
		canCreateEdges: dto.CanCreateEdges,
		scanned:        dto.Scanned,
		metadata:       copyAnyMap(dto.Metadata),
		userData:       copyAnyMap(dto.UserData),
		contentHash:    dto.ContentHash,
		priority:       dto.Priority,
		createdAt:      dto.CreatedAt,
		lifecycleStage: Lifecycle(dto.LifecycleStage),
	}
	if dto.ResponseStatus != nil {
		n.responseStatus = *dto.ResponseStatus
	}
	if n.metadata == nil {
		n.metadata = make(map[string]interface{})
	}
	if n.userData == nil {
		n.userData = make(map[string]interface{})
	}
	return n
}

// RestoreDependencies reattaches a plugin manager, parser, and hash
// strategy to a node reconstructed from a DTO; DTOs never carry live
// references, so deserialization supplies fresh ones.
func (n *Node) RestoreDependencies(plugins *NodePluginManager, parser HTMLParser, hasher ContentHashStrategy) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.plugins = plugins
	n.parser = parser
	n.hasher = hasher
}

func copyAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return make(map[string]interface{})
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
