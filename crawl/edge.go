package crawl

import (
	"time"

	"github.com/google/uuid"
)

// Edge is a directed link between two nodes, created by the link
// processor and never mutated after creation.
type Edge struct {
	id        string
	sourceID  string
	targetID  string
	metadata  map[string]interface{}
	createdAt time.Time
}

func NewEdge(sourceID, targetID string, metadata map[string]interface{}) *Edge {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &Edge{
		id:        uuid.NewString(),
		sourceID:  sourceID,
		targetID:  targetID,
		metadata:  metadata,
		createdAt: time.Now(),
	}
}

func (e *Edge) ID() string                        { return e.id }
func (e *Edge) SourceID() string                  { return e.sourceID }
func (e *Edge) TargetID() string                  { return e.targetID }
func (e *Edge) Metadata() map[string]interface{}  { return e.metadata }
func (e *Edge) CreatedAt() time.Time              { return e.createdAt }

func (e *Edge) ToDTO() EdgeDTO {
	return EdgeDTO{
		EdgeID:       e.id,
		SourceNodeID: e.sourceID,
		TargetNodeID: e.targetID,
		Metadata:     copyAnyMap(e.metadata),
		CreatedAt:    e.createdAt,
	}
}

func EdgeFromDTO(dto EdgeDTO) *Edge {
	return &Edge{
		id:        dto.EdgeID,
		sourceID:  dto.SourceNodeID,
		targetID:  dto.TargetNodeID,
		metadata:  copyAnyMap(dto.Metadata),
		createdAt: dto.CreatedAt,
	}
}
