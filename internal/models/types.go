package models

import "time"

// AddRequest is the payload for POST /memories.
type AddRequest struct {
	Content    string         `json:"content"`
	MemoryType MemoryType     `json:"memory_type"`
	AgentID    string         `json:"agent_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Importance *float64       `json:"importance,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

// SearchRequest is the payload for POST /memories/search.
type SearchRequest struct {
	Query      string      `json:"query"`
	MemoryType *MemoryType `json:"memory_type,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// EpisodicRequest is the payload for POST /memories/episodic.
type EpisodicRequest struct {
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// TimelineRequest is the payload for POST /memories/timeline.
type TimelineRequest struct {
	AgentID   string     `json:"agent_id,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// WriteResponse wraps a record returned from a write path.
type WriteResponse struct {
	Memory   *Record  `json:"memory"`
	Status   string   `json:"status"`
	Warnings []string `json:"warnings,omitempty"`
}

// ListResponse wraps records returned from a read path.
type ListResponse struct {
	Memories []*Record `json:"memories"`
	Count    int       `json:"count"`
}

// NewListResponse never emits a null array.
func NewListResponse(records []*Record) ListResponse {
	if records == nil {
		records = []*Record{}
	}
	return ListResponse{Memories: records, Count: len(records)}
}

// DeleteResponse is returned from DELETE /memories/{id}.
type DeleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ServiceCheck reports one dependency in a health response.
type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string       `json:"status"`
	Backend  string       `json:"backend"`
	Embedder string       `json:"embedder"`
	Store    ServiceCheck `json:"store"`
	Total    int          `json:"total"`
}
