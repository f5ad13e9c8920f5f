package models

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"
)

// MemoryType classifies what kind of knowledge a record represents.
type MemoryType string

const (
	MemoryTypeEpisodic MemoryType = "episodic"
	MemoryTypeSemantic MemoryType = "semantic"
	MemoryTypeTemporal MemoryType = "temporal"
)

// DefaultMemoryType is used by the adapters when a request names no type.
const DefaultMemoryType = MemoryTypeEpisodic

// MemoryTypes lists every known memory type in a stable order.
var MemoryTypes = []MemoryType{MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeTemporal}

func (t MemoryType) IsValid() bool {
	switch t {
	case MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeTemporal:
		return true
	}
	return false
}

func (t MemoryType) String() string { return string(t) }

// ParseMemoryType accepts any casing of a known type name.
func ParseMemoryType(s string) (MemoryType, error) {
	t := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", Validation("unknown memory type", "memory_type", s)
	}
	return t, nil
}

func (t *MemoryType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return Validation("memory type must be a string", "memory_type", string(data))
	}
	parsed, err := ParseMemoryType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

const (
	DefaultImportance = 5.0
	MinImportance     = 0.0
	MaxImportance     = 10.0
)

// Record is the unit of persistence shared by every backend.
type Record struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	MemoryType   MemoryType     `json:"memory_type"`
	AgentID      string         `json:"agent_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	Importance   float64        `json:"importance"`
	Tags         []string       `json:"tags"`
	Embedding    []float32      `json:"embedding,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	AccessCount  int            `json:"access_count"`
	LastAccessed *time.Time     `json:"last_accessed,omitempty"`
}

// Clone returns a deep copy so callers can mutate without touching
// a backend's cached value.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	if r.Embedding != nil {
		c.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.LastAccessed != nil {
		t := *r.LastAccessed
		c.LastAccessed = &t
	}
	return &c
}

// Touch records a deliberate recall.
func (r *Record) Touch(now time.Time) {
	r.AccessCount++
	r.LastAccessed = &now
}

// Apply copies the provided patch fields onto the record and refreshes
// updated_at. It never goes backwards in time.
func (r *Record) Apply(p *Patch, now time.Time) {
	if p.Content != nil {
		r.Content = *p.Content
	}
	if p.MemoryType != nil {
		r.MemoryType = *p.MemoryType
	}
	if p.Metadata != nil {
		r.Metadata = p.Metadata
	}
	if p.Importance != nil {
		r.Importance = ClampImportance(*p.Importance)
	}
	if p.Tags != nil {
		r.Tags = NormalizeTags(p.Tags)
	}
	if p.Embedding != nil {
		r.Embedding = p.Embedding
	}
	r.UpdatedAt = NextTimestamp(r.UpdatedAt, now)
}

// NextTimestamp returns now, or one microsecond past prev when the clock
// has not advanced far enough to be strictly later at storage precision.
func NextTimestamp(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

// Patch holds the mutable fields of an update. Nil means unchanged.
type Patch struct {
	Content    *string        `json:"content,omitempty"`
	MemoryType *MemoryType    `json:"memory_type,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Importance *float64       `json:"importance,omitempty"`
	Tags       []string       `json:"tags,omitempty"`

	// Embedding is filled by the manager when content changes.
	Embedding []float32 `json:"-"`
}

// Validate checks the ranges of the provided fields.
func (p *Patch) Validate() error {
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return Validation("content must not be empty", "field", "content")
	}
	if p.MemoryType != nil && !p.MemoryType.IsValid() {
		return Validation("unknown memory type", "memory_type", string(*p.MemoryType))
	}
	if p.Importance != nil {
		if err := ValidateImportance(*p.Importance); err != nil {
			return err
		}
	}
	return nil
}

// ValidateImportance rejects values outside [0, 10].
func ValidateImportance(v float64) error {
	if math.IsNaN(v) || v < MinImportance || v > MaxImportance {
		return Validation("importance must be between 0 and 10", "importance", v)
	}
	return nil
}

// ClampImportance forces v into [0, 10]. NaN becomes the default.
func ClampImportance(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return DefaultImportance
	case v < MinImportance:
		return MinImportance
	case v > MaxImportance:
		return MaxImportance
	}
	return v
}

// NormalizeTags trims, drops empties, dedupes and sorts so tags behave as a set.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SearchQuery is a relevance lookup over content.
type SearchQuery struct {
	Text  string
	Type  *MemoryType
	Limit int
}

// ScopeQuery is an exact-match filter; zero values are wildcards.
type ScopeQuery struct {
	Type      *MemoryType
	AgentID   string
	SessionID string
	Limit     int
}

// TimeRangeQuery selects records whose created_at lies in [Start, End].
type TimeRangeQuery struct {
	AgentID string
	Start   time.Time
	End     time.Time
	Limit   int
}

// Contains reports whether t lies within the inclusive bounds.
func (q TimeRangeQuery) Contains(t time.Time) bool {
	return !t.Before(q.Start) && !t.After(q.End)
}

// Stats summarises a store's contents.
type Stats struct {
	Backend string             `json:"backend"`
	Total   int                `json:"total"`
	ByType  map[MemoryType]int `json:"by_type"`
}

// NewStats returns a Stats with every memory type present at zero.
func NewStats(backend string) *Stats {
	s := &Stats{Backend: backend, ByType: make(map[MemoryType]int, len(MemoryTypes))}
	for _, t := range MemoryTypes {
		s.ByType[t] = 0
	}
	return s
}

// NormalizeMetadata round-trips m through JSON so the stored value is what
// every backend will hand back. Nil becomes an empty map.
func NormalizeMetadata(m map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(m) == 0 {
		return out, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, Validation("metadata must be JSON-serializable", "cause", err.Error())
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, Validation("metadata must be a JSON object", "cause", err.Error())
	}
	return out, nil
}
