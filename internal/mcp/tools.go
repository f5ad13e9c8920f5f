package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iammorganparry/agentmem/internal/memory"
	"github.com/iammorganparry/agentmem/internal/models"
)

type addParams struct {
	Content    string         `json:"content" jsonschema:"The memory text, written as a standalone statement"`
	MemoryType string         `json:"memory_type,omitempty" jsonschema:"One of episodic, semantic or temporal, default episodic"`
	AgentID    string         `json:"agent_id,omitempty" jsonschema:"Owning agent"`
	SessionID  string         `json:"session_id,omitempty" jsonschema:"Session the memory belongs to"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary JSON metadata"`
	Importance *float64       `json:"importance,omitempty" jsonschema:"Importance from 0 to 10, default 5"`
	Tags       []string       `json:"tags,omitempty" jsonschema:"Tags for categorization"`
}

type searchParams struct {
	Query      string `json:"query" jsonschema:"Text to search for"`
	MemoryType string `json:"memory_type,omitempty" jsonschema:"Restrict to one memory type"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum results, default 10"`
}

type idParams struct {
	ID string `json:"id" jsonschema:"Memory id"`
}

type updateParams struct {
	ID         string         `json:"id" jsonschema:"Memory id"`
	Content    *string        `json:"content,omitempty" jsonschema:"Replacement text; the embedding is regenerated"`
	MemoryType *string        `json:"memory_type,omitempty" jsonschema:"New memory type"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"Replacement metadata"`
	Importance *float64       `json:"importance,omitempty" jsonschema:"New importance from 0 to 10"`
	Tags       []string       `json:"tags,omitempty" jsonschema:"Replacement tags"`
}

type episodicParams struct {
	AgentID   string `json:"agent_id,omitempty" jsonschema:"Only this agent's memories"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Only this session's memories"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum results, default 50"`
}

type timelineParams struct {
	AgentID   string `json:"agent_id,omitempty" jsonschema:"Only this agent's memories"`
	StartTime string `json:"start_time,omitempty" jsonschema:"RFC 3339 lower bound, inclusive"`
	EndTime   string `json:"end_time,omitempty" jsonschema:"RFC 3339 upper bound, inclusive"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum results, default 100"`
}

type writeResult struct {
	Memory   *models.Record `json:"memory"`
	Status   memory.Status  `json:"status"`
	Warnings []string       `json:"warnings,omitempty"`
}

func (s *Server) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_add",
		Description: "Store a new memory. Returns the record and whether it was fully persisted.",
	}, s.add)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_search",
		Description: "Search memories by text. Results are most relevant first; each hit counts as a recall.",
	}, s.search)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_get",
		Description: "Fetch one memory by id.",
	}, s.get)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_update",
		Description: "Change fields of an existing memory. Omitted fields are left as they are.",
	}, s.update)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_delete",
		Description: "Delete a memory by id. Deleting a missing id reports deleted=false.",
	}, s.delete)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_episodic",
		Description: "List episodic memories for an agent or session, newest first.",
	}, s.episodic)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_timeline",
		Description: "List memories created in a time window, oldest first.",
	}, s.timeline)
}

func (s *Server) add(ctx context.Context, _ *mcp.CallToolRequest, p *addParams) (*mcp.CallToolResult, any, error) {
	memType := models.DefaultMemoryType
	if p.MemoryType != "" {
		t, err := models.ParseMemoryType(p.MemoryType)
		if err != nil {
			return s.errorResult("memory_add", err)
		}
		memType = t
	}
	rec, outcome, err := s.mgr.Add(ctx, memory.AddInput{
		Content:    p.Content,
		MemoryType: memType,
		AgentID:    p.AgentID,
		SessionID:  p.SessionID,
		Metadata:   p.Metadata,
		Importance: p.Importance,
		Tags:       p.Tags,
	})
	if err != nil {
		return s.errorResult("memory_add", err)
	}
	return textResult(writeResult{Memory: rec, Status: outcome.Status, Warnings: outcome.Warnings})
}

func (s *Server) search(ctx context.Context, _ *mcp.CallToolRequest, p *searchParams) (*mcp.CallToolResult, any, error) {
	var memType *models.MemoryType
	if p.MemoryType != "" {
		t, err := models.ParseMemoryType(p.MemoryType)
		if err != nil {
			return s.errorResult("memory_search", err)
		}
		memType = &t
	}
	recs, err := s.mgr.Search(ctx, p.Query, memType, p.Limit)
	if err != nil {
		return s.errorResult("memory_search", err)
	}
	return textResult(models.NewListResponse(recs))
}

func (s *Server) get(ctx context.Context, _ *mcp.CallToolRequest, p *idParams) (*mcp.CallToolResult, any, error) {
	rec, err := s.mgr.Get(ctx, p.ID)
	if err != nil {
		return s.errorResult("memory_get", err)
	}
	if rec == nil {
		return textResult(map[string]any{"id": p.ID, "found": false})
	}
	return textResult(rec)
}

func (s *Server) update(ctx context.Context, _ *mcp.CallToolRequest, p *updateParams) (*mcp.CallToolResult, any, error) {
	patch := models.Patch{
		Content:    p.Content,
		Metadata:   p.Metadata,
		Importance: p.Importance,
		Tags:       p.Tags,
	}
	if p.MemoryType != nil {
		t, err := models.ParseMemoryType(*p.MemoryType)
		if err != nil {
			return s.errorResult("memory_update", err)
		}
		patch.MemoryType = &t
	}

	rec, outcome, err := s.mgr.Update(ctx, p.ID, patch)
	if err != nil {
		return s.errorResult("memory_update", err)
	}
	if rec == nil && outcome.Status == memory.StatusFailed {
		return s.failedResult("memory_update", writeResult{Status: outcome.Status, Warnings: outcome.Warnings})
	}
	if rec == nil {
		return textResult(map[string]any{"id": p.ID, "found": false})
	}
	return textResult(writeResult{Memory: rec, Status: outcome.Status, Warnings: outcome.Warnings})
}

func (s *Server) delete(ctx context.Context, _ *mcp.CallToolRequest, p *idParams) (*mcp.CallToolResult, any, error) {
	deleted, err := s.mgr.Delete(ctx, p.ID)
	if err != nil {
		return s.errorResult("memory_delete", err)
	}
	return textResult(models.DeleteResponse{ID: p.ID, Deleted: deleted})
}

func (s *Server) episodic(ctx context.Context, _ *mcp.CallToolRequest, p *episodicParams) (*mcp.CallToolResult, any, error) {
	recs, err := s.mgr.Episodic(ctx, p.AgentID, p.SessionID, p.Limit)
	if err != nil {
		return s.errorResult("memory_episodic", err)
	}
	return textResult(models.NewListResponse(recs))
}

func (s *Server) timeline(ctx context.Context, _ *mcp.CallToolRequest, p *timelineParams) (*mcp.CallToolResult, any, error) {
	start, err := parseTime("start_time", p.StartTime)
	if err != nil {
		return s.errorResult("memory_timeline", err)
	}
	end, err := parseTime("end_time", p.EndTime)
	if err != nil {
		return s.errorResult("memory_timeline", err)
	}
	recs, err := s.mgr.Timeline(ctx, p.AgentID, start, end, p.Limit)
	if err != nil {
		return s.errorResult("memory_timeline", err)
	}
	return textResult(models.NewListResponse(recs))
}

func parseTime(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, models.Validation("time must be RFC 3339", "field", field, "value", raw)
	}
	return &t, nil
}
