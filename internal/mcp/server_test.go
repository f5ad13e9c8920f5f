package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/logging"
	"github.com/iammorganparry/agentmem/internal/mcp"
	"github.com/iammorganparry/agentmem/internal/memory"
	"github.com/iammorganparry/agentmem/internal/models"
	"github.com/iammorganparry/agentmem/internal/store"
)

func connect(t *testing.T) *sdk.ClientSession {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mcp.db"))
	gt.NoError(t, err)
	return connectStore(t, st)
}

func connectStore(t *testing.T, st store.Store) *sdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	logger := logging.New("error", "console", io.Discard)
	mgr := memory.New(st, embedding.NewHashEmbedder(16), logger)
	t.Cleanup(func() { mgr.Close() })

	server := mcp.NewServer(mgr, "test", logger)
	serverTransport, clientTransport := sdk.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func call(t *testing.T, session *sdk.ClientSession, name string, args map[string]any, out any) *sdk.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &sdk.CallToolParams{Name: name, Arguments: args})
	gt.NoError(t, err)
	gt.A(t, res.Content).Length(1)
	if out != nil && !res.IsError {
		text, ok := res.Content[0].(*sdk.TextContent)
		gt.True(t, ok)
		gt.NoError(t, json.Unmarshal([]byte(text.Text), out))
	}
	return res
}

func TestToolsAreListed(t *testing.T) {
	session := connect(t)

	res, err := session.ListTools(context.Background(), nil)
	gt.NoError(t, err)

	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"memory_add", "memory_search", "memory_get", "memory_update",
		"memory_delete", "memory_episodic", "memory_timeline",
	} {
		gt.True(t, names[want])
	}
}

func TestMemoryToolsLifecycle(t *testing.T) {
	session := connect(t)

	var added struct {
		Memory *models.Record `json:"memory"`
		Status string         `json:"status"`
	}
	res := call(t, session, "memory_add", map[string]any{
		"content":     "the user prefers dark mode",
		"memory_type": "semantic",
		"agent_id":    "A",
	}, &added)
	gt.False(t, res.IsError)
	gt.Equal(t, added.Status, "ok")
	id := added.Memory.ID

	var got models.Record
	call(t, session, "memory_get", map[string]any{"id": id}, &got)
	gt.Equal(t, got.Content, "the user prefers dark mode")
	gt.Equal(t, got.MemoryType, models.MemoryTypeSemantic)

	var found models.ListResponse
	call(t, session, "memory_search", map[string]any{"query": "DARK MODE"}, &found)
	gt.Equal(t, found.Count, 1)

	var updated struct {
		Memory *models.Record `json:"memory"`
	}
	call(t, session, "memory_update", map[string]any{"id": id, "importance": 8}, &updated)
	gt.Equal(t, updated.Memory.Importance, 8.0)
	gt.Equal(t, updated.Memory.Content, "the user prefers dark mode")

	var deleted models.DeleteResponse
	call(t, session, "memory_delete", map[string]any{"id": id}, &deleted)
	gt.True(t, deleted.Deleted)
	call(t, session, "memory_delete", map[string]any{"id": id}, &deleted)
	gt.False(t, deleted.Deleted)

	var missing map[string]any
	call(t, session, "memory_get", map[string]any{"id": id}, &missing)
	gt.Equal(t, missing["found"], false)
}

func TestAddToolDefaultsToEpisodic(t *testing.T) {
	session := connect(t)

	var added struct {
		Memory *models.Record `json:"memory"`
	}
	res := call(t, session, "memory_add", map[string]any{"content": "untyped"}, &added)
	gt.False(t, res.IsError)
	gt.Equal(t, added.Memory.MemoryType, models.MemoryTypeEpisodic)
}

func TestEpisodicAndTimelineTools(t *testing.T) {
	session := connect(t)

	for _, content := range []string{"first", "second"} {
		call(t, session, "memory_add", map[string]any{
			"content": content, "memory_type": "episodic", "agent_id": "A", "session_id": "s1",
		}, nil)
	}
	call(t, session, "memory_add", map[string]any{
		"content": "other", "memory_type": "episodic", "agent_id": "B",
	}, nil)

	var list models.ListResponse
	call(t, session, "memory_episodic", map[string]any{"session_id": "s1"}, &list)
	gt.Equal(t, list.Count, 2)

	call(t, session, "memory_timeline", map[string]any{"agent_id": "B"}, &list)
	gt.Equal(t, list.Count, 1)
	gt.Equal(t, list.Memories[0].Content, "other")

	call(t, session, "memory_timeline", map[string]any{"end_time": "2000-01-01T00:00:00Z"}, &list)
	gt.Equal(t, list.Count, 0)
}

func TestToolErrorsAreReported(t *testing.T) {
	session := connect(t)

	res := call(t, session, "memory_add", map[string]any{"content": "x", "memory_type": "dream"}, nil)
	gt.True(t, res.IsError)

	res = call(t, session, "memory_add", map[string]any{"content": "  ", "memory_type": "semantic"}, nil)
	gt.True(t, res.IsError)

	res = call(t, session, "memory_timeline", map[string]any{"start_time": "yesterday"}, nil)
	gt.True(t, res.IsError)
	text := res.Content[0].(*sdk.TextContent)
	gt.S(t, text.Text).Contains("RFC 3339")
}

// unreadableStore cannot answer reads; everything else goes to sqlite.
type unreadableStore struct{ store.Store }

func (unreadableStore) Get(context.Context, string) (*models.Record, error) {
	return nil, models.Connectivity(errors.New("connection refused"), "store down")
}

func TestUpdateDuringOutageIsNotReportedAsMissing(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mcp.db"))
	gt.NoError(t, err)
	session := connectStore(t, unreadableStore{Store: st})

	res := call(t, session, "memory_update", map[string]any{
		"id":         "7b0f3c2e-4d4a-4f59-9a36-2d9f4f6a8c11",
		"importance": 4,
	}, nil)
	gt.True(t, res.IsError)

	text := res.Content[0].(*sdk.TextContent)
	var out struct {
		Status   string   `json:"status"`
		Warnings []string `json:"warnings"`
	}
	gt.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	gt.Equal(t, out.Status, "failed")
	gt.A(t, out.Warnings).Length(1)
}
