package cli

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/iammorganparry/agentmem/internal/memory"
	"github.com/iammorganparry/agentmem/internal/models"
)

func memoryTypeFlag(dest *string, usage string) cli.Flag {
	return &cli.StringFlag{
		Name:        "type",
		Aliases:     []string{"t"},
		Usage:       usage,
		Destination: dest,
	}
}

func optionalType(raw string) (*models.MemoryType, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := models.ParseMemoryType(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func contentArg(c *cli.Command) (string, error) {
	content := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(content) == "" {
		return "", goerr.New("content argument is required")
	}
	return content, nil
}

func idArg(c *cli.Command) (string, error) {
	if c.Args().Len() != 1 {
		return "", goerr.New("exactly one memory id is required")
	}
	return c.Args().First(), nil
}

type writeOutput struct {
	Memory   *models.Record `json:"memory"`
	Status   memory.Status  `json:"status"`
	Warnings []string       `json:"warnings,omitempty"`
}

func addCommand() *cli.Command {
	var (
		opts       options
		memType    string
		agentID    string
		sessionID  string
		importance float64
		tags       []string
		metadata   string
	)

	flags := []cli.Flag{
		memoryTypeFlag(&memType, "Memory type: episodic, semantic or temporal (default episodic)"),
		&cli.StringFlag{Name: "agent", Aliases: []string{"a"}, Usage: "Owning agent id", Destination: &agentID},
		&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session id", Destination: &sessionID},
		&cli.FloatFlag{Name: "importance", Usage: "Importance from 0 to 10", Value: models.DefaultImportance, Destination: &importance},
		&cli.StringSliceFlag{Name: "tag", Usage: "Tag, repeatable", Destination: &tags},
		&cli.StringFlag{Name: "metadata", Aliases: []string{"m"}, Usage: "Metadata as a JSON object", Destination: &metadata},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:      "add",
		Usage:     "Store a new memory",
		ArgsUsage: "<content>",
		Flags:     flags,
		Action: withManager(&opts, func(ctx context.Context, c *cli.Command, mgr *memory.Manager) error {
			content, err := contentArg(c)
			if err != nil {
				return err
			}
			t := models.DefaultMemoryType
			if memType != "" {
				if t, err = models.ParseMemoryType(memType); err != nil {
					return err
				}
			}
			meta, err := parseMetadata(metadata)
			if err != nil {
				return err
			}

			rec, outcome, err := mgr.Add(ctx, memory.AddInput{
				Content:    content,
				MemoryType: t,
				AgentID:    agentID,
				SessionID:  sessionID,
				Metadata:   meta,
				Importance: &importance,
				Tags:       tags,
			})
			if err != nil {
				return err
			}
			return printJSON(c, writeOutput{Memory: rec, Status: outcome.Status, Warnings: outcome.Warnings})
		}),
	}
}

func searchCommand() *cli.Command {
	var (
		opts    options
		memType string
		limit   int64
	)

	flags := []cli.Flag{
		memoryTypeFlag(&memType, "Restrict results to one memory type"),
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum results", Value: 10, Destination: &limit},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Search memories by text",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: withManager(&opts, func(ctx context.Context, c *cli.Command, mgr *memory.Manager) error {
			query, err := contentArg(c)
			if err != nil {
				return err
			}
			t, err := optionalType(memType)
			if err != nil {
				return err
			}
			recs, err := mgr.Search(ctx, query, t, int(limit))
			if err != nil {
				return err
			}
			return printJSON(c, models.NewListResponse(recs))
		}),
	}
}

func getCommand() *cli.Command {
	var opts options
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one memory",
		ArgsUsage: "<id>",
		Flags:     globalFlags(&opts),
		Action: withManager(&opts, func(ctx context.Context, c *cli.Command, mgr *memory.Manager) error {
			id, err := idArg(c)
			if err != nil {
				return err
			}
			rec, err := mgr.Get(ctx, id)
			if err != nil {
				return err
			}
			if rec == nil {
				return goerr.New("memory not found", goerr.V("id", id))
			}
			return printJSON(c, rec)
		}),
	}
}

func updateCommand() *cli.Command {
	var (
		opts       options
		content    string
		memType    string
		importance float64
		tags       []string
		metadata   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{Name: "content", Usage: "Replacement content", Destination: &content},
		memoryTypeFlag(&memType, "New memory type"),
		&cli.FloatFlag{Name: "importance", Usage: "New importance from 0 to 10", Destination: &importance},
		&cli.StringSliceFlag{Name: "tag", Usage: "Replacement tag, repeatable", Destination: &tags},
		&cli.StringFlag{Name: "metadata", Aliases: []string{"m"}, Usage: "Replacement metadata as a JSON object", Destination: &metadata},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:      "update",
		Usage:     "Change fields of a memory",
		ArgsUsage: "<id>",
		Flags:     flags,
		Action: withManager(&opts, func(ctx context.Context, c *cli.Command, mgr *memory.Manager) error {
			id, err := idArg(c)
			if err != nil {
				return err
			}

			var patch models.Patch
			if c.IsSet("content") {
				patch.Content = &content
			}
			if c.IsSet("type") {
				t, err := models.ParseMemoryType(memType)
				if err != nil {
					return err
				}
				patch.MemoryType = &t
			}
			if c.IsSet("importance") {
				patch.Importance = &importance
			}
			if c.IsSet("tag") {
				patch.Tags = tags
			}
			if c.IsSet("metadata") {
				if patch.Metadata, err = parseMetadata(metadata); err != nil {
					return err
				}
			}

			rec, outcome, err := mgr.Update(ctx, id, patch)
			if err != nil {
				return err
			}
			if rec == nil {
				return goerr.New("memory not found", goerr.V("id", id))
			}
			return printJSON(c, writeOutput{Memory: rec, Status: outcome.Status, Warnings: outcome.Warnings})
		}),
	}
}

func deleteCommand() *cli.Command {
	var opts options
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a memory",
		ArgsUsage: "<id>",
		Flags:     globalFlags(&opts),
		Action: withManager(&opts, func(ctx context.Context, c *cli.Command, mgr *memory.Manager) error {
			id, err := idArg(c)
			if err != nil {
				return err
			}
			deleted, err := mgr.Delete(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(c, models.DeleteResponse{ID: id, Deleted: deleted})
		}),
	}
}

func episodicCommand() *cli.Command {
	var (
		opts      options
		agentID   string
		sessionID string
		limit     int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{Name: "agent", Aliases: []string{"a"}, Usage: "Only this agent", Destination: &agentID},
		&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Only this session", Destination: &sessionID},
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum results", Value: 50, Destination: &limit},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "episodic",
		Usage: "List episodic memories, newest first",
		Flags: flags,
		Action: withManager(&opts, func(ctx context.Context, c *cli.Command, mgr *memory.Manager) error {
			recs, err := mgr.Episodic(ctx, agentID, sessionID, int(limit))
			if err != nil {
				return err
			}
			return printJSON(c, models.NewListResponse(recs))
		}),
	}
}

func timelineCommand() *cli.Command {
	var (
		opts    options
		agentID string
		since   string
		until   string
		limit   int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{Name: "agent", Aliases: []string{"a"}, Usage: "Only this agent", Destination: &agentID},
		&cli.StringFlag{Name: "since", Usage: "RFC 3339 lower bound", Destination: &since},
		&cli.StringFlag{Name: "until", Usage: "RFC 3339 upper bound", Destination: &until},
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum results", Value: 100, Destination: &limit},
	}
	flags = append(flags, globalFlags(&opts)...)

	return &cli.Command{
		Name:  "timeline",
		Usage: "List memories in a time window, oldest first",
		Flags: flags,
		Action: withManager(&opts, func(ctx context.Context, c *cli.Command, mgr *memory.Manager) error {
			start, err := parseTime("since", since)
			if err != nil {
				return err
			}
			end, err := parseTime("until", until)
			if err != nil {
				return err
			}
			recs, err := mgr.Timeline(ctx, agentID, start, end, int(limit))
			if err != nil {
				return err
			}
			return printJSON(c, models.NewListResponse(recs))
		}),
	}
}

func statsCommand() *cli.Command {
	var opts options
	return &cli.Command{
		Name:  "stats",
		Usage: "Count memories per type",
		Flags: globalFlags(&opts),
		Action: withManager(&opts, func(ctx context.Context, c *cli.Command, mgr *memory.Manager) error {
			stats, err := mgr.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(c, stats)
		}),
	}
}

func parseTime(flag, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, models.Validation("time must be RFC 3339", "flag", flag, "value", raw)
	}
	return &t, nil
}

func parseMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, models.Validation("metadata must be a JSON object", "metadata", raw)
	}
	return meta, nil
}
