// Package cli implements the agentmem operator command line.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/iammorganparry/agentmem/internal/backend"
	"github.com/iammorganparry/agentmem/internal/config"
	"github.com/iammorganparry/agentmem/internal/logging"
	"github.com/iammorganparry/agentmem/internal/memory"
)

// Run executes the command line described by argv, writing results to w.
func Run(ctx context.Context, argv []string, w io.Writer) error {
	cmd := &cli.Command{
		Name:   "agentmem",
		Usage:  "Inspect and edit agent memories",
		Writer: w,
		Commands: []*cli.Command{
			addCommand(),
			searchCommand(),
			getCommand(),
			updateCommand(),
			deleteCommand(),
			episodicCommand(),
			timelineCommand(),
			statsCommand(),
			backendCommand(),
		},
	}
	return cmd.Run(ctx, argv)
}

// options holds flags shared by every subcommand.
type options struct {
	configPath string
	backend    string
	dbPath     string
	logLevel   string
}

func globalFlags(opts *options) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML configuration file",
			Sources:     cli.EnvVars(config.FileEnv),
			Destination: &opts.configPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Store backend: sqlite, qdrant, postgres or chromem",
			Destination: &opts.backend,
		},
		&cli.StringFlag{
			Name:        "db-path",
			Usage:       "SQLite database file",
			Destination: &opts.dbPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level written to stderr",
			Value:       "warn",
			Destination: &opts.logLevel,
		},
	}
}

func (o *options) load() (*config.Config, error) {
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	return cfg, nil
}

func (o *options) manager(ctx context.Context) (*memory.Manager, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(o.logLevel, cfg.LogFormat, os.Stderr)
	mgr, err := memory.NewFromConfig(logging.With(ctx, logger), cfg, logger)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open memory manager")
	}
	return mgr, nil
}

// withManager opens a manager for the duration of fn.
func withManager(opts *options, fn func(ctx context.Context, c *cli.Command, mgr *memory.Manager) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		mgr, err := opts.manager(ctx)
		if err != nil {
			return err
		}
		defer mgr.Close()
		return fn(ctx, c, mgr)
	}
}

func printJSON(c *cli.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode output")
	}
	data = append(data, '\n')
	_, err = c.Root().Writer.Write(data)
	return err
}

func backendCommand() *cli.Command {
	var opts options
	return &cli.Command{
		Name:  "backend",
		Usage: "Print the store backend the current configuration selects",
		Flags: globalFlags(&opts),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			kind, err := backend.Select(cfg.StoreSettings())
			if err != nil {
				return err
			}
			return printJSON(c, map[string]string{"backend": string(kind)})
		},
	}
}
