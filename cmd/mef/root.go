package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/mef/config"
	"github.com/Ramsey-B/mef/pkg/logging"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

// cli carries the state shared by the subcommands.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger ectologger.Logger
	flush  func()
}

// NewRootCommand builds the mef command tree.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr, flush: func() {}}

	root := &cobra.Command{
		Use:           "mef",
		Short:         "mef - multilingual entity file harvester and clusterer",
		Long:          "Harvests GND, IdRef and RERO authority records over OAI-PMH and maintains\nthe MEF clusters linking them.\n\nVersion: " + version + "\n",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, flush, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
			if err != nil {
				return err
			}
			c.cfg, c.logger, c.flush = cfg, logger, flush
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.flush()
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		c.serveCommand(),
		c.harvestCommand(),
		c.replayCommand(),
		c.viafCommand(),
		c.getLatestCommand(),
		c.resolveCommand(),
		c.updatedCommand(),
		c.reindexCommand(),
		c.migrateCommand(),
	)
	return root
}

// withApp starts the pipeline, runs fn and closes the pipeline.
func (c *cli) withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTime accepts a day (2006-01-02) or an RFC 3339 timestamp, in UTC.
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q: use YYYY-MM-DD or RFC 3339", s)
}
