package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/mef/pkg/cluster"
	"github.com/Ramsey-B/mef/pkg/database"
	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/harvest"
	"github.com/Ramsey-B/mef/pkg/jobs"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/scheduler"
	"github.com/Ramsey-B/mef/pkg/viaf"
)

func (c *cli) harvestCommand() *cobra.Command {
	var from, until string
	var all, queue bool

	cmd := &cobra.Command{
		Use:   "harvest [source kind]",
		Short: "harvest one (source, kind) feed, or every feed with --all",
		Long: `Harvests OAI-PMH ListRecords in date windows of HARVEST_SPAN_DAYS.
Without --from the harvest resumes at the end of the last completed window.
With --queue the harvest is published as a job for the serve workers instead.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fromTime, err := parseTime(from)
			if err != nil {
				return err
			}
			untilTime, err := parseTime(until)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				var feeds []scheduler.Feed
				if all {
					for _, group := range scheduler.Feeds(a.sources) {
						feeds = append(feeds, group...)
					}
				} else {
					source, err := models.ParseSource(args[0])
					if err != nil {
						return err
					}
					kind, err := models.ParseKind(args[1])
					if err != nil {
						return err
					}
					feeds = []scheduler.Feed{{Source: source, Kind: kind}}
				}

				if queue {
					q, err := a.jobQueue()
					if err != nil {
						return err
					}
					var published []jobs.Job
					for _, feed := range feeds {
						job := jobs.NewJob(feed.Source, feed.Kind, fromTime, untilTime)
						if err := q.Publish(ctx, job); err != nil {
							return err
						}
						published = append(published, job)
					}
					return c.printJSON(published)
				}

				if !all {
					report, err := a.harvester.Harvest(ctx, feeds[0].Source, feeds[0].Kind, fromTime, untilTime)
					if report != nil {
						if perr := c.printJSON(report); perr != nil && err == nil {
							err = perr
						}
					}
					return err
				}

				var mu sync.Mutex
				var reports []*harvest.Report
				s := scheduler.New(a.sources, func(ctx context.Context, source models.Source, kind models.Kind) error {
					report, err := a.harvester.Harvest(ctx, source, kind, fromTime, untilTime)
					if report != nil {
						mu.Lock()
						reports = append(reports, report)
						mu.Unlock()
					}
					return err
				}, scheduler.Config{Parallelism: a.cfg.HarvestParallelism}, a.logger)
				err := s.RunAll(ctx)
				if perr := c.printJSON(reports); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&from, "from", "", "window start (YYYY-MM-DD or RFC 3339)")
	flags.StringVar(&until, "until", "", "window end, exclusive (default now)")
	flags.BoolVar(&all, "all", false, "harvest every configured feed")
	flags.BoolVar(&queue, "queue", false, "publish harvest jobs instead of running them")
	return cmd
}

func (c *cli) replayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay source kind file",
		Short: "process the records of a MARCXML snapshot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := models.ParseSource(args[0])
			if err != nil {
				return err
			}
			kind, err := models.ParseKind(args[1])
			if err != nil {
				return err
			}
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()

			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				counters, err := a.harvester.Replay(ctx, source, kind, f)
				if perr := c.printJSON(counters.Map()); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
}

func (c *cli) viafCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "viaf",
		Short: "load VIAF clusters",
	}

	var format string
	var queue bool
	load := &cobra.Command{
		Use:   "load file",
		Short: "ingest a VIAF dump (json lines or the links TSV)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parse, err := viafParser(format)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if queue {
					if err := a.requireDurableViafQueue(); err != nil {
						return err
					}
					n := 0
					err := parse(f, func(row viaf.Row) error {
						n++
						return a.viafQueue.Push(ctx, viaf.Delta{Op: viaf.OpUpsert, Pid: row.Pid, Sources: row.Sources})
					})
					if perr := c.printJSON(map[string]int{"queued": n}); perr != nil && err == nil {
						err = perr
					}
					return err
				}

				counts, err := a.viaf.Load(ctx, f, parse, func(out *cluster.Outcome) {
					a.coordinator.Publish(ctx, out)
				})
				if perr := c.printJSON(map[string]any{"rows": counts.Rows, "counters": counts.Counts.Map()}); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
	load.Flags().StringVar(&format, "format", "json", "dump format: json or links")
	load.Flags().BoolVar(&queue, "queue", false, "queue the rows as deltas for the next harvest window")

	var deleteQueue bool
	del := &cobra.Command{
		Use:   "delete viaf_pid",
		Short: "delete a VIAF cluster and split the agents it joined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if deleteQueue {
					if err := a.requireDurableViafQueue(); err != nil {
						return err
					}
					return a.viafQueue.Push(ctx, viaf.Delta{Op: viaf.OpDelete, Pid: args[0]})
				}
				action, out, err := a.viaf.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				a.coordinator.Publish(ctx, out)
				return c.printJSON(map[string]any{"action": action, "changes": changesOf(out)})
			})
		},
	}
	del.Flags().BoolVar(&deleteQueue, "queue", false, "queue the delete for the next harvest window")

	drain := &cobra.Command{
		Use:   "drain",
		Short: "apply the queued VIAF deltas now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return a.drainViaf(ctx)
			})
		},
	}

	cmd.AddCommand(load, del, drain)
	return cmd
}

func viafParser(format string) (viaf.Parser, error) {
	switch format {
	case "json":
		p, err := viaf.NewJSONParser(viaf.DefaultExpressions)
		if err != nil {
			return nil, err
		}
		return p.Parse, nil
	case "links":
		return viaf.ParseLinks, nil
	}
	return nil, fmt.Errorf("unknown VIAF format %q: use json or links", format)
}

func changesOf(out *cluster.Outcome) []cluster.Change {
	if out == nil {
		return nil
	}
	return out.Changes
}

func (c *cli) getLatestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-latest kind source pid",
		Short: "print the resolved cluster of the latest version of a record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseKind(args[0])
			if err != nil {
				return err
			}
			source, err := models.ParseSource(args[1])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				view, err := a.clusters.GetLatest(ctx, kind, source, args[2])
				if err != nil {
					return err
				}
				return c.printJSON(view)
			})
		},
	}
}

func (c *cli) resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve kind mef_pid",
		Short: "print a cluster with its source records inlined",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseKind(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				view, err := a.clusters.Resolve(ctx, kind, args[1])
				if err != nil {
					return err
				}
				return c.printJSON(view)
			})
		},
	}
}

func (c *cli) updatedCommand() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "updated kind [mef_pid...]",
		Short: "list clusters updated since --from",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseKind(args[0])
			if err != nil {
				return err
			}
			fromTime, err := parseTime(from)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				updated, err := a.clusters.GetUpdated(ctx, kind, args[1:], fromTime)
				if err != nil {
					return err
				}
				if updated == nil {
					updated = []cluster.Updated{}
				}
				return c.printJSON(updated)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "only clusters updated at or after (YYYY-MM-DD or RFC 3339)")
	return cmd
}

func (c *cli) reindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "rebuild the search index from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				n, err := reindex(ctx, a.store, a.index)
				if err != nil {
					return err
				}
				return c.printJSON(map[string]int{"documents": n})
			})
		},
	}
}

func (c *cli) migrateCommand() *cobra.Command {
	var target uint
	var force int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply the postgres migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.StoreDriver != "postgres" {
				return mefErrors.Newf(mefErrors.CodeMisconfiguration, "migrate needs STORE_DRIVER=postgres, got %s", c.cfg.StoreDriver)
			}
			a := &app{cfg: c.cfg, logger: c.logger}
			db, err := database.Open(cmd.Context(), a.databaseConfig(), c.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			instance, ok := db.(*database.DatabaseInstance)
			if !ok {
				return fmt.Errorf("unexpected database type %T", db)
			}
			return database.NewMigrationService(c.logger, &database.MigrationConfig{
				MigrationFolderPath: c.cfg.MigrationsPath,
				Version:             target,
				Force:               force,
			}).Migrate(instance.DB, c.cfg.DatabaseName)
		},
	}
	cmd.Flags().UintVar(&target, "version", 0, "migrate to this version instead of the latest")
	cmd.Flags().IntVar(&force, "force", 0, "force the recorded version before migrating")
	return cmd
}
