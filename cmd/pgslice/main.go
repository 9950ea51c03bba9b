package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/pgslice/internal/config"
	"github.com/johndauphine/pgslice/internal/logging"
	"github.com/johndauphine/pgslice/internal/orchestrator"
	"github.com/johndauphine/pgslice/internal/session"
	"github.com/johndauphine/pgslice/internal/version"
)

const configKey = "config"

// openSession connects to the configured database. Tests replace it.
var openSession = func(ctx context.Context, cfg *config.Config, out io.Writer) (session.Executor, func(), error) {
	connString, schema, err := cfg.Connection()
	if err != nil {
		return nil, nil, err
	}
	s, err := session.Connect(ctx, session.Options{
		ConnString: connString,
		Schema:     schema,
		DryRun:     cfg.DryRun,
		Out:        out,
	})
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close(context.Background()) }, nil
}

func main() {
	if err := execute(newApp(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 version.Name,
		Usage:                version.Description,
		Version:              version.Version,
		HideVersion:          true,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Database URL",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Print statements without executing",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to an optional YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "prep",
				Usage:     "Create an intermediate table for partitioning",
				ArgsUsage: "TABLE [COLUMN] [PERIOD]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-partition", Usage: "Do not partition the table"},
					&cli.BoolFlag{Name: "trigger-based", Usage: "Use trigger-based partitioning"},
					&cli.IntFlag{Name: "test-version", Hidden: true},
				},
				Action: withOrchestrator(1, 3, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
					return o.Prep(ctx, orchestrator.PrepOptions{
						Table:        c.Args().Get(0),
						Column:       c.Args().Get(1),
						Period:       c.Args().Get(2),
						NoPartition:  c.Bool("no-partition"),
						TriggerBased: c.Bool("trigger-based"),
						TestVersion:  c.Int("test-version"),
					})
				}),
			},
			{
				Name:      "prep_hash",
				Usage:     "Create an intermediate table for hash partitioning",
				ArgsUsage: "TABLE COLUMN PARTITIONS",
				Hidden:    true,
				Action: withOrchestrator(3, 3, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
					partitions, err := strconv.Atoi(c.Args().Get(2))
					if err != nil {
						return fmt.Errorf("invalid partition count: %s", c.Args().Get(2))
					}
					return o.PrepHash(ctx, c.Args().Get(0), c.Args().Get(1), partitions)
				}),
			},
			{
				Name:      "unprep",
				Usage:     "Undo prep",
				ArgsUsage: "TABLE",
				Action: withOrchestrator(1, 1, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
					return o.Unprep(ctx, c.Args().First())
				}),
			},
			{
				Name:      "add_partitions",
				Usage:     "Add partitions",
				ArgsUsage: "TABLE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "intermediate", Usage: "Add to intermediate table"},
					&cli.IntFlag{Name: "past", Usage: "Number of past partitions to add"},
					&cli.IntFlag{Name: "future", Usage: "Number of future partitions to add"},
					&cli.StringFlag{Name: "tablespace", Usage: "Tablespace to use"},
				},
				Action: withOrchestrator(1, 1, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
					return o.AddPartitions(ctx, orchestrator.AddPartitionsOptions{
						Table:        c.Args().First(),
						Intermediate: c.Bool("intermediate"),
						Past:         c.Int("past"),
						Future:       c.Int("future"),
						Tablespace:   c.String("tablespace"),
					})
				}),
			},
			{
				Name:      "fill",
				Usage:     "Fill the partitions in batches",
				ArgsUsage: "TABLE",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "batch-size", Usage: "Batch size (default 10000)"},
					&cli.BoolFlag{Name: "swapped", Usage: "Use swapped table"},
					&cli.StringFlag{Name: "source-table", Usage: "Source table"},
					&cli.StringFlag{Name: "dest-table", Usage: "Destination table"},
					&cli.StringFlag{Name: "start", Usage: "Primary key to start"},
					&cli.StringFlag{Name: "where", Usage: "Conditions to filter"},
					&cli.Float64Flag{Name: "sleep", Usage: "Seconds to sleep between batches"},
				},
				Action: withOrchestrator(1, 1, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
					cfg := configFrom(c)
					if c.IsSet("batch-size") {
						cfg.Fill.BatchSize = c.Int("batch-size")
					}
					if c.IsSet("sleep") {
						cfg.Fill.Sleep = c.Float64("sleep")
					}
					if err := cfg.Validate(); err != nil {
						return err
					}
					return o.Fill(ctx, orchestrator.FillOptions{
						Table:       c.Args().First(),
						SourceTable: c.String("source-table"),
						DestTable:   c.String("dest-table"),
						Swapped:     c.Bool("swapped"),
						BatchSize:   cfg.Fill.BatchSize,
						Start:       c.String("start"),
						Where:       c.String("where"),
						Sleep:       seconds(cfg.Fill.Sleep),
					})
				}),
			},
			{
				Name:      "swap",
				Usage:     "Swap the intermediate table with the original table",
				ArgsUsage: "TABLE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lock-timeout", Usage: "Lock timeout (default 5s)"},
				},
				Action: withOrchestrator(1, 1, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
					return o.Swap(ctx, c.Args().First(), lockTimeout(c))
				}),
			},
			{
				Name:      "unswap",
				Usage:     "Undo swap",
				ArgsUsage: "TABLE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lock-timeout", Usage: "Lock timeout (default 5s)"},
				},
				Action: withOrchestrator(1, 1, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
					return o.Unswap(ctx, c.Args().First(), lockTimeout(c))
				}),
			},
			{
				Name:      "analyze",
				Usage:     "Analyze tables",
				ArgsUsage: "TABLE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "swapped", Usage: "Use swapped table"},
				},
				Action: withOrchestrator(1, 1, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
					return o.Analyze(ctx, c.Args().First(), c.Bool("swapped"))
				}),
			},
			{
				Name:      "synchronize",
				Usage:     "Synchronize data between two tables",
				ArgsUsage: "TABLE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source-table", Usage: "Source table to compare (default: TABLE)"},
					&cli.StringFlag{Name: "target-table", Usage: "Target table to compare (default: TABLE_intermediate)"},
					&cli.StringFlag{Name: "primary-key", Usage: "Primary key column name"},
					&cli.StringFlag{Name: "start", Usage: "Primary key value to start synchronization at"},
					&cli.IntFlag{Name: "window-size", Usage: "Number of rows to synchronize per batch (default 1000)"},
					&cli.Float64Flag{Name: "delay", Usage: "Base delay in seconds between batches"},
					&cli.Float64Flag{Name: "delay-multiplier", Usage: "Delay multiplier for batch time"},
				},
				Action: withOrchestrator(1, 1, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
					cfg := configFrom(c)
					if c.IsSet("window-size") {
						cfg.Synchronize.WindowSize = c.Int("window-size")
					}
					if c.IsSet("delay") {
						cfg.Synchronize.Delay = c.Float64("delay")
					}
					if c.IsSet("delay-multiplier") {
						cfg.Synchronize.DelayMultiplier = c.Float64("delay-multiplier")
					}
					if err := cfg.Validate(); err != nil {
						return err
					}
					_, err := o.Synchronize(ctx, orchestrator.SynchronizeOptions{
						Table:           c.Args().First(),
						SourceTable:     c.String("source-table"),
						TargetTable:     c.String("target-table"),
						PrimaryKey:      c.String("primary-key"),
						Start:           c.String("start"),
						WindowSize:      cfg.Synchronize.WindowSize,
						Delay:           seconds(cfg.Synchronize.Delay),
						DelayMultiplier: cfg.Synchronize.DelayMultiplier,
					})
					return err
				}),
			},
			mirrorCommand("enable_mirroring", "Enable mirroring triggers from TABLE to TABLE_intermediate",
				(*orchestrator.Orchestrator).EnableMirroring),
			mirrorCommand("disable_mirroring", "Disable mirroring triggers from TABLE to TABLE_intermediate",
				(*orchestrator.Orchestrator).DisableMirroring),
			mirrorCommand("enable_retired_mirroring", "Enable mirroring triggers from TABLE to TABLE_retired",
				(*orchestrator.Orchestrator).EnableRetiredMirroring),
			mirrorCommand("disable_retired_mirroring", "Disable mirroring triggers from TABLE to TABLE_retired",
				(*orchestrator.Orchestrator).DisableRetiredMirroring),
			{
				Name:  "version",
				Usage: "Show version",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.ErrWriter, "%s %s\n", version.Name, version.Version)
					return nil
				},
			},
		},
	}
}

func mirrorCommand(name, usage string, fn func(*orchestrator.Orchestrator, context.Context, string) error) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "TABLE",
		Action: withOrchestrator(1, 1, func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error {
			return fn(o, ctx, c.Args().First())
		}),
	}
}

// setup loads the configuration, applies global flags and configures
// logging before any command runs.
func setup(c *cli.Context) error {
	if c.App.ErrWriter == nil {
		c.App.ErrWriter = os.Stderr
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("url") {
		cfg.URL = c.String("url")
	}
	if c.IsSet("dry-run") {
		cfg.DryRun = c.Bool("dry-run")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logging.SetFormat(cfg.LogFormat)
	logging.SetOutput(c.App.ErrWriter)

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	cfg, _ := c.App.Metadata[configKey].(*config.Config)
	return cfg
}

// lockTimeout is --lock-timeout when given, the configured value otherwise.
func lockTimeout(c *cli.Context) string {
	if c.IsSet("lock-timeout") {
		return c.String("lock-timeout")
	}
	return configFrom(c).LockTimeout
}

type commandFunc func(ctx context.Context, c *cli.Context, o *orchestrator.Orchestrator) error

// withOrchestrator checks the positional arguments, connects and runs fn
// with a context that is cancelled on SIGINT or SIGTERM.
func withOrchestrator(minArgs, maxArgs int, fn commandFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < minArgs || c.NArg() > maxArgs {
			return errors.New(usage(c))
		}
		for _, arg := range c.Args().Slice() {
			if strings.HasPrefix(arg, "-") {
				return fmt.Errorf("%s\nunexpected argument: %s", usage(c), arg)
			}
		}

		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		go func() {
			select {
			case <-sigCh:
				logging.Warn("Interrupted, stopping after the current statement")
				cancel()
			case <-ctx.Done():
			}
		}()

		out := c.App.Writer
		if out == nil {
			out = os.Stdout
		}
		db, closeSession, err := openSession(ctx, configFrom(c), out)
		if err != nil {
			return err
		}
		defer closeSession()

		o := orchestrator.New(db, orchestrator.Options{
			Progress: c.App.ErrWriter,
			Now:      time.Now,
		})
		return fn(ctx, c, o)
	}
}

func usage(c *cli.Context) string {
	return fmt.Sprintf("Usage: %s %s %s", c.App.Name, c.Command.Name, c.Command.ArgsUsage)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
