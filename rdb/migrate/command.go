package migrate

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hatlonely/rdbx/cfg"
	"github.com/hatlonely/rdbx/lock"
	"github.com/hatlonely/rdbx/rdb"
)

var ErrSchemaDrift = errors.New("schema differs from migrations")

// Config 命令行使用的配置文件
type Config struct {
	Database rdb.ManagerOptions `cfg:"database"`
	Lock     lock.Options       `cfg:"lock"`
	Migrate  Options            `cfg:"migrate"`
}

type commandOptions struct {
	config    string
	envPrefix string
	setup     func(*Runner) error
}

// NewCommand 返回 rdbx 根命令：migrate up|down|status、seed、schema diff。
// setup 在每个子命令执行前向 Runner 注册迁移与数据填充，可以为 nil
func NewCommand(setup func(*Runner) error) *cobra.Command {
	o := &commandOptions{setup: setup}

	root := &cobra.Command{
		Use:          "rdbx",
		Short:        "Manage relational schema migrations and seeders",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&o.config, "config", "c", "", "config file (yaml, json, toml or ini)")
	root.PersistentFlags().StringVar(&o.envPrefix, "env-prefix", "RDBX", "environment variable prefix overriding the config file")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect migrations",
	}
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations in a new batch",
			Args:  cobra.NoArgs,
			RunE: o.run(func(ctx context.Context, r *Runner, w io.Writer, args []string) error {
				done, err := r.Up(ctx)
				printNames(w, "migrated", done)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last batch",
			Args:  cobra.NoArgs,
			RunE: o.run(func(ctx context.Context, r *Runner, w io.Writer, args []string) error {
				done, err := r.Down(ctx)
				printNames(w, "rolled back", done)
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the state of every migration",
			Args:  cobra.NoArgs,
			RunE: o.run(func(ctx context.Context, r *Runner, w io.Writer, args []string) error {
				statuses, err := r.Status(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSTATE\tBATCH\tAPPLIED AT")
				for _, s := range statuses {
					if !s.Applied {
						fmt.Fprintf(tw, "%s\tpending\t-\t-\n", s.Name)
						continue
					}
					state := "applied"
					if _, ok := r.migration(s.Name); !ok {
						state = "unknown"
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Name, state, s.Batch, s.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			}),
		},
	)

	seedCmd := &cobra.Command{
		Use:   "seed [name...]",
		Short: "Run seeders, all of them when no name is given",
		RunE: o.run(func(ctx context.Context, r *Runner, w io.Writer, args []string) error {
			done, err := r.Seed(ctx, args...)
			printNames(w, "seeded", done)
			return err
		}),
	}

	var strict bool
	diffCmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare migrations and registered models with the database",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, r *Runner, w io.Writer, args []string) error {
			diff, err := r.Diff(ctx)
			if err != nil {
				return err
			}
			if diff.Empty() {
				fmt.Fprintln(w, "up to date")
				return nil
			}
			printList(w, "pending migrations", diff.Pending)
			printList(w, "unknown migrations", diff.Unknown)
			printList(w, "missing tables", diff.MissingTables)
			if strict {
				return ErrSchemaDrift
			}
			return nil
		}),
	}
	diffCmd.Flags().BoolVar(&strict, "strict", false, "exit with an error when any difference is found")
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the database schema",
	}
	schemaCmd.AddCommand(diffCmd)

	root.AddCommand(migrateCmd, seedCmd, schemaCmd)
	return root
}

func (o *commandOptions) run(fn func(ctx context.Context, r *Runner, w io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		r, closeFn, err := o.open(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(ctx, r, cmd.OutOrStdout(), args)
	}
}

func (o *commandOptions) open(ctx context.Context) (*Runner, func(), error) {
	c := &Config{}
	if o.config != "" {
		if err := cfg.Load(o.config, c, cfg.WithEnvPrefix(o.envPrefix)); err != nil {
			return nil, nil, errors.WithMessage(err, "load config")
		}
	} else if err := cfg.SetDefaults(c); err != nil {
		return nil, nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}

	m, err := rdb.NewManagerWithOptions(ctx, &c.Database)
	if err != nil {
		return nil, nil, err
	}
	coordinator, err := lock.NewCoordinatorWithOptions(&c.Lock)
	if err != nil {
		_ = m.Close()
		return nil, nil, err
	}
	coordinator.SetLogger(m.Logger())

	if c.Migrate.Key == "" {
		if _, write := c.Database.Pool.Clients(c.Database.Pool.Default); write != nil {
			c.Migrate.Key = write.URL
		}
	}
	r, err := NewRunnerWithOptions(m, coordinator, &c.Migrate)
	if err != nil {
		_ = m.Close()
		return nil, nil, err
	}
	if o.setup != nil {
		if err := o.setup(r); err != nil {
			_ = m.Close()
			return nil, nil, errors.WithMessage(err, "setup migrations")
		}
	}
	return r, func() { _ = m.Close() }, nil
}

func printNames(w io.Writer, verb string, names []string) {
	if len(names) == 0 {
		fmt.Fprintf(w, "nothing %s\n", verb)
		return
	}
	for _, name := range names {
		fmt.Fprintf(w, "%s %s\n", verb, name)
	}
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n  %s\n", title, strings.Join(items, "\n  "))
}
