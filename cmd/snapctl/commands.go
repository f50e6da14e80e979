package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anyproto/any-snapshot/app"
	"github.com/anyproto/any-snapshot/delta"
	"github.com/anyproto/any-snapshot/snapshot"
)

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:          "snapctl",
		Short:        "manage snapshot versions of a data table",
		Version:      app.VersionDescription(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.start(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.stop(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "etc/snapctl.yml", "path to config file")
	root.PersistentFlags().StringVar(&c.logLevels, "log-levels", "", "log levels, e.g. 'snapshot*=DEBUG;WARN'")

	root.AddCommand(
		c.treeCmd(),
		c.childCmd(),
		c.amendCmd(),
		c.amendHeadCmd(),
		c.restoreCmd(),
		c.versionsCmd(),
		c.inspectCmd(),
		c.dumpCmd(),
		c.statusCmd(),
		c.graphCmd(),
		c.serveCmd(),
	)
	return root
}

func parseVersion(s string) (snapshot.VersionId, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return snapshot.VersionId(v), nil
}

func (c *cli) treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "create a tree whose root is the current data table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := c.service.CreateTree(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uint64(root))
			return nil
		},
	}
}

func (c *cli) childCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "child <parent> [+key=value|-key]...",
		Short: "apply changes and record them as a child of the current version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			deltas, err := delta.ParseAll(args[1:])
			if err != nil {
				return err
			}
			id, err := c.service.CreateChild(cmd.Context(), parent, deltas)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uint64(id))
			return nil
		},
	}
}

func (c *cli) amendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "amend <version> [+key=value|-key]...",
		Short: "add changes to a leaf version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			deltas, err := delta.ParseAll(args[1:])
			if err != nil {
				return err
			}
			return c.service.ModifyLeaf(cmd.Context(), v, deltas)
		},
	}
}

func (c *cli) amendHeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "amend-head <tree> [+key=value|-key]...",
		Short: "add changes to the current version of a tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			deltas, err := delta.ParseAll(args[1:])
			if err != nil {
				return err
			}
			return c.service.ModifyCurrentLeaf(cmd.Context(), tree, deltas)
		},
	}
}

func (c *cli) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <from> <to>",
		Short: "move the data table from the current version to another version of the tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			to, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			return c.service.Restore(cmd.Context(), from, to)
		},
	}
}

func (c *cli) versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "list all versions in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := c.service.Versions(cmd.Context())
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), uint64(v))
			}
			return nil
		},
	}
}

func (c *cli) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <version>",
		Short: "show a version and its deltas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			n, err := c.service.Node(ctx, v)
			if err != nil {
				return err
			}
			head, err := c.service.Head(ctx, v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:  %d\n", uint64(n.Id))
			fmt.Fprintf(out, "root:     %d\n", uint64(n.Root))
			fmt.Fprintf(out, "parent:   %d\n", uint64(n.Parent))
			fmt.Fprintf(out, "depth:    %d\n", n.Depth)
			fmt.Fprintf(out, "children: %v\n", n.Children)
			fmt.Fprintf(out, "current:  %v\n", head == v)
			if n.IsRoot() {
				return nil
			}
			rec, err := c.service.Record(ctx, v)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "size:     %s\n", humanize.Bytes(uint64(rec.EncodedSize())))
			printDeltas(out, "forward", rec.Forward)
			printDeltas(out, "backward", rec.Backward)
			return nil
		},
	}
}

func printDeltas(out io.Writer, name string, deltas []delta.Delta) {
	fmt.Fprintf(out, "%s: %d\n", name, len(deltas))
	for _, d := range deltas {
		fmt.Fprintf(out, "  %s\n", d)
	}
}

func (c *cli) dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "print the data table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kvs, err := c.service.Data(cmd.Context())
			if err != nil {
				return err
			}
			for _, kv := range kvs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", kv.Key, kv.Value)
			}
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the data table fingerprint and the current versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sum, err := c.service.Fingerprint(ctx)
			if err != nil {
				return err
			}
			kvs, err := c.service.Data(ctx)
			if err != nil {
				return err
			}
			versions, err := c.service.Versions(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fingerprint: %016x\n", sum)
			fmt.Fprintf(out, "keys:        %s\n", humanize.Comma(int64(len(kvs))))
			fmt.Fprintf(out, "versions:    %s\n", humanize.Comma(int64(len(versions))))
			for _, v := range versions {
				n, err := c.service.Node(ctx, v)
				if err != nil {
					return err
				}
				if !n.IsRoot() {
					continue
				}
				head, err := c.service.Head(ctx, v)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "tree %d: current %d\n", uint64(v), uint64(head))
			}
			return nil
		},
	}
}

func (c *cli) graphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "print the forest as a graphviz dot graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dot, err := c.service.Graph(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), dot)
			return nil
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "keep the store open and serve metrics until a signal is received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info("app started", zap.String("version", app.Version()))
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
			select {
			case sig := <-exit:
				log.Info("received exit signal, stop app", zap.String("signal", fmt.Sprint(sig)))
			case <-cmd.Context().Done():
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			return c.stop(ctx)
		},
	}
}
