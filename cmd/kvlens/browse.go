package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/list"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/value"
)

// targetFlags are the range flags shared by list and the bulk jobs.
type targetFlags struct {
	connection string
	prefix     string
	start      string
	end        string
	reverse    bool
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.connection, "connection", "c", "", "connection id")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", `key prefix literal, e.g. '"users", 1'`)
	cmd.Flags().StringVar(&f.start, "start", "", "inclusive start key literal")
	cmd.Flags().StringVar(&f.end, "end", "", "exclusive end key literal")
	cmd.Flags().BoolVar(&f.reverse, "reverse", false, "scan in descending key order")
	_ = cmd.MarkFlagRequired("connection")
}

func (f *targetFlags) target() list.Target {
	return list.Target{
		ConnectionID: f.connection,
		Prefix:       f.prefix,
		Start:        f.start,
		End:          f.end,
		Reverse:      f.reverse,
	}
}

func newListCmd() *cobra.Command {
	var (
		tf      targetFlags
		q       list.Query
		noCache bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries of a connection",
		Long: `Lists one window of entries, optionally filtered by a substring of the
rendered key or value. Only as many store pages are read as the window needs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Target = tf.target()
			q.DisableCache = noCache
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.lister.List(ctx, a.session(), q)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), res)
				}
				printItems(cmd.OutOrStdout(), res.Items)
				fmt.Fprintln(cmd.OutOrStdout(), listFooter(q, res))
				return nil
			})
		},
	}
	tf.register(cmd)
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "store page size")
	cmd.Flags().IntVar(&q.From, "from", 0, "offset into the filtered results")
	cmd.Flags().IntVar(&q.Show, "show", 0, "number of results to show")
	cmd.Flags().StringVar(&q.Filter, "filter", "", "case-sensitive substring of the rendered key or value")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore cached entries and scan from the beginning")
	return cmd
}

func listFooter(q list.Query, res *list.Result) string {
	more := "complete"
	if !res.ListComplete {
		more = "more available"
	}
	noun := "entries"
	if res.Filtered {
		noun = "matches"
	}
	if len(res.Items) == 0 {
		return fmt.Sprintf("no %s (%d %s, %s, %d read units)", noun, res.FullResultCount, noun, more, res.ReadUnits)
	}
	return fmt.Sprintf("%d-%d of %d %s (%s, %d read units)",
		q.From+1, q.From+len(res.Items), res.FullResultCount, noun, more, res.ReadUnits)
}

func newGetCmd() *cobra.Command {
	var connection string
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Read one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				item, err := a.lister.Get(ctx, a.session(), list.GetRequest{
					ConnectionID: connection,
					Key:          args[0],
					Executor:     a.conf.Executor,
				})
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), item)
				}
				printItems(cmd.OutOrStdout(), []list.Item{*item})
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&connection, "connection", "c", "", "connection id")
	_ = cmd.MarkFlagRequired("connection")
	return cmd
}

func newSetCmd() *cobra.Command {
	var (
		connection string
		kind       string
		expireIn   time.Duration
		ifAbsent   bool
		ifVersion  string
	)
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Write one entry",
		Long: `Writes VALUE under KEY. VALUE is read as --type: string, number, bigint,
boolean, bytes, date or json.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := key.Parse(args[0])
			if err != nil {
				return err
			}
			declared, err := value.ParseKind(kind)
			if err != nil {
				return err
			}
			v, err := value.Build(args[1], declared)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				kv, err := a.conns.Store(ctx, connection)
				if err != nil {
					return err
				}
				vs, err := kv.Set(ctx, k, v, store.SetOptions{
					ExpireIn:  expireIn,
					IfAbsent:  ifAbsent,
					IfVersion: store.Versionstamp(ifVersion),
				})
				if err != nil {
					return fmt.Errorf("set %s: %w", k, err)
				}
				a.session().Usage.AddWrites(1)
				fmt.Fprintln(cmd.OutOrStdout(), vs)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&connection, "connection", "c", "", "connection id")
	cmd.Flags().StringVarP(&kind, "type", "t", "string", "value type")
	cmd.Flags().DurationVar(&expireIn, "expire-in", 0, "expire the entry after this duration")
	cmd.Flags().BoolVar(&ifAbsent, "if-absent", false, "only write when the key has no live entry")
	cmd.Flags().StringVar(&ifVersion, "if-version", "", "only write when the live entry has this versionstamp")
	_ = cmd.MarkFlagRequired("connection")
	return cmd
}
