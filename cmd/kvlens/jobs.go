package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacentio/kvlens/exports"
	"github.com/jacentio/kvlens/internal/fingerprint"
	"github.com/jacentio/kvlens/jobs"
	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/list"
	"github.com/jacentio/kvlens/session"
)

// runJob runs fn under an abort token. Interrupting the process or
// publishing the token with "kvlens abort" aborts the job at its next batch.
func runJob(cmd *cobra.Command, a *app, token string, fn func(ctx context.Context, token string) error) error {
	if token == "" {
		token = uuid.NewString()
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "abort token: %s\n", token)

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	a.watchAborts(ctx)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			a.logger.Warn("interrupted, aborting job", "token", token)
			a.jobs.Abort(token)
		case <-ctx.Done():
		}
	}()

	return fn(ctx, token)
}

func reportResult(cmd *cobra.Command, r *jobs.Report) error {
	if wantJSON(cmd) {
		if err := printJSON(cmd.OutOrStdout(), r); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), r)
	}
	if r.State == jobs.StateFailed {
		return fmt.Errorf("job %s failed: %s", r.ID, r.Error)
	}
	return nil
}

// primeSelection lists the target until every fingerprint is among the
// session's cached entries or the range is exhausted.
func primeSelection(ctx context.Context, a *app, sess *session.Session, t list.Target, fps []string) error {
	q := list.Query{Target: t, Show: 1}
	seen := -1
	for {
		res, err := a.lister.List(ctx, sess, q)
		if err != nil {
			return err
		}
		if cached, ok := sess.Cache.Get(t.Shape()); ok {
			keys := make([]key.Key, len(cached.Entries))
			for i, entry := range cached.Entries {
				keys[i] = entry.Key
			}
			if _, missing := fingerprint.NewSet(keys).Resolve(fps); len(missing) == 0 {
				return nil
			}
		}
		if res.ListComplete || res.FullResultCount == seen {
			return nil
		}
		seen = res.FullResultCount
		q.From = res.FullResultCount
	}
}

type selectionFlags struct {
	targetFlags
	all   bool
	token string
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	f.targetFlags.register(cmd)
	cmd.Flags().BoolVar(&f.all, "all", false, "select every entry in the range instead of listed fingerprints")
	cmd.Flags().StringVar(&f.token, "token", "", "abort token (default: generated)")
}

func (f *selectionFlags) selection(ctx context.Context, a *app, sess *session.Session, fps []string) (jobs.Selection, error) {
	sel := jobs.Selection{Target: f.target(), Fingerprints: fps, All: f.all}
	switch {
	case f.all && len(fps) > 0:
		return sel, errors.New("pass fingerprints or --all, not both")
	case f.all:
		return sel, nil
	case len(fps) == 0:
		return sel, jobs.ErrEmptySelection
	}
	return sel, primeSelection(ctx, a, sess, sel.Target, fps)
}

func newCopyCmd() *cobra.Command {
	var (
		sf          selectionFlags
		destination string
	)
	cmd := &cobra.Command{
		Use:   "copy [FINGERPRINT...]",
		Short: "Copy selected entries to another connection",
		Long: `Copies the entries whose fingerprints were shown by "kvlens list", or every
entry in the range with --all. Remaining expiry is preserved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sess := a.session()
				sel, err := sf.selection(ctx, a, sess, args)
				if err != nil {
					return err
				}
				return runJob(cmd, a, sf.token, func(ctx context.Context, token string) error {
					r, err := a.jobs.Copy(ctx, sess, jobs.CopyRequest{
						Selection:   sel,
						Destination: destination,
						AbortToken:  token,
						Executor:    a.conf.Executor,
					})
					if err != nil {
						return err
					}
					return reportResult(cmd, r)
				})
			})
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "destination connection id")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var sf selectionFlags
	cmd := &cobra.Command{
		Use:   "delete [FINGERPRINT...]",
		Short: "Delete selected entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sess := a.session()
				sel, err := sf.selection(ctx, a, sess, args)
				if err != nil {
					return err
				}
				return runJob(cmd, a, sf.token, func(ctx context.Context, token string) error {
					r, err := a.jobs.Delete(ctx, sess, jobs.DeleteRequest{
						Selection:  sel,
						AbortToken: token,
						Executor:   a.conf.Executor,
					})
					if err != nil {
						return err
					}
					return reportResult(cmd, r)
				})
			})
		},
	}
	sf.register(cmd)
	return cmd
}

func newImportCmd() *cobra.Command {
	var destination, token string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Write an exported snapshot into a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runJob(cmd, a, token, func(ctx context.Context, token string) error {
					r, err := a.jobs.Import(ctx, a.session(), jobs.ImportRequest{
						Destination: destination,
						Path:        args[0],
						AbortToken:  token,
						Executor:    a.conf.Executor,
					})
					if err != nil {
						return err
					}
					return reportResult(cmd, r)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "destination connection id")
	cmd.Flags().StringVar(&token, "token", "", "abort token (default: generated)")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		tf       targetFlags
		token    string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Snapshot a range into a compressed file",
		Long: `Starts an export and polls its status until it finishes. The snapshot file
is removed by the cleanup worker after the configured delay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runJob(cmd, a, token, func(ctx context.Context, token string) error {
					sess := a.session()
					id, err := a.jobs.StartExport(ctx, sess, jobs.ExportRequest{
						Target:     tf.target(),
						AbortToken: token,
						Executor:   a.conf.Executor,
					})
					if err != nil {
						return err
					}
					job, err := pollExport(ctx, a, sess, id, interval)
					if err != nil {
						return err
					}
					if wantJSON(cmd) {
						if err := printJSON(cmd.OutOrStdout(), job); err != nil {
							return err
						}
					} else {
						printExportJob(cmd.OutOrStdout(), job)
					}
					if job.Status == exports.StatusFailed {
						return fmt.Errorf("export %s failed: %s", job.ID, job.Error)
					}
					return nil
				})
			})
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVar(&token, "token", "", "abort token (default: generated)")
	cmd.Flags().DurationVar(&interval, "poll", 500*time.Millisecond, "status poll interval")
	return cmd
}

func pollExport(ctx context.Context, a *app, sess *session.Session, id string, interval time.Duration) (*exports.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := a.jobs.ExportStatus(ctx, sess, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		a.logger.Info("export running", "id", id, "status", job.Status, "keys", job.KeysProcessed)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newExportStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-status ID",
		Short: "Show the status of an export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				job, err := a.jobs.ExportStatus(ctx, a.session(), args[0])
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), job)
				}
				printExportJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
}

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort TOKEN",
		Short: "Abort a running job in another process",
		Long: `Broadcasts an abort for TOKEN over the NATS queue. Jobs stop at their next
batch boundary. Requires queue.backend: nats.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.nats == nil {
					return errors.New("abort needs the nats queue backend; interrupt the job's process instead")
				}
				return a.nats.PublishAbort(ctx, args[0])
			})
		},
	}
}
