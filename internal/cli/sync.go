package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/silwalsubin/guras-sub000/internal/sync/scheduler"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		watch         bool
		interval      time.Duration
		queueInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the outbox against the configured remote",
		Long: `Drain the outbox once against the configured remote.

With --watch the command keeps running and drains in the background every
sync.interval, and sooner when queued items come due (checked every
sync.queue_interval), until it is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if watch {
				cfg := scheduler.DefaultSchedulerConfig()
				cfg.SyncInterval = s.cfg.Sync.Interval
				cfg.QueueInterval = s.cfg.Sync.QueueInterval
				if interval > 0 {
					cfg.SyncInterval = interval
				}
				if queueInterval > 0 {
					cfg.QueueInterval = queueInterval
				}
				return runWatch(cmd.Context(), s, cfg)
			}

			s.out.VerboseLog("syncing to %s", s.cfg.RemotePath())
			result, err := s.svc.Sync(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "sync failed", err)
			}
			counters := s.svc.SyncTelemetry()
			s.out.VerboseLog("synced by type: %v", counters.SyncedByType)
			return s.out.Success(result, func(w io.Writer) {
				fmt.Fprintf(w, "Synced %d, retried %d, failed %d, deferred %d in %s\n",
					result.Synced, result.Retried, result.Failed, result.Deferred, result.Duration)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep draining in the background until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Override sync.interval in watch mode")
	cmd.Flags().DurationVar(&queueInterval, "queue-interval", 0, "Override sync.queue_interval in watch mode")
	return cmd
}

// runWatch drains once straight away, then leaves the scheduler running
// until ctx ends.
func runWatch(ctx context.Context, s *session, cfg *scheduler.SchedulerConfig) error {
	sched, err := s.svc.StartBackgroundSync(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start background sync", err)
	}
	s.out.VerboseLog("watching %s every %s (due items every %s)",
		s.cfg.RemotePath(), cfg.SyncInterval, cfg.QueueInterval)
	sched.TriggerSync(ctx)

	<-ctx.Done()
	sched.Stop()

	counters := s.svc.SyncTelemetry()
	return s.out.Success(counters, func(w io.Writer) {
		fmt.Fprintf(w, "Stopped after %s: synced %d, retried %d, failed %d\n",
			plural(counters.Drains, "drain"), counters.ItemsSynced, counters.ItemsRetried, counters.ItemsFailed)
	})
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the sync outbox",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List queued items in drain order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			items, err := s.svc.QueueItems(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list queue", err)
			}
			return s.out.Success(items, func(w io.Writer) {
				if len(items) == 0 {
					fmt.Fprintln(w, "Outbox is empty")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tENTITY\tACTION\tSTATUS\tRETRIES\tQUEUED\tLAST ERROR")
				for _, item := range items {
					fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%d/%d\t%s\t%s\n",
						item.ID, item.EntityType, item.EntityID, item.Action, item.Status,
						item.RetryCount, item.MaxRetries, humanize.Time(item.Timestamp), item.LastError)
				}
				_ = tw.Flush()
			})
		},
	}

	discard := &cobra.Command{
		Use:   "discard <item-id>",
		Short: "Drop an item without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.svc.DiscardQueueItem(cmd.Context(), args[0]); err != nil {
				return WrapExitError(ExitFailure, "failed to discard item", err)
			}
			return s.out.Success(map[string]string{"discarded": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Discarded %s\n", args[0])
			})
		},
	}

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Put every failed item back in line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.svc.RetryFailed(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to reset items", err)
			}
			return s.out.Success(map[string]int{"reset": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Reset %s\n", plural(n, "item"))
			})
		},
	}

	cmd.AddCommand(list, discard, retry)
	return cmd
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete synced records older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if days == 0 {
				days = s.cfg.Retention.Days
			}
			result, err := s.svc.Purge(cmd.Context(), days)
			if err != nil {
				return WrapExitError(ExitFailure, "purge failed", err)
			}
			return s.out.Success(result, func(w io.Writer) {
				total := 0
				for _, n := range result {
					total += n
				}
				fmt.Fprintf(w, "Purged %s older than %s\n", plural(total, "record"), plural(days, "day"))
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default from config)")
	return cmd
}
