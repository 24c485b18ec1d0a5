package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show totals, streaks and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.svc.GetDerivedStats(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to compute stats", err)
			}
			return s.out.Success(stats, func(w io.Writer) {
				fmt.Fprintf(w, "Sessions:       %s\n", humanize.Comma(int64(stats.TotalSessions)))
				fmt.Fprintf(w, "Minutes:        %s\n", humanize.Comma(int64(stats.TotalMinutes)))
				fmt.Fprintf(w, "Current streak: %s\n", plural(stats.CurrentStreak, "day"))
				fmt.Fprintf(w, "Longest streak: %s\n", plural(stats.LongestStreak, "day"))
				fmt.Fprintf(w, "Pending sync:   %d (%d failed)\n", stats.PendingSyncCount, stats.FailedSyncCount)
				fmt.Fprintf(w, "Last sync:      %s\n", ago(stats.LastSyncTime))
			})
		},
	}
}

// NewAchievementsCommand creates the achievements command.
func NewAchievementsCommand(rootOpts *RootOptions) *cobra.Command {
	var unlockedOnly bool

	cmd := &cobra.Command{
		Use:   "achievements",
		Short: "List achievements and progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			views, err := s.svc.GetAchievements(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load achievements", err)
			}
			if unlockedOnly {
				kept := views[:0]
				for _, v := range views {
					if v.IsUnlocked {
						kept = append(kept, v)
					}
				}
				views = kept
			}
			return s.out.Success(views, func(w io.Writer) {
				for _, v := range views {
					mark := " "
					if v.IsUnlocked {
						mark = "x"
					}
					fmt.Fprintf(w, "[%s] %-22s %3d%%  %d/%d", mark, v.Title, v.Percent, v.Progress, v.Target)
					if v.IsUnlocked {
						fmt.Fprintf(w, "  unlocked %s", ago(v.UnlockedAt))
					}
					fmt.Fprintln(w)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&unlockedOnly, "unlocked", false, "only show unlocked achievements")
	return cmd
}
