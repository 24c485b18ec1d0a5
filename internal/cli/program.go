package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

// NewProgramCommand creates the program command.
func NewProgramCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program",
		Short: "Enroll in programs and record program days",
	}

	var enrollDays int
	enroll := &cobra.Command{
		Use:     "enroll <program-id>",
		Short:   "Enroll in a program, or restart one keeping completed days",
		Example: "  guras program enroll calm-7 --days 7",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.svc.EnrollProgram(cmd.Context(), args[0], enrollDays)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to enroll", err)
			}
			return s.out.Success(res, func(w io.Writer) { writeProgramResult(w, res) })
		},
	}
	enroll.Flags().IntVar(&enrollDays, "days", 0, "program length in days (required for a new program)")

	var totalDays int
	day := &cobra.Command{
		Use:     "day <program-id> <day>",
		Short:   "Mark a program day as completed",
		Example: "  guras program day calm-7 3",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid day %q", args[1]))
			}

			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.svc.RecordProgramDay(cmd.Context(), args[0], n, totalDays)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to record program day", err)
			}
			return s.out.Success(res, func(w io.Writer) { writeProgramResult(w, res) })
		},
	}
	day.Flags().IntVar(&totalDays, "days", 0, "program length in days, enrolling if needed")

	cmd.AddCommand(enroll, day)
	return cmd
}
