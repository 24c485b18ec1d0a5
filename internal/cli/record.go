package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/silwalsubin/guras-sub000/internal/achievement"
	"github.com/silwalsubin/guras-sub000/internal/models"
	"github.com/silwalsubin/guras-sub000/internal/services"
)

// RecordOptions holds flags shared by the record subcommands.
type RecordOptions struct {
	*RootOptions
	Duration int
	At       string
	Rating   int
	Mood     []int
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a completed session",
	}
	cmd.AddCommand(newRecordMeditationCommand(rootOpts))
	cmd.AddCommand(newRecordGuidedCommand(rootOpts))
	return cmd
}

func (o *RecordOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&o.Duration, "duration", "d", 0, "session length in minutes (required)")
	_ = cmd.MarkFlagRequired("duration")
	cmd.Flags().StringVar(&o.At, "at", "", "completion time (RFC 3339, default now)")
	cmd.Flags().IntVar(&o.Rating, "rating", 0, "rating 1-5")
	cmd.Flags().IntSliceVar(&o.Mood, "mood", nil, "mood before,after on a 1-5 scale")
}

// completion fills the fields shared by both session kinds.
func (o *RecordOptions) completion() (time.Time, *int, *models.Mood, error) {
	at := time.Now()
	if o.At != "" {
		t, err := time.Parse(time.RFC3339, o.At)
		if err != nil {
			return time.Time{}, nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --at %q: %v", o.At, err))
		}
		at = t
	}
	var rating *int
	if o.Rating != 0 {
		r := o.Rating
		rating = &r
	}
	var mood *models.Mood
	switch len(o.Mood) {
	case 0:
	case 2:
		mood = &models.Mood{Before: o.Mood[0], After: o.Mood[1]}
	default:
		return time.Time{}, nil, nil, NewExitError(ExitCommandError, "--mood takes exactly two values: before,after")
	}
	return at, rating, mood, nil
}

func newRecordMeditationCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}
	var sessionType string

	cmd := &cobra.Command{
		Use:   "meditation",
		Short: "Record an unguided meditation",
		Example: `  guras record meditation --duration 10
  guras record meditation -d 20 --rating 4 --mood 2,4 --type breath`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, rating, mood, err := opts.completion()
			if err != nil {
				return err
			}
			return runRecord(cmd, opts.RootOptions, &models.MeditationSession{
				Duration:    opts.Duration,
				CompletedAt: at,
				Rating:      rating,
				Mood:        mood,
				SessionType: sessionType,
			})
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().StringVar(&sessionType, "type", "unguided", "session type label")
	return cmd
}

func newRecordGuidedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}
	var (
		guided models.GuidedSession
		day    int
	)

	cmd := &cobra.Command{
		Use:   "guided",
		Short: "Record a guided session",
		Example: `  guras record guided --session s-42 --title "Body Scan" --teacher Ana --theme sleep -d 15
  guras record guided --session p1-d3 --title "Day 3" -d 10 --program calm-7 --day 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, rating, mood, err := opts.completion()
			if err != nil {
				return err
			}
			g := guided
			g.Duration = opts.Duration
			g.CompletedAt = at
			g.Rating = rating
			g.Mood = mood
			if day != 0 {
				d := day
				g.ProgramDay = &d
			}
			return runRecord(cmd, opts.RootOptions, &g)
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().StringVar(&guided.SessionID, "session", "", "catalogue session id (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().StringVar(&guided.Title, "title", "", "session title (required)")
	_ = cmd.MarkFlagRequired("title")
	cmd.Flags().StringVar(&guided.TeacherName, "teacher", "", "teacher name")
	cmd.Flags().StringVar(&guided.Theme, "theme", "", "session theme")
	cmd.Flags().StringVar(&guided.ProgramID, "program", "", "program this session belongs to")
	cmd.Flags().IntVar(&day, "day", 0, "program day this session completes")
	return cmd
}

func runRecord(cmd *cobra.Command, opts *RootOptions, completion models.Entity) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.svc.RecordCompletion(cmd.Context(), completion)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to record session", err)
	}
	return s.out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Recorded %s %s\n", completion.EntityType(), res.ID)
		fmt.Fprintf(w, "Streak: %s (longest %d)\n", plural(res.Streak.Current, "day"), res.Streak.Longest)
		if res.Program != nil {
			writeProgram(w, res.Program)
		}
		writeUnlocked(w, res.NewlyUnlocked)
	})
}

func writeUnlocked(w io.Writer, ids []string) {
	for _, id := range ids {
		title := id
		if def, ok := achievement.Lookup(id); ok {
			title = def.Title
		}
		fmt.Fprintf(w, "Achievement unlocked: %s\n", title)
	}
}

func writeProgram(w io.Writer, p *models.ProgramProgress) {
	state := fmt.Sprintf("day %d of %d", p.CurrentDay, p.TotalDays)
	if p.IsCompleted {
		state = "completed"
	}
	fmt.Fprintf(w, "Program %s: %d/%d days done, %s\n", p.ProgramID, len(p.CompletedDays), p.TotalDays, state)
}

// writeProgramResult is shared by the program subcommands.
func writeProgramResult(w io.Writer, res *services.ProgramResult) {
	writeProgram(w, res.Progress)
	if res.JustCompleted {
		fmt.Fprintln(w, "Program complete!")
	}
	writeUnlocked(w, res.NewlyUnlocked)
}
