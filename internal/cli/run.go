package cli

import (
	"context"
	"io"
)

// Run executes the command tree with args and returns the process exit
// code. Errors are reported on errOut, or on out as JSON with --format json.
func Run(ctx context.Context, args []string, out, errOut io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	if err := root.ExecuteContext(ctx); err != nil {
		format, _ := root.PersistentFlags().GetString("format")
		if !isValidFormat(format) {
			format = "text"
		}
		f := &OutputFormatter{Format: format, Writer: out, ErrWriter: errOut}
		f.Error(err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
