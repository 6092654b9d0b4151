// Package commands implements the orpheus CLI.
package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/pipeline"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersion records build metadata for the version output.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orpheus",
		Short: "Convert EPUB books into chaptered audiobooks",
		Long: `orpheus converts EPUB e-books into chaptered M4B audiobooks using an
Orpheus text-to-speech backend. Chapters are extracted in reading order,
split into prosody-friendly chunks, synthesized, and assembled with
chapter markers.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", appVersion, appCommit, appDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(NewConvertCmd())
	root.AddCommand(NewVoicesCmd())

	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// statusError carries a terminal run status to the process exit code.
type statusError struct {
	status pipeline.Status
	err    error
}

func (e *statusError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.status, e.err)
	}
	return string(e.status)
}

func (e *statusError) Unwrap() error {
	return e.err
}

// ExitCode maps an error to the process exit code. Cancellation uses the
// conventional 130, content problems 2, everything else 1.
func ExitCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case pipeline.StatusCancelled:
			return 130
		case pipeline.StatusNoContent:
			return 2
		default:
			return 1
		}
	}
	return 1
}
