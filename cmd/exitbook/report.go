package main

import (
	"fmt"
	"os"

	"github.com/jbelanger/exitbook/internal/xerrors"
)

// Exit codes per spec.md section 6.
const (
	exitSuccess     = 0
	exitGeneralErr  = 1
	exitInvalidArgs = 2
)

const maxReportedErrors = 5

// report is the single structured report every command prints, per
// spec.md section 6: "commands return a single structured report — phase,
// counts, a bounded list of errors (first ~5), and the exit code of the
// worst outcome."
type report struct {
	Phase  string
	Counts map[string]int
	Errors []string
}

func newReport(phase string) *report {
	return &report{Phase: phase, Counts: map[string]int{}}
}

func (r *report) addError(err error) {
	if err == nil {
		return
	}
	if len(r.Errors) >= maxReportedErrors {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

func (r *report) print() {
	fmt.Printf("phase: %s\n", r.Phase)
	for k, v := range r.Counts {
		fmt.Printf("  %s: %d\n", k, v)
	}
	if len(r.Errors) > 0 {
		fmt.Println("errors:")
		for _, e := range r.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

// exitCodeFor maps an error to spec.md's worst-outcome exit code:
// Validation errors on user-supplied args are args errors (2), everything
// else the engine can return is a general error (1), nil is success (0).
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	if xerrors.Is(err, xerrors.Validation) {
		return exitInvalidArgs
	}
	return exitGeneralErr
}

// finish prints the report and terminates the process with the
// worst-outcome exit code, the standard ending for every subcommand's RunE.
func (r *report) finish(err error) error {
	r.addError(err)
	r.print()
	os.Exit(exitCodeFor(err))
	return nil
}
