package taskrun

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Reporter renders a pipeline's progress to the console: a screen clear
// fired exactly once per run before the first command, then a line per
// command as it starts and finishes. Ported from original_source/src/
// task.rs, which writes the "\x1b[2J" clear escape at the top of spawn()
// before running anything.
type Reporter interface {
	ClearScreen()
	Starting(name string)
	Finished(name string, success bool, elapsed time.Duration)
}

// NewReporter picks a colorized reporter when stdout is a terminal, and a
// plain, escape-code-free reporter otherwise — writing ANSI clears and
// color codes into a redirected/piped stdout would just corrupt the
// output, so the two reporters the progress contract requires differ
// exactly there.
func NewReporter() Reporter {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return colorReporter{}
	}
	return plainReporter{}
}

type colorReporter struct{}

func (colorReporter) ClearScreen() {
	fmt.Print("\x1b[2J")
}

func (colorReporter) Starting(name string) {
	color.New(color.FgCyan).Printf("==> %s\n", name)
}

func (colorReporter) Finished(name string, success bool, elapsed time.Duration) {
	color.New(color.FgCyan).Printf("==> %s: ", name)
	if success {
		color.New(color.FgGreen).Printf("Success. ")
	} else {
		color.New(color.FgRed).Printf("Failed. ")
	}
	fmt.Printf("(%s)\n", elapsed.Round(time.Millisecond))
}

type plainReporter struct{}

func (plainReporter) ClearScreen() {}

func (plainReporter) Starting(name string) {
	fmt.Printf("==> %s\n", name)
}

func (plainReporter) Finished(name string, success bool, elapsed time.Duration) {
	status := "Success"
	if !success {
		status = "Failed"
	}
	fmt.Printf("==> %s: %s. (%s)\n", name, status, elapsed.Round(time.Millisecond))
}
