// Package measure prints progress lines with elapsed time for long running
// steps.
package measure

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Interactive reports whether stdout is a terminal.
func Interactive() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Interactively prints status and returns a function which replaces it with
// the elapsed time. Nothing is printed when stdout is not a terminal.
func Interactively(status string) (done func(fragment string)) {
	if !Interactive() {
		return func(string) {}
	}
	return to(os.Stdout, status, time.Now)
}

func to(w io.Writer, status string, now func() time.Time) func(string) {
	status = "[" + status + "]"
	fmt.Fprint(w, status)
	start := now()
	return func(fragment string) {
		took := now().Sub(start)
		fmt.Fprintf(w, "\r[done] in %.2fs%s"+strings.Repeat(" ", len(status))+"\n",
			took.Seconds(),
			fragment)
	}
}
