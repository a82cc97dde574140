// Package ansi strips terminal control sequences from child-process output
// before it is persisted to a log file. Console echo keeps the raw bytes
// (colors render fine in a terminal); only the on-disk copy is scrubbed.
package ansi

import "regexp"

// removeCSI matches CSI/ESC-paren escape sequences: ESC (\x1b) or \x9b, an
// optional intermediate byte class, an optional numeric parameter block,
// and a final byte drawn from the command-character range. ESC-paren
// sequences (\x1b() show up from some terminal programs alongside true CSI
// codes, which is why both lead-in bytes are accepted here.
var removeCSI = regexp.MustCompile(
	"[\x1b\\x{9b}][\\[()#;?]*(?:[0-9]{1,4}(?:;[0-9]{0,4})*)?[0-9A-PRZcf-nqry=><]")

// removeShiftInOut matches the C0 Shift-In (\x0e) / Shift-Out (\x0f) control
// bytes some terminal programs emit alongside color codes.
var removeShiftInOut = regexp.MustCompile("[\x0e\x0f]")

// Strip removes ANSI CSI/ESC-paren sequences and shift-in/shift-out bytes
// from line, returning the plain-text result that gets written to a
// persisted log file.
func Strip(line string) string {
	line = removeCSI.ReplaceAllString(line, "")
	line = removeShiftInOut.ReplaceAllString(line, "")
	return line
}
