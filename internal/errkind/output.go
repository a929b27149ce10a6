package errkind

import (
	"regexp"
	"strings"
)

var (
	reNotFound    = regexp.MustCompile(`(?i)\bnot found\b`)
	reGuardMarker = regexp.MustCompile(`(?i)Error\[delete_guard\]`)
	reGuardMsg    = regexp.MustCompile(`(?im)Error\[delete_guard\]:\s*(.+)$`)
	reErrorLine   = regexp.MustCompile(`(?i)error|failed|unable`)
)

// DeleteOutcome is the interpretation of a delete command result.
type DeleteOutcome struct {
	// Status is success, warning or error.
	Status string
	// Kind is empty on success, AlreadyMissing or DeleteGuard on warning,
	// Classify(output) on error.
	Kind    Kind
	Message string
}

// DeleteGuardFallback is reported when the external refusal carries no reason.
const DeleteGuardFallback = "Deletion blocked: the core still has linked sites. Delete the link sites first."

// ClassifyDelete interprets the exit code and output of `hostctl delete`.
func ClassifyDelete(exitCode int, output string) DeleteOutcome {
	if exitCode == 0 {
		return DeleteOutcome{Status: "success", Message: "Project deleted"}
	}
	if reGuardMarker.MatchString(output) {
		msg := DeleteGuardFallback
		if m := reGuardMsg.FindStringSubmatch(output); len(m) == 2 && strings.TrimSpace(m[1]) != "" {
			msg = strings.TrimSpace(m[1])
		}
		return DeleteOutcome{Status: "warning", Kind: DeleteGuard, Message: msg}
	}
	if reNotFound.MatchString(output) {
		return DeleteOutcome{Status: "warning", Kind: AlreadyMissing, Message: "Project already missing"}
	}
	msg := Summarize(output)
	if msg == "" {
		msg = "Delete failed"
	}
	return DeleteOutcome{Status: "error", Kind: Classify(output), Message: msg}
}

// Summarize extracts a short error message from command output: up to three
// of the last ten lines mentioning error/failed/unable, else the last line.
func Summarize(output string) string {
	lines := NonEmptyLines(output)
	if len(lines) == 0 {
		return ""
	}
	tail := lines
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	var picked []string
	for _, l := range tail {
		if reErrorLine.MatchString(l) {
			picked = append(picked, l)
			if len(picked) == 3 {
				break
			}
		}
	}
	if len(picked) > 0 {
		return strings.Join(picked, "; ")
	}
	return lines[len(lines)-1]
}

// NonEmptyLines splits output into trimmed, non-blank lines.
func NonEmptyLines(output string) []string {
	var out []string
	for _, l := range strings.Split(output, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Head returns at most n lines from the start of output.
func Head(output string, n int) []string {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines
}
