package isolate

import "github.com/mfateev/codemode-sandbox/internal/exec"

// BoundedLog collects guest print() output up to exec.ExecOutputMaxBytes
// total bytes. A submission that print()s in a tight loop must not be
// able to grow Outcome.Logs (or the wire Message.Logs field) without
// bound; once the cap is reached, a single truncation marker is appended
// and every later line is dropped. Shared by the in-process runner and
// the codemode-isolate helper binary, which both collect the same
// Starlark thread.Print output.
type BoundedLog struct {
	lines     []string
	bytes     int
	truncated bool
}

// Append records one print() line, dropping it (after one truncation
// marker) once the cumulative byte budget is exhausted.
func (b *BoundedLog) Append(line string) {
	if b.truncated {
		return
	}
	if b.bytes+len(line) > exec.ExecOutputMaxBytes {
		b.lines = append(b.lines, "... output truncated")
		b.truncated = true
		return
	}
	b.lines = append(b.lines, line)
	b.bytes += len(line)
}

// List returns the collected lines, in order.
func (b *BoundedLog) List() []string {
	return b.lines
}
