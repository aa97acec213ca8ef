package isolate

import (
	"bufio"
	"io"

	segjson "github.com/segmentio/encoding/json"

	"github.com/mfateev/codemode-sandbox/internal/mcpregistry"
)

// SubmissionStart is the single line the host writes to the
// codemode-isolate helper's stdin before the broker exchange begins,
// carrying everything the child needs to build its predeclared
// environment without a second round trip.
type SubmissionStart struct {
	Filename       string                         `json:"filename"`
	Code           string                         `json:"code"`
	MaxSteps       uint64                         `json:"max_steps"`
	Tools          []mcpregistry.ToolDescriptor   `json:"tools"`
	BindingMethods map[string][]string            `json:"binding_methods"`
}

// LineWriter/LineReader wrap the JSON-lines framing shared by the T1/T2
// transport, encoded with segmentio/encoding/json for consistency with
// the audit log's wire format (internal/audit.Writer).
// LineWriter writes JSON-lines frames, exported so the codemode-isolate
// helper binary (package main) can speak the same wire format.
type LineWriter struct {
	w io.Writer
}

func NewLineWriter(w io.Writer) *LineWriter { return &LineWriter{w: w} }

func (l *LineWriter) WriteJSON(v any) error {
	data, err := segjson.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = l.w.Write(data)
	return err
}

// LineReader reads JSON-lines frames; exported for the same reason as LineWriter.
type LineReader struct {
	sc *bufio.Scanner
}

func NewLineReader(r io.Reader) *LineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &LineReader{sc: sc}
}

// ReadJSON decodes the next line into v. Returns io.EOF when the
// underlying stream closes without another line.
func (l *LineReader) ReadJSON(v any) error {
	if !l.sc.Scan() {
		if err := l.sc.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	return segjson.Unmarshal(l.sc.Bytes(), v)
}
