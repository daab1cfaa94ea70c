package sqlout

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/franz/history-restorer/internal/util"
)

// Writer is an append-only SQL script writer. Lines are written in call
// order; the script only appears under its final name after Close.
// The first write error is sticky and returned by every later call.
type Writer struct {
	file       *util.AtomicFile
	buf        *bufio.Writer
	err        error
	statements int
	comments   int
	closed     bool
}

// Create opens a new script at path (written to path.part until Close)
func Create(path string) (*Writer, error) {
	f, err := util.CreateAtomic(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrWriteFailed, err)
	}
	return &Writer{file: f, buf: bufio.NewWriterSize(f, 256*1024)}, nil
}

// Comment writes "-- text"
func (w *Writer) Comment(text string) error {
	if err := w.writeLine("-- " + text); err != nil {
		return err
	}
	w.comments++
	return nil
}

// Statement writes one executable SQL line
func (w *Writer) Statement(sql string) error {
	if err := w.writeLine(sql); err != nil {
		return err
	}
	w.statements++
	return nil
}

// Blank writes an empty separator line
func (w *Writer) Blank() error {
	return w.writeLine("")
}

func (w *Writer) writeLine(line string) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		w.err = fmt.Errorf("%w: write after close", util.ErrWriteFailed)
		return w.err
	}
	if strings.ContainsAny(line, "\r\n") {
		line = strings.NewReplacer("\r", " ", "\n", " ").Replace(line)
	}
	if _, err := w.buf.WriteString(line); err != nil {
		w.err = fmt.Errorf("%w: %v", util.ErrWriteFailed, err)
		return w.err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		w.err = fmt.Errorf("%w: %v", util.ErrWriteFailed, err)
		return w.err
	}
	return nil
}

// Statements returns the number of statements written
func (w *Writer) Statements() int {
	return w.statements
}

// Comments returns the number of comment lines written
func (w *Writer) Comments() int {
	return w.comments
}

// Path returns the final script path
func (w *Writer) Path() string {
	return w.file.Path()
}

// Close flushes and atomically publishes the script. On a previous write
// error the partial file is discarded and that error is returned.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true

	if w.err != nil {
		w.file.Abort()
		return w.err
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Abort()
		w.err = fmt.Errorf("%w: %v", util.ErrWriteFailed, err)
		return w.err
	}
	if err := w.file.Commit(); err != nil {
		w.err = fmt.Errorf("%w: %v", util.ErrWriteFailed, err)
		return w.err
	}
	return nil
}

// Abort discards the script without publishing it
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.file.Abort()
}
