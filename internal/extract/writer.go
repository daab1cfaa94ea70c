package extract

import (
	"bufio"
	"strings"

	"github.com/franz/history-restorer/internal/util"
)

// Separator joins the fields of PSV extracts
const Separator = '|'

// rowWriter renders rows into an atomic file
type rowWriter struct {
	file *util.AtomicFile
	buf  *bufio.Writer
	kind Kind
	rows int64
}

func newRowWriter(path string, kind Kind) (*rowWriter, error) {
	f, err := util.CreateAtomic(path)
	if err != nil {
		return nil, err
	}
	return &rowWriter{file: f, buf: bufio.NewWriterSize(f, 64*1024), kind: kind}, nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Row writes one row. CSV fields are always quoted and NULL becomes the
// empty string. PSV fields are escaped with util.EscapeField and NULL is
// written as util.NullField.
func (w *rowWriter) Row(values []string, null []bool) error {
	var line strings.Builder
	for i, v := range values {
		if w.kind == KindStates {
			if null[i] {
				v = ""
			}
			if i > 0 {
				line.WriteByte(',')
			}
			line.WriteByte('"')
			line.WriteString(strings.ReplaceAll(lineBreaks.Replace(v), `"`, `""`))
			line.WriteByte('"')
			continue
		}
		if i > 0 {
			line.WriteRune(Separator)
		}
		if null[i] {
			line.WriteString(util.NullField)
		} else {
			line.WriteString(util.EscapeField(v, Separator))
		}
	}
	line.WriteByte('\n')
	w.rows++
	_, err := w.buf.WriteString(line.String())
	return err
}

// Text writes raw text (schema dumps)
func (w *rowWriter) Text(s string) error {
	_, err := w.buf.WriteString(s)
	return err
}

// Commit flushes and renames the file into place
func (w *rowWriter) Commit() (int64, error) {
	if err := w.buf.Flush(); err != nil {
		w.file.Abort()
		return 0, err
	}
	if err := w.file.Commit(); err != nil {
		return 0, err
	}
	return w.file.Written(), nil
}

// Abort discards the partial file
func (w *rowWriter) Abort() {
	w.file.Abort()
}
