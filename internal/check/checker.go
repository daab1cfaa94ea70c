// Package check compares metadata and schema extracts of successive
// snapshots and reports differences as warnings.
package check

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/franz/history-restorer/internal/extract"
	"github.com/franz/history-restorer/internal/report"
	"github.com/franz/history-restorer/internal/util"
	"github.com/mitchellh/colorstring"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/unicode/norm"
)

// Divergence is a textual difference between two snapshots of a dataset
type Divergence struct {
	Dataset  string
	Previous string // snapshot id
	Current  string // snapshot id
	Changed  int    // added plus removed lines
	Diff     string // unified diff of the normalised text
}

// Config holds checker configuration
type Config struct {
	WorkDir  string
	Datasets []extract.Dataset // only Checked() datasets are compared
	Context  int               // diff context lines
	Logger   *report.EventLogger
}

// Run walks the snapshots oldest first and compares every present file
// with the last present predecessor. It never fails on a difference.
func Run(cfg Config, snapshotIDs []string) ([]Divergence, error) {
	if cfg.Context <= 0 {
		cfg.Context = 3
	}

	var divergences []Divergence
	for _, d := range cfg.Datasets {
		if !d.Checked() {
			continue
		}

		prevID, prevPath := "", ""
		for _, id := range snapshotIDs {
			path := extract.Path(cfg.WorkDir, id, d)
			if _, ok := util.FileSize(path); !ok {
				util.DebugLog("No %s extract for snapshot %s", d, id)
				continue
			}
			if prevPath != "" {
				div, err := Compare(d.String(), prevID, prevPath, id, path, cfg.Context)
				if err != nil {
					return divergences, err
				}
				if div != nil {
					Print(div)
					cfg.Logger.LogDivergence(div.Dataset, div.Previous, div.Current, div.Changed)
					divergences = append(divergences, *div)
				}
			}
			prevID, prevPath = id, path
		}
	}

	return divergences, nil
}

// Compare diffs two extracts after normalisation; nil means equal
func Compare(dataset, prevID, prevPath, curID, curPath string, context int) (*Divergence, error) {
	a, err := readNormalized(prevPath)
	if err != nil {
		return nil, err
	}
	b, err := readNormalized(curPath)
	if err != nil {
		return nil, err
	}
	if equal(a, b) {
		return nil, nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: prevID + "/" + dataset,
		ToFile:   curID + "/" + dataset,
		Context:  context,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", dataset, err)
	}

	return &Divergence{
		Dataset:  dataset,
		Previous: prevID,
		Current:  curID,
		Changed:  countChanged(diff),
		Diff:     diff,
	}, nil
}

// Normalize applies NFC and collapses runs of whitespace
func Normalize(line string) string {
	return strings.Join(strings.Fields(norm.NFC.String(line)), " ")
}

// readNormalized returns the normalised lines of a file, newline terminated
// as difflib expects.
func readNormalized(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := Normalize(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line+"\n")
	}
	return lines, scanner.Err()
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func countChanged(diff string) int {
	n := 0
	inHunk := false
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "@@") {
			inHunk = true
			continue
		}
		if inHunk && (strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-")) {
			n++
		}
	}
	return n
}

// Print reports a divergence at warning level with a colourised diff
func Print(div *Divergence) {
	util.WarnLog("%s differs between snapshots %s and %s (%d changed lines)",
		div.Dataset, div.Previous, div.Current, div.Changed)
	util.RawLog(Colorize(div.Diff, util.ColorsEnabled()))
}

// Colorize marks added lines green, removed lines red and hunk headers cyan.
// Only the colour codes go through colorstring so brackets in data stay literal.
func Colorize(diff string, enabled bool) string {
	c := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !enabled,
	}

	var out strings.Builder
	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		code := ""
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			code = "[bold]"
		case strings.HasPrefix(line, "@@"):
			code = "[cyan]"
		case strings.HasPrefix(line, "+"):
			code = "[green]"
		case strings.HasPrefix(line, "-"):
			code = "[red]"
		}
		if code == "" {
			out.WriteString(line)
		} else {
			out.WriteString(c.Color(code))
			out.WriteString(line)
			out.WriteString(c.Color("[reset]"))
		}
		out.WriteByte('\n')
	}
	return out.String()
}
