package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoTargets is returned when no source yields a target.
var ErrNoTargets = errors.New("no targets specified")

// TargetSource gathers targets from arguments, a list file and a reader
// (normally stdin). Lines starting with # and blank lines are skipped.
// Targets are returned as written; validation belongs to the scanner.
type TargetSource struct {
	URLs     []string
	ListFile string
	Reader   io.Reader
}

// Targets returns every target once, in first-seen order: URLs, then the
// list file, then the reader.
func (ts *TargetSource) Targets() ([]string, error) {
	var targets []string
	seen := make(map[string]bool)
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" || strings.HasPrefix(t, "#") || seen[t] {
			return
		}
		seen[t] = true
		targets = append(targets, t)
	}

	for _, u := range ts.URLs {
		add(u)
	}
	if ts.ListFile != "" {
		f, err := os.Open(ts.ListFile)
		if err != nil {
			return nil, fmt.Errorf("target list: %w", err)
		}
		err = readLines(f, add)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("target list %s: %w", ts.ListFile, err)
		}
	}
	if ts.Reader != nil {
		if err := readLines(ts.Reader, add); err != nil {
			return nil, fmt.Errorf("reading targets: %w", err)
		}
	}

	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return targets, nil
}

func readLines(r io.Reader, fn func(string)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fn(sc.Text())
	}
	return sc.Err()
}
