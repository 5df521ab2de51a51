package ngram

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrARPA is returned for malformed ARPA input.
var ErrARPA = errors.New("ngram: malformed arpa")

// ReadARPA parses an ARPA language model and returns its order and entries.
// The counts in the \data\ header are checked against the sections.
func ReadARPA(r io.Reader) (order int, entries []Entry, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		counts  []int
		seen    []int
		section = -1 // -1: before \data\, 0: header, n: n-grams
		lineNo  int
		ended   bool
	)
	fail := func(format string, args ...any) (int, []Entry, error) {
		return 0, nil, fmt.Errorf("%w: line %d: %s", ErrARPA, lineNo, fmt.Sprintf(format, args...))
	}

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || ended {
			continue
		}

		switch {
		case line == `\data\`:
			section = 0
			continue
		case line == `\end\`:
			ended = true
			continue
		case strings.HasPrefix(line, `\`) && strings.HasSuffix(line, "-grams:"):
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, `\`), "-grams:"))
			if err != nil || n < 1 || n > len(counts) {
				return fail("unexpected section %q", line)
			}
			section = n
			continue
		}

		switch {
		case section < 0:
			// Text before \data\ is a comment.
		case section == 0:
			rest, ok := strings.CutPrefix(line, "ngram ")
			if !ok {
				return fail("expected ngram count, got %q", line)
			}
			lhs, rhs, ok := strings.Cut(rest, "=")
			if !ok {
				return fail("expected ngram n=count, got %q", line)
			}
			n, err1 := strconv.Atoi(strings.TrimSpace(lhs))
			c, err2 := strconv.Atoi(strings.TrimSpace(rhs))
			if err1 != nil || err2 != nil || n != len(counts)+1 || c < 0 {
				return fail("bad ngram count %q", line)
			}
			if n > MaxOrder {
				return 0, nil, fmt.Errorf("%w: %d not in [1, %d]", ErrOrder, n, MaxOrder)
			}
			counts = append(counts, c)
			seen = append(seen, 0)
		default:
			fields := strings.Fields(line)
			if len(fields) != section+1 && len(fields) != section+2 {
				return fail("%d-gram with %d fields", section, len(fields))
			}
			e := Entry{Words: fields[1 : section+1]}
			if e.LogProb, err = strconv.ParseFloat(fields[0], 64); err != nil {
				return fail("log probability: %v", err)
			}
			if len(fields) == section+2 {
				if e.Backoff, err = strconv.ParseFloat(fields[section+1], 64); err != nil {
					return fail("backoff: %v", err)
				}
			}
			entries = append(entries, e)
			seen[section-1]++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, nil, fmt.Errorf("ngram: read arpa: %w", err)
	}
	if len(counts) == 0 {
		return 0, nil, fmt.Errorf("%w: no \\data\\ section", ErrARPA)
	}
	if !ended {
		return 0, nil, fmt.Errorf("%w: missing \\end\\", ErrARPA)
	}
	for i, c := range counts {
		if seen[i] != c {
			return 0, nil, fmt.Errorf("%w: header declares %d %d-grams, found %d", ErrARPA, c, i+1, seen[i])
		}
	}
	return len(counts), entries, nil
}

// LoadARPA parses an ARPA model into a [Model].
func LoadARPA(r io.Reader, opts ...Option) (*Model, error) {
	order, entries, err := ReadARPA(r)
	if err != nil {
		return nil, err
	}
	return Build(order, entries, opts...)
}
