// Package vocab maps classifier label indices to output symbols.
//
// A [Vocabulary] is fixed after construction: it knows which label is the CTC
// blank and, optionally, which symbol separates words. Vocabularies are
// read-only and safe for concurrent use.
//
// The on-disk format read by [Parse] and [Load] is one symbol per line, where
// the zero-based line number is the label index:
//
//	<blank>
//	|
//	a
//	b
package vocab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antzucaro/matchr"
)

var (
	// ErrEmpty is returned when a vocabulary has no symbols.
	ErrEmpty = errors.New("vocab: no symbols")

	// ErrBlankOutOfRange is returned when the blank index does not name a label.
	ErrBlankOutOfRange = errors.New("vocab: blank index out of range")

	// ErrDuplicateSymbol is returned when the same symbol appears twice.
	ErrDuplicateSymbol = errors.New("vocab: duplicate symbol")

	// ErrUnknownSymbol is returned by [Vocabulary.Encode] and by options that
	// refer to a symbol that is not part of the vocabulary.
	ErrUnknownSymbol = errors.New("vocab: unknown symbol")
)

// suggestThreshold is the minimum Jaro-Winkler similarity for a known symbol
// to be offered as a suggestion in [ErrUnknownSymbol] messages.
const suggestThreshold = 0.75

// Vocabulary is an immutable label ↔ symbol mapping with a designated blank
// and an optional word-boundary symbol.
type Vocabulary struct {
	symbols  []string
	index    map[string]int
	blank    int
	boundary int
}

// Option configures a [Vocabulary] during construction.
type Option func(*builder)

type builder struct {
	blankIndex     int
	blankSymbol    string
	boundarySymbol string
}

// WithBlankIndex sets the label index of the CTC blank. Default: 0.
func WithBlankIndex(i int) Option {
	return func(b *builder) {
		b.blankIndex = i
		b.blankSymbol = ""
	}
}

// WithBlankSymbol selects the blank by symbol instead of by index.
func WithBlankSymbol(s string) Option {
	return func(b *builder) { b.blankSymbol = s }
}

// WithWordBoundary designates s as the word-boundary symbol. Without it the
// vocabulary has no boundary and every emitted label counts as a word.
func WithWordBoundary(s string) Option {
	return func(b *builder) { b.boundarySymbol = s }
}

// New builds a [Vocabulary] from symbols, where symbols[i] is the symbol for
// label i.
func New(symbols []string, opts ...Option) (*Vocabulary, error) {
	if len(symbols) == 0 {
		return nil, ErrEmpty
	}
	b := builder{}
	for _, o := range opts {
		o(&b)
	}

	v := &Vocabulary{
		symbols:  make([]string, len(symbols)),
		index:    make(map[string]int, len(symbols)),
		boundary: -1,
	}
	copy(v.symbols, symbols)
	for i, s := range v.symbols {
		if prev, ok := v.index[s]; ok {
			return nil, fmt.Errorf("%w: %q at labels %d and %d", ErrDuplicateSymbol, s, prev, i)
		}
		v.index[s] = i
	}

	v.blank = b.blankIndex
	if b.blankSymbol != "" {
		i, ok := v.index[b.blankSymbol]
		if !ok {
			return nil, fmt.Errorf("%w: blank %q", ErrUnknownSymbol, b.blankSymbol)
		}
		v.blank = i
	}
	if v.blank < 0 || v.blank >= len(v.symbols) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrBlankOutOfRange, v.blank, len(v.symbols))
	}

	if b.boundarySymbol != "" {
		i, ok := v.index[b.boundarySymbol]
		if !ok {
			return nil, fmt.Errorf("%w: word boundary %q", ErrUnknownSymbol, b.boundarySymbol)
		}
		if i == v.blank {
			return nil, fmt.Errorf("vocab: word boundary %q must not be the blank", b.boundarySymbol)
		}
		v.boundary = i
	}
	return v, nil
}

// Parse reads a one-symbol-per-line vocabulary from r.
func Parse(r io.Reader, opts ...Option) (*Vocabulary, error) {
	var symbols []string
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimRight(sc.Text(), "\r")
		if s == "" {
			return nil, fmt.Errorf("vocab: line %d: empty symbol", line)
		}
		symbols = append(symbols, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read: %w", err)
	}
	return New(symbols, opts...)
}

// Load opens path and parses it with [Parse].
func Load(path string, opts ...Option) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: open %q: %w", path, err)
	}
	defer f.Close()

	v, err := Parse(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("vocab: parse %q: %w", path, err)
	}
	return v, nil
}

// Len returns the number of labels.
func (v *Vocabulary) Len() int { return len(v.symbols) }

// Blank returns the blank label index.
func (v *Vocabulary) Blank() int { return v.blank }

// Boundary returns the word-boundary label index, or -1 when the vocabulary
// has no boundary symbol.
func (v *Vocabulary) Boundary() int { return v.boundary }

// HasBoundary reports whether a word-boundary symbol is configured.
func (v *Vocabulary) HasBoundary() bool { return v.boundary >= 0 }

// IsBoundary reports whether label i is the word boundary.
func (v *Vocabulary) IsBoundary(i int) bool { return v.boundary >= 0 && i == v.boundary }

// Symbol returns the symbol for label i. It panics if i is out of range.
func (v *Vocabulary) Symbol(i int) string { return v.symbols[i] }

// Symbols returns a copy of all symbols in label order.
func (v *Vocabulary) Symbols() []string {
	out := make([]string, len(v.symbols))
	copy(out, v.symbols)
	return out
}

// Index returns the label for symbol s.
func (v *Vocabulary) Index(s string) (int, bool) {
	i, ok := v.index[s]
	return i, ok
}

// Encode maps symbols to labels. Unknown symbols produce an error wrapping
// [ErrUnknownSymbol] that names the closest known symbol when one is similar
// enough.
func (v *Vocabulary) Encode(symbols []string) ([]int, error) {
	out := make([]int, len(symbols))
	for i, s := range symbols {
		l, ok := v.index[s]
		if !ok {
			if hint := v.suggest(s); hint != "" {
				return nil, fmt.Errorf("%w: %q at position %d (did you mean %q?)", ErrUnknownSymbol, s, i, hint)
			}
			return nil, fmt.Errorf("%w: %q at position %d", ErrUnknownSymbol, s, i)
		}
		out[i] = l
	}
	return out, nil
}

// suggest returns the known symbol most similar to s, or "" when nothing
// reaches suggestThreshold. Ties keep the lowest label.
func (v *Vocabulary) suggest(s string) string {
	best, bestScore := "", suggestThreshold
	for i, cand := range v.symbols {
		if i == v.blank {
			continue
		}
		if score := matchr.JaroWinkler(strings.ToLower(s), strings.ToLower(cand), false); score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best
}

// Text renders labels as text. The boundary symbol becomes a single space,
// blanks are skipped, and the result is trimmed.
func (v *Vocabulary) Text(labels []int) string {
	return strings.Join(v.Words(labels), " ")
}

// Words splits labels into words at the boundary symbol and renders each word
// by concatenating its symbols. Without a boundary the whole sequence is one
// word. Empty words are dropped.
func (v *Vocabulary) Words(labels []int) []string {
	var (
		words []string
		sb    strings.Builder
	)
	flush := func() {
		if sb.Len() > 0 {
			words = append(words, sb.String())
			sb.Reset()
		}
	}
	for _, l := range labels {
		switch {
		case l == v.blank:
		case v.IsBoundary(l):
			flush()
		default:
			sb.WriteString(v.symbols[l])
		}
	}
	flush()
	return words
}

// Word renders a single word from labels, ignoring blanks and boundaries.
func (v *Vocabulary) Word(labels []int) string {
	var sb strings.Builder
	for _, l := range labels {
		if l == v.blank || v.IsBoundary(l) {
			continue
		}
		sb.WriteString(v.symbols[l])
	}
	return sb.String()
}
