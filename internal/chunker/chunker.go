// Package chunker splits resource text into the chunks that get indexed.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures chunking behavior. Sizes are in bytes.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

func (o Options) normalized() Options {
	if o.TargetSize <= 0 {
		o.TargetSize = DefaultTargetSize
	}
	if o.MaxSize < o.TargetSize {
		o.MaxSize = o.TargetSize
	}
	return o
}

// Piece is one chunk with its 1-based line span in the original text.
type Piece struct {
	Seq       int
	Text      string
	StartLine int
	EndLine   int
}

// Split chunks text. Text that fits in MaxSize is returned as a single piece;
// longer text is cut on headings and paragraph breaks, merged up to
// TargetSize, and anything still over MaxSize is cut on line boundaries (or
// mid-line for a single oversized line). Every piece is at most MaxSize bytes.
func Split(text string, opts Options) []Piece {
	opts = opts.normalized()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if len(text) <= opts.MaxSize {
		return []Piece{{Seq: 0, Text: text, StartLine: 1, EndLine: strings.Count(text, "\n") + 1}}
	}

	var pieces []Piece
	for _, s := range merge(sections(text), opts.TargetSize) {
		if len(s.text) <= opts.MaxSize {
			pieces = append(pieces, Piece{Text: s.text, StartLine: s.start, EndLine: s.end})
			continue
		}
		pieces = append(pieces, cutLines(s, opts)...)
	}
	for i := range pieces {
		pieces[i].Seq = i
	}
	return pieces
}

type section struct {
	text       string
	start, end int
}

// sections cuts text before every markdown heading and at every blank line.
func sections(text string) []section {
	lines := strings.Split(text, "\n")
	var out []section
	var buf []string
	start := 1

	flush := func(end int) {
		if t := strings.TrimSpace(strings.Join(buf, "\n")); t != "" {
			out = append(out, section{text: t, start: start, end: end})
		}
		buf = nil
	}

	for i, line := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush(n - 1)
			start = n + 1
			continue
		case strings.HasPrefix(trimmed, "#") && len(buf) > 0:
			flush(n - 1)
			start = n
		}
		if len(buf) == 0 {
			start = n
		}
		buf = append(buf, line)
	}
	flush(len(lines))
	return out
}

// merge joins adjacent sections while the result stays within target.
func merge(in []section, target int) []section {
	var out []section
	for _, s := range in {
		if n := len(out); n > 0 && len(out[n-1].text)+2+len(s.text) <= target {
			out[n-1].text += "\n\n" + s.text
			out[n-1].end = s.end
			continue
		}
		out = append(out, s)
	}
	return out
}

// cutLines breaks an oversized section on line boundaries near TargetSize.
func cutLines(s section, opts Options) []Piece {
	var pieces []Piece
	var buf []string
	size := 0
	start := s.start

	emit := func(end int) {
		if t := strings.TrimSpace(strings.Join(buf, "\n")); t != "" {
			pieces = append(pieces, Piece{Text: t, StartLine: start, EndLine: end})
		}
		buf, size = nil, 0
	}

	for i, line := range strings.Split(s.text, "\n") {
		n := s.start + i
		if len(line) > opts.MaxSize {
			emit(n - 1)
			for _, part := range cutRunes(line, opts.TargetSize) {
				pieces = append(pieces, Piece{Text: part, StartLine: n, EndLine: n})
			}
			start = n + 1
			continue
		}
		if size > 0 && size+len(line) > opts.TargetSize {
			emit(n - 1)
			start = n
		}
		if len(buf) == 0 {
			start = n
		}
		buf = append(buf, line)
		size += len(line) + 1
	}
	emit(s.end)
	return pieces
}

// cutRunes splits a single line into parts of at most size bytes without
// breaking a UTF-8 sequence.
func cutRunes(line string, size int) []string {
	var parts []string
	for len(line) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		if p := strings.TrimSpace(line[:cut]); p != "" {
			parts = append(parts, p)
		}
		line = line[cut:]
	}
	if p := strings.TrimSpace(line); p != "" {
		parts = append(parts, p)
	}
	return parts
}
