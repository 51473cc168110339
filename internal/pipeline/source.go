package pipeline

import (
	"bufio"
	"fmt"
	"io"
)

// MaxLineBytes is the longest input line LineSource accepts.
const MaxLineBytes = 16 << 20

// Source yields input texts in order. Next returns io.EOF after the last
// text.
type Source interface {
	Next() (string, error)
}

// LineSource reads one text per line. Line terminators (\n or \r\n) are
// stripped; empty lines are yielded as empty texts.
type LineSource struct {
	sc   *bufio.Scanner
	line int
}

// NewLineSource reads lines from r.
func NewLineSource(r io.Reader) *LineSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return &LineSource{sc: sc}
}

// Next returns the next line.
func (s *LineSource) Next() (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", fmt.Errorf("reading line %d: %w", s.line+1, err)
		}
		return "", io.EOF
	}
	s.line++
	return s.sc.Text(), nil
}

// SliceSource yields texts from memory.
type SliceSource struct {
	texts []string
	pos   int
}

// NewSliceSource returns a source over texts.
func NewSliceSource(texts []string) *SliceSource {
	return &SliceSource{texts: texts}
}

// Next returns the next text.
func (s *SliceSource) Next() (string, error) {
	if s.pos >= len(s.texts) {
		return "", io.EOF
	}
	t := s.texts[s.pos]
	s.pos++
	return t, nil
}
